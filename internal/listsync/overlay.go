package listsync

import (
	"strings"

	"github.com/idilsaglam/groceries/internal/model"
)

// PendingAdd is an item shown before the backend has confirmed it.
// ResolvedID is set once the insert call returns the real id.
type PendingAdd struct {
	TempID     string
	Fields     model.NewItem
	ResolvedID string

	settledAt uint64
}

// PendingToggle is the checked value displayed ahead of confirmation.
type PendingToggle struct {
	ItemID  string
	Checked bool

	seq       uint64
	settledAt uint64
}

// PendingDelete hides ItemID until the cache no longer contains it.
// One entry may be held by several operations (a delete and a clear).
type PendingDelete struct {
	ItemID string

	holds     int
	inflight  int
	settledAt uint64
}

// OverlayState is an immutable copy of the overlay handed to Reconcile.
type OverlayState struct {
	Adds    []PendingAdd // oldest first
	Toggles map[string]bool
	Deletes map[string]bool
}

// Overlay tracks in-flight local mutations for one list.
// Every mutating method advances a logical clock used to order
// settlements against full resyncs. Not safe for concurrent use.
type Overlay struct {
	clock   uint64
	adds    []*PendingAdd
	toggles map[string]*PendingToggle
	deletes map[string]*PendingDelete
}

func NewOverlay() *Overlay {
	return &Overlay{
		toggles: map[string]*PendingToggle{},
		deletes: map[string]*PendingDelete{},
	}
}

func (o *Overlay) tick() uint64 {
	o.clock++
	return o.clock
}

// Mark returns a clock reading; entries settled before it are covered by
// any snapshot requested after it.
func (o *Overlay) Mark() uint64 { return o.tick() }

func (o *Overlay) findAdd(tempID string) (int, *PendingAdd) {
	for i, a := range o.adds {
		if a.TempID == tempID {
			return i, a
		}
	}
	return -1, nil
}

// AddPending records an optimistic add. A repeated tempID is ignored.
func (o *Overlay) AddPending(tempID string, fields model.NewItem) {
	if _, a := o.findAdd(tempID); a != nil {
		return
	}
	o.tick()
	o.adds = append(o.adds, &PendingAdd{TempID: tempID, Fields: fields})
}

// ResolveAdd records the backend-assigned id. The entry stays until the
// cache contains resolvedID. Resolving twice keeps the first id.
func (o *Overlay) ResolveAdd(tempID, resolvedID string) {
	_, a := o.findAdd(tempID)
	if a == nil || resolvedID == "" {
		return
	}
	if a.ResolvedID == "" {
		a.ResolvedID = resolvedID
	}
	a.settledAt = o.tick()
}

// Claim resolves the oldest unresolved add that matches a row announced
// by the realtime feed, so the row does not show twice while the insert
// response is still on its way. It reports the claimed temp id.
func (o *Overlay) Claim(it model.Item) (string, bool) {
	if o.resolvedByAdd(it.ID) {
		return "", false
	}
	for _, a := range o.adds {
		if a.ResolvedID != "" {
			continue
		}
		f := a.Fields
		if f.AddedBy == it.AddedBy && f.Quantity == it.Quantity &&
			strings.EqualFold(strings.TrimSpace(f.Name), strings.TrimSpace(it.Name)) {
			a.ResolvedID = it.ID
			o.tick()
			return a.TempID, true
		}
	}
	return "", false
}

// RollbackAdd drops the entry immediately.
func (o *Overlay) RollbackAdd(tempID string) bool {
	i, a := o.findAdd(tempID)
	if a == nil {
		return false
	}
	o.tick()
	o.adds = append(o.adds[:i], o.adds[i+1:]...)
	return true
}

// Add returns a copy of the pending add for tempID.
func (o *Overlay) Add(tempID string) (PendingAdd, bool) {
	if _, a := o.findAdd(tempID); a != nil {
		return *a, true
	}
	return PendingAdd{}, false
}

// SetPendingToggle replaces any pending toggle for itemID and returns the
// sequence number identifying this toggle.
func (o *Overlay) SetPendingToggle(itemID string, checked bool) uint64 {
	seq := o.tick()
	o.toggles[itemID] = &PendingToggle{ItemID: itemID, Checked: checked, seq: seq}
	return seq
}

func (o *Overlay) ClearPendingToggle(itemID string) {
	o.tick()
	delete(o.toggles, itemID)
}

// RollbackToggle clears the toggle only if no newer toggle replaced it.
func (o *Overlay) RollbackToggle(itemID string, seq uint64) bool {
	t, ok := o.toggles[itemID]
	if !ok || t.seq != seq {
		return false
	}
	o.ClearPendingToggle(itemID)
	return true
}

// SettleToggle notes that the backend accepted toggle seq.
func (o *Overlay) SettleToggle(itemID string, seq uint64) {
	if t, ok := o.toggles[itemID]; ok && t.seq == seq {
		t.settledAt = o.tick()
	}
}

// Toggle returns the pending checked value for itemID.
func (o *Overlay) Toggle(itemID string) (checked, ok bool) {
	t, ok := o.toggles[itemID]
	if !ok {
		return false, false
	}
	return t.Checked, true
}

// MarkPendingDelete adds a hold on itemID.
func (o *Overlay) MarkPendingDelete(itemID string) {
	o.tick()
	d, ok := o.deletes[itemID]
	if !ok {
		d = &PendingDelete{ItemID: itemID}
		o.deletes[itemID] = d
	}
	d.holds++
	d.inflight++
}

// ClearPendingDelete releases one hold; the item reappears when none remain.
func (o *Overlay) ClearPendingDelete(itemID string) {
	d, ok := o.deletes[itemID]
	if !ok {
		return
	}
	o.tick()
	d.holds--
	if d.inflight > 0 {
		d.inflight--
	}
	if d.holds <= 0 {
		delete(o.deletes, itemID)
	}
}

// SettleDelete notes that one delete call covering itemID succeeded.
func (o *Overlay) SettleDelete(itemID string) {
	d, ok := o.deletes[itemID]
	if !ok {
		return
	}
	if d.inflight > 0 {
		d.inflight--
	}
	d.settledAt = o.tick()
}

func (o *Overlay) PendingDeleted(itemID string) bool {
	_, ok := o.deletes[itemID]
	return ok
}

// Len is the number of live overlay entries of all kinds.
func (o *Overlay) Len() int {
	return len(o.adds) + len(o.toggles) + len(o.deletes)
}

// State copies the overlay for a reconciliation pass.
func (o *Overlay) State() OverlayState {
	st := OverlayState{
		Adds:    make([]PendingAdd, 0, len(o.adds)),
		Toggles: make(map[string]bool, len(o.toggles)),
		Deletes: make(map[string]bool, len(o.deletes)),
	}
	for _, a := range o.adds {
		st.Adds = append(st.Adds, *a)
	}
	for id, t := range o.toggles {
		st.Toggles[id] = t.Checked
	}
	for id := range o.deletes {
		st.Deletes[id] = true
	}
	return st
}

// resolvedByAdd reports whether id is only known through a pending add.
func (o *Overlay) resolvedByAdd(id string) bool {
	for _, a := range o.adds {
		if a.ResolvedID == id {
			return true
		}
	}
	return false
}

// Retire drops every entry whose effect the cache now reflects and
// returns how many were removed.
func (o *Overlay) Retire(c *Cache) int {
	n := 0
	kept := o.adds[:0]
	for _, a := range o.adds {
		if superseded(a.ResolvedID, c.Contains) {
			n++
			continue
		}
		kept = append(kept, a)
	}
	o.adds = kept

	// A toggle back to the cached state retires at once, so an echo of an
	// earlier toggle still in flight shows briefly until its own echo lands.
	for id, t := range o.toggles {
		it, ok := c.Get(id)
		switch {
		case ok && it.Checked == t.Checked:
		case !ok && !o.resolvedByAdd(id):
		default:
			continue
		}
		delete(o.toggles, id)
		n++
	}
	for id := range o.deletes {
		if c.Contains(id) || o.resolvedByAdd(id) {
			continue
		}
		delete(o.deletes, id)
		n++
	}
	if n > 0 {
		o.tick()
	}
	return n
}

// RetireSettled drops entries whose backend call succeeded before mark.
// Called when a snapshot requested at mark replaces the cache.
func (o *Overlay) RetireSettled(mark uint64) int {
	settled := func(at uint64) bool { return at != 0 && at < mark }
	n := 0
	kept := o.adds[:0]
	for _, a := range o.adds {
		if settled(a.settledAt) {
			n++
			continue
		}
		kept = append(kept, a)
	}
	o.adds = kept
	for id, t := range o.toggles {
		if settled(t.settledAt) {
			delete(o.toggles, id)
			n++
		}
	}
	for id, d := range o.deletes {
		if d.inflight == 0 && settled(d.settledAt) {
			delete(o.deletes, id)
			n++
		}
	}
	if n > 0 {
		o.tick()
	}
	return n
}

// superseded is the single check deciding that a pending add has been
// replaced by authoritative data.
func superseded(resolvedID string, inCache func(string) bool) bool {
	return resolvedID != "" && inCache(resolvedID)
}
