package listsync

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/idilsaglam/groceries/internal/model"
)

const (
	MinQuantity = 1
	MaxQuantity = 99

	defaultTimeout = 15 * time.Second
)

var (
	ErrAddInFlight  = errors.New("an item is already being added")
	ErrItemNotSaved = errors.New("item is still being saved")
	ErrNoList       = errors.New("no list selected")
)

// Options configure a Session.
type Options struct {
	// Dispatcher runs completions on the session's goroutine. Required.
	Dispatcher Dispatcher
	Logger     *slog.Logger
	History    HistoryWriter
	// MemberID is stored as added_by on new items.
	MemberID string
	// Timeout bounds each backend call.
	Timeout time.Duration
	// OnChange runs after every reconciliation pass.
	OnChange func()
	// NewTempID generates correlation ids for pending adds.
	NewTempID func() string
}

// AddInput is what the user typed for a new item.
type AddInput struct {
	Name     string
	Quantity int
	Category string
}

type journaled struct {
	seq uint64
	ev  model.ChangeEvent
}

// Session is the state of the list screen for the active list: the cached
// items, the optimistic overlay, the realtime subscription and the
// mutation coordinator. All methods must be called from the goroutine
// served by Options.Dispatcher.
type Session struct {
	src  Source
	opts Options
	log  *slog.Logger

	root   context.Context
	cancel context.CancelFunc

	listID  string
	epoch   uint64
	dispose func()

	cache   *Cache
	overlay *Overlay
	items   []model.DisplayItem

	fetching    int
	appliedMark uint64
	evSeq       uint64
	journal     []journaled

	inflight  int
	adding    bool
	connected bool
	loaded    bool

	syncErr   error // sticky until a fetch requested after dropSeq succeeds
	fetchSeq  uint64
	dropSeq   uint64
	actionErr error

	history sync.WaitGroup
}

// New builds a session over src. A nil src yields a session that refuses
// every action with model.ErrNotConfigured.
func New(src Source, opts Options) *Session {
	if opts.Dispatcher == nil {
		panic("listsync: Options.Dispatcher is required")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.NewTempID == nil {
		opts.NewTempID = func() string { return "tmp_" + ulid.Make().String() }
	}
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	root, cancel := context.WithCancel(context.Background())
	return &Session{
		src:     src,
		opts:    opts,
		log:     log,
		root:    root,
		cancel:  cancel,
		cache:   NewCache(),
		overlay: NewOverlay(),
	}
}

// Open makes listID the active list. The previous subscription is disposed
// first and results of calls issued for the previous list are discarded.
func (s *Session) Open(listID string) error {
	s.detach()
	s.epoch++
	s.listID = strings.TrimSpace(listID)
	s.cache = NewCache()
	s.overlay = NewOverlay()
	s.fetching, s.inflight = 0, 0
	s.appliedMark, s.evSeq = 0, 0
	s.fetchSeq, s.dropSeq = 0, 0
	s.journal = nil
	s.adding, s.connected, s.loaded = false, false, false
	s.syncErr, s.actionErr = nil, nil

	if err := s.ready(); err != nil {
		s.reconcile()
		return err
	}
	s.log.Info("open list", "list", s.listID)
	s.fetch("open")

	epoch := s.epoch
	dispose, err := s.src.Subscribe(s.root, s.listID, Handler{
		OnEvent: func(ev model.ChangeEvent) {
			s.post(epoch, func() { s.applyEvent(ev) })
		},
		OnStatus: func(st model.FeedStatus) {
			s.post(epoch, func() { s.applyStatus(st) })
		},
	})
	if err != nil {
		s.syncErr = model.NetworkError{Op: "subscribe", Err: err}
		s.dropSeq = s.fetchSeq
		s.log.Warn("subscribe failed", "list", s.listID, "err", err)
	} else {
		s.dispose = dispose
	}
	s.reconcile()
	return nil
}

// Close disposes the subscription and drops every pending completion.
func (s *Session) Close() {
	s.detach()
	s.epoch++
	s.cancel()
}

func (s *Session) detach() {
	if s.dispose != nil {
		s.dispose()
		s.dispose = nil
	}
}

func (s *Session) ListID() string { return s.listID }

// Items is the current display list.
func (s *Session) Items() []model.DisplayItem {
	out := make([]model.DisplayItem, len(s.items))
	copy(out, s.items)
	return out
}

// Loading reports whether a full fetch is outstanding.
func (s *Session) Loading() bool { return s.fetching > 0 }

// Loaded reports whether a full fetch has succeeded since Open.
func (s *Session) Loaded() bool { return s.loaded }

// Busy reports whether any backend call or fetch is outstanding.
func (s *Session) Busy() bool { return s.fetching > 0 || s.inflight > 0 }

// Connected reports whether the realtime feed is currently joined.
func (s *Session) Connected() bool { return s.connected }

// Err is the error to surface: configuration, then sync, then the last
// failed action.
func (s *Session) Err() error {
	if s.src == nil {
		return model.ErrNotConfigured
	}
	if s.syncErr != nil {
		return s.syncErr
	}
	return s.actionErr
}

// ActionErr is the outcome of the last failed mutation, ignoring sync state.
func (s *Session) ActionErr() error {
	if s.src == nil {
		return model.ErrNotConfigured
	}
	return s.actionErr
}

// Error is Err as a user-facing message, or "" when there is none.
func (s *Session) Error() string { return model.Describe(s.Err()) }

// DismissError clears the last action error. Sync errors stay until a
// fetch succeeds.
func (s *Session) DismissError() {
	s.actionErr = nil
	s.notify()
}

func (s *Session) ready() error {
	if s.src == nil {
		return model.ErrNotConfigured
	}
	if s.listID == "" {
		return ErrNoList
	}
	return nil
}

// ClampQuantity bounds q to [MinQuantity, MaxQuantity].
func ClampQuantity(q int) int {
	if q < MinQuantity {
		return MinQuantity
	}
	if q > MaxQuantity {
		return MaxQuantity
	}
	return q
}

// AddItem shows the item immediately and inserts it remotely. Only one add
// may be in flight at a time.
func (s *Session) AddItem(in AddInput) error {
	if err := s.ready(); err != nil {
		return err
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return s.reject(model.ValidationError{Field: "name", Reason: "must not be empty"})
	}
	if s.adding {
		return s.reject(ErrAddInFlight)
	}
	fields := model.NewItem{
		Name:     name,
		Quantity: ClampQuantity(in.Quantity),
		Category: strings.TrimSpace(in.Category),
		AddedBy:  s.opts.MemberID,
	}
	tempID := s.opts.NewTempID()
	listID := s.listID

	s.adding = true
	s.actionErr = nil
	s.overlay.AddPending(tempID, fields)
	s.reconcile()

	var created model.Item
	s.call("insert", func(ctx context.Context) error {
		var err error
		created, err = s.src.Insert(ctx, listID, fields)
		return err
	}, func(err error) {
		s.adding = false
		if err != nil {
			s.overlay.RollbackAdd(tempID)
			s.fail("insert", err)
			return
		}
		s.overlay.ResolveAdd(tempID, created.ID)
		s.record(model.ActionAdd, fields.Name)
	})
	return nil
}

// ToggleItem flips the checked state shown for d.
func (s *Session) ToggleItem(d model.DisplayItem) error {
	if err := s.ready(); err != nil {
		return err
	}
	if !d.Saved() {
		return s.reject(ErrItemNotSaved)
	}
	id, want := d.ID, !d.Checked
	s.actionErr = nil
	seq := s.overlay.SetPendingToggle(id, want)
	s.reconcile()

	s.call("set checked", func(ctx context.Context) error {
		return s.src.SetChecked(ctx, id, want)
	}, func(err error) {
		if err != nil {
			s.overlay.RollbackToggle(id, seq)
			s.fail("set checked", err)
			return
		}
		s.overlay.SettleToggle(id, seq)
	})
	return nil
}

// DeleteItem hides d immediately and deletes it remotely.
func (s *Session) DeleteItem(d model.DisplayItem) error {
	if err := s.ready(); err != nil {
		return err
	}
	if !d.Saved() {
		return s.reject(ErrItemNotSaved)
	}
	id, name := d.ID, d.Name
	s.actionErr = nil
	s.overlay.MarkPendingDelete(id)
	s.reconcile()

	s.call("delete", func(ctx context.Context) error {
		return s.src.Delete(ctx, id)
	}, func(err error) {
		if err != nil {
			s.overlay.ClearPendingDelete(id)
			s.fail("delete", err)
			return
		}
		s.overlay.SettleDelete(id)
		s.record(model.ActionDelete, name)
	})
	return nil
}

// ClearAll hides every saved item at once and deletes the whole list
// remotely in one call. Items whose insert is still in flight stay.
func (s *Session) ClearAll() error {
	if err := s.ready(); err != nil {
		return err
	}
	var ids []string
	for _, d := range s.items {
		if d.Saved() {
			ids = append(ids, d.ID)
		}
	}
	if len(ids) == 0 {
		return nil
	}
	listID := s.listID
	s.actionErr = nil
	for _, id := range ids {
		s.overlay.MarkPendingDelete(id)
	}
	s.reconcile()

	s.call("delete all", func(ctx context.Context) error {
		return s.src.DeleteAll(ctx, listID)
	}, func(err error) {
		for _, id := range ids {
			if err != nil {
				s.overlay.ClearPendingDelete(id)
			} else {
				s.overlay.SettleDelete(id)
			}
		}
		if err != nil {
			s.fail("delete all", err)
			return
		}
		s.record(model.ActionClear, "")
	})
	return nil
}

// Refetch resynchronizes the cache with a full fetch.
func (s *Session) Refetch() error {
	if err := s.ready(); err != nil {
		return err
	}
	s.fetch("refetch")
	s.notify()
	return nil
}

func (s *Session) reject(err error) error {
	s.actionErr = err
	s.notify()
	return err
}

func (s *Session) fail(op string, err error) {
	s.actionErr = err
	s.log.Warn("backend call failed", "op", op, "list", s.listID, "err", err)
	if model.IsNotFound(err) {
		s.fetch("not found")
	}
}

// post re-enters the session for epoch; stale results are dropped.
func (s *Session) post(epoch uint64, fn func()) {
	s.opts.Dispatcher.Dispatch(func() {
		if s.epoch != epoch {
			return
		}
		fn()
	})
}

// call runs do off the session goroutine and applies done on it, followed
// by a reconciliation pass.
func (s *Session) call(op string, do func(ctx context.Context) error, done func(err error)) {
	epoch := s.epoch
	s.inflight++
	go func() {
		ctx, cancel := context.WithTimeout(s.root, s.opts.Timeout)
		defer cancel()
		err := do(ctx)
		s.post(epoch, func() {
			s.inflight--
			s.log.Debug("backend call done", "op", op, "err", err)
			done(err)
			s.reconcile()
		})
	}()
}

func (s *Session) fetch(reason string) {
	epoch, listID := s.epoch, s.listID
	mark := s.overlay.Mark()
	since := s.evSeq
	s.fetchSeq++
	seq := s.fetchSeq
	s.fetching++
	s.log.Debug("fetch", "list", listID, "reason", reason)
	go func() {
		ctx, cancel := context.WithTimeout(s.root, s.opts.Timeout)
		defer cancel()
		items, err := s.src.FetchAll(ctx, listID)
		s.post(epoch, func() {
			s.fetching--
			defer func() {
				if s.fetching == 0 {
					s.journal = nil
				}
				s.reconcile()
			}()
			if err != nil {
				s.syncErr = err
				s.log.Warn("fetch failed", "list", listID, "err", err)
				return
			}
			if mark < s.appliedMark {
				return
			}
			s.appliedMark = mark
			s.cache.ReplaceAll(items)
			for _, j := range s.journal {
				if j.seq > since {
					s.applyToCache(j.ev)
				}
			}
			s.overlay.RetireSettled(mark)
			s.loaded = true
			// A snapshot requested before the feed dropped cannot cover
			// what was missed since.
			if seq > s.dropSeq {
				s.syncErr = nil
			}
		})
	}()
}

func (s *Session) applyEvent(ev model.ChangeEvent) {
	if ev.Item.ListID != "" && ev.Item.ListID != s.listID {
		return
	}
	s.evSeq++
	if s.fetching > 0 {
		s.journal = append(s.journal, journaled{seq: s.evSeq, ev: ev})
	}
	if ev.Kind == model.Inserted && !s.cache.Contains(ev.Item.ID) {
		if tmp, ok := s.overlay.Claim(ev.Item); ok {
			s.log.Debug("realtime insert claimed pending add", "temp", tmp, "id", ev.Item.ID)
		}
	}
	s.applyToCache(ev)
	s.reconcile()
}

func (s *Session) applyToCache(ev model.ChangeEvent) {
	switch ev.Kind {
	case model.Inserted, model.Updated:
		s.cache.Upsert(ev.Item)
	case model.Deleted:
		s.cache.Remove(ev.Item.ID)
	}
}

func (s *Session) applyStatus(st model.FeedStatus) {
	if !st.Connected {
		s.connected = false
		err := st.Err
		if err == nil {
			err = errors.New("realtime feed disconnected")
		}
		s.syncErr = model.NetworkError{Op: "realtime", Err: err}
		s.dropSeq = s.fetchSeq
		s.log.Warn("realtime feed down", "list", s.listID, "err", err)
		s.notify()
		return
	}
	s.connected = true
	// Anything may have changed while the feed was away.
	s.fetch("feed connected")
	s.notify()
}

// reconcile retires confirmed overlay entries and recomputes the display
// list. It runs after every cache or overlay mutation.
func (s *Session) reconcile() {
	if n := s.overlay.Retire(s.cache); n > 0 {
		s.log.Debug("retired overlay entries", "count", n)
	}
	s.items = Reconcile(s.cache.Items(), s.overlay.State())
	s.notify()
}

func (s *Session) notify() {
	if s.opts.OnChange != nil {
		s.opts.OnChange()
	}
}

func (s *Session) record(action, itemName string) {
	if s.opts.History == nil {
		return
	}
	e := model.HistoryEntry{ListID: s.listID, Action: action, ItemName: itemName, UserID: s.opts.MemberID}
	s.history.Add(1)
	go func() {
		defer s.history.Done()
		ctx, cancel := context.WithTimeout(s.root, s.opts.Timeout)
		defer cancel()
		if err := s.opts.History.RecordHistory(ctx, e); err != nil {
			s.log.Warn("history write failed", "action", action, "err", err)
		}
	}()
}

// FlushHistory waits for outstanding history writes until ctx ends. Hosts
// that exit right after a mutation call it before Close.
func (s *Session) FlushHistory(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		s.history.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
}
