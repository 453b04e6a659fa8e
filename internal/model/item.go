package model

import "time"

// Item is one row of a household grocery list as stored by the backend.
// The backend owns ID; the app only ever holds a cached copy.
type Item struct {
	ID        string    `json:"id"`
	ListID    string    `json:"list_id"`
	Name      string    `json:"name"`
	Quantity  int       `json:"quantity"`
	Checked   bool      `json:"checked"`
	Category  string    `json:"category,omitempty"`
	AddedBy   string    `json:"added_by,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// NewItem carries the fields of an item that does not exist remotely yet.
type NewItem struct {
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
	Category string `json:"category,omitempty"`
	AddedBy  string `json:"added_by,omitempty"`
}

// DisplayItem is the read-only projection rendered for the current frame.
// Key is the authoritative id when known, else the temporary correlation id.
type DisplayItem struct {
	Key      string
	ID       string
	TempID   string
	Name     string
	Quantity int
	Checked  bool
	Category string
	AddedBy  string

	Pending    bool   // not yet confirmed by the backend
	Group      string // display group key
	GroupStart bool   // first item of a run sharing Group
}

// Saved reports whether the item has an authoritative id to mutate against.
func (d DisplayItem) Saved() bool { return d.ID != "" }

// EventKind is the kind of a realtime change.
type EventKind int

const (
	Inserted EventKind = iota + 1
	Updated
	Deleted
)

func (k EventKind) String() string {
	switch k {
	case Inserted:
		return "inserted"
	case Updated:
		return "updated"
	case Deleted:
		return "deleted"
	}
	return "unknown"
}

// ChangeEvent is one row-level change pushed by the realtime feed.
// For Deleted only Item.ID is guaranteed to be set.
type ChangeEvent struct {
	Kind EventKind
	Item Item
}

// FeedStatus reports the health of a realtime subscription.
type FeedStatus struct {
	Connected bool
	Err       error
}
