package model

// History actions written to list_history.
const (
	ActionAdd    = "add"
	ActionDelete = "delete"
	ActionClear  = "clear"
)

// HistoryEntry is one row of the write-only list_history audit trail.
type HistoryEntry struct {
	ListID   string `json:"list_id"`
	Action   string `json:"action"`
	ItemName string `json:"item_name,omitempty"`
	UserID   string `json:"user_id,omitempty"`
}
