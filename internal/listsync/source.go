package listsync

import (
	"context"

	"github.com/idilsaglam/groceries/internal/model"
)

// Source is the backend for one household's lists.
type Source interface {
	// FetchAll returns every item of the list in creation order.
	FetchAll(ctx context.Context, listID string) ([]model.Item, error)
	Insert(ctx context.Context, listID string, it model.NewItem) (model.Item, error)
	SetChecked(ctx context.Context, itemID string, checked bool) error
	Delete(ctx context.Context, itemID string) error
	DeleteAll(ctx context.Context, listID string) error
	// Subscribe starts delivering changes for listID until the returned
	// dispose func is called. Callbacks run on the source's goroutines.
	Subscribe(ctx context.Context, listID string, h Handler) (dispose func(), err error)
}

// Handler receives realtime traffic. Events for one item id arrive in the
// order the backend committed them; a Connected status after a drop means
// events may have been missed.
type Handler struct {
	OnEvent  func(model.ChangeEvent)
	OnStatus func(model.FeedStatus)
}

// HistoryWriter records list actions in the write-only audit trail.
type HistoryWriter interface {
	RecordHistory(ctx context.Context, e model.HistoryEntry) error
}
