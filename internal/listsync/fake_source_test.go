package listsync

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/idilsaglam/groceries/internal/model"
)

// fakeCall is one blocked backend request; the test answers it.
type fakeCall struct {
	op      string
	listID  string
	itemID  string
	checked bool
	fields  model.NewItem

	reply chan fakeReply
}

type fakeReply struct {
	items []model.Item
	item  model.Item
	err   error
}

func (c *fakeCall) ok() { c.reply <- fakeReply{} }
func (c *fakeCall) fail(err error) { c.reply <- fakeReply{err: err} }
func (c *fakeCall) items(items ...model.Item) { c.reply <- fakeReply{items: items} }
func (c *fakeCall) created(it model.Item) { c.reply <- fakeReply{item: it} }

type fakeSource struct {
	calls chan *fakeCall

	mu       sync.Mutex
	handlers map[string]Handler
	disposed []string
	history  []model.HistoryEntry
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		calls:    make(chan *fakeCall, 16),
		handlers: map[string]Handler{},
	}
}

func (f *fakeSource) do(ctx context.Context, c *fakeCall) fakeReply {
	c.reply = make(chan fakeReply, 1)
	f.calls <- c
	select {
	case r := <-c.reply:
		return r
	case <-ctx.Done():
		return fakeReply{err: model.NetworkError{Op: c.op, Err: ctx.Err()}}
	}
}

func (f *fakeSource) FetchAll(ctx context.Context, listID string) ([]model.Item, error) {
	r := f.do(ctx, &fakeCall{op: "fetch", listID: listID})
	return r.items, r.err
}

func (f *fakeSource) Insert(ctx context.Context, listID string, it model.NewItem) (model.Item, error) {
	r := f.do(ctx, &fakeCall{op: "insert", listID: listID, fields: it})
	return r.item, r.err
}

func (f *fakeSource) SetChecked(ctx context.Context, itemID string, checked bool) error {
	return f.do(ctx, &fakeCall{op: "set checked", itemID: itemID, checked: checked}).err
}

func (f *fakeSource) Delete(ctx context.Context, itemID string) error {
	return f.do(ctx, &fakeCall{op: "delete", itemID: itemID}).err
}

func (f *fakeSource) DeleteAll(ctx context.Context, listID string) error {
	return f.do(ctx, &fakeCall{op: "delete all", listID: listID}).err
}

func (f *fakeSource) Subscribe(_ context.Context, listID string, h Handler) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[listID] = h
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.handlers, listID)
		f.disposed = append(f.disposed, listID)
	}, nil
}

func (f *fakeSource) RecordHistory(_ context.Context, e model.HistoryEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.history = append(f.history, e)
	return nil
}

func (f *fakeSource) handler(t *testing.T, listID string) Handler {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	h, ok := f.handlers[listID]
	require.True(t, ok, "no subscription for %s", listID)
	return h
}

func (f *fakeSource) emit(t *testing.T, listID string, kind model.EventKind, it model.Item) {
	t.Helper()
	f.handler(t, listID).OnEvent(model.ChangeEvent{Kind: kind, Item: it})
}

func (f *fakeSource) next(t *testing.T, op string) *fakeCall {
	t.Helper()
	select {
	case c := <-f.calls:
		require.Equal(t, op, c.op)
		return c
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s call", op)
		return nil
	}
}

func (f *fakeSource) idle(t *testing.T) {
	t.Helper()
	select {
	case c := <-f.calls:
		t.Fatalf("unexpected %s call", c.op)
	default:
	}
}

// harness owns the loop goroutine role for a session under test.
type harness struct {
	t    *testing.T
	src  *fakeSource
	loop *Loop
	s    *Session
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	src := newFakeSource()
	loop := NewLoop()
	n := 0
	s := New(src, Options{
		Dispatcher: loop,
		History:    src,
		MemberID:   "member-1",
		NewTempID: func() string {
			n++
			return "tmp" + string(rune('0'+n))
		},
	})
	t.Cleanup(func() {
		s.Close()
		loop.Stop()
	})
	return &harness{t: t, src: src, loop: loop, s: s}
}

// step runs exactly one dispatched function.
func (h *harness) step() {
	h.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.True(h.t, h.loop.Next(ctx), "nothing was dispatched")
}

// open activates list-1 and answers the initial fetch with items.
func (h *harness) open(items ...model.Item) {
	h.t.Helper()
	require.NoError(h.t, h.s.Open("list-1"))
	h.src.next(h.t, "fetch").items(items...)
	h.step()
	require.False(h.t, h.s.Loading())
}

func keys(items []model.DisplayItem) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.Key)
	}
	return out
}

func item(id, name string) model.Item {
	return model.Item{ID: id, ListID: "list-1", Name: name, Quantity: 1}
}
