package listsync

import "context"

// Dispatcher hands a function to the goroutine that owns a Session.
// Backend completions and realtime callbacks re-enter the session only
// through it.
type Dispatcher interface {
	Dispatch(fn func())
}

// DispatchFunc adapts a plain function, e.g. one wrapping tea.Program.Send.
type DispatchFunc func(fn func())

func (f DispatchFunc) Dispatch(fn func()) { f(fn) }

// Loop is a channel-backed Dispatcher for hosts without their own event
// loop. The goroutine calling Run or Next is the owning thread.
type Loop struct {
	tasks chan func()
	done  chan struct{}
}

func NewLoop() *Loop {
	return &Loop{
		tasks: make(chan func(), 64),
		done:  make(chan struct{}),
	}
}

// Dispatch queues fn. It never runs fn inline and drops it once the loop
// has been stopped.
func (l *Loop) Dispatch(fn func()) {
	if l.stopped() {
		return
	}
	select {
	case <-l.done:
	case l.tasks <- fn:
	}
}

// Next runs one queued function, blocking until one arrives. It returns
// false when ctx ends or the loop is stopped.
func (l *Loop) Next(ctx context.Context) bool {
	if l.stopped() {
		return false
	}
	select {
	case fn := <-l.tasks:
		fn()
		return true
	case <-ctx.Done():
		return false
	case <-l.done:
		return false
	}
}

// Run drains the loop until ctx ends or Stop is called.
func (l *Loop) Run(ctx context.Context) error {
	for l.Next(ctx) {
	}
	return ctx.Err()
}

func (l *Loop) stopped() bool {
	select {
	case <-l.done:
		return true
	default:
		return false
	}
}

// Stop makes Run return and discards later dispatches.
func (l *Loop) Stop() {
	select {
	case <-l.done:
	default:
		close(l.done)
	}
}
