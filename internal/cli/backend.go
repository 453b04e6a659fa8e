package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/idilsaglam/groceries/internal/auth"
	"github.com/idilsaglam/groceries/internal/config"
	"github.com/idilsaglam/groceries/internal/listsync"
	"github.com/idilsaglam/groceries/internal/model"
	"github.com/idilsaglam/groceries/internal/remote"
)

// listID resolves --list, then GROCERIES_LIST / list_id.
func (app *App) listID() (string, error) {
	if app.ListID != "" {
		return app.ListID, nil
	}
	if app.cfg.ListID != "" {
		return app.cfg.ListID, nil
	}
	return "", fmt.Errorf("%w: pass --list or run `groceries config set list_id <id>`", listsync.ErrNoList)
}

// backend returns nil, nil when no URL or key is configured.
func (app *App) backend() (*remote.Client, error) {
	if !app.cfg.Configured() {
		return nil, nil
	}
	ti, err := auth.GetToken()
	if err != nil {
		return nil, err
	}
	var token string
	if ti != nil {
		if ti.Expired(time.Now()) {
			return nil, fmt.Errorf("access token expired at %s; run `groceries auth login`", ti.ExpiresAt.Local().Format(time.RFC1123))
		}
		token = ti.Token
	}
	return remote.New(remote.Config{
		BaseURL: app.cfg.URL,
		APIKey:  app.cfg.AnonKey,
		Token:   token,
		Logger:  app.log.With("component", "remote"),
	})
}

// memberID is the token subject when logged in with a JWT, otherwise the
// device id from config.yaml, created on first use.
func (app *App) memberID() string {
	ti, _ := auth.GetToken()
	if id := auth.MemberID(ti); id != "" {
		return id
	}
	if app.cfg.MemberID != "" {
		return app.cfg.MemberID
	}
	p, err := config.Path()
	if err != nil {
		app.log.Warn("member id unavailable", "err", err)
		return ""
	}
	// Save the file as written, not the env-merged view.
	fc, err := config.LoadFile(p)
	if err == nil && fc.MemberID == "" {
		err = fc.SaveFile(p)
	}
	if err != nil {
		app.log.Warn("member id not saved", "err", err)
		return ""
	}
	app.cfg.MemberID = fc.MemberID
	return fc.MemberID
}

func (app *App) sessionOptions(src *remote.Client) listsync.Options {
	opts := listsync.Options{
		Logger:   app.log.With("component", "listsync"),
		MemberID: app.memberID(),
		Timeout:  app.cfg.Timeout(),
	}
	if src != nil {
		opts.History = src
	}
	return opts
}

// runner drives a Session from a one-shot command: the command's goroutine
// owns the session and pumps completions through a Loop.
type runner struct {
	s    *listsync.Session
	loop *listsync.Loop
}

// open loads the active list and waits for the first fetch.
func (app *App) open(ctx context.Context) (*runner, error) {
	listID, err := app.listID()
	if err != nil {
		return nil, err
	}
	src, err := app.backend()
	if err != nil {
		return nil, err
	}
	if src == nil {
		return nil, model.ErrNotConfigured
	}
	opts := app.sessionOptions(src)
	loop := listsync.NewLoop()
	opts.Dispatcher = loop
	r := &runner{s: listsync.New(src, opts), loop: loop}

	if err := r.s.Open(listID); err != nil {
		r.close()
		return nil, err
	}
	if err := r.settle(ctx); err != nil {
		r.close()
		return nil, err
	}
	if !r.s.Loaded() {
		err := r.s.Err()
		r.close()
		if err == nil {
			err = model.NetworkError{Op: "fetch items"}
		}
		return nil, err
	}
	return r, nil
}

// settle pumps completions until no backend call is outstanding.
func (r *runner) settle(ctx context.Context) error {
	for r.s.Busy() {
		if !r.loop.Next(ctx) {
			return model.NetworkError{Op: "wait", Err: ctx.Err()}
		}
	}
	return nil
}

// do runs one mutation and waits for its outcome.
func (r *runner) do(ctx context.Context, action func() error) error {
	if err := action(); err != nil {
		return err
	}
	if err := r.settle(ctx); err != nil {
		return err
	}
	return r.s.ActionErr()
}

// item returns the item at a 1-based index of the display order.
func (r *runner) item(index int) (model.DisplayItem, error) {
	items := r.s.Items()
	if index < 1 || index > len(items) {
		return model.DisplayItem{}, indexError{have: len(items), got: index}
	}
	return items[index-1], nil
}

// close gives history writes a moment to land before the process exits.
func (r *runner) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	r.s.FlushHistory(ctx)
	r.s.Close()
	r.loop.Stop()
}

type indexError struct{ have, got int }

func (e indexError) Error() string {
	return fmt.Sprintf("index out of range: have %d, got %d", e.have, e.got)
}
