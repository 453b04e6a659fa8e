package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/supabase-community/postgrest-go"

	"github.com/idilsaglam/groceries/internal/model"
)

const itemColumns = "id,list_id,name,quantity,checked,category,added_by,created_at"

// Config points a Client at a hosted backend.
type Config struct {
	BaseURL string
	APIKey  string
	// Token is the user's access token; the API key is used when empty.
	Token string

	Dialer *websocket.Dialer
	Logger *slog.Logger

	// Heartbeat is the realtime keepalive interval.
	Heartbeat time.Duration
	// Backoff builds the redial schedule for one realtime feed.
	Backoff func() backoff.BackOff
}

// Client talks to the backend's REST query interface and realtime feed.
// It is safe for concurrent use.
type Client struct {
	base   *url.URL
	apiKey string
	token  string
	rest   *postgrest.Client
	dialer *websocket.Dialer
	log    *slog.Logger

	heartbeat time.Duration
	backoff   func() backoff.BackOff
}

// New validates cfg. A missing URL or key yields model.ErrNotConfigured.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" || strings.TrimSpace(cfg.APIKey) == "" {
		return nil, model.ErrNotConfigured
	}
	base, err := url.Parse(strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("base url must be http(s): %s", cfg.BaseURL)
	}
	c := &Client{
		base:      base,
		apiKey:    strings.TrimSpace(cfg.APIKey),
		token:     strings.TrimSpace(cfg.Token),
		dialer:    cfg.Dialer,
		log:       cfg.Logger,
		heartbeat: cfg.Heartbeat,
		backoff:   cfg.Backoff,
	}
	if c.token == "" {
		c.token = c.apiKey
	}
	c.rest = postgrest.NewClient(base.String()+"/rest/v1", "public", map[string]string{
		"apikey": c.apiKey,
	}).SetAuthToken(c.token)
	if c.rest.ClientError != nil {
		return nil, fmt.Errorf("rest client: %w", c.rest.ClientError)
	}
	if c.dialer == nil {
		c.dialer = websocket.DefaultDialer
	}
	if c.log == nil {
		c.log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if c.heartbeat <= 0 {
		c.heartbeat = 25 * time.Second
	}
	if c.backoff == nil {
		c.backoff = func() backoff.BackOff { return redialBackOff() }
	}
	return c, nil
}

// redialBackOff starts at 500ms, doubles up to 30s and never gives up.
func redialBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.Multiplier = 2
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

func (c *Client) FetchAll(ctx context.Context, listID string) ([]model.Item, error) {
	q := c.rest.From("items").
		Select(itemColumns, "", false).
		Eq("list_id", listID).
		Order("created_at", &postgrest.OrderOpts{Ascending: true})
	rows, err := c.rows(ctx, "fetch items", q)
	if err != nil {
		return nil, err
	}
	items := make([]model.Item, 0, len(rows))
	for _, raw := range rows {
		it, err := decodeRow(raw)
		if err != nil {
			c.log.Warn("dropping malformed row", "list", listID, "err", err)
			continue
		}
		items = append(items, it)
	}
	return items, nil
}

type insertBody struct {
	ListID   string  `json:"list_id"`
	Name     string  `json:"name"`
	Quantity int     `json:"quantity"`
	Category *string `json:"category,omitempty"`
	AddedBy  *string `json:"added_by,omitempty"`
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (c *Client) Insert(ctx context.Context, listID string, it model.NewItem) (model.Item, error) {
	if strings.TrimSpace(it.Name) == "" {
		return model.Item{}, model.ValidationError{Field: "name", Reason: "must not be empty"}
	}
	body := insertBody{
		ListID:   listID,
		Name:     it.Name,
		Quantity: it.Quantity,
		Category: optional(it.Category),
		AddedBy:  optional(it.AddedBy),
	}
	rows, err := c.rows(ctx, "insert item", c.rest.From("items").Insert(body, false, "", "representation", ""))
	if err != nil {
		return model.Item{}, err
	}
	if len(rows) == 0 {
		return model.Item{}, model.NetworkError{Op: "insert item", Err: errors.New("empty representation")}
	}
	created, err := decodeRow(rows[0])
	if err != nil {
		return model.Item{}, model.NetworkError{Op: "insert item", Err: err}
	}
	return created, nil
}

func (c *Client) SetChecked(ctx context.Context, itemID string, checked bool) error {
	q := c.rest.From("items").
		Update(map[string]bool{"checked": checked}, "representation", "").
		Eq("id", itemID)
	rows, err := c.rows(ctx, "update item", q)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return model.NotFoundError{Kind: "item", ID: itemID}
	}
	return nil
}

func (c *Client) Delete(ctx context.Context, itemID string) error {
	rows, err := c.rows(ctx, "delete item", c.rest.From("items").Delete("representation", "").Eq("id", itemID))
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return model.NotFoundError{Kind: "item", ID: itemID}
	}
	return nil
}

func (c *Client) DeleteAll(ctx context.Context, listID string) error {
	return c.exec(ctx, "delete items", c.rest.From("items").Delete("minimal", "").Eq("list_id", listID))
}

// RecordHistory appends to the list_history audit trail.
func (c *Client) RecordHistory(ctx context.Context, e model.HistoryEntry) error {
	body := struct {
		ListID   string  `json:"list_id"`
		Action   string  `json:"action"`
		ItemName *string `json:"item_name,omitempty"`
		UserID   *string `json:"user_id,omitempty"`
	}{e.ListID, e.Action, optional(e.ItemName), optional(e.UserID)}
	return c.exec(ctx, "record history", c.rest.From("list_history").Insert(body, false, "", "minimal", ""))
}

func (c *Client) exec(ctx context.Context, op string, q *postgrest.FilterBuilder) error {
	_, err := c.call(ctx, op, q)
	return err
}

func (c *Client) rows(ctx context.Context, op string, q *postgrest.FilterBuilder) ([]json.RawMessage, error) {
	raw, err := c.call(ctx, op, q)
	if err != nil {
		return nil, err
	}
	var rows []json.RawMessage
	if len(strings.TrimSpace(string(raw))) == 0 {
		return rows, nil
	}
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, model.NetworkError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	return rows, nil
}

func (c *Client) call(ctx context.Context, op string, q *postgrest.FilterBuilder) ([]byte, error) {
	start := time.Now()
	raw, _, err := q.ExecuteWithContext(ctx)
	c.log.Debug("rest call", "op", op, "took", time.Since(start), "err", err)
	if err != nil {
		return nil, classify(op, err)
	}
	return raw, nil
}

// PostgREST reports failures as "(<code>) <message>".
var errCode = regexp.MustCompile(`(?s)^\(([0-9A-Z]+)\) (.*)$`)

// classify maps a query error onto the model error kinds. Codes follow
// PostgreSQL SQLSTATE classes and PostgREST's PGRST codes.
func classify(op string, err error) error {
	var ue *url.Error
	if errors.As(err, &ue) {
		return model.NetworkError{Op: op, Err: err}
	}
	m := errCode.FindStringSubmatch(err.Error())
	if m == nil {
		return model.NetworkError{Op: op, Err: err}
	}
	code, msg := m[1], strings.TrimSpace(m[2])
	switch {
	case strings.HasPrefix(code, "22"), strings.HasPrefix(code, "23"),
		code == "PGRST100", code == "PGRST102", code == "PGRST204":
		return model.ValidationError{Field: "item", Reason: msg}
	case code == "42P01", code == "PGRST205":
		return model.NotFoundError{Kind: "resource", ID: op}
	default:
		return model.NetworkError{Op: op, Err: fmt.Errorf("%s: %s", code, msg)}
	}
}
