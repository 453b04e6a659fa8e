package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"github.com/idilsaglam/groceries/internal/listsync"
	"github.com/idilsaglam/groceries/internal/model"
)

// Frame is one message of the realtime channel protocol.
type Frame struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     *string         `json:"ref"`
}

const (
	EventJoin      = "phx_join"
	EventReply     = "phx_reply"
	EventError     = "phx_error"
	EventClose     = "phx_close"
	EventHeartbeat = "heartbeat"
	EventChanges   = "postgres_changes"
	EventSystem    = "system"

	HeartbeatTopic = "phoenix"
)

// Topic is the channel carrying row changes for one list.
func Topic(listID string) string { return "realtime:items:" + listID }

// ChangeFilter is one postgres_changes subscription.
type ChangeFilter struct {
	Event  string `json:"event"`
	Schema string `json:"schema"`
	Table  string `json:"table"`
	Filter string `json:"filter,omitempty"`
}

// JoinPayload is sent with phx_join.
type JoinPayload struct {
	Config struct {
		Broadcast struct {
			Self bool `json:"self"`
		} `json:"broadcast"`
		Presence struct {
			Key string `json:"key"`
		} `json:"presence"`
		PostgresChanges []ChangeFilter `json:"postgres_changes"`
	} `json:"config"`
	AccessToken string `json:"access_token,omitempty"`
}

// ReplyPayload answers a join or heartbeat.
type ReplyPayload struct {
	Status   string          `json:"status"`
	Response json.RawMessage `json:"response,omitempty"`
}

// ChangePayload wraps one committed row change.
type ChangePayload struct {
	Data ChangeData `json:"data"`
}

type ChangeData struct {
	Schema          string          `json:"schema"`
	Table           string          `json:"table"`
	CommitTimestamp string          `json:"commit_timestamp,omitempty"`
	Type            string          `json:"type"`
	Record          json.RawMessage `json:"record,omitempty"`
	OldRecord       json.RawMessage `json:"old_record,omitempty"`
}

func (c *Client) realtimeURL() string {
	u := *c.base
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/realtime/v1/websocket"
	q := url.Values{}
	q.Set("apikey", c.apiKey)
	q.Set("vsn", "1.0.0")
	u.RawQuery = q.Encode()
	return u.String()
}

// Subscribe keeps a realtime feed for listID open, redialing with backoff,
// until dispose is called or ctx ends. Dispose does not wait for the feed
// goroutine; a callback already in progress may still complete.
func (c *Client) Subscribe(ctx context.Context, listID string, h listsync.Handler) (func(), error) {
	if strings.TrimSpace(listID) == "" {
		return nil, model.ValidationError{Field: "list", Reason: "must not be empty"}
	}
	ctx, cancel := context.WithCancel(ctx)
	go c.feed(ctx, listID, h)
	return cancel, nil
}

func (c *Client) feed(ctx context.Context, listID string, h listsync.Handler) {
	b := c.backoff()
	attempt := 0
	for {
		err := c.stream(ctx, listID, h, func() {
			attempt = 0
			b.Reset()
		})
		if ctx.Err() != nil {
			return
		}
		attempt++
		c.log.Warn("realtime feed dropped", "list", listID, "attempt", attempt, "err", err)
		status(h, model.FeedStatus{Err: model.NetworkError{Op: "realtime", Err: err}})

		wait := b.NextBackOff()
		if wait == backoff.Stop {
			c.log.Error("realtime feed gave up", "list", listID, "attempts", attempt)
			return
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

func status(h listsync.Handler, st model.FeedStatus) {
	if h.OnStatus != nil {
		h.OnStatus(st)
	}
}

func (c *Client) stream(ctx context.Context, listID string, h listsync.Handler, joined func()) error {
	conn, _, err := c.dialer.DialContext(ctx, c.realtimeURL(), nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			_ = conn.Close()
		case <-done:
		}
	}()

	topic := Topic(listID)
	if err := c.join(conn, topic, listID); err != nil {
		return err
	}
	joined()
	c.log.Info("realtime joined", "topic", topic)
	status(h, model.FeedStatus{Connected: true})

	go c.beat(conn, done)

	for {
		_ = conn.SetReadDeadline(time.Now().Add(2*c.heartbeat + 5*time.Second))
		var f Frame
		if err := conn.ReadJSON(&f); err != nil {
			return fmt.Errorf("read: %w", err)
		}
		switch f.Event {
		case EventChanges:
			if f.Topic != topic {
				continue
			}
			ev, err := decodeChange(f.Payload)
			if err != nil {
				c.log.Warn("dropping malformed change", "topic", topic, "err", err)
				continue
			}
			if h.OnEvent != nil {
				h.OnEvent(ev)
			}
		case EventError, EventClose:
			if f.Topic == topic {
				return fmt.Errorf("channel %s: %s", f.Event, string(f.Payload))
			}
		case EventSystem:
			var p struct {
				Status  string `json:"status"`
				Message string `json:"message"`
			}
			if json.Unmarshal(f.Payload, &p) == nil && p.Status == "error" {
				return fmt.Errorf("channel error: %s", p.Message)
			}
		}
	}
}

func (c *Client) join(conn *websocket.Conn, topic, listID string) error {
	var p JoinPayload
	p.Config.PostgresChanges = []ChangeFilter{{
		Event:  "*",
		Schema: "public",
		Table:  "items",
		Filter: "list_id=eq." + listID,
	}}
	p.AccessToken = c.token
	raw, err := json.Marshal(p)
	if err != nil {
		return err
	}
	ref := "1"
	_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := conn.WriteJSON(Frame{Topic: topic, Event: EventJoin, Payload: raw, Ref: &ref}); err != nil {
		return fmt.Errorf("join: %w", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	for {
		var f Frame
		if err := conn.ReadJSON(&f); err != nil {
			return fmt.Errorf("join: %w", err)
		}
		if f.Event != EventReply || f.Ref == nil || *f.Ref != ref {
			continue
		}
		var r ReplyPayload
		if err := json.Unmarshal(f.Payload, &r); err != nil {
			return fmt.Errorf("join reply: %w", err)
		}
		if r.Status != "ok" {
			return fmt.Errorf("join refused: %s %s", r.Status, string(r.Response))
		}
		return nil
	}
}

// beat is the only writer once the channel is joined.
func (c *Client) beat(conn *websocket.Conn, done <-chan struct{}) {
	t := time.NewTicker(c.heartbeat)
	defer t.Stop()
	for n := 2; ; n++ {
		select {
		case <-done:
			return
		case <-t.C:
			ref := strconv.Itoa(n)
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			err := conn.WriteJSON(Frame{Topic: HeartbeatTopic, Event: EventHeartbeat, Payload: json.RawMessage("{}"), Ref: &ref})
			if err != nil {
				c.log.Debug("heartbeat failed", "err", err)
				_ = conn.Close()
				return
			}
		}
	}
}

var errUnknownChange = errors.New("unknown change type")

func decodeChange(raw json.RawMessage) (model.ChangeEvent, error) {
	var p ChangePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return model.ChangeEvent{}, fmt.Errorf("decode change: %w", err)
	}
	switch strings.ToUpper(p.Data.Type) {
	case "INSERT":
		it, err := decodeRow(p.Data.Record)
		return model.ChangeEvent{Kind: model.Inserted, Item: it}, err
	case "UPDATE":
		it, err := decodeRow(p.Data.Record)
		return model.ChangeEvent{Kind: model.Updated, Item: it}, err
	case "DELETE":
		it, err := decodeOld(p.Data.OldRecord)
		return model.ChangeEvent{Kind: model.Deleted, Item: it}, err
	}
	return model.ChangeEvent{}, fmt.Errorf("%w: %q", errUnknownChange, p.Data.Type)
}
