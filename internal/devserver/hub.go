package devserver

import (
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/idilsaglam/groceries/internal/model"
	"github.com/idilsaglam/groceries/internal/remote"
)

type peer struct {
	conn *websocket.Conn
	wmu  sync.Mutex
	// topic -> list id
	topics map[string]string
}

func (p *peer) send(f remote.Frame) error {
	p.wmu.Lock()
	defer p.wmu.Unlock()
	_ = p.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return p.conn.WriteJSON(f)
}

// hub fans committed row changes out to joined realtime channels.
type hub struct {
	mu    sync.Mutex
	peers map[*peer]struct{}
	log   *slog.Logger
}

func newHub(log *slog.Logger) *hub {
	return &hub{peers: map[*peer]struct{}{}, log: log}
}

func (h *hub) add(p *peer) {
	h.mu.Lock()
	h.peers[p] = struct{}{}
	h.mu.Unlock()
}

func (h *hub) remove(p *peer) {
	h.mu.Lock()
	delete(h.peers, p)
	h.mu.Unlock()
}

func (h *hub) join(p *peer, topic, listID string) {
	h.mu.Lock()
	p.topics[topic] = listID
	h.mu.Unlock()
}

func (h *hub) leave(p *peer, topic string) {
	h.mu.Lock()
	delete(p.topics, topic)
	h.mu.Unlock()
}

// connected reports how many sockets are open.
func (h *hub) connected() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.peers)
}

// listFilter extracts the list id from a "list_id=eq.<id>" filter.
func listFilter(p remote.JoinPayload) (string, bool) {
	for _, f := range p.Config.PostgresChanges {
		if f.Table != "items" {
			continue
		}
		if id, ok := strings.CutPrefix(f.Filter, "list_id=eq."); ok && id != "" {
			return id, true
		}
	}
	return "", false
}

func (h *hub) publish(kind model.EventKind, it model.Item) {
	data := remote.ChangeData{
		Schema:          "public",
		Table:           "items",
		CommitTimestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}
	var err error
	switch kind {
	case model.Inserted:
		data.Type = "INSERT"
		data.Record, err = json.Marshal(it)
	case model.Updated:
		data.Type = "UPDATE"
		data.Record, err = json.Marshal(it)
	case model.Deleted:
		data.Type = "DELETE"
		data.OldRecord, err = json.Marshal(map[string]string{"id": it.ID})
	}
	if err != nil {
		h.log.Error("encode change", "err", err)
		return
	}
	payload, err := json.Marshal(remote.ChangePayload{Data: data})
	if err != nil {
		h.log.Error("encode change", "err", err)
		return
	}

	type target struct {
		p     *peer
		topic string
	}
	var targets []target
	h.mu.Lock()
	for p := range h.peers {
		for topic, listID := range p.topics {
			if listID == it.ListID {
				targets = append(targets, target{p, topic})
			}
		}
	}
	h.mu.Unlock()

	for _, t := range targets {
		if err := t.p.send(remote.Frame{Topic: t.topic, Event: remote.EventChanges, Payload: payload}); err != nil {
			h.log.Warn("push change", "topic", t.topic, "err", err)
			_ = t.p.conn.Close()
		}
	}
}

// kick closes every socket, as a backend restart would.
func (h *hub) kick() {
	h.mu.Lock()
	peers := make([]*peer, 0, len(h.peers))
	for p := range h.peers {
		peers = append(peers, p)
	}
	h.mu.Unlock()
	for _, p := range peers {
		_ = p.conn.Close()
	}
}
