// Package devserver is a small local stand-in for the hosted backend:
// the items/list_history REST surface plus the realtime websocket feed.
package devserver

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/felixge/httpsnoop"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/idilsaglam/groceries/internal/model"
	"github.com/idilsaglam/groceries/internal/remote"
)

// Server serves one sqlite-backed household.
type Server struct {
	store  *Store
	hub    *hub
	apiKey string
	log    *slog.Logger

	// serializes writes so change events leave in commit order
	mu sync.Mutex
}

// New returns a server for store. An empty apiKey accepts every request.
func New(store *Store, apiKey string, log *slog.Logger) *Server {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Server{store: store, hub: newHub(log), apiKey: apiKey, log: log}
}

// Handler returns the routed, access-logged handler.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			m := httpsnoop.CaptureMetrics(next, w, req)
			s.log.Info("handled", "method", req.Method, "path", req.URL.Path, "duration", m.Duration, "status", m.Code)
		})
	})
	r.Use(s.requireKey)

	rest := r.PathPrefix("/rest/v1").Subrouter()
	rest.Methods(http.MethodGet).Path("/items").HandlerFunc(s.listItems)
	rest.Methods(http.MethodPost).Path("/items").HandlerFunc(s.insertItem)
	rest.Methods(http.MethodPatch).Path("/items").HandlerFunc(s.updateItem)
	rest.Methods(http.MethodDelete).Path("/items").HandlerFunc(s.deleteItems)
	rest.Methods(http.MethodPost).Path("/list_history").HandlerFunc(s.addHistory)

	r.Methods(http.MethodGet).Path("/realtime/v1/websocket").HandlerFunc(s.realtime)
	return r
}

// Kick drops every realtime connection.
func (s *Server) Kick() { s.hub.kick() }

func (s *Server) requireKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey == "" {
			next.ServeHTTP(w, r)
			return
		}
		key := r.Header.Get("apikey")
		if key == "" {
			key = r.URL.Query().Get("apikey")
		}
		if key != s.apiKey {
			writeError(w, http.StatusUnauthorized, "", "invalid api key", "")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type apiError struct {
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
	Code    string `json:"code,omitempty"`
}

// writeError sends a PostgREST-style error body. code is a SQLSTATE or
// PGRST code; the gateway's own rejections carry none.
func writeError(w http.ResponseWriter, status int, code, msg, details string) {
	writeJSON(w, status, apiError{Message: msg, Details: details, Code: code})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// eq reads a "<col>=eq.<value>" filter.
func eq(r *http.Request, col string) (string, bool) {
	v, ok := strings.CutPrefix(r.URL.Query().Get(col), "eq.")
	return v, ok && v != ""
}

func wantsRows(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Prefer"), "return=representation")
}

func (s *Server) respond(w http.ResponseWriter, r *http.Request, status int, rows []model.Item) {
	if !wantsRows(r) {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if rows == nil {
		rows = []model.Item{}
	}
	writeJSON(w, status, rows)
}

func (s *Server) storeError(w http.ResponseWriter, err error) {
	if errors.Is(err, ErrInvalid) {
		writeError(w, http.StatusBadRequest, "23514", err.Error(), "")
		return
	}
	s.log.Error("store", "err", err)
	writeError(w, http.StatusInternalServerError, "XX000", "internal error", "")
}

func (s *Server) listItems(w http.ResponseWriter, r *http.Request) {
	listID, ok := eq(r, "list_id")
	if !ok {
		writeError(w, http.StatusBadRequest, "PGRST100", "list_id filter is required", "")
		return
	}
	items, err := s.store.Items(r.Context(), listID)
	if err != nil {
		s.storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

type insertRow struct {
	ListID   string  `json:"list_id"`
	Name     string  `json:"name"`
	Quantity *int    `json:"quantity"`
	Checked  bool    `json:"checked"`
	Category *string `json:"category"`
	AddedBy  *string `json:"added_by"`
}

func (in insertRow) item() model.Item {
	it := model.Item{ListID: in.ListID, Name: in.Name, Quantity: 1, Checked: in.Checked}
	if in.Quantity != nil {
		it.Quantity = *in.Quantity
	}
	if in.Category != nil {
		it.Category = *in.Category
	}
	if in.AddedBy != nil {
		it.AddedBy = *in.AddedBy
	}
	return it
}

// decodeInsert accepts a single object or an array of objects.
func decodeInsert(body io.Reader) ([]insertRow, error) {
	raw, err := io.ReadAll(io.LimitReader(body, 1<<20))
	if err != nil {
		return nil, err
	}
	var many []insertRow
	if err := json.Unmarshal(raw, &many); err == nil {
		return many, nil
	}
	var one insertRow
	if err := json.Unmarshal(raw, &one); err != nil {
		return nil, err
	}
	return []insertRow{one}, nil
}

func (s *Server) insertItem(w http.ResponseWriter, r *http.Request) {
	in, err := decodeInsert(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "PGRST102", "malformed body", err.Error())
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	created := make([]model.Item, 0, len(in))
	for _, row := range in {
		it, err := s.store.Insert(r.Context(), row.item())
		if err != nil {
			s.storeError(w, err)
			return
		}
		s.hub.publish(model.Inserted, it)
		created = append(created, it)
	}
	s.respond(w, r, http.StatusCreated, created)
}

func (s *Server) updateItem(w http.ResponseWriter, r *http.Request) {
	id, ok := eq(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "PGRST100", "id filter is required", "")
		return
	}
	var patch struct {
		Checked *bool `json:"checked"`
	}
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil || patch.Checked == nil {
		writeError(w, http.StatusBadRequest, "PGRST102", "body must set checked", "")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	it, found, err := s.store.SetChecked(r.Context(), id, *patch.Checked)
	if err != nil {
		s.storeError(w, err)
		return
	}
	var rows []model.Item
	if found {
		s.hub.publish(model.Updated, it)
		rows = append(rows, it)
	}
	s.respond(w, r, http.StatusOK, rows)
}

func (s *Server) deleteItems(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var (
		rows []model.Item
		err  error
	)
	if id, ok := eq(r, "id"); ok {
		var (
			it    model.Item
			found bool
		)
		it, found, err = s.store.Delete(r.Context(), id)
		if found {
			rows = append(rows, it)
		}
	} else if listID, ok := eq(r, "list_id"); ok {
		rows, err = s.store.DeleteList(r.Context(), listID)
	} else {
		writeError(w, http.StatusBadRequest, "PGRST100", "delete requires an id or list_id filter", "")
		return
	}
	if err != nil {
		s.storeError(w, err)
		return
	}
	for _, it := range rows {
		s.hub.publish(model.Deleted, it)
	}
	s.respond(w, r, http.StatusOK, rows)
}

func (s *Server) addHistory(w http.ResponseWriter, r *http.Request) {
	var e model.HistoryEntry
	if err := json.NewDecoder(r.Body).Decode(&e); err != nil {
		writeError(w, http.StatusBadRequest, "PGRST102", "malformed body", err.Error())
		return
	}
	if err := s.store.AddHistory(r.Context(), e); err != nil {
		s.storeError(w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

func reply(f remote.Frame, status string, response any) remote.Frame {
	resp, _ := json.Marshal(response)
	payload, _ := json.Marshal(remote.ReplyPayload{Status: status, Response: resp})
	return remote.Frame{Topic: f.Topic, Event: remote.EventReply, Payload: payload, Ref: f.Ref}
}

func (s *Server) realtime(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error("failed to upgrade", "err", err)
		return
	}
	p := &peer{conn: conn, topics: map[string]string{}}
	s.hub.add(p)
	defer func() {
		s.hub.remove(p)
		_ = conn.Close()
	}()

	for {
		var f remote.Frame
		if err := conn.ReadJSON(&f); err != nil {
			s.log.Debug("realtime peer gone", "err", err)
			return
		}
		var out remote.Frame
		switch f.Event {
		case remote.EventHeartbeat:
			out = reply(f, "ok", struct{}{})
		case remote.EventJoin:
			var jp remote.JoinPayload
			listID, ok := "", false
			if json.Unmarshal(f.Payload, &jp) == nil {
				listID, ok = listFilter(jp)
			}
			if !ok {
				out = reply(f, "error", map[string]string{"reason": "items filter list_id=eq.<id> required"})
				break
			}
			s.hub.join(p, f.Topic, listID)
			s.log.Info("realtime join", "topic", f.Topic, "list", listID)
			out = reply(f, "ok", map[string]any{"postgres_changes": jp.Config.PostgresChanges})
		case "phx_leave":
			s.hub.leave(p, f.Topic)
			out = reply(f, "ok", struct{}{})
		default:
			continue
		}
		if err := p.send(out); err != nil {
			return
		}
	}
}
