package remote

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/idilsaglam/groceries/internal/model"
)

var errMissingID = errors.New("row has no id")

// decodeRow is the only place backend rows become model.Items. Ids may
// arrive as strings or numbers; category and added_by may be null.
func decodeRow(raw json.RawMessage) (model.Item, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return model.Item{}, fmt.Errorf("decode row: %w", err)
	}
	if m == nil {
		return model.Item{}, errors.New("decode row: null")
	}

	id, ok := scalar(m["id"])
	if !ok || id == "" {
		return model.Item{}, errMissingID
	}
	it := model.Item{ID: id, Quantity: 1}
	it.ListID, _ = scalar(m["list_id"])
	it.Category, _ = scalar(m["category"])
	it.Category = strings.TrimSpace(it.Category)
	it.AddedBy, _ = scalar(m["added_by"])

	name, _ := m["name"].(string)
	if strings.TrimSpace(name) == "" {
		return model.Item{}, fmt.Errorf("row %s: empty name", id)
	}
	it.Name = name

	switch q := m["quantity"].(type) {
	case nil:
	case json.Number:
		n, err := q.Int64()
		if err != nil {
			return model.Item{}, fmt.Errorf("row %s: quantity %q: %w", id, q, err)
		}
		if n > 0 {
			it.Quantity = int(n)
		}
	default:
		return model.Item{}, fmt.Errorf("row %s: quantity has type %T", id, q)
	}

	switch c := m["checked"].(type) {
	case nil:
	case bool:
		it.Checked = c
	default:
		return model.Item{}, fmt.Errorf("row %s: checked has type %T", id, c)
	}

	if s, ok := m["created_at"].(string); ok && s != "" {
		if t, err := parseTime(s); err == nil {
			it.CreatedAt = t
		}
	}
	return it, nil
}

// decodeOld reads the old image of a deleted row. Only the primary key
// is guaranteed; list_id is kept when the backend sends it.
func decodeOld(raw json.RawMessage) (model.Item, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return model.Item{}, fmt.Errorf("decode old row: %w", err)
	}
	id, ok := scalar(m["id"])
	if !ok || id == "" {
		return model.Item{}, errMissingID
	}
	it := model.Item{ID: id}
	it.ListID, _ = scalar(m["list_id"])
	return it, nil
}

func scalar(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		return x, true
	case json.Number:
		return x.String(), true
	case bool:
		return strconv.FormatBool(x), true
	}
	return "", false
}

func parseTime(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999", "2006-01-02 15:04:05.999999-07"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}
