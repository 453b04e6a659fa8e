package devserver

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/idilsaglam/groceries/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS items (
	id         TEXT NOT NULL PRIMARY KEY,
	list_id    TEXT NOT NULL,
	name       TEXT NOT NULL,
	quantity   INTEGER NOT NULL DEFAULT 1,
	checked    INTEGER NOT NULL DEFAULT 0,
	category   TEXT,
	added_by   TEXT,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS items_list ON items (list_id, created_at);
CREATE TABLE IF NOT EXISTS list_history (
	id         TEXT NOT NULL PRIMARY KEY,
	list_id    TEXT NOT NULL,
	action     TEXT NOT NULL,
	item_name  TEXT,
	user_id    TEXT,
	created_at TEXT NOT NULL
);`

const itemCols = `id, list_id, name, quantity, checked, category, added_by, created_at`

// ErrInvalid marks rows the store refuses to write.
var ErrInvalid = errors.New("invalid row")

// Store keeps lists in a sqlite database.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (creating if needed) the database at path. ":memory:" works.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}
	s := NewStore(db)
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewStore wraps an already open database without touching its schema.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (s *Store) Close() error { return s.db.Close() }

type scanner interface {
	Scan(dest ...any) error
}

func scanItem(r scanner) (model.Item, error) {
	var (
		it                model.Item
		checked           int
		category, addedBy sql.NullString
		created           string
	)
	if err := r.Scan(&it.ID, &it.ListID, &it.Name, &it.Quantity, &checked, &category, &addedBy, &created); err != nil {
		return model.Item{}, err
	}
	it.Checked = checked != 0
	it.Category = category.String
	it.AddedBy = addedBy.String
	it.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	return it, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// Items returns the list's rows oldest first.
func (s *Store) Items(ctx context.Context, listID string) ([]model.Item, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+itemCols+` FROM items WHERE list_id = ? ORDER BY created_at, rowid`, listID)
	if err != nil {
		return nil, fmt.Errorf("query items: %w", err)
	}
	defer rows.Close()
	out := []model.Item{}
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		out = append(out, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate items: %w", err)
	}
	return out, nil
}

func (s *Store) get(ctx context.Context, id string) (model.Item, bool, error) {
	it, err := scanItem(s.db.QueryRowContext(ctx, `SELECT `+itemCols+` FROM items WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Item{}, false, nil
	}
	if err != nil {
		return model.Item{}, false, fmt.Errorf("get item: %w", err)
	}
	return it, true, nil
}

// Insert assigns an id and creation time to it and stores it.
func (s *Store) Insert(ctx context.Context, it model.Item) (model.Item, error) {
	it.Name = strings.TrimSpace(it.Name)
	switch {
	case it.ListID == "":
		return model.Item{}, fmt.Errorf("%w: list_id is required", ErrInvalid)
	case it.Name == "":
		return model.Item{}, fmt.Errorf("%w: name must not be empty", ErrInvalid)
	case it.Quantity < 1:
		return model.Item{}, fmt.Errorf("%w: quantity must be positive", ErrInvalid)
	}
	it.ID = uuid.NewString()
	it.CreatedAt = s.now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO items (`+itemCols+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		it.ID, it.ListID, it.Name, it.Quantity, it.Checked, nullable(it.Category), nullable(it.AddedBy),
		it.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return model.Item{}, fmt.Errorf("insert item: %w", err)
	}
	return it, nil
}

// SetChecked updates one row. ok is false when no row has id.
func (s *Store) SetChecked(ctx context.Context, id string, checked bool) (model.Item, bool, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE items SET checked = ? WHERE id = ?`, checked, id)
	if err != nil {
		return model.Item{}, false, fmt.Errorf("update item: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.Item{}, false, nil
	}
	return s.get(ctx, id)
}

// Delete removes one row and returns what it held.
func (s *Store) Delete(ctx context.Context, id string) (model.Item, bool, error) {
	it, ok, err := s.get(ctx, id)
	if err != nil || !ok {
		return model.Item{}, false, err
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM items WHERE id = ?`, id)
	if err != nil {
		return model.Item{}, false, fmt.Errorf("delete item: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.Item{}, false, nil
	}
	return it, true, nil
}

// DeleteList removes every row of the list and returns them.
func (s *Store) DeleteList(ctx context.Context, listID string) ([]model.Item, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `SELECT `+itemCols+` FROM items WHERE list_id = ? ORDER BY created_at, rowid`, listID)
	if err != nil {
		return nil, fmt.Errorf("query items: %w", err)
	}
	var gone []model.Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan item: %w", err)
		}
		gone = append(gone, it)
	}
	rows.Close()
	if _, err := tx.ExecContext(ctx, `DELETE FROM items WHERE list_id = ?`, listID); err != nil {
		return nil, fmt.Errorf("delete items: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return gone, nil
}

// AddHistory appends an audit row.
func (s *Store) AddHistory(ctx context.Context, e model.HistoryEntry) error {
	if e.ListID == "" || e.Action == "" {
		return fmt.Errorf("%w: list_id and action are required", ErrInvalid)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO list_history (id, list_id, action, item_name, user_id, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), e.ListID, e.Action, nullable(e.ItemName), nullable(e.UserID), s.now().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert history: %w", err)
	}
	return nil
}

// History returns the audit rows of a list oldest first.
func (s *Store) History(ctx context.Context, listID string) ([]model.HistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT list_id, action, item_name, user_id FROM list_history WHERE list_id = ? ORDER BY created_at, rowid`, listID)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()
	var out []model.HistoryEntry
	for rows.Next() {
		var (
			e            model.HistoryEntry
			name, userID sql.NullString
		)
		if err := rows.Scan(&e.ListID, &e.Action, &name, &userID); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		e.ItemName, e.UserID = name.String, userID.String
		out = append(out, e)
	}
	return out, rows.Err()
}
