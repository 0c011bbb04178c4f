// Package sqlite keeps the last successfully fetched copy of each
// collection on disk, so views have something to show before the first
// refresh completes.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"famhub/backend"
)

// Snapshots is a SQLite-backed store of collection snapshots keyed by
// resource name and scope.
type Snapshots struct {
	db *sql.DB
}

// Info describes one stored snapshot.
type Info struct {
	Resource string
	Scope    string
	Items    int
	SavedAt  time.Time
}

// New opens (creating if needed) the snapshot database at path. Use
// ":memory:" for a throwaway store.
func New(path string) (*Snapshots, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// A single connection keeps a :memory: database shared across calls.
	db.SetMaxOpenConns(1)

	s := &Snapshots{db: db}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Snapshots) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS snapshots (
			resource TEXT NOT NULL,
			scope TEXT NOT NULL DEFAULT '',
			saved_at TEXT NOT NULL,
			PRIMARY KEY (resource, scope)
		);

		CREATE TABLE IF NOT EXISTS snapshot_items (
			resource TEXT NOT NULL,
			scope TEXT NOT NULL DEFAULT '',
			position INTEGER NOT NULL,
			item_id TEXT NOT NULL,
			data TEXT NOT NULL,
			PRIMARY KEY (resource, scope, position),
			FOREIGN KEY (resource, scope) REFERENCES snapshots(resource, scope) ON DELETE CASCADE
		);
	`
	if _, err := s.db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return err
	}
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database.
func (s *Snapshots) Close() error {
	return s.db.Close()
}

// SaveRaw replaces the snapshot for resource and scope with items, which
// are (id, JSON) pairs in display order.
func (s *Snapshots) SaveRaw(ctx context.Context, resource, scope string, ids []string, data [][]byte) error {
	if len(ids) != len(data) {
		return fmt.Errorf("snapshot %s: %d ids for %d items", resource, len(ids), len(data))
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, table := range []string{"snapshot_items", "snapshots"} {
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM "+table+" WHERE resource = ? AND scope = ?", resource, scope); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO snapshots (resource, scope, saved_at) VALUES (?, ?, ?)",
		resource, scope, time.Now().UTC().Format(time.RFC3339Nano)); err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO snapshot_items (resource, scope, position, item_id, data) VALUES (?, ?, ?, ?, ?)")
	if err != nil {
		return err
	}
	defer func() { _ = stmt.Close() }()

	for i := range ids {
		if _, err := stmt.ExecContext(ctx, resource, scope, i, ids[i], string(data[i])); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// LoadRaw returns the stored items for resource and scope in order, and
// when they were saved. found is false when nothing was stored.
func (s *Snapshots) LoadRaw(ctx context.Context, resource, scope string) (data [][]byte, savedAt time.Time, found bool, err error) {
	var savedStr string
	err = s.db.QueryRowContext(ctx,
		"SELECT saved_at FROM snapshots WHERE resource = ? AND scope = ?", resource, scope,
	).Scan(&savedStr)
	if err == sql.ErrNoRows {
		return nil, time.Time{}, false, nil
	}
	if err != nil {
		return nil, time.Time{}, false, err
	}
	savedAt, _ = time.Parse(time.RFC3339Nano, savedStr)

	rows, err := s.db.QueryContext(ctx,
		"SELECT data FROM snapshot_items WHERE resource = ? AND scope = ? ORDER BY position", resource, scope)
	if err != nil {
		return nil, time.Time{}, false, err
	}
	defer func() { _ = rows.Close() }()

	data = [][]byte{}
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, time.Time{}, false, err
		}
		data = append(data, []byte(d))
	}
	return data, savedAt, true, rows.Err()
}

// List describes every stored snapshot.
func (s *Snapshots) List(ctx context.Context) ([]Info, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.resource, s.scope, s.saved_at, COUNT(i.position)
		FROM snapshots s
		LEFT JOIN snapshot_items i ON i.resource = s.resource AND i.scope = s.scope
		GROUP BY s.resource, s.scope, s.saved_at
		ORDER BY s.resource, s.scope`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	infos := []Info{}
	for rows.Next() {
		var info Info
		var savedStr string
		if err := rows.Scan(&info.Resource, &info.Scope, &savedStr, &info.Items); err != nil {
			return nil, err
		}
		info.SavedAt, _ = time.Parse(time.RFC3339Nano, savedStr)
		infos = append(infos, info)
	}
	return infos, rows.Err()
}

// Clear removes every snapshot.
func (s *Snapshots) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM snapshot_items"); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, "DELETE FROM snapshots")
	return err
}

// Collection is a typed view of the snapshots of one resource.
type Collection[T any] struct {
	snapshots *Snapshots
	resource  backend.Resource[T]
}

// For binds a resource to the snapshot store.
func For[T any](s *Snapshots, resource backend.Resource[T]) *Collection[T] {
	return &Collection[T]{snapshots: s, resource: resource}
}

// Save stores items as the snapshot for scope. Items still carrying a
// temporary id are skipped: unconfirmed adds are never persisted.
func (c *Collection[T]) Save(ctx context.Context, scope backend.Scope, items []T) error {
	ids := make([]string, 0, len(items))
	data := make([][]byte, 0, len(items))
	for _, it := range items {
		id := c.resource.Key(it)
		if backend.IsTempID(id) {
			continue
		}
		b, err := json.Marshal(it)
		if err != nil {
			return fmt.Errorf("encode %s snapshot: %w", c.resource.Name, err)
		}
		ids = append(ids, id)
		data = append(data, b)
	}
	return c.snapshots.SaveRaw(ctx, c.resource.Name, scope.Key(), ids, data)
}

// Load returns the snapshot for scope. found is false when none exists.
func (c *Collection[T]) Load(ctx context.Context, scope backend.Scope) (items []T, savedAt time.Time, found bool, err error) {
	data, savedAt, found, err := c.snapshots.LoadRaw(ctx, c.resource.Name, scope.Key())
	if err != nil || !found {
		return nil, time.Time{}, found, err
	}
	items = make([]T, 0, len(data))
	for _, d := range data {
		var it T
		if err := json.Unmarshal(d, &it); err != nil {
			return nil, time.Time{}, false, fmt.Errorf("decode %s snapshot: %w", c.resource.Name, err)
		}
		items = append(items, it)
	}
	return items, savedAt, true, nil
}
