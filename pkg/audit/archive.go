package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteArchive preserves evicted audit events in cold storage so that
// evidence outlives the hot retention window. It implements EvictionSink.
type SQLiteArchive struct {
	db *sql.DB
}

// NewSQLiteArchive wraps an existing database handle and runs migrations.
func NewSQLiteArchive(db *sql.DB) (*SQLiteArchive, error) {
	a := &SQLiteArchive{db: db}
	if err := a.migrate(); err != nil {
		return nil, err
	}
	return a, nil
}

// OpenSQLiteArchive opens (or creates) the archive database at path.
func OpenSQLiteArchive(path string) (*SQLiteArchive, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("audit: failed to open archive: %w", err)
	}
	a, err := NewSQLiteArchive(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return a, nil
}

func (a *SQLiteArchive) migrate() error {
	query := `
    CREATE TABLE IF NOT EXISTS audit_events (
        id TEXT PRIMARY KEY,
        sequence INTEGER NOT NULL,
        event_type TEXT NOT NULL,
        actor_id TEXT,
        resource TEXT,
        action TEXT,
        description TEXT,
        metadata JSON,
        timestamp DATETIME NOT NULL,
        previous_hash TEXT NOT NULL,
        entry_hash TEXT NOT NULL
    );`
	_, err := a.db.ExecContext(context.Background(), query)
	return err
}

// Archive inserts evicted events in a single transaction.
func (a *SQLiteArchive) Archive(events []Event) error {
	if len(events) == 0 {
		return nil
	}

	ctx := context.Background()
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("audit: archive begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := `INSERT INTO audit_events (
		id, sequence, event_type, actor_id, resource, action, description, metadata, timestamp, previous_hash, entry_hash
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	for _, e := range events {
		metaJSON, _ := json.Marshal(e.Metadata)
		_, err := tx.ExecContext(ctx, query,
			e.ID, e.Sequence, string(e.Type), e.ActorID, e.Resource, e.Action,
			e.Description, string(metaJSON), e.Timestamp.UTC().Format(time.RFC3339Nano),
			e.PreviousHash, e.EntryHash,
		)
		if err != nil {
			return fmt.Errorf("audit: archive insert %s: %w", e.ID, err)
		}
	}
	return tx.Commit()
}

// Count returns the number of archived events.
func (a *SQLiteArchive) Count(ctx context.Context) (int, error) {
	var n int
	err := a.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_events`).Scan(&n)
	return n, err
}

// List returns up to limit archived events, oldest first.
func (a *SQLiteArchive) List(ctx context.Context, limit int) ([]Event, error) {
	rows, err := a.db.QueryContext(ctx, `
        SELECT id, sequence, event_type, actor_id, resource, action, description, metadata, timestamp, previous_hash, entry_hash
        FROM audit_events
        ORDER BY sequence ASC
        LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var events []Event
	for rows.Next() {
		var (
			e         Event
			eventType string
			metaJSON  sql.NullString
			timestamp string
		)
		if err := rows.Scan(&e.ID, &e.Sequence, &eventType, &e.ActorID, &e.Resource,
			&e.Action, &e.Description, &metaJSON, &timestamp, &e.PreviousHash, &e.EntryHash); err != nil {
			return nil, err
		}
		e.Type = EventType(eventType)
		if metaJSON.Valid && metaJSON.String != "" && metaJSON.String != "null" {
			if err := json.Unmarshal([]byte(metaJSON.String), &e.Metadata); err != nil {
				return nil, fmt.Errorf("audit: archive metadata decode %s: %w", e.ID, err)
			}
		}
		e.Timestamp = parseArchiveTime(timestamp)
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

// Close closes the underlying database handle.
func (a *SQLiteArchive) Close() error {
	return a.db.Close()
}

func parseArchiveTime(value string) time.Time {
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t
	}
	return time.Time{}
}
