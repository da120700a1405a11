package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/dohr-michael/smoothstream/internal/events"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS pieces (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	idx        INTEGER NOT NULL,
	phase      TEXT NOT NULL,
	content    TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_pieces_session ON pieces(session_id, id);
`

// Piece is one recorded smoothed emission.
type Piece struct {
	SessionID string
	Index     int
	Phase     events.StreamPhase
	Content   string
	CreatedAt time.Time
}

// SQLiteRecorder stores smoothed stream events in a SQLite database.
type SQLiteRecorder struct {
	db          *sql.DB
	unsubscribe func()
}

// OpenSQLite opens (or creates) the database at path. Use ":memory:" for a
// throwaway store.
func OpenSQLite(path string) (*SQLiteRecorder, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and serializes writes.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLiteRecorder{db: db}, nil
}

// Attach records every smoothed stream event published on bus.
func (r *SQLiteRecorder) Attach(bus *events.Bus) {
	r.unsubscribe = bus.Subscribe(func(e events.Event) {
		if err := r.Record(context.Background(), e); err != nil {
			slog.Warn("record piece failed", "session_id", e.SessionID, "error", err)
		}
	}, events.EventAssistantSmooth)
}

// Record stores e if it is a smoothed stream event.
func (r *SQLiteRecorder) Record(ctx context.Context, e events.Event) error {
	p, ok := events.GetSmoothStreamPayload(e)
	if !ok {
		return nil
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO pieces (session_id, idx, phase, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		e.SessionID, p.Index, string(p.Phase), p.Content, e.Timestamp.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert piece: %w", err)
	}
	return nil
}

// Pieces returns the recorded events of a session in emission order.
func (r *SQLiteRecorder) Pieces(ctx context.Context, sessionID string) ([]Piece, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT session_id, idx, phase, content, created_at FROM pieces WHERE session_id = ? ORDER BY id`,
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("query pieces: %w", err)
	}
	defer rows.Close()

	var out []Piece
	for rows.Next() {
		var p Piece
		var phase, created string
		if err := rows.Scan(&p.SessionID, &p.Index, &phase, &p.Content, &created); err != nil {
			return nil, fmt.Errorf("scan piece: %w", err)
		}
		p.Phase = events.StreamPhase(phase)
		p.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, p)
	}
	return out, rows.Err()
}

// Transcript concatenates the delta pieces of a session.
func (r *SQLiteRecorder) Transcript(ctx context.Context, sessionID string) (string, error) {
	pieces, err := r.Pieces(ctx, sessionID)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	for _, p := range pieces {
		if p.Phase == events.StreamPhaseDelta {
			sb.WriteString(p.Content)
		}
	}
	return sb.String(), nil
}

// Close detaches from the bus and closes the database.
func (r *SQLiteRecorder) Close() error {
	if r.unsubscribe != nil {
		r.unsubscribe()
	}
	return r.db.Close()
}
