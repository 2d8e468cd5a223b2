// Package journal keeps an audit trail of session starts and exits in SQLite.
// Nothing is restored from it.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/PiranhaCodes/shellpty/internal/pty"
)

// Event kinds.
const (
	EventStarted = "started"
	EventExited  = "exited"
)

// Event is one row of the journal.
type Event struct {
	ID        int64
	Time      time.Time
	SessionID string
	Kind      string
	Program   string
	Pid       int
	// ExitCode is nil for start events.
	ExitCode *int
}

// Journal records session lifecycle events. It implements pty.Observer.
type Journal struct {
	conn   *sql.DB
	logger *logrus.Logger
}

var _ pty.Observer = (*Journal)(nil)

// Open opens or creates the journal at path. Pass ":memory:" for an
// in-memory journal.
func Open(path string, logger *logrus.Logger) (*Journal, error) {
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create journal directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	// one connection keeps ":memory:" databases coherent and serializes writers
	conn.SetMaxOpenConns(1)

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	j := &Journal{conn: conn, logger: logger}
	if err := j.initSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return j, nil
}

func (j *Journal) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS session_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		ts INTEGER NOT NULL,
		session_id TEXT NOT NULL,
		event TEXT NOT NULL,
		program TEXT NOT NULL,
		pid INTEGER NOT NULL,
		exit_code INTEGER
	);

	CREATE INDEX IF NOT EXISTS idx_session_events_ts ON session_events(ts DESC);
	CREATE INDEX IF NOT EXISTS idx_session_events_session ON session_events(session_id);
	`
	_, err := j.conn.Exec(schema)
	return err
}

// Close closes the database connection.
func (j *Journal) Close() error {
	if j.conn != nil {
		return j.conn.Close()
	}
	return nil
}

// Record inserts ev and sets its ID. A zero Time means now.
func (j *Journal) Record(ctx context.Context, ev *Event) error {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	var exitCode sql.NullInt64
	if ev.ExitCode != nil {
		exitCode = sql.NullInt64{Int64: int64(*ev.ExitCode), Valid: true}
	}

	result, err := j.conn.ExecContext(ctx, `
		INSERT INTO session_events (ts, session_id, event, program, pid, exit_code)
		VALUES (?, ?, ?, ?, ?, ?)
	`, ev.Time.UnixNano(), ev.SessionID, ev.Kind, ev.Program, ev.Pid, exitCode)
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	ev.ID = id
	return nil
}

// SessionStarted records a start event.
func (j *Journal) SessionStarted(info pty.SessionInfo) {
	ev := &Event{
		Time:      info.StartedAt,
		SessionID: info.ID,
		Kind:      EventStarted,
		Program:   info.Program,
		Pid:       info.Pid,
	}
	if err := j.Record(context.Background(), ev); err != nil {
		j.logger.WithError(err).WithField("session", info.ID).Warn("journal write failed")
	}
}

// SessionExited records an exit event.
func (j *Journal) SessionExited(info pty.SessionInfo, exitCode int) {
	ev := &Event{
		SessionID: info.ID,
		Kind:      EventExited,
		Program:   info.Program,
		Pid:       info.Pid,
		ExitCode:  &exitCode,
	}
	if err := j.Record(context.Background(), ev); err != nil {
		j.logger.WithError(err).WithField("session", info.ID).Warn("journal write failed")
	}
}

// Recent returns the newest events first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]*Event, error) {
	rows, err := j.conn.QueryContext(ctx, `
		SELECT id, ts, session_id, event, program, pid, exit_code
		FROM session_events
		ORDER BY ts DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// BySession returns the events of one session, newest first.
func (j *Journal) BySession(ctx context.Context, sessionID string, limit int) ([]*Event, error) {
	rows, err := j.conn.QueryContext(ctx, `
		SELECT id, ts, session_id, event, program, pid, exit_code
		FROM session_events
		WHERE session_id = ?
		ORDER BY ts DESC, id DESC
		LIMIT ?
	`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query session events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]*Event, error) {
	var events []*Event
	for rows.Next() {
		var (
			ev       Event
			ts       int64
			exitCode sql.NullInt64
		)
		if err := rows.Scan(&ev.ID, &ts, &ev.SessionID, &ev.Kind, &ev.Program, &ev.Pid, &exitCode); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		ev.Time = time.Unix(0, ts)
		if exitCode.Valid {
			code := int(exitCode.Int64)
			ev.ExitCode = &code
		}
		events = append(events, &ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}
	return events, nil
}
