package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"k8s.io/klog/v2"

	"github.com/Agrid-Dev/pvmocktat/internal/pv"
	"github.com/Agrid-Dev/pvmocktat/internal/recorder"
	"github.com/Agrid-Dev/pvmocktat/internal/report"
)

var ErrSessionNotFound = errors.New("session not found")

// SessionInfo is the archived header of a finished session.
type SessionInfo struct {
	ID      uuid.UUID      `json:"id"`
	Started time.Time      `json:"started"`
	Ended   time.Time      `json:"ended"`
	Summary report.Summary `json:"summary"`
}

// Store persists finished sessions in SQLite. It is a recorder.Reporter.
type Store struct {
	db       *sql.DB
	mu       sync.RWMutex
	prepared map[string]*sql.Stmt
}

func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create archive directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", path+"?_journal=WAL&_sync=NORMAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}
	// a single connection keeps ":memory:" databases shared across calls
	db.SetMaxOpenConns(1)

	s := &Store{db: db, prepared: make(map[string]*sql.Stmt)}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize archive schema: %w", err)
	}
	if err := s.prepareStatements(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		started DATETIME NOT NULL,
		ended DATETIME NOT NULL,
		peak_output_power REAL NOT NULL,
		average_efficiency REAL NOT NULL,
		verdict TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS entries (
		session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		seq INTEGER NOT NULL,
		offset_ms INTEGER NOT NULL,
		type TEXT NOT NULL,
		description TEXT NOT NULL,
		input_power REAL NOT NULL,
		output_power REAL NOT NULL,
		irradiance REAL NOT NULL,
		curve TEXT, -- JSON curve snapshot
		PRIMARY KEY (session_id, seq)
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_started ON sessions(started);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *Store) prepareStatements() error {
	statements := map[string]string{
		"insert_session": `
			INSERT INTO sessions (id, started, ended, peak_output_power, average_efficiency, verdict)
			VALUES (?, ?, ?, ?, ?, ?)
		`,
		"insert_entry": `
			INSERT INTO entries (session_id, seq, offset_ms, type, description, input_power, output_power, irradiance, curve)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
		"select_sessions": `
			SELECT id, started, ended, peak_output_power, average_efficiency, verdict
			FROM sessions ORDER BY started DESC LIMIT ?
		`,
		"select_session": `
			SELECT started, ended FROM sessions WHERE id = ?
		`,
		"select_entries": `
			SELECT offset_ms, type, description, input_power, output_power, irradiance, curve
			FROM entries WHERE session_id = ? ORDER BY seq ASC
		`,
	}
	for name, query := range statements {
		stmt, err := s.db.Prepare(query)
		if err != nil {
			return fmt.Errorf("failed to prepare statement %s: %w", name, err)
		}
		s.prepared[name] = stmt
	}
	return nil
}

// Report archives a finished session and all of its entries in one transaction.
func (s *Store) Report(ctx context.Context, sess recorder.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	sum := report.Summarize(sess)
	if _, err := tx.StmtContext(ctx, s.prepared["insert_session"]).ExecContext(ctx,
		sess.ID.String(), sess.Started.UTC(), sess.Ended.UTC(), sum.PeakOutputPower, sum.AverageEfficiency, string(sum.Verdict),
	); err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}

	insert := tx.StmtContext(ctx, s.prepared["insert_entry"])
	for i, e := range sess.Entries {
		var curve sql.NullString
		if e.Curve != nil {
			b, err := json.Marshal(e.Curve)
			if err != nil {
				return fmt.Errorf("failed to marshal curve: %w", err)
			}
			curve = sql.NullString{String: string(b), Valid: true}
		}
		if _, err := insert.ExecContext(ctx,
			sess.ID.String(), i, e.Offset.Milliseconds(), e.Type, e.Description,
			e.Metrics.InputPower, e.Metrics.OutputPower, e.Metrics.Irradiance, curve,
		); err != nil {
			return fmt.Errorf("failed to insert entry %d: %w", i, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit session: %w", err)
	}
	klog.V(2).InfoS("Session archived", "session", sess.ID, "entries", len(sess.Entries))
	return nil
}

// Sessions lists the most recent archived sessions, newest first.
func (s *Store) Sessions(ctx context.Context, limit int) ([]SessionInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.prepared["select_sessions"].QueryContext(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionInfo
	for rows.Next() {
		var (
			info    SessionInfo
			id      string
			verdict string
		)
		if err := rows.Scan(&id, &info.Started, &info.Ended, &info.Summary.PeakOutputPower, &info.Summary.AverageEfficiency, &verdict); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		if info.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("invalid session id %q: %w", id, err)
		}
		info.Summary.Verdict = report.Verdict(verdict)
		out = append(out, info)
	}
	return out, rows.Err()
}

// Session loads one archived session with its entries.
func (s *Store) Session(ctx context.Context, id uuid.UUID) (recorder.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess := recorder.Session{ID: id}
	err := s.prepared["select_session"].QueryRowContext(ctx, id.String()).Scan(&sess.Started, &sess.Ended)
	if errors.Is(err, sql.ErrNoRows) {
		return recorder.Session{}, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if err != nil {
		return recorder.Session{}, fmt.Errorf("failed to query session: %w", err)
	}

	rows, err := s.prepared["select_entries"].QueryContext(ctx, id.String())
	if err != nil {
		return recorder.Session{}, fmt.Errorf("failed to query entries: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			e        recorder.Entry
			offsetMS int64
			curve    sql.NullString
		)
		if err := rows.Scan(&offsetMS, &e.Type, &e.Description, &e.Metrics.InputPower, &e.Metrics.OutputPower, &e.Metrics.Irradiance, &curve); err != nil {
			return recorder.Session{}, fmt.Errorf("failed to scan entry: %w", err)
		}
		e.Offset = time.Duration(offsetMS) * time.Millisecond
		if curve.Valid {
			e.Curve = &pv.CurveSnapshot{}
			if err := json.Unmarshal([]byte(curve.String), e.Curve); err != nil {
				return recorder.Session{}, fmt.Errorf("failed to decode curve: %w", err)
			}
		}
		sess.Entries = append(sess.Entries, e)
	}
	return sess, rows.Err()
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, stmt := range s.prepared {
		stmt.Close()
	}
	return s.db.Close()
}
