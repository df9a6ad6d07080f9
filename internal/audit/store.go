package audit

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/Dicklesworthstone/council/internal/council"
)

// Store archives terminal session records in sqlite. Stage artifacts are
// stored as JSON columns; the engine never reads them back, only hosts
// and the REST session endpoints do.
type Store struct {
	db *sql.DB
}

// NewStore opens (or creates) the session archive at path.
func NewStore(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create audit db dir: %w", err)
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}
	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`CREATE TABLE IF NOT EXISTS council_sessions (
			id TEXT PRIMARY KEY,
			query TEXT NOT NULL,
			state TEXT NOT NULL,
			error TEXT NOT NULL DEFAULT '',
			error_code TEXT NOT NULL DEFAULT '',
			responses_json TEXT NOT NULL DEFAULT '[]',
			reviews_json TEXT NOT NULL DEFAULT '[]',
			ranking_json TEXT NOT NULL DEFAULT '[]',
			synthesis_json TEXT NOT NULL DEFAULT '',
			started_at TEXT NOT NULL,
			completed_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_council_sessions_started ON council_sessions(started_at DESC);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("init audit schema: %w", err)
		}
	}
	return nil
}

// RecordEvent is a no-op; the Store archives terminal records only.
// Stage events go to the JSONL Logger.
func (s *Store) RecordEvent(council.AuditEvent) {}

// RecordSession upserts the terminal session record. Failures are logged
// and swallowed, per the fire-and-forget sink contract.
func (s *Store) RecordSession(record *council.SessionRecord) {
	if record == nil {
		return
	}
	if err := s.writeSession(record); err != nil {
		slog.Warn("audit store write failed", "session", record.ID, "error", err)
	}
}

func (s *Store) writeSession(record *council.SessionRecord) error {
	responses, err := json.Marshal(record.Responses)
	if err != nil {
		return err
	}
	reviews, err := json.Marshal(record.Reviews)
	if err != nil {
		return err
	}
	ranking, err := json.Marshal(record.Ranking)
	if err != nil {
		return err
	}
	synthesis := ""
	if record.Synthesis != nil {
		data, err := json.Marshal(record.Synthesis)
		if err != nil {
			return err
		}
		synthesis = string(data)
	}

	_, err = s.db.Exec(
		`INSERT INTO council_sessions(id,query,state,error,error_code,responses_json,reviews_json,ranking_json,synthesis_json,started_at,completed_at)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET
		   state=excluded.state,
		   error=excluded.error,
		   error_code=excluded.error_code,
		   responses_json=excluded.responses_json,
		   reviews_json=excluded.reviews_json,
		   ranking_json=excluded.ranking_json,
		   synthesis_json=excluded.synthesis_json,
		   completed_at=excluded.completed_at`,
		record.ID,
		record.Query,
		record.State.String(),
		record.Error,
		record.ErrorCode,
		string(responses),
		string(reviews),
		string(ranking),
		synthesis,
		record.StartedAt.UTC().Format(time.RFC3339Nano),
		record.Completed.UTC().Format(time.RFC3339Nano),
	)
	return err
}

// SessionSummary is one row of the session list.
type SessionSummary struct {
	ID        string    `json:"id"`
	Query     string    `json:"query"`
	State     string    `json:"state"`
	ErrorCode string    `json:"error_code,omitempty"`
	StartedAt time.Time `json:"started_at"`
	Completed time.Time `json:"completed_at"`
}

// ListSessions returns the most recent sessions, newest first.
func (s *Store) ListSessions(limit int) ([]SessionSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(
		`SELECT id, query, state, error_code, started_at, completed_at
		 FROM council_sessions ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []SessionSummary{}
	for rows.Next() {
		var item SessionSummary
		var started, completed string
		if err := rows.Scan(&item.ID, &item.Query, &item.State, &item.ErrorCode, &started, &completed); err != nil {
			return nil, err
		}
		item.StartedAt = parseTimeOrZero(started)
		item.Completed = parseTimeOrZero(completed)
		out = append(out, item)
	}
	return out, rows.Err()
}

// LoadSession loads one archived session by id.
func (s *Store) LoadSession(id string) (*council.SessionRecord, error) {
	var record council.SessionRecord
	var state, responses, reviews, ranking, synthesis, started, completed string

	err := s.db.QueryRow(
		`SELECT id, query, state, error, error_code, responses_json, reviews_json, ranking_json, synthesis_json, started_at, completed_at
		 FROM council_sessions WHERE id=?`, id,
	).Scan(&record.ID, &record.Query, &state, &record.Error, &record.ErrorCode,
		&responses, &reviews, &ranking, &synthesis, &started, &completed)
	if err != nil {
		return nil, err
	}

	record.State = council.SessionState(state)
	record.StartedAt = parseTimeOrZero(started)
	record.Completed = parseTimeOrZero(completed)

	if err := json.Unmarshal([]byte(responses), &record.Responses); err != nil {
		return nil, fmt.Errorf("decode responses for %s: %w", id, err)
	}
	if err := json.Unmarshal([]byte(reviews), &record.Reviews); err != nil {
		return nil, fmt.Errorf("decode reviews for %s: %w", id, err)
	}
	if err := json.Unmarshal([]byte(ranking), &record.Ranking); err != nil {
		return nil, fmt.Errorf("decode ranking for %s: %w", id, err)
	}
	if synthesis != "" {
		record.Synthesis = &council.SynthesisResult{}
		if err := json.Unmarshal([]byte(synthesis), record.Synthesis); err != nil {
			return nil, fmt.Errorf("decode synthesis for %s: %w", id, err)
		}
	}

	return &record, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func parseTimeOrZero(input string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, input)
	if err != nil {
		return time.Time{}
	}
	return t
}
