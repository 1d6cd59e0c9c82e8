// Package state provides durable SQLite-backed storage for consensus verdicts.
package state

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/Dicoangelo/meta-vengine-sub001/internal/consensus"
)

// ErrNotFound is returned when a session has no stored verdict.
var ErrNotFound = errors.New("verdict not found")

// Store provides SQLite-backed storage for verdicts, keyed by session.
type Store struct {
	db   *sql.DB
	mu   sync.RWMutex
	path string
}

// Record is a stored verdict with its row identity.
type Record struct {
	ID        string             `json:"id"`
	UpdatedAt time.Time          `json:"updated_at"`
	Verdict   *consensus.Verdict `json:"verdict"`
}

// DefaultPath returns ~/.config/ace/state.db.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, ".config", "ace", "state.db"), nil
}

// Open opens or creates a SQLite database at the given path.
// If the path is empty, it defaults to DefaultPath. The special path
// ":memory:" opens a private in-memory database.
func Open(path string) (*Store, error) {
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}

	dsn := path
	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create state dir: %w", err)
		}
		dsn = fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=ON", path)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite only supports one writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Store{db: db, path: path}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Migrate applies all pending database migrations.
func (s *Store) Migrate() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return applyMigrations(s.db)
}

// SaveVerdict stores v, replacing any earlier verdict for the same session.
// The row ID survives replacement.
func (s *Store) SaveVerdict(v *consensus.Verdict) (*Record, error) {
	if v == nil || v.Session == "" {
		return nil, fmt.Errorf("save verdict: session is required")
	}

	payload, err := json.Marshal(v.Result)
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	ts := v.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	version := v.EngineVersion
	if version == "" {
		version = consensus.Version
	}
	now := time.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.Exec(`
		INSERT INTO verdicts (id, session_id, project, created_at, updated_at, engine_version,
			outcome, quality, dq_score, confidence, optimal_model, result_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			project = excluded.project,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at,
			engine_version = excluded.engine_version,
			outcome = excluded.outcome,
			quality = excluded.quality,
			dq_score = excluded.dq_score,
			confidence = excluded.confidence,
			optimal_model = excluded.optimal_model,
			result_json = excluded.result_json`,
		uuid.New().String(), v.Session, v.Project, ts, now, version,
		v.Result.Outcome, v.Result.Quality, v.Result.DQScore, v.Result.Confidence, v.Result.OptimalModel, string(payload),
	)
	if err != nil {
		return nil, fmt.Errorf("save verdict: %w", err)
	}

	return s.getLocked(v.Session)
}

// GetVerdict retrieves the verdict for a session. It returns nil, nil when
// the session has none.
func (s *Store) GetVerdict(session string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getLocked(session)
}

const selectVerdict = `
	SELECT id, session_id, COALESCE(project, ''), created_at, updated_at, engine_version, result_json
	FROM verdicts`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var (
		rec     Record
		v       consensus.Verdict
		payload string
	)
	if err := row.Scan(&rec.ID, &v.Session, &v.Project, &v.Timestamp, &rec.UpdatedAt, &v.EngineVersion, &payload); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(payload), &v.Result); err != nil {
		return nil, fmt.Errorf("decode result for %s: %w", v.Session, err)
	}
	rec.Verdict = &v
	return &rec, nil
}

func (s *Store) getLocked(session string) (*Record, error) {
	rec, err := scanRecord(s.db.QueryRow(selectVerdict+` WHERE session_id = ?`, session))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get verdict: %w", err)
	}
	return rec, nil
}

// ListVerdicts returns stored verdicts, newest first. A limit of 0 or less
// returns all of them.
func (s *Store) ListVerdicts(limit int) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := selectVerdict + ` ORDER BY created_at DESC, session_id`
	var (
		rows *sql.Rows
		err  error
	)
	if limit > 0 {
		rows, err = s.db.Query(query+` LIMIT ?`, limit)
	} else {
		rows, err = s.db.Query(query)
	}
	if err != nil {
		return nil, fmt.Errorf("list verdicts: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan verdict: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// OutcomeCounts returns the number of stored verdicts per outcome.
func (s *Store) OutcomeCounts() (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT outcome, COUNT(*) FROM verdicts GROUP BY outcome`)
	if err != nil {
		return nil, fmt.Errorf("count outcomes: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var (
			outcome string
			n       int
		)
		if err := rows.Scan(&outcome, &n); err != nil {
			return nil, fmt.Errorf("scan outcome count: %w", err)
		}
		counts[outcome] = n
	}
	return counts, rows.Err()
}

// Stats summarizes the stored verdicts.
type Stats struct {
	Total         int            `json:"total"`
	AvgDQScore    float64        `json:"avg_dq_score"`
	AvgConfidence float64        `json:"avg_confidence"`
	Outcomes      map[string]int `json:"outcomes"`
}

// Stats returns aggregate figures over all stored verdicts.
func (s *Store) Stats() (*Stats, error) {
	outcomes, err := s.OutcomeCounts()
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	st := &Stats{Outcomes: outcomes}
	err = s.db.QueryRow(`
		SELECT COUNT(*), COALESCE(AVG(dq_score), 0), COALESCE(AVG(confidence), 0)
		FROM verdicts`,
	).Scan(&st.Total, &st.AvgDQScore, &st.AvgConfidence)
	if err != nil {
		return nil, fmt.Errorf("verdict stats: %w", err)
	}
	return st, nil
}

// DeleteVerdict removes the verdict for a session.
func (s *Store) DeleteVerdict(session string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.Exec("DELETE FROM verdicts WHERE session_id = ?", session)
	if err != nil {
		return fmt.Errorf("delete verdict: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, session)
	}
	return nil
}
