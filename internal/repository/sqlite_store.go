package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-engine/internal/model"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// isUniqueViolation reports a UNIQUE or PRIMARY KEY constraint failure.
func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return true
	}
	return false
}

// SQLiteStore keeps tests and attempts as JSON documents in an embedded
// SQLite database. Only the columns needed for lookups and ordering are
// broken out of the document.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore bootstraps the schema on db.
func NewSQLiteStore(ctx context.Context, db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.migrate(ctx); err != nil {
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS tests (
			id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			doc TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS enrollments (
			user_id TEXT NOT NULL,
			test_id TEXT NOT NULL,
			PRIMARY KEY (user_id, test_id)
		);`,
		`CREATE TABLE IF NOT EXISTS attempts (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			test_id TEXT NOT NULL,
			status TEXT NOT NULL,
			total_score REAL NOT NULL DEFAULT 0,
			time_taken_seconds INTEGER NOT NULL DEFAULT 0,
			rank INTEGER,
			percentile REAL,
			version INTEGER NOT NULL,
			doc TEXT NOT NULL,
			UNIQUE (user_id, test_id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_attempts_test_score ON attempts(test_id, total_score);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// Attempts returns the attempt store view.
func (s *SQLiteStore) Attempts() *SQLiteAttemptRepository { return &SQLiteAttemptRepository{db: s.db} }

// Tests returns the test paper store view.
func (s *SQLiteStore) Tests() *SQLiteTestRepository { return &SQLiteTestRepository{db: s.db} }

// ─── Attempts ────────────────────────────────────────────────────────

// SQLiteAttemptRepository is the SQLite counterpart of AttemptRepository.
type SQLiteAttemptRepository struct {
	db *sql.DB
}

func scanAttemptDoc(row *sql.Row) (*model.Attempt, error) {
	var (
		doc        string
		rank       sql.NullInt64
		percentile sql.NullFloat64
		version    int
	)
	if err := row.Scan(&doc, &rank, &percentile, &version); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	a := &model.Attempt{}
	if err := json.Unmarshal([]byte(doc), a); err != nil {
		return nil, fmt.Errorf("decode attempt: %w", err)
	}
	a.Version = version
	a.Rank, a.Percentile = nil, nil
	if rank.Valid {
		r := int(rank.Int64)
		a.Rank = &r
	}
	if percentile.Valid {
		p := percentile.Float64
		a.Percentile = &p
	}
	return a, nil
}

// GetByID retrieves an attempt by its UUID.
func (r *SQLiteAttemptRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Attempt, error) {
	return scanAttemptDoc(r.db.QueryRowContext(ctx,
		`SELECT doc, rank, percentile, version FROM attempts WHERE id = ?`, id.String()))
}

// FindByUserAndTest retrieves the attempt a user holds on a test.
func (r *SQLiteAttemptRepository) FindByUserAndTest(ctx context.Context, userID string, testID uuid.UUID) (*model.Attempt, error) {
	return scanAttemptDoc(r.db.QueryRowContext(ctx,
		`SELECT doc, rank, percentile, version FROM attempts WHERE user_id = ? AND test_id = ?`,
		userID, testID.String()))
}

// Create inserts a new attempt, ErrDuplicate if the user already holds one
// on the test.
func (r *SQLiteAttemptRepository) Create(ctx context.Context, a *model.Attempt) error {
	now := time.Now().UTC()
	a.Version = 1
	a.CreatedAt, a.UpdatedAt = now, now
	doc, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encode attempt: %w", err)
	}

	res, err := r.db.ExecContext(ctx,
		`INSERT INTO attempts (id, user_id, test_id, status, total_score, time_taken_seconds, version, doc)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (user_id, test_id) DO NOTHING`,
		a.ID.String(), a.UserID, a.TestID.String(), string(a.Status), a.TotalScore, a.TimeTakenSeconds, a.Version, string(doc))
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert attempt: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrDuplicate
	}
	return nil
}

// Save writes the attempt back under the optimistic version check.
func (r *SQLiteAttemptRepository) Save(ctx context.Context, a *model.Attempt) error {
	next := *a
	next.Version = a.Version + 1
	next.UpdatedAt = time.Now().UTC()
	doc, err := json.Marshal(&next)
	if err != nil {
		return fmt.Errorf("encode attempt: %w", err)
	}

	res, err := r.db.ExecContext(ctx,
		`UPDATE attempts
		 SET status = ?, total_score = ?, time_taken_seconds = ?, version = ?, doc = ?
		 WHERE id = ? AND version = ?`,
		string(a.Status), a.TotalScore, a.TimeTakenSeconds, next.Version, string(doc),
		a.ID.String(), a.Version)
	if err != nil {
		return fmt.Errorf("update attempt: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var exists int
		err := r.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM attempts WHERE id = ?`, a.ID.String()).Scan(&exists)
		if err != nil {
			return err
		}
		if exists == 0 {
			return ErrNotFound
		}
		return ErrVersionConflict
	}
	a.Version = next.Version
	a.UpdatedAt = next.UpdatedAt
	return nil
}

// UpdateRankings writes rank and percentile for finalized attempts.
func (r *SQLiteAttemptRepository) UpdateRankings(ctx context.Context, rankings []model.AttemptRanking) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`UPDATE attempts SET rank = ?, percentile = ?
		 WHERE id = ? AND status IN ('COMPLETED', 'EXPIRED')`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, rk := range rankings {
		if _, err := stmt.ExecContext(ctx, rk.Rank, rk.Percentile, rk.AttemptID.String()); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Leaderboard lists the top finalized attempts of a test by score.
func (r *SQLiteAttemptRepository) Leaderboard(ctx context.Context, testID uuid.UUID, limit int) ([]model.LeaderboardEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, total_score FROM attempts
		 WHERE test_id = ? AND status IN ('COMPLETED', 'EXPIRED')
		 ORDER BY total_score DESC, time_taken_seconds ASC
		 LIMIT ?`, testID.String(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.LeaderboardEntry
	for rows.Next() {
		var (
			e  model.LeaderboardEntry
			id string
		)
		if err := rows.Scan(&id, &e.UserID, &e.TotalScore); err != nil {
			return nil, err
		}
		if e.AttemptID, err = uuid.Parse(id); err != nil {
			return nil, err
		}
		e.Rank = len(out) + 1
		out = append(out, e)
	}
	return out, rows.Err()
}

// ─── Tests ───────────────────────────────────────────────────────────

// SQLiteTestRepository is the SQLite counterpart of TestRepository.
type SQLiteTestRepository struct {
	db *sql.DB
}

// GetByID retrieves a test paper.
func (r *SQLiteTestRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.TestPaper, error) {
	var doc string
	err := r.db.QueryRowContext(ctx, `SELECT doc FROM tests WHERE id = ?`, id.String()).Scan(&doc)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	t := &model.TestPaper{}
	if err := json.Unmarshal([]byte(doc), t); err != nil {
		return nil, fmt.Errorf("decode test: %w", err)
	}
	return t, nil
}

// UpsertTest writes a test paper. A test that already has attempts is immutable.
func (r *SQLiteTestRepository) UpsertTest(ctx context.Context, t *model.TestPaper) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var inUse int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM attempts WHERE test_id = ?`, t.ID.String()).Scan(&inUse); err != nil {
		return err
	}
	if inUse > 0 {
		return ErrTestInUse
	}

	now := time.Now().UTC()
	var prev string
	switch err := tx.QueryRowContext(ctx, `SELECT doc FROM tests WHERE id = ?`, t.ID.String()).Scan(&prev); {
	case errors.Is(err, sql.ErrNoRows):
		t.CreatedAt = now
	case err != nil:
		return err
	default:
		var old model.TestPaper
		if err := json.Unmarshal([]byte(prev), &old); err == nil {
			t.CreatedAt = old.CreatedAt
		}
	}
	t.UpdatedAt = now

	doc, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode test: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO tests (id, status, doc) VALUES (?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET status = excluded.status, doc = excluded.doc`,
		t.ID.String(), string(t.Status), string(doc)); err != nil {
		return fmt.Errorf("upsert test: %w", err)
	}
	return tx.Commit()
}

// ListPublishedIDs returns the ids of every published test.
func (r *SQLiteTestRepository) ListPublishedIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id FROM tests WHERE status = ?`, string(model.TestStatusPublished))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// HasEnrollment reports whether the user is enrolled for the test.
func (r *SQLiteTestRepository) HasEnrollment(ctx context.Context, userID string, testID uuid.UUID) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM enrollments WHERE user_id = ? AND test_id = ?`, userID, testID.String(),
	).Scan(&n)
	return n > 0, err
}

// Enroll grants a user access to an enrolled-only test. Idempotent.
func (r *SQLiteTestRepository) Enroll(ctx context.Context, userID string, testID uuid.UUID) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO enrollments (user_id, test_id) VALUES (?, ?) ON CONFLICT DO NOTHING`,
		userID, testID.String())
	return err
}
