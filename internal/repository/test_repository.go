package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-engine/internal/model"
)

// TestRepository handles test paper data access on PostgreSQL.
type TestRepository struct {
	pool *pgxpool.Pool
}

// NewTestRepository creates a new TestRepository.
func NewTestRepository(pool *pgxpool.Pool) *TestRepository {
	return &TestRepository{pool: pool}
}

// GetByID retrieves a test paper with its sections and questions.
func (r *TestRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.TestPaper, error) {
	t := &model.TestPaper{}
	var instructions, sections []byte
	err := r.pool.QueryRow(ctx,
		`SELECT id, series_id, title, status, access, entry_code_hash,
		        instructions, sections, created_at, updated_at
		 FROM tests WHERE id = $1`, id,
	).Scan(&t.ID, &t.SeriesID, &t.Title, &t.Status, &t.Access, &t.EntryCodeHash,
		&instructions, &sections, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(instructions, &t.Instructions); err != nil {
		return nil, fmt.Errorf("decode instructions: %w", err)
	}
	if err := json.Unmarshal(sections, &t.Sections); err != nil {
		return nil, fmt.Errorf("decode sections: %w", err)
	}

	rows, err := r.pool.Query(ctx,
		`SELECT id, section_key, question_type, question_text, options, answer,
		        marks_positive, marks_negative, explanation, order_num
		 FROM questions WHERE test_id = $1
		 ORDER BY order_num`, id,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			q      model.Question
			answer []byte
		)
		if err := rows.Scan(&q.ID, &q.SectionKey, &q.QuestionType, &q.QuestionText, &q.Options, &answer,
			&q.Marks.Positive, &q.Marks.Negative, &q.Explanation, &q.OrderNum); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(answer, &q.Answer); err != nil {
			return nil, fmt.Errorf("decode answer key of %s: %w", q.ID, err)
		}
		t.Questions = append(t.Questions, q)
	}
	return t, rows.Err()
}

// UpsertTest writes a test paper and replaces its questions in one
// transaction. A test that already has attempts is immutable.
func (r *TestRepository) UpsertTest(ctx context.Context, t *model.TestPaper) error {
	instructions, err := json.Marshal(t.Instructions)
	if err != nil {
		return err
	}
	sections, err := json.Marshal(t.Sections)
	if err != nil {
		return err
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var inUse bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM attempts WHERE test_id = $1)`, t.ID).Scan(&inUse); err != nil {
		return err
	}
	if inUse {
		return ErrTestInUse
	}

	now := time.Now().UTC()
	if err := tx.QueryRow(ctx,
		`INSERT INTO tests (id, series_id, title, status, access, entry_code_hash, instructions, sections, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
		 ON CONFLICT (id) DO UPDATE
		 SET series_id = EXCLUDED.series_id, title = EXCLUDED.title, status = EXCLUDED.status,
		     access = EXCLUDED.access, entry_code_hash = EXCLUDED.entry_code_hash,
		     instructions = EXCLUDED.instructions, sections = EXCLUDED.sections,
		     updated_at = EXCLUDED.updated_at
		 RETURNING created_at, updated_at`,
		t.ID, t.SeriesID, t.Title, t.Status, t.Access, t.EntryCodeHash, instructions, sections, now,
	).Scan(&t.CreatedAt, &t.UpdatedAt); err != nil {
		return fmt.Errorf("upsert test: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM questions WHERE test_id = $1`, t.ID); err != nil {
		return err
	}

	rows := make([][]any, 0, len(t.Questions))
	for _, q := range t.Questions {
		answer, err := json.Marshal(q.Answer)
		if err != nil {
			return err
		}
		options := q.Options
		if len(options) == 0 {
			options = json.RawMessage("null")
		}
		rows = append(rows, []any{
			q.ID, t.ID, q.SectionKey, string(q.QuestionType), q.QuestionText, string(options), string(answer),
			q.Marks.Positive, q.Marks.Negative, q.Explanation, int32(q.OrderNum),
		})
	}
	if _, err := tx.CopyFrom(ctx,
		pgx.Identifier{"questions"},
		[]string{"id", "test_id", "section_key", "question_type", "question_text", "options", "answer",
			"marks_positive", "marks_negative", "explanation", "order_num"},
		pgx.CopyFromRows(rows),
	); err != nil {
		return fmt.Errorf("copy questions: %w", err)
	}

	return tx.Commit(ctx)
}

// ListPublishedIDs returns the ids of every published test.
func (r *TestRepository) ListPublishedIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM tests WHERE status = $1`, model.TestStatusPublished)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// HasEnrollment reports whether the user is enrolled for the test.
func (r *TestRepository) HasEnrollment(ctx context.Context, userID string, testID uuid.UUID) (bool, error) {
	var ok bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM enrollments WHERE user_id = $1 AND test_id = $2)`,
		userID, testID,
	).Scan(&ok)
	return ok, err
}

// Enroll grants a user access to an enrolled-only test. Idempotent.
func (r *TestRepository) Enroll(ctx context.Context, userID string, testID uuid.UUID) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO enrollments (user_id, test_id) VALUES ($1, $2)
		 ON CONFLICT DO NOTHING`, userID, testID)
	return err
}
