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

// AttemptRepository handles attempt data access on PostgreSQL.
type AttemptRepository struct {
	pool *pgxpool.Pool
}

// NewAttemptRepository creates a new AttemptRepository.
func NewAttemptRepository(pool *pgxpool.Pool) *AttemptRepository {
	return &AttemptRepository{pool: pool}
}

const attemptColumns = `id, user_id, test_id, series_id, status,
	current_section_key, current_section_index, current_question_index,
	section_states, responses, result,
	total_score, max_score, time_taken_seconds, rank, percentile,
	started_at, submitted_at, version, created_at, updated_at`

func scanAttempt(row pgx.Row) (*model.Attempt, error) {
	var (
		a                       model.Attempt
		sections, resps, result []byte
	)
	err := row.Scan(&a.ID, &a.UserID, &a.TestID, &a.SeriesID, &a.Status,
		&a.CurrentSectionKey, &a.CurrentSectionIndex, &a.CurrentQuestionIndex,
		&sections, &resps, &result,
		&a.TotalScore, &a.MaxScore, &a.TimeTakenSeconds, &a.Rank, &a.Percentile,
		&a.StartedAt, &a.SubmittedAt, &a.Version, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if err := decodeAttemptDocs(&a, sections, resps, result); err != nil {
		return nil, err
	}
	return &a, nil
}

// GetByID retrieves an attempt by its UUID.
func (r *AttemptRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Attempt, error) {
	return scanAttempt(r.pool.QueryRow(ctx,
		`SELECT `+attemptColumns+` FROM attempts WHERE id = $1`, id))
}

// FindByUserAndTest retrieves the attempt a user holds on a test.
func (r *AttemptRepository) FindByUserAndTest(ctx context.Context, userID string, testID uuid.UUID) (*model.Attempt, error) {
	return scanAttempt(r.pool.QueryRow(ctx,
		`SELECT `+attemptColumns+` FROM attempts WHERE user_id = $1 AND test_id = $2`, userID, testID))
}

// Create inserts a new attempt. A user holds at most one attempt per test;
// losing that race returns ErrDuplicate and the caller re-reads.
func (r *AttemptRepository) Create(ctx context.Context, a *model.Attempt) error {
	sections, resps, result, err := encodeAttemptDocs(a)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	a.Version = 1
	a.CreatedAt, a.UpdatedAt = now, now

	tag, err := r.pool.Exec(ctx,
		`INSERT INTO attempts (`+attemptColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
		 ON CONFLICT (user_id, test_id) DO NOTHING`,
		a.ID, a.UserID, a.TestID, a.SeriesID, a.Status,
		a.CurrentSectionKey, a.CurrentSectionIndex, a.CurrentQuestionIndex,
		sections, resps, result,
		a.TotalScore, a.MaxScore, a.TimeTakenSeconds, a.Rank, a.Percentile,
		a.StartedAt, a.SubmittedAt, a.Version, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert attempt: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDuplicate
	}
	return nil
}

// Save writes the attempt back if nobody else saved it since it was read.
// On success the in-memory version is bumped to match the row.
func (r *AttemptRepository) Save(ctx context.Context, a *model.Attempt) error {
	sections, resps, result, err := encodeAttemptDocs(a)
	if err != nil {
		return err
	}
	now := time.Now().UTC()

	tag, err := r.pool.Exec(ctx,
		`UPDATE attempts
		 SET status = $3,
		     current_section_key = $4, current_section_index = $5, current_question_index = $6,
		     section_states = $7, responses = $8, result = $9,
		     total_score = $10, max_score = $11, time_taken_seconds = $12,
		     submitted_at = $13, version = version + 1, updated_at = $14
		 WHERE id = $1 AND version = $2`,
		a.ID, a.Version, a.Status,
		a.CurrentSectionKey, a.CurrentSectionIndex, a.CurrentQuestionIndex,
		sections, resps, result,
		a.TotalScore, a.MaxScore, a.TimeTakenSeconds,
		a.SubmittedAt, now)
	if err != nil {
		return fmt.Errorf("update attempt: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM attempts WHERE id = $1)`, a.ID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrNotFound
		}
		return ErrVersionConflict
	}
	a.Version++
	a.UpdatedAt = now
	return nil
}

// UpdateRankings writes rank and percentile for a batch of finalized
// attempts. These columns belong to the ranking worker and are the only ones
// written after finalization, so the version is left alone.
func (r *AttemptRepository) UpdateRankings(ctx context.Context, rankings []model.AttemptRanking) error {
	if len(rankings) == 0 {
		return nil
	}
	ids := make([]uuid.UUID, len(rankings))
	ranks := make([]int32, len(rankings))
	percentiles := make([]float64, len(rankings))
	for i, rk := range rankings {
		ids[i] = rk.AttemptID
		ranks[i] = int32(rk.Rank)
		percentiles[i] = rk.Percentile
	}

	_, err := r.pool.Exec(ctx, `
		UPDATE attempts AS a
		SET rank = t.rank,
		    percentile = t.percentile
		FROM (
			SELECT u.id, u.rank, u.percentile
			FROM UNNEST($1::uuid[], $2::int[], $3::float8[]) AS u (id, rank, percentile)
		) AS t
		WHERE a.id = t.id
		  AND a.status IN ('COMPLETED', 'EXPIRED')`,
		ids, ranks, percentiles)
	return err
}

// Leaderboard lists the top finalized attempts of a test by score, ties
// broken by time taken.
func (r *AttemptRepository) Leaderboard(ctx context.Context, testID uuid.UUID, limit int) ([]model.LeaderboardEntry, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, user_id, total_score
		 FROM attempts
		 WHERE test_id = $1 AND status IN ('COMPLETED', 'EXPIRED')
		 ORDER BY total_score DESC, time_taken_seconds ASC
		 LIMIT $2`, testID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.LeaderboardEntry
	for rows.Next() {
		var e model.LeaderboardEntry
		if err := rows.Scan(&e.AttemptID, &e.UserID, &e.TotalScore); err != nil {
			return nil, err
		}
		e.Rank = len(out) + 1
		out = append(out, e)
	}
	return out, rows.Err()
}

func encodeAttemptDocs(a *model.Attempt) (sections, resps, result []byte, err error) {
	if sections, err = json.Marshal(a.Sections); err != nil {
		return nil, nil, nil, fmt.Errorf("encode section states: %w", err)
	}
	responses := a.Responses
	if responses == nil {
		responses = []model.Response{}
	}
	if resps, err = json.Marshal(responses); err != nil {
		return nil, nil, nil, fmt.Errorf("encode responses: %w", err)
	}
	if a.Result != nil {
		if result, err = json.Marshal(a.Result); err != nil {
			return nil, nil, nil, fmt.Errorf("encode result: %w", err)
		}
	}
	return sections, resps, result, nil
}

func decodeAttemptDocs(a *model.Attempt, sections, resps, result []byte) error {
	if err := json.Unmarshal(sections, &a.Sections); err != nil {
		return fmt.Errorf("decode section states: %w", err)
	}
	if err := json.Unmarshal(resps, &a.Responses); err != nil {
		return fmt.Errorf("decode responses: %w", err)
	}
	if len(result) > 0 {
		a.Result = &model.Result{}
		if err := json.Unmarshal(result, a.Result); err != nil {
			return fmt.Errorf("decode result: %w", err)
		}
	}
	return nil
}
