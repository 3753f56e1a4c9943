package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-engine/internal/config"
	"github.com/stemsi/exstem-engine/internal/model"
	"github.com/stemsi/exstem-engine/internal/repository"
)

// TestStore is the persistent side of test papers.
type TestStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.TestPaper, error)
	UpsertTest(ctx context.Context, t *model.TestPaper) error
	ListPublishedIDs(ctx context.Context) ([]uuid.UUID, error)
	HasEnrollment(ctx context.Context, userID string, testID uuid.UUID) (bool, error)
	Enroll(ctx context.Context, userID string, testID uuid.UUID) error
}

// TestService serves read-only test papers, caching them in Redis when a
// client is configured.
type TestService struct {
	store TestStore
	rdb   *redis.Client
	ttl   time.Duration
	log   zerolog.Logger
}

// NewTestService creates a new TestService. rdb may be nil.
func NewTestService(store TestStore, rdb *redis.Client, ttl time.Duration, log zerolog.Logger) *TestService {
	return &TestService{
		store: store,
		rdb:   rdb,
		ttl:   ttl,
		log:   log.With().Str("component", "test_service").Logger(),
	}
}

// GetTest returns a test paper, from cache when possible. A cache miss or a
// broken cache entry falls back to the store and re-warms the cache.
func (s *TestService) GetTest(ctx context.Context, id uuid.UUID) (*model.TestPaper, error) {
	if s.rdb != nil {
		data, err := s.rdb.Get(ctx, config.CacheKey.TestPaperKey(id.String())).Bytes()
		switch {
		case err == nil:
			var t model.TestPaper
			if err := json.Unmarshal(data, &t); err == nil {
				return &t, nil
			}
			s.log.Warn().Str("test_id", id.String()).Msg("Corrupt test cache entry, reloading")
		case !errors.Is(err, redis.Nil):
			s.log.Warn().Err(err).Str("test_id", id.String()).Msg("Test cache read failed")
		}
	}

	t, err := s.store.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get test: %w", err)
	}

	// Self-heal
	if err := s.warm(ctx, t); err != nil {
		s.log.Warn().Err(err).Str("test_id", id.String()).Msg("Failed to re-warm test cache")
	}
	return t, nil
}

// HasEnrollment reports whether the user may start an enrolled-only test.
func (s *TestService) HasEnrollment(ctx context.Context, userID string, testID uuid.UUID) (bool, error) {
	return s.store.HasEnrollment(ctx, userID, testID)
}

// Enroll grants a user access to an enrolled-only test.
func (s *TestService) Enroll(ctx context.Context, userID string, testID uuid.UUID) error {
	return s.store.Enroll(ctx, userID, testID)
}

// ImportTest validates and stores a test paper, then refreshes its cache
// entry. Questions carrying a section tag are added to that section first.
func (s *TestService) ImportTest(ctx context.Context, t *model.TestPaper) error {
	t.AssignTaggedQuestions()
	if err := t.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrValidation, err)
	}
	if err := s.store.UpsertTest(ctx, t); err != nil {
		if errors.Is(err, repository.ErrTestInUse) {
			return ErrInvalidState
		}
		return fmt.Errorf("store test: %w", err)
	}
	if err := s.warm(ctx, t); err != nil {
		s.log.Warn().Err(err).Str("test_id", t.ID.String()).Msg("Failed to warm test cache")
	}
	s.log.Info().
		Str("test_id", t.ID.String()).
		Int("sections", len(t.Sections)).
		Int("questions", len(t.Questions)).
		Msg("Test imported")
	return nil
}

func (s *TestService) warm(ctx context.Context, t *model.TestPaper) error {
	if s.rdb == nil {
		return nil
	}
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal test: %w", err)
	}
	return s.rdb.Set(ctx, config.CacheKey.TestPaperKey(t.ID.String()), data, s.ttl).Err()
}

// PrewarmAllCaches loads all published tests into Redis on application startup.
func (s *TestService) PrewarmAllCaches(ctx context.Context) error {
	if s.rdb == nil {
		return nil
	}
	ids, err := s.store.ListPublishedIDs(ctx)
	if err != nil {
		return fmt.Errorf("list published tests: %w", err)
	}
	if len(ids) == 0 {
		s.log.Info().Msg("No published tests to prewarm")
		return nil
	}

	s.log.Info().Int("count", len(ids)).Msg("Prewarming published tests...")

	pipe := s.rdb.Pipeline()
	queued := 0
	for _, id := range ids {
		t, err := s.store.GetByID(ctx, id)
		if err != nil {
			s.log.Warn().Err(err).Str("test_id", id.String()).Msg("Failed to load test, skipping")
			continue
		}
		if err := t.Validate(); err != nil {
			s.log.Warn().Err(err).Str("test_id", id.String()).Msg("Published test is invalid, skipping")
			continue
		}
		data, err := json.Marshal(t)
		if err != nil {
			continue
		}
		pipe.Set(ctx, config.CacheKey.TestPaperKey(id.String()), data, s.ttl)
		queued++
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cache to redis: %w", err)
	}

	s.log.Info().
		Int("warmed", queued).
		Int("total", len(ids)).
		Msg("Prewarming complete")
	return nil
}
