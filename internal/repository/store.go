package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-engine/internal/config"
	"github.com/stemsi/exstem-engine/internal/database"
	"github.com/stemsi/exstem-engine/internal/model"
)

// AttemptStore is the method set both attempt backends share.
type AttemptStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.Attempt, error)
	FindByUserAndTest(ctx context.Context, userID string, testID uuid.UUID) (*model.Attempt, error)
	Create(ctx context.Context, a *model.Attempt) error
	Save(ctx context.Context, a *model.Attempt) error
	UpdateRankings(ctx context.Context, rankings []model.AttemptRanking) error
	Leaderboard(ctx context.Context, testID uuid.UUID, limit int) ([]model.LeaderboardEntry, error)
}

// TestStore is the method set both test paper backends share.
type TestStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.TestPaper, error)
	UpsertTest(ctx context.Context, t *model.TestPaper) error
	ListPublishedIDs(ctx context.Context) ([]uuid.UUID, error)
	HasEnrollment(ctx context.Context, userID string, testID uuid.UUID) (bool, error)
	Enroll(ctx context.Context, userID string, testID uuid.UUID) error
}

var (
	_ AttemptStore = (*AttemptRepository)(nil)
	_ AttemptStore = (*SQLiteAttemptRepository)(nil)
	_ TestStore    = (*TestRepository)(nil)
	_ TestStore    = (*SQLiteTestRepository)(nil)
)

// Stores is the opened persistence backend selected by STORE_DRIVER.
type Stores struct {
	Driver   string
	Attempts AttemptStore
	Tests    TestStore
	Ping     func(ctx context.Context) error
	Close    func()
}

// Open connects the configured backend. Postgres schema is owned by
// migrations; the SQLite schema bootstraps itself.
func Open(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*Stores, error) {
	switch cfg.StoreDriver {
	case config.StoreDriverPostgres:
		pool, err := database.NewPostgresPool(ctx, cfg, log)
		if err != nil {
			return nil, err
		}
		return &Stores{
			Driver:   cfg.StoreDriver,
			Attempts: NewAttemptRepository(pool),
			Tests:    NewTestRepository(pool),
			Ping:     pool.Ping,
			Close:    pool.Close,
		}, nil

	case config.StoreDriverSQLite:
		db, err := database.OpenSQLite(ctx, cfg.SQLitePath, log)
		if err != nil {
			return nil, err
		}
		s, err := NewSQLiteStore(ctx, db)
		if err != nil {
			db.Close()
			return nil, err
		}
		return &Stores{
			Driver:   cfg.StoreDriver,
			Attempts: s.Attempts(),
			Tests:    s.Tests(),
			Ping:     db.PingContext,
			Close:    func() { db.Close() },
		}, nil
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
}
