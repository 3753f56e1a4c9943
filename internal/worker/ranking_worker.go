package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-engine/internal/config"
	"github.com/stemsi/exstem-engine/internal/model"
)

const (
	RankBatchSize    = 50
	RankBatchTimeout = 2 * time.Second
	RankPollTimeout  = 1 * time.Second
)

// RankingStore persists computed ranks.
type RankingStore interface {
	UpdateRankings(ctx context.Context, rankings []model.AttemptRanking) error
}

type rankPayload struct {
	AttemptID  string  `json:"attempt_id"`
	TestID     string  `json:"test_id"`
	TotalScore float64 `json:"total_score"`
}

// ----------------------------------------------------------------
// Producer
// ----------------------------------------------------------------

// RankingQueue enqueues finalized attempts for ranking.
type RankingQueue struct {
	rdb *redis.Client
}

// NewRankingQueue creates a RankingQueue.
func NewRankingQueue(rdb *redis.Client) *RankingQueue {
	return &RankingQueue{rdb: rdb}
}

// PublishResult queues a finalized attempt.
func (q *RankingQueue) PublishResult(ctx context.Context, a *model.Attempt) error {
	raw, err := json.Marshal(rankPayload{
		AttemptID:  a.ID.String(),
		TestID:     a.TestID.String(),
		TotalScore: a.TotalScore,
	})
	if err != nil {
		return err
	}
	return q.rdb.RPush(ctx, config.WorkerKey.RankAttemptsQueue, raw).Err()
}

// ----------------------------------------------------------------
// Worker loop with batching
// ----------------------------------------------------------------

// RankingWorker drains the ranking queue into per-test leaderboards and
// writes rank and percentile back to the attempts.
type RankingWorker struct {
	store RankingStore
	rdb   *redis.Client
	log   zerolog.Logger
}

// NewRankingWorker creates a RankingWorker.
func NewRankingWorker(store RankingStore, rdb *redis.Client, log zerolog.Logger) *RankingWorker {
	return &RankingWorker{
		store: store,
		rdb:   rdb,
		log:   log.With().Str("component", "ranking_worker").Logger(),
	}
}

func (w *RankingWorker) Start(ctx context.Context) {
	w.log.Info().Msg("RankingWorker started")

	batch := make([]*rankPayload, 0, RankBatchSize)
	lastFlush := time.Now()

	for {
		if len(batch) > 0 &&
			(len(batch) >= RankBatchSize || time.Since(lastFlush) >= RankBatchTimeout) {

			w.flushSafe(ctx, batch)
			batch = batch[:0]
			lastFlush = time.Now()
		}

		select {
		case <-ctx.Done():
			w.log.Info().Msg("Shutdown requested. Flushing remaining batch...")
			w.flushSafe(context.Background(), batch)
			return

		default:
			item, err := w.rdb.BLPop(ctx, RankPollTimeout, config.WorkerKey.RankAttemptsQueue).Result()
			if err != nil {
				if err != redis.Nil && ctx.Err() == nil {
					w.log.Error().Err(err).Msg("BLPop error")
				}
				continue
			}

			if len(item) < 2 {
				continue
			}

			var p rankPayload
			if err := json.Unmarshal([]byte(item[1]), &p); err != nil {
				w.log.Error().Err(err).Msg("Invalid JSON payload, moving to dead list")
				if err := w.rdb.RPush(ctx, config.WorkerKey.RankAttemptsDead, item[1]).Err(); err != nil {
					w.log.Error().Err(err).Msg("Dead list push failed")
				}
				continue
			}

			batch = append(batch, &p)
		}
	}
}

func (w *RankingWorker) flushSafe(ctx context.Context, batch []*rankPayload) {
	if len(batch) == 0 {
		return
	}

	if err := w.flush(ctx, batch); err != nil {
		w.log.Warn().Err(err).Int("size", len(batch)).Msg("Ranking batch failed, requeueing")

		pipe := w.rdb.Pipeline()
		for _, p := range batch {
			raw, _ := json.Marshal(p)
			pipe.RPush(ctx, config.WorkerKey.RankAttemptsQueue, raw)
		}
		if _, err := pipe.Exec(ctx); err != nil {
			w.log.Error().Err(err).Msg("Requeue failed")
		}
	}
}

// flush adds every score to its leaderboard first, then ranks every attempt
// of the touched tests so earlier ranks shift along with newcomers.
func (w *RankingWorker) flush(ctx context.Context, batch []*rankPayload) error {
	touched := make(map[string]struct{})
	pipe := w.rdb.Pipeline()
	for _, p := range batch {
		if _, err := uuid.Parse(p.AttemptID); err != nil {
			w.log.Error().Str("attempt_id", p.AttemptID).Msg("Dropping payload with bad attempt id")
			continue
		}
		pipe.ZAdd(ctx, config.CacheKey.TestLeaderboardKey(p.TestID), redis.Z{Score: p.TotalScore, Member: p.AttemptID})
		touched[p.TestID] = struct{}{}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("zadd: %w", err)
	}

	var rankings []model.AttemptRanking
	for testID := range touched {
		entries, err := w.rdb.ZRevRangeWithScores(ctx, config.CacheKey.TestLeaderboardKey(testID), 0, -1).Result()
		if err != nil {
			return fmt.Errorf("read leaderboard %s: %w", testID, err)
		}
		rankings = append(rankings, RankEntries(entries)...)
	}
	if len(rankings) == 0 {
		return nil
	}

	if err := w.store.UpdateRankings(ctx, rankings); err != nil {
		return fmt.Errorf("update rankings: %w", err)
	}
	w.log.Debug().Int("attempts", len(batch)).Int("ranked", len(rankings)).Msg("Rankings updated")
	return nil
}

// RankEntries assigns competition ranks to a leaderboard ordered by
// descending score: tied scores share the best rank.
func RankEntries(entries []redis.Z) []model.AttemptRanking {
	out := make([]model.AttemptRanking, 0, len(entries))
	rank := 0
	for i, z := range entries {
		if i == 0 || z.Score != entries[i-1].Score {
			rank = i + 1
		}
		id, err := uuid.Parse(fmt.Sprint(z.Member))
		if err != nil {
			continue
		}
		out = append(out, model.AttemptRanking{
			AttemptID:  id,
			Rank:       rank,
			Percentile: Percentile(rank, len(entries)),
		})
	}
	return out
}

// Percentile is the share of other candidates ranked below, 0..100.
func Percentile(rank, count int) float64 {
	if count <= 1 {
		return 100
	}
	p := float64(count-rank) / float64(count-1) * 100
	return math.Round(p*100) / 100
}

// TopN reads the best n attempt ids and scores of a test's leaderboard.
func TopN(ctx context.Context, rdb *redis.Client, testID string, n int) ([]model.LeaderboardEntry, error) {
	entries, err := rdb.ZRevRangeWithScores(ctx, config.CacheKey.TestLeaderboardKey(testID), 0, int64(n-1)).Result()
	if err != nil {
		return nil, err
	}
	scores := make(map[uuid.UUID]float64, len(entries))
	for _, z := range entries {
		if id, err := uuid.Parse(fmt.Sprint(z.Member)); err == nil {
			scores[id] = z.Score
		}
	}
	ranked := RankEntries(entries)
	out := make([]model.LeaderboardEntry, 0, len(ranked))
	for _, r := range ranked {
		out = append(out, model.LeaderboardEntry{
			Rank:       r.Rank,
			AttemptID:  r.AttemptID,
			TotalScore: scores[r.AttemptID],
		})
	}
	return out, nil
}
