package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// TestPaperKey returns the cache key for a test paper (answer keys included,
// never sent to clients as-is)
func (r *CacheKeyStruct) TestPaperKey(testID string) string {
	return fmt.Sprintf("test:%s:paper", testID)
}

// TestLeaderboardKey returns the sorted set holding a test's final scores
func (r *CacheKeyStruct) TestLeaderboardKey(testID string) string {
	return fmt.Sprintf("test:%s:leaderboard", testID)
}

// AttemptStreamChannel returns the Redis PubSub channel an attempt's state
// changes are published on, so every open stream for it can resync
func (r *CacheKeyStruct) AttemptStreamChannel(attemptID string) string {
	return fmt.Sprintf("attempt:%s:stream", attemptID)
}

var CacheKey = NewCacheKeyStruct()
