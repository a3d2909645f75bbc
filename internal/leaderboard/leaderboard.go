// Package leaderboard keeps the global wins board in a Redis sorted set.
// Reads are served from the cache under a configured staleness bound;
// writes happen once per completed duel.
package leaderboard

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/skillversus/duel-backend/internal/engine"
)

const winsKey = "duels:wins"

type Entry struct {
	UserID string  `json:"user_id"`
	Wins   float64 `json:"wins"`
	Rank   int     `json:"rank"`
}

// Bounds is the staleness contract clients poll under. The values mirror
// the client defaults and are surfaced on duel creation so frontends can
// honor them without hardcoding.
type Bounds struct {
	Leaderboard time.Duration `json:"-"`
	Submissions time.Duration `json:"-"`
	Status      time.Duration `json:"-"`
}

type Board struct {
	client *redis.Client
	bounds Bounds
}

func New(client *redis.Client, bounds Bounds) *Board {
	return &Board{client: client, bounds: bounds}
}

func (b *Board) Bounds() Bounds { return b.bounds }

// RecordResult implements session.ResultSink: the winner, if any, gets a
// win credited. Draws and best-score ties credit nobody.
func (b *Board) RecordResult(ctx context.Context, final engine.State) error {
	if final.WinnerID == "" {
		return nil
	}
	if err := b.client.ZIncrBy(ctx, winsKey, 1, final.WinnerID).Err(); err != nil {
		return fmt.Errorf("leaderboard increment: %w", err)
	}
	return nil
}

func (b *Board) Top(ctx context.Context, limit int) ([]Entry, error) {
	zs, err := b.client.ZRevRangeWithScores(ctx, winsKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("leaderboard read: %w", err)
	}
	entries := make([]Entry, len(zs))
	for i, z := range zs {
		entries[i] = Entry{
			UserID: z.Member.(string),
			Wins:   z.Score,
			Rank:   i + 1,
		}
	}
	return entries, nil
}

func (b *Board) Rank(ctx context.Context, userID string) (int64, error) {
	rank, err := b.client.ZRevRank(ctx, winsKey, userID).Result()
	if err == redis.Nil {
		return -1, nil
	}
	if err != nil {
		return 0, err
	}
	return rank + 1, nil
}
