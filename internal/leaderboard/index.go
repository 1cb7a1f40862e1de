// Package leaderboard keeps ranking scores in Redis sorted sets, one per content type.
package leaderboard

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/bidli/backend/internal/ranking"
)

const keyPrefix = "leaderboard:"

func key(t ranking.ContentType) string {
	return keyPrefix + string(t)
}

// Index is a ranking.Index backed by Redis ZSETs.
type Index struct {
	rdb goredis.UniversalClient
}

var _ ranking.Index = (*Index)(nil)

// NewIndex creates a leaderboard index on rdb.
func NewIndex(rdb goredis.UniversalClient) *Index {
	return &Index{rdb: rdb}
}

// Put sets the score of id.
func (i *Index) Put(ctx context.Context, t ranking.ContentType, id string, score int) error {
	if err := i.rdb.ZAdd(ctx, key(t), goredis.Z{Score: float64(score), Member: id}).Err(); err != nil {
		return fmt.Errorf("zadd %s: %w", key(t), err)
	}
	return nil
}

// Top returns up to limit entries, highest score first.
func (i *Index) Top(ctx context.Context, t ranking.ContentType, limit int) ([]ranking.Entry, error) {
	if limit <= 0 {
		return []ranking.Entry{}, nil
	}
	zs, err := i.rdb.ZRevRangeWithScores(ctx, key(t), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("zrevrange %s: %w", key(t), err)
	}
	entries := make([]ranking.Entry, 0, len(zs))
	for _, z := range zs {
		member, _ := z.Member.(string)
		entries = append(entries, ranking.Entry{ID: member, Score: int(z.Score)})
	}
	return entries, nil
}

// Members returns every id held for t.
func (i *Index) Members(ctx context.Context, t ranking.ContentType) ([]string, error) {
	ids, err := i.rdb.ZRange(ctx, key(t), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("zrange %s: %w", key(t), err)
	}
	return ids, nil
}

// Remove deletes id from the index. Removing an absent id is not an error.
func (i *Index) Remove(ctx context.Context, t ranking.ContentType, id string) error {
	if err := i.rdb.ZRem(ctx, key(t), id).Err(); err != nil {
		return fmt.Errorf("zrem %s: %w", key(t), err)
	}
	return nil
}
