package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"slateboard/internal/core/domain"
	"slateboard/internal/core/ports"
)

const historyPrefix = "slateboard:history:"

// historyMaxEntries bounds the per-identity visit list.
const historyMaxEntries = 50

type RedisHistoryStore struct {
	client *redis.Client
	boards ports.BoardStore
}

// NewRedisHistoryStore stores per-identity visit lists. Board names are
// resolved at read time so renames show up in old entries.
func NewRedisHistoryStore(client *redis.Client, boards ports.BoardStore) ports.HistoryStore {
	return &RedisHistoryStore{client: client, boards: boards}
}

func (r *RedisHistoryStore) historyKey(identity string) string {
	return historyPrefix + identity
}

type historyRecord struct {
	BoardID   domain.BoardID `json:"boardId"`
	Timestamp int64          `json:"timestamp"`
}

func (r *RedisHistoryStore) AppendEntry(ctx context.Context, identity string, boardID domain.BoardID) error {
	key := r.historyKey(identity)

	// Drop any older entry for the same board so the list stays one
	// entry per board, most recent first.
	entries, err := r.client.LRange(ctx, key, 0, -1).Result()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("failed to read history from Redis: %w", err)
	}
	for _, raw := range entries {
		var rec historyRecord
		if json.Unmarshal([]byte(raw), &rec) == nil && rec.BoardID == boardID {
			if err := r.client.LRem(ctx, key, 1, raw).Err(); err != nil {
				return fmt.Errorf("failed to dedupe history in Redis: %w", err)
			}
		}
	}

	data, err := json.Marshal(historyRecord{BoardID: boardID, Timestamp: time.Now().UnixMilli()})
	if err != nil {
		return fmt.Errorf("failed to marshal history record: %w", err)
	}
	pipe := r.client.TxPipeline()
	pipe.LPush(ctx, key, data)
	pipe.LTrim(ctx, key, 0, historyMaxEntries-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to append history in Redis: %w", err)
	}
	return nil
}

func (r *RedisHistoryStore) ListByIdentity(ctx context.Context, identity string) ([]domain.HistoryEntry, error) {
	raw, err := r.client.LRange(ctx, r.historyKey(identity), 0, historyMaxEntries-1).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("failed to list history from Redis: %w", err)
	}

	out := make([]domain.HistoryEntry, 0, len(raw))
	for _, item := range raw {
		var rec historyRecord
		if err := json.Unmarshal([]byte(item), &rec); err != nil {
			continue
		}
		entry := domain.HistoryEntry{BoardID: rec.BoardID, Timestamp: rec.Timestamp}
		if manifest, err := r.boards.LoadManifest(ctx, rec.BoardID); err == nil {
			entry.Name = manifest.Name
		}
		out = append(out, entry)
	}
	return out, nil
}
