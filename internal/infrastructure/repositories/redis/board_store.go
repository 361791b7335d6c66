package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"slateboard/internal/core/domain"
	"slateboard/internal/core/ports"
)

const (
	keyPrefix      = "slateboard:board:"
	boardsIndexKey = "slateboard:boards"
)

type RedisBoardStore struct {
	client *redis.Client
}

func NewRedisBoardStore(client *redis.Client) ports.BoardStore {
	return &RedisBoardStore{client: client}
}

func (r *RedisBoardStore) manifestKey(boardID domain.BoardID) string {
	return keyPrefix + string(boardID) + ":manifest"
}

func (r *RedisBoardStore) slideKey(boardID domain.BoardID, slideID domain.SlideID) string {
	return keyPrefix + string(boardID) + ":slide:" + string(slideID)
}

func (r *RedisBoardStore) BoardExists(ctx context.Context, boardID domain.BoardID) (bool, error) {
	n, err := r.client.Exists(ctx, r.manifestKey(boardID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check board in Redis: %w", err)
	}
	return n > 0, nil
}

func (r *RedisBoardStore) LoadManifest(ctx context.Context, boardID domain.BoardID) (*domain.Manifest, error) {
	data, err := r.client.Get(ctx, r.manifestKey(boardID)).Result()
	if err == redis.Nil {
		return nil, domain.ErrBoardNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get manifest from Redis: %w", err)
	}

	var manifest domain.Manifest
	if err := json.Unmarshal([]byte(data), &manifest); err != nil {
		return nil, fmt.Errorf("failed to unmarshal manifest: %w", err)
	}
	return &manifest, nil
}

func (r *RedisBoardStore) SaveManifest(ctx context.Context, boardID domain.BoardID, manifest *domain.Manifest) error {
	data, err := json.Marshal(manifest)
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}

	if err := r.client.Set(ctx, r.manifestKey(boardID), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to set manifest in Redis: %w", err)
	}
	if err := r.client.SAdd(ctx, boardsIndexKey, string(boardID)).Err(); err != nil {
		return fmt.Errorf("failed to index board: %w", err)
	}
	return nil
}

func (r *RedisBoardStore) LoadSnapshot(ctx context.Context, boardID domain.BoardID, slideID domain.SlideID) (*domain.SlideSnapshot, error) {
	data, err := r.client.Get(ctx, r.slideKey(boardID, slideID)).Result()
	if err == redis.Nil {
		return nil, domain.ErrSlideNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshot from Redis: %w", err)
	}

	var snap domain.SlideSnapshot
	if err := json.Unmarshal([]byte(data), &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

func (r *RedisBoardStore) SaveSnapshot(ctx context.Context, boardID domain.BoardID, slideID domain.SlideID, snap *domain.SlideSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	if err := r.client.Set(ctx, r.slideKey(boardID, slideID), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to set snapshot in Redis: %w", err)
	}
	return nil
}

func (r *RedisBoardStore) DeleteSnapshot(ctx context.Context, boardID domain.BoardID, slideID domain.SlideID) error {
	n, err := r.client.Del(ctx, r.slideKey(boardID, slideID)).Result()
	if err != nil {
		return fmt.Errorf("failed to delete snapshot from Redis: %w", err)
	}
	if n == 0 {
		return domain.ErrSlideNotFound
	}
	return nil
}
