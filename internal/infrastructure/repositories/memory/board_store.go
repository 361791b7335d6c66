package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"slateboard/internal/core/domain"
	"slateboard/internal/core/ports"
)

type slideKey struct {
	board domain.BoardID
	slide domain.SlideID
}

// MemoryBoardStore keeps manifests and snapshots as JSON blobs in maps.
// Values round-trip through json so callers cannot alias stored state,
// same as the file and Redis backends.
type MemoryBoardStore struct {
	mu        sync.RWMutex
	manifests map[domain.BoardID][]byte
	snapshots map[slideKey][]byte
}

func NewMemoryBoardStore() *MemoryBoardStore {
	return &MemoryBoardStore{
		manifests: make(map[domain.BoardID][]byte),
		snapshots: make(map[slideKey][]byte),
	}
}

func (r *MemoryBoardStore) BoardExists(ctx context.Context, boardID domain.BoardID) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.manifests[boardID]
	return exists, nil
}

func (r *MemoryBoardStore) LoadManifest(ctx context.Context, boardID domain.BoardID) (*domain.Manifest, error) {
	r.mu.RLock()
	data, exists := r.manifests[boardID]
	r.mu.RUnlock()

	if !exists {
		return nil, domain.ErrBoardNotFound
	}
	var manifest domain.Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to unmarshal manifest: %w", err)
	}
	return &manifest, nil
}

func (r *MemoryBoardStore) SaveManifest(ctx context.Context, boardID domain.BoardID, manifest *domain.Manifest) error {
	data, err := json.Marshal(manifest)
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.manifests[boardID] = data
	return nil
}

func (r *MemoryBoardStore) LoadSnapshot(ctx context.Context, boardID domain.BoardID, slideID domain.SlideID) (*domain.SlideSnapshot, error) {
	r.mu.RLock()
	data, exists := r.snapshots[slideKey{boardID, slideID}]
	r.mu.RUnlock()

	if !exists {
		return nil, domain.ErrSlideNotFound
	}
	var snap domain.SlideSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

func (r *MemoryBoardStore) SaveSnapshot(ctx context.Context, boardID domain.BoardID, slideID domain.SlideID, snap *domain.SlideSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshots[slideKey{boardID, slideID}] = data
	return nil
}

func (r *MemoryBoardStore) DeleteSnapshot(ctx context.Context, boardID domain.BoardID, slideID domain.SlideID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := slideKey{boardID, slideID}
	if _, exists := r.snapshots[key]; !exists {
		return domain.ErrSlideNotFound
	}
	delete(r.snapshots, key)
	return nil
}

var _ ports.BoardStore = (*MemoryBoardStore)(nil)
