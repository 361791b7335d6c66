package memory

import (
	"context"
	"sync"
	"time"

	"slateboard/internal/core/domain"
	"slateboard/internal/core/ports"
)

const historyMaxEntries = 50

type MemoryHistoryStore struct {
	mu      sync.Mutex
	entries map[string][]domain.HistoryEntry
	boards  ports.BoardStore
}

func NewMemoryHistoryStore(boards ports.BoardStore) *MemoryHistoryStore {
	return &MemoryHistoryStore{
		entries: make(map[string][]domain.HistoryEntry),
		boards:  boards,
	}
}

func (r *MemoryHistoryStore) AppendEntry(ctx context.Context, identity string, boardID domain.BoardID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	list := r.entries[identity]
	// One entry per board, most recent first.
	for i, e := range list {
		if e.BoardID == boardID {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	list = append([]domain.HistoryEntry{{BoardID: boardID, Timestamp: time.Now().UnixMilli()}}, list...)
	if len(list) > historyMaxEntries {
		list = list[:historyMaxEntries]
	}
	r.entries[identity] = list
	return nil
}

func (r *MemoryHistoryStore) ListByIdentity(ctx context.Context, identity string) ([]domain.HistoryEntry, error) {
	r.mu.Lock()
	list := append([]domain.HistoryEntry(nil), r.entries[identity]...)
	r.mu.Unlock()

	for i := range list {
		if manifest, err := r.boards.LoadManifest(ctx, list[i].BoardID); err == nil {
			list[i].Name = manifest.Name
		}
	}
	return list, nil
}

var _ ports.HistoryStore = (*MemoryHistoryStore)(nil)
