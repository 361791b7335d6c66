package file

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"slateboard/internal/core/domain"
	"slateboard/internal/core/ports"
)

const historyMaxEntries = 50

type historyRecord struct {
	BoardID   domain.BoardID `json:"boardId"`
	Timestamp int64          `json:"timestamp"`
}

// FileHistoryStore keeps one JSON file of visit records per identity
// under <dataDir>/_history/. The directory name starts with an
// underscore so it can never collide with an alphanumeric board id.
type FileHistoryStore struct {
	dir    string
	boards ports.BoardStore

	mu sync.Mutex
}

func NewFileHistoryStore(dataDir string, boards ports.BoardStore) (*FileHistoryStore, error) {
	dir := filepath.Join(dataDir, "_history")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create history dir %s: %w", dir, err)
	}
	return &FileHistoryStore{dir: dir, boards: boards}, nil
}

func (r *FileHistoryStore) path(identity string) string {
	return filepath.Join(r.dir, url.PathEscape(identity)+".json")
}

func (r *FileHistoryStore) load(identity string) ([]historyRecord, error) {
	data, err := os.ReadFile(r.path(identity))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read history for %s: %w", identity, err)
	}
	var records []historyRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("unmarshal history for %s: %w", identity, err)
	}
	return records, nil
}

func (r *FileHistoryStore) AppendEntry(ctx context.Context, identity string, boardID domain.BoardID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	records, err := r.load(identity)
	if err != nil {
		return err
	}
	for i, rec := range records {
		if rec.BoardID == boardID {
			records = append(records[:i], records[i+1:]...)
			break
		}
	}
	records = append([]historyRecord{{BoardID: boardID, Timestamp: time.Now().UnixMilli()}}, records...)
	if len(records) > historyMaxEntries {
		records = records[:historyMaxEntries]
	}

	data, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("marshal history for %s: %w", identity, err)
	}
	path := r.path(identity)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write history for %s: %w", identity, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename history for %s: %w", identity, err)
	}
	return nil
}

func (r *FileHistoryStore) ListByIdentity(ctx context.Context, identity string) ([]domain.HistoryEntry, error) {
	r.mu.Lock()
	records, err := r.load(identity)
	r.mu.Unlock()
	if err != nil {
		return nil, err
	}

	out := make([]domain.HistoryEntry, 0, len(records))
	for _, rec := range records {
		entry := domain.HistoryEntry{BoardID: rec.BoardID, Timestamp: rec.Timestamp}
		if manifest, err := r.boards.LoadManifest(ctx, rec.BoardID); err == nil {
			entry.Name = manifest.Name
		}
		out = append(out, entry)
	}
	return out, nil
}

var _ ports.HistoryStore = (*FileHistoryStore)(nil)
