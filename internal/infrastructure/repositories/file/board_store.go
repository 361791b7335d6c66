package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"slateboard/internal/core/domain"
	"slateboard/internal/core/ports"
)

// FileBoardStore lays each board out as a directory under the data dir:
// <dataDir>/<boardID>/board.json for the manifest and
// <dataDir>/<boardID>/<slideID>.json per slide snapshot. Board ids are
// validated as alphanumeric before they reach the store, so the paths
// cannot escape the data dir.
type FileBoardStore struct {
	dataDir string

	// Writes go through a temp file plus rename; the mutex keeps two
	// flushes of the same process from racing on the temp name.
	mu sync.Mutex
}

func NewFileBoardStore(dataDir string) (*FileBoardStore, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir %s: %w", dataDir, err)
	}
	return &FileBoardStore{dataDir: dataDir}, nil
}

func (r *FileBoardStore) boardDir(boardID domain.BoardID) string {
	return filepath.Join(r.dataDir, string(boardID))
}

func (r *FileBoardStore) manifestPath(boardID domain.BoardID) string {
	return filepath.Join(r.boardDir(boardID), "board.json")
}

func (r *FileBoardStore) slidePath(boardID domain.BoardID, slideID domain.SlideID) string {
	return filepath.Join(r.boardDir(boardID), string(slideID)+".json")
}

func (r *FileBoardStore) writeJSON(path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create board dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}

func (r *FileBoardStore) BoardExists(ctx context.Context, boardID domain.BoardID) (bool, error) {
	_, err := os.Stat(r.manifestPath(boardID))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("stat board %s: %w", boardID, err)
}

func (r *FileBoardStore) LoadManifest(ctx context.Context, boardID domain.BoardID) (*domain.Manifest, error) {
	data, err := os.ReadFile(r.manifestPath(boardID))
	if os.IsNotExist(err) {
		return nil, domain.ErrBoardNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read manifest %s: %w", boardID, err)
	}

	var manifest domain.Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("unmarshal manifest %s: %w", boardID, err)
	}
	return &manifest, nil
}

func (r *FileBoardStore) SaveManifest(ctx context.Context, boardID domain.BoardID, manifest *domain.Manifest) error {
	return r.writeJSON(r.manifestPath(boardID), manifest)
}

func (r *FileBoardStore) LoadSnapshot(ctx context.Context, boardID domain.BoardID, slideID domain.SlideID) (*domain.SlideSnapshot, error) {
	data, err := os.ReadFile(r.slidePath(boardID, slideID))
	if os.IsNotExist(err) {
		return nil, domain.ErrSlideNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot %s/%s: %w", boardID, slideID, err)
	}

	var snap domain.SlideSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot %s/%s: %w", boardID, slideID, err)
	}
	return &snap, nil
}

func (r *FileBoardStore) SaveSnapshot(ctx context.Context, boardID domain.BoardID, slideID domain.SlideID, snap *domain.SlideSnapshot) error {
	return r.writeJSON(r.slidePath(boardID, slideID), snap)
}

func (r *FileBoardStore) DeleteSnapshot(ctx context.Context, boardID domain.BoardID, slideID domain.SlideID) error {
	err := os.Remove(r.slidePath(boardID, slideID))
	if os.IsNotExist(err) {
		return domain.ErrSlideNotFound
	}
	if err != nil {
		return fmt.Errorf("delete snapshot %s/%s: %w", boardID, slideID, err)
	}
	return nil
}

var _ ports.BoardStore = (*FileBoardStore)(nil)
