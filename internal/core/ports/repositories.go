package ports

import (
	"context"

	"slateboard/internal/core/domain"
)

// BoardStore persists board manifests and slide snapshots. Implementations
// return domain.ErrBoardNotFound / domain.ErrSlideNotFound for missing
// records; the engine treats those as no-ops or boundary 404s, never as
// crashes.
type BoardStore interface {
	BoardExists(ctx context.Context, boardID domain.BoardID) (bool, error)
	LoadManifest(ctx context.Context, boardID domain.BoardID) (*domain.Manifest, error)
	SaveManifest(ctx context.Context, boardID domain.BoardID, manifest *domain.Manifest) error
	LoadSnapshot(ctx context.Context, boardID domain.BoardID, slideID domain.SlideID) (*domain.SlideSnapshot, error)
	SaveSnapshot(ctx context.Context, boardID domain.BoardID, slideID domain.SlideID, snap *domain.SlideSnapshot) error
	DeleteSnapshot(ctx context.Context, boardID domain.BoardID, slideID domain.SlideID) error
}

// HistoryStore records which boards an identity has viewed.
type HistoryStore interface {
	AppendEntry(ctx context.Context, identity string, boardID domain.BoardID) error
	ListByIdentity(ctx context.Context, identity string) ([]domain.HistoryEntry, error)
}
