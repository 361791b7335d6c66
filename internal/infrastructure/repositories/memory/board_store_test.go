package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slateboard/internal/core/domain"
)

func TestMemoryBoardStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryBoardStore()

	_, err := store.LoadManifest(ctx, "b")
	assert.ErrorIs(t, err, domain.ErrBoardNotFound)

	manifest := &domain.Manifest{
		Name:        "plan",
		Permissions: domain.PermissionTable{"*": domain.RoleEditor},
		SlideIDs:    []domain.SlideID{"s1"},
		SlideGrants: map[domain.SlideID][]string{},
	}
	require.NoError(t, store.SaveManifest(ctx, "b", manifest))

	loaded, err := store.LoadManifest(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, manifest, loaded)

	// Mutating the loaded copy must not leak back into the store.
	loaded.Name = "changed"
	again, err := store.LoadManifest(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, "plan", again.Name)
}

func TestMemoryBoardStore_Snapshots(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryBoardStore()

	_, err := store.LoadSnapshot(ctx, "b", "s")
	assert.ErrorIs(t, err, domain.ErrSlideNotFound)

	snap := &domain.SlideSnapshot{Elements: []domain.Element{{
		Type:  domain.ElementText,
		ID:    "t1",
		Props: map[string]any{"x": "1", "y": "2", "text": "hello"},
	}}}
	require.NoError(t, store.SaveSnapshot(ctx, "b", "s", snap))

	loaded, err := store.LoadSnapshot(ctx, "b", "s")
	require.NoError(t, err)
	require.Len(t, loaded.Elements, 1)
	assert.Equal(t, "t1", loaded.Elements[0].ID)

	require.NoError(t, store.DeleteSnapshot(ctx, "b", "s"))
	_, err = store.LoadSnapshot(ctx, "b", "s")
	assert.ErrorIs(t, err, domain.ErrSlideNotFound)
}

func TestMemoryHistoryStore(t *testing.T) {
	ctx := context.Background()
	boards := NewMemoryBoardStore()
	history := NewMemoryHistoryStore(boards)

	require.NoError(t, boards.SaveManifest(ctx, "b1", &domain.Manifest{Name: "standup"}))
	require.NoError(t, history.AppendEntry(ctx, "alice@co.com", "b1"))
	require.NoError(t, history.AppendEntry(ctx, "alice@co.com", "b1"))

	entries, err := history.ListByIdentity(ctx, "alice@co.com")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "standup", entries[0].Name)
}
