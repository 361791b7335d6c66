package board

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"slateboard/internal/core/domain"
	"slateboard/internal/infrastructure/repositories/memory"
)

// recorder captures every event emitted to one member.
type recorder struct {
	mu     sync.Mutex
	events []recordedEvent
	closed bool
}

type recordedEvent struct {
	Event   string
	Payload any
}

func (r *recorder) Emit(event string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recordedEvent{Event: event, Payload: payload})
}

func (r *recorder) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
}

func (r *recorder) all() []recordedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recordedEvent(nil), r.events...)
}

func (r *recorder) byEvent(event string) []recordedEvent {
	var out []recordedEvent
	for _, e := range r.all() {
		if e.Event == event {
			out = append(out, e)
		}
	}
	return out
}

func newTestMember(token, username string) (*domain.Member, *recorder) {
	rec := &recorder{}
	return &domain.Member{
		ConnID:   "conn-" + token,
		Token:    token,
		Username: username,
		Notifier: rec,
	}, rec
}

// newTestSession builds a session around an in-memory store with the given
// permission table.
func newTestSession(t *testing.T, permissions domain.PermissionTable) *Session {
	t.Helper()
	return &Session{
		id:          "board1",
		store:       memory.NewMemoryBoardStore(),
		logger:      zap.NewNop().Sugar(),
		metrics:     NopMetrics(),
		permissions: permissions.Clone(),
	}
}

func editorSession(t *testing.T) (*Session, *domain.Member, *recorder) {
	t.Helper()
	s := newTestSession(t, domain.PermissionTable{"*": domain.RoleEditor})
	m, rec := newTestMember("tok1", "alice")
	_, err := s.AddMember(m)
	require.NoError(t, err)
	return s, m, rec
}

func pathElement(id string) domain.Element {
	return domain.Element{
		Type:  domain.ElementPath,
		ID:    id,
		Props: map[string]any{"d": "M1 2 3 4", "stroke": "red"},
	}
}

func TestSlide_AddElement_AssignsSequentialChangeIDs(t *testing.T) {
	s, m, rec := editorSession(t)
	slide := newSlide(s, "sl1", nil, nil)
	slide.Subscribe(m)

	id1, err := slide.AddElement(m, pathElement("e1"), false)
	require.NoError(t, err)
	id2, err := slide.AddElement(m, pathElement("e2"), false)
	require.NoError(t, err)

	assert.Equal(t, int64(1), id1)
	assert.Equal(t, int64(2), id2)

	// The originator gets one acknowledgment per accepted mutation and,
	// without the echo flag, no delta.
	acks := rec.byEvent(domain.EventSyncCompleted)
	require.Len(t, acks, 2)
	assert.Equal(t, int64(1), acks[0].Payload)
	assert.Equal(t, int64(2), acks[1].Payload)
	assert.Empty(t, rec.byEvent(domain.EventNewElement))
}

func TestSlide_FanoutReachesOtherSubscribersInOrder(t *testing.T) {
	s, m, _ := editorSession(t)
	other, otherRec := newTestMember("tok2", "bob")
	_, err := s.AddMember(other)
	require.NoError(t, err)

	slide := newSlide(s, "sl1", nil, nil)
	slide.Subscribe(m)
	slide.Subscribe(other)

	_, err = slide.AddElement(m, pathElement("e1"), false)
	require.NoError(t, err)
	_, err = slide.AddElement(m, pathElement("e2"), false)
	require.NoError(t, err)

	deltas := otherRec.byEvent(domain.EventNewElement)
	require.Len(t, deltas, 2)
	first := deltas[0].Payload.(domain.NewElementEvent)
	second := deltas[1].Payload.(domain.NewElementEvent)
	assert.Equal(t, int64(1), first.ChangeID)
	assert.Equal(t, int64(2), second.ChangeID)
	assert.Equal(t, "e1", first.ElementData.ID)
	assert.Equal(t, "e2", second.ElementData.ID)
}

func TestSlide_EchoRequestedDeliversDeltaToOriginator(t *testing.T) {
	s, m, rec := editorSession(t)
	slide := newSlide(s, "sl1", nil, nil)
	slide.Subscribe(m)

	_, err := slide.AddElement(m, pathElement("e1"), true)
	require.NoError(t, err)

	require.Len(t, rec.byEvent(domain.EventSyncCompleted), 1)
	require.Len(t, rec.byEvent(domain.EventNewElement), 1)
}

func TestSlide_GuestWithoutGrantRejected(t *testing.T) {
	s := newTestSession(t, domain.PermissionTable{"*": domain.RoleGuest})
	guest, guestRec := newTestMember("guesttok", "guest")
	_, err := s.AddMember(guest)
	require.NoError(t, err)

	watcher, watcherRec := newTestMember("othertok", "other")
	_, err = s.AddMember(watcher)
	require.NoError(t, err)

	slide := newSlide(s, "sl1", nil, nil)
	slide.Subscribe(guest)
	slide.Subscribe(watcher)

	_, err = slide.AddElement(guest, pathElement("e1"), false)
	assert.ErrorIs(t, err, domain.ErrForbidden)
	_, err = slide.DeleteElement(guest, "e1", false)
	assert.ErrorIs(t, err, domain.ErrForbidden)

	// No state change, no fan-out.
	assert.Equal(t, int64(0), slide.ChangeID())
	elements, _ := slide.Elements()
	assert.Empty(t, elements)
	assert.Empty(t, guestRec.byEvent(domain.EventNewElement))
	assert.Empty(t, watcherRec.byEvent(domain.EventNewElement))
	assert.Empty(t, watcherRec.byEvent(domain.EventSyncCompleted))
}

func TestSlide_GrantUpgradesGuestToEditor(t *testing.T) {
	s := newTestSession(t, domain.PermissionTable{"*": domain.RoleGuest})
	guest, _ := newTestMember("guesttok", "guest")
	_, err := s.AddMember(guest)
	require.NoError(t, err)

	slide := newSlide(s, "sl1", []string{"guesttok"}, nil)
	slide.Subscribe(guest)

	id, err := slide.AddElement(guest, pathElement("e1"), false)
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)
}

func TestSlide_SubscribeTellsGrantedGuestTheirRole(t *testing.T) {
	s := newTestSession(t, domain.PermissionTable{"*": domain.RoleGuest})
	guest, rec := newTestMember("guesttok", "guest")
	_, err := s.AddMember(guest)
	require.NoError(t, err)

	slide := newSlide(s, "sl1", []string{"guesttok"}, nil)
	slide.Subscribe(guest)

	updates := rec.byEvent(domain.EventRoleUpdated)
	require.NotEmpty(t, updates)
	assert.Equal(t, domain.RoleEditor, updates[len(updates)-1].Payload)
}

func TestSlide_AddThenDeleteRestoresListAndAdvancesTwice(t *testing.T) {
	s, m, _ := editorSession(t)
	slide := newSlide(s, "sl1", nil, nil)
	slide.Subscribe(m)

	before, changeBefore := slide.Elements()

	_, err := slide.AddElement(m, pathElement("e1"), false)
	require.NoError(t, err)
	after, err := slide.DeleteElement(m, "e1", false)
	require.NoError(t, err)

	elements, _ := slide.Elements()
	assert.Equal(t, before, elements)
	assert.Equal(t, changeBefore+2, after)
}

func TestSlide_DuplicateElementIDRejected(t *testing.T) {
	s, m, _ := editorSession(t)
	slide := newSlide(s, "sl1", nil, nil)

	_, err := slide.AddElement(m, pathElement("e1"), false)
	require.NoError(t, err)
	_, err = slide.AddElement(m, pathElement("e1"), false)
	assert.ErrorIs(t, err, domain.ErrElementExists)
	assert.Equal(t, int64(1), slide.ChangeID())
}

func TestSlide_SetProperty(t *testing.T) {
	s, m, _ := editorSession(t)
	slide := newSlide(s, "sl1", nil, nil)

	_, err := slide.AddElement(m, pathElement("e1"), false)
	require.NoError(t, err)

	t.Run("id is immutable regardless of role", func(t *testing.T) {
		_, err := slide.SetProperty(m, "e1", "id", "e2", false)
		assert.ErrorIs(t, err, domain.ErrImmutableID)
	})

	t.Run("valid property update is normalized", func(t *testing.T) {
		_, err := slide.SetProperty(m, "e1", "stroke", "blue", false)
		require.NoError(t, err)
		elements, _ := slide.Elements()
		assert.Equal(t, "#0000ff", elements[0].Props["stroke"])
	})

	t.Run("nil value removes the property", func(t *testing.T) {
		_, err := slide.SetProperty(m, "e1", "stroke", nil, false)
		require.NoError(t, err)
		elements, _ := slide.Elements()
		_, ok := elements[0].Props["stroke"]
		assert.False(t, ok)
	})

	t.Run("invalid result leaves the element untouched", func(t *testing.T) {
		before, changeBefore := slide.Elements()
		_, err := slide.SetProperty(m, "e1", "d", "Z bogus", false)
		assert.ErrorIs(t, err, domain.ErrInvalidElement)
		after, changeAfter := slide.Elements()
		assert.Equal(t, before, after)
		assert.Equal(t, changeBefore, changeAfter)
	})

	t.Run("missing element", func(t *testing.T) {
		_, err := slide.SetProperty(m, "nope", "stroke", "red", false)
		assert.ErrorIs(t, err, domain.ErrElementNotFound)
	})
}

func TestSlide_AppendProperty(t *testing.T) {
	s, m, _ := editorSession(t)
	slide := newSlide(s, "sl1", nil, nil)

	el := pathElement("e1")
	el.Props["opacity"] = 0.5
	_, err := slide.AddElement(m, el, false)
	require.NoError(t, err)

	t.Run("appends to a string property", func(t *testing.T) {
		_, err := slide.AppendProperty(m, "e1", "d", " 5 6", false)
		require.NoError(t, err)
		elements, _ := slide.Elements()
		assert.Equal(t, "M1 2 3 4 5 6", elements[0].Props["d"])
	})

	t.Run("non-string property is not appendable", func(t *testing.T) {
		_, err := slide.AppendProperty(m, "e1", "opacity", "9", false)
		assert.ErrorIs(t, err, domain.ErrNotAppendable)
	})

	t.Run("append producing invalid value is rejected", func(t *testing.T) {
		before, _ := slide.Elements()
		_, err := slide.AppendProperty(m, "e1", "d", " evil()", false)
		assert.ErrorIs(t, err, domain.ErrInvalidElement)
		after, _ := slide.Elements()
		assert.Equal(t, before, after)
	})
}

func TestSlide_ReplaceElement(t *testing.T) {
	s, m, _ := editorSession(t)
	slide := newSlide(s, "sl1", nil, nil)

	_, err := slide.AddElement(m, pathElement("e1"), false)
	require.NoError(t, err)

	replacement := pathElement("e1")
	replacement.Props["d"] = "M9 9"
	id, err := slide.ReplaceElement(m, replacement, false)
	require.NoError(t, err)
	assert.Equal(t, int64(2), id)

	elements, _ := slide.Elements()
	require.Len(t, elements, 1)
	assert.Equal(t, "M9 9", elements[0].Props["d"])

	missing := pathElement("ghost")
	_, err = slide.ReplaceElement(m, missing, false)
	assert.ErrorIs(t, err, domain.ErrElementNotFound)
}

func TestSlide_ConcurrentMutationsSerialized(t *testing.T) {
	s, m, _ := editorSession(t)
	other, otherRec := newTestMember("tok2", "bob")
	_, err := s.AddMember(other)
	require.NoError(t, err)

	slide := newSlide(s, "sl1", nil, nil)
	slide.Subscribe(other)

	const n = 50
	var wg sync.WaitGroup
	ids := []string{
		"a0", "a1", "a2", "a3", "a4", "a5", "a6", "a7", "a8", "a9",
		"b0", "b1", "b2", "b3", "b4", "b5", "b6", "b7", "b8", "b9",
		"c0", "c1", "c2", "c3", "c4", "c5", "c6", "c7", "c8", "c9",
		"d0", "d1", "d2", "d3", "d4", "d5", "d6", "d7", "d8", "d9",
		"f0", "f1", "f2", "f3", "f4", "f5", "f6", "f7", "f8", "f9",
	}
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := slide.AddElement(m, pathElement(id), false)
			assert.NoError(t, err)
		}(ids[i])
	}
	wg.Wait()

	assert.Equal(t, int64(n), slide.ChangeID())
	elements, _ := slide.Elements()
	assert.Len(t, elements, n)

	// Every subscriber observes a strictly increasing, gapless change id
	// sequence.
	deltas := otherRec.byEvent(domain.EventNewElement)
	require.Len(t, deltas, n)
	for i, d := range deltas {
		assert.Equal(t, int64(i+1), d.Payload.(domain.NewElementEvent).ChangeID)
	}
}

func TestSlide_SyncToStorage(t *testing.T) {
	store := memory.NewMemoryBoardStore()
	s := &Session{
		id:          "board1",
		store:       store,
		logger:      zap.NewNop().Sugar(),
		metrics:     NopMetrics(),
		permissions: domain.PermissionTable{"*": domain.RoleEditor},
	}
	m, _ := newTestMember("tok1", "alice")
	_, err := s.AddMember(m)
	require.NoError(t, err)

	slide := newSlide(s, "sl1", nil, nil)

	// A clean slide flushes nothing.
	require.NoError(t, slide.SyncToStorage(context.Background()))
	_, err = store.LoadSnapshot(context.Background(), "board1", "sl1")
	assert.ErrorIs(t, err, domain.ErrSlideNotFound)

	_, err = slide.AddElement(m, pathElement("e1"), false)
	require.NoError(t, err)
	require.NoError(t, slide.SyncToStorage(context.Background()))

	snap, err := store.LoadSnapshot(context.Background(), "board1", "sl1")
	require.NoError(t, err)
	require.Len(t, snap.Elements, 1)
	assert.Equal(t, "e1", snap.Elements[0].ID)
}

// gateStore blocks its first snapshot write until released, exposing the
// window where a slower flush could land after a faster one.
type gateStore struct {
	*memory.MemoryBoardStore
	calls        atomic.Int32
	firstStarted chan struct{}
	release      chan struct{}
}

func (g *gateStore) SaveSnapshot(ctx context.Context, boardID domain.BoardID, slideID domain.SlideID, snap *domain.SlideSnapshot) error {
	if g.calls.Add(1) == 1 {
		close(g.firstStarted)
		<-g.release
	}
	return g.MemoryBoardStore.SaveSnapshot(ctx, boardID, slideID, snap)
}

func TestSlide_ConcurrentFlushesAreSerialized(t *testing.T) {
	ctx := context.Background()
	store := &gateStore{
		MemoryBoardStore: memory.NewMemoryBoardStore(),
		firstStarted:     make(chan struct{}),
		release:          make(chan struct{}),
	}
	s := &Session{
		id:          "board1",
		store:       store,
		logger:      zap.NewNop().Sugar(),
		metrics:     NopMetrics(),
		permissions: domain.PermissionTable{"*": domain.RoleEditor},
	}
	m, _ := newTestMember("tok1", "alice")
	_, err := s.AddMember(m)
	require.NoError(t, err)

	slide := newSlide(s, "sl1", nil, nil)
	_, err = slide.AddElement(m, pathElement("e1"), false)
	require.NoError(t, err)

	flushA := make(chan error, 1)
	go func() { flushA <- slide.SyncToStorage(ctx) }()
	<-store.firstStarted

	// A second mutation and flush arrive while the first write is still
	// in flight.
	_, err = slide.AddElement(m, pathElement("e2"), false)
	require.NoError(t, err)
	flushB := make(chan error, 1)
	go func() { flushB <- slide.SyncToStorage(ctx) }()

	// The second flush must wait for the first; otherwise its newer copy
	// could be overwritten by the older one still in flight.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), store.calls.Load())

	close(store.release)
	require.NoError(t, <-flushA)
	require.NoError(t, <-flushB)

	// The newest state is on disk and the slide is clean again: a third
	// flush writes nothing.
	snap, err := store.LoadSnapshot(ctx, "board1", "sl1")
	require.NoError(t, err)
	assert.Len(t, snap.Elements, 2)
	require.NoError(t, slide.SyncToStorage(ctx))
	assert.Equal(t, int32(2), store.calls.Load())
}
