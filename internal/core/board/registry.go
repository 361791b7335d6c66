package board

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"slateboard/internal/core/domain"
	"slateboard/internal/core/ports"
	"slateboard/pkg/utils"

	"sync"
)

const boardIDLength = 36

// Registry owns the process-wide collection of live sessions. A session is
// created when the first member joins a board and torn down synchronously
// when the last one leaves.
type Registry struct {
	store   ports.BoardStore
	history ports.HistoryStore
	logger  *zap.SugaredLogger
	metrics ports.Metrics

	mu       sync.Mutex
	sessions map[domain.BoardID]*Session
}

func NewRegistry(store ports.BoardStore, history ports.HistoryStore, logger *zap.SugaredLogger, metrics ports.Metrics) *Registry {
	if metrics == nil {
		metrics = NopMetrics()
	}
	return &Registry{
		store:    store,
		history:  history,
		logger:   logger,
		metrics:  metrics,
		sessions: make(map[domain.BoardID]*Session),
	}
}

// CreateBoard initializes a fresh board manifest whose default permission
// table makes the creating identity the board creator. The board has no
// live session until somebody joins it.
func (r *Registry) CreateBoard(ctx context.Context, token string) (domain.BoardID, error) {
	var id domain.BoardID
	for {
		id = domain.BoardID(utils.GenerateID(boardIDLength))
		exists, err := r.store.BoardExists(ctx, id)
		if err != nil {
			return "", fmt.Errorf("check board id: %w", err)
		}
		if !exists {
			break
		}
	}

	now := time.Now().UnixMilli()
	manifest := &domain.Manifest{
		Name:         "",
		CreatedAt:    now,
		LastModified: now,
		Permissions:  domain.DefaultPermissions(token),
		SlideIDs:     nil,
		SlideGrants:  map[domain.SlideID][]string{},
	}
	if err := r.store.SaveManifest(ctx, id, manifest); err != nil {
		r.metrics.StorageWriteError()
		return "", fmt.Errorf("create board: %w", err)
	}

	r.logger.Infow("board created", "board_id", id)
	return id, nil
}

// Join attaches a member to a board, loading the session on first join.
// Returns the member's resolved role alongside the session.
func (r *Registry) Join(ctx context.Context, boardID domain.BoardID, m *domain.Member) (*Session, domain.Role, error) {
	if !domain.ValidBoardID(boardID) {
		return nil, domain.RoleNone, domain.ErrMalformedBoardID
	}
	exists, err := r.store.BoardExists(ctx, boardID)
	if err != nil {
		return nil, domain.RoleNone, fmt.Errorf("check board: %w", err)
	}
	if !exists {
		return nil, domain.RoleNone, domain.ErrBoardNotFound
	}

	for {
		r.mu.Lock()
		session, ok := r.sessions[boardID]
		if !ok {
			session, err = loadSession(ctx, boardID, r.store, r.logger, r.metrics)
			if err != nil {
				r.mu.Unlock()
				return nil, domain.RoleNone, err
			}
			r.sessions[boardID] = session
			r.metrics.BoardOpened()
			r.logger.Infow("session opened", "board_id", boardID)
		}
		r.mu.Unlock()

		role, err := session.AddMember(m)
		if errors.Is(err, domain.ErrSessionEnded) {
			// The session ended between the map read and the join.
			// Ended is terminal, so reload the board and try again.
			continue
		}
		if err != nil {
			r.evictIfInactive(ctx, boardID)
			return nil, role, err
		}

		r.appendHistory(m)
		return session, role, nil
	}
}

// Leave detaches a member from its board: current-slide unsubscribe,
// roster removal, and synchronous session teardown plus eviction when the
// roster empties.
func (r *Registry) Leave(ctx context.Context, m *domain.Member) {
	if m.BoardID == "" {
		return
	}

	r.mu.Lock()
	session, ok := r.sessions[m.BoardID]
	r.mu.Unlock()
	if !ok {
		return
	}

	if m.SlideID != "" {
		if slide := session.Slide(m.SlideID); slide != nil {
			slide.Unsubscribe(m)
		}
	}
	session.RemoveMember(m)
	m.BoardID = ""
	m.SlideID = ""

	r.evictIfInactiveSession(ctx, session)
}

func (r *Registry) evictIfInactive(ctx context.Context, boardID domain.BoardID) {
	r.mu.Lock()
	session, ok := r.sessions[boardID]
	r.mu.Unlock()
	if ok {
		r.evictIfInactiveSession(ctx, session)
	}
}

func (r *Registry) evictIfInactiveSession(ctx context.Context, session *Session) {
	r.mu.Lock()
	current, ok := r.sessions[session.id]
	if !ok || current != session || !session.endIfInactive() {
		// Still has members, already evicted, or a join got there
		// first; endIfInactive runs under the registry lock so the
		// decision cannot race a map read.
		r.mu.Unlock()
		return
	}
	delete(r.sessions, session.id)
	r.mu.Unlock()

	session.End(ctx)
	r.metrics.BoardEvicted()
	r.logger.Infow("session evicted", "board_id", session.id)
}

// Get returns the live session for a board, if any.
func (r *Registry) Get(boardID domain.BoardID) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[boardID]
	return session, ok
}

// ActiveCount reports the number of live sessions.
func (r *Registry) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// StartFlusher persists dirty slides of every live session on a fixed
// interval, bounding how much accepted work an unclean shutdown can
// lose. Stops when ctx is canceled.
func (r *Registry) StartFlusher(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	r.logger.Infow("background flusher started", "interval", utils.FormatDuration(interval))
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.FlushAll(ctx)
			}
		}
	}()
}

// FlushAll persists dirty slides across all live sessions.
func (r *Registry) FlushAll(ctx context.Context) {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	for _, s := range sessions {
		s.Flush(ctx)
	}
}

// appendHistory records a visit for email-backed identities. History is a
// convenience record, so failures only log.
func (r *Registry) appendHistory(m *domain.Member) {
	if r.history == nil || !strings.Contains(m.Username, "@") {
		return
	}
	identity := m.Username
	boardID := m.BoardID
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := r.history.AppendEntry(ctx, identity, boardID); err != nil {
			r.logger.Warnw("append history entry failed", "identity", identity, "board_id", boardID, "error", err)
		}
	}()
}
