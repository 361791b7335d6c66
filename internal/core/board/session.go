package board

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"slateboard/internal/core/domain"
	"slateboard/internal/core/ports"
	"slateboard/pkg/utils"
)

const slideIDLength = 6

// Session is one live board: its roster, its permission table and its
// ordered slide collection. Roster, permission and slide-collection
// mutations are serialized by the session mutex; element mutations are
// serialized per slide.
type Session struct {
	id      domain.BoardID
	store   ports.BoardStore
	logger  *zap.SugaredLogger
	metrics ports.Metrics

	mu          sync.Mutex
	name        string
	createdAt   int64
	members     []*domain.Member
	slides      []*Slide
	permissions domain.PermissionTable
	ended       bool
}

// loadSession materializes a board from its persisted manifest. Missing
// slide snapshots load as empty slides rather than failing the board.
func loadSession(ctx context.Context, id domain.BoardID, store ports.BoardStore, logger *zap.SugaredLogger, metrics ports.Metrics) (*Session, error) {
	manifest, err := store.LoadManifest(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load board %s: %w", id, err)
	}

	s := &Session{
		id:          id,
		store:       store,
		logger:      logger,
		metrics:     metrics,
		name:        manifest.Name,
		createdAt:   manifest.CreatedAt,
		permissions: manifest.Permissions.Clone(),
	}

	for _, slideID := range manifest.SlideIDs {
		var elements []domain.Element
		snap, err := store.LoadSnapshot(ctx, id, slideID)
		switch {
		case err == nil:
			elements = snap.Elements
		case isNotFound(err):
			elements = nil
		default:
			return nil, fmt.Errorf("load slide %s/%s: %w", id, slideID, err)
		}
		s.slides = append(s.slides, newSlide(s, slideID, manifest.SlideGrants[slideID], elements))
	}
	return s, nil
}

func isNotFound(err error) bool {
	return err == domain.ErrSlideNotFound || err == domain.ErrBoardNotFound
}

func (s *Session) ID() domain.BoardID { return s.id }

// Flush persists every dirty slide. Clean slides are no-ops, so calling
// this on an idle session costs nothing.
func (s *Session) Flush(ctx context.Context) {
	s.mu.Lock()
	slides := make([]*Slide, len(s.slides))
	copy(slides, s.slides)
	s.mu.Unlock()

	for _, slide := range slides {
		if err := slide.SyncToStorage(ctx); err != nil {
			s.logger.Errorw("slide flush failed",
				"board_id", s.id, "slide_id", slide.ID(), "error", err)
		}
	}
}

func (s *Session) Name() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.name
}

// Permissions returns a copy of the permission table.
func (s *Session) Permissions() domain.PermissionTable {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.permissions.Clone()
}

// EffectiveRoleOf resolves a token against the current permission table.
func (s *Session) EffectiveRoleOf(token string) domain.Role {
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.EffectiveRole(token, s.permissions)
}

func (s *Session) memberRole(m *domain.Member) domain.Role {
	s.mu.Lock()
	defer s.mu.Unlock()
	return m.Role
}

// IsActive reports whether any member is connected.
func (s *Session) IsActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.members) > 0
}

// endIfInactive atomically marks an empty session as ended. Ending is
// terminal: once this returns true no member can attach anymore, so the
// caller may tear the session down without racing a concurrent join.
func (s *Session) endIfInactive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended || len(s.members) > 0 {
		return false
	}
	s.ended = true
	return true
}

// AddMember resolves the joining identity's role, refuses tokens with no
// access, and broadcasts the updated roster. An ended session refuses all
// joins; the registry reloads the board and retries.
func (s *Session) AddMember(m *domain.Member) (domain.Role, error) {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return domain.RoleNone, domain.ErrSessionEnded
	}
	role := domain.EffectiveRole(m.Token, s.permissions)
	if role == domain.RoleNone {
		s.mu.Unlock()
		return role, domain.ErrNoAccess
	}
	m.Role = role
	m.BoardID = s.id
	s.members = append(s.members, m)
	s.mu.Unlock()

	m.Emit(domain.EventRoleUpdated, role)
	s.notifyMembershipUpdate()
	s.metrics.MemberJoined()
	return role, nil
}

// RemoveMember drops a member from the roster and broadcasts the change.
func (s *Session) RemoveMember(m *domain.Member) {
	s.mu.Lock()
	removed := false
	for i, member := range s.members {
		if member == m {
			s.members = append(s.members[:i], s.members[i+1:]...)
			removed = true
			break
		}
	}
	s.mu.Unlock()

	if removed {
		s.notifyMembershipUpdate()
		s.metrics.MemberLeft()
	}
}

// notifyMembershipUpdate sends each member a roster filtered by their own
// role: editors and better see everyone, guests only see editors and
// better. Every recipient gets the unfiltered total count.
func (s *Session) notifyMembershipUpdate() {
	type recipient struct {
		member *domain.Member
		role   domain.Role
	}

	s.mu.Lock()
	full := make([]domain.RosterEntry, len(s.members))
	recipients := make([]recipient, len(s.members))
	for i, m := range s.members {
		full[i] = domain.RosterEntry{Username: m.Username, Role: m.Role}
		recipients[i] = recipient{member: m, role: m.Role}
	}
	s.mu.Unlock()

	sanitized := make([]domain.RosterEntry, 0, len(full))
	for _, entry := range full {
		if entry.Role <= domain.RoleEditor {
			sanitized = append(sanitized, entry)
		}
	}

	for _, r := range recipients {
		list := sanitized
		if r.role <= domain.RoleEditor {
			list = full
		}
		r.member.Emit(domain.EventMembersList, domain.MembersListEvent{
			Members:   list,
			UserCount: len(full),
		})
	}
}

// SetPermissionMatcher updates one entry of the permission table, persists
// the manifest and pushes recomputed roles to affected members.
func (s *Session) SetPermissionMatcher(ctx context.Context, matcher string, role domain.Role) {
	s.mu.Lock()
	s.permissions[matcher] = role
	s.mu.Unlock()

	s.persistManifest(ctx)
	s.RefreshRoles()
}

// RemovePermissionMatcher drops a matcher from the table.
func (s *Session) RemovePermissionMatcher(ctx context.Context, matcher string) {
	s.mu.Lock()
	_, exists := s.permissions[matcher]
	if exists {
		delete(s.permissions, matcher)
	}
	s.mu.Unlock()

	if exists {
		s.persistManifest(ctx)
		s.RefreshRoles()
	}
}

// RefreshRoles recomputes every live member's effective role and pushes a
// role update to those whose role changed. A guest on a slide that grants
// them edit access is shown as editor, but their board-level role stays
// guest; authorization always re-derives from table plus grants.
func (s *Session) RefreshRoles() {
	type update struct {
		member  *domain.Member
		display domain.Role
	}

	s.mu.Lock()
	var updates []update
	for _, m := range s.members {
		newRole := domain.EffectiveRole(m.Token, s.permissions)
		if newRole == m.Role {
			continue
		}
		m.Role = newRole
		display := newRole
		if newRole == domain.RoleGuest {
			if slide := s.slideLocked(m.SlideID); slide != nil && slide.HasGrant(m.Token) {
				display = domain.RoleEditor
			}
		}
		updates = append(updates, update{member: m, display: display})
	}
	s.mu.Unlock()

	for _, u := range updates {
		u.member.Emit(domain.EventRoleUpdated, u.display)
	}
}

func (s *Session) slideLocked(id domain.SlideID) *Slide {
	for _, slide := range s.slides {
		if slide.id == id {
			return slide
		}
	}
	return nil
}

// Slide looks a slide up by id.
func (s *Session) Slide(id domain.SlideID) *Slide {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.slideLocked(id)
}

// SlideIDs returns the ordered slide id list.
func (s *Session) SlideIDs() []domain.SlideID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.slideIDsLocked()
}

func (s *Session) slideIDsLocked() []domain.SlideID {
	ids := make([]domain.SlideID, len(s.slides))
	for i, slide := range s.slides {
		ids[i] = slide.id
	}
	return ids
}

// CreateSlide appends a fresh empty slide, persists the manifest and
// broadcasts the new slide list. With onlyIfEmpty set it is a no-op on a
// board that already has slides; the check runs under the session lock so
// concurrent first-join auto-creates produce a single slide.
func (s *Session) CreateSlide(ctx context.Context, onlyIfEmpty bool) (*Slide, bool) {
	s.mu.Lock()
	if onlyIfEmpty && len(s.slides) > 0 {
		s.mu.Unlock()
		return nil, false
	}
	existing := make(map[domain.SlideID]bool, len(s.slides))
	for _, slide := range s.slides {
		existing[slide.id] = true
	}
	var id domain.SlideID
	for {
		id = domain.SlideID(utils.GenerateID(slideIDLength))
		if !existing[id] {
			break
		}
	}
	slide := newSlide(s, id, nil, nil)
	s.slides = append(s.slides, slide)
	s.mu.Unlock()

	s.persistManifest(ctx)
	s.broadcastSlideList()
	return slide, true
}

// RemoveSlide tears the slide down (flush, notify subscribers, no forced
// disconnect), drops its snapshot and broadcasts the shrunken list.
func (s *Session) RemoveSlide(ctx context.Context, id domain.SlideID) error {
	s.mu.Lock()
	var target *Slide
	for i, slide := range s.slides {
		if slide.id == id {
			target = slide
			s.slides = append(s.slides[:i], s.slides[i+1:]...)
			break
		}
	}
	s.mu.Unlock()

	if target == nil {
		return domain.ErrSlideNotFound
	}

	target.Close(ctx, domain.EventSlideDeleted, false)
	if err := s.store.DeleteSnapshot(ctx, s.id, id); err != nil && !isNotFound(err) {
		s.logger.Errorw("delete slide snapshot failed", "board_id", s.id, "slide_id", id, "error", err)
	}
	s.persistManifest(ctx)
	s.broadcastSlideList()
	return nil
}

func (s *Session) broadcastSlideList() {
	s.mu.Lock()
	ids := s.slideIDsLocked()
	recipients := append([]*domain.Member(nil), s.members...)
	s.mu.Unlock()

	for _, m := range recipients {
		m.Emit(domain.EventSlidesList, ids)
	}
}

// ChangeName renames the board, persists and broadcasts.
func (s *Session) ChangeName(ctx context.Context, name string) {
	s.mu.Lock()
	s.name = name
	recipients := append([]*domain.Member(nil), s.members...)
	s.mu.Unlock()

	s.persistManifest(ctx)
	for _, m := range recipients {
		m.Emit(domain.EventBoardNameUpdate, name)
	}
}

// SwitchSlide moves a member's subscription to another slide and tells
// everyone following them where they went. Clients routinely send an
// empty id while navigating; that is a no-op, not an error.
func (s *Session) SwitchSlide(m *domain.Member, id domain.SlideID) (*Slide, error) {
	if id == "" {
		return nil, nil
	}
	s.mu.Lock()
	target := s.slideLocked(id)
	if target == nil {
		s.mu.Unlock()
		return nil, domain.ErrSlideNotFound
	}
	previous := s.slideLocked(m.SlideID)
	m.SlideID = id
	s.mu.Unlock()

	if previous != nil && previous != target {
		previous.Unsubscribe(m)
	}
	target.Subscribe(m)
	s.NotifyWatchers(m, id)
	return target, nil
}

// WatchMember starts following another participant by token. Returns the
// watched member's current slide so the watcher can jump there at once.
func (s *Session) WatchMember(m *domain.Member, token string) (domain.SlideID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, other := range s.members {
		if other != m && other.Token == token {
			m.Watched = token
			return other.SlideID, other.SlideID != ""
		}
	}
	return "", false
}

// UnwatchMember stops following.
func (s *Session) UnwatchMember(m *domain.Member) {
	s.mu.Lock()
	m.Watched = ""
	s.mu.Unlock()
}

// NotifyWatchers tells every member following the given member to switch
// to the slide they navigated to.
func (s *Session) NotifyWatchers(of *domain.Member, slideID domain.SlideID) {
	s.mu.Lock()
	var watchers []*domain.Member
	for _, m := range s.members {
		if m != of && m.Watched == of.Token {
			watchers = append(watchers, m)
		}
	}
	s.mu.Unlock()

	for _, w := range watchers {
		w.Emit(domain.EventSwitchSlide, slideID)
	}
}

// End tears down every slide, tells every remaining member the board is
// over, disconnects them and persists a final manifest snapshot.
func (s *Session) End(ctx context.Context) {
	s.mu.Lock()
	s.ended = true
	slides := append([]*Slide(nil), s.slides...)
	members := append([]*domain.Member(nil), s.members...)
	s.mu.Unlock()

	for _, slide := range slides {
		slide.Close(ctx, domain.EventSessionEnded, false)
	}
	for _, m := range members {
		m.Emit(domain.EventSessionEnded, nil)
		m.Disconnect()
	}
	s.persistManifest(ctx)
}

// persistManifest writes the current board manifest. A failed write is an
// operator problem, not a request failure: it is logged and counted but
// the in-memory mutation stands.
func (s *Session) persistManifest(ctx context.Context) {
	s.mu.Lock()
	manifest := &domain.Manifest{
		Name:         s.name,
		CreatedAt:    s.createdAt,
		LastModified: time.Now().UnixMilli(),
		Permissions:  s.permissions.Clone(),
		SlideIDs:     s.slideIDsLocked(),
		SlideGrants:  make(map[domain.SlideID][]string, len(s.slides)),
	}
	slides := append([]*Slide(nil), s.slides...)
	s.mu.Unlock()

	for _, slide := range slides {
		manifest.SlideGrants[slide.id] = slide.Grants()
	}

	if err := s.store.SaveManifest(ctx, s.id, manifest); err != nil {
		s.metrics.StorageWriteError()
		s.logger.Errorw("persist board manifest failed", "board_id", s.id, "error", err)
	}
}
