package board

import (
	"context"
	"fmt"
	"sync"

	"slateboard/internal/core/domain"
)

// Slide owns one drawable surface: its ordered element list, its monotonic
// change counter, its grant set and its subscriber set. Every mutation is
// applied, counted and fanned out under the slide mutex, so no subscriber
// can observe change N+1 before N and no two mutations interleave.
type Slide struct {
	id      domain.SlideID
	session *Session

	mu          sync.Mutex
	elements    []domain.Element
	changeID    int64
	grants      []string
	subscribers map[*domain.Member]struct{}
	dirty       bool

	// flushMu serializes snapshot writes. Flushes are triggered from the
	// interval flusher, the read-before-serve HTTP path and teardown;
	// without serialization an older copy could land after a newer one.
	flushMu sync.Mutex
}

func newSlide(session *Session, id domain.SlideID, grants []string, elements []domain.Element) *Slide {
	return &Slide{
		id:          id,
		session:     session,
		elements:    elements,
		grants:      append([]string(nil), grants...),
		subscribers: make(map[*domain.Member]struct{}),
	}
}

func (s *Slide) ID() domain.SlideID { return s.id }

// ChangeID returns the id of the last accepted mutation.
func (s *Slide) ChangeID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.changeID
}

// Elements returns a copy of the canonical element list and the change id
// it corresponds to.
func (s *Slide) Elements() ([]domain.Element, int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Element, len(s.elements))
	for i, el := range s.elements {
		out[i] = el.Clone()
	}
	return out, s.changeID
}

// Grants returns a copy of the grant set.
func (s *Slide) Grants() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.grants...)
}

// HasGrant reports whether the token is individually granted editor access
// to this slide.
func (s *Slide) HasGrant(token string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasGrantLocked(token)
}

func (s *Slide) hasGrantLocked(token string) bool {
	for _, g := range s.grants {
		if g == token {
			return true
		}
	}
	return false
}

// AddGrant grants a token editor access to this slide and refreshes the
// roles of connected members so the escalation becomes visible.
func (s *Slide) AddGrant(ctx context.Context, token string) {
	s.mu.Lock()
	if s.hasGrantLocked(token) {
		s.mu.Unlock()
		return
	}
	s.grants = append(s.grants, token)
	s.mu.Unlock()

	s.session.RefreshRoles()
	s.session.persistManifest(ctx)
}

// RemoveGrant revokes a slide grant.
func (s *Slide) RemoveGrant(ctx context.Context, token string) {
	s.mu.Lock()
	found := false
	for i, g := range s.grants {
		if g == token {
			s.grants = append(s.grants[:i], s.grants[i+1:]...)
			found = true
			break
		}
	}
	s.mu.Unlock()
	if !found {
		return
	}

	s.session.RefreshRoles()
	s.session.persistManifest(ctx)
}

// Subscribe adds a member to the fan-out set. Guests are immediately told
// their effective role for this slide, which may be editor via a grant.
func (s *Slide) Subscribe(m *domain.Member) {
	role := s.session.memberRole(m)

	s.mu.Lock()
	s.subscribers[m] = struct{}{}
	granted := s.hasGrantLocked(m.Token)
	s.mu.Unlock()

	if role == domain.RoleGuest {
		if granted {
			m.Emit(domain.EventRoleUpdated, domain.RoleEditor)
		} else {
			m.Emit(domain.EventRoleUpdated, domain.RoleGuest)
		}
	}
}

// Unsubscribe removes a member from the fan-out set.
func (s *Slide) Unsubscribe(m *domain.Member) {
	s.mu.Lock()
	delete(s.subscribers, m)
	s.mu.Unlock()
}

func (s *Slide) SubscriberCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subscribers)
}

// authorize re-derives edit permission from the member's current board role
// and this slide's grant set. Called with the slide mutex held.
func (s *Slide) authorizeLocked(m *domain.Member, role domain.Role) error {
	if !domain.IsPermitted(role, domain.RoleEditor, m.Token, s.grants) {
		return domain.ErrForbidden
	}
	return nil
}

func (s *Slide) indexOfLocked(elementID string) int {
	for i, el := range s.elements {
		if el.ID == elementID {
			return i
		}
	}
	return -1
}

// AddElement validates and appends a new element, returning the assigned
// change id.
func (s *Slide) AddElement(m *domain.Member, el domain.Element, echo bool) (int64, error) {
	role := s.session.memberRole(m)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.authorizeLocked(m, role); err != nil {
		return 0, err
	}
	if s.indexOfLocked(el.ID) >= 0 {
		return 0, fmt.Errorf("%w: %s", domain.ErrElementExists, el.ID)
	}
	if err := el.Validate(); err != nil {
		return 0, err
	}
	domain.Normalize(&el)

	s.elements = append(s.elements, el)
	s.bumpLocked()
	s.broadcastLocked(m, echo, domain.EventNewElement, domain.NewElementEvent{
		SlideID:     s.id,
		ChangeID:    s.changeID,
		ElementData: el,
	})
	return s.changeID, nil
}

// DeleteElement removes an element by id.
func (s *Slide) DeleteElement(m *domain.Member, elementID string, echo bool) (int64, error) {
	role := s.session.memberRole(m)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.authorizeLocked(m, role); err != nil {
		return 0, err
	}
	i := s.indexOfLocked(elementID)
	if i < 0 {
		return 0, fmt.Errorf("%w: %s", domain.ErrElementNotFound, elementID)
	}

	s.elements = append(s.elements[:i], s.elements[i+1:]...)
	s.bumpLocked()
	s.broadcastLocked(m, echo, domain.EventElementDeleted, domain.ElementDeletedEvent{
		SlideID:   s.id,
		ChangeID:  s.changeID,
		ElementID: elementID,
	})
	return s.changeID, nil
}

// ReplaceElement swaps the element with the matching id for a full
// validated replacement.
func (s *Slide) ReplaceElement(m *domain.Member, el domain.Element, echo bool) (int64, error) {
	role := s.session.memberRole(m)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.authorizeLocked(m, role); err != nil {
		return 0, err
	}
	if err := el.Validate(); err != nil {
		return 0, err
	}
	i := s.indexOfLocked(el.ID)
	if i < 0 {
		return 0, fmt.Errorf("%w: %s", domain.ErrElementNotFound, el.ID)
	}
	domain.Normalize(&el)

	s.elements[i] = el
	s.bumpLocked()
	s.broadcastLocked(m, echo, domain.EventElementModified, domain.ElementModifiedEvent{
		SlideID:     s.id,
		ChangeID:    s.changeID,
		ElementData: el,
	})
	return s.changeID, nil
}

// SetProperty sets or removes (value == nil) one named property on a
// shallow copy of the element and re-validates the whole result. The id
// property can never be touched.
func (s *Slide) SetProperty(m *domain.Member, elementID, propKey string, value any, echo bool) (int64, error) {
	role := s.session.memberRole(m)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.authorizeLocked(m, role); err != nil {
		return 0, err
	}
	if propKey == "id" {
		return 0, domain.ErrImmutableID
	}
	i := s.indexOfLocked(elementID)
	if i < 0 {
		return 0, fmt.Errorf("%w: %s", domain.ErrElementNotFound, elementID)
	}

	next := s.elements[i].Clone()
	if value == nil {
		delete(next.Props, propKey)
	} else {
		next.Props[propKey] = value
	}
	if err := next.Validate(); err != nil {
		return 0, err
	}
	domain.Normalize(&next)

	s.elements[i] = next
	s.bumpLocked()
	s.broadcastLocked(m, echo, domain.EventPropModified, domain.PropModifiedEvent{
		SlideID:   s.id,
		ChangeID:  s.changeID,
		ElementID: elementID,
		PropKey:   propKey,
		PropValue: next.Props[propKey],
	})
	return s.changeID, nil
}

// AppendProperty concatenates a suffix onto a string-valued property. This
// lets freehand strokes grow without retransmitting the whole path.
func (s *Slide) AppendProperty(m *domain.Member, elementID, propKey, suffix string, echo bool) (int64, error) {
	role := s.session.memberRole(m)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.authorizeLocked(m, role); err != nil {
		return 0, err
	}
	if propKey == "id" {
		return 0, domain.ErrImmutableID
	}
	i := s.indexOfLocked(elementID)
	if i < 0 {
		return 0, fmt.Errorf("%w: %s", domain.ErrElementNotFound, elementID)
	}

	next := s.elements[i].Clone()
	current, ok := next.Props[propKey].(string)
	if !ok {
		return 0, fmt.Errorf("%w: %s", domain.ErrNotAppendable, propKey)
	}
	next.Props[propKey] = current + suffix
	if err := next.Validate(); err != nil {
		return 0, err
	}
	domain.Normalize(&next)

	s.elements[i] = next
	s.bumpLocked()
	s.broadcastLocked(m, echo, domain.EventPropAppend, domain.PropAppendEvent{
		SlideID:   s.id,
		ChangeID:  s.changeID,
		ElementID: elementID,
		PropKey:   propKey,
		AppendStr: suffix,
	})
	return s.changeID, nil
}

func (s *Slide) bumpLocked() {
	s.changeID++
	s.dirty = true
}

// broadcastLocked fans an accepted mutation out to a point-in-time snapshot
// of the subscriber set. The originator receives the acknowledgment, and
// the delta too only when echo was requested.
func (s *Slide) broadcastLocked(origin *domain.Member, echo bool, event string, payload any) {
	subs := make([]*domain.Member, 0, len(s.subscribers))
	for sub := range s.subscribers {
		subs = append(subs, sub)
	}
	s.session.metrics.FanoutObserved(len(subs))

	for _, sub := range subs {
		if sub == origin {
			sub.Emit(domain.EventSyncCompleted, s.changeID)
			if !echo {
				continue
			}
		}
		sub.Emit(event, payload)
	}
}

// SyncToStorage writes the canonical element list as the slide's persisted
// snapshot. Idempotent: a clean slide is a no-op. The dirty flag is only
// cleared when no further mutation was accepted while the write ran.
func (s *Slide) SyncToStorage(ctx context.Context) error {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	s.mu.Lock()
	if !s.dirty {
		s.mu.Unlock()
		return nil
	}
	elements := make([]domain.Element, len(s.elements))
	for i, el := range s.elements {
		elements[i] = el.Clone()
	}
	written := s.changeID
	s.mu.Unlock()

	err := s.session.store.SaveSnapshot(ctx, s.session.id, s.id, &domain.SlideSnapshot{Elements: elements})
	if err != nil {
		s.session.metrics.StorageWriteError()
		return fmt.Errorf("sync slide %s: %w", s.id, err)
	}

	s.mu.Lock()
	if s.changeID == written {
		s.dirty = false
	}
	s.mu.Unlock()
	return nil
}

// Close flushes the slide if dirty, tells every subscriber why the slide is
// going away and optionally severs their connections.
func (s *Slide) Close(ctx context.Context, reason string, forceDisconnect bool) {
	if err := s.SyncToStorage(ctx); err != nil {
		s.session.logger.Errorw("flush on slide close failed",
			"board_id", s.session.id, "slide_id", s.id, "error", err)
	}

	s.mu.Lock()
	subs := make([]*domain.Member, 0, len(s.subscribers))
	for sub := range s.subscribers {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	for _, sub := range subs {
		sub.Emit(reason, s.id)
		if forceDisconnect {
			sub.Disconnect()
		}
	}
}
