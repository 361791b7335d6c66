// Package client implements the participant-side synchronization queue
// used by headless board clients: it serializes locally originated
// mutations, tracks the last acknowledged change id, and recovers from
// ordering gaps by refetching the canonical slide snapshot.
package client

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"slateboard/internal/core/domain"
)

// Intent is one locally originated mutation waiting for server
// acknowledgment.
type Intent struct {
	Kind        string
	ElementData json.RawMessage
	ElementID   string
	PropKey     string
	PropValue   json.RawMessage
	AppendStr   string
}

// MutationRequest is the payload shape sent over the signal channel for
// the five mutation events.
type MutationRequest struct {
	SlideID     domain.SlideID  `json:"slideId"`
	ChangeID    int64           `json:"changeId"`
	NotifySelf  bool            `json:"notifySelf,omitempty"`
	ElementData json.RawMessage `json:"elementData,omitempty"`
	ElementID   string          `json:"elementId,omitempty"`
	PropKey     string          `json:"propKey,omitempty"`
	PropValue   json.RawMessage `json:"propValue,omitempty"`
	AppendStr   string          `json:"appendStr,omitempty"`
}

// SendFunc transmits one mutation intent. It must not call back into
// the reconciler.
type SendFunc func(kind string, req MutationRequest) error

// RefetchFunc fetches and locally applies the canonical snapshot of a
// slide, returning the snapshot's change id. It must not call back into
// the reconciler.
type RefetchFunc func(slideID domain.SlideID) (int64, error)

// ApplyFunc applies one remote delta event to local state.
type ApplyFunc func(event string, payload any)

// Reconciler keeps one connection's local view consistent with the
// server. At most one locally originated mutation is in flight at a
// time; further intents queue behind it. Any delta arriving with a
// change id other than lastKnown+1 triggers a full snapshot refetch,
// after which the pending head is re-sent with the echo flag so the
// originator re-applies its own optimistic edit from the server's copy.
type Reconciler struct {
	send    SendFunc
	refetch RefetchFunc
	apply   ApplyFunc
	logger  *zap.SugaredLogger

	mu        sync.Mutex
	slideID   domain.SlideID
	lastKnown int64
	queue     []Intent
	inFlight  bool
}

func NewReconciler(send SendFunc, refetch RefetchFunc, apply ApplyFunc, logger *zap.SugaredLogger) *Reconciler {
	return &Reconciler{
		send:    send,
		refetch: refetch,
		apply:   apply,
		logger:  logger,
	}
}

// SwitchSlide retargets the queue at a new slide. Pending intents were
// authored against the previous slide's element list, so they are
// dropped; the caller is expected to refetch the new slide.
func (r *Reconciler) SwitchSlide(slideID domain.SlideID, changeID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.slideID = slideID
	r.lastKnown = changeID
	r.queue = nil
	r.inFlight = false
}

// LastKnown returns the last acknowledged change id.
func (r *Reconciler) LastKnown() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastKnown
}

// Pending returns the number of not-yet-acknowledged local intents.
func (r *Reconciler) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queue)
}

// Enqueue appends a local mutation intent and sends it immediately when
// nothing else is in flight.
func (r *Reconciler) Enqueue(intent Intent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queue = append(r.queue, intent)
	r.flushLocked(false)
}

// OnSyncCompleted handles the server's acknowledgment of the in-flight
// intent: pop it, adopt the server-assigned change id, send the next.
func (r *Reconciler) OnSyncCompleted(changeID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.queue) > 0 {
		r.queue = r.queue[1:]
	}
	r.lastKnown = changeID
	r.inFlight = false
	r.flushLocked(false)
}

// OnRemoteDelta handles one fan-out delta event. In-order deltas are
// applied directly; any gap discards optimistic state and refetches the
// canonical snapshot.
func (r *Reconciler) OnRemoteDelta(event string, slideID domain.SlideID, changeID int64, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if slideID != r.slideID {
		return
	}
	if changeID != r.lastKnown+1 {
		r.resyncLocked(true)
		return
	}
	r.lastKnown = changeID
	r.apply(event, payload)
}

// OnError handles a non-fatal rejection. A change id on the error means
// the in-flight intent was refused: drop it, resync local state, and
// unblock the queue.
func (r *Reconciler) OnError(ev domain.ErrorEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ev.ChangeID != nil && len(r.queue) > 0 {
		r.queue = r.queue[1:]
	}
	r.inFlight = false
	r.resyncLocked(false)
}

// flushLocked sends the queue head unless a send is already
// outstanding. Callers hold r.mu.
func (r *Reconciler) flushLocked(echo bool) {
	if r.inFlight || len(r.queue) == 0 {
		return
	}
	head := r.queue[0]
	req := MutationRequest{
		SlideID:     r.slideID,
		ChangeID:    r.lastKnown,
		NotifySelf:  echo,
		ElementData: head.ElementData,
		ElementID:   head.ElementID,
		PropKey:     head.PropKey,
		PropValue:   head.PropValue,
		AppendStr:   head.AppendStr,
	}
	r.inFlight = true
	if err := r.send(head.Kind, req); err != nil {
		r.inFlight = false
		r.logger.Errorw("failed to send mutation intent",
			"kind", head.Kind, "slide_id", r.slideID, "error", err)
	}
}

// resyncLocked refetches the canonical snapshot, adopts its change id,
// and replays the still-pending head with the echo flag set so the
// originator's own edit is re-delivered on top of the fresh state.
// Callers hold r.mu.
func (r *Reconciler) resyncLocked(echoHead bool) {
	r.inFlight = false
	changeID, err := r.refetch(r.slideID)
	if err != nil {
		r.logger.Errorw("slide refetch failed",
			"slide_id", r.slideID, "error", err)
		return
	}
	r.lastKnown = changeID
	r.flushLocked(echoHead)
}
