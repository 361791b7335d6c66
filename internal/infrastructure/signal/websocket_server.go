package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"slateboard/internal/core/board"
	"slateboard/internal/core/domain"
	"slateboard/internal/core/ports"
	"slateboard/pkg/config"
	"slateboard/pkg/utils"
	"slateboard/pkg/validation"
)

// SignalMessage is the envelope of every client-to-server event.
type SignalMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type joinBoardPayload struct {
	BoardID domain.BoardID `json:"boardId"`
}

type changeBoardNamePayload struct {
	Name string `json:"name"`
}

type switchedSlidePayload struct {
	SlideID domain.SlideID `json:"slideId"`
}

type watchMemberPayload struct {
	Token string `json:"token"`
}

type createSlidePayload struct {
	OnlyIfEmpty bool `json:"onlyIfEmpty"`
}

type removeSlidePayload struct {
	SlideID domain.SlideID `json:"slideId"`
}

type mutationPayload struct {
	SlideID     domain.SlideID  `json:"slideId"`
	ChangeID    *int64          `json:"changeId,omitempty"`
	NotifySelf  bool            `json:"notifySelf"`
	ElementData json.RawMessage `json:"elementData,omitempty"`
	ElementID   string          `json:"elementId,omitempty"`
	PropKey     string          `json:"propKey,omitempty"`
	PropValue   json.RawMessage `json:"propValue,omitempty"`
	AppendStr   string          `json:"appendStr,omitempty"`
}

// WebSocketServer is the real-time board protocol endpoint. One goroutine
// per connection reads and dispatches events; all outbound traffic goes
// through the connection's notifier.
type WebSocketServer struct {
	registry *board.Registry
	identity ports.IdentityProvider
	metrics  ports.Metrics
	logger   *zap.SugaredLogger

	upgrader websocket.Upgrader

	pingInterval time.Duration
	pongTimeout  time.Duration
	writeTimeout time.Duration

	msgRate        rate.Limit
	msgBurst       int
	maxMessageSize int64
	maxConns       int

	connRateStore *connRateStore

	mu          sync.RWMutex
	connections map[string]*domain.Member
}

func NewWebSocketServer(registry *board.Registry, identity ports.IdentityProvider, metrics ports.Metrics, cfg *config.Config, logger *zap.SugaredLogger) *WebSocketServer {
	if metrics == nil {
		metrics = board.NopMetrics()
	}

	s := &WebSocketServer{
		registry:     registry,
		identity:     identity,
		metrics:      metrics,
		logger:       logger,
		pingInterval: cfg.Signal.PingInterval,
		pongTimeout:  cfg.Signal.PongTimeout,
		writeTimeout: cfg.Signal.WriteTimeout,
		connections:  make(map[string]*domain.Member),
	}

	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(cfg.Signal.AllowedOrigins),
	}

	if cfg.RateLimiting.Enabled {
		s.msgRate = rate.Limit(cfg.RateLimiting.WebSocket.MessagesPerSecond)
		s.msgBurst = cfg.RateLimiting.WebSocket.Burst
		s.maxMessageSize = cfg.RateLimiting.WebSocket.MaxMessageSizeBytes
		s.maxConns = cfg.RateLimiting.WebSocket.MaxConcurrent
		perMinute := cfg.RateLimiting.WebSocket.ConnectionsPerMinute
		s.connRateStore = newConnRateStore(rate.Limit(float64(perMinute)/60.0), perMinute)
	}

	return s
}

func originChecker(allowed []string) func(*http.Request) bool {
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
	}
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		set[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || set[origin]
	}
}

// connRateStore keeps a per-IP limiter for connection attempts.
type connRateStore struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rate     rate.Limit
	burst    int
}

func newConnRateStore(r rate.Limit, burst int) *connRateStore {
	return &connRateStore{
		limiters: make(map[string]*rate.Limiter),
		rate:     r,
		burst:    burst,
	}
}

func (s *connRateStore) allow(key string) bool {
	s.mu.Lock()
	limiter, exists := s.limiters[key]
	if !exists {
		limiter = rate.NewLimiter(s.rate, s.burst)
		s.limiters[key] = limiter
	}
	s.mu.Unlock()
	return limiter.Allow()
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// ConnectionCount reports the number of live connections.
func (s *WebSocketServer) ConnectionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.connections)
}

// HandleWebSocket authenticates the handshake, upgrades the connection
// and runs the event loop until the client goes away.
func (s *WebSocketServer) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.connRateStore != nil && !s.connRateStore.allow(remoteIP(r)) {
		http.Error(w, "too many connection attempts", http.StatusTooManyRequests)
		return
	}
	if s.maxConns > 0 && s.ConnectionCount() >= s.maxConns {
		http.Error(w, "connection limit reached", http.StatusServiceUnavailable)
		return
	}

	token := r.URL.Query().Get("token")
	if token == "" {
		http.Error(w, "token is required", http.StatusUnauthorized)
		return
	}
	username := utils.SanitizeString(r.URL.Query().Get("name"))

	// An email-shaped display name is an identity claim; it must be
	// proven by the token before anyone sees it in a roster.
	if validation.IsEmail(username) {
		ok, err := s.identity.VerifyEmail(r.Context(), token, username)
		if err != nil {
			s.logger.Errorw("identity verification failed",
				"token", utils.MaskSensitive(token, 6), "error", err)
			http.Error(w, "identity provider unavailable", http.StatusServiceUnavailable)
			return
		}
		if !ok {
			http.Error(w, "email identity not proven by token", http.StatusUnauthorized)
			return
		}
		username = utils.NormalizeEmail(username)
	}

	identityToken, err := s.identity.ResolveIdentity(r.Context(), token)
	if err != nil {
		s.logger.Errorw("identity resolution failed",
			"token", utils.MaskSensitive(token, 6), "error", err)
		http.Error(w, "identity provider unavailable", http.StatusServiceUnavailable)
		return
	}
	if identityToken == "" {
		http.Error(w, "token rejected", http.StatusUnauthorized)
		return
	}
	if utils.IsEmpty(username) {
		username = identityToken
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Errorw("websocket upgrade failed", "error", err)
		return
	}

	notifier := newWSNotifier(conn, s.writeTimeout)
	m := &domain.Member{
		ConnID:   uuid.NewString(),
		Token:    identityToken,
		Username: username,
		Notifier: notifier,
	}

	s.mu.Lock()
	s.connections[m.ConnID] = m
	s.mu.Unlock()

	s.logger.Infow("participant connected",
		"conn_id", m.ConnID,
		"username", username,
		"token", utils.MaskSensitive(identityToken, 6),
	)

	s.serve(conn, notifier, m)

	s.mu.Lock()
	delete(s.connections, m.ConnID)
	s.mu.Unlock()

	s.registry.Leave(context.Background(), m)
	notifier.Close()
	s.logger.Infow("participant disconnected", "conn_id", m.ConnID)
}

func (s *WebSocketServer) serve(conn *websocket.Conn, notifier *wsNotifier, m *domain.Member) {
	if s.maxMessageSize > 0 {
		conn.SetReadLimit(s.maxMessageSize)
	}
	conn.SetReadDeadline(time.Now().Add(s.pongTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.pongTimeout))
		return nil
	})

	var msgLimiter *rate.Limiter
	if s.msgRate > 0 {
		msgLimiter = rate.NewLimiter(s.msgRate, s.msgBurst)
	}

	pingTicker := time.NewTicker(s.pingInterval)
	defer pingTicker.Stop()

	messageChan := make(chan SignalMessage, 10)
	errorChan := make(chan error, 1)

	go func() {
		for {
			var msg SignalMessage
			if err := conn.ReadJSON(&msg); err != nil {
				errorChan <- err
				return
			}
			conn.SetReadDeadline(time.Now().Add(s.pongTimeout))
			messageChan <- msg
		}
	}()

	for {
		select {
		case msg := <-messageChan:
			if msgLimiter != nil && !msgLimiter.Allow() {
				notifier.Emit(domain.EventError, domain.ErrorEvent{Error: "rate limit exceeded"})
				continue
			}
			if fatal := s.handleMessage(context.Background(), m, notifier, msg); fatal {
				return
			}

		case <-pingTicker.C:
			if err := notifier.ping(); err != nil {
				s.logger.Debugw("ping failed", "conn_id", m.ConnID, "error", err)
				return
			}

		case err := <-errorChan:
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.logger.Infow("read failed", "conn_id", m.ConnID, "error", err)
			}
			return
		}
	}
}

// handleMessage dispatches one inbound event. The returned flag tells the
// serve loop whether the error was fatal and the connection must drop.
func (s *WebSocketServer) handleMessage(ctx context.Context, m *domain.Member, notifier *wsNotifier, msg SignalMessage) (fatal bool) {
	if msg.Type == "" {
		notifier.Emit(domain.EventError, domain.ErrorEvent{Error: "message type is required"})
		return false
	}

	var err error
	switch msg.Type {
	case "startNew":
		err = s.handleStartNew(ctx, m)
	case "joinBoard":
		err = s.handleJoinBoard(ctx, m, msg)
	case "changeBoardName":
		err = s.handleChangeBoardName(ctx, m, msg)
	case "switchedSlide":
		err = s.handleSwitchedSlide(ctx, m, msg)
	case "watchMember":
		err = s.handleWatchMember(ctx, m, msg)
	case "unwatchMember":
		err = s.handleUnwatchMember(ctx, m)
	case "createSlide":
		err = s.handleCreateSlide(ctx, m, msg)
	case "removeSlide":
		err = s.handleRemoveSlide(ctx, m, msg)
	case "addElement", "deleteElement", "modifyElement", "modifyElementProp", "appendElementProp":
		return s.handleMutation(ctx, m, notifier, msg)
	default:
		err = fmt.Errorf("unknown message type: %s", msg.Type)
	}

	if err != nil {
		return s.emitError(m, notifier, msg.Type, err, nil)
	}
	return false
}

// emitError reports a failed event to its originator, classifying it as
// fatal (connection drops) or not per the protocol taxonomy.
func (s *WebSocketServer) emitError(m *domain.Member, notifier *wsNotifier, event string, err error, changeID *int64) (fatal bool) {
	fatal = errors.Is(err, domain.ErrMalformedBoardID) ||
		errors.Is(err, domain.ErrBoardNotFound) ||
		errors.Is(err, domain.ErrNoAccess) ||
		errors.Is(err, domain.ErrSessionEnded)

	s.logger.Infow("event rejected",
		"conn_id", m.ConnID,
		"event", event,
		"fatal", fatal,
		"error", err,
	)
	notifier.Emit(domain.EventError, domain.ErrorEvent{
		Fatal:    fatal,
		Error:    err.Error(),
		ChangeID: changeID,
	})
	return fatal
}

func (s *WebSocketServer) handleStartNew(ctx context.Context, m *domain.Member) error {
	boardID, err := s.registry.CreateBoard(ctx, m.Token)
	if err != nil {
		return err
	}
	m.Emit(domain.EventCreatedBoard, domain.CreatedBoardEvent{BoardID: boardID})
	return nil
}

func (s *WebSocketServer) handleJoinBoard(ctx context.Context, m *domain.Member, msg SignalMessage) error {
	var payload joinBoardPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return fmt.Errorf("invalid joinBoard payload: %w", err)
	}

	// Re-joining implies leaving the current board first.
	if m.BoardID != "" {
		s.registry.Leave(ctx, m)
	}

	session, _, err := s.registry.Join(ctx, payload.BoardID, m)
	if err != nil {
		return err
	}

	m.Emit(domain.EventBoardNameUpdate, session.Name())
	m.Emit(domain.EventSlidesList, session.SlideIDs())
	return nil
}

func (s *WebSocketServer) sessionOf(m *domain.Member) (*board.Session, error) {
	if m.BoardID == "" {
		return nil, fmt.Errorf("not joined to a board")
	}
	session, ok := s.registry.Get(m.BoardID)
	if !ok {
		return nil, domain.ErrBoardNotFound
	}
	return session, nil
}

func (s *WebSocketServer) handleChangeBoardName(ctx context.Context, m *domain.Member, msg SignalMessage) error {
	var payload changeBoardNamePayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return fmt.Errorf("invalid changeBoardName payload: %w", err)
	}
	session, err := s.sessionOf(m)
	if err != nil {
		return err
	}
	if !session.EffectiveRoleOf(m.Token).AtLeast(domain.RoleCreator) {
		return domain.ErrForbidden
	}
	name := utils.SanitizeString(payload.Name)
	if err := validation.ValidateBoardName(name); err != nil {
		return err
	}
	session.ChangeName(ctx, name)
	return nil
}

func (s *WebSocketServer) handleSwitchedSlide(ctx context.Context, m *domain.Member, msg SignalMessage) error {
	var payload switchedSlidePayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return fmt.Errorf("invalid switchedSlide payload: %w", err)
	}
	session, err := s.sessionOf(m)
	if err != nil {
		return err
	}
	_, err = session.SwitchSlide(m, payload.SlideID)
	return err
}

func (s *WebSocketServer) handleWatchMember(ctx context.Context, m *domain.Member, msg SignalMessage) error {
	var payload watchMemberPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return fmt.Errorf("invalid watchMember payload: %w", err)
	}
	session, err := s.sessionOf(m)
	if err != nil {
		return err
	}
	slideID, known := session.WatchMember(m, payload.Token)
	if known {
		m.Emit(domain.EventSwitchSlide, slideID)
	}
	return nil
}

func (s *WebSocketServer) handleUnwatchMember(ctx context.Context, m *domain.Member) error {
	session, err := s.sessionOf(m)
	if err != nil {
		return err
	}
	session.UnwatchMember(m)
	return nil
}

func (s *WebSocketServer) handleCreateSlide(ctx context.Context, m *domain.Member, msg SignalMessage) error {
	var payload createSlidePayload
	if len(msg.Payload) > 0 {
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			return fmt.Errorf("invalid createSlide payload: %w", err)
		}
	}
	session, err := s.sessionOf(m)
	if err != nil {
		return err
	}
	if !session.EffectiveRoleOf(m.Token).AtLeast(domain.RoleEditor) {
		return domain.ErrForbidden
	}
	session.CreateSlide(ctx, payload.OnlyIfEmpty)
	return nil
}

func (s *WebSocketServer) handleRemoveSlide(ctx context.Context, m *domain.Member, msg SignalMessage) error {
	var payload removeSlidePayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return fmt.Errorf("invalid removeSlide payload: %w", err)
	}
	session, err := s.sessionOf(m)
	if err != nil {
		return err
	}
	if !session.EffectiveRoleOf(m.Token).AtLeast(domain.RoleEditor) {
		return domain.ErrForbidden
	}
	return session.RemoveSlide(ctx, payload.SlideID)
}

// handleMutation runs one of the five element mutations. Failures never
// change state and are reported only to the originator, carrying the
// intent's changeId so the client queue can unblock.
func (s *WebSocketServer) handleMutation(ctx context.Context, m *domain.Member, notifier *wsNotifier, msg SignalMessage) (fatal bool) {
	var payload mutationPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return s.emitError(m, notifier, msg.Type, fmt.Errorf("invalid %s payload: %w", msg.Type, err), nil)
	}

	session, err := s.sessionOf(m)
	if err != nil {
		return s.emitError(m, notifier, msg.Type, err, payload.ChangeID)
	}
	// Mutations always land on the slide the member is subscribed to;
	// the payload's slide id can be stale when a switch is still in
	// flight, and acknowledgments only reach subscribers.
	slide := session.Slide(m.SlideID)
	if slide == nil {
		return s.emitError(m, notifier, msg.Type, domain.ErrSlideNotFound, payload.ChangeID)
	}

	switch msg.Type {
	case "addElement":
		var el domain.Element
		err = unmarshalElement(payload.ElementData, &el)
		if err == nil {
			_, err = slide.AddElement(m, el, payload.NotifySelf)
		}
	case "deleteElement":
		_, err = slide.DeleteElement(m, payload.ElementID, payload.NotifySelf)
	case "modifyElement":
		var el domain.Element
		err = unmarshalElement(payload.ElementData, &el)
		if err == nil {
			_, err = slide.ReplaceElement(m, el, payload.NotifySelf)
		}
	case "modifyElementProp":
		var value any
		if len(payload.PropValue) > 0 && string(payload.PropValue) != "null" {
			err = json.Unmarshal(payload.PropValue, &value)
		}
		if err == nil {
			_, err = slide.SetProperty(m, payload.ElementID, payload.PropKey, value, payload.NotifySelf)
		}
	case "appendElementProp":
		_, err = slide.AppendProperty(m, payload.ElementID, payload.PropKey, payload.AppendStr, payload.NotifySelf)
	}

	if err != nil {
		s.metrics.MutationRejected(rejectReason(err))
		return s.emitError(m, notifier, msg.Type, err, payload.ChangeID)
	}
	s.metrics.MutationAccepted(msg.Type)
	return false
}

func unmarshalElement(data json.RawMessage, el *domain.Element) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: missing element data", domain.ErrInvalidElement)
	}
	if err := json.Unmarshal(data, el); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidElement, err)
	}
	return nil
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrForbidden):
		return "forbidden"
	case errors.Is(err, domain.ErrElementNotFound), errors.Is(err, domain.ErrSlideNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrElementExists):
		return "conflict"
	case errors.Is(err, domain.ErrInvalidElement),
		errors.Is(err, domain.ErrImmutableID),
		errors.Is(err, domain.ErrNotAppendable):
		return "validation"
	default:
		return "other"
	}
}

// HealthCheck is a plain HTTP liveness probe for the signal endpoint.
func (s *WebSocketServer) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":      "healthy",
		"timestamp":   time.Now().Unix(),
		"connections": s.ConnectionCount(),
		"boards":      s.registry.ActiveCount(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}
