package domain

// Notifier delivers server events to one connected participant. The signal
// layer implements it over a websocket connection; tests implement it with
// an in-memory recorder. Emit must be safe for concurrent use and must not
// block on slow consumers longer than the transport's write deadline.
type Notifier interface {
	Emit(event string, payload any)
	Close()
}

// Member is the ephemeral participant state of one live connection.
// BoardID, SlideID, Watched and Role are guarded by the owning session's
// lock once the member has joined a board.
type Member struct {
	ConnID   string
	Token    string
	Username string

	BoardID BoardID
	SlideID SlideID
	Watched string
	Role    Role

	Notifier Notifier
}

// Emit forwards to the member's notifier, tolerating detached members so
// teardown paths need no nil checks.
func (m *Member) Emit(event string, payload any) {
	if m.Notifier != nil {
		m.Notifier.Emit(event, payload)
	}
}

// Disconnect closes the underlying connection.
func (m *Member) Disconnect() {
	if m.Notifier != nil {
		m.Notifier.Close()
	}
}

// RosterEntry is one row of a membership broadcast.
type RosterEntry struct {
	Username string `json:"username"`
	Role     Role   `json:"role"`
}
