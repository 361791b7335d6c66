package signal

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"slateboard/internal/core/domain"
)

// outMessage is the envelope for every server-to-client event.
type outMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// wsNotifier adapts one websocket connection to domain.Notifier. Writes
// are serialized by the mutex because fan-outs reach a connection from
// other members' goroutines.
type wsNotifier struct {
	conn         *websocket.Conn
	writeTimeout time.Duration

	mu     sync.Mutex
	closed bool
}

func newWSNotifier(conn *websocket.Conn, writeTimeout time.Duration) *wsNotifier {
	return &wsNotifier{conn: conn, writeTimeout: writeTimeout}
}

func (n *wsNotifier) Emit(event string, payload any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	n.conn.SetWriteDeadline(time.Now().Add(n.writeTimeout))
	if err := n.conn.WriteJSON(outMessage{Type: event, Payload: payload}); err != nil {
		// A failed write means the reader loop is about to see the
		// broken connection and run the full cleanup path.
		n.closed = true
		n.conn.Close()
	}
}

func (n *wsNotifier) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	n.closed = true
	n.conn.SetWriteDeadline(time.Now().Add(n.writeTimeout))
	n.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	n.conn.Close()
}

// ping sends a control ping, reporting write failure so the serve loop
// can tear the connection down.
func (n *wsNotifier) ping() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return websocket.ErrCloseSent
	}
	n.conn.SetWriteDeadline(time.Now().Add(n.writeTimeout))
	return n.conn.WriteMessage(websocket.PingMessage, nil)
}

var _ domain.Notifier = (*wsNotifier)(nil)
