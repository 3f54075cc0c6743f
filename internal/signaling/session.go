package signaling

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wequil/signal-relay/internal/metrics"
	"github.com/wequil/signal-relay/internal/relay"
)

const (
	wsWriteWait = 10 * time.Second

	// sendQueueSize bounds per-connection outbound buffering. A full queue
	// means the client cannot keep up; the connection is torn down rather
	// than blocking the room.
	sendQueueSize = 64
)

// session owns one WebSocket connection. The read loop lives in
// Server.ServeHTTP; writePump is the only writer to the underlying conn.
type session struct {
	log     *slog.Logger
	conn    *websocket.Conn
	metrics *metrics.Metrics

	pingInterval time.Duration
	idleTimeout  time.Duration

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	// closeCode/closeReason are set before signaling done so writePump can
	// emit a proper close frame.
	closeMu     sync.Mutex
	closeCode   int
	closeReason string
}

func newSession(log *slog.Logger, conn *websocket.Conn, m *metrics.Metrics, pingInterval, idleTimeout time.Duration) *session {
	return &session{
		log:          log,
		conn:         conn,
		metrics:      m,
		pingInterval: pingInterval,
		idleTimeout:  idleTimeout,
		send:         make(chan []byte, sendQueueSize),
		done:         make(chan struct{}),
		closeCode:    websocket.CloseNormalClosure,
	}
}

// Enqueue implements relay.Sender. It never blocks: a full queue marks the
// client as too slow and schedules teardown.
func (s *session) Enqueue(msg relay.Message) bool {
	data, err := encodeRelayMessage(msg)
	if err != nil {
		s.log.Error("encode relay message", "err", err, "kind", msg.Kind)
		return false
	}
	return s.enqueueRaw(data)
}

func (s *session) enqueueRaw(data []byte) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.send <- data:
		return true
	default:
		s.metrics.Inc(metrics.SendQueueDrops)
		s.closeWith(websocket.ClosePolicyViolation, "send queue overflow")
		return false
	}
}

func (s *session) sendError(kind relay.ErrorKind, message string) {
	data, err := encodeError(kind, message)
	if err != nil {
		return
	}
	s.enqueueRaw(data)
}

// closeWith records the close frame to emit and wakes writePump. Safe to call
// from any goroutine, repeatedly.
func (s *session) closeWith(code int, reason string) {
	s.closeOnce.Do(func() {
		s.closeMu.Lock()
		s.closeCode = code
		s.closeReason = reason
		s.closeMu.Unlock()
		close(s.done)
	})
}

// writePump is the single writer: it drains the send queue, emits keepalive
// pings, and writes the final close frame. Exits when done is closed or a
// write fails.
func (s *session) writePump() {
	ticker := time.NewTicker(s.pingInterval)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()

	for {
		select {
		case data := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.closeWith(websocket.CloseAbnormalClosure, "write failed")
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.closeWith(websocket.CloseAbnormalClosure, "ping failed")
				return
			}
		case <-s.done:
			// Flush whatever is already queued before closing.
			for {
				select {
				case data := <-s.send:
					_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
					if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
						return
					}
				default:
					s.closeMu.Lock()
					code, reason := s.closeCode, s.closeReason
					s.closeMu.Unlock()
					_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
					_ = s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(wsWriteWait))
					return
				}
			}
		}
	}
}

// resetIdleDeadline extends the read deadline; pongs and inbound messages
// both count as liveness.
func (s *session) resetIdleDeadline() {
	_ = s.conn.SetReadDeadline(time.Now().Add(s.idleTimeout))
}
