// Package signaling implements the WebSocket signaling endpoint: the wire
// protocol, the per-connection session lifecycle, and the handoff between
// transport and the relay engine.
package signaling

import (
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wequil/signal-relay/internal/auth"
	"github.com/wequil/signal-relay/internal/config"
	"github.com/wequil/signal-relay/internal/metrics"
	"github.com/wequil/signal-relay/internal/ratelimit"
	"github.com/wequil/signal-relay/internal/relay"
)

// Server upgrades signaling WebSocket connections and runs their read loop.
//
// Authentication (when enabled) must complete before a connection is
// registered with the engine: either a query-string credential on the upgrade
// request or an auth message within SIGNALING_AUTH_TIMEOUT.
type Server struct {
	cfg      config.Config
	log      *slog.Logger
	metrics  *metrics.Metrics
	engine   *relay.Engine
	verifier auth.Verifier
	upgrader websocket.Upgrader
}

func NewServer(cfg config.Config, log *slog.Logger, m *metrics.Metrics, engine *relay.Engine) (*Server, error) {
	var verifier auth.Verifier
	if cfg.AuthMode != config.AuthModeNone {
		v, err := auth.NewVerifier(cfg)
		if err != nil {
			return nil, err
		}
		verifier = v
	}
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		cfg:      cfg,
		log:      log,
		metrics:  m,
		engine:   engine,
		verifier: verifier,
		upgrader: websocket.Upgrader{
			// Origin checks are enforced by the outer httpserver origin
			// middleware. For unit tests that hit the Server directly, accept
			// all origins here.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	sess := newSession(s.log, conn, s.metrics, s.cfg.SignalingWSPingInterval, s.cfg.SignalingWSIdleTimeout)
	go sess.writePump()
	defer sess.closeWith(websocket.CloseNormalClosure, "")

	conn.SetReadLimit(s.cfg.MaxSignalingMessageBytes)
	conn.SetPongHandler(func(string) error {
		sess.resetIdleDeadline()
		return nil
	})

	authenticated := s.cfg.AuthMode == config.AuthModeNone
	if !authenticated {
		// Headers first (non-browser clients), then the query string; browsers
		// cannot set headers on a WebSocket upgrade.
		cred, err := auth.CredentialFromRequest(s.cfg.AuthMode, r)
		if errors.Is(err, auth.ErrMissingCredentials) {
			cred, err = auth.CredentialFromQuery(s.cfg.AuthMode, r.URL.Query())
		}
		switch {
		case err == nil:
			if s.verifier.Verify(cred) != nil {
				s.metrics.Inc(metrics.AuthFailure)
				sess.closeWith(websocket.ClosePolicyViolation, "invalid credentials")
				return
			}
			authenticated = true
		case errors.Is(err, auth.ErrMissingCredentials):
			// Wait for an auth message, but not forever.
			_ = conn.SetReadDeadline(time.Now().Add(s.cfg.SignalingAuthTimeout))
		default:
			sess.closeWith(websocket.CloseInternalServerErr, "invalid auth configuration")
			return
		}
	}

	limiter := ratelimit.NewTokenBucket(
		ratelimit.RealClock{},
		int64(s.cfg.MaxSignalingMessagesPerSecond),
		int64(s.cfg.MaxSignalingMessagesPerSecond),
	)

	var connID string
	defer func() {
		if connID != "" {
			s.engine.Disconnect(connID)
		}
	}()

	if authenticated {
		connID = s.register(sess)
		if connID == "" {
			return
		}
	}

	for {
		if authenticated {
			sess.resetIdleDeadline()
		}

		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if !authenticated && isTimeout(err) {
				s.metrics.Inc(metrics.AuthFailure)
				sess.closeWith(websocket.ClosePolicyViolation, "authentication timeout")
			}
			return
		}
		// Rate limit after reading so bytes already in the TCP receive buffer
		// are consumed; closing with unread data risks an RST that hides the
		// close code from the client.
		if !limiter.Allow(1) {
			s.metrics.Inc(metrics.DropRateLimited)
			sess.sendError("rate_limited", "rate limit exceeded")
			sess.closeWith(websocket.ClosePolicyViolation, "rate limit exceeded")
			return
		}
		if msgType != websocket.TextMessage {
			sess.closeWith(websocket.CloseUnsupportedData, "expected text message")
			return
		}

		msg, err := parseClientMessage(data, s.cfg.RoomIDMaxLength)
		if err != nil {
			if !authenticated {
				s.metrics.Inc(metrics.AuthFailure)
				sess.closeWith(websocket.ClosePolicyViolation, "authentication required")
				return
			}
			// Malformed messages are non-fatal: report to the sender only.
			s.metrics.Inc(metrics.ErrorMalformedMessage)
			sess.sendError(relay.ErrMalformedMessage, err.Error())
			continue
		}

		if !authenticated {
			if msg.Type != messageTypeAuth {
				s.metrics.Inc(metrics.AuthFailure)
				sess.closeWith(websocket.ClosePolicyViolation, "authentication required")
				return
			}
			cred, err := auth.CredentialFromAuthMessage(s.cfg.AuthMode, auth.WireAuthMessage{Type: msg.Type, APIKey: msg.APIKey})
			if err != nil || s.verifier.Verify(cred) != nil {
				s.metrics.Inc(metrics.AuthFailure)
				sess.closeWith(websocket.ClosePolicyViolation, "invalid credentials")
				return
			}
			authenticated = true
			_ = conn.SetReadDeadline(time.Time{})
			connID = s.register(sess)
			if connID == "" {
				return
			}
			continue
		}

		if msg.Type == messageTypeAuth {
			// Tolerate redundant auth (query-string fallback, AUTH_MODE=none).
			continue
		}

		s.dispatch(sess, connID, msg)
	}
}

// register admits the session to the engine and queues the welcome frame.
// Returns "" when the welcome cannot be encoded.
func (s *Server) register(sess *session) string {
	conn := s.engine.Register(sess)
	welcome, err := encodeWelcome(conn.ID)
	if err != nil {
		s.engine.Disconnect(conn.ID)
		sess.closeWith(websocket.CloseInternalServerErr, "internal error")
		return ""
	}
	sess.enqueueRaw(welcome)
	return conn.ID
}

func (s *Server) dispatch(sess *session, connID string, msg clientMessage) {
	var relayErr *relay.Error
	switch msg.Type {
	case messageTypeJoin:
		relayErr = s.engine.Join(connID, msg.RoomID, msg.Metadata)
	case messageTypeOffer, messageTypeAnswer, messageTypeICECandidate, messageTypeDataRelay:
		relayErr = s.engine.Relay(connID, msg.Type, msg.TargetID, relayPayload(msg))
	case messageTypeMetadataUpdate:
		relayErr = s.engine.UpdateMetadata(connID, msg.TargetID, msg.Key, msg.Value, metadataPayload(msg))
	}
	if relayErr != nil {
		sess.sendError(relayErr.Kind, relayErr.Message)
	}
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
