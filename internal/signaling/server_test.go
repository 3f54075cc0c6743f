package signaling

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wequil/signal-relay/internal/config"
	"github.com/wequil/signal-relay/internal/metrics"
	"github.com/wequil/signal-relay/internal/relay"
)

func testConfig() config.Config {
	return config.Config{
		RoomIDMaxLength:               100,
		AuthMode:                      config.AuthModeNone,
		SignalingAuthTimeout:          2 * time.Second,
		SignalingWSIdleTimeout:        60 * time.Second,
		SignalingWSPingInterval:       20 * time.Second,
		MaxSignalingMessageBytes:      64 * 1024,
		MaxSignalingMessagesPerSecond: 1000,
	}
}

func newTestServer(t *testing.T, cfg config.Config) *httptest.Server {
	t.Helper()
	engine := relay.NewEngine(nil, metrics.New(), relay.Limits{})
	srv, err := NewServer(cfg, nil, metrics.New(), engine)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return ts
}

func dial(t *testing.T, ts *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws" + query
	c, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func readFrame(t *testing.T, c *websocket.Conn) serverMessage {
	t.Helper()
	_ = c.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := c.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg serverMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	return msg
}

func expectFrame(t *testing.T, c *websocket.Conn, msgType string) serverMessage {
	t.Helper()
	msg := readFrame(t, c)
	if msg.Type != msgType {
		t.Fatalf("frame type = %q (%+v), want %q", msg.Type, msg, msgType)
	}
	return msg
}

func sendJSON(t *testing.T, c *websocket.Conn, raw string) {
	t.Helper()
	if err := c.WriteMessage(websocket.TextMessage, []byte(raw)); err != nil {
		t.Fatalf("write: %v", err)
	}
}

// connect dials, consumes the welcome frame and returns the conn with its
// server-assigned id.
func connect(t *testing.T, ts *httptest.Server) (*websocket.Conn, string) {
	t.Helper()
	c := dial(t, ts, "")
	welcome := expectFrame(t, c, "welcome")
	if welcome.ConnectionID == "" {
		t.Fatalf("welcome missing connectionId")
	}
	return c, welcome.ConnectionID
}

func TestJoinFlow_RosterAndPeerJoined(t *testing.T) {
	ts := newTestServer(t, testConfig())

	c1, id1 := connect(t, ts)
	c2, _ := connect(t, ts)

	sendJSON(t, c1, `{"type":"join","roomId":"room-1","metadata":{"name":"alice"}}`)
	roster := expectFrame(t, c1, "roster")
	if len(roster.Peers) != 0 {
		t.Fatalf("first roster = %+v", roster.Peers)
	}

	sendJSON(t, c2, `{"type":"join","roomId":"room-1","metadata":{"name":"bob"}}`)
	roster = expectFrame(t, c2, "roster")
	if len(roster.Peers) != 1 || roster.Peers[0].ID != id1 || roster.Peers[0].Metadata["name"] != "alice" {
		t.Fatalf("second roster = %+v", roster.Peers)
	}

	joined := expectFrame(t, c1, "peer-joined")
	if joined.Peer == nil || joined.Peer.Metadata["name"] != "bob" {
		t.Fatalf("peer-joined = %+v", joined)
	}
}

func TestOfferAnswerRoundTrip(t *testing.T) {
	ts := newTestServer(t, testConfig())

	c1, id1 := connect(t, ts)
	c2, id2 := connect(t, ts)

	sendJSON(t, c1, `{"type":"join","roomId":"room-1"}`)
	expectFrame(t, c1, "roster")
	sendJSON(t, c2, `{"type":"join","roomId":"room-1"}`)
	expectFrame(t, c2, "roster")
	expectFrame(t, c1, "peer-joined")

	sendJSON(t, c1, fmt.Sprintf(`{"type":"offer","targetId":%q,"sdp":{"type":"offer","sdp":"v=0"}}`, id2))
	offer := expectFrame(t, c2, "offer")
	if offer.SenderID != id1 {
		t.Fatalf("offer senderId = %q, want %q", offer.SenderID, id1)
	}
	if !strings.Contains(string(offer.SDP), `"v=0"`) {
		t.Fatalf("offer sdp = %s", offer.SDP)
	}

	sendJSON(t, c2, fmt.Sprintf(`{"type":"answer","targetId":%q,"sdp":{"type":"answer","sdp":"v=0a"}}`, id1))
	answer := expectFrame(t, c1, "answer")
	if answer.SenderID != id2 {
		t.Fatalf("answer senderId = %q, want %q", answer.SenderID, id2)
	}

	sendJSON(t, c1, fmt.Sprintf(`{"type":"ice-candidate","targetId":%q,"candidate":{"candidate":"candidate:1"}}`, id2))
	cand := expectFrame(t, c2, "ice-candidate")
	if cand.SenderID != id1 || len(cand.Candidate) == 0 {
		t.Fatalf("candidate = %+v", cand)
	}
}

func TestErrorsAreNonFatal(t *testing.T) {
	ts := newTestServer(t, testConfig())

	c1, _ := connect(t, ts)

	// Relay before join.
	sendJSON(t, c1, `{"type":"offer","targetId":"nobody","sdp":{"type":"offer","sdp":"v=0"}}`)
	errFrame := expectFrame(t, c1, "error")
	if errFrame.Code != string(relay.ErrNotJoined) {
		t.Fatalf("code = %q, want %q", errFrame.Code, relay.ErrNotJoined)
	}

	// Malformed message (spoofed senderId is an unknown field).
	sendJSON(t, c1, `{"type":"offer","targetId":"x","sdp":{},"senderId":"spoof"}`)
	errFrame = expectFrame(t, c1, "error")
	if errFrame.Code != string(relay.ErrMalformedMessage) {
		t.Fatalf("code = %q, want %q", errFrame.Code, relay.ErrMalformedMessage)
	}

	// The connection survives and can still join.
	sendJSON(t, c1, `{"type":"join","roomId":"room-1"}`)
	expectFrame(t, c1, "roster")
}

func TestDuplicateJoinReported(t *testing.T) {
	ts := newTestServer(t, testConfig())

	c1, _ := connect(t, ts)
	sendJSON(t, c1, `{"type":"join","roomId":"room-1"}`)
	expectFrame(t, c1, "roster")

	sendJSON(t, c1, `{"type":"join","roomId":"room-2"}`)
	errFrame := expectFrame(t, c1, "error")
	if errFrame.Code != string(relay.ErrDuplicateJoin) {
		t.Fatalf("code = %q, want %q", errFrame.Code, relay.ErrDuplicateJoin)
	}

	// Re-joining the same room is a duplicate join too.
	sendJSON(t, c1, `{"type":"join","roomId":"room-1"}`)
	errFrame = expectFrame(t, c1, "error")
	if errFrame.Code != string(relay.ErrDuplicateJoin) {
		t.Fatalf("code = %q, want %q", errFrame.Code, relay.ErrDuplicateJoin)
	}
}

func TestPeerLeftOnDisconnect(t *testing.T) {
	ts := newTestServer(t, testConfig())

	c1, _ := connect(t, ts)
	c2, id2 := connect(t, ts)

	sendJSON(t, c1, `{"type":"join","roomId":"room-1"}`)
	expectFrame(t, c1, "roster")
	sendJSON(t, c2, `{"type":"join","roomId":"room-1"}`)
	expectFrame(t, c2, "roster")
	expectFrame(t, c1, "peer-joined")

	c2.Close()

	left := expectFrame(t, c1, "peer-left")
	if left.Peer == nil || left.Peer.ID != id2 {
		t.Fatalf("peer-left = %+v", left)
	}
}

func TestMetadataUpdateBroadcast(t *testing.T) {
	ts := newTestServer(t, testConfig())

	c1, id1 := connect(t, ts)
	c2, _ := connect(t, ts)

	sendJSON(t, c1, `{"type":"join","roomId":"room-1","metadata":{"name":"alice"}}`)
	expectFrame(t, c1, "roster")
	sendJSON(t, c2, `{"type":"join","roomId":"room-1"}`)
	expectFrame(t, c2, "roster")
	expectFrame(t, c1, "peer-joined")

	sendJSON(t, c1, `{"type":"metadata-update","key":"status","value":"busy"}`)
	update := expectFrame(t, c2, "metadata-update")
	if update.SenderID != id1 || update.Peer == nil {
		t.Fatalf("update = %+v", update)
	}
	if update.Peer.Metadata["status"] != "busy" || update.Peer.Metadata["name"] != "alice" {
		t.Fatalf("metadata = %+v", update.Peer.Metadata)
	}
}

func TestMetadataUpdateTargetedMirrorsSenderShape(t *testing.T) {
	ts := newTestServer(t, testConfig())

	c1, id1 := connect(t, ts)
	c2, id2 := connect(t, ts)

	sendJSON(t, c1, `{"type":"join","roomId":"room-1"}`)
	expectFrame(t, c1, "roster")
	sendJSON(t, c2, `{"type":"join","roomId":"room-1"}`)
	expectFrame(t, c2, "roster")
	expectFrame(t, c1, "peer-joined")

	sendJSON(t, c1, fmt.Sprintf(`{"type":"metadata-update","targetId":%q,"key":"volume","value":"0.5"}`, id2))
	update := expectFrame(t, c2, "metadata-update")
	if update.SenderID != id1 {
		t.Fatalf("senderId = %q, want %q", update.SenderID, id1)
	}
	// The target sees the same top-level key/value fields the sender sent.
	if update.Key != "volume" || update.Value != "0.5" {
		t.Fatalf("key/value = %q/%q", update.Key, update.Value)
	}
	if len(update.Payload) != 0 {
		t.Fatalf("unexpected payload field: %s", update.Payload)
	}
}

func TestAuthAPIKey(t *testing.T) {
	cfg := testConfig()
	cfg.AuthMode = config.AuthModeAPIKey
	cfg.APIKey = "secret"
	ts := newTestServer(t, cfg)

	t.Run("query credential", func(t *testing.T) {
		c := dial(t, ts, "?apiKey=secret")
		expectFrame(t, c, "welcome")
	})

	t.Run("header credential", func(t *testing.T) {
		wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
		header := http.Header{}
		header.Set("X-API-Key", "secret")
		c, _, err := websocket.DefaultDialer.Dial(wsURL, header)
		if err != nil {
			t.Fatalf("dial: %v", err)
		}
		t.Cleanup(func() { c.Close() })
		expectFrame(t, c, "welcome")
	})

	t.Run("auth message", func(t *testing.T) {
		c := dial(t, ts, "")
		sendJSON(t, c, `{"type":"auth","apiKey":"secret"}`)
		expectFrame(t, c, "welcome")
	})

	t.Run("wrong key closes", func(t *testing.T) {
		c := dial(t, ts, "")
		sendJSON(t, c, `{"type":"auth","apiKey":"wrong"}`)
		_ = c.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, _, err := c.ReadMessage()
		if err == nil {
			t.Fatalf("expected close")
		}
		if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
			t.Fatalf("err = %v, want policy violation", err)
		}
	})

	t.Run("non-auth message before auth closes", func(t *testing.T) {
		c := dial(t, ts, "")
		sendJSON(t, c, `{"type":"join","roomId":"room-1"}`)
		_ = c.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, _, err := c.ReadMessage()
		if err == nil {
			t.Fatalf("expected close")
		}
	})
}

func TestAuthTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.AuthMode = config.AuthModeAPIKey
	cfg.APIKey = "secret"
	cfg.SignalingAuthTimeout = 200 * time.Millisecond
	ts := newTestServer(t, cfg)

	c := dial(t, ts, "")
	_ = c.SetReadDeadline(time.Now().Add(5 * time.Second))
	start := time.Now()
	_, _, err := c.ReadMessage()
	if err == nil {
		t.Fatalf("expected close")
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Fatalf("auth timeout took %v", elapsed)
	}
}

func TestRateLimitCloses(t *testing.T) {
	cfg := testConfig()
	cfg.MaxSignalingMessagesPerSecond = 1
	ts := newTestServer(t, cfg)

	c, _ := connect(t, ts)

	for i := 0; i < 10; i++ {
		if err := c.WriteMessage(websocket.TextMessage, []byte(`{"type":"metadata-update","key":"k","value":"v"}`)); err != nil {
			break
		}
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		_ = c.SetReadDeadline(time.Now().Add(time.Until(deadline)))
		_, data, err := c.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
				return
			}
			t.Fatalf("err = %v, want policy violation close", err)
		}
		var msg serverMessage
		if jsonErr := json.Unmarshal(data, &msg); jsonErr == nil && msg.Code == "rate_limited" {
			continue
		}
		if time.Now().After(deadline) {
			t.Fatalf("no rate limit close observed")
		}
	}
}

func TestKeepalive_PongExtendsIdleTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.SignalingWSIdleTimeout = 500 * time.Millisecond
	cfg.SignalingWSPingInterval = 50 * time.Millisecond
	ts := newTestServer(t, cfg)

	c, _ := connect(t, ts)

	// Default ping handler replies with pongs, so the connection must stay
	// open well past the idle timeout.
	done := make(chan error, 1)
	go func() {
		for {
			_ = c.SetReadDeadline(time.Now().Add(5 * time.Second))
			if _, _, err := c.ReadMessage(); err != nil {
				done <- err
				return
			}
		}
	}()

	select {
	case err := <-done:
		t.Fatalf("connection closed during keepalive: %v", err)
	case <-time.After(3 * cfg.SignalingWSIdleTimeout):
	}
}
