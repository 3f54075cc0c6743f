package httpserver

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/pion/webrtc/v4"

	"github.com/wequil/signal-relay/internal/config"
	"github.com/wequil/signal-relay/internal/metrics"
	"github.com/wequil/signal-relay/internal/relay"
	"github.com/wequil/signal-relay/internal/turnrest"
)

func testConfig() config.Config {
	return config.Config{
		ListenAddr:      "127.0.0.1:0",
		AllowedOrigins:  []string{"https://app.example.com"},
		Mode:            config.ModeDev,
		RoomIDMaxLength: config.DefaultRoomIDMaxLength,
	}
}

func newTestServer(t *testing.T, cfg config.Config, opts Options) *httptest.Server {
	t.Helper()
	s := New(cfg, nil, BuildInfo{Commit: "abc123", BuildTime: "2025-01-01T00:00:00Z"}, opts)
	s.ready.Store(true)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func getJSON(t *testing.T, url string, out any) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			t.Fatalf("unmarshal %s: %v", body, err)
		}
	}
	return resp
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t, testConfig(), Options{})

	var body map[string]any
	resp := getJSON(t, ts.URL+"/healthz", &body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body["ok"] != true {
		t.Fatalf("body = %v", body)
	}
}

func TestReadyzIncludesEngineStats(t *testing.T) {
	engine := relay.NewEngine(nil, metrics.New(), relay.Limits{})
	ts := newTestServer(t, testConfig(), Options{Engine: engine})

	var body struct {
		Ready bool `json:"ready"`
		Stats struct {
			Connections int `json:"connections"`
			Rooms       int `json:"rooms"`
		} `json:"stats"`
	}
	resp := getJSON(t, ts.URL+"/readyz", &body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if !body.Ready {
		t.Fatalf("ready = false")
	}
	if body.Stats.Connections != 0 || body.Stats.Rooms != 0 {
		t.Fatalf("stats = %+v", body.Stats)
	}
}

func TestVersion(t *testing.T) {
	ts := newTestServer(t, testConfig(), Options{})

	var body BuildInfo
	getJSON(t, ts.URL+"/version", &body)
	if body.Commit != "abc123" {
		t.Fatalf("commit = %q", body.Commit)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	m := metrics.New()
	m.Inc(metrics.ConnectionsOpened)
	ts := newTestServer(t, testConfig(), Options{Metrics: m})

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `signal_relay_events_total{event="connections_opened"} 1`) {
		t.Fatalf("metrics body = %s", body)
	}
}

func TestICEServersWithoutTURNREST(t *testing.T) {
	cfg := testConfig()
	cfg.ICEServers = []webrtc.ICEServer{{URLs: []string{"stun:stun.example.com:3478"}}}
	ts := newTestServer(t, cfg, Options{})

	var body struct {
		ICEServers []struct {
			URLs       []string `json:"urls"`
			Username   string   `json:"username"`
			Credential any      `json:"credential"`
		} `json:"iceServers"`
		TTLSeconds *int64 `json:"ttlSeconds"`
	}
	getJSON(t, ts.URL+"/webrtc/ice", &body)
	if len(body.ICEServers) != 1 {
		t.Fatalf("iceServers = %+v", body.ICEServers)
	}
	if body.TTLSeconds != nil {
		t.Fatalf("ttlSeconds present without TURN REST")
	}
}

func TestICEServersInjectsTURNRESTCredentials(t *testing.T) {
	cfg := testConfig()
	cfg.ICEServers = []webrtc.ICEServer{
		{URLs: []string{"stun:stun.example.com:3478"}},
		{URLs: []string{"turn:turn.example.com:3478?transport=udp"}},
	}
	cfg.TURNREST = config.TurnRESTConfig{SharedSecret: "secret", TTLSeconds: 600, UsernamePrefix: "relay"}

	gen, err := turnrest.NewGenerator(turnrest.GeneratorConfig{
		SharedSecret:   cfg.TURNREST.SharedSecret,
		TTLSeconds:     cfg.TURNREST.TTLSeconds,
		UsernamePrefix: cfg.TURNREST.UsernamePrefix,
	})
	if err != nil {
		t.Fatalf("new generator: %v", err)
	}
	ts := newTestServer(t, cfg, Options{TURNREST: gen})

	var body struct {
		ICEServers []struct {
			URLs       []string `json:"urls"`
			Username   string   `json:"username"`
			Credential string   `json:"credential"`
		} `json:"iceServers"`
		TTLSeconds int64 `json:"ttlSeconds"`
	}
	getJSON(t, ts.URL+"/webrtc/ice", &body)
	if body.TTLSeconds != 600 {
		t.Fatalf("ttlSeconds = %d", body.TTLSeconds)
	}
	if len(body.ICEServers) != 2 {
		t.Fatalf("iceServers = %+v", body.ICEServers)
	}
	if body.ICEServers[0].Username != "" {
		t.Fatalf("stun entry got credentials: %+v", body.ICEServers[0])
	}
	turn := body.ICEServers[1]
	if !strings.Contains(turn.Username, ":relay:") || turn.Credential == "" {
		t.Fatalf("turn entry = %+v", turn)
	}
}

func TestOriginPolicy(t *testing.T) {
	ts := newTestServer(t, testConfig(), Options{})
	client := ts.Client()

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/webrtc/ice", nil)
	req.Header.Set("Origin", "https://app.example.com")
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("allowed origin status = %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Fatalf("allow-origin = %q", got)
	}

	req, _ = http.NewRequest(http.MethodGet, ts.URL+"/webrtc/ice", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	resp, err = client.Do(req)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("disallowed origin status = %d", resp.StatusCode)
	}
}

func TestOriginPolicyNoHeaderPasses(t *testing.T) {
	ts := newTestServer(t, testConfig(), Options{})

	resp := getJSON(t, ts.URL+"/webrtc/ice", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestRequestIDEchoed(t *testing.T) {
	ts := newTestServer(t, testConfig(), Options{})
	client := ts.Client()

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/healthz", nil)
	req.Header.Set("X-Request-ID", "req-42")
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if got := resp.Header.Get("X-Request-ID"); got != "req-42" {
		t.Fatalf("request id = %q", got)
	}

	resp, err = http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.Header.Get("X-Request-ID") == "" {
		t.Fatalf("expected generated request id")
	}
}
