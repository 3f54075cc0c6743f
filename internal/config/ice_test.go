package config

import (
	"testing"
)

func TestParseICEServersJSON(t *testing.T) {
	servers, err := ParseICEServersJSON(`[
		{"urls": "stun:stun.example.com:3478"},
		{"urls": ["turn:turn.example.com:3478"], "username": "u", "credential": "c"}
	]`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(servers) != 2 {
		t.Fatalf("len=%d, want 2", len(servers))
	}
	if servers[0].URLs[0] != "stun:stun.example.com:3478" {
		t.Fatalf("urls[0]=%v", servers[0].URLs)
	}
	if servers[1].Username != "u" {
		t.Fatalf("username=%q", servers[1].Username)
	}
	if cred, _ := servers[1].Credential.(string); cred != "c" {
		t.Fatalf("credential=%v", servers[1].Credential)
	}
}

func TestParseICEServersJSON_RejectsBadScheme(t *testing.T) {
	_, err := ParseICEServersJSON(`[{"urls": "http://example.com"}]`)
	if err == nil {
		t.Fatalf("expected error for non-ICE scheme")
	}
}

func TestParseICEServersYAML(t *testing.T) {
	servers, err := ParseICEServersYAML([]byte(`
- urls: stun:stun.example.com:3478
- urls: [turn:turn.example.com:3478, turns:turn.example.com:5349]
  username: u
  credential: c
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(servers) != 2 {
		t.Fatalf("len=%d, want 2", len(servers))
	}
	if len(servers[1].URLs) != 2 {
		t.Fatalf("urls=%v", servers[1].URLs)
	}
}

func TestICEServersFileResolution(t *testing.T) {
	readFile := func(path string) ([]byte, error) {
		if path != "/etc/relay/ice.yaml" {
			t.Fatalf("unexpected path %q", path)
		}
		return []byte("- urls: stun:stun.example.com:3478\n"), nil
	}
	servers, err := parseICEServersFromValues(readFile, "", "/etc/relay/ice.yaml", "", "", "", "")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(servers) != 1 {
		t.Fatalf("len=%d, want 1", len(servers))
	}
}

func TestICEServersJSONTakesPrecedenceOverFile(t *testing.T) {
	readFile := func(string) ([]byte, error) {
		t.Fatalf("file must not be read when JSON is set")
		return nil, nil
	}
	servers, err := parseICEServersFromValues(readFile, `[{"urls": "stun:a.example:3478"}]`, "/ignored", "", "", "", "")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(servers) != 1 {
		t.Fatalf("len=%d, want 1", len(servers))
	}
}

func TestConvenienceEnv_TURNRequiresCreds(t *testing.T) {
	_, err := ParseICEServersFromConvenienceEnv("", "turn:turn.example.com:3478", "", "")
	if err == nil {
		t.Fatalf("expected error when TURN creds missing")
	}

	servers, err := ParseICEServersFromConvenienceEnv("stun:s.example:3478", "turn:t.example:3478", "u", "c")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(servers) != 2 {
		t.Fatalf("len=%d, want 2", len(servers))
	}
}

func TestHasCompleteTURNCredentials(t *testing.T) {
	withCreds, err := ParseICEServersJSON(`[{"urls": "turn:t.example:3478", "username": "u", "credential": "c"}]`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !HasCompleteTURNCredentials(withCreds) {
		t.Fatalf("expected complete credentials")
	}

	withoutCreds, err := ParseICEServersJSON(`[{"urls": "turn:t.example:3478"}]`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if HasCompleteTURNCredentials(withoutCreds) {
		t.Fatalf("expected incomplete credentials")
	}
}
