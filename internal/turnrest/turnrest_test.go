package turnrest

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"testing"
	"time"
)

func TestGenerate_CoturnCompatible(t *testing.T) {
	now := time.Unix(1_700_000_000, 0).UTC()
	g, err := NewGenerator(GeneratorConfig{
		SharedSecret:   "north",
		TTLSeconds:     600,
		UsernamePrefix: "relay",
		Now:            func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("new generator: %v", err)
	}

	creds, err := g.Generate("abc123")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	wantUsername := "1700000600:relay:abc123"
	if creds.Username != wantUsername {
		t.Fatalf("username = %q, want %q", creds.Username, wantUsername)
	}
	if creds.ExpiryUnix != 1_700_000_600 {
		t.Fatalf("expiry = %d", creds.ExpiryUnix)
	}

	mac := hmac.New(sha1.New, []byte("north"))
	mac.Write([]byte(wantUsername))
	want := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	if creds.Credential != want {
		t.Fatalf("credential = %q, want %q", creds.Credential, want)
	}
}

func TestGenerate_RejectsColonInID(t *testing.T) {
	g, err := NewGenerator(GeneratorConfig{SharedSecret: "s", TTLSeconds: 1, UsernamePrefix: "p"})
	if err != nil {
		t.Fatalf("new generator: %v", err)
	}
	if _, err := g.Generate("a:b"); err == nil {
		t.Fatalf("expected error for id with colon")
	}
}

func TestNewGenerator_Validation(t *testing.T) {
	cases := []GeneratorConfig{
		{SharedSecret: "", TTLSeconds: 1, UsernamePrefix: "p"},
		{SharedSecret: "s", TTLSeconds: 0, UsernamePrefix: "p"},
		{SharedSecret: "s", TTLSeconds: 1, UsernamePrefix: ""},
		{SharedSecret: "s", TTLSeconds: 1, UsernamePrefix: "a:b"},
	}
	for i, cfg := range cases {
		if _, err := NewGenerator(cfg); err == nil {
			t.Errorf("case %d: expected error", i)
		}
	}
}

func TestGenerateRandom_UsesIDSource(t *testing.T) {
	g, err := NewGenerator(GeneratorConfig{
		SharedSecret:   "s",
		TTLSeconds:     60,
		UsernamePrefix: "relay",
		IDSource:       func() (string, error) { return "fixed", nil },
	})
	if err != nil {
		t.Fatalf("new generator: %v", err)
	}
	creds, err := g.GenerateRandom()
	if err != nil {
		t.Fatalf("generate random: %v", err)
	}
	if want := ":relay:fixed"; !contains(creds.Username, want) {
		t.Fatalf("username %q missing %q", creds.Username, want)
	}
}

func contains(s, sub string) bool {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return true
		}
	}
	return false
}
