package intercept

import (
	"net/http"
	"testing"
)

func TestIsWebSocketUpgrade(t *testing.T) {
	h := http.Header{}
	h.Set("Upgrade", "websocket")
	h.Set("Connection", "Upgrade")
	if !isWebSocketUpgrade(h) {
		t.Error("expected upgrade headers to be detected")
	}

	plain := http.Header{}
	plain.Set("Connection", "keep-alive")
	if isWebSocketUpgrade(plain) {
		t.Error("expected plain headers not to be detected as upgrade")
	}
}

func TestHeadersFromHTTP(t *testing.T) {
	h := http.Header{}
	h.Add("X-Test", "a")
	h.Add("X-Test", "b")

	out := headersFromHTTP(h)
	if len(out) != 2 {
		t.Fatalf("expected 2 header pairs, got %d", len(out))
	}
}

func TestEnsurePort(t *testing.T) {
	if got := ensurePort("example.com", "80"); got != "example.com:80" {
		t.Errorf("expected default port appended, got %q", got)
	}
	if got := ensurePort("example.com:9000", "80"); got != "example.com:9000" {
		t.Errorf("expected existing port preserved, got %q", got)
	}
}

func TestNewRequiresStore(t *testing.T) {
	_, err := New(Config{})
	if err == nil {
		t.Error("expected error when Store is nil")
	}
}
