package body

import (
	"bytes"
	"compress/gzip"
	"testing"
)

func TestIsBinaryByContentType(t *testing.T) {
	cases := []struct {
		name string
		ct   string
		data []byte
		want bool
	}{
		{"png", "image/png", []byte{0x89, 0x50, 0x4e, 0x47}, true},
		{"octet-stream", "application/octet-stream", []byte{1, 2, 3}, true},
		{"json", "application/json", []byte(`{"a":1}`), false},
		{"text plain", "text/plain", []byte("hello"), false},
		{"pdf", "application/pdf", []byte("%PDF"), true},
		{"video", "video/mp4", []byte{0, 1, 2}, true},
		{"audio", "audio/mpeg", []byte{0, 1, 2}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := IsBinary(tc.ct, tc.data)
			if got != tc.want {
				t.Errorf("IsBinary(%q, ...) = %v, want %v", tc.ct, got, tc.want)
			}
		})
	}
}

func TestIsBinaryHeuristic(t *testing.T) {
	text := bytes.Repeat([]byte("the quick brown fox "), 30)
	if IsBinary("", text) {
		t.Error("plain ascii text misclassified as binary")
	}

	binary := make([]byte, 512)
	for i := range binary {
		binary[i] = byte(i % 256)
	}
	if !IsBinary("", binary) {
		t.Error("high-entropy buffer misclassified as text")
	}
}

func TestProcessIdentity(t *testing.T) {
	p := NewPipeline(0)
	payload := p.Process([]byte("hello world"), "text/plain", "")
	if payload.IsBinary {
		t.Error("expected text payload")
	}
	if payload.Text != "hello world" {
		t.Errorf("got %q", payload.Text)
	}
}

func TestProcessGzipRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	_, _ = w.Write([]byte("Hello, 世界"))
	w.Close()

	p := NewPipeline(0)
	payload := p.Process(buf.Bytes(), "text/plain", "gzip")
	if payload.IsBinary {
		t.Fatalf("expected text payload, got binary (decodeErr=%v)", payload.DecodeError)
	}
	if payload.Text != "Hello, 世界" {
		t.Errorf("got %q", payload.Text)
	}

	plain := p.Process([]byte("Hello, 世界"), "text/plain", "")
	if plain.Text != payload.Text {
		t.Errorf("identity and decoded-gzip payload differ: %q vs %q", plain.Text, payload.Text)
	}
}

func TestProcessBinaryMarker(t *testing.T) {
	p := NewPipeline(0)
	raw := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	payload := p.Process(raw, "image/png", "")
	if !payload.IsBinary {
		t.Fatal("expected binary payload")
	}
	s := payload.String()
	if s[:len(BinaryMarker)] != BinaryMarker {
		t.Errorf("expected marker prefix, got %q", s)
	}
}

func TestEmptyPayloadIsAbsent(t *testing.T) {
	p := NewPipeline(0)
	payload := p.Process(nil, "text/plain", "")
	if !payload.Empty() {
		t.Error("expected empty payload")
	}
	if payload.String() != "" {
		t.Errorf("expected empty string, got %q", payload.String())
	}
}

func TestSizeCapTruncates(t *testing.T) {
	p := NewPipeline(4)
	payload := p.Process([]byte("hello world"), "text/plain", "")
	if payload.Text != "hell" {
		t.Errorf("expected truncation to 4 bytes, got %q", payload.Text)
	}
}

func TestDecompressionFailureDowngradesToBinary(t *testing.T) {
	p := NewPipeline(0)
	payload := p.Process([]byte("not actually gzip"), "text/plain", "gzip")
	if !payload.IsBinary {
		t.Error("expected downgrade to binary on decode failure")
	}
	if payload.DecodeError == nil {
		t.Error("expected DecodeError to be set")
	}
}

func TestWebSocketTextBypassesClassification(t *testing.T) {
	// A WS text frame full of control bytes would trip the heuristic if run
	// through Process, but ProcessWebSocketText must store it verbatim.
	s := string([]byte{1, 2, 3, 4, 5, 6, 7, 8})
	payload := ProcessWebSocketText(s)
	if payload.IsBinary {
		t.Error("websocket text frames must never be classified as binary")
	}
	if payload.Text != s {
		t.Errorf("got %q", payload.Text)
	}
}
