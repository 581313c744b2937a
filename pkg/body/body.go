// Package body implements the decompress-classify-encode pipeline that
// turns a raw captured byte buffer into a Payload: either UTF-8 text or a
// base64-encoded binary blob tagged with the [BINARY:base64] marker.
//
// The pipeline owns the text/binary decision; callers never sniff content
// themselves.
package body

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"encoding/base64"
	"io"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/zstd"
)

// BinaryMarker prefixes the textual representation of a binary payload.
const BinaryMarker = "[BINARY:base64]"

// heuristicSampleSize is the number of leading bytes inspected when the
// content-type table cannot classify the content.
const heuristicSampleSize = 512

// heuristicThreshold is the fraction of "non-text" bytes above which a
// sample is classified as binary.
const heuristicThreshold = 0.30

// Payload is a tagged value: exactly one of Text or Binary is meaningful,
// selected by IsBinary. An empty payload (no text, no bytes) is absent.
type Payload struct {
	IsBinary bool
	Text     string
	Binary   []byte
	// DecodeError records a decompression failure; when set the payload
	// has been downgraded to binary/base64 per the DecodingError policy.
	DecodeError error
}

// Empty reports whether the payload carries no content at all.
func (p Payload) Empty() bool {
	if p.IsBinary {
		return len(p.Binary) == 0
	}
	return p.Text == ""
}

// String renders the payload the way the store persists it: UTF-8 text
// verbatim, or the BinaryMarker prefix followed by base64. Empty payloads
// render to "" (the absent value, stored as a nullable column).
func (p Payload) String() string {
	if p.Empty() {
		return ""
	}
	if p.IsBinary {
		return BinaryMarker + base64.StdEncoding.EncodeToString(p.Binary)
	}
	return p.Text
}

// Pipeline converts raw captured bytes into a Payload.
type Pipeline struct {
	// MaxSize caps the raw buffer before decompression; longer buffers are
	// truncated (a documented, lossy capture).
	MaxSize int64
}

// NewPipeline builds a Pipeline with the given size cap.
func NewPipeline(maxSize int64) *Pipeline {
	return &Pipeline{MaxSize: maxSize}
}

// Process runs the full pipeline: size cap, decompression, binary
// classification, encoding.
func (p *Pipeline) Process(raw []byte, contentType, contentEncoding string) Payload {
	if p.MaxSize > 0 && int64(len(raw)) > p.MaxSize {
		raw = raw[:p.MaxSize]
	}

	decoded, decErr := decompress(raw, contentEncoding)
	if decErr != nil {
		// Decompression failure downgrades to binary capture of the raw
		// (still-compressed) bytes; the caller's transaction error message
		// should note DecodingError.
		return Payload{IsBinary: true, Binary: raw, DecodeError: decErr}
	}

	if len(decoded) == 0 {
		return Payload{}
	}

	if IsBinary(contentType, decoded) {
		return Payload{IsBinary: true, Binary: decoded}
	}
	return Payload{Text: string(decoded)}
}

// ProcessWebSocketText stores a WebSocket text frame verbatim, bypassing
// classification: per spec, text frames never go through the binary
// decision.
func ProcessWebSocketText(s string) Payload {
	if s == "" {
		return Payload{}
	}
	return Payload{Text: s}
}

// ProcessWebSocketBinary runs a WebSocket binary frame through the same
// encoding step as HTTP bodies (no content-type is available, so frames are
// always treated as binary).
func ProcessWebSocketBinary(raw []byte) Payload {
	if len(raw) == 0 {
		return Payload{}
	}
	return Payload{IsBinary: true, Binary: raw}
}

func decompress(raw []byte, encoding string) ([]byte, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "", "identity":
		return raw, nil
	case "gzip":
		r, err := gzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, err
		}
		defer r.Close()
		return io.ReadAll(r)
	case "deflate":
		r := flate.NewReader(bytes.NewReader(raw))
		defer r.Close()
		return io.ReadAll(r)
	case "br", "brotli":
		r := brotli.NewReader(bytes.NewReader(raw))
		return io.ReadAll(r)
	case "zstd":
		r, err := zstd.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, err
		}
		defer r.Close()
		return io.ReadAll(r)
	default:
		return raw, nil
	}
}

// binaryPrefixes and binaryExact classify content by Content-Type, per the
// specification's explicit list.
var binaryPrefixes = []string{
	"image/", "video/", "audio/",
}

var binaryExact = map[string]bool{
	"application/pdf":          true,
	"application/zip":          true,
	"application/octet-stream": true,
	"application/x-binary":     true,
	"application/x-msdownload": true,
	"application/x-executable": true,
}

var textExact = map[string]bool{
	"application/json":                  true,
	"application/xml":                   true,
	"application/javascript":            true,
	"application/x-javascript":          true,
	"application/ecmascript":            true,
	"application/x-www-form-urlencoded": true,
}

// IsBinary classifies content per spec.md §4.C: content-type table first,
// then a byte-sampling heuristic for anything unrecognized.
func IsBinary(contentType string, data []byte) bool {
	ct := normalizeContentType(contentType)

	if ct != "" {
		for _, prefix := range binaryPrefixes {
			if strings.HasPrefix(ct, prefix) {
				return true
			}
		}
		if binaryExact[ct] {
			return true
		}
		if strings.HasPrefix(ct, "text/") || textExact[ct] {
			return false
		}
	}

	return heuristicIsBinary(data)
}

func normalizeContentType(ct string) string {
	if idx := strings.Index(ct, ";"); idx != -1 {
		ct = ct[:idx]
	}
	return strings.TrimSpace(strings.ToLower(ct))
}

// heuristicIsBinary samples up to heuristicSampleSize bytes and counts
// control bytes (<32, excluding tab/LF/CR) and high bytes (>126). If their
// combined fraction exceeds heuristicThreshold, the sample is binary.
func heuristicIsBinary(data []byte) bool {
	if len(data) == 0 {
		return false
	}
	n := len(data)
	if n > heuristicSampleSize {
		n = heuristicSampleSize
	}
	sample := data[:n]

	var suspicious int
	for _, b := range sample {
		if b < 32 && b != 9 && b != 10 && b != 13 {
			suspicious++
		} else if b > 126 {
			suspicious++
		}
	}

	return float64(suspicious)/float64(len(sample)) > heuristicThreshold
}
