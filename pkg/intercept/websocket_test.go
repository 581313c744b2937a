package intercept

import (
	"bytes"
	"testing"
)

// buildFrame constructs a masked client->server frame for test input.
func buildFrame(fin bool, opcode uint8, payload []byte) []byte {
	var b bytes.Buffer
	first := opcode
	if fin {
		first |= 0x80
	}
	b.WriteByte(first)

	maskBit := byte(0x80)
	switch {
	case len(payload) < 126:
		b.WriteByte(maskBit | byte(len(payload)))
	case len(payload) < 65536:
		b.WriteByte(maskBit | 126)
		b.WriteByte(byte(len(payload) >> 8))
		b.WriteByte(byte(len(payload)))
	default:
		t := make([]byte, 8)
		n := len(payload)
		for i := 7; i >= 0; i-- {
			t[i] = byte(n)
			n >>= 8
		}
		b.WriteByte(maskBit | 127)
		b.Write(t)
	}

	key := []byte{0x12, 0x34, 0x56, 0x78}
	b.Write(key)
	masked := make([]byte, len(payload))
	for i, c := range payload {
		masked[i] = c ^ key[i%4]
	}
	b.Write(masked)
	return b.Bytes()
}

func TestParseWSFrameSingleFrameText(t *testing.T) {
	raw := buildFrame(true, opText, []byte("hello"))
	frame, n, err := parseWSFrame(raw)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if n != len(raw) {
		t.Errorf("expected consumed length %d, got %d", len(raw), n)
	}
	if !frame.fin || frame.opcode != opText {
		t.Errorf("unexpected frame header: %+v", frame)
	}
	if string(frame.payload) != "hello" {
		t.Errorf("expected payload 'hello', got %q", frame.payload)
	}
}

func TestParseWSFrameShortBufferSignalsMoreData(t *testing.T) {
	raw := buildFrame(true, opText, []byte("hello world"))
	_, _, err := parseWSFrame(raw[:3])
	if err == nil {
		t.Fatal("expected short-buffer error on a truncated frame")
	}
}

func TestParseWSFrameExtendedLength(t *testing.T) {
	payload := bytes.Repeat([]byte{'x'}, 200)
	raw := buildFrame(true, opBinary, payload)
	frame, n, err := parseWSFrame(raw)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if n != len(raw) {
		t.Errorf("expected consumed %d, got %d", len(raw), n)
	}
	if !bytes.Equal(frame.payload, payload) {
		t.Error("payload mismatch on extended-length frame")
	}
}

func TestFrameAssemblerReassemblesFragments(t *testing.T) {
	asm := &frameAssembler{}

	f1 := &wsFrame{fin: false, opcode: opText, payload: []byte("hel")}
	f2 := &wsFrame{fin: false, opcode: opContinuation, payload: []byte("lo ")}
	f3 := &wsFrame{fin: true, opcode: opContinuation, payload: []byte("world")}

	if _, _, complete := asm.add(f1); complete {
		t.Fatal("first fragment should not be complete")
	}
	if _, _, complete := asm.add(f2); complete {
		t.Fatal("second fragment should not be complete")
	}
	payload, opcode, complete := asm.add(f3)
	if !complete {
		t.Fatal("final fragment should complete the message")
	}
	if opcode != opText {
		t.Errorf("expected reassembled opcode text, got %d", opcode)
	}
	if string(payload) != "hello world" {
		t.Errorf("expected 'hello world', got %q", payload)
	}
}

func TestFrameAssemblerControlFrameInterleavesWithoutDisruption(t *testing.T) {
	asm := &frameAssembler{}
	f1 := &wsFrame{fin: false, opcode: opBinary, payload: []byte{1, 2}}
	ping := &wsFrame{fin: true, opcode: opPing, payload: []byte("ping")}
	f2 := &wsFrame{fin: true, opcode: opContinuation, payload: []byte{3, 4}}

	asm.add(f1)
	payload, opcode, complete := asm.add(ping)
	if !complete || opcode != opPing || string(payload) != "ping" {
		t.Fatalf("expected immediate ping completion, got payload=%q opcode=%d complete=%v", payload, opcode, complete)
	}

	payload, opcode, complete = asm.add(f2)
	if !complete || opcode != opBinary {
		t.Fatalf("expected data message to complete after ping interleave, got opcode=%d complete=%v", opcode, complete)
	}
	if !bytes.Equal(payload, []byte{1, 2, 3, 4}) {
		t.Errorf("expected reassembled binary payload, got %v", payload)
	}
}
