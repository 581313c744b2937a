package intercept

import (
	"bytes"
	"encoding/binary"
	"io"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/proxymcpd/proxymcpd/pkg/body"
	"github.com/proxymcpd/proxymcpd/pkg/store"
)

// WebSocket opcodes per RFC 6455 §11.8.
const (
	opContinuation = 0x0
	opText         = 0x1
	opBinary       = 0x2
	opClose        = 0x8
	opPing         = 0x9
	opPong         = 0xa
)

// maxWSFrameSize bounds how much of a single (possibly fragmented) message
// is buffered for reassembly; the rest is still tunneled byte-for-byte but
// dropped from capture.
const maxWSFrameSize = 4 * 1024 * 1024

const (
	directionInbound  = "inbound"  // client -> upstream
	directionOutbound = "outbound" // upstream -> client
)

// wsFrame is one parsed RFC 6455 frame.
type wsFrame struct {
	fin     bool
	opcode  uint8
	payload []byte
}

// parseWSFrame parses a single frame from the front of data, returning the
// frame and its total on-wire length. io.ErrShortBuffer signals that data
// does not yet contain a complete frame.
func parseWSFrame(data []byte) (*wsFrame, int, error) {
	if len(data) < 2 {
		return nil, 0, io.ErrShortBuffer
	}

	fin := data[0]&0x80 != 0
	opcode := data[0] & 0x0f
	masked := data[1]&0x80 != 0
	payloadLen := uint64(data[1] & 0x7f)
	offset := 2

	switch payloadLen {
	case 126:
		if len(data) < offset+2 {
			return nil, 0, io.ErrShortBuffer
		}
		payloadLen = uint64(binary.BigEndian.Uint16(data[offset : offset+2]))
		offset += 2
	case 127:
		if len(data) < offset+8 {
			return nil, 0, io.ErrShortBuffer
		}
		payloadLen = binary.BigEndian.Uint64(data[offset : offset+8])
		offset += 8
	}

	var maskKey []byte
	if masked {
		if len(data) < offset+4 {
			return nil, 0, io.ErrShortBuffer
		}
		maskKey = data[offset : offset+4]
		offset += 4
	}

	if uint64(len(data)) < uint64(offset)+payloadLen {
		return nil, 0, io.ErrShortBuffer
	}

	payload := make([]byte, payloadLen)
	copy(payload, data[offset:uint64(offset)+payloadLen])
	if masked {
		for i := range payload {
			payload[i] ^= maskKey[i%4]
		}
	}

	return &wsFrame{fin: fin, opcode: opcode, payload: payload}, offset + int(payloadLen), nil
}

// frameAssembler reassembles fragmented messages (continuation frames) into
// one complete payload per spec.md's per-event capture requirement.
type frameAssembler struct {
	buf         bytes.Buffer
	startOpcode uint8
	inProgress  bool
}

func (a *frameAssembler) add(f *wsFrame) (payload []byte, opcode uint8, complete bool) {
	if f.opcode >= opClose {
		// Control frames are never fragmented and may interleave with an
		// in-progress data message.
		return f.payload, f.opcode, true
	}

	if f.opcode != opContinuation {
		a.buf.Reset()
		a.startOpcode = f.opcode
		a.inProgress = !f.fin
		a.writeBounded(f.payload)
		if f.fin {
			return a.drain(), a.startOpcode, true
		}
		return nil, 0, false
	}

	if !a.inProgress {
		return nil, 0, false
	}
	a.writeBounded(f.payload)
	if f.fin {
		a.inProgress = false
		return a.drain(), a.startOpcode, true
	}
	return nil, 0, false
}

func (a *frameAssembler) writeBounded(p []byte) {
	if a.buf.Len() >= maxWSFrameSize {
		return
	}
	remaining := maxWSFrameSize - a.buf.Len()
	if len(p) > remaining {
		p = p[:remaining]
	}
	a.buf.Write(p)
}

func (a *frameAssembler) drain() []byte {
	out := make([]byte, a.buf.Len())
	copy(out, a.buf.Bytes())
	a.buf.Reset()
	return out
}

// tunnel tunnels WebSocket frames between client and upstream connections,
// capturing each complete message through the body pipeline into the store
// and recording the close event. It blocks until both directions finish.
type tunnel struct {
	st           *store.Store
	pipeline     *body.Pipeline
	connectionID string
	log          zerolog.Logger
	captureMsgs  bool

	closeOnce sync.Once
	closeCode int
	closeMsg  string
}

func newTunnel(st *store.Store, pipeline *body.Pipeline, connectionID string, log zerolog.Logger, captureMsgs bool) *tunnel {
	return &tunnel{st: st, pipeline: pipeline, connectionID: connectionID, log: log, captureMsgs: captureMsgs}
}

// Run copies frames in both directions until either side closes, then
// records the connection's close bookkeeping exactly once.
func (t *tunnel) Run(client, upstream net.Conn) {
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		t.pump(upstream, client, directionInbound)
	}()
	go func() {
		defer wg.Done()
		t.pump(client, upstream, directionOutbound)
	}()

	wg.Wait()
	t.recordClose()
}

// pump reads frames from src and relays raw bytes to dst unmodified, while
// separately reassembling and capturing complete application messages.
func (t *tunnel) pump(dst io.Writer, src io.Reader, direction string) {
	buf := make([]byte, 64*1024)
	var pending bytes.Buffer
	asm := &frameAssembler{}

	for {
		n, readErr := src.Read(buf)
		if n > 0 {
			if _, err := dst.Write(buf[:n]); err != nil {
				return
			}
			pending.Write(buf[:n])

			for {
				data := pending.Bytes()
				frame, frameLen, err := parseWSFrame(data)
				if err == io.ErrShortBuffer {
					break
				}
				if err != nil {
					pending.Reset()
					break
				}
				pending.Next(frameLen)

				if frame.opcode == opClose {
					t.noteClose(frame.payload)
				}

				payload, opcode, complete := asm.add(frame)
				if !complete {
					continue
				}
				t.captureMessage(payload, opcode, direction)
			}
		}
		if readErr != nil {
			return
		}
	}
}

// captureMessage appends a row only for data frames (text/binary). Control
// frames (ping/pong/close) are never stored here: close bookkeeping is
// already captured via noteClose/recordClose, and ping/pong carry no
// application payload worth persisting.
func (t *tunnel) captureMessage(payload []byte, opcode uint8, direction string) {
	if !t.captureMsgs {
		return
	}

	var typ string
	var p body.Payload
	switch opcode {
	case opText:
		typ = "text"
		p = body.ProcessWebSocketText(string(payload))
	case opBinary:
		typ = "binary"
		p = body.ProcessWebSocketBinary(payload)
	default:
		return
	}

	msg := &store.WebSocketMessage{
		ConnectionID: t.connectionID,
		Timestamp:    time.Now().UnixMilli(),
		Direction:    direction,
		Type:         typ,
		Payload:      p.String(),
		ByteSize:     int64(len(payload)),
	}
	if err := t.st.AppendWebSocketMessage(msg); err != nil {
		t.log.Warn().Err(err).Str("connection_id", t.connectionID).Msg("failed to store websocket message")
	}
}

func (t *tunnel) noteClose(payload []byte) {
	t.closeOnce.Do(func() {
		if len(payload) >= 2 {
			t.closeCode = int(binary.BigEndian.Uint16(payload[:2]))
			t.closeMsg = string(payload[2:])
		}
	})
}

func (t *tunnel) recordClose() {
	if err := t.st.UpdateWebSocketClose(t.connectionID, time.Now().UnixMilli(), t.closeCode, t.closeMsg); err != nil {
		t.log.Warn().Err(err).Str("connection_id", t.connectionID).Msg("failed to record websocket close")
	}
}
