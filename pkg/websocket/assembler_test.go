package websocket

import (
	"bytes"
	"testing"
)

func TestAssemblerSingleFrameMessage(t *testing.T) {
	a := newAssembler(0)
	msg, done, err := a.addFrame(frame{fin: true, opcode: OpcodeBinary, payload: []byte("hi")})
	if err != nil || !done {
		t.Fatalf("addFrame() = (_, %v, %v), want (_, true, nil)", done, err)
	}
	if msg.opcode != OpcodeBinary || !bytes.Equal(msg.data, []byte("hi")) {
		t.Errorf("addFrame() message = %+v", msg)
	}
}

func TestAssemblerReassemblesFragments(t *testing.T) {
	a := newAssembler(0)
	if _, done, err := a.addFrame(frame{fin: false, opcode: OpcodeText, payload: []byte("hel")}); err != nil || done {
		t.Fatalf("first fragment: done=%v err=%v", done, err)
	}
	if _, done, err := a.addFrame(frame{fin: false, opcode: opcodeContinuation, payload: []byte("lo, ")}); err != nil || done {
		t.Fatalf("second fragment: done=%v err=%v", done, err)
	}
	msg, done, err := a.addFrame(frame{fin: true, opcode: opcodeContinuation, payload: []byte("world")})
	if err != nil || !done {
		t.Fatalf("final fragment: done=%v err=%v", done, err)
	}
	if string(msg.data) != "hello, world" {
		t.Errorf("reassembled message = %q, want %q", msg.data, "hello, world")
	}
}

func TestAssemblerRejectsContinuationWithoutStart(t *testing.T) {
	a := newAssembler(0)
	if _, _, err := a.addFrame(frame{fin: true, opcode: opcodeContinuation, payload: []byte("x")}); err == nil {
		t.Fatal("addFrame() = nil error, want error for orphan continuation")
	}
}

func TestAssemblerRejectsInterleavedDataFrame(t *testing.T) {
	a := newAssembler(0)
	if _, _, err := a.addFrame(frame{fin: false, opcode: OpcodeText, payload: []byte("a")}); err != nil {
		t.Fatalf("unexpected error starting message: %v", err)
	}
	if _, _, err := a.addFrame(frame{fin: true, opcode: OpcodeBinary, payload: []byte("b")}); err == nil {
		t.Fatal("addFrame() = nil error, want error for a second data frame before the first completed")
	}
}

func TestAssemblerRejectsOverMaxSize(t *testing.T) {
	a := newAssembler(4)
	if _, _, err := a.addFrame(frame{fin: true, opcode: OpcodeBinary, payload: []byte("12345")}); err == nil {
		t.Fatal("addFrame() = nil error, want error for message exceeding maxSize")
	}
}

func TestAssemblerRejectsInvalidUTF8AcrossFragments(t *testing.T) {
	a := newAssembler(0)
	// 0xE2 0x82 0xAC is the Euro sign, split across two fragments; this
	// must succeed since the split falls mid-rune, not mid-message.
	if _, done, err := a.addFrame(frame{fin: false, opcode: OpcodeText, payload: []byte{0xE2, 0x82}}); err != nil || done {
		t.Fatalf("first fragment: done=%v err=%v", done, err)
	}
	if _, done, err := a.addFrame(frame{fin: true, opcode: opcodeContinuation, payload: []byte{0xAC}}); err != nil || !done {
		t.Fatalf("final fragment: done=%v err=%v", done, err)
	}

	a.reset()
	if _, _, err := a.addFrame(frame{fin: false, opcode: OpcodeText, payload: []byte{0xE2, 0x82}}); err != nil {
		t.Fatalf("unexpected error on first fragment: %v", err)
	}
	if _, _, err := a.addFrame(frame{fin: true, opcode: opcodeContinuation, payload: []byte{0xC0, 0x80}}); err == nil {
		t.Fatal("addFrame() = nil error, want error for invalid UTF-8 spanning fragments")
	}
}

func TestAssemblerRejectsTruncatedUTF8AtMessageEnd(t *testing.T) {
	a := newAssembler(0)
	if _, done, err := a.addFrame(frame{fin: true, opcode: OpcodeText, payload: []byte{0xE2, 0x82}}); err == nil || done {
		t.Fatalf("addFrame() = (_, %v, %v), want error for truncated rune at message end", done, err)
	}
}
