package websocket

import (
	"errors"
	"testing"
)

func textFrame(fin bool, payload string) *frame {
	return &frame{fin: fin, opcode: opcodeText, payload: []byte(payload)}
}

func contFrame(fin bool, rsv1 bool, payload string) *frame {
	return &frame{fin: fin, opcode: opcodeContinuation, rsv1: rsv1, payload: []byte(payload)}
}

func TestReassemblerSingleFrameMessage(t *testing.T) {
	r := newReassembler(1024, nil)
	kind, body, ok, err := r.feed(textFrame(true, "hi"))
	if err != nil || !ok {
		t.Fatalf("feed: ok=%v err=%v", ok, err)
	}
	if kind != TextMessage || string(body) != "hi" {
		t.Fatalf("got %v %q", kind, body)
	}
}

func TestReassemblerUnexpectedContinuation(t *testing.T) {
	r := newReassembler(1024, nil)
	_, _, _, err := r.feed(contFrame(true, false, "x"))
	if !errors.Is(err, ErrUnexpectedContinuation) {
		t.Fatalf("err = %v, want ErrUnexpectedContinuation", err)
	}
}

func TestReassemblerDoubleStartIsError(t *testing.T) {
	r := newReassembler(1024, nil)
	if _, _, _, err := r.feed(textFrame(false, "a")); err != nil {
		t.Fatalf("first feed: %v", err)
	}
	_, _, _, err := r.feed(textFrame(false, "b"))
	if !errors.Is(err, ErrUnexpectedContinuation) {
		t.Fatalf("err = %v, want ErrUnexpectedContinuation", err)
	}
}

func TestReassemblerContinuationRSV1IsError(t *testing.T) {
	r := newReassembler(1024, nil)
	if _, _, _, err := r.feed(textFrame(false, "a")); err != nil {
		t.Fatalf("first feed: %v", err)
	}
	_, _, _, err := r.feed(contFrame(true, true, "b"))
	if !errors.Is(err, ErrReservedBits) {
		t.Fatalf("err = %v, want ErrReservedBits", err)
	}
}

func TestReassemblerMessageTooLarge(t *testing.T) {
	r := newReassembler(4, nil)
	_, _, _, err := r.feed(textFrame(true, "too long"))
	if !errors.Is(err, ErrMessageTooLarge) {
		t.Fatalf("err = %v, want ErrMessageTooLarge", err)
	}
}

func TestReassemblerInvalidUTF8(t *testing.T) {
	r := newReassembler(1024, nil)
	_, _, _, err := r.feed(&frame{fin: true, opcode: opcodeText, payload: []byte{0xFF, 0xFE}})
	if !errors.Is(err, ErrInvalidUTF8) {
		t.Fatalf("err = %v, want ErrInvalidUTF8", err)
	}
}

func TestReassemblerCompressedWithoutContextIsError(t *testing.T) {
	r := newReassembler(1024, nil)
	_, _, _, err := r.feed(&frame{fin: true, opcode: opcodeBinary, rsv1: true, payload: []byte("x")})
	if !errors.Is(err, ErrCompressionUnsupported) {
		t.Fatalf("err = %v, want ErrCompressionUnsupported", err)
	}
}
