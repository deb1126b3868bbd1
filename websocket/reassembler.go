package websocket

import "unicode/utf8"

// partialMessage is the reassembly buffer for a fragmented message in
// progress. It is created by the first data frame of a message and
// destroyed when the final fragment is assembled and delivered, or when
// the connection closes.
type partialMessage struct {
	kind       MessageType
	buf        []byte
	compressed bool // RSV1 was set on the first frame
}

// reassembler concatenates a stream of validated frames into complete
// messages, applying per-message DEFLATE inflation and UTF-8 validation,
// per the frame sequencing rules of RFC 6455 Section 5.4.
type reassembler struct {
	pending        *partialMessage
	maxMessageSize int64
	inflate        *deflateContext // nil unless permessage-deflate negotiated
}

func newReassembler(maxMessageSize int64, inflate *deflateContext) *reassembler {
	return &reassembler{maxMessageSize: maxMessageSize, inflate: inflate}
}

// feed processes one validated data frame (opcode Text, Binary, or
// Continuation) and returns a completed message when fin assembles one.
// ok is false when the frame only extends a still-open message.
func (r *reassembler) feed(f *frame) (kind MessageType, payload []byte, ok bool, err error) {
	switch f.opcode {
	case opcodeText, opcodeBinary:
		if r.pending != nil {
			return 0, nil, false, ErrUnexpectedContinuation
		}
		kindVal := TextMessage
		if f.opcode == opcodeBinary {
			kindVal = BinaryMessage
		}
		r.pending = &partialMessage{kind: kindVal, compressed: f.rsv1}

	case opcodeContinuation:
		if r.pending == nil {
			return 0, nil, false, ErrUnexpectedContinuation
		}
		if f.rsv1 {
			return 0, nil, false, ErrReservedBits
		}

	default:
		return 0, nil, false, ErrProtocolError
	}

	total := int64(len(r.pending.buf)) + int64(len(f.payload))
	if total > r.maxMessageSize {
		r.pending = nil
		return 0, nil, false, ErrMessageTooLarge
	}
	r.pending.buf = append(r.pending.buf, f.payload...)

	if !f.fin {
		return 0, nil, false, nil
	}

	msg := r.pending
	r.pending = nil

	body := msg.buf
	if msg.compressed {
		if r.inflate == nil {
			return 0, nil, false, ErrCompressionUnsupported
		}
		inflated, ierr := r.inflate.inflate(body)
		if ierr != nil {
			return 0, nil, false, ierr
		}
		body = inflated
	}

	if msg.kind == TextMessage && !utf8.Valid(body) {
		return 0, nil, false, ErrInvalidUTF8
	}

	return msg.kind, body, true, nil
}

// reset discards any in-progress partial message, used when the
// connection is closing.
func (r *reassembler) reset() {
	r.pending = nil
}
