package websocket

import (
	"crypto/rand"
	"sync"
	"time"
)

// pingHistoryLen is the number of recent RTT samples PingStats averages
// over.
const pingHistoryLen = 5

// pingNonceLen is the length, in bytes, of a Ping frame's nonce payload.
const pingNonceLen = 8

// PingStats tracks the single outstanding Ping nonce for a connection and a
// sliding window of the last pingHistoryLen round-trip times, reported by
// Conn.Latency.
//
// Grounded in the keepalive bookkeeping of a long-lived duplex connection:
// one nonce outstanding at a time, RTT measured from emission to matching
// Pong, oldest sample evicted on overflow.
type PingStats struct {
	mu          sync.Mutex
	history     [pingHistoryLen]*uint16
	idx         int
	lastNonce   [pingNonceLen]byte
	lastPing    time.Time
	outstanding bool
}

// newPingStats returns a PingStats with no outstanding ping and an empty
// history.
func newPingStats() *PingStats {
	return &PingStats{}
}

// newNonce generates a fresh random nonce, records the emission time, and
// returns the nonce bytes to send as a Ping payload.
func (p *PingStats) newNonce() ([pingNonceLen]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var nonce [pingNonceLen]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nonce, err
	}
	p.lastNonce = nonce
	p.lastPing = time.Now()
	p.outstanding = true
	return nonce, nil
}

// pongResult is the outcome of matching a Pong frame's payload against the
// outstanding nonce.
type pongResult int

const (
	pongMatched pongResult = iota
	pongLate
	pongNonceMismatch
)

// onPong matches an inbound Pong payload against the outstanding nonce. On
// a match it records the RTT (clamped to uint16 milliseconds) in the
// history ring and returns pongMatched with the RTT. An RTT that overflows
// uint16 (> 65535ms) is reported as pongLate without being added to the
// history. A payload that does not match the outstanding nonce is reported
// as pongNonceMismatch and ignored.
func (p *PingStats) onPong(payload []byte) (pongResult, uint16) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.outstanding || len(payload) != pingNonceLen {
		return pongNonceMismatch, 0
	}
	var got [pingNonceLen]byte
	copy(got[:], payload)
	if got != p.lastNonce {
		return pongNonceMismatch, 0
	}

	p.outstanding = false
	elapsedMS := time.Since(p.lastPing).Milliseconds()
	if elapsedMS > 65535 {
		return pongLate, 0
	}
	rtt := uint16(elapsedMS)
	p.add(rtt)
	return pongMatched, rtt
}

// add records rtt as the newest sample, overwriting the oldest once the
// ring is full.
func (p *PingStats) add(rtt uint16) {
	v := rtt
	p.history[p.idx] = &v
	p.idx = (p.idx + 1) % pingHistoryLen
}

// average returns the arithmetic mean of the populated history slots, or
// (0, false) if no samples have been recorded yet.
func (p *PingStats) average() (uint16, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var sum, count int
	for _, v := range p.history {
		if v != nil {
			sum += int(*v)
			count++
		}
	}
	if count == 0 {
		return 0, false
	}
	return uint16(sum / count), true
}

// isOutstanding reports whether a Ping has been sent with no matching Pong
// yet observed.
func (p *PingStats) isOutstanding() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.outstanding
}

// sentAt returns the emission time of the outstanding ping.
func (p *PingStats) sentAt() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastPing
}
