package websocket

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpgradeRejectsNonGet(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/ws", nil)
	w := httptest.NewRecorder()
	_, err := Upgrade(w, r)
	assert.ErrorIs(t, err, ErrInvalidMethod)
}

func TestUpgradeRejectsMissingHost(t *testing.T) {
	r := validUpgradeRequest()
	r.Host = ""
	w := httptest.NewRecorder()
	_, err := Upgrade(w, r)
	assert.ErrorIs(t, err, ErrMissingHost)
}

func TestUpgradeRejectsMissingUpgradeHeader(t *testing.T) {
	r := validUpgradeRequest()
	r.Header.Del("Upgrade")
	w := httptest.NewRecorder()
	_, err := Upgrade(w, r)
	assert.ErrorIs(t, err, ErrMissingUpgrade)
}

func TestUpgradeRejectsMissingConnectionHeader(t *testing.T) {
	r := validUpgradeRequest()
	r.Header.Del("Connection")
	w := httptest.NewRecorder()
	_, err := Upgrade(w, r)
	assert.ErrorIs(t, err, ErrMissingConnection)
}

func TestUpgradeRejectsBadVersion(t *testing.T) {
	r := validUpgradeRequest()
	r.Header.Set("Sec-WebSocket-Version", "8")
	w := httptest.NewRecorder()
	_, err := Upgrade(w, r)
	assert.ErrorIs(t, err, ErrInvalidVersion)
}

func TestUpgradeRejectsMissingKey(t *testing.T) {
	r := validUpgradeRequest()
	r.Header.Del("Sec-WebSocket-Key")
	w := httptest.NewRecorder()
	_, err := Upgrade(w, r)
	assert.ErrorIs(t, err, ErrMissingSecKey)
}

func TestUpgradeRejectsDeniedOrigin(t *testing.T) {
	r := validUpgradeRequest()
	r.Header.Set("Origin", "http://evil.example")
	w := httptest.NewRecorder()
	_, err := Upgrade(w, r, WithCheckOrigin(func(*http.Request) bool { return false }))
	assert.ErrorIs(t, err, ErrOriginDenied)
}

func TestUpgradeRequiresHijacker(t *testing.T) {
	r := validUpgradeRequest()
	w := httptest.NewRecorder() // does not implement http.Hijacker
	_, err := Upgrade(w, r)
	assert.ErrorIs(t, err, ErrHijackFailed)
}

func validUpgradeRequest() *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	r.Header.Set("Upgrade", "websocket")
	r.Header.Set("Connection", "Upgrade")
	r.Header.Set("Sec-WebSocket-Version", "13")
	r.Header.Set("Sec-WebSocket-Key", "dGhlIHNhbXBsZSBub25jZQ==")
	return r
}

func TestComputeAcceptKeyKnownVector(t *testing.T) {
	// RFC 6455 Section 1.3 worked example.
	got := computeAcceptKey("dGhlIHNhbXBsZSBub25jZQ==")
	assert.Equal(t, "s3pPLMBiTxaQ9kYGzzhZRbK+xOo=", got)
}

func TestNegotiateSubprotocolPicksFirstMatch(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	r.Header.Set("Sec-WebSocket-Protocol", "chat, superchat")
	got := negotiateSubprotocol(r, []string{"superchat", "chat"})
	assert.Equal(t, "chat", got)
}

func TestNegotiateSubprotocolNoMatch(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	r.Header.Set("Sec-WebSocket-Protocol", "foo")
	got := negotiateSubprotocol(r, []string{"bar"})
	assert.Equal(t, "", got)
}

func TestNegotiateCompressionAccepted(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	r.Header.Set("Sec-WebSocket-Extensions", "permessage-deflate; client_no_context_takeover")
	o := NewOptions(WithCompression(false))
	accepted, noCtx := negotiateCompression(r, o)
	assert.True(t, accepted)
	assert.True(t, noCtx)
}

func TestNegotiateCompressionDeclinedWhenDisabled(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	r.Header.Set("Sec-WebSocket-Extensions", "permessage-deflate")
	o := NewOptions()
	accepted, _ := negotiateCompression(r, o)
	assert.False(t, accepted)
}

func TestNegotiateCompressionDeclinesUnknownParam(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	r.Header.Set("Sec-WebSocket-Extensions", "permessage-deflate; unknown_param=1")
	o := NewOptions(WithCompression(false))
	accepted, _ := negotiateCompression(r, o)
	assert.False(t, accepted)
}

func TestHeaderContainsToken(t *testing.T) {
	assert.True(t, headerContainsToken("Upgrade, keep-alive", "upgrade"))
	assert.False(t, headerContainsToken("keep-alive", "upgrade"))
}

func TestCheckSameOriginAllowsNoOrigin(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	assert.True(t, CheckSameOrigin(r))
}

func TestCheckSameOriginMatchesHost(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	r.Host = "example.com"
	r.Header.Set("Origin", "http://example.com")
	assert.True(t, CheckSameOrigin(r))
}

func TestCheckSameOriginRejectsMismatch(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	r.Host = "example.com"
	r.Header.Set("Origin", "http://attacker.example")
	require.False(t, CheckSameOrigin(r))
}
