package websocket

import (
	"bufio"
	"context"
	"crypto/rand"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"
)

// dialTimeout bounds the underlying TCP/TLS dial when no deadline is
// already present on the context passed to Dial.
const dialTimeout = 10 * time.Second

// Dial connects to a WebSocket server at url ("ws://host[:port]/path" or
// "wss://..." for TLS) and performs the client-side opening handshake of
// RFC 6455 Section 4.1. On success it returns a Conn with its reader/
// writer/keepalive goroutines already running.
//
// The handshake is built and parsed by hand rather than through
// net/http's client, so Dial ends up holding the raw net.Conn the
// connection engine's three goroutines need, with no intermediate
// io.ReadWriteCloser wrapper to unwrap.
func Dial(ctx context.Context, rawURL string, opts ...Option) (*Conn, error) {
	o := NewOptions(opts...)

	useTLS, host, path, err := parseWebSocketURL(rawURL)
	if err != nil {
		return nil, err
	}

	netConn, err := dialTransport(ctx, useTLS, host)
	if err != nil {
		return nil, err
	}

	key, err := generateSecWebSocketKey()
	if err != nil {
		_ = netConn.Close()
		return nil, err
	}

	if err := sendUpgradeRequest(netConn, host, path, key, o); err != nil {
		_ = netConn.Close()
		return nil, err
	}

	reader := bufio.NewReaderSize(netConn, o.ReadBufferSize)
	negotiatedCompression, noContextTakeover, err := readUpgradeResponse(reader, key)
	if err != nil {
		_ = netConn.Close()
		return nil, err
	}

	o.CompressionEnabled = negotiatedCompression
	o.NoContextTakeover = noContextTakeover

	return newConnWithReader(netConn, RoleClient, o, reader), nil
}

// parseWebSocketURL extracts the TLS requirement, dial host (with default
// port applied), and request path from a ws://, wss://, http://, or
// https:// URL. Only these four schemes are accepted.
func parseWebSocketURL(rawURL string) (useTLS bool, host, path string, err error) {
	var rest string
	switch {
	case strings.HasPrefix(rawURL, "wss://"):
		useTLS, rest = true, strings.TrimPrefix(rawURL, "wss://")
	case strings.HasPrefix(rawURL, "ws://"):
		useTLS, rest = false, strings.TrimPrefix(rawURL, "ws://")
	case strings.HasPrefix(rawURL, "https://"):
		useTLS, rest = true, strings.TrimPrefix(rawURL, "https://")
	case strings.HasPrefix(rawURL, "http://"):
		useTLS, rest = false, strings.TrimPrefix(rawURL, "http://")
	default:
		return false, "", "", ErrBadScheme
	}

	parts := strings.SplitN(rest, "/", 2)
	host = parts[0]
	path = "/"
	if len(parts) > 1 {
		path = "/" + parts[1]
	}
	if !strings.Contains(host, ":") {
		if useTLS {
			host += ":443"
		} else {
			host += ":80"
		}
	}
	return useTLS, host, path, nil
}

func dialTransport(ctx context.Context, useTLS bool, host string) (net.Conn, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, dialTimeout)
		defer cancel()
	}

	var d net.Dialer
	if useTLS {
		tlsDialer := tls.Dialer{NetDialer: &d}
		return tlsDialer.DialContext(ctx, "tcp", host)
	}
	return d.DialContext(ctx, "tcp", host)
}

// generateSecWebSocketKey returns 16 random bytes, base64-encoded, per RFC
// 6455 Section 4.1.
func generateSecWebSocketKey() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

func sendUpgradeRequest(conn net.Conn, host, path, key string, o *Options) error {
	var req strings.Builder
	fmt.Fprintf(&req, "GET %s HTTP/1.1\r\n", path)
	fmt.Fprintf(&req, "Host: %s\r\n", host)
	req.WriteString("Upgrade: websocket\r\n")
	req.WriteString("Connection: Upgrade\r\n")
	fmt.Fprintf(&req, "Sec-WebSocket-Key: %s\r\n", key)
	req.WriteString("Sec-WebSocket-Version: 13\r\n")
	if len(o.Subprotocols) > 0 {
		fmt.Fprintf(&req, "Sec-WebSocket-Protocol: %s\r\n", strings.Join(o.Subprotocols, ", "))
	}
	if o.CompressionEnabled {
		fmt.Fprintf(&req, "Sec-WebSocket-Extensions: %s\r\n", encodeCompressionExtension(o.NoContextTakeover))
	}
	req.WriteString("\r\n")

	_, err := conn.Write([]byte(req.String()))
	return err
}

// readUpgradeResponse reads and validates the server's handshake response,
// returning whether permessage-deflate was accepted and with which
// context-takeover setting.
func readUpgradeResponse(reader *bufio.Reader, key string) (compression, noContextTakeover bool, err error) {
	resp, err := http.ReadResponse(reader, &http.Request{Method: http.MethodGet})
	if err != nil {
		return false, false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusSwitchingProtocols {
		return false, false, ErrBadStatus
	}
	if !headerContainsToken(resp.Header.Get("Upgrade"), "websocket") {
		return false, false, ErrMissingUpgrade
	}
	if !headerContainsToken(resp.Header.Get("Connection"), "upgrade") {
		return false, false, ErrMissingConnection
	}
	if resp.Header.Get("Sec-WebSocket-Accept") != computeAcceptKey(key) {
		return false, false, ErrBadAccept
	}

	for _, offer := range strings.Split(resp.Header.Get("Sec-WebSocket-Extensions"), ",") {
		params := strings.Split(offer, ";")
		if strings.TrimSpace(params[0]) != "permessage-deflate" {
			continue
		}
		compression = true
		for _, p := range params[1:] {
			if strings.TrimSpace(p) == "client_no_context_takeover" || strings.TrimSpace(p) == "server_no_context_takeover" {
				noContextTakeover = true
			}
		}
	}

	return compression, noContextTakeover, nil
}
