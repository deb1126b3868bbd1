package websocket

// Role selects the masking policy applied to a connection, per RFC 6455
// Section 5.3: clients mask every outbound frame with a fresh random key and
// servers never mask. The decoder uses the same field to validate that
// inbound frames carry the mask bit the role expects.
type Role bool

const (
	// RoleServer never masks outbound frames and requires every inbound
	// frame to be masked.
	RoleServer Role = false

	// RoleClient masks every outbound frame with a fresh random key and
	// requires inbound frames to be unmasked.
	RoleClient Role = true
)

// masksOutgoing reports whether frames sent under this role must be masked.
func (r Role) masksOutgoing() bool {
	return r == RoleClient
}

// expectsMasked reports whether frames received under this role must carry
// the MASK bit.
func (r Role) expectsMasked() bool {
	return r == RoleServer
}

func (r Role) String() string {
	if r == RoleClient {
		return "client"
	}
	return "server"
}
