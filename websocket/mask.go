package websocket

import "encoding/binary"

// applyMask applies the WebSocket masking algorithm to data in place.
//
// RFC 6455 Section 5.3:
//
//	transformed-octet-i = original-octet-i XOR masking-key-octet-(i mod 4)
//
// XOR is its own inverse, so calling applyMask twice with the same key
// restores the original bytes — the same function masks and unmasks.
//
// Short buffers are XORed byte-by-byte. Once at least 8 bytes remain, the
// key is replicated into a 64-bit word and XORed 8 bytes at a time, which
// keeps the compiler from emitting a byte loop for the hot path (large
// uncompressed payloads and big frames in general).
func applyMask(data []byte, key [4]byte) {
	if len(data) < 8 {
		for i := range data {
			data[i] ^= key[i%4]
		}
		return
	}

	var key64 uint64
	for i := 0; i < 8; i++ {
		key64 |= uint64(key[i%4]) << (8 * i)
	}

	i := 0
	for ; i+8 <= len(data); i += 8 {
		word := binary.LittleEndian.Uint64(data[i : i+8])
		binary.LittleEndian.PutUint64(data[i:i+8], word^key64)
	}
	for ; i < len(data); i++ {
		data[i] ^= key[i%4]
	}
}
