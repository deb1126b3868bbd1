package websocket

import (
	"bytes"
	"testing"
)

func TestApplyMaskRoundTrip(t *testing.T) {
	key := [4]byte{0x12, 0x34, 0x56, 0x78}
	sizes := []int{0, 1, 3, 4, 5, 31, 32, 33, 1024}

	for _, n := range sizes {
		original := make([]byte, n)
		for i := range original {
			original[i] = byte(i * 7)
		}

		data := make([]byte, n)
		copy(data, original)

		applyMask(data, key)
		if n > 0 && bytes.Equal(data, original) {
			t.Fatalf("size %d: masking did not change data", n)
		}

		applyMask(data, key)
		if !bytes.Equal(data, original) {
			t.Fatalf("size %d: double mask did not restore original", n)
		}
	}
}

func TestApplyMaskKnownVector(t *testing.T) {
	// RFC 6455 Section 5.7 example: mask 0x37,0xFA,0x21,0x3D over "Hello"
	// yields 7F 9F 4D 51 58.
	data := []byte("Hello")
	key := [4]byte{0x37, 0xFA, 0x21, 0x3D}
	want := []byte{0x7F, 0x9F, 0x4D, 0x51, 0x58}

	applyMask(data, key)
	if !bytes.Equal(data, want) {
		t.Fatalf("applyMask(%q) = % X, want % X", "Hello", data, want)
	}
}

func TestApplyMaskArbitraryKeyRotation(t *testing.T) {
	keys := [][4]byte{
		{0, 0, 0, 0},
		{0xFF, 0xFF, 0xFF, 0xFF},
		{0x01, 0x02, 0x03, 0x04},
		{0xAB, 0xCD, 0xEF, 0x01},
	}
	payload := bytes.Repeat([]byte("abcdefgh"), 17) // 136 bytes, crosses the 8-byte fast path boundary

	for _, key := range keys {
		data := make([]byte, len(payload))
		copy(data, payload)
		applyMask(data, key)
		applyMask(data, key)
		if !bytes.Equal(data, payload) {
			t.Fatalf("key % X: round trip failed", key)
		}
	}
}
