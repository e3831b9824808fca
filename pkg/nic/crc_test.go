package nic

import "testing"

func TestCRC32KnownValues(t *testing.T) {
	tests := []struct {
		addr MacAddr
		crc  uint32
		idx  int
	}{
		{MacAddr{0x01, 0x00, 0x5e, 0x00, 0x00, 0x01}, 0x7fa32d9b, 31},
		{MacAddr{0x33, 0x33, 0x00, 0x00, 0x00, 0x01}, 0xf99baaba, 62},
		{MacAddr{0x01, 0x00, 0x5e, 0x00, 0x00, 0xfb}, 0x3f7b3b21, 15},
	}
	for _, tc := range tests {
		got := CRC32(tc.addr[:])
		if got != tc.crc {
			t.Fatalf("CRC32(%s)=%#08x, want %#08x", tc.addr, got, tc.crc)
		}
		if idx := HashIndex(got); idx != tc.idx {
			t.Fatalf("HashIndex(%s)=%d, want %d", tc.addr, idx, tc.idx)
		}
	}
}

func TestCRC32Deterministic(t *testing.T) {
	addr := MacAddr{0x01, 0x00, 0x5e, 0x00, 0x00, 0x01}
	first := CRC32(addr[:])
	for i := 0; i < 100; i++ {
		if got := CRC32(addr[:]); got != first {
			t.Fatalf("expected %#08x on every call, got %#08x", first, got)
		}
	}
}

func TestCRC32Complemented(t *testing.T) {
	addr := MacAddr{0x01, 0x00, 0x5e, 0x00, 0x00, 0x01}
	if got := CRC32Complemented(addr[:]); got != 0x805cd264 {
		t.Fatalf("expected 0x805cd264, got %#08x", got)
	}
	if HashIndex(CRC32Complemented(addr[:])) == HashIndex(CRC32(addr[:])) {
		t.Fatalf("expected conventions to select different hash bits")
	}
}
