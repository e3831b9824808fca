package nic

import (
	"fmt"
	"net"
)

// MacAddr is a 48-bit IEEE 802 MAC address.
type MacAddr [6]byte

// Eui64 is a modified EUI-64 interface identifier.
type Eui64 [8]byte

var (
	UnspecifiedMacAddr = MacAddr{}
	BroadcastMacAddr   = MacAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}
)

func ParseMacAddr(s string) (MacAddr, error) {
	hw, err := net.ParseMAC(s)
	if err != nil {
		return MacAddr{}, fmt.Errorf("parse mac %q: %w", s, err)
	}
	if len(hw) != 6 {
		return MacAddr{}, fmt.Errorf("parse mac %q: %w", s, ErrInvalidParameter)
	}
	var m MacAddr
	copy(m[:], hw)
	return m, nil
}

func MacAddrFromSlice(b []byte) MacAddr {
	var m MacAddr
	copy(m[:], b)
	return m
}

func (m MacAddr) HardwareAddr() net.HardwareAddr {
	return net.HardwareAddr(m[:])
}

func (m MacAddr) String() string {
	return m.HardwareAddr().String()
}

func (m MacAddr) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *MacAddr) UnmarshalText(text []byte) error {
	parsed, err := ParseMacAddr(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

func (m MacAddr) IsMulticast() bool {
	return m[0]&0x01 != 0
}

func (m MacAddr) IsBroadcast() bool {
	return m == BroadcastMacAddr
}

func (m MacAddr) IsUnspecified() bool {
	return m == UnspecifiedMacAddr
}

// Eui64 derives the modified EUI-64 identifier (RFC 4291 appendix A):
// FF-FE is inserted in the middle and the universal/local bit is flipped.
func (m MacAddr) Eui64() Eui64 {
	return Eui64{m[0] ^ 0x02, m[1], m[2], 0xff, 0xfe, m[3], m[4], m[5]}
}

func (e Eui64) String() string {
	return fmt.Sprintf("%02x%02x:%02x%02x:%02x%02x:%02x%02x", e[0], e[1], e[2], e[3], e[4], e[5], e[6], e[7])
}
