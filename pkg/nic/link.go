package nic

import "fmt"

type InterfaceType int

const (
	TypeUnknown InterfaceType = iota
	TypeEthernet
	TypeLoopback
)

func (t InterfaceType) String() string {
	switch t {
	case TypeEthernet:
		return "ethernet"
	case TypeLoopback:
		return "loopback"
	default:
		return "unknown"
	}
}

type LinkSpeed int

const (
	LinkSpeedUnknown LinkSpeed = 0
	LinkSpeed10M     LinkSpeed = 10_000_000
	LinkSpeed100M    LinkSpeed = 100_000_000
	LinkSpeed1G      LinkSpeed = 1_000_000_000
)

func (s LinkSpeed) String() string {
	switch s {
	case LinkSpeed10M:
		return "10M"
	case LinkSpeed100M:
		return "100M"
	case LinkSpeed1G:
		return "1G"
	case LinkSpeedUnknown:
		return "unknown"
	default:
		return fmt.Sprintf("%dbps", int(s))
	}
}

type DuplexMode int

const (
	DuplexUnknown DuplexMode = iota
	DuplexHalf
	DuplexFull
)

func (d DuplexMode) String() string {
	switch d {
	case DuplexHalf:
		return "half"
	case DuplexFull:
		return "full"
	default:
		return "unknown"
	}
}

// MTU and frame size limits for Ethernet.
const (
	EthHeaderSize   = 14
	EthMinFrameSize = 60
	EthCrcSize      = 4
	EthMTU          = 1500
	EthMaxFrameSize = EthHeaderSize + EthMTU
)
