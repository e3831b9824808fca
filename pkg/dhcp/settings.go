package dhcp

import (
	"time"

	"ethstack/pkg/network"

	"github.com/insomniacslk/dhcp/dhcpv4"
)

// Callbacks run from the network task with the stack lock held. They must
// not call Start, Stop, Release, State or Lease.
type (
	TimeoutFunc      func(c *Client, iface *network.Interface)
	LinkChangeFunc   func(c *Client, iface *network.Interface, up bool)
	StateChangeFunc  func(c *Client, iface *network.Interface, state State)
	AddOptionsFunc   func(c *Client, msg *dhcpv4.DHCPv4, typ dhcpv4.MessageType)
	ParseOptionsFunc func(c *Client, msg *dhcpv4.DHCPv4, typ dhcpv4.MessageType) error
)

type Settings struct {
	Interface *network.Interface
	// RapidCommit asks for a two-message exchange (RFC 4039).
	RapidCommit bool
	// ManualDNS keeps the DNS servers configured on the interface.
	ManualDNS bool
	// Timeout bounds one acquisition attempt before TimeoutEvent fires.
	// Zero disables it.
	Timeout  time.Duration
	Hostname string
	ClientID []byte

	TimeoutEvent     TimeoutFunc
	LinkChangeEvent  LinkChangeFunc
	StateChangeEvent StateChangeFunc
	AddOptions       AddOptionsFunc
	ParseOptions     ParseOptionsFunc
}

func DefaultSettings() Settings {
	return Settings{}
}
