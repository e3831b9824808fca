package network

import (
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"ethstack/internal/logger"
	"ethstack/pkg/nic"
)

// InterfaceConfig describes an interface and the drivers serving it.
type InterfaceConfig struct {
	Name    string
	MacAddr nic.MacAddr
	// MTU defaults to the NIC driver's MTU when zero.
	MTU     int
	PhyAddr uint8
	// SwitchPort is the default egress port behind a tail-tag switch.
	SwitchPort         uint8
	Promiscuous        bool
	AcceptAllMulticast bool

	NicDriver    NicDriver
	PhyDriver    PhyDriver
	SwitchDriver SwitchDriver
	SpiDriver    SpiDriver
	SmiDriver    SmiDriver
	ExtIntDriver ExtIntDriver
}

// IPv4Config is the address configuration of an interface.
type IPv4Config struct {
	Addr    net.IP
	Mask    net.IPMask
	Gateway net.IP
	DNS     []net.IP
}

func (c IPv4Config) clone() IPv4Config {
	out := IPv4Config{
		Addr:    append(net.IP(nil), c.Addr...),
		Mask:    append(net.IPMask(nil), c.Mask...),
		Gateway: append(net.IP(nil), c.Gateway...),
	}
	for _, d := range c.DNS {
		out.DNS = append(out.DNS, append(net.IP(nil), d...))
	}
	return out
}

// Configured reports whether an address is assigned.
func (c IPv4Config) Configured() bool {
	return c.Addr != nil && !c.Addr.IsUnspecified()
}

// Client is a per-interface protocol context ticked by the network task.
type Client interface {
	Tick(now time.Time)
	LinkChange(up bool)
}

type namedClient struct {
	name   string
	client Client
}

// Interface is one network interface. Fields are owned by the network
// task: read and write them with the stack lock held unless the method
// says otherwise.
type Interface struct {
	stack *Stack
	index int
	name  string
	log   *logger.Logger

	macAddr nic.MacAddr
	eui64   nic.Eui64
	mtu     int

	phyAddr    uint8
	switchPort uint8

	nicDriver    NicDriver
	phyDriver    PhyDriver
	switchDriver SwitchDriver
	spiDriver    SpiDriver
	smiDriver    SmiDriver
	extIntDriver ExtIntDriver

	configured         bool
	linkState          bool
	linkSpeed          nic.LinkSpeed
	duplexMode         nic.DuplexMode
	promiscuous        bool
	acceptAllMulticast bool
	macAddrFilter      nic.FilterTable
	ipv4               IPv4Config
	clients            []namedClient

	nicTxEvent chan struct{}
	nicEvent   atomic.Bool
	phyEvent   atomic.Bool
}

func (i *Interface) Stack() *Stack              { return i.stack }
func (i *Interface) Index() int                 { return i.index }
func (i *Interface) Name() string               { return i.name }
func (i *Interface) Logger() *logger.Logger     { return i.log }
func (i *Interface) MacAddr() nic.MacAddr       { return i.macAddr }
func (i *Interface) Eui64() nic.Eui64           { return i.eui64 }
func (i *Interface) MTU() int                   { return i.mtu }
func (i *Interface) PhyAddr() uint8             { return i.phyAddr }
func (i *Interface) SwitchPort() uint8          { return i.switchPort }
func (i *Interface) NicDriver() NicDriver       { return i.nicDriver }
func (i *Interface) PhyDriver() PhyDriver       { return i.phyDriver }
func (i *Interface) SwitchDriver() SwitchDriver { return i.switchDriver }
func (i *Interface) SpiDriver() SpiDriver       { return i.spiDriver }
func (i *Interface) SmiDriver() SmiDriver       { return i.smiDriver }
func (i *Interface) ExtIntDriver() ExtIntDriver { return i.extIntDriver }
func (i *Interface) Configured() bool           { return i.configured }
func (i *Interface) LinkState() bool            { return i.linkState }
func (i *Interface) LinkSpeed() nic.LinkSpeed   { return i.linkSpeed }
func (i *Interface) DuplexMode() nic.DuplexMode { return i.duplexMode }
func (i *Interface) Promiscuous() bool          { return i.promiscuous }
func (i *Interface) AcceptAllMulticast() bool   { return i.acceptAllMulticast }
func (i *Interface) FilterEntries() []nic.FilterEntry {
	return i.macAddrFilter.Active()
}

// SetLinkState records the link status seen by the PHY or switch driver.
func (i *Interface) SetLinkState(up bool) { i.linkState = up }

func (i *Interface) SetLinkSpeed(speed nic.LinkSpeed) { i.linkSpeed = speed }

func (i *Interface) SetDuplexMode(mode nic.DuplexMode) { i.duplexMode = mode }

// IPv4 returns a copy of the IPv4 configuration.
func (i *Interface) IPv4() IPv4Config { return i.ipv4.clone() }

func (i *Interface) SetIPv4(cfg IPv4Config) { i.ipv4 = cfg.clone() }

// SetTxEvent signals that the transmitter can accept a frame. Safe from
// interrupt context.
func (i *Interface) SetTxEvent() {
	select {
	case i.nicTxEvent <- struct{}{}:
	default:
	}
}

// ResetTxEvent clears a pending TX event.
func (i *Interface) ResetTxEvent() {
	select {
	case <-i.nicTxEvent:
	default:
	}
}

// WaitTxEvent consumes the TX event, waiting at most timeout.
func (i *Interface) WaitTxEvent(timeout time.Duration) bool {
	select {
	case <-i.nicTxEvent:
		return true
	default:
	}
	if timeout <= 0 {
		return false
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-i.nicTxEvent:
		return true
	case <-timer.C:
		return false
	}
}

// SetEventFromISR flags pending NIC work and wakes the network task. Safe
// from interrupt context.
func (i *Interface) SetEventFromISR() {
	i.nicEvent.Store(true)
	i.stack.Signal()
}

// SetPhyEventFromISR flags pending PHY work and wakes the network task.
// Safe from interrupt context.
func (i *Interface) SetPhyEventFromISR() {
	i.phyEvent.Store(true)
	i.stack.Signal()
}

// NicEventPending reports whether the network task still has NIC work queued.
func (i *Interface) NicEventPending() bool { return i.nicEvent.Load() }

// WritePhyReg goes through the dedicated SMI driver when one is attached
// and through the MAC otherwise.
func (i *Interface) WritePhyReg(opcode, phyAddr, regAddr uint8, data uint16) {
	if i.smiDriver != nil {
		i.smiDriver.WritePhyReg(opcode, phyAddr, regAddr, data)
		return
	}
	i.nicDriver.WritePhyReg(opcode, phyAddr, regAddr, data)
}

func (i *Interface) ReadPhyReg(opcode, phyAddr, regAddr uint8) uint16 {
	if i.smiDriver != nil {
		return i.smiDriver.ReadPhyReg(opcode, phyAddr, regAddr)
	}
	return i.nicDriver.ReadPhyReg(opcode, phyAddr, regAddr)
}

// ProcessPacket hands a received frame to the stack. Drivers call it from
// EventHandler.
func (i *Interface) ProcessPacket(frame []byte, ancillary *RxAncillary) error {
	return i.stack.ProcessPacket(i, frame, ancillary)
}

// NotifyLinkChange propagates the link fields to upper layers. PHY and
// switch drivers call it from the network task.
func (i *Interface) NotifyLinkChange() {
	i.stack.NotifyLinkChange(i)
}

// AcceptMacAddr joins addr in the receive filter. The driver filter is
// reprogrammed only when the set of active addresses changes.
func (i *Interface) AcceptMacAddr(addr nic.MacAddr) error {
	i.stack.Lock()
	defer i.stack.Unlock()
	return i.acceptMacAddr(addr)
}

func (i *Interface) acceptMacAddr(addr nic.MacAddr) error {
	changed, err := i.macAddrFilter.Accept(addr)
	if err != nil {
		return fmt.Errorf("accept %s: %w", addr, err)
	}
	if changed && i.configured {
		return i.nicDriver.UpdateMacAddrFilter(i)
	}
	return nil
}

// DropMacAddr releases one reference on addr.
func (i *Interface) DropMacAddr(addr nic.MacAddr) error {
	i.stack.Lock()
	defer i.stack.Unlock()
	changed, err := i.macAddrFilter.Drop(addr)
	if err != nil {
		return fmt.Errorf("drop %s: %w", addr, err)
	}
	if changed && i.configured {
		return i.nicDriver.UpdateMacAddrFilter(i)
	}
	return nil
}

func (i *Interface) SetPromiscuous(enabled bool) error {
	i.stack.Lock()
	defer i.stack.Unlock()
	if i.promiscuous == enabled {
		return nil
	}
	i.promiscuous = enabled
	if !i.configured {
		return nil
	}
	return i.nicDriver.UpdateMacAddrFilter(i)
}

func (i *Interface) SetAcceptAllMulticast(enabled bool) error {
	i.stack.Lock()
	defer i.stack.Unlock()
	if i.acceptAllMulticast == enabled {
		return nil
	}
	i.acceptAllMulticast = enabled
	if !i.configured {
		return nil
	}
	return i.nicDriver.UpdateMacAddrFilter(i)
}

// AttachClient registers a protocol context under name. The caller must
// hold the stack lock.
func (i *Interface) AttachClient(name string, c Client) error {
	if c == nil || name == "" {
		return nic.ErrInvalidParameter
	}
	for _, nc := range i.clients {
		if nc.name == name {
			return fmt.Errorf("client %s: %w", name, ErrAlreadyRunning)
		}
	}
	i.clients = append(i.clients, namedClient{name: name, client: c})
	return nil
}

// DetachClient removes the protocol context registered under name. The
// caller must hold the stack lock.
func (i *Interface) DetachClient(name string) {
	for idx, nc := range i.clients {
		if nc.name == name {
			i.clients = append(i.clients[:idx], i.clients[idx+1:]...)
			return
		}
	}
}

// Client returns the protocol context registered under name.
func (i *Interface) Client(name string) Client {
	for _, nc := range i.clients {
		if nc.name == name {
			return nc.client
		}
	}
	return nil
}

// Info is a point-in-time view of an interface.
type Info struct {
	Index              int               `json:"index"`
	Name               string            `json:"name"`
	Type               string            `json:"type"`
	MacAddr            string            `json:"mac"`
	Eui64              string            `json:"eui64"`
	MTU                int               `json:"mtu"`
	Configured         bool              `json:"configured"`
	LinkUp             bool              `json:"link_up"`
	Speed              string            `json:"speed"`
	Duplex             string            `json:"duplex"`
	Promiscuous        bool              `json:"promiscuous"`
	AcceptAllMulticast bool              `json:"accept_all_multicast"`
	Filters            []nic.FilterEntry `json:"filters"`
	IPv4Addr           string            `json:"ipv4_addr,omitempty"`
	IPv4Mask           string            `json:"ipv4_mask,omitempty"`
	Gateway            string            `json:"gateway,omitempty"`
	DNS                []string          `json:"dns,omitempty"`
	DriverState        string            `json:"driver_state,omitempty"`
}

type stateReporter interface {
	State() nic.DriverState
}

// Info takes the stack lock and snapshots the interface.
func (i *Interface) Info() Info {
	i.stack.Lock()
	defer i.stack.Unlock()
	info := Info{
		Index:              i.index,
		Name:               i.name,
		Type:               i.nicDriver.Type().String(),
		MacAddr:            i.macAddr.String(),
		Eui64:              i.eui64.String(),
		MTU:                i.mtu,
		Configured:         i.configured,
		LinkUp:             i.linkState,
		Speed:              i.linkSpeed.String(),
		Duplex:             i.duplexMode.String(),
		Promiscuous:        i.promiscuous,
		AcceptAllMulticast: i.acceptAllMulticast,
		Filters:            i.macAddrFilter.Active(),
	}
	if i.ipv4.Configured() {
		info.IPv4Addr = i.ipv4.Addr.String()
		info.IPv4Mask = net.IP(i.ipv4.Mask).String()
		if i.ipv4.Gateway != nil {
			info.Gateway = i.ipv4.Gateway.String()
		}
		for _, d := range i.ipv4.DNS {
			info.DNS = append(info.DNS, d.String())
		}
	}
	if sr, ok := i.nicDriver.(stateReporter); ok {
		info.DriverState = sr.State().String()
	}
	return info
}
