package network

import (
	"ethstack/pkg/netbuf"
	"ethstack/pkg/nic"
)

// SMI opcodes as carried in the MDIO frame.
const (
	SmiOpcodeClause45Addr  uint8 = 0
	SmiOpcodeWrite         uint8 = 1
	SmiOpcodeRead          uint8 = 2
	SmiOpcodeClause45Read  uint8 = 3
	SmiStartClause22       uint8 = 1
	SmiStartClause45       uint8 = 0
	SmiMaxPhyAddr          uint8 = 31
	SmiMaxClause22Register uint8 = 31
)

// Capabilities lists optional hardware features of a NIC.
type Capabilities struct {
	Promiscuous        bool
	AcceptAllMulticast bool
	ForceFullDuplex    bool
	ChecksumOffload    bool
}

// TxAncillary carries per-frame transmit metadata.
type TxAncillary struct {
	// Port is the egress switch port, 0 to let the switch decide.
	Port uint8
}

// RxAncillary carries per-frame receive metadata.
type RxAncillary struct {
	SrcMacAddr nic.MacAddr
	DstMacAddr nic.MacAddr
	// Port is the switch ingress port, 0 when no switch is attached.
	Port uint8
}

// NicDriver is the capability set every MAC driver provides. One value is
// shared by all interfaces using the same chip; per-interface state lives
// in the driver's own instance.
//
// Init, Tick, EventHandler, SendPacket, UpdateMacAddrFilter and
// UpdateMacConfig are only called from the network task with the stack
// lock held. The driver's interrupt path must never call back into the
// stack except through Interface.SetTxEvent, Interface.SetEventFromISR and
// Interface.SetPhyEventFromISR.
type NicDriver interface {
	Type() nic.InterfaceType
	MTU() int
	Capabilities() Capabilities

	// Init configures the hardware, brings up the PHY or switch, programs
	// the station address and filters and enables interrupts. It ends by
	// signaling the TX event and a pending NIC event so link state gets
	// polled right away.
	Init(iface *Interface) error
	// Tick runs periodically from the network task and must not block.
	Tick(iface *Interface)
	EnableIrq(iface *Interface)
	DisableIrq(iface *Interface)
	// EventHandler drains the receive ring into ProcessPacket and re-arms
	// interrupts before returning.
	EventHandler(iface *Interface)
	// SendPacket transmits the frame held in buf starting at offset.
	// Oversize frames fail with nic.ErrInvalidLength, frames sent while
	// the link is down are dropped without error, and nic.ErrBusy means
	// the current descriptor still belongs to hardware. In every case but
	// ErrBusy the TX event is re-armed before returning.
	SendPacket(iface *Interface, buf *netbuf.Buffer, offset int, ancillary *TxAncillary) error
	UpdateMacAddrFilter(iface *Interface) error
	UpdateMacConfig(iface *Interface) error
	// WritePhyReg and ReadPhyReg give raw MDIO access. Unsupported
	// opcodes are ignored on write and read as zero.
	WritePhyReg(opcode, phyAddr, regAddr uint8, data uint16)
	ReadPhyReg(opcode, phyAddr, regAddr uint8) uint16
}

// PhyDriver manages a transceiver: link detection, speed and duplex.
type PhyDriver interface {
	Init(iface *Interface) error
	Tick(iface *Interface)
	EnableIrq(iface *Interface)
	DisableIrq(iface *Interface)
	EventHandler(iface *Interface)
}

// SwitchDriver is a PhyDriver for a multi-port switch that marks frames
// with a tail tag identifying the physical port.
type SwitchDriver interface {
	PhyDriver
	// TagFrame appends the egress tag to buf. offset may be updated when
	// the tag is placed in front of the frame.
	TagFrame(iface *Interface, buf *netbuf.Buffer, offset *int, ancillary *TxAncillary) error
	// UntagFrame strips the ingress tag, records the port in ancillary and
	// returns the untagged frame.
	UntagFrame(iface *Interface, frame []byte, ancillary *RxAncillary) ([]byte, error)
}

// SpiDriver is a blocking SPI master. Every transaction is bracketed by
// AssertCs and DeassertCs.
type SpiDriver interface {
	Init() error
	SetMode(mode uint8) error
	SetBitrate(bitrate uint32) error
	AssertCs()
	DeassertCs()
	Transfer(data byte) byte
}

// SmiDriver is a standalone MDIO master used instead of the MAC's own.
type SmiDriver interface {
	Init() error
	WritePhyReg(opcode, phyAddr, regAddr uint8, data uint16)
	ReadPhyReg(opcode, phyAddr, regAddr uint8) uint16
}

// ExtIntDriver controls the external interrupt line of a PHY or switch.
type ExtIntDriver interface {
	Init() error
	EnableIrq()
	DisableIrq()
}
