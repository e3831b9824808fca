// Package simeth is a software model of a bus-mastering Ethernet MAC. It
// keeps a TX and an RX descriptor ring shared with a simulated DMA engine,
// an interrupt status register, an MDIO bus with an emulated Clause 22
// transceiver, and a perfect-match plus hash address filter.
//
// The driver half implements network.NicDriver and runs on the network
// task. The hardware half (Inject, Transmit, SetLink, RaiseBusError) may
// be driven from any goroutine and raises interrupts by calling the ISR
// synchronously, the way a core would vector into it.
package simeth

import (
	"errors"
	"fmt"
	"sync"

	"ethstack/pkg/netbuf"
	"ethstack/pkg/network"
	"ethstack/pkg/nic"
)

// Interrupt status bits.
const (
	IntTx       uint32 = 1 << 0
	IntRx       uint32 = 1 << 1
	IntBusError uint32 = 1 << 2

	intAll = IntTx | IntRx | IntBusError
)

// Receive descriptor status bits.
const (
	RxStatusCrcError uint32 = 1 << 0
	RxStatusRunt     uint32 = 1 << 1
	RxStatusTooLong  uint32 = 1 << 2

	rxStatusErrors = RxStatusCrcError | RxStatusRunt | RxStatusTooLong
)

// BufferSize is the default size of each descriptor buffer.
const BufferSize = 1536

type Config struct {
	TxRingSize int
	RxRingSize int
	BufferSize int
	// PerfectSlots is the number of extra perfect-match address registers.
	PerfectSlots int
	PhyAddr      uint8
	Capabilities network.Capabilities
	// Crc is the hash convention of the filter. Defaults to nic.CRC32.
	Crc nic.CrcFunc
	// AutoTransmit lets the DMA engine send frames as soon as they are
	// released instead of waiting for Transmit.
	AutoTransmit bool
	// Wire receives every transmitted frame when set. It is called
	// outside of any driver lock.
	Wire func(frame []byte)
	// Retain is how many transmitted frames are kept for Sent when no
	// Wire is set. Frames past the limit are counted and discarded.
	Retain int
}

func DefaultConfig() Config {
	return Config{
		TxRingSize:   3,
		RxRingSize:   6,
		BufferSize:   BufferSize,
		PerfectSlots: 3,
		Capabilities: network.Capabilities{
			Promiscuous:        true,
			AcceptAllMulticast: true,
			ForceFullDuplex:    true,
		},
	}
}

type registers struct {
	intStatus    uint32
	intMask      uint32
	irqEnabled   bool
	station      nic.MacAddr
	filter       nic.MacFilter
	promiscuous  bool
	allMulticast bool
	speed        nic.LinkSpeed
	duplex       nic.DuplexMode
	dmaRunning   bool
}

type Driver struct {
	cfg Config
	crc nic.CrcFunc

	// mu guards the register file, the hardware ring indices and the DMA
	// engine. The driver half never holds it while touching descriptors.
	mu       sync.Mutex
	regs     registers
	state    nic.DriverState
	busError bool
	phy      phyModel
	hwTx     int
	hwRx     int
	sent     [][]byte
	torn     int
	overruns int
	filtered int
	discards int

	iface   *network.Interface
	txRing  *nic.Ring
	rxRing  *nic.Ring
	scratch []byte
}

func New(cfg Config) *Driver {
	def := DefaultConfig()
	if cfg.TxRingSize <= 0 {
		cfg.TxRingSize = def.TxRingSize
	}
	if cfg.RxRingSize <= 0 {
		cfg.RxRingSize = def.RxRingSize
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}
	if cfg.PerfectSlots < 0 {
		cfg.PerfectSlots = 0
	}
	d := &Driver{
		cfg:     cfg,
		crc:     cfg.Crc,
		txRing:  nic.NewRing(cfg.TxRingSize, cfg.BufferSize),
		rxRing:  nic.NewRing(cfg.RxRingSize, cfg.BufferSize),
		scratch: make([]byte, cfg.BufferSize),
	}
	if d.crc == nil {
		d.crc = nic.CRC32
	}
	d.phy.reset()
	return d
}

func (d *Driver) Type() nic.InterfaceType { return nic.TypeEthernet }

func (d *Driver) MTU() int { return nic.EthMTU }

func (d *Driver) Capabilities() network.Capabilities { return d.cfg.Capabilities }

// State returns the driver lifecycle state.
func (d *Driver) State() nic.DriverState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

func (d *Driver) Init(iface *network.Interface) error {
	d.mu.Lock()
	d.iface = iface
	d.regs = registers{}
	d.busError = false
	d.mu.Unlock()

	if phy := iface.PhyDriver(); phy != nil {
		if err := phy.Init(iface); err != nil {
			return fmt.Errorf("phy init: %w", err)
		}
	} else if sw := iface.SwitchDriver(); sw != nil {
		if err := sw.Init(iface); err != nil {
			return fmt.Errorf("switch init: %w", err)
		}
	}

	d.initRings()
	if err := d.UpdateMacAddrFilter(iface); err != nil {
		return err
	}
	if err := d.UpdateMacConfig(iface); err != nil {
		return err
	}

	d.mu.Lock()
	d.regs.intMask = intAll
	d.regs.dmaRunning = true
	d.state = nic.StateInitialized
	d.mu.Unlock()

	iface.SetTxEvent()
	iface.SetEventFromISR()
	return nil
}

// initRings gives every TX descriptor to software and every RX descriptor
// to the DMA engine.
func (d *Driver) initRings() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.txRing.Reset(nic.DescFree)
	d.rxRing.Reset(nic.DescHardware)
	d.hwTx = 0
	d.hwRx = 0
}

func (d *Driver) Tick(iface *network.Interface) {
	if phy := iface.PhyDriver(); phy != nil {
		phy.Tick(iface)
	} else if sw := iface.SwitchDriver(); sw != nil {
		sw.Tick(iface)
	}
}

func (d *Driver) EnableIrq(iface *network.Interface) {
	d.mu.Lock()
	d.regs.irqEnabled = true
	if d.state == nic.StateInitialized || d.state == nic.StateIrqDisabled {
		d.state = nic.StateIrqEnabled
	}
	d.mu.Unlock()
	if phy := iface.PhyDriver(); phy != nil {
		phy.EnableIrq(iface)
	} else if sw := iface.SwitchDriver(); sw != nil {
		sw.EnableIrq(iface)
	}
	// Level triggered: anything latched while masked fires now.
	d.isr()
}

func (d *Driver) DisableIrq(iface *network.Interface) {
	d.mu.Lock()
	d.regs.irqEnabled = false
	if d.state == nic.StateIrqEnabled {
		d.state = nic.StateIrqDisabled
	}
	d.mu.Unlock()
	if phy := iface.PhyDriver(); phy != nil {
		phy.DisableIrq(iface)
	} else if sw := iface.SwitchDriver(); sw != nil {
		sw.DisableIrq(iface)
	}
}

// EventHandler recovers from bus errors, drains the receive ring and
// unmasks the receive interrupt.
func (d *Driver) EventHandler(iface *network.Interface) {
	d.mu.Lock()
	busError := d.busError
	d.mu.Unlock()
	if busError {
		d.recover(iface)
	}

	for {
		err := d.receivePacket(iface)
		if errors.Is(err, nic.ErrBufferEmpty) {
			break
		}
	}

	d.mu.Lock()
	d.regs.intMask |= IntRx
	d.mu.Unlock()
}

func (d *Driver) recover(iface *network.Interface) {
	d.mu.Lock()
	d.regs.dmaRunning = false
	d.txRing.Reset(nic.DescFree)
	d.rxRing.Reset(nic.DescHardware)
	d.hwTx = 0
	d.hwRx = 0
	d.busError = false
	d.regs.intStatus &^= IntBusError
	d.regs.intMask = intAll
	d.regs.dmaRunning = true
	d.state = nic.StateInitialized
	d.mu.Unlock()

	iface.Stack().Metrics().IncRingReset()
	iface.Logger().Warn("dma bus error, descriptor rings reinitialized", map[string]any{"event": "ring_reset"})
	iface.SetTxEvent()
}

// receivePacket consumes one descriptor. Faulty frames are reported as
// nic.ErrInvalidPacket and the descriptor is returned to hardware anyway.
func (d *Driver) receivePacket(iface *network.Interface) error {
	desc := d.rxRing.Current()
	if desc.OwnedByHardware() {
		return nic.ErrBufferEmpty
	}

	var err error
	n := 0
	switch {
	case desc.Status&rxStatusErrors != 0:
		err = fmt.Errorf("rx status %#x: %w", desc.Status, nic.ErrInvalidPacket)
	case desc.Length > len(d.scratch):
		err = fmt.Errorf("rx length %d: %w", desc.Length, nic.ErrInvalidPacket)
	default:
		n = copy(d.scratch, desc.Buffer[:desc.Length])
	}

	desc.Buffer = desc.Buffer[:cap(desc.Buffer)]
	desc.Length = 0
	desc.Status = 0
	desc.Release()
	d.rxRing.Advance()

	if err != nil {
		iface.Stack().Metrics().IncRxErrors()
		iface.Stack().Throttle().Debug("simeth-rx:"+iface.Name(), "receive error", map[string]any{
			"iface": iface.Name(),
			"error": err.Error(),
		})
		return err
	}
	_ = iface.ProcessPacket(d.scratch[:n], &network.RxAncillary{})
	return nil
}

// SendPacket copies the frame into the current TX descriptor and hands it
// to the DMA engine.
func (d *Driver) SendPacket(iface *network.Interface, buf *netbuf.Buffer, offset int, ancillary *network.TxAncillary) error {
	length := buf.Length() - offset
	if length <= 0 {
		iface.SetTxEvent()
		return nil
	}
	if length > d.cfg.BufferSize {
		iface.SetTxEvent()
		return fmt.Errorf("%d byte frame: %w", length, nic.ErrInvalidLength)
	}
	if !iface.LinkState() {
		iface.SetTxEvent()
		return nil
	}

	desc := d.txRing.Current()
	if desc.State() != nic.DescFree {
		return nic.ErrBusy
	}
	desc.Buffer = desc.Buffer[:cap(desc.Buffer)]
	buf.Read(desc.Buffer[:length], offset, length)
	desc.Length = length
	desc.Status = 0
	desc.Release()
	d.txRing.Advance()

	if d.cfg.AutoTransmit {
		d.Transmit()
	}
	if d.txRing.Current().State() == nic.DescFree {
		iface.SetTxEvent()
	}
	return nil
}

// UpdateMacAddrFilter recomputes the perfect-match and hash registers from
// the interface filter table.
func (d *Driver) UpdateMacAddrFilter(iface *network.Interface) error {
	filter := nic.ComputeMacFilter(iface.FilterEntries(), d.cfg.PerfectSlots, d.crc)
	d.mu.Lock()
	d.regs.station = iface.MacAddr()
	d.regs.filter = filter
	d.regs.promiscuous = iface.Promiscuous() && d.cfg.Capabilities.Promiscuous
	d.regs.allMulticast = iface.AcceptAllMulticast() && d.cfg.Capabilities.AcceptAllMulticast
	d.mu.Unlock()
	iface.Logger().Debug("mac filter updated", map[string]any{
		"perfect":        len(filter.Perfect),
		"multicast_hash": fmt.Sprintf("%08x%08x", filter.MulticastHash[1], filter.MulticastHash[0]),
	})
	return nil
}

// UpdateMacConfig programs the negotiated speed and duplex.
func (d *Driver) UpdateMacConfig(iface *network.Interface) error {
	duplex := iface.DuplexMode()
	if duplex == nic.DuplexFull && !d.cfg.Capabilities.ForceFullDuplex && iface.PhyDriver() == nil {
		duplex = nic.DuplexHalf
	}
	d.mu.Lock()
	d.regs.speed = iface.LinkSpeed()
	d.regs.duplex = duplex
	d.mu.Unlock()
	return nil
}

func (d *Driver) WritePhyReg(opcode, phyAddr, regAddr uint8, data uint16) {
	if opcode != network.SmiOpcodeWrite || phyAddr != d.cfg.PhyAddr || regAddr > network.SmiMaxClause22Register {
		return
	}
	d.mu.Lock()
	d.phy.write(regAddr, data)
	d.mu.Unlock()
}

func (d *Driver) ReadPhyReg(opcode, phyAddr, regAddr uint8) uint16 {
	if opcode != network.SmiOpcodeRead || regAddr > network.SmiMaxClause22Register {
		return 0
	}
	if phyAddr != d.cfg.PhyAddr {
		// Nobody drives the bus: the pull-up reads all ones.
		return 0xFFFF
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.phy.read(regAddr)
}

// Filter returns the programmed address filter.
func (d *Driver) Filter() nic.MacFilter {
	d.mu.Lock()
	defer d.mu.Unlock()
	f := d.regs.filter
	f.Perfect = append([]nic.MacAddr(nil), f.Perfect...)
	return f
}

// MacConfig returns the programmed speed and duplex.
func (d *Driver) MacConfig() (nic.LinkSpeed, nic.DuplexMode) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.regs.speed, d.regs.duplex
}

var _ network.NicDriver = (*Driver)(nil)
