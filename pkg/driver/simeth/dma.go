package simeth

import (
	"errors"

	"ethstack/pkg/nic"
)

var (
	ErrNoCarrier  = errors.New("no carrier")
	ErrFiltered   = errors.New("rejected by address filter")
	ErrOverrun    = errors.New("receive ring overrun")
	ErrDmaStopped = errors.New("dma engine stopped")
)

// Inject delivers a frame from the wire to the receive DMA engine.
func (d *Driver) Inject(frame []byte) error {
	return d.InjectStatus(frame, 0)
}

// InjectStatus delivers a frame with extra receive status bits, such as
// RxStatusCrcError, as the MAC would flag a damaged frame.
func (d *Driver) InjectStatus(frame []byte, status uint32) error {
	d.mu.Lock()
	if !d.regs.dmaRunning {
		d.mu.Unlock()
		return ErrDmaStopped
	}
	if !d.phy.linkUp {
		d.mu.Unlock()
		return ErrNoCarrier
	}
	if len(frame) >= 6 && !d.acceptLocked(nic.MacAddrFromSlice(frame[:6])) {
		d.filtered++
		d.mu.Unlock()
		return ErrFiltered
	}
	desc := d.rxRing.At(d.hwRx)
	if desc.State() != nic.DescHardware {
		d.overruns++
		d.mu.Unlock()
		return ErrOverrun
	}
	if len(frame) < nic.EthHeaderSize {
		status |= RxStatusRunt
	}
	if len(frame) > len(desc.Buffer) {
		status |= RxStatusTooLong
	}
	desc.Length = copy(desc.Buffer, frame)
	desc.Status = status
	desc.Complete(nic.DescSoftware)
	d.hwRx = d.rxRing.Next(d.hwRx)
	d.regs.intStatus |= IntRx
	d.mu.Unlock()

	d.isr()
	return nil
}

func (d *Driver) acceptLocked(dst nic.MacAddr) bool {
	r := &d.regs
	switch {
	case r.promiscuous, dst == r.station, dst.IsBroadcast():
		return true
	case dst.IsMulticast() && r.allMulticast:
		return true
	}
	return r.filter.Matches(dst, d.crc)
}

// Transmit runs the transmit DMA engine over every descriptor owned by
// hardware, in ring order, and returns the number of frames sent.
func (d *Driver) Transmit() int {
	d.mu.Lock()
	if !d.regs.dmaRunning {
		d.mu.Unlock()
		return 0
	}
	var frames [][]byte
	for {
		desc := d.txRing.At(d.hwTx)
		if desc.State() != nic.DescHardware {
			break
		}
		if desc.Length <= 0 || desc.Length > len(desc.Buffer) {
			d.torn++
		} else {
			frames = append(frames, append([]byte(nil), desc.Buffer[:desc.Length]...))
		}
		desc.Complete(nic.DescFree)
		d.hwTx = d.txRing.Next(d.hwTx)
	}
	wire := d.cfg.Wire
	if len(frames) > 0 {
		d.regs.intStatus |= IntTx
		if wire == nil {
			d.retainLocked(frames)
		}
	}
	d.mu.Unlock()

	if len(frames) == 0 {
		return 0
	}
	d.isr()
	if wire != nil {
		for _, f := range frames {
			wire(f)
		}
	}
	return len(frames)
}

func (d *Driver) retainLocked(frames [][]byte) {
	room := d.cfg.Retain - len(d.sent)
	if room < 0 {
		room = 0
	}
	if len(frames) > room {
		d.discards += len(frames) - room
		frames = frames[:room]
	}
	d.sent = append(d.sent, frames...)
}

// Sent drains the frames retained so far when no Wire is configured.
func (d *Driver) Sent() [][]byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := d.sent
	d.sent = nil
	return out
}

// SetLink plugs or unplugs the cable.
func (d *Driver) SetLink(up bool) {
	d.mu.Lock()
	d.phy.setLink(up)
	d.mu.Unlock()
}

// SetLinkPartner sets the abilities the far end advertises.
func (d *Driver) SetLinkPartner(abilities uint16) {
	d.mu.Lock()
	d.phy.partner = abilities
	d.mu.Unlock()
}

// RaiseBusError signals a fatal DMA error.
func (d *Driver) RaiseBusError() {
	d.mu.Lock()
	d.regs.intStatus |= IntBusError
	d.mu.Unlock()
	d.isr()
}

// HardwareStats reports frames the hardware dropped before software saw
// them and descriptors released with an inconsistent length.
type HardwareStats struct {
	Filtered int
	Overruns int
	Torn     int
}

func (d *Driver) HardwareStats() HardwareStats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return HardwareStats{Filtered: d.filtered, Overruns: d.overruns, Torn: d.torn}
}

// isr is the interrupt service routine. It clears and dispatches pending
// sources and never touches descriptors or calls into the stack beyond
// raising events.
func (d *Driver) isr() {
	d.mu.Lock()
	pending := d.regs.intStatus & d.regs.intMask
	if !d.regs.irqEnabled || pending == 0 || d.iface == nil {
		d.mu.Unlock()
		return
	}
	d.regs.intStatus &^= pending
	if pending&IntRx != 0 {
		// Masked until the event handler has drained the ring.
		d.regs.intMask &^= IntRx
	}
	if pending&IntBusError != 0 {
		d.busError = true
		d.regs.dmaRunning = false
		d.state = nic.StateResetPending
	}
	iface := d.iface
	d.mu.Unlock()

	if pending&IntTx != 0 {
		iface.SetTxEvent()
	}
	if pending&(IntRx|IntBusError) != 0 {
		iface.SetEventFromISR()
	}
}
