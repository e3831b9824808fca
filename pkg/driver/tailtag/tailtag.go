// Package tailtag drives a two-port managed switch that marks every frame
// exchanged with the host MAC with a one-byte tail tag. The switch is
// managed over SPI and plays the PHY role for the interface.
package tailtag

import (
	"errors"
	"fmt"

	"ethstack/pkg/netbuf"
	"ethstack/pkg/network"
	"ethstack/pkg/nic"
)

var ErrUnknownChip = errors.New("unknown switch chip")

// TagSize is the length of the tail tag in both directions.
const TagSize = 1

// PortStatus is the link state of one external port.
type PortStatus struct {
	Port   int            `json:"port"`
	Up     bool           `json:"up"`
	Speed  nic.LinkSpeed  `json:"speed"`
	Duplex nic.DuplexMode `json:"duplex"`
}

// Driver implements network.SwitchDriver. All methods run from the network
// task with the stack lock held.
type Driver struct {
	ports [PortCount]PortStatus
}

func New() *Driver {
	d := &Driver{}
	for i := range d.ports {
		d.ports[i].Port = i + 1
	}
	return d
}

func readReg(spi network.SpiDriver, reg byte) byte {
	spi.AssertCs()
	spi.Transfer(CmdRead)
	spi.Transfer(reg)
	v := spi.Transfer(0xFF)
	spi.DeassertCs()
	return v
}

func writeReg(spi network.SpiDriver, reg, v byte) {
	spi.AssertCs()
	spi.Transfer(CmdWrite)
	spi.Transfer(reg)
	spi.Transfer(v)
	spi.DeassertCs()
}

// Init checks the chip identifier, enables tail tagging and starts the
// switch.
func (d *Driver) Init(iface *network.Interface) error {
	spi := iface.SpiDriver()
	if spi == nil {
		return fmt.Errorf("switch needs an spi driver: %w", nic.ErrInvalidParameter)
	}
	if id := readReg(spi, RegChipID0); id != ChipFamily {
		return fmt.Errorf("chip id %#02x: %w", id, ErrUnknownChip)
	}
	writeReg(spi, RegGlobalCtrl1, readReg(spi, RegGlobalCtrl1)|GlobalCtrl1TailTag)
	writeReg(spi, RegChipID1, readReg(spi, RegChipID1)|ChipID1Start)

	iface.Logger().Debug("switch initialized", map[string]any{"switch_port": iface.SwitchPort()})
	iface.SetPhyEventFromISR()
	return nil
}

func (d *Driver) readPort(spi network.SpiDriver, port int) PortStatus {
	r0, r1 := statusRegs(port)
	st := PortStatus{Port: port, Speed: nic.LinkSpeed10M, Duplex: nic.DuplexHalf}
	st.Up = readReg(spi, r0)&PortStatus0LinkGood != 0
	s1 := readReg(spi, r1)
	if s1&PortStatus1Speed != 0 {
		st.Speed = nic.LinkSpeed100M
	}
	if s1&PortStatus1Duplex != 0 {
		st.Duplex = nic.DuplexFull
	}
	return st
}

// linkUp reports the interface link: the configured port, or any port
// when the interface is not bound to one.
func linkUp(ports []PortStatus, switchPort uint8) (PortStatus, bool) {
	for _, p := range ports {
		if switchPort != 0 && p.Port != int(switchPort) {
			continue
		}
		if p.Up {
			return p, true
		}
	}
	return PortStatus{}, false
}

// Tick polls port link status when no interrupt line is wired.
func (d *Driver) Tick(iface *network.Interface) {
	if iface.ExtIntDriver() != nil {
		return
	}
	spi := iface.SpiDriver()
	ports := make([]PortStatus, PortCount)
	for i := range ports {
		ports[i] = d.readPort(spi, i+1)
	}
	if _, up := linkUp(ports, iface.SwitchPort()); up != iface.LinkState() {
		iface.SetPhyEventFromISR()
	}
}

func (d *Driver) EnableIrq(iface *network.Interface) {
	if ext := iface.ExtIntDriver(); ext != nil {
		ext.EnableIrq()
	}
}

func (d *Driver) DisableIrq(iface *network.Interface) {
	if ext := iface.ExtIntDriver(); ext != nil {
		ext.DisableIrq()
	}
}

// EventHandler refreshes every port and reports link transitions of the
// interface.
func (d *Driver) EventHandler(iface *network.Interface) {
	spi := iface.SpiDriver()
	for i := range d.ports {
		d.ports[i] = d.readPort(spi, i+1)
	}
	port, up := linkUp(d.ports[:], iface.SwitchPort())
	switch {
	case up && !iface.LinkState():
		iface.SetLinkSpeed(port.Speed)
		iface.SetDuplexMode(port.Duplex)
		if err := iface.NicDriver().UpdateMacConfig(iface); err != nil {
			iface.Logger().Warn("mac config update failed", map[string]any{"error": err.Error()})
		}
		iface.SetLinkState(true)
		iface.NotifyLinkChange()
	case !up && iface.LinkState():
		iface.SetLinkState(false)
		iface.NotifyLinkChange()
	}
}

// Ports returns the port status seen by the last event.
func (d *Driver) Ports() []PortStatus {
	return append([]PortStatus(nil), d.ports[:]...)
}

// TagFrame pads the frame to the minimum Ethernet size and appends the
// egress tag. A zero port leaves forwarding to the address lookup.
func (d *Driver) TagFrame(iface *network.Interface, buf *netbuf.Buffer, offset *int, ancillary *network.TxAncillary) error {
	var port uint8
	if ancillary != nil {
		port = ancillary.Port
	}
	if port > PortCount {
		return fmt.Errorf("switch port %d: %w", port, nic.ErrInvalidParameter)
	}
	if n := buf.Length() - *offset; n < nic.EthMinFrameSize {
		buf.Append(make([]byte, nic.EthMinFrameSize-n))
	}
	var tag byte
	if port != 0 {
		tag = 1 << (port - 1)
	}
	buf.Append([]byte{tag})
	return nil
}

// UntagFrame strips the ingress tag and records the source port.
func (d *Driver) UntagFrame(iface *network.Interface, frame []byte, ancillary *network.RxAncillary) ([]byte, error) {
	if len(frame) < TagSize {
		return nil, fmt.Errorf("missing tail tag: %w", nic.ErrInvalidPacket)
	}
	tag := frame[len(frame)-1]
	if ancillary != nil {
		ancillary.Port = tag&0x01 + 1
	}
	return frame[:len(frame)-TagSize], nil
}

var _ network.SwitchDriver = (*Driver)(nil)
