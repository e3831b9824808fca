// Package phy implements a generic IEEE 802.3 Clause 22 transceiver
// driver. It only relies on the standard register set, so it works with
// any PHY that implements BMCR, BMSR, ANAR and ANLPAR.
package phy

import (
	"errors"
	"fmt"

	"ethstack/pkg/network"
	"ethstack/pkg/nic"
)

var ErrResetTimeout = errors.New("phy reset timeout")

// resetPolls bounds the wait for the self-clearing reset bit.
const resetPolls = 100

type Driver struct {
	// Advertise is the ANAR value written during Init. Zero advertises
	// every 10/100 mode.
	Advertise uint16
}

func New() *Driver {
	return &Driver{Advertise: ANAdvertiseAll}
}

func (d *Driver) read(iface *network.Interface, reg uint8) uint16 {
	return iface.ReadPhyReg(network.SmiOpcodeRead, iface.PhyAddr(), reg)
}

func (d *Driver) write(iface *network.Interface, reg uint8, value uint16) {
	iface.WritePhyReg(network.SmiOpcodeWrite, iface.PhyAddr(), reg, value)
}

// Init resets the transceiver and restarts auto-negotiation.
func (d *Driver) Init(iface *network.Interface) error {
	d.write(iface, RegBMCR, BMCRReset)
	cleared := false
	for i := 0; i < resetPolls; i++ {
		if d.read(iface, RegBMCR)&BMCRReset == 0 {
			cleared = true
			break
		}
	}
	if !cleared {
		return fmt.Errorf("phy %d: %w", iface.PhyAddr(), ErrResetTimeout)
	}

	advertise := d.Advertise
	if advertise == 0 {
		advertise = ANAdvertiseAll
	}
	d.write(iface, RegANAR, advertise)
	d.write(iface, RegBMCR, BMCRAutoNegEnable|BMCRRestartAutoNeg)

	iface.Logger().Debug("phy initialized", map[string]any{
		"phy_addr": iface.PhyAddr(),
		"id1":      d.read(iface, RegPHYID1),
		"id2":      d.read(iface, RegPHYID2),
	})

	// Poll the link state right away.
	iface.SetPhyEventFromISR()
	return nil
}

// Tick polls the link status when no interrupt line is wired.
func (d *Driver) Tick(iface *network.Interface) {
	if iface.ExtIntDriver() != nil {
		return
	}
	up := d.read(iface, RegBMSR)&BMSRLinkStatus != 0
	if up != iface.LinkState() {
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

// EventHandler resolves the negotiated mode on link up, pushes it into the
// MAC and notifies the stack.
func (d *Driver) EventHandler(iface *network.Interface) {
	// The link bit latches low, so the first read reports past failures.
	d.read(iface, RegBMSR)
	up := d.read(iface, RegBMSR)&BMSRLinkStatus != 0

	switch {
	case up && !iface.LinkState():
		speed, duplex := d.resolve(iface)
		iface.SetLinkSpeed(speed)
		iface.SetDuplexMode(duplex)
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

func (d *Driver) resolve(iface *network.Interface) (nic.LinkSpeed, nic.DuplexMode) {
	bmcr := d.read(iface, RegBMCR)
	if bmcr&BMCRAutoNegEnable == 0 {
		return forcedMode(bmcr, iface.NicDriver().Capabilities().ForceFullDuplex)
	}
	return Resolve(d.read(iface, RegANAR), d.read(iface, RegANLPAR))
}

func forcedMode(bmcr uint16, allowFull bool) (nic.LinkSpeed, nic.DuplexMode) {
	speed := nic.LinkSpeed10M
	if bmcr&BMCRSpeed100 != 0 {
		speed = nic.LinkSpeed100M
	}
	duplex := nic.DuplexHalf
	if bmcr&BMCRFullDuplex != 0 && allowFull {
		duplex = nic.DuplexFull
	}
	return speed, duplex
}

// Resolve picks the highest common mode of the local advertisement and
// the link partner ability, in 802.3 Annex 28B priority order.
func Resolve(anar, anlpar uint16) (nic.LinkSpeed, nic.DuplexMode) {
	common := anar & anlpar
	switch {
	case common&AN100BaseTXFull != 0:
		return nic.LinkSpeed100M, nic.DuplexFull
	case common&AN100BaseTX != 0:
		return nic.LinkSpeed100M, nic.DuplexHalf
	case common&AN10BaseTFull != 0:
		return nic.LinkSpeed10M, nic.DuplexFull
	default:
		return nic.LinkSpeed10M, nic.DuplexHalf
	}
}
