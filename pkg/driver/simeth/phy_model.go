package simeth

import "ethstack/pkg/phy"

// Identifier reported in PHYID1/PHYID2.
const (
	PhyID1 uint16 = 0x0007
	PhyID2 uint16 = 0xc0f1
)

// phyModel emulates the Clause 22 register file of a 10/100 transceiver.
type phyModel struct {
	regs        [32]uint16
	linkUp      bool
	latchedDown bool
	partner     uint16
}

func (p *phyModel) reset() {
	p.regs = [32]uint16{}
	p.regs[phy.RegBMCR] = phy.BMCRAutoNegEnable | phy.BMCRSpeed100 | phy.BMCRFullDuplex
	p.regs[phy.RegBMSR] = phy.BMSR100BaseTXFull | phy.BMSR100BaseTXHalf | phy.BMSR10BaseTFull |
		phy.BMSR10BaseTHalf | phy.BMSRAutoNegAbility | phy.BMSRExtendedCap
	p.regs[phy.RegPHYID1] = PhyID1
	p.regs[phy.RegPHYID2] = PhyID2
	p.regs[phy.RegANAR] = phy.ANAdvertiseAll
	if p.partner == 0 {
		p.partner = phy.ANAdvertiseAll
	}
}

func (p *phyModel) setLink(up bool) {
	if p.linkUp && !up {
		p.latchedDown = true
	}
	p.linkUp = up
}

func (p *phyModel) write(reg uint8, v uint16) {
	switch reg {
	case phy.RegBMCR:
		if v&phy.BMCRReset != 0 {
			// Reset completes instantly and the bit self-clears.
			p.reset()
			return
		}
		p.regs[reg] = v &^ phy.BMCRRestartAutoNeg
	case phy.RegBMSR, phy.RegPHYID1, phy.RegPHYID2, phy.RegANLPAR, phy.RegANER:
	default:
		p.regs[reg] = v
	}
}

func (p *phyModel) read(reg uint8) uint16 {
	switch reg {
	case phy.RegBMSR:
		v := p.regs[reg]
		if p.linkUp && !p.latchedDown {
			v |= phy.BMSRLinkStatus
			if p.regs[phy.RegBMCR]&phy.BMCRAutoNegEnable != 0 {
				v |= phy.BMSRAutoNegDone
			}
		}
		p.latchedDown = false
		return v
	case phy.RegANLPAR:
		if p.linkUp && p.regs[phy.RegBMCR]&phy.BMCRAutoNegEnable != 0 {
			return p.partner
		}
		return 0
	}
	return p.regs[reg]
}
