package phy

// Clause 22 register addresses.
const (
	RegBMCR   uint8 = 0x00
	RegBMSR   uint8 = 0x01
	RegPHYID1 uint8 = 0x02
	RegPHYID2 uint8 = 0x03
	RegANAR   uint8 = 0x04
	RegANLPAR uint8 = 0x05
	RegANER   uint8 = 0x06
)

// Basic mode control register bits.
const (
	BMCRReset          uint16 = 0x8000
	BMCRLoopback       uint16 = 0x4000
	BMCRSpeed100       uint16 = 0x2000
	BMCRAutoNegEnable  uint16 = 0x1000
	BMCRPowerDown      uint16 = 0x0800
	BMCRIsolate        uint16 = 0x0400
	BMCRRestartAutoNeg uint16 = 0x0200
	BMCRFullDuplex     uint16 = 0x0100
)

// Basic mode status register bits.
const (
	BMSR100BaseTXFull  uint16 = 0x4000
	BMSR100BaseTXHalf  uint16 = 0x2000
	BMSR10BaseTFull    uint16 = 0x1000
	BMSR10BaseTHalf    uint16 = 0x0800
	BMSRAutoNegDone    uint16 = 0x0020
	BMSRRemoteFault    uint16 = 0x0010
	BMSRAutoNegAbility uint16 = 0x0008
	BMSRLinkStatus     uint16 = 0x0004
	BMSRExtendedCap    uint16 = 0x0001
)

// Auto-negotiation advertisement and link partner ability bits.
const (
	AN100BaseTXFull uint16 = 0x0100
	AN100BaseTX     uint16 = 0x0080
	AN10BaseTFull   uint16 = 0x0040
	AN10BaseT       uint16 = 0x0020
	ANSelector8023  uint16 = 0x0001

	ANAdvertiseAll = AN100BaseTXFull | AN100BaseTX | AN10BaseTFull | AN10BaseT | ANSelector8023
)
