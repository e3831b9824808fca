package tailtag

import (
	"sync"

	"ethstack/pkg/network"
	"ethstack/pkg/nic"
)

// Bus is an SPI master wired to an emulated switch register file. It lets
// the driver run without hardware.
type Bus struct {
	mu       sync.Mutex
	regs     [256]byte
	selected bool
	phase    int
	cmd      byte
	addr     byte
	mode     uint8
	bitrate  uint32
}

func NewBus() *Bus {
	b := &Bus{}
	b.regs[RegChipID0] = ChipFamily
	b.regs[RegChipID1] = 0x30
	return b
}

func (b *Bus) Init() error { return nil }

func (b *Bus) SetMode(mode uint8) error {
	b.mu.Lock()
	b.mode = mode
	b.mu.Unlock()
	return nil
}

func (b *Bus) SetBitrate(bitrate uint32) error {
	b.mu.Lock()
	b.bitrate = bitrate
	b.mu.Unlock()
	return nil
}

func (b *Bus) AssertCs() {
	b.mu.Lock()
	b.selected = true
	b.phase = 0
	b.mu.Unlock()
}

func (b *Bus) DeassertCs() {
	b.mu.Lock()
	b.selected = false
	b.mu.Unlock()
}

// Transfer shifts one byte each way. The first byte is the command, the
// second the register address, and data bytes auto-increment the address.
func (b *Bus) Transfer(data byte) byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.selected {
		return 0xFF
	}
	defer func() { b.phase++ }()
	switch b.phase {
	case 0:
		b.cmd = data
		return 0xFF
	case 1:
		b.addr = data
		return 0xFF
	}
	var out byte = 0xFF
	switch b.cmd {
	case CmdRead:
		out = b.regs[b.addr]
	case CmdWrite:
		if b.addr != RegChipID0 {
			b.regs[b.addr] = data
		}
	}
	b.addr++
	return out
}

// Reg returns a register value.
func (b *Bus) Reg(reg byte) byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.regs[reg]
}

// SetChipID overrides the family identifier.
func (b *Bus) SetChipID(id byte) {
	b.mu.Lock()
	b.regs[RegChipID0] = id
	b.mu.Unlock()
}

// SetPort sets the link status a port reports.
func (b *Bus) SetPort(port int, up bool, speed nic.LinkSpeed, duplex nic.DuplexMode) {
	r0, r1 := statusRegs(port)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.regs[r0] = 0
	b.regs[r1] = 0
	if !up {
		return
	}
	b.regs[r0] = PortStatus0LinkGood
	if speed == nic.LinkSpeed100M {
		b.regs[r1] |= PortStatus1Speed
	}
	if duplex == nic.DuplexFull {
		b.regs[r1] |= PortStatus1Duplex
	}
}

var _ network.SpiDriver = (*Bus)(nil)
