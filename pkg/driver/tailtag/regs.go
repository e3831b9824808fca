package tailtag

// SPI commands.
const (
	CmdWrite byte = 0x02
	CmdRead  byte = 0x03
)

// Register map of the subset of a KSZ8863 the driver touches.
const (
	RegChipID0     byte = 0x00
	RegChipID1     byte = 0x01
	RegGlobalCtrl1 byte = 0x03

	RegPort1Status0 byte = 0x1E
	RegPort1Status1 byte = 0x1F
	RegPort2Status0 byte = 0x2E
	RegPort2Status1 byte = 0x2F
)

const (
	ChipFamily byte = 0x88

	ChipID1Start        byte = 0x01
	GlobalCtrl1TailTag  byte = 0x40
	PortStatus0LinkGood byte = 0x20
	PortStatus1Duplex   byte = 0x04
	PortStatus1Speed    byte = 0x02
)

// PortCount is the number of external ports.
const PortCount = 2

func statusRegs(port int) (byte, byte) {
	if port == 2 {
		return RegPort2Status0, RegPort2Status1
	}
	return RegPort1Status0, RegPort1Status1
}
