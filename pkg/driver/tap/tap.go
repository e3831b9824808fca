//go:build linux

// Package tap implements a NIC driver on top of a Linux TAP device. A
// receive goroutine stands in for the interrupt handler: it fills a
// descriptor ring and raises the NIC event, and the network task drains
// the ring.
package tap

import (
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"ethstack/pkg/netbuf"
	"ethstack/pkg/network"
	"ethstack/pkg/nic"

	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"
)

const (
	defaultRxRingSize = 16
	frameBufferSize   = nic.EthMaxFrameSize + 4
)

var ErrClosed = errors.New("tap device closed")

type Config struct {
	// Device is the host-side interface name. Defaults to the stack
	// interface name.
	Device     string
	RxRingSize int
	// LinkByName resolves the host link for carrier polling. Defaults to
	// netlink.LinkByName.
	LinkByName func(name string) (netlink.Link, error)
}

type Driver struct {
	cfg Config

	mu          sync.Mutex
	file        *os.File
	iface       *network.Interface
	state       nic.DriverState
	irqEnabled  bool
	rxPending   bool
	filter      nic.MacFilter
	station     nic.MacAddr
	promiscuous bool
	allMulti    bool
	overruns    int

	rxRing  *nic.Ring
	hwRx    int
	scratch []byte
	done    chan struct{}
}

func New(cfg Config) *Driver {
	if cfg.RxRingSize <= 0 {
		cfg.RxRingSize = defaultRxRingSize
	}
	if cfg.LinkByName == nil {
		cfg.LinkByName = netlink.LinkByName
	}
	return &Driver{
		cfg:     cfg,
		rxRing:  nic.NewRing(cfg.RxRingSize, frameBufferSize),
		scratch: make([]byte, frameBufferSize),
	}
}

func (d *Driver) Type() nic.InterfaceType { return nic.TypeEthernet }

func (d *Driver) MTU() int { return nic.EthMTU }

// The kernel accepts any destination on a TAP device, so the software
// filter can honor both modes.
func (d *Driver) Capabilities() network.Capabilities {
	return network.Capabilities{Promiscuous: true, AcceptAllMulticast: true, ForceFullDuplex: true}
}

func (d *Driver) State() nic.DriverState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

func (d *Driver) device(iface *network.Interface) string {
	if d.cfg.Device != "" {
		return d.cfg.Device
	}
	return iface.Name()
}

// Open attaches to the TAP device, creating it when needed.
func Open(name string) (*os.File, error) {
	fd, err := unix.Open("/dev/net/tun", unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("open /dev/net/tun: %w", err)
	}
	ifr, err := unix.NewIfreq(name)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("tap %s: %w", name, err)
	}
	ifr.SetUint16(unix.IFF_TAP | unix.IFF_NO_PI)
	if err := unix.IoctlIfreq(fd, unix.TUNSETIFF, ifr); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("tap %s: TUNSETIFF: %w", name, err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("tap %s: %w", name, err)
	}
	return os.NewFile(uintptr(fd), "/dev/net/tun"), nil
}

func (d *Driver) Init(iface *network.Interface) error {
	f, err := Open(d.device(iface))
	if err != nil {
		return err
	}
	d.rxRing.Reset(nic.DescHardware)

	d.mu.Lock()
	d.file = f
	d.iface = iface
	d.hwRx = 0
	d.done = make(chan struct{})
	d.state = nic.StateInitialized
	d.mu.Unlock()

	if err := d.UpdateMacAddrFilter(iface); err != nil {
		return err
	}
	go d.receive(f, d.done)

	iface.Logger().Info("tap device attached", map[string]any{"device": d.device(iface)})
	iface.SetTxEvent()
	iface.SetEventFromISR()
	return nil
}

// Close stops the receive goroutine and releases the device.
func (d *Driver) Close() error {
	d.mu.Lock()
	f, done := d.file, d.done
	d.file = nil
	d.state = nic.StateUninitialized
	d.mu.Unlock()
	if f == nil {
		return nil
	}
	err := f.Close()
	<-done
	return err
}

// receive is the interrupt source. It owns descriptors in the hardware
// state and never calls into the stack except to raise the NIC event.
func (d *Driver) receive(f *os.File, done chan struct{}) {
	defer close(done)
	buf := make([]byte, frameBufferSize)
	for {
		n, err := f.Read(buf)
		if err != nil {
			if errors.Is(err, os.ErrClosed) {
				return
			}
			if errors.Is(err, unix.EINTR) || errors.Is(err, unix.EAGAIN) {
				continue
			}
			return
		}
		d.deliver(buf[:n])
	}
}

func (d *Driver) deliver(frame []byte) {
	if len(frame) >= 6 && !d.accepts(nic.MacAddrFromSlice(frame[:6])) {
		return
	}
	d.mu.Lock()
	desc := d.rxRing.At(d.hwRx)
	if desc.State() != nic.DescHardware {
		d.overruns++
		d.mu.Unlock()
		return
	}
	desc.Buffer = desc.Buffer[:cap(desc.Buffer)]
	desc.Length = copy(desc.Buffer, frame)
	desc.Status = 0
	desc.Complete(nic.DescSoftware)
	d.hwRx = d.rxRing.Next(d.hwRx)
	d.rxPending = true
	d.mu.Unlock()
	d.raise()
}

func (d *Driver) accepts(dst nic.MacAddr) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch {
	case d.promiscuous, dst == d.station, dst.IsBroadcast():
		return true
	case dst.IsMulticast() && d.allMulti:
		return true
	}
	return d.filter.Matches(dst, nic.CRC32)
}

func (d *Driver) raise() {
	d.mu.Lock()
	fire := d.irqEnabled && d.rxPending
	if fire {
		d.rxPending = false
	}
	iface := d.iface
	d.mu.Unlock()
	if fire && iface != nil {
		iface.SetEventFromISR()
	}
}

// Tick polls the carrier of the host link through netlink.
func (d *Driver) Tick(iface *network.Interface) {
	link, err := d.cfg.LinkByName(d.device(iface))
	if err != nil {
		iface.Stack().Throttle().Warn("tap-link:"+iface.Name(), "link lookup failed", map[string]any{"error": err.Error()})
		return
	}
	up := LinkUp(link.Attrs())
	if up == iface.LinkState() {
		return
	}
	if up {
		// A TAP device has no physical layer; report it as gigabit.
		iface.SetLinkSpeed(nic.LinkSpeed1G)
		iface.SetDuplexMode(nic.DuplexFull)
		if err := d.UpdateMacConfig(iface); err != nil {
			iface.Logger().Warn("mac config update failed", map[string]any{"error": err.Error()})
		}
	}
	iface.SetLinkState(up)
	iface.NotifyLinkChange()
}

// LinkUp reports whether the host side is administratively up with a
// carrier.
func LinkUp(attrs *netlink.LinkAttrs) bool {
	if attrs == nil || attrs.Flags&net.FlagUp == 0 {
		return false
	}
	switch attrs.OperState {
	case netlink.OperUp, netlink.OperUnknown:
		return true
	}
	return false
}

func (d *Driver) EnableIrq(iface *network.Interface) {
	d.mu.Lock()
	d.irqEnabled = true
	if d.state == nic.StateInitialized || d.state == nic.StateIrqDisabled {
		d.state = nic.StateIrqEnabled
	}
	d.mu.Unlock()
	d.raise()
}

func (d *Driver) DisableIrq(iface *network.Interface) {
	d.mu.Lock()
	d.irqEnabled = false
	if d.state == nic.StateIrqEnabled {
		d.state = nic.StateIrqDisabled
	}
	d.mu.Unlock()
}

func (d *Driver) EventHandler(iface *network.Interface) {
	for {
		desc := d.rxRing.Current()
		if desc.OwnedByHardware() {
			break
		}
		n := copy(d.scratch, desc.Buffer[:desc.Length])
		desc.Length = 0
		desc.Release()
		d.rxRing.Advance()
		if err := iface.ProcessPacket(d.scratch[:n], &network.RxAncillary{}); err != nil {
			iface.Stack().Throttle().Debug("tap-rx:"+iface.Name(), "frame dropped", map[string]any{"error": err.Error()})
		}
	}
}

// SendPacket writes the frame to the device. The TX event is re-armed
// unless the write timed out, which leaves the transmitter busy.
func (d *Driver) SendPacket(iface *network.Interface, buf *netbuf.Buffer, offset int, ancillary *network.TxAncillary) error {
	err := d.write(iface, buf, offset)
	if !errors.Is(err, nic.ErrBusy) {
		iface.SetTxEvent()
	}
	return err
}

func (d *Driver) write(iface *network.Interface, buf *netbuf.Buffer, offset int) error {
	length := buf.Length() - offset
	if length <= 0 {
		return nil
	}
	if length > nic.EthMaxFrameSize {
		return fmt.Errorf("%d byte frame: %w", length, nic.ErrInvalidLength)
	}
	if !iface.LinkState() {
		return nil
	}
	d.mu.Lock()
	f := d.file
	d.mu.Unlock()
	if f == nil {
		return ErrClosed
	}
	frame := make([]byte, length)
	buf.Read(frame, offset, length)
	var deadline time.Time
	if timeout := iface.Stack().TxTimeout(); timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	if err := f.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("tap write: %w", err)
	}
	if _, err := f.Write(frame); err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return nic.ErrBusy
		}
		return fmt.Errorf("tap write: %w", err)
	}
	return nil
}

func (d *Driver) UpdateMacAddrFilter(iface *network.Interface) error {
	filter := nic.ComputeMacFilter(iface.FilterEntries(), 0, nic.CRC32)
	d.mu.Lock()
	d.station = iface.MacAddr()
	d.filter = filter
	d.promiscuous = iface.Promiscuous()
	d.allMulti = iface.AcceptAllMulticast()
	d.mu.Unlock()
	return nil
}

func (d *Driver) UpdateMacConfig(iface *network.Interface) error {
	return nil
}

// A TAP device has no MDIO bus.
func (d *Driver) WritePhyReg(opcode, phyAddr, regAddr uint8, data uint16) {}

func (d *Driver) ReadPhyReg(opcode, phyAddr, regAddr uint8) uint16 { return 0 }

var _ network.NicDriver = (*Driver)(nil)
