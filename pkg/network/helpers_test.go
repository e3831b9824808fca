package network

import (
	"net"
	"testing"
	"time"

	"ethstack/internal/metrics"
	"ethstack/pkg/netbuf"
	"ethstack/pkg/nic"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	testMac   = nic.MacAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01}
	peerMac   = nic.MacAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x02}
	strayMac  = nic.MacAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x03}
	mdnsGroup = nic.MacAddr{0x01, 0x00, 0x5e, 0x00, 0x00, 0xfb}
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

type fakeNic struct {
	caps          Capabilities
	initErr       error
	sendErr       error
	calls         []string
	ticks         int
	filterUpdates int
	sent          [][]byte
	onEvent       func(iface *Interface)
}

func (f *fakeNic) Type() nic.InterfaceType     { return nic.TypeEthernet }
func (f *fakeNic) MTU() int                    { return nic.EthMTU }
func (f *fakeNic) Capabilities() Capabilities  { return f.caps }
func (f *fakeNic) Tick(iface *Interface)       { f.ticks++ }
func (f *fakeNic) EnableIrq(iface *Interface)  { f.calls = append(f.calls, "enable") }
func (f *fakeNic) DisableIrq(iface *Interface) { f.calls = append(f.calls, "disable") }
func (f *fakeNic) UpdateMacConfig(iface *Interface) error {
	return nil
}
func (f *fakeNic) WritePhyReg(opcode, phyAddr, regAddr uint8, data uint16) {}
func (f *fakeNic) ReadPhyReg(opcode, phyAddr, regAddr uint8) uint16        { return 0 }

func (f *fakeNic) Init(iface *Interface) error {
	f.calls = append(f.calls, "init")
	if f.initErr != nil {
		return f.initErr
	}
	iface.SetTxEvent()
	return nil
}

func (f *fakeNic) EventHandler(iface *Interface) {
	f.calls = append(f.calls, "event")
	if f.onEvent != nil {
		f.onEvent(iface)
	}
}

func (f *fakeNic) SendPacket(iface *Interface, buf *netbuf.Buffer, offset int, ancillary *TxAncillary) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, buf.Bytes()[offset:])
	iface.SetTxEvent()
	return nil
}

func (f *fakeNic) UpdateMacAddrFilter(iface *Interface) error {
	f.filterUpdates++
	return nil
}

type fakeClient struct {
	ticks       int
	linkChanges []bool
}

func (c *fakeClient) Tick(now time.Time) { c.ticks++ }
func (c *fakeClient) LinkChange(up bool) { c.linkChanges = append(c.linkChanges, up) }

type testEnv struct {
	stack   *Stack
	iface   *Interface
	nic     *fakeNic
	clock   *fakeClock
	metrics *metrics.Metrics
}

func newTestEnv(t *testing.T, txTimeout time.Duration) *testEnv {
	t.Helper()
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	m := metrics.NewWithRegistry(prometheus.NewRegistry())
	s := NewStack(Options{Metrics: m, Now: clock.Now, TxTimeout: txTimeout})
	fn := &fakeNic{}
	iface, err := s.AddInterface(InterfaceConfig{Name: "eth0", MacAddr: testMac, NicDriver: fn})
	if err != nil {
		t.Fatalf("add interface: %v", err)
	}
	if err := s.ConfigureInterface(iface); err != nil {
		t.Fatalf("configure interface: %v", err)
	}
	return &testEnv{stack: s, iface: iface, nic: fn, clock: clock, metrics: m}
}

func buildUDPFrame(t *testing.T, dstMac nic.MacAddr, srcIP, dstIP net.IP, srcPort, dstPort uint16, payload []byte) []byte {
	t.Helper()
	eth := &layers.Ethernet{
		SrcMAC:       peerMac.HardwareAddr(),
		DstMAC:       dstMac.HardwareAddr(),
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    srcIP.To4(),
		DstIP:    dstIP.To4(),
	}
	udp := &layers.UDP{SrcPort: layers.UDPPort(srcPort), DstPort: layers.UDPPort(dstPort)}
	if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
		t.Fatalf("checksum layer: %v", err)
	}
	sb := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(sb, opts, eth, ip, udp, gopacket.Payload(payload)); err != nil {
		t.Fatalf("serialize: %v", err)
	}
	return append([]byte(nil), sb.Bytes()...)
}
