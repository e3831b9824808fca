package network

import (
	"bytes"
	"errors"
	"net"
	"testing"

	"ethstack/internal/metrics"
	"ethstack/pkg/netbuf"
	"ethstack/pkg/nic"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

var (
	serverIP = net.IPv4(192, 168, 1, 1)
	localIP  = net.IPv4(192, 168, 1, 50)
)

type received struct {
	pseudo  PseudoHeader
	hdr     UDPHeader
	payload []byte
	anc     RxAncillary
}

func attachRecorder(t *testing.T, env *testEnv, port uint16) *[]received {
	t.Helper()
	var got []received
	env.stack.Lock()
	defer env.stack.Unlock()
	err := env.stack.AttachUDP(env.iface, port, func(iface *Interface, pseudo PseudoHeader, hdr UDPHeader, buf *netbuf.Buffer, offset int, anc *RxAncillary) {
		data := make([]byte, buf.Length()-offset)
		buf.Read(data, offset, len(data))
		got = append(got, received{pseudo: pseudo, hdr: hdr, payload: data, anc: *anc})
	})
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	return &got
}

func process(env *testEnv, frame []byte) error {
	env.stack.Lock()
	defer env.stack.Unlock()
	return env.iface.ProcessPacket(frame, &RxAncillary{})
}

func TestChecksumEvenLength(t *testing.T) {
	data := []byte{0x00, 0x01, 0xF2, 0x03}
	sum := Checksum(data)
	if sum != 0x0DFB {
		t.Fatalf("unexpected checksum: 0x%04X", sum)
	}
}

func TestChecksumOddLength(t *testing.T) {
	data := []byte{0x12, 0x34, 0x56}
	if got := Checksum(data); got != 0x97CB {
		t.Fatalf("unexpected checksum: 0x%04X", got)
	}
}

func TestPseudoHeaderChecksumAcceptsSerializedSegment(t *testing.T) {
	frame := buildUDPFrame(t, testMac, serverIP, localIP, 67, 68, []byte("offer"))
	segment := frame[nic.EthHeaderSize+ipv4HeaderSize:]
	if got := PseudoHeaderChecksum(serverIP, localIP, layers.IPProtocolUDP, segment); got != 0 {
		t.Fatalf("expected valid checksum, got 0x%04X", got)
	}
	segment[len(segment)-1] ^= 0xff
	if got := PseudoHeaderChecksum(serverIP, localIP, layers.IPProtocolUDP, segment); got == 0 {
		t.Fatalf("expected corrupted segment to fail")
	}
}

func TestProcessPacketDeliversUDP(t *testing.T) {
	env := newTestEnv(t, 0)
	got := attachRecorder(t, env, 68)

	frame := buildUDPFrame(t, testMac, serverIP, localIP, 67, 68, []byte("hello"))
	if err := process(env, frame); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(*got) != 1 {
		t.Fatalf("expected 1 datagram, got %d", len(*got))
	}
	r := (*got)[0]
	if string(r.payload) != "hello" {
		t.Fatalf("expected payload hello, got %q", r.payload)
	}
	if r.hdr.SrcPort != 67 || r.hdr.DstPort != 68 {
		t.Fatalf("unexpected ports %d -> %d", r.hdr.SrcPort, r.hdr.DstPort)
	}
	if !r.pseudo.SrcAddr.Equal(serverIP) || r.anc.SrcMacAddr != peerMac {
		t.Fatalf("unexpected source %s/%s", r.pseudo.SrcAddr, r.anc.SrcMacAddr)
	}
	if env.metrics.Snapshot().RxPackets != 1 {
		t.Fatalf("expected 1 rx packet")
	}
}

func TestProcessPacketHandlesMinimumFramePadding(t *testing.T) {
	env := newTestEnv(t, 0)
	got := attachRecorder(t, env, 68)

	frame := buildUDPFrame(t, testMac, serverIP, localIP, 67, 68, []byte{0x42})
	frame = append(frame, make([]byte, nic.EthMinFrameSize-len(frame))...)
	if err := process(env, frame); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(*got) != 1 || !bytes.Equal((*got)[0].payload, []byte{0x42}) {
		t.Fatalf("expected padding to be ignored, got %+v", *got)
	}
}

func TestProcessPacketRejectsRunt(t *testing.T) {
	env := newTestEnv(t, 0)
	err := process(env, make([]byte, nic.EthHeaderSize-1))
	if !errors.Is(err, nic.ErrInvalidPacket) {
		t.Fatalf("expected ErrInvalidPacket, got %v", err)
	}
	if env.metrics.Snapshot().RxErrors != 1 {
		t.Fatalf("expected rx error to be counted")
	}
}

func TestProcessPacketDestinationFilter(t *testing.T) {
	env := newTestEnv(t, 0)
	got := attachRecorder(t, env, 5353)
	group := net.IPv4(224, 0, 0, 251)

	if err := process(env, buildUDPFrame(t, strayMac, serverIP, localIP, 5353, 5353, []byte("x"))); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := process(env, buildUDPFrame(t, mdnsGroup, serverIP, group, 5353, 5353, []byte("x"))); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(*got) != 0 {
		t.Fatalf("expected foreign unicast and unjoined group to be dropped")
	}
	if drops := env.metrics.Snapshot().DropsByReason[metrics.DropFilter]; drops != 2 {
		t.Fatalf("expected 2 filter drops, got %d", drops)
	}

	if err := env.iface.AcceptMacAddr(mdnsGroup); err != nil {
		t.Fatalf("accept: %v", err)
	}
	_ = process(env, buildUDPFrame(t, mdnsGroup, serverIP, group, 5353, 5353, []byte("x")))
	if len(*got) != 1 {
		t.Fatalf("expected joined group to be delivered")
	}

	if err := env.iface.SetPromiscuous(true); err != nil {
		t.Fatalf("promiscuous: %v", err)
	}
	_ = process(env, buildUDPFrame(t, strayMac, serverIP, localIP, 5353, 5353, []byte("x")))
	if len(*got) != 2 {
		t.Fatalf("expected promiscuous mode to deliver foreign unicast")
	}
}

func TestProcessPacketIPv4Destination(t *testing.T) {
	env := newTestEnv(t, 0)
	got := attachRecorder(t, env, 68)
	env.stack.Lock()
	env.iface.SetIPv4(IPv4Config{Addr: localIP, Mask: net.CIDRMask(24, 32)})
	env.stack.Unlock()

	for _, dst := range []net.IP{localIP, net.IPv4bcast, net.IPv4(192, 168, 1, 255)} {
		_ = process(env, buildUDPFrame(t, testMac, serverIP, dst, 67, 68, []byte("x")))
	}
	_ = process(env, buildUDPFrame(t, testMac, serverIP, net.IPv4(192, 168, 1, 99), 67, 68, []byte("x")))
	if len(*got) != 3 {
		t.Fatalf("expected 3 datagrams, got %d", len(*got))
	}
}

func TestProcessPacketDropsBadChecksums(t *testing.T) {
	env := newTestEnv(t, 0)
	got := attachRecorder(t, env, 68)

	frame := buildUDPFrame(t, testMac, serverIP, localIP, 67, 68, []byte("hello"))
	frame[nic.EthHeaderSize+10] ^= 0xff
	_ = process(env, frame)

	frame = buildUDPFrame(t, testMac, serverIP, localIP, 67, 68, []byte("hello"))
	frame[len(frame)-1] ^= 0xff
	_ = process(env, frame)

	if len(*got) != 0 {
		t.Fatalf("expected corrupted frames to be dropped")
	}
	if drops := env.metrics.Snapshot().DropsByReason[metrics.DropChecksum]; drops != 2 {
		t.Fatalf("expected 2 checksum drops, got %d", drops)
	}

	env.nic.caps.ChecksumOffload = true
	_ = process(env, frame)
	if len(*got) != 1 {
		t.Fatalf("expected checksum offload to skip verification")
	}
}

func TestProcessPacketDropsWrongIPVersion(t *testing.T) {
	env := newTestEnv(t, 0)
	got := attachRecorder(t, env, 68)

	frame := buildUDPFrame(t, testMac, serverIP, localIP, 67, 68, []byte("hello"))
	hdr := frame[nic.EthHeaderSize : nic.EthHeaderSize+20]
	hdr[0] = 0x65
	hdr[10], hdr[11] = 0, 0
	sum := Checksum(hdr)
	hdr[10], hdr[11] = byte(sum>>8), byte(sum)
	if Checksum(hdr) != 0 {
		t.Fatalf("expected valid header checksum after rewrite")
	}
	_ = process(env, frame)

	if len(*got) != 0 {
		t.Fatalf("expected version 6 header to be dropped")
	}
	snap := env.metrics.Snapshot()
	if snap.DropsByReason[metrics.DropProtocol] != 1 || snap.DropsByReason[metrics.DropChecksum] != 0 {
		t.Fatalf("expected one protocol drop, got %v", snap.DropsByReason)
	}
}

func TestProcessPacketNoListener(t *testing.T) {
	env := newTestEnv(t, 0)
	_ = process(env, buildUDPFrame(t, testMac, serverIP, localIP, 67, 9999, []byte("x")))
	if drops := env.metrics.Snapshot().DropsByReason[metrics.DropNoListener]; drops != 1 {
		t.Fatalf("expected no_listener drop, got %d", drops)
	}
}

func TestAttachUDPPortInUse(t *testing.T) {
	env := newTestEnv(t, 0)
	attachRecorder(t, env, 68)
	env.stack.Lock()
	defer env.stack.Unlock()
	err := env.stack.AttachUDP(env.iface, 68, func(*Interface, PseudoHeader, UDPHeader, *netbuf.Buffer, int, *RxAncillary) {})
	if !errors.Is(err, ErrPortInUse) {
		t.Fatalf("expected ErrPortInUse, got %v", err)
	}
	env.stack.DetachUDP(env.iface, 68)
	if err := env.stack.AttachUDP(env.iface, 68, func(*Interface, PseudoHeader, UDPHeader, *netbuf.Buffer, int, *RxAncillary) {}); err != nil {
		t.Fatalf("expected rebind after detach, got %v", err)
	}
}

func TestSendUDPPadsAndSerializes(t *testing.T) {
	env := newTestEnv(t, 0)
	env.stack.Lock()
	env.iface.SetLinkState(true)
	err := env.stack.SendUDP(env.iface, UDPDatagram{
		SrcAddr:    localIP,
		DstAddr:    serverIP,
		SrcPort:    68,
		DstPort:    67,
		DstMacAddr: peerMac,
		Payload:    []byte("hi"),
	})
	env.stack.Unlock()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(env.nic.sent) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(env.nic.sent))
	}
	frame := env.nic.sent[0]
	if len(frame) != nic.EthMinFrameSize {
		t.Fatalf("expected padded frame of %d bytes, got %d", nic.EthMinFrameSize, len(frame))
	}
	pkt := gopacket.NewPacket(frame, layers.LayerTypeEthernet, gopacket.Default)
	ip, _ := pkt.Layer(layers.LayerTypeIPv4).(*layers.IPv4)
	udp, _ := pkt.Layer(layers.LayerTypeUDP).(*layers.UDP)
	if ip == nil || udp == nil {
		t.Fatalf("expected IPv4/UDP frame")
	}
	if Checksum(ip.Contents) != 0 {
		t.Fatalf("expected valid IPv4 header checksum")
	}
	if udp.SrcPort != 68 || udp.DstPort != 67 || string(udp.Payload) != "hi" {
		t.Fatalf("unexpected udp %d -> %d %q", udp.SrcPort, udp.DstPort, udp.Payload)
	}
	if env.metrics.Snapshot().TxPackets != 1 {
		t.Fatalf("expected tx packet to be counted")
	}
}

func TestSendUDPBusyWithoutTxEvent(t *testing.T) {
	env := newTestEnv(t, -1)
	env.iface.ResetTxEvent()
	env.stack.Lock()
	err := env.stack.SendUDP(env.iface, UDPDatagram{DstAddr: net.IPv4bcast, SrcPort: 68, DstPort: 67, DstMacAddr: nic.BroadcastMacAddr})
	env.stack.Unlock()
	if !errors.Is(err, nic.ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
	if len(env.nic.sent) != 0 {
		t.Fatalf("expected nothing sent")
	}
	if drops := env.metrics.Snapshot().DropsByReason[metrics.DropBusy]; drops != 1 {
		t.Fatalf("expected busy drop, got %d", drops)
	}
}

func TestSendUDPOversize(t *testing.T) {
	env := newTestEnv(t, 0)
	env.stack.Lock()
	err := env.stack.SendUDP(env.iface, UDPDatagram{DstAddr: net.IPv4bcast, SrcPort: 68, DstPort: 67, Payload: make([]byte, nic.EthMTU)})
	env.stack.Unlock()
	if !errors.Is(err, nic.ErrInvalidLength) {
		t.Fatalf("expected ErrInvalidLength, got %v", err)
	}
}
