package network

import (
	"errors"
	"fmt"
	"net"

	"ethstack/internal/metrics"
	"ethstack/pkg/netbuf"
	"ethstack/pkg/nic"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

const (
	ipv4HeaderSize = 20
	udpHeaderSize  = 8
	defaultTTL     = 64
)

// PseudoHeader holds the IPv4 addresses of a received datagram.
type PseudoHeader struct {
	SrcAddr net.IP
	DstAddr net.IP
}

type UDPHeader struct {
	SrcPort uint16
	DstPort uint16
	Length  uint16
}

// UDPHandler receives datagrams for a bound port. buf aliases driver
// memory and is only valid during the call.
type UDPHandler func(iface *Interface, pseudo PseudoHeader, hdr UDPHeader, buf *netbuf.Buffer, offset int, ancillary *RxAncillary)

type udpKey struct {
	iface *Interface
	port  uint16
}

// AttachUDP binds handler to port on iface, or on every interface when
// iface is nil. The caller must hold the lock.
func (s *Stack) AttachUDP(iface *Interface, port uint16, handler UDPHandler) error {
	if port == 0 || handler == nil {
		return nic.ErrInvalidParameter
	}
	key := udpKey{iface: iface, port: port}
	if _, ok := s.udp[key]; ok {
		return fmt.Errorf("udp port %d: %w", port, ErrPortInUse)
	}
	s.udp[key] = handler
	return nil
}

// DetachUDP removes the binding. The caller must hold the lock.
func (s *Stack) DetachUDP(iface *Interface, port uint16) {
	delete(s.udp, udpKey{iface: iface, port: port})
}

func (s *Stack) lookupUDP(iface *Interface, port uint16) UDPHandler {
	if h, ok := s.udp[udpKey{iface: iface, port: port}]; ok {
		return h
	}
	return s.udp[udpKey{port: port}]
}

// UDPDatagram is an outgoing datagram. The link layer destination is
// given explicitly since address resolution is not part of the stack.
type UDPDatagram struct {
	SrcAddr    net.IP
	DstAddr    net.IP
	SrcPort    uint16
	DstPort    uint16
	DstMacAddr nic.MacAddr
	Payload    []byte
}

// SendUDP builds an Ethernet/IPv4/UDP frame and transmits it. The caller
// must hold the lock.
func (s *Stack) SendUDP(iface *Interface, d UDPDatagram) error {
	if len(d.Payload)+ipv4HeaderSize+udpHeaderSize > iface.mtu {
		s.metrics.IncDropReason(metrics.DropOversize)
		return fmt.Errorf("udp payload %d bytes: %w", len(d.Payload), nic.ErrInvalidLength)
	}
	src := d.SrcAddr.To4()
	if src == nil {
		src = net.IPv4zero.To4()
	}
	dst := d.DstAddr.To4()
	if dst == nil {
		return fmt.Errorf("udp destination %v: %w", d.DstAddr, nic.ErrInvalidParameter)
	}

	eth := &layers.Ethernet{
		SrcMAC:       iface.macAddr.HardwareAddr(),
		DstMAC:       d.DstMacAddr.HardwareAddr(),
		EthernetType: layers.EthernetTypeIPv4,
	}
	s.ipID++
	ip := &layers.IPv4{
		Version:  4,
		IHL:      5,
		Id:       s.ipID,
		TTL:      defaultTTL,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    src,
		DstIP:    dst,
	}
	udp := &layers.UDP{
		SrcPort: layers.UDPPort(d.SrcPort),
		DstPort: layers.UDPPort(d.DstPort),
	}
	if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
		return fmt.Errorf("udp checksum: %w", err)
	}
	sb := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{
		FixLengths:       true,
		ComputeChecksums: !iface.nicDriver.Capabilities().ChecksumOffload,
	}
	if err := gopacket.SerializeLayers(sb, opts, eth, ip, udp, gopacket.Payload(d.Payload)); err != nil {
		return fmt.Errorf("serialize udp: %w", err)
	}

	frame := sb.Bytes()
	buf := netbuf.New(frame)
	if pad := nic.EthMinFrameSize - len(frame); pad > 0 {
		buf.Append(make([]byte, pad))
	}
	return s.SendFrame(iface, buf, 0, &TxAncillary{Port: iface.switchPort})
}

// SendFrame hands a complete Ethernet frame to the NIC driver once the
// transmitter signals it is ready. nic.ErrBusy is returned unchanged so
// that callers can retry. The caller must hold the lock.
func (s *Stack) SendFrame(iface *Interface, buf *netbuf.Buffer, offset int, ancillary *TxAncillary) error {
	if !iface.configured {
		return fmt.Errorf("send on %s: %w", iface.name, ErrNotConfigured)
	}
	if ancillary == nil {
		ancillary = &TxAncillary{Port: iface.switchPort}
	}
	if iface.switchDriver != nil {
		if err := iface.switchDriver.TagFrame(iface, buf, &offset, ancillary); err != nil {
			return fmt.Errorf("tag frame: %w", err)
		}
	}
	if !iface.WaitTxEvent(s.txTimeout) {
		s.metrics.IncDropReason(metrics.DropBusy)
		s.throttle.Warn("busy:"+iface.name, "transmitter busy", map[string]any{"iface": iface.name})
		return nic.ErrBusy
	}
	length := buf.Length() - offset
	err := iface.nicDriver.SendPacket(iface, buf, offset, ancillary)
	switch {
	case err == nil && !iface.linkState:
		s.metrics.IncDropReason(metrics.DropLinkDown)
	case err == nil:
		s.metrics.ObserveTx(length)
	case errors.Is(err, nic.ErrBusy):
		s.metrics.IncDropReason(metrics.DropBusy)
	case errors.Is(err, nic.ErrInvalidLength):
		s.metrics.IncDropReason(metrics.DropOversize)
	}
	return err
}
