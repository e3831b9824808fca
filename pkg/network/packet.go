package network

import (
	"encoding/binary"
	"fmt"
	"net"

	"ethstack/internal/metrics"
	"ethstack/pkg/netbuf"
	"ethstack/pkg/nic"

	"github.com/google/gopacket/layers"
)

// ProcessPacket runs one received frame through the stack: tail tag
// removal, destination filtering, then Ethernet, IPv4 and UDP demux. The
// frame is only borrowed for the duration of the call. The caller must
// hold the lock, which is the case inside NicDriver.EventHandler.
func (s *Stack) ProcessPacket(iface *Interface, frame []byte, ancillary *RxAncillary) error {
	var anc RxAncillary
	if ancillary != nil {
		anc = *ancillary
	}
	if iface.switchDriver != nil {
		untagged, err := iface.switchDriver.UntagFrame(iface, frame, &anc)
		if err != nil {
			s.metrics.IncRxErrors()
			return fmt.Errorf("untag: %w", err)
		}
		frame = untagged
	}
	s.metrics.ObserveRx(len(frame))
	if len(frame) < nic.EthHeaderSize {
		s.metrics.IncRxErrors()
		s.throttle.Warn("runt:"+iface.name, "runt frame", map[string]any{"iface": iface.name, "length": len(frame)})
		return fmt.Errorf("%d byte frame: %w", len(frame), nic.ErrInvalidPacket)
	}
	anc.DstMacAddr = nic.MacAddrFromSlice(frame[0:6])
	anc.SrcMacAddr = nic.MacAddrFromSlice(frame[6:12])
	if !iface.acceptsMacAddr(anc.DstMacAddr) {
		s.metrics.IncDropReason(metrics.DropFilter)
		return nil
	}

	if err := s.parser.DecodeLayers(frame, &s.decoded); err != nil {
		s.metrics.IncRxErrors()
		s.throttle.Debug("decode:"+iface.name, "malformed frame", map[string]any{"iface": iface.name, "error": err.Error()})
		return fmt.Errorf("decode: %v: %w", err, nic.ErrInvalidPacket)
	}
	var hasIPv4, hasUDP bool
	for _, lt := range s.decoded {
		switch lt {
		case layers.LayerTypeIPv4:
			hasIPv4 = true
		case layers.LayerTypeUDP:
			hasUDP = true
		}
	}
	if !hasIPv4 || s.ip4.Version != 4 {
		s.metrics.IncDropReason(metrics.DropProtocol)
		return nil
	}
	offload := iface.nicDriver.Capabilities().ChecksumOffload
	if !offload && Checksum(s.ip4.Contents) != 0 {
		s.metrics.IncDropReason(metrics.DropChecksum)
		return nil
	}
	if !iface.acceptsIPv4Addr(s.ip4.DstIP) {
		s.metrics.IncDropReason(metrics.DropFilter)
		return nil
	}
	if s.ip4.Flags&layers.IPv4MoreFragments != 0 || s.ip4.FragOffset != 0 || !hasUDP {
		s.metrics.IncDropReason(metrics.DropProtocol)
		return nil
	}
	if !offload && s.udpL.Checksum != 0 {
		segment := make([]byte, 0, len(s.udpL.Contents)+len(s.udpL.Payload))
		segment = append(append(segment, s.udpL.Contents...), s.udpL.Payload...)
		if PseudoHeaderChecksum(s.ip4.SrcIP, s.ip4.DstIP, layers.IPProtocolUDP, segment) != 0 {
			s.metrics.IncDropReason(metrics.DropChecksum)
			return nil
		}
	}

	hdr := UDPHeader{
		SrcPort: uint16(s.udpL.SrcPort),
		DstPort: uint16(s.udpL.DstPort),
		Length:  s.udpL.Length,
	}
	handler := s.lookupUDP(iface, hdr.DstPort)
	if handler == nil {
		s.metrics.IncDropReason(metrics.DropNoListener)
		return nil
	}
	pseudo := PseudoHeader{
		SrcAddr: append(net.IP(nil), s.ip4.SrcIP.To4()...),
		DstAddr: append(net.IP(nil), s.ip4.DstIP.To4()...),
	}
	handler(iface, pseudo, hdr, netbuf.New(s.udpL.Payload), 0, &anc)
	return nil
}

func (i *Interface) acceptsMacAddr(dst nic.MacAddr) bool {
	switch {
	case i.promiscuous, dst == i.macAddr, dst.IsBroadcast():
		return true
	case dst.IsMulticast():
		return i.acceptAllMulticast || i.macAddrFilter.Contains(dst)
	}
	return false
}

func (i *Interface) acceptsIPv4Addr(dst net.IP) bool {
	dst = dst.To4()
	if dst == nil {
		return false
	}
	if dst.Equal(net.IPv4bcast) || dst.IsMulticast() {
		return true
	}
	// An unconfigured interface takes any unicast so that DHCP offers
	// addressed to the proposed address get through.
	if !i.ipv4.Configured() {
		return true
	}
	addr := i.ipv4.Addr.To4()
	if dst.Equal(addr) {
		return true
	}
	if len(i.ipv4.Mask) == net.IPv4len {
		bcast := make(net.IP, net.IPv4len)
		for k := range bcast {
			bcast[k] = addr[k] | ^i.ipv4.Mask[k]
		}
		return dst.Equal(bcast)
	}
	return false
}

// Checksum is the Internet checksum (RFC 1071). It returns zero when data
// already carries a valid checksum.
func Checksum(data []byte) uint16 {
	return fold(sum(0, data))
}

// PseudoHeaderChecksum folds the IPv4 pseudo header into the checksum of
// a transport segment.
func PseudoHeaderChecksum(src, dst net.IP, proto layers.IPProtocol, segment []byte) uint16 {
	var ph [12]byte
	copy(ph[0:4], src.To4())
	copy(ph[4:8], dst.To4())
	ph[9] = byte(proto)
	binary.BigEndian.PutUint16(ph[10:], uint16(len(segment)))
	return fold(sum(sum(0, ph[:]), segment))
}

func sum(acc uint32, data []byte) uint32 {
	for i := 0; i+1 < len(data); i += 2 {
		acc += uint32(binary.BigEndian.Uint16(data[i:]))
	}
	if len(data)%2 == 1 {
		acc += uint32(data[len(data)-1]) << 8
	}
	return acc
}

func fold(acc uint32) uint16 {
	for (acc >> 16) > 0 {
		acc = (acc & 0xFFFF) + (acc >> 16)
	}
	return ^uint16(acc)
}
