package dhcp

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"time"

	"ethstack/pkg/netbuf"
	"ethstack/pkg/network"
	"ethstack/pkg/nic"

	"github.com/insomniacslk/dhcp/dhcpv4"
)

var (
	errNotReply      = errors.New("not a boot reply")
	errTransactionID = errors.New("transaction id mismatch")
	errHardwareAddr  = errors.New("client hardware address mismatch")
	errMessageType   = errors.New("missing message type")
	errServerID      = errors.New("server identifier mismatch")
	errIncomplete    = errors.New("incomplete lease")
)

// infiniteLease is the lease time value meaning the address never
// expires (RFC 2131 section 3.3).
const infiniteLease = 0xffffffff * time.Second

var requestedOptions = []dhcpv4.OptionCode{
	dhcpv4.OptionSubnetMask,
	dhcpv4.OptionRouter,
	dhcpv4.OptionDomainNameServer,
	dhcpv4.OptionIPAddressLeaseTime,
	dhcpv4.OptionRenewTimeValue,
	dhcpv4.OptionRebindingTimeValue,
}

func (c *Client) transactionID() dhcpv4.TransactionID {
	var xid dhcpv4.TransactionID
	binary.BigEndian.PutUint32(xid[:], c.xid)
	return xid
}

func (c *Client) newMessage(typ dhcpv4.MessageType, now time.Time, mods ...dhcpv4.Modifier) (*dhcpv4.DHCPv4, error) {
	base := []dhcpv4.Modifier{
		dhcpv4.WithTransactionID(c.transactionID()),
		dhcpv4.WithHwAddr(c.iface.MacAddr().HardwareAddr()),
		dhcpv4.WithMessageType(typ),
	}
	msg, err := dhcpv4.New(append(base, mods...)...)
	if err != nil {
		return nil, err
	}
	if typ != dhcpv4.MessageTypeRelease {
		secs := now.Sub(c.configStartTime) / time.Second
		msg.NumSeconds = uint16(min(max(secs, 0), 0xffff))
		msg.UpdateOption(dhcpv4.OptParameterRequestList(requestedOptions...))
		if c.settings.Hostname != "" {
			msg.UpdateOption(dhcpv4.OptHostName(c.settings.Hostname))
		}
	}
	if len(c.settings.ClientID) > 0 {
		msg.UpdateOption(dhcpv4.OptClientIdentifier(c.settings.ClientID))
	}
	if cb := c.settings.AddOptions; cb != nil {
		cb(c, msg, typ)
	}
	return msg, nil
}

func (c *Client) sendDiscover(now time.Time) {
	mods := []dhcpv4.Modifier{dhcpv4.WithBroadcast(true)}
	if c.settings.RapidCommit {
		mods = append(mods, dhcpv4.WithOption(dhcpv4.OptGeneric(dhcpv4.OptionRapidCommit, nil)))
	}
	msg, err := c.newMessage(dhcpv4.MessageTypeDiscover, now, mods...)
	if err != nil {
		c.log.Error("dhcp discover", map[string]any{"error": err.Error()})
		return
	}
	c.transmit(msg, net.IPv4zero, net.IPv4bcast, nic.BroadcastMacAddr)
}

// sendRequest builds the DHCPREQUEST of the current state.
func (c *Client) sendRequest(now time.Time) {
	var (
		mods   []dhcpv4.Modifier
		src    = net.IPv4zero
		dst    = net.IPv4bcast
		dstMac = nic.BroadcastMacAddr
	)
	switch c.state {
	case StateRequesting:
		mods = append(mods,
			dhcpv4.WithBroadcast(true),
			dhcpv4.WithOption(dhcpv4.OptRequestedIPAddress(c.offerAddr)),
			dhcpv4.WithOption(dhcpv4.OptServerIdentifier(c.serverID)))
	case StateRebooting:
		mods = append(mods,
			dhcpv4.WithBroadcast(true),
			dhcpv4.WithOption(dhcpv4.OptRequestedIPAddress(c.lease.Addr)))
	case StateRenewing:
		mods = append(mods, dhcpv4.WithClientIP(c.lease.Addr))
		src, dst, dstMac = c.lease.Addr, c.lease.Server, c.lease.ServerMac
	case StateRebinding:
		mods = append(mods, dhcpv4.WithClientIP(c.lease.Addr))
		src = c.lease.Addr
	default:
		return
	}
	msg, err := c.newMessage(dhcpv4.MessageTypeRequest, now, mods...)
	if err != nil {
		c.log.Error("dhcp request", map[string]any{"error": err.Error()})
		return
	}
	c.transmit(msg, src, dst, dstMac)
}

func (c *Client) sendRelease(now time.Time) {
	msg, err := c.newMessage(dhcpv4.MessageTypeRelease, now,
		dhcpv4.WithClientIP(c.lease.Addr),
		dhcpv4.WithOption(dhcpv4.OptServerIdentifier(c.lease.Server)))
	if err != nil {
		c.log.Error("dhcp release", map[string]any{"error": err.Error()})
		return
	}
	c.transmit(msg, c.lease.Addr, c.lease.Server, c.lease.ServerMac)
}

func (c *Client) transmit(msg *dhcpv4.DHCPv4, src, dst net.IP, dstMac nic.MacAddr) {
	err := c.stack.SendUDP(c.iface, network.UDPDatagram{
		SrcAddr:    src,
		DstAddr:    dst,
		SrcPort:    ClientPort,
		DstPort:    ServerPort,
		DstMacAddr: dstMac,
		Payload:    msg.ToBytes(),
	})
	if err != nil {
		// Retransmission timers cover lost and refused sends alike.
		c.stack.Throttle().Warn("dhcp-tx:"+c.iface.Name(), "dhcp send failed", map[string]any{
			"type":  msg.MessageType().String(),
			"error": err.Error(),
		})
		return
	}
	c.log.Debug("dhcp message sent", map[string]any{
		"type": msg.MessageType().String(),
		"xid":  msg.TransactionID.String(),
	})
}

// receive is the UDP handler for port 68.
func (c *Client) receive(iface *network.Interface, pseudo network.PseudoHeader, hdr network.UDPHeader, buf *netbuf.Buffer, offset int, ancillary *network.RxAncillary) {
	if !c.running || hdr.SrcPort != ServerPort {
		return
	}
	data := make([]byte, buf.Length()-offset)
	buf.Read(data, offset, len(data))
	msg, err := dhcpv4.FromBytes(data)
	if err == nil {
		err = c.validate(msg)
	}
	if err != nil {
		c.stack.Throttle().Debug("dhcp-rx:"+iface.Name(), "dhcp message ignored", map[string]any{"error": err.Error()})
		return
	}

	typ := msg.MessageType()
	switch c.state {
	case StateSelecting:
		switch {
		case typ == dhcpv4.MessageTypeOffer:
			err = c.handleOffer(msg)
		case typ == dhcpv4.MessageTypeAck && c.settings.RapidCommit && msg.Options.Has(dhcpv4.OptionRapidCommit):
			err = c.handleAck(msg, ancillary)
		}
	case StateRequesting, StateRebooting, StateRenewing, StateRebinding:
		switch typ {
		case dhcpv4.MessageTypeAck:
			err = c.handleAck(msg, ancillary)
		case dhcpv4.MessageTypeNak:
			err = c.handleNak(msg)
		}
	}
	if err != nil {
		c.stack.Throttle().Debug("dhcp-rx:"+iface.Name(), "dhcp message rejected", map[string]any{
			"type":  typ.String(),
			"error": err.Error(),
		})
	}
}

func (c *Client) validate(msg *dhcpv4.DHCPv4) error {
	if msg.OpCode != dhcpv4.OpcodeBootReply {
		return errNotReply
	}
	if msg.TransactionID != c.transactionID() {
		return errTransactionID
	}
	if !bytes.Equal(msg.ClientHWAddr, c.iface.MacAddr().HardwareAddr()) {
		return errHardwareAddr
	}
	typ := msg.MessageType()
	if typ == dhcpv4.MessageTypeNone {
		return errMessageType
	}
	if cb := c.settings.ParseOptions; cb != nil {
		if err := cb(c, msg, typ); err != nil {
			return fmt.Errorf("parse options: %w", err)
		}
	}
	return nil
}

func (c *Client) handleOffer(msg *dhcpv4.DHCPv4) error {
	server := msg.ServerIdentifier()
	if !usableAddr(msg.YourIPAddr) || server == nil {
		return errIncomplete
	}
	c.offerAddr = msg.YourIPAddr.To4()
	c.serverID = server.To4()
	c.log.Debug("dhcp offer", map[string]any{"addr": c.offerAddr.String(), "server": c.serverID.String()})
	c.changeState(StateRequesting, 0)
	return nil
}

// handleAck records the lease and configures the interface.
func (c *Client) handleAck(msg *dhcpv4.DHCPv4, ancillary *network.RxAncillary) error {
	server := msg.ServerIdentifier()
	if server == nil || !usableAddr(msg.YourIPAddr) {
		return errIncomplete
	}
	switch c.state {
	case StateRequesting:
		if !server.Equal(c.serverID) {
			return errServerID
		}
	case StateRenewing:
		if !server.Equal(c.lease.Server) {
			return errServerID
		}
	}
	leaseTime := msg.IPAddressLeaseTime(0)
	if leaseTime <= 0 {
		return errIncomplete
	}

	addr := msg.YourIPAddr.To4()
	mask := msg.SubnetMask()
	if len(mask) != net.IPv4len {
		mask = addr.DefaultMask()
	}
	lease := Lease{
		Addr:      addr,
		Netmask:   net.IP(mask).To4(),
		Routers:   msg.Router(),
		DNS:       msg.DNS(),
		Server:    server.To4(),
		LeaseTime: leaseTime,
		Infinite:  leaseTime >= infiniteLease,
		Obtained:  c.stack.Now(),
	}
	if ancillary != nil {
		lease.ServerMac = ancillary.SrcMacAddr
	}
	lease.T1, lease.T2 = leaseTimers(msg, leaseTime, lease.Infinite)

	cfg := network.IPv4Config{Addr: lease.Addr, Mask: lease.mask(), DNS: lease.DNS}
	if len(lease.Routers) > 0 {
		cfg.Gateway = lease.Routers[0]
	}
	if c.settings.ManualDNS {
		cfg.DNS = c.iface.IPv4().DNS
	}
	c.iface.SetIPv4(cfg)
	c.lease = lease
	c.hasLease = true

	c.stack.Metrics().IncDHCPLease()
	c.log.Info("dhcp lease acquired", map[string]any{
		"addr":       lease.Addr.String(),
		"netmask":    lease.Netmask.String(),
		"server":     lease.Server.String(),
		"lease_time": lease.LeaseTime.String(),
	})
	c.changeState(StateBound, 0)
	return nil
}

// leaseTimers returns T1 and T2 from the ACK, defaulting to 0.5 and 0.875
// of the lease. Infinite leases report the lease time for both.
func leaseTimers(msg *dhcpv4.DHCPv4, leaseTime time.Duration, infinite bool) (time.Duration, time.Duration) {
	if infinite {
		return leaseTime, leaseTime
	}
	t2 := msg.IPAddressRebindingTime(leaseTime / 8 * 7)
	if t2 <= 0 || t2 > leaseTime {
		t2 = leaseTime / 8 * 7
	}
	t1 := msg.IPAddressRenewalTime(leaseTime / 2)
	if t1 <= 0 || t1 > t2 {
		t1 = t2 / 2
	}
	return t1, t2
}

func (c *Client) handleNak(msg *dhcpv4.DHCPv4) error {
	c.log.Warn("dhcp nak", map[string]any{"state": c.state.String(), "message": msg.Message()})
	c.resetConfig()
	c.changeState(StateInit, 0)
	return nil
}

func usableAddr(ip net.IP) bool {
	ip4 := ip.To4()
	return ip4 != nil && !ip4.IsUnspecified() && !ip4.Equal(net.IPv4bcast)
}
