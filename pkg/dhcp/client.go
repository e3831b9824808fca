// Package dhcp implements a DHCPv4 client bound to one interface. The
// state machine is driven by the stack's protocol tick and by datagrams
// received on UDP port 68.
package dhcp

import (
	"fmt"
	"net"
	"time"

	"ethstack/internal/logger"
	"ethstack/pkg/network"
	"ethstack/pkg/nic"
)

const (
	ClientPort uint16 = 68
	ServerPort uint16 = 67
)

// Retransmission parameters.
const (
	InitDelay       = 2 * time.Second
	DiscoverInitRT  = 4 * time.Second
	DiscoverMaxRT   = 16 * time.Second
	RequestInitRT   = 4 * time.Second
	RequestMaxRT    = 64 * time.Second
	RequestMaxRC    = 4
	RequestMinDelay = 60 * time.Second
	RandFactor      = time.Second
)

// clientName identifies the client among the interface's protocol clients.
const clientName = "dhcp"

// Lease is the configuration handed out by the server.
type Lease struct {
	Addr      net.IP        `json:"addr"`
	Netmask   net.IP        `json:"netmask"`
	Routers   []net.IP      `json:"routers,omitempty"`
	DNS       []net.IP      `json:"dns,omitempty"`
	Server    net.IP        `json:"server"`
	ServerMac nic.MacAddr   `json:"server_mac"`
	LeaseTime time.Duration `json:"lease_time"`
	T1        time.Duration `json:"t1"`
	T2        time.Duration `json:"t2"`
	// Infinite leases never enter RENEWING.
	Infinite bool      `json:"infinite"`
	Obtained time.Time `json:"obtained"`
}

func (l Lease) mask() net.IPMask {
	return net.IPMask(l.Netmask.To4())
}

// Status is a consistent snapshot of the client.
type Status struct {
	Interface string `json:"interface"`
	Running   bool   `json:"running"`
	State     State  `json:"state"`
	Lease     *Lease `json:"lease,omitempty"`
}

type Client struct {
	settings Settings
	iface    *network.Interface
	stack    *network.Stack
	log      *logger.Logger

	running          bool
	state            State
	timestamp        time.Time
	timeout          time.Duration
	retransmitRT     time.Duration
	retransmitCount  int
	configStartTime  time.Time
	timeoutEventDone bool
	xid              uint32

	offerAddr net.IP
	serverID  net.IP
	lease     Lease
	hasLease  bool
}

// NewClient binds a client to settings.Interface. The client starts in
// INIT and does nothing until Start.
func NewClient(settings Settings) (*Client, error) {
	iface := settings.Interface
	if iface == nil {
		return nil, fmt.Errorf("dhcp client: %w", nic.ErrInvalidParameter)
	}
	c := &Client{
		settings: settings,
		iface:    iface,
		stack:    iface.Stack(),
		log:      iface.Logger().With(map[string]any{"component": "dhcp"}),
		state:    StateInit,
	}
	c.stack.Lock()
	defer c.stack.Unlock()
	if err := iface.AttachClient(clientName, c); err != nil {
		return nil, fmt.Errorf("dhcp client %s: %w", iface.Name(), err)
	}
	return c, nil
}

// Deinit stops the client and detaches it from the interface.
func (c *Client) Deinit() {
	c.stack.Lock()
	defer c.stack.Unlock()
	c.stopLocked()
	c.iface.DetachClient(clientName)
}

func (c *Client) Interface() *network.Interface { return c.iface }

// Start begins address acquisition. Starting a running client fails with
// network.ErrAlreadyRunning.
func (c *Client) Start() error {
	c.stack.Lock()
	defer c.stack.Unlock()
	if c.running {
		return network.ErrAlreadyRunning
	}
	if err := c.stack.AttachUDP(c.iface, ClientPort, c.receive); err != nil {
		return fmt.Errorf("dhcp start: %w", err)
	}
	c.resetConfig()
	c.running = true
	c.state = StateInit
	c.timestamp = c.stack.Now()
	c.timeout = 0
	c.retransmitCount = 0
	c.log.Info("dhcp client started", nil)
	return nil
}

// Stop halts the state machine. Stopping a stopped client is a no-op. The
// address stays configured.
func (c *Client) Stop() error {
	c.stack.Lock()
	defer c.stack.Unlock()
	c.stopLocked()
	return nil
}

func (c *Client) stopLocked() {
	if !c.running {
		return
	}
	c.stack.DetachUDP(c.iface, ClientPort)
	c.running = false
	c.state = StateInit
	c.log.Info("dhcp client stopped", nil)
}

// Release gives the lease back to the server when one is held, clears the
// interface configuration and stops the client. No reply is awaited.
func (c *Client) Release() error {
	c.stack.Lock()
	defer c.stack.Unlock()
	if !c.running {
		return nil
	}
	if c.state.holdsLease() {
		c.xid = c.stack.RandUint32()
		c.sendRelease(c.stack.Now())
		c.resetConfig()
		c.log.Info("dhcp lease released", nil)
	}
	c.stopLocked()
	return nil
}

func (c *Client) State() State {
	c.stack.Lock()
	defer c.stack.Unlock()
	return c.state
}

// Lease returns the current lease, if any.
func (c *Client) Lease() (Lease, bool) {
	c.stack.Lock()
	defer c.stack.Unlock()
	return c.lease, c.hasLease
}

func (c *Client) Status() Status {
	c.stack.Lock()
	defer c.stack.Unlock()
	st := Status{Interface: c.iface.Name(), Running: c.running, State: c.state}
	if c.hasLease {
		l := c.lease
		st.Lease = &l
	}
	return st
}

// LinkChange restarts acquisition after a link transition. A client that
// held an address tries to reuse it through INIT_REBOOT.
func (c *Client) LinkChange(up bool) {
	if c.running {
		switch c.state {
		case StateInitReboot, StateRebooting, StateBound, StateRenewing, StateRebinding:
			c.changeState(StateInitReboot, 0)
		default:
			c.changeState(StateInit, 0)
		}
	}
	if cb := c.settings.LinkChangeEvent; cb != nil {
		cb(c, c.iface, up)
	}
}

// changeState enters a new state and arms its timer. The callback only
// fires on an actual transition.
func (c *Client) changeState(state State, delay time.Duration) {
	prev := c.state
	c.state = state
	c.timestamp = c.stack.Now()
	c.timeout = delay
	c.retransmitCount = 0
	if prev == state {
		return
	}
	c.stack.Metrics().IncDHCPTransition(state.String())
	c.log.Debug("dhcp state change", map[string]any{"from": prev.String(), "to": state.String()})
	if cb := c.settings.StateChangeEvent; cb != nil {
		cb(c, c.iface, state)
	}
}

// resetConfig drops the lease and clears the interface address.
func (c *Client) resetConfig() {
	cfg := network.IPv4Config{}
	if c.settings.ManualDNS {
		cfg.DNS = c.iface.IPv4().DNS
	}
	c.iface.SetIPv4(cfg)
	c.lease = Lease{}
	c.hasLease = false
	c.offerAddr = nil
	c.serverID = nil
}
