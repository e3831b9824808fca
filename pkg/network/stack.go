package network

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"ethstack/internal/logger"
	"ethstack/internal/metrics"
	"ethstack/pkg/nic"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

const (
	DefaultTickInterval         = 100 * time.Millisecond
	DefaultNicTickInterval      = time.Second
	DefaultProtocolTickInterval = 200 * time.Millisecond
	DefaultTxTimeout            = 100 * time.Millisecond
)

type Options struct {
	Log     *logger.Logger
	Metrics *metrics.Metrics
	// Now and Rand are injectable for deterministic tests.
	Now                  func() time.Time
	Rand                 *rand.Rand
	TickInterval         time.Duration
	NicTickInterval      time.Duration
	ProtocolTickInterval time.Duration
	TxTimeout            time.Duration
}

// LinkEvent describes a link transition reported by a PHY or switch driver.
type LinkEvent struct {
	Interface string
	Up        bool
	Speed     nic.LinkSpeed
	Duplex    nic.DuplexMode
}

// Stack owns the interfaces and the network task. One mutex (the net
// lock) serializes every access to stack and interface state; interrupt
// paths only set flags and signal the event channel.
type Stack struct {
	mu      sync.Mutex
	event   chan struct{}
	running atomic.Bool

	log      *logger.Logger
	throttle *logger.Throttle
	metrics  *metrics.Metrics
	now      func() time.Time
	rand     *rand.Rand

	tickInterval         time.Duration
	nicTickInterval      time.Duration
	protocolTickInterval time.Duration
	txTimeout            time.Duration
	lastNicTick          time.Time
	lastProtocolTick     time.Time

	interfaces    []*Interface
	udp           map[udpKey]UDPHandler
	linkObservers []func(LinkEvent)
	ipID          uint16

	eth     layers.Ethernet
	ip4     layers.IPv4
	udpL    layers.UDP
	payload gopacket.Payload
	parser  *gopacket.DecodingLayerParser
	decoded []gopacket.LayerType
}

func NewStack(opts Options) *Stack {
	s := &Stack{
		event:                make(chan struct{}, 1),
		log:                  opts.Log,
		metrics:              opts.Metrics,
		now:                  opts.Now,
		rand:                 opts.Rand,
		tickInterval:         opts.TickInterval,
		nicTickInterval:      opts.NicTickInterval,
		protocolTickInterval: opts.ProtocolTickInterval,
		txTimeout:            opts.TxTimeout,
		udp:                  map[udpKey]UDPHandler{},
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.rand == nil {
		s.rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if s.tickInterval <= 0 {
		s.tickInterval = DefaultTickInterval
	}
	if s.nicTickInterval <= 0 {
		s.nicTickInterval = DefaultNicTickInterval
	}
	if s.protocolTickInterval <= 0 {
		s.protocolTickInterval = DefaultProtocolTickInterval
	}
	if s.txTimeout < 0 {
		s.txTimeout = 0
	} else if opts.TxTimeout == 0 {
		s.txTimeout = DefaultTxTimeout
	}
	s.throttle = logger.NewThrottle(s.log, 10*time.Second, 5)
	s.parser = gopacket.NewDecodingLayerParser(layers.LayerTypeEthernet, &s.eth, &s.ip4, &s.udpL, &s.payload)
	s.parser.IgnoreUnsupported = true
	s.ipID = uint16(s.rand.Uint32())
	return s
}

// Lock acquires the net lock.
func (s *Stack) Lock() { s.mu.Lock() }

// Unlock releases the net lock.
func (s *Stack) Unlock() { s.mu.Unlock() }

// Signal wakes the network task. It never blocks and is safe from
// interrupt context.
func (s *Stack) Signal() {
	select {
	case s.event <- struct{}{}:
	default:
	}
}

func (s *Stack) Log() *logger.Logger        { return s.log }
func (s *Stack) Throttle() *logger.Throttle { return s.throttle }
func (s *Stack) Metrics() *metrics.Metrics  { return s.metrics }
func (s *Stack) TxTimeout() time.Duration   { return s.txTimeout }
func (s *Stack) Now() time.Time             { return s.now() }

// RandUint32 returns a pseudo-random value. The caller must hold the lock.
func (s *Stack) RandUint32() uint32 { return s.rand.Uint32() }

// RandRange returns a pseudo-random value in [min, max]. The caller must
// hold the lock.
func (s *Stack) RandRange(min, max int) int {
	if max <= min {
		return min
	}
	return min + s.rand.Intn(max-min+1)
}

// OnLinkChange registers fn to observe link transitions. fn runs on the
// network task with the lock held and must not call back into the stack.
func (s *Stack) OnLinkChange(fn func(LinkEvent)) {
	s.Lock()
	defer s.Unlock()
	s.linkObservers = append(s.linkObservers, fn)
}

// AddInterface registers a new, not yet configured interface.
func (s *Stack) AddInterface(cfg InterfaceConfig) (*Interface, error) {
	if cfg.Name == "" || cfg.NicDriver == nil {
		return nil, fmt.Errorf("add interface: %w", nic.ErrInvalidParameter)
	}
	if cfg.MacAddr.IsMulticast() || cfg.MacAddr.IsUnspecified() {
		return nil, fmt.Errorf("add interface %s: station address %s: %w", cfg.Name, cfg.MacAddr, nic.ErrInvalidParameter)
	}
	if cfg.PhyAddr > SmiMaxPhyAddr {
		return nil, fmt.Errorf("add interface %s: phy address %d: %w", cfg.Name, cfg.PhyAddr, nic.ErrInvalidParameter)
	}
	mtu := cfg.MTU
	if mtu == 0 {
		mtu = cfg.NicDriver.MTU()
	}
	if mtu <= 0 || mtu > cfg.NicDriver.MTU() {
		return nil, fmt.Errorf("add interface %s: mtu %d: %w", cfg.Name, mtu, nic.ErrInvalidParameter)
	}

	s.Lock()
	defer s.Unlock()
	for _, existing := range s.interfaces {
		if existing.name == cfg.Name {
			return nil, fmt.Errorf("add interface %s: %w", cfg.Name, ErrDuplicateInterface)
		}
	}
	iface := &Interface{
		stack:              s,
		index:              len(s.interfaces),
		name:               cfg.Name,
		log:                s.log.With(map[string]any{"iface": cfg.Name}),
		macAddr:            cfg.MacAddr,
		eui64:              cfg.MacAddr.Eui64(),
		mtu:                mtu,
		phyAddr:            cfg.PhyAddr,
		switchPort:         cfg.SwitchPort,
		nicDriver:          cfg.NicDriver,
		phyDriver:          cfg.PhyDriver,
		switchDriver:       cfg.SwitchDriver,
		spiDriver:          cfg.SpiDriver,
		smiDriver:          cfg.SmiDriver,
		extIntDriver:       cfg.ExtIntDriver,
		promiscuous:        cfg.Promiscuous,
		acceptAllMulticast: cfg.AcceptAllMulticast,
		nicTxEvent:         make(chan struct{}, 1),
	}
	s.interfaces = append(s.interfaces, iface)
	return iface, nil
}

// ConfigureInterface initializes the bus drivers and then the NIC. On
// failure the interface stays unconfigured and receives no events or
// ticks.
func (s *Stack) ConfigureInterface(iface *Interface) error {
	s.Lock()
	defer s.Unlock()
	if iface.configured {
		return nil
	}
	if iface.smiDriver != nil {
		if err := iface.smiDriver.Init(); err != nil {
			return fmt.Errorf("configure %s: smi: %w", iface.name, err)
		}
	}
	if iface.spiDriver != nil {
		if err := iface.spiDriver.Init(); err != nil {
			return fmt.Errorf("configure %s: spi: %w", iface.name, err)
		}
	}
	if iface.extIntDriver != nil {
		if err := iface.extIntDriver.Init(); err != nil {
			return fmt.Errorf("configure %s: external interrupt: %w", iface.name, err)
		}
	}
	if err := iface.nicDriver.Init(iface); err != nil {
		iface.log.Error("nic init failed", map[string]any{"error": err.Error()})
		return fmt.Errorf("configure %s: %w", iface.name, err)
	}
	iface.configured = true
	iface.log.Info("interface configured", map[string]any{
		"mac":   iface.macAddr.String(),
		"eui64": iface.eui64.String(),
		"mtu":   iface.mtu,
		"type":  iface.nicDriver.Type().String(),
	})
	// Events raised during Init were parked while unconfigured.
	if iface.nicEvent.Load() || iface.phyEvent.Load() {
		s.Signal()
	}
	return nil
}

// Interfaces returns the registered interfaces in creation order.
func (s *Stack) Interfaces() []*Interface {
	s.Lock()
	defer s.Unlock()
	return append([]*Interface(nil), s.interfaces...)
}

func (s *Stack) InterfaceByName(name string) (*Interface, error) {
	s.Lock()
	defer s.Unlock()
	for _, iface := range s.interfaces {
		if iface.name == name {
			return iface, nil
		}
	}
	return nil, fmt.Errorf("%s: %w", name, ErrInterfaceNotFound)
}

// Run is the network task. It services interrupt events and drives the
// periodic tick until ctx is cancelled.
func (s *Stack) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer s.running.Store(false)

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()
	s.log.Info("network task started", map[string]any{"tick": s.tickInterval.String()})
	for {
		select {
		case <-ctx.Done():
			s.log.Info("network task stopped", nil)
			return nil
		case <-s.event:
			s.ProcessEvents()
		case <-ticker.C:
		}
		s.Tick()
	}
}

// ProcessEvents runs the deferred handlers of every interface that has a
// pending NIC or PHY event. Interrupts of the NIC stay masked while its
// handlers run.
func (s *Stack) ProcessEvents() {
	s.Lock()
	defer s.Unlock()
	for _, iface := range s.interfaces {
		if !iface.configured {
			continue
		}
		if iface.nicEvent.Swap(false) {
			iface.nicDriver.DisableIrq(iface)
			iface.nicDriver.EventHandler(iface)
			iface.nicDriver.EnableIrq(iface)
		}
		if iface.phyEvent.Swap(false) {
			iface.nicDriver.DisableIrq(iface)
			if iface.phyDriver != nil {
				iface.phyDriver.EventHandler(iface)
			} else if iface.switchDriver != nil {
				iface.switchDriver.EventHandler(iface)
			}
			iface.nicDriver.EnableIrq(iface)
		}
	}
}

// Tick runs the NIC and protocol timers that are due.
func (s *Stack) Tick() {
	s.Lock()
	defer s.Unlock()
	now := s.now()
	if s.lastNicTick.IsZero() || now.Sub(s.lastNicTick) >= s.nicTickInterval {
		s.lastNicTick = now
		for _, iface := range s.interfaces {
			if iface.configured {
				iface.nicDriver.Tick(iface)
			}
		}
	}
	if s.lastProtocolTick.IsZero() || now.Sub(s.lastProtocolTick) >= s.protocolTickInterval {
		s.lastProtocolTick = now
		for _, iface := range s.interfaces {
			if !iface.configured {
				continue
			}
			for _, nc := range append([]namedClient(nil), iface.clients...) {
				nc.client.Tick(now)
			}
		}
	}
}

// NotifyLinkChange propagates the link fields of iface to the protocol
// clients and observers. The caller must hold the lock.
func (s *Stack) NotifyLinkChange(iface *Interface) {
	s.metrics.IncLinkChange()
	ev := LinkEvent{
		Interface: iface.name,
		Up:        iface.linkState,
		Speed:     iface.linkSpeed,
		Duplex:    iface.duplexMode,
	}
	if ev.Up {
		iface.log.Info("link up", map[string]any{"speed": ev.Speed.String(), "duplex": ev.Duplex.String()})
	} else {
		iface.log.Info("link down", nil)
	}
	for _, nc := range append([]namedClient(nil), iface.clients...) {
		nc.client.LinkChange(ev.Up)
	}
	for _, fn := range s.linkObservers {
		fn(ev)
	}
}
