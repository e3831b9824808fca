package metrics

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"

	"ethstack/internal/config"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Drop reasons used across the stack.
const (
	DropFilter     = "filter"
	DropLinkDown   = "link_down"
	DropOversize   = "oversize"
	DropNoListener = "no_listener"
	DropBusy       = "busy"
	DropProtocol   = "protocol"
	DropChecksum   = "checksum"
)

// Metrics holds the stack counters. Every method is safe on a nil receiver
// so that drivers and tests can run without a registry.
type Metrics struct {
	RxPacketsTotal      prometheus.Counter
	RxBytesTotal        prometheus.Counter
	TxPacketsTotal      prometheus.Counter
	TxBytesTotal        prometheus.Counter
	RxErrorsTotal       prometheus.Counter
	DropsTotal          prometheus.Counter
	DropsByReason       *prometheus.CounterVec
	LinkChangesTotal    prometheus.Counter
	DHCPTransitions     *prometheus.CounterVec
	DHCPLeasesTotal     prometheus.Counter
	RingResetsTotal     prometheus.Counter
	rxPacketsCount      atomic.Uint64
	rxBytesCount        atomic.Uint64
	txPacketsCount      atomic.Uint64
	txBytesCount        atomic.Uint64
	rxErrorsCount       atomic.Uint64
	dropsCount          atomic.Uint64
	linkChangesCount    atomic.Uint64
	dhcpLeasesCount     atomic.Uint64
	ringResetsCount     atomic.Uint64
	mu                  sync.Mutex
	dropsByReason       map[string]uint64
	dhcpTransitionCount map[string]uint64
}

func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RxPacketsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ethstack_rx_packets_total",
			Help: "Total number of frames received from NIC drivers",
		}),
		RxBytesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ethstack_rx_bytes_total",
			Help: "Total number of bytes received from NIC drivers",
		}),
		TxPacketsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ethstack_tx_packets_total",
			Help: "Total number of frames handed to NIC drivers",
		}),
		TxBytesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ethstack_tx_bytes_total",
			Help: "Total number of bytes handed to NIC drivers",
		}),
		RxErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ethstack_rx_errors_total",
			Help: "Total number of malformed frames",
		}),
		DropsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ethstack_drops_total",
			Help: "Total number of dropped frames",
		}),
		DropsByReason: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ethstack_drops_by_reason_total",
			Help: "Dropped frames by reason",
		}, []string{"reason"}),
		LinkChangesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ethstack_link_changes_total",
			Help: "Total number of link state changes",
		}),
		DHCPTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ethstack_dhcp_transitions_total",
			Help: "DHCP client state transitions by target state",
		}, []string{"state"}),
		DHCPLeasesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ethstack_dhcp_leases_total",
			Help: "Total number of DHCP leases acquired or extended",
		}),
		RingResetsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ethstack_ring_resets_total",
			Help: "Total number of descriptor ring re-initializations after bus errors",
		}),
		dropsByReason:       map[string]uint64{},
		dhcpTransitionCount: map[string]uint64{},
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(
		m.RxPacketsTotal,
		m.RxBytesTotal,
		m.TxPacketsTotal,
		m.TxBytesTotal,
		m.RxErrorsTotal,
		m.DropsTotal,
		m.DropsByReason,
		m.LinkChangesTotal,
		m.DHCPTransitions,
		m.DHCPLeasesTotal,
		m.RingResetsTotal,
	)
	return m
}

func (m *Metrics) ObserveRx(n int) {
	if m == nil {
		return
	}
	m.rxPacketsCount.Add(1)
	m.RxPacketsTotal.Inc()
	if n > 0 {
		m.rxBytesCount.Add(uint64(n))
		m.RxBytesTotal.Add(float64(n))
	}
}

func (m *Metrics) ObserveTx(n int) {
	if m == nil {
		return
	}
	m.txPacketsCount.Add(1)
	m.TxPacketsTotal.Inc()
	if n > 0 {
		m.txBytesCount.Add(uint64(n))
		m.TxBytesTotal.Add(float64(n))
	}
}

func (m *Metrics) IncRxErrors() {
	if m == nil {
		return
	}
	m.rxErrorsCount.Add(1)
	m.RxErrorsTotal.Inc()
}

func (m *Metrics) IncDropReason(reason string) {
	if m == nil || reason == "" {
		return
	}
	m.dropsCount.Add(1)
	m.DropsTotal.Inc()
	m.DropsByReason.WithLabelValues(reason).Inc()
	m.mu.Lock()
	m.dropsByReason[reason]++
	m.mu.Unlock()
}

func (m *Metrics) IncLinkChange() {
	if m == nil {
		return
	}
	m.linkChangesCount.Add(1)
	m.LinkChangesTotal.Inc()
}

func (m *Metrics) IncDHCPTransition(state string) {
	if m == nil || state == "" {
		return
	}
	m.DHCPTransitions.WithLabelValues(state).Inc()
	m.mu.Lock()
	m.dhcpTransitionCount[state]++
	m.mu.Unlock()
}

func (m *Metrics) IncDHCPLease() {
	if m == nil {
		return
	}
	m.dhcpLeasesCount.Add(1)
	m.DHCPLeasesTotal.Inc()
}

func (m *Metrics) IncRingReset() {
	if m == nil {
		return
	}
	m.ringResetsCount.Add(1)
	m.RingResetsTotal.Inc()
}

type Snapshot struct {
	RxPackets       uint64            `json:"rx_packets"`
	RxBytes         uint64            `json:"rx_bytes"`
	TxPackets       uint64            `json:"tx_packets"`
	TxBytes         uint64            `json:"tx_bytes"`
	RxErrors        uint64            `json:"rx_errors"`
	Drops           uint64            `json:"drops"`
	DropsByReason   map[string]uint64 `json:"drops_by_reason"`
	LinkChanges     uint64            `json:"link_changes"`
	DHCPTransitions map[string]uint64 `json:"dhcp_transitions"`
	DHCPLeases      uint64            `json:"dhcp_leases"`
	RingResets      uint64            `json:"ring_resets"`
}

func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{DropsByReason: map[string]uint64{}, DHCPTransitions: map[string]uint64{}}
	}
	m.mu.Lock()
	reasons := make(map[string]uint64, len(m.dropsByReason))
	for k, v := range m.dropsByReason {
		reasons[k] = v
	}
	transitions := make(map[string]uint64, len(m.dhcpTransitionCount))
	for k, v := range m.dhcpTransitionCount {
		transitions[k] = v
	}
	m.mu.Unlock()
	return Snapshot{
		RxPackets:       m.rxPacketsCount.Load(),
		RxBytes:         m.rxBytesCount.Load(),
		TxPackets:       m.txPacketsCount.Load(),
		TxBytes:         m.txBytesCount.Load(),
		RxErrors:        m.rxErrorsCount.Load(),
		Drops:           m.dropsCount.Load(),
		DropsByReason:   reasons,
		LinkChanges:     m.linkChangesCount.Load(),
		DHCPTransitions: transitions,
		DHCPLeases:      m.dhcpLeasesCount.Load(),
		RingResets:      m.ringResetsCount.Load(),
	}
}

func StartServer(ctx context.Context, cfg config.MetricsConfig) error {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.Handler())

	srv := &http.Server{
		Addr:    cfg.Address,
		Handler: mux,
	}

	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}
