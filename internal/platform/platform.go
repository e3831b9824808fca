// Package platform turns interface configuration entries into the driver
// set that serves them.
package platform

import (
	"errors"
	"fmt"
	"io"

	"ethstack/internal/config"
	"ethstack/pkg/driver/simeth"
	"ethstack/pkg/driver/tailtag"
	"ethstack/pkg/network"
	"ethstack/pkg/nic"
	"ethstack/pkg/phy"
)

var ErrNotSupported = errors.New("driver not supported on this platform")

// Binding is the driver set built for one interface.
type Binding struct {
	Config network.InterfaceConfig
	// Sim and Bus are set for the simulated driver so callers can act as
	// the far end of the cable.
	Sim *simeth.Driver
	Bus *tailtag.Bus

	closer io.Closer
}

func Build(cfg config.InterfaceConfig) (*Binding, error) {
	mac, err := nic.ParseMacAddr(cfg.MAC)
	if err != nil {
		return nil, fmt.Errorf("interface %s: %w", cfg.Name, err)
	}
	b := &Binding{Config: network.InterfaceConfig{
		Name:               cfg.Name,
		MacAddr:            mac,
		MTU:                cfg.MTU,
		PhyAddr:            uint8(cfg.PhyAddr),
		SwitchPort:         uint8(cfg.SwitchPort),
		Promiscuous:        cfg.Promiscuous,
		AcceptAllMulticast: cfg.AcceptAllMulticast,
	}}
	switch cfg.Driver {
	case "sim":
		buildSim(b)
	case "tap":
		if err := buildTap(b, cfg); err != nil {
			return nil, fmt.Errorf("interface %s: %w", cfg.Name, err)
		}
	default:
		return nil, fmt.Errorf("interface %s: driver %q: %w", cfg.Name, cfg.Driver, ErrNotSupported)
	}
	return b, nil
}

func buildSim(b *Binding) {
	scfg := simeth.DefaultConfig()
	scfg.PhyAddr = b.Config.PhyAddr
	scfg.AutoTransmit = true
	b.Sim = simeth.New(scfg)
	b.Config.NicDriver = b.Sim
	if b.Config.SwitchPort > 0 {
		b.Bus = tailtag.NewBus()
		b.Config.SwitchDriver = tailtag.New()
		b.Config.SpiDriver = b.Bus
		return
	}
	b.Config.PhyDriver = phy.New()
}

// Connect plugs the simulated cable in. It does nothing for real devices.
func (b *Binding) Connect() {
	if b.Bus != nil {
		b.Bus.SetPort(int(b.Config.SwitchPort), true, nic.LinkSpeed100M, nic.DuplexFull)
		return
	}
	if b.Sim != nil {
		b.Sim.SetLink(true)
	}
}

func (b *Binding) Close() error {
	if b.closer == nil {
		return nil
	}
	return b.closer.Close()
}
