package phy_test

import (
	"testing"
	"time"

	"ethstack/pkg/driver/simeth"
	"ethstack/pkg/network"
	"ethstack/pkg/nic"
	"ethstack/pkg/phy"
)

func TestResolvePriority(t *testing.T) {
	cases := []struct {
		name    string
		partner uint16
		speed   nic.LinkSpeed
		duplex  nic.DuplexMode
	}{
		{"all", phy.ANAdvertiseAll, nic.LinkSpeed100M, nic.DuplexFull},
		{"100 half", phy.AN100BaseTX | phy.AN10BaseTFull, nic.LinkSpeed100M, nic.DuplexHalf},
		{"10 full", phy.AN10BaseTFull | phy.AN10BaseT, nic.LinkSpeed10M, nic.DuplexFull},
		{"10 half", phy.AN10BaseT, nic.LinkSpeed10M, nic.DuplexHalf},
		{"nothing", 0, nic.LinkSpeed10M, nic.DuplexHalf},
	}
	for _, tc := range cases {
		speed, duplex := phy.Resolve(phy.ANAdvertiseAll, tc.partner)
		if speed != tc.speed || duplex != tc.duplex {
			t.Fatalf("%s: expected %s %s, got %s %s", tc.name, tc.speed, tc.duplex, speed, duplex)
		}
	}
}

func newInterface(t *testing.T, drv *simeth.Driver, p *phy.Driver) (*network.Stack, *network.Interface, *time.Time) {
	t.Helper()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := network.NewStack(network.Options{Now: func() time.Time { return now }})
	iface, err := s.AddInterface(network.InterfaceConfig{
		Name:      "eth0",
		MacAddr:   nic.MacAddr{0x02, 0, 0, 0, 0, 1},
		NicDriver: drv,
		PhyDriver: p,
	})
	if err != nil {
		t.Fatalf("add interface: %v", err)
	}
	if err := s.ConfigureInterface(iface); err != nil {
		t.Fatalf("configure: %v", err)
	}
	s.ProcessEvents()
	return s, iface, &now
}

func TestInitProgramsAdvertisement(t *testing.T) {
	drv := simeth.New(simeth.Config{})
	p := &phy.Driver{Advertise: phy.AN10BaseT | phy.ANSelector8023}
	s, iface, now := newInterface(t, drv, p)

	if got := drv.ReadPhyReg(network.SmiOpcodeRead, 0, phy.RegANAR); got != p.Advertise {
		t.Fatalf("expected ANAR %04x, got %04x", p.Advertise, got)
	}
	bmcr := drv.ReadPhyReg(network.SmiOpcodeRead, 0, phy.RegBMCR)
	if bmcr&phy.BMCRAutoNegEnable == 0 {
		t.Fatalf("expected auto-negotiation enabled, got %04x", bmcr)
	}

	drv.SetLink(true)
	*now = now.Add(time.Second)
	s.Tick()
	s.ProcessEvents()
	if !iface.LinkState() {
		t.Fatalf("expected link up")
	}
	if iface.LinkSpeed() != nic.LinkSpeed10M || iface.DuplexMode() != nic.DuplexHalf {
		t.Fatalf("expected 10M half, got %s %s", iface.LinkSpeed(), iface.DuplexMode())
	}
}

func TestForcedModeWithoutAutoNegotiation(t *testing.T) {
	drv := simeth.New(simeth.Config{})
	s, iface, now := newInterface(t, drv, phy.New())

	// Full duplex is requested but the MAC cannot force it.
	drv.WritePhyReg(network.SmiOpcodeWrite, 0, phy.RegBMCR, phy.BMCRSpeed100|phy.BMCRFullDuplex)
	drv.SetLink(true)
	*now = now.Add(time.Second)
	s.Tick()
	s.ProcessEvents()
	if !iface.LinkState() {
		t.Fatalf("expected link up")
	}
	if iface.LinkSpeed() != nic.LinkSpeed100M || iface.DuplexMode() != nic.DuplexHalf {
		t.Fatalf("expected 100M half, got %s %s", iface.LinkSpeed(), iface.DuplexMode())
	}
}

func TestTickIgnoresStableLink(t *testing.T) {
	drv := simeth.New(simeth.Config{})
	s, iface, now := newInterface(t, drv, phy.New())
	var changes int
	s.OnLinkChange(func(network.LinkEvent) { changes++ })

	drv.SetLink(true)
	for i := 0; i < 3; i++ {
		*now = now.Add(time.Second)
		s.Tick()
		s.ProcessEvents()
	}
	if !iface.LinkState() || changes != 1 {
		t.Fatalf("expected a single link change, got %d", changes)
	}
}
