package network

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"ethstack/pkg/nic"
)

func TestAddInterfaceValidates(t *testing.T) {
	s := NewStack(Options{})
	if _, err := s.AddInterface(InterfaceConfig{Name: "eth0", MacAddr: testMac}); !errors.Is(err, nic.ErrInvalidParameter) {
		t.Fatalf("expected ErrInvalidParameter without driver, got %v", err)
	}
	if _, err := s.AddInterface(InterfaceConfig{Name: "eth0", MacAddr: mdnsGroup, NicDriver: &fakeNic{}}); !errors.Is(err, nic.ErrInvalidParameter) {
		t.Fatalf("expected ErrInvalidParameter for multicast station address, got %v", err)
	}
	iface, err := s.AddInterface(InterfaceConfig{Name: "eth0", MacAddr: testMac, NicDriver: &fakeNic{}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if iface.MTU() != nic.EthMTU {
		t.Fatalf("expected driver mtu, got %d", iface.MTU())
	}
	if iface.Eui64().String() != "0000:00ff:fe00:0001" {
		t.Fatalf("expected derived EUI-64, got %s", iface.Eui64())
	}
	if _, err := s.AddInterface(InterfaceConfig{Name: "eth0", MacAddr: peerMac, NicDriver: &fakeNic{}}); !errors.Is(err, ErrDuplicateInterface) {
		t.Fatalf("expected ErrDuplicateInterface, got %v", err)
	}
	if _, err := s.InterfaceByName("eth1"); !errors.Is(err, ErrInterfaceNotFound) {
		t.Fatalf("expected ErrInterfaceNotFound, got %v", err)
	}
}

func TestConfigureFailureLeavesInterfaceIdle(t *testing.T) {
	s := NewStack(Options{})
	fn := &fakeNic{initErr: nic.ErrBusError}
	iface, err := s.AddInterface(InterfaceConfig{Name: "eth0", MacAddr: testMac, NicDriver: fn})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.ConfigureInterface(iface); !errors.Is(err, nic.ErrBusError) {
		t.Fatalf("expected wrapped init error, got %v", err)
	}
	if iface.Configured() {
		t.Fatalf("expected interface to stay unconfigured")
	}
	iface.SetEventFromISR()
	s.ProcessEvents()
	s.Tick()
	if fn.ticks != 0 || len(fn.calls) != 1 {
		t.Fatalf("expected no tick or event handling, got ticks=%d calls=%v", fn.ticks, fn.calls)
	}
}

func TestProcessEventsMasksInterrupts(t *testing.T) {
	env := newTestEnv(t, 0)
	env.iface.SetEventFromISR()
	env.stack.ProcessEvents()
	got := strings.Join(env.nic.calls, ",")
	if got != "init,disable,event,enable" {
		t.Fatalf("expected init,disable,event,enable, got %s", got)
	}
	if env.iface.NicEventPending() {
		t.Fatalf("expected event flag to be consumed")
	}
	env.stack.ProcessEvents()
	if len(env.nic.calls) != 4 {
		t.Fatalf("expected no handler without a new event, got %v", env.nic.calls)
	}
}

func TestTickSchedulesNicAndProtocolTimers(t *testing.T) {
	env := newTestEnv(t, 0)
	client := &fakeClient{}
	env.stack.Lock()
	if err := env.iface.AttachClient("test", client); err != nil {
		t.Fatalf("attach client: %v", err)
	}
	if err := env.iface.AttachClient("test", client); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning on duplicate attach, got %v", err)
	}
	env.stack.Unlock()

	env.stack.Tick()
	if env.nic.ticks != 1 || client.ticks != 1 {
		t.Fatalf("expected first tick to run both timers, got nic=%d client=%d", env.nic.ticks, client.ticks)
	}
	env.clock.Advance(200 * time.Millisecond)
	env.stack.Tick()
	if env.nic.ticks != 1 || client.ticks != 2 {
		t.Fatalf("expected only protocol tick, got nic=%d client=%d", env.nic.ticks, client.ticks)
	}
	env.clock.Advance(100 * time.Millisecond)
	env.stack.Tick()
	if client.ticks != 2 {
		t.Fatalf("expected protocol tick to wait, got %d", client.ticks)
	}
	env.clock.Advance(700 * time.Millisecond)
	env.stack.Tick()
	if env.nic.ticks != 2 || client.ticks != 3 {
		t.Fatalf("expected both timers after 1s, got nic=%d client=%d", env.nic.ticks, client.ticks)
	}
}

func TestFilterReprogrammedOnlyOnChange(t *testing.T) {
	env := newTestEnv(t, 0)
	steps := []struct {
		accept bool
		want   int
	}{
		{true, 1},
		{true, 1},
		{false, 1},
		{false, 2},
	}
	for i, step := range steps {
		var err error
		if step.accept {
			err = env.iface.AcceptMacAddr(mdnsGroup)
		} else {
			err = env.iface.DropMacAddr(mdnsGroup)
		}
		if err != nil {
			t.Fatalf("step %d: unexpected error: %v", i, err)
		}
		if env.nic.filterUpdates != step.want {
			t.Fatalf("step %d: expected %d filter updates, got %d", i, step.want, env.nic.filterUpdates)
		}
	}
	if err := env.iface.DropMacAddr(mdnsGroup); !errors.Is(err, nic.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := env.iface.SetPromiscuous(true); err != nil || env.nic.filterUpdates != 3 {
		t.Fatalf("expected promiscuous to reprogram filter, got %d (%v)", env.nic.filterUpdates, err)
	}
	if err := env.iface.SetPromiscuous(true); err != nil || env.nic.filterUpdates != 3 {
		t.Fatalf("expected no-op for unchanged flag, got %d (%v)", env.nic.filterUpdates, err)
	}
}

func TestNotifyLinkChangeReachesClientsAndObservers(t *testing.T) {
	env := newTestEnv(t, 0)
	client := &fakeClient{}
	var events []LinkEvent
	env.stack.OnLinkChange(func(ev LinkEvent) { events = append(events, ev) })

	env.stack.Lock()
	_ = env.iface.AttachClient("test", client)
	env.iface.SetLinkState(true)
	env.iface.SetLinkSpeed(nic.LinkSpeed100M)
	env.iface.SetDuplexMode(nic.DuplexFull)
	env.iface.NotifyLinkChange()
	env.iface.SetLinkState(false)
	env.iface.NotifyLinkChange()
	env.stack.Unlock()

	if len(client.linkChanges) != 2 || !client.linkChanges[0] || client.linkChanges[1] {
		t.Fatalf("expected [true false], got %v", client.linkChanges)
	}
	if len(events) != 2 || events[0].Speed != nic.LinkSpeed100M || events[0].Interface != "eth0" {
		t.Fatalf("unexpected events: %+v", events)
	}
	if got := env.metrics.Snapshot().LinkChanges; got != 2 {
		t.Fatalf("expected 2 link changes, got %d", got)
	}
}

func TestRunServicesSignalledEvents(t *testing.T) {
	env := newTestEnv(t, 0)
	handled := make(chan struct{}, 1)
	env.nic.onEvent = func(*Interface) {
		select {
		case handled <- struct{}{}:
		default:
		}
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- env.stack.Run(ctx) }()

	env.iface.SetEventFromISR()
	select {
	case <-handled:
	case <-time.After(2 * time.Second):
		t.Fatalf("expected event handler to run")
	}
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("expected network task to stop")
	}
}

func TestWaitTxEvent(t *testing.T) {
	env := newTestEnv(t, 0)
	if !env.iface.WaitTxEvent(0) {
		t.Fatalf("expected event armed by Init")
	}
	if env.iface.WaitTxEvent(0) {
		t.Fatalf("expected event to be consumed")
	}
	env.iface.SetTxEvent()
	env.iface.SetTxEvent()
	env.iface.ResetTxEvent()
	if env.iface.WaitTxEvent(10 * time.Millisecond) {
		t.Fatalf("expected reset to clear event")
	}
}
