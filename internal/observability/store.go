package observability

import (
	"sync"
	"time"

	"ethstack/pkg/network"
)

type EventType string

const (
	EventLinkUp      EventType = "link_up"
	EventLinkDown    EventType = "link_down"
	EventDHCPState   EventType = "dhcp_state"
	EventDHCPTimeout EventType = "dhcp_timeout"
	EventRingReset   EventType = "ring_reset"
	EventAlert       EventType = "alert"
)

type Event struct {
	ID        uint64         `json:"id"`
	Type      EventType      `json:"type"`
	Interface string         `json:"interface,omitempty"`
	Message   string         `json:"message"`
	Fields    map[string]any `json:"fields,omitempty"`
	Timestamp int64          `json:"timestamp"`
}

// Store keeps the most recent stack events in arrival order.
type Store struct {
	mu     sync.Mutex
	limit  int
	nextID uint64
	events []Event
	now    func() time.Time
}

func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = 1000
	}
	return &Store{
		limit:  limit,
		events: make([]Event, 0, limit),
		now:    time.Now,
	}
}

// Add assigns the next ID and a timestamp when the event has none.
func (s *Store) Add(ev Event) Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	ev.ID = s.nextID
	if ev.Timestamp == 0 {
		ev.Timestamp = s.now().Unix()
	}
	s.events = append(s.events, ev)
	if len(s.events) > s.limit {
		s.events = append([]Event{}, s.events[len(s.events)-s.limit:]...)
	}
	return ev
}

func (s *Store) List() []Event {
	return s.Since(0)
}

// Since returns the retained events with an ID greater than id.
func (s *Store) Since(id uint64) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, 0, len(s.events))
	for _, ev := range s.events {
		if ev.ID > id {
			out = append(out, ev)
		}
	}
	return out
}

func (s *Store) Limit() int {
	return s.limit
}

// RecordLink is a network.Stack link observer.
func (s *Store) RecordLink(ev network.LinkEvent) {
	if !ev.Up {
		s.Add(Event{Type: EventLinkDown, Interface: ev.Interface, Message: "link down"})
		return
	}
	s.Add(Event{
		Type:      EventLinkUp,
		Interface: ev.Interface,
		Message:   "link up",
		Fields: map[string]any{
			"speed":  ev.Speed.String(),
			"duplex": ev.Duplex.String(),
		},
	})
}

func (s *Store) RecordDHCPState(iface string, state string) {
	s.Add(Event{
		Type:      EventDHCPState,
		Interface: iface,
		Message:   "dhcp state changed",
		Fields:    map[string]any{"state": state},
	})
}

func (s *Store) RecordDHCPTimeout(iface string) {
	s.Add(Event{Type: EventDHCPTimeout, Interface: iface, Message: "dhcp acquisition timed out"})
}

// LogHook returns a logger hook that records log entries tagged with a
// known "event" field, such as the ring reset reported by drivers.
func (s *Store) LogHook() func(entry map[string]any) {
	return func(entry map[string]any) {
		typ, _ := entry["event"].(string)
		if EventType(typ) != EventRingReset {
			return
		}
		iface, _ := entry["iface"].(string)
		msg, _ := entry["msg"].(string)
		s.Add(Event{Type: EventRingReset, Interface: iface, Message: msg})
	}
}
