package observability

import (
	"context"
	"time"

	"ethstack/internal/metrics"
)

type AlertsConfig struct {
	DropsThreshold      uint64
	RxErrorsThreshold   uint64
	RingResetsThreshold uint64
}

func (c AlertsConfig) enabled() bool {
	return c.DropsThreshold > 0 || c.RxErrorsThreshold > 0 || c.RingResetsThreshold > 0
}

// EvaluateAlerts compares two snapshots and returns an alert event for every
// counter whose growth reached its threshold.
func EvaluateAlerts(prev metrics.Snapshot, curr metrics.Snapshot, cfg AlertsConfig) []Event {
	out := make([]Event, 0, 3)
	check := func(name string, before, after, threshold uint64) {
		if threshold == 0 {
			return
		}
		delta := uint64(0)
		if after >= before {
			delta = after - before
		}
		if delta < threshold {
			return
		}
		out = append(out, Event{
			Type:    EventAlert,
			Message: name + " threshold exceeded",
			Fields: map[string]any{
				"counter":   name,
				"value":     delta,
				"threshold": threshold,
			},
		})
	}
	check("drops", prev.Drops, curr.Drops, cfg.DropsThreshold)
	check("rx_errors", prev.RxErrors, curr.RxErrors, cfg.RxErrorsThreshold)
	check("ring_resets", prev.RingResets, curr.RingResets, cfg.RingResetsThreshold)
	return out
}

// WatchAlerts evaluates m every interval and records alerts into the store
// until ctx is cancelled.
func (s *Store) WatchAlerts(ctx context.Context, m *metrics.Metrics, cfg AlertsConfig, interval time.Duration) {
	if m == nil || !cfg.enabled() || interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		prev := m.Snapshot()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				curr := m.Snapshot()
				for _, ev := range EvaluateAlerts(prev, curr, cfg) {
					s.Add(ev)
				}
				prev = curr
			}
		}
	}()
}
