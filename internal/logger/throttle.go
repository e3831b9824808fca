package logger

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Throttle rate limits repeated messages per key so that a misbehaving
// peer or a flapping link cannot flood the log.
type Throttle struct {
	log   *Logger
	every time.Duration
	burst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	dropped  map[string]uint64
}

func NewThrottle(log *Logger, every time.Duration, burst int) *Throttle {
	if every <= 0 {
		every = time.Second
	}
	if burst <= 0 {
		burst = 1
	}
	return &Throttle{
		log:      log,
		every:    every,
		burst:    burst,
		limiters: map[string]*rate.Limiter{},
		dropped:  map[string]uint64{},
	}
}

func (t *Throttle) Debug(key, msg string, fields map[string]any) {
	t.emit(key, fields, func(f map[string]any) { t.log.Debug(msg, f) })
}

func (t *Throttle) Info(key, msg string, fields map[string]any) {
	t.emit(key, fields, func(f map[string]any) { t.log.Info(msg, f) })
}

func (t *Throttle) Warn(key, msg string, fields map[string]any) {
	t.emit(key, fields, func(f map[string]any) { t.log.Warn(msg, f) })
}

// Dropped returns how many messages were suppressed for key since the last
// one that got through.
func (t *Throttle) Dropped(key string) uint64 {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dropped[key]
}

func (t *Throttle) emit(key string, fields map[string]any, write func(map[string]any)) {
	if t == nil {
		return
	}
	t.mu.Lock()
	lim, ok := t.limiters[key]
	if !ok {
		lim = rate.NewLimiter(rate.Every(t.every), t.burst)
		t.limiters[key] = lim
	}
	if !lim.Allow() {
		t.dropped[key]++
		t.mu.Unlock()
		return
	}
	suppressed := t.dropped[key]
	t.dropped[key] = 0
	t.mu.Unlock()

	if suppressed > 0 {
		merged := make(map[string]any, len(fields)+1)
		for k, v := range fields {
			merged[k] = v
		}
		merged["suppressed"] = suppressed
		fields = merged
	}
	write(fields)
}
