// Package logs forwards logger entries to external log stores. Entries are
// queued and posted from a background goroutine so a slow collector never
// stalls the network task.
package logs

import (
	"bytes"
	"context"
	"net/http"
	"sync/atomic"
	"time"
)

const defaultQueueSize = 256

// Encoder turns one entry into a request body.
type Encoder func(entry map[string]any) ([]byte, error)

type Shipper struct {
	url     string
	encode  Encoder
	client  *http.Client
	queue   chan map[string]any
	dropped atomic.Uint64
	failed  atomic.Uint64
}

func newShipper(url string, encode Encoder, queueSize int) *Shipper {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &Shipper{
		url:    url,
		encode: encode,
		client: &http.Client{Timeout: 3 * time.Second},
		queue:  make(chan map[string]any, queueSize),
	}
}

// Hook is registered with logger.AddHook. It never blocks.
func (s *Shipper) Hook(entry map[string]any) {
	select {
	case s.queue <- entry:
	default:
		s.dropped.Add(1)
	}
}

// Run posts queued entries until ctx is cancelled.
func (s *Shipper) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case entry := <-s.queue:
			s.post(ctx, entry)
		}
	}
}

func (s *Shipper) post(ctx context.Context, entry map[string]any) {
	body, err := s.encode(entry)
	if err != nil {
		s.failed.Add(1)
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		s.failed.Add(1)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		s.failed.Add(1)
		return
	}
	resp.Body.Close()
	if resp.StatusCode >= 300 {
		s.failed.Add(1)
	}
}

// Dropped is the number of entries discarded because the queue was full.
func (s *Shipper) Dropped() uint64 { return s.dropped.Load() }

// Failed is the number of entries the collector did not accept.
func (s *Shipper) Failed() uint64 { return s.failed.Load() }
