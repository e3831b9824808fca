package metrics

import (
	"bytes"
	"context"
	"net/http"
	"sort"
	"time"

	"ethstack/internal/config"

	"github.com/golang/snappy"
	"github.com/prometheus/prometheus/prompb"
)

func StartRemoteWrite(ctx context.Context, cfg config.MetricsExportConfig, m *Metrics) {
	if !cfg.Enabled || cfg.RemoteWriteURL == "" {
		return
	}
	interval := time.Duration(cfg.IntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 10 * time.Second
	}
	client := &http.Client{Timeout: 5 * time.Second}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sendSnapshot(ctx, client, cfg.RemoteWriteURL, m.Snapshot())
			}
		}
	}()
}

func sendSnapshot(ctx context.Context, client *http.Client, url string, snap Snapshot) {
	now := time.Now().UnixMilli()
	series := []prompb.TimeSeries{
		newSeries("ethstack_rx_packets_total", snap.RxPackets, now, nil),
		newSeries("ethstack_tx_packets_total", snap.TxPackets, now, nil),
		newSeries("ethstack_rx_errors_total", snap.RxErrors, now, nil),
		newSeries("ethstack_link_changes_total", snap.LinkChanges, now, nil),
		newSeries("ethstack_dhcp_leases_total", snap.DHCPLeases, now, nil),
	}
	for _, reason := range sortedKeys(snap.DropsByReason) {
		series = append(series, newSeries("ethstack_drops_by_reason_total", snap.DropsByReason[reason], now,
			[]prompb.Label{{Name: "reason", Value: reason}}))
	}
	req := &prompb.WriteRequest{Timeseries: series}
	data, err := req.Marshal()
	if err != nil {
		return
	}
	compressed := snappy.Encode(nil, data)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(compressed))
	if err != nil {
		return
	}
	httpReq.Header.Set("Content-Type", "application/x-protobuf")
	httpReq.Header.Set("Content-Encoding", "snappy")
	httpReq.Header.Set("X-Prometheus-Remote-Write-Version", "0.1.0")
	_, _ = client.Do(httpReq)
}

func newSeries(name string, value uint64, ts int64, extra []prompb.Label) prompb.TimeSeries {
	labels := append([]prompb.Label{{Name: "__name__", Value: name}}, extra...)
	return prompb.TimeSeries{
		Labels:  labels,
		Samples: []prompb.Sample{{Value: float64(value), Timestamp: ts}},
	}
}

func sortedKeys(m map[string]uint64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
