package logs

import (
	"encoding/json"
	"strconv"
	"time"
)

// NewLoki ships entries to a Loki push endpoint under the given app label.
// It returns nil when url is empty.
func NewLoki(url, app string, queueSize int) *Shipper {
	if url == "" {
		return nil
	}
	if app == "" {
		app = "ethstack"
	}
	return newShipper(url, func(entry map[string]any) ([]byte, error) {
		line, err := json.Marshal(entry)
		if err != nil {
			return nil, err
		}
		labels := map[string]string{"app": app}
		if level, ok := entry["level"].(string); ok {
			labels["level"] = level
		}
		if iface, ok := entry["iface"].(string); ok {
			labels["iface"] = iface
		}
		return json.Marshal(map[string]any{
			"streams": []any{
				map[string]any{
					"stream": labels,
					"values": [][]string{{strconv.FormatInt(time.Now().UnixNano(), 10), string(line)}},
				},
			},
		})
	}, queueSize)
}
