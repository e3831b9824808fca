package logs

import "encoding/json"

// NewElastic ships each entry as one document to an Elasticsearch
// _doc endpoint. It returns nil when url is empty.
func NewElastic(url string, queueSize int) *Shipper {
	if url == "" {
		return nil
	}
	return newShipper(url, func(entry map[string]any) ([]byte, error) {
		return json.Marshal(entry)
	}, queueSize)
}
