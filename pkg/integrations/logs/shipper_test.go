package logs

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func collector(t *testing.T) (*httptest.Server, chan []byte) {
	t.Helper()
	bodies := make(chan []byte, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		bodies <- b
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)
	return srv, bodies
}

func TestEmptyURLDisables(t *testing.T) {
	if NewLoki("", "", 0) != nil || NewElastic("", 0) != nil {
		t.Fatalf("expected nil shipper without url")
	}
}

func TestLokiPayload(t *testing.T) {
	srv, bodies := collector(t)
	s := NewLoki(srv.URL, "", 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	s.Hook(map[string]any{"level": "info", "msg": "link up", "iface": "eth0"})
	select {
	case body := <-bodies:
		var payload struct {
			Streams []struct {
				Stream map[string]string `json:"stream"`
				Values [][]string        `json:"values"`
			} `json:"streams"`
		}
		if err := json.Unmarshal(body, &payload); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if len(payload.Streams) != 1 || payload.Streams[0].Stream["iface"] != "eth0" || payload.Streams[0].Stream["app"] != "ethstack" {
			t.Fatalf("unexpected stream: %+v", payload.Streams)
		}
		var line map[string]any
		if err := json.Unmarshal([]byte(payload.Streams[0].Values[0][1]), &line); err != nil || line["msg"] != "link up" {
			t.Fatalf("unexpected log line: %v %v", line, err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("expected loki push")
	}
}

func TestElasticPayload(t *testing.T) {
	srv, bodies := collector(t)
	s := NewElastic(srv.URL, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	s.Hook(map[string]any{"msg": "dhcp state changed"})
	select {
	case body := <-bodies:
		var doc map[string]any
		if err := json.Unmarshal(body, &doc); err != nil || doc["msg"] != "dhcp state changed" {
			t.Fatalf("unexpected document: %s", body)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("expected elastic post")
	}
	if s.Failed() != 0 {
		t.Fatalf("expected no failures, got %d", s.Failed())
	}
}

func TestHookDropsWhenQueueFull(t *testing.T) {
	s := NewElastic("http://127.0.0.1:0", 1)
	s.Hook(map[string]any{"msg": "a"})
	s.Hook(map[string]any{"msg": "b"})
	if s.Dropped() != 1 {
		t.Fatalf("expected 1 dropped entry, got %d", s.Dropped())
	}
}
