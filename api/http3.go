package api

import (
	"context"
	"crypto/tls"
	"errors"
	"net/http"

	"ethstack/internal/config"

	"github.com/quic-go/quic-go/http3"
)

// StartHTTP3Server serves handler over QUIC until ctx is cancelled.
func StartHTTP3Server(ctx context.Context, cfg config.HTTP3Config, handler http.Handler) error {
	cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return err
	}
	server := &http3.Server{
		Addr: cfg.Address,
		TLSConfig: &tls.Config{
			Certificates: []tls.Certificate{cert},
			NextProtos:   []string{"h3"},
		},
		Handler: handler,
	}
	go func() {
		<-ctx.Done()
		_ = server.Close()
	}()
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
