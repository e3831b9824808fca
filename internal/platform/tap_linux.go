//go:build linux

package platform

import (
	"ethstack/internal/config"
	"ethstack/pkg/driver/tap"
)

func buildTap(b *Binding, cfg config.InterfaceConfig) error {
	drv := tap.New(tap.Config{Device: cfg.Device})
	b.Config.NicDriver = drv
	b.closer = drv
	return nil
}
