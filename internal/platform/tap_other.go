//go:build !linux

package platform

import "ethstack/internal/config"

func buildTap(b *Binding, cfg config.InterfaceConfig) error {
	return ErrNotSupported
}
