package network

import "errors"

var (
	ErrAlreadyRunning     = errors.New("already running")
	ErrPortInUse          = errors.New("port already in use")
	ErrNotConfigured      = errors.New("interface not configured")
	ErrInterfaceNotFound  = errors.New("interface not found")
	ErrDuplicateInterface = errors.New("interface already exists")
	ErrLinkDown           = errors.New("link down")
	ErrPacketTooShort     = errors.New("packet too short")
)
