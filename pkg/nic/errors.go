package nic

import "errors"

var (
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrInvalidLength    = errors.New("invalid length")
	ErrInvalidPacket    = errors.New("invalid packet")
	// ErrBusy means the transmitter cannot take the frame right now. The
	// frame was not consumed and the caller may retry once the TX event is
	// signaled again.
	ErrBusy        = errors.New("transmitter busy")
	ErrBufferEmpty = errors.New("receive buffer empty")
	ErrBusError    = errors.New("dma bus error")
	ErrOutOfMemory = errors.New("out of memory")
	ErrFilterFull  = errors.New("mac filter table full")
	ErrNotFound    = errors.New("not found")
)
