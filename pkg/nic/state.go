package nic

// DriverState tracks the lifecycle of a NIC driver instance.
//
//	Uninitialized -> Initialized -> IrqEnabled <-> IrqDisabled
//	any state after init -> ResetPending (fatal bus error) -> Initialized
type DriverState int

const (
	StateUninitialized DriverState = iota
	StateInitialized
	StateIrqEnabled
	StateIrqDisabled
	StateResetPending
)

func (s DriverState) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitialized:
		return "initialized"
	case StateIrqEnabled:
		return "irq_enabled"
	case StateIrqDisabled:
		return "irq_disabled"
	case StateResetPending:
		return "reset_pending"
	default:
		return "invalid"
	}
}
