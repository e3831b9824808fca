package dhcp

// State is the state of the client state machine (RFC 2131 figure 5).
type State int

const (
	StateInit State = iota
	StateSelecting
	StateRequesting
	StateInitReboot
	StateRebooting
	StateBound
	StateRenewing
	StateRebinding
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateSelecting:
		return "SELECTING"
	case StateRequesting:
		return "REQUESTING"
	case StateInitReboot:
		return "INIT_REBOOT"
	case StateRebooting:
		return "REBOOTING"
	case StateBound:
		return "BOUND"
	case StateRenewing:
		return "RENEWING"
	case StateRebinding:
		return "REBINDING"
	default:
		return "UNKNOWN"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// holdsLease reports whether the client owns an address in this state.
func (s State) holdsLease() bool {
	switch s {
	case StateBound, StateRenewing, StateRebinding:
		return true
	}
	return false
}
