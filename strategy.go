package throttle

// Strategy decides what a Guard does when a wait for capacity runs past its
// soft timeout.
type Strategy int

const (
	// Strict ends the call with a *WaitTimedOutError. The protected
	// operation is not invoked.
	Strict Strategy = iota
	// LogOnly lets the call through without a token. The guard logs a
	// warning and fires the OnWaitTimeout callback, so the configured rate
	// may be exceeded.
	LogOnly
)

func (s Strategy) String() string {
	switch s {
	case Strict:
		return "Strict"
	case LogOnly:
		return "LogOnly"
	default:
		return "Unknown"
	}
}
