package throttle

import (
	"fmt"
	"time"
)

// Window is the enforcement window over which a per-window rate is turned
// into a token capacity. A bucket configured at 60 requests per minute with
// a PerHour window can hold up to 3600 tokens.
type Window time.Duration

const (
	// PerMinute enforces limits over one minute.
	PerMinute = Window(time.Minute)
	// PerHour enforces limits over one hour.
	PerHour = Window(time.Hour)
	// PerDay enforces limits over 24 hours.
	PerDay = Window(24 * time.Hour)
)

// Minutes returns a window spanning m minutes. Fractional values are allowed.
func Minutes(m float64) Window {
	return Window(time.Duration(m * float64(time.Minute)))
}

// Duration returns the window as a time.Duration. The zero window is
// treated as PerMinute.
func (w Window) Duration() time.Duration {
	if w <= 0 {
		return time.Minute
	}
	return time.Duration(w)
}

// Minutes returns the window length in minutes.
func (w Window) Minutes() float64 {
	return w.Duration().Minutes()
}

// Seconds returns the window length in seconds.
func (w Window) Seconds() float64 {
	return w.Duration().Seconds()
}

func (w Window) String() string {
	switch w.Duration() {
	case time.Minute:
		return "PerMinute"
	case time.Hour:
		return "PerHour"
	case 24 * time.Hour:
		return "PerDay"
	default:
		return fmt.Sprintf("Window(%s)", w.Duration())
	}
}
