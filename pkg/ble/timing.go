package ble

import (
	"runtime"
	"time"
)

// Timing collects the platform-tunable delays and retry bounds of the
// resilience layer. Injected rather than compiled in so policy is testable
// and swappable per host.
type Timing struct {
	// ConnectRetries bounds how often a failed connect attempt is repeated.
	ConnectRetries int
	// StabilizeDelay is waited after a connect reports success before the
	// status is trusted; some platforms report success prematurely.
	StabilizeDelay time.Duration
	// RetryDelay is waited between failed connect attempts.
	RetryDelay time.Duration
	// ReconnectCooldown is waited between disconnect and connect during a
	// reconnect. Empirically longer than StabilizeDelay: some platforms
	// refuse a fresh connect for several seconds after a teardown.
	ReconnectCooldown time.Duration
	// DisconnectPolls and DisconnectPollDelay bound how long the layer
	// watches the status before concluding a peer is already (or finally)
	// disconnected.
	DisconnectPolls     int
	DisconnectPollDelay time.Duration
}

// DefaultTiming returns the per-platform defaults.
func DefaultTiming() Timing {
	t := Timing{
		ConnectRetries:      5,
		StabilizeDelay:      2 * time.Second,
		RetryDelay:          2 * time.Second,
		ReconnectCooldown:   5 * time.Second,
		DisconnectPolls:     3,
		DisconnectPollDelay: 200 * time.Millisecond,
	}
	// macOS CoreBluetooth tears down lazily; give it longer between cycles.
	if runtime.GOOS == "darwin" {
		t.ReconnectCooldown = 8 * time.Second
	}
	return t
}
