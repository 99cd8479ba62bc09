package guppy

import "time"

// Config defines protocol timing and buffering for a session. Defaults are
// the reference protocol values; tests compress them.
type Config struct {
	// SessionTimeout is measured from the first outbound write; a session
	// with no confirmed progress by then times out.
	SessionTimeout time.Duration
	// RequestRetry is the resend interval for the request line while no
	// chunk has been observed yet.
	RequestRetry time.Duration
	// AckRetry is the resend interval for the last acknowledgment once
	// streaming has started and then stalled.
	AckRetry time.Duration
	// TickInterval is the retry scheduler cadence.
	TickInterval time.Duration
	// ReorderSlots is the capacity of the out-of-order chunk buffer.
	ReorderSlots int
}

func DefaultConfig() Config {
	return Config{
		SessionTimeout: 6 * time.Second,
		RequestRetry:   time.Second,
		AckRetry:       500 * time.Millisecond,
		TickInterval:   100 * time.Millisecond,
		ReorderSlots:   8,
	}
}

func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.SessionTimeout <= 0 {
		c.SessionTimeout = def.SessionTimeout
	}
	if c.RequestRetry <= 0 {
		c.RequestRetry = def.RequestRetry
	}
	if c.AckRetry <= 0 {
		c.AckRetry = def.AckRetry
	}
	if c.TickInterval <= 0 {
		c.TickInterval = def.TickInterval
	}
	if c.ReorderSlots <= 0 {
		c.ReorderSlots = def.ReorderSlots
	}
	return c
}
