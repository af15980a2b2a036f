package main

// Operational defaults and limits — named constants for values that would
// otherwise be scattered across main.go and the flag definitions.
const (
	// defaultControlPort is the TCP control-plane port when -control-port is
	// not set.
	defaultControlPort = 8888

	// defaultVoicePort is the UDP voice-plane port when -voice-port is not
	// set.
	defaultVoicePort = 8889

	// defaultRateLimit is the maximum control messages accepted per second
	// per connection when -rate-limit is not set. 0 disables the limiter.
	defaultRateLimit = 50

	// defaultMaxConnections is the maximum total control connections when
	// -max-connections is not set. 0 means unlimited.
	defaultMaxConnections = 1000

	// defaultPerIPLimit is the maximum control connections from a single
	// source IP when -per-ip-limit is not set. 0 means unlimited.
	defaultPerIPLimit = 20
)
