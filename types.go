package main

// SessionState is the derived connection state of the managed remote. It is
// computed from the session record on demand and never cached, because the
// real device state can change out-of-band.
type SessionState string

const (
	StateUnknown           SessionState = "unknown"
	StateDisconnected      SessionState = "disconnected"
	StateConnectedNoPath   SessionState = "connected"
	StateConnectedWithPath SessionState = "monitored"
)
