// Package timeouts defines shared timeout constants used across services.
// Centralizing these values prevents drift between service boundaries and
// makes the durations discoverable.
package timeouts

import "time"

// GRPCDial caps the wait time when dialing a gRPC peer.
const GRPCDial = 2 * time.Second

// Operation caps the time allowed for one core mutating operation,
// including its conditional storage transaction.
const Operation = 5 * time.Second

// AuditAppend caps one audit append attempt; the recorder retries within
// this budget and then drops the event with a local log line.
const AuditAppend = 2 * time.Second

// Shutdown limits how long a server waits for in-flight work during
// graceful shutdown.
const Shutdown = 5 * time.Second
