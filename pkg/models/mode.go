// Package models contains the shared data model for the vector processing
// core: embeddings, processing contexts, queue tasks, and metrics snapshots.
// Values in this package are treated as immutable once constructed unless
// documented otherwise.
package models

import "fmt"

// ProcessingMode selects the processing strategy for an embedding request.
type ProcessingMode string

const (
	// ModeOfflineBatch favors throughput: work is queued and processed in
	// bulk sweeps.
	ModeOfflineBatch ProcessingMode = "offline_batch"

	// ModeOnlineRealtime favors latency: work is processed per request.
	ModeOnlineRealtime ProcessingMode = "online_realtime"

	// ModeAutoSwitch lets the mode-switch strategy pick based on live
	// telemetry.
	ModeAutoSwitch ProcessingMode = "auto_switch"
)

// AllProcessingModes lists every mode, used to seed per-mode metric buckets.
var AllProcessingModes = []ProcessingMode{ModeOfflineBatch, ModeOnlineRealtime, ModeAutoSwitch}

// IsBatch reports whether the mode is offline batch processing.
func (m ProcessingMode) IsBatch() bool { return m == ModeOfflineBatch }

// IsRealtime reports whether the mode is online realtime processing.
func (m ProcessingMode) IsRealtime() bool { return m == ModeOnlineRealtime }

// IsAuto reports whether the mode defers to the mode-switch strategy.
func (m ProcessingMode) IsAuto() bool { return m == ModeAutoSwitch }

// Valid reports whether m is one of the known modes.
func (m ProcessingMode) Valid() bool {
	switch m {
	case ModeOfflineBatch, ModeOnlineRealtime, ModeAutoSwitch:
		return true
	}
	return false
}

// ParseProcessingMode converts a configuration string into a ProcessingMode.
func ParseProcessingMode(s string) (ProcessingMode, error) {
	m := ProcessingMode(s)
	if !m.Valid() {
		return "", fmt.Errorf("unknown processing mode %q", s)
	}
	return m, nil
}
