// Package strategy decides between batch and realtime embedding processing.
// The decision is a pure function of a metrics snapshot and the request, so
// it is deterministic and cheap enough to run on every request.
package strategy

import (
	"time"

	"github.com/S-Corkum/deepsearch/pkg/models"
)

// Config holds the thresholds that normalize raw metrics into decision
// weights. A non-positive threshold disables its factor.
type Config struct {
	// AutoSwitchEnabled gates the scoring model. When false, auto
	// requests fall back to DefaultMode.
	AutoSwitchEnabled bool

	// DefaultMode is used for auto requests when switching is disabled.
	DefaultMode models.ProcessingMode

	// CostThresholdCents is the accumulated cost above which batch
	// processing becomes attractive.
	CostThresholdCents int64

	// LatencyThresholdMs is the average processing time above which the
	// system is considered slow.
	LatencyThresholdMs float64

	// QueueThreshold is the queue depth above which backlog pressure
	// favors batch processing.
	QueueThreshold int

	// LoadThreshold is the system load above which realtime processing
	// is throttled.
	LoadThreshold float64

	// RealtimePriorityBand is the highest priority value still considered
	// urgent enough to force realtime processing.
	RealtimePriorityBand int

	// MinSwitchInterval suppresses mode flapping; ShouldSwitchMode
	// refuses a change before it elapses.
	MinSwitchInterval time.Duration
}

// DefaultConfig returns the standard thresholds.
func DefaultConfig() Config {
	return Config{
		AutoSwitchEnabled:    true,
		DefaultMode:          models.ModeOnlineRealtime,
		CostThresholdCents:   1000,
		LatencyThresholdMs:   3000,
		QueueThreshold:       100,
		LoadThreshold:        0.8,
		RealtimePriorityBand: 3,
		MinSwitchInterval:    time.Minute,
	}
}

// Request carries the per-request inputs to the mode decision.
type Request struct {
	// RequestedMode pins the decision when it is not auto.
	RequestedMode models.ProcessingMode

	// Priority in the queue's ordering, lower is more urgent.
	Priority int

	// Urgent forces realtime regardless of scores.
	Urgent bool

	// MaxLatency is the caller's latency budget; a budget tighter than
	// the latency threshold forces the latency factor fully online.
	MaxLatency time.Duration
}

// Selector applies the weighted scoring model to pick a processing mode.
type Selector struct {
	config Config
}

// NewSelector creates a selector around the given thresholds.
func NewSelector(config Config) *Selector {
	if config.DefaultMode == "" || config.DefaultMode.IsAuto() {
		config.DefaultMode = models.ModeOnlineRealtime
	}
	if config.MinSwitchInterval <= 0 {
		config.MinSwitchInterval = DefaultConfig().MinSwitchInterval
	}
	return &Selector{config: config}
}

// Config returns the effective thresholds.
func (s *Selector) Config() Config { return s.config }

// DetermineOptimalMode picks batch or realtime for one request. A pinned
// request mode wins outright; urgent or high-priority requests get realtime
// unless a cost or load threshold is already breached; otherwise the
// weighted scores decide, realtime taking ties.
func (s *Selector) DetermineOptimalMode(req Request, m models.ProcessingMetrics) models.ProcessingMode {
	if req.RequestedMode.IsBatch() || req.RequestedMode.IsRealtime() {
		return req.RequestedMode
	}
	if !s.config.AutoSwitchEnabled {
		return s.config.DefaultMode
	}
	if !s.hardBreach(m) && (req.Urgent || s.inPriorityBand(req.Priority)) {
		return models.ModeOnlineRealtime
	}

	cost := s.costWeight(m)
	latency := s.latencyWeight(m, req)
	load := s.loadWeight(m)
	queue := s.queueWeight(m)

	if offlineScore(cost, latency, load, queue) > onlineScore(cost, latency, load, queue) {
		return models.ModeOfflineBatch
	}
	return models.ModeOnlineRealtime
}

// hardBreach reports whether cost or load has crossed its threshold
// outright. Urgency cannot buy realtime past a hard breach.
func (s *Selector) hardBreach(m models.ProcessingMetrics) bool {
	if s.config.CostThresholdCents > 0 && m.TotalCostCents > s.config.CostThresholdCents {
		return true
	}
	if s.config.LoadThreshold > 0 && m.SystemLoad > s.config.LoadThreshold {
		return true
	}
	return false
}

// inPriorityBand reports whether an explicitly set priority falls inside
// the realtime band. The zero value means "unset" and never qualifies.
func (s *Selector) inPriorityBand(priority int) bool {
	return s.config.RealtimePriorityBand > 0 && priority > 0 && priority <= s.config.RealtimePriorityBand
}

// costWeight maps accumulated cost against the threshold. Higher cost
// pushes toward batch.
func (s *Selector) costWeight(m models.ProcessingMetrics) float64 {
	if s.config.CostThresholdCents <= 0 {
		return 0
	}
	ratio := float64(m.TotalCostCents) / float64(s.config.CostThresholdCents)
	switch {
	case ratio > 1.0:
		return 1.0
	case ratio > 0.8:
		return 0.7
	case ratio > 0.5:
		return 0.3
	default:
		return 0
	}
}

// latencyWeight is positive when the system is slower than the threshold
// and negative when a tight caller budget or low latency favors realtime.
func (s *Selector) latencyWeight(m models.ProcessingMetrics, req Request) float64 {
	if s.config.LatencyThresholdMs <= 0 {
		return 0
	}
	if req.MaxLatency > 0 && float64(req.MaxLatency.Milliseconds()) < s.config.LatencyThresholdMs {
		return -1.0
	}
	ratio := m.AverageProcessingTime / s.config.LatencyThresholdMs
	switch {
	case ratio > 1.5:
		return 0.8
	case ratio > 1.0:
		return 0.5
	case ratio > 0.7:
		return 0.2
	default:
		return -0.3
	}
}

// loadWeight maps system load against the threshold.
func (s *Selector) loadWeight(m models.ProcessingMetrics) float64 {
	if s.config.LoadThreshold <= 0 {
		return 0
	}
	ratio := m.SystemLoad / s.config.LoadThreshold
	switch {
	case ratio > 1.2:
		return 1.0
	case ratio > 1.0:
		return 0.7
	case ratio > 0.8:
		return 0.3
	default:
		return -0.1
	}
}

// queueWeight maps queue depth against the threshold.
func (s *Selector) queueWeight(m models.ProcessingMetrics) float64 {
	if s.config.QueueThreshold <= 0 {
		return 0
	}
	ratio := float64(m.CurrentQueueSize) / float64(s.config.QueueThreshold)
	switch {
	case ratio > 1.5:
		return 1.0
	case ratio > 1.0:
		return 0.8
	case ratio > 0.7:
		return 0.4
	default:
		return -0.2
	}
}

// offlineScore favors batch when cost, latency, load and backlog are high.
// Only latency pressure above zero counts; a fast system does not argue
// for batch.
func offlineScore(cost, latency, load, queue float64) float64 {
	return 0.5 + 0.3*cost + 0.2*max0(latency) + 0.3*load + 0.2*queue
}

// onlineScore favors realtime when the system is cheap, fast and idle.
// Latency weighs heaviest here.
func onlineScore(cost, latency, load, queue float64) float64 {
	return 0.5 - 0.3*cost + 0.4*max0(-latency) - 0.2*load - 0.1*queue
}

// ShouldSwitchMode reports whether the scheduler's running mode should
// change given fresh metrics, along with the mode to switch to. Recent
// switches are suppressed to avoid flapping.
func (s *Selector) ShouldSwitchMode(current models.ProcessingMode, m models.ProcessingMetrics, lastSwitch time.Time) (models.ProcessingMode, bool) {
	if !lastSwitch.IsZero() && time.Since(lastSwitch) < s.config.MinSwitchInterval {
		return current, false
	}

	optimal := s.DetermineOptimalMode(Request{RequestedMode: models.ModeAutoSwitch, Priority: models.DefaultTaskPriority}, m)
	if optimal == current {
		return current, false
	}
	return optimal, true
}

func max0(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}
