// Package metrics collects processing counters for the embedding subsystem:
// lock-free totals, per-mode buckets, a short sliding window for the mode
// switcher, and hourly rollups for operators.
package metrics

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/S-Corkum/deepsearch/pkg/models"
	"github.com/S-Corkum/deepsearch/pkg/observability"
)

// Estimated cost in cents per millisecond of processing, used when a
// provider does not report actual cost.
const (
	costPerMsRealtime = 0.1
	costPerMsBatch    = 0.05
	costPerMsAuto     = 0.075
)

const (
	windowSpan    = 5 * time.Minute
	rolloverEvery = time.Minute
	rollupRetain  = 24
	rollupTimeFmt = "2006-01-02-15"
)

// QueueSizeSampler reports current queue depth for snapshots.
type QueueSizeSampler func() int

// LoadSampler reports system load in [0,1] for snapshots.
type LoadSampler func() float64

// modeBucket accumulates counters for one processing mode. All fields are
// atomics so the request hot path never takes a lock.
type modeBucket struct {
	requests  atomic.Int64
	successes atomic.Int64
	failures  atomic.Int64
	totalTime atomic.Int64 // milliseconds
	totalCost atomic.Int64 // cents
}

// windowSample is one recorded request inside the sliding window.
type windowSample struct {
	at      time.Time
	success bool
	tookMs  int64
}

// HourlyRollup aggregates one wall-clock hour of traffic.
type HourlyRollup struct {
	Hour           string  `json:"hour"`
	Requests       int64   `json:"requests"`
	Successes      int64   `json:"successes"`
	Failures       int64   `json:"failures"`
	AvgTimeMs      float64 `json:"avg_time_ms"`
	TotalCostCents int64   `json:"total_cost_cents"`
}

// Collector tracks embedding throughput, latency, cost and failures.
type Collector struct {
	startTime time.Time

	totalRequests atomic.Int64
	totalTime     atomic.Int64
	totalCost     atomic.Int64
	lastUpdate    atomic.Int64 // unix nanos

	buckets map[models.ProcessingMode]*modeBucket

	mu      sync.Mutex
	window  []windowSample
	rollups map[string]*HourlyRollup

	queueSize QueueSizeSampler
	load      LoadSampler
	logger    observability.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewCollector creates a collector with a bucket per processing mode.
// Samplers may be nil; snapshots then report zero queue depth and load.
func NewCollector(queueSize QueueSizeSampler, load LoadSampler, logger observability.Logger) *Collector {
	if logger == nil {
		logger = observability.NewLogger("metrics")
	}
	buckets := make(map[models.ProcessingMode]*modeBucket, len(models.AllProcessingModes))
	for _, mode := range models.AllProcessingModes {
		buckets[mode] = &modeBucket{}
	}
	return &Collector{
		startTime: time.Now().UTC(),
		buckets:   buckets,
		rollups:   make(map[string]*HourlyRollup),
		queueSize: queueSize,
		load:      load,
		logger:    logger.WithPrefix("metrics"),
	}
}

// Start launches the background ticker that prunes the sliding window and
// drops rollups older than the retention horizon.
func (c *Collector) Start() {
	if c.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan struct{})

	go func() {
		defer close(c.done)
		ticker := time.NewTicker(rolloverEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				c.prune(now)
			}
		}
	}()
}

// Stop halts the background ticker.
func (c *Collector) Stop() {
	if c.cancel == nil {
		return
	}
	c.cancel()
	<-c.done
	c.cancel = nil
}

// RecordSuccess records one successful embedding request.
func (c *Collector) RecordSuccess(mode models.ProcessingMode, took time.Duration, costCents int64) {
	c.record(mode, took, costCents, true)
}

// RecordFailure records one failed embedding request. Failed requests carry
// no cost unless the provider reported one.
func (c *Collector) RecordFailure(mode models.ProcessingMode, took time.Duration, costCents int64) {
	c.record(mode, took, costCents, false)
}

func (c *Collector) record(mode models.ProcessingMode, took time.Duration, costCents int64, success bool) {
	tookMs := took.Milliseconds()
	if costCents < 0 {
		costCents = estimateCostCents(mode, tookMs)
	}
	now := time.Now()

	c.totalRequests.Add(1)
	c.totalTime.Add(tookMs)
	c.totalCost.Add(costCents)
	c.lastUpdate.Store(now.UnixNano())

	bucket, ok := c.buckets[mode]
	if !ok {
		bucket = c.buckets[models.ModeAutoSwitch]
	}
	bucket.requests.Add(1)
	bucket.totalTime.Add(tookMs)
	bucket.totalCost.Add(costCents)
	if success {
		bucket.successes.Add(1)
	} else {
		bucket.failures.Add(1)
	}

	c.mu.Lock()
	c.window = append(c.window, windowSample{at: now, success: success, tookMs: tookMs})
	hour := now.UTC().Format(rollupTimeFmt)
	rollup, ok := c.rollups[hour]
	if !ok {
		rollup = &HourlyRollup{Hour: hour}
		c.rollups[hour] = rollup
	}
	rollup.Requests++
	if success {
		rollup.Successes++
	} else {
		rollup.Failures++
	}
	rollup.AvgTimeMs += (float64(tookMs) - rollup.AvgTimeMs) / float64(rollup.Requests)
	rollup.TotalCostCents += costCents
	c.mu.Unlock()
}

// estimateCostCents prices processing time when no actual cost is known.
func estimateCostCents(mode models.ProcessingMode, tookMs int64) int64 {
	var perMs float64
	switch {
	case mode.IsRealtime():
		perMs = costPerMsRealtime
	case mode.IsBatch():
		perMs = costPerMsBatch
	default:
		perMs = costPerMsAuto
	}
	return int64(float64(tookMs) * perMs)
}

// Snapshot builds the system-wide metrics view consumed by the mode-switch
// strategy and the status endpoints.
func (c *Collector) Snapshot(currentMode models.ProcessingMode) models.ProcessingMetrics {
	total := c.totalRequests.Load()
	var successes, failures int64
	for _, bucket := range c.buckets {
		successes += bucket.successes.Load()
		failures += bucket.failures.Load()
	}

	var avg float64
	if total > 0 {
		avg = float64(c.totalTime.Load()) / float64(total)
	}

	m := models.ProcessingMetrics{
		TotalRequests:         total,
		SuccessfulRequests:    successes,
		FailedRequests:        failures,
		AverageProcessingTime: avg,
		TotalCostCents:        c.totalCost.Load(),
		CurrentMode:           currentMode,
		StartTime:             c.startTime,
	}
	if nanos := c.lastUpdate.Load(); nanos > 0 {
		m.LastUpdate = time.Unix(0, nanos).UTC()
	}
	if c.queueSize != nil {
		m.CurrentQueueSize = c.queueSize()
	}
	if c.load != nil {
		m.SystemLoad = c.load()
	}
	return m
}

// ModeSnapshot returns the counters for one processing mode.
func (c *Collector) ModeSnapshot(mode models.ProcessingMode) models.ProcessingMetrics {
	bucket, ok := c.buckets[mode]
	if !ok {
		return models.ProcessingMetrics{CurrentMode: mode, StartTime: c.startTime}
	}

	requests := bucket.requests.Load()
	var avg float64
	if requests > 0 {
		avg = float64(bucket.totalTime.Load()) / float64(requests)
	}
	return models.ProcessingMetrics{
		TotalRequests:         requests,
		SuccessfulRequests:    bucket.successes.Load(),
		FailedRequests:        bucket.failures.Load(),
		AverageProcessingTime: avg,
		TotalCostCents:        bucket.totalCost.Load(),
		CurrentMode:           mode,
		StartTime:             c.startTime,
	}
}

// WindowStats reports request count, success rate and average latency over
// the sliding window. The mode switcher reads this rather than lifetime
// totals so it reacts to recent conditions.
func (c *Collector) WindowStats() (requests int64, successRate float64, avgTimeMs float64) {
	cutoff := time.Now().Add(-windowSpan)

	c.mu.Lock()
	defer c.mu.Unlock()

	var successes, totalMs int64
	for _, s := range c.window {
		if s.at.Before(cutoff) {
			continue
		}
		requests++
		totalMs += s.tookMs
		if s.success {
			successes++
		}
	}
	if requests > 0 {
		successRate = float64(successes) / float64(requests)
		avgTimeMs = float64(totalMs) / float64(requests)
	}
	return requests, successRate, avgTimeMs
}

// Rollups returns the retained hourly aggregates, most recent hour included.
func (c *Collector) Rollups() []HourlyRollup {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]HourlyRollup, 0, len(c.rollups))
	for _, r := range c.rollups {
		out = append(out, *r)
	}
	return out
}

// Reset zeroes every counter, window sample and rollup.
func (c *Collector) Reset() {
	c.totalRequests.Store(0)
	c.totalTime.Store(0)
	c.totalCost.Store(0)
	c.lastUpdate.Store(0)
	for _, bucket := range c.buckets {
		bucket.requests.Store(0)
		bucket.successes.Store(0)
		bucket.failures.Store(0)
		bucket.totalTime.Store(0)
		bucket.totalCost.Store(0)
	}

	c.mu.Lock()
	c.window = nil
	c.rollups = make(map[string]*HourlyRollup)
	c.startTime = time.Now().UTC()
	c.mu.Unlock()
}

// prune drops window samples past the span and rollups past retention.
func (c *Collector) prune(now time.Time) {
	cutoff := now.Add(-windowSpan)
	horizon := now.UTC().Add(-time.Duration(rollupRetain) * time.Hour).Format(rollupTimeFmt)

	c.mu.Lock()
	defer c.mu.Unlock()

	kept := c.window[:0]
	for _, s := range c.window {
		if !s.at.Before(cutoff) {
			kept = append(kept, s)
		}
	}
	c.window = kept

	for hour := range c.rollups {
		if hour < horizon {
			delete(c.rollups, hour)
		}
	}
}
