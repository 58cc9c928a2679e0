package tracking

import "github.com/teslashibe/go-labvision/pkg/tracking/tracker"

// StalePolicy decides what happens to detection results that arrive after
// newer frames were already handled.
type StalePolicy int

const (
	// LastWriterWins reconciles every result in arrival order.
	LastWriterWins StalePolicy = iota
	// RejectOlderDetections drops a result whose frame is older than the
	// frame of the last reconciled result.
	RejectOlderDetections
	// RejectBehindTracking drops a result whose frame is older than the
	// last frame the pool was updated with.
	RejectBehindTracking
)

// String returns the policy name used in config and logs.
func (p StalePolicy) String() string {
	switch p {
	case LastWriterWins:
		return "last-writer-wins"
	case RejectOlderDetections:
		return "reject-older-detections"
	case RejectBehindTracking:
		return "reject-behind-tracking"
	}
	return "unknown"
}

// DefaultStalenessThreshold is the number of consecutive updates a box may
// stay bit-identical before its slot is evicted.
const DefaultStalenessThreshold = 200

// Config holds the pipeline parameters. Most can be changed at runtime
// through TuningParams.
type Config struct {
	// Frame handling
	Async bool // process frames on a worker instead of inline

	// Detection
	AsyncDetection   bool    // run detector calls on their own goroutine
	ConcurrencyLimit int     // max simultaneous detector calls
	MinConfidence    float64 // detections below this are discarded
	Continuous       bool    // detect on every frame and skip tracking

	// Tracker pool
	Algorithm          tracker.Algorithm
	FixedCount         bool // seed Count trackers from the best detection
	Count              int
	StalenessThreshold int
	Workers            int // parallel slot updates, 0 = one goroutine per slot
	Smoothing          bool
	Kalman             tracker.KalmanConfig
	StalePolicy        StalePolicy
}

// DefaultConfig returns the recommended configuration: detect on request,
// then track every frame with KCF.
func DefaultConfig() Config {
	return Config{
		Async:              true,
		AsyncDetection:     true,
		ConcurrencyLimit:   1,
		MinConfidence:      0.5,
		Algorithm:          tracker.KCF,
		Count:              1,
		StalenessThreshold: DefaultStalenessThreshold,
		Kalman:             tracker.DefaultKalmanConfig(),
		StalePolicy:        RejectOlderDetections,
	}
}

// ContinuousConfig detects on every frame without trackers. Useful with a
// fast local detector.
func ContinuousConfig() Config {
	cfg := DefaultConfig()
	cfg.Continuous = true
	cfg.ConcurrencyLimit = 2
	return cfg
}

// BenchmarkConfig seeds a fixed number of trackers from the best detection
// so tracker cost can be measured per object count.
func BenchmarkConfig(count int) Config {
	cfg := DefaultConfig()
	cfg.FixedCount = true
	cfg.Count = count
	cfg.Async = false
	return cfg
}

// Policy returns the reconciliation policy described by the config.
func (c Config) Policy() Policy {
	if c.FixedCount {
		return FixedCount(c.Count)
	}
	return PerDetection()
}
