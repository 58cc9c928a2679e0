package tracking

import (
	"encoding/json"
	"fmt"

	"go.uber.org/multierr"

	"github.com/teslashibe/go-labvision/pkg/tracking/tracker"
)

// TuningParams holds the real-time adjustable pipeline parameters.
// These can be modified via the tuning API without restarting.
type TuningParams struct {
	// Detection
	ConcurrencyLimit int     `json:"concurrency_limit"` // max simultaneous detector calls
	MinConfidence    float64 `json:"min_confidence"`    // 0-1
	Continuous       bool    `json:"continuous"`        // detect every frame, no trackers

	// Tracker pool
	FixedCount   bool   `json:"fixed_count"`
	TrackerCount int    `json:"tracker_count"`
	Algorithm    string `json:"algorithm"`

	// Frame handling
	Async          bool `json:"async"`
	AsyncDetection bool `json:"async_detection"`
}

// GetTuningParams returns the current parameters.
func (c *Coordinator) GetTuningParams() TuningParams {
	return TuningParams{
		ConcurrencyLimit: c.governor.Limit(),
		MinConfidence:    c.governor.MinConfidence(),
		Continuous:       c.governor.Repeat(),
		FixedCount:       c.fixed.Load(),
		TrackerCount:     int(c.count.Load()),
		Algorithm:        c.pool.Algorithm().String(),
		Async:            c.async.Load(),
		AsyncDetection:   c.asyncDetection.Load(),
	}
}

// SetTuningParams applies params. Flags are always applied; numeric and
// string values only when non-zero. Every rejected value is reported.
func (c *Coordinator) SetTuningParams(params TuningParams) error {
	var err error

	c.governor.SetRepeat(params.Continuous)
	c.fixed.Store(params.FixedCount)
	c.async.Store(params.Async)
	c.asyncDetection.Store(params.AsyncDetection)

	if params.ConcurrencyLimit > 0 && params.ConcurrencyLimit != c.governor.Limit() {
		err = multierr.Append(err, c.governor.SetLimit(params.ConcurrencyLimit))
	}
	if params.MinConfidence > 0 {
		c.governor.SetMinConfidence(params.MinConfidence)
	}
	if params.TrackerCount > 0 {
		c.count.Store(int32(params.TrackerCount))
	}
	if params.Algorithm != "" {
		err = multierr.Append(err, c.setAlgorithm(params.Algorithm))
	}
	return err
}

func (c *Coordinator) setAlgorithm(name string) error {
	a, err := tracker.ParseAlgorithm(name)
	if err != nil {
		return err
	}
	if a == c.pool.Algorithm() {
		return nil
	}
	return c.pool.SetAlgorithm(a)
}

// UpdateTuning updates specific parameters.
// Accepts a map of JSON field names to values, as decoded from a request body.
func (c *Coordinator) UpdateTuning(params map[string]interface{}) error {
	var err error
	for key, value := range params {
		switch key {
		case "concurrency_limit":
			if v, ok := toInt(value); ok {
				if v != c.governor.Limit() {
					err = multierr.Append(err, c.governor.SetLimit(v))
				}
			} else {
				err = multierr.Append(err, badValue(key, value))
			}
		case "min_confidence":
			if v, ok := toFloat(value); ok {
				c.governor.SetMinConfidence(v)
			} else {
				err = multierr.Append(err, badValue(key, value))
			}
		case "continuous":
			if v, ok := value.(bool); ok {
				c.governor.SetRepeat(v)
			} else {
				err = multierr.Append(err, badValue(key, value))
			}
		case "fixed_count":
			if v, ok := value.(bool); ok {
				c.fixed.Store(v)
			} else {
				err = multierr.Append(err, badValue(key, value))
			}
		case "tracker_count":
			if v, ok := toInt(value); ok && v >= 0 {
				c.count.Store(int32(v))
			} else {
				err = multierr.Append(err, badValue(key, value))
			}
		case "algorithm":
			if v, ok := value.(string); ok {
				err = multierr.Append(err, c.setAlgorithm(v))
			} else {
				err = multierr.Append(err, badValue(key, value))
			}
		case "async":
			if v, ok := value.(bool); ok {
				c.async.Store(v)
			} else {
				err = multierr.Append(err, badValue(key, value))
			}
		case "async_detection":
			if v, ok := value.(bool); ok {
				c.asyncDetection.Store(v)
			} else {
				err = multierr.Append(err, badValue(key, value))
			}
		}
	}
	return err
}

func badValue(key string, value interface{}) error {
	return fmt.Errorf("tracking: invalid value %v for %s", value, key)
}

func toInt(v interface{}) (int, bool) {
	switch val := v.(type) {
	case int:
		return val, true
	case int64:
		return int(val), true
	case float64:
		return int(val), true
	case json.Number:
		i, err := val.Int64()
		if err == nil {
			return int(i), true
		}
	}
	return 0, false
}

func toFloat(v interface{}) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case int:
		return float64(val), true
	case json.Number:
		f, err := val.Float64()
		if err == nil {
			return f, true
		}
	}
	return 0, false
}
