package tracking

import (
	"math"
	"sync"
	"time"
)

// fpsWindow is the number of ticks averaged by an FPSCounter.
const fpsWindow = 50

// FPSCounter keeps the timestamps of the last ticks of one activity.
type FPSCounter struct {
	mu    sync.Mutex
	ticks []time.Time
	now   func() time.Time
}

// NewFPSCounter creates an empty counter.
func NewFPSCounter() *FPSCounter {
	return &FPSCounter{ticks: make([]time.Time, 0, fpsWindow), now: time.Now}
}

// Tick records one occurrence.
func (c *FPSCounter) Tick() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.ticks) == fpsWindow {
		copy(c.ticks, c.ticks[1:])
		c.ticks = c.ticks[:fpsWindow-1]
	}
	c.ticks = append(c.ticks, c.now())
}

// DeltaMillis returns the average period over the recorded ticks in
// milliseconds, measured up to now. It is +Inf before the first tick.
func (c *FPSCounter) DeltaMillis() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.ticks) == 0 {
		return math.Inf(1)
	}
	elapsed := c.now().Sub(c.ticks[0])
	return float64(elapsed) / float64(time.Millisecond) / float64(len(c.ticks))
}

// FPS returns ticks per second, 0 before the first tick.
func (c *FPSCounter) FPS() float64 {
	d := c.DeltaMillis()
	if math.IsInf(d, 1) || d <= 0 {
		return 0
	}
	return 1000 / d
}

// FPS groups the pipeline's counters.
type FPS struct {
	Render *FPSCounter // anchors delivered to consumers
	Video  *FPSCounter // frames arriving from the source
	Track  *FPSCounter // tracking or continuous detection results
}

// NewFPS creates empty counters.
func NewFPS() *FPS {
	return &FPS{Render: NewFPSCounter(), Video: NewFPSCounter(), Track: NewFPSCounter()}
}

// FPSReport is a point-in-time view of the counters.
type FPSReport struct {
	Render float64 `json:"render"`
	Video  float64 `json:"video"`
	Track  float64 `json:"track"`
}

// Report returns the current rates.
func (f *FPS) Report() FPSReport {
	return FPSReport{Render: f.Render.FPS(), Video: f.Video.FPS(), Track: f.Track.FPS()}
}
