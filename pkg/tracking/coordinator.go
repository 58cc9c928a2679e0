package tracking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"go.uber.org/atomic"

	"github.com/teslashibe/go-labvision/internal/log"
	"github.com/teslashibe/go-labvision/pkg/camera"
	"github.com/teslashibe/go-labvision/pkg/tracking/detection"
)

// Consumer receives the objects located in a frame. It may be called from
// the frame worker and from detection goroutines, and must Retain the
// frame to keep it past the call.
type Consumer interface {
	OnTracked(frame *camera.Frame, objects []TrackedObject)
}

// ConsumerFunc adapts a function to Consumer.
type ConsumerFunc func(frame *camera.Frame, objects []TrackedObject)

// OnTracked calls f.
func (f ConsumerFunc) OnTracked(frame *camera.Frame, objects []TrackedObject) {
	f(frame, objects)
}

// StateUpdater interface for updating dashboard state
type StateUpdater interface {
	AddLog(logType, message string)
}

// Coordinator is the per-frame entry point. At most one frame is processed
// at a time; frames arriving meanwhile are dropped.
type Coordinator struct {
	pool     *Pool
	governor *Governor
	fps      *FPS

	inFlight       *atomic.Bool
	requested      *atomic.Bool
	async          *atomic.Bool
	asyncDetection *atomic.Bool
	fixed          *atomic.Bool
	count          *atomic.Int32
	dropped        *atomic.Uint64
	closed         *atomic.Bool

	mu       sync.RWMutex
	consumer Consumer
	state    StateUpdater
	latest   []TrackedObject

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	life   sync.Mutex // orders frame admission against Close

	logger *slog.Logger
}

// NewCoordinator wires a pool and a governor.
func NewCoordinator(pool *Pool, governor *Governor, cfg Config) *Coordinator {
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		pool:           pool,
		governor:       governor,
		fps:            NewFPS(),
		inFlight:       atomic.NewBool(false),
		requested:      atomic.NewBool(false),
		async:          atomic.NewBool(cfg.Async),
		asyncDetection: atomic.NewBool(cfg.AsyncDetection),
		fixed:          atomic.NewBool(cfg.FixedCount),
		count:          atomic.NewInt32(int32(cfg.Count)),
		dropped:        atomic.NewUint64(0),
		closed:         atomic.NewBool(false),
		ctx:            ctx,
		cancel:         cancel,
		logger:         log.Component("tracking.coordinator"),
	}
}

// SetConsumer sets the receiver of tracked objects.
func (c *Coordinator) SetConsumer(consumer Consumer) {
	c.mu.Lock()
	c.consumer = consumer
	c.mu.Unlock()
}

// SetStateUpdater sets the dashboard state updater
func (c *Coordinator) SetStateUpdater(state StateUpdater) {
	c.mu.Lock()
	c.state = state
	c.mu.Unlock()
}

// OnFrame handles one frame. It returns false when the frame was dropped
// because another one is still being processed, or after Close. In async mode the frame
// is retained until the worker finishes.
func (c *Coordinator) OnFrame(frame *camera.Frame) bool {
	if !c.enter() {
		return false
	}
	c.fps.Video.Tick()

	if !c.inFlight.CompareAndSwap(false, true) {
		c.dropped.Inc()
		c.wg.Done()
		return false
	}

	if c.async.Load() {
		frame.Retain()
		go func() {
			defer c.wg.Done()
			defer c.inFlight.Store(false)
			defer frame.Release()
			c.process(frame)
		}()
		return true
	}

	defer c.wg.Done()
	defer c.inFlight.Store(false)
	c.process(frame)
	return true
}

// enter counts a frame in wg unless the coordinator is closed. Close holds
// the same lock while marking itself closed, so no frame is admitted once
// it starts waiting.
func (c *Coordinator) enter() bool {
	c.life.Lock()
	defer c.life.Unlock()
	if c.closed.Load() {
		return false
	}
	c.wg.Add(1)
	return true
}

func (c *Coordinator) process(frame *camera.Frame) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("frame processing panicked", "frame", frame.Seq, "panic", r)
		}
	}()

	continuous := c.governor.Repeat()
	if continuous || c.requested.Load() {
		c.detect(frame, continuous)
	}
	if continuous {
		return
	}

	objs := c.pool.Update(frame)
	c.fps.Track.Tick()
	c.emit(frame, objs)
}

// detect issues one detection call if the governor admits it. A one-shot
// request is cleared once a call was issued.
func (c *Coordinator) detect(frame *camera.Frame, continuous bool) {
	if c.asyncDetection.Load() {
		frame.Retain()
		c.wg.Add(1)
		issued := c.governor.TryDetectAsync(c.ctx, frame, func(dets []detection.Detection, err error) {
			defer c.wg.Done()
			defer frame.Release()
			c.onDetections(frame, dets, err, continuous)
		})
		if !issued {
			frame.Release()
			c.wg.Done()
			c.logger.Debug("detection refused", "frame", frame.Seq, "in_flight", c.governor.InFlight())
			return
		}
		c.clearRequest(continuous)
		return
	}

	dets, err := c.governor.TryDetect(c.ctx, frame)
	if errors.Is(err, ErrRefused) {
		c.logger.Debug("detection refused", "frame", frame.Seq, "in_flight", c.governor.InFlight())
		return
	}
	c.clearRequest(continuous)
	c.onDetections(frame, dets, err, continuous)
}

func (c *Coordinator) clearRequest(continuous bool) {
	if !continuous {
		c.requested.Store(false)
	}
}

// onDetections applies a detection result. In continuous mode the
// detections are reported directly; otherwise they replace the pool.
func (c *Coordinator) onDetections(frame *camera.Frame, dets []detection.Detection, err error, continuous bool) {
	if err != nil {
		c.logger.Warn("detection failed", "frame", frame.Seq, "error", err)
		c.addLog("error", fmt.Sprintf("Detection failed: %v", err))
		return
	}

	if len(dets) == 0 {
		c.logger.Info("no objects detected", "frame", frame.Seq)
	}
	for _, d := range dets {
		c.logger.Info("object detected", "frame", frame.Seq, "label", d.Label,
			"confidence", d.Confidence, "rect", d.Rect.String())
	}
	c.addLog("detection", fmt.Sprintf("%d object(s) in frame %d", len(dets), frame.Seq))

	if continuous {
		objs := ObjectsFromDetections(dets)
		c.fps.Track.Tick()
		c.emit(frame, objs)
		return
	}

	objs, err := c.pool.Reconcile(frame.Seq, dets, c.policy())
	if err != nil {
		c.logger.Info("detection result dropped", "frame", frame.Seq, "error", err)
		return
	}
	if len(objs) < len(dets) {
		c.logger.Warn("could not initialize a tracker for every detection",
			"detections", len(dets), "trackers", len(objs))
	}
	c.emit(frame, objs)
}

func (c *Coordinator) emit(frame *camera.Frame, objs []TrackedObject) {
	c.mu.Lock()
	c.latest = objs
	consumer := c.consumer
	c.mu.Unlock()

	if consumer != nil {
		consumer.OnTracked(frame, objs)
	}
}

func (c *Coordinator) addLog(logType, message string) {
	c.mu.RLock()
	state := c.state
	c.mu.RUnlock()
	if state != nil {
		state.AddLog(logType, message)
	}
}

func (c *Coordinator) policy() Policy {
	if c.fixed.Load() {
		return FixedCount(int(c.count.Load()))
	}
	return PerDetection()
}

// RequestDetection arms a one-shot detection on the next accepted frame.
func (c *Coordinator) RequestDetection() {
	c.requested.Store(true)
}

// DetectionRequested reports whether a one-shot detection is pending.
func (c *Coordinator) DetectionRequested() bool {
	return c.requested.Load()
}

// Busy reports whether a frame is being processed.
func (c *Coordinator) Busy() bool {
	return c.inFlight.Load()
}

// Dropped returns the number of frames dropped because one was in flight.
func (c *Coordinator) Dropped() uint64 {
	return c.dropped.Load()
}

// Tracked returns the objects most recently reported to the consumer.
func (c *Coordinator) Tracked() []TrackedObject {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]TrackedObject, len(c.latest))
	copy(out, c.latest)
	return out
}

// Reset clears the pending request and all trackers. Detections already
// in flight still complete and may re-seed the pool.
func (c *Coordinator) Reset() error {
	c.requested.Store(false)
	c.mu.Lock()
	c.latest = nil
	c.mu.Unlock()
	c.logger.Info("pipeline reset")
	return c.pool.Reset()
}

// Pool returns the tracker pool.
func (c *Coordinator) Pool() *Pool { return c.pool }

// Governor returns the detection governor.
func (c *Coordinator) Governor() *Governor { return c.governor }

// FPS returns the pipeline counters.
func (c *Coordinator) FPS() *FPS { return c.fps }

// Wait blocks until frame workers and detection goroutines finish.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

// Close cancels running detections, waits for admitted frames and
// detection goroutines, then releases the trackers. It must not be called
// from a Consumer.
func (c *Coordinator) Close() error {
	c.life.Lock()
	if !c.closed.CompareAndSwap(false, true) {
		c.life.Unlock()
		return nil
	}
	c.life.Unlock()

	c.cancel()
	c.wg.Wait()
	return c.pool.Reset()
}
