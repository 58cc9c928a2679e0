package tracking

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/teslashibe/go-labvision/pkg/camera"
	"github.com/teslashibe/go-labvision/pkg/tracking/detection"
	"github.com/teslashibe/go-labvision/pkg/tracking/tracker"
)

// recorder collects every OnTracked call.
type recorder struct {
	mu    sync.Mutex
	calls []trackedCall
}

type trackedCall struct {
	seq     uint64
	objects []TrackedObject
}

func (r *recorder) OnTracked(frame *camera.Frame, objects []TrackedObject) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, trackedCall{seq: frame.Seq, objects: objects})
}

func (r *recorder) all() []trackedCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]trackedCall, len(r.calls))
	copy(out, r.calls)
	return out
}

// last returns the final call made for frame seq.
func (r *recorder) last(seq uint64) (trackedCall, bool) {
	calls := r.all()
	for i := len(calls) - 1; i >= 0; i-- {
		if calls[i].seq == seq {
			return calls[i], true
		}
	}
	return trackedCall{}, false
}

type logRecorder struct {
	mu   sync.Mutex
	logs map[string]int
}

func (l *logRecorder) AddLog(logType, message string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.logs == nil {
		l.logs = map[string]int{}
	}
	l.logs[logType]++
}

func (l *logRecorder) count(logType string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.logs[logType]
}

func syncConfig() Config {
	cfg := DefaultConfig()
	cfg.Async = false
	cfg.AsyncDetection = false
	return cfg
}

func newTestCoordinator(t *testing.T, d detection.Detector, cfg Config) (*Coordinator, *recorder) {
	t.Helper()
	c := NewCoordinator(NewPoolWithFactory(cfg, stepFactory(1, 0)), NewGovernor(d, cfg), cfg)
	rec := &recorder{}
	c.SetConsumer(rec)
	t.Cleanup(func() { c.Close() })
	return c, rec
}

func TestCoordinatorEndToEnd(t *testing.T) {
	cup := det("cup", 0.9, detection.Rect{X: 256, Y: 192, W: 128, H: 96}, nil)
	d := detection.WithDetections(cup)
	c, rec := newTestCoordinator(t, d, syncConfig())

	c.RequestDetection()
	for seq := uint64(1); seq <= 5; seq++ {
		if !c.OnFrame(testFrame(seq)) {
			t.Fatalf("frame %d dropped", seq)
		}
	}

	if d.CallCount() != 1 {
		t.Errorf("detector calls: got %d, want 1", d.CallCount())
	}
	if c.DetectionRequested() {
		t.Error("one-shot request not cleared")
	}

	// frame 1 first reports the reconciled detection as is
	first := rec.all()[0]
	if first.seq != 1 || len(first.objects) != 1 || first.objects[0].Rect != cup.Rect {
		t.Fatalf("reconciled objects: got %+v", first)
	}
	id := first.objects[0].ID

	prevX := 0.0
	for seq := uint64(1); seq <= 5; seq++ {
		call, ok := rec.last(seq)
		if !ok || len(call.objects) != 1 {
			t.Fatalf("frame %d: got %+v, want one object", seq, call)
		}
		obj := call.objects[0]
		if obj.ID != id || obj.Label != "cup" || obj.Seq != seq {
			t.Errorf("frame %d: got %+v", seq, obj)
		}
		if obj.Rect.X <= prevX {
			t.Errorf("frame %d: x %v did not advance past %v", seq, obj.Rect.X, prevX)
		}
		prevX = obj.Rect.X
	}
	if got := c.Tracked(); len(got) != 1 || got[0].Seq != 5 {
		t.Errorf("Tracked: got %+v", got)
	}
}

func TestCoordinatorDropsWhileBusy(t *testing.T) {
	d := newBlockingDetector()
	cfg := DefaultConfig()
	cfg.AsyncDetection = false
	c, _ := newTestCoordinator(t, d, cfg)

	c.RequestDetection()
	if !c.OnFrame(testFrame(1)) {
		t.Fatal("first frame dropped")
	}
	eventually(t, "detector call", func() bool { return d.CallCount() == 1 })

	if !c.Busy() {
		t.Error("coordinator not busy while detecting")
	}
	if c.OnFrame(testFrame(2)) {
		t.Error("frame accepted while busy")
	}
	if c.Dropped() != 1 {
		t.Errorf("Dropped: got %d, want 1", c.Dropped())
	}

	close(d.release)
	c.Wait()

	if c.Busy() {
		t.Error("still busy after worker finished")
	}
	if c.Pool().Len() != 1 {
		t.Errorf("pool: got %d slots, want 1", c.Pool().Len())
	}
	if !c.OnFrame(testFrame(3)) {
		t.Error("frame dropped after worker finished")
	}
}

func TestCoordinatorTracksWithoutRequest(t *testing.T) {
	d := detection.WithDetections(det("cup", 0.9, detection.Rect{W: 5, H: 5}, nil))
	c, rec := newTestCoordinator(t, d, syncConfig())

	for seq := uint64(1); seq <= 3; seq++ {
		c.OnFrame(testFrame(seq))
	}
	if d.CallCount() != 0 {
		t.Errorf("detector called %d times without a request", d.CallCount())
	}
	if len(rec.all()) != 3 {
		t.Errorf("consumer calls: got %d, want 3", len(rec.all()))
	}
}

func TestCoordinatorContinuous(t *testing.T) {
	d := detection.WithDetections(
		det("cup", 0.9, detection.Rect{W: 5, H: 5}, nil),
		det("plate", 0.7, detection.Rect{X: 20, W: 5, H: 5}, nil),
	)
	cfg := syncConfig()
	cfg.Continuous = true
	c, rec := newTestCoordinator(t, d, cfg)

	c.RequestDetection()
	for seq := uint64(1); seq <= 4; seq++ {
		c.OnFrame(testFrame(seq))
	}

	if d.CallCount() != 4 {
		t.Errorf("detector calls: got %d, want 4", d.CallCount())
	}
	if c.Pool().Len() != 0 {
		t.Errorf("continuous mode created %d trackers", c.Pool().Len())
	}
	if !c.DetectionRequested() {
		t.Error("continuous mode must not consume the one-shot request")
	}
	calls := rec.all()
	if len(calls) != 4 {
		t.Fatalf("consumer calls: got %d, want 4", len(calls))
	}
	for _, call := range calls {
		if len(call.objects) != 2 || call.objects[0].Seq != call.seq {
			t.Errorf("frame %d: got %+v", call.seq, call.objects)
		}
	}
	if math.IsInf(c.FPS().Track.DeltaMillis(), 1) {
		t.Error("track counter not ticked")
	}
}

func TestCoordinatorRefusedKeepsRequest(t *testing.T) {
	d := newBlockingDetector()
	cfg := syncConfig()
	c, _ := newTestCoordinator(t, d, cfg)

	// occupy the only detection slot
	var wg sync.WaitGroup
	wg.Add(1)
	if !c.Governor().TryDetectAsync(context.Background(), testFrame(0), func([]detection.Detection, error) { wg.Done() }) {
		t.Fatal("slot not admitted")
	}

	c.RequestDetection()
	c.OnFrame(testFrame(1))
	if !c.DetectionRequested() {
		t.Error("refused detection cleared the request")
	}
	if d.CallCount() != 1 {
		t.Errorf("detector calls: got %d, want 1", d.CallCount())
	}

	close(d.release)
	wg.Wait()

	c.OnFrame(testFrame(2))
	if c.DetectionRequested() {
		t.Error("request not cleared after an issued detection")
	}
	if d.CallCount() != 2 {
		t.Errorf("detector calls: got %d, want 2", d.CallCount())
	}
}

func TestCoordinatorDetectionError(t *testing.T) {
	d := detection.WithError(errors.New("service unavailable"))
	c, rec := newTestCoordinator(t, d, syncConfig())
	logs := &logRecorder{}
	c.SetStateUpdater(logs)

	c.RequestDetection()
	c.OnFrame(testFrame(1))

	if logs.count("error") != 1 {
		t.Errorf("error logs: got %d, want 1", logs.count("error"))
	}
	if c.DetectionRequested() {
		t.Error("failed detection must still consume the request")
	}
	if calls := rec.all(); len(calls) != 1 || len(calls[0].objects) != 0 {
		t.Errorf("consumer: got %+v, want one empty update", calls)
	}
}

func TestCoordinatorOutOfOrderDetections(t *testing.T) {
	tests := []struct {
		policy StalePolicy
		want   string
	}{
		{RejectOlderDetections, "new"},
		{LastWriterWins, "old"},
	}

	for _, tt := range tests {
		t.Run(tt.policy.String(), func(t *testing.T) {
			gates := map[uint64]chan struct{}{1: make(chan struct{}), 2: make(chan struct{})}
			labels := map[uint64]string{1: "old", 2: "new"}

			d := detection.NewMock()
			d.DetectFunc = func(ctx context.Context, frame *camera.Frame) ([]detection.Detection, error) {
				<-gates[frame.Seq]
				return []detection.Detection{det(labels[frame.Seq], 0.9, detection.Rect{W: 5, H: 5}, frame)}, nil
			}

			cfg := syncConfig()
			cfg.AsyncDetection = true
			cfg.ConcurrencyLimit = 2
			cfg.StalePolicy = tt.policy
			c, _ := newTestCoordinator(t, d, cfg)

			c.RequestDetection()
			c.OnFrame(testFrame(1))
			c.RequestDetection()
			c.OnFrame(testFrame(2))
			eventually(t, "both detections", func() bool { return d.CallCount() == 2 })

			close(gates[2])
			eventually(t, "newer result", func() bool {
				s := c.Pool().Snapshot()
				return len(s) == 1 && s[0].Label == "new"
			})
			close(gates[1])
			c.Wait()

			s := c.Pool().Snapshot()
			if len(s) != 1 || s[0].Label != tt.want {
				t.Errorf("pool: got %+v, want %s", s, tt.want)
			}
		})
	}
}

func TestCoordinatorResetAndClose(t *testing.T) {
	d := detection.WithDetections(det("cup", 0.9, detection.Rect{W: 5, H: 5}, nil))
	c, _ := newTestCoordinator(t, d, syncConfig())

	c.RequestDetection()
	c.OnFrame(testFrame(1))
	if c.Pool().Len() != 1 {
		t.Fatalf("pool: got %d slots, want 1", c.Pool().Len())
	}

	c.RequestDetection()
	if err := c.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if c.DetectionRequested() || c.Pool().Len() != 0 || len(c.Tracked()) != 0 {
		t.Error("reset left state behind")
	}

	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if c.OnFrame(testFrame(2)) {
		t.Error("frame accepted after Close")
	}
	if err := c.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestCoordinatorCloseWhileFramesArrive(t *testing.T) {
	cfg := DefaultConfig()

	var mu sync.Mutex
	var made []*tracker.Mock
	factory := func() (tracker.Tracker, error) {
		m := tracker.NewStep(1, 0)
		mu.Lock()
		made = append(made, m)
		mu.Unlock()
		return m, nil
	}
	d := detection.WithDetections(det("cup", 0.9, detection.Rect{W: 5, H: 5}, nil))
	c := NewCoordinator(NewPoolWithFactory(cfg, factory), NewGovernor(d, cfg), cfg)

	stop := make(chan struct{})
	var feeders sync.WaitGroup
	for i := 0; i < 4; i++ {
		feeders.Add(1)
		go func(seq uint64) {
			defer feeders.Done()
			for ; ; seq += 4 {
				select {
				case <-stop:
					return
				default:
				}
				c.RequestDetection()
				c.OnFrame(testFrame(seq))
			}
		}(uint64(i + 1))
	}

	time.Sleep(20 * time.Millisecond)
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	close(stop)
	feeders.Wait()

	if c.Pool().Len() != 0 {
		t.Errorf("pool after Close: got %d slots, want 0", c.Pool().Len())
	}
	if c.OnFrame(testFrame(0)) {
		t.Error("frame accepted after Close")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(made) == 0 {
		t.Fatal("no trackers created before Close")
	}
	for i, m := range made {
		if !m.Closed() {
			t.Errorf("tracker %d left open after Close", i)
		}
	}
}
