// Package spatial places tracked objects in the world: it turns a box in a
// camera frame into a world position by casting a ray against the scene.
package spatial

import (
	"context"
	"log/slog"
	"sync"

	"go.uber.org/atomic"

	"github.com/teslashibe/go-labvision/internal/log"
)

// Task runs on the dispatcher. ctx identifies the dispatcher; pass it to
// calls that must run there, such as Projector.Project.
type Task func(ctx context.Context)

type ownerKey struct{}

// Dispatcher runs tasks one at a time on a single goroutine, the only
// context allowed to touch the world and pose data.
type Dispatcher struct {
	name    string
	queue   chan Task
	done    chan struct{}
	running *atomic.Bool
	once    sync.Once

	logger *slog.Logger
}

// NewDispatcher creates a dispatcher with room for size queued tasks.
func NewDispatcher(name string, size int) *Dispatcher {
	if size < 1 {
		size = 1
	}
	return &Dispatcher{
		name:    name,
		queue:   make(chan Task, size),
		done:    make(chan struct{}),
		running: atomic.NewBool(false),
		logger:  log.Component("spatial.dispatcher").With("dispatcher", name),
	}
}

// Run executes queued tasks until ctx is cancelled. It must be called once;
// tasks posted afterwards fail with ErrDispatcherClosed.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.running.Store(true)
	defer func() {
		d.running.Store(false)
		d.once.Do(func() { close(d.done) })
	}()

	owned := context.WithValue(ctx, ownerKey{}, d)
	d.logger.Info("dispatcher started")
	for {
		select {
		case <-ctx.Done():
			d.logger.Info("dispatcher stopped", "pending", len(d.queue))
			return ctx.Err()
		case task := <-d.queue:
			d.run(owned, task)
		}
	}
}

func (d *Dispatcher) run(ctx context.Context, task Task) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("task panicked", "panic", r)
		}
	}()
	task(ctx)
}

// Post queues task without waiting. It fails with ErrQueueFull rather than
// block the caller.
func (d *Dispatcher) Post(task Task) error {
	select {
	case <-d.done:
		return ErrDispatcherClosed
	default:
	}
	select {
	case d.queue <- task:
		return nil
	default:
		d.logger.Warn("queue full, task dropped")
		return ErrQueueFull
	}
}

// Invoke queues task and waits until it has run or ctx is done.
// Called from the dispatcher itself it runs task inline.
func (d *Dispatcher) Invoke(ctx context.Context, task Task) error {
	if d.Owns(ctx) {
		task(ctx)
		return nil
	}

	finished := make(chan struct{})
	wrapped := func(owned context.Context) {
		defer close(finished)
		task(owned)
	}
	select {
	case d.queue <- wrapped:
	case <-d.done:
		return ErrDispatcherClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-finished:
		return nil
	case <-d.done:
		return ErrDispatcherClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Owns reports whether ctx was handed out by this dispatcher.
func (d *Dispatcher) Owns(ctx context.Context) bool {
	if ctx == nil {
		return false
	}
	owner, _ := ctx.Value(ownerKey{}).(*Dispatcher)
	return owner == d
}

// Running reports whether Run is active.
func (d *Dispatcher) Running() bool {
	return d.running.Load()
}

// Name returns the dispatcher name.
func (d *Dispatcher) Name() string {
	return d.name
}
