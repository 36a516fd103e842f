package model

import (
	"errors"
	"fmt"
	"sync"

	"github.com/devexperts/QD-sub016/telemetry"
	"github.com/rs/zerolog/log"
)

// Executor runs notification delivery in a caller-chosen context.
// It may be multi-threaded: the dispatcher never has more than one task in it.
type Executor interface {
	Execute(task func())
}

// ExecutorFunc adapts a function to Executor
type ExecutorFunc func(task func())

func (f ExecutorFunc) Execute(task func()) {
	f(task)
}

// ErrorHandler receives listener errors that have no synchronous caller to return to
type ErrorHandler func(err error)

type task struct {
	run   func() error
	owned bool
	done  chan struct{}
}

// dispatcher is a FIFO of notification tasks with a single drainer.
// Without an executor the submitting goroutine drains; a submission made
// while a drain is in progress (including from inside a listener) only
// enqueues. With an executor one drain is handed to it whenever the queue
// leaves the idle state.
type dispatcher struct {
	mu       sync.Mutex
	executor Executor
	queue    []*task
	draining bool
	onError  ErrorHandler
	symbol   func() string
}

func newDispatcher(executor Executor, onError ErrorHandler, symbol func() string) *dispatcher {
	return &dispatcher{
		executor: executor,
		onError:  onError,
		symbol:   symbol,
	}
}

func (d *dispatcher) setExecutor(executor Executor) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.executor = executor
}

// dispatch queues fns in order. In synchronous mode, when the caller ends up
// draining, errors of its own tasks are joined and returned; every other
// failure goes to the error handler.
func (d *dispatcher) dispatch(fns ...func() error) error {
	if len(fns) == 0 {
		return nil
	}

	tasks := make([]*task, len(fns))
	for i, fn := range fns {
		tasks[i] = &task{run: fn}
	}

	drainHere, executor := d.enqueue(tasks)
	switch {
	case drainHere:
		return errors.Join(d.drain()...)
	case executor != nil:
		executor.Execute(d.drainDetached)
	}
	return nil
}

// submit queues fn; the returned channel is closed once fn has run.
// Failures go to the error handler.
func (d *dispatcher) submit(fn func() error) <-chan struct{} {
	t := &task{run: fn, done: make(chan struct{})}
	drainHere, executor := d.enqueue([]*task{t})
	switch {
	case drainHere:
		for _, err := range d.drain() {
			d.handle(err)
		}
	case executor != nil:
		executor.Execute(d.drainDetached)
	}
	return t.done
}

// enqueue appends tasks and decides who drains them
func (d *dispatcher) enqueue(tasks []*task) (drainHere bool, executor Executor) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.queue = append(d.queue, tasks...)
	telemetry.DispatchQueueDepth.Add(float64(len(tasks)))

	if d.draining {
		return false, nil
	}
	d.draining = true
	if d.executor != nil {
		return false, d.executor
	}
	for _, t := range tasks {
		t.owned = true
	}
	return true, nil
}

func (d *dispatcher) drainDetached() {
	for _, err := range d.drain() {
		d.handle(err)
	}
}

// drain runs queued tasks until the queue is empty and returns the errors of owned tasks
func (d *dispatcher) drain() []error {
	var errs []error
	for {
		d.mu.Lock()
		if len(d.queue) == 0 {
			d.draining = false
			d.mu.Unlock()
			return errs
		}
		t := d.queue[0]
		d.queue[0] = nil
		d.queue = d.queue[1:]
		d.mu.Unlock()
		telemetry.DispatchQueueDepth.Dec()

		err := callSafely(t.run)
		if t.done != nil {
			close(t.done)
		}
		if err == nil {
			continue
		}

		telemetry.ListenerFailuresTotal.Inc()
		if t.owned {
			errs = append(errs, err)
		} else {
			d.handle(err)
		}
	}
}

func (d *dispatcher) handle(err error) {
	log.Error().
		Err(err).
		Str("symbol", d.symbol()).
		Msg("Listener notification failed")

	if d.onError != nil {
		d.onError(err)
	}
}

// callSafely runs fn and converts a panic into an error wrapping ErrListenerPanic
func callSafely(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrListenerPanic, r)
		}
	}()
	return fn()
}
