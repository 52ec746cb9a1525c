package messaging

import (
	"fmt"
	"sync"
	"time"

	"github.com/stonefield/matchwire/internal/infrastructure/logging"
	"github.com/stonefield/matchwire/internal/infrastructure/reporting"
)

// Worker is a runnable unit built around one FIFO run queue consumed by a
// single goroutine. Every broker callback, polling task, and deferred block is
// enqueued as a closure and executed one at a time, so no two tasks of one
// worker ever run concurrently and worker-local state needs no locks.
type Worker struct {
	name     string
	logger   logging.Logger
	reporter reporting.Reporter

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []func()
	halted bool // loop exits once set and the queue is drained
	exited bool

	startupHooks  []func()
	shutdownHooks []func()
	pollers       []pollerSpec

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

// PollOptions configures a repeating task. Exactly one of Interval or Delay
// must be set: Interval fires at a fixed rate regardless of task duration,
// Delay re-arms only after the previous run completes so the task never
// overlaps itself.
type PollOptions struct {
	Interval time.Duration
	Delay    time.Duration
}

type pollerSpec struct {
	opts PollOptions
	task func()
}

func NewWorker(name string, logger logging.Logger, reporter reporting.Reporter) *Worker {
	w := &Worker{
		name:     name,
		logger:   logger,
		reporter: reporter,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
	w.cond = sync.NewCond(&w.mu)
	return w
}

func (w *Worker) Name() string {
	return w.name
}

// Schedule appends the block to the run queue.
func (w *Worker) Schedule(task func()) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.exited {
		return
	}

	w.queue = append(w.queue, task)
	w.cond.Signal()
}

// ScheduleAfter enqueues the block once delay has elapsed. The timer sleeps
// on its own goroutine and only ever enqueues; it never runs the task itself.
// The goroutine exits as soon as the timer fires or the worker stops,
// whichever comes first.
func (w *Worker) ScheduleAfter(delay time.Duration, task func()) {
	if delay <= 0 {
		w.Schedule(task)
		return
	}

	go func() {
		timer := time.NewTimer(delay)
		defer timer.Stop()

		select {
		case <-timer.C:
			w.Schedule(task)
		case <-w.stopCh:
		}
	}()
}

// Poll registers a repeating task to be started with the worker.
func (w *Worker) Poll(opts PollOptions, task func()) error {
	if (opts.Interval > 0) == (opts.Delay > 0) {
		return fmt.Errorf("%w: interval=%s delay=%s", ErrPollArguments, opts.Interval, opts.Delay)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.pollers = append(w.pollers, pollerSpec{opts: opts, task: task})
	return nil
}

// OnStartup registers a hook enqueued (not run inline) when the worker starts.
func (w *Worker) OnStartup(hook func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.startupHooks = append(w.startupHooks, hook)
}

// OnShutdown registers a hook enqueued when Stop is called, ahead of the halt
// marker, so it runs before the loop drains out.
func (w *Worker) OnShutdown(hook func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.shutdownHooks = append(w.shutdownHooks, hook)
}

// Run enqueues the startup hooks, starts the pollers, then executes the run
// queue until Stop has been called and all queued work has drained. It blocks
// the calling goroutine; that goroutine is the worker's only executor.
func (w *Worker) Run() {
	w.mu.Lock()
	hooks := w.startupHooks
	pollers := w.pollers
	w.mu.Unlock()

	for _, hook := range hooks {
		w.Schedule(hook)
	}
	for _, p := range pollers {
		w.startPoller(p)
	}

	w.logger.Info(logging.Dispatch, logging.EventLoop, "worker started", map[logging.ExtraKey]any{
		logging.Queue: w.name,
	})

	for {
		task, ok := w.pop()
		if !ok {
			break
		}
		w.invoke(task)
	}

	w.mu.Lock()
	w.exited = true
	w.mu.Unlock()

	close(w.done)
	w.logger.Info(logging.Dispatch, logging.EventLoop, "worker stopped", map[logging.ExtraKey]any{
		logging.Queue: w.name,
	})
}

// Stop initiates a cooperative shutdown: shutdown hooks are enqueued, then a
// halt marker; work already in the queue still runs before the loop exits.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)

		w.mu.Lock()
		hooks := w.shutdownHooks
		w.mu.Unlock()

		for _, hook := range hooks {
			w.Schedule(hook)
		}

		w.Schedule(func() {
			w.mu.Lock()
			w.halted = true
			w.cond.Broadcast()
			w.mu.Unlock()
		})
	})
}

// Done is closed once the run loop has fully drained and exited.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

func (w *Worker) pop() (func(), bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for len(w.queue) == 0 && !w.halted {
		w.cond.Wait()
	}

	if len(w.queue) == 0 {
		return nil, false
	}

	task := w.queue[0]
	w.queue = w.queue[1:]
	return task, true
}

// invoke runs one task; a panic is logged and reported, never fatal to the
// loop.
func (w *Worker) invoke(task func()) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("worker %s task panic: %v", w.name, r)
			w.logger.Error(logging.Dispatch, logging.EventLoop, "task panicked", map[logging.ExtraKey]any{
				logging.Queue:        w.name,
				logging.ErrorMessage: err.Error(),
			})
			w.reporter.CaptureError(err, map[string]string{"worker": w.name})
		}
	}()

	task()
}

func (w *Worker) startPoller(p pollerSpec) {
	if p.opts.Interval > 0 {
		go func() {
			ticker := time.NewTicker(p.opts.Interval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					w.Schedule(p.task)
				case <-w.stopCh:
					return
				}
			}
		}()
		return
	}

	// Trailing mode: the task reschedules itself after each completed run.
	var rearm func()
	rearm = func() {
		p.task()
		select {
		case <-w.stopCh:
		default:
			w.ScheduleAfter(p.opts.Delay, rearm)
		}
	}
	w.ScheduleAfter(p.opts.Delay, rearm)
}
