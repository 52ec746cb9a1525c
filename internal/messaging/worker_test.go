package messaging

import (
	"errors"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stonefield/matchwire/internal/infrastructure/logging"
	"github.com/stonefield/matchwire/internal/infrastructure/reporting"
)

func newTestWorker(name string) *Worker {
	return NewWorker(name, logging.NewNopLogger(), (*reporting.Tracker)(nil))
}

func TestWorkerRunsTasksInOrder(t *testing.T) {
	w := newTestWorker("fifo")

	var order []int
	for i := 0; i < 5; i++ {
		n := i
		w.Schedule(func() { order = append(order, n) })
	}

	w.Stop()
	w.Run()

	if len(order) != 5 {
		t.Fatalf("ran %d tasks, want 5", len(order))
	}
	for i, n := range order {
		if n != i {
			t.Fatalf("order = %v, want ascending", order)
		}
	}
}

func TestWorkerStopDrainsQueue(t *testing.T) {
	w := newTestWorker("drain")

	ran := 0
	for i := 0; i < 100; i++ {
		w.Schedule(func() { ran++ })
	}

	w.Stop()
	w.Run()

	if ran != 100 {
		t.Fatalf("ran %d tasks, want all 100 before exit", ran)
	}
}

func TestWorkerTasksEnqueuedDuringRun(t *testing.T) {
	w := newTestWorker("nested")

	var order []string
	w.Schedule(func() {
		order = append(order, "outer")
		w.Schedule(func() { order = append(order, "inner") })
		w.Stop()
	})

	w.Run()

	// Stop's halt marker lands after "inner", so the nested task still runs.
	if len(order) != 2 || order[0] != "outer" || order[1] != "inner" {
		t.Fatalf("order = %v, want [outer inner]", order)
	}
}

func TestWorkerRecoversFromPanic(t *testing.T) {
	w := newTestWorker("panicky")

	survived := false
	w.Schedule(func() { panic("boom") })
	w.Schedule(func() { survived = true })

	w.Stop()
	w.Run()

	if !survived {
		t.Fatal("a panicking task must not kill the loop")
	}
}

func TestScheduleAfter(t *testing.T) {
	w := newTestWorker("delayed")

	done := make(chan struct{})
	w.ScheduleAfter(5*time.Millisecond, func() {
		close(done)
		w.Stop()
	})

	go w.Run()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("delayed task never ran")
	}

	select {
	case <-w.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("worker never exited")
	}
}

func TestScheduleAfterTimerGoroutinesExit(t *testing.T) {
	w := newTestWorker("delayed-many")
	go w.Run()

	baseline := runtime.NumGoroutine()

	const n = 200
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		w.ScheduleAfter(time.Millisecond, func() { wg.Done() })
	}
	wg.Wait()

	// Each timer goroutine exits once its task is enqueued; allow the
	// scheduler a moment to reap them.
	deadline := time.Now().Add(2 * time.Second)
	for runtime.NumGoroutine() > baseline+10 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	if got := runtime.NumGoroutine(); got > baseline+10 {
		t.Fatalf("%d goroutines alive after all delayed tasks ran, baseline was %d", got, baseline)
	}

	w.Stop()
	select {
	case <-w.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("worker never exited")
	}
}

func TestScheduleAfterZeroDelayIsImmediate(t *testing.T) {
	w := newTestWorker("immediate")

	ran := false
	w.ScheduleAfter(0, func() { ran = true })
	w.Stop()
	w.Run()

	if !ran {
		t.Fatal("zero-delay task should have been enqueued directly")
	}
}

func TestScheduleAfterExitIsDropped(t *testing.T) {
	w := newTestWorker("late")

	w.Stop()
	w.Run()

	// Must not panic or block; the loop has exited.
	w.Schedule(func() { t.Error("task ran after exit") })
}

func TestPollArguments(t *testing.T) {
	tests := []struct {
		name    string
		opts    PollOptions
		wantErr bool
	}{
		{"interval only", PollOptions{Interval: time.Second}, false},
		{"delay only", PollOptions{Delay: time.Second}, false},
		{"both", PollOptions{Interval: time.Second, Delay: time.Second}, true},
		{"neither", PollOptions{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := newTestWorker("poll")
			err := w.Poll(tt.opts, func() {})
			if tt.wantErr && !errors.Is(err, ErrPollArguments) {
				t.Fatalf("expected ErrPollArguments, got %v", err)
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestPollIntervalFires(t *testing.T) {
	w := newTestWorker("ticker")

	fired := make(chan struct{}, 16)
	if err := w.Poll(PollOptions{Interval: 5 * time.Millisecond}, func() {
		select {
		case fired <- struct{}{}:
		default:
		}
	}); err != nil {
		t.Fatalf("poll: %v", err)
	}

	go w.Run()
	defer func() {
		w.Stop()
		<-w.Done()
	}()

	for i := 0; i < 2; i++ {
		select {
		case <-fired:
		case <-time.After(2 * time.Second):
			t.Fatalf("poll task fired %d times, want at least 2", i)
		}
	}
}

func TestPollDelayDoesNotOverlap(t *testing.T) {
	w := newTestWorker("trailing")

	runs := make(chan time.Time, 16)
	if err := w.Poll(PollOptions{Delay: 10 * time.Millisecond}, func() {
		runs <- time.Now()
		time.Sleep(20 * time.Millisecond)
	}); err != nil {
		t.Fatalf("poll: %v", err)
	}

	go w.Run()
	defer func() {
		w.Stop()
		<-w.Done()
	}()

	var first, second time.Time
	select {
	case first = <-runs:
	case <-time.After(2 * time.Second):
		t.Fatal("first poll run never happened")
	}
	select {
	case second = <-runs:
	case <-time.After(2 * time.Second):
		t.Fatal("second poll run never happened")
	}

	// Trailing mode re-arms only after the task returns, so consecutive runs
	// are separated by at least task duration plus delay.
	if gap := second.Sub(first); gap < 30*time.Millisecond {
		t.Errorf("runs %s apart, want at least 30ms", gap)
	}
}

func TestStartupAndShutdownHooks(t *testing.T) {
	w := newTestWorker("hooks")

	var order []string
	w.OnStartup(func() { order = append(order, "startup") })
	w.OnShutdown(func() { order = append(order, "shutdown") })
	w.Schedule(func() { order = append(order, "task") })

	w.Stop()
	w.Run()

	if len(order) != 3 {
		t.Fatalf("order = %v, want 3 entries", order)
	}
	found := map[string]bool{}
	for _, o := range order {
		found[o] = true
	}
	for _, want := range []string{"startup", "shutdown", "task"} {
		if !found[want] {
			t.Errorf("hook %q never ran (order = %v)", want, order)
		}
	}
}

func TestStopIsIdempotent(t *testing.T) {
	w := newTestWorker("idempotent")
	w.Stop()
	w.Stop()
	w.Run()

	select {
	case <-w.Done():
	default:
		t.Fatal("worker did not exit")
	}
}
