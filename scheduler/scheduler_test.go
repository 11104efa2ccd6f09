package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"sync/atomic"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"

	"github.com/onnwee/emote-tally/telemetry"
)

func TestMain(m *testing.M) {
	telemetry.Init()
	os.Exit(m.Run())
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func counterValue(t *testing.T, task string) float64 {
	t.Helper()
	metric := &dto.Metric{}
	if err := telemetry.SchedulerRuns.WithLabelValues(task).Write(metric); err != nil {
		t.Fatalf("write counter: %v", err)
	}
	return metric.Counter.GetValue()
}

func failureValue(t *testing.T, task string) float64 {
	t.Helper()
	metric := &dto.Metric{}
	if err := telemetry.SchedulerFailures.WithLabelValues(task).Write(metric); err != nil {
		t.Fatalf("write counter: %v", err)
	}
	return metric.Counter.GetValue()
}

func TestTaskRunsOnInterval(t *testing.T) {
	var runs atomic.Int64
	s := New(discardLogger())
	s.Add(Task{
		Name:     "interval-test",
		Interval: 10 * time.Millisecond,
		Run: func(ctx context.Context) error {
			runs.Add(1)
			return nil
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)

	deadline := time.After(2 * time.Second)
	for runs.Load() < 3 {
		select {
		case <-deadline:
			t.Fatalf("task ran %d times, want >= 3", runs.Load())
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	s.Wait()
}

func TestImmediateTaskRunsAtStart(t *testing.T) {
	var runs atomic.Int64
	s := New(discardLogger())
	s.Add(Task{
		Name:      "immediate-test",
		Interval:  time.Hour,
		Immediate: true,
		Run: func(ctx context.Context) error {
			runs.Add(1)
			return nil
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)

	deadline := time.After(2 * time.Second)
	for runs.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("immediate task never ran")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	s.Wait()
	if got := runs.Load(); got != 1 {
		t.Errorf("immediate task ran %d times, want 1", got)
	}
}

func TestCancelStopsTasks(t *testing.T) {
	s := New(discardLogger())
	s.Add(Task{
		Name:     "cancel-test",
		Interval: 5 * time.Millisecond,
		Run:      func(ctx context.Context) error { return nil },
	})
	s.Add(Task{
		Name:     "cancel-test-2",
		Interval: 5 * time.Millisecond,
		Run:      func(ctx context.Context) error { return nil },
	})

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	time.Sleep(20 * time.Millisecond)
	cancel()

	done := make(chan struct{})
	go func() {
		s.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Wait did not return after cancel")
	}
}

func TestFailedRunCountsFailure(t *testing.T) {
	before := failureValue(t, "failure-test")
	var runs atomic.Int64
	s := New(discardLogger())
	s.Add(Task{
		Name:      "failure-test",
		Interval:  time.Hour,
		Immediate: true,
		Run: func(ctx context.Context) error {
			runs.Add(1)
			return errors.New("boom")
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	deadline := time.After(2 * time.Second)
	for runs.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("task never ran")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	s.Wait()

	if got := failureValue(t, "failure-test"); got != before+1 {
		t.Errorf("failure counter = %v, want %v", got, before+1)
	}
	if got := counterValue(t, "failure-test"); got < 1 {
		t.Errorf("run counter = %v, want >= 1", got)
	}
}

func TestAddAfterStartIgnored(t *testing.T) {
	var runs atomic.Int64
	s := New(discardLogger())
	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	s.Add(Task{
		Name:      "late-test",
		Interval:  time.Millisecond,
		Immediate: true,
		Run: func(ctx context.Context) error {
			runs.Add(1)
			return nil
		},
	})
	time.Sleep(20 * time.Millisecond)
	cancel()
	s.Wait()
	if runs.Load() != 0 {
		t.Error("task added after Start should not run")
	}
}

func TestInvalidTaskIgnored(t *testing.T) {
	s := New(discardLogger())
	s.Add(Task{Name: "no-run", Interval: time.Second})
	s.Add(Task{Name: "no-interval", Run: func(ctx context.Context) error { return nil }})
	if len(s.tasks) != 0 {
		t.Errorf("registered %d invalid tasks, want 0", len(s.tasks))
	}
}
