package workerpool

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestPool_RunsAllSubmittedJobs(t *testing.T) {
	p := New(3, zerolog.Nop(), WithIdleTimeout(200*time.Millisecond))

	var ran atomic.Int32
	const total = 10
	for i := 0; i < total; i++ {
		p.Submit("", func(ctx context.Context) error {
			ran.Add(1)
			return nil
		})
	}
	p.Stop()

	done := make(chan struct{})
	go func() {
		p.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("pool did not exit in time")
	}

	if ran.Load() != total {
		t.Fatalf("expected %d jobs to run, got %d", total, ran.Load())
	}
	if p.Completed() != total {
		t.Fatalf("expected Completed() == %d, got %d", total, p.Completed())
	}
}

func TestPool_IdleTimeoutExitsCleanly(t *testing.T) {
	p := New(2, zerolog.Nop(), WithIdleTimeout(50*time.Millisecond))

	done := make(chan struct{})
	go func() {
		p.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("pool did not exit after idle timeout")
	}
}

func TestPool_PauseBlocksNewJobsUntilResume(t *testing.T) {
	p := New(1, zerolog.Nop(), WithIdleTimeout(2*time.Second))
	p.Pause()

	var ran atomic.Bool
	p.Submit("", func(ctx context.Context) error {
		ran.Store(true)
		return nil
	})

	done := make(chan struct{})
	go func() {
		p.Run(context.Background())
		close(done)
	}()

	time.Sleep(100 * time.Millisecond)
	if ran.Load() {
		t.Fatalf("job ran while pool was paused")
	}

	p.Resume()
	p.Stop()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("pool did not exit after resume+stop")
	}
	if !ran.Load() {
		t.Fatalf("expected job to run after resume")
	}
}

func TestPool_ContextCancelStopsRun(t *testing.T) {
	p := New(1, zerolog.Nop(), WithIdleTimeout(time.Minute))
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("pool did not exit after context cancellation")
	}
}
