package schedule

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/loykin/measures/internal/update"
)

type fakeRunner struct {
	mu    sync.Mutex
	calls []update.Options
	err   error
	ran   chan struct{}
}

func (f *fakeRunner) Update(_ context.Context, opts update.Options) (*update.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, opts)
	f.mu.Unlock()
	if f.ran != nil {
		select {
		case f.ran <- struct{}{}:
		default:
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return &update.Result{Action: update.ActionNoop, Version: "v1"}, nil
}

func TestNewRejectsBadSpec(t *testing.T) {
	if _, err := New("every tuesday", &fakeRunner{}); err == nil {
		t.Fatal("expected error for invalid spec")
	}
}

func TestRunOnceUsesAutoUpdate(t *testing.T) {
	r := &fakeRunner{}
	s, err := New("@daily", r)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if s.Last() != nil {
		t.Fatal("no run expected yet")
	}

	run := s.RunOnce(context.Background())
	if run.Error != "" || run.Result == nil || run.Result.Version != "v1" {
		t.Fatalf("unexpected run: %+v", run)
	}
	if len(r.calls) != 1 || !r.calls[0].AutoUpdate || r.calls[0].Force || r.calls[0].Version != "" {
		t.Fatalf("scheduled runs must be plain auto updates: %+v", r.calls)
	}

	r.err = errors.New("remote unreachable")
	s.RunOnce(context.Background())
	if last := s.Last(); last == nil || last.Error != "remote unreachable" {
		t.Fatalf("failure not recorded: %+v", last)
	}
}

func TestStartRunsOnSchedule(t *testing.T) {
	r := &fakeRunner{ran: make(chan struct{}, 1)}
	s, err := New("@every 1s", r)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if !s.Next().IsZero() {
		t.Fatal("next should be zero before start")
	}
	if err := s.Start(false); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop()
	if err := s.Start(false); err == nil {
		t.Fatal("second start should fail")
	}
	if s.Next().IsZero() {
		t.Fatal("next run should be scheduled")
	}

	select {
	case <-r.ran:
	case <-time.After(5 * time.Second):
		t.Fatal("scheduled update did not run")
	}
}

func TestStartRunNow(t *testing.T) {
	r := &fakeRunner{ran: make(chan struct{}, 1)}
	s, err := New("@weekly", r)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := s.Start(true); err != nil {
		t.Fatalf("start: %v", err)
	}
	select {
	case <-r.ran:
	case <-time.After(5 * time.Second):
		t.Fatal("startup update did not run")
	}
	s.Stop()
	s.Stop()
}

type blockingRunner struct {
	calls    atomic.Int32
	started  chan struct{}
	finished atomic.Bool
}

func (b *blockingRunner) Update(ctx context.Context, _ update.Options) (*update.Result, error) {
	if b.calls.Add(1) == 1 {
		close(b.started)
	}
	<-ctx.Done()
	time.Sleep(50 * time.Millisecond)
	b.finished.Store(true)
	return nil, ctx.Err()
}

func TestStopWaitsForStartupRun(t *testing.T) {
	r := &blockingRunner{started: make(chan struct{})}
	s, err := New("@every 1s", r)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := s.Start(true); err != nil {
		t.Fatalf("start: %v", err)
	}
	select {
	case <-r.started:
	case <-time.After(5 * time.Second):
		t.Fatal("startup update did not run")
	}

	// Ticks while the startup run is still busy are skipped.
	time.Sleep(2500 * time.Millisecond)
	if n := r.calls.Load(); n != 1 {
		t.Fatalf("overlapping runs: %d calls", n)
	}

	s.Stop()
	if !r.finished.Load() {
		t.Fatal("stop returned before the startup run finished")
	}
	if last := s.Last(); last == nil || last.Error == "" {
		t.Fatalf("cancelled run not recorded: %+v", last)
	}
}
