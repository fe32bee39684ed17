package maintenance

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakePurger struct {
	cutoffs []time.Time
	err     error
}

func (f *fakePurger) Purge(cutoff time.Time) (int, error) {
	f.cutoffs = append(f.cutoffs, cutoff)
	return 2, f.err
}

type fakeSyncer struct {
	calls int
	err   error
}

func (f *fakeSyncer) Sync(context.Context) (int, error) {
	f.calls++
	return 5, f.err
}

func TestRunCyclePurgesAndSyncs(t *testing.T) {
	p := &fakePurger{err: errors.New("disk")}
	s := &fakeSyncer{}
	svc := NewService(p, s, time.Minute, 24*time.Hour, nil)
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	err := svc.RunCycle(context.Background())
	if err == nil || err.Error() != "disk" {
		t.Fatalf("expected purge error, got %v", err)
	}
	if len(p.cutoffs) != 1 || !p.cutoffs[0].Equal(now.Add(-24*time.Hour)) {
		t.Fatalf("unexpected cutoffs %v", p.cutoffs)
	}
	if s.calls != 1 {
		t.Fatalf("sync should still run after a purge error")
	}
}

func TestRunCycleWithoutSyncer(t *testing.T) {
	p := &fakePurger{}
	svc := NewService(p, nil, time.Minute, 0, nil)
	if err := svc.RunCycle(context.Background()); err != nil {
		t.Fatalf("run cycle: %v", err)
	}
	if len(p.cutoffs) != 0 {
		t.Fatalf("zero retention must not purge")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	s := &fakeSyncer{}
	svc := NewService(nil, s, time.Hour, 0, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("run did not stop")
	}
	if s.calls < 1 {
		t.Fatalf("expected an initial cycle")
	}
}
