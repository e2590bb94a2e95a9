package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mohammad-safakhou/comicsearch/internal/enumerate"
)

type countingRunner struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (r *countingRunner) Run(context.Context, int) (enumerate.Summary, error) {
	r.mu.Lock()
	r.calls++
	r.mu.Unlock()
	return enumerate.Summary{Jobs: 1, Items: 1}, r.err
}

type memLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

func (l *memLocker) TryLock(_ context.Context, key string, _ time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] {
		return false, nil
	}
	l.held[key] = true
	return true, nil
}

func TestNewRejectsInvalidCron(t *testing.T) {
	if _, err := New("not a cron", &countingRunner{}, 10, nil, 0, nil); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestNextFollowsExpression(t *testing.T) {
	s, err := New("0 */6 * * *", &countingRunner{}, 10, nil, 0, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	base := time.Date(2024, 3, 1, 7, 30, 0, 0, time.UTC)
	if got := s.Next(base); !got.Equal(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected next fire %s", got)
	}
}

func TestFireRunsOncePerTickAcrossReplicas(t *testing.T) {
	locker := &memLocker{held: map[string]bool{}}
	runner := &countingRunner{}
	a, _ := New("@hourly", runner, 10, locker, time.Minute, nil)
	b, _ := New("@hourly", runner, 10, locker, time.Minute, nil)
	tick := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

	ranA, err := a.Fire(context.Background(), tick)
	if err != nil || !ranA {
		t.Fatalf("first replica should run: %v", err)
	}
	ranB, err := b.Fire(context.Background(), tick)
	if err != nil || ranB {
		t.Fatalf("second replica must skip the same tick")
	}
	if ran, _ := b.Fire(context.Background(), tick.Add(time.Hour)); !ran {
		t.Fatalf("next tick should run")
	}
	if runner.calls != 2 {
		t.Fatalf("expected 2 runs, got %d", runner.calls)
	}
}

func TestFireReportsRunnerError(t *testing.T) {
	s, _ := New("@daily", &countingRunner{err: errors.New("catalog down")}, 10, nil, 0, nil)
	ran, err := s.Fire(context.Background(), time.Now())
	if !ran || err == nil {
		t.Fatalf("expected run with error, got ran=%v err=%v", ran, err)
	}
}

func TestStartStopsOnCancel(t *testing.T) {
	s, _ := New("@yearly", &countingRunner{}, 10, nil, 0, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("start: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("scheduler did not stop")
	}
}
