package correlation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mohammad-safakhou/comicsearch/internal/ranking"
	"github.com/mohammad-safakhou/comicsearch/models"
)

type recordingPublisher struct {
	mu   sync.Mutex
	msgs []models.ResultMessage
	ch   chan models.ResultMessage
	err  error
}

func newRecordingPublisher() *recordingPublisher {
	return &recordingPublisher{ch: make(chan models.ResultMessage, 16)}
}

func (p *recordingPublisher) Publish(_ context.Context, msg models.ResultMessage) error {
	p.mu.Lock()
	p.msgs = append(p.msgs, msg)
	p.mu.Unlock()
	p.ch <- msg
	return p.err
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.msgs)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func startStore(t *testing.T, cfg Config, pub Publisher, opts ...Option) *Store {
	t.Helper()
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = time.Hour
	}
	s := NewStore(cfg, ranking.New(), pub, nil, opts...)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = s.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return s
}

func waitPublished(t *testing.T, pub *recordingPublisher) models.ResultMessage {
	t.Helper()
	select {
	case msg := <-pub.ch:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for publication")
	}
	return models.ResultMessage{}
}

func waitEmpty(t *testing.T, s *Store) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		infos, err := s.Snapshot(context.Background())
		if err != nil {
			t.Fatalf("snapshot: %v", err)
		}
		if len(infos) == 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("instances were not evicted")
}

func TestEndToEndScenarioPublishesBestMatch(t *testing.T) {
	pub := newRecordingPublisher()
	s := startStore(t, Config{Timeout: time.Minute}, pub)
	ctx := context.Background()

	job := &models.SearchJob{ComicID: "c1", VolumeID: 7, VolumeName: "Batman", IssueNumber: "12", Year: "2020"}
	if err := s.Open(ctx, "abc", "Batman 12 2020", job, 0); err != nil {
		t.Fatalf("open: %v", err)
	}
	events := []Event{
		{Kind: EventResultAdded, InstanceID: "abc", Result: models.PartialResult{ID: "1", Name: "Batman 012 (2020)"}},
		{Kind: EventResultAdded, InstanceID: "abc", Result: models.PartialResult{ID: "2", Name: "Batman Annual"}},
		{Kind: EventResultUpdated, InstanceID: "abc", Result: models.PartialResult{ID: "1", Name: "Batman 012 (2020)"}},
		{Kind: EventSearchesSent, InstanceID: "abc"},
	}
	for _, ev := range events {
		if err := s.Deliver(ctx, ev); err != nil {
			t.Fatalf("deliver %s: %v", ev.Kind, err)
		}
	}

	msg := waitPublished(t, pub)
	if msg.Result.ID != "1" {
		t.Fatalf("expected id 1 to win, got %s", msg.Result.ID)
	}
	if msg.Result.Score <= 0.8 {
		t.Fatalf("expected score > 0.8, got %.3f", msg.Result.Score)
	}
	if msg.CorrelationID != "abc" || msg.Query != "Batman 12 2020" || msg.Job == nil || msg.Job.ComicID != "c1" {
		t.Fatalf("unexpected message: %+v", msg)
	}
	waitEmpty(t, s)
	if pub.count() != 1 {
		t.Fatalf("expected exactly one publication, got %d", pub.count())
	}
}

func TestAddNeverDuplicatesIDs(t *testing.T) {
	s := startStore(t, Config{Timeout: time.Minute}, newRecordingPublisher())
	ctx := context.Background()
	if err := s.Open(ctx, "i1", "q", nil, 0); err != nil {
		t.Fatalf("open: %v", err)
	}
	_ = s.Add(ctx, "i1", models.PartialResult{ID: "a", Name: "first"}, models.PartialResult{ID: "b", Name: "b"})
	_ = s.Add(ctx, "i1", models.PartialResult{ID: "a", Name: "second"})
	_ = s.Update(ctx, "i1", models.PartialResult{ID: "b", Name: "b2"})
	_ = s.Update(ctx, "i1", models.PartialResult{ID: "c", Name: "c"})
	_ = s.Add(ctx, "i1", models.PartialResult{ID: "c", Name: "c-again"}, models.PartialResult{ID: "", Name: "no id"})

	got, err := s.Results(ctx, "i1")
	if err != nil {
		t.Fatalf("results: %v", err)
	}
	want := []string{"a:first", "b:b2", "c:c"}
	if len(got) != len(want) {
		t.Fatalf("expected %d results, got %+v", len(want), got)
	}
	for i, r := range got {
		if r.ID+":"+r.Name != want[i] {
			t.Fatalf("result %d: expected %s, got %s:%s", i, want[i], r.ID, r.Name)
		}
	}
}

func TestUpdateIsIdempotent(t *testing.T) {
	s := startStore(t, Config{Timeout: time.Minute}, newRecordingPublisher())
	ctx := context.Background()
	_ = s.Open(ctx, "i1", "q", nil, 0)
	_ = s.Add(ctx, "i1", models.PartialResult{ID: "a", Name: "old"})

	upd := models.PartialResult{ID: "a", Name: "new", Metadata: map[string]interface{}{"hits": 3}}
	_ = s.Update(ctx, "i1", upd)
	once, _ := s.Results(ctx, "i1")
	_ = s.Update(ctx, "i1", upd)
	twice, _ := s.Results(ctx, "i1")
	if len(once) != 1 || len(twice) != 1 || once[0].Name != "new" || twice[0].Name != "new" {
		t.Fatalf("expected the same single result after repeated updates, got %+v then %+v", once, twice)
	}
}

func TestTimeoutExpiresWithoutPublishing(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	pub := newRecordingPublisher()
	var evictedMu sync.Mutex
	evicted := map[string]State{}
	s := startStore(t, Config{Timeout: time.Minute}, pub,
		WithClock(clock.Now),
		WithEvictHook(func(id string, final State) {
			evictedMu.Lock()
			evicted[id] = final
			evictedMu.Unlock()
		}))
	ctx := context.Background()

	_ = s.Open(ctx, "slow", "Saga 1 2012", nil, 0)
	_ = s.Add(ctx, "slow", models.PartialResult{ID: "x", Name: "Saga 001"})

	clock.Advance(30 * time.Second)
	if n, err := s.Sweep(ctx); err != nil || n != 0 {
		t.Fatalf("expected nothing to expire yet, got %d (%v)", n, err)
	}
	clock.Advance(31 * time.Second)
	n, err := s.Sweep(ctx)
	if err != nil || n != 1 {
		t.Fatalf("expected one expiry, got %d (%v)", n, err)
	}
	if err := s.Add(ctx, "slow", models.PartialResult{ID: "y"}); !errors.Is(err, ErrUnknownInstance) {
		t.Fatalf("expected expired instance to be evicted, got %v", err)
	}
	if pub.count() != 0 {
		t.Fatalf("expired search must not publish")
	}
	evictedMu.Lock()
	defer evictedMu.Unlock()
	if evicted["slow"] != StateExpired {
		t.Fatalf("expected expired eviction, got %v", evicted)
	}
}

func TestLifecycleErrors(t *testing.T) {
	s := startStore(t, Config{Timeout: time.Minute}, newRecordingPublisher())
	ctx := context.Background()

	if err := s.Add(ctx, "nope", models.PartialResult{ID: "a"}); !errors.Is(err, ErrUnknownInstance) {
		t.Fatalf("expected ErrUnknownInstance, got %v", err)
	}
	if err := s.Complete(ctx, "nope"); !errors.Is(err, ErrUnknownInstance) {
		t.Fatalf("expected ErrUnknownInstance, got %v", err)
	}
	if err := s.Open(ctx, "dup", "q", nil, 0); err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.Open(ctx, "dup", "q", nil, 0); !errors.Is(err, ErrDuplicateInstance) {
		t.Fatalf("expected ErrDuplicateInstance, got %v", err)
	}
	if err := s.Abort(ctx, "dup"); err != nil {
		t.Fatalf("abort: %v", err)
	}
	if err := s.Abort(ctx, "dup"); !errors.Is(err, ErrUnknownInstance) {
		t.Fatalf("expected aborted instance to be gone, got %v", err)
	}
	// events for searches this process never opened are dropped silently
	if err := s.Deliver(ctx, Event{Kind: EventResultAdded, InstanceID: "foreign", Result: models.PartialResult{ID: "z"}}); err != nil {
		t.Fatalf("deliver: %v", err)
	}
}

func TestEmptyInstanceClosesWithoutPublishing(t *testing.T) {
	pub := newRecordingPublisher()
	s := startStore(t, Config{Timeout: time.Minute}, pub)
	ctx := context.Background()
	_ = s.Open(ctx, "empty", "Nothing 1 1999", nil, 0)
	if err := s.Complete(ctx, "empty"); err != nil {
		t.Fatalf("complete: %v", err)
	}
	waitEmpty(t, s)
	if pub.count() != 0 {
		t.Fatalf("expected no publication for an empty instance")
	}
}

func TestCompletionDelayAcceptsLateResults(t *testing.T) {
	pub := newRecordingPublisher()
	s := startStore(t, Config{Timeout: time.Minute, CompletionDelay: 50 * time.Millisecond}, pub)
	ctx := context.Background()

	_ = s.Open(ctx, "late", "Hellboy 3 1994", nil, 0)
	_ = s.Add(ctx, "late", models.PartialResult{ID: "1", Name: "Hellblazer 003"})
	if err := s.Complete(ctx, "late"); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if err := s.Complete(ctx, "late"); err != nil {
		t.Fatalf("repeated completion during the delay must be a no-op, got %v", err)
	}
	if err := s.Add(ctx, "late", models.PartialResult{ID: "2", Name: "Hellboy 3 1994"}); err != nil {
		t.Fatalf("expected instance to accept results during the delay: %v", err)
	}

	msg := waitPublished(t, pub)
	if msg.Result.ID != "2" || msg.Result.Score != 1 {
		t.Fatalf("expected the late exact match to win, got %+v", msg.Result)
	}
	waitEmpty(t, s)
	if err := s.Add(ctx, "late", models.PartialResult{ID: "3"}); !errors.Is(err, ErrUnknownInstance) {
		t.Fatalf("expected closed instance to be gone, got %v", err)
	}
}

func TestShardsRouteInstancesIndependently(t *testing.T) {
	pub := newRecordingPublisher()
	s := startStore(t, Config{Timeout: time.Minute, Shards: 4}, pub)
	ctx := context.Background()
	ids := []string{"s1", "s2", "s3", "s4", "s5", "s6"}
	for _, id := range ids {
		if err := s.Open(ctx, id, "Query "+id, nil, 0); err != nil {
			t.Fatalf("open %s: %v", id, err)
		}
	}
	infos, err := s.Snapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(infos) != len(ids) {
		t.Fatalf("expected %d instances, got %d", len(ids), len(infos))
	}
	for _, info := range infos {
		if info.State != StateOpen.String() {
			t.Fatalf("instance %s in unexpected state %s", info.ID, info.State)
		}
	}
}

func TestCompletionWaitsForPendingBatch(t *testing.T) {
	pub := newRecordingPublisher()
	s := startStore(t, Config{Timeout: time.Minute}, pub)
	ctx := context.Background()

	if err := s.Open(ctx, "abc", "Batman 12 2020", nil, 1); err != nil {
		t.Fatalf("open: %v", err)
	}
	_ = s.Deliver(ctx, Event{Kind: EventResultAdded, InstanceID: "abc", Result: models.PartialResult{ID: "h1", Name: "Batman Annual"}})
	_ = s.Deliver(ctx, Event{Kind: EventSearchesSent, InstanceID: "abc"})

	infos, err := s.Snapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(infos) != 1 || !infos[0].Completing || infos[0].Pending != 1 || infos[0].State != "open" {
		t.Fatalf("expected an open instance waiting on one batch, got %+v", infos)
	}
	if pub.count() != 0 {
		t.Fatalf("ranked before the pending batch settled")
	}

	if err := s.Settle(ctx, "abc", models.PartialResult{ID: "g1", Name: "Batman 012 (2020)", Source: models.SourceProwlarr}); err != nil {
		t.Fatalf("settle: %v", err)
	}
	msg := waitPublished(t, pub)
	if msg.Result.ID != "g1" {
		t.Fatalf("expected the settled batch to win, got %+v", msg.Result)
	}
	waitEmpty(t, s)
}

func TestEmptySettleReleasesCompletion(t *testing.T) {
	pub := newRecordingPublisher()
	s := startStore(t, Config{Timeout: time.Minute}, pub)
	ctx := context.Background()

	_ = s.Open(ctx, "i1", "Saga 1 2012", nil, 1)
	_ = s.Add(ctx, "i1", models.PartialResult{ID: "h1", Name: "Saga 001 (2012)"})
	if err := s.Complete(ctx, "i1"); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if err := s.Settle(ctx, "i1"); err != nil {
		t.Fatalf("settle: %v", err)
	}
	if msg := waitPublished(t, pub); msg.Result.ID != "h1" {
		t.Fatalf("unexpected winner %+v", msg.Result)
	}
}

func TestSettleBeforeCompletionRanksOnCompletion(t *testing.T) {
	pub := newRecordingPublisher()
	s := startStore(t, Config{Timeout: time.Minute}, pub)
	ctx := context.Background()

	_ = s.Open(ctx, "i1", "Saga 1 2012", nil, 1)
	if err := s.Settle(ctx, "i1", models.PartialResult{ID: "g1", Name: "Saga 001 (2012)"}); err != nil {
		t.Fatalf("settle: %v", err)
	}
	if pub.count() != 0 {
		t.Fatalf("settling must not complete the instance")
	}
	_ = s.Complete(ctx, "i1")
	if msg := waitPublished(t, pub); msg.Result.ID != "g1" {
		t.Fatalf("unexpected winner %+v", msg.Result)
	}
}

func TestPendingInstanceStillExpires(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	pub := newRecordingPublisher()
	s := startStore(t, Config{Timeout: time.Minute}, pub, WithClock(clock.Now))
	ctx := context.Background()

	_ = s.Open(ctx, "stuck", "Saga 1 2012", nil, 1)
	_ = s.Complete(ctx, "stuck")
	clock.Advance(2 * time.Minute)
	n, err := s.Sweep(ctx)
	if err != nil || n != 1 {
		t.Fatalf("expected one expiry, got %d (%v)", n, err)
	}
	if err := s.Settle(ctx, "stuck", models.PartialResult{ID: "g1", Name: "x"}); !errors.Is(err, ErrUnknownInstance) {
		t.Fatalf("expected ErrUnknownInstance after expiry, got %v", err)
	}
	if pub.count() != 0 {
		t.Fatalf("expired instance must not publish")
	}
}

type gatedPublisher struct {
	started chan struct{}
	release chan struct{}
	ctxErr  chan error
}

func (p *gatedPublisher) Publish(ctx context.Context, _ models.ResultMessage) error {
	close(p.started)
	<-p.release
	p.ctxErr <- ctx.Err()
	return ctx.Err()
}

func TestShutdownDoesNotCancelInFlightPublish(t *testing.T) {
	pub := &gatedPublisher{started: make(chan struct{}), release: make(chan struct{}), ctxErr: make(chan error, 1)}
	s := NewStore(Config{Timeout: time.Minute, SweepInterval: time.Hour}, ranking.New(), pub, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = s.Run(ctx)
		close(done)
	}()

	_ = s.Open(ctx, "i1", "Saga 1 2012", nil, 0)
	_ = s.Add(ctx, "i1", models.PartialResult{ID: "h1", Name: "Saga 001 (2012)"})
	_ = s.Complete(ctx, "i1")
	select {
	case <-pub.started:
	case <-time.After(2 * time.Second):
		t.Fatalf("publish never started")
	}

	cancel()
	close(pub.release)
	if err := <-pub.ctxErr; err != nil {
		t.Fatalf("publish saw a cancelled context: %v", err)
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("store did not stop")
	}
}
