package correlation

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/mohammad-safakhou/comicsearch/models"
)

type opKind int

const (
	opOpen opKind = iota
	opAdd
	opUpdate
	opComplete
	opCompleteNow
	opAbort
	opDeliver
	opRanked
	opSweep
	opSnapshot
	opResults
	opSettle
)

type reply struct {
	err     error
	n       int
	infos   []InstanceInfo
	results []models.PartialResult
}

type command struct {
	op      opKind
	id      string
	query   string
	job     *models.SearchJob
	results []models.PartialResult
	event   Event
	pending int
	now     time.Time
	reply   chan reply
}

type instance struct {
	id         string
	query      string
	job        *models.SearchJob
	state      State
	createdAt  time.Time
	results    []models.PartialResult
	index      map[string]int
	completing bool
	// pending counts result batches promised at open time and not settled yet
	pending int
	// awaiting is set when completion arrived while batches were still pending
	awaiting bool
}

func (in *instance) add(r models.PartialResult) {
	if _, ok := in.index[r.ID]; ok {
		return
	}
	in.index[r.ID] = len(in.results)
	in.results = append(in.results, r)
}

func (in *instance) update(r models.PartialResult) {
	if i, ok := in.index[r.ID]; ok {
		in.results[i] = r
		return
	}
	in.add(r)
}

type shard struct {
	inbox     chan command
	instances map[string]*instance
}

// Store owns every live instance. Instance ids are hashed onto shards; each shard goroutine is
// the only writer of its instances, so events for one id apply in arrival order while shards
// proceed independently. Operations block until Run is serving.
type Store struct {
	cfg       Config
	ranker    Ranker
	publisher Publisher
	logger    *log.Logger
	now       func() time.Time
	onEvict   EvictFunc

	shards  []*shard
	ranking sync.WaitGroup
	stopped chan struct{}
}

type Option func(*Store)

// WithClock replaces time.Now for instance ages and the sweeper.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithEvictHook registers fn for instances leaving the store. fn runs on the shard goroutine
// and must not block.
func WithEvictHook(fn EvictFunc) Option {
	return func(s *Store) { s.onEvict = fn }
}

func NewStore(cfg Config, ranker Ranker, publisher Publisher, logger *log.Logger, opts ...Option) *Store {
	cfg = cfg.normalize()
	if logger == nil {
		logger = log.New(log.Writer(), "[CORRELATION] ", log.LstdFlags)
	}
	s := &Store{
		cfg:       cfg,
		ranker:    ranker,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
		stopped:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.shards = make([]*shard, cfg.Shards)
	for i := range s.shards {
		s.shards[i] = &shard{inbox: make(chan command, cfg.Mailbox), instances: make(map[string]*instance)}
	}
	return s
}

// Run serves the shards and the timeout sweeper until ctx is cancelled, then waits for
// in-flight ranking to finish.
func (s *Store) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for _, sh := range s.shards {
		wg.Add(1)
		go func(sh *shard) {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case cmd := <-sh.inbox:
					s.apply(ctx, sh, cmd)
				}
			}
		}(sh)
	}

	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()
	s.logger.Printf("serving %d shards, timeout %s, completion delay %s", len(s.shards), s.cfg.Timeout, s.cfg.CompletionDelay)
	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			s.ranking.Wait()
			close(s.stopped)
			return nil
		case <-ticker.C:
			if n, err := s.Sweep(ctx); err == nil && n > 0 {
				s.logger.Printf("sweep expired %d instances", n)
			}
		}
	}
}

// Open registers a new instance in state OPEN. job may be nil. pending is the number of result
// batches that will be handed over with Settle; ranking waits for all of them, bounded by the
// timeout.
func (s *Store) Open(ctx context.Context, id, query string, job *models.SearchJob, pending int) error {
	_, err := s.call(ctx, command{op: opOpen, id: id, query: query, job: job, pending: pending})
	return err
}

// Settle merges one promised batch, which may be empty when its backend failed. Once the last
// batch settles, a completion that already arrived starts ranking.
func (s *Store) Settle(ctx context.Context, id string, results ...models.PartialResult) error {
	_, err := s.call(ctx, command{op: opSettle, id: id, results: results})
	return err
}

// Add appends results whose ids are not present yet; known ids are ignored.
func (s *Store) Add(ctx context.Context, id string, results ...models.PartialResult) error {
	_, err := s.call(ctx, command{op: opAdd, id: id, results: results})
	return err
}

// Update replaces the result with the same id in place, or adds it when absent.
func (s *Store) Update(ctx context.Context, id string, result models.PartialResult) error {
	_, err := s.call(ctx, command{op: opUpdate, id: id, results: []models.PartialResult{result}})
	return err
}

// Complete moves the instance to ranking, after the configured completion delay if any.
func (s *Store) Complete(ctx context.Context, id string) error {
	_, err := s.call(ctx, command{op: opComplete, id: id})
	return err
}

// Abort evicts an OPEN instance without ranking it. Observers see it as expired.
func (s *Store) Abort(ctx context.Context, id string) error {
	_, err := s.call(ctx, command{op: opAbort, id: id})
	return err
}

// Deliver hands a push event to the owning shard without waiting for it to apply. Events for
// unknown or closed instances are counted and dropped.
func (s *Store) Deliver(ctx context.Context, ev Event) error {
	return s.send(ctx, s.shardFor(ev.InstanceID), command{op: opDeliver, id: ev.InstanceID, event: ev})
}

// Sweep expires OPEN instances older than the timeout and returns how many it evicted.
func (s *Store) Sweep(ctx context.Context) (int, error) {
	now := s.now()
	total := 0
	for _, sh := range s.shards {
		r, err := s.callShard(ctx, sh, command{op: opSweep, now: now})
		if err != nil {
			return total, err
		}
		total += r.n
	}
	return total, nil
}

// Snapshot lists the live instances of every shard.
func (s *Store) Snapshot(ctx context.Context) ([]InstanceInfo, error) {
	var out []InstanceInfo
	for _, sh := range s.shards {
		r, err := s.callShard(ctx, sh, command{op: opSnapshot, now: s.now()})
		if err != nil {
			return nil, err
		}
		out = append(out, r.infos...)
	}
	return out, nil
}

// Results returns a copy of the instance's accumulated results in insertion order.
func (s *Store) Results(ctx context.Context, id string) ([]models.PartialResult, error) {
	r, err := s.call(ctx, command{op: opResults, id: id})
	return r.results, err
}

func (s *Store) shardFor(id string) *shard {
	return s.shards[xxhash.Sum64String(id)%uint64(len(s.shards))]
}

func (s *Store) call(ctx context.Context, cmd command) (reply, error) {
	return s.callShard(ctx, s.shardFor(cmd.id), cmd)
}

func (s *Store) callShard(ctx context.Context, sh *shard, cmd command) (reply, error) {
	cmd.reply = make(chan reply, 1)
	if err := s.send(ctx, sh, cmd); err != nil {
		return reply{}, err
	}
	select {
	case r := <-cmd.reply:
		return r, r.err
	case <-ctx.Done():
		return reply{}, ctx.Err()
	case <-s.stopped:
		return reply{}, ErrStopped
	}
}

func (s *Store) send(ctx context.Context, sh *shard, cmd command) error {
	select {
	case sh.inbox <- cmd:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.stopped:
		return ErrStopped
	}
}

func (s *Store) apply(ctx context.Context, sh *shard, cmd command) {
	var r reply
	switch cmd.op {
	case opOpen:
		if _, ok := sh.instances[cmd.id]; ok {
			r.err = ErrDuplicateInstance
			break
		}
		sh.instances[cmd.id] = &instance{
			id:        cmd.id,
			query:     cmd.query,
			job:       cmd.job,
			state:     StateOpen,
			createdAt: s.now(),
			index:     make(map[string]int),
			pending:   max(cmd.pending, 0),
		}
		instancesLive.Inc()
	case opAdd, opUpdate, opComplete:
		in, err := openInstance(sh, cmd.id)
		if err != nil {
			r.err = err
			break
		}
		s.applyOpen(ctx, sh, in, cmd.op, cmd.results)
	case opDeliver:
		in, err := openInstance(sh, cmd.id)
		if err != nil {
			reason := "unknown_instance"
			if errors.Is(err, ErrNotOpen) {
				reason = "not_open"
			}
			eventsDropped.WithLabelValues(reason).Inc()
			break
		}
		switch cmd.event.Kind {
		case EventResultAdded:
			s.applyOpen(ctx, sh, in, opAdd, []models.PartialResult{cmd.event.Result})
		case EventResultUpdated:
			s.applyOpen(ctx, sh, in, opUpdate, []models.PartialResult{cmd.event.Result})
		case EventSearchesSent:
			s.applyOpen(ctx, sh, in, opComplete, nil)
		default:
			eventsDropped.WithLabelValues("unknown_kind").Inc()
		}
	case opCompleteNow:
		// the instance may have expired or been aborted during the delay
		if in, err := openInstance(sh, cmd.id); err == nil {
			s.completeWhenSettled(ctx, sh, in)
		}
	case opSettle:
		in, err := openInstance(sh, cmd.id)
		if err != nil {
			r.err = err
			break
		}
		s.applyOpen(ctx, sh, in, opAdd, cmd.results)
		if in.pending > 0 {
			in.pending--
		}
		if in.pending == 0 && in.awaiting {
			s.beginRanking(ctx, sh, in)
		}
	case opAbort:
		in, ok := sh.instances[cmd.id]
		if !ok {
			r.err = ErrUnknownInstance
			break
		}
		if in.state != StateOpen {
			r.err = ErrNotOpen
			break
		}
		s.evict(sh, in, StateExpired)
	case opRanked:
		if in, ok := sh.instances[cmd.id]; ok && in.state == StateRanking {
			s.evict(sh, in, StateClosed)
		}
	case opSweep:
		for _, in := range sh.instances {
			age := cmd.now.Sub(in.createdAt)
			if in.state != StateOpen || age < s.cfg.Timeout {
				continue
			}
			s.logger.Printf("warn: %v", models.CorrelationTimeoutError{
				CorrelationID: in.id,
				Query:         in.query,
				Age:           age,
				Results:       len(in.results),
			})
			expiredTotal.Inc()
			s.evict(sh, in, StateExpired)
			r.n++
		}
	case opSnapshot:
		for _, in := range sh.instances {
			r.infos = append(r.infos, InstanceInfo{
				ID:         in.id,
				Query:      in.query,
				State:      in.state.String(),
				Results:    len(in.results),
				Age:        cmd.now.Sub(in.createdAt),
				Completing: in.completing || in.awaiting,
				Pending:    in.pending,
			})
		}
	case opResults:
		in, ok := sh.instances[cmd.id]
		if !ok {
			r.err = ErrUnknownInstance
			break
		}
		r.results = append([]models.PartialResult(nil), in.results...)
	}
	if cmd.reply != nil {
		cmd.reply <- r
	}
}

func openInstance(sh *shard, id string) (*instance, error) {
	in, ok := sh.instances[id]
	if !ok {
		return nil, ErrUnknownInstance
	}
	if in.state != StateOpen {
		return nil, ErrNotOpen
	}
	return in, nil
}

func (s *Store) applyOpen(ctx context.Context, sh *shard, in *instance, op opKind, results []models.PartialResult) {
	switch op {
	case opAdd:
		for _, res := range results {
			if res.ID != "" {
				in.add(res)
			}
		}
	case opUpdate:
		for _, res := range results {
			if res.ID != "" {
				in.update(res)
			}
		}
	case opComplete:
		if s.cfg.CompletionDelay <= 0 {
			s.completeWhenSettled(ctx, sh, in)
			return
		}
		if in.completing {
			return
		}
		in.completing = true
		id := in.id
		time.AfterFunc(s.cfg.CompletionDelay, func() {
			_ = s.send(ctx, sh, command{op: opCompleteNow, id: id})
		})
	}
}

// completeWhenSettled ranks now, or marks the instance so the last Settle ranks it.
func (s *Store) completeWhenSettled(ctx context.Context, sh *shard, in *instance) {
	if in.pending == 0 {
		s.beginRanking(ctx, sh, in)
		return
	}
	if !in.awaiting {
		s.logger.Printf("search %s complete, waiting for %d pending result batches", in.id, in.pending)
	}
	in.awaiting = true
}

// beginRanking freezes the result set and ranks it off the shard goroutine; the outcome is
// reported back to the shard, which closes and evicts the instance.
func (s *Store) beginRanking(ctx context.Context, sh *shard, in *instance) {
	in.state = StateRanking
	candidates := append([]models.PartialResult(nil), in.results...)
	id, query, job := in.id, in.query, in.job

	s.ranking.Add(1)
	go func() {
		defer s.ranking.Done()
		// the job was acked long ago; shutdown must not turn this publish into a lost result
		pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.PublishTimeout)
		s.rankAndPublish(pubCtx, id, query, job, candidates)
		cancel()
		_ = s.send(ctx, sh, command{op: opRanked, id: id})
	}()
}

func (s *Store) rankAndPublish(ctx context.Context, id, query string, job *models.SearchJob, candidates []models.PartialResult) {
	best, ok := s.ranker.Rank(candidates, query)
	if !ok {
		s.logger.Printf("search %s (%q) completed without results; nothing published", id, query)
		completedTotal.WithLabelValues("empty").Inc()
		return
	}
	msg := models.ResultMessage{Query: query, Result: best, CorrelationID: id, Job: job}
	if err := s.publisher.Publish(ctx, msg); err != nil {
		s.logger.Printf("error: result lost for search %s: %v", id, err)
		completedTotal.WithLabelValues("publish_failed").Inc()
		return
	}
	s.logger.Printf("search %s (%q) ranked %d candidates, winner %q score %.3f", id, query, len(candidates), best.Name, best.Score)
	completedTotal.WithLabelValues("published").Inc()
}

func (s *Store) evict(sh *shard, in *instance, final State) {
	in.state = final
	delete(sh.instances, in.id)
	instancesLive.Dec()
	if s.onEvict != nil {
		s.onEvict(in.id, final)
	}
}
