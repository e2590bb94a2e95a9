// Package dispatch consumes search jobs from the job stream and fans each one out to the
// search backends with bounded concurrency.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/semaphore"

	"github.com/mohammad-safakhou/comicsearch/internal/fanout"
	"github.com/mohammad-safakhou/comicsearch/internal/jobqueue"
	"github.com/mohammad-safakhou/comicsearch/internal/queue/streams"
	"github.com/mohammad-safakhou/comicsearch/internal/search/airdcpp"
	"github.com/mohammad-safakhou/comicsearch/internal/search/prowlarr"
	"github.com/mohammad-safakhou/comicsearch/internal/settings"
	"github.com/mohammad-safakhou/comicsearch/models"
)

// Reader is the consumer-group side of the job stream.
type Reader interface {
	Read(ctx context.Context, stream string, opts ...streams.ReadOption) ([]streams.Message, error)
	Ack(ctx context.Context, stream string, ids ...string) error
	AutoClaim(ctx context.Context, stream string, minIdle time.Duration, start string, count int64) ([]streams.Message, string, error)
}

// Resolver yields backend parameters; failures are models.DispatchConfigError.
type Resolver interface {
	Resolve(ctx context.Context) (settings.Params, error)
}

// Fanouter submits one job to the backends.
type Fanouter interface {
	Fanout(ctx context.Context, req fanout.Request) (string, error)
}

// Options tunes the dispatcher and the requests it builds.
type Options struct {
	Stream        string
	Concurrency   int
	ReadBlock     time.Duration
	ReclaimIdle   time.Duration
	JobTimeout    time.Duration
	Extensions    []string
	Priority      int
	IndexerLimit  int
	IndexerOffset int
}

var jobsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "comicsearch",
	Subsystem: "dispatch",
	Name:      "jobs_total",
	Help:      "Consumed job messages by outcome.",
}, []string{"outcome"})

// Collectors returns the dispatcher's metrics for registration.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{jobsTotal}
}

// Dispatcher runs at most Options.Concurrency handlers at a time. A message is acknowledged
// only after its handler returned, whatever the outcome.
type Dispatcher struct {
	logger   *log.Logger
	reader   Reader
	resolver Resolver
	backends Backends
	fanout   Fanouter
	claimer  jobqueue.Claimer
	opts     Options
	tracer   trace.Tracer
	sem      *semaphore.Weighted
}

func New(logger *log.Logger, reader Reader, resolver Resolver, backends Backends, fan Fanouter, claimer jobqueue.Claimer, opts Options, tracer trace.Tracer) *Dispatcher {
	if logger == nil {
		logger = log.New(log.Writer(), "[DISPATCH] ", log.LstdFlags)
	}
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("dispatch")
	}
	if claimer == nil {
		claimer = jobqueue.NoopClaimer{}
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 2
	}
	if opts.ReadBlock <= 0 {
		opts.ReadBlock = 5 * time.Second
	}
	if opts.JobTimeout <= 0 {
		opts.JobTimeout = time.Minute
	}
	if len(opts.Extensions) == 0 {
		opts.Extensions = []string{"cbz", "cbr", "cb7"}
	}
	return &Dispatcher{
		logger:   logger,
		reader:   reader,
		resolver: resolver,
		backends: backends,
		fanout:   fan,
		claimer:  claimer,
		opts:     opts,
		tracer:   tracer,
		sem:      semaphore.NewWeighted(int64(opts.Concurrency)),
	}
}

// Start blocks, consuming jobs until ctx is cancelled, then waits for in-flight handlers.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.logger.Printf("dispatcher starting; consuming %s with %d workers", d.opts.Stream, d.opts.Concurrency)
	defer d.drain()

	if d.opts.ReclaimIdle > 0 {
		if n, err := d.reclaim(ctx); err != nil {
			d.logger.Printf("warn: reclaim pending jobs failed: %v", err)
		} else if n > 0 {
			d.logger.Printf("reclaimed %d stale pending jobs", n)
		}
	}

	for {
		select {
		case <-ctx.Done():
			d.logger.Printf("dispatcher stopping: %v", ctx.Err())
			return nil
		default:
		}

		msgs, err := d.reader.Read(ctx, d.opts.Stream, streams.WithBlock(d.opts.ReadBlock), streams.WithCount(int64(d.opts.Concurrency)))
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			d.logger.Printf("error reading stream: %v", err)
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
			continue
		}
		for _, msg := range msgs {
			if !d.spawn(ctx, msg) {
				break
			}
		}
	}
}

// reclaim takes over entries another consumer read but never acknowledged.
func (d *Dispatcher) reclaim(ctx context.Context) (int, error) {
	start, total := "0-0", 0
	for {
		msgs, next, err := d.reader.AutoClaim(ctx, d.opts.Stream, d.opts.ReclaimIdle, start, 16)
		if err != nil {
			return total, err
		}
		for _, msg := range msgs {
			if !d.spawn(ctx, msg) {
				return total, ctx.Err()
			}
			total++
		}
		if next == "" || next == "0-0" {
			return total, nil
		}
		start = next
	}
}

// spawn waits for a free slot and handles msg in the background. It reports false when ctx
// ended first; the message then stays pending for a later reclaim.
func (d *Dispatcher) spawn(ctx context.Context, msg streams.Message) bool {
	if err := d.sem.Acquire(ctx, 1); err != nil {
		return false
	}
	go func() {
		defer d.sem.Release(1)
		outcome := d.handle(ctx, msg)
		jobsTotal.WithLabelValues(outcome).Inc()
		// ack with a fresh context so shutdown does not leave handled jobs pending
		ackCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := d.reader.Ack(ackCtx, d.opts.Stream, msg.ID); err != nil {
			d.logger.Printf("warn: failed to ack message %s: %v", msg.ID, err)
		}
	}()
	return true
}

func (d *Dispatcher) drain() {
	_ = d.sem.Acquire(context.Background(), int64(d.opts.Concurrency))
	d.sem.Release(int64(d.opts.Concurrency))
}

// handle returns the outcome label; every failure is logged here and never retried.
func (d *Dispatcher) handle(ctx context.Context, msg streams.Message) string {
	job, err := jobqueue.Decode(msg)
	if err != nil {
		d.logger.Printf("warn: skipping malformed job message: %v", err)
		return "malformed"
	}

	ctx, cancel := context.WithTimeout(ctx, d.opts.JobTimeout)
	defer cancel()
	ctx, span := d.tracer.Start(ctx, "dispatch.handle_job")
	defer span.End()
	span.SetAttributes(attribute.String("job.key", job.Key()), attribute.String("message.id", msg.ID))

	key := job.Key()
	claimed, err := d.claimer.Claim(ctx, key)
	if err != nil {
		d.logger.Printf("warn: dedup claim for %s failed, dispatching anyway: %v", key, err)
		claimed = true
	}
	if !claimed {
		d.logger.Printf("skip job %s: already dispatched recently", key)
		return "duplicate"
	}

	id, err := d.dispatch(ctx, job)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if relErr := d.claimer.Release(context.WithoutCancel(ctx), key); relErr != nil {
			d.logger.Printf("warn: %v", relErr)
		}
		var cfgErr models.DispatchConfigError
		if errors.As(err, &cfgErr) {
			d.logger.Printf("error: dropping job %s: %v", key, err)
			return "config_error"
		}
		d.logger.Printf("error: job %s failed: %v", key, err)
		return "failed"
	}
	d.logger.Printf("job %s dispatched as search %s", key, id)
	return "dispatched"
}

func (d *Dispatcher) dispatch(ctx context.Context, job models.SearchJob) (string, error) {
	params, err := d.resolver.Resolve(ctx)
	if err != nil {
		return "", err
	}
	query := BuildQuery(job)
	if query == "" {
		return "", fmt.Errorf("job %s normalizes to an empty query", job.Key())
	}
	push, indexer := d.backends.For(params)
	req := fanout.Request{
		Job:   job,
		Query: query,
		Push:  push,
		Hub: airdcpp.HubSearchRequest{
			Query:    airdcpp.SearchQuery{Pattern: query, Extensions: d.opts.Extensions},
			HubURLs:  params.AirDCPP.Hubs,
			Priority: d.opts.Priority,
		},
	}
	if indexer != nil {
		req.Indexer = indexer
		req.IndexerQuery = prowlarr.Query{
			Query:      query,
			IndexerIDs: params.Prowlarr.IndexerIDs,
			Categories: params.Prowlarr.Categories,
			Limit:      d.opts.IndexerLimit,
			Offset:     d.opts.IndexerOffset,
		}
	}
	return d.fanout.Fanout(ctx, req)
}
