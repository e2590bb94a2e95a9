// Package fanout submits one search job to both backends and ties their results to a single
// correlation instance.
package fanout

import (
	"context"
	"fmt"
	"log"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/mohammad-safakhou/comicsearch/internal/search/airdcpp"
	"github.com/mohammad-safakhou/comicsearch/internal/search/prowlarr"
	"github.com/mohammad-safakhou/comicsearch/models"
)

// PushBackend creates search instances whose results arrive later as events.
type PushBackend interface {
	CreateInstance(ctx context.Context, expiration time.Duration) (string, error)
	HubSearch(ctx context.Context, id string, req airdcpp.HubSearchRequest) (airdcpp.HubSearchResponse, error)
}

// IndexerBackend answers a query synchronously.
type IndexerBackend interface {
	Search(ctx context.Context, q prowlarr.Query) ([]models.PartialResult, error)
}

// Store is the part of the correlation store the coordinator drives. The indexer leg is
// announced at Open and handed over with Settle, so ranking waits for it.
type Store interface {
	Open(ctx context.Context, id, query string, job *models.SearchJob, pending int) error
	Settle(ctx context.Context, id string, results ...models.PartialResult) error
	Abort(ctx context.Context, id string) error
}

// settleTimeout bounds the hand-over of indexer results once the job context is gone.
const settleTimeout = 5 * time.Second

// Request is one job ready to be searched. Indexer may be nil when no indexer is configured.
type Request struct {
	Job          models.SearchJob
	Query        string
	Push         PushBackend
	Hub          airdcpp.HubSearchRequest
	Indexer      IndexerBackend
	IndexerQuery prowlarr.Query
}

type Coordinator struct {
	store      Store
	expiration time.Duration
	logger     *log.Logger
}

// NewCoordinator returns a coordinator; expiration is passed to the push backend for every
// instance it creates.
func NewCoordinator(store Store, expiration time.Duration, logger *log.Logger) *Coordinator {
	if logger == nil {
		logger = log.New(log.Writer(), "[FANOUT] ", log.LstdFlags)
	}
	return &Coordinator{store: store, expiration: expiration, logger: logger}
}

// Fanout runs the push and indexer legs concurrently and returns the correlation id once both
// have been acknowledged; it never waits for push results. Indexer results are merged into the
// instance only after the push leg opened it, and are discarded if the push leg fails.
// Indexer failures are logged and settle the leg empty; they do not fail the job.
func (c *Coordinator) Fanout(ctx context.Context, req Request) (string, error) {
	ctx, span := otel.Tracer("comicsearch/fanout").Start(ctx, "fanout")
	defer span.End()
	span.SetAttributes(
		attribute.String("search.query", req.Query),
		attribute.String("search.job", req.Job.Key()),
		attribute.Bool("search.indexer", req.Indexer != nil),
	)

	var g errgroup.Group
	ids := make(chan string, 1)
	var correlationID string

	g.Go(func() error {
		defer close(ids)
		id, err := c.submit(ctx, req)
		if err != nil {
			return err
		}
		correlationID = id
		ids <- id
		return nil
	})

	if req.Indexer != nil {
		g.Go(func() error {
			results, err := req.Indexer.Search(ctx, req.IndexerQuery)
			if err != nil {
				c.logger.Printf("warn: indexer search for %q failed: %v", req.Query, err)
				results = nil
			}
			id, ok := <-ids
			if !ok {
				c.logger.Printf("warn: discarding %d indexer results for %q: push submission failed", len(results), req.Query)
				return nil
			}
			settleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
			defer cancel()
			if err := c.store.Settle(settleCtx, id, results...); err != nil {
				c.logger.Printf("warn: %d indexer results for search %s not merged: %v", len(results), id, err)
				return nil
			}
			c.logger.Printf("merged %d indexer results into search %s", len(results), id)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	span.SetAttributes(attribute.String("search.correlation_id", correlationID))
	return correlationID, nil
}

// submit opens the instance locally before the hub search is sent, so no event can arrive for
// an instance the store does not know yet.
func (c *Coordinator) submit(ctx context.Context, req Request) (string, error) {
	id, err := req.Push.CreateInstance(ctx, c.expiration)
	if err != nil {
		return "", err
	}
	job := req.Job
	pending := 0
	if req.Indexer != nil {
		pending = 1
	}
	if err := c.store.Open(ctx, id, req.Query, &job, pending); err != nil {
		return "", fmt.Errorf("open search %s: %w", id, err)
	}
	hub := req.Hub
	hub.Query.Pattern = req.Query
	resp, err := req.Push.HubSearch(ctx, id, hub)
	if err != nil {
		if abortErr := c.store.Abort(ctx, id); abortErr != nil {
			c.logger.Printf("warn: abort search %s: %v", id, abortErr)
		}
		return "", err
	}
	c.logger.Printf("search %s for %q sent to %d hubs", id, req.Query, resp.Sent)
	return id, nil
}
