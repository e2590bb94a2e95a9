// Package publish emits ranked results to the results stream and the live broadcast.
package publish

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/mohammad-safakhou/comicsearch/internal/broadcast"
	"github.com/mohammad-safakhou/comicsearch/internal/queue/streams"
	"github.com/mohammad-safakhou/comicsearch/models"
)

// Writer appends envelopes to a stream.
type Writer interface {
	PublishRaw(ctx context.Context, stream, eventType, version string, payload interface{}, opts ...streams.PublishOption) (string, error)
}

// Broadcaster delivers best-effort live events.
type Broadcaster interface {
	Broadcast(name string, payload interface{}) (int, error)
}

type Config struct {
	Stream       string
	MaxAttempts  int
	InitialDelay time.Duration
	MaxLen       int64
}

// Publisher writes each result once to the results stream, retrying transient failures, and
// then announces it on the broadcast.
type Publisher struct {
	writer      Writer
	broadcaster Broadcaster
	cfg         Config
	logger      *log.Logger
}

// New returns a publisher; broadcaster may be nil.
func New(writer Writer, broadcaster Broadcaster, cfg Config, logger *log.Logger) *Publisher {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = 200 * time.Millisecond
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[PUBLISH] ", log.LstdFlags)
	}
	return &Publisher{writer: writer, broadcaster: broadcaster, cfg: cfg, logger: logger}
}

type broadcastPayload struct {
	Query  string              `json:"query"`
	Result models.RankedResult `json:"result"`
}

// Publish returns a models.PublishError once every attempt failed; the result is then lost.
func (p *Publisher) Publish(ctx context.Context, msg models.ResultMessage) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = p.cfg.InitialDelay
	policy.MaxElapsedTime = 0
	bo := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(p.cfg.MaxAttempts-1)), ctx)

	attempts := 0
	var id string
	err := backoff.Retry(func() error {
		attempts++
		var err error
		id, err = p.writer.PublishRaw(ctx, p.cfg.Stream, streams.EventSearchResult, streams.VersionV1, msg, streams.WithMaxLenApprox(p.cfg.MaxLen))
		if err != nil && ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		return err
	}, bo)
	if err != nil {
		pubErr := models.PublishError{Query: msg.Query, Attempts: attempts, Err: err}
		p.logger.Printf("error: result lost: %v", pubErr)
		return pubErr
	}
	p.logger.Printf("published result %s for %q to %s (entry %s)", msg.Result.ID, msg.Query, p.cfg.Stream, id)

	if p.broadcaster != nil {
		if _, err := p.broadcaster.Broadcast(broadcast.EventSearchResultsAvailable, broadcastPayload{Query: msg.Query, Result: msg.Result}); err != nil {
			p.logger.Printf("warn: broadcast for %q failed: %v", msg.Query, err)
		}
	}
	return nil
}

func (p *Publisher) String() string {
	return fmt.Sprintf("publisher(%s)", p.cfg.Stream)
}
