// Package correlation accumulates asynchronously arriving search results per search instance
// and ranks them once the instance completes.
package correlation

import (
	"context"
	"errors"
	"time"

	"github.com/mohammad-safakhou/comicsearch/models"
)

var (
	ErrUnknownInstance   = errors.New("correlation: unknown instance")
	ErrNotOpen           = errors.New("correlation: instance is not accepting results")
	ErrDuplicateInstance = errors.New("correlation: instance already open")
	ErrStopped           = errors.New("correlation: store stopped")
)

// State is the lifecycle position of an instance.
type State int

const (
	StateOpen State = iota
	StateRanking
	StateClosed
	StateExpired
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateRanking:
		return "ranking"
	case StateClosed:
		return "closed"
	case StateExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// EventKind classifies push-backend notifications.
type EventKind int

const (
	EventResultAdded EventKind = iota + 1
	EventResultUpdated
	EventSearchesSent
)

func (k EventKind) String() string {
	switch k {
	case EventResultAdded:
		return "result_added"
	case EventResultUpdated:
		return "result_updated"
	case EventSearchesSent:
		return "searches_sent"
	default:
		return "unknown"
	}
}

// Event is one push notification addressed to an instance.
type Event struct {
	Kind       EventKind
	InstanceID string
	Result     models.PartialResult
}

// InstanceInfo is a read-only view of a live instance.
type InstanceInfo struct {
	ID         string        `json:"id"`
	Query      string        `json:"query"`
	State      string        `json:"state"`
	Results    int           `json:"results"`
	Age        time.Duration `json:"age"`
	Completing bool          `json:"completing"`
	Pending    int           `json:"pending"`
}

// Ranker picks the best candidate for a query.
type Ranker interface {
	Rank(candidates []models.PartialResult, query string) (models.RankedResult, bool)
}

// Publisher emits a ranked result downstream.
type Publisher interface {
	Publish(ctx context.Context, msg models.ResultMessage) error
}

// EvictFunc observes instances leaving the store in a terminal state.
type EvictFunc func(id string, final State)

// Config tunes the store.
type Config struct {
	Timeout         time.Duration
	SweepInterval   time.Duration
	CompletionDelay time.Duration
	Shards          int
	Mailbox         int
	PublishTimeout  time.Duration
}

func (c Config) normalize() Config {
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Minute
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 15 * time.Second
	}
	if c.CompletionDelay < 0 {
		c.CompletionDelay = 0
	}
	if c.Shards <= 0 {
		c.Shards = 8
	}
	if c.Mailbox <= 0 {
		c.Mailbox = 256
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = 30 * time.Second
	}
	return c
}
