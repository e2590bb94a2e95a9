// Package enumerate pages through the wanted catalog and turns wanted items into search
// jobs on the job queue.
package enumerate

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mohammad-safakhou/comicsearch/internal/catalog"
	"github.com/mohammad-safakhou/comicsearch/models"
)

var skippedJobs = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: "comicsearch",
	Subsystem: "enumerate",
	Name:      "skipped_jobs_total",
	Help:      "Wanted issues that could not be searched because their volume has no name.",
})

// Collectors returns the enumerator's metrics for registration.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{skippedJobs}
}

// Enumerator yields wanted items in pages.
type Enumerator struct {
	client catalog.Client
}

func NewEnumerator(client catalog.Client) *Enumerator {
	return &Enumerator{client: client}
}

// Pages lazily fetches pages starting at 1. Iteration stops after a short page, after the
// page the catalog reports as last, or before an empty page, so N items in pages of P arrive
// in exactly ceil(N/P) batches. A failed or malformed page yields a models.EnumerationError
// and ends the sequence.
func (e *Enumerator) Pages(ctx context.Context, pageSize int) iter.Seq2[[]models.WantedItem, error] {
	return func(yield func([]models.WantedItem, error) bool) {
		if pageSize <= 0 {
			yield(nil, models.EnumerationError{Page: 1, Err: fmt.Errorf("page size must be > 0, got %d", pageSize)})
			return
		}
		for page := 1; ; page++ {
			if err := ctx.Err(); err != nil {
				yield(nil, models.EnumerationError{Page: page, Err: err})
				return
			}
			res, err := e.client.GetWantedItems(ctx, page, pageSize)
			if err != nil {
				yield(nil, models.EnumerationError{Page: page, Err: err})
				return
			}
			if len(res.Items) == 0 {
				return
			}
			if !yield(res.Items, nil) {
				return
			}
			if len(res.Items) < pageSize || (res.Pages > 0 && page >= res.Pages) {
				return
			}
		}
	}
}

// Expander turns one wanted item into its search jobs.
type Expander struct {
	client catalog.Client
}

func NewExpander(client catalog.Client) *Expander {
	return &Expander{client: client}
}

// Jobs returns one job per wanted issue in order. Items wanted as a whole volume are expanded
// through the catalog's issue list.
func (x *Expander) Jobs(ctx context.Context, item models.WantedItem) ([]models.SearchJob, error) {
	issues := item.Wanted.Issues
	if item.Wanted.EntireVolume {
		var err error
		issues, err = x.client.GetIssuesForVolume(ctx, item.Wanted.Volume.ID)
		if err != nil {
			return nil, fmt.Errorf("issues for volume %d: %w", item.Wanted.Volume.ID, err)
		}
	}
	jobs := make([]models.SearchJob, 0, len(issues))
	for _, issue := range issues {
		jobs = append(jobs, models.NewSearchJob(item, issue))
	}
	return jobs, nil
}

// Enqueuer is the job queue as seen by the producer.
type Enqueuer interface {
	Enqueue(ctx context.Context, job models.SearchJob) error
}

// Summary counts one producer run.
type Summary struct {
	Pages   int `json:"pages"`
	Items   int `json:"items"`
	Jobs    int `json:"jobs"`
	Skipped int `json:"skipped"`
}

// Producer enqueues every job of every wanted item.
type Producer struct {
	enumerator *Enumerator
	expander   *Expander
	queue      Enqueuer
	logger     *log.Logger
}

func NewProducer(client catalog.Client, queue Enqueuer, logger *log.Logger) *Producer {
	if logger == nil {
		logger = log.New(log.Writer(), "[ENUMERATE] ", log.LstdFlags)
	}
	return &Producer{
		enumerator: NewEnumerator(client),
		expander:   NewExpander(client),
		queue:      queue,
		logger:     logger,
	}
}

// Run enumerates the catalog once. Enumeration and expansion failures abort the run as a
// models.EnumerationError; jobs enqueued before the failure stay queued.
func (p *Producer) Run(ctx context.Context, pageSize int) (Summary, error) {
	var sum Summary
	for items, err := range p.enumerator.Pages(ctx, pageSize) {
		if err != nil {
			p.logger.Printf("error enumerating wanted comics: %v", err)
			return sum, err
		}
		sum.Pages++
		for _, item := range items {
			sum.Items++
			jobs, err := p.expander.Jobs(ctx, item)
			if err != nil {
				enumErr := models.EnumerationError{Page: sum.Pages, Err: fmt.Errorf("expand %s: %w", item.ID, err)}
				p.logger.Printf("error expanding wanted comic: %v", enumErr)
				return sum, enumErr
			}
			for _, job := range jobs {
				if strings.TrimSpace(job.VolumeName) == "" {
					p.logger.Printf("error: cannot search issue %q of comic %s: volume has no name", job.IssueNumber, job.ComicID)
					skippedJobs.Inc()
					sum.Skipped++
					continue
				}
				if err := p.queue.Enqueue(ctx, job); err != nil {
					return sum, fmt.Errorf("page %d: %w", sum.Pages, err)
				}
				sum.Jobs++
			}
		}
	}
	p.logger.Printf("enumerated %d pages, %d wanted comics, %d jobs queued (%d skipped)", sum.Pages, sum.Items, sum.Jobs, sum.Skipped)
	if sum.Skipped > 0 {
		p.logger.Printf("warn: %d wanted issues were not searched; fix their volume names in the catalog", sum.Skipped)
	}
	return sum, nil
}

// IsEnumerationError reports whether err aborted a run during enumeration or expansion.
func IsEnumerationError(err error) bool {
	var enumErr models.EnumerationError
	return errors.As(err, &enumErr)
}
