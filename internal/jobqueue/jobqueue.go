// Package jobqueue carries SearchJobs over a Redis stream with at-least-once delivery.
package jobqueue

import (
	"context"
	"fmt"
	"strings"

	"github.com/mohammad-safakhou/comicsearch/internal/queue/streams"
	"github.com/mohammad-safakhou/comicsearch/models"
)

// Writer is the subset of the streams publisher the queue needs.
type Writer interface {
	PublishRaw(ctx context.Context, stream, eventType, version string, payload interface{}, opts ...streams.PublishOption) (string, error)
}

// Queue enqueues one stream entry per SearchJob.
type Queue struct {
	writer Writer
	stream string
	maxLen int64
}

// New returns a queue writing to stream. maxLen <= 0 leaves the stream uncapped.
func New(writer Writer, stream string, maxLen int64) *Queue {
	return &Queue{writer: writer, stream: stream, maxLen: maxLen}
}

// Stream returns the job stream name.
func (q *Queue) Stream() string { return q.stream }

// Enqueue appends job to the stream. Durability from here on is Redis' concern.
func (q *Queue) Enqueue(ctx context.Context, job models.SearchJob) error {
	if strings.TrimSpace(job.VolumeName) == "" {
		return fmt.Errorf("enqueue job for comic %s: volume name is empty", job.ComicID)
	}
	if _, err := q.writer.PublishRaw(ctx, q.stream, streams.EventSearchJob, streams.VersionV1, job, streams.WithMaxLenApprox(q.maxLen)); err != nil {
		return fmt.Errorf("enqueue job %s: %w", job.Key(), err)
	}
	return nil
}

// Decode extracts the SearchJob carried by a consumed message.
func Decode(msg streams.Message) (models.SearchJob, error) {
	if msg.Envelope.EventType != streams.EventSearchJob {
		return models.SearchJob{}, fmt.Errorf("message %s: unexpected event type %q", msg.ID, msg.Envelope.EventType)
	}
	var job models.SearchJob
	if err := msg.Envelope.Decode(&job); err != nil {
		return models.SearchJob{}, fmt.Errorf("message %s: %w", msg.ID, err)
	}
	if strings.TrimSpace(job.VolumeName) == "" {
		return models.SearchJob{}, fmt.Errorf("message %s: job has no volume name", msg.ID)
	}
	return job, nil
}
