package publish

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mohammad-safakhou/comicsearch/internal/broadcast"
	"github.com/mohammad-safakhou/comicsearch/internal/queue/streams"
	"github.com/mohammad-safakhou/comicsearch/models"
)

type flakyWriter struct {
	failures int
	calls    int
	stream   string
	event    string
}

func (w *flakyWriter) PublishRaw(_ context.Context, stream, eventType, _ string, _ interface{}, _ ...streams.PublishOption) (string, error) {
	w.calls++
	w.stream, w.event = stream, eventType
	if w.calls <= w.failures {
		return "", errors.New("connection reset")
	}
	return "1-0", nil
}

func sampleMessage() models.ResultMessage {
	return models.ResultMessage{
		Query:         "Batman 12 2020",
		CorrelationID: "abc",
		Result: models.RankedResult{
			PartialResult: models.PartialResult{ID: "1", Name: "Batman 012 (2020)"},
			Score:         0.91,
			Query:         "Batman 12 2020",
		},
	}
}

func TestPublishRetriesThenBroadcasts(t *testing.T) {
	w := &flakyWriter{failures: 2}
	hub := broadcast.NewHub(2)
	events, cancel := hub.Subscribe()
	defer cancel()

	p := New(w, hub, Config{Stream: "results", MaxAttempts: 3, InitialDelay: time.Millisecond}, nil)
	if err := p.Publish(context.Background(), sampleMessage()); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if w.calls != 3 || w.stream != "results" || w.event != streams.EventSearchResult {
		t.Fatalf("unexpected writes: %+v", w)
	}
	select {
	case ev := <-events:
		if ev.Name != broadcast.EventSearchResultsAvailable {
			t.Fatalf("unexpected broadcast %s", ev.Name)
		}
	default:
		t.Fatalf("expected a broadcast after publishing")
	}
}

func TestPublishGivesUpWithPublishError(t *testing.T) {
	w := &flakyWriter{failures: 10}
	hub := broadcast.NewHub(2)
	events, cancel := hub.Subscribe()
	defer cancel()

	p := New(w, hub, Config{Stream: "results", MaxAttempts: 3, InitialDelay: time.Millisecond}, nil)
	err := p.Publish(context.Background(), sampleMessage())
	var pubErr models.PublishError
	if !errors.As(err, &pubErr) {
		t.Fatalf("expected PublishError, got %v", err)
	}
	if pubErr.Attempts != 3 || w.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d (writer saw %d)", pubErr.Attempts, w.calls)
	}
	select {
	case ev := <-events:
		t.Fatalf("lost result must not be broadcast, got %+v", ev)
	default:
	}
}

func TestPublishWithoutBroadcaster(t *testing.T) {
	p := New(&flakyWriter{}, nil, Config{Stream: "results"}, nil)
	if err := p.Publish(context.Background(), sampleMessage()); err != nil {
		t.Fatalf("publish: %v", err)
	}
}
