// Package prowlarr is the request/response indexer backend: one call returns the complete
// result set for a query.
package prowlarr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/mohammad-safakhou/comicsearch/internal/httputil"
	"github.com/mohammad-safakhou/comicsearch/models"
)

// Query is one indexer search.
type Query struct {
	Query      string
	IndexerIDs []int
	Categories []int
	Limit      int
	Offset     int
}

// Release is the subset of a Prowlarr search result the pipeline uses.
type Release struct {
	GUID        string    `json:"guid"`
	Title       string    `json:"title"`
	IndexerID   int       `json:"indexerId"`
	Indexer     string    `json:"indexer"`
	Size        int64     `json:"size"`
	DownloadURL string    `json:"downloadUrl"`
	MagnetURL   string    `json:"magnetUrl"`
	InfoURL     string    `json:"infoUrl"`
	Seeders     int       `json:"seeders"`
	Leechers    int       `json:"leechers"`
	PublishDate time.Time `json:"publishDate"`
	Protocol    string    `json:"protocol"`
}

// Indexer is an entry of GET /api/v1/indexer.
type Indexer struct {
	ID       int    `json:"id"`
	Name     string `json:"name"`
	Enable   bool   `json:"enable"`
	Protocol string `json:"protocol"`
	Privacy  string `json:"privacy"`
}

// Client calls one Prowlarr instance.
type Client struct {
	baseURL    string
	apiKey     string
	http       *http.Client
	limiter    *rate.Limiter
	maxRetries int
}

type Option func(*Client)

// WithLimiter shares a rate limiter between clients of the same instance.
func WithLimiter(l *rate.Limiter) Option {
	return func(c *Client) { c.limiter = l }
}

func WithMaxRetries(n int) Option {
	return func(c *Client) { c.maxRetries = n }
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// NewLimiter returns a limiter admitting perSecond calls with a burst of one. perSecond <= 0
// disables limiting.
func NewLimiter(perSecond float64) *rate.Limiter {
	if perSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Limit(perSecond), 1)
}

func New(baseURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		http:       &http.Client{Timeout: 30 * time.Second},
		limiter:    NewLimiter(0),
		maxRetries: 3,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Search runs q and maps every release to a PartialResult (guid → id, title → name).
func (c *Client) Search(ctx context.Context, q Query) ([]models.PartialResult, error) {
	params := url.Values{}
	params.Set("query", q.Query)
	params.Set("type", "search")
	for _, id := range q.IndexerIDs {
		params.Add("indexerIds", strconv.Itoa(id))
	}
	for _, cat := range q.Categories {
		params.Add("categories", strconv.Itoa(cat))
	}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}
	params.Set("offset", strconv.Itoa(q.Offset))

	var releases []Release
	if err := c.get(ctx, "search", "/api/v1/search?"+params.Encode(), &releases); err != nil {
		return nil, err
	}

	out := make([]models.PartialResult, 0, len(releases))
	for _, r := range releases {
		if r.GUID == "" {
			continue
		}
		out = append(out, models.PartialResult{
			ID:     r.GUID,
			Name:   r.Title,
			Source: models.SourceProwlarr,
			Metadata: map[string]interface{}{
				"indexer":     r.Indexer,
				"indexerId":   r.IndexerID,
				"size":        r.Size,
				"downloadUrl": r.DownloadURL,
				"magnetUrl":   r.MagnetURL,
				"infoUrl":     r.InfoURL,
				"seeders":     r.Seeders,
				"leechers":    r.Leechers,
				"protocol":    r.Protocol,
			},
		})
	}
	return out, nil
}

// Indexers lists the configured indexers.
func (c *Client) Indexers(ctx context.Context) ([]Indexer, error) {
	var out []Indexer
	if err := c.get(ctx, "indexers", "/api/v1/indexer", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Ping checks that the instance is reachable.
func (c *Client) Ping(ctx context.Context) error {
	return c.get(ctx, "ping", "/ping", nil)
}

func (c *Client) get(ctx context.Context, op, path string, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return models.BackendCallError{Backend: models.SourceProwlarr, Op: op, Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return models.BackendCallError{Backend: models.SourceProwlarr, Op: op, Permanent: true, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Api-Key", c.apiKey)

	if err := httputil.DoJSON(ctx, c.http, req, c.maxRetries, out); err != nil {
		callErr := models.BackendCallError{Backend: models.SourceProwlarr, Op: op, Err: err}
		var statusErr *httputil.StatusError
		if errors.As(err, &statusErr) {
			callErr.Status = statusErr.Status
			callErr.Permanent = !httputil.Retryable(statusErr.Status)
		}
		return callErr
	}
	return nil
}

func (c *Client) String() string {
	return fmt.Sprintf("prowlarr(%s)", c.baseURL)
}
