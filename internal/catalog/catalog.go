// Package catalog talks to the library gateway that owns the wanted-comics listing and the
// ComicVine issue lookups.
package catalog

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mohammad-safakhou/comicsearch/internal/httputil"
	"github.com/mohammad-safakhou/comicsearch/models"
)

// Client is the catalog collaborator consumed by the enumerator.
type Client interface {
	GetWantedItems(ctx context.Context, page, limit int) (models.WantedPage, error)
	GetIssuesForVolume(ctx context.Context, volumeID int) ([]models.Issue, error)
}

// HTTPClient implements Client against the gateway's REST aliases.
type HTTPClient struct {
	baseURL    string
	http       *http.Client
	maxRetries int
}

// NewHTTPClient returns a client rooted at baseURL (e.g. http://library:3000).
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		http:       &http.Client{Timeout: timeout},
		maxRetries: 2,
	}
}

// wantedPageWire uses pointers so absent fields can be told apart from zero values.
type wantedPageWire struct {
	Items *[]models.WantedItem `json:"items"`
	Page  *int                 `json:"page"`
	Pages *int                 `json:"pages"`
	Total *int                 `json:"total"`
}

func (w wantedPageWire) toPage() (models.WantedPage, error) {
	var missing []string
	if w.Items == nil {
		missing = append(missing, "items")
	}
	if w.Page == nil {
		missing = append(missing, "page")
	}
	if w.Pages == nil {
		missing = append(missing, "pages")
	}
	if w.Total == nil {
		missing = append(missing, "total")
	}
	if len(missing) > 0 {
		return models.WantedPage{}, fmt.Errorf("%w: missing %s", models.ErrMalformedPage, strings.Join(missing, ", "))
	}
	return models.WantedPage{Items: *w.Items, Page: *w.Page, Pages: *w.Pages, Total: *w.Total}, nil
}

// GetWantedItems fetches one page of wanted comics. Pages are 1-based.
func (c *HTTPClient) GetWantedItems(ctx context.Context, page, limit int) (models.WantedPage, error) {
	params := url.Values{
		"page":  {strconv.Itoa(page)},
		"limit": {strconv.Itoa(limit)},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/library/getComicsMarkedAsWanted?"+params.Encode(), nil)
	if err != nil {
		return models.WantedPage{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	var wire wantedPageWire
	if err := httputil.DoJSON(ctx, c.http, req, c.maxRetries, &wire); err != nil {
		return models.WantedPage{}, fmt.Errorf("wanted items page %d: %w", page, err)
	}
	return wire.toPage()
}

// GetIssuesForVolume lists every issue of a volume in publication order.
func (c *HTTPClient) GetIssuesForVolume(ctx context.Context, volumeID int) ([]models.Issue, error) {
	params := url.Values{"volumeId": {strconv.Itoa(volumeID)}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/comicvine/getIssuesForVolume?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	var issues []models.Issue
	if err := httputil.DoJSON(ctx, c.http, req, c.maxRetries, &issues); err != nil {
		return nil, fmt.Errorf("issues for volume %d: %w", volumeID, err)
	}
	return issues, nil
}
