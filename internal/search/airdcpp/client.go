// Package airdcpp drives the AirDC++ web API: search instances are created and fed over
// REST, and their results arrive later as websocket events.
package airdcpp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mohammad-safakhou/comicsearch/internal/httputil"
	"github.com/mohammad-safakhou/comicsearch/models"
)

// Conn holds the web API address and credentials.
type Conn struct {
	BaseURL  string
	Username string
	Password string
}

// SearchQuery is the hub query body.
type SearchQuery struct {
	Pattern    string   `json:"pattern"`
	Extensions []string `json:"extensions,omitempty"`
}

// HubSearchRequest is the body of POST /api/v1/search/{id}/hub_search.
type HubSearchRequest struct {
	Query    SearchQuery `json:"query"`
	HubURLs  []string    `json:"hub_urls,omitempty"`
	Priority int         `json:"priority"`
}

// HubSearchResponse reports how many hubs the search was queued for.
type HubSearchResponse struct {
	QueueTime int    `json:"queue_time"`
	SearchID  string `json:"search_id"`
	Sent      int    `json:"sent"`
}

// Client issues REST calls. Push submission is not retried: a failed call is permanent for
// the job that made it.
type Client struct {
	conn Conn
	http *http.Client
}

func NewClient(conn Conn, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	conn.BaseURL = strings.TrimRight(conn.BaseURL, "/")
	return &Client{conn: conn, http: &http.Client{Timeout: timeout}}
}

// CreateInstance opens a search instance whose id correlates every later event.
// expiration <= 0 keeps the server default.
func (c *Client) CreateInstance(ctx context.Context, expiration time.Duration) (string, error) {
	body := map[string]interface{}{}
	if expiration > 0 {
		minutes := int(expiration.Round(time.Minute) / time.Minute)
		if minutes < 1 {
			minutes = 1
		}
		body["expiration"] = minutes
	}
	var resp struct {
		ID json.RawMessage `json:"id"`
	}
	if err := c.do(ctx, "create_instance", http.MethodPost, "/api/v1/search", body, &resp); err != nil {
		return "", err
	}
	id := instanceID(resp.ID)
	if id == "" {
		return "", models.BackendCallError{Backend: models.SourceAirDCPP, Op: "create_instance", Permanent: true, Err: errors.New("response has no instance id")}
	}
	return id, nil
}

// HubSearch sends the query to the hubs through instance id.
func (c *Client) HubSearch(ctx context.Context, id string, req HubSearchRequest) (HubSearchResponse, error) {
	var resp HubSearchResponse
	err := c.do(ctx, "hub_search", http.MethodPost, "/api/v1/search/"+id+"/hub_search", req, &resp)
	return resp, err
}

// DeleteInstance removes a finished instance from the server.
func (c *Client) DeleteInstance(ctx context.Context, id string) error {
	return c.do(ctx, "delete_instance", http.MethodDelete, "/api/v1/search/"+id, nil, nil)
}

func (c *Client) do(ctx context.Context, op, method, path string, in, out interface{}) error {
	var body []byte
	if in != nil {
		var err error
		if body, err = json.Marshal(in); err != nil {
			return models.BackendCallError{Backend: models.SourceAirDCPP, Op: op, Permanent: true, Err: err}
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.conn.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return models.BackendCallError{Backend: models.SourceAirDCPP, Op: op, Permanent: true, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.conn.Username != "" {
		req.SetBasicAuth(c.conn.Username, c.conn.Password)
	}
	if err := httputil.DoJSON(ctx, c.http, req, 0, out); err != nil {
		callErr := models.BackendCallError{Backend: models.SourceAirDCPP, Op: op, Permanent: true, Err: err}
		var statusErr *httputil.StatusError
		if errors.As(err, &statusErr) {
			callErr.Status = statusErr.Status
		}
		return callErr
	}
	return nil
}

// instanceID accepts both numeric and string ids; it also normalises result ids.
func instanceID(raw json.RawMessage) string {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return ""
	}
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		return str
	}
	return s
}

func (c Conn) String() string {
	return fmt.Sprintf("airdcpp(%s)", c.BaseURL)
}
