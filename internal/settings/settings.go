// Package settings resolves backend connection parameters from the settings store.
package settings

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mohammad-safakhou/comicsearch/internal/httputil"
)

const (
	KeyDirectConnect = "directConnect"
	KeyProwlarr      = "prowlarr"
)

// Source returns the raw settings document stored under key.
type Source interface {
	GetSettings(ctx context.Context, key string) (json.RawMessage, error)
}

// HTTPSource reads settings from the settings service.
type HTTPSource struct {
	baseURL string
	http    *http.Client
}

func NewHTTPSource(baseURL string, timeout time.Duration) *HTTPSource {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPSource{baseURL: strings.TrimRight(baseURL, "/"), http: &http.Client{Timeout: timeout}}
}

func (s *HTTPSource) GetSettings(ctx context.Context, key string) (json.RawMessage, error) {
	params := url.Values{"settingsKey": {key}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/api/settings/getSettings?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	var raw json.RawMessage
	if err := httputil.DoJSON(ctx, s.http, req, 1, &raw); err != nil {
		return nil, fmt.Errorf("get settings %s: %w", key, err)
	}
	return raw, nil
}

// StaticSource serves fixed documents, typically built from the config file.
type StaticSource map[string]json.RawMessage

func (s StaticSource) GetSettings(_ context.Context, key string) (json.RawMessage, error) {
	raw, ok := s[key]
	if !ok {
		return nil, fmt.Errorf("settings %q not configured", key)
	}
	return raw, nil
}

// AirDCPP holds the push-backend connection and the hubs to search.
type AirDCPP struct {
	Hostname string
	Protocol string
	Username string
	Password string
	Hubs     []string
}

// BaseURL returns protocol://hostname.
func (a AirDCPP) BaseURL() string {
	proto := a.Protocol
	if proto == "" {
		proto = "http"
	}
	return fmt.Sprintf("%s://%s", proto, a.Hostname)
}

// Prowlarr holds the indexer connection.
type Prowlarr struct {
	Host       string
	Port       string
	APIKey     string
	IndexerIDs []int
	Categories []int
}

// Enabled reports whether an indexer is configured at all.
func (p Prowlarr) Enabled() bool {
	return strings.TrimSpace(p.Host) != ""
}

// BaseURL returns http://host:port.
func (p Prowlarr) BaseURL() string {
	if p.Port == "" {
		return "http://" + p.Host
	}
	return fmt.Sprintf("http://%s:%s", p.Host, p.Port)
}

// Params is everything a dispatcher needs to reach both backends.
type Params struct {
	AirDCPP  AirDCPP
	Prowlarr Prowlarr
}

type directConnectDoc struct {
	Client struct {
		Host struct {
			Hostname string `json:"hostname"`
			Protocol string `json:"protocol"`
			Username string `json:"username"`
			Password string `json:"password"`
		} `json:"host"`
		Hubs []struct {
			Value string `json:"value"`
		} `json:"hubs"`
	} `json:"client"`
}

type prowlarrDoc struct {
	Host       string `json:"host"`
	Port       string `json:"port"`
	APIKey     string `json:"apiKey"`
	IndexerIDs []int  `json:"indexerIds"`
	Categories []int  `json:"categories"`
}

func parseDirectConnect(raw json.RawMessage) (AirDCPP, error) {
	var doc directConnectDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return AirDCPP{}, fmt.Errorf("decode: %w", err)
	}
	out := AirDCPP{
		Hostname: strings.TrimSpace(doc.Client.Host.Hostname),
		Protocol: strings.TrimSpace(doc.Client.Host.Protocol),
		Username: doc.Client.Host.Username,
		Password: doc.Client.Host.Password,
	}
	for _, hub := range doc.Client.Hubs {
		if v := strings.TrimSpace(hub.Value); v != "" {
			out.Hubs = append(out.Hubs, v)
		}
	}
	if out.Hostname == "" {
		return AirDCPP{}, fmt.Errorf("client.host.hostname is empty")
	}
	if len(out.Hubs) == 0 {
		return AirDCPP{}, fmt.Errorf("no hubs configured")
	}
	return out, nil
}

func parseProwlarr(raw json.RawMessage) (Prowlarr, error) {
	var doc prowlarrDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Prowlarr{}, fmt.Errorf("decode: %w", err)
	}
	out := Prowlarr{
		Host:       strings.TrimSpace(doc.Host),
		Port:       strings.TrimSpace(doc.Port),
		APIKey:     strings.TrimSpace(doc.APIKey),
		IndexerIDs: doc.IndexerIDs,
		Categories: doc.Categories,
	}
	if out.Enabled() && out.APIKey == "" {
		return Prowlarr{}, fmt.Errorf("apiKey is empty")
	}
	return out, nil
}
