package settings

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"github.com/mohammad-safakhou/comicsearch/config"
	"github.com/mohammad-safakhou/comicsearch/models"
)

// Resolver turns settings documents into Params and caches the first successful result for
// its own lifetime. Failures are not cached, so a fixed configuration is picked up by the
// next job without a restart.
type Resolver struct {
	source Source
	logger *log.Logger

	mu     sync.Mutex
	cached *Params
}

func NewResolver(source Source, logger *log.Logger) *Resolver {
	if logger == nil {
		logger = log.New(log.Writer(), "[SETTINGS] ", log.LstdFlags)
	}
	return &Resolver{source: source, logger: logger}
}

// Resolve returns backend parameters. Every failure is a models.DispatchConfigError.
func (r *Resolver) Resolve(ctx context.Context) (Params, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cached != nil {
		return *r.cached, nil
	}

	raw, err := r.source.GetSettings(ctx, KeyDirectConnect)
	if err != nil {
		return Params{}, models.DispatchConfigError{Key: KeyDirectConnect, Err: err}
	}
	air, err := parseDirectConnect(raw)
	if err != nil {
		return Params{}, models.DispatchConfigError{Key: KeyDirectConnect, Err: err}
	}

	var idx Prowlarr
	raw, err = r.source.GetSettings(ctx, KeyProwlarr)
	if err != nil {
		r.logger.Printf("warn: indexer settings unavailable, searching peers only: %v", err)
	} else if idx, err = parseProwlarr(raw); err != nil {
		return Params{}, models.DispatchConfigError{Key: KeyProwlarr, Err: err}
	}

	params := Params{AirDCPP: air, Prowlarr: idx}
	r.cached = &params
	return params, nil
}

// Invalidate drops the cached parameters.
func (r *Resolver) Invalidate() {
	r.mu.Lock()
	r.cached = nil
	r.mu.Unlock()
}

// StaticFromConfig renders the airdcpp and prowlarr config sections in the settings
// service's document shapes.
func StaticFromConfig(cfg *config.Config) (StaticSource, error) {
	type hub struct {
		Value string `json:"value"`
	}
	dc := map[string]interface{}{}
	hubs := make([]hub, 0, len(cfg.AirDCPP.Hubs))
	for _, h := range cfg.AirDCPP.Hubs {
		hubs = append(hubs, hub{Value: h})
	}
	dc["client"] = map[string]interface{}{
		"host": map[string]string{
			"hostname": cfg.AirDCPP.Hostname,
			"protocol": cfg.AirDCPP.Protocol,
			"username": cfg.AirDCPP.Username,
			"password": cfg.AirDCPP.Password,
		},
		"hubs": hubs,
	}
	dcRaw, err := json.Marshal(dc)
	if err != nil {
		return nil, err
	}

	src := StaticSource{KeyDirectConnect: dcRaw}
	if cfg.Prowlarr.Host != "" {
		pr, err := json.Marshal(prowlarrDoc{
			Host:       cfg.Prowlarr.Host,
			Port:       cfg.Prowlarr.Port,
			APIKey:     cfg.Prowlarr.APIKey,
			IndexerIDs: cfg.Prowlarr.IndexerIDs,
			Categories: cfg.Prowlarr.Categories,
		})
		if err != nil {
			return nil, err
		}
		src[KeyProwlarr] = pr
	}
	return src, nil
}
