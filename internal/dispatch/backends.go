package dispatch

import (
	"sync"
	"time"

	"github.com/mohammad-safakhou/comicsearch/internal/fanout"
	"github.com/mohammad-safakhou/comicsearch/internal/search/airdcpp"
	"github.com/mohammad-safakhou/comicsearch/internal/search/prowlarr"
	"github.com/mohammad-safakhou/comicsearch/internal/settings"
	"golang.org/x/time/rate"
)

// Backends builds backend clients for resolved parameters. The indexer is nil when none is
// configured.
type Backends interface {
	For(params settings.Params) (fanout.PushBackend, fanout.IndexerBackend)
}

// ClientFactory builds real clients and reuses them while the parameters stay the same.
// Every indexer client shares one rate limiter.
type ClientFactory struct {
	PushTimeout       time.Duration
	IndexerTimeout    time.Duration
	IndexerMaxRetries int
	Limiter           *rate.Limiter

	mu      sync.Mutex
	pushKey airdcpp.Conn
	push    *airdcpp.Client
	idxKey  string
	indexer *prowlarr.Client
}

func (f *ClientFactory) For(params settings.Params) (fanout.PushBackend, fanout.IndexerBackend) {
	push := f.PushClient(params)
	indexer := f.IndexerClient(params)
	if indexer == nil {
		return push, nil
	}
	return push, indexer
}

// PushClient returns the AirDC++ REST client for params.
func (f *ClientFactory) PushClient(params settings.Params) *airdcpp.Client {
	f.mu.Lock()
	defer f.mu.Unlock()

	conn := PushConn(params)
	if f.push == nil || conn != f.pushKey {
		f.push = airdcpp.NewClient(conn, f.PushTimeout)
		f.pushKey = conn
	}
	return f.push
}

// IndexerClient returns the Prowlarr client for params, or nil when no indexer is configured.
func (f *ClientFactory) IndexerClient(params settings.Params) *prowlarr.Client {
	if !params.Prowlarr.Enabled() {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	key := params.Prowlarr.BaseURL() + "|" + params.Prowlarr.APIKey
	if f.indexer == nil || key != f.idxKey {
		if f.Limiter == nil {
			f.Limiter = prowlarr.NewLimiter(0)
		}
		f.indexer = prowlarr.New(params.Prowlarr.BaseURL(), params.Prowlarr.APIKey,
			prowlarr.WithLimiter(f.Limiter),
			prowlarr.WithTimeout(f.IndexerTimeout),
			prowlarr.WithMaxRetries(f.IndexerMaxRetries),
		)
		f.idxKey = key
	}
	return f.indexer
}

// PushConn derives the AirDC++ connection from resolved parameters.
func PushConn(params settings.Params) airdcpp.Conn {
	return airdcpp.Conn{
		BaseURL:  params.AirDCPP.BaseURL(),
		Username: params.AirDCPP.Username,
		Password: params.AirDCPP.Password,
	}
}
