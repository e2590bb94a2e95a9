package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mohammad-safakhou/comicsearch/internal/broadcast"
)

// Deps are the components the HTTP surface exposes. Nil fields disable their routes.
type Deps struct {
	Producer  Producer
	PageSize  int
	Instances InstanceLister
	Hub       *broadcast.Hub
	Indexer   IndexerSource
	Gatherer  prometheus.Gatherer
	Logger    *log.Logger
}

// New builds the echo instance with every route registered.
func New(deps Deps) *echo.Echo {
	if deps.Logger == nil {
		deps.Logger = log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	}
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		var he *echo.HTTPError
		if errors.As(err, &he) {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		deps.Logger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Content-Type"},
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	api := e.Group("/api")
	if deps.Producer != nil {
		(&AutodownloadHandler{Producer: deps.Producer, PageSize: deps.PageSize}).Register(api.Group("/autodownload"))
	}
	search := api.Group("/search")
	if deps.Instances != nil {
		(&SearchHandler{Instances: deps.Instances}).Register(search)
	}
	if deps.Hub != nil {
		(&EventsHandler{Hub: deps.Hub, Heartbeat: 15 * time.Second}).Register(search)
	}
	if deps.Indexer != nil {
		(&ProwlarrHandler{Indexer: deps.Indexer}).Register(api.Group("/prowlarr"))
	}
	return e
}

// Run serves e on addr until ctx is cancelled, then shuts down gracefully.
func Run(ctx context.Context, e *echo.Echo, addr string, logger *log.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Printf("listening on %s", addr)
		errCh <- e.Start(addr)
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return e.Shutdown(shutdownCtx)
	}
}
