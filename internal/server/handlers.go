package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/comicsearch/internal/broadcast"
	"github.com/mohammad-safakhou/comicsearch/internal/correlation"
	"github.com/mohammad-safakhou/comicsearch/internal/enumerate"
	"github.com/mohammad-safakhou/comicsearch/internal/search/prowlarr"
	"github.com/mohammad-safakhou/comicsearch/models"
)

// Producer runs one enumeration of the wanted catalog.
type Producer interface {
	Run(ctx context.Context, pageSize int) (enumerate.Summary, error)
}

// InstanceLister reports live correlation instances.
type InstanceLister interface {
	Snapshot(ctx context.Context) ([]correlation.InstanceInfo, error)
}

// IndexerAPI is the indexer management surface.
type IndexerAPI interface {
	Indexers(ctx context.Context) ([]prowlarr.Indexer, error)
	Ping(ctx context.Context) error
}

// IndexerSource returns the configured indexer; ok is false when none is configured.
type IndexerSource func(ctx context.Context) (api IndexerAPI, ok bool, err error)

// AutodownloadHandler triggers wanted-comic searches on demand.
type AutodownloadHandler struct {
	Producer Producer
	PageSize int
}

func (h *AutodownloadHandler) Register(g *echo.Group) {
	g.POST("/searchWantedComics", h.searchWanted)
}

func (h *AutodownloadHandler) searchWanted(c echo.Context) error {
	size := h.PageSize
	if raw := c.QueryParam("pageSize"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "pageSize must be a positive integer")
		}
		size = n
	}
	sum, err := h.Producer.Run(c.Request().Context(), size)
	if err != nil {
		var enumErr models.EnumerationError
		if errors.As(err, &enumErr) {
			return echo.NewHTTPError(http.StatusBadGateway, err.Error()).SetInternal(err)
		}
		return err
	}
	return c.JSON(http.StatusOK, sum)
}

// SearchHandler exposes live search instances.
type SearchHandler struct {
	Instances InstanceLister
}

func (h *SearchHandler) Register(g *echo.Group) {
	g.GET("/instances", h.instances)
}

func (h *SearchHandler) instances(c echo.Context) error {
	infos, err := h.Instances.Snapshot(c.Request().Context())
	if err != nil {
		return err
	}
	if infos == nil {
		infos = []correlation.InstanceInfo{}
	}
	return c.JSON(http.StatusOK, infos)
}

// EventsHandler streams broadcast events as server-sent events.
type EventsHandler struct {
	Hub       *broadcast.Hub
	Heartbeat time.Duration
}

func (h *EventsHandler) Register(g *echo.Group) {
	g.GET("/events", h.stream)
}

func (h *EventsHandler) stream(c echo.Context) error {
	events, cancel := h.Hub.Subscribe()
	defer cancel()

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set("Cache-Control", "no-cache")
	res.Header().Set("Connection", "keep-alive")
	res.WriteHeader(http.StatusOK)
	res.Flush()

	heartbeat := h.Heartbeat
	if heartbeat <= 0 {
		heartbeat = 15 * time.Second
	}
	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()

	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := fmt.Fprint(res, ": ping\n\n"); err != nil {
				return nil
			}
			res.Flush()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if _, err := fmt.Fprintf(res, "event: %s\ndata: %s\n\n", ev.Name, ev.Data); err != nil {
				return nil
			}
			res.Flush()
		}
	}
}

// ProwlarrHandler proxies indexer management calls.
type ProwlarrHandler struct {
	Indexer IndexerSource
}

func (h *ProwlarrHandler) Register(g *echo.Group) {
	g.GET("/indexers", h.indexers)
	g.GET("/ping", h.ping)
}

func (h *ProwlarrHandler) client(c echo.Context) (IndexerAPI, error) {
	api, ok, err := h.Indexer(c.Request().Context())
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusServiceUnavailable, err.Error()).SetInternal(err)
	}
	if !ok {
		return nil, echo.NewHTTPError(http.StatusNotFound, "no indexer configured")
	}
	return api, nil
}

func (h *ProwlarrHandler) indexers(c echo.Context) error {
	api, err := h.client(c)
	if err != nil {
		return err
	}
	list, err := api.Indexers(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error()).SetInternal(err)
	}
	return c.JSON(http.StatusOK, list)
}

func (h *ProwlarrHandler) ping(c echo.Context) error {
	api, err := h.client(c)
	if err != nil {
		return err
	}
	if err := api.Ping(c.Request().Context()); err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error()).SetInternal(err)
	}
	return c.JSON(http.StatusOK, map[string]bool{"ok": true})
}
