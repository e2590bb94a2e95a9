package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/mohammad-safakhou/comicsearch/config"
	"github.com/mohammad-safakhou/comicsearch/internal/broadcast"
	"github.com/mohammad-safakhou/comicsearch/internal/catalog"
	"github.com/mohammad-safakhou/comicsearch/internal/correlation"
	"github.com/mohammad-safakhou/comicsearch/internal/dispatch"
	"github.com/mohammad-safakhou/comicsearch/internal/enumerate"
	"github.com/mohammad-safakhou/comicsearch/internal/fanout"
	"github.com/mohammad-safakhou/comicsearch/internal/jobqueue"
	"github.com/mohammad-safakhou/comicsearch/internal/publish"
	"github.com/mohammad-safakhou/comicsearch/internal/queue/streams"
	"github.com/mohammad-safakhou/comicsearch/internal/ranking"
	"github.com/mohammad-safakhou/comicsearch/internal/scheduler"
	"github.com/mohammad-safakhou/comicsearch/internal/search/airdcpp"
	"github.com/mohammad-safakhou/comicsearch/internal/search/prowlarr"
	srv "github.com/mohammad-safakhou/comicsearch/internal/server"
	"github.com/mohammad-safakhou/comicsearch/internal/settings"
	"github.com/mohammad-safakhou/comicsearch/internal/telemetry"
)

func serveCMD(cfgPath *string) *cobra.Command {
	var addr string
	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the search processor, push listener and HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*cfgPath)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Address = addr
			}
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return runServe(ctx, cfg)
		},
	}
	serve.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	return serve
}

func runServe(ctx context.Context, cfg *config.Config) error {
	logger := newLogger("SERVE")

	rdb, err := connectRedis(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	defer func() { _ = rdb.Close() }()

	tel, err := telemetry.Setup(cfg.Telemetry)
	if err != nil {
		return err
	}
	reg, err := schemaRegistry(cfg.Queue)
	if err != nil {
		return err
	}
	streamPub := streams.NewPublisher(rdb, reg)

	var hub *broadcast.Hub
	var broadcaster publish.Broadcaster
	if cfg.Server.Enabled && cfg.Server.EventsEnabled {
		hub = broadcast.NewHub(cfg.Server.EventsBuffer)
		broadcaster = hub
	}
	publisher := publish.New(streamPub, broadcaster, publish.Config{
		Stream:       cfg.Queue.ResultStream,
		MaxAttempts:  cfg.Publisher.MaxAttempts,
		InitialDelay: cfg.Publisher.InitialDelay,
		MaxLen:       cfg.Queue.MaxLen,
	}, newLogger("PUBLISH"))

	source, err := settingsSource(cfg)
	if err != nil {
		return err
	}
	resolver := settings.NewResolver(source, newLogger("SETTINGS"))
	factory := &dispatch.ClientFactory{
		PushTimeout:       cfg.AirDCPP.RequestTimeout,
		IndexerTimeout:    cfg.Prowlarr.Timeout,
		IndexerMaxRetries: cfg.Prowlarr.MaxRetries,
		Limiter:           prowlarr.NewLimiter(cfg.Prowlarr.RatePerSecond),
	}

	store := correlation.NewStore(correlation.Config{
		Timeout:         cfg.Correlation.Timeout,
		SweepInterval:   cfg.Correlation.SweepInterval,
		CompletionDelay: cfg.Correlation.CompletionDelay,
		Shards:          cfg.Correlation.Shards,
		Mailbox:         cfg.Correlation.Mailbox,
	}, ranking.New(), publisher, newLogger("CORRELATION"),
		correlation.WithEvictHook(deleteRemoteInstance(ctx, resolver, factory, cfg.AirDCPP.RequestTimeout, logger)))

	name := consumerName()
	if err := streams.EnsureGroup(ctx, rdb, cfg.Queue.JobStream, cfg.Queue.Group); err != nil {
		return err
	}
	consumer := streams.NewConsumer(rdb, reg, cfg.Queue.Group, name)
	consumer.OnRejected(func(stream, id string, err error) {
		logger.Printf("warn: rejected entry %s on %s: %v", id, stream, err)
	})

	var claimer jobqueue.Claimer = jobqueue.NoopClaimer{}
	if cfg.Dispatcher.DedupWindow > 0 {
		claimer = jobqueue.NewRedisClaimer(rdb, "", cfg.Dispatcher.DedupWindow)
	}

	dispatcher := dispatch.New(newLogger("DISPATCH"), consumer, resolver, factory,
		fanout.NewCoordinator(store, cfg.Correlation.Timeout, newLogger("FANOUT")),
		claimer, dispatch.Options{
			Stream:        cfg.Queue.JobStream,
			Concurrency:   cfg.Dispatcher.Concurrency,
			ReadBlock:     cfg.Queue.ReadBlock,
			ReclaimIdle:   cfg.Queue.ReclaimIdle,
			JobTimeout:    cfg.Dispatcher.JobTimeout,
			Extensions:    cfg.AirDCPP.Extensions,
			Priority:      cfg.AirDCPP.Priority,
			IndexerLimit:  cfg.Prowlarr.Limit,
			IndexerOffset: cfg.Prowlarr.Offset,
		}, tel.Tracer)

	queue := jobqueue.New(streamPub, cfg.Queue.JobStream, cfg.Queue.MaxLen)
	producer := enumerate.NewProducer(catalog.NewHTTPClient(cfg.Catalog.BaseURL, cfg.Catalog.Timeout), queue, newLogger("ENUMERATE"))

	logger.Printf("starting consumer %s on %s (group %s)", name, cfg.Queue.JobStream, cfg.Queue.Group)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return store.Run(gctx) })
	g.Go(func() error { return dispatcher.Start(gctx) })
	g.Go(func() error { return runListener(gctx, resolver, store, cfg.AirDCPP.ReconnectMax, logger) })

	if cfg.Scheduler.Enabled {
		sched, err := scheduler.New(cfg.Scheduler.Cron, producer, cfg.Queue.EnumeratePage,
			scheduler.RedisLocker{Client: rdb}, cfg.Scheduler.LockTTL, newLogger("SCHED"))
		if err != nil {
			return err
		}
		g.Go(func() error { return sched.Start(gctx) })
	}

	if cfg.Server.Enabled {
		e := srv.New(srv.Deps{
			Producer:  producer,
			PageSize:  cfg.Queue.EnumeratePage,
			Instances: store,
			Hub:       hub,
			Indexer:   indexerSource(resolver, factory),
			Gatherer:  tel.Registry,
			Logger:    newLogger("HTTP"),
		})
		g.Go(func() error { return srv.Run(gctx, e, cfg.Server.Address, logger) })
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Printf("shutdown complete")
	return nil
}

func settingsSource(cfg *config.Config) (settings.Source, error) {
	if cfg.Settings.Source == "static" {
		return settings.StaticFromConfig(cfg)
	}
	return settings.NewHTTPSource(cfg.Settings.BaseURL, cfg.Settings.Timeout), nil
}

func consumerName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "comicsearch"
	}
	return fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
}

// runListener waits until the push backend settings resolve, then keeps the event socket open.
func runListener(ctx context.Context, resolver *settings.Resolver, sink airdcpp.Sink, maxBackoff time.Duration, logger *log.Logger) error {
	policy := backoff.NewExponentialBackOff()
	policy.MaxInterval = maxBackoff
	policy.MaxElapsedTime = 0

	var params settings.Params
	err := backoff.RetryNotify(func() error {
		var err error
		params, err = resolver.Resolve(ctx)
		if err != nil && ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(policy, ctx), func(err error, next time.Duration) {
		logger.Printf("warn: push backend settings unavailable, retrying in %s: %v", next, err)
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	listener := airdcpp.NewListener(dispatch.PushConn(params), sink, newLogger("AIRDCPP"), maxBackoff)
	return listener.Run(ctx)
}

// deleteRemoteInstance frees the push backend's instance once its correlation instance is gone.
func deleteRemoteInstance(ctx context.Context, resolver *settings.Resolver, factory *dispatch.ClientFactory, timeout time.Duration, logger *log.Logger) correlation.EvictFunc {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return func(id string, final correlation.State) {
		go func() {
			dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
			defer cancel()
			params, err := resolver.Resolve(dctx)
			if err != nil {
				logger.Printf("warn: cannot delete search instance %s (%s): %v", id, final, err)
				return
			}
			if err := factory.PushClient(params).DeleteInstance(dctx, id); err != nil {
				logger.Printf("warn: delete search instance %s (%s): %v", id, final, err)
			}
		}()
	}
}

func indexerSource(resolver *settings.Resolver, factory *dispatch.ClientFactory) srv.IndexerSource {
	return func(ctx context.Context) (srv.IndexerAPI, bool, error) {
		params, err := resolver.Resolve(ctx)
		if err != nil {
			return nil, false, err
		}
		client := factory.IndexerClient(params)
		if client == nil {
			return nil, false, nil
		}
		return client, true, nil
	}
}
