package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/comicsearch/internal/catalog"
	"github.com/mohammad-safakhou/comicsearch/internal/enumerate"
	"github.com/mohammad-safakhou/comicsearch/internal/jobqueue"
	"github.com/mohammad-safakhou/comicsearch/internal/queue/streams"
)

func enumerateCMD(cfgPath *string) *cobra.Command {
	var pageSize int
	cmd := &cobra.Command{
		Use:   "enumerate",
		Short: "Enumerate wanted comics once and queue a search job per issue",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*cfgPath)
			if err != nil {
				return err
			}
			if pageSize <= 0 {
				pageSize = cfg.Queue.EnumeratePage
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			rdb, err := connectRedis(ctx, cfg.Redis)
			if err != nil {
				return err
			}
			defer func() { _ = rdb.Close() }()

			reg, err := schemaRegistry(cfg.Queue)
			if err != nil {
				return err
			}
			queue := jobqueue.New(streams.NewPublisher(rdb, reg), cfg.Queue.JobStream, cfg.Queue.MaxLen)
			producer := enumerate.NewProducer(catalog.NewHTTPClient(cfg.Catalog.BaseURL, cfg.Catalog.Timeout), queue, newLogger("ENUMERATE"))

			sum, err := producer.Run(ctx, pageSize)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(sum)
		},
	}
	cmd.Flags().IntVar(&pageSize, "page-size", 0, "wanted items per catalog page (default from config)")
	return cmd
}
