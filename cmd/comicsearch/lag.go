package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/comicsearch/internal/queue/streams"
)

func lagCMD(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "lag",
		Short: "Print pending and lag counts of the job consumer group",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*cfgPath)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			rdb, err := connectRedis(ctx, cfg.Redis)
			if err != nil {
				return err
			}
			defer func() { _ = rdb.Close() }()

			m, err := streams.GroupLag(ctx, rdb, cfg.Queue.JobStream, cfg.Queue.Group)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "stream=%s group=%s pending=%d lag=%d consumers=%d oldest_idle=%s\n",
				cfg.Queue.JobStream, cfg.Queue.Group, m.Pending, m.Lag, m.Consumers, m.OldestIdle)
			return nil
		},
	}
}
