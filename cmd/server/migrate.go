package main

import (
	"context"
	"fmt"

	"github.com/empiretcg/empire-server-go/internal/repository"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type migrator interface {
	Migrate(ctx context.Context) error
}

// migrateStore runs the schema migration of the innermost store that has
// one. Stores that create their schema on open are left alone.
func migrateStore(ctx context.Context, s repository.Store) error {
	for {
		if m, ok := s.(migrator); ok {
			return m.Migrate(ctx)
		}
		u, ok := s.(interface{ Unwrap() repository.Store })
		if !ok {
			return nil
		}
		s = u.Unwrap()
	}
}

func newMigrateCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the match store schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			logger, err := initLogger(cfg.Logging)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx := cmd.Context()
			store, err := repository.Open(ctx, cfg.Database, cfg.Persistence, logger)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer store.Close()

			if err := migrateStore(ctx, store); err != nil {
				return err
			}
			matches, err := store.ListMatches(ctx)
			if err != nil {
				return err
			}
			logger.Info("match store ready",
				zap.String("driver", cfg.Database.Driver),
				zap.Int("matches", len(matches)))
			return nil
		},
	}
}
