package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/stemsi/exstem-engine/internal/config"
	"github.com/stemsi/exstem-engine/internal/database"
	"github.com/stemsi/exstem-engine/internal/logger"
	"github.com/stemsi/exstem-engine/internal/repository"
	"github.com/stemsi/exstem-engine/internal/service"
)

// app is what every subcommand needs, built lazily so `--help` works
// without a database.
type app struct {
	cfg    *config.Config
	log    zerolog.Logger
	stores *repository.Stores
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "examctl",
		Short:         "Operator tooling for the ExStem engine",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			a.cfg = config.Load()
			a.log = logger.Setup(a.cfg.LogLevel, a.cfg.LogFormat)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.stores != nil {
				a.stores.Close()
			}
		},
	}

	root.AddCommand(
		newMigrateCmd(a),
		newImportTestCmd(a),
		newEnrollCmd(a),
		newIssueTokenCmd(a),
	)
	return root
}

func (a *app) openStores(ctx context.Context) (*repository.Stores, error) {
	if a.stores != nil {
		return a.stores, nil
	}
	s, err := repository.Open(ctx, a.cfg, a.log)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	a.stores = s
	return s, nil
}

// testService wires the same TestService the server uses, so imports warm
// the cache when Redis is configured.
func (a *app) testService(ctx context.Context) (*service.TestService, func(), error) {
	stores, err := a.openStores(ctx)
	if err != nil {
		return nil, nil, err
	}
	rdb, err := database.NewRedisClient(ctx, a.cfg, a.log)
	if err != nil {
		a.log.Warn().Err(err).Msg("Redis unavailable, test cache will not be warmed")
		rdb = nil
	}
	closeFn := func() {
		if rdb != nil {
			rdb.Close()
		}
	}
	return service.NewTestService(stores.Tests, rdb, a.cfg.TestCacheTTL, a.log), closeFn, nil
}
