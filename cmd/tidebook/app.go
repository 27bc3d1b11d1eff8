package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/tidebook/tidebook/internal/config"
	"github.com/tidebook/tidebook/internal/lifecycle"
	"github.com/tidebook/tidebook/internal/logger"
	"github.com/tidebook/tidebook/internal/remote"
	"github.com/tidebook/tidebook/internal/store"
	"github.com/tidebook/tidebook/internal/syncer"
)

// app is the assembled stack a command operates on.
type app struct {
	cfg       config.Config
	log       zerolog.Logger
	local     *store.DB
	remote    *remote.SQLite
	sync      *syncer.Coordinator
	lifecycle *lifecycle.Coordinator
}

// openApp loads the config and wires the full stack.
func openApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(workDir)
	if err != nil {
		return nil, err
	}
	log, err := logger.Setup(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("failed to configure logging: %w", err)
	}

	local, err := store.Open(cfg.LocalDB)
	if err != nil {
		return nil, err
	}
	if err := local.InitSchema(ctx); err != nil {
		local.Close()
		return nil, err
	}

	rem, err := remote.OpenSQLite(cfg.RemoteDB)
	if err != nil {
		local.Close()
		return nil, err
	}
	if err := rem.InitSchema(ctx); err != nil {
		rem.Close()
		local.Close()
		return nil, err
	}

	sc := syncer.New(local, rem, log, syncer.WithMaxRetries(cfg.MaxRetries))
	var lcOpts []lifecycle.Option
	if cfg.AllowNegativeBalance {
		lcOpts = append(lcOpts, lifecycle.WithAllowNegativeBalance())
	}
	return &app{
		cfg:       cfg,
		log:       log,
		local:     local,
		remote:    rem,
		sync:      sc,
		lifecycle: lifecycle.New(local, rem, sc, log, lcOpts...),
	}, nil
}

// goOnline flips connectivity on, which drains the queue.
func (a *app) goOnline(ctx context.Context) error {
	return a.sync.SetOnline(ctx, true)
}

func (a *app) close() {
	if err := a.remote.Close(); err != nil {
		a.log.Warn().Err(err).Msg("failed to close remote store")
	}
	if err := a.local.Close(); err != nil {
		a.log.Warn().Err(err).Msg("failed to close local store")
	}
}
