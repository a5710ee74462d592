package main

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/ormasoftchile/stepwise/pkg/config"
	"github.com/ormasoftchile/stepwise/pkg/kernel/actions"
	"github.com/ormasoftchile/stepwise/pkg/logging"
	"github.com/ormasoftchile/stepwise/pkg/remote"
	"github.com/ormasoftchile/stepwise/pkg/store"
)

// app holds what every command derives from the project configuration.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	registry *actions.Registry
	remotes  []remote.Client
}

// loadApp resolves the configuration, builds the logger and the action
// registry, and connects the configured remote action providers.
func loadApp(ctx context.Context) (*app, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	cfg, err := config.Resolve(configPath, cwd)
	if err != nil {
		return nil, err
	}
	return newApp(ctx, cfg)
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	level := cfg.Log.Level
	if logLevel != "" {
		level = logLevel
	}
	logger, err := logging.New(level, cfg.Log.Format)
	if err != nil {
		return nil, err
	}
	registry, err := cfg.Registry()
	if err != nil {
		return nil, fmt.Errorf("actions: %w", err)
	}
	a := &app{cfg: cfg, logger: logger, registry: registry}
	for _, rc := range cfg.Remote {
		client, err := connectRemote(ctx, rc, logger)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("remote %s: %w", rc.Name, err)
		}
		a.remotes = append(a.remotes, client)
		if err := remote.Register(ctx, registry, client, logger.Named("remote").With(zap.String("provider", rc.Name))); err != nil {
			a.Close()
			return nil, fmt.Errorf("remote %s: %w", rc.Name, err)
		}
	}
	return a, nil
}

func connectRemote(ctx context.Context, rc config.RemoteConfig, logger *zap.Logger) (remote.Client, error) {
	if rc.URL != "" {
		return remote.NewHTTPClient(rc.URL, remote.WithLogger(logger.Named("remote")))
	}
	client := remote.NewStdioClient(rc.Command[0], rc.Command[1:]...)
	if err := client.Start(ctx); err != nil {
		return nil, err
	}
	return client, nil
}

// openStore opens the configured template store.
func (a *app) openStore() (store.Store, error) {
	st, err := store.Open(a.cfg.Storage.Driver, a.cfg.StorageDSN())
	if err != nil {
		return nil, fmt.Errorf("open template store: %w", err)
	}
	return st, nil
}

// Close shuts down remote providers and flushes the logger.
func (a *app) Close() {
	for _, c := range a.remotes {
		if err := c.Close(); err != nil {
			a.logger.Warn("close remote provider", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}
