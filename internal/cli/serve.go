// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// serve.go - HTTP API server command for the chatai CLI.
//
// Command: serve
// Short:   Serve the HTTP chat API
//
// Examples:
//   chatai serve
//   chatai serve --listen 0.0.0.0:9000
//   chatai serve --no-store
package cli

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jeranaias/chatai/internal/config"
	"github.com/jeranaias/chatai/internal/metrics"
	"github.com/jeranaias/chatai/internal/server"
	"github.com/jeranaias/chatai/internal/storage"
)

// shutdownTimeout bounds the graceful shutdown after a signal.
const shutdownTimeout = 10 * time.Second

type serveOptions struct {
	listen  string
	noStore bool
	noWatch bool
}

func newServeCommand(a *app) *cobra.Command {
	var opts serveOptions
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP chat API",
		Long: `Serve the HTTP chat API in front of the model server.

The configuration file is watched; stream settings and the default model
are applied to new requests without a restart.`,
		Args: usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			addr := a.cfg.Server.ListenAddr
			if opts.listen != "" {
				addr = opts.listen
			}
			l, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("listen on %s: %w", addr, err)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "%s listening on http://%s\n", SuccessStyle.Render("chatai"), l.Addr())
			return a.serve(ctx, l, opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.listen, "listen", "", "listen address (overrides config)")
	f.BoolVar(&opts.noStore, "no-store", false, "disable conversation storage")
	f.BoolVar(&opts.noWatch, "no-watch", false, "do not reload the config file on change")
	return cmd
}

// serve runs the API server on l until ctx is cancelled.
func (a *app) serve(ctx context.Context, l net.Listener, opts serveOptions) error {
	m := metrics.New()

	var store *storage.Store
	if !opts.noStore {
		var err error
		store, err = a.openStore()
		if err != nil {
			l.Close()
			return err
		}
		defer store.Close()
	}

	srv := server.New(server.Options{
		Backend:      a.newUpstream(a.cfg),
		Session:      a.cfg.SessionConfig(a.log, m),
		DefaultModel: a.cfg.DefaultModel,
		Store:        store,
		Logger:       a.log,
		Metrics:      m,
		Version:      Version,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Serve(l)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if !opts.noWatch {
		g.Go(func() error {
			a.watchConfig(gctx, srv, m)
			return nil
		})
	}
	return g.Wait()
}

// watchConfig applies config file changes to srv until ctx is done.
func (a *app) watchConfig(ctx context.Context, srv *server.Server, m *metrics.Metrics) {
	path := a.configPath
	if path == "" {
		p, err := config.ConfigPathTOML()
		if err != nil {
			a.log.Warn("config watch disabled", zap.Error(err))
			return
		}
		path = p
	}

	log := a.log.Named("config")
	err := config.Watch(ctx, path, func(cfg *config.Config) {
		if cfg.Local.OllamaURL != a.cfg.Local.OllamaURL && a.ollamaURL == "" {
			log.Warn("ollama_url changed; restart to apply", zap.String("ollama_url", cfg.Local.OllamaURL))
		}
		srv.Reconfigure(cfg.SessionConfig(a.log, m), cfg.DefaultModel)
		log.Info("configuration reloaded",
			zap.String("path", path),
			zap.String("default_model", cfg.DefaultModel),
			zap.String("mode", cfg.Stream.Mode))
	}, config.WatchOptions{
		OnError: func(err error) {
			log.Warn("configuration reload failed", zap.Error(err))
		},
	})
	if err != nil {
		log.Warn("config watch disabled", zap.String("path", path), zap.Error(err))
	}
}
