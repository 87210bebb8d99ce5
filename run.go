package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"
	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"

	"github.com/onnwee/twitcher/chat"
	"github.com/onnwee/twitcher/config"
	"github.com/onnwee/twitcher/db"
	"github.com/onnwee/twitcher/oauth"
	"github.com/onnwee/twitcher/plugin"
	"github.com/onnwee/twitcher/plugins/chatlog"
	"github.com/onnwee/twitcher/plugins/relay"
	"github.com/onnwee/twitcher/plugins/script"
	"github.com/onnwee/twitcher/plugins/translator"
	"github.com/onnwee/twitcher/server"
	"github.com/onnwee/twitcher/telemetry"
	"github.com/onnwee/twitcher/twitchapi"
)

func runCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Connect to chat and serve the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts)
		},
	}
}

func run(parent context.Context, opts *rootOptions) error {
	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		return err
	}
	logger := slog.Default()

	telemetry.Init()
	shutdownTracing, err := telemetry.InitTracing(cfg.OTLPEndpoint, "twitcher", version)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	defer shutdownTracing()

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		database *sql.DB
		tokens   *db.TokenStore
	)
	if cfg.DBDsn != "" {
		if database, err = db.Open(ctx, cfg.DBDsn); err != nil {
			return err
		}
		defer func() {
			if err := database.Close(); err != nil {
				logger.Error("failed to close database", slog.Any("err", err))
			}
		}()
		logger.Info("running database migrations", slog.String("component", "db_migrate"))
		if err := db.Migrate(database); err != nil {
			return err
		}
		if tokens, err = db.NewTokenStore(database, cfg.EncryptionKey); err != nil {
			return err
		}
	} else {
		logger.Info("no database configured; chat log and stored tokens disabled")
	}

	var nc *nats.Conn
	if cfg.NATSURL != "" {
		nc, err = nats.Connect(cfg.NATSURL, nats.Name("twitcher"), nats.MaxReconnects(-1))
		if err != nil {
			return fmt.Errorf("nats connect %s: %w", cfg.NATSURL, err)
		}
		defer func() {
			if err := nc.Drain(); err != nil {
				logger.Warn("nats drain failed", slog.Any("err", err))
			}
		}()
	}

	copts := chat.Options{Logger: logger}
	if tokens != nil {
		copts.Passwords = tokens
	}
	client, err := chat.New(cfg, copts)
	if err != nil {
		return err
	}
	catalog := newCatalog(database, nc, logger)
	if err := loadPlugins(client, catalog, cfg); err != nil {
		return err
	}

	reload := func(context.Context) error {
		next, err := loadConfig(cfg.Path)
		if err != nil {
			return err
		}
		return client.ApplyConfig(next)
	}

	sopts := server.Options{
		Bot:       client,
		Catalog:   catalog,
		DB:        database,
		Validator: &twitchapi.Client{},
		Reload:    reload,
		Auth: server.AuthConfig{
			Username: cfg.AdminUsername,
			Password: cfg.AdminPassword,
			Token:    cfg.AdminToken,
		},
		RateLimit: server.LoadRateLimitConfig(),
		Logger:    logger,
	}
	var oc *oauth2.Config
	if cfg.TwitchClientID != "" && cfg.TwitchClientSecret != "" {
		oc = twitchapi.OAuthConfig(cfg.TwitchClientID, cfg.TwitchClientSecret, cfg.TwitchRedirectURI)
		sopts.OAuth = oc
	}
	if tokens != nil {
		sopts.Tokens = tokens
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return client.Run(gctx) })
	g.Go(func() error { return server.Start(gctx, cfg.HTTPAddr, sopts) })
	if tokens != nil && oc != nil {
		r := &oauth.Refresher{
			Store:    tokens,
			Provider: db.ProviderTwitch,
			Refresh: func(rctx context.Context, refreshToken string) (*oauth2.Token, error) {
				return twitchapi.Refresh(rctx, oc, refreshToken)
			},
			Logger: logger,
		}
		g.Go(func() error {
			r.Run(gctx)
			return nil
		})
	}
	if cfg.Path != "" {
		g.Go(func() error {
			return config.Watch(gctx, cfg.Path, func(next *config.Config) {
				if err := client.ApplyConfig(next); err != nil {
					logger.Warn("config apply failed", slog.Any("err", err))
				}
			})
		})
	}
	g.Go(func() error {
		hup := make(chan os.Signal, 1)
		signal.Notify(hup, syscall.SIGHUP)
		defer signal.Stop(hup)
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-hup:
				if err := reload(gctx); err != nil {
					logger.Warn("reload on SIGHUP failed", slog.Any("err", err))
				}
			}
		}
	})

	err = g.Wait()
	logger.Info("shutting down")
	return err
}

// newCatalog registers every plugin the process can build. Plugins needing a
// database or NATS fail to build when those are not configured.
func newCatalog(database *sql.DB, nc *nats.Conn, logger *slog.Logger) *plugin.Catalog {
	var sink chatlog.Sink
	if database != nil {
		sink = chatlog.DBSink{DB: database}
	}
	var conn relay.Conn
	if nc != nil {
		conn = nc
	}
	c := plugin.NewCatalog()
	c.Register(translator.Name, translator.Factory)
	c.Register(chatlog.Name, chatlog.NewFactory(sink, logger))
	c.Register(relay.Name, relay.NewFactory(conn, logger))
	c.Register(script.Name, script.Factory)
	return c
}

// loadPlugins loads the translator first, then the configured plugins in order.
func loadPlugins(client *chat.Client, catalog *plugin.Catalog, cfg *config.Config) error {
	list := []config.PluginConfig{{Name: translator.Name}}
	for _, pc := range cfg.Plugins {
		if pc.Name == translator.Name {
			list[0] = pc
			continue
		}
		list = append(list, pc)
	}
	for _, pc := range list {
		p, err := catalog.New(pc.Name, client, pc.Settings)
		if err != nil {
			return fmt.Errorf("plugin %s: %w", pc.Name, err)
		}
		if err := client.Plugins().Load(p); err != nil {
			return err
		}
	}
	return nil
}
