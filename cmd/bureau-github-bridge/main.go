// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/bureau-foundation/ghbridge/bridge"
	"github.com/bureau-foundation/ghbridge/lib/clock"
	"github.com/bureau-foundation/ghbridge/lib/config"
	"github.com/bureau-foundation/ghbridge/lib/format"
	"github.com/bureau-foundation/ghbridge/lib/github"
	"github.com/bureau-foundation/ghbridge/lib/matrixsender"
	"github.com/bureau-foundation/ghbridge/lib/process"
	"github.com/bureau-foundation/ghbridge/lib/queue"
	"github.com/bureau-foundation/ghbridge/lib/sealed"
	"github.com/bureau-foundation/ghbridge/lib/service"
	"github.com/bureau-foundation/ghbridge/lib/tokenstore"
	"github.com/bureau-foundation/ghbridge/lib/version"
	"github.com/bureau-foundation/ghbridge/messaging"
)

const binaryName = "bureau-github-bridge"

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var (
		configPath  string
		showVersion bool
	)
	flags := pflag.NewFlagSet(binaryName, pflag.ContinueOnError)
	flags.StringVar(&configPath, "config", "", "path to the bridge config file (default: $"+config.EnvironmentVariable+")")
	flags.BoolVar(&showVersion, "version", false, "print version information and exit")
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	if showVersion {
		version.Print(binaryName)
		return nil
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	logger := newLogger(cfg.Logging, os.Stderr)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting", "version", version.Info(), "environment", cfg.Environment)
	return runBridge(ctx, cfg, logger)
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.Load()
}

// newLogger builds the process logger from the logging section.
func newLogger(cfg config.LoggingConfig, output io.Writer) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	options := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(output, options))
	}
	return slog.New(slog.NewTextHandler(output, options))
}

// runBridge wires every component and serves until ctx is cancelled or
// a listener fails.
func runBridge(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	matrixClient, err := messaging.NewClient(messaging.ClientConfig{
		HomeserverURL: cfg.Bridge.HomeserverURL,
		Logger:        logger,
	})
	if err != nil {
		return err
	}
	session := matrixClient.AppService(cfg.Bridge.ASToken, cfg.Bridge.BotUserID())
	if err := session.RegisterUser(ctx, cfg.Bridge.BotLocalpart); err != nil {
		return fmt.Errorf("registering bot user: %w", err)
	}

	githubClient, err := github.NewClient(github.Config{
		BaseURL: cfg.GitHub.APIURL,
		Token:   cfg.GitHub.Token,
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	identity, err := sealed.LoadOrCreateIdentity(cfg.Tokens.IdentityFile)
	if err != nil {
		return fmt.Errorf("loading token identity: %w", err)
	}
	tokens := tokenstore.New(session, identity, logger)

	bus := queue.New(queue.Options{
		Logger:         logger,
		RequestTimeout: cfg.Queue.RequestTimeout,
	})
	defer bus.Close()

	sender := matrixsender.New(matrixsender.Options{
		Sessions: func(userID string) matrixsender.EventSender {
			if userID == "" {
				return session
			}
			return session.As(userID)
		},
		RatePerSecond:   cfg.Sender.RatePerSecond,
		Burst:           cfg.Sender.Burst,
		MaxRetryElapsed: cfg.Sender.MaxRetryElapsed,
		Logger:          logger,
	})
	sender.Subscribe(bus)

	namespace := bridge.Namespace{
		BotUserID:  cfg.Bridge.BotUserID(),
		UserPrefix: cfg.Bridge.UserPrefix,
		Domain:     cfg.Bridge.Domain,
	}

	var (
		oauthApp    *github.OAuthApp
		oauthLinker bridge.OAuthLinker
	)
	if cfg.GitHub.OAuth.Enabled() {
		oauthApp = &github.OAuthApp{
			ClientID:     cfg.GitHub.OAuth.ClientID,
			ClientSecret: cfg.GitHub.OAuth.ClientSecret,
			RedirectURI:  cfg.GitHub.OAuth.RedirectURI,
		}
		oauthLinker = oauthApp
	}

	engine, err := bridge.New(bridge.Options{
		Matrix:      session,
		Queue:       bus,
		Tracker:     githubClient,
		Trackers:    bridge.GitHubTrackers(githubClient),
		Tokens:      tokens,
		Ghosts:      bridge.NewGhosts(namespace, bridge.AppServiceProfiles{Session: session}, githubClient, logger),
		Namespace:   namespace,
		Processor:   format.NewProcessor(cfg.Bridge.PublicMediaURL()),
		OAuth:       oauthLinker,
		AliasPrefix: cfg.Bridge.AliasPrefix,
		DedupSize:   cfg.Dedup.Size,
		DedupWindow: cfg.Dedup.Window,
		DedupDelay:  cfg.Dedup.Delay,
		Logger:      logger,
	})
	if err != nil {
		return err
	}
	engine.Subscribe(bus)
	if err := engine.Initialize(ctx); err != nil {
		return fmt.Errorf("loading rooms: %w", err)
	}

	since, snapshot, err := service.InitialSync(ctx, session, syncFilter)
	if err != nil {
		return err
	}
	dispatcher := newSyncDispatcher(engine, logger)
	dispatcher.handleInitial(ctx, snapshot)

	appserviceServer := service.NewHTTPServer(service.HTTPServerConfig{
		Name:    "appservice",
		Address: cfg.Bridge.ListenAddress,
		Handler: NewAppServiceHandler(ctx, cfg.Bridge.HSToken, engine, session, logger),
		Logger:  logger,
	})

	webhookMux := http.NewServeMux()
	webhookMux.Handle("/", NewWebhookHandler([]byte(cfg.GitHub.WebhookSecret), bus, logger))
	if oauthApp != nil {
		webhookMux.Handle("/oauth", NewOAuthHandler(bus, oauthApp, logger))
	}
	webhookServer := service.NewHTTPServer(service.HTTPServerConfig{
		Name:    "webhook",
		Address: cfg.Webhook.ListenAddress,
		Handler: webhookMux,
		Logger:  logger,
	})

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error { return appserviceServer.Serve(groupCtx) })
	group.Go(func() error { return webhookServer.Serve(groupCtx) })
	group.Go(func() error {
		service.RunSyncLoop(groupCtx, session, service.SyncConfig{
			Filter:  syncFilter,
			Timeout: cfg.Bridge.SyncTimeout,
		}, since, dispatcher.handle, clock.Real(), logger)
		return nil
	})

	logger.Info("github bridge running",
		"bot", namespace.BotUserID,
		"rooms", engine.Registry().Len(),
		"appservice_address", cfg.Bridge.ListenAddress,
		"webhook_address", cfg.Webhook.ListenAddress,
		"oauth", oauthApp != nil,
	)

	err = group.Wait()
	logger.Info("shutting down")
	return err
}
