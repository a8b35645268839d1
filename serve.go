package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/onnwee/chatpoll/chat"
	"github.com/onnwee/chatpoll/config"
	"github.com/onnwee/chatpoll/db"
	"github.com/onnwee/chatpoll/ledger"
	"github.com/onnwee/chatpoll/oauth"
	"github.com/onnwee/chatpoll/server"
	"github.com/onnwee/chatpoll/telemetry"
	"github.com/onnwee/chatpoll/twitchapi"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Read chat and serve the live ranking over HTTP",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		log, closer := newLogger(cfg.LogLevel, cfg.LogFormat, cfg.LogFile)
		defer func() { _ = closer.Close() }()
		slog.SetDefault(log)
		return serve(cmd.Context(), cfg)
	},
}

// serve wires the ledger, chat reader, token store, config watcher and HTTP
// server and runs them until ctx is canceled or one of them fails.
func serve(ctx context.Context, cfg *config.Config) error {
	telemetry.Init()
	shutdownTracing, err := telemetry.InitTracing(cfg.OTLPEndpoint, "chatpoll", version)
	if err != nil {
		return fmt.Errorf("tracing initialization failed: %w", err)
	}
	defer shutdownTracing()

	l, err := ledger.New(cfg.Ledger, ledger.WithLogger(slog.Default().With(slog.String("component", "ledger"))))
	if err != nil {
		return err
	}
	slog.Info("ledger ready",
		slog.Int("max_size", cfg.Ledger.MaxSize),
		slog.Duration("expire_after", cfg.Ledger.ExpireAfter),
		slog.Int("top", cfg.Ledger.Top),
		slog.Float64("threshold", cfg.Ledger.Threshold))

	tokens, closeStore, err := openTokenStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	reader := chat.NewReader(l, cfg.TwitchChannel, chatCredentials(cfg, tokens))

	deps := server.Deps{
		Config: cfg,
		Ledger: l,
		Chat:   reader,
		Tokens: tokens,
	}
	appCreds := cfg.TwitchClientID != "" && cfg.TwitchClientSecret != ""
	if appCreds {
		deps.Users = &twitchapi.HelixClient{
			AppTokenSource: &twitchapi.TokenSource{ClientID: cfg.TwitchClientID, ClientSecret: cfg.TwitchClientSecret},
			ClientID:       cfg.TwitchClientID,
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return l.Run(gctx) })
	g.Go(func() error { return reader.Run(gctx) })
	if cfg.ConfigFile != "" {
		g.Go(func() error {
			return config.Watch(gctx, cfg.ConfigFile, func(fc *config.FileConfig) {
				applyFileConfig(fc, l, reader)
			})
		})
	}
	if appCreds {
		refresher := &oauth.Refresher{
			Store:    tokens,
			Provider: oauth.ProviderTwitch,
			Interval: 5 * time.Minute,
			Window:   15 * time.Minute,
			Refresh:  twitchRefreshFunc(cfg),
			OnRefresh: func(oauth.Token) {
				// IRC keeps the PASS it connected with
				reader.Restart()
			},
		}
		g.Go(func() error { return refresher.Run(gctx) })
	}
	g.Go(func() error {
		return server.Start(gctx, cfg.HTTPAddr, server.NewMux(gctx, deps))
	})

	slog.Info("chatpoll started", slog.String("addr", cfg.HTTPAddr), slog.String("channel", cfg.TwitchChannel), slog.String("version", version))
	err = g.Wait()
	slog.Info("shutting down")
	return err
}

// openTokenStore returns the Postgres store when DB_DSN is set, else an
// in-memory one that forgets logins on restart.
func openTokenStore(ctx context.Context, cfg *config.Config) (oauth.TokenStore, func(), error) {
	if cfg.DBDsn == "" {
		slog.Info("DB_DSN not set, OAuth tokens kept in memory")
		return oauth.NewMemoryStore(), func() {}, nil
	}
	database, err := db.Connect(ctx, cfg.DBDsn)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open db: %w", err)
	}
	closeDB := func() {
		if err := database.Close(); err != nil {
			slog.Error("failed to close database", slog.Any("err", err))
		}
	}
	slog.Info("running database migrations", slog.String("component", "db_migrate"))
	if err := db.Migrate(ctx, database); err != nil {
		closeDB()
		return nil, nil, fmt.Errorf("failed to migrate db: %w", err)
	}
	store, err := db.NewTokenStore(database, cfg.EncryptionKey)
	if err != nil {
		closeDB()
		return nil, nil, err
	}
	return store, closeDB, nil
}

// chatCredentials prefers the bot account from the environment, then the token
// stored by the login flow. Anything else reads chat anonymously.
func chatCredentials(cfg *config.Config, tokens oauth.TokenStore) chat.CredentialsFunc {
	return func(ctx context.Context) (chat.Credentials, error) {
		if cfg.TwitchBotUsername != "" && cfg.TwitchOAuthToken != "" {
			return chat.Credentials{Username: cfg.TwitchBotUsername, Token: cfg.TwitchOAuthToken}, nil
		}
		tok, err := tokens.GetToken(ctx, oauth.ProviderTwitch)
		if errors.Is(err, oauth.ErrNotFound) {
			return chat.Credentials{}, nil
		}
		if err != nil {
			return chat.Credentials{}, err
		}
		if tok.Login == "" || tok.Expired(time.Now()) {
			slog.Warn("stored twitch token unusable for chat, reading anonymously", slog.String("login", tok.Login))
			return chat.Credentials{}, nil
		}
		return chat.Credentials{Username: tok.Login, Token: tok.AccessToken}, nil
	}
}

// twitchRefreshFunc adapts the Twitch refresh grant to the refresher.
func twitchRefreshFunc(cfg *config.Config) oauth.RefreshFunc {
	return func(ctx context.Context, refreshToken string) (oauth.Token, error) {
		res, err := twitchapi.RefreshToken(ctx, cfg.TwitchClientID, cfg.TwitchClientSecret, refreshToken)
		if err != nil {
			return oauth.Token{}, err
		}
		tok := oauth.Token{
			AccessToken:  res.AccessToken,
			RefreshToken: res.RefreshToken,
			Expiry:       res.Expiry,
		}
		// Twitch returns scope as a JSON array
		if scopes, ok := res.Extra("scope").([]any); ok {
			parts := make([]string, 0, len(scopes))
			for _, s := range scopes {
				if str, ok := s.(string); ok {
					parts = append(parts, str)
				}
			}
			tok.Scope = strings.Join(parts, " ")
		}
		return tok, nil
	}
}

// applyFileConfig hot-applies a reloaded YAML file. Invalid ledger values are
// rejected as a whole and the running settings stay.
func applyFileConfig(fc *config.FileConfig, l *ledger.Ledger, reader *chat.Reader) {
	next := fc.Merge(l.Settings())
	if err := l.Apply(next); err != nil {
		slog.Warn("reloaded ledger settings rejected", slog.Any("err", err))
	} else {
		slog.Info("ledger settings reloaded",
			slog.Int("max_size", next.MaxSize),
			slog.Duration("expire_after", next.ExpireAfter),
			slog.Int("top", next.Top),
			slog.Float64("threshold", next.Threshold))
	}
	if fc.Channel != nil {
		reader.SwitchChannel(*fc.Channel)
	}
}
