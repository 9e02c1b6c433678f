// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/jeranaias/rigrun-chat/internal/cloud"
	"github.com/jeranaias/rigrun-chat/internal/config"
	chatctx "github.com/jeranaias/rigrun-chat/internal/context"
	"github.com/jeranaias/rigrun-chat/internal/logging"
	"github.com/jeranaias/rigrun-chat/internal/session"
	"github.com/jeranaias/rigrun-chat/internal/storage"
	"github.com/jeranaias/rigrun-chat/internal/telemetry"
)

const (
	// fileCacheEntries bounds the @file read cache.
	fileCacheEntries = 128

	// maxPromptBytes bounds a prompt read from stdin.
	maxPromptBytes = 1 << 20
)

// App wires configuration, persistence and the chat engine for one command run.
type App struct {
	Live     *config.Live
	Log      zerolog.Logger
	DB       *storage.SQLiteStore
	Store    *session.Store
	Client   *cloud.StreamingClient
	Resolver *chatctx.Resolver
	Costs    *telemetry.CostTracker
	Metrics  *telemetry.Metrics
	Registry *prometheus.Registry
}

// openApp builds an App from the root persistent flags.
func openApp(cmd *cobra.Command) (*App, error) {
	cfgPath, _ := cmd.Flags().GetString("config")
	if cfgPath == "" {
		p, err := config.DefaultPath()
		if err != nil {
			return nil, err
		}
		cfgPath = p
	}

	cfg, err := config.LoadFromPath(cfgPath)
	if err != nil {
		return nil, err
	}

	level := cfg.Log.Level
	if flagLevel, _ := cmd.Flags().GetString("log-level"); flagLevel != "" {
		level = flagLevel
	}
	logger, err := logging.New(cmd.ErrOrStderr(), level)
	if err != nil {
		return nil, err
	}

	dbPath, _ := cmd.Flags().GetString("db")
	if dbPath == "" {
		if dbPath, err = cfg.StoragePath(); err != nil {
			return nil, err
		}
	}
	db, err := storage.Open(dbPath)
	if err != nil {
		return nil, err
	}
	saved, current, err := db.LoadAll()
	if err != nil {
		db.Close()
		return nil, err
	}

	store := session.NewStore(session.WithPersister(db), session.WithLogger(logger))
	store.Restore(saved, current)

	live := config.NewLive(cfg, cfgPath)
	registry := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(registry)
	costs := telemetry.NewCostTracker()

	reconciler := cloud.NewCostReconciler(live, append(cfg.CostOptions(),
		cloud.WithCostLogger(logger),
		cloud.WithCostMetrics(metrics),
	)...)
	client := cloud.NewStreamingClient(store, live,
		cloud.WithLogger(logger),
		cloud.WithReconciler(reconciler),
		cloud.WithMetrics(metrics),
		cloud.WithCostTracker(costs),
		cloud.WithCostAttempts(cfg.Cost.MaxAttempts),
	)

	resolverCfg := chatctx.DefaultConfig()
	resolverCfg.MaxFileSize = int64(cfg.Context.MaxFileSizeKB) * 1024
	resolverCfg.MaxDepth = cfg.Context.MaxDepth
	resolverCfg.MaxFiles = cfg.Context.MaxFiles
	resolver := chatctx.NewResolver(resolverCfg,
		chatctx.WithLogger(logger),
		chatctx.WithCache(chatctx.NewFileCache(fileCacheEntries)),
	)

	return &App{
		Live:     live,
		Log:      logger,
		DB:       db,
		Store:    store,
		Client:   client,
		Resolver: resolver,
		Costs:    costs,
		Metrics:  metrics,
		Registry: registry,
	}, nil
}

// Close waits for background cost lookups and closes the database.
func (a *App) Close() error {
	a.Client.Wait()
	return a.DB.Close()
}

// Options returns the per-call options from the live configuration.
func (a *App) Options() cloud.Options {
	return a.Live.Settings().Options()
}

// Send resolves @references in prompt and runs one exchange. It returns
// once h has seen OnComplete or OnError.
func (a *App) Send(ctx context.Context, sessionID, prompt string, opts cloud.Options, h cloud.ResponseHandler) {
	if timeout := a.Live.Config().RequestTimeout(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	files, err := a.Resolver.Resolve(ctx, prompt)
	if err != nil {
		h.OnError(fmt.Sprintf("Connection error: %v", err))
		return
	}
	a.Client.Send(ctx, sessionID, prompt, files, opts, h)
}

// resolveSession maps a user reference to a session id: an exact id, a
// 1-based position in the session list, or a unique id prefix.
func resolveSession(store *session.Store, ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return store.CurrentSessionID(), nil
	}
	if _, ok := store.GetSession(ref); ok {
		return ref, nil
	}

	list := store.ListSessions()
	if n, err := strconv.Atoi(ref); err == nil {
		if n >= 1 && n <= len(list) {
			return list[n-1].ID, nil
		}
		return "", fmt.Errorf("no session at position %d", n)
	}

	var match string
	for _, s := range list {
		if strings.HasPrefix(s.ID, ref) {
			if match != "" {
				return "", fmt.Errorf("session prefix %q is ambiguous", ref)
			}
			match = s.ID
		}
	}
	if match == "" {
		return "", fmt.Errorf("session not found: %s", ref)
	}
	return match, nil
}

// readPromptStdin reads a prompt piped on stdin. Oversized input is an
// error rather than silently truncated.
func readPromptStdin(cmd *cobra.Command) (string, error) {
	in := cmd.InOrStdin()
	if IsTerminal(in) {
		return "", nil
	}
	data, err := io.ReadAll(io.LimitReader(in, maxPromptBytes+1))
	if err != nil {
		return "", err
	}
	if len(data) > maxPromptBytes {
		return "", fmt.Errorf("prompt on stdin is larger than %d bytes", maxPromptBytes)
	}
	return strings.TrimSpace(string(data)), nil
}

// stdoutIsTTY reports whether the command writes to an interactive terminal.
func stdoutIsTTY(cmd *cobra.Command) bool {
	return IsTerminal(cmd.OutOrStdout())
}
