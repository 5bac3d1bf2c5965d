// Package app wires the kotoba subsystems together.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/bdobrica/kotoba/common/retry"
	"github.com/bdobrica/kotoba/internal/kotoba/archive"
	kotobaconfig "github.com/bdobrica/kotoba/internal/kotoba/config"
	"github.com/bdobrica/kotoba/internal/kotoba/conversation"
	"github.com/bdobrica/kotoba/internal/kotoba/dispatch"
	"github.com/bdobrica/kotoba/internal/kotoba/httpapi"
	"github.com/bdobrica/kotoba/internal/kotoba/intent"
	"github.com/bdobrica/kotoba/internal/kotoba/matrix"
	"github.com/bdobrica/kotoba/internal/kotoba/memory"
	"github.com/bdobrica/kotoba/internal/kotoba/store"
	"github.com/bdobrica/kotoba/internal/kotoba/topics"
)

// shutdownTimeout bounds the archive flush on Stop.
const shutdownTimeout = 30 * time.Second

// App is the kotoba application.
type App struct {
	config     *Config
	store      *store.Store
	manager    *conversation.Manager
	dispatcher *dispatch.Orchestrator
	runner     *conversation.CleanupRunner
	httpServer *httpapi.Server
	matrix     *matrix.Client
	bridge     *matrix.Bridge
}

// New opens the database and builds every subsystem. Nothing is started.
func New(config *Config) (*App, error) {
	ctx := context.Background()

	slog.Info("opening database", "path", config.DatabasePath)
	db, err := store.New(config.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	a, err := build(ctx, config, db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return a, nil
}

func build(ctx context.Context, config *Config, db *store.Store) (*App, error) {
	// --- 1. Runtime overrides ---------------------------------------------
	overrides, err := kotobaconfig.LoadOverrides(ctx, kotobaconfig.New(db))
	if err != nil {
		return nil, fmt.Errorf("failed to load runtime overrides: %w", err)
	}
	applyOverrides(config, overrides)
	if config.WaitingBelow > config.ActiveAt {
		return nil, fmt.Errorf("waiting threshold %v is above active threshold %v", config.WaitingBelow, config.ActiveAt)
	}

	// --- 2. Topic table ---------------------------------------------------
	table, err := loadTopics(config.TopicsFile)
	if err != nil {
		return nil, err
	}
	slog.Info("topic table loaded", "topics", len(table.Topics()), "file", config.TopicsFile)

	// --- 3. Matrix (optional) ---------------------------------------------
	var mx *matrix.Client
	if config.Matrix.Homeserver != "" {
		if config.Matrix.UserID == "" || config.Matrix.AccessToken == "" {
			return nil, errors.New("matrix: user ID and access token are required with a homeserver")
		}
		mcfg := config.Matrix
		mcfg.State = db
		slog.Info("connecting to Matrix", "homeserver", mcfg.Homeserver)
		mx, err = matrix.New(mcfg)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Matrix client: %w", err)
		}
	}

	// --- 4. Archive sinks -------------------------------------------------
	sqliteArchive := archive.NewSQLite(db)
	sinks := archive.Multi{archive.NewRetrying(sqliteArchive, retry.DefaultConfig)}
	if mx != nil && config.ArchiveRoomID != "" {
		sinks = append(sinks, archive.NewNotifier(mx, config.ArchiveRoomID, nil))
		slog.Info("archive notices enabled", "room", config.ArchiveRoomID)
	}

	// --- 5. Conversation core ---------------------------------------------
	mem := memory.New(memory.Config{
		MaxTurns:   config.MemoryMaxTurns,
		ScanFactor: config.HistoryScanFactor,
	})
	manager := conversation.NewManager(conversation.Config{
		SessionTimeout: config.SessionTimeout,
		WaitingBelow:   config.WaitingBelow,
		ActiveAt:       config.ActiveAt,
	}, conversation.Deps{
		Topics:  table,
		Memory:  mem,
		Sink:    sinks,
		Archive: sqliteArchive,
	})
	slog.Info("session manager ready",
		"session_timeout", config.SessionTimeout.String(),
		"memory_max_turns", config.MemoryMaxTurns,
	)

	// --- 6. Dispatch ------------------------------------------------------
	var parser intent.Parser
	if config.OpenAI.APIKey != "" {
		parser = intent.NewOpenAIParser(config.OpenAI)
		slog.Info("intent parser: OpenAI-compatible model", "model", config.OpenAI.Model, "endpoint", config.OpenAI.BaseURL)
	} else {
		parser = intent.NewKeywordParser()
		slog.Info("intent parser: keyword rules (no API key configured)")
	}
	dispatcher := dispatch.New(dispatch.Config{RatePerMinute: config.RateLimit}, manager, parser, nil, nil)

	a := &App{
		config:     config,
		store:      db,
		manager:    manager,
		dispatcher: dispatcher,
		runner:     conversation.NewCleanupRunner(manager, config.CleanupInterval, nil),
		matrix:     mx,
	}
	if mx != nil {
		a.bridge = matrix.NewBridge(dispatcher, mx, nil)
	}
	if config.HTTPAddr != "" {
		a.httpServer = httpapi.NewServer(config.HTTPAddr, dispatcher, manager, db, nil)
	}
	return a, nil
}

func applyOverrides(config *Config, o kotobaconfig.Overrides) {
	if o.SessionTimeout != nil {
		config.SessionTimeout = *o.SessionTimeout
	}
	if o.WaitingBelow != nil {
		config.WaitingBelow = *o.WaitingBelow
	}
	if o.ActiveAt != nil {
		config.ActiveAt = *o.ActiveAt
	}
	if o.MemoryMaxTurns != nil {
		config.MemoryMaxTurns = *o.MemoryMaxTurns
	}
}

func loadTopics(path string) (*topics.Table, error) {
	if path == "" {
		return topics.Default()
	}
	t, err := topics.Load(os.DirFS(filepath.Dir(path)), filepath.Base(path))
	if err != nil {
		return nil, fmt.Errorf("failed to load topic table %s: %w", path, err)
	}
	return t, nil
}

// Dispatcher returns the message orchestrator.
func (a *App) Dispatcher() *dispatch.Orchestrator { return a.dispatcher }

// Manager returns the session manager.
func (a *App) Manager() *conversation.Manager { return a.manager }

// Run starts every subsystem and blocks until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	if a.httpServer != nil {
		if err := a.httpServer.Start(ctx); err != nil {
			return err
		}
	}

	if a.matrix != nil {
		slog.Info("starting Matrix sync")
		if err := a.matrix.Start(ctx, a.bridge.HandleMessage); err != nil {
			return fmt.Errorf("failed to start Matrix client: %w", err)
		}
	}

	go a.runner.Run(ctx)

	slog.Info("kotoba is running")
	<-ctx.Done()
	slog.Info("shutting down")
	return nil
}

// Stop stops intake, archives every live session and closes the database.
func (a *App) Stop() {
	if a.matrix != nil {
		slog.Info("stopping Matrix client")
		a.matrix.Stop()
	}
	if a.httpServer != nil {
		slog.Info("stopping HTTP server")
		a.httpServer.Stop()
	}
	a.runner.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	a.manager.Shutdown(ctx)

	slog.Info("closing database")
	if err := a.store.Close(); err != nil {
		slog.Warn("close database", "err", err)
	}
}
