package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/rendis/flowrun/internal/config"
	"github.com/rendis/flowrun/internal/engine"
	"github.com/rendis/flowrun/internal/logging"
	"github.com/rendis/flowrun/internal/store"
	"github.com/rendis/flowrun/internal/streaming"
	"github.com/rendis/flowrun/internal/tools"
	"github.com/rendis/flowrun/pkg/mcp"
)

// app holds the wired collaborators for one command invocation.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *tools.Registry
	engine   *engine.Engine
	store    *store.LibSQLStore
	events   *store.EventLog
	hub      *streaming.Hub
	notifier *mcp.RunNotifier
}

type appOptions struct {
	withStore    bool
	withNotifier bool
	withHub      bool
	logOutput    io.Writer
}

// newApp builds the registry and engine from cfg, plus the libSQL store when
// requested and db.path is set.
func newApp(ctx context.Context, cfg *config.Config, opts appOptions) (*app, error) {
	out := opts.logOutput
	if out == nil {
		out = os.Stderr
	}
	a := &app{
		cfg:      cfg,
		logger:   logging.New(out, cfg.Log.Level, cfg.Log.Format),
		registry: tools.NewRegistry(),
	}
	if err := tools.RegisterBuiltins(a.registry, cfg.ToolSettings()); err != nil {
		return nil, fmt.Errorf("register tools: %w", err)
	}
	for _, def := range cfg.ToolCatalog() {
		if err := a.registry.Declare(def); err != nil {
			return nil, fmt.Errorf("declare tool %s: %w", def.Name, err)
		}
	}

	var observers []engine.EventObserver
	engineOpts := []engine.Option{engine.WithLogger(a.logger)}

	if opts.withStore && cfg.DB.Path != "" {
		s, err := openStore(ctx, cfg.DB.Path)
		if err != nil {
			return nil, err
		}
		a.store = s
		a.events = store.NewEventLog(s, a.logger)
		observers = append(observers, a.events)
		engineOpts = append(engineOpts, engine.WithUsageSink(s))
	}
	if opts.withHub {
		a.hub = streaming.NewHub(0)
		observers = append(observers, a.hub)
	}
	if opts.withNotifier {
		a.notifier = mcp.NewRunNotifier()
		observers = append(observers, a.notifier)
	}
	if len(observers) > 0 {
		engineOpts = append(engineOpts, engine.WithObserver(engine.Observers(observers...)))
	}

	eng, err := engine.New(a.registry, cfg.EngineSettings(), engineOpts...)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.engine = eng
	return a, nil
}

func openStore(ctx context.Context, path string) (*store.LibSQLStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}
	s, err := store.NewLibSQLStore("file:" + path)
	if err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("migrate %s: %w", path, err)
	}
	return s, nil
}

// Close waits for in-flight runs, then closes the store.
func (a *app) Close() {
	if a.engine != nil {
		a.engine.Shutdown()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("close store", "error", err.Error())
		}
	}
}

// storeOrNil avoids a typed-nil store.Store interface.
func (a *app) storeOrNil() store.Store {
	if a.store == nil {
		return nil
	}
	return a.store
}
