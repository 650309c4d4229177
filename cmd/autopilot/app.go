package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/deepnoodle-ai/autopilot"
	"github.com/deepnoodle-ai/autopilot/config"
	"github.com/deepnoodle-ai/autopilot/filestore"
	"github.com/deepnoodle-ai/autopilot/llm"
	"github.com/deepnoodle-ai/autopilot/mcp"
	"github.com/deepnoodle-ai/autopilot/postgres"
	"github.com/deepnoodle-ai/autopilot/providers"
	_ "github.com/deepnoodle-ai/autopilot/providers/google"
	_ "github.com/deepnoodle-ai/autopilot/providers/openai"
	"github.com/deepnoodle-ai/autopilot/slogger"
	"github.com/deepnoodle-ai/autopilot/sqlite"
	"github.com/deepnoodle-ai/autopilot/telemetry"
	"github.com/deepnoodle-ai/autopilot/toolkit"
	"github.com/deepnoodle-ai/wonton/cli"
	"gopkg.in/natefinch/lumberjack.v2"
)

// app holds everything a command needs. Fields are filled by open according
// to the needs passed to it.
type app struct {
	cfg         *config.Config
	logger      slogger.Logger
	definitions autopilot.DefinitionStore
	ledger      autopilot.Ledger
	memory      autopilot.MemoryStore
	registry    *autopilot.ToolRegistry
	mcp         *mcp.Manager
	engine      *autopilot.Engine

	closers []func() error
}

type needs struct {
	tools  bool
	engine bool
}

// open loads configuration and connects the stores. Tools and the model are
// only set up when a command needs them.
func open(ctx context.Context, c *cli.Context, n needs) (*app, error) {
	if err := config.LoadEnv(".env", "~/.autopilot/.env"); err != nil {
		return nil, err
	}
	cfg, err := loadConfig(c.String("config"))
	if err != nil {
		return nil, err
	}
	if v := c.String("log-level"); v != "" {
		cfg.LogLevel = v
	}
	if v := c.String("log-file"); v != "" {
		cfg.LogFile = v
	}
	if v := c.String("model"); v != "" {
		cfg.Model = v
	}
	if v := c.String("provider"); v != "" {
		cfg.Provider = v
	}

	a := &app{cfg: cfg, registry: autopilot.NewToolRegistry(autopilot.NewSaveMemoryTool())}
	a.logger = newLogger(cfg, a)

	shutdown, err := telemetry.Init(ctx, telemetry.Options{
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		ServiceName:    "autopilot",
		ServiceVersion: version,
	})
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return shutdown(ctx)
	})

	if err := a.openStores(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if n.tools || n.engine {
		if err := a.openTools(ctx); err != nil {
			a.Close()
			return nil, err
		}
	}
	if n.engine {
		if err := a.openEngine(); err != nil {
			a.Close()
			return nil, err
		}
	}
	return a, nil
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		path = config.DefaultFile
	}
	cfg, err := config.Load(path)
	if err != nil && errors.Is(err, os.ErrNotExist) && path == config.DefaultFile {
		return config.Default(), nil
	}
	return cfg, err
}

func newLogger(cfg *config.Config, a *app) slogger.Logger {
	if cfg.LogLevel == "none" {
		return slogger.NewDevNullLogger()
	}
	level := slogger.LevelFromString(cfg.LogLevel)
	if cfg.LogFile == "" {
		return slogger.New(level)
	}
	rotator := &lumberjack.Logger{
		Filename:   cfg.LogFile,
		MaxSize:    20,
		MaxBackups: 5,
		MaxAge:     30,
		Compress:   true,
	}
	a.closers = append(a.closers, rotator.Close)
	return slogger.NewWithWriter(io.Writer(rotator), level)
}

func (a *app) openStores(ctx context.Context) error {
	store := a.cfg.Store
	switch store.Driver {
	case config.DriverPostgres:
		db, err := postgres.Open(ctx, store.DSN, a.logger)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, func() error { db.Close(); return nil })
		a.ledger, a.memory, a.definitions = db.Ledger(), db.Memory(), db.Definitions()
		return nil
	case config.DriverSQLite:
		db, err := sqlite.Open(ctx, store.Path, a.logger)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, db.Close)
		a.ledger, a.memory, a.definitions = db.Ledger(), db.Memory(), db.Definitions()
		return nil
	case config.DriverFile:
		ledger, err := filestore.NewLedger(filepath.Join(store.Path, "executions"))
		if err != nil {
			return err
		}
		memory, err := filestore.NewMemoryStore(filepath.Join(store.Path, "memory"))
		if err != nil {
			return err
		}
		a.ledger, a.memory = ledger, memory
	default:
		a.ledger, a.memory = autopilot.NewMemoryLedger(), autopilot.NewInMemoryMemoryStore()
	}
	defs, err := filestore.OpenDefinitionDir(a.cfg.Definitions, filestore.DefinitionDirOptions{Logger: a.logger})
	if err != nil {
		return err
	}
	a.definitions = defs
	return nil
}

func (a *app) openTools(ctx context.Context) error {
	if err := a.registry.Register(toolkit.NewFetchTool(toolkit.FetchToolOptions{})); err != nil {
		return err
	}
	if a.cfg.Browser.Enabled {
		browser, err := toolkit.NewChromeBrowser(context.Background(), toolkit.ChromeOptions{
			RemoteURL:  a.cfg.Browser.RemoteURL,
			ShowWindow: a.cfg.Browser.ShowWindow,
		})
		if err != nil {
			return err
		}
		a.closers = append(a.closers, browser.Close)
		if err := a.registry.Register(toolkit.NewBrowserTool(toolkit.BrowserToolOptions{
			Browser:     browser,
			LiveViewURL: a.cfg.Browser.LiveViewURL,
		})); err != nil {
			return err
		}
	}
	if len(a.cfg.MCPServers) > 0 {
		a.mcp = mcp.NewManager(mcp.ManagerOptions{Logger: a.logger})
		a.closers = append(a.closers, a.mcp.Close)
		connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		if err := a.mcp.Connect(connectCtx, a.cfg.MCPServers); err != nil {
			return err
		}
		if err := a.mcp.RegisterTools(a.registry); err != nil {
			return err
		}
	}
	return nil
}

func (a *app) openEngine() error {
	model, err := providers.New(a.cfg.ModelName())
	if err != nil {
		return fmt.Errorf("model %q: %w", a.cfg.ModelName(), err)
	}
	if rps := a.cfg.Limits.RequestsPerSecond; rps > 0 {
		model = llm.NewRateLimited(model, rps, a.cfg.Limits.Burst)
	}
	a.engine, err = autopilot.NewEngine(autopilot.EngineOptions{
		Model:    model,
		Ledger:   a.ledger,
		Registry: a.registry,
		Memory:   a.memory,
		Logger:   a.logger,
	})
	return err
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && a.logger != nil {
			a.logger.Warn("close failed", "error", err)
		}
	}
	a.closers = nil
}
