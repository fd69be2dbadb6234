package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/genricoloni/cadence/internal/config"
	"github.com/genricoloni/cadence/internal/daemon"
	"github.com/genricoloni/cadence/internal/domain"
	"github.com/genricoloni/cadence/internal/local"
	"github.com/genricoloni/cadence/internal/mpris"
	"github.com/genricoloni/cadence/internal/player"
	"github.com/genricoloni/cadence/internal/wakelock"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// AppOptions is the whole dependency graph; tests validate it with fx.ValidateApp
var AppOptions = fx.Options(
	// Logger configuration
	fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
		return &fxevent.ZapLogger{Logger: log}
	}),

	// Provide dependencies
	fx.Provide(
		newLogLevel,
		newLogger,
		config.NewAppConfig,
		func(cfg *config.AppConfig) domain.Config { return cfg },
		newWakeLock,
		newEngine,
		newPlayer,
		newRunner,
	),

	// Lifecycle hooks
	fx.Invoke(applyLogLevel, registerHooks),
)

func main() {
	app := fx.New(AppOptions)

	// Handle graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Start the application
	if err := app.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "playerd: %v\n", err)
		os.Exit(1)
	}

	// Wait for interrupt signal
	<-ctx.Done()

	// Stop the application gracefully
	if err := app.Stop(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "playerd: %v\n", err)
		os.Exit(1)
	}
}

// newLogLevel starts at info; applyLogLevel adjusts it once the config is loaded
func newLogLevel() zap.AtomicLevel {
	return zap.NewAtomicLevelAt(zapcore.InfoLevel)
}

// newLogger creates a new zap logger instance
func newLogger(level zap.AtomicLevel) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = level
	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return logger, nil
}

func applyLogLevel(level zap.AtomicLevel, cfg *config.AppConfig, logger *zap.Logger) error {
	lvl, err := zapcore.ParseLevel(cfg.GetLogLevel())
	if err != nil {
		return fmt.Errorf("%w: log.level: %v", config.ErrInvalidConfig, err)
	}
	level.SetLevel(lvl)
	logger.Debug("Log level applied", zap.Stringer("level", lvl))
	return nil
}

// newWakeLock returns nil when keep_awake is off or no backend is available;
// playback works without one.
func newWakeLock(lc fx.Lifecycle, logger *zap.Logger, cfg domain.Config) domain.WakeLock {
	if !cfg.GetKeepAwake() {
		return nil
	}

	lock, err := wakelock.NewLock(logger.Named("wakelock"))
	if err != nil {
		logger.Warn("No wake lock backend, the host may sleep during playback", zap.Error(err))
		return nil
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return lock.Close()
		},
	})
	return lock
}

func newEngine(logger *zap.Logger, cfg domain.Config) (domain.Engine, error) {
	switch cfg.GetEngine() {
	case config.EngineMpris:
		return mpris.Connect(logger.Named("mpris"), cfg.GetMprisPlayer())
	case config.EngineLocal:
		loader := local.NewLoader(logger.Named("loader"))
		return local.NewEngine(logger.Named("local"), loader, &local.Speaker{}), nil
	default:
		return nil, fmt.Errorf("%w: engine %q", config.ErrInvalidConfig, cfg.GetEngine())
	}
}

func newPlayer(logger *zap.Logger, engine domain.Engine, lock domain.WakeLock, cfg domain.Config) *player.Player {
	return player.New(logger.Named("player"), engine, lock, player.Options{
		EarlyTriggerUs:  cfg.GetEarlyTriggerUs(),
		SeekThresholdUs: cfg.GetSeekThresholdUs(),
	})
}

func newRunner(logger *zap.Logger, cfg domain.Config, p *player.Player) *daemon.Runner {
	return daemon.NewRunner(logger.Named("runner"), cfg, p)
}

// registerHooks sets up application lifecycle hooks
func registerHooks(lc fx.Lifecycle, logger *zap.Logger, runner *daemon.Runner) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			logger.Info("Cadence daemon started")
			return runner.Start(ctx)
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("Shutting down")
			return runner.Stop(ctx)
		},
	})
}
