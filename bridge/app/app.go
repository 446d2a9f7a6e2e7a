package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tunehub/tunefree-bridge/bridge/api"
	"github.com/tunehub/tunefree-bridge/bridge/browse"
	"github.com/tunehub/tunefree-bridge/bridge/config"
	"github.com/tunehub/tunefree-bridge/bridge/hass"
	logpkg "github.com/tunehub/tunefree-bridge/bridge/logger"
	"github.com/tunehub/tunefree-bridge/bridge/observer"
	"github.com/tunehub/tunefree-bridge/bridge/queue"
	"github.com/tunehub/tunefree-bridge/bridge/sequencer"
	"github.com/tunehub/tunefree-bridge/bridge/server"
	"github.com/tunehub/tunefree-bridge/bridge/store"
	"golang.org/x/sync/errgroup"
)

// App wires all application dependencies.
type App struct {
	Config    *config.Config
	Logger    *logpkg.Logger
	Store     *store.Repository
	API       *api.Client
	Health    *api.Monitor
	Player    *hass.Client
	Sequencer *sequencer.Sequencer
	Engine    *queue.Engine
	Observer  *observer.Observer
	Facade    *browse.Facade
	Feed      *hass.Feed
	Server    *server.Server
	Build     BuildInfo
}

// BuildInfo provides build-time metadata.
type BuildInfo struct {
	RuntimeVer string
	BinVersion string
	CommitSHA  string
	BuildTime  string
	BuildArch  string
}

// New builds the application container.
func New(configPath string, build BuildInfo) (*App, error) {
	conf, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	log, err := logpkg.New(logpkg.Options{
		Level:     conf.GetString("LogLevel"),
		Format:    conf.GetString("LogFormat"),
		AddSource: conf.GetBool("LogSource"),
		Dir:       conf.GetString("LogDir"),
	})
	if err != nil {
		return nil, err
	}

	targetPlayer := strings.TrimSpace(conf.GetString("TargetPlayer"))
	if targetPlayer == "" {
		return nil, fmt.Errorf("TargetPlayer is required (a media_player entity id)")
	}
	hassToken := strings.TrimSpace(conf.GetString("HassToken"))
	if hassToken == "" {
		return nil, fmt.Errorf("HassToken is required")
	}

	gormLogger := logpkg.NewGormLogger(log.Slog(),
		logpkg.ParseGormLevel(conf.GetString("GormLogLevel")))
	databasePath := strings.TrimSpace(conf.GetString("Database"))
	if databasePath == "" {
		databasePath = "bridge.db"
	}
	repo, err := store.NewSQLiteRepository(databasePath, gormLogger)
	if err != nil {
		return nil, fmt.Errorf("init db: %w", err)
	}
	if err := repo.ConfigurePool(
		conf.GetInt("DBMaxOpenConns"),
		conf.GetInt("DBMaxIdleConns"),
		time.Duration(conf.GetInt("DBConnMaxLifetimeSec"))*time.Second,
	); err != nil {
		return nil, fmt.Errorf("configure db pool: %w", err)
	}

	apiClient := api.New(api.Options{
		BaseURL:        conf.GetString("APIURL"),
		DefaultSource:  conf.GetString("DefaultSource"),
		Bitrate:        conf.GetString("Bitrate"),
		Timeout:        time.Duration(conf.GetInt("RequestTimeoutSec")) * time.Second,
		ConnectTimeout: time.Duration(conf.GetInt("RequestConnectTimeoutSec")) * time.Second,
		Retries:        conf.GetInt("RequestRetries"),
		RatePerSecond:  conf.GetFloat64("APIRatePerSecond"),
		RateBurst:      conf.GetInt("APIRateBurst"),
	}, log.With("component", "api"))

	health := api.NewMonitor(apiClient,
		time.Duration(conf.GetInt("HealthCheckIntervalSec"))*time.Second,
		log.With("component", "health"))

	player := hass.New(hass.Options{
		BaseURL: conf.GetString("HassURL"),
		Token:   hassToken,
		Entity:  targetPlayer,
	}, log.With("component", "hass"))

	seq := sequencer.New(64)

	engine := queue.New(apiClient, player, log.With("component", "queue"), queue.Options{
		ResolveAttempts: conf.GetInt("ResolveAttempts"),
		ResolveDelay:    time.Duration(conf.GetInt("ResolveRetryDelayMs")) * time.Millisecond,
		StopBeforePlay:  conf.GetBool("StopBeforePlay"),
		StopDelay:       time.Duration(conf.GetInt("StopDelayMs")) * time.Millisecond,
	})

	obs := observer.New(engine, seq, player, log.With("component", "observer"), observer.Options{
		PollInterval: time.Duration(conf.GetInt("PositionPollIntervalSec")) * time.Second,
		EndGuard:     float64(conf.GetInt("TrackEndGuardSec")),
	})

	facade := browse.New(apiClient, engine, repo, log.With("component", "browse"), browse.Options{
		DefaultSource: conf.GetString("DefaultSource"),
		SearchLimit:   conf.GetInt("QueueSearchLimit"),
	})

	feed := hass.NewFeed(conf.GetString("HassURL"), hassToken, targetPlayer,
		obs.HandleStateChange, log.With("component", "feed"))

	srv := server.New(engine, facade, apiClient, player, player, repo, seq, health,
		log.With("component", "server"), server.Options{
			ListenAddr:  conf.GetString("ListenAddr"),
			SearchLimit: conf.GetInt("SearchLimit"),
		})

	return &App{
		Config:    conf,
		Logger:    log,
		Store:     repo,
		API:       apiClient,
		Health:    health,
		Player:    player,
		Sequencer: seq,
		Engine:    engine,
		Observer:  obs,
		Facade:    facade,
		Feed:      feed,
		Server:    srv,
		Build:     build,
	}, nil
}

// Run starts every long-running component and blocks until the context is
// cancelled or one of them fails.
func (a *App) Run(ctx context.Context) error {
	a.Logger.Info("tunefree bridge starting",
		"version", a.Build.BinVersion,
		"commit", a.Build.CommitSHA,
		"runtime", a.Build.RuntimeVer,
		"player", a.Player.Entity())

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.Server.Run(ctx) })
	g.Go(func() error { return a.Feed.Run(ctx) })
	g.Go(func() error { return a.Health.Run(ctx) })
	if a.Config.GetBool("PositionPolling") {
		g.Go(func() error { return a.Observer.Run(ctx) })
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Shutdown releases resources.
func (a *App) Shutdown(ctx context.Context) error {
	var firstErr error

	if a.Sequencer != nil {
		if err := a.Sequencer.Shutdown(ctx); err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("shutdown sequencer: %w", err)
			}
		}
	}

	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			if a.Logger != nil {
				a.Logger.Error("failed to close database", "error", err)
			}
			if firstErr == nil {
				firstErr = fmt.Errorf("close database: %w", err)
			}
		}
	}

	if a.Logger != nil {
		if err := a.Logger.Close(); err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("close logger: %w", err)
			}
		}
	}

	return firstErr
}
