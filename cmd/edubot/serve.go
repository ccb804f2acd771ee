package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/cleverschool/edubot/internal/bot"
	"github.com/cleverschool/edubot/internal/config"
	"github.com/cleverschool/edubot/internal/contexts"
	"github.com/cleverschool/edubot/internal/db"
	"github.com/cleverschool/edubot/internal/directory"
	"github.com/cleverschool/edubot/internal/flows"
	"github.com/cleverschool/edubot/internal/handlers"
	"github.com/cleverschool/edubot/internal/intake"
	"github.com/cleverschool/edubot/internal/interactions"
	"github.com/cleverschool/edubot/internal/logger"
	"github.com/cleverschool/edubot/internal/prompt"
	"github.com/cleverschool/edubot/internal/respond"
	"github.com/cleverschool/edubot/internal/server"
	"github.com/cleverschool/edubot/internal/storage"
	"github.com/cleverschool/edubot/internal/storage/gcs"
	"github.com/cleverschool/edubot/internal/supervisor"
)

func runServe() {
	fx.New(
		fx.Provide(
			provideConfig,
			provideLogger,
			provideDBConn,
			provideDirectory,
			provideResolver,
			provideFlowStore,
			provideFlowGC,
			provideStorageProvider,
			provideIntake,
			providePromptBuilder,
			provideResponder,
			provideInteractions,
			supervisor.New,
			provideBot,
			provideHandlers,
			provideServer,
		),
		fx.Invoke(
			startBot,
			startFlowGC,
			startServer,
		),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With(slog.String("component", "fx"))}
		}),
	).Run()
}

func provideConfig() (config.Config, error) {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func provideLogger(cfg config.Config) *slog.Logger {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return logger.L
}

func provideDBConn(lc fx.Lifecycle, log *slog.Logger, cfg config.Config) (*pgxpool.Pool, error) {
	conn, err := db.Open(context.Background(), log, cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error { conn.Close(); return nil }})
	return conn, nil
}

func provideDirectory(log *slog.Logger, pool *pgxpool.Pool) *directory.Service {
	return directory.NewService(log, pool)
}

func provideResolver(log *slog.Logger, cfg config.Config, dir *directory.Service) *contexts.Resolver {
	return contexts.NewResolver(log, dir, contexts.Penalties{
		School:  cfg.Contexts.SchoolPenalty,
		Class:   cfg.Contexts.ClassPenalty,
		Student: cfg.Contexts.StudentPenalty,
	}, cfg.Contexts.MaterialsLimit)
}

func provideFlowStore(log *slog.Logger, cfg config.Config, pool *pgxpool.Pool) *flows.Store {
	return flows.NewStore(log, pool, time.Duration(cfg.Flows.TTLMinutes)*time.Minute)
}

func provideFlowGC(log *slog.Logger, cfg config.Config, store *flows.Store) (*flows.GC, error) {
	return flows.NewGC(log, store, cfg.Flows.GCSchedule)
}

func provideStorageProvider(lc fx.Lifecycle, log *slog.Logger, cfg config.Config) (storage.Provider, error) {
	provider, err := gcs.New(context.Background(), log, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("storage init: %w", err)
	}
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error { return provider.Close() }})
	return provider, nil
}

func provideIntake(log *slog.Logger, cfg config.Config, provider storage.Provider) *intake.Service {
	return intake.NewService(log, provider,
		int64(cfg.Storage.MaxDownloadMBytes)<<20,
		time.Duration(cfg.Storage.DownloadTimeoutSec)*time.Second,
		time.Duration(cfg.Storage.SignedURLTTL)*time.Second)
}

func providePromptBuilder(cfg config.Config) *prompt.Builder {
	return prompt.NewBuilder(cfg.Contexts.Language)
}

func provideResponder(log *slog.Logger, cfg config.Config) *respond.Service {
	return respond.NewService(log, cfg.AI)
}

func provideInteractions(log *slog.Logger, pool *pgxpool.Pool) *interactions.Service {
	return interactions.NewService(log, pool)
}

func provideBot(
	log *slog.Logger,
	cfg config.Config,
	dir *directory.Service,
	resolver *contexts.Resolver,
	flowStore *flows.Store,
	intakeSvc *intake.Service,
	builder *prompt.Builder,
	responder *respond.Service,
	interactionsSvc *interactions.Service,
	sup *supervisor.Supervisor,
) (*bot.Bot, error) {
	return bot.New(log, cfg.Discord, cfg.AI, dir, resolver, flowStore, intakeSvc, builder, responder, interactionsSvc, sup)
}

type serverHandlers struct {
	fx.Out

	Ping   *handlers.PingHandler
	Health *handlers.HealthHandler
	Guilds *handlers.GuildsHandler
}

func provideHandlers(log *slog.Logger, dir *directory.Service, sup *supervisor.Supervisor) serverHandlers {
	return serverHandlers{
		Ping:   handlers.NewPingHandler(log),
		Health: handlers.NewHealthHandler(sup),
		Guilds: handlers.NewGuildsHandler(log, dir),
	}
}

func provideServer(cfg config.Config, ping *handlers.PingHandler, health *handlers.HealthHandler, guilds *handlers.GuildsHandler) *server.Server {
	return server.NewServer(cfg.Server.Addr, cfg.Auth.JWTSecret, ping, health, guilds)
}

func startBot(lc fx.Lifecycle, b *bot.Bot) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error { return b.Start() },
		OnStop:  func(ctx context.Context) error { return b.Stop() },
	})
}

func startFlowGC(lc fx.Lifecycle, gc *flows.GC) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error { gc.Start(); return nil },
		OnStop:  func(ctx context.Context) error { gc.Stop(); return nil },
	})
}

func startServer(lc fx.Lifecycle, srv *server.Server, log *slog.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.Start(); err != nil {
					log.Error("server stopped", slog.Any("error", err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error { return srv.Shutdown(ctx) },
	})
}
