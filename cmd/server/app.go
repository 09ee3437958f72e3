package main

import (
	"context"
	"log/slog"

	"github.com/gofiber/fiber/v2"
	connect "github.com/goliatone/go-connect"
	"github.com/goliatone/go-connect/activitymap"
	"github.com/goliatone/go-connect/config"
	"github.com/goliatone/go-connect/mailer"
	"github.com/goliatone/go-connect/middleware/jwtware"
	"github.com/goliatone/go-connect/middleware/ratelimit"
	"github.com/goliatone/go-connect/storage"
	"github.com/redis/go-redis/v9"
	"github.com/uptrace/bun"
)

// App holds the wired server
type App struct {
	config config.BaseConfig
	logger *slog.Logger
	db     *bun.DB
	redis  *redis.Client
	sender connect.NotificationSender
	http   *fiber.App
}

type SetupFunc func(ctx context.Context, app *App) error

// NewApp runs every setup step in order
func NewApp(ctx context.Context, cfg config.BaseConfig, logger *slog.Logger, steps ...SetupFunc) (*App, error) {
	app := &App{config: cfg, logger: logger}

	if len(steps) == 0 {
		steps = []SetupFunc{WithPersistence, WithMailer, WithHTTPServer}
	}

	for _, step := range steps {
		if err := step(ctx, app); err != nil {
			app.Close()
			return nil, err
		}
	}

	return app, nil
}

func (a *App) GetLogger(name string) connect.Logger {
	return connect.NewSlogLogger(a.logger.With("component", name))
}

func (a *App) HTTP() *fiber.App {
	return a.http
}

// Close releases the database and redis connections
func (a *App) Close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("redis close failed", "error", err)
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("database close failed", "error", err)
		}
	}
}

func WithPersistence(ctx context.Context, app *App) error {
	cfg := app.config.Persistence

	db, err := storage.Open(ctx, storage.Options{
		Driver:       cfg.Driver,
		DSN:          cfg.DSN,
		MaxOpenConns: cfg.MaxOpenConns,
		PingTimeout:  cfg.PingTimeout,
		Migrate:      cfg.Migrate,
	})
	if err != nil {
		return err
	}

	app.db = db
	return nil
}

func WithMailer(_ context.Context, app *App) error {
	cfg := app.config.SMTP
	if !cfg.Enabled() {
		app.logger.Warn("SMTP host not configured, emails are only logged")
		app.sender = mailer.NewLogSender(app.GetLogger("mailer"), app.config.Debug)
		return nil
	}

	app.sender = mailer.NewSMTPSender(mailer.SMTPConfig{
		Host:     cfg.Host,
		Port:     cfg.Port,
		Username: cfg.Username,
		Password: cfg.Password,
		From:     cfg.From,
	})
	return nil
}

func WithHTTPServer(ctx context.Context, app *App) error {
	cfg := app.config
	repo := connect.NewRepositoryManager(app.db)
	if err := repo.Validate(); err != nil {
		return err
	}

	templates, err := connect.NewTemplates(nil)
	if err != nil {
		return err
	}

	tokens := connect.NewTokenServiceFromConfig(cfg, app.GetLogger("tokens"))
	activity := connect.ActivitySinkFunc(func(_ context.Context, event connect.ActivityEvent) error {
		record := activitymap.Normalize(event)
		app.logger.Info("activity",
			"verb", record.Verb,
			"channel", record.Channel,
			"actor_id", record.ActorID,
			"object_type", record.ObjectType,
			"object_id", record.ObjectID,
			"metadata", record.Metadata,
		)
		return nil
	})

	base := connect.NewBaseAuth(repo.Users(), tokens, app.sender, cfg,
		connect.WithBaseAuthLogger(app.GetLogger("auth:base")),
		connect.WithBaseAuthTemplates(templates),
		connect.WithBaseAuthActivitySink(activity),
	)

	workflow := connect.NewWorkflowAuth(base, connect.NewIdentityStore(repo.Users(), tokens), app.sender, cfg,
		connect.WithWorkflowLogger(app.GetLogger("auth:workflow")),
		connect.WithWorkflowTemplates(templates),
		connect.WithWorkflowActivitySink(activity),
		connect.WithWorkflowForgotPasswordFloor(cfg.GetForgotPasswordFloor()),
	)

	lifecycle := connect.NewConnectionLifecycle(repo.ConnectionRequests(), app.sender,
		connect.WithLifecycleLogger(app.GetLogger("connections:lifecycle")),
		connect.WithLifecycleTemplates(templates),
	)

	connections := connect.NewConnectionService(repo, lifecycle,
		connect.WithConnectionServiceLogger(app.GetLogger("connections")),
		connect.WithConnectionServiceActivitySink(activity),
	)

	srv := fiber.New(fiber.Config{
		AppName:               "go-connect",
		ErrorHandler:          connect.ErrorHandler(app.GetLogger("http")),
		DisableStartupMessage: true,
	})

	srv.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	limiters := []fiber.Handler{}
	if cfg.Redis.Enabled() {
		app.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := app.redis.Ping(ctx).Err(); err != nil {
			app.logger.Warn("redis ping failed", "addr", cfg.Redis.Addr, "error", err)
		}
		limiter := ratelimit.New(app.redis, ratelimit.Config{
			Max:      cfg.RateLimit.Max,
			Window:   cfg.RateLimit.Window,
			FailOpen: cfg.RateLimit.FailOpen,
			Logger:   app.GetLogger("ratelimit"),
		})
		limiters = append(limiters, limiter.Handler())
	}

	connect.RegisterAuthRoutes(srv,
		connect.NewAuthController(workflow,
			connect.WithAuthControllerDebug(cfg.Debug),
			connect.WithAuthControllerLogger(app.GetLogger("auth:ctrl")),
		),
		limiters...,
	)

	connect.RegisterConnectionRoutes(srv,
		connect.NewConnectionController(connections,
			connect.WithConnectionControllerDebug(cfg.Debug),
			connect.WithConnectionControllerLogger(app.GetLogger("connections:ctrl")),
		),
		jwtware.New(jwtware.Config{TokenValidator: tokens}),
	)

	app.http = srv
	return nil
}
