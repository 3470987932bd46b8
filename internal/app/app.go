package app

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/veldt/imagegate/internal/config"
	"github.com/veldt/imagegate/internal/database"
	"github.com/veldt/imagegate/internal/handlers"
	"github.com/veldt/imagegate/internal/messaging"
	"github.com/veldt/imagegate/internal/middleware"
	"github.com/veldt/imagegate/internal/services"
	"github.com/veldt/imagegate/internal/storage"
)

type App struct {
	config   *config.Config
	logger   *logrus.Logger
	db       *database.Database
	store    *storage.ObjectStore
	events   *messaging.EventPublisher
	services *services.Services
	handlers *handlers.Handlers
	router   *gin.Engine
}

func New(cfg *config.Config) (*App, error) {
	app := &App{
		config: cfg,
		logger: setupLogger(cfg),
	}

	db, err := database.New(cfg, app.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	app.db = db

	// Object storage is only needed when generated images are re-hosted
	if cfg.Generation.URLStrategy == "rehost" {
		store, err := storage.New(context.Background(), cfg, app.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize object storage: %w", err)
		}
		app.store = store
	}

	app.events = messaging.NewEventPublisher(cfg, app.logger)

	var uploader interface {
		PutImage(ctx context.Context, key string, body []byte, contentType string) (string, error)
	}
	if app.store != nil {
		uploader = app.store
	}

	svc, err := services.New(cfg, app.logger, db, uploader)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}
	app.services = svc

	app.handlers = handlers.New(cfg, app.logger, svc, app.events)

	if err := middleware.RegisterValidators(); err != nil {
		return nil, fmt.Errorf("failed to register validators: %w", err)
	}

	app.setupRouter()

	return app, nil
}

func (a *App) Router() *gin.Engine {
	return a.router
}

func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("Shutting down application...")

	if err := a.events.Close(); err != nil {
		a.logger.WithError(err).Error("Error closing event publisher")
	}

	if err := a.db.Close(); err != nil {
		a.logger.WithError(err).Error("Error closing database connections")
		return err
	}

	return nil
}

func setupLogger(cfg *config.Config) *logrus.Logger {
	logger := logrus.New()

	level, err := logrus.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if cfg.Logging.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}

	return logger
}

func (a *App) setupRouter() {
	if a.config.Server.Mode == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	router.Use(middleware.Logger(a.logger))
	router.Use(middleware.Recovery(a.logger))
	router.Use(middleware.CORS(a.config))

	// Liveness and operational endpoints
	router.GET("/", a.handlers.Health.Live)
	router.GET("/health", a.handlers.Health.Check)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Gatekeeper surface
	router.GET("/prompt", a.handlers.Prompt.Generate)
	router.GET("/add", a.handlers.Account.Add)
	router.GET("/check/:id", a.handlers.Account.Check)
	router.GET("/info/:id", a.handlers.Account.Info)
	router.GET("/ban/:id", a.handlers.Account.Ban)

	a.router = router
}
