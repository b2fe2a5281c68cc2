package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/mikoto/overseer/internal/config"
	"github.com/mikoto/overseer/internal/handler"
	"github.com/mikoto/overseer/internal/planstream"
	"github.com/mikoto/overseer/internal/poller"
	"github.com/mikoto/overseer/internal/repository"
	"github.com/mikoto/overseer/internal/service"
	"github.com/mikoto/overseer/internal/tracker"
)

func main() {
	if err := run(); err != nil {
		slog.Error("application error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	db, err := sqlx.Connect("pgx", cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer db.Close()

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	slog.Info("database connected")

	userRepo := repository.NewUserRepository(db)
	projectRepo := repository.NewProjectRepository(db)
	taskRepo := repository.NewTaskRepository(db)
	deploymentRepo := repository.NewDeploymentRepository(db)
	planningRepo := repository.NewPlanningRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)

	trackerClient := tracker.NewGitHubClient(cfg.GitHubToken)
	planClient := planstream.NewClient(cfg.PlanServiceURL, cfg.PlanServiceToken)

	authSvc := service.NewAuthService(userRepo, service.AuthConfig{
		GitHubClientID:     cfg.GitHubClientID,
		GitHubClientSecret: cfg.GitHubClientSecret,
		JWTSecret:          cfg.JWTSecret,
		FrontendURL:        cfg.FrontendURL,
	})
	statusSvc := service.NewStatusService(taskRepo, deploymentRepo, projectRepo, notificationRepo, trackerClient, cfg.BotLogin)
	dispatchSvc := service.NewDispatchService(taskRepo, deploymentRepo, projectRepo, auditRepo, trackerClient, cfg.BotLogin, cfg.AppBaseURL)
	planningSvc := service.NewPlanningService(taskRepo, projectRepo, planningRepo, deploymentRepo)

	statusPoller := poller.New(statusSvc, cfg.PollInterval)
	defer statusPoller.Close()

	active, err := deploymentRepo.ListActive(context.Background())
	if err != nil {
		return fmt.Errorf("list active deployments: %w", err)
	}
	statusPoller.Restore(active)
	slog.Info("poller restored", "deployments", len(active))

	authHandler := handler.NewAuthHandler(authSvc)
	deploymentHandler := handler.NewDeploymentHandler(dispatchSvc, statusSvc, deploymentRepo, statusPoller)
	planningHandler := handler.NewPlanningHandler(planningSvc, planClient)
	notificationHandler := handler.NewNotificationHandler(notificationRepo)
	auditHandler := handler.NewAuditHandler(auditRepo, statusSvc)

	e := echo.New()
	e.HideBanner = true
	e.Validator = handler.NewAppValidator()
	e.HTTPErrorHandler = handler.HTTPErrorHandler

	e.Use(middleware.RequestID())
	e.Use(handler.RequestLogger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{cfg.FrontendURL},
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{echo.HeaderAccept, echo.HeaderAuthorization, echo.HeaderContentType},
		ExposeHeaders:    []string{echo.HeaderXRequestID},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	api := e.Group("/api/v1")

	auth := api.Group("/auth")
	auth.GET("/github", authHandler.GitHubRedirect)
	auth.GET("/github/callback", authHandler.GitHubCallback)
	auth.POST("/refresh", authHandler.Refresh)

	protected := api.Group("", handler.JWTAuth(authSvc))
	protected.GET("/auth/me", authHandler.Me)

	protected.POST("/tasks/:id/deployments", deploymentHandler.Start)
	protected.GET("/tasks/:id/deployments", deploymentHandler.ListForTask)
	protected.GET("/tasks/:id/audit", auditHandler.ListForTask)
	protected.GET("/deployments/:id", deploymentHandler.Get)
	protected.GET("/deployments/:id/feed", deploymentHandler.Feed)
	protected.POST("/deployments/:id/continue", deploymentHandler.Continue)
	protected.POST("/deployments/:id/cancel", deploymentHandler.Cancel)

	protected.POST("/tasks/:id/planning", planningHandler.GetOrCreateSession)
	protected.POST("/planning/sessions/:id/threads", planningHandler.AddThread)
	protected.GET("/threads/:id/revisions", planningHandler.Revisions)
	protected.POST("/threads/:id/generate", planningHandler.Generate)

	protected.GET("/notifications", notificationHandler.List)
	protected.POST("/notifications/:id/read", notificationHandler.MarkRead)

	srv := &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Port),
		Handler:     e,
		ReadTimeout: 10 * time.Second,
		// No write timeout: the plan generation endpoint streams for
		// minutes.
		IdleTimeout: 60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server starting", "port", cfg.Port)
		errCh <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("shutdown signal received", "signal", sig)
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}
