package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gin-gonic/gin"

	httpAdapter "transcode-pipeline/ddd/adapter/http"
	uploadapp "transcode-pipeline/ddd/application/app"
	"transcode-pipeline/internal/resource"
	"transcode-pipeline/pkg/config"
	"transcode-pipeline/pkg/logger"
	"transcode-pipeline/pkg/manager"
	"transcode-pipeline/pkg/registry"
	"transcode-pipeline/pkg/task"

	_ "transcode-pipeline/ddd/adapter/component"
	_ "transcode-pipeline/ddd/infrastructure/worker"
)

// Run boots the full pipeline process: API, scheduler and workers.
func Run() {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("[ERROR] Failed to load config (%s): %v\n", cfgPath, err)
		os.Exit(1)
	}
	config.SetGlobalConfig(cfg)

	logService := logger.NewLogger(cfg)
	logger.SetGlobalLogger(logService)
	defer logService.Close()

	logger.Info("Transcode pipeline starting", map[string]interface{}{
		"config": cfgPath,
		"port":   cfg.Server.Port,
	})

	manager.MustInitResources()
	defer manager.CloseResources()

	uploadApp := uploadapp.DefaultUploadApp()
	deps := &manager.Dependencies{
		DB:        resource.DefaultMysqlResource().MainDB(),
		Config:    cfg,
		UploadApp: uploadApp,
	}

	manager.MustInitComponents(deps)

	if err := task.StartAll(context.Background()); err != nil {
		logger.Fatal("Background tasks failed to start", map[string]interface{}{
			"error": err.Error(),
		})
	}

	if cfg.Server.Mode != "" {
		gin.SetMode(cfg.Server.Mode)
	}
	engine := gin.New()
	engine.Use(gin.Logger())
	httpAdapter.SetupMiddleware(engine)
	manager.RegisterAllRoutes(engine, deps)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      engine,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info("HTTP server started", map[string]interface{}{"addr": server.Addr})
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP server failed", map[string]interface{}{"error": err.Error()})
		}
	}()

	serviceRegistry := startServiceRegistry(cfg)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutdown signal received")

	if serviceRegistry != nil {
		if err := serviceRegistry.Deregister(); err != nil {
			logger.Warn("Service deregistration failed", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}

	// Drain: workers get DrainWindow to finish or park in-flight jobs
	// before the HTTP listener is torn down.
	task.StopAll()
	manager.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Worker.ShutdownGracePeriod)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("HTTP server forced to close", map[string]interface{}{
			"error": err.Error(),
		})
	}

	logger.Info("Transcode pipeline exited")
}

// startServiceRegistry publishes this node into etcd when enabled.
func startServiceRegistry(cfg *config.Config) *registry.ServiceRegistry {
	if !cfg.ServiceRegistry.Enabled {
		return nil
	}
	serviceID := cfg.ServiceRegistry.ServiceID
	if serviceID == "" {
		hostname, _ := os.Hostname()
		serviceID = fmt.Sprintf("%s-%d", hostname, cfg.Server.Port)
	}
	registerHost := cfg.ServiceRegistry.RegisterHost
	if registerHost == "" {
		registerHost = "localhost"
	}
	sr, err := registry.NewServiceRegistry(
		registry.RegistryConfig{Endpoints: cfg.ServiceRegistry.Endpoints},
		registry.ServiceConfig{
			ServiceName: cfg.ServiceRegistry.ServiceName,
			ServiceID:   serviceID,
			TTL:         cfg.ServiceRegistry.TTL,
		},
		fmt.Sprintf("%s:%d", registerHost, cfg.Server.Port),
	)
	if err != nil {
		logger.Warn("Service registry unavailable", map[string]interface{}{
			"error": err.Error(),
		})
		return nil
	}
	if err := sr.Register(); err != nil {
		logger.Warn("Service registration failed", map[string]interface{}{
			"error": err.Error(),
		})
		return nil
	}
	return sr
}

// resolveConfigPath picks the config file from CONFIG_PATH or CONFIG_ENV.
func resolveConfigPath() string {
	if path := os.Getenv("CONFIG_PATH"); path != "" {
		return path
	}

	env := strings.ToLower(strings.TrimSpace(os.Getenv("CONFIG_ENV")))
	if env == "" {
		env = "dev"
	}

	switch env {
	case "prod", "production":
		return "configs/config.prod.yaml"
	case "dev", "development":
		return "configs/config.dev.yaml"
	default:
		return fmt.Sprintf("configs/config.%s.yaml", env)
	}
}
