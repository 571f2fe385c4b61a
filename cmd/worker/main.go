// Worker-only entrypoint: hosts the scheduler and lane workers without
// the HTTP API, for scaling encode capacity separately from admission.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"transcode-pipeline/internal/resource"
	"transcode-pipeline/pkg/config"
	"transcode-pipeline/pkg/logger"
	"transcode-pipeline/pkg/manager"
	"transcode-pipeline/pkg/observability"
	"transcode-pipeline/pkg/task"

	_ "transcode-pipeline/ddd/infrastructure/worker"
)

func main() {
	observability.StartProfiling("transcode-pipeline-worker")

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		env := strings.ToLower(strings.TrimSpace(os.Getenv("CONFIG_ENV")))
		if env == "" {
			env = "dev"
		}
		cfgPath = fmt.Sprintf("configs/config.%s.yaml", env)
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("[ERROR] Failed to load config (%s): %v\n", cfgPath, err)
		os.Exit(1)
	}
	// This process always runs workers, whatever the file says.
	cfg.Worker.Enabled = true
	config.SetGlobalConfig(cfg)

	logService := logger.NewLogger(cfg)
	logger.SetGlobalLogger(logService)
	defer logService.Close()

	logger.Info("Transcode worker starting", map[string]interface{}{
		"config":                 cfgPath,
		"fast_concurrency":       cfg.Worker.FastConcurrency,
		"background_concurrency": cfg.Worker.BackgroundConcurrency,
	})

	manager.MustInitResources()
	defer manager.CloseResources()

	deps := &manager.Dependencies{
		DB:     resource.DefaultMysqlResource().MainDB(),
		Config: cfg,
	}
	manager.MustInitComponents(deps)

	if err := task.StartAll(context.Background()); err != nil {
		logger.Fatal("Background tasks failed to start", map[string]interface{}{
			"error": err.Error(),
		})
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutdown signal received")
	task.StopAll()
	manager.Shutdown()
	logger.Info("Transcode worker exited")
}
