package worker

import (
	"context"
	"fmt"
	"os"

	"transcode-pipeline/ddd/domain/gateway"
	"transcode-pipeline/ddd/infrastructure/database/persistence"
	"transcode-pipeline/ddd/infrastructure/executor"
	"transcode-pipeline/ddd/infrastructure/notify"
	"transcode-pipeline/ddd/infrastructure/queue"
	"transcode-pipeline/ddd/infrastructure/storage"
	"transcode-pipeline/internal/resource"
	"transcode-pipeline/pkg/config"
	"transcode-pipeline/pkg/logger"
	"transcode-pipeline/pkg/manager"
	"transcode-pipeline/pkg/task"
)

func init() {
	manager.RegisterComponentPlugin(&TranscodeWorkerComponentPlugin{})
}

// TranscodeWorkerComponentPlugin assembles the queue scheduler and the two
// lane workers and registers them as background tasks.
type TranscodeWorkerComponentPlugin struct{}

func (p *TranscodeWorkerComponentPlugin) Name() string {
	return "transcodeWorkerComponent"
}

func (p *TranscodeWorkerComponentPlugin) MustCreateComponent(deps *manager.Dependencies) manager.Component {
	cfg := deps.Config
	if cfg == nil {
		cfg = config.GetGlobalConfig()
	}
	if !cfg.Worker.Enabled {
		return nil
	}

	jobs := persistence.NewJobRepository()
	taskQueue := queue.NewRedisTaskQueue(resource.DefaultRedisResource().Client(), cfg)
	store := storage.NewObjectStore(cfg)
	encoder := executor.NewFFmpegEncoder(cfg)

	var notifier gateway.Notifier
	if cfg.Webhook.URL != "" {
		notifier = notify.NewWebhookNotifier(cfg)
	}

	component := &transcodeWorkerComponent{
		name:      "transcodeWorker",
		cfg:       cfg,
		encoder:   encoder,
		scheduler: queue.NewScheduler(cfg, taskQueue, jobs),
		fast: NewTranscodeWorker(queue.QueueFast, cfg.Worker.FastConcurrency,
			cfg, taskQueue, jobs, store, encoder, notifier),
		background: NewTranscodeWorker(queue.QueueBackground, cfg.Worker.BackgroundConcurrency,
			cfg, taskQueue, jobs, store, encoder, notifier),
	}
	registerWorker(queue.QueueFast, component.fast)
	registerWorker(queue.QueueBackground, component.background)
	return component
}

type transcodeWorkerComponent struct {
	name       string
	cfg        *config.Config
	encoder    *executor.FFmpegEncoder
	scheduler  *queue.Scheduler
	fast       *TranscodeWorker
	background *TranscodeWorker
}

func (c *transcodeWorkerComponent) Start() error {
	// A host without a working ffmpeg should fail at boot, not on the
	// first claimed job.
	if err := c.encoder.Probe(context.Background()); err != nil {
		return fmt.Errorf("ffmpeg probe: %w", err)
	}
	if err := os.MkdirAll(c.cfg.Worker.TempRoot, 0o755); err != nil {
		return fmt.Errorf("create temp root: %w", err)
	}

	task.Register(c.scheduler)
	task.Register(c.fast)
	task.Register(c.background)
	logger.Info("Transcode worker component registered background tasks", map[string]interface{}{
		"name": c.name,
	})
	return nil
}

func (c *transcodeWorkerComponent) Stop() error {
	// Background tasks are stopped by the task manager; keep this
	// idempotent.
	logger.Info("Transcode worker component stopped", map[string]interface{}{
		"name": c.name,
	})
	return nil
}

func (c *transcodeWorkerComponent) GetName() string {
	return c.name
}

// Workers exposes the lane workers for the stats endpoint.
func (c *transcodeWorkerComponent) Workers() map[string]*TranscodeWorker {
	return map[string]*TranscodeWorker{
		queue.QueueFast:       c.fast,
		queue.QueueBackground: c.background,
	}
}
