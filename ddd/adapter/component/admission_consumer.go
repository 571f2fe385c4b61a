package component

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"

	appsvc "transcode-pipeline/ddd/application/app"
	"transcode-pipeline/ddd/application/cqe"
	"transcode-pipeline/pkg/config"
	pkgkafka "transcode-pipeline/pkg/kafka"
	"transcode-pipeline/pkg/logger"
	"transcode-pipeline/pkg/manager"
)

func init() {
	manager.RegisterComponentPlugin(&AdmissionConsumerPlugin{})
}

// AdmissionConsumerPlugin wires the optional Kafka admission path: other
// services drop transcode requests on a topic instead of calling the
// HTTP API.
type AdmissionConsumerPlugin struct{}

func (p *AdmissionConsumerPlugin) Name() string { return "admissionConsumer" }

func (p *AdmissionConsumerPlugin) MustCreateComponent(deps *manager.Dependencies) manager.Component {
	cfg := config.GetGlobalConfig()
	if deps != nil && deps.Config != nil {
		cfg = deps.Config
	}
	if cfg == nil || !cfg.Kafka.Enabled {
		return nil
	}
	var uploadApp appsvc.UploadApp
	if deps != nil {
		if v, ok := deps.UploadApp.(appsvc.UploadApp); ok {
			uploadApp = v
		}
	}
	if uploadApp == nil {
		uploadApp = appsvc.DefaultUploadApp()
	}
	return &admissionConsumer{
		app:     uploadApp,
		topic:   cfg.Kafka.Topics.TranscodeRequests,
		groupID: cfg.Kafka.GroupID,
	}
}

type admissionConsumer struct {
	app     appsvc.UploadApp
	topic   string
	groupID string
	ctx     context.Context
	cancel  context.CancelFunc
}

// admissionMessage is the topic payload; it mirrors the HTTP admission
// request body.
type admissionMessage struct {
	RawObjectKey     string `json:"raw_object_key"`
	OriginalFilename string `json:"original_filename"`
	MimeType         string `json:"mime_type"`
	Size             int64  `json:"size"`
	CorrelationID    string `json:"correlation_id"`
}

func (c *admissionConsumer) Start() error {
	c.ctx, c.cancel = context.WithCancel(context.Background())
	reader := pkgkafka.DefaultClient().Reader(c.topic, c.groupID)
	go func() {
		defer reader.Close()
		logger.Info("Admission consumer started", map[string]interface{}{
			"topic": c.topic,
			"group": c.groupID,
		})
		for {
			msg, err := reader.ReadMessage(c.ctx)
			if err != nil {
				if c.ctx.Err() != nil {
					return
				}
				if errors.Is(err, io.EOF) || strings.Contains(err.Error(), "EOF") {
					logger.Debug("Kafka reader EOF")
				} else {
					logger.Warn("Kafka read error", map[string]interface{}{"error": err.Error()})
				}
				continue
			}
			var m admissionMessage
			if err := json.Unmarshal(msg.Value, &m); err != nil {
				logger.Warn("Admission message unmarshal error", map[string]interface{}{
					"error": err.Error(),
				})
				continue
			}
			req := &cqe.CreateJobReq{
				RawObjectKey:     m.RawObjectKey,
				OriginalFilename: m.OriginalFilename,
				MimeType:         m.MimeType,
				Size:             m.Size,
				CorrelationID:    m.CorrelationID,
			}
			// Not tied to the consumer ctx: an in-flight admission should
			// finish even if shutdown begins mid-message.
			if _, err := c.app.CreateJob(context.Background(), req); err != nil {
				logger.Warn("Admission via Kafka failed", map[string]interface{}{
					"raw_object_key": m.RawObjectKey,
					"error":          err.Error(),
				})
			}
		}
	}()
	return nil
}

func (c *admissionConsumer) Stop() error {
	if c.cancel != nil {
		c.cancel()
	}
	return nil
}

func (c *admissionConsumer) GetName() string { return "admissionConsumer" }
