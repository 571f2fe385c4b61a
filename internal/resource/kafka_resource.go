package resource

import (
	"transcode-pipeline/pkg/config"
	"transcode-pipeline/pkg/kafka"
	"transcode-pipeline/pkg/manager"
)

// KafkaResource opens the shared kafka client when the kafka admission
// path is enabled.
type KafkaResource struct{}

type KafkaResourcePlugin struct{}

func (p *KafkaResourcePlugin) Name() string { return "kafka" }

func (p *KafkaResourcePlugin) MustCreateResource() manager.Resource { return &KafkaResource{} }

func (r *KafkaResource) MustOpen() {
	cfg := config.GetGlobalConfig()
	if cfg == nil || !cfg.Kafka.Enabled {
		return
	}
	kafka.DefaultClient().MustOpen()
}

func (r *KafkaResource) Close() { kafka.DefaultClient().Close() }
