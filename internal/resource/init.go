package resource

import "transcode-pipeline/pkg/manager"

func init() {
	manager.RegisterResourcePlugin(
		&MySqlResourcePlugin{},
		&RedisResourcePlugin{},
		&MinioResourcePlugin{},
		&S3ResourcePlugin{},
		&KafkaResourcePlugin{},
	)
}
