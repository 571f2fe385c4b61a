package config

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
)

// Config is the full application configuration.
type Config struct {
	Server          ServerConfig          `mapstructure:"server"`
	Database        DatabaseConfig        `mapstructure:"database"`
	Redis           RedisConfig           `mapstructure:"redis"`
	ObjectStore     ObjectStoreConfig     `mapstructure:"object_store"`
	Queue           QueueConfig           `mapstructure:"queue"`
	Worker          WorkerConfig          `mapstructure:"worker"`
	Transcode       TranscodeConfig       `mapstructure:"transcode"`
	Webhook         WebhookConfig         `mapstructure:"webhook"`
	Kafka           KafkaConfig           `mapstructure:"kafka"`
	ServiceRegistry ServiceRegistryConfig `mapstructure:"service_registry"`
	Log             LogConfig             `mapstructure:"log"`
	Public          PublicConfig          `mapstructure:"public"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	Mode         string        `mapstructure:"mode"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig is the MySQL job store connection.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	Charset         string        `mapstructure:"charset"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// RedisConfig is the queue backend connection.
type RedisConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	EnableTLS    bool          `mapstructure:"enable_tls"`
}

// ObjectStoreConfig selects and configures the S3-compatible bucket.
// Backend is "minio" (default) or "s3" (aws-sdk path-style client).
type ObjectStoreConfig struct {
	Backend        string        `mapstructure:"backend"`
	Endpoint       string        `mapstructure:"endpoint"`
	Region         string        `mapstructure:"region"`
	AccessKey      string        `mapstructure:"access_key"`
	SecretKey      string        `mapstructure:"secret_key"`
	Bucket         string        `mapstructure:"bucket"`
	UseSSL         bool          `mapstructure:"use_ssl"`
	ForcePathStyle bool          `mapstructure:"force_path_style"`
	OpTimeout      time.Duration `mapstructure:"op_timeout"`
}

// QueueLaneConfig tunes one named queue.
type QueueLaneConfig struct {
	Concurrency   int           `mapstructure:"concurrency"`
	LockDuration  time.Duration `mapstructure:"lock_duration"`
	LockRenew     time.Duration `mapstructure:"lock_renew"`
	StallInterval time.Duration `mapstructure:"stall_interval"`
	MaxAttempts   int           `mapstructure:"max_attempts"`
	BackoffBase   time.Duration `mapstructure:"backoff_base"`
}

// QueueConfig holds the two lanes plus shared queue policy.
type QueueConfig struct {
	Fast             QueueLaneConfig `mapstructure:"fast"`
	Background       QueueLaneConfig `mapstructure:"background"`
	RateLimitMax     int             `mapstructure:"rate_limit_max"`
	RateLimitWindow  time.Duration   `mapstructure:"rate_limit_window"`
	CompletedMaxAge  time.Duration   `mapstructure:"completed_max_age"`
	CompletedMaxKeep int             `mapstructure:"completed_max_keep"`
	PollInterval     time.Duration   `mapstructure:"poll_interval"`
}

// WorkerConfig tunes the transcode workers hosted by this process.
type WorkerConfig struct {
	Enabled               bool          `mapstructure:"enabled"`
	WorkerID              string        `mapstructure:"worker_id"`
	FastConcurrency       int           `mapstructure:"fast_concurrency"`
	BackgroundConcurrency int           `mapstructure:"background_concurrency"`
	TempRoot              string        `mapstructure:"temp_root"`
	ShutdownGracePeriod   time.Duration `mapstructure:"shutdown_grace_period"`
	DrainWindow           time.Duration `mapstructure:"drain_window"`
}

// FFmpegConfig locates and tunes the external encoder binary.
type FFmpegConfig struct {
	BinaryPath        string        `mapstructure:"binary_path"`
	ProbePath         string        `mapstructure:"probe_path"`
	Timeout           time.Duration `mapstructure:"timeout"`
	ProgressDeadline  time.Duration `mapstructure:"progress_deadline"`
	BackgroundThreads int           `mapstructure:"background_threads"`
	SegmentDuration   int           `mapstructure:"segment_duration"`
}

// TranscodeConfig groups encoder settings.
type TranscodeConfig struct {
	FFmpeg FFmpegConfig `mapstructure:"ffmpeg"`
}

// WebhookConfig is the optional completion callback target.
type WebhookConfig struct {
	URL     string        `mapstructure:"url"`
	Secret  string        `mapstructure:"secret"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// KafkaConfig enables the optional Kafka admission path.
type KafkaConfig struct {
	Enabled          bool              `mapstructure:"enabled"`
	BootstrapServers []string          `mapstructure:"bootstrap_servers"`
	ClientID         string            `mapstructure:"client_id"`
	GroupID          string            `mapstructure:"group_id"`
	Topics           KafkaTopicsConfig `mapstructure:"topics"`
}

type KafkaTopicsConfig struct {
	TranscodeRequests string `mapstructure:"transcode_requests"`
}

// ServiceRegistryConfig controls etcd service registration.
type ServiceRegistryConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Endpoints       []string      `mapstructure:"endpoints"`
	ServiceName     string        `mapstructure:"service_name"`
	ServiceID       string        `mapstructure:"service_id"`
	RegisterHost    string        `mapstructure:"register_host"`
	TTL             time.Duration `mapstructure:"ttl"`
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
}

// LogConfig tunes logging output.
type LogConfig struct {
	Level    string `mapstructure:"level"`
	Format   string `mapstructure:"format"`
	Output   string `mapstructure:"output"`
	Filename string `mapstructure:"filename"`
}

// PublicConfig holds externally visible URLs.
type PublicConfig struct {
	// APIBaseURL is the externally reachable prefix of this service,
	// including the /api/upload mount. Used when rewriting playlists
	// and building hls_master_url.
	APIBaseURL string `mapstructure:"api_base_url"`
	// MaxSourceBytes caps accepted source size at admission.
	MaxSourceBytes int64 `mapstructure:"max_source_bytes"`
}

// Load reads a YAML config file with GO_PIPELINE_* env overrides.
func Load(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	viper.SetDefault("object_store.backend", "minio")
	viper.SetDefault("worker.enabled", true)
	viper.SetDefault("kafka.client_id", "transcode-pipeline")
	viper.SetDefault("kafka.group_id", "transcode-pipeline-group")
	viper.SetDefault("kafka.topics.transcode_requests", "transcode.requests")
	viper.SetDefault("service_registry.service_name", "transcode-pipeline")

	viper.SetEnvPrefix("GO_PIPELINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		return nil, err
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	config.normalize()

	return &config, nil
}

// normalize fills defaults for anything the file left unset.
func (c *Config) normalize() {
	if c.Server.Port == 0 {
		c.Server.Port = 8084
	}

	if c.ObjectStore.OpTimeout <= 0 {
		c.ObjectStore.OpTimeout = 30 * time.Second
	}

	// Lane defaults: fast is short-lock low-latency, background long-lock.
	applyLaneDefaults(&c.Queue.Fast, QueueLaneConfig{
		Concurrency:   1,
		LockDuration:  60 * time.Second,
		LockRenew:     30 * time.Second,
		StallInterval: 30 * time.Second,
		MaxAttempts:   3,
		BackoffBase:   2 * time.Second,
	})
	applyLaneDefaults(&c.Queue.Background, QueueLaneConfig{
		Concurrency:   1,
		LockDuration:  600 * time.Second,
		LockRenew:     300 * time.Second,
		StallInterval: 60 * time.Second,
		MaxAttempts:   3,
		BackoffBase:   2 * time.Second,
	})
	if c.Queue.RateLimitMax <= 0 {
		c.Queue.RateLimitMax = 10
	}
	if c.Queue.RateLimitWindow <= 0 {
		c.Queue.RateLimitWindow = 60 * time.Second
	}
	if c.Queue.CompletedMaxAge <= 0 {
		c.Queue.CompletedMaxAge = 24 * time.Hour
	}
	if c.Queue.CompletedMaxKeep <= 0 {
		c.Queue.CompletedMaxKeep = 100
	}
	if c.Queue.PollInterval <= 0 {
		c.Queue.PollInterval = time.Second
	}

	if c.Worker.FastConcurrency <= 0 {
		c.Worker.FastConcurrency = 1
	}
	if c.Worker.BackgroundConcurrency <= 0 {
		c.Worker.BackgroundConcurrency = 1
	}
	if c.Worker.TempRoot == "" {
		c.Worker.TempRoot = "/tmp/transcode-pipeline"
	}
	if c.Worker.ShutdownGracePeriod == 0 {
		c.Worker.ShutdownGracePeriod = 10 * time.Second
	}
	if c.Worker.DrainWindow == 0 {
		c.Worker.DrainWindow = 30 * time.Second
	}

	if c.Transcode.FFmpeg.BinaryPath == "" {
		c.Transcode.FFmpeg.BinaryPath = "ffmpeg"
	}
	if c.Transcode.FFmpeg.ProbePath == "" {
		c.Transcode.FFmpeg.ProbePath = "ffprobe"
	}
	if c.Transcode.FFmpeg.Timeout == 0 {
		c.Transcode.FFmpeg.Timeout = time.Hour
	}
	if c.Transcode.FFmpeg.ProgressDeadline <= 0 {
		c.Transcode.FFmpeg.ProgressDeadline = 30 * time.Second
	}
	if c.Transcode.FFmpeg.BackgroundThreads <= 0 {
		c.Transcode.FFmpeg.BackgroundThreads = 2
	}
	if c.Transcode.FFmpeg.SegmentDuration <= 0 {
		c.Transcode.FFmpeg.SegmentDuration = 15
	}

	if c.Webhook.Timeout <= 0 {
		c.Webhook.Timeout = 10 * time.Second
	}

	if c.Public.APIBaseURL == "" {
		c.Public.APIBaseURL = fmt.Sprintf("http://localhost:%d/api/upload", c.Server.Port)
	}
	c.Public.APIBaseURL = strings.TrimRight(c.Public.APIBaseURL, "/")
	if c.Public.MaxSourceBytes <= 0 {
		c.Public.MaxSourceBytes = 5 << 30 // 5 GiB
	}

	if len(c.Kafka.BootstrapServers) == 0 {
		c.Kafka.BootstrapServers = []string{"localhost:29092"}
	}
	if c.ServiceRegistry.TTL == 0 {
		c.ServiceRegistry.TTL = 30 * time.Second
	}
	if c.ServiceRegistry.RefreshInterval == 0 {
		c.ServiceRegistry.RefreshInterval = 10 * time.Second
	}
	if len(c.ServiceRegistry.Endpoints) == 0 {
		c.ServiceRegistry.Endpoints = []string{"localhost:2379"}
	}
}

func applyLaneDefaults(lane *QueueLaneConfig, def QueueLaneConfig) {
	if lane.Concurrency <= 0 {
		lane.Concurrency = def.Concurrency
	}
	if lane.LockDuration <= 0 {
		lane.LockDuration = def.LockDuration
	}
	if lane.LockRenew <= 0 {
		lane.LockRenew = def.LockRenew
	}
	if lane.StallInterval <= 0 {
		lane.StallInterval = def.StallInterval
	}
	if lane.MaxAttempts <= 0 {
		lane.MaxAttempts = def.MaxAttempts
	}
	if lane.BackoffBase <= 0 {
		lane.BackoffBase = def.BackoffBase
	}
}

// GetDSN builds the MySQL connection string.
func (c *DatabaseConfig) GetDSN() string {
	charset := c.Charset
	if charset == "" {
		charset = "utf8mb4"
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=%s&parseTime=True&loc=Local",
		c.Username, c.Password, c.Host, c.Port, c.Database, charset)
}

// GetRedisAddr builds the Redis host:port address.
func (c *RedisConfig) GetRedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Lane returns the lane config for a queue name ("fast" or "background").
func (c *QueueConfig) Lane(name string) QueueLaneConfig {
	if name == "background" {
		return c.Background
	}
	return c.Fast
}

var (
	globalConfig   *Config
	globalConfigMu sync.RWMutex
)

// SetGlobalConfig installs the process-wide configuration.
func SetGlobalConfig(cfg *Config) {
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = cfg
}

// GetGlobalConfig returns the process-wide configuration (nil before Load).
func GetGlobalConfig() *Config {
	globalConfigMu.RLock()
	defer globalConfigMu.RUnlock()
	return globalConfig
}
