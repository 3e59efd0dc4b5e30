package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Storage    StorageConfig
	Keys       KeysConfig
	Queue      QueueConfig
	Worker     WorkerConfig
	Transcoder TranscoderConfig
	Access     AccessConfig
	Auth       AuthConfig
	Monitoring MonitoringConfig
	Webhook    WebhookConfig
	Logging    LoggingConfig
	Tracing    TracingConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int
	Host            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int
	MinConns int
}

// RedisConfig holds Redis configuration for the video lookup cache
type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
	VideoTTL time.Duration
}

// StorageConfig groups both storage backends
type StorageConfig struct {
	Local  LocalStorageConfig
	Object ObjectStoreConfig
}

// LocalStorageConfig holds the filesystem backend settings
type LocalStorageConfig struct {
	RootDir       string
	StagingDir    string
	PublicBaseURL string
}

// ObjectStoreConfig holds S3-compatible object storage configuration
type ObjectStoreConfig struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	Region          string
	UseSSL          bool
	PublicBaseURL   string
}

// Enabled reports whether enough settings are present to talk to the object store.
// Missing credentials mean local-only operation.
func (c ObjectStoreConfig) Enabled() bool {
	return c.Endpoint != "" && c.AccessKeyID != "" && c.SecretAccessKey != "" && c.BucketName != ""
}

// KeysConfig holds key store settings
type KeysConfig struct {
	Backend string // auto, local, object
	URIBase string // key URI written into the key-info descriptor
}

// QueueConfig holds message queue configuration used for worker wake-ups
type QueueConfig struct {
	Enabled  bool
	Host     string
	Port     int
	User     string
	Password string
	Vhost    string
}

// WorkerConfig holds worker loop configuration
type WorkerConfig struct {
	PollInterval time.Duration
	MetricsPort  int
}

// TranscoderConfig holds transcoding configuration
type TranscoderConfig struct {
	TempDir           string
	FFmpegPath        string
	FFprobePath       string
	SegmentSeconds    int
	Preset            string
	AudioSampleRate   int
	AudioChannels     int
	AudioBitrate      string
	UploadConcurrency int
}

// AccessConfig holds viewer access settings
type AccessConfig struct {
	DefaultGrantDuration time.Duration
	SignedLinkTTL        time.Duration
	StreamPathPrefix     string
	MediaPathPrefix      string
}

// AuthConfig holds bearer token settings
type AuthConfig struct {
	JWTSecret string
	AdminRole string
	KeyRPS    int
	KeyBurst  int
}

// LoggingConfig mirrors logging.Config
type LoggingConfig struct {
	Level  string
	Format string
	Output string
}

// MonitoringConfig holds queue health thresholds
type MonitoringConfig struct {
	Interval        time.Duration
	MaxPending      int64
	StuckAfter      time.Duration
	MaxFailureRatio float64
}

// WebhookConfig holds task lifecycle callback settings. An empty URL disables delivery.
type WebhookConfig struct {
	URL         string
	Secret      string
	Timeout     time.Duration
	MaxAttempts int
}

// TracingConfig holds Jaeger settings
type TracingConfig struct {
	Enabled        bool
	ServiceName    string
	JaegerEndpoint string
}

// Load reads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.readTimeout", "30s")
	v.SetDefault("server.writeTimeout", "0s")
	v.SetDefault("server.shutdownTimeout", "10s")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "hlsvault")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.maxConns", 10)
	v.SetDefault("database.minConns", 2)

	// Redis defaults
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.videoTTL", "1m")

	// Storage defaults; object store credentials are intentionally empty
	v.SetDefault("storage.local.rootDir", "/var/lib/hlsvault")
	v.SetDefault("storage.local.stagingDir", "/var/lib/hlsvault/staging")
	v.SetDefault("storage.local.publicBaseURL", "")
	v.SetDefault("storage.object.endpoint", "")
	v.SetDefault("storage.object.accessKeyID", "")
	v.SetDefault("storage.object.secretAccessKey", "")
	v.SetDefault("storage.object.bucketName", "")
	v.SetDefault("storage.object.region", "auto")
	v.SetDefault("storage.object.useSSL", true)

	// Key defaults
	v.SetDefault("keys.backend", "auto")
	v.SetDefault("keys.uriBase", "/api/v1/get-key")

	// Queue defaults
	v.SetDefault("queue.enabled", false)
	v.SetDefault("queue.host", "localhost")
	v.SetDefault("queue.port", 5672)
	v.SetDefault("queue.user", "guest")
	v.SetDefault("queue.password", "guest")
	v.SetDefault("queue.vhost", "/")

	// Worker defaults
	v.SetDefault("worker.pollInterval", "5s")
	v.SetDefault("worker.metricsPort", 9091)

	// Transcoder defaults
	v.SetDefault("transcoder.tempDir", "/tmp/hlsvault")
	v.SetDefault("transcoder.ffmpegPath", "ffmpeg")
	v.SetDefault("transcoder.ffprobePath", "ffprobe")
	v.SetDefault("transcoder.segmentSeconds", 6)
	v.SetDefault("transcoder.preset", "medium")
	v.SetDefault("transcoder.audioSampleRate", 48000)
	v.SetDefault("transcoder.audioChannels", 2)
	v.SetDefault("transcoder.audioBitrate", "128k")
	v.SetDefault("transcoder.uploadConcurrency", 4)

	// Access defaults
	v.SetDefault("access.defaultGrantDuration", "24h")
	v.SetDefault("access.signedLinkTTL", "1h")
	v.SetDefault("access.streamPathPrefix", "/api/v1/videos")
	v.SetDefault("access.mediaPathPrefix", "/media")

	// Auth defaults
	v.SetDefault("auth.jwtSecret", "")
	v.SetDefault("auth.adminRole", "admin")
	v.SetDefault("auth.keyRPS", 20)
	v.SetDefault("auth.keyBurst", 40)

	// Monitoring defaults
	v.SetDefault("monitoring.interval", "30s")
	v.SetDefault("monitoring.maxPending", 1000)
	v.SetDefault("monitoring.stuckAfter", "2h")
	v.SetDefault("monitoring.maxFailureRatio", 0.1)

	// Webhook defaults
	v.SetDefault("webhook.url", "")
	v.SetDefault("webhook.secret", "")
	v.SetDefault("webhook.timeout", "10s")
	v.SetDefault("webhook.maxAttempts", 4)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	// Tracing defaults
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.serviceName", "hlsvault")
	v.SetDefault("tracing.jaegerEndpoint", "http://localhost:14268/api/traces")
}
