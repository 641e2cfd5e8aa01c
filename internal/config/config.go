package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Launcher LauncherConfig
	Logging  LoggingConfig
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Storage  StorageConfig
	Queue    QueueConfig
	Metrics  MetricsConfig
	Tracing  TracingConfig
	Webhook  WebhookConfig
}

// LauncherConfig holds test matrix generation settings
type LauncherConfig struct {
	// Paths are walked for media files when no explicit URIs are given
	Paths        []string
	ValidateURIs []string
	// WantedTests containing "ALL" selects every known scenario
	WantedTests []string
	PrivateDir  string
	LogsDir     string
	// Dest is where transcoding outputs are written
	Dest      string
	TestsDir  string
	ToolsPath string
	Mute      bool

	DisableRTSP           bool
	RTSPStartupTimeout    time.Duration
	RTSPOverridesDir      string
	LongLimit             int
	GenerateSSIMReference bool
	GenerateInfo          bool
	GenerateInfoFull      bool
	UpdateMediaInfo       bool
	// GenerateExpectations is one of auto, enabled, disabled
	GenerateExpectations string
	HTTPServerPort       int
	DiscoveryWorkers     int
	DescriptorCacheTTL   time.Duration

	ScenariosPaths  []string
	BlacklistFiles  []string
	DefinitionFiles []string
	SuppressionFile string
	EncodingFormats []FormatConfig

	// Mixers adds the compositor and audiomixer generators
	Mixers bool
	// AccurateSeekReferenceDir holds one reference frame directory per asset;
	// accurate seeking tests are generated only when it is set
	AccurateSeekReferenceDir string
}

// FormatConfig declares one extra transcoding target
type FormatConfig struct {
	Container        string
	Audio            string
	Video            string
	VideoRestriction string
	AudioRestriction string
}

// LoggingConfig holds logger configuration
type LoggingConfig struct {
	Level  string
	Format string
	Output string
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
	Enabled  bool
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int
	MinConns int
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

// StorageConfig holds object storage configuration
type StorageConfig struct {
	Enabled         bool
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	Region          string
	UseSSL          bool
}

// QueueConfig holds message queue configuration
type QueueConfig struct {
	Enabled  bool
	Host     string
	Port     int
	User     string
	Password string
	Vhost    string
}

// MetricsConfig holds Prometheus exporter configuration
type MetricsConfig struct {
	Enabled bool
	Port    int
}

// TracingConfig holds Jaeger configuration
type TracingConfig struct {
	Enabled     bool
	ServiceName string
	Endpoint    string
}

// WebhookConfig holds run notification endpoints
type WebhookConfig struct {
	Enabled bool
	URLs    []string
	// Secret signs every payload with HMAC-SHA256 when set
	Secret     string
	Timeout    time.Duration
	MaxRetries int
}

// Load reads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	return unmarshal(v)
}

// LoadFromEnv builds the configuration from defaults and environment variables only
func LoadFromEnv() (*Config, error) {
	return unmarshal(newViper())
}

// LoadWith reads an optional config file through an existing viper instance,
// so that command line flags bound to it take precedence.
func LoadWith(v *viper.Viper, configPath string) (*Config, error) {
	setDefaults(v)
	v.SetEnvPrefix("TESTMATRIX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	return unmarshal(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("TESTMATRIX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

func unmarshal(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate checks values that cannot be defaulted
func (c *Config) Validate() error {
	switch c.Launcher.GenerateExpectations {
	case "auto", "enabled", "disabled":
	default:
		return fmt.Errorf("invalid launcher.generateExpectations %q: want auto, enabled or disabled",
			c.Launcher.GenerateExpectations)
	}

	if c.Launcher.LongLimit <= 0 {
		return fmt.Errorf("launcher.longLimit must be positive, got %d", c.Launcher.LongLimit)
	}

	if c.Launcher.DiscoveryWorkers <= 0 {
		c.Launcher.DiscoveryWorkers = 1
	}

	return nil
}

func setDefaults(v *viper.Viper) {
	// Launcher defaults
	v.SetDefault("launcher.paths", []string{"medias/defaults"})
	v.SetDefault("launcher.privateDir", "/tmp/testmatrix/private")
	v.SetDefault("launcher.logsDir", "/tmp/testmatrix/logs")
	v.SetDefault("launcher.dest", "/tmp/testmatrix/dest")
	v.SetDefault("launcher.testsDir", "")
	v.SetDefault("launcher.toolsPath", "")
	v.SetDefault("launcher.mute", true)
	v.SetDefault("launcher.disableRTSP", false)
	v.SetDefault("launcher.rtspStartupTimeout", "30s")
	v.SetDefault("launcher.rtspOverridesDir", "data/scenarios/rtsp_overrides")
	v.SetDefault("launcher.longLimit", 300)
	v.SetDefault("launcher.generateSSIMReference", false)
	v.SetDefault("launcher.generateInfo", false)
	v.SetDefault("launcher.generateInfoFull", false)
	v.SetDefault("launcher.updateMediaInfo", false)
	v.SetDefault("launcher.generateExpectations", "auto")
	v.SetDefault("launcher.httpServerPort", 8079)
	v.SetDefault("launcher.discoveryWorkers", 4)
	v.SetDefault("launcher.descriptorCacheTTL", "24h")
	v.SetDefault("launcher.mixers", false)
	v.SetDefault("launcher.accurateSeekReferenceDir", "")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.output", "stderr")

	// Server defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.readTimeout", "30s")
	v.SetDefault("server.writeTimeout", "30s")
	v.SetDefault("server.shutdownTimeout", "10s")

	// Database defaults
	v.SetDefault("database.enabled", false)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "testmatrix")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.maxConns", 10)
	v.SetDefault("database.minConns", 1)

	// Redis defaults
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	// Storage defaults
	v.SetDefault("storage.enabled", false)
	v.SetDefault("storage.endpoint", "localhost:9000")
	v.SetDefault("storage.accessKeyID", "minioadmin")
	v.SetDefault("storage.secretAccessKey", "minioadmin")
	v.SetDefault("storage.bucketName", "testmatrix")
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.useSSL", false)

	// Queue defaults
	v.SetDefault("queue.enabled", false)
	v.SetDefault("queue.host", "localhost")
	v.SetDefault("queue.port", 5672)
	v.SetDefault("queue.user", "guest")
	v.SetDefault("queue.password", "guest")
	v.SetDefault("queue.vhost", "/")

	// Metrics defaults
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.port", 9090)

	// Tracing defaults
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.serviceName", "testmatrix")
	v.SetDefault("tracing.endpoint", "http://localhost:14268/api/traces")

	// Webhook defaults
	v.SetDefault("webhook.enabled", false)
	v.SetDefault("webhook.urls", []string{})
	v.SetDefault("webhook.secret", "")
	v.SetDefault("webhook.timeout", "10s")
	v.SetDefault("webhook.maxRetries", 3)
}
