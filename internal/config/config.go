package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"github.com/google/renameio"
)

// Defaults applied by ApplyDefaults.
const (
	DefaultChunkSize        = 48000000
	DefaultPollInterval     = 3
	DefaultQueueDirname     = ".WBH_QUEUE"
	DefaultHoleFilename     = ".__WBH__.json"
	DefaultDBFilename       = "wbh.db"
	DefaultKeepDBBackup     = 4
	DefaultMaxDownloadRetry = 3
	DefaultMessageLimit     = 4096
	DefaultLogLevel         = "info"
	DefaultTempDirname      = "WBH-temp"
)

// Config represents the main configuration for wbh.
// Scalar fields tagged with env can be overridden from the environment.
type Config struct {
	BaseDir  string `toml:"base_dir"`
	LogDir   string `toml:"log_dir"`
	LogLevel string `toml:"log_level" env:"WBH_LOG_LEVEL"`

	ChunkSize           int64  `toml:"chunk_size" env:"WBH_CHUNK_SIZE"`
	PollIntervalSeconds int    `toml:"poll_interval_seconds" env:"WBH_POLL_INTERVAL"`
	TempDir             string `toml:"temp_dir" env:"WBH_TEMP_DIR"`
	QueueDirname        string `toml:"queue_dirname"`
	HoleFilename        string `toml:"blackhole_config_filename"`
	MaxDownloadRetry    int    `toml:"max_download_retry" env:"WBH_MAX_DOWNLOAD_RETRY"`
	KeepDBBackup        int    `toml:"keep_db_backup" env:"WBH_KEEP_DB_BACKUP"`

	Database   DatabaseConfig    `toml:"database"`
	Backup     BackupConfig      `toml:"backup"`
	Transport  TransportConfig   `toml:"transport"`
	Secrets    SecretsConfig     `toml:"secrets"`
	Tracing    TracingConfig     `toml:"tracing"`
	API        APIConfig         `toml:"api"`
	Filesystem FilesystemConfig  `toml:"filesystem"`
	BlackHoles []BlackHoleConfig `toml:"blackholes"`
}

// DatabaseConfig represents configuration for the catalog.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type DatabaseConfig struct {
	Type     string `toml:"type"`               // "sqlite" or "memory"
	DataDir  string `toml:"data_dir,omitempty"` // only used for type=sqlite
	Filename string `toml:"filename,omitempty"` // only used for type=sqlite
}

// Path returns the catalog file location, or ":memory:".
func (d DatabaseConfig) Path() string {
	if d.Type == "memory" {
		return ":memory:"
	}
	return filepath.Join(d.DataDir, d.Filename)
}

// BackupConfig controls catalog snapshots and recovery codes.
type BackupConfig struct {
	Secret      string `toml:"secret,omitempty" env:"WBH_BACKUP_SECRET"`
	SecretRef   string `toml:"secret_ref,omitempty"`
	Destination string `toml:"destination" env:"WBH_BACKUP_DESTINATION"`
}

// TransportConfig selects the remote store chunks are sent to.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type TransportConfig struct {
	Type         string `toml:"type" env:"WBH_TRANSPORT"` // "memory", "filesystem", "telegram", "s3", "minio" or "redis"
	MessageLimit int    `toml:"message_limit"`

	// Filesystem-specific fields (only used when Type == "filesystem")
	FSRoot string `toml:"fs_root,omitempty"`

	// Telegram-specific fields (only used when Type == "telegram")
	TelegramToken  string `toml:"telegram_token,omitempty" env:"WBH_TELEGRAM_TOKEN"`
	TelegramAPIURL string `toml:"telegram_api_url,omitempty"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket    string `toml:"s3_bucket,omitempty"`
	S3Prefix    string `toml:"s3_prefix,omitempty"`
	S3Region    string `toml:"s3_region,omitempty"`
	S3Endpoint  string `toml:"s3_endpoint,omitempty"`
	S3AccessKey string `toml:"s3_access_key,omitempty" env:"WBH_S3_ACCESS_KEY"`
	S3SecretKey string `toml:"s3_secret_key,omitempty" env:"WBH_S3_SECRET_KEY"`

	// MinIO-specific fields (only used when Type == "minio")
	MinioEndpoint  string `toml:"minio_endpoint,omitempty"`
	MinioAccessKey string `toml:"minio_access_key,omitempty" env:"WBH_MINIO_ACCESS_KEY"`
	MinioSecretKey string `toml:"minio_secret_key,omitempty" env:"WBH_MINIO_SECRET_KEY"`
	MinioBucket    string `toml:"minio_bucket,omitempty"`
	MinioUseSSL    bool   `toml:"minio_use_ssl,omitempty"`

	// Redis-specific fields (only used when Type == "redis")
	RedisAddr     string `toml:"redis_addr,omitempty"`
	RedisPassword string `toml:"redis_password,omitempty" env:"WBH_REDIS_PASSWORD"`
	RedisDB       int    `toml:"redis_db,omitempty"`
}

// SecretsConfig locates the age-encrypted secret store.
type SecretsConfig struct {
	Path string `toml:"path"`
}

// TracingConfig enables OTLP trace export when Endpoint is set.
type TracingConfig struct {
	Endpoint    string `toml:"endpoint,omitempty" env:"WBH_OTLP_ENDPOINT"`
	ServiceName string `toml:"service_name,omitempty"`
}

// APIConfig holds the listen address of the read-only catalog API.
type APIConfig struct {
	Listen string `toml:"listen" env:"WBH_API_LISTEN"`
}

// FilesystemConfig holds filesystem-related settings.
type FilesystemConfig struct {
	Ignore []string `toml:"ignore"`
}

// BlackHoleConfig describes one watched root.
type BlackHoleConfig struct {
	Name        string `toml:"name"`
	Path        string `toml:"path"`
	Destination string `toml:"destination"`
	Encryption  string `toml:"encryption"` // "NONE" or "ChaCha20Poly1305"
	Secret      string `toml:"secret,omitempty"`
	SecretRef   string `toml:"secret_ref,omitempty"`
}

// NewConfig creates a Config rooted at baseDir with every default filled in.
func NewConfig(baseDir string) *Config {
	cfg := &Config{BaseDir: baseDir}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills every unset field with its default.
func (c *Config) ApplyDefaults() {
	if c.LogDir == "" && c.BaseDir != "" {
		c.LogDir = filepath.Join(c.BaseDir, "log")
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.ChunkSize == 0 {
		c.ChunkSize = DefaultChunkSize
	}
	if c.PollIntervalSeconds == 0 {
		c.PollIntervalSeconds = DefaultPollInterval
	}
	if c.TempDir == "" {
		c.TempDir = filepath.Join(os.TempDir(), DefaultTempDirname)
	}
	if c.QueueDirname == "" {
		c.QueueDirname = DefaultQueueDirname
	}
	if c.HoleFilename == "" {
		c.HoleFilename = DefaultHoleFilename
	}
	if c.MaxDownloadRetry == 0 {
		c.MaxDownloadRetry = DefaultMaxDownloadRetry
	}
	if c.KeepDBBackup == 0 {
		c.KeepDBBackup = DefaultKeepDBBackup
	}
	if c.Database.Type == "" {
		c.Database.Type = "sqlite"
	}
	if c.Database.Type == "sqlite" {
		if c.Database.DataDir == "" && c.BaseDir != "" {
			c.Database.DataDir = filepath.Join(c.BaseDir, "db")
		}
		if c.Database.Filename == "" {
			c.Database.Filename = DefaultDBFilename
		}
	}
	if c.Transport.Type == "" {
		c.Transport.Type = "filesystem"
	}
	if c.Transport.Type == "filesystem" && c.Transport.FSRoot == "" && c.BaseDir != "" {
		c.Transport.FSRoot = filepath.Join(c.BaseDir, "remote")
	}
	if c.Transport.MessageLimit == 0 {
		c.Transport.MessageLimit = DefaultMessageLimit
	}
	if c.Secrets.Path == "" && c.BaseDir != "" {
		c.Secrets.Path = filepath.Join(c.BaseDir, "secrets.age")
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "wbh"
	}
	if c.API.Listen == "" {
		c.API.Listen = "127.0.0.1:8742"
	}
	for i := range c.BlackHoles {
		if c.BlackHoles[i].Encryption == "" {
			c.BlackHoles[i].Encryption = "NONE"
		}
	}
}

// PollInterval returns the sleep between scheduler cycles.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// FindBlackHole returns the BlackHole config with the given name, or nil.
func (c *Config) FindBlackHole(name string) *BlackHoleConfig {
	for i := range c.BlackHoles {
		if c.BlackHoles[i].Name == name {
			return &c.BlackHoles[i]
		}
	}
	return nil
}

// Validate checks the configuration once at load time.
func (c *Config) Validate() error {
	var errs []error
	if c.ChunkSize <= 0 {
		errs = append(errs, fmt.Errorf("chunk_size must be positive, got %d", c.ChunkSize))
	}
	if c.PollIntervalSeconds <= 0 {
		errs = append(errs, fmt.Errorf("poll_interval_seconds must be positive, got %d", c.PollIntervalSeconds))
	}
	if c.MaxDownloadRetry < 1 {
		errs = append(errs, fmt.Errorf("max_download_retry must be at least 1, got %d", c.MaxDownloadRetry))
	}
	if c.KeepDBBackup < 0 {
		errs = append(errs, fmt.Errorf("keep_db_backup must not be negative, got %d", c.KeepDBBackup))
	}
	switch c.Database.Type {
	case "memory":
	case "sqlite":
		if c.Database.DataDir == "" {
			errs = append(errs, errors.New("database.data_dir required for sqlite catalog"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown database type: %s", c.Database.Type))
	}
	switch c.Transport.Type {
	case "memory", "filesystem", "telegram", "s3", "minio", "redis":
	default:
		errs = append(errs, fmt.Errorf("unknown transport type: %s", c.Transport.Type))
	}
	if c.Backup.Secret != "" && len(c.Backup.Secret) < 6 {
		errs = append(errs, errors.New("backup secret must be at least 6 characters"))
	}

	seen := make(map[string]bool)
	for _, bh := range c.BlackHoles {
		if bh.Name == "" {
			errs = append(errs, fmt.Errorf("blackhole at %q has no name", bh.Path))
			continue
		}
		if seen[bh.Name] {
			errs = append(errs, fmt.Errorf("duplicate blackhole name: %s", bh.Name))
		}
		seen[bh.Name] = true
		if bh.Path == "" {
			errs = append(errs, fmt.Errorf("blackhole %s: path is required", bh.Name))
		}
		switch bh.Encryption {
		case "NONE":
		case "ChaCha20Poly1305":
			if bh.Secret == "" && bh.SecretRef == "" {
				errs = append(errs, fmt.Errorf("blackhole %s: encryption needs secret or secret_ref", bh.Name))
			}
		default:
			errs = append(errs, fmt.Errorf("blackhole %s: unknown encryption %q", bh.Name, bh.Encryption))
		}
	}
	return errors.Join(errs...)
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path without
// applying defaults or environment overrides.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

// Load reads the config file, fills defaults, applies environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg, err := ReadFromFile(path)
	if err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from WBH_* environment variables.
func ApplyEnv(cfg *Config) error {
	if err := env.Parse(cfg); err != nil {
		return fmt.Errorf("error getting env configs: %w", err)
	}
	return nil
}

// Save atomically replaces the config file at path.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	var buf bytes.Buffer
	m := &Manager{}
	if err := m.Write(&buf, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	if err := renameio.WriteFile(path, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path with the provided Config.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}
	if err := Save(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
