package internal

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/keep/internal/download"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Tool selection for video downloads.
const (
	ToolAuto     = "auto"
	ToolDisabled = "none"
)

// Config represents the application configuration.
type Config struct {
	App      ApplicationConfig `yaml:"app"`
	Data     DataConfig        `yaml:"data"`
	Download DownloadConfig    `yaml:"download"`
	Index    IndexConfig       `yaml:"index"`
	Offline  OfflineConfig     `yaml:"offline"`
	Auth     AuthConfig        `yaml:"auth"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Data.Validate(); err != nil {
		return err
	}
	if err := c.Download.Validate(); err != nil {
		return err
	}
	if err := c.Offline.Validate(); err != nil {
		return err
	}
	return c.Auth.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel        slog.Level    `yaml:"log_level"`
	HTTP            HTTPConfig    `yaml:"http"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.ShutdownTimeout, validation.Required),
	); err != nil {
		return err
	}
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port      int           `yaml:"port"`
	Heartbeat time.Duration `yaml:"heartbeat"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
		validation.Field(&c.Heartbeat, validation.Min(time.Second)),
	)
}

// DataConfig holds the root of all on-disk state.
type DataConfig struct {
	Dir string `yaml:"dir"`
}

// Validate validates the data configuration.
func (c *DataConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Dir, validation.Required),
	)
}

// StorePath returns the metadata database path.
func (c *DataConfig) StorePath() string { return filepath.Join(c.Dir, "store") }

// IndexPath returns the search index directory.
func (c *DataConfig) IndexPath() string { return filepath.Join(c.Dir, "index") }

// DownloadsDir returns the directory holding managed blobs.
func (c *DataConfig) DownloadsDir() string { return filepath.Join(c.Dir, "downloads") }

// OfflineFile is the daemon snapshot name, relative to Dir.
const OfflineFile = "offline.json"

// DownloadConfig controls acquisition of item sources.
//
// Tool is "auto" to look up yt-dlp or youtube-dl on PATH, "none" to disable
// the video adapter, or an explicit binary path.
type DownloadConfig struct {
	OnAdd          bool          `yaml:"on_add"`
	Background     bool          `yaml:"background"`
	Tool           string        `yaml:"tool"`
	UserAgent      string        `yaml:"user_agent"`
	Timeout        time.Duration `yaml:"timeout"`
	ArchiveTimeout time.Duration `yaml:"archive_timeout"`
	MaxAssetBytes  int64         `yaml:"max_asset_bytes"`
	AssetWorkers   int           `yaml:"asset_workers"`
}

// Validate validates the download configuration.
func (c *DownloadConfig) Validate() error {
	if c.Tool == "" {
		c.Tool = ToolAuto
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.Timeout, validation.Min(time.Duration(0))),
		validation.Field(&c.ArchiveTimeout, validation.Min(time.Duration(0))),
		validation.Field(&c.MaxAssetBytes, validation.Min(int64(0))),
		validation.Field(&c.AssetWorkers, validation.Min(0), validation.Max(64)),
	)
}

// Downloader returns the downloader tuning derived from c.
func (c *DownloadConfig) Downloader() download.Config {
	return download.Config{
		UserAgent:      c.UserAgent,
		Timeout:        c.Timeout,
		ArchiveTimeout: c.ArchiveTimeout,
		MaxAssetBytes:  c.MaxAssetBytes,
		AssetWorkers:   c.AssetWorkers,
	}
}

// IndexConfig controls indexing.
type IndexConfig struct {
	OnAdd bool `yaml:"on_add"`
}

// OfflineConfig controls the background daemon state snapshot.
type OfflineConfig struct {
	CommitInterval time.Duration `yaml:"commit_interval"`
}

// Validate validates the offline configuration.
func (c *OfflineConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.CommitInterval, validation.Required, validation.Min(100*time.Millisecond)),
	)
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local use.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port:      8080,
				Heartbeat: 15 * time.Second,
			},
			ShutdownTimeout: 10 * time.Second,
		},
		Data: DataConfig{
			Dir: "./data",
		},
		Download: DownloadConfig{
			OnAdd: true,
			Tool:  ToolAuto,
		},
		Index: IndexConfig{
			OnAdd: true,
		},
		Offline: OfflineConfig{
			CommitInterval: 10 * time.Second,
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
	}
}
