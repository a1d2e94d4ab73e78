// Package config handles configuration loading, validation, and
// hot-reloading for proctord.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config holds the complete daemon configuration.
type Config struct {
	// Server configures the client-facing HTTP API.
	Server ServerConfig `toml:"server" json:"server" yaml:"server"`

	// ExamService configures the upstream exam definition service.
	ExamService UpstreamConfig `toml:"exam_service" json:"exam_service" yaml:"exam_service"`

	// Platform configures submission delivery to the exam platform.
	Platform UpstreamConfig `toml:"platform" json:"platform" yaml:"platform"`

	// Detectors configures the violation detector schedule.
	Detectors DetectorConfig `toml:"detectors" json:"detectors" yaml:"detectors"`

	// Snapshot configures evidence still capture.
	Snapshot SnapshotConfig `toml:"snapshot" json:"snapshot" yaml:"snapshot"`

	// Spool configures local persistence.
	Spool SpoolConfig `toml:"spool" json:"spool" yaml:"spool"`

	// Auth configures session token verification.
	Auth AuthConfig `toml:"auth" json:"auth" yaml:"auth"`

	// Logging configuration.
	Logging LoggingConfig `toml:"logging" json:"logging" yaml:"logging"`
}

// ServerConfig holds HTTP API settings.
type ServerConfig struct {
	// Addr is the listen address.
	Addr string `toml:"addr" json:"addr" yaml:"addr"`

	// FrameRate bounds camera frame uploads per session, frames/sec.
	FrameRate float64 `toml:"frame_rate" json:"frame_rate" yaml:"frame_rate"`

	// FrameBurst is the maximum frame upload burst.
	FrameBurst int `toml:"frame_burst" json:"frame_burst" yaml:"frame_burst"`
}

// UpstreamConfig holds settings for one upstream HTTP service.
type UpstreamConfig struct {
	// BaseURL of the service.
	BaseURL string `toml:"base_url" json:"base_url" yaml:"base_url"`

	// Token is the bearer credential for the service. Prefer the
	// environment override for production deployments.
	Token string `toml:"token" json:"token" yaml:"token"`

	// TimeoutSec is the per-request timeout in seconds.
	TimeoutSec int `toml:"timeout_sec" json:"timeout_sec" yaml:"timeout_sec"`
}

// DetectorConfig holds detector scheduling and policy settings.
type DetectorConfig struct {
	// FaceIntervalMs is the face detector period in milliseconds.
	FaceIntervalMs int `toml:"face_interval_ms" json:"face_interval_ms" yaml:"face_interval_ms"`

	// ObjectIntervalMs is the object detector period in milliseconds.
	ObjectIntervalMs int `toml:"object_interval_ms" json:"object_interval_ms" yaml:"object_interval_ms"`

	// EnvironmentIntervalSec is the VM advisory period in seconds.
	EnvironmentIntervalSec int `toml:"environment_interval_sec" json:"environment_interval_sec" yaml:"environment_interval_sec"`

	// FlagOnVM stores a flag on a likely-VM verdict instead of only
	// annotating the submission.
	FlagOnVM bool `toml:"flag_on_vm" json:"flag_on_vm" yaml:"flag_on_vm"`

	// ProhibitedClasses overrides the object classes that raise flags.
	ProhibitedClasses []string `toml:"prohibited_classes" json:"prohibited_classes" yaml:"prohibited_classes"`

	// MinObjectConfidence is the detection confidence floor.
	MinObjectConfidence float64 `toml:"min_object_confidence" json:"min_object_confidence" yaml:"min_object_confidence"`

	// InferenceURL is the base URL of the local inference sidecar that
	// serves face landmarks and object detections. When empty, the
	// camera detectors run degraded.
	InferenceURL string `toml:"inference_url" json:"inference_url" yaml:"inference_url"`

	// InferenceToken is the bearer credential for the sidecar.
	InferenceToken string `toml:"inference_token" json:"inference_token" yaml:"inference_token"`

	// InferenceTimeoutSec is the per-request inference timeout in
	// seconds.
	InferenceTimeoutSec int `toml:"inference_timeout_sec" json:"inference_timeout_sec" yaml:"inference_timeout_sec"`
}

// SnapshotConfig holds evidence capture settings.
type SnapshotConfig struct {
	// MaxWidth bounds snapshot width in pixels.
	MaxWidth int `toml:"max_width" json:"max_width" yaml:"max_width"`

	// JPEGQuality is the re-encode quality, 1-100.
	JPEGQuality int `toml:"jpeg_quality" json:"jpeg_quality" yaml:"jpeg_quality"`
}

// SpoolConfig holds local persistence settings.
type SpoolConfig struct {
	// Path is the spool database file.
	Path string `toml:"path" json:"path" yaml:"path"`

	// MasterKeyPath is the file holding the spool master key. Created
	// on first start when absent.
	MasterKeyPath string `toml:"master_key_path" json:"master_key_path" yaml:"master_key_path"`

	// SweepIntervalSec is the delivery retry period in seconds.
	SweepIntervalSec int `toml:"sweep_interval_sec" json:"sweep_interval_sec" yaml:"sweep_interval_sec"`
}

// AuthConfig holds token verification settings.
type AuthConfig struct {
	// SecretPath is the file holding the shared HS256 signing secret.
	SecretPath string `toml:"secret_path" json:"secret_path" yaml:"secret_path"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level      string `toml:"level" json:"level" yaml:"level"`
	Format     string `toml:"format" json:"format" yaml:"format"`
	Output     string `toml:"output" json:"output" yaml:"output"`
	FilePath   string `toml:"file_path" json:"file_path" yaml:"file_path"`
	MaxSizeMB  int    `toml:"max_size_mb" json:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" json:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" json:"max_age_days" yaml:"max_age_days"`
	Compress   bool   `toml:"compress" json:"compress" yaml:"compress"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	dir := DataDir()

	return &Config{
		Server: ServerConfig{
			Addr:       "127.0.0.1:7411",
			FrameRate:  15,
			FrameBurst: 30,
		},
		ExamService: UpstreamConfig{
			TimeoutSec: 15,
		},
		Platform: UpstreamConfig{
			TimeoutSec: 30,
		},
		Detectors: DetectorConfig{
			FaceIntervalMs:         100,
			ObjectIntervalMs:       2000,
			EnvironmentIntervalSec: 10,
			FlagOnVM:               false,
			MinObjectConfidence:    0.5,
			InferenceTimeoutSec:    5,
		},
		Snapshot: SnapshotConfig{
			MaxWidth:    640,
			JPEGQuality: 50,
		},
		Spool: SpoolConfig{
			Path:             filepath.Join(dir, "spool.db"),
			MasterKeyPath:    filepath.Join(dir, "spool.key"),
			SweepIntervalSec: 30,
		},
		Auth: AuthConfig{
			SecretPath: filepath.Join(dir, "token.secret"),
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "file",
			FilePath:   filepath.Join(dir, "proctord.log"),
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 30,
			Compress:   true,
		},
	}
}

// DataDir returns the base proctord data directory, honoring the
// PROCTORD_DATA_DIR override.
func DataDir() string {
	if envDir := os.Getenv("PROCTORD_DATA_DIR"); envDir != "" {
		return envDir
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "proctord")
	}

	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "proctord")
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "proctord")
		}
		return filepath.Join(home, "AppData", "Roaming", "proctord")
	default:
		if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
			return filepath.Join(xdg, "proctord")
		}
		return filepath.Join(home, ".local", "share", "proctord")
	}
}

// ConfigPath returns the default configuration file path.
func ConfigPath() string {
	return filepath.Join(DataDir(), "config.toml")
}

// Load reads configuration from the specified path. A missing file
// yields the defaults. TOML, JSON, and YAML are supported by
// extension.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		path = ConfigPath()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.ApplyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	switch filepath.Ext(path) {
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("decode JSON: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("decode YAML: %w", err)
		}
	default:
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("decode TOML: %w", err)
		}
	}

	cfg.ApplyEnvOverrides()
	return cfg, nil
}

// ApplyEnvOverrides applies PROCTORD_* environment overrides.
// Credentials in particular should come from the environment rather
// than the config file.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("PROCTORD_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("PROCTORD_EXAM_SERVICE_URL"); v != "" {
		c.ExamService.BaseURL = v
	}
	if v := os.Getenv("PROCTORD_EXAM_SERVICE_TOKEN"); v != "" {
		c.ExamService.Token = v
	}
	if v := os.Getenv("PROCTORD_PLATFORM_URL"); v != "" {
		c.Platform.BaseURL = v
	}
	if v := os.Getenv("PROCTORD_PLATFORM_TOKEN"); v != "" {
		c.Platform.Token = v
	}
	if v := os.Getenv("PROCTORD_INFERENCE_URL"); v != "" {
		c.Detectors.InferenceURL = v
	}
	if v := os.Getenv("PROCTORD_INFERENCE_TOKEN"); v != "" {
		c.Detectors.InferenceToken = v
	}
	if v := os.Getenv("PROCTORD_SPOOL_PATH"); v != "" {
		c.Spool.Path = v
	}
	if v := os.Getenv("PROCTORD_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("PROCTORD_LOG_PATH"); v != "" {
		c.Logging.FilePath = v
	}
}

// EnsureDirectories creates the directories the daemon writes to.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		filepath.Dir(c.Spool.Path),
		filepath.Dir(c.Spool.MasterKeyPath),
		filepath.Dir(c.Logging.FilePath),
	}
	for _, dir := range dirs {
		if dir == "" || dir == "." {
			continue
		}
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}
