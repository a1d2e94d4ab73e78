package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// pinEnv isolates a test from ambient PROCTORD_* overrides.
func pinEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"PROCTORD_DATA_DIR", "PROCTORD_ADDR",
		"PROCTORD_EXAM_SERVICE_URL", "PROCTORD_EXAM_SERVICE_TOKEN",
		"PROCTORD_PLATFORM_URL", "PROCTORD_PLATFORM_TOKEN",
		"PROCTORD_INFERENCE_URL", "PROCTORD_INFERENCE_TOKEN",
		"PROCTORD_SPOOL_PATH", "PROCTORD_LOG_LEVEL", "PROCTORD_LOG_PATH",
	} {
		t.Setenv(key, "")
	}
}

// validConfig returns defaults patched to pass validation, which
// requires both upstream URLs.
func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.ExamService.BaseURL = "https://exams.example.edu"
	cfg.Platform.BaseURL = "https://platform.example.edu"
	return cfg
}

func TestDefaultConfig(t *testing.T) {
	pinEnv(t)
	cfg := DefaultConfig()

	if cfg.Server.Addr != "127.0.0.1:7411" {
		t.Errorf("default addr = %q", cfg.Server.Addr)
	}
	if cfg.Detectors.FaceIntervalMs != 100 || cfg.Detectors.ObjectIntervalMs != 2000 {
		t.Errorf("default detector intervals = %d/%d",
			cfg.Detectors.FaceIntervalMs, cfg.Detectors.ObjectIntervalMs)
	}
	if cfg.Detectors.FlagOnVM {
		t.Error("virtual machine flagging should default to off")
	}
	if cfg.Detectors.MinObjectConfidence != 0.5 {
		t.Errorf("default confidence floor = %v", cfg.Detectors.MinObjectConfidence)
	}
	if cfg.Snapshot.MaxWidth != 640 || cfg.Snapshot.JPEGQuality != 50 {
		t.Errorf("default snapshot = %d/%d", cfg.Snapshot.MaxWidth, cfg.Snapshot.JPEGQuality)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("default log level = %q", cfg.Logging.Level)
	}
}

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	pinEnv(t)
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Addr != DefaultConfig().Server.Addr {
		t.Errorf("missing file should yield defaults, got addr %q", cfg.Server.Addr)
	}
}

func TestLoadTOML(t *testing.T) {
	pinEnv(t)
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[server]
addr = "0.0.0.0:9000"

[detectors]
face_interval_ms = 250
flag_on_vm = true
prohibited_classes = ["cell phone", "tablet"]
inference_url = "http://127.0.0.1:7420"

[exam_service]
base_url = "https://exams.example.edu"
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Addr != "0.0.0.0:9000" {
		t.Errorf("addr = %q", cfg.Server.Addr)
	}
	if cfg.Detectors.FaceIntervalMs != 250 {
		t.Errorf("face interval = %d", cfg.Detectors.FaceIntervalMs)
	}
	if !cfg.Detectors.FlagOnVM {
		t.Error("flag_on_vm not applied")
	}
	if len(cfg.Detectors.ProhibitedClasses) != 2 || cfg.Detectors.ProhibitedClasses[1] != "tablet" {
		t.Errorf("prohibited classes = %v", cfg.Detectors.ProhibitedClasses)
	}
	if cfg.ExamService.BaseURL != "https://exams.example.edu" {
		t.Errorf("exam service url = %q", cfg.ExamService.BaseURL)
	}
	if cfg.Detectors.InferenceURL != "http://127.0.0.1:7420" {
		t.Errorf("inference url = %q", cfg.Detectors.InferenceURL)
	}
	// Untouched sections keep their defaults.
	if cfg.Detectors.ObjectIntervalMs != 2000 {
		t.Errorf("object interval should keep default, got %d", cfg.Detectors.ObjectIntervalMs)
	}
	if cfg.Detectors.InferenceTimeoutSec != 5 {
		t.Errorf("inference timeout should keep default, got %d", cfg.Detectors.InferenceTimeoutSec)
	}
}

func TestLoadYAML(t *testing.T) {
	pinEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
server:
  addr: "0.0.0.0:9100"
snapshot:
  max_width: 800
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Addr != "0.0.0.0:9100" {
		t.Errorf("addr = %q", cfg.Server.Addr)
	}
	if cfg.Snapshot.MaxWidth != 800 {
		t.Errorf("max width = %d", cfg.Snapshot.MaxWidth)
	}
}

func TestLoadJSON(t *testing.T) {
	pinEnv(t)
	path := filepath.Join(t.TempDir(), "config.json")
	content := `{"spool": {"sweep_interval_sec": 5}}`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Spool.SweepIntervalSec != 5 {
		t.Errorf("sweep interval = %d", cfg.Spool.SweepIntervalSec)
	}
}

func TestLoadMalformed(t *testing.T) {
	pinEnv(t)
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[server\naddr ="), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected an error for malformed TOML")
	}
}

func TestEnvOverrides(t *testing.T) {
	pinEnv(t)
	t.Setenv("PROCTORD_ADDR", "127.0.0.1:8999")
	t.Setenv("PROCTORD_PLATFORM_TOKEN", "secret-token")
	t.Setenv("PROCTORD_LOG_LEVEL", "debug")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Addr != "127.0.0.1:8999" {
		t.Errorf("addr override not applied: %q", cfg.Server.Addr)
	}
	if cfg.Platform.Token != "secret-token" {
		t.Errorf("token override not applied: %q", cfg.Platform.Token)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("log level override not applied: %q", cfg.Logging.Level)
	}
}

func TestEnvOverridesBeatFile(t *testing.T) {
	pinEnv(t)
	t.Setenv("PROCTORD_ADDR", "127.0.0.1:1111")

	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[server]\naddr = \"127.0.0.1:2222\"\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Addr != "127.0.0.1:1111" {
		t.Errorf("environment should win over file, got %q", cfg.Server.Addr)
	}
}

func TestValidateAcceptsGoodConfig(t *testing.T) {
	pinEnv(t)
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
}

func TestValidateRejections(t *testing.T) {
	pinEnv(t)
	tests := []struct {
		name    string
		mutate  func(*Config)
		mention string
	}{
		{"bad addr", func(c *Config) { c.Server.Addr = "not-an-addr" }, "server.addr"},
		{"negative frame rate", func(c *Config) { c.Server.FrameRate = -1 }, "frame_rate"},
		{"missing platform url", func(c *Config) { c.Platform.BaseURL = "" }, "platform.base_url"},
		{"non http url", func(c *Config) { c.ExamService.BaseURL = "ftp://x" }, "exam_service.base_url"},
		{"zero face interval", func(c *Config) { c.Detectors.FaceIntervalMs = 0 }, "face_interval_ms"},
		{"confidence above one", func(c *Config) { c.Detectors.MinObjectConfidence = 1.5 }, "min_object_confidence"},
		{"non http inference url", func(c *Config) { c.Detectors.InferenceURL = "ftp://models" }, "inference_url"},
		{"negative inference timeout", func(c *Config) { c.Detectors.InferenceTimeoutSec = -1 }, "inference_timeout_sec"},
		{"zero snapshot width", func(c *Config) { c.Snapshot.MaxWidth = 0 }, "max_width"},
		{"quality out of range", func(c *Config) { c.Snapshot.JPEGQuality = 101 }, "jpeg_quality"},
		{"empty spool path", func(c *Config) { c.Spool.Path = "" }, "spool.path"},
		{"unknown log level", func(c *Config) { c.Logging.Level = "verbose" }, "logging.level"},
		{"unknown log output", func(c *Config) { c.Logging.Output = "syslog" }, "logging.output"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected a validation error")
			}
			if !strings.Contains(err.Error(), tt.mention) {
				t.Errorf("error %q does not mention %q", err, tt.mention)
			}
		})
	}
}

func TestValidateAccumulatesProblems(t *testing.T) {
	pinEnv(t)
	cfg := validConfig()
	cfg.Detectors.FaceIntervalMs = 0
	cfg.Snapshot.MaxWidth = 0
	cfg.Logging.Level = "loud"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected a validation error")
	}
	for _, want := range []string{"face_interval_ms", "max_width", "logging.level"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error should report every problem, missing %q in %q", want, err)
		}
	}
}

func TestDataDirOverride(t *testing.T) {
	pinEnv(t)
	dir := t.TempDir()
	t.Setenv("PROCTORD_DATA_DIR", dir)
	if got := DataDir(); got != dir {
		t.Errorf("DataDir = %q, want %q", got, dir)
	}
	if got := ConfigPath(); got != filepath.Join(dir, "config.toml") {
		t.Errorf("ConfigPath = %q", got)
	}
}

func TestEnsureDirectories(t *testing.T) {
	pinEnv(t)
	base := t.TempDir()
	cfg := validConfig()
	cfg.Spool.Path = filepath.Join(base, "spool", "spool.db")
	cfg.Spool.MasterKeyPath = filepath.Join(base, "keys", "spool.key")
	cfg.Logging.FilePath = filepath.Join(base, "logs", "proctord.log")

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}
	for _, dir := range []string{
		filepath.Join(base, "spool"),
		filepath.Join(base, "keys"),
		filepath.Join(base, "logs"),
	} {
		if _, err := os.Stat(dir); err != nil {
			t.Errorf("directory %s not created: %v", dir, err)
		}
	}
}

func writeLoaderConfig(t *testing.T, path, addr string) {
	t.Helper()
	content := `
[server]
addr = "` + addr + `"

[exam_service]
base_url = "https://exams.example.edu"

[platform]
base_url = "https://platform.example.edu"
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
}

func TestLoaderLoad(t *testing.T) {
	pinEnv(t)
	path := filepath.Join(t.TempDir(), "config.toml")
	writeLoaderConfig(t, path, "127.0.0.1:7500")

	l := NewLoader(path)
	defer l.Close()

	cfg, err := l.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Addr != "127.0.0.1:7500" {
		t.Errorf("addr = %q", cfg.Server.Addr)
	}
	if l.Config() != cfg {
		t.Error("Config() should return the installed configuration")
	}
}

func TestLoaderRejectsInvalid(t *testing.T) {
	pinEnv(t)
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[snapshot]\nmax_width = -1\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	l := NewLoader(path)
	defer l.Close()
	if _, err := l.Load(); err == nil {
		t.Fatal("expected validation to fail")
	}
}

func TestLoaderHotReload(t *testing.T) {
	pinEnv(t)
	path := filepath.Join(t.TempDir(), "config.toml")
	writeLoaderConfig(t, path, "127.0.0.1:7500")

	l := NewLoader(path)
	defer l.Close()
	if _, err := l.Load(); err != nil {
		t.Fatalf("initial load: %v", err)
	}

	reloaded := make(chan *Config, 1)
	l.OnChange(func(cfg *Config) {
		select {
		case reloaded <- cfg:
		default:
		}
	})
	if err := l.Watch(); err != nil {
		t.Fatalf("Watch failed: %v", err)
	}

	writeLoaderConfig(t, path, "127.0.0.1:7600")

	select {
	case cfg := <-reloaded:
		if cfg.Server.Addr != "127.0.0.1:7600" {
			t.Errorf("reloaded addr = %q", cfg.Server.Addr)
		}
		if l.Config().Server.Addr != "127.0.0.1:7600" {
			t.Error("reload did not install the new configuration")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("reload never fired")
	}
}

func TestLoaderKeepsOldConfigOnBadEdit(t *testing.T) {
	pinEnv(t)
	path := filepath.Join(t.TempDir(), "config.toml")
	writeLoaderConfig(t, path, "127.0.0.1:7500")

	l := NewLoader(path)
	defer l.Close()
	if _, err := l.Load(); err != nil {
		t.Fatalf("initial load: %v", err)
	}
	if err := l.Watch(); err != nil {
		t.Fatalf("Watch failed: %v", err)
	}

	if err := os.WriteFile(path, []byte("[server\nbroken"), 0o600); err != nil {
		t.Fatal(err)
	}

	select {
	case err := <-l.Errors():
		if err == nil {
			t.Fatal("expected a reload error")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("reload error never reported")
	}
	if l.Config().Server.Addr != "127.0.0.1:7500" {
		t.Error("failed reload should keep the previous configuration")
	}
}
