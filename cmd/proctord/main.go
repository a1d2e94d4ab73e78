// Command proctord runs the proctoring integrity engine: it accepts
// signal feeds from exam clients, schedules violation detectors,
// seals each session's flag log into a hash chain, and delivers the
// finished submission to the exam platform.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"proctord/internal/auth"
	"proctord/internal/config"
	"proctord/internal/detector"
	"proctord/internal/exam"
	"proctord/internal/gateway"
	"proctord/internal/httpapi"
	"proctord/internal/inference"
	"proctord/internal/logging"
	"proctord/internal/metrics"
	"proctord/internal/security"
	"proctord/internal/session"
	"proctord/internal/store"
)

var version = "dev"

func main() {
	var (
		configPath  = pflag.StringP("config", "c", "", "configuration file path")
		addr        = pflag.String("addr", "", "listen address override")
		logLevel    = pflag.String("log-level", "", "log level override: debug, info, warn, error")
		flagOnVM    = pflag.Bool("flag-on-vm", false, "store a flag on a likely-VM verdict")
		showVersion = pflag.BoolP("version", "V", false, "print version and exit")
	)
	pflag.Parse()

	if *showVersion {
		fmt.Println("proctord", version)
		return
	}

	if err := run(*configPath, *addr, *logLevel, *flagOnVM); err != nil {
		fmt.Fprintln(os.Stderr, "proctord:", err)
		os.Exit(1)
	}
}

func run(configPath, addrOverride, levelOverride string, flagOnVM bool) error {
	loader := config.NewLoader(configPath)
	cfg, err := loader.Load()
	if err != nil {
		return err
	}
	if addrOverride != "" {
		cfg.Server.Addr = addrOverride
	}
	if levelOverride != "" {
		cfg.Logging.Level = levelOverride
	}
	if flagOnVM {
		cfg.Detectors.FlagOnVM = true
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Close()
	logging.SetDefault(log)

	log.Info("proctord starting", "version", version, "addr", cfg.Server.Addr)

	spool, err := store.Open(cfg.Spool.Path)
	if err != nil {
		return err
	}
	defer spool.Close()

	masterKey, err := loadOrCreateKey(cfg.Spool.MasterKeyPath)
	if err != nil {
		return err
	}
	defer security.Wipe(masterKey)

	secret, err := os.ReadFile(cfg.Auth.SecretPath)
	if err != nil {
		return fmt.Errorf("read token secret: %w", err)
	}
	verifier, err := auth.NewVerifier([]byte(strings.TrimSpace(string(secret))))
	if err != nil {
		return err
	}

	exams, err := exam.NewClient(exam.ClientConfig{
		BaseURL: cfg.ExamService.BaseURL,
		Token:   cfg.ExamService.Token,
		Timeout: time.Duration(cfg.ExamService.TimeoutSec) * time.Second,
	})
	if err != nil {
		return err
	}

	platform, err := gateway.NewClient(gateway.ClientConfig{
		BaseURL: cfg.Platform.BaseURL,
		Token:   cfg.Platform.Token,
		Timeout: time.Duration(cfg.Platform.TimeoutSec) * time.Second,
	})
	if err != nil {
		return err
	}

	var faceModel detector.FaceLandmarker
	var objectModel detector.ObjectModel
	if cfg.Detectors.InferenceURL != "" {
		models, err := inference.NewClient(inference.Config{
			BaseURL: cfg.Detectors.InferenceURL,
			Token:   cfg.Detectors.InferenceToken,
			Timeout: time.Duration(cfg.Detectors.InferenceTimeoutSec) * time.Second,
		})
		if err != nil {
			return err
		}
		faceModel = models
		objectModel = models
		log.Info("inference sidecar configured", "url", cfg.Detectors.InferenceURL)
	} else {
		log.Warn("no inference sidecar configured, camera detectors degraded")
	}

	manager, err := session.NewManager(session.ManagerConfig{
		Exams:               exams,
		Spool:               spool,
		MasterKey:           masterKey,
		FaceModel:           faceModel,
		ObjectModel:         objectModel,
		FlagOnVM:            cfg.Detectors.FlagOnVM,
		FaceInterval:        time.Duration(cfg.Detectors.FaceIntervalMs) * time.Millisecond,
		ObjectInterval:      time.Duration(cfg.Detectors.ObjectIntervalMs) * time.Millisecond,
		EnvironmentInterval: time.Duration(cfg.Detectors.EnvironmentIntervalSec) * time.Second,
		ProhibitedClasses:   cfg.Detectors.ProhibitedClasses,
		MinObjectConfidence: cfg.Detectors.MinObjectConfidence,
		SnapshotMaxWidth:    cfg.Snapshot.MaxWidth,
		SnapshotQuality:     cfg.Snapshot.JPEGQuality,
		Log:                 log,
	})
	if err != nil {
		return err
	}

	deliverer := gateway.NewDeliverer(platform, spool, manager.Codec,
		time.Duration(cfg.Spool.SweepIntervalSec)*time.Second, log)
	manager.SetDeliverer(deliverer)
	deliverer.Start()
	defer deliverer.Stop()

	server := httpapi.New(httpapi.Config{
		Addr:       cfg.Server.Addr,
		FrameRate:  cfg.Server.FrameRate,
		FrameBurst: cfg.Server.FrameBurst,
	}, manager, verifier, metrics.Default(), log)

	// Hot reload: only the log level applies live; everything else
	// needs a restart.
	loader.OnChange(func(next *config.Config) {
		if lvl, err := logging.ParseLevel(next.Logging.Level); err == nil {
			log.SetLevel(lvl)
			log.Info("log level updated", "level", next.Logging.Level)
		}
	})
	if err := loader.Watch(); err != nil {
		log.Warn("config watch unavailable", "error", err)
	}
	defer loader.Close()
	go func() {
		for err := range loader.Errors() {
			log.Warn("config reload failed", "error", err)
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		log.Info("shutting down", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Warn("server shutdown incomplete", "error", err)
	}

	// Terminate whatever is still running so every attempt lands in
	// the spool before the deliverer drains.
	manager.Shutdown()
	return nil
}

func newLogger(cfg *config.Config) (*logging.Logger, error) {
	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	format, err := logging.ParseFormat(cfg.Logging.Format)
	if err != nil {
		return nil, err
	}
	return logging.New(&logging.Config{
		Level:      level,
		Format:     format,
		Output:     cfg.Logging.Output,
		FilePath:   cfg.Logging.FilePath,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		Compress:   cfg.Logging.Compress,
		Component:  "proctord",
	})
}

// loadOrCreateKey reads the spool master key, generating one on first
// start.
func loadOrCreateKey(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		if err := security.ValidateKeyStrength(data); err != nil {
			return nil, fmt.Errorf("master key at %s: %w", path, err)
		}
		return data, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read master key: %w", err)
	}

	key, err := security.GenerateKey(security.SpoolKeySize)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, key, 0o600); err != nil {
		return nil, fmt.Errorf("write master key: %w", err)
	}
	return key, nil
}
