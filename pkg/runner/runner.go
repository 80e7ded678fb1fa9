package runner

import (
	"context"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/core-tools/hsu-watchdog/pkg/config"
	"github.com/core-tools/hsu-watchdog/pkg/control"
	"github.com/core-tools/hsu-watchdog/pkg/errors"
	"github.com/core-tools/hsu-watchdog/pkg/logging"
	"github.com/core-tools/hsu-watchdog/pkg/probe"
	"github.com/core-tools/hsu-watchdog/pkg/process"
	"github.com/core-tools/hsu-watchdog/pkg/watchdog"
)

// Options are the command line overrides applied on top of the config file
type Options struct {
	ConfigFile     string
	Name           string
	ExecutablePath string
	CheckInterval  time.Duration
	Port           int
	LogLevel       string
	LogFormat      string
}

// LoadConfig reads the config file, if any, applies the overrides and
// validates the result
func LoadConfig(options Options) (*config.Config, error) {
	cfg := config.Default()
	if options.ConfigFile != "" {
		var err error
		cfg, err = config.LoadConfigFromFile(options.ConfigFile)
		if err != nil {
			return nil, errors.NewIOError("failed to load configuration", err).WithContext("config_file", options.ConfigFile)
		}
	}

	if options.Name != "" {
		cfg.Watchdog.FriendlyName = options.Name
	}
	if options.ExecutablePath != "" {
		cfg.Watchdog.ExecutablePath = options.ExecutablePath
	}
	if options.CheckInterval != 0 {
		cfg.Watchdog.CheckInterval = options.CheckInterval
	}
	if options.Port != 0 {
		cfg.Control.Port = options.Port
	}
	if options.LogLevel != "" {
		cfg.Logging.Level = options.LogLevel
	}
	if options.LogFormat != "" {
		cfg.Logging.Format = options.LogFormat
	}

	if err := config.ValidateConfig(cfg); err != nil {
		return nil, errors.NewValidationError("configuration validation failed", err).WithContext("config_file", options.ConfigFile)
	}

	return cfg, nil
}

// Run supervises the configured process until a shutdown signal arrives,
// ctx is done, or the watchdog gives up on its own. On signal or ctx the
// watched process is killed; when the watchdog gives up, its error is
// returned and whatever is running is left alone.
func Run(ctx context.Context, cfg *config.Config, logger logging.Logger) error {
	logger.Infof("Watchdog runner starting...")
	logger.Infof("Supervising %s, executable path: %s, check interval: %v",
		cfg.Watchdog.FriendlyName, cfg.Watchdog.ExecutablePath, cfg.Watchdog.CheckInterval)

	launcher := process.NewExecLauncher(process.LauncherOptions{Stdout: os.Stdout}, logger)

	w, err := watchdog.New(cfg.Watchdog, probe.NewSystemProbe(logger), launcher, logger)
	if err != nil {
		return errors.NewInternalError("failed to create watchdog", err)
	}

	if cfg.Control.Port > 0 {
		listener, err := control.Listen(cfg.Control.Port)
		if err != nil {
			_ = w.Terminate()
			return errors.NewIOError("failed to start health endpoint", err).WithContext("port", cfg.Control.Port)
		}
		server := control.NewServer(w, logger)
		go func() {
			if err := server.Serve(listener); err != nil {
				logger.Errorf("Health endpoint failed: %v", err)
			}
		}()
		defer server.Stop()
	}

	sig := make(chan os.Signal, 1)
	if runtime.GOOS == "windows" {
		signal.Notify(sig, os.Interrupt)
	} else {
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	}
	defer signal.Stop(sig)

	logger.Infof("Watchdog is ready")

	select {
	case receivedSignal := <-sig:
		logger.Infof("Watchdog runner received signal: %v", receivedSignal)
	case <-ctx.Done():
		logger.Infof("Watchdog runner context done: %v", ctx.Err())
	case <-w.Done():
		if err := w.Err(); err != nil {
			logger.Errorf("Watchdog stopped supervising %s", cfg.Watchdog.FriendlyName)
			return err
		}
		logger.Infof("Watchdog stopped supervising %s", cfg.Watchdog.FriendlyName)
		return nil
	}

	if err := w.Terminate(); err != nil {
		return err
	}

	<-w.Done()
	logger.Infof("Watchdog runner stopped")

	return nil
}

// LogPrefix is the prefix every runner log line carries
func LogPrefix(name string) string {
	if strings.TrimSpace(name) == "" {
		return "module: hsu-watchdog , "
	}
	return "module: hsu-watchdog, watchdog: " + name + " , "
}
