package main

import (
	"context"
	"fmt"
	"os"
	"time"

	flags "github.com/jessevdk/go-flags"

	"github.com/core-tools/hsu-watchdog/pkg/logging"
	"github.com/core-tools/hsu-watchdog/pkg/runner"
)

type flagOptions struct {
	Config      string        `long:"config" short:"c" description:"path to the YAML configuration file"`
	Name        string        `long:"name" description:"friendly name of the watched process"`
	Path        string        `long:"path" description:"path to the executable to keep running"`
	Interval    time.Duration `long:"interval" description:"check interval, e.g. 30s"`
	Port        int           `long:"port" description:"port of the gRPC health endpoint, 0 disables it"`
	RunDuration int           `long:"run-duration" description:"Duration in seconds to run the watchdog (debug feature)"`
	LogLevel    string        `long:"log-level" description:"debug, info, warn or error"`
	LogFormat   string        `long:"log-format" description:"console or json"`
}

func main() {
	var opts flagOptions
	var argv []string = os.Args[1:]
	var parser = flags.NewParser(&opts, flags.HelpFlag)
	var err error
	_, err = parser.ParseArgs(argv)
	if err != nil {
		fmt.Printf("Command line flags parsing failed: %v\n", err)
		os.Exit(1)
	}

	if opts.Config == "" && opts.Path == "" {
		fmt.Println("Either --config or --path is required")
		os.Exit(1)
	}

	cfg, err := runner.LoadConfig(runner.Options{
		ConfigFile:     opts.Config,
		Name:           opts.Name,
		ExecutablePath: opts.Path,
		CheckInterval:  opts.Interval,
		Port:           opts.Port,
		LogLevel:       opts.LogLevel,
		LogFormat:      opts.LogFormat,
	})
	if err != nil {
		fmt.Printf("Configuration failed: %v\n", err)
		os.Exit(1)
	}

	zapLogger, err := logging.NewZapLogger(cfg.Logging)
	if err != nil {
		fmt.Printf("Logger setup failed: %v\n", err)
		os.Exit(1)
	}
	defer zapLogger.Close()

	logger := logging.NewLogger(
		runner.LogPrefix(cfg.Watchdog.FriendlyName), logging.LogFuncs{
			Debugf: zapLogger.Debugf,
			Infof:  zapLogger.Infof,
			Warnf:  zapLogger.Warnf,
			Errorf: zapLogger.Errorf,
		})

	logger.Infof("opts: %+v", opts)

	ctx := context.Background()
	if opts.RunDuration > 0 {
		duration := time.Duration(opts.RunDuration) * time.Second
		logger.Infof("Using RUN DURATION of %v", duration)
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, duration)
		defer cancel()
	}

	if err := runner.Run(ctx, cfg, logger); err != nil {
		logger.Errorf("Watchdog failed: %v", err)
		zapLogger.Close()
		os.Exit(1)
	}
}
