package logging

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ZapConfig defines the zap backend configuration
type ZapConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `yaml:"format"` // "json", "console"
	Output string `yaml:"output"` // "stdout", "stderr", file path
	Caller bool   `yaml:"caller"` // Include caller information
}

// DefaultZapConfig returns the configuration used when nothing is specified
func DefaultZapConfig() ZapConfig {
	return ZapConfig{
		Level:  "info",
		Format: "console",
		Output: "stdout",
		Caller: false,
	}
}

// ZapLogger adapts a zap logger to the Logger interface
type ZapLogger struct {
	logger *zap.Logger
	sugar  *zap.SugaredLogger
	close  func()
}

// NewZapLogger builds a zap logger from config
func NewZapLogger(config ZapConfig) (*ZapLogger, error) {
	level, err := ParseLevel(config.Level)
	if err != nil {
		return nil, err
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "timestamp"
	encoderConfig.EncodeTime = zapcore.RFC3339TimeEncoder
	encoderConfig.LevelKey = "level"
	encoderConfig.EncodeLevel = zapcore.LowercaseLevelEncoder

	var encoder zapcore.Encoder
	switch config.Format {
	case "json":
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	case "console", "":
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	default:
		return nil, fmt.Errorf("invalid log format: %s", config.Format)
	}

	closeFunc := func() {}
	var writeSyncer zapcore.WriteSyncer
	switch config.Output {
	case "stdout", "":
		writeSyncer = zapcore.Lock(zapcore.AddSync(os.Stdout))
	case "stderr":
		writeSyncer = zapcore.Lock(zapcore.AddSync(os.Stderr))
	default:
		writeSyncer, closeFunc, err = zap.Open(config.Output)
		if err != nil {
			return nil, fmt.Errorf("failed to open log output %s: %w", config.Output, err)
		}
	}

	opts := []zap.Option{}
	if config.Caller {
		opts = append(opts, zap.AddCaller(), zap.AddCallerSkip(1))
	}

	zl := WrapZap(zap.New(zapcore.NewCore(encoder, writeSyncer, level), opts...))
	zl.close = closeFunc
	return zl, nil
}

// WrapZap adapts an existing zap logger
func WrapZap(logger *zap.Logger) *ZapLogger {
	return &ZapLogger{
		logger: logger,
		sugar:  logger.Sugar(),
		close:  func() {},
	}
}

func (z *ZapLogger) LogLevelf(level int, format string, args ...interface{}) {
	switch level {
	case LogLevelDebug:
		z.sugar.Debugf(format, args...)
	case LogLevelWarn:
		z.sugar.Warnf(format, args...)
	case LogLevelError:
		z.sugar.Errorf(format, args...)
	default:
		z.sugar.Infof(format, args...)
	}
}

func (z *ZapLogger) Debugf(format string, args ...interface{}) {
	z.sugar.Debugf(format, args...)
}

func (z *ZapLogger) Infof(format string, args ...interface{}) {
	z.sugar.Infof(format, args...)
}

func (z *ZapLogger) Warnf(format string, args ...interface{}) {
	z.sugar.Warnf(format, args...)
}

func (z *ZapLogger) Errorf(format string, args ...interface{}) {
	z.sugar.Errorf(format, args...)
}

// Named returns a child logger with a name segment added
func (z *ZapLogger) Named(name string) *ZapLogger {
	return WrapZap(z.logger.Named(name))
}

// Close flushes buffered entries and releases a file output, if any
func (z *ZapLogger) Close() error {
	// Sync on stdout/stderr fails with EINVAL on some platforms
	_ = z.logger.Sync()
	z.close()
	return nil
}

// ParseLevel is zapcore.ParseLevel, which the pinned zap version does not have yet
func ParseLevel(levelStr string) (zapcore.Level, error) {
	switch levelStr {
	case "debug":
		return zap.DebugLevel, nil
	case "info", "":
		return zap.InfoLevel, nil
	case "warn":
		return zap.WarnLevel, nil
	case "error":
		return zap.ErrorLevel, nil
	default:
		return zap.InfoLevel, fmt.Errorf("invalid log level: %s", levelStr)
	}
}
