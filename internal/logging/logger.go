package logging

import (
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New creates a zap logger that writes JSON to logPath and console output to
// stderr. Profile name and PID are included as initial fields.
func New(logPath, profile string) (*zap.Logger, error) {
	fileCore, err := fileCore(logPath)
	if err != nil {
		return nil, err
	}
	stderrCore := zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig()), zapcore.AddSync(os.Stderr), zapcore.InfoLevel)
	return build(zapcore.NewTee(fileCore, stderrCore), profile), nil
}

// NewFileOnly is New without the stderr core, for interactive commands that
// own the terminal.
func NewFileOnly(logPath, profile string) (*zap.Logger, error) {
	core, err := fileCore(logPath)
	if err != nil {
		return nil, err
	}
	return build(core, profile), nil
}

func fileCore(logPath string) (zapcore.Core, error) {
	if err := os.MkdirAll(filepath.Dir(logPath), 0700); err != nil {
		return nil, err
	}
	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return nil, err
	}
	return zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig()), zapcore.AddSync(file), zapcore.InfoLevel), nil
}

func encoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "ts"
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg
}

func build(core zapcore.Core, profile string) *zap.Logger {
	return zap.New(core,
		zap.Fields(
			zap.String("profile", profile),
			zap.Int("pid", os.Getpid()),
		),
	)
}
