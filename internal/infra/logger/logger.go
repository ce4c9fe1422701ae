// Package logger builds the daemon's zap.Logger: JSON to a rotating file
// sink, console-encoded to stdout when IncludeStdout is set, replacing
// the teacher's hand-rolled line-prefixed logger with the zap+lumberjack
// pairing the rest of the example pack reaches for.
package logger

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/nzbgetd/nzbgetd/internal/infra/config"
)

// New builds a zap.Logger from the config's Log section: always writes JSON
// to the rotating file sink, and additionally tees human-readable console
// output to stdout when IncludeStdout is set.
func New(cfg config.LogConfig) (*zap.Logger, error) {
	level := parseLevel(cfg.Level)

	fileSink := &lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    nonZero(cfg.MaxSizeMB, 50),
		MaxBackups: nonZero(cfg.MaxBackups, 5),
		MaxAge:     nonZero(cfg.MaxAgeDays, 28),
	}

	fileEncoder := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	cores := []zapcore.Core{
		zapcore.NewCore(fileEncoder, zapcore.AddSync(fileSink), level),
	}

	if cfg.IncludeStdout {
		consoleCfg := zap.NewDevelopmentEncoderConfig()
		consoleEncoder := zapcore.NewConsoleEncoder(consoleCfg)
		cores = append(cores, zapcore.NewCore(consoleEncoder, zapcore.AddSync(os.Stdout), level))
	}

	core := zapcore.NewTee(cores...)
	return zap.New(core, zap.AddCaller()), nil
}

func parseLevel(lvl string) zapcore.Level {
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(lvl)); err != nil {
		return zapcore.InfoLevel
	}
	return l
}

func nonZero(v, fallback int) int {
	if v <= 0 {
		return fallback
	}
	return v
}
