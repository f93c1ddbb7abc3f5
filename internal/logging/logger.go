// Package logging builds the zap logger of the service.
package logging

import (
	"os"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config log settings.
type Config struct {
	Level string
	// File optional path of a rotated log file written in addition to stdout.
	File string

	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// New creates a production json logger writing to stdout and, when configured, to a rotated file.
func New(conf Config) (*zap.Logger, error) {
	level := zap.InfoLevel
	if conf.Level != "" {
		l, err := zapcore.ParseLevel(conf.Level)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid log level %q", conf.Level)
		}
		level = l
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoder := zapcore.NewJSONEncoder(encoderCfg)

	cores := []zapcore.Core{
		zapcore.NewCore(encoder, zapcore.Lock(os.Stdout), level),
	}
	if conf.File != "" {
		cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(fileWriter(conf)), level))
	}

	return zap.New(zapcore.NewTee(cores...), zap.AddCaller()), nil
}

func fileWriter(conf Config) *lumberjack.Logger {
	w := &lumberjack.Logger{
		Filename:   conf.File,
		MaxSize:    conf.MaxSizeMB,
		MaxBackups: conf.MaxBackups,
		MaxAge:     conf.MaxAgeDays,
		Compress:   true,
	}
	if w.MaxSize == 0 {
		w.MaxSize = 100
	}
	if w.MaxBackups == 0 {
		w.MaxBackups = 5
	}
	if w.MaxAge == 0 {
		w.MaxAge = 30
	}
	return w
}
