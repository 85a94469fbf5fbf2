// Copyright 2022 CeresDB Project Authors. Licensed under Apache-2.0.

package log

import (
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	globalLogger *zap.Logger
	globalConfig zap.Config
)

func init() {
	defaultConfig := &Config{
		Level: DefaultLogLevel,
		File:  DefaultLogFile,
	}
	_, err := InitGlobalLogger(defaultConfig)
	if err != nil {
		panic("fail to init global logger, err:" + err.Error())
	}
}

// InitGlobalLogger initializes the global logger with Config.
func InitGlobalLogger(cfg *Config) (*zap.Logger, error) {
	zapCfg := DefaultZapLoggerConfig(cfg)

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, errors.WithMessagef(err, "parse log level:%s", cfg.Level)
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return nil, errors.WithMessage(err, "build zap logger")
	}

	globalLogger = logger
	globalConfig = zapCfg
	return logger, nil
}

func GetLogger() *zap.Logger {
	return globalLogger
}

func GetLoggerConfig() zap.Config {
	return globalConfig
}

// With creates a child logger of the global logger and adds structured context to it.
func With(fields ...zap.Field) *zap.Logger {
	return globalLogger.WithOptions(zap.AddCallerSkip(1)).With(fields...)
}

func Debug(msg string, fields ...zap.Field) {
	globalLogger.WithOptions(zap.AddCallerSkip(1)).Debug(msg, fields...)
}

func Info(msg string, fields ...zap.Field) {
	globalLogger.WithOptions(zap.AddCallerSkip(1)).Info(msg, fields...)
}

func Warn(msg string, fields ...zap.Field) {
	globalLogger.WithOptions(zap.AddCallerSkip(1)).Warn(msg, fields...)
}

func Error(msg string, fields ...zap.Field) {
	globalLogger.WithOptions(zap.AddCallerSkip(1)).Error(msg, fields...)
}
