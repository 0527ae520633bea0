/*
 * This file is part of Loqa (https://github.com/loqalabs/loqa).
 * Copyright (C) 2025 Loqa Labs
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program. If not, see <https://www.gnu.org/licenses/>.
 */

package logging

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// Global logger instance
	Logger *zap.Logger
	Sugar  *zap.SugaredLogger
)

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // "debug", "info", "warn", "error"
	Format string // "json", "console"
	Output string // file path; empty logs to stderr
}

// Initialize sets up the global logger based on environment variables
func Initialize() error {
	return InitializeWithConfig(LogConfig{
		Level:  getEnvOrDefault("LOG_LEVEL", "info"),
		Format: getEnvOrDefault("LOG_FORMAT", "console"),
		Output: os.Getenv("LOG_OUTPUT"),
	})
}

// InitializeWithConfig sets up the global logger with provided configuration
func InitializeWithConfig(config LogConfig) error {
	var zapConfig zap.Config
	if strings.EqualFold(config.Format, "json") {
		zapConfig = zap.NewProductionConfig()
	} else {
		zapConfig = zap.NewDevelopmentConfig()
	}

	level, err := zap.ParseAtomicLevel(strings.ToLower(config.Level))
	if err != nil {
		level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	zapConfig.Level = level

	if config.Output != "" {
		zapConfig.OutputPaths = []string{config.Output}
		zapConfig.ErrorOutputPaths = []string{config.Output}
	}

	logger, err := zapConfig.Build(
		zap.AddCallerSkip(2), // helper plus emit
		zap.AddStacktrace(zap.ErrorLevel),
	)
	if err != nil {
		return err
	}

	Logger = logger
	Sugar = logger.Sugar()

	Sugar.Infof("🚀 Structured logging initialized (level: %s, format: %s)",
		level.String(), zapConfig.Encoding)

	return nil
}

// Sync flushes any buffered log entries
func Sync() {
	if Logger != nil {
		// Sync fails on stderr/stdout for some platforms, nothing to do about it
		_ = Logger.Sync()
	}
}

// Close cleans up the logger
func Close() {
	Sync()
}

// emit writes one entry if a logger is installed. Helpers stay nil-safe so
// packages can log from tests without initialising anything.
func emit(level zapcore.Level, message string, base []zap.Field, fields []zap.Field) {
	if Logger == nil {
		return
	}
	if ce := Logger.Check(level, message); ce != nil {
		ce.Write(append(base, fields...)...)
	}
}

// Component helpers. None of these may be called from the audio hardware
// callback.

// LogAudioCapture logs capture engine lifecycle events
func LogAudioCapture(device, stage string, fields ...zap.Field) {
	emit(zap.InfoLevel, "Audio capture", []zap.Field{
		zap.String("component", "audio_capture"),
		zap.String("device", device),
		zap.String("stage", stage),
	}, fields)
}

// LogInference logs speech-to-text and embedding operations
func LogInference(operation string, fields ...zap.Field) {
	emit(zap.InfoLevel, "Inference", []zap.Field{
		zap.String("component", "inference"),
		zap.String("operation", operation),
	}, fields)
}

// LogDetection logs the outcome of reference matching on a transcript.
// Debug level: it fires once per window.
func LogDetection(source string, fields ...zap.Field) {
	emit(zap.DebugLevel, "Detection", []zap.Field{
		zap.String("component", "detection"),
		zap.String("source", source),
	}, fields)
}

// LogSession logs session state transitions
func LogSession(sessionID, state string, fields ...zap.Field) {
	emit(zap.InfoLevel, "Session", []zap.Field{
		zap.String("component", "session"),
		zap.String("session_id", sessionID),
		zap.String("state", state),
	}, fields)
}

// LogNATSEvent logs NATS messaging events
func LogNATSEvent(subject, action string, fields ...zap.Field) {
	emit(zap.InfoLevel, "NATS event", []zap.Field{
		zap.String("component", "messaging"),
		zap.String("subject", subject),
		zap.String("action", action),
	}, fields)
}

// LogDatabaseOperation logs corpus database access
func LogDatabaseOperation(operation, table string, fields ...zap.Field) {
	emit(zap.InfoLevel, "Database operation", []zap.Field{
		zap.String("component", "database"),
		zap.String("operation", operation),
		zap.String("table", table),
	}, fields)
}

// LogError logs errors with context
func LogError(err error, message string, fields ...zap.Field) {
	emit(zap.ErrorLevel, message, []zap.Field{zap.Error(err)}, fields)
}

// LogInfo logs general service events
func LogInfo(message string, fields ...zap.Field) {
	emit(zap.InfoLevel, message, nil, fields)
}

// LogWarn logs warnings with context
func LogWarn(message string, fields ...zap.Field) {
	emit(zap.WarnLevel, message, nil, fields)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
