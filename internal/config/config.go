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

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the lectern service
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Audio   AudioConfig   `yaml:"audio"`
	Session SessionConfig `yaml:"session"`
	Models  ModelsConfig  `yaml:"models"`
	Corpus  CorpusConfig  `yaml:"corpus"`
	Logging LoggingConfig `yaml:"logging"`
	NATS    NATSConfig    `yaml:"nats"`
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// AudioConfig holds capture configuration
type AudioConfig struct {
	Device       string  `yaml:"device"`        // empty selects the host default input
	VADThreshold float32 `yaml:"vad_threshold"` // mean-square energy gate
	AudioBuffer  int     `yaml:"audio_buffer"`
	LevelBuffer  int     `yaml:"level_buffer"`
	ErrorBuffer  int     `yaml:"error_buffer"`
}

// SessionConfig holds windowing configuration, all values in 16 kHz samples
type SessionConfig struct {
	WindowSamples  int `yaml:"window_samples"`
	OverlapSamples int `yaml:"overlap_samples"`
	PausedSamples  int `yaml:"paused_samples"`
	QueueDepth     int `yaml:"queue_depth"`
}

// ModelsConfig selects and locates the speech and embedding backends
type ModelsConfig struct {
	Transcriber   string        `yaml:"transcriber"` // "whisper" or "remote"
	WhisperModel  string        `yaml:"whisper_model"`
	Language      string        `yaml:"language"`
	STTURL        string        `yaml:"stt_url"`
	Embedder      string        `yaml:"embedder"` // "onnx" or "openai"
	EmbeddingPath string        `yaml:"embedding_model"`
	TokenizerPath string        `yaml:"tokenizer"`
	ONNXLibrary   string        `yaml:"onnx_library"`
	EmbeddingURL  string        `yaml:"embedding_url"`
	EmbeddingKey  string        `yaml:"embedding_key"`
	EmbeddingName string        `yaml:"embedding_name"`
	Timeout       time.Duration `yaml:"timeout"`
}

// CorpusConfig locates the reference corpus and its embedding matrix
type CorpusConfig struct {
	DBPath              string   `yaml:"db_path"`
	EmbeddingsPath      string   `yaml:"embeddings_path"`
	IndexPath           string   `yaml:"index_path"`
	Translations        []string `yaml:"translations"`
	ActiveTranslation   string   `yaml:"active_translation"`
	SimilarityThreshold float32  `yaml:"similarity_threshold"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// NATSConfig holds NATS messaging configuration
type NATSConfig struct {
	Enabled       bool          `yaml:"enabled"`
	URL           string        `yaml:"url"`
	SubjectPrefix string        `yaml:"subject_prefix"`
	MaxReconnect  int           `yaml:"max_reconnect"`
	ReconnectWait time.Duration `yaml:"reconnect_wait"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Audio: AudioConfig{
			VADThreshold: 0.002,
			AudioBuffer:  50,
			LevelBuffer:  50,
			ErrorBuffer:  10,
		},
		Session: SessionConfig{
			WindowSamples:  16000,
			OverlapSamples: 4000,
			PausedSamples:  8000,
			QueueDepth:     2,
		},
		Models: ModelsConfig{
			Transcriber:   "whisper",
			WhisperModel:  "./models/ggml-base.en.bin",
			Language:      "en",
			STTURL:        "http://stt:8000",
			Embedder:      "onnx",
			EmbeddingPath: "./models/all-minilm-l6-v2.onnx",
			TokenizerPath: "./models/tokenizer.json",
			EmbeddingName: "all-minilm-l6-v2",
			Timeout:       30 * time.Second,
		},
		Corpus: CorpusConfig{
			DBPath:              "./data/bible.db",
			EmbeddingsPath:      "./data/all_versions_embeddings.npy",
			IndexPath:           "./data/verse_index.json",
			Translations:        []string{"KJV", "AMP", "NIV", "ESV", "NKJV", "NASB"},
			ActiveTranslation:   "KJV",
			SimilarityThreshold: 0.45,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		NATS: NATSConfig{
			URL:           "nats://localhost:4222",
			SubjectPrefix: "lectern.events",
			MaxReconnect:  -1,
			ReconnectWait: 2 * time.Second,
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file named by
// LECTERN_CONFIG, and environment overrides, in that order.
func Load() (*Config, error) {
	return LoadFile(os.Getenv("LECTERN_CONFIG"))
}

// LoadFile is Load with an explicit YAML path; an empty path skips the file.
func LoadFile(path string) (*Config, error) {
	config := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	config.applyEnv()

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

func (c *Config) applyEnv() {
	c.Server.Host = getEnvString("LECTERN_HOST", c.Server.Host)
	c.Server.Port = getEnvInt("LECTERN_PORT", c.Server.Port)
	c.Server.ReadTimeout = getEnvDuration("LECTERN_READ_TIMEOUT", c.Server.ReadTimeout)
	c.Server.WriteTimeout = getEnvDuration("LECTERN_WRITE_TIMEOUT", c.Server.WriteTimeout)

	c.Audio.Device = getEnvString("AUDIO_DEVICE", c.Audio.Device)
	c.Audio.VADThreshold = getEnvFloat32("AUDIO_VAD_THRESHOLD", c.Audio.VADThreshold)

	c.Session.WindowSamples = getEnvInt("SESSION_WINDOW_SAMPLES", c.Session.WindowSamples)

	c.Models.Transcriber = getEnvString("STT_BACKEND", c.Models.Transcriber)
	c.Models.WhisperModel = getEnvString("WHISPER_MODEL", c.Models.WhisperModel)
	c.Models.Language = getEnvString("STT_LANGUAGE", c.Models.Language)
	c.Models.STTURL = getEnvString("STT_URL", c.Models.STTURL)
	c.Models.Embedder = getEnvString("EMBEDDING_BACKEND", c.Models.Embedder)
	c.Models.EmbeddingPath = getEnvString("EMBEDDING_MODEL", c.Models.EmbeddingPath)
	c.Models.TokenizerPath = getEnvString("EMBEDDING_TOKENIZER", c.Models.TokenizerPath)
	c.Models.ONNXLibrary = getEnvString("ONNXRUNTIME_LIB", c.Models.ONNXLibrary)
	c.Models.EmbeddingURL = getEnvString("EMBEDDING_URL", c.Models.EmbeddingURL)
	c.Models.EmbeddingKey = getEnvString("EMBEDDING_API_KEY", c.Models.EmbeddingKey)
	c.Models.EmbeddingName = getEnvString("EMBEDDING_NAME", c.Models.EmbeddingName)
	c.Models.Timeout = getEnvDuration("MODEL_TIMEOUT", c.Models.Timeout)

	c.Corpus.DBPath = getEnvString("CORPUS_DB_PATH", c.Corpus.DBPath)
	c.Corpus.EmbeddingsPath = getEnvString("CORPUS_EMBEDDINGS_PATH", c.Corpus.EmbeddingsPath)
	c.Corpus.IndexPath = getEnvString("CORPUS_INDEX_PATH", c.Corpus.IndexPath)
	c.Corpus.Translations = getEnvList("CORPUS_TRANSLATIONS", c.Corpus.Translations)
	c.Corpus.ActiveTranslation = getEnvString("CORPUS_ACTIVE_TRANSLATION", c.Corpus.ActiveTranslation)
	c.Corpus.SimilarityThreshold = getEnvFloat32("CORPUS_SIMILARITY_THRESHOLD", c.Corpus.SimilarityThreshold)

	c.Logging.Level = getEnvString("LOG_LEVEL", c.Logging.Level)
	c.Logging.Format = getEnvString("LOG_FORMAT", c.Logging.Format)
	c.Logging.Output = getEnvString("LOG_OUTPUT", c.Logging.Output)

	c.NATS.Enabled = getEnvBool("NATS_ENABLED", c.NATS.Enabled)
	c.NATS.URL = getEnvString("NATS_URL", c.NATS.URL)
	c.NATS.SubjectPrefix = getEnvString("NATS_SUBJECT_PREFIX", c.NATS.SubjectPrefix)
	c.NATS.MaxReconnect = getEnvInt("NATS_MAX_RECONNECT", c.NATS.MaxReconnect)
	c.NATS.ReconnectWait = getEnvDuration("NATS_RECONNECT_WAIT", c.NATS.ReconnectWait)
}

// validate checks if the configuration is valid
func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Audio.VADThreshold < 0 {
		return fmt.Errorf("VAD threshold must not be negative: %f", c.Audio.VADThreshold)
	}

	if c.Audio.AudioBuffer <= 0 || c.Audio.LevelBuffer <= 0 || c.Audio.ErrorBuffer <= 0 {
		return fmt.Errorf("audio channel capacities must be positive")
	}

	if c.Session.WindowSamples < 8000 || c.Session.WindowSamples > 48000 {
		return fmt.Errorf("window samples must be within 8000-48000: %d", c.Session.WindowSamples)
	}

	// The window can shrink to 8000 at runtime, so the overlap is bounded by
	// the smallest window rather than the configured one.
	if c.Session.OverlapSamples < 0 || c.Session.OverlapSamples >= 8000 {
		return fmt.Errorf("overlap samples must be within 0-7999: %d", c.Session.OverlapSamples)
	}

	if c.Session.QueueDepth <= 0 {
		return fmt.Errorf("inference queue depth must be positive: %d", c.Session.QueueDepth)
	}

	switch c.Models.Transcriber {
	case "whisper", "remote":
	default:
		return fmt.Errorf("unknown transcriber backend: %q", c.Models.Transcriber)
	}

	if c.Models.Transcriber == "remote" && c.Models.STTURL == "" {
		return fmt.Errorf("STT URL must be provided for the remote transcriber")
	}

	switch c.Models.Embedder {
	case "onnx", "openai":
	default:
		return fmt.Errorf("unknown embedding backend: %q", c.Models.Embedder)
	}

	if c.Corpus.DBPath == "" {
		return fmt.Errorf("corpus database path must be provided")
	}

	if len(c.Corpus.Translations) == 0 {
		return fmt.Errorf("at least one corpus translation must be configured")
	}

	if c.Corpus.SimilarityThreshold <= 0 || c.Corpus.SimilarityThreshold > 1 {
		return fmt.Errorf("similarity threshold must be within (0, 1]: %f", c.Corpus.SimilarityThreshold)
	}

	return nil
}

// Helper functions for environment variable parsing
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat32(key string, defaultValue float32) float32 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 32); err == nil {
			return float32(floatValue)
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	if len(items) == 0 {
		return defaultValue
	}
	return items
}
