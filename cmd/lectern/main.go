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

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/loqalabs/loqa-lectern/internal/audio"
	"github.com/loqalabs/loqa-lectern/internal/config"
	"github.com/loqalabs/loqa-lectern/internal/corpus"
	"github.com/loqalabs/loqa-lectern/internal/events"
	"github.com/loqalabs/loqa-lectern/internal/inference"
	"github.com/loqalabs/loqa-lectern/internal/logging"
	"github.com/loqalabs/loqa-lectern/internal/messaging"
	"github.com/loqalabs/loqa-lectern/internal/monitor"
	"github.com/loqalabs/loqa-lectern/internal/server"
	"github.com/loqalabs/loqa-lectern/internal/session"
	"github.com/loqalabs/loqa-lectern/internal/storage"
)

const shutdownTimeout = 30 * time.Second

var (
	configPath string
	preload    bool
)

var rootCmd = &cobra.Command{
	Use:   "lectern",
	Short: "Live scripture detection for worship services",
	Long: `Loqa Lectern listens to a live microphone, transcribes speech in
overlapping windows and puts the scripture being read on screen.

Running lectern with no subcommand starts the server.`,
	SilenceUsage: true,
	RunE:         runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP control surface and event stream",
	RunE:  runServe,
}

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List audio input devices",
	RunE:  runDevices,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("LECTERN_CONFIG"), "YAML configuration file")
	rootCmd.PersistentFlags().BoolVar(&preload, "preload", false, "load speech and embedding models at startup")
	rootCmd.AddCommand(serveCmd, devicesCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setup() (*config.Config, error) {
	cfg, err := config.LoadFile(configPath)
	if err != nil {
		return nil, err
	}

	if err := logging.InitializeWithConfig(logging.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}); err != nil {
		return nil, fmt.Errorf("failed to initialize logging: %w", err)
	}
	return cfg, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := setup()
	if err != nil {
		return err
	}
	defer logging.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := storage.NewDatabase(storage.DatabaseConfig{Path: cfg.Corpus.DBPath, ReadOnly: true})
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	index, err := corpus.Load(ctx, storage.NewCorpusStore(db, ""), corpus.LoadOptions{
		Options: corpus.Options{
			ActiveTranslation:   cfg.Corpus.ActiveTranslation,
			SimilarityThreshold: cfg.Corpus.SimilarityThreshold,
		},
		Translations:   cfg.Corpus.Translations,
		EmbeddingsPath: cfg.Corpus.EmbeddingsPath,
		IndexPath:      cfg.Corpus.IndexPath,
	})
	if err != nil {
		return fmt.Errorf("failed to load corpus: %w", err)
	}

	host, err := audio.NewMalgoHost()
	if err != nil {
		return err
	}
	defer func() { _ = host.Close() }()

	capture := audio.NewCaptureEngine(host, audio.WithDevice(cfg.Audio.Device))
	capture.SetVADThreshold(cfg.Audio.VADThreshold)
	defer capture.Stop()

	models := inference.NewLoader(inference.FromConfig(cfg.Models))
	defer func() { _ = models.Close() }()
	if preload {
		go func() {
			if _, err := models.Load(ctx); err != nil {
				logging.LogError(err, "Model preload failed")
			}
		}()
	}

	bus := events.NewBroadcaster(0)
	defer bus.Close()
	sinks := events.Multi{bus}

	components := server.Components{
		Capture:   capture,
		Corpus:    index,
		Models:    models,
		Events:    bus,
		Monitor:   monitor.NewPipelineMonitor(),
		Resources: monitor.NewResourceMonitor(),
	}

	if cfg.NATS.Enabled {
		nats := messaging.NewNATSService(cfg.NATS)
		if err := nats.Connect(); err != nil {
			logging.LogWarn("NATS unavailable, events stay local", zap.Error(err))
		} else {
			defer nats.Close()
			sinks = append(sinks, nats)
			components.NATS = nats
		}
	}

	orch := session.New(capture, models, index, sinks, components.Monitor, session.OptionsFromConfig(cfg))
	components.Session = orch

	srv := server.New(cfg, components)
	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Start() }()

	select {
	case err = <-serveErr:
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if stopErr := srv.Stop(shutdownCtx); stopErr != nil {
		err = errors.Join(err, stopErr)
	}
	if closeErr := orch.Close(shutdownCtx); closeErr != nil {
		err = errors.Join(err, closeErr)
	}
	components.Monitor.LogSummary()

	logging.LogInfo("✅ Loqa Lectern shut down")
	return err
}

func runDevices(cmd *cobra.Command, args []string) error {
	if _, err := setup(); err != nil {
		return err
	}
	defer logging.Close()

	host, err := audio.NewMalgoHost()
	if err != nil {
		return err
	}
	defer func() { _ = host.Close() }()

	devices, err := audio.NewCaptureEngine(host).ListDevices()
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "DEVICE\tDEFAULT")
	for _, d := range devices {
		def := ""
		if d.Default {
			def = "✓"
		}
		fmt.Fprintf(w, "%s\t%s\n", d.ID, def)
	}
	return w.Flush()
}
