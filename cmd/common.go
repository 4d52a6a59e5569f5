/*
Copyright © 2025 The shoplingo authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/shoplingo/shoplingo/internal/client"
	"github.com/shoplingo/shoplingo/internal/config"
	"github.com/shoplingo/shoplingo/internal/logging"
	"github.com/shoplingo/shoplingo/internal/metricflush"
	"github.com/shoplingo/shoplingo/internal/monitor"
	"github.com/shoplingo/shoplingo/internal/pipeline"
	"github.com/shoplingo/shoplingo/internal/protect"
	"github.com/shoplingo/shoplingo/internal/quality"
	"github.com/shoplingo/shoplingo/internal/store"
	"github.com/shoplingo/shoplingo/internal/translator"
)

// app bundles everything a command needs: configuration, logging, the
// translation pipeline and its supporting monitor, store and flusher.
type app struct {
	cfg     *config.Config
	log     zerolog.Logger
	mon     *monitor.Monitor
	store   *store.Store // nil when the translation memory is disabled
	pipe    *pipeline.Pipeline
	flusher *metricflush.Flusher // nil when the store is nil
}

// buildApp wires the configured components together. The returned cleanup
// func closes the store and must always be called.
func buildApp() (*app, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}

	log, err := logging.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		return nil, nil, err
	}

	mon := monitor.New(monitor.Options{
		Operations:    cfg.Operations,
		MinSample:     cfg.MinSample,
		FailureWarn:   cfg.FailureWarn,
		FailureError:  cfg.FailureError,
		P95WarnRatio:  cfg.P95WarnRatio,
		P95ErrorRatio: cfg.P95ErrorRatio,
		P95Baseline:   cfg.P95Baseline,
	})

	svc := translator.NewLLMService(cfg.Endpoint, cfg.Model, cfg.APIKey, cfg.Timeout)

	fallbacks := []client.Fallback{client.SimplifiedPromptFallback{}}
	if cfg.Credentials != "" {
		google := translator.NewGoogleService(cfg.Credentials)
		fallbacks = append(fallbacks, client.NewServiceFallback("machine-translation", google))
	}

	cl := client.New(svc, fallbacks, mon, log, client.Options{
		MaxRetries:            cfg.MaxRetries,
		RetryDelay:            cfg.RetryDelay,
		MaxRetryDelay:         cfg.MaxRetryDelay,
		UseExponentialBackoff: cfg.UseExponentialBackoff,
		CacheTTL:              cfg.CacheTTL,
		MaxEntries:            cfg.MaxEntries,
		MaxInFlight:           cfg.MaxInFlight,
		AttemptTimeout:        cfg.Timeout,
	})

	var st *store.Store
	if !cfg.DisableMemory && cfg.DBPath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
			return nil, nil, fmt.Errorf("create data directory: %w", err)
		}
		st, err = store.New(cfg.DBPath)
		if err != nil {
			return nil, nil, fmt.Errorf("open store: %w", err)
		}
	}

	pipe := pipeline.New(cl,
		protect.NewCodec(cfg.BrandWords),
		quality.New(cfg.BrandWords, cfg.FallbackText),
		st, log,
		pipeline.Options{
			LongTextThreshold: cfg.LongTextThreshold,
			ChunkSize:         cfg.ChunkSize,
			ChunkParallelism:  cfg.ChunkParallelism,
			Glossary:          cfg.Glossary,
		})

	var flusher *metricflush.Flusher
	if st != nil {
		flusher = metricflush.New(mon, st, log, metricflush.Options{
			Interval:   cfg.FlushInterval(),
			MaxRetries: cfg.FlushMaxRetries,
			DumpDir:    cfg.DumpDir,
		})
	}

	a := &app{cfg: cfg, log: log, mon: mon, store: st, pipe: pipe, flusher: flusher}
	cleanup := func() {
		if st != nil {
			st.Close()
		}
	}
	return a, cleanup, nil
}

// openStore opens the configured sqlite store directly, for commands that
// only need the durable layer.
func openStore() (*store.Store, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if cfg.DisableMemory || cfg.DBPath == "" {
		return nil, fmt.Errorf("store is disabled (dbPath empty or disableMemory set)")
	}
	return store.New(cfg.DBPath)
}
