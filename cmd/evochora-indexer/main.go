// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Command evochora-indexer runs one analytics indexer (§4.H) bound to a
// single simulation run. Wiring happens here, explicitly, at main: per the
// design notes' redesign flag replacing process-wide singletons with "an
// explicit application context created at main", nothing in pkg/indexer
// reaches for a global logger, database handle, or plugin registry.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/evochora/pipeline/pkg/analyticsplugin"
	"github.com/evochora/pipeline/pkg/batchstore"
	"github.com/evochora/pipeline/pkg/indexer"
	clog "github.com/evochora/pipeline/pkg/log"
	"github.com/evochora/pipeline/pkg/metastore"
	"github.com/evochora/pipeline/pkg/resource"
	"github.com/evochora/pipeline/pkg/topic"
)

func main() {
	configFile := flag.String("config", "./indexer-config.json", "Specify alternative path to `indexer-config.json`")
	logLevel := flag.String("loglevel", "info", "Sets the logging level: [debug, info, warn, err, crit]")
	flag.Parse()
	clog.SetLogLevel(*logLevel)

	cfg, err := loadConfig(*configFile)
	if err != nil {
		clog.Fatalf("evochora-indexer: load config: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := batchstore.New(cfg.FolderStructure)
	if err != nil {
		clog.Fatalf("evochora-indexer: open batch store: %v", err)
	}
	storeWrapper := resource.New("batchstore", resource.Active, cfg.MetricsWindow(),
		resource.UsageStorageRead, resource.UsageStorageWrite)
	store.Monitor(storeWrapper)
	analyticsWrapper := resource.New("analytics", resource.Inactive, cfg.MetricsWindow(),
		resource.UsageAnalyticsWrite)
	prometheus.MustRegister(resource.NewPromCollector(storeWrapper, analyticsWrapper))

	metaStore, err := metastore.Open(ctx, cfg.MetadataDSN)
	if err != nil {
		clog.Fatalf("evochora-indexer: open metadata store: %v", err)
	}
	defer metaStore.Close()

	topicClient, err := topic.Connect(topic.Config{
		Address:       cfg.TopicAddress,
		ClaimTimeout:  cfg.ClaimTimeout,
		ConsumerGroup: cfg.ConsumerGroup,
	})
	if err != nil {
		clog.Fatalf("evochora-indexer: connect topic: %v", err)
	}
	defer topicClient.Close()

	tp, err := topicClient.Open(ctx, "batch-topic", cfg.RunID, cfg.ClaimTimeout)
	if err != nil {
		clog.Fatalf("evochora-indexer: open topic: %v", err)
	}
	sub, err := tp.Subscribe(ctx, cfg.ConsumerGroup)
	if err != nil {
		clog.Fatalf("evochora-indexer: subscribe: %v", err)
	}

	registry := buildRegistry()
	plugins := make([]indexer.Plugin, 0, len(cfg.Plugins))
	for _, pc := range cfg.Plugins {
		opts, err := decodeOptions(pc)
		if err != nil {
			clog.Fatalf("evochora-indexer: decode plugin options for %s: %v", pc.ClassName, err)
		}
		p, err := registry.Build(pc.ClassName, opts)
		if err != nil {
			clog.Fatalf("evochora-indexer: build plugin %s: %v", pc.ClassName, err)
		}
		plugins = append(plugins, p)
	}

	ix, err := indexer.New(
		cfg,
		&metadataAdapter{store: metaStore},
		&subscriptionAdapter{sub: sub},
		&batchReaderAdapter{store: store},
		&writerAdapter{root: cfg.FolderStructure.Root, monitor: analyticsWrapper},
		plugins,
	)
	if err != nil {
		clog.Fatalf("evochora-indexer: construct indexer: %v", err)
	}

	if err := ix.Start(ctx); err != nil {
		clog.Fatalf("evochora-indexer: startup failed: %v", err)
	}
	clog.Infof("evochora-indexer: run %s RUNNING", cfg.RunID)

	if err := ix.Run(ctx); err != nil {
		clog.Errorf("evochora-indexer: run %s stopped with error: %v", cfg.RunID, err)
		os.Exit(1)
	}
	clog.Infof("evochora-indexer: run %s stopped cleanly", cfg.RunID)
}

func loadConfig(path string) (indexer.Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return indexer.Config{}, err
	}
	defer f.Close()
	var cfg indexer.Config
	if err := json.NewDecoder(f).Decode(&cfg); err != nil {
		return indexer.Config{}, err
	}
	if cfg.ClaimTimeout == 0 {
		cfg.ClaimTimeout = 300 * time.Second
	}
	return cfg, nil
}

// decodeOptions turns one plugins[].options JSON object into
// analyticsplugin.Options. Decoding by hand, rather than a direct
// json.Unmarshal into Options, is necessary because HasMaxDataPoints and
// Extra are both tagged json:"-" (Options is written once at program
// start, not round-tripped), so max_data_points presence and any
// plugin-specific keys have to be captured explicitly here.
func decodeOptions(pc indexer.PluginConfig) (analyticsplugin.Options, error) {
	opts := analyticsplugin.Options{MetricID: pc.ClassName, Extra: make(map[string]any)}

	if v, ok := pc.Options["metric_id"].(string); ok {
		opts.MetricID = v
	}
	if v, ok := asInt64(pc.Options["sampling_interval"]); ok {
		opts.SamplingInterval = v
	}
	if v, ok := asInt64(pc.Options["lod_factor"]); ok {
		opts.LodFactor = v
	}
	if v, ok := asInt64(pc.Options["lod_levels"]); ok {
		opts.LodLevels = int(v)
	}
	if v, ok := asInt64(pc.Options["max_data_points"]); ok {
		opts.MaxDataPoints = int(v)
		opts.HasMaxDataPoints = true
	}
	for k, v := range pc.Options {
		switch k {
		case "metric_id", "sampling_interval", "lod_factor", "lod_levels", "max_data_points":
		default:
			opts.Extra[k] = v
		}
	}
	return opts, nil
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case int64:
		return n, true
	case int:
		return int64(n), true
	default:
		return 0, false
	}
}
