// Package main implements a service which discovers Klyqa devices on the
// local network with one discovery round, then logs answer latencies (and
// serves Prometheus metrics when enabled) until it is signalled to stop.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/MatusOllah/slogcolor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gopkg.in/yaml.v3"

	"github.com/mwandt/qcxctl/controller"
	"github.com/mwandt/qcxctl/store"
)

const configFile = "qcxctl.yaml"

var isVerbose = flag.Bool("verbose", false, "Enable display of DEBUG log messages")
var discoverTTL = flag.Duration("discover-ttl", 2500*time.Millisecond, "Time to live of the discovery ping")
var metricsAddr = flag.String("metrics", "", "Listen address for Prometheus metrics (empty: disabled)")

type config struct {
	mu sync.RWMutex

	ServerIP           string            `yaml:"server_ip"`
	Interface          string            `yaml:"interface"`
	BroadcastDiscovery bool              `yaml:"broadcast_discovery"`
	PassiveHost        bool              `yaml:"passive_host"`
	UseDevKey          bool              `yaml:"use_dev_key"`
	AESKeys            map[string]string `yaml:"aes_keys"`
}

func (c *config) load(fn string) error {
	data, err := os.ReadFile(fn)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return yaml.Unmarshal(data, c)
}

func (c *config) write(fn string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(fn, data, 0o600)
}

func main() {
	// Command line arguments
	flag.Parse()

	// Logging
	opts := slogcolor.DefaultOptions
	switch *isVerbose {
	case true:
		opts.Level = slog.LevelDebug
	case false:
		opts.Level = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slogcolor.NewHandler(os.Stderr, opts)))
	slog.Debug("Debug messages look like this")

	// Config
	conf := config{}
	if err := conf.load(configFile); err != nil {
		switch {
		case os.IsNotExist(err):
			slog.Warn("Configuration file does not exist.", "fn", configFile)
		default:
			slog.Error("Unable to load configuration file", "fn", configFile, "err", err)
		}
	} else {
		slog.Debug("Loaded configuration.", "fn", configFile)
	}

	// Controller state, seeded from the on-disk caches and the config file
	data := controller.NewControllerData()
	data.UseDevKey = conf.UseDevKey
	if keys, err := store.LoadAESKeys(); err != nil {
		slog.Error("Unable to load AES key cache", "err", err)
	} else {
		for uid, key := range keys {
			if err := data.AddAESKey(uid, key); err != nil {
				slog.Warn("Skipping cached AES key", "uid", uid, "err", err)
			}
		}
	}
	for uid, key := range conf.AESKeys {
		if err := data.AddAESKey(uid, key); err != nil {
			slog.Warn("Skipping configured AES key", "uid", uid, "err", err)
		}
	}
	loadConfigs := func() {
		configs, err := store.LoadDeviceConfigs()
		if err != nil {
			slog.Error("Unable to load device config cache", "err", err)
			return
		}
		for productID, raw := range configs {
			data.SetDeviceConfig(productID, raw)
		}
	}
	loadConfigs()

	// Signal handling
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, os.Kill)
	defer stop()

	if err := store.WatchDeviceConfigs(ctx, loadConfigs); err != nil {
		slog.Warn("Device config cache watching disabled", "err", err)
	}

	// Local connection handler
	handler := controller.NewHandler(data, controller.Config{
		ServerIP:           conf.ServerIP,
		Interface:          conf.Interface,
		BroadcastDiscovery: conf.BroadcastDiscovery,
		PassiveHost:        conf.PassiveHost,
	})
	handler.SetMetrics(controller.NewMetrics(prometheus.DefaultRegisterer))
	defer func() {
		handler.Shutdown()
		if err := store.SaveAESKeys(data.AESKeysHex()); err != nil {
			slog.Error("Error writing AES key cache", "err", err)
		} else {
			slog.Info("Wrote AES key cache")
		}
	}()

	if *metricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
				slog.Error("Metrics listener failed", "addr", *metricsAddr, "err", err)
			}
		}()
	}

	// Initial discovery round
	if msg, err := handler.Discover(ctx, *discoverTTL); err != nil {
		slog.Error("Discovery failed", "err", err)
	} else {
		slog.Info("Discovery finished", "state", msg.State().String(), "devices", len(data.Devices()))
	}
	for uid, dev := range data.Devices() {
		slog.Info("Known device", "uid", uid, "product_id", dev.ProductID(), "kind", dev.Kind().String())
	}

	slog.Info("Starting main loop")
loop:
	for {
		select {
		case <-time.After(10 * time.Second):
			slog.Info("Answer latencies", "stats", handler.Stats())
		case <-ctx.Done():
			slog.Info("Exiting due to signal")
			break loop
		}
	}
}
