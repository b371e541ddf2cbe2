/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Command vaultradar serves the backup-provider connector API for the
// dashboard frontend.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/carverauto/vaultradar/pkg/api"
	"github.com/carverauto/vaultradar/pkg/backup"
	"github.com/carverauto/vaultradar/pkg/config"
	"github.com/carverauto/vaultradar/pkg/kv"
	"github.com/carverauto/vaultradar/pkg/logger"
	"github.com/carverauto/vaultradar/pkg/models"
)

// serviceConfig is the root config file schema.
type serviceConfig struct {
	ListenAddr string `json:"listen_addr"`
	APIKey     string `json:"api_key"`

	// NatsURL selects the shared NATS JetStream KV store. Empty runs with
	// the in-process store, which keeps the token and lock private to this
	// instance.
	NatsURL    string          `json:"nats_url"`
	NatsBucket string          `json:"nats_bucket"`
	KVTTL      models.Duration `json:"kv_ttl"`

	Backup backup.Config `json:"backup"`

	Logging logger.Config `json:"logging"`
}

func (c *serviceConfig) Validate() error {
	if c.ListenAddr == "" {
		c.ListenAddr = ":8090"
	}

	if c.NatsBucket == "" {
		c.NatsBucket = "vaultradar"
	}

	if time.Duration(c.KVTTL) == 0 {
		c.KVTTL = models.Duration(24 * time.Hour)
	}

	return c.Backup.Validate()
}

func main() {
	configPath := flag.String("config", "/etc/vaultradar/config.json", "Path to config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "vaultradar: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bootstrap, err := logger.New(logger.DefaultConfig())
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	var cfg serviceConfig

	loader := config.NewConfig(bootstrap)
	if err := loader.LoadAndValidate(ctx, configPath, &cfg); err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logger.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	store, err := openStore(ctx, &cfg, log)
	if err != nil {
		return fmt.Errorf("open kv store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close KV store")
		}
	}()

	connector, err := backup.NewConnector(&cfg.Backup, store, log)
	if err != nil {
		return err
	}

	var opts []api.ServerOption
	if cfg.APIKey != "" {
		opts = append(opts, api.WithAPIKey(cfg.APIKey))
	}

	server := api.NewServer(connector, log, opts...)

	return server.Start(ctx, cfg.ListenAddr)
}

func openStore(ctx context.Context, cfg *serviceConfig, log logger.Logger) (kv.KVStore, error) {
	if cfg.NatsURL == "" {
		log.Info().Msg("No NATS URL configured, using in-process KV store")

		return kv.NewMemoryStore(), nil
	}

	log.Info().
		Str("url", cfg.NatsURL).
		Str("bucket", cfg.NatsBucket).
		Msg("Connecting to NATS JetStream KV")

	return kv.NewNatsStore(ctx, cfg.NatsURL, cfg.NatsBucket, time.Duration(cfg.KVTTL))
}
