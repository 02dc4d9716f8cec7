package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/cardvault/filestore/internal/config"
	"github.com/cardvault/filestore/internal/filestore"
	"github.com/cardvault/filestore/internal/filestore/metadata"
	"github.com/cardvault/filestore/internal/observability"
	"github.com/cardvault/filestore/internal/storage"

	// Register the physical backends.
	_ "github.com/cardvault/filestore/internal/filestore/backend/badger"
	_ "github.com/cardvault/filestore/internal/filestore/backend/memory"
	_ "github.com/cardvault/filestore/internal/filestore/backend/redis"
	_ "github.com/cardvault/filestore/internal/filestore/backend/s3"
)

func loadConfig(cmd *cobra.Command, v *viper.Viper) (config.Config, error) {
	configFile, _ := cmd.Flags().GetString("config")
	return config.Load(v, configFile)
}

// openStore builds the full stack from config: observability, backend,
// registry, and store. The store records into the returned
// observability's meters, so metrics served from it reflect store
// activity. The caller owns Close on both.
func openStore(ctx context.Context, cmd *cobra.Command, v *viper.Viper) (*filestore.Store, config.Config, *observability.Observability, error) {
	cfg, err := loadConfig(cmd, v)
	if err != nil {
		return nil, cfg, nil, err
	}

	obs, err := observability.New(ctx, observability.ObsConfig{
		LogLevel:       cfg.Observability.LogLevel,
		LogFormat:      cfg.Observability.LogFormat,
		OTLPEndpoint:   cfg.Observability.OTLPEndpoint,
		OTLPProtocol:   cfg.Observability.OTLPProtocol,
		ServiceName:    cfg.Observability.ServiceName,
		ServiceVersion: cfg.Observability.ServiceVersion,
	}, os.Stderr)
	if err != nil {
		return nil, cfg, nil, err
	}

	maxFileSize, err := storage.ParseSize(cfg.Upload.MaxFileSize)
	if err != nil {
		return nil, cfg, nil, fmt.Errorf("upload.max_file_size: %w", err)
	}

	backendCfg := cfg.Storage
	if backendCfg.Badger == nil {
		backendCfg.Badger = map[string]string{}
	}
	if backendCfg.Badger["path"] == "" {
		backendCfg.Badger["path"] = filepath.Join(cfg.DataDir, "blobs")
	}

	b, err := filestore.SelectBackend(ctx, backendCfg.Backend,
		backendCfg.S3, backendCfg.Redis, backendCfg.Badger)
	if err != nil {
		return nil, cfg, nil, err
	}

	registryCfg := cfg.Registry
	if registryCfg == nil {
		registryCfg = map[string]string{}
	}
	if registryCfg[metadata.KeyPath] == "" {
		registryCfg[metadata.KeyPath] = filepath.Join(cfg.DataDir, "registry.db")
	}
	registry, err := metadata.Open(registryCfg)
	if err != nil {
		b.Close()
		return nil, cfg, nil, err
	}

	store, err := filestore.New(filestore.Options{
		Backend:         b,
		Registry:        registry,
		Metrics:         obs.Metrics,
		MaxFileSize:     maxFileSize,
		AllowedTypes:    cfg.Upload.AllowedTypes,
		MaxStorageDays:  cfg.Upload.MaxStorageDays,
		SignedURLExpiry: cfg.SignedURLExpiry,
		SigningSecret:   cfg.SigningSecret,
		PublicBaseURL:   cfg.PublicBaseURL,
		DefaultFolder:   cfg.Upload.DefaultFolder,
	})
	if err != nil {
		registry.Close()
		b.Close()
		return nil, cfg, nil, err
	}
	return store, cfg, obs, nil
}
