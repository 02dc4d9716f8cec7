package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newConfigCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, v)
			if err != nil {
				return err
			}

			fmt.Printf("data_dir:          %s\n", cfg.DataDir)
			fmt.Printf("public_base_url:   %s\n", cfg.PublicBaseURL)
			fmt.Printf("signed_url_expiry: %s\n", cfg.SignedURLExpiry)
			fmt.Printf("signing_secret:    %s\n", redact(cfg.SigningSecret))
			fmt.Println()
			fmt.Printf("storage.backend:   %s\n", cfg.Storage.Backend)
			fmt.Printf("upload.max_file_size:     %s\n", cfg.Upload.MaxFileSize)
			fmt.Printf("upload.max_storage_days:  %d\n", cfg.Upload.MaxStorageDays)
			fmt.Printf("upload.default_folder:    %s\n", cfg.Upload.DefaultFolder)
			fmt.Printf("upload.allowed_types:\n")
			for _, t := range cfg.Upload.AllowedTypes {
				fmt.Printf("  - %s\n", t)
			}
			fmt.Println()
			fmt.Printf("sweep.interval:     %s\n", cfg.Sweep.Interval)
			fmt.Printf("sweep.orphan_grace: %s\n", cfg.Sweep.OrphanGrace)
			fmt.Printf("sweep.batch_size:   %d\n", cfg.Sweep.BatchSize)
			return nil
		},
	}
	return cmd
}

func redact(s string) string {
	if s == "" {
		return "(not set)"
	}
	return "(set)"
}
