package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newURLCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "url <key>",
		Short: "Mint an access URL",
		Long: `Mint an access URL for a file.

Public files get a direct URL. Private files get a time-limited
signed URL: the backend's native presigning when available,
otherwise an HMAC-signed URL keyed by signing_secret.

Examples:
  filestore url uploads/photo.jpg`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			store, _, _, err := openStore(ctx, cmd, v)
			if err != nil {
				return err
			}
			defer store.Close()

			url, err := store.FileURL(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Println(url)
			return nil
		},
	}
	return cmd
}
