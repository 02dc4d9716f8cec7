package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newStatsCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show storage statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			store, _, _, err := openStore(ctx, cmd, v)
			if err != nil {
				return err
			}
			defer store.Close()

			stats, err := store.Stats(ctx)
			if err != nil {
				return err
			}

			fmt.Printf("files:        %d\n", stats.TotalFiles)
			fmt.Printf("  public:     %d\n", stats.PublicFiles)
			fmt.Printf("  private:    %d\n", stats.PrivateFiles)
			fmt.Printf("logical size: %d bytes\n", stats.TotalSize)
			fmt.Printf("stored size:  %d bytes\n", stats.StoredSize)
			fmt.Printf("backend:      %s\n", stats.BackendType)
			if stats.BackendSize >= 0 {
				fmt.Printf("backend size: %d bytes\n", stats.BackendSize)
			}
			return nil
		},
	}
	return cmd
}
