package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newRmCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rm <key>...",
		Short: "Delete files",
		Long: `Delete files from the backend and the registry.

With multiple keys, failures are reported per key and the rest
proceed.

Examples:
  filestore rm uploads/old-scan.png
  filestore rm cards/a.png cards/b.png cards/c.png`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			store, _, _, err := openStore(ctx, cmd, v)
			if err != nil {
				return err
			}
			defer store.Close()

			if len(args) == 1 {
				if err := store.Delete(ctx, args[0]); err != nil {
					return err
				}
				fmt.Printf("deleted %s\n", args[0])
				return nil
			}

			result, err := store.DeleteMany(ctx, args)
			if err != nil {
				return err
			}
			for _, r := range result.Results {
				if r.Error != "" {
					fmt.Printf("FAILED  %s: %s\n", r.Key, r.Error)
				} else {
					fmt.Printf("deleted %s\n", r.Key)
				}
			}
			fmt.Printf("%d deleted, %d failed\n", result.Successful, result.Failed)
			if result.Failed > 0 {
				return fmt.Errorf("%d deletions failed", result.Failed)
			}
			return nil
		},
	}
	return cmd
}
