package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newGetCmd(v *viper.Viper) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "get <key>",
		Short: "Retrieve a file",
		Long: `Retrieve a file's bytes by storage key.

Bytes go to --output, or stdout when omitted. Retrieved content is
verified against the registered hash before being returned.

Examples:
  filestore get uploads/1709136000000-a1b2c3d4.jpg -o photo.jpg
  filestore get docs/report.pdf > report.pdf`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			store, _, _, err := openStore(ctx, cmd, v)
			if err != nil {
				return err
			}
			defer store.Close()

			content, err := store.Get(ctx, args[0])
			if err != nil {
				return err
			}

			if output == "" || output == "-" {
				_, err = os.Stdout.Write(content.Data)
				return err
			}
			if err := os.WriteFile(output, content.Data, 0o600); err != nil {
				return fmt.Errorf("write output: %w", err)
			}
			fmt.Fprintf(os.Stderr, "wrote %d bytes to %s (%s)\n",
				len(content.Data), output, content.ContentType)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default stdout)")
	return cmd
}
