package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/cardvault/filestore/internal/filestore"
)

func newLsCmd(v *viper.Viper) *cobra.Command {
	var limit int
	var cursor string

	cmd := &cobra.Command{
		Use:   "ls [prefix]",
		Short: "List files",
		Long: `List registered files, ordered by key.

Listing is served from the metadata registry and works on every
backend. Pass the printed cursor to continue a truncated listing.

Examples:
  filestore ls
  filestore ls cards/
  filestore ls --limit 50 --cursor cards/0123.png`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			store, _, _, err := openStore(ctx, cmd, v)
			if err != nil {
				return err
			}
			defer store.Close()

			prefix := ""
			if len(args) == 1 {
				prefix = args[0]
			}

			result, err := store.List(ctx, filestore.ListOptions{
				Prefix: prefix,
				Limit:  limit,
				Cursor: cursor,
			})
			if err != nil {
				return err
			}

			for _, f := range result.Files {
				vis := "private"
				if f.IsPublic {
					vis = "public"
				}
				fmt.Printf("%-10d %-8s %-24s %s\n", f.Size, vis, f.ContentType, f.Key)
			}
			if result.Truncated {
				fmt.Printf("\ntruncated; continue with --cursor %s\n", result.Cursor)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 100, "maximum files per page")
	cmd.Flags().StringVar(&cursor, "cursor", "", "continue after this key")
	return cmd
}
