package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/cardvault/filestore/internal/config"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	v := viper.New()

	rootCmd := &cobra.Command{
		Use:   "filestore",
		Short: "Content-addressed file storage",
		Long: `filestore - content-addressed file storage for cardvault.

Files are deduplicated by SHA-256 over their original bytes and
registered in a local metadata registry. One physical backend is
active at a time (s3, redis, badger, or memory).

Commands:
  filestore upload <file>   Store a file
  filestore get <key>       Retrieve a file
  filestore rm <key>...     Delete files
  filestore ls [prefix]     List files
  filestore url <key>       Mint an access URL
  filestore stats           Show storage statistics
  filestore sweep           Prune expired files and orphaned blobs
  filestore config          Show the effective configuration`,
		SilenceUsage: true,
	}

	config.BindRootFlags(rootCmd, v)

	rootCmd.AddCommand(newUploadCmd(v))
	rootCmd.AddCommand(newGetCmd(v))
	rootCmd.AddCommand(newRmCmd(v))
	rootCmd.AddCommand(newLsCmd(v))
	rootCmd.AddCommand(newURLCmd(v))
	rootCmd.AddCommand(newStatsCmd(v))
	rootCmd.AddCommand(newSweepCmd(v))
	rootCmd.AddCommand(newConfigCmd(v))

	return rootCmd.ExecuteContext(context.Background())
}
