package main

import (
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/cardvault/filestore/internal/filestore"
)

func newUploadCmd(v *viper.Viper) *cobra.Command {
	var folder string
	var name string
	var contentType string
	var public bool
	var owner string
	var meta []string
	var dataURL bool

	cmd := &cobra.Command{
		Use:   "upload <file>",
		Short: "Store a file",
		Long: `Store a file in the active backend and register it.

Identical content (by SHA-256) is not stored twice: the existing
record is returned instead.

Examples:
  filestore upload photo.jpg
  filestore upload --public --folder cards scan.png
  filestore upload --name front.png --meta album=vacation scan.png
  cat report.pdf | filestore upload --type application/pdf -
  filestore upload --data-url avatar.txt   # file holds a data: URL`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			filename := args[0]
			var data []byte
			var err error
			if filename == "-" {
				data, err = io.ReadAll(os.Stdin)
			} else {
				data, err = os.ReadFile(filename)
			}
			if err != nil {
				return fmt.Errorf("read file: %w", err)
			}

			store, _, _, err := openStore(ctx, cmd, v)
			if err != nil {
				return err
			}
			defer store.Close()

			opts := filestore.UploadOptions{
				Folder:     folder,
				CustomName: name,
				IsPublic:   public,
				OwnerID:    owner,
				Metadata:   parseMeta(meta),
			}

			var result *filestore.UploadResult
			if dataURL {
				result, err = store.UploadDataURL(ctx, strings.TrimSpace(string(data)), opts)
			} else {
				ct := contentType
				if ct == "" {
					ct = detectContentType(filename)
				}
				result, err = store.Upload(ctx, &filestore.File{
					Name:        filepath.Base(filename),
					ContentType: ct,
					Data:        data,
				}, opts)
			}
			if err != nil {
				return err
			}

			status := "STORED"
			if result.IsDuplicate {
				status = "DEDUPLICATED"
			}
			fmt.Printf("status:   %s\n", status)
			fmt.Printf("key:      %s\n", result.Key)
			fmt.Printf("hash:     %s\n", result.Hash)
			fmt.Printf("size:     %d\n", result.Size)
			fmt.Printf("stored:   %d (compressed=%v)\n", result.StoredSize, result.Compressed)
			fmt.Printf("backend:  %s\n", result.Backend)
			if result.URL != "" {
				fmt.Printf("url:      %s\n", result.URL)
			}
			if !result.ExpiresAt.IsZero() {
				fmt.Printf("expires:  %s\n", result.ExpiresAt.Format("2006-01-02 15:04:05 MST"))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&folder, "folder", "", "storage folder prefix")
	cmd.Flags().StringVar(&name, "name", "", "custom file name (default generated)")
	cmd.Flags().StringVar(&contentType, "type", "", "content type (default by extension)")
	cmd.Flags().BoolVar(&public, "public", false, "make the file publicly accessible")
	cmd.Flags().StringVar(&owner, "owner", "", "owner identity to record")
	cmd.Flags().StringArrayVar(&meta, "meta", nil, "custom metadata (key=value, repeatable)")
	cmd.Flags().BoolVar(&dataURL, "data-url", false, "treat input as a data: URL payload")
	return cmd
}

func detectContentType(filename string) string {
	if ct := mime.TypeByExtension(filepath.Ext(filename)); ct != "" {
		// Strip charset parameters; the registry stores the bare type.
		if i := strings.IndexByte(ct, ';'); i >= 0 {
			ct = ct[:i]
		}
		return strings.TrimSpace(ct)
	}
	return "application/octet-stream"
}

func parseMeta(pairs []string) map[string]string {
	if len(pairs) == 0 {
		return nil
	}
	m := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, _ := strings.Cut(p, "=")
		m[k] = v
	}
	return m
}
