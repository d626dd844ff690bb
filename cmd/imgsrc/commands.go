package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/tendant/imgsrc/pkg/imgsrc/client"
)

// NewNonceCommand creates the nonce command
func NewNonceCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "nonce",
		Short: "Print the server's current nonce",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClientFromFlags(cmd)
			if err != nil {
				return err
			}
			n, err := c.Nonce(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), n)
			return nil
		},
	}
}

// NewSignCommand creates the sign command
func NewSignCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sign [nonce]",
		Short: "Print the signature for a nonce",
		Long:  `Sign the given nonce, or the server's current nonce when none is given.`,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClientFromFlags(cmd)
			if err != nil {
				return err
			}

			var n uint64
			if len(args) == 1 {
				n, err = strconv.ParseUint(args[0], 10, 64)
				if err != nil {
					return fmt.Errorf("invalid nonce %q: %w", args[0], err)
				}
			} else if n, err = c.Nonce(cmd.Context()); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%d %s\n", n, c.Sign(n))
			return nil
		},
	}
}

// NewUploadCommand creates the upload command
func NewUploadCommand() *cobra.Command {
	var dirIndex string
	var name string

	cmd := &cobra.Command{
		Use:   "upload <file>",
		Short: "Upload an image",
		Long:  `Upload a PNG or JPEG image and print the server's JSON response.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			filePath := args[0]

			f, err := os.Open(filePath)
			if err != nil {
				return fmt.Errorf("failed to open file: %w", err)
			}
			defer f.Close()

			c, err := newClientFromFlags(cmd)
			if err != nil {
				return err
			}

			if name == "" {
				name = filepath.Base(filePath)
			}

			verbose, _ := cmd.Flags().GetBool("verbose")
			if verbose {
				fmt.Fprintf(cmd.ErrOrStderr(), "Uploading file: %s\n", filePath)
			}

			var opts []client.UploadOption
			if dirIndex != "" {
				opts = append(opts, client.WithDirIndex(dirIndex))
			}
			resp, err := c.Upload(cmd.Context(), name, f, opts...)
			if err != nil {
				return fmt.Errorf("upload failed: %w", err)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(resp)
		},
	}

	cmd.Flags().StringVarP(&dirIndex, "dir-index", "d", "", "destination directory index")
	cmd.Flags().StringVar(&name, "name", "", "filename sent to the server (default: base name of <file>)")

	return cmd
}
