package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/tendant/imgsrc/pkg/imgsrc/client"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	_ = godotenv.Load()

	rootCmd := NewRootCommand()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func NewRootCommand() *cobra.Command {
	var server string
	var secret string
	var verbose bool

	rootCmd := &cobra.Command{
		Use:   "imgsrc",
		Short: "imgsrc CLI - signed image uploads",
		Long: `imgsrc Command Line Interface

Fetches nonces, signs them with the shared secret and uploads
PNG or JPEG images to an imgsrc server.

The secret is read from --secret or the SECRET_KEY environment variable.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&server, "server", "s", getEnv("IMGSRC_SERVER", "http://127.0.0.1:8080"), "server base URL")
	rootCmd.PersistentFlags().StringVar(&secret, "secret", "", "shared secret (default: $SECRET_KEY)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(NewNonceCommand())
	rootCmd.AddCommand(NewSignCommand())
	rootCmd.AddCommand(NewUploadCommand())
	rootCmd.AddCommand(NewScanCommand())
	rootCmd.AddCommand(NewMirrorSyncCommand())
	rootCmd.AddCommand(NewSweepCommand())

	return rootCmd
}

// newClientFromFlags builds a client from the persistent flags
func newClientFromFlags(cmd *cobra.Command) (*client.Client, error) {
	server, _ := cmd.Flags().GetString("server")
	secret, _ := cmd.Flags().GetString("secret")
	if secret == "" {
		secret = os.Getenv("SECRET_KEY")
	}
	if secret == "" {
		return nil, fmt.Errorf("secret is required: set --secret or SECRET_KEY")
	}
	return client.NewClient(server, []byte(secret))
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
