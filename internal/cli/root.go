// Package cli provides the clipctl command-line interface.
package cli

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tvoe/cliphub/internal/client"
	"github.com/tvoe/cliphub/internal/config"
	"github.com/tvoe/cliphub/internal/logging"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	serverURL string
	userID    string
	timeout   time.Duration
	verbose   bool

	apiClient *client.Client
	logger    *zap.Logger
	out       io.Writer = os.Stdout
)

var rootCmd = &cobra.Command{
	Use:   "clipctl",
	Short: "Upload, watch and publish clips",
	Long: `clipctl drives the cliphub API: it uploads clips, follows their
processing jobs and publishes them once every required job has completed.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" || cmd.Name() == "help" {
			return nil
		}

		level := "warn"
		if verbose {
			level = "debug"
		}
		var err error
		logger, err = logging.New(config.LogConfig{Level: level, Format: "console"})
		if err != nil {
			return err
		}

		user, err := uuid.Parse(userID)
		if err != nil {
			return fmt.Errorf("--user must be a UUID (or set CLIPHUB_USER_ID)")
		}
		apiClient = client.New(serverURL, user, nil)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", envOr("CLIPHUB_SERVER_URL", "http://localhost:8080"), "API base URL")
	rootCmd.PersistentFlags().StringVar(&userID, "user", os.Getenv("CLIPHUB_USER_ID"), "acting user ID")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 2*time.Minute, "request timeout for non-streaming commands")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(uploadCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(publishCmd)
	rootCmd.AddCommand(retryCmd)
	rootCmd.AddCommand(cancelCmd)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseID(kind, value string) (uuid.UUID, error) {
	id, err := uuid.Parse(value)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid %s id %q", kind, value)
	}
	return id, nil
}
