package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tvoe/cliphub/internal/client"
)

var publishCmd = &cobra.Command{
	Use:   "publish <clip-id>",
	Short: "Publish a fully processed clip",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		clipID, err := parseID("clip", args[0])
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()

		clip, err := apiClient.Publish(ctx, clipID)
		var apiErr *client.Error
		if errors.As(err, &apiErr) && len(apiErr.Unmet) > 0 {
			printUnmet(apiErr.Unmet)
			return fmt.Errorf("clip %s is not ready", clipID)
		}
		if err != nil {
			return fmt.Errorf("publish: %w", err)
		}
		if clip.PublishedAt == nil {
			fmt.Fprintf(out, "Clip %s is %s\n", clip.ID, clip.Status)
			return nil
		}
		fmt.Fprintf(out, "Clip %s published at %s\n", clip.ID, clip.PublishedAt.Local().Format("2006-01-02 15:04:05"))
		return nil
	},
}
