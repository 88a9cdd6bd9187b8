package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tvoe/cliphub/internal/domain"
)

var retryWatch bool

var retryCmd = &cobra.Command{
	Use:   "retry <clip-id> <job-type>",
	Short: "Queue a new attempt of a failed or cancelled job",
	Long: `Queue a new attempt of a clip's job type. Only allowed when the latest
job of that type failed or was cancelled.

Examples:
  clipctl retry 0b8e... transcode
  clipctl retry 0b8e... thumbnail --watch`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		clipID, err := parseID("clip", args[0])
		if err != nil {
			return err
		}
		jobType := domain.JobType(args[1])
		if !jobType.Valid() {
			return fmt.Errorf("unknown job type %q", args[1])
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()
		job, err := apiClient.Retry(ctx, clipID, jobType)
		if err != nil {
			return fmt.Errorf("retry: %w", err)
		}
		fmt.Fprintf(out, "Queued %s attempt %d as job %s\n", job.JobType, job.Attempt, job.ID)

		if !retryWatch {
			return nil
		}
		return watchJob(cmd.Context(), job.ID, watchOptions())
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <job-id>",
	Short: "Cancel a queued or running job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		jobID, err := parseID("job", args[0])
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()

		view, err := apiClient.CancelJob(ctx, jobID)
		if err != nil {
			return fmt.Errorf("cancel: %w", err)
		}
		fmt.Fprintf(out, "Job %s is %s\n", view.JobID, view.Status)
		return nil
	},
}

func init() {
	retryCmd.Flags().BoolVar(&retryWatch, "watch", false, "follow the new job until it finishes")
}
