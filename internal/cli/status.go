package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tvoe/cliphub/internal/domain"
)

var statusCmd = &cobra.Command{
	Use:   "status <clip-id>",
	Short: "Show a clip's jobs and publication readiness",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	clipID, err := parseID("clip", args[0])
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	jobs, err := apiClient.ListJobs(ctx, clipID)
	if err != nil {
		return fmt.Errorf("list jobs: %w", err)
	}
	readiness, err := apiClient.Readiness(ctx, clipID)
	if err != nil {
		return fmt.Errorf("get readiness: %w", err)
	}

	fmt.Fprintf(out, "Clip %s: processing %s\n\n", clipID, readiness.ProcessingStatus)
	if len(jobs) == 0 {
		fmt.Fprintln(out, "No jobs found")
	} else {
		fmt.Fprintf(out, "%-36s %-14s %-8s %-10s %s\n", "JOB", "TYPE", "ATTEMPT", "STATUS", "PROGRESS")
		fmt.Fprintln(out, "------------------------------------------------------------------------------------")
		for _, j := range jobs {
			fmt.Fprintf(out, "%-36s %-14s %-8d %-10s %d%%\n", j.ID, j.JobType, j.Attempt, j.Status, j.ProgressPercentage)
		}
	}

	fmt.Fprintln(out)
	if readiness.Ready {
		fmt.Fprintln(out, "Ready to publish")
		return nil
	}
	printUnmet(readiness.Unmet)
	return nil
}

func printUnmet(unmet []domain.UnmetRequirement) {
	fmt.Fprintln(out, "Not ready to publish:")
	for _, u := range unmet {
		fmt.Fprintf(out, "  - %s: %s\n", u.JobType, u.Reason)
	}
}
