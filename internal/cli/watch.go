package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tvoe/cliphub/internal/domain"
	"github.com/tvoe/cliphub/internal/poller"
)

var watchFlags struct {
	interval time.Duration
	maxWait  time.Duration
	retries  int
}

var watchCmd = &cobra.Command{
	Use:   "watch <job-id>",
	Short: "Follow a job until it reaches a terminal status",
	Long: `Poll a processing job and print every change until it completes, fails or
is cancelled. Ctrl-C stops watching without touching the job.

Examples:
  clipctl watch 6f1c...           # poll every 2s, no deadline
  clipctl watch 6f1c... --max-wait 10m`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		jobID, err := parseID("job", args[0])
		if err != nil {
			return err
		}
		return watchJob(cmd.Context(), jobID, watchOptions())
	},
}

func init() {
	for _, c := range []*cobra.Command{watchCmd, uploadCmd, retryCmd} {
		f := c.Flags()
		f.DurationVar(&watchFlags.interval, "interval", poller.DefaultInterval, "poll interval")
		f.DurationVar(&watchFlags.maxWait, "max-wait", 0, "give up after this long (0 waits forever)")
		f.IntVar(&watchFlags.retries, "poll-retries", poller.DefaultMaxRetries, "consecutive transport errors tolerated")
	}
}

func watchOptions() poller.Options {
	return poller.Options{
		Interval:   watchFlags.interval,
		MaxWait:    watchFlags.maxWait,
		MaxRetries: watchFlags.retries,
	}
}

func watchJob(ctx context.Context, jobID uuid.UUID, opts poller.Options) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	p := poller.New(apiClient, logger, nil)
	w := p.Watch(ctx, jobID, opts)

	var last domain.JobStatusView
	for view := range w.Updates() {
		last = view
		printProgress(view)
	}
	if err := w.Err(); err != nil {
		if ctx.Err() != nil {
			logger.Debug("watch interrupted", zap.String("jobId", jobID.String()))
			return nil
		}
		return err
	}

	switch last.Status {
	case domain.JobStatusFailed:
		msg := "no error message"
		if last.ErrorMessage != nil {
			msg = *last.ErrorMessage
		}
		return fmt.Errorf("job %s failed: %s", jobID, msg)
	case domain.JobStatusCancelled:
		return fmt.Errorf("job %s was cancelled", jobID)
	}
	return nil
}

func printProgress(v domain.JobStatusView) {
	line := fmt.Sprintf("%s  %-14s %-10s %3d%%", v.UpdatedAt.Local().Format("15:04:05"), v.JobType, v.Status, v.ProgressPercentage)
	if v.EstimatedCompletion != nil && !v.Status.IsTerminal() {
		line += fmt.Sprintf("  eta %s", time.Until(*v.EstimatedCompletion).Round(time.Second))
	}
	fmt.Fprintln(out, line)
}
