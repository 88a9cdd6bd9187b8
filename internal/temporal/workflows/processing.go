package workflows

import (
	"time"

	"github.com/google/uuid"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/tvoe/cliphub/internal/domain"
	"github.com/tvoe/cliphub/internal/temporal/activities"
)

// TerminalSignal is sent to a job's workflow when the job reaches a terminal status
const TerminalSignal = "job-terminal"

// DefaultDeadline applies when the input carries none
const DefaultDeadline = 2 * time.Hour

// WorkflowID is the workflow id used for a job; one workflow per job
func WorkflowID(jobID uuid.UUID) string {
	return "processing-job-" + jobID.String()
}

// ProcessingJobWorkflowInput holds workflow input
type ProcessingJobWorkflowInput struct {
	JobID    uuid.UUID     `json:"jobId"`
	Deadline time.Duration `json:"deadline"`
}

// TerminalSignalPayload carries the terminal status that ended the job
type TerminalSignalPayload struct {
	Status domain.JobStatus `json:"status"`
}

// ProcessingJobWorkflowOutput holds workflow output
type ProcessingJobWorkflowOutput struct {
	Status  domain.JobStatus `json:"status"`
	Expired bool             `json:"expired"`
}

// ProcessingJobWorkflow dispatches one job to the processing service and then
// waits for it to finish. If no terminal signal arrives before the deadline,
// the job is expired.
func ProcessingJobWorkflow(ctx workflow.Context, input ProcessingJobWorkflowInput) (*ProcessingJobWorkflowOutput, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("Starting processing job workflow", "jobId", input.JobID.String())

	deadline := input.Deadline
	if deadline <= 0 {
		deadline = DefaultDeadline
	}

	activityOptions := workflow.ActivityOptions{
		StartToCloseTimeout: time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    time.Minute,
			MaximumAttempts:    10,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, activityOptions)

	var dispatched *activities.DispatchOutput
	err := workflow.ExecuteActivity(ctx, activities.DispatchJobName, activities.JobInput{JobID: input.JobID}).Get(ctx, &dispatched)
	if err != nil {
		logger.Error("Dispatch failed", "jobId", input.JobID.String(), "error", err)
		return expire(ctx, input.JobID)
	}
	if dispatched.Status.IsTerminal() {
		return &ProcessingJobWorkflowOutput{Status: dispatched.Status}, nil
	}

	signalChan := workflow.GetSignalChannel(ctx, TerminalSignal)
	timerCtx, cancelTimer := workflow.WithCancel(ctx)
	timer := workflow.NewTimer(timerCtx, deadline)

	output := &ProcessingJobWorkflowOutput{}
	timedOut := false

	selector := workflow.NewSelector(ctx)
	selector.AddReceive(signalChan, func(c workflow.ReceiveChannel, more bool) {
		var payload TerminalSignalPayload
		c.Receive(ctx, &payload)
		output.Status = payload.Status
		logger.Info("Received terminal signal", "status", string(payload.Status))
	})
	selector.AddFuture(timer, func(f workflow.Future) {
		if err := f.Get(ctx, nil); err == nil {
			timedOut = true
		}
	})
	selector.Select(ctx)

	if !timedOut {
		cancelTimer()
		return output, nil
	}

	logger.Warn("Processing deadline reached", "jobId", input.JobID.String(), "deadline", deadline)
	return expire(ctx, input.JobID)
}

func expire(ctx workflow.Context, jobID uuid.UUID) (*ProcessingJobWorkflowOutput, error) {
	var expired *activities.ExpireOutput
	err := workflow.ExecuteActivity(ctx, activities.ExpireJobName, activities.JobInput{JobID: jobID}).Get(ctx, &expired)
	if err != nil {
		return nil, err
	}
	return &ProcessingJobWorkflowOutput{Status: expired.Status, Expired: true}, nil
}
