// Package temporal connects the job service to the per-job processing workflow.
package temporal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/tvoe/cliphub/internal/domain"
	"github.com/tvoe/cliphub/internal/temporal/workflows"
)

// Client is the subset of client.Client used here
type Client interface {
	ExecuteWorkflow(ctx context.Context, options client.StartWorkflowOptions, workflow interface{}, args ...interface{}) (client.WorkflowRun, error)
	SignalWorkflow(ctx context.Context, workflowID string, runID string, signalName string, arg interface{}) error
}

// Dial connects to the Temporal frontend
func Dial(address, namespace string, logger *zap.Logger) (client.Client, error) {
	c, err := client.Dial(client.Options{
		HostPort:  address,
		Namespace: namespace,
		Logger:    newLogAdapter(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Temporal: %w", err)
	}
	return c, nil
}

// Starter starts one processing workflow per job
type Starter struct {
	client    Client
	taskQueue string
	deadline  time.Duration
	logger    *zap.Logger
}

// NewStarter creates a starter
func NewStarter(c Client, taskQueue string, deadline time.Duration, logger *zap.Logger) *Starter {
	return &Starter{
		client:    c,
		taskQueue: taskQueue,
		deadline:  deadline,
		logger:    logger,
	}
}

// StartJob starts the job's workflow. Starting an already started job is a no-op.
func (s *Starter) StartJob(ctx context.Context, job *domain.ProcessingJob) error {
	opts := client.StartWorkflowOptions{
		ID:                    workflows.WorkflowID(job.ID),
		TaskQueue:             s.taskQueue,
		WorkflowIDReusePolicy: enums.WORKFLOW_ID_REUSE_POLICY_REJECT_DUPLICATE,
	}

	run, err := s.client.ExecuteWorkflow(ctx, opts, workflows.ProcessingJobWorkflow, workflows.ProcessingJobWorkflowInput{
		JobID:    job.ID,
		Deadline: s.deadline,
	})
	if err != nil {
		var started *serviceerror.WorkflowExecutionAlreadyStarted
		if errors.As(err, &started) {
			s.logger.Debug("workflow already started", zap.String("jobId", job.ID.String()))
			return nil
		}
		return fmt.Errorf("failed to start workflow for job %s: %w", job.ID, err)
	}

	s.logger.Info("workflow started",
		zap.String("jobId", job.ID.String()),
		zap.String("workflowId", run.GetID()),
		zap.String("runId", run.GetRunID()),
	)
	return nil
}

// Signaler tells a job's workflow that the job reached a terminal status
type Signaler struct {
	client Client
	logger *zap.Logger
}

// NewSignaler creates a signaler
func NewSignaler(c Client, logger *zap.Logger) *Signaler {
	return &Signaler{client: c, logger: logger}
}

// HandleEvent signals the workflow on terminal job events
func (s *Signaler) HandleEvent(ctx context.Context, e domain.Event) error {
	jobID, ok := domain.TerminalJobEvent(e)
	if !ok {
		return nil
	}

	var status domain.JobStatus
	switch e.(type) {
	case domain.JobCompleted:
		status = domain.JobStatusCompleted
	case domain.JobFailed:
		status = domain.JobStatusFailed
	case domain.JobCancelled:
		status = domain.JobStatusCancelled
	}

	err := s.client.SignalWorkflow(ctx, workflows.WorkflowID(jobID), "", workflows.TerminalSignal, workflows.TerminalSignalPayload{Status: status})
	if err != nil {
		var notFound *serviceerror.NotFound
		if errors.As(err, &notFound) {
			// workflow already finished, e.g. after the deadline fired
			return nil
		}
		return fmt.Errorf("failed to signal workflow for job %s: %w", jobID, err)
	}
	return nil
}
