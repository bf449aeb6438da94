package gcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/pubsub/v2"
	executions "cloud.google.com/go/workflows/executions/apiv1"
	"cloud.google.com/go/workflows/executions/apiv1/executionspb"
	"github.com/Lllllllleong/merchantonboarding/internal/models"
)

const defaultPublishTimeout = 15 * time.Second

// PubSubDispatcher publishes job tickets to a topic consumed by the runner
// function.
type PubSubDispatcher struct {
	client    *pubsub.Client
	publisher *pubsub.Publisher
	topic     string
}

func NewPubSubDispatcher(ctx context.Context, projectID, topic string) (*PubSubDispatcher, error) {
	if projectID == "" || topic == "" {
		return nil, fmt.Errorf("NewPubSubDispatcher: projectID and topic cannot be empty")
	}
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}
	fullName := fmt.Sprintf("projects/%s/topics/%s", projectID, topic)
	slog.Info("Pub/Sub dispatcher initialized.", "topic", fullName)
	return &PubSubDispatcher{client: client, publisher: client.Publisher(fullName), topic: fullName}, nil
}

func (d *PubSubDispatcher) Dispatch(ctx context.Context, ticket models.JobTicket) error {
	data, err := json.Marshal(ticket)
	if err != nil {
		return fmt.Errorf("failed to marshal job ticket: %w", err)
	}
	publishCtx, cancel := context.WithTimeout(ctx, defaultPublishTimeout)
	defer cancel()

	result := d.publisher.Publish(publishCtx, &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"job_id":      ticket.JobID,
			"merchant_id": ticket.MerchantID,
		},
	})
	msgID, err := result.Get(publishCtx)
	if err != nil {
		return fmt.Errorf("failed to publish job %s to %s: %w", ticket.JobID, d.topic, err)
	}
	slog.Info("Job ticket published.", "jobId", ticket.JobID, "messageId", msgID)
	return nil
}

func (d *PubSubDispatcher) Close() error {
	d.publisher.Stop()
	return d.client.Close()
}

// WorkflowConfig selects the Cloud Workflow that drives job execution.
type WorkflowConfig struct {
	ProjectID string
	Location  string
	ID        string
	// CallbackBaseURL is the public base URL of the API; the workflow POSTs
	// to {CallbackBaseURL}/internal/jobs/{jobId}/run.
	CallbackBaseURL string
}

// WorkflowDispatcher starts one workflow execution per job.
type WorkflowDispatcher struct {
	executionsClient *executions.Client
	config           WorkflowConfig
}

func NewWorkflowDispatcher(ctx context.Context, cfg WorkflowConfig) (*WorkflowDispatcher, error) {
	if cfg.ProjectID == "" || cfg.Location == "" || cfg.ID == "" {
		return nil, fmt.Errorf("NewWorkflowDispatcher: projectID, location and workflow id must be set")
	}
	executionsClient, err := executions.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create Workflows Executions client: %w", err)
	}
	slog.Info("Workflow dispatcher initialized.", "workflowId", cfg.ID)
	return &WorkflowDispatcher{executionsClient: executionsClient, config: cfg}, nil
}

func (d *WorkflowDispatcher) Dispatch(ctx context.Context, ticket models.JobTicket) error {
	payload := map[string]interface{}{
		"jobId":       ticket.JobID,
		"merchantId":  ticket.MerchantID,
		"callbackUrl": fmt.Sprintf("%s/internal/jobs/%s/run", d.config.CallbackBaseURL, ticket.JobID),
	}
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal workflow payload: %w", err)
	}
	req := &executionspb.CreateExecutionRequest{
		Parent: fmt.Sprintf("projects/%s/locations/%s/workflows/%s", d.config.ProjectID, d.config.Location, d.config.ID),
		Execution: &executionspb.Execution{
			Argument: string(payloadBytes),
		},
	}
	exec, err := d.executionsClient.CreateExecution(ctx, req)
	if err != nil {
		return fmt.Errorf("failed to trigger workflow execution: %w", err)
	}
	slog.Info("Workflow execution started.", "jobId", ticket.JobID, "execution", exec.GetName())
	return nil
}

func (d *WorkflowDispatcher) Close() error {
	return d.executionsClient.Close()
}
