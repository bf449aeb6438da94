package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	cloudevents "github.com/cloudevents/sdk-go/v2"

	"github.com/Lllllllleong/merchantonboarding/internal/app"
	"github.com/Lllllllleong/merchantonboarding/internal/config"
	"github.com/Lllllllleong/merchantonboarding/internal/models"
)

var (
	runner  *app.App
	once    sync.Once
	initErr error
)

// messagePublishedData is the payload of a Pub/Sub CloudEvent.
type messagePublishedData struct {
	Message struct {
		Data []byte `json:"data"`
	} `json:"message"`
}

func init() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))
	functions.CloudEvent("RunOnboardingJob", runOnboardingJob)
}

// main is required by the Go Functions Framework.
func main() {}

// runOnboardingJob executes the job named by a Pub/Sub job ticket.
func runOnboardingJob(ctx context.Context, e cloudevents.Event) error {
	once.Do(func() {
		var cfg *config.Config
		if cfg, initErr = config.Load(); initErr != nil {
			return
		}
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()})))
		runner, initErr = app.New(context.Background(), cfg)
	})
	if initErr != nil {
		slog.Error("Critical error during function initialization", "error", initErr)
		return initErr
	}

	var msg messagePublishedData
	if err := e.DataAs(&msg); err != nil {
		slog.Error("Failed to decode event data", "error", err, "eventId", e.ID())
		return fmt.Errorf("event.DataAs: %w", err)
	}
	var ticket models.JobTicket
	if err := json.Unmarshal(msg.Message.Data, &ticket); err != nil {
		// A malformed ticket will never succeed; acknowledge it.
		slog.Error("Dropping malformed job ticket", "error", err, "data", string(msg.Message.Data))
		return nil
	}

	logCtx := slog.With("jobId", ticket.JobID, "merchantId", ticket.MerchantID, "eventId", e.ID())
	job, err := runner.Service.RunJob(ctx, ticket.JobID)
	switch {
	case errors.Is(err, models.ErrJobClaimed):
		logCtx.Info("Job already claimed, acknowledging duplicate delivery.")
		return nil
	case errors.Is(err, models.ErrNotFound):
		logCtx.Warn("Job no longer exists, acknowledging.")
		return nil
	case err != nil:
		return err
	}
	logCtx.Info("Job finished.", "status", job.Status, "progress", job.Progress)
	return nil
}
