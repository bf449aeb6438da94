package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Lllllllleong/merchantonboarding/internal/convert"
	"github.com/Lllllllleong/merchantonboarding/internal/models"
	"github.com/go-playground/validator/v10"
)

const maxJobIDAttempts = 5

// OnboardingConfig carries the settings the orchestrator needs from the
// environment.
type OnboardingConfig struct {
	ProjectID        string
	SearchLocation   string
	SignedURLTTL     time.Duration
	LogoURLTTL       time.Duration
	DocumentWorkers  int
	ChunkSize        int
	ActiveJobTimeout time.Duration
	ContentRequired  bool
}

// Deps are the collaborators of the orchestrator. Transcriber is optional.
type Deps struct {
	Jobs        JobStore
	Merchants   MerchantStore
	Storage     Storage
	Search      SearchProvisioner
	Locker      Locker
	Dispatcher  Dispatcher
	Transcriber Transcriber
}

// Onboarding drives merchant onboarding jobs through the six step pipeline.
type Onboarding struct {
	jobs        JobStore
	merchants   MerchantStore
	storage     Storage
	search      SearchProvisioner
	locker      Locker
	dispatcher  Dispatcher
	transcriber Transcriber
	validate    *validator.Validate
	config      OnboardingConfig
	now         func() time.Time
}

func NewOnboarding(deps Deps, cfg OnboardingConfig) (*Onboarding, error) {
	if deps.Jobs == nil || deps.Merchants == nil || deps.Storage == nil || deps.Search == nil {
		return nil, fmt.Errorf("NewOnboarding: job store, merchant store, storage and search are required")
	}
	if deps.Locker == nil || deps.Dispatcher == nil {
		return nil, fmt.Errorf("NewOnboarding: locker and dispatcher are required")
	}
	if cfg.DocumentWorkers <= 0 {
		cfg.DocumentWorkers = 8
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = convert.DefaultChunkSize
	}
	if cfg.ActiveJobTimeout <= 0 {
		cfg.ActiveJobTimeout = 2 * time.Hour
	}
	if cfg.SignedURLTTL <= 0 {
		cfg.SignedURLTTL = time.Hour
	}
	if cfg.LogoURLTTL <= 0 {
		cfg.LogoURLTTL = 7 * 24 * time.Hour
	}
	if cfg.SearchLocation == "" {
		cfg.SearchLocation = "global"
	}
	return &Onboarding{
		jobs:        deps.Jobs,
		merchants:   deps.Merchants,
		storage:     deps.Storage,
		search:      deps.Search,
		locker:      deps.Locker,
		dispatcher:  deps.Dispatcher,
		transcriber: deps.Transcriber,
		validate:    newValidator(),
		config:      cfg,
		now:         time.Now,
	}, nil
}

// StartOnboarding validates the request, records the merchant and a pending
// job, and hands the job to the dispatcher. It never waits on the pipeline.
func (o *Onboarding) StartOnboarding(ctx context.Context, req models.OnboardRequest) (*models.StartResult, error) {
	if err := validateStruct(o.validate, req); err != nil {
		return nil, err
	}
	merchantID := req.MerchantID
	if merchantID == "" {
		merchantID = models.MerchantSlug(req.ShopName)
	}
	if !models.ValidMerchantID(merchantID) {
		return nil, models.NewValidationError("merchant_id", "must be lowercase letters and digits separated by single hyphens")
	}
	logCtx := slog.With("merchantId", merchantID, "userId", req.UserID)
	if len(req.FilePaths) > 0 {
		logCtx.Info("Ignoring explicit file_paths, inputs are discovered under knowledge_base.")
	}

	unlock, err := o.locker.Lock(ctx, merchantID)
	if err != nil {
		return nil, fmt.Errorf("failed to lock merchant %s: %w", merchantID, err)
	}
	defer func() {
		if err := unlock(context.WithoutCancel(ctx)); err != nil {
			logCtx.Warn("Failed to release merchant lock.", "error", err)
		}
	}()

	now := o.now()
	if err := o.guardActiveJob(ctx, logCtx, merchantID, now); err != nil {
		return nil, err
	}

	existing, err := o.merchants.GetMerchant(ctx, merchantID)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return nil, err
	}
	if existing != nil && existing.Status != models.MerchantDeleted && existing.UserID != req.UserID {
		return nil, fmt.Errorf("%w: %s", models.ErrMerchantOwnership, merchantID)
	}
	merchant := merchantFromRequest(req, merchantID, existing, now)
	if err := o.merchants.UpsertMerchant(ctx, merchant); err != nil {
		return nil, fmt.Errorf("failed to save merchant: %w", err)
	}

	job, err := o.createJob(ctx, merchantID, req.UserID, now)
	if err != nil {
		return nil, err
	}
	logCtx = logCtx.With("jobId", job.JobID)
	logCtx.Info("Onboarding job created.")

	if err := o.dispatcher.Dispatch(ctx, models.JobTicket{JobID: job.JobID, MerchantID: merchantID}); err != nil {
		logCtx.Error("Failed to dispatch onboarding job.", "error", err)
		o.recordFailure(ctx, logCtx, job.JobID, models.StepCreateFolders, fmt.Sprintf("failed to schedule job: %v", err))
	}

	return &models.StartResult{
		JobID:      job.JobID,
		MerchantID: merchantID,
		Status:     models.JobPending,
		StatusURL:  "/onboard-status/" + merchantID,
	}, nil
}

// guardActiveJob rejects a new job while a recent one is still active and
// fails a stale active job so it can no longer race the new one.
func (o *Onboarding) guardActiveJob(ctx context.Context, logCtx *slog.Logger, merchantID string, now time.Time) error {
	latest, err := o.jobs.LatestJob(ctx, merchantID)
	if errors.Is(err, models.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load latest job: %w", err)
	}
	if !latest.IsActive() {
		return nil
	}
	if now.Sub(latest.UpdatedAt) < o.config.ActiveJobTimeout {
		return fmt.Errorf("%w: job %s is %s", models.ErrJobActive, latest.JobID, latest.Status)
	}

	step := latest.CurrentStep
	if step == "" || latest.Steps[step] == nil || latest.Steps[step].Status == models.StepCompleted {
		step = latest.NextStep()
	}
	logCtx.Warn("Superseding stale onboarding job.", "staleJobId", latest.JobID, "step", step, "lastUpdate", latest.UpdatedAt)
	_, err = o.jobs.UpdateJob(ctx, latest.JobID, func(j *models.Job) error {
		if !j.IsActive() {
			return nil
		}
		return j.Abort(step, "superseded by a newer onboarding job", now)
	})
	if err != nil {
		return fmt.Errorf("failed to supersede job %s: %w", latest.JobID, err)
	}
	return nil
}

// createJob persists a new job. Two jobs created in the same second get a
// numeric suffix.
func (o *Onboarding) createJob(ctx context.Context, merchantID, userID string, now time.Time) (*models.Job, error) {
	job := models.NewJob(merchantID, userID, now)
	base := job.JobID
	for attempt := 1; attempt <= maxJobIDAttempts; attempt++ {
		err := o.jobs.CreateJob(ctx, job)
		if err == nil {
			return job, nil
		}
		if !errors.Is(err, models.ErrAlreadyExists) {
			return nil, fmt.Errorf("failed to create job: %w", err)
		}
		job.JobID = fmt.Sprintf("%s-%d", base, attempt+1)
	}
	return nil, fmt.Errorf("failed to allocate a job id for %s after %d attempts", merchantID, maxJobIDAttempts)
}

func merchantFromRequest(req models.OnboardRequest, merchantID string, existing *models.Merchant, now time.Time) *models.Merchant {
	m := &models.Merchant{}
	if existing != nil && existing.Status != models.MerchantDeleted {
		*m = *existing
	} else {
		m.CreatedAt = now
	}
	m.MerchantID = merchantID
	m.UserID = req.UserID
	m.ShopName = req.ShopName
	m.ShopURL = req.ShopURL
	m.BotName = req.BotName
	m.Platform = req.Platform
	m.CustomURLPattern = req.CustomURLPattern
	m.TargetCustomer = req.TargetCustomer
	m.CustomerPersona = req.CustomerPersona
	m.BotTone = req.BotTone
	m.PromptText = req.PromptText
	m.TopQuestions = append([]string(nil), req.TopQuestions...)
	m.TopProducts = append([]string(nil), req.TopProducts...)
	m.PrimaryColor = req.PrimaryColor
	m.SecondaryColor = req.SecondaryColor
	m.LogoURL = req.LogoURL
	m.FontFamily = req.FontFamily
	m.TagLine = req.TagLine
	m.ChatPosition = req.ChatPosition
	if m.Status != models.MerchantActive {
		m.Status = models.MerchantPending
	}
	m.DeletedAt = nil
	m.UpdatedAt = now
	return m
}

// GetStatus returns the most recently created job of a merchant.
func (o *Onboarding) GetStatus(ctx context.Context, merchantID string) (*models.Job, error) {
	return o.jobs.LatestJob(ctx, merchantID)
}

// RunJob claims a pending job and runs its pipeline to a terminal state. A
// job that is no longer pending returns models.ErrJobClaimed, so duplicate
// deliveries of the same ticket run the pipeline once.
func (o *Onboarding) RunJob(ctx context.Context, jobID string) (*models.Job, error) {
	logCtx := slog.With("jobId", jobID)
	job, err := o.jobs.UpdateJob(ctx, jobID, func(j *models.Job) error {
		if j.Status != models.JobPending {
			return fmt.Errorf("%w: job %s is %s", models.ErrJobClaimed, j.JobID, j.Status)
		}
		return j.StartStep(models.StepCreateFolders, o.now())
	})
	if err != nil {
		if errors.Is(err, models.ErrJobClaimed) {
			logCtx.Info("Job already claimed. Skipping.")
		}
		return nil, err
	}

	merchant, err := o.merchants.GetMerchant(ctx, job.MerchantID)
	if err != nil {
		o.recordFailure(ctx, logCtx, jobID, models.StepCreateFolders, fmt.Sprintf("failed to load merchant: %v", err))
		return o.jobs.GetJob(ctx, jobID)
	}
	o.runPipeline(ctx, job, merchant)
	return o.jobs.GetJob(ctx, jobID)
}

// runPipeline executes the steps in order. The first step is already
// in_progress when it is called. It stops at the first failed step.
func (o *Onboarding) runPipeline(ctx context.Context, job *models.Job, merchant *models.Merchant) {
	logCtx := slog.With("jobId", job.JobID, "merchantId", job.MerchantID)
	logCtx.Info("Starting onboarding pipeline.")
	run := &pipelineRun{merchant: merchant, logCtx: logCtx}

	for i, name := range models.StepOrder {
		if i > 0 {
			if _, err := o.jobs.UpdateJob(ctx, job.JobID, func(j *models.Job) error {
				return j.StartStep(name, o.now())
			}); err != nil {
				logCtx.Error("Failed to start step. Aborting pipeline.", "step", name, "error", err)
				o.recordFailure(ctx, logCtx, job.JobID, name, fmt.Sprintf("failed to start step: %v", err))
				return
			}
		}

		stepLog := logCtx.With("step", name)
		stepLog.Info("Step started.")
		outcome := o.executeStep(ctx, name, run)
		if outcome.Err != nil {
			o.recordFailure(ctx, stepLog, job.JobID, name, outcome.Err.Error())
			return
		}

		if _, err := o.jobs.UpdateJob(ctx, job.JobID, func(j *models.Job) error {
			return j.CompleteStep(name, outcome.Message, o.now())
		}); err != nil {
			stepLog.Error("Failed to record step completion.", "error", err)
			o.recordFailure(ctx, stepLog, job.JobID, name, fmt.Sprintf("failed to record completion: %v", err))
			return
		}
		stepLog.Info("Step completed.", "message", outcome.Message)
	}
	logCtx.Info("Onboarding pipeline completed.")
}

// StepOutcome is the result of one step: a progress message on success or
// the reason it failed.
type StepOutcome struct {
	Message string
	Err     error
}

func succeeded(format string, args ...any) StepOutcome {
	return StepOutcome{Message: fmt.Sprintf(format, args...)}
}

func failed(err error) StepOutcome {
	return StepOutcome{Err: err}
}

// executeStep runs one step and converts a panic into a failed outcome.
func (o *Onboarding) executeStep(ctx context.Context, name string, run *pipelineRun) (outcome StepOutcome) {
	defer func() {
		if r := recover(); r != nil {
			outcome = failed(fmt.Errorf("step panicked: %v", r))
		}
	}()
	switch name {
	case models.StepCreateFolders:
		return o.createFolders(ctx, run)
	case models.StepProcessProducts:
		return o.processProducts(ctx, run)
	case models.StepConvertDocuments:
		return o.convertDocuments(ctx, run)
	case models.StepSetupVertex:
		return o.setupVertex(ctx, run)
	case models.StepGenerateConfig:
		return o.generateConfig(ctx, run)
	case models.StepFinalize:
		return o.finalize(ctx, run)
	default:
		return failed(fmt.Errorf("unknown step %q", name))
	}
}

// recordFailure persists a step failure. A failure to persist is logged only;
// there is nowhere left to report it.
func (o *Onboarding) recordFailure(ctx context.Context, logCtx *slog.Logger, jobID, step, message string) {
	logCtx.Error("Onboarding step failed.", "step", step, "error", message)
	_, err := o.jobs.UpdateJob(context.WithoutCancel(ctx), jobID, func(j *models.Job) error {
		return j.Abort(step, message, o.now())
	})
	if err != nil {
		logCtx.Error("CRITICAL: Failed to record step failure.", "step", step, "updateError", err)
	}
}
