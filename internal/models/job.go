package models

import (
	"fmt"
	"time"
)

// JobStatus is the lifecycle state of an onboarding job.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobInProgress JobStatus = "in_progress"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// StepStatus uses the same vocabulary as JobStatus but applies to a single step.
type StepStatus string

const (
	StepPending    StepStatus = "pending"
	StepInProgress StepStatus = "in_progress"
	StepCompleted  StepStatus = "completed"
	StepFailed     StepStatus = "failed"
)

// Pipeline step names, in execution order.
const (
	StepCreateFolders    = "create_folders"
	StepProcessProducts  = "process_products"
	StepConvertDocuments = "convert_documents"
	StepSetupVertex      = "setup_vertex"
	StepGenerateConfig   = "generate_config"
	StepFinalize         = "finalize"
)

// StepOrder is the fixed order the pipeline executes steps in.
var StepOrder = []string{
	StepCreateFolders,
	StepProcessProducts,
	StepConvertDocuments,
	StepSetupVertex,
	StepGenerateConfig,
	StepFinalize,
}

// TotalSteps is the number of steps every job carries.
const TotalSteps = 6

// StepRecord tracks the outcome of one pipeline step.
type StepRecord struct {
	Status      StepStatus `firestore:"status" json:"status"`
	Message     string     `firestore:"message,omitempty" json:"message,omitempty"`
	Error       string     `firestore:"error,omitempty" json:"error,omitempty"`
	StartedAt   *time.Time `firestore:"startedAt,omitempty" json:"started_at,omitempty"`
	CompletedAt *time.Time `firestore:"completedAt,omitempty" json:"completed_at,omitempty"`
}

// Job is the persisted record of one onboarding run for a merchant.
type Job struct {
	JobID        string                 `firestore:"jobId" json:"job_id"`
	MerchantID   string                 `firestore:"merchantId" json:"merchant_id"`
	UserID       string                 `firestore:"userId" json:"user_id"`
	Status       JobStatus              `firestore:"status" json:"status"`
	Progress     int                    `firestore:"progress" json:"progress"`
	TotalSteps   int                    `firestore:"totalSteps" json:"total_steps"`
	CurrentStep  string                 `firestore:"currentStep,omitempty" json:"current_step,omitempty"`
	Steps        map[string]*StepRecord `firestore:"steps" json:"steps"`
	ErrorMessage string                 `firestore:"errorMessage,omitempty" json:"error_message,omitempty"`
	CreatedAt    time.Time              `firestore:"createdAt" json:"created_at"`
	UpdatedAt    time.Time              `firestore:"updatedAt" json:"updated_at"`
	StartedAt    *time.Time             `firestore:"startedAt,omitempty" json:"started_at,omitempty"`
	CompletedAt  *time.Time             `firestore:"completedAt,omitempty" json:"completed_at,omitempty"`
}

// JobIDFor returns the identifier of a job created for merchantID at t.
func JobIDFor(merchantID string, t time.Time) string {
	return fmt.Sprintf("%s_%d", merchantID, t.Unix())
}

// NewJob returns a pending job with all six steps pending.
func NewJob(merchantID, userID string, now time.Time) *Job {
	steps := make(map[string]*StepRecord, TotalSteps)
	for _, name := range StepOrder {
		steps[name] = &StepRecord{Status: StepPending}
	}
	return &Job{
		JobID:      JobIDFor(merchantID, now),
		MerchantID: merchantID,
		UserID:     userID,
		Status:     JobPending,
		TotalSteps: TotalSteps,
		Steps:      steps,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// IsTerminal reports whether the job can no longer change.
func (j *Job) IsTerminal() bool {
	return j.Status == JobCompleted || j.Status == JobFailed
}

// IsActive reports whether the job is pending or running.
func (j *Job) IsActive() bool {
	return j.Status == JobPending || j.Status == JobInProgress
}

// NextStep returns the first step that has not completed, or "" when none remain.
func (j *Job) NextStep() string {
	for _, name := range StepOrder {
		if rec, ok := j.Steps[name]; !ok || rec.Status != StepCompleted {
			return name
		}
	}
	return ""
}

// StartStep moves a step from pending to in_progress. All earlier steps must
// already be completed.
func (j *Job) StartStep(name string, now time.Time) error {
	rec, err := j.step(name)
	if err != nil {
		return err
	}
	if j.IsTerminal() {
		return fmt.Errorf("%w: job %s is %s", ErrInvalidTransition, j.JobID, j.Status)
	}
	if rec.Status != StepPending {
		return fmt.Errorf("%w: step %s is %s", ErrInvalidTransition, name, rec.Status)
	}
	if next := j.NextStep(); next != name {
		return fmt.Errorf("%w: step %s cannot start before %s", ErrInvalidTransition, name, next)
	}

	rec.Status = StepInProgress
	rec.StartedAt = timePtr(now)
	j.Status = JobInProgress
	j.CurrentStep = name
	if j.StartedAt == nil {
		j.StartedAt = timePtr(now)
	}
	j.UpdatedAt = now
	return nil
}

// CompleteStep marks a running step completed. Completing the last step
// completes the job.
func (j *Job) CompleteStep(name, message string, now time.Time) error {
	rec, err := j.step(name)
	if err != nil {
		return err
	}
	if j.IsTerminal() || rec.Status != StepInProgress {
		return fmt.Errorf("%w: cannot complete step %s (%s) of %s job", ErrInvalidTransition, name, rec.Status, j.Status)
	}

	rec.Status = StepCompleted
	rec.Message = message
	rec.CompletedAt = timePtr(now)
	j.Progress = j.completedSteps() * 100 / TotalSteps
	j.UpdatedAt = now
	if j.NextStep() == "" {
		j.Status = JobCompleted
		j.Progress = 100
		j.CompletedAt = timePtr(now)
	}
	return nil
}

// FailStep marks a running step failed, which fails the job.
func (j *Job) FailStep(name, errMsg string, now time.Time) error {
	rec, err := j.step(name)
	if err != nil {
		return err
	}
	if j.IsTerminal() {
		return fmt.Errorf("%w: job %s is %s", ErrInvalidTransition, j.JobID, j.Status)
	}
	if rec.Status != StepInProgress {
		return fmt.Errorf("%w: step %s is %s", ErrInvalidTransition, name, rec.Status)
	}

	rec.Status = StepFailed
	rec.Error = errMsg
	rec.CompletedAt = timePtr(now)
	j.Status = JobFailed
	j.CurrentStep = name
	j.ErrorMessage = fmt.Sprintf("%s: %s", name, errMsg)
	j.UpdatedAt = now
	return nil
}

// Abort fails a step that may not have started yet. A pending step is
// started first, so the record still moves pending, in_progress, failed.
func (j *Job) Abort(name, errMsg string, now time.Time) error {
	rec, err := j.step(name)
	if err != nil {
		return err
	}
	if rec.Status == StepPending {
		if err := j.StartStep(name, now); err != nil {
			return err
		}
	}
	return j.FailStep(name, errMsg, now)
}

// Clone returns a deep copy so callers never share step records.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	cp := *j
	cp.StartedAt = copyTime(j.StartedAt)
	cp.CompletedAt = copyTime(j.CompletedAt)
	cp.Steps = make(map[string]*StepRecord, len(j.Steps))
	for name, rec := range j.Steps {
		if rec == nil {
			continue
		}
		r := *rec
		r.StartedAt = copyTime(rec.StartedAt)
		r.CompletedAt = copyTime(rec.CompletedAt)
		cp.Steps[name] = &r
	}
	return &cp
}

func (j *Job) step(name string) (*StepRecord, error) {
	rec, ok := j.Steps[name]
	if !ok || rec == nil {
		return nil, fmt.Errorf("%w: unknown step %q", ErrInvalidTransition, name)
	}
	return rec, nil
}

func (j *Job) completedSteps() int {
	n := 0
	for _, rec := range j.Steps {
		if rec != nil && rec.Status == StepCompleted {
			n++
		}
	}
	return n
}

func timePtr(t time.Time) *time.Time {
	return &t
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
