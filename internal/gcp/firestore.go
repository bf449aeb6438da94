package gcp

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"
	"github.com/Lllllllleong/merchantonboarding/internal/models"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// NewFirestoreClient creates and returns a new Firestore client for the given project ID.
func NewFirestoreClient(ctx context.Context, projectID string) (*firestore.Client, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID must be provided to create a firestore client")
	}

	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}

	return client, nil
}

// JobStore keeps onboarding jobs in a Firestore collection keyed by job id.
type JobStore struct {
	client     *firestore.Client
	collection string
}

func NewJobStore(client *firestore.Client, collection string) *JobStore {
	return &JobStore{client: client, collection: collection}
}

func (s *JobStore) doc(jobID string) *firestore.DocumentRef {
	return s.client.Collection(s.collection).Doc(jobID)
}

// CreateJob stores a new job. An existing id yields models.ErrAlreadyExists.
func (s *JobStore) CreateJob(ctx context.Context, job *models.Job) error {
	if _, err := s.doc(job.JobID).Create(ctx, job); err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return fmt.Errorf("job %s: %w", job.JobID, models.ErrAlreadyExists)
		}
		return fmt.Errorf("failed to create job document: %w", err)
	}
	return nil
}

func (s *JobStore) GetJob(ctx context.Context, jobID string) (*models.Job, error) {
	snap, err := s.doc(jobID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, fmt.Errorf("job %s: %w", jobID, models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to read job %s: %w", jobID, err)
	}
	var job models.Job
	if err := snap.DataTo(&job); err != nil {
		return nil, fmt.Errorf("failed to decode job %s: %w", jobID, err)
	}
	return &job, nil
}

// LatestJob returns the most recently created job of a merchant.
func (s *JobStore) LatestJob(ctx context.Context, merchantID string) (*models.Job, error) {
	it := s.client.Collection(s.collection).
		Where("merchantId", "==", merchantID).
		OrderBy("createdAt", firestore.Desc).
		Limit(1).
		Documents(ctx)
	defer it.Stop()

	snap, err := it.Next()
	if errors.Is(err, iterator.Done) {
		return nil, fmt.Errorf("no job for merchant %s: %w", merchantID, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query latest job: %w", err)
	}
	var job models.Job
	if err := snap.DataTo(&job); err != nil {
		return nil, fmt.Errorf("failed to decode job %s: %w", snap.Ref.ID, err)
	}
	return &job, nil
}

// UpdateJob applies mutate inside a transaction so concurrent writers to
// the same job are serialized.
func (s *JobStore) UpdateJob(ctx context.Context, jobID string, mutate func(*models.Job) error) (*models.Job, error) {
	ref := s.doc(jobID)
	var updated models.Job
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return fmt.Errorf("job %s: %w", jobID, models.ErrNotFound)
			}
			return err
		}
		var job models.Job
		if err := snap.DataTo(&job); err != nil {
			return fmt.Errorf("failed to decode job %s: %w", jobID, err)
		}
		if err := mutate(&job); err != nil {
			return err
		}
		updated = job
		return tx.Set(ref, &job)
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// DeleteMerchantJobs removes every job of a merchant and returns the count.
func (s *JobStore) DeleteMerchantJobs(ctx context.Context, merchantID string) (int, error) {
	docs, err := s.client.Collection(s.collection).Where("merchantId", "==", merchantID).Documents(ctx).GetAll()
	if err != nil {
		return 0, fmt.Errorf("failed to query merchant jobs: %w", err)
	}
	if len(docs) == 0 {
		return 0, nil
	}
	bw := s.client.BulkWriter(ctx)
	jobs := make([]*firestore.BulkWriterJob, 0, len(docs))
	ids := make([]string, 0, len(docs))
	for _, d := range docs {
		j, err := bw.Delete(d.Ref)
		if err != nil {
			bw.End()
			return 0, fmt.Errorf("failed to queue delete of job %s: %w", d.Ref.ID, err)
		}
		jobs = append(jobs, j)
		ids = append(ids, d.Ref.ID)
	}
	bw.End()

	results := make([]error, len(jobs))
	for i, j := range jobs {
		_, results[i] = j.Results()
	}
	return countDeletes(ids, results)
}

// countDeletes reports how many bulk deletes succeeded, joining the errors of
// those that did not.
func countDeletes(ids []string, results []error) (int, error) {
	deleted := 0
	var errs []error
	for i, err := range results {
		if err != nil {
			errs = append(errs, fmt.Errorf("job %s: %w", ids[i], err))
			continue
		}
		deleted++
	}
	if len(errs) > 0 {
		return deleted, fmt.Errorf("failed to delete %d of %d merchant jobs: %w", len(errs), len(results), errors.Join(errs...))
	}
	return deleted, nil
}
