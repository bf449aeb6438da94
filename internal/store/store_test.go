package store

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/Lllllllleong/merchantonboarding/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMerchantStore(t *testing.T) *MerchantStore {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := Open("sqlite", "file:"+name+"?mode=memory&cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	s := NewMerchantStore(db)
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func sampleMerchant(id, user string) *models.Merchant {
	return &models.Merchant{
		MerchantID:   id,
		UserID:       user,
		ShopName:     "Acme Co",
		ShopURL:      "https://acme.example",
		Status:       models.MerchantPending,
		TopQuestions: []string{"Do you ship abroad?"},
	}
}

func TestMerchantStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestMerchantStore(t)

	_, err := s.GetMerchant(ctx, "acme-co")
	assert.ErrorIs(t, err, models.ErrNotFound)

	require.NoError(t, s.UpsertMerchant(ctx, sampleMerchant("acme-co", "user-1")))
	got, err := s.GetMerchant(ctx, "acme-co")
	require.NoError(t, err)
	assert.Equal(t, "Acme Co", got.ShopName)
	assert.Equal(t, []string{"Do you ship abroad?"}, got.TopQuestions)

	m := sampleMerchant("acme-co", "user-1")
	m.ShopName = "Acme Company"
	m.CreatedAt = got.CreatedAt
	require.NoError(t, s.UpsertMerchant(ctx, m))
	got, err = s.GetMerchant(ctx, "acme-co")
	require.NoError(t, err)
	assert.Equal(t, "Acme Company", got.ShopName)
}

func TestMerchantStoreUpdate(t *testing.T) {
	ctx := context.Background()
	s := newTestMerchantStore(t)
	require.NoError(t, s.UpsertMerchant(ctx, sampleMerchant("acme-co", "user-1")))

	updated, err := s.UpdateMerchant(ctx, "acme-co", func(m *models.Merchant) error {
		m.Status = models.MerchantActive
		m.VertexDatastoreID = "acme-co-engine"
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, models.MerchantActive, updated.Status)

	got, err := s.GetMerchant(ctx, "acme-co")
	require.NoError(t, err)
	assert.Equal(t, "acme-co-engine", got.VertexDatastoreID)

	_, err = s.UpdateMerchant(ctx, "missing", func(*models.Merchant) error { return nil })
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestMerchantStoreListAndSoftDelete(t *testing.T) {
	ctx := context.Background()
	s := newTestMerchantStore(t)
	require.NoError(t, s.UpsertMerchant(ctx, sampleMerchant("acme-co", "user-1")))
	require.NoError(t, s.UpsertMerchant(ctx, sampleMerchant("beta-shop", "user-1")))
	require.NoError(t, s.UpsertMerchant(ctx, sampleMerchant("gamma", "user-2")))

	list, err := s.ListMerchants(ctx, "user-1")
	require.NoError(t, err)
	assert.Len(t, list, 2)

	require.NoError(t, s.SoftDeleteMerchant(ctx, "acme-co", time.Now()))
	list, err = s.ListMerchants(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "beta-shop", list[0].MerchantID)

	got, err := s.GetMerchant(ctx, "acme-co")
	require.NoError(t, err)
	assert.Equal(t, models.MerchantDeleted, got.Status)
	assert.NotNil(t, got.DeletedAt)

	assert.ErrorIs(t, s.SoftDeleteMerchant(ctx, "missing", time.Now()), models.ErrNotFound)
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open("mysql", "dsn")
	assert.Error(t, err)
}

func TestMemoryJobStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryJobStore()
	now := time.Unix(1700000000, 0)

	job := models.NewJob("acme-co", "user-1", now)
	require.NoError(t, s.CreateJob(ctx, job))
	assert.ErrorIs(t, s.CreateJob(ctx, job), models.ErrAlreadyExists)

	later := models.NewJob("acme-co", "user-1", now.Add(time.Minute))
	require.NoError(t, s.CreateJob(ctx, later))

	latest, err := s.LatestJob(ctx, "acme-co")
	require.NoError(t, err)
	assert.Equal(t, later.JobID, latest.JobID)

	_, err = s.LatestJob(ctx, "other")
	assert.ErrorIs(t, err, models.ErrNotFound)

	updated, err := s.UpdateJob(ctx, job.JobID, func(j *models.Job) error {
		return j.StartStep(models.StepCreateFolders, now)
	})
	require.NoError(t, err)
	assert.Equal(t, models.JobInProgress, updated.Status)

	// A failed mutation leaves the stored job untouched.
	_, err = s.UpdateJob(ctx, job.JobID, func(j *models.Job) error {
		return j.StartStep(models.StepCreateFolders, now)
	})
	assert.ErrorIs(t, err, models.ErrInvalidTransition)
	stored, err := s.GetJob(ctx, job.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.StepInProgress, stored.Steps[models.StepCreateFolders].Status)

	// Returned jobs are copies.
	stored.Steps[models.StepCreateFolders].Status = models.StepFailed
	again, err := s.GetJob(ctx, job.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.StepInProgress, again.Steps[models.StepCreateFolders].Status)

	n, err := s.DeleteMerchantJobs(ctx, "acme-co")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	_, err = s.GetJob(ctx, job.JobID)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestMemoryMerchantStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryMerchantStore()
	require.NoError(t, s.UpsertMerchant(ctx, sampleMerchant("acme-co", "user-1")))
	require.NoError(t, s.UpsertMerchant(ctx, sampleMerchant("gamma", "user-2")))

	m, err := s.UpdateMerchant(ctx, "acme-co", func(m *models.Merchant) error {
		m.TopQuestions[0] = "changed"
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "changed", m.TopQuestions[0])

	list, err := s.ListMerchants(ctx, "")
	require.NoError(t, err)
	assert.Len(t, list, 2)

	require.NoError(t, s.SoftDeleteMerchant(ctx, "gamma", time.Now()))
	list, err = s.ListMerchants(ctx, "user-2")
	require.NoError(t, err)
	assert.Empty(t, list)

	_, err = s.GetMerchant(ctx, "missing")
	assert.ErrorIs(t, err, models.ErrNotFound)
}
