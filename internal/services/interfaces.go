package services

import (
	"context"
	"time"

	"github.com/Lllllllleong/merchantonboarding/internal/models"
)

// Storage is the blob gateway the pipeline reads uploads from and writes
// derived artifacts to. Paths are full object keys; folders exist only as
// key prefixes.
type Storage interface {
	IssueUploadURL(ctx context.Context, path, contentType string, ttl time.Duration) (string, error)
	IssueDownloadURL(ctx context.Context, path string, ttl time.Duration) (string, error)
	PutObject(ctx context.Context, path string, data []byte, contentType string) error
	// EnsureObject creates path only if it is absent and reports whether it
	// wrote anything.
	EnsureObject(ctx context.Context, path string, data []byte, contentType string) (bool, error)
	GetObject(ctx context.Context, path string) ([]byte, error)
	ListObjects(ctx context.Context, prefix string) ([]string, error)
	DeleteObject(ctx context.Context, path string) error
	DeletePrefix(ctx context.Context, prefix string) (int, error)
	ObjectMetadata(ctx context.Context, path string) (*models.ObjectInfo, error)
	URI(path string) string
	BucketName() string
}

// SearchProvisioner manages the per-merchant search datastore.
type SearchProvisioner interface {
	CreateDatastore(ctx context.Context, merchantID string, cfg models.DatastoreConfig) (string, error)
	ConfigureCrawl(ctx context.Context, datastoreID, siteURL string) error
	ImportDocuments(ctx context.Context, datastoreID string, uris []string) (string, error)
	UpdateDisplayName(ctx context.Context, datastoreID, name string) error
	DeleteDatastore(ctx context.Context, datastoreID string) error
}

// JobStore persists onboarding jobs. UpdateJob must serialize concurrent
// read-modify-write cycles on the same job and commit only when mutate
// returns nil.
type JobStore interface {
	CreateJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, jobID string) (*models.Job, error)
	LatestJob(ctx context.Context, merchantID string) (*models.Job, error)
	UpdateJob(ctx context.Context, jobID string, mutate func(*models.Job) error) (*models.Job, error)
	DeleteMerchantJobs(ctx context.Context, merchantID string) (int, error)
}

type MerchantStore interface {
	GetMerchant(ctx context.Context, merchantID string) (*models.Merchant, error)
	UpsertMerchant(ctx context.Context, m *models.Merchant) error
	UpdateMerchant(ctx context.Context, merchantID string, mutate func(*models.Merchant) error) (*models.Merchant, error)
	ListMerchants(ctx context.Context, userID string) ([]models.Merchant, error)
	SoftDeleteMerchant(ctx context.Context, merchantID string, at time.Time) error
}

// Dispatcher hands a created job to whatever executes it.
type Dispatcher interface {
	Dispatch(ctx context.Context, ticket models.JobTicket) error
}

// Transcriber recovers text from PDFs that carry no text layer.
type Transcriber interface {
	TranscribePDF(ctx context.Context, gcsURI string) (string, error)
}

// Locker serializes work on one key across callers.
type Locker interface {
	Lock(ctx context.Context, key string) (func(context.Context) error, error)
}
