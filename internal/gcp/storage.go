package gcp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"cloud.google.com/go/storage"
	"github.com/Lllllllleong/merchantonboarding/internal/models"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
)

const (
	defaultStorageTimeout = 60 * time.Second
	maxUploadRetries      = 4
)

// Storage is the merchant blob gateway backed by a single GCS bucket.
type Storage struct {
	client     *storage.Client
	bucket     *storage.BucketHandle
	bucketName string
	timeout    time.Duration
}

// NewStorage creates a gateway for bucketName. Every call is bounded by timeout.
func NewStorage(ctx context.Context, bucketName string, timeout time.Duration) (*Storage, error) {
	if bucketName == "" {
		return nil, fmt.Errorf("bucket name must be provided to create a storage gateway")
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create Storage client: %w", err)
	}
	if timeout <= 0 {
		timeout = defaultStorageTimeout
	}
	return &Storage{
		client:     client,
		bucket:     client.Bucket(bucketName),
		bucketName: bucketName,
		timeout:    timeout,
	}, nil
}

func (s *Storage) Close() error {
	return s.client.Close()
}

func (s *Storage) BucketName() string {
	return s.bucketName
}

// URI returns the gs:// address of path.
func (s *Storage) URI(path string) string {
	return fmt.Sprintf("gs://%s/%s", s.bucketName, path)
}

// IssueUploadURL returns a V4 signed PUT URL. The client must send the same
// Content-Type header.
func (s *Storage) IssueUploadURL(_ context.Context, path, contentType string, ttl time.Duration) (string, error) {
	url, err := s.bucket.SignedURL(path, &storage.SignedURLOptions{
		Scheme:      storage.SigningSchemeV4,
		Method:      http.MethodPut,
		ContentType: contentType,
		Expires:     time.Now().Add(ttl),
	})
	if err != nil {
		return "", fmt.Errorf("failed to sign upload url for %s: %w", path, err)
	}
	return url, nil
}

// IssueDownloadURL returns a V4 signed GET URL.
func (s *Storage) IssueDownloadURL(_ context.Context, path string, ttl time.Duration) (string, error) {
	url, err := s.bucket.SignedURL(path, &storage.SignedURLOptions{
		Scheme:  storage.SigningSchemeV4,
		Method:  http.MethodGet,
		Expires: time.Now().Add(ttl),
	})
	if err != nil {
		return "", fmt.Errorf("failed to sign download url for %s: %w", path, err)
	}
	return url, nil
}

// PutObject overwrites path with data, retrying transient failures with
// exponential backoff.
func (s *Storage) PutObject(ctx context.Context, path string, data []byte, contentType string) error {
	backoff := 1 * time.Second
	var lastErr error

	for i := 0; i < maxUploadRetries; i++ {
		err := s.write(ctx, s.bucket.Object(path), data, contentType)
		if err == nil {
			return nil
		}
		lastErr = err
		slog.Warn(
			"Upload failed, will retry.",
			"gcsObject", path,
			"attempt", i+1,
			"maxRetries", maxUploadRetries,
			"backoff", backoff.String(),
			"error", err,
		)

		select {
		case <-time.After(backoff):
			backoff *= 2
		case <-ctx.Done():
			slog.Error("Context cancelled during backoff. Aborting retries.", "gcsObject", path, "error", ctx.Err())
			return ctx.Err()
		}
	}
	return fmt.Errorf("upload for %s failed after all retries: %w", path, lastErr)
}

// EnsureObject writes data only if path does not exist yet. It reports
// whether the object was created.
func (s *Storage) EnsureObject(ctx context.Context, path string, data []byte, contentType string) (bool, error) {
	obj := s.bucket.Object(path).If(storage.Conditions{DoesNotExist: true})
	if err := s.write(ctx, obj, data, contentType); err != nil {
		var gerr *googleapi.Error
		if errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *Storage) write(ctx context.Context, obj *storage.ObjectHandle, data []byte, contentType string) error {
	writeCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	w := obj.NewWriter(writeCtx)
	w.ContentType = contentType
	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		_ = w.Close()
		return fmt.Errorf("failed to write to GCS: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to finalize GCS write: %w", err)
	}
	return nil
}

func (s *Storage) GetObject(ctx context.Context, path string) ([]byte, error) {
	readCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	r, err := s.bucket.Object(path).NewReader(readCtx)
	if err != nil {
		return nil, mapStorageErr(path, err)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read gs://%s/%s: %w", s.bucketName, path, err)
	}
	return data, nil
}

// ListObjects returns the names of every object under prefix.
func (s *Storage) ListObjects(ctx context.Context, prefix string) ([]string, error) {
	listCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var names []string
	it := s.bucket.Objects(listCtx, &storage.Query{Prefix: prefix})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list objects under %s: %w", prefix, err)
		}
		names = append(names, attrs.Name)
	}
	return names, nil
}

// DeleteObject removes path. A missing object is not an error.
func (s *Storage) DeleteObject(ctx context.Context, path string) error {
	delCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.bucket.Object(path).Delete(delCtx); err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("failed to delete %s: %w", path, err)
	}
	return nil
}

// DeletePrefix removes every object under prefix and returns how many were
// listed.
func (s *Storage) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	names, err := s.ListObjects(ctx, prefix)
	if err != nil {
		return 0, err
	}
	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(10)
	for _, name := range names {
		eg.Go(func() error {
			return s.DeleteObject(gctx, name)
		})
	}
	if err := eg.Wait(); err != nil {
		return 0, err
	}
	return len(names), nil
}

func (s *Storage) ObjectMetadata(ctx context.Context, path string) (*models.ObjectInfo, error) {
	attrsCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	attrs, err := s.bucket.Object(path).Attrs(attrsCtx)
	if err != nil {
		return nil, mapStorageErr(path, err)
	}
	return &models.ObjectInfo{
		Path:        attrs.Name,
		Size:        attrs.Size,
		ContentType: attrs.ContentType,
		CreatedAt:   attrs.Created,
	}, nil
}

func mapStorageErr(path string, err error) error {
	if errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("object %s: %w", path, models.ErrNotFound)
	}
	return fmt.Errorf("failed to access object %s: %w", path, err)
}
