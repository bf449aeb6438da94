package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Lllllllleong/merchantonboarding/internal/lock"
	"github.com/Lllllllleong/merchantonboarding/internal/models"
	"github.com/Lllllllleong/merchantonboarding/internal/store"
	"github.com/stretchr/testify/require"
)

var testCreatedAt = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

type fakeStorage struct {
	mu            sync.Mutex
	bucket        string
	objects       map[string][]byte
	types         map[string]string
	putErr        map[string]error
	panicOnEnsure bool
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{
		bucket:  "merchant-bucket",
		objects: map[string][]byte{},
		types:   map[string]string{},
		putErr:  map[string]error{},
	}
}

func (s *fakeStorage) IssueUploadURL(_ context.Context, path, contentType string, ttl time.Duration) (string, error) {
	return fmt.Sprintf("https://signed.example/upload/%s?ttl=%d", path, int(ttl.Seconds())), nil
}

func (s *fakeStorage) IssueDownloadURL(_ context.Context, path string, ttl time.Duration) (string, error) {
	return fmt.Sprintf("https://signed.example/download/%s?ttl=%d", path, int(ttl.Seconds())), nil
}

func (s *fakeStorage) PutObject(_ context.Context, path string, data []byte, contentType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.putErr[path]; err != nil {
		return err
	}
	s.objects[path] = append([]byte(nil), data...)
	s.types[path] = contentType
	return nil
}

func (s *fakeStorage) EnsureObject(ctx context.Context, path string, data []byte, contentType string) (bool, error) {
	if s.panicOnEnsure {
		panic("storage exploded")
	}
	s.mu.Lock()
	_, ok := s.objects[path]
	s.mu.Unlock()
	if ok {
		return false, nil
	}
	return true, s.PutObject(ctx, path, data, contentType)
}

func (s *fakeStorage) GetObject(_ context.Context, path string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[path]
	if !ok {
		return nil, fmt.Errorf("object %s: %w", path, models.ErrNotFound)
	}
	return append([]byte(nil), data...), nil
}

func (s *fakeStorage) ListObjects(_ context.Context, prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for p := range s.objects {
		if strings.HasPrefix(p, prefix) {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *fakeStorage) DeleteObject(_ context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, path)
	return nil
}

func (s *fakeStorage) DeletePrefix(_ context.Context, prefix string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for p := range s.objects {
		if strings.HasPrefix(p, prefix) {
			delete(s.objects, p)
			n++
		}
	}
	return n, nil
}

func (s *fakeStorage) ObjectMetadata(_ context.Context, path string) (*models.ObjectInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[path]
	if !ok {
		return nil, fmt.Errorf("object %s: %w", path, models.ErrNotFound)
	}
	return &models.ObjectInfo{Path: path, Size: int64(len(data)), ContentType: s.types[path], CreatedAt: testCreatedAt}, nil
}

func (s *fakeStorage) URI(path string) string { return "gs://" + s.bucket + "/" + path }

func (s *fakeStorage) BucketName() string { return s.bucket }

func (s *fakeStorage) has(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[path]
	return ok
}

func (s *fakeStorage) put(path, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[path] = []byte(content)
}

type fakeSearch struct {
	mu          sync.Mutex
	datastores  map[string]string
	createCalls int
	crawls      []string
	imports     [][]string
	renames     []string
	deleted     []string
	createErr   error
	importErr   error
	renameErr   error
}

func newFakeSearch() *fakeSearch {
	return &fakeSearch{datastores: map[string]string{}}
}

func (f *fakeSearch) CreateDatastore(_ context.Context, merchantID string, cfg models.DatastoreConfig) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	if f.createErr != nil {
		return "", f.createErr
	}
	id := models.DatastoreIDFor(merchantID)
	if _, ok := f.datastores[id]; !ok {
		f.datastores[id] = cfg.DisplayName
	}
	return id, nil
}

func (f *fakeSearch) ConfigureCrawl(_ context.Context, datastoreID, siteURL string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.crawls = append(f.crawls, datastoreID+" "+siteURL)
	return nil
}

func (f *fakeSearch) ImportDocuments(_ context.Context, datastoreID string, uris []string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.importErr != nil {
		return "", f.importErr
	}
	f.imports = append(f.imports, append([]string(nil), uris...))
	return fmt.Sprintf("operations/import-%d", len(f.imports)), nil
}

func (f *fakeSearch) UpdateDisplayName(_ context.Context, datastoreID, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.renameErr != nil {
		return f.renameErr
	}
	f.renames = append(f.renames, datastoreID+" "+name)
	f.datastores[datastoreID] = name
	return nil
}

func (f *fakeSearch) DeleteDatastore(_ context.Context, datastoreID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.datastores, datastoreID)
	f.deleted = append(f.deleted, datastoreID)
	return nil
}

type fakeDispatcher struct {
	mu      sync.Mutex
	tickets []models.JobTicket
	err     error
}

func (d *fakeDispatcher) Dispatch(_ context.Context, ticket models.JobTicket) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.tickets = append(d.tickets, ticket)
	return nil
}

func (d *fakeDispatcher) last(t *testing.T) models.JobTicket {
	t.Helper()
	d.mu.Lock()
	defer d.mu.Unlock()
	require.NotEmpty(t, d.tickets)
	return d.tickets[len(d.tickets)-1]
}

type fakeTranscriber struct {
	text  string
	err   error
	calls []string
}

func (f *fakeTranscriber) TranscribePDF(_ context.Context, gcsURI string) (string, error) {
	f.calls = append(f.calls, gcsURI)
	return f.text, f.err
}

type harness struct {
	svc        *Onboarding
	jobs       *store.MemoryJobStore
	merchants  *store.MemoryMerchantStore
	storage    *fakeStorage
	search     *fakeSearch
	dispatcher *fakeDispatcher
	clock      time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		jobs:       store.NewMemoryJobStore(),
		merchants:  store.NewMemoryMerchantStore(),
		storage:    newFakeStorage(),
		search:     newFakeSearch(),
		dispatcher: &fakeDispatcher{},
		clock:      time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	svc, err := NewOnboarding(Deps{
		Jobs:       h.jobs,
		Merchants:  h.merchants,
		Storage:    h.storage,
		Search:     h.search,
		Locker:     lock.NewLocalLocker(),
		Dispatcher: h.dispatcher,
	}, OnboardingConfig{
		ProjectID:       "test-project",
		SearchLocation:  "global",
		ContentRequired: true,
		DocumentWorkers: 2,
	})
	require.NoError(t, err)
	svc.now = func() time.Time { return h.clock }
	h.svc = svc
	return h
}

// onboard starts a job and runs it synchronously.
func (h *harness) onboard(t *testing.T, req models.OnboardRequest) *models.Job {
	t.Helper()
	ctx := context.Background()
	res, err := h.svc.StartOnboarding(ctx, req)
	require.NoError(t, err)
	job, err := h.svc.RunJob(ctx, res.JobID)
	require.NoError(t, err)
	return job
}

func acmeRequest() models.OnboardRequest {
	return models.OnboardRequest{
		UserID:   "user-1",
		ShopName: "Acme Co",
		ShopURL:  "https://acme.example",
		Platform: models.PlatformShopify,
		BotName:  "Acme Helper",
	}
}

const acmeProductsCSV = `Title,Image Src,Handle,Variant Price
Anvil,https://cdn.example/anvil.png,anvil,19.99
Rocket Skates,https://cdn.example/skates.png,rocket-skates,"$1,299.00"
Bird Seed,https://cdn.example/seed.png,bird-seed,
`
