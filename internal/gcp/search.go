package gcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	discoveryengine "cloud.google.com/go/discoveryengine/apiv1"
	"cloud.google.com/go/discoveryengine/apiv1/discoveryenginepb"
	"github.com/Lllllllleong/merchantonboarding/internal/models"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/fieldmaskpb"
)

// SearchConfig locates the managed search collection datastores live in.
type SearchConfig struct {
	ProjectID      string
	Location       string
	Collection     string
	RequestTimeout time.Duration
	CreateTimeout  time.Duration
}

// SearchProvisioner manages per-merchant Vertex AI Search datastores.
type SearchProvisioner struct {
	dataStores *discoveryengine.DataStoreClient
	documents  *discoveryengine.DocumentClient
	sites      *discoveryengine.SiteSearchEngineClient
	config     SearchConfig
}

// NewSearchProvisioner dials the regional Discovery Engine endpoint.
func NewSearchProvisioner(ctx context.Context, cfg SearchConfig) (*SearchProvisioner, error) {
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("NewSearchProvisioner: projectID cannot be empty")
	}
	if cfg.Location == "" {
		cfg.Location = "global"
	}
	if cfg.Collection == "" {
		cfg.Collection = "default_collection"
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = time.Minute
	}
	if cfg.CreateTimeout <= 0 {
		cfg.CreateTimeout = 5 * time.Minute
	}

	var opts []option.ClientOption
	if cfg.Location != "global" {
		opts = append(opts, option.WithEndpoint(cfg.Location+"-discoveryengine.googleapis.com:443"))
	}

	dataStores, err := discoveryengine.NewDataStoreClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create DataStore client: %w", err)
	}
	documents, err := discoveryengine.NewDocumentClient(ctx, opts...)
	if err != nil {
		dataStores.Close()
		return nil, fmt.Errorf("failed to create Document client: %w", err)
	}
	sites, err := discoveryengine.NewSiteSearchEngineClient(ctx, opts...)
	if err != nil {
		dataStores.Close()
		documents.Close()
		return nil, fmt.Errorf("failed to create SiteSearchEngine client: %w", err)
	}

	slog.Info("Search provisioner initialized.", "location", cfg.Location, "collection", cfg.Collection)
	return &SearchProvisioner{dataStores: dataStores, documents: documents, sites: sites, config: cfg}, nil
}

func (p *SearchProvisioner) collectionPath() string {
	return fmt.Sprintf("projects/%s/locations/%s/collections/%s", p.config.ProjectID, p.config.Location, p.config.Collection)
}

func (p *SearchProvisioner) dataStorePath(id string) string {
	return p.collectionPath() + "/dataStores/" + id
}

// CreateDatastore returns the merchant's datastore id, creating it when it
// does not exist yet. Repeated calls return the same id.
func (p *SearchProvisioner) CreateDatastore(ctx context.Context, merchantID string, cfg models.DatastoreConfig) (string, error) {
	id := models.DatastoreIDFor(merchantID)
	logCtx := slog.With("merchantId", merchantID, "datastoreId", id)

	getCtx, cancel := context.WithTimeout(ctx, p.config.RequestTimeout)
	defer cancel()
	if _, err := p.dataStores.GetDataStore(getCtx, &discoveryenginepb.GetDataStoreRequest{Name: p.dataStorePath(id)}); err == nil {
		logCtx.Info("Datastore already exists, reusing.")
		return id, nil
	} else if status.Code(err) != codes.NotFound {
		return "", fmt.Errorf("failed to look up datastore %s: %w", id, err)
	}

	contentConfig := discoveryenginepb.DataStore_NO_CONTENT
	if cfg.ContentRequired {
		contentConfig = discoveryenginepb.DataStore_CONTENT_REQUIRED
	}
	displayName := cfg.DisplayName
	if displayName == "" {
		displayName = id
	}

	createCtx, cancelCreate := context.WithTimeout(ctx, p.config.CreateTimeout)
	defer cancelCreate()
	op, err := p.dataStores.CreateDataStore(createCtx, &discoveryenginepb.CreateDataStoreRequest{
		Parent:      p.collectionPath(),
		DataStoreId: id,
		DataStore: &discoveryenginepb.DataStore{
			DisplayName:      displayName,
			IndustryVertical: discoveryenginepb.IndustryVertical_GENERIC,
			SolutionTypes:    []discoveryenginepb.SolutionType{discoveryenginepb.SolutionType_SOLUTION_TYPE_SEARCH},
			ContentConfig:    contentConfig,
		},
	})
	if err != nil {
		if status.Code(err) == codes.AlreadyExists {
			logCtx.Info("Datastore created concurrently, reusing.")
			return id, nil
		}
		return "", fmt.Errorf("failed to create datastore %s: %w", id, err)
	}
	if _, err := op.Wait(createCtx); err != nil {
		return "", fmt.Errorf("datastore %s creation did not finish: %w", id, err)
	}
	logCtx.Info("Datastore created.")
	return id, nil
}

// ConfigureCrawl registers siteURL as an included target site. Already
// registered patterns are left alone and creation is not awaited.
func (p *SearchProvisioner) ConfigureCrawl(ctx context.Context, datastoreID, siteURL string) error {
	pattern, err := TargetSitePattern(siteURL)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, p.config.RequestTimeout)
	defer cancel()

	parent := p.dataStorePath(datastoreID) + "/siteSearchEngine"
	it := p.sites.ListTargetSites(ctx, &discoveryenginepb.ListTargetSitesRequest{Parent: parent})
	for {
		site, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to list target sites: %w", err)
		}
		if site.GetProvidedUriPattern() == pattern {
			slog.Info("Target site already registered.", "datastoreId", datastoreID, "pattern", pattern)
			return nil
		}
	}

	_, err = p.sites.CreateTargetSite(ctx, &discoveryenginepb.CreateTargetSiteRequest{
		Parent: parent,
		TargetSite: &discoveryenginepb.TargetSite{
			ProvidedUriPattern: pattern,
			Type:               discoveryenginepb.TargetSite_INCLUDE,
		},
	})
	if err != nil && status.Code(err) != codes.AlreadyExists {
		return fmt.Errorf("failed to register target site %s: %w", pattern, err)
	}
	slog.Info("Target site registered.", "datastoreId", datastoreID, "pattern", pattern)
	return nil
}

// ImportDocuments starts an incremental import of the given NDJSON files and
// returns the long-running operation name without waiting for it.
func (p *SearchProvisioner) ImportDocuments(ctx context.Context, datastoreID string, uris []string) (string, error) {
	if len(uris) == 0 {
		return "", fmt.Errorf("no documents to import into %s", datastoreID)
	}
	ctx, cancel := context.WithTimeout(ctx, p.config.RequestTimeout)
	defer cancel()

	op, err := p.documents.ImportDocuments(ctx, &discoveryenginepb.ImportDocumentsRequest{
		Parent: p.dataStorePath(datastoreID) + "/branches/default_branch",
		Source: &discoveryenginepb.ImportDocumentsRequest_GcsSource{
			GcsSource: &discoveryenginepb.GcsSource{
				InputUris:  uris,
				DataSchema: "document",
			},
		},
		ReconciliationMode: discoveryenginepb.ImportDocumentsRequest_INCREMENTAL,
	})
	if err != nil {
		return "", fmt.Errorf("import into %s rejected: %w", datastoreID, err)
	}
	slog.Info("Document import accepted.", "datastoreId", datastoreID, "operation", op.Name(), "files", len(uris))
	return op.Name(), nil
}

// UpdateDisplayName renames a datastore.
func (p *SearchProvisioner) UpdateDisplayName(ctx context.Context, datastoreID, name string) error {
	ctx, cancel := context.WithTimeout(ctx, p.config.RequestTimeout)
	defer cancel()

	_, err := p.dataStores.UpdateDataStore(ctx, &discoveryenginepb.UpdateDataStoreRequest{
		DataStore: &discoveryenginepb.DataStore{
			Name:        p.dataStorePath(datastoreID),
			DisplayName: name,
		},
		UpdateMask: &fieldmaskpb.FieldMask{Paths: []string{"display_name"}},
	})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return fmt.Errorf("datastore %s: %w", datastoreID, models.ErrNotFound)
		}
		return fmt.Errorf("failed to rename datastore %s: %w", datastoreID, err)
	}
	return nil
}

// DeleteDatastore starts deletion of a datastore. A missing datastore is not
// an error.
func (p *SearchProvisioner) DeleteDatastore(ctx context.Context, datastoreID string) error {
	ctx, cancel := context.WithTimeout(ctx, p.config.RequestTimeout)
	defer cancel()

	_, err := p.dataStores.DeleteDataStore(ctx, &discoveryenginepb.DeleteDataStoreRequest{Name: p.dataStorePath(datastoreID)})
	if err != nil && status.Code(err) != codes.NotFound {
		return fmt.Errorf("failed to delete datastore %s: %w", datastoreID, err)
	}
	return nil
}

func (p *SearchProvisioner) Close() error {
	return errors.Join(p.dataStores.Close(), p.documents.Close(), p.sites.Close())
}

// TargetSitePattern turns a shop URL into a crawl pattern covering the whole
// site, e.g. https://acme.example/ becomes acme.example/*.
func TargetSitePattern(siteURL string) (string, error) {
	raw := strings.TrimSpace(siteURL)
	if raw == "" {
		return "", fmt.Errorf("empty site url")
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid site url %q", siteURL)
	}
	path := strings.TrimRight(u.Path, "/")
	return strings.ToLower(u.Host) + path + "/*", nil
}
