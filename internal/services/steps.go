package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"slices"
	"strings"

	"github.com/Lllllllleong/merchantonboarding/internal/convert"
	"github.com/Lllllllleong/merchantonboarding/internal/models"
	"golang.org/x/sync/errgroup"
)

// Catalog files are detected by name in knowledge_base, in order of
// preference.
var (
	productFileNames  = []string{"products.json", "products.csv", "products.xlsx"}
	categoryFileNames = []string{"categories.csv", "categories.xlsx"}

	// Legacy Excel workbooks are recognised only to be rejected.
	legacyCatalogNames = []string{"products.xls", "categories.xls"}
)

const placeholderName = ".keep"

// pipelineRun is the state one pipeline execution carries between steps.
type pipelineRun struct {
	merchant *models.Merchant
	logCtx   *slog.Logger
}

func (o *Onboarding) createFolders(ctx context.Context, run *pipelineRun) StepOutcome {
	created, err := o.ensureFolders(ctx, run.merchant.MerchantID)
	if err != nil {
		return failed(err)
	}
	return succeeded("%d folders ready (%d created)", len(models.MerchantFolders), created)
}

// ensureFolders writes the placeholder of every merchant folder that lacks
// one and returns how many it wrote.
func (o *Onboarding) ensureFolders(ctx context.Context, merchantID string) (int, error) {
	created := 0
	for _, folder := range models.MerchantFolders {
		p := models.MerchantObject(merchantID, folder, placeholderName)
		wrote, err := o.storage.EnsureObject(ctx, p, []byte{}, "text/plain")
		if err != nil {
			return created, fmt.Errorf("failed to create folder %s: %w", folder, err)
		}
		if wrote {
			created++
		}
	}
	return created, nil
}

func (o *Onboarding) processProducts(ctx context.Context, run *pipelineRun) StepOutcome {
	m := run.merchant
	files, err := o.storage.ListObjects(ctx, knowledgeBasePrefix(m.MerchantID))
	if err != nil {
		return failed(fmt.Errorf("failed to list knowledge base: %w", err))
	}
	productPath := findCatalogFile(files, productFileNames)
	categoryPath := findCatalogFile(files, categoryFileNames)

	var parts []string
	if productPath == "" {
		removed, err := o.removeArtifacts(ctx, models.CuratedProductsPath(m.MerchantID), trainingObject(m.MerchantID, "products.ndjson"))
		if err != nil {
			return failed(err)
		}
		parts = append(parts, withRemoved("no products found", removed))
	} else {
		msg, err := o.convertProducts(ctx, run, productPath)
		if err != nil {
			return failed(err)
		}
		parts = append(parts, msg)
	}
	if categoryPath == "" {
		removed, err := o.removeArtifacts(ctx, trainingObject(m.MerchantID, "categories.ndjson"))
		if err != nil {
			return failed(err)
		}
		if removed > 0 {
			parts = append(parts, withRemoved("no categories found", removed))
		}
	} else {
		msg, err := o.convertCategories(ctx, run, categoryPath)
		if err != nil {
			return failed(err)
		}
		parts = append(parts, msg)
	}
	for _, legacy := range legacyCatalogNames {
		if f := findCatalogFile(files, []string{legacy}); f != "" {
			run.logCtx.Warn("Legacy Excel catalog ignored.", "file", f)
			parts = append(parts, fmt.Sprintf("%s is a legacy Excel format and is not supported, upload .xlsx or .csv", path.Base(f)))
		}
	}
	return succeeded("%s", strings.Join(parts, "; "))
}

// removeArtifacts deletes generated files whose source has disappeared and
// reports how many existed.
func (o *Onboarding) removeArtifacts(ctx context.Context, paths ...string) (int, error) {
	removed := 0
	for _, p := range paths {
		if _, err := o.storage.ObjectMetadata(ctx, p); err != nil {
			if errors.Is(err, models.ErrNotFound) {
				continue
			}
			return removed, fmt.Errorf("failed to stat %s: %w", path.Base(p), err)
		}
		if err := o.storage.DeleteObject(ctx, p); err != nil {
			return removed, fmt.Errorf("failed to remove stale %s: %w", path.Base(p), err)
		}
		removed++
	}
	return removed, nil
}

func withRemoved(msg string, removed int) string {
	if removed == 0 {
		return msg
	}
	return fmt.Sprintf("%s, removed %d stale files", msg, removed)
}

func (o *Onboarding) convertProducts(ctx context.Context, run *pipelineRun, productPath string) (string, error) {
	m := run.merchant
	table, err := o.readTable(ctx, productPath)
	if err != nil {
		return "", err
	}

	links := convert.LinkBuilder{ShopURL: m.ShopURL, Platform: m.Platform, Pattern: m.CustomURLPattern}
	curated, warnings := convert.CurateProducts(table, links)
	for _, w := range warnings {
		run.logCtx.Warn("Product row excluded from curated catalog.", "file", productPath, "reason", w)
	}
	if curated == nil {
		curated = []models.CuratedProduct{}
	}
	curatedJSON, err := json.MarshalIndent(curated, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode curated products: %w", err)
	}
	if err := o.storage.PutObject(ctx, models.CuratedProductsPath(m.MerchantID), curatedJSON, "application/json"); err != nil {
		return "", fmt.Errorf("failed to write curated products: %w", err)
	}

	full := convert.FullProducts(table)
	ndjson, err := convert.EncodeNDJSON(full)
	if err != nil {
		return "", fmt.Errorf("failed to encode products: %w", err)
	}
	if err := o.storage.PutObject(ctx, trainingObject(m.MerchantID, "products.ndjson"), ndjson, convert.NDJSONContentType); err != nil {
		return "", fmt.Errorf("failed to write products: %w", err)
	}
	return fmt.Sprintf("%d products from %s (%d curated, %d skipped)", len(full), path.Base(productPath), len(curated), len(warnings)), nil
}

func (o *Onboarding) convertCategories(ctx context.Context, run *pipelineRun, categoryPath string) (string, error) {
	m := run.merchant
	table, err := o.readTable(ctx, categoryPath)
	if err != nil {
		return "", err
	}
	docs := convert.Categories(table, m.MerchantID)
	ndjson, err := convert.EncodeNDJSON(docs)
	if err != nil {
		return "", fmt.Errorf("failed to encode categories: %w", err)
	}
	if err := o.storage.PutObject(ctx, trainingObject(m.MerchantID, "categories.ndjson"), ndjson, convert.NDJSONContentType); err != nil {
		return "", fmt.Errorf("failed to write categories: %w", err)
	}
	return fmt.Sprintf("%d categories from %s", len(docs), path.Base(categoryPath)), nil
}

func (o *Onboarding) readTable(ctx context.Context, objectPath string) (*convert.Table, error) {
	data, err := o.storage.GetObject(ctx, objectPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path.Base(objectPath), err)
	}
	table, err := convert.ReadTable(path.Base(objectPath), data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path.Base(objectPath), err)
	}
	return table, nil
}

// documentResult is the outcome of converting one knowledge base document.
type documentResult struct {
	object  string
	chunks  int
	warning string
}

func (o *Onboarding) convertDocuments(ctx context.Context, run *pipelineRun) StepOutcome {
	m := run.merchant
	files, err := o.storage.ListObjects(ctx, knowledgeBasePrefix(m.MerchantID))
	if err != nil {
		return failed(fmt.Errorf("failed to list knowledge base: %w", err))
	}

	var sources, warnings []string
	for _, f := range files {
		name := path.Base(f)
		if name == placeholderName || strings.HasSuffix(f, "/") || isCatalogFile(name) {
			continue
		}
		if !convert.IsDocument(name) {
			warnings = append(warnings, fmt.Sprintf("%s: unsupported file type, skipped", name))
			continue
		}
		sources = append(sources, f)
	}

	results := make([]documentResult, len(sources))
	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(o.config.DocumentWorkers)
	for i, src := range sources {
		idx, source := i, src
		eg.Go(func() error {
			res, err := o.convertDocument(gctx, run, source)
			if err != nil {
				return fmt.Errorf("%s: %w", path.Base(source), err)
			}
			results[idx] = res
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return failed(err)
	}

	produced := map[string]bool{}
	converted, chunks := 0, 0
	for _, r := range results {
		if r.warning != "" {
			warnings = append(warnings, r.warning)
		}
		if r.object != "" {
			produced[r.object] = true
			converted++
			chunks += r.chunks
		}
	}

	removed, err := o.removeStaleDocuments(ctx, m.MerchantID, produced)
	if err != nil {
		return failed(err)
	}

	for _, w := range warnings {
		run.logCtx.Warn("Document skipped.", "reason", w)
	}
	msg := fmt.Sprintf("converted %d of %d documents into %d chunks", converted, len(sources), chunks)
	if removed > 0 {
		msg += fmt.Sprintf(", removed %d stale files", removed)
	}
	if len(warnings) > 0 {
		msg += fmt.Sprintf(" (%d warnings: %s)", len(warnings), strings.Join(warnings, "; "))
	}
	return succeeded("%s", msg)
}

// convertDocument extracts, chunks and writes one source document. Only
// storage failures are returned as errors; unreadable content becomes a
// warning.
func (o *Onboarding) convertDocument(ctx context.Context, run *pipelineRun, source string) (documentResult, error) {
	name := path.Base(source)
	data, err := o.storage.GetObject(ctx, source)
	if err != nil {
		return documentResult{}, fmt.Errorf("failed to read: %w", err)
	}

	text, err := convert.Extract(name, data)
	if err != nil {
		return documentResult{warning: fmt.Sprintf("%s: %v", name, err)}, nil
	}
	if strings.TrimSpace(text) == "" && strings.EqualFold(path.Ext(name), ".pdf") && o.transcriber != nil {
		run.logCtx.Info("PDF has no text layer, transcribing.", "file", name)
		text, err = o.transcriber.TranscribePDF(ctx, o.storage.URI(source))
		if err != nil {
			return documentResult{warning: fmt.Sprintf("%s: transcription failed: %v", name, err)}, nil
		}
	}
	if strings.TrimSpace(text) == "" {
		return documentResult{warning: fmt.Sprintf("%s: no extractable text", name)}, nil
	}

	chunks := convert.SplitText(source, text, o.config.ChunkSize)
	ndjson, err := convert.EncodeNDJSON(convert.ChunkDocuments(source, chunks))
	if err != nil {
		return documentResult{}, fmt.Errorf("failed to encode chunks: %w", err)
	}
	object := trainingObject(run.merchant.MerchantID, convert.DocumentObjectName(source))
	if err := o.storage.PutObject(ctx, object, ndjson, convert.NDJSONContentType); err != nil {
		return documentResult{}, fmt.Errorf("failed to write %s: %w", path.Base(object), err)
	}
	return documentResult{object: object, chunks: len(chunks)}, nil
}

// removeStaleDocuments deletes doc-*.ndjson files not produced by this run.
func (o *Onboarding) removeStaleDocuments(ctx context.Context, merchantID string, produced map[string]bool) (int, error) {
	existing, err := o.storage.ListObjects(ctx, trainingPrefix(merchantID))
	if err != nil {
		return 0, fmt.Errorf("failed to list training files: %w", err)
	}
	removed := 0
	for _, p := range existing {
		name := path.Base(p)
		if !strings.HasPrefix(name, "doc-") || !strings.HasSuffix(name, ".ndjson") || produced[p] {
			continue
		}
		if err := o.storage.DeleteObject(ctx, p); err != nil {
			return removed, fmt.Errorf("failed to remove stale %s: %w", name, err)
		}
		removed++
	}
	return removed, nil
}

func (o *Onboarding) setupVertex(ctx context.Context, run *pipelineRun) StepOutcome {
	m := run.merchant
	datastoreID := m.VertexDatastoreID
	if datastoreID == "" {
		id, err := o.search.CreateDatastore(ctx, m.MerchantID, models.DatastoreConfig{
			DisplayName:     m.ShopName,
			ContentRequired: o.config.ContentRequired,
		})
		if err != nil {
			return failed(fmt.Errorf("failed to create datastore: %w", err))
		}
		updated, err := o.merchants.UpdateMerchant(ctx, m.MerchantID, func(mm *models.Merchant) error {
			mm.VertexDatastoreID = id
			return nil
		})
		if err != nil {
			return failed(fmt.Errorf("failed to record datastore id: %w", err))
		}
		run.merchant = updated
		datastoreID = id
	} else {
		run.logCtx.Info("Reusing recorded datastore.", "datastoreId", datastoreID)
	}

	if m.ShopURL != "" {
		if err := o.search.ConfigureCrawl(ctx, datastoreID, m.ShopURL); err != nil {
			return failed(fmt.Errorf("failed to configure website crawl: %w", err))
		}
	}

	files, err := o.storage.ListObjects(ctx, trainingPrefix(m.MerchantID))
	if err != nil {
		return failed(fmt.Errorf("failed to list training files: %w", err))
	}
	var uris []string
	for _, f := range files {
		if strings.HasSuffix(f, ".ndjson") {
			uris = append(uris, o.storage.URI(f))
		}
	}
	if len(uris) == 0 {
		return succeeded("datastore %s ready, nothing to import", datastoreID)
	}

	op, err := o.search.ImportDocuments(ctx, datastoreID, uris)
	if err != nil {
		return failed(fmt.Errorf("document import rejected: %w", err))
	}
	run.logCtx.Info("Document import accepted.", "datastoreId", datastoreID, "operation", op)
	return succeeded("datastore %s ready, import of %d files accepted", datastoreID, len(uris))
}

func (o *Onboarding) generateConfig(ctx context.Context, run *pipelineRun) StepOutcome {
	configPath, err := o.writeMerchantConfig(ctx, run.merchant)
	if err != nil {
		return failed(err)
	}
	updated, err := o.merchants.UpdateMerchant(ctx, run.merchant.MerchantID, func(m *models.Merchant) error {
		m.ConfigPath = configPath
		return nil
	})
	if err != nil {
		return failed(fmt.Errorf("failed to record config path: %w", err))
	}
	run.merchant = updated
	return succeeded("config written to %s", configPath)
}

func (o *Onboarding) finalize(ctx context.Context, run *pipelineRun) StepOutcome {
	updated, err := o.merchants.UpdateMerchant(ctx, run.merchant.MerchantID, func(m *models.Merchant) error {
		if m.Status == models.MerchantDeleted {
			return errors.New("merchant was deleted during onboarding")
		}
		m.Status = models.MerchantActive
		return nil
	})
	if err != nil {
		return failed(fmt.Errorf("failed to activate merchant: %w", err))
	}
	run.merchant = updated
	return succeeded("merchant %s is active", updated.MerchantID)
}

func knowledgeBasePrefix(merchantID string) string {
	return models.MerchantPrefix(merchantID) + models.FolderKnowledgeBase + "/"
}

func trainingPrefix(merchantID string) string {
	return models.MerchantPrefix(merchantID) + models.FolderTrainingFiles + "/"
}

func trainingObject(merchantID, name string) string {
	return models.MerchantObject(merchantID, models.FolderTrainingFiles, name)
}

// findCatalogFile returns the first candidate name present directly in the
// listing.
func findCatalogFile(files []string, candidates []string) string {
	byName := make(map[string]string, len(files))
	for _, f := range files {
		name := strings.ToLower(path.Base(f))
		if _, ok := byName[name]; !ok {
			byName[name] = f
		}
	}
	for _, c := range candidates {
		if f, ok := byName[c]; ok {
			return f
		}
	}
	return ""
}

func isCatalogFile(name string) bool {
	name = strings.ToLower(name)
	return slices.Contains(productFileNames, name) || slices.Contains(categoryFileNames, name) || slices.Contains(legacyCatalogNames, name)
}
