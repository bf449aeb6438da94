package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"slices"
	"strings"

	"github.com/Lllllllleong/merchantonboarding/internal/models"
	"golang.org/x/sync/errgroup"
)

const defaultUploadContentType = "application/octet-stream"

// GetMerchant returns a live merchant. Deleted merchants are not found.
func (o *Onboarding) GetMerchant(ctx context.Context, merchantID string) (*models.Merchant, error) {
	m, err := o.merchants.GetMerchant(ctx, merchantID)
	if err != nil {
		return nil, err
	}
	if m.Status == models.MerchantDeleted {
		return nil, fmt.Errorf("merchant %s: %w", merchantID, models.ErrNotFound)
	}
	return m, nil
}

func (o *Onboarding) ListMerchants(ctx context.Context, userID string) ([]models.Merchant, error) {
	list, err := o.merchants.ListMerchants(ctx, userID)
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []models.Merchant{}
	}
	return list, nil
}

// UpdateMerchant applies a partial update. Config and datastore side effects
// run after the patch is saved; their failures are returned as warnings and
// never undo the patch.
func (o *Onboarding) UpdateMerchant(ctx context.Context, merchantID string, patch models.MerchantPatch) (*models.MerchantUpdateResult, error) {
	if patch.IsEmpty() {
		return nil, models.NewValidationError("body", "no updatable fields provided")
	}
	if err := validateStruct(o.validate, patch); err != nil {
		return nil, err
	}
	logCtx := slog.With("merchantId", merchantID)

	var changed []string
	m, err := o.merchants.UpdateMerchant(ctx, merchantID, func(m *models.Merchant) error {
		if m.Status == models.MerchantDeleted {
			return fmt.Errorf("merchant %s: %w", merchantID, models.ErrNotFound)
		}
		changed = patch.Apply(m)
		return nil
	})
	if err != nil {
		return nil, err
	}
	result := &models.MerchantUpdateResult{Merchant: m, UpdatedFields: changed}
	if result.UpdatedFields == nil {
		result.UpdatedFields = []string{}
	}
	warn := func(msg string, err error) {
		logCtx.Warn(msg, "error", err)
		result.Warnings = append(result.Warnings, fmt.Sprintf("%s: %v", msg, err))
	}

	if models.AffectsConfig(changed) {
		configPath, err := o.writeMerchantConfig(ctx, m)
		if err != nil {
			warn("config regeneration failed", err)
		} else {
			result.ConfigRegenerated = true
			if m.ConfigPath != configPath {
				if updated, err := o.merchants.UpdateMerchant(ctx, merchantID, func(mm *models.Merchant) error {
					mm.ConfigPath = configPath
					return nil
				}); err != nil {
					warn("recording config path failed", err)
				} else {
					result.Merchant = updated
				}
			}
		}
	}

	if m.VertexDatastoreID != "" {
		if slices.Contains(changed, "shop_name") {
			if err := o.search.UpdateDisplayName(ctx, m.VertexDatastoreID, m.ShopName); err != nil {
				warn("datastore rename failed", err)
			} else {
				result.DatastoreRenamed = true
			}
		}
		if slices.Contains(changed, "shop_url") && m.ShopURL != "" {
			if err := o.search.ConfigureCrawl(ctx, m.VertexDatastoreID, m.ShopURL); err != nil {
				warn("crawl registration failed", err)
			}
		}
	}

	logCtx.Info("Merchant updated.", "fields", changed, "configRegenerated", result.ConfigRegenerated, "warnings", len(result.Warnings))
	return result, nil
}

// DeleteMerchant removes a merchant's datastore, objects and jobs, then marks
// the merchant deleted. It refuses while an onboarding job is active.
func (o *Onboarding) DeleteMerchant(ctx context.Context, merchantID string) error {
	logCtx := slog.With("merchantId", merchantID)
	unlock, err := o.locker.Lock(ctx, merchantID)
	if err != nil {
		return fmt.Errorf("failed to lock merchant %s: %w", merchantID, err)
	}
	defer func() {
		if err := unlock(context.WithoutCancel(ctx)); err != nil {
			logCtx.Warn("Failed to release merchant lock.", "error", err)
		}
	}()

	m, err := o.GetMerchant(ctx, merchantID)
	if err != nil {
		return err
	}
	if err := o.refuseActiveJob(ctx, merchantID); err != nil {
		return err
	}

	if m.VertexDatastoreID != "" {
		if err := o.search.DeleteDatastore(ctx, m.VertexDatastoreID); err != nil {
			return fmt.Errorf("failed to delete datastore: %w", err)
		}
	}
	objects, err := o.storage.DeletePrefix(ctx, models.MerchantPrefix(merchantID))
	if err != nil {
		return fmt.Errorf("failed to delete merchant objects: %w", err)
	}
	jobs, err := o.jobs.DeleteMerchantJobs(ctx, merchantID)
	if err != nil {
		return fmt.Errorf("failed to delete merchant jobs: %w", err)
	}
	if err := o.merchants.SoftDeleteMerchant(ctx, merchantID, o.now()); err != nil {
		return err
	}
	logCtx.Info("Merchant deleted.", "objects", objects, "jobs", jobs, "datastoreId", m.VertexDatastoreID)
	return nil
}

// refuseActiveJob returns ErrJobActive while the merchant's latest job is
// active and has not gone stale.
func (o *Onboarding) refuseActiveJob(ctx context.Context, merchantID string) error {
	latest, err := o.jobs.LatestJob(ctx, merchantID)
	switch {
	case err == nil:
		if latest.IsActive() && o.now().Sub(latest.UpdatedAt) < o.config.ActiveJobTimeout {
			return fmt.Errorf("%w: job %s is %s", models.ErrJobActive, latest.JobID, latest.Status)
		}
	case !errors.Is(err, models.ErrNotFound):
		return fmt.Errorf("failed to load latest job: %w", err)
	}
	return nil
}

// SavePersona records the merchant's persona and branding without starting
// a job, then prepares the merchant folders so uploads can begin. Folder
// failures are reported as warnings; onboarding creates them again.
func (o *Onboarding) SavePersona(ctx context.Context, req models.OnboardRequest) (*models.PersonaResult, error) {
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

	unlock, err := o.locker.Lock(ctx, merchantID)
	if err != nil {
		return nil, fmt.Errorf("failed to lock merchant %s: %w", merchantID, err)
	}
	defer func() {
		if err := unlock(context.WithoutCancel(ctx)); err != nil {
			logCtx.Warn("Failed to release merchant lock.", "error", err)
		}
	}()

	existing, err := o.merchants.GetMerchant(ctx, merchantID)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return nil, err
	}
	live := existing != nil && existing.Status != models.MerchantDeleted
	if live && existing.UserID != req.UserID {
		return nil, fmt.Errorf("%w: %s", models.ErrMerchantOwnership, merchantID)
	}
	if err := o.merchants.UpsertMerchant(ctx, merchantFromRequest(req, merchantID, existing, o.now())); err != nil {
		return nil, fmt.Errorf("failed to save merchant: %w", err)
	}

	result := &models.PersonaResult{MerchantID: merchantID, Status: "saved"}
	if live {
		result.Status = "updated"
	}
	created, err := o.ensureFolders(ctx, merchantID)
	if err != nil {
		logCtx.Warn("Folder setup after persona save failed.", "error", err)
		result.Warnings = append(result.Warnings, err.Error())
	} else {
		result.FoldersCreated = true
	}
	logCtx.Info("Persona saved.", "status", result.Status, "foldersCreated", created)
	return result, nil
}

// IssueUploadURL signs a PUT URL for a file inside one of the merchant
// folders. Only the base name of the supplied filename is kept.
func (o *Onboarding) IssueUploadURL(ctx context.Context, req models.UploadURLRequest) (*models.UploadURLResponse, error) {
	if err := validateStruct(o.validate, req); err != nil {
		return nil, err
	}
	if !models.ValidMerchantID(req.MerchantID) {
		return nil, models.NewValidationError("merchant_id", "must be lowercase letters and digits separated by single hyphens")
	}
	name := path.Base(strings.ReplaceAll(strings.TrimSpace(req.Filename), "\\", "/"))
	if name == "." || name == ".." || name == "/" || name == placeholderName {
		return nil, models.NewValidationError("filename", "is not a valid file name")
	}
	contentType := req.ContentType
	if contentType == "" {
		contentType = defaultUploadContentType
	}

	objectPath := models.MerchantObject(req.MerchantID, req.Folder, name)
	url, err := o.storage.IssueUploadURL(ctx, objectPath, contentType, o.config.SignedURLTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to sign upload url: %w", err)
	}
	return &models.UploadURLResponse{
		UploadURL:  url,
		ObjectPath: objectPath,
		ExpiresIn:  int(o.config.SignedURLTTL.Seconds()),
		Method:     "PUT",
		Headers:    map[string]string{"Content-Type": contentType},
	}, nil
}

// IssueBulkUploadURLs signs one upload URL per entry. An invalid entry gets
// an error in its slot instead of failing the batch.
func (o *Onboarding) IssueBulkUploadURLs(ctx context.Context, req models.BulkUploadURLRequest) (*models.BulkUploadURLResponse, error) {
	if err := validateStruct(o.validate, req); err != nil {
		return nil, err
	}
	if !models.ValidMerchantID(req.MerchantID) {
		return nil, models.NewValidationError("merchant_id", "must be lowercase letters and digits separated by single hyphens")
	}

	results := make([]models.BulkUploadURLResult, len(req.Files))
	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(o.config.DocumentWorkers)
	for i, f := range req.Files {
		idx, file := i, f
		eg.Go(func() error {
			res, err := o.IssueUploadURL(gctx, models.UploadURLRequest{
				MerchantID:  req.MerchantID,
				Folder:      file.Folder,
				Filename:    file.Filename,
				ContentType: file.ContentType,
			})
			results[idx] = models.BulkUploadURLResult{Filename: file.Filename, Folder: file.Folder, UploadURLResponse: res}
			if err != nil {
				results[idx].Error = err.Error()
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return &models.BulkUploadURLResponse{MerchantID: req.MerchantID, Count: len(results), URLs: results}, nil
}

// ConfirmUpload reports the metadata of an uploaded object.
func (o *Onboarding) ConfirmUpload(ctx context.Context, req models.ConfirmUploadRequest) (*models.ConfirmUploadResponse, error) {
	if err := validateStruct(o.validate, req); err != nil {
		return nil, err
	}
	if !strings.HasPrefix(req.ObjectPath, "merchants/") || strings.Contains(req.ObjectPath, "..") {
		return nil, models.NewValidationError("object_path", "must be a merchant object path")
	}
	info, err := o.storage.ObjectMetadata(ctx, req.ObjectPath)
	if err != nil {
		return nil, err
	}
	return &models.ConfirmUploadResponse{
		Status:      "confirmed",
		ObjectPath:  info.Path,
		Size:        info.Size,
		ContentType: info.ContentType,
		Created:     info.CreatedAt,
	}, nil
}
