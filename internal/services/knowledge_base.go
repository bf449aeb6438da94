package services

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"slices"
	"strings"

	"github.com/Lllllllleong/merchantonboarding/internal/convert"
	"github.com/Lllllllleong/merchantonboarding/internal/models"
)

// ListKnowledgeBase lists the merchant's uploaded source files with signed
// download URLs. A file whose metadata or URL cannot be produced is still
// listed, with the error attached.
func (o *Onboarding) ListKnowledgeBase(ctx context.Context, merchantID string) (*models.KnowledgeBaseListing, error) {
	if _, err := o.GetMerchant(ctx, merchantID); err != nil {
		return nil, err
	}
	prefix := knowledgeBasePrefix(merchantID)
	paths, err := o.storage.ListObjects(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list knowledge base: %w", err)
	}

	files := []models.KnowledgeBaseFile{}
	for _, p := range paths {
		name := strings.TrimPrefix(p, prefix)
		if name == "" || strings.HasSuffix(p, "/") || path.Base(p) == placeholderName {
			continue
		}
		file := models.KnowledgeBaseFile{Name: name, ObjectPath: p, Kind: fileKind(path.Base(p))}
		info, err := o.storage.ObjectMetadata(ctx, p)
		if err != nil {
			file.Error = err.Error()
			files = append(files, file)
			continue
		}
		file.Size, file.ContentType, file.UploadedAt = info.Size, info.ContentType, info.CreatedAt

		url, err := o.storage.IssueDownloadURL(ctx, p, o.config.SignedURLTTL)
		if err != nil {
			file.Error = fmt.Sprintf("failed to sign download url: %v", err)
		} else {
			file.DownloadURL = url
			file.ExpiresIn = int(o.config.SignedURLTTL.Seconds())
		}
		files = append(files, file)
	}
	return &models.KnowledgeBaseListing{MerchantID: merchantID, Files: files, FilesCount: len(files)}, nil
}

// DeleteKnowledgeBaseFile removes one uploaded source file, named relative
// to knowledge_base/. The training files derived from it are removed by the
// next onboarding run. It refuses while an onboarding job is active.
func (o *Onboarding) DeleteKnowledgeBaseFile(ctx context.Context, merchantID, name string) (string, error) {
	clean := path.Clean("/" + strings.ReplaceAll(name, "\\", "/"))[1:]
	if clean == "" || clean != strings.Trim(name, "/") || path.Base(clean) == placeholderName {
		return "", models.NewValidationError("file", "is not a knowledge base file name")
	}
	logCtx := slog.With("merchantId", merchantID, "file", clean)

	unlock, err := o.locker.Lock(ctx, merchantID)
	if err != nil {
		return "", fmt.Errorf("failed to lock merchant %s: %w", merchantID, err)
	}
	defer func() {
		if err := unlock(context.WithoutCancel(ctx)); err != nil {
			logCtx.Warn("Failed to release merchant lock.", "error", err)
		}
	}()

	if _, err := o.GetMerchant(ctx, merchantID); err != nil {
		return "", err
	}
	if err := o.refuseActiveJob(ctx, merchantID); err != nil {
		return "", err
	}
	objectPath := knowledgeBasePrefix(merchantID) + clean
	if _, err := o.storage.ObjectMetadata(ctx, objectPath); err != nil {
		return "", err
	}
	if err := o.storage.DeleteObject(ctx, objectPath); err != nil {
		return "", fmt.Errorf("failed to delete %s: %w", clean, err)
	}
	logCtx.Info("Knowledge base file deleted.")
	return objectPath, nil
}

// fileKind reports how the pipeline treats a knowledge base file name.
func fileKind(name string) string {
	lower := strings.ToLower(name)
	switch {
	case slices.Contains(productFileNames, lower):
		return models.KindProducts
	case slices.Contains(categoryFileNames, lower):
		return models.KindCategories
	case slices.Contains(legacyCatalogNames, lower):
		return models.KindLegacy
	case convert.IsDocument(name):
		return models.KindDocument
	default:
		return models.KindUnsupported
	}
}
