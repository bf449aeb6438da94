package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/Lllllllleong/merchantonboarding/internal/models"
)

// BuildMerchantConfig assembles the chatbot config document of a merchant,
// filling blank branding fields with defaults.
func (o *Onboarding) BuildMerchantConfig(ctx context.Context, m *models.Merchant) (*models.MerchantConfig, error) {
	logoURL, err := o.logoURL(ctx, m)
	if err != nil {
		return nil, err
	}
	productsPath, err := o.curatedProducts(ctx, m.MerchantID)
	if err != nil {
		return nil, err
	}
	return &models.MerchantConfig{
		UserID:     m.UserID,
		MerchantID: m.MerchantID,
		ShopName:   m.ShopName,
		ShopURL:    m.ShopURL,
		BotName:    orDefault(m.BotName, models.DefaultBotName),
		Products: models.ProductsConfig{
			BucketName: o.storage.BucketName(),
			FilePath:   productsPath,
		},
		VertexSearch: models.VertexSearchConfig{
			ProjectID:   o.config.ProjectID,
			Location:    o.config.SearchLocation,
			DatastoreID: m.VertexDatastoreID,
		},
		CustomChatbot: models.CustomChatbotConfig{
			Title:         orDefault(m.BotName, models.DefaultBotName),
			LogoSignedURL: logoURL,
			Color:         orDefault(m.PrimaryColor, models.DefaultColor),
			FontFamily:    orDefault(m.FontFamily, models.DefaultFontFamily),
			TagLine:       orDefault(m.TagLine, models.DefaultTagLine),
			Position:      orDefault(m.ChatPosition, models.DefaultChatPosition),
		},
	}, nil
}

// writeMerchantConfig overwrites the merchant's config document and returns
// its object path.
func (o *Onboarding) writeMerchantConfig(ctx context.Context, m *models.Merchant) (string, error) {
	cfg, err := o.BuildMerchantConfig(ctx, m)
	if err != nil {
		return "", err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode merchant config: %w", err)
	}
	configPath := models.ConfigObjectPath(m.MerchantID)
	if err := o.storage.PutObject(ctx, configPath, data, "application/json"); err != nil {
		return "", fmt.Errorf("failed to write merchant config: %w", err)
	}
	return configPath, nil
}

// curatedProducts is the curated catalog path, or empty when the merchant
// has no products.
func (o *Onboarding) curatedProducts(ctx context.Context, merchantID string) (string, error) {
	p := models.CuratedProductsPath(merchantID)
	if _, err := o.storage.ObjectMetadata(ctx, p); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("failed to check curated products: %w", err)
	}
	return p, nil
}

// logoURL passes absolute logo URLs through and signs stored logos. A bare
// file name is resolved inside the merchant's brand-images folder.
func (o *Onboarding) logoURL(ctx context.Context, m *models.Merchant) (string, error) {
	logo := strings.TrimSpace(m.LogoURL)
	lower := strings.ToLower(logo)
	if logo == "" || strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		return logo, nil
	}
	logo = strings.TrimPrefix(logo, "gs://"+o.storage.BucketName()+"/")
	if !strings.HasPrefix(logo, models.MerchantPrefix(m.MerchantID)) {
		logo = models.MerchantObject(m.MerchantID, models.FolderBrandImages, strings.TrimPrefix(logo, "/"))
	}
	u, err := o.storage.IssueDownloadURL(ctx, logo, o.config.LogoURLTTL)
	if err != nil {
		return "", fmt.Errorf("failed to sign logo %s: %w", logo, err)
	}
	return u, nil
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

// GetMerchantConfig returns the config document as stored.
func (o *Onboarding) GetMerchantConfig(ctx context.Context, merchantID string) (*models.StoredConfig, error) {
	m, err := o.GetMerchant(ctx, merchantID)
	if err != nil {
		return nil, err
	}
	configPath := storedConfigPath(m)
	cfg, err := o.readConfig(ctx, configPath)
	if err != nil {
		return nil, err
	}
	return &models.StoredConfig{MerchantID: merchantID, ConfigPath: configPath, Config: cfg}, nil
}

// UpdateMerchantConfig deep merges updates into the stored config document
// and writes it back. Nested objects merge key by key; any other value
// replaces what was there. A merchant without a config starts from the
// generated one. No pipeline work is triggered, and a later regeneration
// rewrites the document from the merchant record.
func (o *Onboarding) UpdateMerchantConfig(ctx context.Context, merchantID string, updates map[string]any) (*models.ConfigUpdateResult, error) {
	if len(updates) == 0 {
		return nil, models.NewValidationError("body", "no config fields provided")
	}
	for _, key := range []string{"merchant_id", "user_id"} {
		if _, ok := updates[key]; ok {
			return nil, models.NewValidationError(key, "cannot be changed")
		}
	}
	logCtx := slog.With("merchantId", merchantID)

	unlock, err := o.locker.Lock(ctx, merchantID)
	if err != nil {
		return nil, fmt.Errorf("failed to lock merchant %s: %w", merchantID, err)
	}
	defer func() {
		if err := unlock(context.WithoutCancel(ctx)); err != nil {
			logCtx.Warn("Failed to release merchant lock.", "error", err)
		}
	}()

	m, err := o.GetMerchant(ctx, merchantID)
	if err != nil {
		return nil, err
	}
	configPath := storedConfigPath(m)
	current, err := o.readConfig(ctx, configPath)
	if errors.Is(err, models.ErrNotFound) {
		current, err = o.generatedConfig(ctx, m)
	}
	if err != nil {
		return nil, err
	}

	mergeConfig(current, updates)
	data, err := json.MarshalIndent(current, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode merchant config: %w", err)
	}
	if err := o.storage.PutObject(ctx, configPath, data, "application/json"); err != nil {
		return nil, fmt.Errorf("failed to write merchant config: %w", err)
	}
	if m.ConfigPath != configPath {
		if _, err := o.merchants.UpdateMerchant(ctx, merchantID, func(mm *models.Merchant) error {
			mm.ConfigPath = configPath
			return nil
		}); err != nil {
			logCtx.Warn("Failed to record config path.", "error", err)
		}
	}

	fields := make([]string, 0, len(updates))
	for k := range updates {
		fields = append(fields, k)
	}
	sort.Strings(fields)
	logCtx.Info("Merchant config updated.", "fields", fields)
	return &models.ConfigUpdateResult{MerchantID: merchantID, Status: "updated", ConfigPath: configPath, UpdatedFields: fields}, nil
}

func storedConfigPath(m *models.Merchant) string {
	if m.ConfigPath != "" {
		return m.ConfigPath
	}
	return models.ConfigObjectPath(m.MerchantID)
}

func (o *Onboarding) readConfig(ctx context.Context, configPath string) (map[string]any, error) {
	data, err := o.storage.GetObject(ctx, configPath)
	if err != nil {
		return nil, err
	}
	var cfg map[string]any
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config %s: %w", configPath, err)
	}
	if cfg == nil {
		cfg = map[string]any{}
	}
	return cfg, nil
}

// generatedConfig is the config BuildMerchantConfig would write, as a
// generic document.
func (o *Onboarding) generatedConfig(ctx context.Context, m *models.Merchant) (map[string]any, error) {
	cfg, err := o.BuildMerchantConfig(ctx, m)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode merchant config: %w", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode merchant config: %w", err)
	}
	return doc, nil
}

func mergeConfig(dst, src map[string]any) {
	for k, v := range src {
		sub, ok := v.(map[string]any)
		if !ok {
			dst[k] = v
			continue
		}
		existing, ok := dst[k].(map[string]any)
		if !ok {
			existing = map[string]any{}
			dst[k] = existing
		}
		mergeConfig(existing, sub)
	}
}
