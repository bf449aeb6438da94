package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/Lllllllleong/merchantonboarding/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func readConfig(t *testing.T, h *harness, merchantID string) models.MerchantConfig {
	t.Helper()
	data, err := h.storage.GetObject(context.Background(), models.ConfigObjectPath(merchantID))
	require.NoError(t, err)
	var cfg models.MerchantConfig
	require.NoError(t, json.Unmarshal(data, &cfg))
	return cfg
}

func TestUpdateMerchantRegeneratesConfig(t *testing.T) {
	h := newHarness(t)
	h.onboard(t, acmeRequest())
	ctx := context.Background()

	res, err := h.svc.UpdateMerchant(ctx, "acme-co", models.MerchantPatch{
		BotName:      strPtr("Wile E."),
		PrimaryColor: strPtr("#ff0000"),
	})
	require.NoError(t, err)
	assert.True(t, res.ConfigRegenerated)
	assert.False(t, res.DatastoreRenamed)
	assert.ElementsMatch(t, []string{"bot_name", "primary_color"}, res.UpdatedFields)
	assert.Empty(t, res.Warnings)

	cfg := readConfig(t, h, "acme-co")
	assert.Equal(t, "Wile E.", cfg.CustomChatbot.Title)
	assert.Equal(t, "#ff0000", cfg.CustomChatbot.Color)
	assert.Equal(t, "acme-co-engine", cfg.VertexSearch.DatastoreID)
}

func TestUpdateMerchantNonConfigField(t *testing.T) {
	h := newHarness(t)
	h.onboard(t, acmeRequest())

	res, err := h.svc.UpdateMerchant(context.Background(), "acme-co", models.MerchantPatch{
		PromptText: strPtr("Be concise."),
	})
	require.NoError(t, err)
	assert.False(t, res.ConfigRegenerated)
	assert.Equal(t, []string{"prompt_text"}, res.UpdatedFields)
	assert.Equal(t, "Be concise.", res.Merchant.PromptText)
}

func TestUpdateMerchantRenamesDatastore(t *testing.T) {
	h := newHarness(t)
	h.onboard(t, acmeRequest())
	ctx := context.Background()

	res, err := h.svc.UpdateMerchant(ctx, "acme-co", models.MerchantPatch{
		ShopName: strPtr("Acme Corporation"),
		ShopURL:  strPtr("https://shop.acme.example"),
	})
	require.NoError(t, err)
	assert.True(t, res.ConfigRegenerated)
	assert.True(t, res.DatastoreRenamed)
	assert.Equal(t, []string{"acme-co-engine Acme Corporation"}, h.search.renames)
	assert.Contains(t, h.search.crawls, "acme-co-engine https://shop.acme.example")
	assert.Equal(t, "acme-co", res.Merchant.MerchantID)
}

func TestUpdateMerchantSideEffectFailureKeepsPatch(t *testing.T) {
	h := newHarness(t)
	h.onboard(t, acmeRequest())
	h.search.renameErr = errors.New("backend unavailable")
	ctx := context.Background()

	res, err := h.svc.UpdateMerchant(ctx, "acme-co", models.MerchantPatch{ShopName: strPtr("Acme Corporation")})
	require.NoError(t, err)
	assert.False(t, res.DatastoreRenamed)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "backend unavailable")

	m, err := h.svc.GetMerchant(ctx, "acme-co")
	require.NoError(t, err)
	assert.Equal(t, "Acme Corporation", m.ShopName)
}

func TestUpdateMerchantRejectsBadPatches(t *testing.T) {
	h := newHarness(t)
	h.onboard(t, acmeRequest())
	ctx := context.Background()

	_, err := h.svc.UpdateMerchant(ctx, "acme-co", models.MerchantPatch{})
	assert.ErrorIs(t, err, models.ErrValidation)

	_, err = h.svc.UpdateMerchant(ctx, "acme-co", models.MerchantPatch{ChatPosition: strPtr("middle")})
	var verr *models.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Contains(t, verr.Fields, "chat_position")

	_, err = h.svc.UpdateMerchant(ctx, "missing", models.MerchantPatch{BotName: strPtr("x")})
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestDeleteMerchantCascades(t *testing.T) {
	h := newHarness(t)
	h.storage.put("merchants/acme-co/knowledge_base/products.csv", acmeProductsCSV)
	h.storage.put("merchants/other/knowledge_base/keep.txt", "unrelated")
	h.onboard(t, acmeRequest())
	ctx := context.Background()

	require.NoError(t, h.svc.DeleteMerchant(ctx, "acme-co"))
	assert.Equal(t, []string{"acme-co-engine"}, h.search.deleted)

	objects, err := h.storage.ListObjects(ctx, "merchants/acme-co/")
	require.NoError(t, err)
	assert.Empty(t, objects)
	assert.True(t, h.storage.has("merchants/other/knowledge_base/keep.txt"))

	_, err = h.svc.GetStatus(ctx, "acme-co")
	assert.ErrorIs(t, err, models.ErrNotFound)
	_, err = h.svc.GetMerchant(ctx, "acme-co")
	assert.ErrorIs(t, err, models.ErrNotFound)
	list, err := h.svc.ListMerchants(ctx, "user-1")
	require.NoError(t, err)
	assert.Empty(t, list)

	assert.ErrorIs(t, h.svc.DeleteMerchant(ctx, "acme-co"), models.ErrNotFound)

	// A deleted merchant id can be onboarded again from scratch.
	h.clock = h.clock.Add(time.Minute)
	job := h.onboard(t, acmeRequest())
	assert.Equal(t, models.JobCompleted, job.Status)
	assert.Equal(t, 2, h.search.createCalls)
}

func TestDeleteMerchantRefusesActiveJob(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.svc.StartOnboarding(ctx, acmeRequest())
	require.NoError(t, err)

	assert.ErrorIs(t, h.svc.DeleteMerchant(ctx, "acme-co"), models.ErrJobActive)
	_, err = h.svc.GetMerchant(ctx, "acme-co")
	assert.NoError(t, err)
}

func TestIssueUploadURL(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res, err := h.svc.IssueUploadURL(ctx, models.UploadURLRequest{
		MerchantID:  "acme-co",
		Folder:      models.FolderKnowledgeBase,
		Filename:    "../../secrets/Return Policy.pdf",
		ContentType: "application/pdf",
	})
	require.NoError(t, err)
	assert.Equal(t, "merchants/acme-co/knowledge_base/Return Policy.pdf", res.ObjectPath)
	assert.Equal(t, "PUT", res.Method)
	assert.Equal(t, 3600, res.ExpiresIn)
	assert.Equal(t, map[string]string{"Content-Type": "application/pdf"}, res.Headers)
	assert.Contains(t, res.UploadURL, res.ObjectPath)

	res, err = h.svc.IssueUploadURL(ctx, models.UploadURLRequest{MerchantID: "acme-co", Folder: models.FolderBrandImages, Filename: "logo.png"})
	require.NoError(t, err)
	assert.Equal(t, "application/octet-stream", res.Headers["Content-Type"])

	_, err = h.svc.IssueUploadURL(ctx, models.UploadURLRequest{MerchantID: "acme-co", Folder: "secrets", Filename: "a.txt"})
	assert.ErrorIs(t, err, models.ErrValidation)
	_, err = h.svc.IssueUploadURL(ctx, models.UploadURLRequest{MerchantID: "acme-co", Folder: models.FolderKnowledgeBase, Filename: "../"})
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestConfirmUpload(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	path := "merchants/acme-co/knowledge_base/faq.txt"

	_, err := h.svc.ConfirmUpload(ctx, models.ConfirmUploadRequest{ObjectPath: path})
	assert.ErrorIs(t, err, models.ErrNotFound)

	require.NoError(t, h.storage.PutObject(ctx, path, []byte("hello"), "text/plain"))
	res, err := h.svc.ConfirmUpload(ctx, models.ConfirmUploadRequest{ObjectPath: path})
	require.NoError(t, err)
	assert.Equal(t, "confirmed", res.Status)
	assert.Equal(t, int64(5), res.Size)
	assert.Equal(t, "text/plain", res.ContentType)
	assert.Equal(t, testCreatedAt, res.Created)

	_, err = h.svc.ConfirmUpload(ctx, models.ConfirmUploadRequest{ObjectPath: "other/file.txt"})
	assert.ErrorIs(t, err, models.ErrValidation)
}
