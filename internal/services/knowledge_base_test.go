package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Lllllllleong/merchantonboarding/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSavePersonaCreatesMerchantWithoutJob(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	req := acmeRequest()
	req.BotTone = "cheerful"
	req.TopQuestions = []string{"Do you ship abroad?"}

	res, err := h.svc.SavePersona(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, &models.PersonaResult{MerchantID: "acme-co", Status: "saved", FoldersCreated: true}, res)

	m, err := h.svc.GetMerchant(ctx, "acme-co")
	require.NoError(t, err)
	assert.Equal(t, models.MerchantPending, m.Status)
	assert.Equal(t, "cheerful", m.BotTone)
	assert.Equal(t, []string{"Do you ship abroad?"}, m.TopQuestions)
	for _, folder := range models.MerchantFolders {
		assert.True(t, h.storage.has("merchants/acme-co/"+folder+"/.keep"), folder)
	}

	_, err = h.jobs.LatestJob(ctx, "acme-co")
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.Empty(t, h.dispatcher.tickets)

	res, err = h.svc.SavePersona(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "updated", res.Status)
}

func TestSavePersonaRejectsOtherOwner(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.svc.SavePersona(ctx, acmeRequest())
	require.NoError(t, err)

	req := acmeRequest()
	req.UserID = "user-2"
	_, err = h.svc.SavePersona(ctx, req)
	assert.ErrorIs(t, err, models.ErrMerchantOwnership)
}

func TestSavePersonaReportsFolderFailure(t *testing.T) {
	h := newHarness(t)
	h.storage.putErr["merchants/acme-co/brand-images/.keep"] = errors.New("bucket read-only")

	res, err := h.svc.SavePersona(context.Background(), acmeRequest())
	require.NoError(t, err)
	assert.False(t, res.FoldersCreated)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "bucket read-only")

	_, err = h.svc.GetMerchant(context.Background(), "acme-co")
	assert.NoError(t, err)
}

func TestSavePersonaValidation(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.SavePersona(context.Background(), models.OnboardRequest{UserID: "user-1"})
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestIssueBulkUploadURLs(t *testing.T) {
	h := newHarness(t)
	res, err := h.svc.IssueBulkUploadURLs(context.Background(), models.BulkUploadURLRequest{
		MerchantID: "acme-co",
		Files: []models.BulkUploadFile{
			{Folder: "knowledge_base", Filename: "products.csv", ContentType: "text/csv"},
			{Folder: "secrets", Filename: "x.txt"},
			{Folder: "brand-images", Filename: "logo.png"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Count)
	require.Len(t, res.URLs, 3)

	assert.Empty(t, res.URLs[0].Error)
	assert.Equal(t, "merchants/acme-co/knowledge_base/products.csv", res.URLs[0].ObjectPath)
	assert.Equal(t, "text/csv", res.URLs[0].Headers["Content-Type"])

	assert.Nil(t, res.URLs[1].UploadURLResponse)
	assert.Equal(t, "secrets", res.URLs[1].Folder)
	assert.NotEmpty(t, res.URLs[1].Error)

	assert.Equal(t, "merchants/acme-co/brand-images/logo.png", res.URLs[2].ObjectPath)
}

func TestIssueBulkUploadURLsValidation(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.IssueBulkUploadURLs(context.Background(), models.BulkUploadURLRequest{MerchantID: "acme-co"})
	assert.ErrorIs(t, err, models.ErrValidation)

	_, err = h.svc.IssueBulkUploadURLs(context.Background(), models.BulkUploadURLRequest{
		MerchantID: "Acme Co",
		Files:      []models.BulkUploadFile{{Folder: "knowledge_base", Filename: "a.txt"}},
	})
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestListKnowledgeBase(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.svc.SavePersona(ctx, acmeRequest())
	require.NoError(t, err)
	kb := "merchants/acme-co/knowledge_base/"
	h.storage.put(kb+"products.csv", acmeProductsCSV)
	h.storage.put(kb+"eu/faq.txt", "Ask us anything.")
	h.storage.put(kb+"categories.xls", "legacy")
	h.storage.put(kb+"brand.psd", "binary")

	res, err := h.svc.ListKnowledgeBase(ctx, "acme-co")
	require.NoError(t, err)
	assert.Equal(t, 4, res.FilesCount)

	kinds := map[string]string{}
	for _, f := range res.Files {
		kinds[f.Name] = f.Kind
		assert.Equal(t, kb+f.Name, f.ObjectPath)
		assert.Equal(t, "https://signed.example/download/"+f.ObjectPath+"?ttl=3600", f.DownloadURL)
		assert.Equal(t, 3600, f.ExpiresIn)
		assert.Equal(t, testCreatedAt, f.UploadedAt)
	}
	assert.Equal(t, map[string]string{
		"products.csv":   models.KindProducts,
		"eu/faq.txt":     models.KindDocument,
		"categories.xls": models.KindLegacy,
		"brand.psd":      models.KindUnsupported,
	}, kinds)

	_, err = h.svc.ListKnowledgeBase(ctx, "ghost")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestDeleteKnowledgeBaseFile(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	kb := "merchants/acme-co/knowledge_base/"
	h.storage.put(kb+"eu/faq.txt", "Ask us anything.")
	h.onboard(t, acmeRequest())

	objectPath, err := h.svc.DeleteKnowledgeBaseFile(ctx, "acme-co", "eu/faq.txt")
	require.NoError(t, err)
	assert.Equal(t, kb+"eu/faq.txt", objectPath)
	assert.False(t, h.storage.has(kb+"eu/faq.txt"))
	// Its training file goes away with the next run.
	assert.True(t, h.storage.has(acmeDocObject("eu/faq.txt")))

	_, err = h.svc.DeleteKnowledgeBaseFile(ctx, "acme-co", "eu/faq.txt")
	assert.ErrorIs(t, err, models.ErrNotFound)

	for _, name := range []string{"", "../merchant_config.json", "eu/../../x", ".keep"} {
		_, err = h.svc.DeleteKnowledgeBaseFile(ctx, "acme-co", name)
		assert.ErrorIs(t, err, models.ErrValidation, name)
	}

	h.clock = h.clock.Add(time.Minute)
	job := h.onboard(t, acmeRequest())
	assert.Contains(t, job.Steps[models.StepConvertDocuments].Message, "removed 1 stale files")
	assert.False(t, h.storage.has(acmeDocObject("eu/faq.txt")))
}

func TestDeleteKnowledgeBaseFileRefusesActiveJob(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.storage.put("merchants/acme-co/knowledge_base/faq.txt", "Ask us anything.")
	_, err := h.svc.StartOnboarding(ctx, acmeRequest())
	require.NoError(t, err)

	_, err = h.svc.DeleteKnowledgeBaseFile(ctx, "acme-co", "faq.txt")
	assert.ErrorIs(t, err, models.ErrJobActive)
	assert.True(t, h.storage.has("merchants/acme-co/knowledge_base/faq.txt"))
}

func TestGetMerchantConfig(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.svc.SavePersona(ctx, acmeRequest())
	require.NoError(t, err)

	_, err = h.svc.GetMerchantConfig(ctx, "acme-co")
	assert.ErrorIs(t, err, models.ErrNotFound)

	h.clock = h.clock.Add(time.Minute)
	h.onboard(t, acmeRequest())
	res, err := h.svc.GetMerchantConfig(ctx, "acme-co")
	require.NoError(t, err)
	assert.Equal(t, models.ConfigObjectPath("acme-co"), res.ConfigPath)
	assert.Equal(t, "Acme Co", res.Config["shop_name"])
	assert.Equal(t, "Acme Helper", res.Config["custom_chatbot"].(map[string]any)["title"])
}

func TestUpdateMerchantConfigMerges(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.onboard(t, acmeRequest())

	res, err := h.svc.UpdateMerchantConfig(ctx, "acme-co", map[string]any{
		"custom_chatbot": map[string]any{"color": "#ff0000", "greeting": "Howdy"},
		"support_email":  "help@acme.example",
	})
	require.NoError(t, err)
	assert.Equal(t, "updated", res.Status)
	assert.Equal(t, []string{"custom_chatbot", "support_email"}, res.UpdatedFields)

	stored, err := h.svc.GetMerchantConfig(ctx, "acme-co")
	require.NoError(t, err)
	chatbot := stored.Config["custom_chatbot"].(map[string]any)
	assert.Equal(t, "#ff0000", chatbot["color"])
	assert.Equal(t, "Howdy", chatbot["greeting"])
	assert.Equal(t, "Acme Helper", chatbot["title"])
	assert.Equal(t, "help@acme.example", stored.Config["support_email"])
	assert.Equal(t, "acme-co-engine", stored.Config["vertex_search"].(map[string]any)["datastore_id"])

	// The typed view still reads the merged document.
	cfg := readConfig(t, h, "acme-co")
	assert.Equal(t, "#ff0000", cfg.CustomChatbot.Color)
}

func TestUpdateMerchantConfigStartsFromGenerated(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.svc.SavePersona(ctx, acmeRequest())
	require.NoError(t, err)

	res, err := h.svc.UpdateMerchantConfig(ctx, "acme-co", map[string]any{"custom_chatbot": map[string]any{"position": "top-left"}})
	require.NoError(t, err)
	assert.Equal(t, models.ConfigObjectPath("acme-co"), res.ConfigPath)

	cfg := readConfig(t, h, "acme-co")
	assert.Equal(t, "top-left", cfg.CustomChatbot.Position)
	assert.Equal(t, "Acme Helper", cfg.CustomChatbot.Title)
	assert.Equal(t, models.DefaultColor, cfg.CustomChatbot.Color)

	m, err := h.svc.GetMerchant(ctx, "acme-co")
	require.NoError(t, err)
	assert.Equal(t, models.ConfigObjectPath("acme-co"), m.ConfigPath)
}

func TestUpdateMerchantConfigRejects(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.onboard(t, acmeRequest())

	_, err := h.svc.UpdateMerchantConfig(ctx, "acme-co", nil)
	assert.ErrorIs(t, err, models.ErrValidation)
	_, err = h.svc.UpdateMerchantConfig(ctx, "acme-co", map[string]any{"merchant_id": "other"})
	assert.ErrorIs(t, err, models.ErrValidation)
	_, err = h.svc.UpdateMerchantConfig(ctx, "ghost", map[string]any{"shop_name": "x"})
	assert.ErrorIs(t, err, models.ErrNotFound)
}
