package models

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMerchantSlug(t *testing.T) {
	cases := map[string]string{
		"Acme Co":             "acme-co",
		"  Acme   & Co!! ":    "acme-co",
		"Café Bleu":           "caf-bleu",
		"ALL CAPS SHOP 2024":  "all-caps-shop-2024",
		"--already-slugged--": "already-slugged",
		"!!!":                 "",
	}
	for in, want := range cases {
		assert.Equal(t, want, MerchantSlug(in), in)
	}
}

func TestValidMerchantID(t *testing.T) {
	assert.True(t, ValidMerchantID("acme-co"))
	assert.True(t, ValidMerchantID("shop2"))
	assert.False(t, ValidMerchantID(""))
	assert.False(t, ValidMerchantID("Acme"))
	assert.False(t, ValidMerchantID("acme--co"))
	assert.False(t, ValidMerchantID("-acme"))
	assert.False(t, ValidMerchantID("acme/co"))
}

func TestMerchantPaths(t *testing.T) {
	assert.Equal(t, "merchants/acme-co/", MerchantPrefix("acme-co"))
	assert.Equal(t, "merchants/acme-co/knowledge_base/a.pdf", MerchantObject("acme-co", FolderKnowledgeBase, "a.pdf"))
	assert.Equal(t, "merchants/acme-co/merchant_config.json", ConfigObjectPath("acme-co"))
	assert.Equal(t, "merchants/acme-co/prompt-docs/products.json", CuratedProductsPath("acme-co"))
	assert.Equal(t, "acme-co-engine", DatastoreIDFor("acme-co"))
}

func TestMerchantPatchApply(t *testing.T) {
	m := Merchant{ShopName: "Acme", BotName: "Bot", TopQuestions: []string{"a"}}
	same := "Bot"
	name := "Acme Co"
	questions := []string{"a", "b"}
	tone := "friendly"

	changed := MerchantPatch{ShopName: &name, BotName: &same, TopQuestions: &questions, BotTone: &tone}.Apply(&m)

	assert.ElementsMatch(t, []string{"shop_name", "top_questions", "bot_tone"}, changed)
	assert.Equal(t, "Acme Co", m.ShopName)
	assert.Equal(t, []string{"a", "b"}, m.TopQuestions)
	assert.True(t, AffectsConfig(changed))
	assert.False(t, AffectsConfig([]string{"bot_tone", "top_questions"}))
}

func TestMerchantPatchIsEmpty(t *testing.T) {
	assert.True(t, MerchantPatch{}.IsEmpty())
	tone := ""
	assert.False(t, MerchantPatch{BotTone: &tone}.IsEmpty())
}

func TestValidationErrorUnwraps(t *testing.T) {
	err := error(&ValidationError{Fields: map[string]string{"shop_name": "is required", "user_id": "is required"}})
	assert.True(t, errors.Is(err, ErrValidation))
	assert.Equal(t, "validation failed: shop_name is required; user_id is required", err.Error())
}
