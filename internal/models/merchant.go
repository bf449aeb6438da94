package models

import (
	"regexp"
	"strings"
	"time"
)

// MerchantStatus is the lifecycle state of a merchant.
type MerchantStatus string

const (
	MerchantPending MerchantStatus = "pending"
	MerchantActive  MerchantStatus = "active"
	MerchantDeleted MerchantStatus = "deleted"
)

// Storefront platforms used to expand product handles into links.
const (
	PlatformShopify     = "shopify"
	PlatformWooCommerce = "woocommerce"
	PlatformWordPress   = "wordpress"
	PlatformCustom      = "custom"
)

// Merchant folders under merchants/{id}/.
const (
	FolderKnowledgeBase = "knowledge_base"
	FolderPromptDocs    = "prompt-docs"
	FolderTrainingFiles = "training_files"
	FolderBrandImages   = "brand-images"
)

// MerchantFolders lists every folder create_folders provisions.
var MerchantFolders = []string{FolderKnowledgeBase, FolderPromptDocs, FolderTrainingFiles, FolderBrandImages}

// Merchant is a tenant of the chatbot platform.
type Merchant struct {
	MerchantID        string         `gorm:"primaryKey;size:128" json:"merchant_id"`
	UserID            string         `gorm:"size:128;index;not null" json:"user_id"`
	ShopName          string         `gorm:"not null" json:"shop_name"`
	ShopURL           string         `json:"shop_url,omitempty"`
	BotName           string         `json:"bot_name,omitempty"`
	Platform          string         `gorm:"size:32" json:"platform,omitempty"`
	CustomURLPattern  string         `json:"custom_url_pattern,omitempty"`
	TargetCustomer    string         `gorm:"type:text" json:"target_customer,omitempty"`
	CustomerPersona   string         `gorm:"type:text" json:"customer_persona,omitempty"`
	BotTone           string         `json:"bot_tone,omitempty"`
	PromptText        string         `gorm:"type:text" json:"prompt_text,omitempty"`
	TopQuestions      []string       `gorm:"serializer:json" json:"top_questions,omitempty"`
	TopProducts       []string       `gorm:"serializer:json" json:"top_products,omitempty"`
	PrimaryColor      string         `gorm:"size:16" json:"primary_color,omitempty"`
	SecondaryColor    string         `gorm:"size:16" json:"secondary_color,omitempty"`
	LogoURL           string         `json:"logo_url,omitempty"`
	FontFamily        string         `json:"font_family,omitempty"`
	TagLine           string         `json:"tag_line,omitempty"`
	ChatPosition      string         `gorm:"size:32" json:"chat_position,omitempty"`
	Status            MerchantStatus `gorm:"size:16;index;not null" json:"status"`
	VertexDatastoreID string         `json:"vertex_datastore_id,omitempty"`
	ConfigPath        string         `json:"config_path,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
	DeletedAt         *time.Time     `json:"deleted_at,omitempty"`
}

func (Merchant) TableName() string { return "merchants" }

var (
	slugRun        = regexp.MustCompile(`[^a-z0-9]+`)
	merchantIDExpr = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)
)

// MerchantSlug derives a merchant id from a shop name: lowercase, runs of
// non-alphanumerics collapse to one hyphen, edge hyphens trimmed.
func MerchantSlug(name string) string {
	s := slugRun.ReplaceAllString(strings.ToLower(name), "-")
	return strings.Trim(s, "-")
}

// ValidMerchantID reports whether id is a well-formed slug.
func ValidMerchantID(id string) bool {
	return len(id) <= 63 && merchantIDExpr.MatchString(id)
}

// MerchantPrefix is the storage prefix owning every object of a merchant.
func MerchantPrefix(merchantID string) string {
	return "merchants/" + merchantID + "/"
}

// MerchantObject joins a merchant folder and object name into a storage path.
func MerchantObject(merchantID, folder, name string) string {
	return MerchantPrefix(merchantID) + folder + "/" + name
}

// DatastoreIDFor is the managed search datastore id owned by a merchant.
func DatastoreIDFor(merchantID string) string {
	return merchantID + "-engine"
}

// MerchantPatch carries a partial update. Nil fields are left untouched.
type MerchantPatch struct {
	ShopName         *string   `json:"shop_name,omitempty" validate:"omitempty,min=1,max=200"`
	ShopURL          *string   `json:"shop_url,omitempty" validate:"omitempty,url"`
	BotName          *string   `json:"bot_name,omitempty" validate:"omitempty,max=100"`
	Platform         *string   `json:"platform,omitempty" validate:"omitempty,oneof=shopify woocommerce wordpress custom"`
	CustomURLPattern *string   `json:"custom_url_pattern,omitempty" validate:"omitempty,contains={handle}"`
	TargetCustomer   *string   `json:"target_customer,omitempty"`
	CustomerPersona  *string   `json:"customer_persona,omitempty"`
	BotTone          *string   `json:"bot_tone,omitempty"`
	PromptText       *string   `json:"prompt_text,omitempty"`
	TopQuestions     *[]string `json:"top_questions,omitempty"`
	TopProducts      *[]string `json:"top_products,omitempty"`
	PrimaryColor     *string   `json:"primary_color,omitempty" validate:"omitempty,hexcolor"`
	SecondaryColor   *string   `json:"secondary_color,omitempty" validate:"omitempty,hexcolor"`
	LogoURL          *string   `json:"logo_url,omitempty"`
	FontFamily       *string   `json:"font_family,omitempty" validate:"omitempty,max=100"`
	TagLine          *string   `json:"tag_line,omitempty" validate:"omitempty,max=200"`
	ChatPosition     *string   `json:"chat_position,omitempty" validate:"omitempty,oneof=bottom-right bottom-left top-right top-left"`
}

// configFields are the patch fields rendered into merchant_config.json.
var configFields = map[string]bool{
	"shop_name":     true,
	"shop_url":      true,
	"bot_name":      true,
	"primary_color": true,
	"logo_url":      true,
	"font_family":   true,
	"tag_line":      true,
	"chat_position": true,
}

// IsEmpty reports whether the patch sets nothing.
func (p MerchantPatch) IsEmpty() bool {
	return !(p.ShopName != nil || p.ShopURL != nil || p.BotName != nil || p.Platform != nil ||
		p.CustomURLPattern != nil || p.TargetCustomer != nil || p.CustomerPersona != nil ||
		p.BotTone != nil || p.PromptText != nil || p.TopQuestions != nil || p.TopProducts != nil ||
		p.PrimaryColor != nil || p.SecondaryColor != nil || p.LogoURL != nil || p.FontFamily != nil ||
		p.TagLine != nil || p.ChatPosition != nil)
}

// Apply writes the patch onto m and returns the json names of fields whose
// value actually changed.
func (p MerchantPatch) Apply(m *Merchant) []string {
	var changed []string
	set := func(name string, dst *string, src *string) {
		if src != nil && *dst != *src {
			*dst = *src
			changed = append(changed, name)
		}
	}
	setList := func(name string, dst *[]string, src *[]string) {
		if src != nil && !equalStrings(*dst, *src) {
			*dst = append([]string(nil), (*src)...)
			changed = append(changed, name)
		}
	}
	set("shop_name", &m.ShopName, p.ShopName)
	set("shop_url", &m.ShopURL, p.ShopURL)
	set("bot_name", &m.BotName, p.BotName)
	set("platform", &m.Platform, p.Platform)
	set("custom_url_pattern", &m.CustomURLPattern, p.CustomURLPattern)
	set("target_customer", &m.TargetCustomer, p.TargetCustomer)
	set("customer_persona", &m.CustomerPersona, p.CustomerPersona)
	set("bot_tone", &m.BotTone, p.BotTone)
	set("prompt_text", &m.PromptText, p.PromptText)
	setList("top_questions", &m.TopQuestions, p.TopQuestions)
	setList("top_products", &m.TopProducts, p.TopProducts)
	set("primary_color", &m.PrimaryColor, p.PrimaryColor)
	set("secondary_color", &m.SecondaryColor, p.SecondaryColor)
	set("logo_url", &m.LogoURL, p.LogoURL)
	set("font_family", &m.FontFamily, p.FontFamily)
	set("tag_line", &m.TagLine, p.TagLine)
	set("chat_position", &m.ChatPosition, p.ChatPosition)
	return changed
}

// AffectsConfig reports whether any changed field is rendered into the
// merchant config document.
func AffectsConfig(changed []string) bool {
	for _, f := range changed {
		if configFields[f] {
			return true
		}
	}
	return false
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
