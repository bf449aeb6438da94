package models

// Chatbot presentation defaults applied when a merchant leaves a field blank.
const (
	DefaultBotName      = "AI Assistant"
	DefaultColor        = "#667eea"
	DefaultFontFamily   = "Inter"
	DefaultTagLine      = "How can I help you today?"
	DefaultChatPosition = "bottom-right"
)

// MerchantConfig is the document written to merchants/{id}/merchant_config.json
// and consumed by the chatbot runtime.
type MerchantConfig struct {
	UserID        string              `json:"user_id"`
	MerchantID    string              `json:"merchant_id"`
	ShopName      string              `json:"shop_name"`
	ShopURL       string              `json:"shop_url"`
	BotName       string              `json:"bot_name"`
	Products      ProductsConfig      `json:"products"`
	VertexSearch  VertexSearchConfig  `json:"vertex_search"`
	CustomChatbot CustomChatbotConfig `json:"custom_chatbot"`
}

type ProductsConfig struct {
	BucketName string `json:"bucket_name"`
	FilePath   string `json:"file_path"`
}

type VertexSearchConfig struct {
	ProjectID   string `json:"project_id"`
	Location    string `json:"location"`
	DatastoreID string `json:"datastore_id"`
}

type CustomChatbotConfig struct {
	Title         string `json:"title"`
	LogoSignedURL string `json:"logo_signed_url"`
	Color         string `json:"color"`
	FontFamily    string `json:"font_family"`
	TagLine       string `json:"tag_line"`
	Position      string `json:"position"`
}

// ConfigObjectPath is where a merchant's config document lives.
func ConfigObjectPath(merchantID string) string {
	return MerchantPrefix(merchantID) + "merchant_config.json"
}

// CuratedProductsPath is the prompt-facing product catalog of a merchant.
func CuratedProductsPath(merchantID string) string {
	return MerchantObject(merchantID, FolderPromptDocs, "products.json")
}
