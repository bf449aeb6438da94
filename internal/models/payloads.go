package models

import "time"

// These structs define the JSON payloads exchanged with the HTTP layer and
// the job dispatchers.

// OnboardRequest starts onboarding for a merchant.
type OnboardRequest struct {
	UserID           string   `json:"user_id" validate:"required,max=128"`
	MerchantID       string   `json:"merchant_id,omitempty" validate:"omitempty,max=63"`
	ShopName         string   `json:"shop_name" validate:"required,max=200"`
	ShopURL          string   `json:"shop_url,omitempty" validate:"omitempty,url"`
	BotName          string   `json:"bot_name,omitempty" validate:"omitempty,max=100"`
	Platform         string   `json:"platform,omitempty" validate:"omitempty,oneof=shopify woocommerce wordpress custom"`
	CustomURLPattern string   `json:"custom_url_pattern,omitempty" validate:"omitempty,contains={handle}"`
	TargetCustomer   string   `json:"target_customer,omitempty"`
	CustomerPersona  string   `json:"customer_persona,omitempty"`
	BotTone          string   `json:"bot_tone,omitempty"`
	PromptText       string   `json:"prompt_text,omitempty"`
	TopQuestions     []string `json:"top_questions,omitempty"`
	TopProducts      []string `json:"top_products,omitempty"`
	PrimaryColor     string   `json:"primary_color,omitempty" validate:"omitempty,hexcolor"`
	SecondaryColor   string   `json:"secondary_color,omitempty" validate:"omitempty,hexcolor"`
	LogoURL          string   `json:"logo_url,omitempty"`
	FontFamily       string   `json:"font_family,omitempty" validate:"omitempty,max=100"`
	TagLine          string   `json:"tag_line,omitempty" validate:"omitempty,max=200"`
	ChatPosition     string   `json:"chat_position,omitempty" validate:"omitempty,oneof=bottom-right bottom-left top-right top-left"`

	// FilePaths is accepted from older clients and ignored; inputs are always
	// discovered under knowledge_base/.
	FilePaths map[string]any `json:"file_paths,omitempty"`
}

// StartResult is returned once a job has been created and handed off.
type StartResult struct {
	JobID      string    `json:"job_id"`
	MerchantID string    `json:"merchant_id"`
	Status     JobStatus `json:"status"`
	StatusURL  string    `json:"status_url"`
}

// JobTicket is the message a dispatcher delivers to an executor.
type JobTicket struct {
	JobID      string `json:"jobId"`
	MerchantID string `json:"merchantId"`
}

// UploadURLRequest asks for a signed upload URL inside a merchant folder.
type UploadURLRequest struct {
	MerchantID  string `json:"merchant_id" validate:"required,max=63"`
	Folder      string `json:"folder" validate:"required,oneof=knowledge_base prompt-docs training_files brand-images"`
	Filename    string `json:"filename" validate:"required,max=255"`
	ContentType string `json:"content_type,omitempty"`
}

// UploadURLResponse describes how the client should perform the upload.
type UploadURLResponse struct {
	UploadURL  string            `json:"upload_url"`
	ObjectPath string            `json:"object_path"`
	ExpiresIn  int               `json:"expires_in"`
	Method     string            `json:"method"`
	Headers    map[string]string `json:"headers"`
}

// ConfirmUploadRequest checks that a client upload landed.
type ConfirmUploadRequest struct {
	ObjectPath string `json:"object_path" validate:"required"`
}

// ConfirmUploadResponse echoes the stored object's metadata.
type ConfirmUploadResponse struct {
	Status      string    `json:"status"`
	ObjectPath  string    `json:"object_path"`
	Size        int64     `json:"size"`
	ContentType string    `json:"content_type"`
	Created     time.Time `json:"created"`
}

// MerchantUpdateResult reports a patched merchant plus any side effects that
// did not succeed.
type MerchantUpdateResult struct {
	Merchant          *Merchant `json:"merchant"`
	UpdatedFields     []string  `json:"updated_fields"`
	ConfigRegenerated bool      `json:"config_regenerated"`
	DatastoreRenamed  bool      `json:"datastore_renamed"`
	Warnings          []string  `json:"warnings,omitempty"`
}

// ObjectInfo is the metadata the storage gateway exposes for an object.
type ObjectInfo struct {
	Path        string    `json:"path"`
	Size        int64     `json:"size"`
	ContentType string    `json:"content_type"`
	CreatedAt   time.Time `json:"created_at"`
}

// PersonaResult reports a persona save. Status is "saved" for a new merchant
// and "updated" otherwise.
type PersonaResult struct {
	MerchantID     string   `json:"merchant_id"`
	Status         string   `json:"status"`
	FoldersCreated bool     `json:"folders_created"`
	Warnings       []string `json:"warnings,omitempty"`
}

// BulkUploadURLRequest asks for several signed upload URLs at once.
type BulkUploadURLRequest struct {
	MerchantID string           `json:"merchant_id" validate:"required,max=63"`
	Files      []BulkUploadFile `json:"files" validate:"required,min=1,max=100"`
}

// BulkUploadFile is one entry of a bulk upload request. Entries are
// validated one by one so a bad entry does not fail the batch.
type BulkUploadFile struct {
	Folder      string `json:"folder"`
	Filename    string `json:"filename"`
	ContentType string `json:"content_type,omitempty"`
}

// BulkUploadURLResult is either a signed URL or the reason one was not
// issued.
type BulkUploadURLResult struct {
	Filename string `json:"filename"`
	Folder   string `json:"folder"`
	*UploadURLResponse
	Error string `json:"error,omitempty"`
}

type BulkUploadURLResponse struct {
	MerchantID string                `json:"merchant_id"`
	Count      int                   `json:"count"`
	URLs       []BulkUploadURLResult `json:"urls"`
}

// Knowledge base file kinds, as the pipeline will treat them.
const (
	KindProducts    = "products"
	KindCategories  = "categories"
	KindDocument    = "document"
	KindLegacy      = "legacy_excel"
	KindUnsupported = "unsupported"
)

// KnowledgeBaseFile describes one uploaded source file.
type KnowledgeBaseFile struct {
	Name        string    `json:"name"`
	ObjectPath  string    `json:"object_path"`
	Kind        string    `json:"kind"`
	Size        int64     `json:"size"`
	ContentType string    `json:"content_type"`
	UploadedAt  time.Time `json:"uploaded_at"`
	DownloadURL string    `json:"download_url,omitempty"`
	ExpiresIn   int       `json:"download_url_expires_in,omitempty"`
	Error       string    `json:"error,omitempty"`
}

type KnowledgeBaseListing struct {
	MerchantID string              `json:"merchant_id"`
	Files      []KnowledgeBaseFile `json:"files"`
	FilesCount int                 `json:"files_count"`
}

// StoredConfig is the config document as last written.
type StoredConfig struct {
	MerchantID string         `json:"merchant_id"`
	ConfigPath string         `json:"config_path"`
	Config     map[string]any `json:"config"`
}

// ConfigUpdateResult reports a merge into the stored config document.
type ConfigUpdateResult struct {
	MerchantID    string   `json:"merchant_id"`
	Status        string   `json:"status"`
	ConfigPath    string   `json:"config_path"`
	UpdatedFields []string `json:"updated_fields"`
}
