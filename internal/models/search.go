package models

// SearchDocument is one NDJSON line in the managed search import format.
type SearchDocument struct {
	ID         string         `json:"id"`
	Content    SearchContent  `json:"content"`
	StructData map[string]any `json:"struct_data"`
}

// SearchContent carries the base64 encoded text body of a document.
type SearchContent struct {
	MimeType string `json:"mime_type"`
	RawBytes string `json:"raw_bytes"`
}

// CuratedProduct is a prompt-facing catalog entry.
type CuratedProduct struct {
	Name           string   `json:"name"`
	ImageURL       string   `json:"image_url"`
	Link           string   `json:"link"`
	Price          float64  `json:"price"`
	CompareAtPrice *float64 `json:"compare_at_price,omitempty"`
}

// DatastoreConfig describes how a merchant datastore is created.
type DatastoreConfig struct {
	DisplayName string
	// ContentRequired selects CONTENT_REQUIRED rather than NO_CONTENT.
	ContentRequired bool
}
