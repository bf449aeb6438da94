package convert

import (
	"encoding/base64"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/Lllllllleong/merchantonboarding/internal/models"
)

// Header synonyms, matched case-insensitively in order of preference.
var (
	nameColumns         = []string{"title", "name", "product_name", "product title", "product_title"}
	imageColumns        = []string{"image", "image_url", "image_src", "featured_image", "featured_image_url", "image_url_1"}
	linkColumns         = []string{"url", "link", "handle", "product_url", "product_link", "product_handle"}
	priceColumns        = []string{"price", "variant_price", "amount", "cost"}
	compareAtColumns    = []string{"compare_at_price", "variant_compare_at_price", "original_price"}
	productIDColumns    = []string{"id", "sku", "product_id", "variant_id"}
	descriptionColumns  = []string{"description", "body_html", "body", "product_description"}
	categoryIDColumns   = []string{"id", "category_id", "categoryid", "slug", "handle"}
	categoryNameColumns = []string{"name", "title", "category_name", "categoryname", "label"}
	categoryDescColumns = []string{"description", "desc", "category_description", "body"}
)

const maxDocumentIDLength = 63

var (
	invalidIDChars = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)
	hyphenRuns     = regexp.MustCompile(`-+`)
)

// SanitizeID reduces s to the [a-zA-Z0-9-_] alphabet accepted as a document id.
func SanitizeID(s string) string {
	s = invalidIDChars.ReplaceAllString(s, "-")
	s = hyphenRuns.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	if len(s) > maxDocumentIDLength {
		s = strings.TrimRight(s[:maxDocumentIDLength], "-")
	}
	return s
}

// LinkBuilder expands bare product handles into absolute storefront links.
type LinkBuilder struct {
	ShopURL  string
	Platform string
	// Pattern is used for custom platforms and must contain {handle}.
	Pattern string
}

// Build returns raw untouched when it is already absolute or no shop URL is
// known.
func (b LinkBuilder) Build(raw string) string {
	raw = strings.TrimSpace(raw)
	lower := strings.ToLower(raw)
	if raw == "" || strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		return raw
	}
	handle := strings.Trim(raw, "/")
	if b.Platform == models.PlatformCustom && strings.Contains(b.Pattern, "{handle}") {
		return strings.ReplaceAll(b.Pattern, "{handle}", handle)
	}
	base := strings.TrimRight(strings.TrimSpace(b.ShopURL), "/")
	if base == "" {
		return raw
	}
	if !strings.Contains(base, "://") {
		base = "https://" + base
	}
	if strings.Contains(handle, "/") {
		return base + "/" + handle
	}
	switch b.Platform {
	case models.PlatformWooCommerce, models.PlatformWordPress:
		return base + "/product/" + handle
	default:
		return base + "/products/" + handle
	}
}

// ParsePrice strips currency decoration and parses the remainder.
func ParsePrice(s string) (float64, bool) {
	s = strings.NewReplacer("$", "", ",", "", " ", "").Replace(strings.TrimSpace(s))
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// CurateProducts projects a product table onto the four prompt-facing fields.
// Rows missing any of them are dropped and reported as warnings.
func CurateProducts(t *Table, links LinkBuilder) ([]models.CuratedProduct, []string) {
	nameCol, _ := t.Lookup(nameColumns...)
	imageCol, _ := t.Lookup(imageColumns...)
	linkCol, _ := t.Lookup(linkColumns...)
	priceCol, _ := t.Lookup(priceColumns...)
	compareCol, hasCompare := t.Lookup(compareAtColumns...)

	products := make([]models.CuratedProduct, 0, len(t.Rows))
	var warnings []string
	for i, row := range t.Rows {
		var missing []string
		name := row[nameCol]
		if name == "" {
			missing = append(missing, "name")
		}
		image := row[imageCol]
		if image == "" {
			missing = append(missing, "image_url")
		}
		link := links.Build(row[linkCol])
		if link == "" {
			missing = append(missing, "link")
		}
		price, ok := ParsePrice(row[priceCol])
		if !ok {
			missing = append(missing, "price")
		}
		if len(missing) > 0 {
			warnings = append(warnings, fmt.Sprintf("row %d skipped: missing %s", i+1, strings.Join(missing, ", ")))
			continue
		}

		p := models.CuratedProduct{Name: name, ImageURL: image, Link: link, Price: price}
		if hasCompare {
			if v, ok := ParsePrice(row[compareCol]); ok {
				p.CompareAtPrice = &v
			}
		}
		products = append(products, p)
	}
	return products, warnings
}

// FullProducts converts every row into a search document carrying all of its
// columns.
func FullProducts(t *Table) []models.SearchDocument {
	idCol, hasID := t.Lookup(productIDColumns...)
	titleCol, _ := t.Lookup(nameColumns...)
	descCol, _ := t.Lookup(descriptionColumns...)

	ids := newIDSet()
	docs := make([]models.SearchDocument, 0, len(t.Rows))
	for i, row := range t.Rows {
		fallback := fmt.Sprintf("product-%d", i)
		id := ""
		if hasID {
			id = SanitizeID(row[idCol])
		}
		if id == "" {
			id = fallback
		}

		title := row[titleCol]
		if title == "" {
			title = "Untitled Product"
		}
		body := row[descCol]
		if body == "" {
			body = title
		}
		docs = append(docs, searchDocument(ids.claim(id), body, rowData(row, nil, title)))
	}
	return docs
}

// Categories converts a category table into search documents tagged
// type=category.
func Categories(t *Table, merchantID string) []models.SearchDocument {
	idCol, hasID := t.Lookup(categoryIDColumns...)
	nameCol, _ := t.Lookup(categoryNameColumns...)
	descCol, _ := t.Lookup(categoryDescColumns...)

	ids := newIDSet()
	docs := make([]models.SearchDocument, 0, len(t.Rows))
	for i, row := range t.Rows {
		key := strconv.Itoa(i)
		if hasID && row[idCol] != "" {
			key = row[idCol]
		}
		id := SanitizeID(fmt.Sprintf("category-%s-%s", merchantID, key))
		if id == "" {
			id = fmt.Sprintf("category-%d", i)
		}

		title := row[nameCol]
		if title == "" {
			title = "Untitled Category"
		}
		body := row[descCol]
		if body == "" {
			body = title
		}
		base := map[string]any{"type": "category", "merchant_id": merchantID}
		docs = append(docs, searchDocument(ids.claim(id), body, rowData(row, base, title)))
	}
	return docs
}

func rowData(row map[string]string, base map[string]any, title string) map[string]any {
	data := make(map[string]any, len(row)+len(base)+1)
	for k, v := range base {
		data[k] = v
	}
	for k, v := range row {
		data[k] = v
	}
	data["title"] = title
	return data
}

func searchDocument(id, body string, data map[string]any) models.SearchDocument {
	return models.SearchDocument{
		ID: id,
		Content: models.SearchContent{
			MimeType: "text/plain",
			RawBytes: base64.StdEncoding.EncodeToString([]byte(body)),
		},
		StructData: data,
	}
}

// idSet hands out unique ids, suffixing -2, -3... on collisions.
type idSet map[string]int

func newIDSet() idSet { return idSet{} }

func (s idSet) claim(id string) string {
	n := s[id]
	s[id] = n + 1
	if n == 0 {
		return id
	}
	for {
		n++
		candidate := fmt.Sprintf("%s-%d", id, n)
		if _, taken := s[candidate]; !taken {
			s[candidate] = 1
			s[id] = n
			return candidate
		}
	}
}
