package convert

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

const acmeCSV = `Title,Image Src,Handle,Variant Price,SKU,Vendor
Blue Mug,https://cdn.example.com/mug.png,blue-mug,"$1,299.50",MUG-1,Acme
Red Cap,https://cdn.example.com/cap.png,https://acme.example/caps/red,12,CAP 2,Acme
Green Tee,https://cdn.example.com/tee.png,green-tee,,TEE-3,Acme
`

func TestReadTableCSV(t *testing.T) {
	table, err := ReadTable("products.csv", []byte("\xef\xbb\xbf"+acmeCSV))
	require.NoError(t, err)

	assert.Equal(t, []string{"Title", "Image Src", "Handle", "Variant Price", "SKU", "Vendor"}, table.Headers)
	require.Len(t, table.Rows, 3)
	assert.Equal(t, "$1,299.50", table.Rows[0]["Variant Price"])
	_, hasPrice := table.Rows[2]["Variant Price"]
	assert.False(t, hasPrice)
}

func TestReadTableXLSX(t *testing.T) {
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	require.NoError(t, f.SetSheetRow(sheet, "A1", &[]any{"name", "price"}))
	require.NoError(t, f.SetSheetRow(sheet, "A2", &[]any{"Widget", "9.99"}))
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)

	table, err := ReadTable("products.xlsx", buf.Bytes())
	require.NoError(t, err)
	require.Len(t, table.Rows, 1)
	assert.Equal(t, "Widget", table.Rows[0]["name"])
	assert.Equal(t, "9.99", table.Rows[0]["price"])
}

func TestReadTableJSON(t *testing.T) {
	table, err := ReadTable("products.json", []byte(`[{"name":"Widget","price":9.5,"tags":["a"],"empty":null}]`))
	require.NoError(t, err)
	require.Len(t, table.Rows, 1)
	assert.Equal(t, "9.5", table.Rows[0]["price"])
	assert.Equal(t, `["a"]`, table.Rows[0]["tags"])
	assert.NotContains(t, table.Rows[0], "empty")

	_, err = ReadTable("products.json", []byte(`{"name":"x"}`))
	assert.Error(t, err)
}

func TestReadTableUnsupported(t *testing.T) {
	_, err := ReadTable("products.numbers", nil)
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestCurateProductsDropsIncompleteRows(t *testing.T) {
	table, err := ReadTable("products.csv", []byte(acmeCSV))
	require.NoError(t, err)

	products, warnings := CurateProducts(table, LinkBuilder{ShopURL: "https://acme.example", Platform: "shopify"})

	require.Len(t, products, 2)
	assert.Equal(t, "Blue Mug", products[0].Name)
	assert.Equal(t, "https://acme.example/products/blue-mug", products[0].Link)
	assert.InDelta(t, 1299.50, products[0].Price, 0.0001)
	assert.Nil(t, products[0].CompareAtPrice)
	assert.Equal(t, "https://acme.example/caps/red", products[1].Link)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "row 3")
	assert.Contains(t, warnings[0], "price")
}

func TestCurateProductsCompareAtPrice(t *testing.T) {
	table, err := ReadTable("products.csv", []byte("name,image,url,price,original_price\nA,i.png,https://x/a,5,$7\n"))
	require.NoError(t, err)

	products, warnings := CurateProducts(table, LinkBuilder{})
	assert.Empty(t, warnings)
	require.Len(t, products, 1)
	require.NotNil(t, products[0].CompareAtPrice)
	assert.Equal(t, 7.0, *products[0].CompareAtPrice)
}

func TestLinkBuilder(t *testing.T) {
	assert.Equal(t, "https://shop.example/products/h", LinkBuilder{ShopURL: "https://shop.example/"}.Build("h"))
	assert.Equal(t, "https://shop.example/product/h", LinkBuilder{ShopURL: "shop.example", Platform: "woocommerce"}.Build("/h/"))
	assert.Equal(t, "https://shop.example/p/h.html", LinkBuilder{ShopURL: "https://shop.example", Platform: "custom", Pattern: "https://shop.example/p/{handle}.html"}.Build("h"))
	assert.Equal(t, "https://shop.example/collections/x/h", LinkBuilder{ShopURL: "https://shop.example"}.Build("collections/x/h"))
	assert.Equal(t, "h", LinkBuilder{}.Build("h"))
	assert.Equal(t, "", LinkBuilder{ShopURL: "https://shop.example"}.Build(""))
}

func TestFullProductsKeepsEveryRow(t *testing.T) {
	table, err := ReadTable("products.csv", []byte(acmeCSV))
	require.NoError(t, err)

	docs := FullProducts(table)

	require.Len(t, docs, 3)
	assert.Equal(t, "MUG-1", docs[0].ID)
	assert.Equal(t, "CAP-2", docs[1].ID)
	assert.Equal(t, "text/plain", docs[0].Content.MimeType)
	raw, err := base64.StdEncoding.DecodeString(docs[0].Content.RawBytes)
	require.NoError(t, err)
	assert.Equal(t, "Blue Mug", string(raw))
	assert.Equal(t, "$1,299.50", docs[0].StructData["Variant Price"])
	assert.Equal(t, "Blue Mug", docs[0].StructData["title"])
	assert.NotContains(t, docs[2].StructData, "Variant Price")
}

func TestFullProductsIDs(t *testing.T) {
	table, err := ReadTable("products.csv", []byte("id,name\nA/1,x\nA/1,y\n,z\n"))
	require.NoError(t, err)

	docs := FullProducts(table)
	require.Len(t, docs, 3)
	assert.Equal(t, "A-1", docs[0].ID)
	assert.Equal(t, "A-1-2", docs[1].ID)
	assert.Equal(t, "product-2", docs[2].ID)
}

func TestCategories(t *testing.T) {
	table, err := ReadTable("categories.csv", []byte("slug,name,description\nhome decor,Home Decor,Lamps and rugs\n"))
	require.NoError(t, err)

	docs := Categories(table, "acme-co")
	require.Len(t, docs, 1)
	assert.Equal(t, "category-acme-co-home-decor", docs[0].ID)
	assert.Equal(t, "category", docs[0].StructData["type"])
	assert.Equal(t, "acme-co", docs[0].StructData["merchant_id"])
	assert.Equal(t, "Home Decor", docs[0].StructData["title"])
	raw, _ := base64.StdEncoding.DecodeString(docs[0].Content.RawBytes)
	assert.Equal(t, "Lamps and rugs", string(raw))
}

func TestSanitizeID(t *testing.T) {
	assert.Equal(t, "a-b_c", SanitizeID("  a..b_c!! "))
	assert.Equal(t, "", SanitizeID("***"))
	assert.Len(t, SanitizeID(string(make([]byte, 100))+"abc"), 3)
}
