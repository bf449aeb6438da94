package convert

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"github.com/Lllllllleong/merchantonboarding/internal/models"
)

// NDJSONContentType is the content type of import files.
const NDJSONContentType = "application/x-ndjson"

// EncodeNDJSON writes one JSON object per line.
func EncodeNDJSON[T any](items []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, item := range items {
		if err := enc.Encode(item); err != nil {
			return nil, fmt.Errorf("encode line %d: %w", i+1, err)
		}
	}
	return buf.Bytes(), nil
}

const (
	knowledgeBaseDir   = "/knowledge_base/"
	documentHashLength = 8
)

// DocumentKey is the id stem of a source file: its sanitized path below the
// knowledge base plus a short hash of the full path, e.g.
// "merchants/acme-co/knowledge_base/eu/Shipping Policy.pdf" becomes
// "eu-Shipping-Policy-pdf-<8 hex>". Paths that sanitize alike still get
// distinct keys.
func DocumentKey(sourcePath string) string {
	rel := sourcePath
	if i := strings.LastIndex(rel, knowledgeBaseDir); i >= 0 {
		rel = rel[i+len(knowledgeBaseDir):]
	}
	ext := path.Ext(rel)
	readable := SanitizeID(strings.TrimSuffix(rel, ext) + "-" + strings.TrimPrefix(strings.ToLower(ext), "."))
	// Room for "-<hash>" and the "_<seq>" chunk suffix.
	if limit := maxDocumentIDLength - documentHashLength - 1 - 8; len(readable) > limit {
		readable = strings.TrimRight(readable[:limit], "-")
	}
	if readable == "" {
		readable = "doc"
	}
	sum := sha256.Sum256([]byte(sourcePath))
	return readable + "-" + hex.EncodeToString(sum[:])[:documentHashLength]
}

// DocumentObjectName is the training file holding a source document's chunks.
func DocumentObjectName(sourcePath string) string {
	return "doc-" + DocumentKey(sourcePath) + ".ndjson"
}

// ChunkDocuments turns chunks of one source file into search documents.
func ChunkDocuments(sourcePath string, chunks []Chunk) []models.SearchDocument {
	filename := path.Base(sourcePath)
	key := DocumentKey(sourcePath)
	docs := make([]models.SearchDocument, 0, len(chunks))
	for _, c := range chunks {
		title := filename
		if c.Seq > 0 {
			title = fmt.Sprintf("%s (Part %d)", filename, c.Seq+1)
		}
		docs = append(docs, searchDocument(fmt.Sprintf("%s_%d", key, c.Seq), c.Text, map[string]any{
			"title":        title,
			"source":       sourcePath,
			"filename":     filename,
			"chunk_index":  c.Seq,
			"total_chunks": len(chunks),
			"length":       c.Length,
		}))
	}
	return docs
}
