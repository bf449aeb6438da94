package convert

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"path"
	"regexp"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"golang.org/x/net/html"
)

// PageBreak separates PDF pages in extracted text.
const PageBreak = "\f"

var documentExtensions = map[string]bool{
	".pdf":  true,
	".docx": true,
	".txt":  true,
	".md":   true,
	".html": true,
	".htm":  true,
}

// IsDocument reports whether name has an extension Extract handles.
func IsDocument(name string) bool {
	return documentExtensions[strings.ToLower(path.Ext(name))]
}

// Extract returns the plain text of a document, dispatching on extension.
// A document with no extractable text yields "" and no error.
func Extract(name string, data []byte) (string, error) {
	switch strings.ToLower(path.Ext(name)) {
	case ".pdf":
		return ExtractPDF(data)
	case ".docx":
		return extractDOCX(data)
	case ".txt", ".md":
		return extractPlain(data), nil
	case ".html", ".htm":
		return extractHTML(data)
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupported, name)
	}
}

// PDFPageCount validates a PDF in relaxed mode and returns its page count.
func PDFPageCount(data []byte) (int, error) {
	cfg := model.NewDefaultConfiguration()
	cfg.ValidationMode = model.ValidationRelaxed
	n, err := api.PageCount(bytes.NewReader(data), cfg)
	if err != nil {
		return 0, fmt.Errorf("invalid pdf: %w", err)
	}
	return n, nil
}

// ExtractPDF returns the text of every page joined by PageBreak.
func ExtractPDF(data []byte) (string, error) {
	if _, err := PDFPageCount(data); err != nil {
		return "", err
	}
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("pdf reader: %w", err)
	}

	pages := make([]string, 0, r.NumPage())
	for i := 1; i <= r.NumPage(); i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			pages = append(pages, "")
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("pdf page %d: %w", i, err)
		}
		pages = append(pages, strings.TrimSpace(text))
	}

	joined := strings.Join(pages, PageBreak)
	if strings.TrimSpace(strings.ReplaceAll(joined, PageBreak, "")) == "" {
		return "", nil
	}
	return joined, nil
}

func extractPlain(data []byte) string {
	s := strings.ToValidUTF8(string(data), "\uFFFD")
	s = strings.TrimPrefix(s, "\uFEFF")
	return strings.ReplaceAll(s, "\r\n", "\n")
}

// extractDOCX reads word/document.xml, keeping one blank line between
// paragraphs.
func extractDOCX(data []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("docx archive: %w", err)
	}
	var doc *zip.File
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			doc = f
			break
		}
	}
	if doc == nil {
		return "", fmt.Errorf("docx archive: word/document.xml not found")
	}
	rc, err := doc.Open()
	if err != nil {
		return "", fmt.Errorf("docx open: %w", err)
	}
	defer rc.Close()

	dec := xml.NewDecoder(rc)
	var out, para strings.Builder
	flush := func() {
		if p := strings.TrimSpace(para.String()); p != "" {
			if out.Len() > 0 {
				out.WriteString("\n\n")
			}
			out.WriteString(p)
		}
		para.Reset()
	}
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("docx xml: %w", err)
		}
		switch el := tok.(type) {
		case xml.StartElement:
			switch el.Name.Local {
			case "t":
				var v string
				if err := dec.DecodeElement(&v, &el); err != nil {
					return "", fmt.Errorf("docx text: %w", err)
				}
				para.WriteString(v)
			case "tab":
				para.WriteString("\t")
			case "br", "cr":
				para.WriteString("\n")
			}
		case xml.EndElement:
			if el.Name.Local == "p" {
				flush()
			}
		}
	}
	flush()
	return out.String(), nil
}

var (
	skippedHTMLElements = map[string]bool{"script": true, "style": true, "noscript": true, "template": true}
	blockHTMLElements   = map[string]bool{
		"p": true, "div": true, "br": true, "li": true, "ul": true, "ol": true, "tr": true,
		"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
		"section": true, "article": true, "header": true, "footer": true, "table": true,
		"blockquote": true, "pre": true, "title": true,
	}
	inlineSpace = regexp.MustCompile(`[ \t\r\v]+`)
	blankLines  = regexp.MustCompile(`\n\s*\n+`)
)

func extractHTML(data []byte) (string, error) {
	z := html.NewTokenizer(bytes.NewReader(data))
	var out strings.Builder
	skip := 0
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			if err := z.Err(); err != io.EOF {
				return "", fmt.Errorf("html: %w", err)
			}
			return normalizeHTMLText(out.String()), nil
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if skippedHTMLElements[tag] && tt == html.StartTagToken {
				skip++
			}
			if blockHTMLElements[tag] {
				out.WriteString("\n")
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if skippedHTMLElements[tag] && skip > 0 {
				skip--
			}
			if blockHTMLElements[tag] {
				out.WriteString("\n")
			}
		case html.TextToken:
			if skip == 0 {
				out.Write(z.Text())
			}
		}
	}
}

func normalizeHTMLText(s string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(inlineSpace.ReplaceAllString(l, " "))
	}
	s = strings.Join(lines, "\n")
	s = blankLines.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
