// Package convert turns merchant uploads into search-ingestible records.
package convert

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

// ErrUnsupported is returned for file types no converter handles.
var ErrUnsupported = errors.New("unsupported file type")

// Table is a parsed tabular upload. Rows map header names to trimmed cell
// values; empty cells are omitted.
type Table struct {
	Headers []string
	Rows    []map[string]string
}

// Lookup returns the first header matching one of the candidate names,
// ignoring case and treating spaces as underscores.
func (t *Table) Lookup(candidates ...string) (string, bool) {
	for _, c := range candidates {
		want := headerKey(c)
		for _, h := range t.Headers {
			if headerKey(h) == want {
				return h, true
			}
		}
	}
	return "", false
}

func headerKey(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), " ", "_")
}

// ReadTable parses CSV, XLSX or a JSON array of objects, chosen by extension.
func ReadTable(name string, data []byte) (*Table, error) {
	switch strings.ToLower(path.Ext(name)) {
	case ".csv":
		return readCSV(data)
	case ".xlsx":
		return readXLSX(data)
	case ".json":
		return readJSON(data)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, name)
	}
}

func readCSV(data []byte) (*Table, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.TrimLeadingSpace = true

	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse csv: %w", err)
	}
	return fromRecords(records), nil
}

func readXLSX(data []byte) (*Table, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to open xlsx: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return &Table{}, nil
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %q: %w", sheets[0], err)
	}
	return fromRecords(rows), nil
}

func fromRecords(records [][]string) *Table {
	t := &Table{}
	if len(records) == 0 {
		return t
	}
	for _, h := range records[0] {
		t.Headers = append(t.Headers, strings.TrimSpace(h))
	}
	for _, rec := range records[1:] {
		row := make(map[string]string, len(t.Headers))
		for i, cell := range rec {
			if i >= len(t.Headers) || t.Headers[i] == "" {
				continue
			}
			if v := strings.TrimSpace(cell); v != "" {
				row[t.Headers[i]] = v
			}
		}
		if len(row) > 0 {
			t.Rows = append(t.Rows, row)
		}
	}
	return t
}

func readJSON(data []byte) (*Table, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var items []map[string]any
	if err := dec.Decode(&items); err != nil {
		return nil, fmt.Errorf("failed to parse json array: %w", err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("failed to parse json array: trailing data")
	}

	t := &Table{}
	seen := map[string]bool{}
	for _, item := range items {
		row := make(map[string]string, len(item))
		keys := make([]string, 0, len(item))
		for k := range item {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			s := stringify(item[k])
			if s == "" {
				continue
			}
			if !seen[k] {
				seen[k] = true
				t.Headers = append(t.Headers, k)
			}
			row[k] = s
		}
		if len(row) > 0 {
			t.Rows = append(t.Rows, row)
		}
	}
	return t, nil
}

func stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(val)
	case json.Number:
		return val.String()
	case bool:
		return strconv.FormatBool(val)
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(b)
	}
}
