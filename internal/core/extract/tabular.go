package extract

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ragline/ragline/internal/core"
)

// TabularExtractor serialises row-oriented exports (CSV, TSV, JSONL) into
// human-readable text with column headers inlined on every row, so a chunk
// stays interpretable without the header row. The table name is carried in
// the section metadata.
type TabularExtractor struct{}

func NewTabularExtractor() *TabularExtractor {
	return &TabularExtractor{}
}

var _ core.Extractor = (*TabularExtractor)(nil)

func (e *TabularExtractor) Extract(ctx context.Context, unit core.SourceUnit) (core.Extraction, error) {
	ext := strings.ToLower(filepath.Ext(unit.Origin))
	table := strings.TrimSuffix(filepath.Base(unit.Origin), ext)

	var rows []string
	var err error
	switch ext {
	case ".jsonl", ".ndjson":
		rows, err = jsonlRows(unit.Data)
	default:
		rows, err = csvRows(unit.Data, ext == ".tsv")
	}
	if err != nil {
		return core.Extraction{}, fmt.Errorf("%w: %s: %v", core.ErrExtraction, unit.Origin, err)
	}
	if len(rows) == 0 {
		return core.Extraction{}, fmt.Errorf("%w: %s: no rows", core.ErrExtraction, unit.Origin)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Table: %s\n", table)
	for _, r := range rows {
		b.WriteString(r)
		b.WriteByte('\n')
	}

	meta := core.StructMeta{
		Title:   table,
		Section: table,
		Table:   true,
	}
	return core.Extraction{Text: strings.TrimRight(b.String(), "\n"), Meta: meta}, nil
}

// csvRows renders each record as "header: value; header: value".
func csvRows(data []byte, tsv bool) ([]string, error) {
	r := csv.NewReader(bytes.NewReader(data))
	if tsv {
		r.Comma = '\t'
	}
	r.FieldsPerRecord = -1

	records, err := r.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) < 2 {
		return nil, nil
	}

	header := records[0]
	rows := make([]string, 0, len(records)-1)
	for _, rec := range records[1:] {
		var parts []string
		for i, v := range rec {
			if i >= len(header) {
				break
			}
			parts = append(parts, header[i]+": "+v)
		}
		rows = append(rows, strings.Join(parts, "; "))
	}
	return rows, nil
}

// jsonlRows renders each JSON object line with its keys in sorted order.
func jsonlRows(data []byte) ([]string, error) {
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)

	var rows []string
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var obj map[string]any
		if err := json.Unmarshal([]byte(line), &obj); err != nil {
			return nil, err
		}
		keys := make([]string, 0, len(obj))
		for k := range obj {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s: %v", k, obj[k]))
		}
		rows = append(rows, strings.Join(parts, "; "))
	}
	return rows, sc.Err()
}
