package parse

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"path/filepath"
	"strings"
)

// csvParser emits one chunk per data row, values paired with their
// column names so a row embeds as self-describing text. The header row
// itself is not a chunk; it rides along inside every row.
type csvParser struct{}

func newCSVParser() *csvParser { return &csvParser{} }

func (p *csvParser) Name() string { return "csv" }

func (p *csvParser) Extensions() []string {
	return []string{".csv", ".tsv"}
}

func (p *csvParser) Parse(_ context.Context, path string, data []byte) (*Document, error) {
	r := csv.NewReader(bytes.NewReader(data))
	if strings.EqualFold(filepath.Ext(path), ".tsv") {
		r.Comma = '\t'
	}
	r.LazyQuotes = true
	r.TrimLeadingSpace = true
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err == io.EOF {
		return &Document{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read header row: %w", err)
	}

	var chunks []Chunk
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row %d: %w", len(chunks)+2, err)
		}
		text := formatCSVRow(header, row)
		if text == "" {
			continue
		}
		chunks = append(chunks, Chunk{
			Index: len(chunks),
			Text:  text,
			Tag:   TagTableCell,
		})
	}

	return &Document{Chunks: chunks}, nil
}

// formatCSVRow renders one row as "name: value" pairs joined with
// commas. Values past the header width come through bare; empty values
// are dropped.
func formatCSVRow(header, row []string) string {
	parts := make([]string, 0, len(row))
	for j, val := range row {
		val = strings.TrimSpace(val)
		if val == "" {
			continue
		}
		name := ""
		if j < len(header) {
			name = strings.TrimSpace(header[j])
		}
		if name == "" {
			parts = append(parts, val)
		} else {
			parts = append(parts, name+": "+val)
		}
	}
	return strings.Join(parts, ", ")
}
