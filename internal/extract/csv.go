package extract

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

// extractCSV handles Sheets, which Drive exports as CSV. Each row becomes one
// tab-delimited line, matching what extractExcel emits.
func extractCSV(content []byte) (string, error) {
	r := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(content, utf8BOM)))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.ReuseRecord = true

	var b strings.Builder
	for line := 1; ; line++ {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("parse CSV row %d: %w", line, err)
		}
		writeRow(&b, row)
	}
	return strings.TrimSpace(b.String()), nil
}

// writeRow appends row as a tab-joined line. Trailing empty cells are dropped
// and rows with no content are skipped entirely.
func writeRow(b *strings.Builder, row []string) {
	end := len(row)
	for end > 0 && strings.TrimSpace(row[end-1]) == "" {
		end--
	}
	if end == 0 {
		return
	}
	for i, cell := range row[:end] {
		if i > 0 {
			b.WriteByte('\t')
		}
		b.WriteString(strings.TrimSpace(cell))
	}
	b.WriteByte('\n')
}
