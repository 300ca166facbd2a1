package extract

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

// extractExcel streams every visible sheet row by row. Each sheet becomes one
// block of tab-delimited lines.
func extractExcel(ctx context.Context, content []byte) (string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		return "", fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	var blocks []string
	for _, sheet := range f.GetSheetList() {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if visible, err := f.GetSheetVisible(sheet); err == nil && !visible {
			continue
		}
		text, err := sheetText(f, sheet)
		if err != nil {
			return "", fmt.Errorf("sheet %q: %w", sheet, err)
		}
		blocks = append(blocks, text)
	}
	return joinBlocks(blocks), nil
}

func sheetText(f *excelize.File, sheet string) (string, error) {
	rows, err := f.Rows(sheet)
	if err != nil {
		return "", err
	}
	defer rows.Close()

	var b strings.Builder
	for rows.Next() {
		cols, err := rows.Columns()
		if err != nil {
			return "", err
		}
		writeRow(&b, cols)
	}
	if err := rows.Error(); err != nil {
		return "", err
	}
	return b.String(), nil
}
