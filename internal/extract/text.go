package extract

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/xuri/excelize/v2"
)

// TextFileExtractor reads .txt files as UTF-8.
type TextFileExtractor struct{}

func (e *TextFileExtractor) Extract(_ context.Context, path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return string(b), nil
}

// ExcelExtractor renders each worksheet as a "=== Hoja: <name> ===" header
// followed by one line per non-empty row, cells joined with " | ".
type ExcelExtractor struct{}

func (e *ExcelExtractor) Extract(_ context.Context, path string) (string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return "", fmt.Errorf("open workbook %s: %w", path, err)
	}
	defer f.Close()

	var sheets []string
	for _, name := range f.GetSheetList() {
		rows, err := f.GetRows(name)
		if err != nil {
			return "", fmt.Errorf("read sheet %q: %w", name, err)
		}

		lines := []string{fmt.Sprintf("=== Hoja: %s ===", name)}
		for _, row := range rows {
			var cells []string
			for _, cell := range row {
				if v := strings.TrimSpace(cell); v != "" {
					cells = append(cells, v)
				}
			}
			if len(cells) > 0 {
				lines = append(lines, strings.Join(cells, " | "))
			}
		}
		if len(lines) > 1 {
			sheets = append(sheets, strings.Join(lines, "\n"))
		}
	}
	return strings.Join(sheets, "\n\n"), nil
}
