package vector

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
	"github.com/xuri/excelize/v2"
)

// maxDocumentSize caps how much of any single document is indexed.
const maxDocumentSize = 50 * 1024 * 1024

// ExtractText pulls plain text out of a document. Known text extensions
// are read directly; pdf/docx/xlsx go through their native parsers.
func ExtractText(ctx context.Context, path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	if info.Size() > maxDocumentSize {
		return "", fmt.Errorf("document %s exceeds size limit (%d bytes)", path, info.Size())
	}

	ext := strings.ToLower(filepath.Ext(path))
	switch {
	case knownTextExtensions[ext]:
		data, err := os.ReadFile(path)
		if err != nil {
			return "", err
		}
		return string(data), nil
	case ext == ".pdf":
		return extractPDF(path, info.Size())
	case ext == ".docx":
		return extractDocx(path)
	case ext == ".xlsx":
		return extractXlsx(path)
	default:
		return "", fmt.Errorf("unsupported document extension %q", ext)
	}
}

func extractPDF(path string, size int64) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = file.Close() }()

	reader, err := pdf.NewReader(file, size)
	if err != nil {
		return "", fmt.Errorf("failed to parse pdf: %w", err)
	}

	var parts []string
	for pageNum := 1; pageNum <= reader.NumPage(); pageNum++ {
		page := reader.Page(pageNum)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		if strings.TrimSpace(text) != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, "\n\n"), nil
}

func extractDocx(path string) (string, error) {
	doc, err := docx.ReadDocxFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to parse docx: %w", err)
	}
	defer func() { _ = doc.Close() }()
	return doc.Editable().GetContent(), nil
}

func extractXlsx(path string) (string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to parse xlsx: %w", err)
	}
	defer func() { _ = f.Close() }()

	var parts []string
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			continue
		}
		var b strings.Builder
		fmt.Fprintf(&b, "--- Sheet: %s ---\n", sheet)
		for _, row := range rows {
			line := strings.TrimSpace(strings.Join(row, "\t"))
			if line != "" {
				b.WriteString(line)
				b.WriteByte('\n')
			}
		}
		parts = append(parts, b.String())
	}
	return strings.Join(parts, "\n"), nil
}
