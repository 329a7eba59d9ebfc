package export

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/japanese"
)

// Supported download encodings.
const (
	EncodingUTF8BOM = "utf8bom"
	EncodingCP932   = "cp932"
)

const bom = "\ufeff"

// SheetName is the worksheet used by the XLSX variant.
const SheetName = "仕訳帳"

// ParseEncoding maps user input to a supported encoding name.
func ParseEncoding(name string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "utf8bom", "utf-8-sig", "utf8", "utf-8":
		return EncodingUTF8BOM, nil
	case "cp932", "shift_jis", "sjis", "windows-31j":
		return EncodingCP932, nil
	}
	return "", fmt.Errorf("unsupported encoding %q", name)
}

// Encode renders text in the named encoding.
func Encode(text, enc string) ([]byte, error) {
	switch enc {
	case EncodingCP932:
		return EncodeCP932(text)
	case EncodingUTF8BOM, "":
		return WithUTF8BOM(text), nil
	}
	return nil, fmt.Errorf("Encode: unsupported encoding %q", enc)
}

// EncodeCP932 encodes text as Shift_JIS (Windows-31J). Characters outside
// the charset are replaced rather than rejected.
func EncodeCP932(text string) ([]byte, error) {
	enc := encoding.ReplaceUnsupported(japanese.ShiftJIS.NewEncoder())
	out, err := enc.Bytes([]byte(text))
	if err != nil {
		return nil, fmt.Errorf("EncodeCP932: %w", err)
	}
	return out, nil
}

// WithUTF8BOM prefixes text with a UTF-8 byte order mark so spreadsheet
// tools detect the charset.
func WithUTF8BOM(text string) []byte {
	return []byte(bom + text)
}

// XLSX renders rows (header first) as a single-sheet workbook.
func XLSX(rows [][]string) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetName); err != nil {
		return nil, fmt.Errorf("XLSX: rename sheet: %w", err)
	}

	for r, row := range rows {
		for c, value := range row {
			cell, err := excelize.CoordinatesToCellName(c+1, r+1)
			if err != nil {
				return nil, fmt.Errorf("XLSX: cell name: %w", err)
			}
			if err := f.SetCellValue(SheetName, cell, value); err != nil {
				return nil, fmt.Errorf("XLSX: set %s: %w", cell, err)
			}
		}
	}

	_ = f.SetColWidth(SheetName, "B", "B", 12)
	_ = f.SetColWidth(SheetName, "C", "C", 18)
	_ = f.SetColWidth(SheetName, "K", "K", 18)
	_ = f.SetColWidth(SheetName, "S", "T", 48)

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("XLSX: write: %w", err)
	}
	return buf.Bytes(), nil
}
