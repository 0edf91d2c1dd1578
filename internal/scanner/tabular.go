package scanner

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/dharsanguruparan/LabelDrop/internal/model"
)

// readRows returns the cells of a tabular document. TXT yields one cell per
// line; CSV sniffs the delimiter from the first line; XLSX reads the first
// sheet.
func readRows(kind model.DocumentKind, data []byte) ([][]string, error) {
	switch kind {
	case model.KindTXT:
		return readLines(data), nil
	case model.KindCSV:
		return readCSV(data)
	case model.KindXLSX:
		return readXLSX(data)
	}
	return nil, fmt.Errorf("%w: %q is not tabular", ErrUnsupportedKind, kind)
}

func readLines(data []byte) [][]string {
	var rows [][]string
	sc := bufio.NewScanner(bytes.NewReader(trimBOM(data)))
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		rows = append(rows, []string{strings.TrimRight(sc.Text(), "\r")})
	}
	return rows
}

func readCSV(data []byte) ([][]string, error) {
	data = trimBOM(data)
	return readDelimited(data, sniffDelimiter(data))
}

func readDelimited(data []byte, comma rune) ([][]string, error) {
	r := csv.NewReader(bytes.NewReader(trimBOM(data)))
	r.Comma = comma
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: csv: %v", ErrCorruptDocument, err)
	}
	return rows, nil
}

func sniffDelimiter(data []byte) rune {
	first := data
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		first = data[:i]
	}
	best, bestN := ',', bytes.Count(first, []byte{','})
	for _, d := range []rune{';', '\t'} {
		if n := bytes.Count(first, []byte(string(d))); n > bestN {
			best, bestN = d, n
		}
	}
	return best
}

func readXLSX(data []byte) ([][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: xlsx: %v", ErrCorruptDocument, err)
	}
	defer f.Close()
	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, ErrEmptyDocument
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("%w: xlsx: %v", ErrCorruptDocument, err)
	}
	return rows, nil
}

func trimBOM(data []byte) []byte {
	return bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
}

func blank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

func cell(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}
