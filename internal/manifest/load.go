package manifest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/shenwei356/xopen"
)

// ErrMissingColumn is returned when a required header column is absent.
var ErrMissingColumn = errors.New("missing required column")

// LoadError reports a manifest that is missing or malformed. Nothing is
// written when loading fails.
type LoadError struct {
	Path string
	Line int // 1-based line number, 0 when not tied to a line
	Err  error
}

func (e *LoadError) Error() string {
	var b strings.Builder
	b.WriteString("load manifest")
	if e.Path != "" {
		b.WriteString(" ")
		b.WriteString(e.Path)
	}
	if e.Line > 0 {
		fmt.Fprintf(&b, " line %d", e.Line)
	}
	b.WriteString(": ")
	b.WriteString(e.Err.Error())
	return b.String()
}

func (e *LoadError) Unwrap() error { return e.Err }

// Options controls manifest parsing.
type Options struct {
	Comma rune // field delimiter, ',' when zero
}

// LoadFile opens path (plain or gzip-compressed, "-" for stdin) and parses
// it. When opts.Comma is zero, files ending in .tsv or .txt are
// tab-delimited and everything else is comma-delimited.
func LoadFile(path string, opts Options) (*Table, error) {
	r, err := xopen.Ropen(path)
	if err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}
	defer r.Close()

	if opts.Comma == 0 {
		opts.Comma = delimiterFor(path)
	}
	t, err := Load(r, opts)
	if err != nil {
		var le *LoadError
		if errors.As(err, &le) {
			le.Path = path
			return nil, le
		}
		return nil, &LoadError{Path: path, Err: err}
	}
	return t, nil
}

func delimiterFor(path string) rune {
	name := strings.TrimSuffix(strings.ToLower(path), ".gz")
	switch filepath.Ext(name) {
	case ".tsv", ".txt":
		return '\t'
	default:
		return ','
	}
}

// Load parses a delimited table with a header row. Only the Barcode, Group
// and ISB ID columns are read; others are ignored.
func Load(r io.Reader, opts Options) (*Table, error) {
	cr := csv.NewReader(r)
	if opts.Comma != 0 {
		cr.Comma = opts.Comma
	}
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, &LoadError{Err: errors.New("empty manifest")}
	}
	if err != nil {
		return nil, &LoadError{Line: 1, Err: err}
	}

	barcodeCol, groupCol, sampleCol := -1, -1, -1
	for i, col := range header {
		col = strings.TrimSpace(strings.TrimPrefix(col, "\ufeff"))
		switch col {
		case BarcodeColumn:
			barcodeCol = i
		case GroupColumn:
			groupCol = i
		case SampleIDColumn:
			sampleCol = i
		}
	}
	for _, c := range []struct {
		name string
		idx  int
	}{
		{BarcodeColumn, barcodeCol},
		{GroupColumn, groupCol},
		{SampleIDColumn, sampleCol},
	} {
		if c.idx < 0 {
			return nil, &LoadError{Line: 1, Err: fmt.Errorf("%w %q", ErrMissingColumn, c.name)}
		}
	}
	width := max(barcodeCol, groupCol, sampleCol) + 1

	var (
		rows  []Row
		lines []int
	)
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				return nil, &LoadError{Line: pe.Line, Err: pe.Err}
			}
			return nil, &LoadError{Err: err}
		}
		line, _ := cr.FieldPos(0)
		if isBlank(rec) {
			continue
		}
		if len(rec) < width {
			return nil, &LoadError{Line: line, Err: fmt.Errorf("expected at least %d fields, got %d", width, len(rec))}
		}

		barcode, err := parseBarcode(rec[barcodeCol])
		if err != nil {
			return nil, &LoadError{Line: line, Err: err}
		}
		rows = append(rows, Row{
			Barcode:  barcode,
			Group:    strings.TrimSpace(rec[groupCol]),
			SampleID: strings.TrimSpace(rec[sampleCol]),
		})
		lines = append(lines, line)
	}

	return newTable(rows, lines)
}

// parseBarcode accepts integer-like values, including the "7.0" form that
// spreadsheet exports produce.
func parseBarcode(s string) (int, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		if n < 0 {
			return 0, fmt.Errorf("negative barcode %d", n)
		}
		return n, nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f == float64(int(f)) {
		if f < 0 {
			return 0, fmt.Errorf("negative barcode %s", s)
		}
		return int(f), nil
	}
	return 0, fmt.Errorf("invalid barcode %q", s)
}

func isBlank(rec []string) bool {
	for _, f := range rec {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}
