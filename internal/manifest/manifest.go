// Package manifest holds the sample sheet that maps sequencing run groups
// and barcodes to sample identifiers.
package manifest

import "fmt"

// Column names expected in the manifest header.
const (
	BarcodeColumn  = "Barcode"
	GroupColumn    = "Group"
	SampleIDColumn = "ISB ID"
)

// Row is one entry in the sample sheet.
type Row struct {
	Barcode  int    // physical barcode lane within the run
	Group    string // run identifier, matches a top-level directory
	SampleID string // ISB ID, base name of the output artifact
}

// String identifies the row in diagnostics.
func (r Row) String() string {
	return fmt.Sprintf("group=%s barcode=%d sample=%s", r.Group, r.Barcode, r.SampleID)
}

// Group is the set of rows sharing one run identifier.
type Group struct {
	Name string
	Rows []Row
}

// Table is an immutable, loaded manifest.
type Table struct {
	rows   []Row
	groups []Group
}

// NewTable builds a table from rows, validating the fields needed to group
// and iterate. Rows keep the order given.
func NewTable(rows []Row) (*Table, error) {
	return newTable(rows, nil)
}

// newTable validates rows; lines, when set, maps each row to its source line.
func newTable(rows []Row, lines []int) (*Table, error) {
	lineOf := func(i int) int {
		if i < len(lines) {
			return lines[i]
		}
		return 0
	}

	seen := make(map[rowKey]int, len(rows))
	index := make(map[string]int)
	var groups []Group

	for i, r := range rows {
		if r.Barcode < 0 {
			return nil, &LoadError{Line: lineOf(i), Err: fmt.Errorf("negative barcode %d", r.Barcode)}
		}
		if r.Group == "" {
			return nil, &LoadError{Line: lineOf(i), Err: fmt.Errorf("empty %s", GroupColumn)}
		}
		if r.SampleID == "" {
			return nil, &LoadError{Line: lineOf(i), Err: fmt.Errorf("empty %s", SampleIDColumn)}
		}

		key := rowKey{group: r.Group, barcode: r.Barcode}
		if prev, ok := seen[key]; ok {
			return nil, &LoadError{
				Line: lineOf(i),
				Err:  fmt.Errorf("duplicate barcode %d in group %s (first seen in row %d)", r.Barcode, r.Group, prev+1),
			}
		}
		seen[key] = i

		gi, ok := index[r.Group]
		if !ok {
			gi = len(groups)
			index[r.Group] = gi
			groups = append(groups, Group{Name: r.Group})
		}
		groups[gi].Rows = append(groups[gi].Rows, r)
	}

	return &Table{
		rows:   append([]Row(nil), rows...),
		groups: groups,
	}, nil
}

type rowKey struct {
	group   string
	barcode int
}

// Rows returns all rows in manifest order.
func (t *Table) Rows() []Row {
	return append([]Row(nil), t.rows...)
}

// Len returns the number of rows.
func (t *Table) Len() int {
	return len(t.rows)
}

// Groups returns the groups in first-encounter order. Rows within a group
// keep manifest order.
func (t *Table) Groups() []Group {
	out := make([]Group, len(t.groups))
	for i, g := range t.groups {
		out[i] = Group{Name: g.Name, Rows: append([]Row(nil), g.Rows...)}
	}
	return out
}

// SampleIDs returns the distinct sample identifiers in first-encounter order.
func (t *Table) SampleIDs() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, g := range t.groups {
		for _, r := range g.Rows {
			if _, ok := seen[r.SampleID]; ok {
				continue
			}
			seen[r.SampleID] = struct{}{}
			out = append(out, r.SampleID)
		}
	}
	return out
}
