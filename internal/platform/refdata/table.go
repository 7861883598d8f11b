// Package refdata loads the static risk reference tables that back the
// scoring models. A table asset is a delimited CSV file whose header carries
// the categorical key columns followed by one value column per subregion
// code; each row stores the category labels exactly as the owning model's
// classifier emits them. Tables are loaded once at startup and are read-only
// afterwards, so they are safe to share across goroutines without locking.
package refdata

// Schema describes the expected layout of one model variant's table asset.
// The owning model supplies it: the key column order and the delimiter must
// match the model's composite-key convention, and Subregions must be exactly
// the variant's enumerated code set.
type Schema struct {
	Variant    string
	KeyColumns []string
	Delimiter  string
	Subregions []string
	// Numeric requires every value cell to parse as a float64 at load time.
	Numeric bool
}

// Stats reports what the loader found in the asset.
type Stats struct {
	Rows          int
	DuplicateKeys int
}

// Table is an immutable, fully indexed reference table. Row order follows
// the source file; when two rows share a composite key the index keeps the
// first one, so lookups stay deterministic even over defective data.
type Table struct {
	schema   Schema
	keys     []string
	labels   [][]string
	values   [][]string
	rowIndex map[string]int
	colIndex map[string]int
	dups     int
}

// Variant returns the model variant name the table was loaded for.
func (t *Table) Variant() string { return t.schema.Variant }

// Len returns the number of data rows.
func (t *Table) Len() int { return len(t.keys) }

// Stats returns row and duplicate-key counts from the load.
func (t *Table) Stats() Stats {
	return Stats{Rows: len(t.keys), DuplicateKeys: t.dups}
}

// Subregions returns the value column codes in schema order.
func (t *Table) Subregions() []string {
	out := make([]string, len(t.schema.Subregions))
	copy(out, t.schema.Subregions)
	return out
}

// HasSubregion reports whether the table carries a column for code.
func (t *Table) HasSubregion(code string) bool {
	_, ok := t.colIndex[code]
	return ok
}

// Value returns the raw cell for the row whose composite key equals key, in
// the column for code. The second return is false when no row matches or the
// code is not a column of this table.
func (t *Table) Value(key, code string) (string, bool) {
	row, ok := t.rowIndex[key]
	if !ok {
		return "", false
	}
	col, ok := t.colIndex[code]
	if !ok {
		return "", false
	}
	return t.values[row][col], true
}

// KeyAt returns the composite key of row i in file order.
func (t *Table) KeyAt(i int) string { return t.keys[i] }

// LabelsAt returns the stored key labels of row i, in key column order.
func (t *Table) LabelsAt(i int) []string {
	out := make([]string, len(t.labels[i]))
	copy(out, t.labels[i])
	return out
}

// ValueAt returns the cell of row i for code, bypassing the key index. It is
// the accessor round-trip checks use to compare indexed lookups against the
// underlying rows.
func (t *Table) ValueAt(i int, code string) (string, bool) {
	col, ok := t.colIndex[code]
	if !ok {
		return "", false
	}
	return t.values[i][col], true
}
