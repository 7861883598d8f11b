package refdata

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// Load reads and validates the table asset at path against schema. Any
// structural defect (missing or unknown columns, ragged rows, an empty
// table, unparseable numeric cells) is an error: a process must not serve
// lookups from an asset it could not fully validate. Duplicate composite
// keys are tolerated and reported through Stats, with the first occurrence
// winning in the index.
func Load(path string, schema Schema) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s reference table: %w", schema.Variant, err)
	}
	defer f.Close()

	t, err := Read(f, schema)
	if err != nil {
		return nil, fmt.Errorf("load %s reference table %s: %w", schema.Variant, path, err)
	}
	return t, nil
}

// Read parses a table asset from r. Split out of Load so callers can load
// from any source, not just a file on disk.
func Read(r io.Reader, schema Schema) (*Table, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, errors.New("table is empty")
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	keyPos, colPos, err := mapHeader(header, schema)
	if err != nil {
		return nil, err
	}

	t := &Table{
		schema:   schema,
		rowIndex: make(map[string]int),
		colIndex: make(map[string]int, len(schema.Subregions)),
	}
	for i, code := range schema.Subregions {
		t.colIndex[code] = i
	}

	line := 1
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", line, err)
		}

		labels := make([]string, len(keyPos))
		for i, pos := range keyPos {
			labels[i] = record[pos]
		}
		key := strings.Join(labels, schema.Delimiter)

		values := make([]string, len(schema.Subregions))
		for i, code := range schema.Subregions {
			cell := record[colPos[code]]
			if schema.Numeric {
				if _, err := strconv.ParseFloat(cell, 64); err != nil {
					return nil, fmt.Errorf("row %d, column %s: value %q is not numeric", line, code, cell)
				}
			}
			values[i] = cell
		}

		idx := len(t.keys)
		t.keys = append(t.keys, key)
		t.labels = append(t.labels, labels)
		t.values = append(t.values, values)
		if _, seen := t.rowIndex[key]; seen {
			t.dups++
		} else {
			t.rowIndex[key] = idx
		}
	}

	if len(t.keys) == 0 {
		return nil, errors.New("table has a header but no data rows")
	}
	return t, nil
}

// mapHeader resolves the position of every schema column in the header and
// rejects headers that are missing columns, repeat columns, or carry columns
// the schema does not know about.
func mapHeader(header []string, schema Schema) (keyPos []int, colPos map[string]int, err error) {
	seen := make(map[string]int, len(header))
	for i, name := range header {
		if _, dup := seen[name]; dup {
			return nil, nil, fmt.Errorf("header column %q appears more than once", name)
		}
		seen[name] = i
	}

	keyPos = make([]int, len(schema.KeyColumns))
	for i, name := range schema.KeyColumns {
		pos, ok := seen[name]
		if !ok {
			return nil, nil, fmt.Errorf("header is missing key column %q", name)
		}
		keyPos[i] = pos
		delete(seen, name)
	}

	colPos = make(map[string]int, len(schema.Subregions))
	for _, code := range schema.Subregions {
		pos, ok := seen[code]
		if !ok {
			return nil, nil, fmt.Errorf("header is missing subregion column %q", code)
		}
		colPos[code] = pos
		delete(seen, code)
	}

	for name := range seen {
		return nil, nil, fmt.Errorf("header carries unknown column %q", name)
	}
	return keyPos, colPos, nil
}
