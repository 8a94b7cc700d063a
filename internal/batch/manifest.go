package batch

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
)

const (
	FilenameColumn = "filename"
	TextColumn     = "generated_text"
)

// Manifest is a CSV table with a header row
type Manifest struct {
	Header []string
	Rows   [][]string

	columns map[string]int
}

// LoadManifest reads a CSV manifest. The filename column is required; the
// generated_text column is appended when missing.
func LoadManifest(path string) (*Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open manifest: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse manifest %s: %w", path, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("manifest %s has no header", path)
	}

	m := &Manifest{Header: records[0], Rows: records[1:]}
	m.index()

	if _, ok := m.columns[FilenameColumn]; !ok {
		return nil, fmt.Errorf("manifest %s has no %q column", path, FilenameColumn)
	}
	m.ensureColumn(TextColumn)

	return m, nil
}

func (m *Manifest) index() {
	m.columns = make(map[string]int, len(m.Header))
	for i, name := range m.Header {
		m.columns[name] = i
	}
}

func (m *Manifest) ensureColumn(name string) {
	if _, ok := m.columns[name]; ok {
		return
	}
	m.Header = append(m.Header, name)
	m.index()
}

// Get returns a cell, or "" when the row is shorter than the header
func (m *Manifest) Get(row int, column string) string {
	i, ok := m.columns[column]
	if !ok || i >= len(m.Rows[row]) {
		return ""
	}
	return m.Rows[row][i]
}

// Set writes a cell, padding short rows
func (m *Manifest) Set(row int, column, value string) {
	m.ensureColumn(column)
	i := m.columns[column]
	for len(m.Rows[row]) <= i {
		m.Rows[row] = append(m.Rows[row], "")
	}
	m.Rows[row][i] = value
}

// manifestMode is the permission of a newly created output file
const manifestMode os.FileMode = 0644

// Save writes the manifest atomically: a temp file in the same directory
// is renamed over path. An existing file keeps its permissions.
func (m *Manifest) Save(path string) error {
	mode := manifestMode
	if info, err := os.Stat(path); err == nil {
		mode = info.Mode().Perm()
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".manifest-*.csv")
	if err != nil {
		return fmt.Errorf("failed to create temp manifest: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	w := csv.NewWriter(tmp)
	if err := w.Write(m.Header); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write header: %w", err)
	}
	width := len(m.Header)
	for _, row := range m.Rows {
		for len(row) < width {
			row = append(row, "")
		}
		if err := w.Write(row); err != nil {
			tmp.Close()
			return fmt.Errorf("failed to write row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to flush manifest: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp manifest: %w", err)
	}
	if err := os.Chmod(tmpPath, mode); err != nil {
		return fmt.Errorf("failed to set manifest permissions: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to replace manifest: %w", err)
	}
	return nil
}
