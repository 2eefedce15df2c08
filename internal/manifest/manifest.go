package manifest

import (
	"encoding/json"
	"fmt"

	"github.com/aliskhannn/sheet-images/internal/model"
)

// FileName is the manifest file name inside the output directory.
const FileName = "_manifest.json"

// Counts aggregates outcomes by kind.
type Counts struct {
	Written int `json:"written"`
	Exists  int `json:"exists"`
	Skipped int `json:"skipped"`
	Errors  int `json:"errors"`
}

// Manifest accumulates one entry per row in row order.
type Manifest struct {
	entries    []model.ManifestEntry
	counts     Counts
	writtenIDs []string
}

// New creates an empty Manifest.
func New() *Manifest {
	return &Manifest{entries: make([]model.ManifestEntry, 0)}
}

// Add records the outcome of the next row.
func (m *Manifest) Add(o model.Outcome) {
	m.entries = append(m.entries, o.Entry())

	switch o.Status {
	case model.StatusWritten:
		m.counts.Written++
		m.writtenIDs = append(m.writtenIDs, o.Task.ID)
	case model.StatusExists, model.StatusExistsCorrect:
		m.counts.Exists++
	case model.StatusSkipNoSrc:
		m.counts.Skipped++
	case model.StatusError:
		m.counts.Errors++
	}
}

// Counts returns the aggregate counts.
func (m *Manifest) Counts() Counts {
	return m.counts
}

// WrittenIDs returns the ids of rows written in this run, in row order.
func (m *Manifest) WrittenIDs() []string {
	return m.writtenIDs
}

// Marshal renders the entries as an indented JSON array.
func (m *Manifest) Marshal() ([]byte, error) {
	data, err := json.MarshalIndent(m.entries, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal manifest: %w", err)
	}

	return data, nil
}

// Parse decodes a manifest previously produced by Marshal.
func Parse(data []byte) ([]model.ManifestEntry, error) {
	var entries []model.ManifestEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to unmarshal manifest: %w", err)
	}

	return entries, nil
}
