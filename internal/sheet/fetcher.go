package sheet

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/aliskhannn/sheet-images/internal/model"
)

// ErrNoRows is returned when the sheet has a header but no data rows.
var ErrNoRows = errors.New("no rows in sheet")

// MissingColumnError is returned when the source column is not a header.
type MissingColumnError struct {
	Column  string
	Headers []string
}

func (e *MissingColumnError) Error() string {
	return fmt.Sprintf("column %q not found, available headers: %q", e.Column, e.Headers)
}

// getter downloads a URL in a single attempt.
type getter interface {
	Get(ctx context.Context, url string) ([]byte, error)
}

// Fetcher downloads a published spreadsheet tab as CSV.
type Fetcher struct {
	client  getter
	baseURL string
}

// NewFetcher creates a Fetcher reading from baseURL
// (normally https://docs.google.com/spreadsheets/d).
func NewFetcher(client getter, baseURL string) *Fetcher {
	return &Fetcher{client: client, baseURL: strings.TrimRight(baseURL, "/")}
}

// CSVURL returns the gviz CSV export URL for a tab.
func CSVURL(baseURL, sheetID, tab string) string {
	return fmt.Sprintf("%s/%s/gviz/tq?tqx=out:csv&sheet=%s",
		strings.TrimRight(baseURL, "/"), url.PathEscape(sheetID), encodeComponent(tab))
}

// encodeComponent escapes s for use as a single query value, with spaces as %20.
func encodeComponent(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

// Fetch downloads the tab and returns its rows. It fails when the response
// is not successful, when there are no rows or when column is not a header.
func (f *Fetcher) Fetch(ctx context.Context, sheetID, tab, column string) ([]model.Row, error) {
	data, err := f.client.Get(ctx, CSVURL(f.baseURL, sheetID, tab))
	if err != nil {
		return nil, fmt.Errorf("csv fetch failed: %w", err)
	}

	headers, rows, err := Parse(data)
	if err != nil {
		return nil, err
	}

	if len(rows) == 0 {
		return nil, ErrNoRows
	}

	if !contains(headers, column) {
		return nil, &MissingColumnError{Column: column, Headers: headers}
	}

	return rows, nil
}

// Parse reads CSV data with the first record as headers. Empty lines are
// skipped by the reader and short records leave the missing columns empty.
func Parse(data []byte) ([]string, []model.Row, error) {
	r := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(data, []byte("\ufeff"))))
	r.FieldsPerRecord = -1

	headers, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read csv header: %w", err)
	}

	var rows []model.Row
	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("failed to parse csv: %w", err)
		}

		row := make(model.Row, len(headers))
		for i, h := range headers {
			if i < len(record) {
				row[h] = record[i]
			} else {
				row[h] = ""
			}
		}
		rows = append(rows, row)
	}

	return headers, rows, nil
}

func contains(items []string, s string) bool {
	for _, item := range items {
		if item == s {
			return true
		}
	}
	return false
}
