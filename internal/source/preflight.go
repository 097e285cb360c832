package source

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"go.uber.org/zap"

	"marketflow/internal/ingest"
	apperrors "marketflow/pkg/errors"
)

// Profile summarizes one source object
type Profile struct {
	Key     string
	Format  ingest.Format
	Records int
	Columns []string // lower-cased, in file order for CSV and sorted for JSON
}

// Getter fetches an object body by key
type Getter interface {
	Get(ctx context.Context, key string) ([]byte, error)
}

// Preflight checks that a source object exists, decodes, and carries every
// column of the raw table it feeds.
type Preflight struct {
	store Getter
	log   *zap.Logger
}

func NewPreflight(store Getter, log *zap.Logger) *Preflight {
	if log == nil {
		log = zap.NewNop()
	}
	return &Preflight{store: store, log: log}
}

// Check fetches key and profiles it against table
func (p *Preflight) Check(ctx context.Context, key string, table ingest.Table) (*Profile, error) {
	data, err := p.store.Get(ctx, key)
	if err != nil {
		return nil, apperrors.SourceError(apperrors.ErrCodeSourceUnavailable,
			fmt.Sprintf("Source object %s is not readable", key), key, err).
			WithSuggestions("Verify the object was uploaded to the raw bucket", "Verify MARKETFLOW_BUCKET and MARKETFLOW_S3_ENDPOINT")
	}

	profile, err := Decode(key, table.Format, data)
	if err != nil {
		return nil, apperrors.SourceError(apperrors.ErrCodeSourceUnavailable,
			fmt.Sprintf("Source object %s could not be decoded as %s", key, table.Format), key, err)
	}

	if missing := missingColumns(profile.Columns, table.ColumnNames()); len(missing) > 0 {
		return profile, apperrors.New(apperrors.ErrCodeSourceInvalid,
			fmt.Sprintf("Source object %s is missing columns: %s", key, strings.Join(missing, ", "))).
			WithContext("key", key).
			WithContext("table", table.Name)
	}

	// CSV files are copied by position, so the header must lead with the
	// table's columns in order.
	if table.Format == ingest.FormatCSV {
		if want := table.ColumnNames(); !leadingColumnsMatch(profile.Columns, want) {
			return profile, apperrors.New(apperrors.ErrCodeSourceInvalid,
				fmt.Sprintf("Source object %s columns are out of order: got %s, want %s",
					key, strings.Join(profile.Columns, ","), strings.Join(want, ","))).
				WithContext("key", key).
				WithContext("table", table.Name).
				WithSuggestions("Reorder the CSV header to match " + table.Name)
		}
	}

	p.log.Info("source preflight passed",
		zap.String("key", key),
		zap.String("format", string(profile.Format)),
		zap.Int("records", profile.Records))
	return profile, nil
}

// Decode parses data as a JSON array of objects or a CSV file with a header
func Decode(key string, format ingest.Format, data []byte) (*Profile, error) {
	profile := &Profile{Key: key, Format: format}

	switch format {
	case ingest.FormatJSON:
		var records []map[string]json.RawMessage
		if err := json.Unmarshal(data, &records); err != nil {
			return nil, fmt.Errorf("expected a JSON array of objects: %w", err)
		}
		seen := make(map[string]bool)
		for _, r := range records {
			for k := range r {
				k = strings.ToLower(k)
				if !seen[k] {
					seen[k] = true
					profile.Columns = append(profile.Columns, k)
				}
			}
		}
		sort.Strings(profile.Columns)
		profile.Records = len(records)

	case ingest.FormatCSV:
		r := csv.NewReader(bytes.NewReader(data))
		header, err := r.Read()
		if err != nil {
			if err == io.EOF {
				return nil, fmt.Errorf("file is empty")
			}
			return nil, fmt.Errorf("failed to read header: %w", err)
		}
		if len(header) > 0 {
			header[0] = strings.TrimPrefix(header[0], "\ufeff")
		}
		for _, h := range header {
			profile.Columns = append(profile.Columns, strings.ToLower(strings.TrimSpace(h)))
		}
		for {
			_, err := r.Read()
			if err == io.EOF {
				break
			}
			if err != nil {
				return nil, fmt.Errorf("failed to read record %d: %w", profile.Records+1, err)
			}
			profile.Records++
		}

	default:
		return nil, fmt.Errorf("unsupported format %q", format)
	}

	return profile, nil
}

func missingColumns(have, want []string) []string {
	present := make(map[string]bool, len(have))
	for _, c := range have {
		present[strings.ToLower(c)] = true
	}
	var missing []string
	for _, c := range want {
		if !present[strings.ToLower(c)] {
			missing = append(missing, c)
		}
	}
	return missing
}

func leadingColumnsMatch(have, want []string) bool {
	if len(have) < len(want) {
		return false
	}
	for i, c := range want {
		if !strings.EqualFold(have[i], c) {
			return false
		}
	}
	return true
}
