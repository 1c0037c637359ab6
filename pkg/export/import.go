package export

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/nicktill/espmon/pkg/storage"
)

// Importer handles importing partitions from backup files
type Importer struct {
	storage storage.Store
	loc     *time.Location
}

// NewImporter creates a new importer
func NewImporter(store storage.Store, loc *time.Location) *Importer {
	if loc == nil {
		loc = time.Local
	}
	return &Importer{storage: store, loc: loc}
}

// ImportResult contains stats about the import operation
type ImportResult struct {
	ReadingsImported   int       `json:"readings_imported"`
	PartitionsImported int       `json:"partitions_imported"`
	DateRange          string    `json:"date_range"`
	ImportedAt         time.Time `json:"imported_at"`
	Errors             []string  `json:"errors,omitempty"`
}

// ImportFromJSON appends the readings of a JSON export to their partitions.
// Partitions with a bad date or checksum are skipped, as are readings
// without a parsable timestamp; each skip is reported in Errors.
func (im *Importer) ImportFromJSON(ctx context.Context, r io.Reader) (*ImportResult, error) {
	var doc ExportData
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode JSON: %w", err)
	}

	result := &ImportResult{ImportedAt: time.Now(), DateRange: "empty"}
	var first, last string

	for i, p := range doc.Partitions {
		day, err := im.validatePartition(p)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("partition %d: %v", i, err))
			continue
		}

		imported := 0
		for j, rd := range p.Readings {
			if _, err := rd.Timestamp(im.loc); err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("partition %s reading %d: %v", p.Date, j, err))
				continue
			}
			if err := im.storage.Append(ctx, day, rd); err != nil {
				return nil, fmt.Errorf("failed to append to %s: %w", p.Date, err)
			}
			imported++
		}
		if imported == 0 {
			continue
		}

		result.ReadingsImported += imported
		result.PartitionsImported++
		if first == "" || p.Date < first {
			first = p.Date
		}
		if p.Date > last {
			last = p.Date
		}
	}

	if first != "" {
		result.DateRange = fmt.Sprintf("%s to %s", first, last)
	}
	return result, nil
}

// validatePartition checks the date and, when present, the checksum.
func (im *Importer) validatePartition(p PartitionData) (time.Time, error) {
	day, err := storage.ParseDateKey(p.Date, im.loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q", p.Date)
	}
	if day.After(time.Now().In(im.loc).Add(24 * time.Hour)) {
		return time.Time{}, fmt.Errorf("date too far in future: %s", p.Date)
	}
	if p.Checksum != "" {
		sum, err := Checksum(p.Readings)
		if err != nil {
			return time.Time{}, err
		}
		if sum != p.Checksum {
			return time.Time{}, fmt.Errorf("checksum mismatch for %s", p.Date)
		}
	}
	return day, nil
}
