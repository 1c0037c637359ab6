package export

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/nicktill/espmon/pkg/reading"
	"github.com/nicktill/espmon/pkg/sheet"
	"github.com/nicktill/espmon/pkg/storage"
)

// FormatVersion is written to every JSON export.
const FormatVersion = "1.0"

// Exporter handles exporting partitions to various formats
type Exporter struct {
	storage storage.Store
}

// NewExporter creates a new exporter
func NewExporter(store storage.Store) *Exporter {
	return &Exporter{storage: store}
}

// ExportOptions configures the export operation
type ExportOptions struct {
	// Inclusive range of partition days
	From time.Time
	To   time.Time

	// Format: "json", "csv" or "xlsx"
	Format string
}

// ExportResult contains stats about the export
type ExportResult struct {
	PartitionsExported int       `json:"partitions_exported"`
	ReadingsExported   int       `json:"readings_exported"`
	DateRange          string    `json:"date_range"`
	Format             string    `json:"format"`
	ExportedAt         time.Time `json:"exported_at"`
}

// PartitionData is one day in a JSON export.
type PartitionData struct {
	Date string `json:"date"`

	// Checksum is the xxhash64 of the JSON-encoded readings, in hex.
	Checksum string            `json:"checksum"`
	Readings []reading.Reading `json:"readings"`
}

// ExportData is the JSON export document.
type ExportData struct {
	Metadata struct {
		ExportedAt     time.Time `json:"exported_at"`
		From           string    `json:"from"`
		To             string    `json:"to"`
		PartitionCount int       `json:"partition_count"`
		ReadingCount   int       `json:"reading_count"`
		Format         string    `json:"format"`
		Version        string    `json:"version"`
	} `json:"metadata"`
	Partitions []PartitionData `json:"partitions"`
}

// Checksum hashes readings the same way exports and imports do.
func Checksum(readings []reading.Reading) (string, error) {
	data, err := json.Marshal(readings)
	if err != nil {
		return "", err
	}
	return strconv.FormatUint(xxhash.Sum64(data), 16), nil
}

// partitions loads every stored partition between opts.From and opts.To.
func (e *Exporter) partitions(ctx context.Context, opts ExportOptions) ([]*storage.Partition, error) {
	dates, err := e.storage.Dates(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list partitions: %w", err)
	}

	from, to := storage.DateKey(opts.From), storage.DateKey(opts.To)
	var out []*storage.Partition
	for _, d := range dates {
		key := storage.DateKey(d)
		if key < from || key > to {
			continue
		}
		p, err := e.storage.Load(ctx, d)
		if errors.Is(err, storage.ErrPartitionNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load partition %s: %w", key, err)
		}
		out = append(out, p)
	}
	return out, nil
}

func (e *Exporter) result(parts []*storage.Partition, opts ExportOptions, format string) *ExportResult {
	n := 0
	for _, p := range parts {
		n += len(p.Rows)
	}
	return &ExportResult{
		PartitionsExported: len(parts),
		ReadingsExported:   n,
		DateRange:          fmt.Sprintf("%s to %s", storage.DateKey(opts.From), storage.DateKey(opts.To)),
		Format:             format,
		ExportedAt:         time.Now(),
	}
}

// ExportToJSON exports partitions as JSON to the given writer
func (e *Exporter) ExportToJSON(ctx context.Context, w io.Writer, opts ExportOptions) (*ExportResult, error) {
	parts, err := e.partitions(ctx, opts)
	if err != nil {
		return nil, err
	}

	var doc ExportData
	for _, p := range parts {
		sum, err := Checksum(p.Rows)
		if err != nil {
			return nil, fmt.Errorf("failed to hash partition: %w", err)
		}
		doc.Partitions = append(doc.Partitions, PartitionData{
			Date:     storage.DateKey(p.Date),
			Checksum: sum,
			Readings: p.Rows,
		})
	}

	result := e.result(parts, opts, "json")
	doc.Metadata.ExportedAt = result.ExportedAt
	doc.Metadata.From = storage.DateKey(opts.From)
	doc.Metadata.To = storage.DateKey(opts.To)
	doc.Metadata.PartitionCount = result.PartitionsExported
	doc.Metadata.ReadingCount = result.ReadingsExported
	doc.Metadata.Format = "json"
	doc.Metadata.Version = FormatVersion

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(doc); err != nil {
		return nil, fmt.Errorf("failed to encode JSON: %w", err)
	}
	return result, nil
}

// ExportToCSV exports partitions as one CSV table, prefixed by a partition column
func (e *Exporter) ExportToCSV(ctx context.Context, w io.Writer, opts ExportOptions) (*ExportResult, error) {
	parts, err := e.partitions(ctx, opts)
	if err != nil {
		return nil, err
	}

	writer := csv.NewWriter(w)

	header := append([]string{"Partition"}, reading.Columns()...)
	if err := writer.Write(header); err != nil {
		return nil, fmt.Errorf("failed to write CSV header: %w", err)
	}
	for _, p := range parts {
		key := storage.DateKey(p.Date)
		for _, r := range p.Rows {
			if err := writer.Write(append([]string{key}, r.Row()...)); err != nil {
				return nil, fmt.Errorf("failed to write CSV row: %w", err)
			}
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("failed to flush CSV: %w", err)
	}

	return e.result(parts, opts, "csv"), nil
}

// ExportPartitionXLSX renders one day as a workbook, whatever the backend.
func (e *Exporter) ExportPartitionXLSX(ctx context.Context, day time.Time) ([]byte, error) {
	p, err := e.storage.Load(ctx, day)
	if err != nil {
		return nil, err
	}
	table := sheet.Table{Header: reading.Columns()}
	for _, r := range p.Rows {
		table.Rows = append(table.Rows, r.Row())
	}
	return sheet.Encode(table)
}
