/*
Package storage provides the pluggable partition store for espmon readings.

# Store Interface

Readings are kept in day partitions: every reading is appended once to the
partition of the calendar day it was polled on, and partitions are never
merged or rewritten. Backends:
  - xlsx: one spreadsheet per day (data_log_YYYY-MM-DD.xlsx), the default
  - badger: BadgerDB with keys prefixed by the partition date
  - memory: in-memory storage for tests and ephemeral runs

All backends implement the Store interface:

	type Store interface {
	    Append(ctx context.Context, day time.Time, r reading.Reading) error
	    Load(ctx context.Context, day time.Time) (*Partition, error)
	    Dates(ctx context.Context) ([]time.Time, error)
	    Stats(ctx context.Context) (*Stats, error)
	    Close() error
	}

Load returns ErrPartitionNotFound for a day without readings. Callers such
as the window aggregator treat that as a skipped partition.

# Usage Example

	store, err := xlsx.New(xlsx.Config{Dir: "./data", Prefix: "data_log_"})
	if err != nil {
	    log.Fatal(err)
	}
	defer store.Close()

	day := storage.Day(time.Now())
	err = store.Append(ctx, day, r)

	p, err := store.Load(ctx, day)
	fmt.Printf("%d readings today\n", len(p.Rows))

# Concurrency

Only the poller writes. Readers tolerate read-after-write staleness: a Load
racing an Append sees the partition either with or without the new row.
*/
package storage
