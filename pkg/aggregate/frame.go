package aggregate

import (
	"time"

	"github.com/nicktill/espmon/pkg/reading"
)

// Row is a reading with its derived instant.
type Row struct {
	At time.Time
	reading.Reading
}

// Point is one (timestamp, value) pair of a series.
type Point struct {
	At    time.Time `json:"-"`
	Value float64   `json:"v"`

	// Unix milliseconds, filled for JSON responses
	Timestamp int64 `json:"t"`
}

// Frame is the aggregated, chronologically sorted view of a window.
type Frame struct {
	Window Window
	Rows   []Row

	// Loaded and Missing list the partition days that were read or skipped.
	Loaded  []time.Time
	Missing []time.Time

	// Dropped counts rows whose date and time could not be parsed.
	Dropped int
}

// Series extracts field as points, skipping rows where it is not available.
func (f *Frame) Series(field reading.Field) []Point {
	points := make([]Point, 0, len(f.Rows))
	for _, row := range f.Rows {
		v, ok := row.Float(field)
		if !ok {
			continue
		}
		points = append(points, Point{At: row.At, Value: v, Timestamp: row.At.UnixMilli()})
	}
	return points
}

// Latest returns the last row of the frame.
func (f *Frame) Latest() (Row, bool) {
	if len(f.Rows) == 0 {
		return Row{}, false
	}
	return f.Rows[len(f.Rows)-1], true
}
