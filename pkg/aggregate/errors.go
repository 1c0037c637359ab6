package aggregate

import (
	"errors"
	"fmt"
	"time"
)

// Failure kinds. Every *Error matches exactly one of these through errors.Is.
var (
	ErrSourceMissing        = errors.New("source missing")
	ErrInsufficientCoverage = errors.New("insufficient coverage")
	ErrNoTimestampableRows  = errors.New("no timestampable rows")
	ErrInvalidWindow        = errors.New("invalid window")
	ErrUnknownField         = errors.New("unknown field")
)

// Error is a reported aggregation failure. Callers show Error() to users
// and keep running.
type Error struct {
	Kind   error
	Window Window

	// Found and Required are partition counts for ErrInsufficientCoverage.
	Found    int
	Required int
	Span     int

	// Date is the missing day for ErrSourceMissing.
	Date time.Time

	// Field is the rejected name for ErrUnknownField.
	Field string
}

func (e *Error) Error() string {
	switch e.Kind {
	case ErrSourceMissing:
		return fmt.Sprintf("no data source found: the partition for %s is missing", e.Date.Format("2006-01-02"))
	case ErrInsufficientCoverage:
		return fmt.Sprintf("insufficient historical coverage for %s window: found %d/%d days, need %d",
			e.Window.Name(), e.Found, e.Span, e.Required)
	case ErrNoTimestampableRows:
		return fmt.Sprintf("no rows survived filtering for %s window: no row has a valid date and time", e.Window.Name())
	case ErrInvalidWindow:
		return fmt.Sprintf("invalid window %q (allowed: 1h, 1d, 1w, 1m)", string(e.Window))
	case ErrUnknownField:
		return fmt.Sprintf("unknown field %q", e.Field)
	}
	return e.Kind.Error()
}

func (e *Error) Unwrap() error { return e.Kind }
