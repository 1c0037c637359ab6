// Package audit records every chat-bot request in a per-day spreadsheet.
package audit

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nicktill/espmon/pkg/sheet"
)

var columns = []string{"ID", "User ID", "Username", "Full Name", "Request Type", "Request Data", "Date", "Time"}

// Entry is one logged bot request.
type Entry struct {
	ID          string
	UserID      int64
	Username    string
	FullName    string
	RequestType string
	RequestData string
	Date        string
	Time        string
}

func (e Entry) row() []string {
	return []string{
		e.ID,
		strconv.FormatInt(e.UserID, 10),
		e.Username,
		e.FullName,
		e.RequestType,
		e.RequestData,
		e.Date,
		e.Time,
	}
}

func entryFromRow(header, cells []string) Entry {
	get := func(col string) string {
		for i, h := range header {
			if h == col && i < len(cells) {
				return cells[i]
			}
		}
		return ""
	}
	id, _ := strconv.ParseInt(get("User ID"), 10, 64)
	return Entry{
		ID:          get("ID"),
		UserID:      id,
		Username:    get("Username"),
		FullName:    get("Full Name"),
		RequestType: get("Request Type"),
		RequestData: get("Request Data"),
		Date:        get("Date"),
		Time:        get("Time"),
	}
}

// Log appends entries to dir/<prefix>YYYY-MM-DD.xlsx.
type Log struct {
	dir    string
	prefix string
	loc    *time.Location
	now    func() time.Time

	mu sync.Mutex
}

// New creates a request log writing under dir.
func New(dir, prefix string, loc *time.Location) *Log {
	if loc == nil {
		loc = time.Local
	}
	return &Log{dir: dir, prefix: prefix, loc: loc, now: time.Now}
}

// Path returns the file holding the entries of day.
func (l *Log) Path(day time.Time) string {
	return filepath.Join(l.dir, l.prefix+day.In(l.loc).Format("2006-01-02")+".xlsx")
}

// Record stamps e with a fresh ID and the current date and time, then appends it.
func (l *Log) Record(ctx context.Context, e Entry) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return e, err
	}
	now := l.now().In(l.loc)
	e.ID = uuid.NewString()
	e.Date = now.Format("2006-01-02")
	e.Time = now.Format("15:04:05")

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := sheet.Append(l.Path(now), columns, e.row()); err != nil {
		return e, fmt.Errorf("record request: %w", err)
	}
	return e, nil
}

// Entries returns the entries of day in the order they were recorded.
func (l *Log) Entries(ctx context.Context, day time.Time) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	table, err := sheet.Read(l.Path(day))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	entries := make([]Entry, 0, len(table.Rows))
	for _, row := range table.Rows {
		entries = append(entries, entryFromRow(table.Header, row))
	}
	return entries, nil
}

// Today returns the entries recorded today.
func (l *Log) Today(ctx context.Context) ([]Entry, error) {
	return l.Entries(ctx, l.now())
}

// Files lists every request log file, oldest first.
func (l *Log) Files() ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(l.dir, l.prefix+"*.xlsx"))
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	return matches, nil
}

// Format renders entries as numbered text blocks.
func Format(entries []Entry) string {
	var b strings.Builder
	for i, e := range entries {
		fmt.Fprintf(&b, "Log Entry #%d\n", i+1)
		fmt.Fprintf(&b, "User ID: %d\n", e.UserID)
		fmt.Fprintf(&b, "Username: @%s\n", e.Username)
		fmt.Fprintf(&b, "Full Name: %s\n", e.FullName)
		fmt.Fprintf(&b, "Request Type: %s\n", e.RequestType)
		fmt.Fprintf(&b, "Request Data: %s\n", e.RequestData)
		fmt.Fprintf(&b, "Date: %s\n", e.Date)
		fmt.Fprintf(&b, "Time: %s\n", e.Time)
		b.WriteString("----------------------------\n")
	}
	return b.String()
}
