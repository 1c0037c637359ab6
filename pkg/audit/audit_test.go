package audit

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLog_RecordAndToday(t *testing.T) {
	dir := t.TempDir()
	l := New(dir, "user_requests_", time.UTC)
	l.now = func() time.Time { return time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC) }
	ctx := context.Background()

	first, err := l.Record(ctx, Entry{UserID: 381200758, Username: "alice", FullName: "Alice Doe", RequestType: "/start", RequestData: "Start Bot"})
	require.NoError(t, err)
	_, err = uuid.Parse(first.ID)
	assert.NoError(t, err)
	assert.Equal(t, "2024-03-01", first.Date)
	assert.Equal(t, "09:30:00", first.Time)

	_, err = l.Record(ctx, Entry{UserID: 7, Username: "bob", RequestType: "/chart", RequestData: "Show Chart Menu"})
	require.NoError(t, err)

	assert.FileExists(t, filepath.Join(dir, "user_requests_2024-03-01.xlsx"))

	entries, err := l.Today(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, first, entries[0])
	assert.Equal(t, int64(7), entries[1].UserID)

	files, err := l.Files()
	require.NoError(t, err)
	assert.Len(t, files, 1)
}

func TestLog_NoEntriesYet(t *testing.T) {
	l := New(t.TempDir(), "user_requests_", time.UTC)
	entries, err := l.Today(context.Background())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestFormat(t *testing.T) {
	text := Format([]Entry{
		{UserID: 1, Username: "alice", FullName: "Alice Doe", RequestType: "/esp32", RequestData: "Fetch Data", Date: "2024-03-01", Time: "10:00:00"},
		{UserID: 2, Username: "bob"},
	})
	assert.Contains(t, text, "Log Entry #1\nUser ID: 1\nUsername: @alice\n")
	assert.Contains(t, text, "Log Entry #2\n")
	assert.Contains(t, text, "Request Type: /esp32")
}
