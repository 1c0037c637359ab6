package bot

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicktill/espmon/pkg/aggregate"
	"github.com/nicktill/espmon/pkg/audit"
	"github.com/nicktill/espmon/pkg/chart"
	"github.com/nicktill/espmon/pkg/reading"
	"github.com/nicktill/espmon/pkg/storage"
	"github.com/nicktill/espmon/pkg/storage/memory"
)

var now = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

const (
	chatID  = int64(100)
	userID  = int64(7)
	adminID = int64(42)
)

type fakeSender struct {
	mu   sync.Mutex
	sent []tgbotapi.Chattable
}

func (s *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, c)
	return tgbotapi.Message{}, nil
}

func (s *fakeSender) all() []tgbotapi.Chattable {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]tgbotapi.Chattable(nil), s.sent...)
}

func (s *fakeSender) texts() []string {
	var out []string
	for _, c := range s.all() {
		if m, ok := c.(tgbotapi.MessageConfig); ok {
			out = append(out, m.Text)
		}
	}
	return out
}

func (s *fakeSender) last(t *testing.T) tgbotapi.Chattable {
	t.Helper()
	all := s.all()
	require.NotEmpty(t, all, "nothing was sent")
	return all[len(all)-1]
}

type fakeLive struct {
	r   reading.Reading
	err error
}

func (f fakeLive) Fetch(context.Context) (reading.Reading, error) { return f.r, f.err }
func (f fakeLive) PublicIP(context.Context) string                { return "203.0.113.9" }

func sample(clock string, temp, gold string) reading.Reading {
	return reading.Reading{
		Date: "2024-03-01",
		Time: clock,
		Values: map[reading.Field]string{
			reading.LocalTemperature: temp,
			reading.GoldPrice:        gold,
			reading.Ping:             "12",
		},
	}
}

type fixture struct {
	bot    *Bot
	sender *fakeSender
	store  *memory.Storage
	audit  *audit.Log
}

func newFixture(t *testing.T, live fakeLive) *fixture {
	t.Helper()
	store := memory.New(time.UTC)
	sender := &fakeSender{}
	log := audit.New(t.TempDir(), "user_requests_", time.UTC)
	clock := func() time.Time { return now }

	b := New(Config{
		Sender:     sender,
		Live:       live,
		Store:      store,
		Aggregator: aggregate.New(store, aggregate.WithClock(clock), aggregate.WithLocation(time.UTC)),
		Renderer:   chart.NewRenderer(400, 200),
		Audit:      log,
		FilePrefix: "data_log_",
		AdminIDs:   []int64{adminID},
		Location:   time.UTC,
		Now:        clock,
	})
	return &fixture{bot: b, sender: sender, store: store, audit: log}
}

func (f *fixture) seed(t *testing.T, rows ...reading.Reading) {
	t.Helper()
	for _, r := range rows {
		require.NoError(t, f.store.Append(context.Background(), now, r))
	}
}

func (f *fixture) say(from int64, text string) {
	msg := &tgbotapi.Message{
		Text: text,
		Chat: &tgbotapi.Chat{ID: chatID},
		From: &tgbotapi.User{ID: from, UserName: "tester", FirstName: "Test", LastName: "User"},
	}
	if strings.HasPrefix(text, "/") {
		cmd := strings.Fields(text)[0]
		msg.Entities = []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(cmd)}}
	}
	f.bot.Handle(context.Background(), tgbotapi.Update{Message: msg})
}

func (f *fixture) requests(t *testing.T) []audit.Entry {
	t.Helper()
	entries, err := f.audit.Today(context.Background())
	require.NoError(t, err)
	return entries
}

func TestStart_RepliesHelpAndRecords(t *testing.T) {
	f := newFixture(t, fakeLive{})
	f.say(userID, "/start")

	msg, ok := f.sender.last(t).(tgbotapi.MessageConfig)
	require.True(t, ok)
	assert.Equal(t, chatID, msg.ChatID)
	assert.Contains(t, msg.Text, "/esp32_all")

	entries := f.requests(t)
	require.Len(t, entries, 1)
	assert.Equal(t, "/start", entries[0].RequestType)
	assert.Equal(t, userID, entries[0].UserID)
	assert.Equal(t, "Test User", entries[0].FullName)
	assert.NotEmpty(t, entries[0].ID)
}

func TestLatest_LiveReadingIsSaved(t *testing.T) {
	f := newFixture(t, fakeLive{r: sample("11:59:00", "21.5", "100")})
	f.say(userID, "/esp32")

	msg := f.sender.last(t).(tgbotapi.MessageConfig)
	assert.Contains(t, msg.Text, "Local Temp: 21.5°C")
	assert.Contains(t, msg.Text, "Public IP: 203.0.113.9")

	latest, err := storage.Latest(context.Background(), f.store, now)
	require.NoError(t, err)
	assert.Equal(t, "11:59:00", latest.Time)
}

func TestLatest_FallsBackToStoredReading(t *testing.T) {
	f := newFixture(t, fakeLive{err: errors.New("timeout")})
	f.seed(t, sample("09:00:00", "18", "100"), sample("10:00:00", "19", "101"))

	f.say(userID, "/esp32")

	msg := f.sender.last(t).(tgbotapi.MessageConfig)
	assert.Contains(t, msg.Text, "Time: 10:00:00")
	assert.Contains(t, msg.Text, "Local Temp: 19°C")

	part, err := f.store.Load(context.Background(), now)
	require.NoError(t, err)
	assert.Len(t, part.Rows, 2, "fallback reading is not stored again")
}

func TestLatest_NoData(t *testing.T) {
	f := newFixture(t, fakeLive{err: errors.New("timeout")})
	f.say(userID, "/esp32")
	assert.Equal(t, []string{"❌ No data available."}, f.sender.texts())
}

func TestToday_SendsSpreadsheet(t *testing.T) {
	f := newFixture(t, fakeLive{})
	f.say(userID, "/esp32_all")
	assert.Equal(t, []string{"❌ Today's spreadsheet is not available."}, f.sender.texts())

	f.seed(t, sample("10:00:00", "19", "101"))
	f.say(userID, "/esp32_all")

	doc, ok := f.sender.last(t).(tgbotapi.DocumentConfig)
	require.True(t, ok)
	file, ok := doc.File.(tgbotapi.FileBytes)
	require.True(t, ok)
	assert.Equal(t, "data_log_2024-03-01.xlsx", file.Name)
	assert.NotEmpty(t, file.Bytes)
	assert.Equal(t, "📂 Today's spreadsheet", doc.Caption)
}

func TestChart_KindThenWindowSendsPhoto(t *testing.T) {
	f := newFixture(t, fakeLive{})
	f.seed(t,
		sample("09:00:00", "18", "100"),
		sample("10:00:00", "19", "104"),
		sample("11:00:00", "20", "102"),
	)

	f.say(userID, "/chart")
	menu := f.sender.last(t).(tgbotapi.MessageConfig)
	kb, ok := menu.ReplyMarkup.(tgbotapi.ReplyKeyboardMarkup)
	require.True(t, ok)
	require.Len(t, kb.Keyboard, 1)
	assert.Len(t, kb.Keyboard[0], 3)
	assert.True(t, kb.OneTimeKeyboard)

	f.say(userID, "🥇 Gold chart")
	windows := f.sender.last(t).(tgbotapi.MessageConfig)
	kb, ok = windows.ReplyMarkup.(tgbotapi.ReplyKeyboardMarkup)
	require.True(t, ok)
	assert.Len(t, kb.Keyboard, 2)

	f.say(userID, "📅 1 day chart")
	photo, ok := f.sender.last(t).(tgbotapi.PhotoConfig)
	require.True(t, ok, "expected a photo, got %T", f.sender.last(t))
	assert.Equal(t, "🥇 Gold chart - 📅 1 day chart", photo.Caption)
	file := photo.File.(tgbotapi.FileBytes)
	assert.Equal(t, []byte("\x89PNG"), file.Bytes[:4])

	types := make([]string, 0)
	for _, e := range f.requests(t) {
		types = append(types, e.RequestType)
	}
	assert.Equal(t, []string{"/chart", "chart_menu", "chart_timeframe"}, types)
}

func TestChart_KindIsPerUser(t *testing.T) {
	f := newFixture(t, fakeLive{})
	f.say(userID, "💵 Dollar chart")

	assert.Equal(t, chart.Dollar, f.bot.chartKind(userID))
	assert.Equal(t, chart.Weather, f.bot.chartKind(adminID), "default kind")
}

func TestChart_UnavailableWindowReportsReason(t *testing.T) {
	f := newFixture(t, fakeLive{})
	f.seed(t, sample("10:00:00", "19", "101"))

	f.say(userID, "📊 Weekly chart")

	msg := f.sender.last(t).(tgbotapi.MessageConfig)
	assert.True(t, strings.HasPrefix(msg.Text, noChart), msg.Text)
	assert.Contains(t, msg.Text, "1/7")
}

func TestChart_MissingTodayReportsReason(t *testing.T) {
	f := newFixture(t, fakeLive{})
	f.say(userID, "⏱️ 1 hour chart")

	msg := f.sender.last(t).(tgbotapi.MessageConfig)
	assert.Contains(t, msg.Text, noChart)
	assert.Contains(t, msg.Text, "2024-03-01")
}

func TestAdmin_AccessControl(t *testing.T) {
	f := newFixture(t, fakeLive{})

	f.say(userID, "/admin")
	assert.Equal(t, []string{"🚫 You do not have admin access!"}, f.sender.texts())

	f.say(userID, adminSendData)
	assert.Len(t, f.sender.all(), 1, "admin buttons are ignored for non-admins")

	f.say(adminID, "/admin")
	panel := f.sender.last(t).(tgbotapi.MessageConfig)
	_, ok := panel.ReplyMarkup.(tgbotapi.ReplyKeyboardMarkup)
	assert.True(t, ok)

	var data []string
	for _, e := range f.requests(t) {
		data = append(data, e.RequestData)
	}
	assert.Equal(t, []string{"Access Denied", "Access Granted"}, data)
}

func TestAdmin_SendAllDataFiles(t *testing.T) {
	f := newFixture(t, fakeLive{})
	f.say(adminID, adminSendData)
	assert.Equal(t, []string{"🚫 No data files available!"}, f.sender.texts())

	f.seed(t, sample("10:00:00", "19", "101"))
	require.NoError(t, f.store.Append(context.Background(), now.AddDate(0, 0, -1), sample("10:00:00", "17", "99")))

	f.sender = &fakeSender{}
	f.bot.sender = f.sender
	f.say(adminID, adminSendData)

	var names []string
	for _, c := range f.sender.all() {
		if doc, ok := c.(tgbotapi.DocumentConfig); ok {
			names = append(names, doc.File.(tgbotapi.FileBytes).Name)
		}
	}
	assert.Equal(t, []string{"data_log_2024-02-29.xlsx", "data_log_2024-03-01.xlsx"}, names)
	assert.Equal(t, []string{"✅ All data files sent."}, f.sender.texts())
}

func TestAdmin_LogFilesAndText(t *testing.T) {
	f := newFixture(t, fakeLive{})
	f.say(adminID, "/start")

	f.say(adminID, adminSendLogs)
	var docs int
	for _, c := range f.sender.all() {
		if _, ok := c.(tgbotapi.DocumentConfig); ok {
			docs++
		}
	}
	assert.Equal(t, 1, docs)

	f.say(adminID, adminViewLogs)
	text := f.sender.last(t).(tgbotapi.MessageConfig).Text
	assert.Contains(t, text, "Log Entry #1")
	assert.Contains(t, text, "Request Type: /start")
	assert.Contains(t, text, "Username: @tester")
}

func TestSplitMessage(t *testing.T) {
	text := strings.Repeat("line of text\n", 10)

	chunks := splitMessage(text, 30)
	assert.Equal(t, text, strings.Join(chunks, ""))
	for _, c := range chunks {
		assert.LessOrEqual(t, len([]rune(c)), 30)
		assert.True(t, strings.HasSuffix(c, "\n"))
	}

	assert.Equal(t, []string{"short"}, splitMessage("short", 30))
	assert.Len(t, splitMessage(strings.Repeat("x", 65), 30), 3, "long lines are cut hard")
}

type fakeAPI struct {
	*fakeSender
	updates chan tgbotapi.Update
	stopped chan struct{}
	once    sync.Once
}

func (a *fakeAPI) GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel { return a.updates }
func (a *fakeAPI) StopReceivingUpdates()                                        { a.once.Do(func() { close(a.stopped) }) }

func TestRunner_RetriesAfterDialFailure(t *testing.T) {
	f := newFixture(t, fakeLive{})
	api := &fakeAPI{fakeSender: &fakeSender{}, updates: make(chan tgbotapi.Update, 1), stopped: make(chan struct{})}

	var mu sync.Mutex
	attempts := 0
	dial := func(string) (API, error) {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		if attempts == 1 {
			return nil, errors.New("network down")
		}
		return api, nil
	}

	api.updates <- tgbotapi.Update{Message: &tgbotapi.Message{
		Text:     "/start",
		Chat:     &tgbotapi.Chat{ID: chatID},
		From:     &tgbotapi.User{ID: userID},
		Entities: []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: 6}},
	}}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		NewRunner(f.bot, "token", 10*time.Millisecond, dial, nil).Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return len(api.texts()) == 1 }, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("runner did not stop")
	}
	<-api.stopped

	mu.Lock()
	assert.Equal(t, 2, attempts)
	mu.Unlock()
}
