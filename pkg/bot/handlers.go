package bot

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/nicktill/espmon/pkg/aggregate"
	"github.com/nicktill/espmon/pkg/audit"
	"github.com/nicktill/espmon/pkg/chart"
	"github.com/nicktill/espmon/pkg/reading"
	"github.com/nicktill/espmon/pkg/storage"
)

// maxMessageLen stays under Telegram's 4096 character limit.
const maxMessageLen = 4000

const noChart = "❌ No chart available for this window"

func (b *Bot) handleStart(ctx context.Context, req request) {
	b.record(ctx, req, "/start", "🤖 Start Bot")
	b.reply(req, helpText, nil)
}

// handleLatest answers with a live reading, or the last one stored today
// when the device does not respond. A live reading is also persisted.
func (b *Bot) handleLatest(ctx context.Context, req request) {
	b.record(ctx, req, "/esp32", "📡 Fetch Data")

	now := b.now().In(b.loc)
	r, err := b.live.Fetch(ctx)
	if err == nil {
		if err := b.store.Append(ctx, now, r); err != nil {
			b.log.Error("failed to save fetched reading", "error", err)
		}
	} else {
		b.log.Warn("live fetch failed, using last stored reading", "error", err)
		r, err = storage.Latest(ctx, b.store, now)
		if err != nil {
			if !errors.Is(err, storage.ErrPartitionNotFound) {
				b.log.Error("failed to load latest reading", "error", err)
			}
			b.reply(req, "❌ No data available.", nil)
			return
		}
	}

	b.reply(req, formatReading(r, b.live.PublicIP(ctx)), nil)
}

func formatReading(r reading.Reading, publicIP string) string {
	ping := r.Value(reading.Ping)
	if ping == "" {
		ping = reading.PingFailed
	}
	var s strings.Builder
	fmt.Fprintf(&s, "🕒 Time: %s\n", r.Time)
	fmt.Fprintf(&s, "📅 Date: %s\n", r.Date)
	fmt.Fprintf(&s, "🌡️ Local Temp: %s°C\n", r.Value(reading.LocalTemperature))
	fmt.Fprintf(&s, "💧 Local Humidity: %s%%\n", r.Value(reading.LocalHumidity))
	fmt.Fprintf(&s, "🌡️ Internet Temp: %s°C\n", r.Value(reading.InternetTemperature))
	fmt.Fprintf(&s, "💧 Internet Humidity: %s%%\n", r.Value(reading.InternetHumidity))
	fmt.Fprintf(&s, "💲 Buy Price: %s\n", r.Value(reading.BuyPrice))
	fmt.Fprintf(&s, "💵 Sell Price: %s\n", r.Value(reading.SellPrice))
	fmt.Fprintf(&s, "🥇 Gold Price: %s\n", r.Value(reading.GoldPrice))
	fmt.Fprintf(&s, "📶 Ping: %s\n", ping)
	fmt.Fprintf(&s, "📡 Devices: %s\n", r.Value(reading.Devices))
	fmt.Fprintf(&s, "🌐 Public IP: %s", publicIP)
	return s.String()
}

// handleToday sends today's partition as a spreadsheet.
func (b *Bot) handleToday(ctx context.Context, req request) {
	b.record(ctx, req, "/esp32_all", "📂 Retrieve Excel File")

	today := b.now().In(b.loc)
	data, err := b.exporter.ExportPartitionXLSX(ctx, today)
	if err != nil {
		if !errors.Is(err, storage.ErrPartitionNotFound) {
			b.log.Error("failed to export today's partition", "error", err)
		}
		b.reply(req, "❌ Today's spreadsheet is not available.", nil)
		return
	}

	doc := tgbotapi.NewDocument(req.chatID, tgbotapi.FileBytes{Name: b.partitionName(today), Bytes: data})
	doc.Caption = "📂 Today's spreadsheet"
	b.send(doc)
}

func (b *Bot) handleChartMenu(ctx context.Context, req request) {
	b.record(ctx, req, "/chart", "📊 Show Chart Menu")
	b.reply(req, "💡 Please choose one of the options below:", kindKeyboard())
}

func (b *Bot) handleKind(ctx context.Context, req request, kind chart.Kind) {
	b.setChartKind(req.userID, kind)
	b.record(ctx, req, "chart_menu", "Selected: "+req.text)
	b.reply(req, "⌚ Please choose a time window:", windowKeyboard())
}

// handleWindow renders the user's chosen chart kind over w. Aggregation
// failures are reported to the user with their reason.
func (b *Bot) handleWindow(ctx context.Context, req request, w aggregate.Window) {
	kind := b.chartKind(req.userID)
	caption := kindLabel(kind) + " - " + req.text
	b.record(ctx, req, "chart_timeframe", caption)

	frame, err := b.agg.Aggregate(ctx, w)
	if err != nil {
		b.log.Info("chart unavailable", "kind", kind, "window", w, "error", err)
		b.reply(req, noChartReason(err), nil)
		return
	}
	png, err := b.renderer.RenderBytes(frame, kind)
	if err != nil {
		b.log.Info("chart render failed", "kind", kind, "window", w, "error", err)
		b.reply(req, noChartReason(err), nil)
		return
	}

	photo := tgbotapi.NewPhoto(req.chatID, tgbotapi.FileBytes{
		Name:  fmt.Sprintf("%s_chart_%s.png", kind, w),
		Bytes: png,
	})
	photo.Caption = caption
	b.send(photo)
}

func noChartReason(err error) string {
	var aerr *aggregate.Error
	if errors.As(err, &aerr) || errors.Is(err, chart.ErrNotEnoughPoints) {
		return noChart + ": " + err.Error()
	}
	return noChart + "."
}

func (b *Bot) handleAdmin(ctx context.Context, req request) {
	if !b.admins[req.userID] {
		b.reply(req, "🚫 You do not have admin access!", nil)
		b.record(ctx, req, "/admin", "Access Denied")
		return
	}
	b.record(ctx, req, "/admin", "Access Granted")
	b.reply(req, "🔐 Admin panel:", adminKeyboard())
}

// handleAdminAction runs an admin keyboard button. Non-admins are ignored.
func (b *Bot) handleAdminAction(ctx context.Context, req request) {
	if !b.admins[req.userID] {
		return
	}
	switch req.text {
	case adminSendData:
		b.record(ctx, req, "admin", "Send all excel files")
		b.sendDataFiles(ctx, req)
	case adminSendLogs:
		b.record(ctx, req, "admin", "Send all log files")
		b.sendLogFiles(req)
	case adminViewLogs:
		b.record(ctx, req, "admin", "View logs as text")
		b.sendTodayLog(ctx, req)
	}
}

// sendDataFiles sends one spreadsheet per stored day.
func (b *Bot) sendDataFiles(ctx context.Context, req request) {
	dates, err := b.store.Dates(ctx)
	if err != nil {
		b.log.Error("failed to list partitions", "error", err)
		b.reply(req, "❌ Failed to send the data files!", nil)
		return
	}
	if len(dates) == 0 {
		b.reply(req, "🚫 No data files available!", nil)
		return
	}
	for _, day := range dates {
		data, err := b.exporter.ExportPartitionXLSX(ctx, day)
		if err != nil {
			b.log.Error("failed to export partition", "date", storage.DateKey(day), "error", err)
			b.reply(req, "❌ Failed to send the data files!", nil)
			return
		}
		b.send(tgbotapi.NewDocument(req.chatID, tgbotapi.FileBytes{Name: b.partitionName(day), Bytes: data}))
	}
	b.reply(req, "✅ All data files sent.", nil)
}

func (b *Bot) sendLogFiles(req request) {
	if b.audit == nil {
		b.reply(req, "🚫 No log files available!", nil)
		return
	}
	files, err := b.audit.Files()
	if err != nil {
		b.log.Error("failed to list log files", "error", err)
		b.reply(req, "❌ Failed to send the log files!", nil)
		return
	}
	if len(files) == 0 {
		b.reply(req, "🚫 No log files available!", nil)
		return
	}
	for _, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			b.log.Error("failed to read log file", "path", path, "error", err)
			b.reply(req, "❌ Failed to send the log files!", nil)
			return
		}
		b.send(tgbotapi.NewDocument(req.chatID, tgbotapi.FileBytes{Name: filepath.Base(path), Bytes: data}))
	}
	b.reply(req, "✅ All log files sent.", nil)
}

func (b *Bot) sendTodayLog(ctx context.Context, req request) {
	if b.audit == nil {
		b.reply(req, "🚫 No log file for today!", nil)
		return
	}
	entries, err := b.audit.Today(ctx)
	if err != nil {
		b.log.Error("failed to read today's log", "error", err)
		b.reply(req, "❌ Failed to read the log file!", nil)
		return
	}
	if len(entries) == 0 {
		b.reply(req, "🚫 No log file for today!", nil)
		return
	}
	for _, chunk := range splitMessage(audit.Format(entries), maxMessageLen) {
		b.reply(req, chunk, nil)
	}
}

func (b *Bot) partitionName(day time.Time) string {
	return b.filePrefix + storage.DateKey(day.In(b.loc)) + ".xlsx"
}

// splitMessage cuts text into pieces of at most limit runes, breaking
// after a newline whenever one is available.
func splitMessage(text string, limit int) []string {
	var chunks []string
	runes := []rune(text)
	for len(runes) > limit {
		cut := limit
		for i := limit - 1; i > 0; i-- {
			if runes[i] == '\n' {
				cut = i + 1
				break
			}
		}
		chunks = append(chunks, string(runes[:cut]))
		runes = runes[cut:]
	}
	if len(runes) > 0 {
		chunks = append(chunks, string(runes))
	}
	return chunks
}
