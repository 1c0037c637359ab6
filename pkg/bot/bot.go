// Package bot serves the Telegram command vocabulary: live readings, today's
// spreadsheet, the chart menu and the admin panel. Every request is written
// to the audit log.
package bot

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/nicktill/espmon/pkg/aggregate"
	"github.com/nicktill/espmon/pkg/audit"
	"github.com/nicktill/espmon/pkg/chart"
	"github.com/nicktill/espmon/pkg/config"
	"github.com/nicktill/espmon/pkg/export"
	"github.com/nicktill/espmon/pkg/instrument"
	"github.com/nicktill/espmon/pkg/reading"
	"github.com/nicktill/espmon/pkg/storage"
)

// Sender delivers messages, photos and documents. *tgbotapi.BotAPI satisfies it.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// LiveSource fetches a reading straight from the device.
type LiveSource interface {
	Fetch(ctx context.Context) (reading.Reading, error)
	PublicIP(ctx context.Context) string
}

// Config wires a Bot.
type Config struct {
	Sender     Sender
	Live       LiveSource
	Store      storage.Store
	Aggregator *aggregate.Aggregator
	Renderer   *chart.Renderer
	Audit      *audit.Log
	FilePrefix string
	AdminIDs   []int64
	Location   *time.Location
	Logger     *slog.Logger

	// Now defaults to time.Now.
	Now func() time.Time
}

type Bot struct {
	sender     Sender
	live       LiveSource
	store      storage.Store
	agg        *aggregate.Aggregator
	renderer   *chart.Renderer
	exporter   *export.Exporter
	audit      *audit.Log
	filePrefix string
	admins     map[int64]bool
	loc        *time.Location
	log        *slog.Logger
	now        func() time.Time

	// kinds remembers the chart kind each user picked last.
	mu    sync.Mutex
	kinds map[int64]chart.Kind
}

func New(cfg Config) *Bot {
	b := &Bot{
		sender:     cfg.Sender,
		live:       cfg.Live,
		store:      cfg.Store,
		agg:        cfg.Aggregator,
		renderer:   cfg.Renderer,
		exporter:   export.NewExporter(cfg.Store),
		audit:      cfg.Audit,
		filePrefix: cfg.FilePrefix,
		admins:     make(map[int64]bool, len(cfg.AdminIDs)),
		loc:        cfg.Location,
		log:        cfg.Logger,
		now:        cfg.Now,
		kinds:      make(map[int64]chart.Kind),
	}
	for _, id := range cfg.AdminIDs {
		b.admins[id] = true
	}
	if b.loc == nil {
		b.loc = time.Local
	}
	if b.log == nil {
		b.log = slog.Default()
	}
	if b.now == nil {
		b.now = time.Now
	}
	if b.renderer == nil {
		b.renderer = chart.NewRenderer(config.BotChartRenderWidth, config.BotChartRenderHeight)
	}
	if b.filePrefix == "" {
		b.filePrefix = config.DefaultFilePrefix
	}
	return b
}

// request is one incoming message with its sender resolved.
type request struct {
	chatID   int64
	userID   int64
	username string
	fullName string
	text     string
}

func newRequest(msg *tgbotapi.Message) request {
	req := request{text: strings.TrimSpace(msg.Text)}
	if msg.Chat != nil {
		req.chatID = msg.Chat.ID
	}
	if msg.From != nil {
		req.userID = msg.From.ID
		req.username = msg.From.UserName
		req.fullName = strings.TrimSpace(msg.From.FirstName + " " + msg.From.LastName)
	}
	return req
}

// Handle dispatches one update. Commands go to their handler, plain text
// is matched against the chart and admin keyboards.
func (b *Bot) Handle(ctx context.Context, update tgbotapi.Update) {
	msg := update.Message
	if msg == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, config.BotRequestTimeout)
	defer cancel()

	req := newRequest(msg)
	if msg.IsCommand() {
		switch msg.Command() {
		case "start", "help":
			b.handleStart(ctx, req)
		case "esp32":
			b.handleLatest(ctx, req)
		case "esp32_all":
			b.handleToday(ctx, req)
		case "chart":
			b.handleChartMenu(ctx, req)
		case "admin":
			b.handleAdmin(ctx, req)
		default:
			b.reply(req, "Unknown command. Send /start to see what I can do.", nil)
		}
		return
	}

	if kind, ok := kindFromLabel(req.text); ok {
		b.handleKind(ctx, req, kind)
		return
	}
	if w, ok := windowFromLabel(req.text); ok {
		b.handleWindow(ctx, req, w)
		return
	}
	switch req.text {
	case adminSendData, adminSendLogs, adminViewLogs:
		b.handleAdminAction(ctx, req)
		return
	}
	b.log.Debug("ignoring message", "user_id", req.userID, "text", req.text)
}

// record writes req to the audit log. Failures are logged only.
func (b *Bot) record(ctx context.Context, req request, requestType, data string) {
	instrument.ObserveBotRequest(requestType)
	if b.audit == nil {
		return
	}
	_, err := b.audit.Record(ctx, audit.Entry{
		UserID:      req.userID,
		Username:    req.username,
		FullName:    req.fullName,
		RequestType: requestType,
		RequestData: data,
	})
	if err != nil {
		b.log.Error("failed to record bot request", "type", requestType, "error", err)
	}
}

func (b *Bot) send(c tgbotapi.Chattable) {
	if _, err := b.sender.Send(c); err != nil {
		b.log.Warn("telegram send failed", "error", err)
	}
}

// reply sends text, attaching markup when it is not nil.
func (b *Bot) reply(req request, text string, markup interface{}) {
	msg := tgbotapi.NewMessage(req.chatID, text)
	if markup != nil {
		msg.ReplyMarkup = markup
	}
	b.send(msg)
}

func (b *Bot) chartKind(userID int64) chart.Kind {
	b.mu.Lock()
	defer b.mu.Unlock()
	if k, ok := b.kinds[userID]; ok {
		return k
	}
	return chart.Weather
}

func (b *Bot) setChartKind(userID int64, k chart.Kind) {
	b.mu.Lock()
	b.kinds[userID] = k
	b.mu.Unlock()
}
