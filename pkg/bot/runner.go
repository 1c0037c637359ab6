package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/nicktill/espmon/pkg/config"
)

// API is the part of *tgbotapi.BotAPI the runner uses.
type API interface {
	Sender
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Dialer connects to the bot API with a token.
type Dialer func(token string) (API, error)

// DialTelegram connects to the public Telegram API.
func DialTelegram(token string) (API, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	return api, nil
}

// Runner keeps the bot's update loop alive, reconnecting after failures.
type Runner struct {
	bot   *Bot
	token string
	retry time.Duration
	dial  Dialer
	log   *slog.Logger
}

func NewRunner(b *Bot, token string, retry time.Duration, dial Dialer, log *slog.Logger) *Runner {
	if retry <= 0 {
		retry = config.DefaultBotRetry
	}
	if dial == nil {
		dial = DialTelegram
	}
	if log == nil {
		log = slog.Default()
	}
	return &Runner{bot: b, token: token, retry: retry, dial: dial, log: log}
}

// Run serves updates until ctx is done. Any failure, including a panic in
// a handler, restarts the loop after the retry delay.
func (r *Runner) Run(ctx context.Context) {
	for {
		err := r.serve(ctx)
		if ctx.Err() != nil {
			r.log.Info("telegram bot stopped")
			return
		}
		r.log.Error("telegram bot error", "error", err)
		r.log.Info("retrying telegram bot", "in", r.retry)

		select {
		case <-ctx.Done():
			r.log.Info("telegram bot stopped")
			return
		case <-time.After(r.retry):
		}
	}
}

func (r *Runner) serve(ctx context.Context) (err error) {
	api, err := r.dial(r.token)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	r.bot.sender = api

	u := tgbotapi.NewUpdate(0)
	u.Timeout = config.BotUpdateTimeout
	updates := api.GetUpdatesChan(u)
	defer api.StopReceivingUpdates()

	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("handler panic: %v", p)
		}
	}()

	r.log.Info("telegram bot started, waiting for commands")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case update, ok := <-updates:
			if !ok {
				return errors.New("update channel closed")
			}
			r.bot.Handle(ctx, update)
		}
	}
}
