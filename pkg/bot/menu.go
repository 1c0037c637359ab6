package bot

import (
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/nicktill/espmon/pkg/aggregate"
	"github.com/nicktill/espmon/pkg/chart"
)

const helpText = "🌟 Hello! Welcome to the ESP32 bot.\n" +
	"📡 Available commands:\n" +
	"• /esp32 → latest device readings\n" +
	"• /esp32_all → today's spreadsheet\n" +
	"• /chart → chart menu\n" +
	"• /admin → admin panel (admins only)\n"

// Chart kind buttons, in menu order.
var kindButtons = []struct {
	label string
	kind  chart.Kind
}{
	{"🌤️ Weather chart", chart.Weather},
	{"🥇 Gold chart", chart.Gold},
	{"💵 Dollar chart", chart.Dollar},
}

// Window buttons, two per row.
var windowButtons = []struct {
	label  string
	window aggregate.Window
}{
	{"⏱️ 1 hour chart", aggregate.Hour},
	{"📅 1 day chart", aggregate.Day},
	{"📊 Weekly chart", aggregate.Week},
	{"📈 Monthly chart", aggregate.Month},
}

const (
	adminSendData = "📂 Send all data files"
	adminSendLogs = "📂 Send all log files"
	adminViewLogs = "📜 Show today's log"
)

func kindFromLabel(text string) (chart.Kind, bool) {
	for _, b := range kindButtons {
		if b.label == text {
			return b.kind, true
		}
	}
	return "", false
}

func kindLabel(k chart.Kind) string {
	for _, b := range kindButtons {
		if b.kind == k {
			return b.label
		}
	}
	return string(k)
}

func windowFromLabel(text string) (aggregate.Window, bool) {
	for _, b := range windowButtons {
		if b.label == text {
			return b.window, true
		}
	}
	return "", false
}

func kindKeyboard() tgbotapi.ReplyKeyboardMarkup {
	row := make([]tgbotapi.KeyboardButton, 0, len(kindButtons))
	for _, b := range kindButtons {
		row = append(row, tgbotapi.NewKeyboardButton(b.label))
	}
	return oneTime(tgbotapi.NewReplyKeyboard(row))
}

func windowKeyboard() tgbotapi.ReplyKeyboardMarkup {
	var rows [][]tgbotapi.KeyboardButton
	for i := 0; i < len(windowButtons); i += 2 {
		row := tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(windowButtons[i].label))
		if i+1 < len(windowButtons) {
			row = append(row, tgbotapi.NewKeyboardButton(windowButtons[i+1].label))
		}
		rows = append(rows, row)
	}
	return oneTime(tgbotapi.NewReplyKeyboard(rows...))
}

func adminKeyboard() tgbotapi.ReplyKeyboardMarkup {
	return oneTime(tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(adminSendData),
			tgbotapi.NewKeyboardButton(adminSendLogs),
		),
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(adminViewLogs),
		),
	))
}

func oneTime(k tgbotapi.ReplyKeyboardMarkup) tgbotapi.ReplyKeyboardMarkup {
	k.ResizeKeyboard = true
	k.OneTimeKeyboard = true
	return k
}
