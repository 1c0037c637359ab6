package chart

import (
	"errors"
	"strings"

	"github.com/wcharczuk/go-chart/v2/drawing"

	"github.com/nicktill/espmon/pkg/reading"
)

var (
	ErrInvalidKind     = errors.New("invalid chart kind")
	ErrNotEnoughPoints = errors.New("not enough points to draw a chart")
)

// Kind selects which measurements a chart plots.
type Kind string

const (
	Weather Kind = "weather"
	Gold    Kind = "gold"
	Dollar  Kind = "dollar"
)

// Kinds lists every chart kind in menu order.
var Kinds = []Kind{Weather, Gold, Dollar}

// ParseKind accepts a kind name, case-insensitively.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Kinds {
		if k == known {
			return k, nil
		}
	}
	return "", ErrInvalidKind
}

// Title is the chart heading without the window suffix.
func (k Kind) Title() string {
	switch k {
	case Weather:
		return "Weather Chart"
	case Gold:
		return "Gold Chart"
	case Dollar:
		return "Dollar Chart"
	}
	return string(k)
}

// line is one plotted measurement.
type line struct {
	field     reading.Field
	label     string
	unit      string
	color     drawing.Color
	secondary bool
}

var (
	red  = drawing.Color{R: 0xff, G: 0x45, B: 0x45, A: 0xff}
	cyan = drawing.Color{R: 0x00, G: 0xe5, B: 0xff, A: 0xff}
	gold = drawing.Color{R: 0xff, G: 0xd7, B: 0x00, A: 0xff}
	lime = drawing.Color{R: 0x32, G: 0xcd, B: 0x32, A: 0xff}
)

func (k Kind) lines() []line {
	switch k {
	case Weather:
		return []line{
			{field: reading.LocalTemperature, label: "Temp (°C)", unit: "°C", color: red},
			{field: reading.LocalHumidity, label: "Humidity (%)", unit: "%", color: cyan, secondary: true},
		}
	case Gold:
		return []line{{field: reading.GoldPrice, label: "Gold Price", color: gold}}
	case Dollar:
		return []line{{field: reading.SellPrice, label: "Dollar Price", color: lime}}
	}
	return nil
}
