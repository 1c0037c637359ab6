// Package reading defines one polled sensor snapshot and the sensor's JSON shape.
package reading

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Field names a measurement carried by every reading. The value is the key
// used by the sensor's JSON payload.
type Field string

const (
	LocalTemperature    Field = "localTemperature"
	LocalHumidity       Field = "localHumidity"
	InternetTemperature Field = "internetTemperature"
	InternetHumidity    Field = "internetHumidity"
	BuyPrice            Field = "buy_price"
	SellPrice           Field = "sell_price"
	GoldPrice           Field = "gold_price"
	Ping                Field = "ping"
	Devices             Field = "devices"
)

// Fields lists every measurement in column order.
var Fields = []Field{
	LocalTemperature,
	LocalHumidity,
	InternetTemperature,
	InternetHumidity,
	BuyPrice,
	SellPrice,
	GoldPrice,
	Ping,
	Devices,
}

var headers = map[Field]string{
	LocalTemperature:    "Local Temperature",
	LocalHumidity:       "Local Humidity",
	InternetTemperature: "Internet Temperature",
	InternetHumidity:    "Internet Humidity",
	BuyPrice:            "Buy Price",
	SellPrice:           "Sell Price",
	GoldPrice:           "Gold Price",
	Ping:                "Ping Number",
	Devices:             "Devices",
}

// PingFailed is the value the sensor reports when its connectivity check fails.
const PingFailed = "Fail"

// ErrMissingKey is returned by Decode when the payload lacks a required key.
var ErrMissingKey = errors.New("sensor payload missing required key")

// Header returns the spreadsheet column title for f.
func (f Field) Header() string { return headers[f] }

// Valid reports whether f is a known measurement.
func (f Field) Valid() bool {
	_, ok := headers[f]
	return ok
}

// ParseField accepts either the payload key or the column title.
func ParseField(s string) (Field, bool) {
	s = strings.TrimSpace(s)
	for _, f := range Fields {
		if string(f) == s || strings.EqualFold(f.Header(), s) {
			return f, true
		}
	}
	return "", false
}

// Reading is one polled snapshot. Values holds text as reported by the
// sensor; a missing or empty entry means "not available".
type Reading struct {
	Date   string
	Time   string
	Values map[Field]string
}

// Value returns the raw text for f, or "" when not available.
func (r Reading) Value(f Field) string {
	if r.Values == nil {
		return ""
	}
	return r.Values[f]
}

// Float parses the value of f as a number. Thousands separators are ignored.
func (r Reading) Float(f Field) (float64, bool) {
	s := strings.ReplaceAll(strings.TrimSpace(r.Value(f)), ",", "")
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// PingStatus is "Failed" when the sensor reported a failed ping.
func (r Reading) PingStatus() string {
	if r.Value(Ping) == PingFailed {
		return "Failed"
	}
	return "Success"
}

// Layouts are tried in order when deriving a reading's instant.
var Layouts = []string{
	"2006-01-02 15:04:05",
	"02-01-2006 15:04:05",
	"2006/01/02 15:04:05",
}

// Timestamp combines Date and Time into a single instant in loc.
func (r Reading) Timestamp(loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	s := strings.TrimSpace(r.Date) + " " + strings.TrimSpace(r.Time)
	for _, layout := range Layouts {
		if ts, err := time.ParseInLocation(layout, s, loc); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparsable timestamp %q", s)
}

// Map flattens the reading into the sensor's key set.
func (r Reading) Map() map[string]string {
	m := make(map[string]string, len(Fields)+2)
	m["date"] = r.Date
	m["time"] = r.Time
	for _, f := range Fields {
		m[string(f)] = r.Value(f)
	}
	return m
}

func (r Reading) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.Map())
}

// UnmarshalJSON accepts the sensor's shape without enforcing the key set.
func (r *Reading) UnmarshalJSON(data []byte) error {
	raw, err := decodeObject(data)
	if err != nil {
		return err
	}
	*r = fromRaw(raw)
	return nil
}

// Decode parses a sensor payload. Every key of the sensor's fixed set must be
// present; values may be null.
func Decode(body []byte) (Reading, error) {
	raw, err := decodeObject(body)
	if err != nil {
		return Reading{}, err
	}

	var missing []string
	for _, key := range RequiredKeys() {
		if _, ok := raw[key]; !ok {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return Reading{}, fmt.Errorf("%w: %s", ErrMissingKey, strings.Join(missing, ", "))
	}
	return fromRaw(raw), nil
}

// RequiredKeys is the sensor's fixed key set.
func RequiredKeys() []string {
	keys := []string{"time", "date"}
	for _, f := range Fields {
		keys = append(keys, string(f))
	}
	return keys
}

func decodeObject(data []byte) (map[string]json.RawMessage, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode reading: %w", err)
	}
	if raw == nil {
		return nil, errors.New("decode reading: payload is not an object")
	}
	return raw, nil
}

func fromRaw(raw map[string]json.RawMessage) Reading {
	r := Reading{
		Date:   text(raw["date"]),
		Time:   text(raw["time"]),
		Values: make(map[Field]string, len(Fields)),
	}
	for _, f := range Fields {
		if v := text(raw[string(f)]); v != "" {
			r.Values[f] = v
		}
	}
	return r
}

// text renders a JSON value as the text stored for it: strings verbatim,
// numbers in their original form, null as empty and anything else compacted.
func text(v json.RawMessage) string {
	v = bytes.TrimSpace(v)
	if len(v) == 0 || string(v) == "null" {
		return ""
	}
	if v[0] == '"' {
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			return s
		}
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, v); err != nil {
		return string(v)
	}
	return buf.String()
}
