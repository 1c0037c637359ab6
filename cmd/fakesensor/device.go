package main

import (
	"math/rand"
	"strconv"
	"sync"
	"time"
)

// device simulates the ESP32 board: every snapshot nudges each measurement
// a small random step away from the previous one.
type device struct {
	mu  sync.Mutex
	rng *rand.Rand
	now func() time.Time

	localTemp, localHum       float64
	internetTemp, internetHum float64
	buy, sell, gold           float64
	devices                   int

	// failEvery makes every n-th ping report "Fail"; 0 disables it.
	failEvery int
	count     int
}

func newDevice(seed int64, failEvery int) *device {
	return &device{
		rng:          rand.New(rand.NewSource(seed)),
		now:          time.Now,
		localTemp:    22,
		localHum:     45,
		internetTemp: 18,
		internetHum:  60,
		buy:          61200,
		sell:         61500,
		gold:         3450000,
		devices:      5,
		failEvery:    failEvery,
	}
}

// walk moves v by at most step, kept inside [lo, hi].
func (d *device) walk(v, step, lo, hi float64) float64 {
	v += (d.rng.Float64()*2 - 1) * step
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// snapshot returns the next payload in the board's JSON shape.
func (d *device) snapshot() map[string]any {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.count++
	d.localTemp = d.walk(d.localTemp, 0.3, 10, 40)
	d.localHum = d.walk(d.localHum, 1, 10, 95)
	d.internetTemp = d.walk(d.internetTemp, 0.2, -10, 45)
	d.internetHum = d.walk(d.internetHum, 1, 5, 100)
	d.buy = d.walk(d.buy, 150, 40000, 90000)
	d.sell = d.buy + 300
	d.gold = d.walk(d.gold, 5000, 2000000, 6000000)
	if d.rng.Intn(10) == 0 {
		d.devices = int(d.walk(float64(d.devices), 2, 1, 20))
	}

	var ping any = 8 + d.rng.Intn(40)
	if d.failEvery > 0 && d.count%d.failEvery == 0 {
		ping = "Fail"
	}

	now := d.now()
	return map[string]any{
		"date":                now.Format("2006-01-02"),
		"time":                now.Format("15:04:05"),
		"localTemperature":    round1(d.localTemp),
		"localHumidity":       round1(d.localHum),
		"internetTemperature": round1(d.internetTemp),
		"internetHumidity":    round1(d.internetHum),
		"buy_price":           thousands(int64(d.buy)),
		"sell_price":          thousands(int64(d.sell)),
		"gold_price":          thousands(int64(d.gold)),
		"ping":                ping,
		"devices":             d.devices,
	}
}

func round1(v float64) float64 {
	return float64(int64(v*10+0.5)) / 10
}

// thousands formats n with comma separators, the way the board prints prices.
func thousands(n int64) string {
	s := strconv.FormatInt(n, 10)
	if n < 0 {
		return "-" + thousands(-n)
	}
	for i := len(s) - 3; i > 0; i -= 3 {
		s = s[:i] + "," + s[i:]
	}
	return s
}
