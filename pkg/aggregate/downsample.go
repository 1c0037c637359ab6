package aggregate

import (
	"time"
)

// Bucket summarizes the points falling in one fixed-width time slot.
type Bucket struct {
	Start time.Time
	Sum   float64
	Count uint64
	Min   float64
	Max   float64
}

// Average calculates the mean value
func (b *Bucket) Average() float64 {
	if b.Count == 0 {
		return 0
	}
	return b.Sum / float64(b.Count)
}

func (b *Bucket) add(v float64) {
	if b.Count == 0 || v < b.Min {
		b.Min = v
	}
	if b.Count == 0 || v > b.Max {
		b.Max = v
	}
	b.Sum += v
	b.Count++
}

// Buckets groups sorted points into step-wide slots aligned to the first
// point. Empty slots are omitted.
func Buckets(points []Point, step time.Duration) []Bucket {
	if len(points) == 0 || step <= 0 {
		return nil
	}

	origin := points[0].At
	var buckets []Bucket
	for _, p := range points {
		slot := origin.Add(p.At.Sub(origin) / step * step)
		if n := len(buckets); n == 0 || !buckets[n-1].Start.Equal(slot) {
			buckets = append(buckets, Bucket{Start: slot})
		}
		buckets[len(buckets)-1].add(p.Value)
	}
	return buckets
}

// Downsample reduces sorted points to at most maxPoints bucket averages.
// Series that already fit are returned unchanged.
func Downsample(points []Point, maxPoints int) []Point {
	if maxPoints <= 0 || len(points) <= maxPoints {
		return points
	}

	span := points[len(points)-1].At.Sub(points[0].At)
	step := span/time.Duration(maxPoints) + 1
	return FromBuckets(Buckets(points, step))
}

// FromBuckets turns buckets into points placed at each bucket's start.
func FromBuckets(buckets []Bucket) []Point {
	out := make([]Point, 0, len(buckets))
	for i := range buckets {
		b := &buckets[i]
		out = append(out, Point{At: b.Start, Value: b.Average(), Timestamp: b.Start.UnixMilli()})
	}
	return out
}
