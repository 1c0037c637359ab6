// Package chart renders aggregated frames as dark-themed PNG line charts.
package chart

import (
	"bytes"
	"fmt"
	"io"
	"time"

	gochart "github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"

	"github.com/nicktill/espmon/pkg/aggregate"
	"github.com/nicktill/espmon/pkg/instrument"
)

const (
	DefaultWidth  = 1200
	DefaultHeight = 600

	// maxPlotPoints bounds the points per line; longer series are bucketed.
	maxPlotPoints = 600
)

var (
	background = drawing.Color{R: 0x12, G: 0x12, B: 0x12, A: 0xff}
	foreground = drawing.ColorWhite
	grid       = drawing.Color{R: 0x80, G: 0x80, B: 0x80, A: 0x80}
)

// Renderer draws charts at a fixed size.
type Renderer struct {
	Width  int
	Height int
}

// NewRenderer returns a renderer of the given size; zero values use defaults.
func NewRenderer(width, height int) *Renderer {
	if width <= 0 {
		width = DefaultWidth
	}
	if height <= 0 {
		height = DefaultHeight
	}
	return &Renderer{Width: width, Height: height}
}

// Render writes the PNG for kind over frame to w.
func (r *Renderer) Render(frame *aggregate.Frame, kind Kind, w io.Writer) error {
	lines := kind.lines()
	if lines == nil {
		return ErrInvalidKind
	}

	graph := gochart.Chart{
		Title:      fmt.Sprintf("%s (%s)", kind.Title(), frame.Window),
		TitleStyle: gochart.Style{FontColor: foreground, FontSize: 14},
		Width:      r.Width,
		Height:     r.Height,
		Background: gochart.Style{
			FillColor: background,
			Padding:   gochart.Box{Top: 50, Left: 20, Right: 20, Bottom: 20},
		},
		Canvas: gochart.Style{FillColor: background},
		XAxis: gochart.XAxis{
			Name:           "Time",
			NameStyle:      gochart.Style{FontColor: foreground},
			Style:          gochart.Style{FontColor: foreground, StrokeColor: foreground},
			ValueFormatter: gochart.TimeValueFormatterWithFormat("02-01 15:04"),
			GridMajorStyle: gridStyle(),
		},
	}

	plots := plotLines(frame, lines)
	if len(plots) == 0 {
		return ErrNotEnoughPoints
	}

	for _, p := range plots {
		series := gochart.TimeSeries{
			Name:    p.label,
			Style:   gochart.Style{StrokeColor: p.color, StrokeWidth: 1.5},
			XValues: make([]time.Time, len(p.points)),
			YValues: make([]float64, len(p.points)),
		}
		for i, pt := range p.points {
			series.XValues[i] = pt.At
			series.YValues[i] = pt.Value
		}

		axis := gochart.YAxis{
			Name:           p.label,
			NameStyle:      gochart.Style{FontColor: p.color},
			Style:          gochart.Style{FontColor: p.color, StrokeColor: p.color},
			GridMajorStyle: gridStyle(),
		}
		if p.lo.Value == p.hi.Value {
			v := p.lo.Value
			axis.Range = &gochart.ContinuousRange{Min: v - 1, Max: v + 1}
		}

		ann := gochart.AnnotationSeries{
			Style: gochart.Style{
				FillColor:   background,
				FontColor:   foreground,
				StrokeColor: p.color,
			},
			Annotations: []gochart.Value2{
				annotation("Max", p.hi, p.unit),
				annotation("Min", p.lo, p.unit),
			},
		}

		// A lone line always goes on the primary axis.
		if p.secondary && len(plots) > 1 {
			series.YAxis = gochart.YAxisSecondary
			ann.YAxis = gochart.YAxisSecondary
			graph.YAxisSecondary = axis
		} else {
			graph.YAxis = axis
		}
		graph.Series = append(graph.Series, series, ann)
	}

	graph.Elements = []gochart.Renderable{gochart.LegendThin(&graph, gochart.Style{
		FillColor:   background,
		FontColor:   foreground,
		StrokeColor: grid,
	})}

	var buf bytes.Buffer
	if err := graph.Render(gochart.PNG, &buf); err != nil {
		return fmt.Errorf("render %s chart: %w", kind, err)
	}
	if _, err := w.Write(buf.Bytes()); err != nil {
		return err
	}
	instrument.ObserveChart(string(kind))
	return nil
}

// RenderBytes is Render into a byte slice.
func (r *Renderer) RenderBytes(frame *aggregate.Frame, kind Kind) ([]byte, error) {
	var buf bytes.Buffer
	if err := r.Render(frame, kind, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// plot is one drawable line. lo and hi are the extremes of the full
// series, so a spike averaged away by downsampling is still labelled.
type plot struct {
	line
	points []aggregate.Point
	lo, hi aggregate.Point
}

// plotLines keeps the lines of frame with at least two distinct instants.
func plotLines(frame *aggregate.Frame, lines []line) []plot {
	var plots []plot
	for _, l := range lines {
		raw := frame.Series(l.field)
		points := aggregate.Downsample(raw, maxPlotPoints)
		if len(points) < 2 || points[0].At.Equal(points[len(points)-1].At) {
			continue
		}
		lo, hi := extremes(raw)
		plots = append(plots, plot{line: l, points: points, lo: lo, hi: hi})
	}
	return plots
}

// extremes returns the first lowest and first highest point.
func extremes(points []aggregate.Point) (lo, hi aggregate.Point) {
	lo, hi = points[0], points[0]
	for _, pt := range points[1:] {
		if pt.Value < lo.Value {
			lo = pt
		}
		if pt.Value > hi.Value {
			hi = pt
		}
	}
	return lo, hi
}

func annotation(label string, p aggregate.Point, unit string) gochart.Value2 {
	return gochart.Value2{
		XValue: gochart.TimeToFloat64(p.At),
		YValue: p.Value,
		Label:  fmt.Sprintf("%s: %.1f%s", label, p.Value, unit),
	}
}

func gridStyle() gochart.Style {
	return gochart.Style{
		StrokeColor:     grid,
		StrokeWidth:     0.5,
		StrokeDashArray: []float64{4, 4},
	}
}
