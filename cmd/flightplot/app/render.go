package app

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/golang/freetype"
	"github.com/golang/freetype/truetype"
	"github.com/lucasb-eyer/go-colorful"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
)

const (
	dpi            = 120.0
	fontSize       = 10.0
	tickMarkLength = 5
	minPlotSize    = 100

	// Default border sizes in pixels
	defaultTopBorder    = 40
	defaultLeftBorder   = 90
	defaultBottomBorder = 60
	defaultRightBorder  = 40

	defaultDatetimeFormat = time.DateTime

	// line colour runs from blue at the lowest value to red at the highest
	hueLow  = 236.0
	hueHigh = 0.0
)

var gridColor = color.RGBA{R: 0xdd, G: 0xdd, B: 0xdd, A: 0xff}

// BorderConfig defines the sizes of white space around the plot
type BorderConfig struct {
	Top    int // Space for the info line
	Left   int // Space for the value scale
	Bottom int // Space for the time scale
	Right  int // Right padding
}

// RenderConfig holds all configuration options for profile rendering
type RenderConfig struct {
	Width  int // Plot area width in pixels
	Height int // Plot area height in pixels

	DatetimeFormat string
	Location       *time.Location
	FontSize       float64

	// Title is printed above the plot, usually the event name.
	Title         string
	NoAnnotations bool

	BorderConfig BorderConfig
}

// ProfileRenderer draws a Series as a line over time.
type ProfileRenderer struct {
	config RenderConfig
}

func NewProfileRenderer(config RenderConfig) (*ProfileRenderer, error) {
	if config.Width < minPlotSize || config.Height < minPlotSize {
		return nil, fmt.Errorf("plot area too small: %dx%d", config.Width, config.Height)
	}
	if config.DatetimeFormat == "" {
		config.DatetimeFormat = defaultDatetimeFormat
	}
	if config.Location == nil {
		config.Location = time.Local
	}
	if config.FontSize == 0 {
		config.FontSize = fontSize
	}
	if config.BorderConfig.Top == 0 {
		config.BorderConfig.Top = defaultTopBorder
	}
	if config.BorderConfig.Left == 0 {
		config.BorderConfig.Left = defaultLeftBorder
	}
	if config.BorderConfig.Bottom == 0 {
		config.BorderConfig.Bottom = defaultBottomBorder
	}
	if config.BorderConfig.Right == 0 {
		config.BorderConfig.Right = defaultRightBorder
	}

	return &ProfileRenderer{config: config}, nil
}

// Render draws series with annotations
func (r *ProfileRenderer) Render(series *Series) (*image.RGBA, error) {
	if series.Empty() {
		return nil, fmt.Errorf("series %s has no points", series.Label())
	}

	b := r.config.BorderConfig
	img := image.NewRGBA(image.Rect(0, 0, r.config.Width+b.Left+b.Right, r.config.Height+b.Top+b.Bottom))
	draw.Draw(img, img.Bounds(), image.White, image.Point{}, draw.Src)

	p := newPlot(r.plotArea(), series)

	if !r.config.NoAnnotations {
		ann, err := newAnnotator(r.config)
		if err != nil {
			return nil, fmt.Errorf("creating annotator: %w", err)
		}
		defer ann.Close()

		if err = ann.annotate(img, p); err != nil {
			return nil, fmt.Errorf("drawing annotations: %w", err)
		}
	}

	p.draw(img)
	return img, nil
}

func (r *ProfileRenderer) plotArea() image.Rectangle {
	b := r.config.BorderConfig
	return image.Rect(b.Left, b.Top, b.Left+r.config.Width, b.Top+r.config.Height)
}

// plot maps series coordinates onto the plot area.
type plot struct {
	area   image.Rectangle
	series *Series

	lo, hi float64 // value range, padded when flat
}

func newPlot(area image.Rectangle, series *Series) *plot {
	lo, hi := series.Min, series.Max
	if lo == hi {
		lo, hi = lo-1, hi+1
	}
	return &plot{area: area, series: series, lo: lo, hi: hi}
}

func (p *plot) x(t time.Time) int {
	span := p.series.End.Sub(p.series.Start)
	if span <= 0 {
		return p.area.Min.X
	}
	ratio := float64(t.Sub(p.series.Start)) / float64(span)
	return p.area.Min.X + int(math.Round(ratio*float64(p.area.Dx()-1)))
}

func (p *plot) y(v float64) int {
	ratio := (v - p.lo) / (p.hi - p.lo)
	return p.area.Max.Y - 1 - int(math.Round(ratio*float64(p.area.Dy()-1)))
}

func (p *plot) color(v float64) color.Color {
	ratio := (v - p.lo) / (p.hi - p.lo)
	hue := hueLow - ratio*(hueLow-hueHigh)
	return colorful.Hsv(math.Min(math.Max(hue, hueHigh), hueLow), 1, 0.9)
}

func (p *plot) draw(img *image.RGBA) {
	points := p.series.Points
	if len(points) == 1 {
		img.Set(p.x(points[0].Time), p.y(points[0].Value), p.color(points[0].Value))
		return
	}

	for i := 1; i < len(points); i++ {
		a, b := points[i-1], points[i]
		drawLine(img, p.x(a.Time), p.y(a.Value), p.x(b.Time), p.y(b.Value), p.color(b.Value))
	}
}

// drawLine is Bresenham's line algorithm.
func drawLine(img *image.RGBA, x0, y0, x1, y1 int, c color.Color) {
	dx, dy := abs(x1-x0), -abs(y1-y0)
	sx, sy := 1, 1
	if x0 > x1 {
		sx = -1
	}
	if y0 > y1 {
		sy = -1
	}

	e := dx + dy
	for {
		img.Set(x0, y0, c)
		if x0 == x1 && y0 == y1 {
			return
		}
		e2 := 2 * e
		if e2 >= dy {
			e += dy
			x0 += sx
		}
		if e2 <= dx {
			e += dx
			y0 += sy
		}
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

type annotator struct {
	context  *freetype.Context
	config   RenderConfig
	fontFace font.Face
}

func newAnnotator(config RenderConfig) (*annotator, error) {
	parsedFont, err := freetype.ParseFont(goregular.TTF)
	if err != nil {
		return nil, fmt.Errorf("parsing font: %w", err)
	}

	ctx := freetype.NewContext()
	ctx.SetDPI(dpi)
	ctx.SetFont(parsedFont)
	ctx.SetFontSize(config.FontSize)
	ctx.SetHinting(font.HintingNone)
	ctx.SetSrc(image.Black)

	return &annotator{
		context: ctx,
		config:  config,
		fontFace: truetype.NewFace(parsedFont, &truetype.Options{
			Size:    config.FontSize,
			DPI:     dpi,
			Hinting: font.HintingNone,
		}),
	}, nil
}

func (a *annotator) Close() error {
	if a.fontFace != nil {
		return a.fontFace.Close()
	}
	return nil
}

func (a *annotator) annotate(img *image.RGBA, p *plot) error {
	a.context.SetClip(img.Bounds())
	a.context.SetDst(img)

	if err := a.drawValueScale(img, p); err != nil {
		return fmt.Errorf("drawing value scale: %w", err)
	}
	if err := a.drawTimeScale(img, p); err != nil {
		return fmt.Errorf("drawing time scale: %w", err)
	}
	if err := a.drawInfo(img, p); err != nil {
		return fmt.Errorf("drawing info: %w", err)
	}
	return nil
}

func (a *annotator) fontHeight() int {
	metrics := a.fontFace.Metrics()
	return (metrics.Ascent + metrics.Descent).Round()
}

func (a *annotator) drawValueScale(img *image.RGBA, p *plot) error {
	step := niceStep(p.hi-p.lo, p.area.Dy(), pixelsPerValueLabel)
	descent := a.fontFace.Metrics().Descent.Round()

	for v := math.Ceil(p.lo/step) * step; v <= p.hi; v += step {
		y := p.y(v)

		for x := p.area.Min.X; x < p.area.Max.X; x++ {
			img.Set(x, y, gridColor)
		}
		for x := p.area.Min.X - tickMarkLength; x < p.area.Min.X; x++ {
			img.Set(x, y, color.Black)
		}

		label := formatValue(v, step)
		width := font.MeasureString(a.fontFace, label).Round()
		pt := freetype.Pt(p.area.Min.X-tickMarkLength-3-width, y+a.fontHeight()/2-descent)
		if _, err := a.context.DrawString(label, pt); err != nil {
			return fmt.Errorf("drawing value label: %w", err)
		}
	}
	return nil
}

func (a *annotator) drawTimeScale(img *image.RGBA, p *plot) error {
	duration := p.series.End.Sub(p.series.Start)
	step := niceTimeStep(duration, p.area.Dx())
	textY := p.area.Max.Y + tickMarkLength + a.fontHeight()

	for elapsed := time.Duration(0); elapsed <= duration; elapsed += step {
		x := p.x(p.series.Start.Add(elapsed))

		for y := p.area.Min.Y; y < p.area.Max.Y; y++ {
			img.Set(x, y, gridColor)
		}
		for y := p.area.Max.Y; y < p.area.Max.Y+tickMarkLength; y++ {
			img.Set(x, y, color.Black)
		}

		label := formatElapsed(elapsed)
		width := font.MeasureString(a.fontFace, label).Round()
		if _, err := a.context.DrawString(label, freetype.Pt(x-width/2, textY)); err != nil {
			return fmt.Errorf("drawing time label: %w", err)
		}

		if duration == 0 {
			break
		}
	}
	return nil
}

func (a *annotator) drawInfo(img *image.RGBA, p *plot) error {
	s := p.series

	var sb strings.Builder
	if a.config.Title != "" {
		sb.WriteString(a.config.Title)
		sb.WriteString("; ")
	}
	sb.WriteString(s.Label())
	sb.WriteString(fmt.Sprintf("; %s points; min %.2f, max %.2f; %s - %s",
		humanize.Comma(int64(len(s.Points))), s.Min, s.Max,
		s.Start.In(a.config.Location).Format(a.config.DatetimeFormat),
		s.End.In(a.config.Location).Format(a.config.DatetimeFormat)))

	textY := (a.config.BorderConfig.Top+a.fontHeight())/2 - a.fontFace.Metrics().Descent.Round()
	if _, err := a.context.DrawString(sb.String(), freetype.Pt(p.area.Min.X, textY)); err != nil {
		return fmt.Errorf("drawing info text: %w", err)
	}

	// frame
	for x := p.area.Min.X - 1; x <= p.area.Max.X; x++ {
		img.Set(x, p.area.Min.Y-1, color.Black)
		img.Set(x, p.area.Max.Y, color.Black)
	}
	for y := p.area.Min.Y - 1; y <= p.area.Max.Y; y++ {
		img.Set(p.area.Min.X-1, y, color.Black)
		img.Set(p.area.Max.X, y, color.Black)
	}
	return nil
}
