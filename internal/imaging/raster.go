package imaging

import (
	"image"
	"image/color"
	"image/draw"
	"strings"

	"github.com/go-text/render"
	"github.com/go-text/typesetting/di"
	"github.com/go-text/typesetting/shaping"
	"github.com/rivo/uniseg"
	"golang.org/x/image/math/fixed"
)

const (
	DefaultDotWidth     = 384
	DefaultFontSize     = 20
	DefaultEnlargedSize = 28
	DefaultThreshold    = 170
	MaxBandRows         = 128
)

// Options configures receipt rasterization
type Options struct {
	DotWidth     int   // printable width in pixels
	FontSize     int   // base size in pixels
	EnlargedSize int   // size for lines listed in Enlarged
	Enlarged     []int // indices into the input lines
	LineHeight   int   // fixed base line height; 0 uses font metrics
	Threshold    uint8 // luminance below this is ink
	BandHeight   int   // max rows per band
}

func DefaultOptions() Options {
	return Options{
		DotWidth:     DefaultDotWidth,
		FontSize:     DefaultFontSize,
		EnlargedSize: DefaultEnlargedSize,
		Threshold:    DefaultThreshold,
		BandHeight:   MaxBandRows,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.DotWidth <= 0 {
		o.DotWidth = d.DotWidth
	}
	if o.FontSize <= 0 {
		o.FontSize = d.FontSize
	}
	if o.EnlargedSize <= 0 {
		o.EnlargedSize = o.FontSize
	}
	if o.Threshold == 0 {
		o.Threshold = d.Threshold
	}
	if o.BandHeight <= 0 || o.BandHeight > MaxBandRows {
		o.BandHeight = MaxBandRows
	}
	return o
}

// Rasterize renders lines and returns the binarized receipt split into bands
func Rasterize(lines []string, opts Options) ([]Band, error) {
	opts = opts.withDefaults()
	img, err := Render(lines, opts)
	if err != nil {
		return nil, err
	}
	return Bands(Binarize(img, opts.Threshold), opts.BandHeight), nil
}

// shapedLine is one wrapped segment ready to draw
type shapedLine struct {
	runs    []shaping.Output
	size    int
	width   int
	ascent  int
	descent int
	height  int
}

// typesetter owns everything a single render mutates
type typesetter struct {
	faces  *faceSet
	seg    shaping.Segmenter
	shaper shaping.HarfbuzzShaper
}

func newTypesetter() (*typesetter, error) {
	faces, err := newFaceSet()
	if err != nil {
		return nil, err
	}
	return &typesetter{faces: faces}, nil
}

func (t *typesetter) shape(text string, size int) shapedLine {
	sl := shapedLine{size: size}
	runes := []rune(text)
	if len(runes) == 0 {
		runes = []rune{' '}
	}
	in := shaping.Input{
		Text:      runes,
		RunStart:  0,
		RunEnd:    len(runes),
		Direction: di.DirectionLTR,
		Face:      t.faces.latin,
		Size:      fixed.I(size),
	}
	var advance fixed.Int26_6
	for _, run := range t.seg.Split(in, t.faces) {
		out := t.shaper.Shape(run)
		advance += out.Advance
		if a := out.LineBounds.Ascent.Ceil(); a > sl.ascent {
			sl.ascent = a
		}
		if d := (-out.LineBounds.Descent).Ceil(); d > sl.descent {
			sl.descent = d
		}
		if h := out.LineBounds.LineThickness().Ceil(); h > sl.height {
			sl.height = h
		}
		sl.runs = append(sl.runs, out)
	}
	if text == "" {
		sl.runs = nil
	} else {
		sl.width = advance.Ceil()
	}
	if sl.height < sl.ascent+sl.descent {
		sl.height = sl.ascent + sl.descent
	}
	return sl
}

func (t *typesetter) measure(text string, size int) int {
	return t.shape(text, size).width
}

// wrap splits text to fit maxWidth pixels, preferring spaces and
// otherwise breaking between grapheme clusters
func (t *typesetter) wrap(text string, size, maxWidth int) []string {
	if text == "" || t.measure(text, size) <= maxWidth {
		return []string{text}
	}

	var lines []string
	rest := text
	for rest != "" {
		if t.measure(rest, size) <= maxWidth {
			lines = append(lines, strings.TrimRight(rest, " "))
			break
		}

		cut, lastSpace, first := 0, 0, 0
		g := uniseg.NewGraphemes(rest)
		for g.Next() {
			_, end := g.Positions()
			if first == 0 {
				first = end
			}
			if t.measure(rest[:end], size) > maxWidth {
				break
			}
			cut = end
			if g.Str() == " " {
				lastSpace = end
			}
		}
		switch {
		case cut == 0:
			// a single cluster wider than the paper still gets its own line
			cut = first
		case lastSpace > 0 && strings.TrimSpace(rest[:lastSpace]) != "":
			cut = lastSpace
		}

		lines = append(lines, strings.TrimRight(rest[:cut], " "))
		rest = strings.TrimLeft(rest[cut:], " ")
	}
	return lines
}

// Render draws lines onto a white surface exactly as tall as its content,
// each wrapped segment centered horizontally
func Render(lines []string, opts Options) (*image.RGBA, error) {
	opts = opts.withDefaults()
	ts, err := newTypesetter()
	if err != nil {
		return nil, err
	}

	enlarged := make(map[int]bool, len(opts.Enlarged))
	for _, i := range opts.Enlarged {
		enlarged[i] = true
	}

	var segments []shapedLine
	height := 0
	for i, line := range lines {
		size := opts.FontSize
		if enlarged[i] {
			size = opts.EnlargedSize
		}
		for _, part := range ts.wrap(line, size, opts.DotWidth) {
			sl := ts.shape(part, size)
			if opts.LineHeight > 0 && !enlarged[i] {
				sl.height = opts.LineHeight
			}
			segments = append(segments, sl)
			height += sl.height
		}
	}

	img := image.NewRGBA(image.Rect(0, 0, opts.DotWidth, height))
	draw.Draw(img, img.Bounds(), &image.Uniform{color.White}, image.Point{}, draw.Src)

	y := 0
	for _, sl := range segments {
		r := &render.Renderer{
			FontSize: float32(sl.size),
			PixScale: 1,
			Color:    color.Black,
		}
		x := (opts.DotWidth - sl.width) / 2
		if x < 0 {
			x = 0
		}
		baseline := y + (sl.height-sl.ascent-sl.descent)/2 + sl.ascent
		for _, run := range sl.runs {
			x = r.DrawShapedRunAt(run, img, x, baseline)
		}
		y += sl.height
	}

	return img, nil
}
