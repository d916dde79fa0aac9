package transcode

import (
	"fmt"
	"os"
	"strings"
)

// Font is the typeface handed to drawtext: a file when one was found, otherwise
// a fontconfig family name.
type Font struct {
	File   string
	Family string
}

// DefaultFontPaths are probed in order by ResolveFont.
var DefaultFontPaths = []string{
	"/usr/share/fonts/truetype/dejavu/DejaVuSans-Bold.ttf",
	"/usr/share/fonts/truetype/liberation/LiberationSans-Bold.ttf",
	"/usr/share/fonts/truetype/freefont/FreeSansBold.ttf",
}

// ResolveFont returns the first existing regular file in paths, or the
// fallback family when none exist.
func ResolveFont(paths []string, fallback string) Font {
	for _, p := range paths {
		if p == "" {
			continue
		}
		if info, err := os.Stat(p); err == nil && info.Mode().IsRegular() {
			return Font{File: p}
		}
	}
	if fallback == "" {
		fallback = "Sans"
	}
	return Font{Family: fallback}
}

// FrameStyle describes the vertical canvas every segment is composited onto.
type FrameStyle struct {
	Width             int
	Height            int
	TopBarFraction    float64
	BottomBarFraction float64
	BarColor          string
	FontColor         string
	ShadowColor       string
	ShadowX           int
	ShadowY           int
	FontSize          int
	LabelFormat       string
	// LabelX and LabelY are drawtext position expressions.
	LabelX string
	LabelY string
	Font   Font
}

// Colour schemes shipped with the service.
const (
	SchemeDark  = "dark"
	SchemeLight = "light"
)

// NewFrameStyle returns the 1080x1920 style with 20% bars for the named scheme.
func NewFrameStyle(scheme string, font Font) (FrameStyle, error) {
	style := FrameStyle{
		Width:             1080,
		Height:            1920,
		TopBarFraction:    0.2,
		BottomBarFraction: 0.2,
		ShadowX:           3,
		ShadowY:           3,
		FontSize:          80,
		LabelFormat:       "Part %d",
		LabelX:            "(w-tw)/2",
		LabelY:            "(h-th)/10",
		Font:              font,
	}
	switch scheme {
	case SchemeDark, "":
		style.BarColor = "black"
		style.FontColor = "white"
		style.ShadowColor = "white"
	case SchemeLight:
		style.BarColor = "white"
		style.FontColor = "black"
		style.ShadowColor = "gray"
	default:
		return FrameStyle{}, fmt.Errorf("unknown colour scheme: %s", scheme)
	}
	return style, nil
}

// TopBarHeight is the pixel height reserved above the picture.
func (s FrameStyle) TopBarHeight() int {
	return int(float64(s.Height) * s.TopBarFraction)
}

// BottomBarHeight is the pixel height reserved below the picture.
func (s FrameStyle) BottomBarHeight() int {
	return int(float64(s.Height) * s.BottomBarFraction)
}

// MiddleHeight is the height of the band the source is fitted into.
func (s FrameStyle) MiddleHeight() int {
	return s.Height - s.TopBarHeight() - s.BottomBarHeight()
}

// Label renders the overlay text for a 1-based part number.
func (s FrameStyle) Label(part int) string {
	format := s.LabelFormat
	if format == "" {
		format = "Part %d"
	}
	return fmt.Sprintf(format, part)
}

// FilterGraph composes scale → pad (band) → pad (canvas) → drawtext for one part.
func (s FrameStyle) FilterGraph(part int) string {
	w, h, mid, top := s.Width, s.Height, s.MiddleHeight(), s.TopBarHeight()

	filters := []string{
		fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=decrease", w, mid),
		fmt.Sprintf("pad=%d:%d:(ow-iw)/2:(oh-ih)/2:color=%s", w, mid, s.BarColor),
		fmt.Sprintf("pad=%d:%d:0:%d:color=%s", w, h, top, s.BarColor),
		s.drawText(part),
	}
	return strings.Join(filters, ",")
}

func (s FrameStyle) drawText(part int) string {
	opts := []string{"text='" + escapeText(s.Label(part)) + "'"}
	if s.Font.File != "" {
		opts = append(opts, "fontfile="+escapeValue(s.Font.File))
	} else if s.Font.Family != "" {
		opts = append(opts, "font="+escapeValue(s.Font.Family))
	}
	opts = append(opts,
		fmt.Sprintf("fontsize=%d", s.FontSize),
		"x="+s.LabelX,
		"y="+s.LabelY,
		"fontcolor="+s.FontColor,
	)
	if s.ShadowColor != "" {
		opts = append(opts,
			"shadowcolor="+s.ShadowColor,
			fmt.Sprintf("shadowx=%d", s.ShadowX),
			fmt.Sprintf("shadowy=%d", s.ShadowY),
		)
	}
	return "drawtext=" + strings.Join(opts, ":")
}

// Single quotes cannot be escaped inside a quoted filter value, so the quote is
// closed, an escaped quote emitted, and the quote reopened.
var textEscaper = strings.NewReplacer(`'`, `'\''`)

func escapeText(s string) string {
	return textEscaper.Replace(s)
}

var valueEscaper = strings.NewReplacer(`\`, `\\`, `:`, `\:`, `'`, `\'`, `,`, `\,`)

func escapeValue(s string) string {
	return valueEscaper.Replace(s)
}
