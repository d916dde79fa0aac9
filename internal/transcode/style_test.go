package transcode

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameStyleGeometry(t *testing.T) {
	style, err := NewFrameStyle(SchemeDark, Font{Family: "Sans"})
	require.NoError(t, err)

	assert.Equal(t, 384, style.TopBarHeight())
	assert.Equal(t, 384, style.BottomBarHeight())
	assert.Equal(t, 1152, style.MiddleHeight())
}

func TestFilterGraphDarkScheme(t *testing.T) {
	style, err := NewFrameStyle(SchemeDark, Font{File: "/usr/share/fonts/truetype/dejavu/DejaVuSans-Bold.ttf"})
	require.NoError(t, err)

	want := "scale=1080:1152:force_original_aspect_ratio=decrease," +
		"pad=1080:1152:(ow-iw)/2:(oh-ih)/2:color=black," +
		"pad=1080:1920:0:384:color=black," +
		"drawtext=text='Part 1':fontfile=/usr/share/fonts/truetype/dejavu/DejaVuSans-Bold.ttf:fontsize=80:" +
		"x=(w-tw)/2:y=(h-th)/10:fontcolor=white:shadowcolor=white:shadowx=3:shadowy=3"
	assert.Equal(t, want, style.FilterGraph(1))
}

func TestFilterGraphLightSchemeWithFallbackFont(t *testing.T) {
	style, err := NewFrameStyle(SchemeLight, Font{Family: "Sans"})
	require.NoError(t, err)

	graph := style.FilterGraph(7)
	assert.Contains(t, graph, "pad=1080:1920:0:384:color=white")
	assert.Contains(t, graph, "text='Part 7':font=Sans:")
	assert.Contains(t, graph, "fontcolor=black:shadowcolor=gray")
	assert.NotContains(t, graph, "fontfile")
}

func TestUnknownScheme(t *testing.T) {
	_, err := NewFrameStyle("neon", Font{})
	assert.Error(t, err)
}

func TestLabelEscaping(t *testing.T) {
	style, err := NewFrameStyle(SchemeDark, Font{Family: "Sans"})
	require.NoError(t, err)
	style.LabelFormat = "Dani's %d"
	assert.Contains(t, style.FilterGraph(2), `text='Dani'\''s 2'`)
}

func TestResolveFont(t *testing.T) {
	dir := t.TempDir()
	present := filepath.Join(dir, "Bold.ttf")
	require.NoError(t, os.WriteFile(present, []byte("ttf"), 0o644))

	font := ResolveFont([]string{filepath.Join(dir, "missing.ttf"), dir, present}, "Sans")
	assert.Equal(t, Font{File: present}, font)

	font = ResolveFont([]string{filepath.Join(dir, "missing.ttf")}, "")
	assert.Equal(t, Font{Family: "Sans"}, font)

	font = ResolveFont(nil, "DejaVu Sans")
	assert.Equal(t, Font{Family: "DejaVu Sans"}, font)
}
