package theme

import (
	"image/color"
	"runtime"

	"gioui.org/font/gofont"
	"gioui.org/text"
	"gioui.org/unit"
	"gioui.org/widget/material"
)

// Palette defines the overlay colors.
type Palette struct {
	Veil      color.NRGBA
	Text      color.NRGBA
	TextMuted color.NRGBA
	Guide     color.NRGBA
	Trail     color.NRGBA
	Accent    color.NRGBA
	Warning   color.NRGBA
}

// Config defines the overlay metrics.
type Config struct {
	Padding     unit.Dp
	GuideWidth  unit.Dp
	TrailWidth  unit.Dp
	Dash        unit.Dp
	Gap         unit.Dp
	FontTitle   unit.Sp
	FontBody    unit.Sp
	FontCaption unit.Sp
}

// Theme wraps the material theme with overlay styling.
type Theme struct {
	*material.Theme
	Palette Palette
	Config  Config
}

// NewTheme creates the overlay theme. dimAlpha is the veil opacity.
func NewTheme(dimAlpha uint8) *Theme {
	th := material.NewTheme()
	th.Shaper = text.NewShaper(text.WithCollection(gofont.Collection()))

	t := &Theme{Theme: th}
	t.Palette = Palette{
		Veil:      color.NRGBA{R: 0x10, G: 0x10, B: 0x14, A: dimAlpha},
		Text:      color.NRGBA{R: 0xFF, G: 0xFF, B: 0xFF, A: 0xFF},
		TextMuted: color.NRGBA{R: 0xB0, G: 0xB0, B: 0xB8, A: 0xFF},
		Guide:     color.NRGBA{R: 0xFF, G: 0xFF, B: 0xFF, A: 0x80},
		Trail:     color.NRGBA{R: 0x0A, G: 0x84, B: 0xFF, A: 0xE0},
		Accent:    color.NRGBA{R: 0x30, G: 0xD1, B: 0x58, A: 0xFF},
		Warning:   color.NRGBA{R: 0xFF, G: 0x9F, B: 0x0A, A: 0xFF},
	}
	t.Config = Config{
		Padding:     unit.Dp(24),
		GuideWidth:  unit.Dp(4),
		TrailWidth:  unit.Dp(6),
		Dash:        unit.Dp(18),
		Gap:         unit.Dp(12),
		FontTitle:   unit.Sp(28),
		FontBody:    unit.Sp(16),
		FontCaption: unit.Sp(14),
	}

	// Phones and tablets get bigger type.
	if runtime.GOOS == "android" || runtime.GOOS == "ios" {
		t.Config.FontTitle = unit.Sp(32)
		t.Config.FontBody = unit.Sp(18)
		t.Config.FontCaption = unit.Sp(16)
	}
	return t
}

// Faded returns c with its alpha scaled by f in [0, 1].
func Faded(c color.NRGBA, f float32) color.NRGBA {
	switch {
	case f <= 0:
		c.A = 0
	case f < 1:
		c.A = uint8(float32(c.A) * f)
	}
	return c
}
