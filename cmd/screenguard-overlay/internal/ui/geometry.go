package ui

import (
	"fmt"
	"math"
	"time"

	"gioui.org/f32"

	"screenguard/internal/gesture"
)

const (
	guideSteps = 32
	fadeOut    = 500 * time.Millisecond
)

// GuidePath returns the U the user should trace on a w x h surface: down
// the middle of the left band, round the bottom band, up the right band.
// The arc flattens into an ellipse on wide surfaces so it never rises into
// the top band.
func GuidePath(cfg gesture.Config, w, h float32) []f32.Point {
	left := w * float32(cfg.LeftZoneMaxX) / 2
	right := w * (1 + float32(cfg.RightZoneMinX)) / 2
	top := h * float32(cfg.TopZoneMaxY) / 2
	bottom := h * float32(math.Min(cfg.BottomZoneMinY+0.15, 0.85))

	rx := (right - left) / 2
	ry := min(rx, (bottom-top)/2)
	cx := left + rx
	cy := bottom - ry

	pts := make([]f32.Point, 0, guideSteps+3)
	pts = append(pts, f32.Pt(left, top))
	for i := 0; i <= guideSteps; i++ {
		theta := math.Pi * (1 - float64(i)/guideSteps)
		pts = append(pts, f32.Pt(
			cx+rx*float32(math.Cos(theta)),
			cy+ry*float32(math.Sin(theta)),
		))
	}
	pts = append(pts, f32.Pt(right, top))
	return pts
}

// Dashes cuts a polyline into dash segments of length dash separated by
// gap. Dashes continue across corners.
func Dashes(pts []f32.Point, dash, gap float32) [][2]f32.Point {
	if len(pts) < 2 || dash <= 0 {
		return nil
	}
	if gap < 0 {
		gap = 0
	}

	var (
		out    [][2]f32.Point
		on     = true
		remain = dash
		start  = pts[0]
	)
	for i := 1; i < len(pts); i++ {
		a, b := pts[i-1], pts[i]
		seg := distance(a, b)
		pos := float32(0)
		for seg-pos > remain {
			pos += remain
			p := lerp(a, b, pos/seg)
			if on {
				out = append(out, [2]f32.Point{start, p})
				remain = gap
			} else {
				start = p
				remain = dash
			}
			on = !on
		}
		remain -= seg - pos
	}
	if on {
		out = append(out, [2]f32.Point{start, pts[len(pts)-1]})
	}
	return out
}

// CaptionAlpha is the emergency caption opacity elapsed after it was last
// shown. It stays opaque, then fades out over the last half second of
// visible.
func CaptionAlpha(elapsed, visible time.Duration) float32 {
	switch {
	case elapsed < 0:
		return 1
	case elapsed >= visible:
		return 0
	case elapsed <= visible-fadeOut:
		return 1
	default:
		return float32(visible-elapsed) / float32(fadeOut)
	}
}

// CaptionText appends the tap progress to the caption.
func CaptionText(caption string, taps, required int) string {
	return fmt.Sprintf("%s (%d / %d)", caption, taps, required)
}

func distance(a, b f32.Point) float32 {
	d := b.Sub(a)
	return float32(math.Hypot(float64(d.X), float64(d.Y)))
}

func lerp(a, b f32.Point, t float32) f32.Point {
	return a.Add(b.Sub(a).Mul(t))
}
