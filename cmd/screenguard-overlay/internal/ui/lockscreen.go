package ui

import (
	"image"
	"image/color"
	"time"

	"gioui.org/f32"
	"gioui.org/io/event"
	"gioui.org/io/pointer"
	"gioui.org/layout"
	"gioui.org/op"
	"gioui.org/op/clip"
	"gioui.org/op/paint"
	"gioui.org/text"
	"gioui.org/unit"
	"gioui.org/widget/material"

	"screenguard/cmd/screenguard-overlay/internal/theme"
	"screenguard/internal/gesture"
	"screenguard/internal/router"
)

// Feedback is the unlock state after one pointer event.
type Feedback struct {
	Unlocked      bool
	Source        string
	Phase         string
	EmergencyTaps int
}

// HandleFunc forwards a pointer event to whatever owns the unlock decision.
type HandleFunc func(router.Event) (Feedback, error)

// Options configures the lock screen text and guides.
type Options struct {
	Title       string
	Instruction string
	Caption     string
	CaptionFade time.Duration
	ShowGuide   bool
	ShowTrail   bool

	Gesture         gesture.Config
	EmergencyRegion router.Region
	RequiredTaps    int
}

// LockScreen draws the overlay and turns pointer input into router events.
type LockScreen struct {
	theme  *theme.Theme
	opts   Options
	handle HandleFunc

	// OnResize is called when the window size changes, before any event
	// of the new size is handled.
	OnResize func(width, height float64)

	size        image.Point
	trail       []f32.Point
	last        f32.Point
	taps        int
	captionFrom time.Time
	unlocked    *Feedback
	err         error
}

// NewLockScreen creates the lock screen.
func NewLockScreen(t *theme.Theme, opts Options, handle HandleFunc) *LockScreen {
	return &LockScreen{theme: t, opts: opts, handle: handle}
}

// Unlocked returns the unlocking feedback once the overlay has been
// dismissed.
func (s *LockScreen) Unlocked() (Feedback, bool) {
	if s.unlocked == nil {
		return Feedback{}, false
	}
	return *s.unlocked, true
}

// Err returns the last error from the handler.
func (s *LockScreen) Err() error {
	return s.err
}

// Layout handles pending input and draws a frame.
func (s *LockScreen) Layout(gtx layout.Context) layout.Dimensions {
	if s.captionFrom.IsZero() {
		s.captionFrom = gtx.Now
	}
	if gtx.Constraints.Max != s.size {
		s.size = gtx.Constraints.Max
		if s.OnResize != nil {
			s.OnResize(float64(s.size.X), float64(s.size.Y))
		}
	}

	s.events(gtx)

	paint.Fill(gtx.Ops, s.theme.Palette.Veil)

	area := clip.Rect{Max: s.size}.Push(gtx.Ops)
	event.Op(gtx.Ops, s)
	area.Pop()

	if s.opts.ShowGuide {
		s.layoutGuide(gtx)
	}
	if s.opts.ShowTrail && len(s.trail) > 1 {
		stroke(gtx.Ops, s.trail, float32(gtx.Dp(s.theme.Config.TrailWidth)), s.theme.Palette.Trail)
	}
	s.layoutText(gtx)
	s.layoutCaption(gtx)

	return layout.Dimensions{Size: s.size}
}

func (s *LockScreen) events(gtx layout.Context) {
	for {
		ev, ok := gtx.Event(pointer.Filter{
			Target: s,
			Kinds:  pointer.Press | pointer.Drag | pointer.Release | pointer.Cancel,
		})
		if !ok {
			return
		}
		pe, ok := ev.(pointer.Event)
		if !ok || s.unlocked != nil {
			continue
		}

		pos := pe.Position
		var action router.Action
		switch pe.Kind {
		case pointer.Press:
			action = router.ActionDown
			s.trail = append(s.trail[:0], pos)
		case pointer.Drag:
			action = router.ActionMove
			s.trail = append(s.trail, pos)
		case pointer.Release:
			action = router.ActionUp
			s.trail = s.trail[:0]
		case pointer.Cancel:
			// Cancel carries no position.
			action = router.ActionCancel
			pos = s.last
			s.trail = s.trail[:0]
		default:
			continue
		}
		s.last = pos

		fb, err := s.handle(router.Event{Action: action, X: float64(pos.X), Y: float64(pos.Y)})
		if err != nil {
			s.err = err
			continue
		}
		if fb.EmergencyTaps > s.taps {
			s.captionFrom = gtx.Now
		}
		s.taps = fb.EmergencyTaps
		if fb.Unlocked {
			s.unlocked = &fb
		}
	}
}

func (s *LockScreen) layoutGuide(gtx layout.Context) {
	w, h := float32(s.size.X), float32(s.size.Y)
	path := GuidePath(s.opts.Gesture, w, h)
	dashes := Dashes(path, float32(gtx.Dp(s.theme.Config.Dash)), float32(gtx.Dp(s.theme.Config.Gap)))

	var p clip.Path
	p.Begin(gtx.Ops)
	for _, d := range dashes {
		p.MoveTo(d[0])
		p.LineTo(d[1])
	}
	paint.FillShape(gtx.Ops, s.theme.Palette.Guide,
		clip.Stroke{Path: p.End(), Width: float32(gtx.Dp(s.theme.Config.GuideWidth))}.Op())

	s.labelAt(gtx, "START", path[0], s.theme.Palette.Accent)
	s.labelAt(gtx, "END", path[len(path)-1], s.theme.Palette.Accent)
}

func (s *LockScreen) labelAt(gtx layout.Context, txt string, at f32.Point, col color.NRGBA) {
	half := gtx.Dp(unit.Dp(60))
	pt := image.Pt(int(at.X)-half, int(at.Y)-gtx.Dp(unit.Dp(36)))
	defer op.Offset(pt).Push(gtx.Ops).Pop()

	gtx.Constraints = layout.Exact(image.Pt(2*half, gtx.Dp(unit.Dp(28))))
	l := material.Label(s.theme.Theme, s.theme.Config.FontCaption, txt)
	l.Color = col
	l.Alignment = text.Middle
	l.Layout(gtx)
}

func (s *LockScreen) layoutText(gtx layout.Context) {
	pad := gtx.Dp(s.theme.Config.Padding)
	defer op.Offset(image.Pt(pad, pad)).Push(gtx.Ops).Pop()

	gtx.Constraints.Min = image.Point{}
	gtx.Constraints.Max.X = max(s.size.X-2*pad, 0)
	gtx.Constraints.Min.X = gtx.Constraints.Max.X

	layout.Flex{Axis: layout.Vertical}.Layout(gtx,
		layout.Rigid(func(gtx layout.Context) layout.Dimensions {
			l := material.Label(s.theme.Theme, s.theme.Config.FontTitle, s.opts.Title)
			l.Color = s.theme.Palette.Text
			l.Alignment = text.Middle
			return l.Layout(gtx)
		}),
		layout.Rigid(layout.Spacer{Height: unit.Dp(8)}.Layout),
		layout.Rigid(func(gtx layout.Context) layout.Dimensions {
			l := material.Label(s.theme.Theme, s.theme.Config.FontBody, s.opts.Instruction)
			l.Color = s.theme.Palette.TextMuted
			l.Alignment = text.Middle
			return l.Layout(gtx)
		}),
		layout.Rigid(func(gtx layout.Context) layout.Dimensions {
			if s.err == nil {
				return layout.Dimensions{}
			}
			l := material.Label(s.theme.Theme, s.theme.Config.FontCaption, s.err.Error())
			l.Color = s.theme.Palette.Warning
			l.Alignment = text.Middle
			return l.Layout(gtx)
		}),
	)
}

func (s *LockScreen) layoutCaption(gtx layout.Context) {
	alpha := CaptionAlpha(gtx.Now.Sub(s.captionFrom), s.opts.CaptionFade)
	if alpha <= 0 {
		return
	}
	gtx.Execute(op.InvalidateCmd{})

	r := s.opts.EmergencyRegion
	w, h := float64(s.size.X), float64(s.size.Y)
	rect := image.Rect(int(r.Left*w), int(r.Top*h), int(r.Right*w), int(r.Bottom*h))
	defer op.Offset(rect.Min).Push(gtx.Ops).Pop()

	gtx.Constraints = layout.Exact(rect.Size())
	layout.Center.Layout(gtx, func(gtx layout.Context) layout.Dimensions {
		l := material.Label(s.theme.Theme, s.theme.Config.FontCaption,
			CaptionText(s.opts.Caption, s.taps, s.opts.RequiredTaps))
		l.Color = theme.Faded(s.theme.Palette.Text, alpha)
		l.Alignment = text.Middle
		return l.Layout(gtx)
	})
}

func stroke(ops *op.Ops, pts []f32.Point, width float32, col color.NRGBA) {
	var p clip.Path
	p.Begin(ops)
	p.MoveTo(pts[0])
	for _, q := range pts[1:] {
		p.LineTo(q)
	}
	paint.FillShape(ops, col, clip.Stroke{Path: p.End(), Width: width}.Op())
}
