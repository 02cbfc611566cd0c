// screenguard-overlay is the full-screen lock window. By default it asks the
// daemon to activate and forwards pointer input over the control socket;
// with -local it runs the unlock logic in process.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"gioui.org/app"
	"gioui.org/io/system"
	"gioui.org/op"

	"screenguard/cmd/screenguard-overlay/internal/theme"
	"screenguard/cmd/screenguard-overlay/internal/ui"
	"screenguard/internal/config"
	"screenguard/internal/gesture"
	"screenguard/internal/logging"
	"screenguard/internal/router"
	"screenguard/internal/trace"
)

var (
	configPath = flag.String("config", "", "path to config file")
	local      = flag.Bool("local", false, "run the unlock logic in process instead of through the daemon")
	recordPath = flag.String("record", "", "save the pointer trace to this file on exit (.json or .yaml)")
	windowed   = flag.Bool("windowed", false, "open a window instead of going full screen")
)

const requestTimeout = 2 * time.Second

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	logCfg := cfg.LoggerConfig()
	logCfg.Component = "overlay-window"
	logger, err := logging.New(logCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating logger: %v\n", err)
		os.Exit(1)
	}

	var b backend
	if *local || !cfg.IPC.Enabled {
		b = newLocalBackend(cfg.RouterConfig(), logger.WithComponent("overlay").Logger)
	} else {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		b, err = dialBackend(ctx, cfg.IPC.SocketPath)
		cancel()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error connecting to screenguard: %v\n", err)
			fmt.Fprintln(os.Stderr, "Start the daemon or pass -local.")
			os.Exit(1)
		}
	}

	go func() {
		w := new(app.Window)
		w.Option(app.Title(cfg.Overlay.Title))
		if !*windowed {
			w.Option(app.Fullscreen.Option())
		}

		code := 0
		if err := loop(w, cfg, b, logger.Logger); err != nil {
			logger.Error("overlay window failed", "error", err)
			code = 1
		}
		b.Close()
		logger.Close()
		os.Exit(code)
	}()
	app.Main()
}

func loop(w *app.Window, cfg *config.Config, b backend, logger *slog.Logger) error {
	ctx := context.Background()
	if err := call(ctx, func(ctx context.Context) error { return b.Start(ctx) }); err != nil {
		return fmt.Errorf("activate overlay: %w", err)
	}

	var rec *trace.Recorder
	if *recordPath != "" {
		rec = trace.NewRecorder("overlay session", gesture.Surface{})
	}
	started := time.Now()

	rcfg := cfg.RouterConfig()
	screen := ui.NewLockScreen(theme.NewTheme(uint8(cfg.Overlay.DimAlpha)), ui.Options{
		Title:           cfg.Overlay.Title,
		Instruction:     cfg.Overlay.Instruction,
		Caption:         cfg.Overlay.Caption,
		CaptionFade:     time.Duration(cfg.Overlay.CaptionFadeMs) * time.Millisecond,
		ShowGuide:       cfg.Overlay.ShowGuide,
		ShowTrail:       cfg.Overlay.ShowTrail,
		Gesture:         rcfg.Gesture,
		EmergencyRegion: rcfg.EmergencyRegion,
		RequiredTaps:    rcfg.Emergency.RequiredTaps,
	}, func(e router.Event) (ui.Feedback, error) {
		if rec != nil {
			rec.Add(e, time.Since(started).Milliseconds())
		}
		var fb ui.Feedback
		err := call(ctx, func(ctx context.Context) error {
			var err error
			fb, err = b.Pointer(ctx, e)
			return err
		})
		return fb, err
	})
	screen.OnResize = func(width, height float64) {
		if rec != nil {
			rec.Resize(gesture.Surface{Width: width, Height: height})
		}
		if err := call(ctx, func(ctx context.Context) error { return b.Resize(ctx, width, height) }); err != nil {
			logger.Warn("resize failed", "error", err)
		}
	}

	defer func() {
		if rec == nil || rec.Len() == 0 {
			return
		}
		if err := trace.Save(rec.Trace(), *recordPath); err != nil {
			logger.Error("save trace failed", "path", *recordPath, "error", err)
			return
		}
		logger.Info("trace saved", "path", *recordPath, "events", rec.Len())
	}()

	var ops op.Ops
	for {
		switch e := w.Event().(type) {
		case app.DestroyEvent:
			return e.Err
		case app.FrameEvent:
			gtx := app.NewContext(&ops, e)
			screen.Layout(gtx)
			e.Frame(gtx.Ops)

			if fb, ok := screen.Unlocked(); ok {
				logger.Info("overlay dismissed", "source", fb.Source)
				w.Perform(system.ActionClose)
			}
		}
	}
}

func call(ctx context.Context, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	return fn(ctx)
}
