package main

import (
	"context"
	"errors"
	"log/slog"

	"screenguard/internal/ipc"
	"screenguard/internal/overlay"
	"screenguard/internal/router"
	"screenguard/internal/trace"
	"screenguard/cmd/screenguard-overlay/internal/ui"
)

// backend owns the unlock decision. The window only draws and forwards
// pointer events.
type backend interface {
	Start(ctx context.Context) error
	Resize(ctx context.Context, width, height float64) error
	Pointer(ctx context.Context, e router.Event) (ui.Feedback, error)
	Close() error
}

// localBackend runs the overlay service in process.
type localBackend struct {
	svc *overlay.Service
}

func newLocalBackend(cfg router.Config, logger *slog.Logger) *localBackend {
	return &localBackend{svc: overlay.New(cfg, overlay.WithLogger(logger))}
}

func (b *localBackend) Start(context.Context) error {
	err := b.svc.Start()
	if errors.Is(err, overlay.ErrAlreadyActive) {
		return nil
	}
	return err
}

func (b *localBackend) Resize(_ context.Context, width, height float64) error {
	b.svc.Resize(width, height)
	return nil
}

func (b *localBackend) Pointer(_ context.Context, e router.Event) (ui.Feedback, error) {
	sig, ok, err := b.svc.Handle(e)
	if err != nil {
		return ui.Feedback{}, err
	}
	if ok {
		return ui.Feedback{Unlocked: true, Source: sig.Source.String()}, nil
	}
	st := b.svc.Status()
	return ui.Feedback{Phase: st.Phase, EmergencyTaps: st.EmergencyTaps}, nil
}

func (b *localBackend) Close() error {
	if err := b.svc.Stop(); err != nil && !errors.Is(err, overlay.ErrNotActive) {
		return err
	}
	return nil
}

// remoteBackend drives the daemon over its control socket.
type remoteBackend struct {
	client *ipc.IPCClient
}

func dialBackend(ctx context.Context, socketPath string) (*remoteBackend, error) {
	client, err := ipc.Dial(ctx, ipc.DefaultClientConfig(socketPath))
	if err != nil {
		return nil, err
	}
	return &remoteBackend{client: client}, nil
}

func (b *remoteBackend) Start(ctx context.Context) error {
	err := b.client.StartOverlay(ctx)
	var remote *ipc.RemoteError
	if errors.As(err, &remote) && remote.Code == ipc.ErrAlreadyActive {
		return nil
	}
	return err
}

func (b *remoteBackend) Resize(ctx context.Context, width, height float64) error {
	return b.client.Resize(ctx, width, height)
}

func (b *remoteBackend) Pointer(ctx context.Context, e router.Event) (ui.Feedback, error) {
	resp, err := b.client.Pointer(ctx, trace.Event{
		Action: e.Action.String(),
		X:      e.X,
		Y:      e.Y,
	})
	if err != nil {
		return ui.Feedback{}, err
	}
	return ui.Feedback{
		Unlocked:      resp.Unlocked,
		Source:        resp.Source,
		Phase:         resp.Phase,
		EmergencyTaps: resp.EmergencyTaps,
	}, nil
}

func (b *remoteBackend) Close() error {
	return b.client.Close()
}
