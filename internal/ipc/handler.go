package ipc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"screenguard/internal/config"
	"screenguard/internal/journal"
	"screenguard/internal/metrics"
	"screenguard/internal/overlay"
	"screenguard/internal/router"
)

// DaemonHandler serves control requests against the running daemon.
type DaemonHandler struct {
	cfg DaemonHandlerConfig
}

// DaemonHandlerConfig wires the handler to the daemon's components.
// Journal, Metrics and Reload may be nil.
type DaemonHandlerConfig struct {
	Version   string
	StartedAt time.Time

	Overlay *overlay.Service
	Journal *journal.Journal
	Metrics *metrics.ScreenguardMetrics

	// Config returns the running configuration and its path.
	Config func() (*config.Config, string)

	// Reload re-reads the configuration file.
	Reload func() error

	// Clients reports connected clients for status.
	Clients func() int

	Logger *slog.Logger
}

// NewDaemonHandler creates a handler.
func NewDaemonHandler(cfg DaemonHandlerConfig) *DaemonHandler {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.StartedAt.IsZero() {
		cfg.StartedAt = time.Now()
	}
	return &DaemonHandler{cfg: cfg}
}

// HandleMessage dispatches by message type.
func (h *DaemonHandler) HandleMessage(ctx context.Context, client *Client, msg *Message) (*Message, error) {
	if h.cfg.Metrics != nil {
		h.cfg.Metrics.RecordIPCRequest()
	}
	id := msg.Header.RequestID

	switch msg.Header.Type {
	case MsgStatusRequest:
		return h.handleStatus(ctx, id)
	case MsgIsActive:
		return NewResponse(MsgIsActiveResp, id, &IsActiveResponse{Active: h.cfg.Overlay.IsActive()})
	case MsgStartOverlay:
		return h.handleStart(id)
	case MsgStopOverlay:
		return h.handleStop(id)
	case MsgPointer:
		return h.handlePointer(id, msg.Payload)
	case MsgResize:
		return h.handleResize(id, msg.Payload)
	case MsgHistory:
		return h.handleHistory(ctx, id, msg.Payload)
	case MsgVerifyJournal:
		return h.handleVerify(ctx, id)
	case MsgGetConfig:
		return h.handleGetConfig(id)
	case MsgReloadConfig:
		return h.handleReload(id)
	default:
		return NewErrorMessage(id, ErrInvalidRequest,
			fmt.Sprintf("unknown message type: %#04x", uint16(msg.Header.Type))), nil
	}
}

func (h *DaemonHandler) handleStatus(ctx context.Context, id uint32) (*Message, error) {
	resp := &StatusResponse{
		Version:   h.cfg.Version,
		StartedAt: h.cfg.StartedAt,
		Uptime:    time.Since(h.cfg.StartedAt),
		Overlay:   h.cfg.Overlay.Status(),
	}
	if h.cfg.Clients != nil {
		resp.Clients = h.cfg.Clients()
	}
	if h.cfg.Journal != nil {
		stats, err := h.cfg.Journal.Stats(ctx)
		if err != nil {
			return nil, fmt.Errorf("journal stats: %w", err)
		}
		resp.Journal = JournalStatus{
			Enabled:     true,
			Entries:     stats.Entries,
			ByOutcome:   stats.ByOutcome,
			IntegrityOK: stats.IntegrityOK,
			Newest:      stats.Newest,
		}
	}
	return NewResponse(MsgStatusResponse, id, resp)
}

func (h *DaemonHandler) handleStart(id uint32) (*Message, error) {
	if err := h.cfg.Overlay.Start(); err != nil {
		if errors.Is(err, overlay.ErrAlreadyActive) {
			return NewErrorMessage(id, ErrAlreadyActive, err.Error()), nil
		}
		return nil, err
	}
	return NewResponse(MsgStartOverlayResp, id, &OverlayResponse{Active: true})
}

func (h *DaemonHandler) handleStop(id uint32) (*Message, error) {
	if err := h.cfg.Overlay.Stop(); err != nil {
		if errors.Is(err, overlay.ErrNotActive) {
			return NewErrorMessage(id, ErrNotActive, err.Error()), nil
		}
		return nil, err
	}
	return NewResponse(MsgStopOverlayResp, id, &OverlayResponse{Active: false})
}

func (h *DaemonHandler) handlePointer(id uint32, payload []byte) (*Message, error) {
	var req PointerRequest
	if err := Decode(payload, &req); err != nil {
		return NewErrorMessage(id, ErrInvalidRequest, "invalid pointer request"), nil
	}
	action, err := router.ParseAction(req.Event.Action)
	if err != nil {
		return NewErrorMessage(id, ErrInvalidRequest, err.Error()), nil
	}

	sig, unlocked, err := h.cfg.Overlay.Handle(router.Event{Action: action, X: req.Event.X, Y: req.Event.Y})
	if errors.Is(err, overlay.ErrNotActive) {
		return NewErrorMessage(id, ErrNotActive, err.Error()), nil
	}
	if err != nil {
		return nil, err
	}

	st := h.cfg.Overlay.Status()
	resp := &PointerResponse{
		Unlocked:      unlocked,
		Phase:         st.Phase,
		EmergencyTaps: st.EmergencyTaps,
	}
	if unlocked {
		resp.Source = sig.Source.String()
	}
	return NewResponse(MsgPointerResp, id, resp)
}

func (h *DaemonHandler) handleResize(id uint32, payload []byte) (*Message, error) {
	var req ResizeRequest
	if err := Decode(payload, &req); err != nil || req.Width <= 0 || req.Height <= 0 {
		return NewErrorMessage(id, ErrInvalidRequest, "invalid surface size"), nil
	}
	h.cfg.Overlay.Resize(req.Width, req.Height)
	return NewMessage(MsgResizeResp, id, nil), nil
}

func (h *DaemonHandler) handleHistory(ctx context.Context, id uint32, payload []byte) (*Message, error) {
	if h.cfg.Journal == nil {
		return NewErrorMessage(id, ErrUnavailable, "journal disabled"), nil
	}
	var req HistoryRequest
	if err := Decode(payload, &req); err != nil {
		return NewErrorMessage(id, ErrInvalidRequest, "invalid history request"), nil
	}
	entries, err := h.cfg.Journal.Recent(ctx, req.Limit)
	if err != nil {
		return nil, fmt.Errorf("read journal: %w", err)
	}
	return NewResponse(MsgHistoryResp, id, &HistoryResponse{Entries: entries})
}

func (h *DaemonHandler) handleVerify(ctx context.Context, id uint32) (*Message, error) {
	if h.cfg.Journal == nil {
		return NewErrorMessage(id, ErrUnavailable, "journal disabled"), nil
	}
	resp := &VerifyJournalResponse{Valid: true}
	if err := h.cfg.Journal.Verify(ctx); err != nil {
		if !errors.Is(err, journal.ErrJournalTampered) {
			return nil, err
		}
		h.cfg.Logger.Error("journal verification failed", "error", err)
		resp.Valid = false
		resp.Error = err.Error()
	}
	if stats, err := h.cfg.Journal.Stats(ctx); err == nil {
		resp.Entries = stats.Entries
		resp.Chain = stats.ChainHash
	}
	return NewResponse(MsgVerifyJournalResp, id, resp)
}

func (h *DaemonHandler) handleGetConfig(id uint32) (*Message, error) {
	if h.cfg.Config == nil {
		return NewErrorMessage(id, ErrUnavailable, "configuration not available"), nil
	}
	cfg, path := h.cfg.Config()
	data, err := config.Encode(cfg, ".toml")
	if err != nil {
		return nil, err
	}
	return NewResponse(MsgGetConfigResp, id, &ConfigResponse{Path: path, TOML: string(data)})
}

func (h *DaemonHandler) handleReload(id uint32) (*Message, error) {
	if h.cfg.Reload == nil {
		return NewErrorMessage(id, ErrUnavailable, "reload not supported"), nil
	}
	if err := h.cfg.Reload(); err != nil {
		return NewErrorMessage(id, ErrInvalidRequest, err.Error()), nil
	}
	return NewResponse(MsgReloadConfigResp, id, &ReloadConfigResponse{Reloaded: true})
}
