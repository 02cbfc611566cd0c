package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"screenguard/internal/journal"
	"screenguard/internal/trace"
)

// Common errors
var (
	ErrNotConnected     = errors.New("not connected to daemon")
	ErrConnectionLost   = errors.New("connection to daemon lost")
	ErrTimeout          = errors.New("request timeout")
	ErrDaemonNotRunning = errors.New("daemon is not running")
)

// ClientConfig configures the IPC client.
type ClientConfig struct {
	SocketPath     string
	ConnectTimeout time.Duration
	RequestTimeout time.Duration
}

// DefaultClientConfig returns defaults for socketPath.
func DefaultClientConfig(socketPath string) ClientConfig {
	return ClientConfig{
		SocketPath:     socketPath,
		ConnectTimeout: 5 * time.Second,
		RequestTimeout: 10 * time.Second,
	}
}

// IPCClient talks to the daemon over its control socket. It is safe for
// concurrent use; responses are matched to requests by ID.
type IPCClient struct {
	cfg  ClientConfig
	conn net.Conn

	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[uint32]chan *Message
	nextReqID atomic.Uint32

	events chan *Event

	closed atomic.Bool
	done   chan struct{}
}

// Dial connects to the daemon.
func Dial(ctx context.Context, cfg ClientConfig) (*IPCClient, error) {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}

	d := net.Dialer{Timeout: cfg.ConnectTimeout}
	conn, err := d.DialContext(ctx, "unix", cfg.SocketPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) || errors.Is(err, syscall.ECONNREFUSED) {
			return nil, fmt.Errorf("%w: %s", ErrDaemonNotRunning, cfg.SocketPath)
		}
		return nil, fmt.Errorf("connect: %w", err)
	}

	c := &IPCClient{
		cfg:     cfg,
		conn:    conn,
		pending: make(map[uint32]chan *Message),
		events:  make(chan *Event, 32),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Close closes the connection.
func (c *IPCClient) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := c.conn.Close()
	<-c.done
	return err
}

// Events returns pushed events after Subscribe. The channel closes with the
// connection.
func (c *IPCClient) Events() <-chan *Event {
	return c.events
}

func (c *IPCClient) readLoop() {
	defer close(c.done)
	defer close(c.events)
	defer c.failPending()

	for {
		msg, err := ReadMessage(c.conn)
		if err != nil {
			return
		}

		switch msg.Header.Type {
		case MsgEvent:
			var ev Event
			if err := Decode(msg.Payload, &ev); err == nil {
				select {
				case c.events <- &ev:
				default:
				}
			}
		default:
			c.pendingMu.Lock()
			ch, ok := c.pending[msg.Header.RequestID]
			delete(c.pending, msg.Header.RequestID)
			c.pendingMu.Unlock()
			if ok {
				ch <- msg
			}
		}
	}
}

func (c *IPCClient) failPending() {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	c.closed.Store(true)
}

// request sends a request and waits for its response. A MsgError response
// becomes a *RemoteError; any other type than want is an error.
func (c *IPCClient) request(ctx context.Context, msgType, want MessageType, payload, out any) error {
	if c.closed.Load() {
		return ErrNotConnected
	}
	data, err := Encode(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	id := c.nextReqID.Add(1)
	respChan := make(chan *Message, 1)
	c.pendingMu.Lock()
	if c.closed.Load() {
		c.pendingMu.Unlock()
		return ErrConnectionLost
	}
	c.pending[id] = respChan
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}()

	c.writeMu.Lock()
	c.conn.SetWriteDeadline(time.Now().Add(c.cfg.RequestTimeout))
	err = NewMessage(msgType, id, data).Write(c.conn)
	c.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("write message: %w", err)
	}

	timer := time.NewTimer(c.cfg.RequestTimeout)
	defer timer.Stop()

	var resp *Message
	select {
	case m, ok := <-respChan:
		if !ok {
			return ErrConnectionLost
		}
		resp = m
	case <-timer.C:
		return ErrTimeout
	case <-ctx.Done():
		return ctx.Err()
	}

	if resp.Header.Type == MsgError {
		var e ErrorResponse
		if err := Decode(resp.Payload, &e); err != nil {
			return fmt.Errorf("decode error response: %w", err)
		}
		return &RemoteError{Code: e.Code, Message: e.Message}
	}
	if resp.Header.Type != want {
		return fmt.Errorf("unexpected response type: %#04x", uint16(resp.Header.Type))
	}
	if out == nil {
		return nil
	}
	return Decode(resp.Payload, out)
}

// Ping checks that the daemon answers.
func (c *IPCClient) Ping(ctx context.Context) error {
	return c.request(ctx, MsgPing, MsgPong, nil, nil)
}

// Status returns the daemon status.
func (c *IPCClient) Status(ctx context.Context) (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.request(ctx, MsgStatusRequest, MsgStatusResponse, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// IsActive reports whether the overlay is shown.
func (c *IPCClient) IsActive(ctx context.Context) (bool, error) {
	var resp IsActiveResponse
	if err := c.request(ctx, MsgIsActive, MsgIsActiveResp, nil, &resp); err != nil {
		return false, err
	}
	return resp.Active, nil
}

// StartOverlay shows the overlay.
func (c *IPCClient) StartOverlay(ctx context.Context) error {
	return c.request(ctx, MsgStartOverlay, MsgStartOverlayResp, nil, nil)
}

// StopOverlay hides the overlay without unlocking.
func (c *IPCClient) StopOverlay(ctx context.Context) error {
	return c.request(ctx, MsgStopOverlay, MsgStopOverlayResp, nil, nil)
}

// Pointer injects one pointer event.
func (c *IPCClient) Pointer(ctx context.Context, ev trace.Event) (*PointerResponse, error) {
	var resp PointerResponse
	if err := c.request(ctx, MsgPointer, MsgPointerResp, &PointerRequest{Event: ev}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Resize sets the overlay surface size.
func (c *IPCClient) Resize(ctx context.Context, width, height float64) error {
	return c.request(ctx, MsgResize, MsgResizeResp, &ResizeRequest{Width: width, Height: height}, nil)
}

// History returns up to limit journal entries, newest first.
func (c *IPCClient) History(ctx context.Context, limit int) ([]journal.Entry, error) {
	var resp HistoryResponse
	if err := c.request(ctx, MsgHistory, MsgHistoryResp, &HistoryRequest{Limit: limit}, &resp); err != nil {
		return nil, err
	}
	return resp.Entries, nil
}

// VerifyJournal asks the daemon to verify the journal chain.
func (c *IPCClient) VerifyJournal(ctx context.Context) (*VerifyJournalResponse, error) {
	var resp VerifyJournalResponse
	if err := c.request(ctx, MsgVerifyJournal, MsgVerifyJournalResp, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Config returns the running configuration.
func (c *IPCClient) Config(ctx context.Context) (*ConfigResponse, error) {
	var resp ConfigResponse
	if err := c.request(ctx, MsgGetConfig, MsgGetConfigResp, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ReloadConfig asks the daemon to re-read its configuration file.
func (c *IPCClient) ReloadConfig(ctx context.Context) error {
	return c.request(ctx, MsgReloadConfig, MsgReloadConfigResp, nil, nil)
}

// Subscribe starts event delivery on Events. No types means all.
func (c *IPCClient) Subscribe(ctx context.Context, types ...EventType) error {
	return c.request(ctx, MsgSubscribe, MsgSubscribeResp, &SubscribeRequest{Events: types}, nil)
}
