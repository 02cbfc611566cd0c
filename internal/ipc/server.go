//go:build unix

package ipc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"screenguard/internal/logging"
)

// Handler processes IPC messages.
type Handler interface {
	// HandleMessage processes a message and returns a response.
	HandleMessage(ctx context.Context, client *Client, msg *Message) (*Message, error)
}

// HandlerFunc is a function that implements Handler.
type HandlerFunc func(ctx context.Context, client *Client, msg *Message) (*Message, error)

func (f HandlerFunc) HandleMessage(ctx context.Context, client *Client, msg *Message) (*Message, error) {
	return f(ctx, client, msg)
}

// ErrAlreadyRunning is returned by Start when another daemon answers on the
// socket.
var ErrAlreadyRunning = errors.New("ipc: another daemon is listening on the socket")

// Server accepts control connections on a Unix socket.
type Server struct {
	mu          sync.RWMutex
	listener    net.Listener
	cfg         ServerConfig
	handler     Handler
	clients     map[string]*Client
	subscribers map[string]map[EventType]bool
	startedAt   time.Time

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running atomic.Bool

	nextEventID  atomic.Uint32
	nextClientID atomic.Uint64
	eventChan    chan *Event
}

// Client is a connected peer as seen by the server.
type Client struct {
	ID          string
	Peer        *PeerCredentials
	ConnectedAt time.Time

	conn    net.Conn
	writeMu sync.Mutex
	limiter *rateLimiter
}

// ServerConfig configures the IPC server.
type ServerConfig struct {
	SocketPath     string
	Mode           os.FileMode
	Version        string
	MaxConnections int
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration

	// RequireSameUser rejects peers running as another user.
	RequireSameUser bool

	// RequestRate and RequestBurst bound each client's requests per
	// second. A pointer stream sends one request per move. Zero disables
	// the limit.
	RequestRate  float64
	RequestBurst int

	Logger *slog.Logger
	Crash  *logging.CrashHandler
}

// DefaultServerConfig returns defaults for a socket in runtimeDir.
func DefaultServerConfig(runtimeDir string) ServerConfig {
	return ServerConfig{
		SocketPath:      filepath.Join(runtimeDir, "screenguard.sock"),
		Mode:            0o600,
		Version:         "dev",
		MaxConnections:  8,
		ReadTimeout:     60 * time.Second,
		WriteTimeout:    10 * time.Second,
		RequireSameUser: true,
		RequestRate:     250,
		RequestBurst:    500,
	}
}

// NewServer creates a server. It does not listen until Start.
func NewServer(cfg ServerConfig, handler Handler) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = 8
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 60 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.Mode == 0 {
		cfg.Mode = 0o600
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:         cfg,
		handler:     handler,
		clients:     make(map[string]*Client),
		subscribers: make(map[string]map[EventType]bool),
		ctx:         ctx,
		cancel:      cancel,
		eventChan:   make(chan *Event, 64),
	}
}

// Start begins listening for connections.
func (s *Server) Start() error {
	if err := os.MkdirAll(filepath.Dir(s.cfg.SocketPath), 0o700); err != nil {
		return fmt.Errorf("create socket directory: %w", err)
	}
	if IsSocketListening(s.cfg.SocketPath) {
		return ErrAlreadyRunning
	}
	if err := CleanupSocket(s.cfg.SocketPath); err != nil {
		return fmt.Errorf("remove stale socket: %w", err)
	}

	listener, err := net.Listen("unix", s.cfg.SocketPath)
	if err != nil {
		return fmt.Errorf("listen on socket: %w", err)
	}
	if err := os.Chmod(s.cfg.SocketPath, s.cfg.Mode); err != nil {
		listener.Close()
		return fmt.Errorf("set socket permissions: %w", err)
	}

	s.listener = listener
	s.startedAt = time.Now()
	s.running.Store(true)

	s.wg.Add(2)
	go s.eventBroadcaster()
	go s.acceptLoop()

	s.cfg.Logger.Info("control socket listening", "path", s.cfg.SocketPath)
	return nil
}

// Stop closes the listener and every connection, then removes the socket.
func (s *Server) Stop() error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}

	s.cancel()
	s.listener.Close()

	s.mu.Lock()
	for _, client := range s.clients {
		client.conn.Close()
	}
	close(s.eventChan)
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		s.cfg.Logger.Warn("control socket shutdown timed out")
	}

	os.Remove(s.cfg.SocketPath)
	return nil
}

// SocketPath returns the socket path.
func (s *Server) SocketPath() string {
	return s.cfg.SocketPath
}

// StartedAt returns when Start succeeded.
func (s *Server) StartedAt() time.Time {
	return s.startedAt
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// Broadcast queues an event for subscribers. It never blocks; events are
// dropped when the queue is full or the server is stopped.
func (s *Server) Broadcast(event *Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.running.Load() {
		return
	}
	select {
	case s.eventChan <- event:
	default:
		s.cfg.Logger.Debug("event queue full, dropping event", "event", event.Type.String())
	}
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			s.cfg.Logger.Warn("accept failed", "error", err)
			continue
		}

		peer, err := GetPeerCredentials(conn)
		if err != nil {
			s.cfg.Logger.Debug("peer credentials unavailable", "error", err)
		}
		if s.cfg.RequireSameUser && peer != nil && peer.UID != os.Getuid() {
			s.cfg.Logger.Warn("rejecting connection from another user", "uid", peer.UID, "pid", peer.PID)
			conn.Close()
			continue
		}

		s.mu.Lock()
		if len(s.clients) >= s.cfg.MaxConnections {
			s.mu.Unlock()
			s.cfg.Logger.Warn("connection limit reached", "max", s.cfg.MaxConnections)
			conn.Close()
			continue
		}
		client := &Client{
			ID:          fmt.Sprintf("client-%d", s.nextClientID.Add(1)),
			Peer:        peer,
			ConnectedAt: time.Now(),
			conn:        conn,
			limiter:     newRateLimiter(s.cfg.RequestRate, s.cfg.RequestBurst, nil),
		}
		s.clients[client.ID] = client
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.guard(client.ID, func() { s.handleConnection(client) })
		}()
	}
}

func (s *Server) guard(task string, fn func()) {
	if s.cfg.Crash == nil {
		fn()
		return
	}
	s.cfg.Crash.Guard("ipc-"+task, fn)
}

func (s *Server) handleConnection(client *Client) {
	logger := s.cfg.Logger.With("client", client.ID)
	logger.Debug("client connected")
	defer func() {
		s.mu.Lock()
		delete(s.clients, client.ID)
		delete(s.subscribers, client.ID)
		s.mu.Unlock()
		client.conn.Close()
		logger.Debug("client disconnected")
	}()

	for {
		if s.ctx.Err() != nil {
			return
		}

		client.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		msg, err := ReadMessage(client.conn)
		if err != nil {
			var ne net.Error
			switch {
			case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
			case errors.As(err, &ne) && ne.Timeout():
				logger.Debug("client idle, closing")
			default:
				logger.Warn("read failed", "error", err)
			}
			return
		}

		var response *Message
		if client.limiter.Allow() {
			response, err = s.processMessage(client, msg)
		} else {
			logger.Debug("request rate limited", "type", msg.Header.Type)
			response = NewErrorMessage(msg.Header.RequestID, ErrRateLimited, "rate limit exceeded")
		}
		if err != nil {
			logger.Error("request failed", "type", msg.Header.Type, "error", err)
			response = NewErrorMessage(msg.Header.RequestID, ErrInternalError, err.Error())
		}
		if response == nil {
			continue
		}
		if err := s.send(client, response); err != nil {
			logger.Warn("write failed", "error", err)
			return
		}
	}
}

func (s *Server) processMessage(client *Client, msg *Message) (*Message, error) {
	switch msg.Header.Type {
	case MsgPing:
		return NewMessage(MsgPong, msg.Header.RequestID, nil), nil
	case MsgPong:
		return nil, nil
	case MsgSubscribe:
		return s.handleSubscribe(client, msg)
	}

	if s.handler == nil {
		return NewErrorMessage(msg.Header.RequestID, ErrInvalidRequest, "no handler"), nil
	}
	return s.handler.HandleMessage(s.ctx, client, msg)
}

func (s *Server) handleSubscribe(client *Client, msg *Message) (*Message, error) {
	var req SubscribeRequest
	if err := Decode(msg.Payload, &req); err != nil {
		return NewErrorMessage(msg.Header.RequestID, ErrInvalidRequest, "invalid subscribe request"), nil
	}

	events := make(map[EventType]bool)
	if len(req.Events) == 0 {
		for _, et := range []EventType{EventActivated, EventUnlocked, EventStopped, EventConfigReloaded, EventDaemonShutdown} {
			events[et] = true
		}
	}
	for _, et := range req.Events {
		events[et] = true
	}

	s.mu.Lock()
	s.subscribers[client.ID] = events
	s.mu.Unlock()
	return NewMessage(MsgSubscribeResp, msg.Header.RequestID, nil), nil
}

func (s *Server) eventBroadcaster() {
	defer s.wg.Done()

	for event := range s.eventChan {
		payload, err := Encode(event)
		if err != nil {
			continue
		}

		s.mu.RLock()
		var targets []*Client
		for id, events := range s.subscribers {
			if events[event.Type] {
				if c, ok := s.clients[id]; ok {
					targets = append(targets, c)
				}
			}
		}
		s.mu.RUnlock()

		for _, c := range targets {
			msg := NewMessage(MsgEvent, s.nextEventID.Add(1), payload)
			if err := s.send(c, msg); err != nil {
				s.cfg.Logger.Debug("event delivery failed", "client", c.ID, "error", err)
			}
		}
	}
}

func (s *Server) send(client *Client, msg *Message) error {
	client.writeMu.Lock()
	defer client.writeMu.Unlock()

	client.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	return msg.Write(client.conn)
}
