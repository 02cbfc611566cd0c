// Package ipc is the control channel between the screenguard daemon and
// its front-ends (screenguardctl, the overlay window, third-party tools).
//
// Messages are framed with a fixed 16-byte header followed by a JSON
// payload. Requests carry a request ID that the response echoes; events
// pushed to subscribers use server-side IDs.
package ipc

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"screenguard/internal/journal"
	"screenguard/internal/overlay"
	"screenguard/internal/trace"
)

const (
	ProtocolVersion = 1
	ProtocolMagic   = 0x53475244 // "SGRD"
)

// MaxPayload bounds a single message payload.
const MaxPayload = 1 << 20

// MessageType identifies the type of IPC message.
type MessageType uint16

const (
	// Control messages (0x00xx)
	MsgPing  MessageType = 0x0001
	MsgPong  MessageType = 0x0002
	MsgError MessageType = 0x0005

	// Status (0x01xx)
	MsgStatusRequest  MessageType = 0x0100
	MsgStatusResponse MessageType = 0x0101
	MsgIsActive       MessageType = 0x0102
	MsgIsActiveResp   MessageType = 0x0103

	// Overlay lifecycle (0x02xx)
	MsgStartOverlay     MessageType = 0x0200
	MsgStartOverlayResp MessageType = 0x0201
	MsgStopOverlay      MessageType = 0x0202
	MsgStopOverlayResp  MessageType = 0x0203
	MsgPointer          MessageType = 0x0204
	MsgPointerResp      MessageType = 0x0205
	MsgResize           MessageType = 0x0206
	MsgResizeResp       MessageType = 0x0207

	// Journal (0x03xx)
	MsgHistory           MessageType = 0x0302
	MsgHistoryResp       MessageType = 0x0303
	MsgVerifyJournal     MessageType = 0x0306
	MsgVerifyJournalResp MessageType = 0x0307

	// Configuration (0x04xx)
	MsgGetConfig        MessageType = 0x0400
	MsgGetConfigResp    MessageType = 0x0401
	MsgReloadConfig     MessageType = 0x0404
	MsgReloadConfigResp MessageType = 0x0405

	// Event streaming (0x05xx)
	MsgSubscribe     MessageType = 0x0500
	MsgSubscribeResp MessageType = 0x0501
	MsgEvent         MessageType = 0x0504
)

// EventType identifies a pushed event.
type EventType uint16

const (
	EventActivated      EventType = 0x0001
	EventUnlocked       EventType = 0x0002
	EventStopped        EventType = 0x0003
	EventConfigReloaded EventType = 0x0004
	EventDaemonShutdown EventType = 0x0005
)

// String returns the event name.
func (t EventType) String() string {
	switch t {
	case EventActivated:
		return "activated"
	case EventUnlocked:
		return "unlocked"
	case EventStopped:
		return "stopped"
	case EventConfigReloaded:
		return "config_reloaded"
	case EventDaemonShutdown:
		return "daemon_shutdown"
	default:
		return fmt.Sprintf("event(%d)", uint16(t))
	}
}

// Header is the fixed-size message header (16 bytes).
type Header struct {
	Magic     uint32      // Protocol magic number
	Version   uint8       // Protocol version
	Flags     uint8       // Message flags
	Type      MessageType // Message type
	RequestID uint32      // Request ID for correlation
	Length    uint32      // Payload length (not including header)
}

// HeaderSize is the size of the header in bytes.
const HeaderSize = 16

// FlagJSON marks a JSON payload. It is the only encoding.
const FlagJSON uint8 = 0x04

var (
	errBadMagic   = errors.New("ipc: invalid magic number")
	errBadVersion = errors.New("ipc: unsupported protocol version")
	errTooLarge   = errors.New("ipc: payload too large")
)

// Message wraps a header and payload.
type Message struct {
	Header  Header
	Payload []byte
}

// NewMessage creates a message with the given type and payload.
func NewMessage(msgType MessageType, requestID uint32, payload []byte) *Message {
	return &Message{
		Header: Header{
			Magic:     ProtocolMagic,
			Version:   ProtocolVersion,
			Flags:     FlagJSON,
			Type:      msgType,
			RequestID: requestID,
			Length:    uint32(len(payload)),
		},
		Payload: payload,
	}
}

// Write writes the header to w.
func (h *Header) Write(w io.Writer) error {
	var buf [HeaderSize]byte
	h.put(buf[:])
	_, err := w.Write(buf[:])
	return err
}

func (h *Header) put(buf []byte) {
	binary.BigEndian.PutUint32(buf[0:4], h.Magic)
	buf[4] = h.Version
	buf[5] = h.Flags
	binary.BigEndian.PutUint16(buf[6:8], uint16(h.Type))
	binary.BigEndian.PutUint32(buf[8:12], h.RequestID)
	binary.BigEndian.PutUint32(buf[12:16], h.Length)
}

// ReadHeader reads and checks a header.
func ReadHeader(r io.Reader) (*Header, error) {
	var buf [HeaderSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return nil, err
	}

	h := &Header{
		Magic:     binary.BigEndian.Uint32(buf[0:4]),
		Version:   buf[4],
		Flags:     buf[5],
		Type:      MessageType(binary.BigEndian.Uint16(buf[6:8])),
		RequestID: binary.BigEndian.Uint32(buf[8:12]),
		Length:    binary.BigEndian.Uint32(buf[12:16]),
	}
	if h.Magic != ProtocolMagic {
		return nil, fmt.Errorf("%w: %x", errBadMagic, h.Magic)
	}
	if h.Version > ProtocolVersion {
		return nil, fmt.Errorf("%w: %d", errBadVersion, h.Version)
	}
	return h, nil
}

// Write writes the message to w in one call.
func (m *Message) Write(w io.Writer) error {
	m.Header.Length = uint32(len(m.Payload))
	buf := make([]byte, HeaderSize+len(m.Payload))
	m.Header.put(buf)
	copy(buf[HeaderSize:], m.Payload)
	_, err := w.Write(buf)
	return err
}

// ReadMessage reads a complete message.
func ReadMessage(r io.Reader) (*Message, error) {
	h, err := ReadHeader(r)
	if err != nil {
		return nil, err
	}

	m := &Message{Header: *h}
	if h.Length > 0 {
		if h.Length > MaxPayload {
			return nil, fmt.Errorf("%w: %d bytes", errTooLarge, h.Length)
		}
		m.Payload = make([]byte, h.Length)
		if _, err := io.ReadFull(r, m.Payload); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Error codes
const (
	ErrUnknown          = 1
	ErrInvalidRequest   = 2
	ErrNotFound         = 3
	ErrPermissionDenied = 4
	ErrInternalError    = 5
	ErrAlreadyActive    = 6
	ErrNotActive        = 7
	ErrUnavailable      = 8
	ErrRateLimited      = 9
)

// ErrorResponse is sent when an operation fails.
type ErrorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// RemoteError is an ErrorResponse surfaced by the client.
type RemoteError struct {
	Code    int
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("daemon error %d: %s", e.Code, e.Message)
}

// StatusResponse contains daemon status.
type StatusResponse struct {
	Version   string         `json:"version"`
	Uptime    time.Duration  `json:"uptime"`
	StartedAt time.Time      `json:"started_at"`
	Overlay   overlay.Status `json:"overlay"`
	Journal   JournalStatus  `json:"journal"`
	Clients   int            `json:"clients"`
}

// JournalStatus summarizes the attempt journal.
type JournalStatus struct {
	Enabled     bool             `json:"enabled"`
	Entries     int64            `json:"entries"`
	ByOutcome   map[string]int64 `json:"by_outcome,omitempty"`
	IntegrityOK bool             `json:"integrity_ok"`
	Newest      time.Time        `json:"newest,omitzero"`
}

// IsActiveResponse answers MsgIsActive.
type IsActiveResponse struct {
	Active bool `json:"active"`
}

// OverlayResponse acknowledges a lifecycle request.
type OverlayResponse struct {
	Active bool `json:"active"`
}

// PointerRequest injects one pointer event into the active overlay.
// Event.TMs is ignored: emergency tap timing always uses the daemon's
// monotonic clock, taken when the request is handled.
type PointerRequest struct {
	Event trace.Event `json:"event"`
}

// PointerResponse reports whether the event unlocked the overlay.
type PointerResponse struct {
	Unlocked      bool   `json:"unlocked"`
	Source        string `json:"source,omitempty"`
	Phase         string `json:"phase"`
	EmergencyTaps int    `json:"emergency_taps"`
}

// ResizeRequest sets the overlay surface size.
type ResizeRequest struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// HistoryRequest asks for recent journal entries.
type HistoryRequest struct {
	Limit int `json:"limit,omitempty"`
}

// HistoryResponse lists journal entries, newest first.
type HistoryResponse struct {
	Entries []journal.Entry `json:"entries"`
}

// VerifyJournalResponse reports the journal check.
type VerifyJournalResponse struct {
	Valid   bool   `json:"valid"`
	Entries int64  `json:"entries"`
	Chain   string `json:"chain_hash,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ConfigResponse carries the running configuration as TOML.
type ConfigResponse struct {
	Path string `json:"path"`
	TOML string `json:"toml"`
}

// ReloadConfigResponse reports a reload.
type ReloadConfigResponse struct {
	Reloaded bool `json:"reloaded"`
}

// SubscribeRequest selects event types. Empty means all.
type SubscribeRequest struct {
	Events []EventType `json:"events,omitempty"`
}

// Event is a pushed event.
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source,omitempty"`
}

// Encode encodes a payload to JSON bytes. A nil payload encodes to nothing.
func Encode(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

// Decode decodes JSON bytes into v. An empty payload leaves v untouched.
func Decode(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}

// NewErrorMessage creates an error message.
func NewErrorMessage(requestID uint32, code int, message string) *Message {
	payload, _ := Encode(&ErrorResponse{Code: code, Message: message})
	return NewMessage(MsgError, requestID, payload)
}

// NewResponse creates a response message.
func NewResponse(msgType MessageType, requestID uint32, v any) (*Message, error) {
	payload, err := Encode(v)
	if err != nil {
		return nil, err
	}
	return NewMessage(msgType, requestID, payload), nil
}
