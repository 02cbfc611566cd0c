//go:build unix

package ipc

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"screenguard/internal/config"
	"screenguard/internal/journal"
	"screenguard/internal/overlay"
	"screenguard/internal/router"
	"screenguard/internal/trace"
)

func TestMessageFraming(t *testing.T) {
	var buf bytes.Buffer
	msg, err := NewResponse(MsgIsActiveResp, 42, &IsActiveResponse{Active: true})
	require.NoError(t, err)
	require.NoError(t, msg.Write(&buf))
	assert.Equal(t, HeaderSize+len(msg.Payload), buf.Len())

	got, err := ReadMessage(&buf)
	require.NoError(t, err)
	assert.Equal(t, MsgIsActiveResp, got.Header.Type)
	assert.Equal(t, uint32(42), got.Header.RequestID)
	assert.Equal(t, FlagJSON, got.Header.Flags)

	var resp IsActiveResponse
	require.NoError(t, Decode(got.Payload, &resp))
	assert.True(t, resp.Active)
}

func TestReadMessageRejectsBadFrames(t *testing.T) {
	t.Run("magic", func(t *testing.T) {
		var buf bytes.Buffer
		h := Header{Magic: 0xdeadbeef, Version: ProtocolVersion}
		require.NoError(t, h.Write(&buf))
		_, err := ReadMessage(&buf)
		assert.ErrorIs(t, err, errBadMagic)
	})
	t.Run("version", func(t *testing.T) {
		var buf bytes.Buffer
		h := Header{Magic: ProtocolMagic, Version: ProtocolVersion + 1}
		require.NoError(t, h.Write(&buf))
		_, err := ReadMessage(&buf)
		assert.ErrorIs(t, err, errBadVersion)
	})
	t.Run("size", func(t *testing.T) {
		var buf bytes.Buffer
		h := Header{Magic: ProtocolMagic, Version: ProtocolVersion, Length: MaxPayload + 1}
		require.NoError(t, h.Write(&buf))
		_, err := ReadMessage(&buf)
		assert.ErrorIs(t, err, errTooLarge)
	})
}

// shortDir keeps socket paths under the sun_path limit.
func shortDir(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "sg")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	return dir
}

type fixture struct {
	server  *Server
	client  *IPCClient
	overlay *overlay.Service
	journal *journal.Journal
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := shortDir(t)

	j, err := journal.Open(filepath.Join(dir, "j.db"), filepath.Join(dir, "j.secret"))
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })

	w := journal.NewWriter(j, 64, nil)
	svc := overlay.New(router.DefaultConfig(), overlay.WithObserver(w))
	svc.Resize(1000, 2000)

	cfg := config.DefaultConfig()
	var srv *Server
	handler := NewDaemonHandler(DaemonHandlerConfig{
		Version: "test",
		Overlay: svc,
		Journal: j,
		Config:  func() (*config.Config, string) { return cfg, "/etc/screenguard.toml" },
		Reload:  func() error { return nil },
		Clients: func() int { return srv.ClientCount() },
	})

	scfg := DefaultServerConfig(dir)
	srv = NewServer(scfg, handler)
	require.NoError(t, srv.Start())
	t.Cleanup(func() { srv.Stop() })

	svc.OnActivate(func() { srv.Broadcast(&Event{Type: EventActivated, Timestamp: time.Now()}) })
	svc.OnUnlock(func(sig router.Signal) {
		w.Close()
		srv.Broadcast(&Event{Type: EventUnlocked, Timestamp: time.Now(), Source: sig.Source.String()})
	})

	client, err := Dial(context.Background(), DefaultClientConfig(scfg.SocketPath))
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	return &fixture{server: srv, client: client, overlay: svc, journal: j}
}

func TestOverlayLifecycleOverSocket(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.client.Ping(ctx))
	active, err := f.client.IsActive(ctx)
	require.NoError(t, err)
	assert.False(t, active)

	_, err = f.client.Pointer(ctx, trace.Event{Action: "down", X: 1, Y: 1})
	var remote *RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, ErrNotActive, remote.Code)

	require.NoError(t, f.client.StartOverlay(ctx))
	err = f.client.StartOverlay(ctx)
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, ErrAlreadyActive, remote.Code)

	require.NoError(t, f.client.StopOverlay(ctx))
	err = f.client.StopOverlay(ctx)
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, ErrNotActive, remote.Code)
}

func TestPointerUnlockIsJournaled(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.client.Subscribe(ctx, EventActivated, EventUnlocked))
	require.NoError(t, f.client.StartOverlay(ctx))

	tr, err := trace.Load(filepath.Join("..", "trace", "testdata", "u_unlock.yaml"))
	require.NoError(t, err)
	require.NoError(t, f.client.Resize(ctx, tr.Surface.Width, tr.Surface.Height))

	var last *PointerResponse
	for _, ev := range tr.Events {
		last, err = f.client.Pointer(ctx, ev)
		require.NoError(t, err)
	}
	require.True(t, last.Unlocked)
	assert.Equal(t, "gesture", last.Source)

	seen := map[EventType]bool{}
	timeout := time.After(5 * time.Second)
	for len(seen) < 2 {
		select {
		case ev := <-f.client.Events():
			seen[ev.Type] = true
		case <-timeout:
			t.Fatalf("events not delivered, got %v", seen)
		}
	}

	entries, err := f.client.History(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "gesture_completed", entries[0].Outcome)

	verify, err := f.client.VerifyJournal(ctx)
	require.NoError(t, err)
	assert.True(t, verify.Valid)
	assert.Equal(t, int64(1), verify.Entries)

	status, err := f.client.Status(ctx)
	require.NoError(t, err)
	assert.False(t, status.Overlay.Active)
	assert.Equal(t, uint64(1), status.Overlay.Unlocks)
	assert.Equal(t, int64(1), status.Journal.Entries)
	assert.Equal(t, 1, status.Clients)
}

func TestPointerTimingUsesDaemonClock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.client.StartOverlay(ctx))

	// client timestamps far outside the tap window must not break the run
	required := router.DefaultConfig().Emergency.RequiredTaps
	var resp *PointerResponse
	for i := 0; i < required; i++ {
		tms := int64(i) * 60_000
		_, err := f.client.Pointer(ctx, trace.Event{Action: "down", X: 500, Y: 1900, TMs: tms})
		require.NoError(t, err)
		resp, err = f.client.Pointer(ctx, trace.Event{Action: "up", X: 500, Y: 1900, TMs: tms + 50})
		require.NoError(t, err)
		if i < required-1 {
			require.False(t, resp.Unlocked, "tap %d", i+1)
			assert.Equal(t, i+1, resp.EmergencyTaps)
		}
	}
	require.True(t, resp.Unlocked)
	assert.Equal(t, "emergency", resp.Source)
}

func TestConfigOverSocket(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	resp, err := f.client.Config(ctx)
	require.NoError(t, err)
	assert.Equal(t, "/etc/screenguard.toml", resp.Path)
	assert.Contains(t, resp.TOML, "[emergency]")
	require.NoError(t, f.client.ReloadConfig(ctx))
}

func TestUnknownMessage(t *testing.T) {
	f := newFixture(t)
	err := f.client.request(context.Background(), MessageType(0x0fff), MsgPong, nil, nil)
	var remote *RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, ErrInvalidRequest, remote.Code)
}

func TestSecondServerRefused(t *testing.T) {
	f := newFixture(t)
	other := NewServer(DefaultServerConfig(filepath.Dir(f.server.SocketPath())), nil)
	assert.ErrorIs(t, other.Start(), ErrAlreadyRunning)
}

func TestDialWithoutDaemon(t *testing.T) {
	_, err := Dial(context.Background(), DefaultClientConfig(filepath.Join(shortDir(t), "none.sock")))
	assert.ErrorIs(t, err, ErrDaemonNotRunning)
}

func TestClientAfterServerStop(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.server.Stop())

	// the events channel closes once the client sees the hangup
	select {
	case _, ok := <-f.client.Events():
		assert.False(t, ok)
	case <-time.After(5 * time.Second):
		t.Fatal("client did not notice the closed connection")
	}
	assert.ErrorIs(t, f.client.Ping(context.Background()), ErrNotConnected)
}

func TestPidLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run", "screenguard.pid")
	lock, err := AcquirePidLock(path)
	require.NoError(t, err)

	pid, err := ReadPid(path)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)

	_, err = AcquirePidLock(path)
	assert.ErrorIs(t, err, ErrLocked)

	require.NoError(t, lock.Release())
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	again, err := AcquirePidLock(path)
	require.NoError(t, err)
	require.NoError(t, again.Release())
}

func TestCleanupSocketLeavesRegularFiles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "not-a-socket")
	require.NoError(t, os.WriteFile(path, nil, 0o600))
	assert.Error(t, CleanupSocket(path))
	assert.NoError(t, CleanupSocket(filepath.Join(t.TempDir(), "missing")))
}
