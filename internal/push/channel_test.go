package push

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"nhooyr.io/websocket"

	"github.com/starford/tidsync/internal/apperr"
)

// wsServer accepts websocket connections and records inbound frames.
type wsServer struct {
	*httptest.Server
	accepts atomic.Int32
	frames  chan []byte
	// onConn runs after the handshake for the n-th connection (1-based).
	// Returning false ends the handler without reading.
	onConn func(n int, c *websocket.Conn) bool
}

func newWSServer(t *testing.T, onConn func(n int, c *websocket.Conn) bool) *wsServer {
	t.Helper()
	s := &wsServer{frames: make(chan []byte, 16), onConn: onConn}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(s.accepts.Add(1))
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		if s.onConn != nil && !s.onConn(n, c) {
			return
		}
		for {
			_, data, err := c.Read(context.Background())
			if err != nil {
				return
			}
			s.frames <- data
		}
	}))
	t.Cleanup(s.Close)
	return s
}

type recordingOpener struct {
	mu     sync.Mutex
	titles []string
}

func (o *recordingOpener) OpenTitle(_ context.Context, title string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.titles = append(o.titles, title)
	return nil
}

func (o *recordingOpener) Titles() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.titles...)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fastPolicy(max int) Policy {
	return Policy{BaseDelay: 5 * time.Millisecond, MaxDelay: 20 * time.Millisecond, MaxAttempts: max}
}

func startChannel(t *testing.T, cfg Config) *Channel {
	t.Helper()
	if cfg.Logger == nil {
		cfg.Logger = quietLogger()
	}
	if cfg.LivenessInterval == 0 {
		cfg.LivenessInterval = time.Hour
	}
	ch, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ch.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return ch
}

func eventually(t *testing.T, timeout, tick time.Duration, fn func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(tick)
	}
	t.Error(msg)
}

func TestChannelEditTiddlerOpens(t *testing.T) {
	srv := newWSServer(t, func(n int, c *websocket.Conn) bool {
		ctx := context.Background()
		_ = c.Write(ctx, websocket.MessageText, []byte(`{"type":"bogus-frame"`))
		_ = c.Write(ctx, websocket.MessageText, []byte(`{"type":"edit-tiddler"}`))
		_ = c.Write(ctx, websocket.MessageText, []byte(`{"type":"edit-tiddler","title":"Foo"}`))
		return true
	})
	opener := &recordingOpener{}
	startChannel(t, Config{URL: SocketURL(srv.URL), Opener: opener, Policy: fastPolicy(3)})

	eventually(t, 2*time.Second, 10*time.Millisecond, func() bool {
		return len(opener.Titles()) == 1
	}, "edit-tiddler never reached the opener")
	if got := opener.Titles(); len(got) != 1 || got[0] != "Foo" {
		t.Errorf("titles = %v", got)
	}
}

func TestChannelSendOpen(t *testing.T) {
	srv := newWSServer(t, nil)
	ch := startChannel(t, Config{URL: SocketURL(srv.URL), Policy: fastPolicy(3)})

	eventually(t, 2*time.Second, 10*time.Millisecond, func() bool {
		return ch.State() == Open
	}, "channel never opened")

	off := 7
	if err := ch.SendOpen(context.Background(), "Foo", &off); err != nil {
		t.Fatalf("SendOpen: %v", err)
	}
	select {
	case data := <-srv.frames:
		var got map[string]any
		if err := json.Unmarshal(data, &got); err != nil {
			t.Fatalf("frame: %v", err)
		}
		if got["type"] != "open-tiddler" || got["title"] != "Foo" || got["offset"] != float64(7) {
			t.Errorf("frame = %s", data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no frame received")
	}
}

func TestChannelSendOpenDisconnected(t *testing.T) {
	ch, err := New(Config{URL: "ws://127.0.0.1:1/ws", Logger: quietLogger()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := ch.SendOpen(context.Background(), "Foo", nil); !errors.Is(err, apperr.ErrNotConnected) {
		t.Errorf("err = %v, want not connected", err)
	}
}

func TestChannelReconnectsAfterAbnormalClose(t *testing.T) {
	srv := newWSServer(t, func(n int, c *websocket.Conn) bool {
		if n == 1 {
			_ = c.Close(websocket.StatusInternalError, "boom")
			return false
		}
		return true
	})
	ch := startChannel(t, Config{URL: SocketURL(srv.URL), Policy: fastPolicy(5)})

	eventually(t, 3*time.Second, 10*time.Millisecond, func() bool {
		return srv.accepts.Load() >= 2 && ch.State() == Open
	}, "channel did not reconnect")
	if a := ch.Status().Attempts; a != 0 {
		t.Errorf("attempts after reopen = %d", a)
	}
}

func TestChannelNormalCloseDoesNotReconnect(t *testing.T) {
	srv := newWSServer(t, func(n int, c *websocket.Conn) bool {
		_ = c.Close(websocket.StatusNormalClosure, "bye")
		return false
	})
	ch := startChannel(t, Config{URL: SocketURL(srv.URL), Policy: fastPolicy(5)})

	eventually(t, 2*time.Second, 10*time.Millisecond, func() bool {
		return ch.State() == Disconnected && srv.accepts.Load() == 1
	}, "channel did not settle disconnected")
	time.Sleep(100 * time.Millisecond)
	if n := srv.accepts.Load(); n != 1 {
		t.Errorf("accepts = %d, want 1", n)
	}

	// An explicit reconnect dials again.
	ch.Reconnect()
	eventually(t, 2*time.Second, 10*time.Millisecond, func() bool {
		return srv.accepts.Load() == 2
	}, "explicit reconnect did not dial")
}

func TestChannelStopsAtAttemptCeiling(t *testing.T) {
	srv := newWSServer(t, nil)
	url := SocketURL(srv.URL)
	srv.Close()

	var mu sync.Mutex
	var states []State
	ch := startChannel(t, Config{
		URL:    url,
		Policy: fastPolicy(2),
		OnState: func(s State) {
			mu.Lock()
			states = append(states, s)
			mu.Unlock()
		},
	})
	eventually(t, 3*time.Second, 10*time.Millisecond, func() bool {
		return ch.State() == Stopped
	}, "channel never stopped")
	if a := ch.Status().Attempts; a != 2 {
		t.Errorf("attempts = %d, want 2", a)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(states) == 0 || states[len(states)-1] != Stopped {
		t.Errorf("states = %v", states)
	}
}

func TestChannelWakeRedialsAfterStop(t *testing.T) {
	srv := newWSServer(t, nil)
	var up atomic.Bool
	var refused atomic.Int32
	front := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !up.Load() {
			refused.Add(1)
			http.Error(w, "down", http.StatusServiceUnavailable)
			return
		}
		srv.Config.Handler.ServeHTTP(w, r)
	}))
	t.Cleanup(front.Close)

	ticks := make(chan time.Time)
	ch := startChannel(t, Config{
		URL:              SocketURL(front.URL),
		Policy:           fastPolicy(2),
		LivenessInterval: time.Minute,
		Ticks:            ticks,
	})
	eventually(t, 3*time.Second, 10*time.Millisecond, func() bool {
		return ch.State() == Stopped
	}, "channel never stopped")
	// The first dial plus two retries.
	if n := refused.Load(); n != 3 {
		t.Fatalf("refused dials = %d, want 3", n)
	}

	up.Store(true)
	start := time.Now()

	// A tick on schedule is not a wake.
	ticks <- start.Add(30 * time.Second)
	time.Sleep(50 * time.Millisecond)
	if s := ch.State(); s != Stopped {
		t.Fatalf("state after regular tick = %s, want stopped", s)
	}
	if n := srv.accepts.Load(); n != 0 {
		t.Fatalf("accepts after regular tick = %d", n)
	}

	// A tick long after the previous one follows a suspension.
	ticks <- start.Add(30*time.Second + 10*time.Minute)
	eventually(t, 2*time.Second, 10*time.Millisecond, func() bool {
		return srv.accepts.Load() == 1 && ch.State() == Open
	}, "wake did not redial the stopped channel")
}

func TestChannelRetarget(t *testing.T) {
	first := newWSServer(t, nil)
	second := newWSServer(t, nil)
	ch := startChannel(t, Config{URL: SocketURL(first.URL), Policy: fastPolicy(3)})

	eventually(t, 2*time.Second, 10*time.Millisecond, func() bool {
		return ch.State() == Open
	}, "channel never opened")

	ch.Retarget(SocketURL(second.URL))
	eventually(t, 2*time.Second, 10*time.Millisecond, func() bool {
		return second.accepts.Load() == 1 && ch.State() == Open
	}, "channel did not move to the new server")
	if ch.URL() != SocketURL(second.URL) {
		t.Errorf("url = %s", ch.URL())
	}
	if n := first.accepts.Load(); n != 1 {
		t.Errorf("first server accepts = %d", n)
	}
}
