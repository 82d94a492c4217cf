package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"github.com/starford/tidsync/internal/apperr"
)

// Opener handles edit-tiddler requests.
type Opener interface {
	OpenTitle(ctx context.Context, title string) error
}

// Config configures a Channel.
type Config struct {
	URL              string
	Policy           Policy
	LivenessInterval time.Duration
	DialTimeout      time.Duration
	Opener           Opener
	Logger           *slog.Logger
	// OnState is called after every state change, outside the lock.
	OnState func(State)
	// Ticks replaces the liveness ticker when set. Each received time is
	// checked for a wake from suspension.
	Ticks <-chan time.Time
}

// Status is a snapshot of the channel.
type Status struct {
	URL      string `json:"url"`
	State    State  `json:"state"`
	Attempts int    `json:"attempts"`
}

// Channel is a self-healing websocket client. Exactly one session is
// live at a time; every dial starts a new session generation and events
// from older generations are ignored.
type Channel struct {
	policy      Policy
	liveness    time.Duration
	dialTimeout time.Duration
	opener      Opener
	logger      *slog.Logger
	onState     func(State)
	ticks       <-chan time.Time
	decoder     *Decoder

	mu       sync.Mutex
	url      string
	state    State
	attempts int
	conn     *websocket.Conn
	gen      uint64
	timer    *time.Timer
	ctx      context.Context
	running  bool
}

// New creates a channel. Call Run to start it.
func New(cfg Config) (*Channel, error) {
	dec, err := NewDecoder()
	if err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	policy := cfg.Policy
	if policy.MaxAttempts <= 0 && policy.BaseDelay == 0 && policy.MaxDelay == 0 {
		policy = DefaultPolicy()
	}
	liveness := cfg.LivenessInterval
	if liveness <= 0 {
		liveness = 5 * time.Second
	}
	dialTimeout := cfg.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 10 * time.Second
	}
	return &Channel{
		policy:      policy,
		liveness:    liveness,
		dialTimeout: dialTimeout,
		opener:      cfg.Opener,
		logger:      logger,
		onState:     cfg.OnState,
		ticks:       cfg.Ticks,
		decoder:     dec,
		url:         cfg.URL,
		state:       Disconnected,
	}, nil
}

// Run connects and keeps the channel alive until ctx is cancelled. The
// liveness check runs on its own ticker. A tick that arrives long after
// the previous one means the host slept, and a channel that is not open
// dials again with a fresh attempt budget.
func (c *Channel) Run(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return errors.New("push: already running")
	}
	c.running = true
	c.ctx = ctx
	c.mu.Unlock()

	c.logger.Info("push: started", slog.String("url", c.URL()))
	c.apply(EventReconnect)

	ticks := c.ticks
	if ticks == nil {
		ticker := time.NewTicker(c.liveness)
		defer ticker.Stop()
		ticks = ticker.C
	}
	wake := NewWakeDetector(c.liveness)
	wake.Observe(time.Now())

	for {
		select {
		case <-ctx.Done():
			c.apply(EventShutdown)
			c.mu.Lock()
			c.running = false
			c.mu.Unlock()
			c.logger.Info("push: stopped")
			return nil
		case now := <-ticks:
			if wake.Observe(now) && c.State() != Open {
				c.logger.Info("push: wake detected, reconnecting")
				c.Reconnect()
			}
		}
	}
}

// Reconnect starts a fresh connection attempt with the attempt counter
// reset. It is a no-op while the channel is open.
func (c *Channel) Reconnect() {
	c.apply(EventReconnect)
}

// Retarget points the channel at a new URL, closing any live connection
// normally and connecting again.
func (c *Channel) Retarget(url string) {
	c.mu.Lock()
	c.url = url
	c.mu.Unlock()
	c.logger.Info("push: retarget", slog.String("url", url))
	c.apply(EventRetarget)
}

// State returns the current state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// URL returns the socket address.
func (c *Channel) URL() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.url
}

// Status returns a snapshot for observers.
func (c *Channel) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{URL: c.url, State: c.state, Attempts: c.attempts}
}

// SendOpen asks live views to show title. offset is the caret position
// and is omitted when nil.
func (c *Channel) SendOpen(ctx context.Context, title string, offset *int) error {
	c.mu.Lock()
	conn, state := c.conn, c.state
	c.mu.Unlock()
	if conn == nil || state != Open {
		return fmt.Errorf("push: send %q: %w", title, apperr.ErrNotConnected)
	}
	data, err := json.Marshal(Outbound{Type: TypeOpenTiddler, Title: title, Offset: offset})
	if err != nil {
		return fmt.Errorf("push: encode: %w", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("push: send %q: %w: %w", title, apperr.ErrNetwork, err)
	}
	return nil
}

// apply feeds ev for the current session into the state machine and
// carries out the transition.
func (c *Channel) apply(ev Event) {
	c.mu.Lock()
	c.applyLocked(ev)
}

// applyLocked must be called with c.mu held; it releases it.
func (c *Channel) applyLocked(ev Event) {
	tr := Step(c.state, c.attempts, ev, c.policy)
	changed := tr.State != c.state
	c.state, c.attempts = tr.State, tr.Attempts

	var old *websocket.Conn
	if tr.Dial || ev == EventShutdown {
		// A new session replaces the current one in the same critical
		// section, so handlers of the old session see a stale generation.
		old, c.conn = c.conn, nil
		c.gen++
		if c.timer != nil {
			c.timer.Stop()
			c.timer = nil
		}
	}
	if tr.Dial && c.ctx != nil {
		gen := c.gen
		if tr.Delay > 0 {
			c.timer = time.AfterFunc(tr.Delay, func() { c.dial(gen) })
		} else {
			go c.dial(gen)
		}
	}
	state, attempts, delay := c.state, c.attempts, tr.Delay
	c.mu.Unlock()

	if old != nil {
		go func() { _ = old.Close(websocket.StatusNormalClosure, "reconnect") }()
	}
	if tr.Dial && delay > 0 {
		c.logger.Info("push: reconnect scheduled", slog.Int("attempt", attempts), slog.Duration("delay", delay))
	}
	if state == Stopped && changed {
		c.logger.Warn("push: giving up", slog.Int("attempts", attempts), slog.String("error", apperr.ErrChannelClosed.Error()))
	}
	if changed && c.onState != nil {
		c.onState(state)
	}
}

// dial runs one connection attempt for session gen.
func (c *Channel) dial(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || c.ctx == nil {
		c.mu.Unlock()
		return
	}
	ctx, url := c.ctx, c.url
	c.mu.Unlock()

	dialCtx, cancel := context.WithTimeout(ctx, c.dialTimeout)
	defer cancel()
	conn, resp, err := websocket.Dial(dialCtx, url, &websocket.DialOptions{
		HTTPHeader: http.Header{"X-Requested-With": []string{"TiddlyWiki"}},
	})
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		if conn != nil {
			_ = conn.Close(websocket.StatusNormalClosure, "superseded")
		}
		return
	}
	if err != nil {
		c.logger.Warn("push: dial failed", slog.String("url", url), slog.String("error", err.Error()))
		if ctx.Err() != nil {
			c.mu.Unlock()
			return
		}
		c.applyLocked(EventClosedAbnormal)
		return
	}
	c.conn = conn
	c.applyLocked(EventOpened)
	c.logger.Info("push: connected", slog.String("url", url))

	go c.readLoop(ctx, gen, conn)
}

// readLoop reads frames until the connection ends, then reports the
// closure for its session.
func (c *Channel) readLoop(ctx context.Context, gen uint64, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			c.closed(gen, err)
			return
		}
		c.handle(ctx, data)
	}
}

func (c *Channel) closed(gen uint64, err error) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	if c.ctx == nil || c.ctx.Err() != nil {
		c.mu.Unlock()
		return
	}
	ev := EventClosedAbnormal
	if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
		ev = EventClosedNormal
		c.logger.Info("push: closed normally")
	} else {
		c.logger.Warn("push: connection lost", slog.String("error", err.Error()))
	}
	c.applyLocked(ev)
}

// handle processes one inbound frame. Bad frames are logged and dropped.
func (c *Channel) handle(ctx context.Context, data []byte) {
	msg, err := c.decoder.Decode(data)
	if err != nil {
		c.logger.Warn("push: dropped message", slog.String("error", err.Error()))
		return
	}
	switch msg.Type {
	case TypeEditTiddler:
		if c.opener == nil {
			return
		}
		if err := c.opener.OpenTitle(ctx, msg.Title); err != nil {
			c.logger.Warn("push: edit request failed", slog.String("title", msg.Title), slog.String("error", err.Error()))
		}
	default:
		c.logger.Debug("push: ignored message", slog.String("type", msg.Type))
	}
}
