// Package sse implements a Server-Sent Events broker that tells the UI
// shell about opened and saved tiddlers, push channel changes and
// user-visible notices.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
)

// Event types.
const (
	TypeOpened        = "tiddler.opened"
	TypeSaved         = "tiddler.saved"
	TypeState         = "tiddler.state"
	TypeMirrorUpdated = "mirror.updated"
	TypePush          = "push.state"
	TypeNotice        = "notice"
)

// Notice levels.
const (
	LevelInfo    = "info"
	LevelWarning = "warning"
	LevelError   = "error"
)

const (
	clientBuffer = 64

	// noticeBacklog is how many recent notices a new subscriber receives.
	noticeBacklog = 8
	keepAlive     = 15 * time.Second
)

// Event represents an SSE event to broadcast.
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// Notice is the payload of a TypeNotice event.
type Notice struct {
	Level   string `json:"level"`
	Message string `json:"message"`
	Title   string `json:"title,omitempty"`
}

// subscriber is one connected client. An empty types set receives
// every event.
type subscriber struct {
	ch    chan []byte
	types map[string]bool
}

func (s *subscriber) wants(eventType string) bool {
	return len(s.types) == 0 || s.types[eventType]
}

// Broker manages SSE client connections and broadcasts events.
//
// A single event loop goroutine owns the clients, the event sequence and
// the notice backlog. Public methods talk to it over channels.
type Broker struct {
	mirrorMin time.Duration

	subscribeCh   chan *subscriber
	unsubscribeCh chan chan []byte
	publishCh     chan Event
	tiddlerCh     chan Event
	countReqCh    chan chan int

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// NewBroker creates a new SSE broker. mirrorThrottle bounds how often
// mirror.updated follows a tiddler event.
func NewBroker(mirrorThrottle time.Duration) *Broker {
	if mirrorThrottle <= 0 {
		mirrorThrottle = 2 * time.Second
	}

	b := &Broker{
		mirrorMin:     mirrorThrottle,
		subscribeCh:   make(chan *subscriber),
		unsubscribeCh: make(chan chan []byte),
		publishCh:     make(chan Event, 256),
		tiddlerCh:     make(chan Event, 256),
		countReqCh:    make(chan chan int),
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}

	go b.run()
	return b
}

// frame renders one event in wire format.
func frame(id uint64, event Event) ([]byte, error) {
	payload, err := json.Marshal(event.Data)
	if err != nil {
		return nil, err
	}
	return []byte(fmt.Sprintf("id: %d\nevent: %s\ndata: %s\n\n", id, event.Type, payload)), nil
}

func (b *Broker) run() {
	defer close(b.stopped)

	clients := make(map[chan []byte]*subscriber)
	var (
		seq        uint64
		lastMirror time.Time
		notices    [][]byte
	)

	broadcast := func(event Event) {
		seq++
		raw, err := frame(seq, event)
		if err != nil {
			return
		}
		if event.Type == TypeNotice {
			notices = append(notices, raw)
			if len(notices) > noticeBacklog {
				notices = notices[len(notices)-noticeBacklog:]
			}
		}

		for ch, sub := range clients {
			if !sub.wants(event.Type) {
				continue
			}
			select {
			case ch <- raw:
			default:
				// Slow client; drop rather than block the loop.
			}
		}
	}

	for {
		select {
		case <-b.stopCh:
			for ch := range clients {
				close(ch)
			}
			return

		case sub := <-b.subscribeCh:
			clients[sub.ch] = sub
			if sub.wants(TypeNotice) {
				for _, raw := range notices {
					select {
					case sub.ch <- raw:
					default:
					}
				}
			}

		case ch := <-b.unsubscribeCh:
			if _, ok := clients[ch]; ok {
				delete(clients, ch)
				close(ch)
			}

		case event := <-b.publishCh:
			broadcast(event)

		case event := <-b.tiddlerCh:
			broadcast(event)

			now := time.Now()
			if now.Sub(lastMirror) >= b.mirrorMin {
				lastMirror = now
				broadcast(Event{Type: TypeMirrorUpdated, Data: map[string]string{}})
			}

		case resp := <-b.countReqCh:
			resp <- len(clients)
		}
	}
}

// Close gracefully stops broker loop and closes all client channels.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// Subscribe adds a new client and returns its channel. When types are
// given only events of those types are delivered. Recent notices are
// replayed first.
func (b *Broker) Subscribe(types ...string) chan []byte {
	sub := &subscriber{ch: make(chan []byte, clientBuffer)}
	if len(types) > 0 {
		sub.types = make(map[string]bool, len(types))
		for _, t := range types {
			sub.types[t] = true
		}
	}
	if b.closed.Load() {
		close(sub.ch)
		return sub.ch
	}

	select {
	case b.subscribeCh <- sub:
	case <-b.stopped:
		close(sub.ch)
	}

	return sub.ch
}

// Unsubscribe removes a client and closes its channel.
func (b *Broker) Unsubscribe(ch chan []byte) {
	if b.closed.Load() {
		return
	}
	select {
	case b.unsubscribeCh <- ch:
	case <-b.stopped:
	}
}

// ClientCount returns the number of connected clients.
func (b *Broker) ClientCount() int {
	if b.closed.Load() {
		return 0
	}

	resp := make(chan int, 1)
	select {
	case b.countReqCh <- resp:
	case <-b.stopped:
		return 0
	}

	select {
	case n := <-resp:
		return n
	case <-b.stopped:
		return 0
	}
}

// Publish sends an event to all connected clients.
func (b *Broker) Publish(event Event) {
	if b.closed.Load() {
		return
	}
	select {
	case b.publishCh <- event:
	case <-b.stopped:
	}
}

// PublishTiddlerEvent publishes a tiddler event of the given type and a
// throttled mirror.updated event.
func (b *Broker) PublishTiddlerEvent(kind string, data interface{}) {
	if b.closed.Load() {
		return
	}
	select {
	case b.tiddlerCh <- Event{Type: kind, Data: data}:
	case <-b.stopped:
	}
}

// PublishNotice publishes a user-visible message.
func (b *Broker) PublishNotice(level, title, message string) {
	b.Publish(Event{Type: TypeNotice, Data: Notice{Level: level, Title: title, Message: message}})
}

// ServeHTTP is the SSE endpoint handler (GET /api/events). The optional
// types query parameter is a comma separated list of event types.
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	var types []string
	for _, t := range strings.Split(r.URL.Query().Get("types"), ",") {
		if t = strings.TrimSpace(t); t != "" {
			types = append(types, t)
		}
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := b.Subscribe(types...)
	defer b.Unsubscribe(ch)

	ping := time.NewTicker(keepAlive)
	defer ping.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ping.C:
			_, _ = w.Write([]byte(": keep-alive\n\n"))
			flusher.Flush()
		case msg, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write(msg)
			flusher.Flush()
		}
	}
}
