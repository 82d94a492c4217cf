// Package push keeps a websocket to the wiki server open, turns
// edit-tiddler requests into local opens and sends open-tiddler requests
// to live views.
package push

import "time"

// State is the lifecycle state of the channel.
type State int

const (
	Disconnected State = iota
	Connecting
	Open
	Closing
	// Stopped means automatic reconnection gave up. Only an explicit
	// Reconnect or Retarget leaves it.
	Stopped
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Closing:
		return "closing"
	case Stopped:
		return "stopped"
	}
	return "unknown"
}

// MarshalText encodes the state name.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Event drives the state machine.
type Event int

const (
	// EventOpened: the handshake succeeded.
	EventOpened Event = iota
	// EventClosedNormal: the peer or we closed with the normal-closure code.
	EventClosedNormal
	// EventClosedAbnormal: the connection dropped or the dial failed.
	EventClosedAbnormal
	// EventReconnect: an explicit reconnect request.
	EventReconnect
	// EventRetarget: the server address changed.
	EventRetarget
	// EventShutdown: the channel is being closed for good.
	EventShutdown
)

// Policy bounds reconnection.
type Policy struct {
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int
}

// DefaultPolicy returns 1s doubling up to 30s, at most 10 attempts.
func DefaultPolicy() Policy {
	return Policy{BaseDelay: time.Second, MaxDelay: 30 * time.Second, MaxAttempts: 10}
}

// Delay returns min(BaseDelay * 2^attempts, MaxDelay).
func (p Policy) Delay(attempts int) time.Duration {
	delay := p.BaseDelay
	if delay <= 0 {
		delay = time.Second
	}
	maxDelay := p.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 30 * time.Second
	}
	for i := 0; i < attempts; i++ {
		delay *= 2
		if delay >= maxDelay {
			return maxDelay
		}
	}
	if delay > maxDelay {
		return maxDelay
	}
	return delay
}

// Transition is the outcome of one Step.
type Transition struct {
	State    State
	Attempts int
	// Dial is set when a new connection attempt must start after Delay.
	Dial  bool
	Delay time.Duration
	// CloseConn is set when a live connection must be closed normally first.
	CloseConn bool
}

// Step computes the next state. It has no side effects.
func Step(s State, attempts int, ev Event, p Policy) Transition {
	switch ev {
	case EventOpened:
		return Transition{State: Open, Attempts: 0}

	case EventClosedNormal:
		return Transition{State: Disconnected, Attempts: attempts}

	case EventClosedAbnormal:
		if attempts >= p.MaxAttempts {
			return Transition{State: Stopped, Attempts: attempts}
		}
		attempts++
		return Transition{State: Connecting, Attempts: attempts, Dial: true, Delay: p.Delay(attempts)}

	case EventReconnect:
		if s == Open {
			return Transition{State: Open, Attempts: attempts}
		}
		return Transition{State: Connecting, Attempts: 0, Dial: true, CloseConn: s == Closing}

	case EventRetarget:
		return Transition{State: Connecting, Attempts: 0, Dial: true, CloseConn: s == Open || s == Closing}

	case EventShutdown:
		return Transition{State: Disconnected, Attempts: attempts, CloseConn: s == Open || s == Closing}
	}
	return Transition{State: s, Attempts: attempts}
}
