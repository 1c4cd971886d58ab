package tlschannel

import (
	"bytes"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/blockberries/meshberry/pkg/cryptoprim"
)

// LivenessState is the heartbeat liveness state machine's current state,
// per spec.md §4.1.
type LivenessState int

const (
	// Alive means the most recent heartbeat challenge was answered in
	// time (or no challenge has timed out yet).
	Alive LivenessState = iota
	// SoftDisconnected means a heartbeat challenge went unanswered for
	// the disconnect timeout, but the underlying TCP connection is
	// still open and heartbeats continue to be retried.
	SoftDisconnected
)

func (s LivenessState) String() string {
	if s == SoftDisconnected {
		return "SoftDisconnected"
	}
	return "Alive"
}

// heartbeatInterval is the retransmit/disconnect timer duration spec.md
// §4.1 fixes at 1000ms.
const heartbeatInterval = 1000 * time.Millisecond

// heartbeatMachine implements the two-timer (retransmit/disconnect)
// liveness protocol of spec.md §4.1. It sends a fresh random challenge on
// a cadence and expects the same payload echoed back; a timed-out
// challenge moves the channel to SoftDisconnected without tearing down
// the TLS session, and a later matching echo moves it back to Alive.
//
// Uses github.com/benbjohnson/clock instead of bare time.AfterFunc so
// tests can deterministically fast-forward it with clock.Mock.
type heartbeatMachine struct {
	clk clock.Clock

	sendChallenge  func(payload []byte) error
	onDisconnected func()
	onReconnected  func()

	mu              sync.Mutex
	state           LivenessState
	lastChallenge   []byte
	retransmitTimer *clock.Timer
	disconnectTimer *clock.Timer
	stopped         bool
}

func newHeartbeatMachine(clk clock.Clock, sendChallenge func([]byte) error, onDisconnected, onReconnected func()) *heartbeatMachine {
	return &heartbeatMachine{
		clk:            clk,
		sendChallenge:  sendChallenge,
		onDisconnected: onDisconnected,
		onReconnected:  onReconnected,
		state:          Alive,
	}
}

// Start begins the heartbeat cycle. Called once the TLS handshake
// completes.
func (h *heartbeatMachine) Start() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return
	}
	h.state = Alive
	h.scheduleRetransmitLocked()
}

// scheduleRetransmitLocked clears both timers and schedules retransmit,
// which generates and sends a fresh challenge, after heartbeatInterval.
// Caller must hold h.mu.
func (h *heartbeatMachine) scheduleRetransmitLocked() {
	h.stopTimersLocked()
	h.retransmitTimer = h.clk.AfterFunc(heartbeatInterval, h.retransmit)
}

// retransmit sends the challenge and arms the disconnect timer, per
// spec.md §4.1 step 3.
func (h *heartbeatMachine) retransmit() {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return
	}
	challenge, err := cryptoprim.RandomBytes(16)
	if err != nil {
		h.mu.Unlock()
		return
	}
	h.lastChallenge = challenge
	h.disconnectTimer = h.clk.AfterFunc(heartbeatInterval, h.onDisconnectTimeout)
	send := h.sendChallenge
	h.mu.Unlock()

	_ = send(challenge)
}

// onDisconnectTimeout fires when a challenge goes unanswered, per spec.md
// §4.1 step 4.
func (h *heartbeatMachine) onDisconnectTimeout() {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return
	}
	wasAlive := h.state == Alive
	h.state = SoftDisconnected
	// Schedule another challenge immediately so a returning peer is
	// detected as soon as it answers.
	h.scheduleRetransmitLocked()
	notify := h.onDisconnected
	h.mu.Unlock()

	if wasAlive && notify != nil {
		notify()
	}
}

// HandleHeartbeatPayload is called when a heartbeat response arrives on
// the channel. A payload matching the most recently sent challenge clears
// the disconnect timer and (if the channel was SoftDisconnected) restores
// Alive and fires onReconnected.
func (h *heartbeatMachine) HandleHeartbeatPayload(payload []byte) {
	h.mu.Lock()
	if h.stopped || !bytes.Equal(payload, h.lastChallenge) || h.lastChallenge == nil {
		h.mu.Unlock()
		return
	}

	wasDisconnected := h.state == SoftDisconnected
	h.state = Alive
	h.scheduleRetransmitLocked()
	notify := h.onReconnected
	h.mu.Unlock()

	if wasDisconnected && notify != nil {
		notify()
	}
}

// State returns the current liveness state.
func (h *heartbeatMachine) State() LivenessState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Stop clears all timers, per spec.md §4.1 ("Timers are cleared on
// tls-closed").
func (h *heartbeatMachine) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stopped = true
	h.stopTimersLocked()
}

func (h *heartbeatMachine) stopTimersLocked() {
	if h.retransmitTimer != nil {
		h.retransmitTimer.Stop()
		h.retransmitTimer = nil
	}
	if h.disconnectTimer != nil {
		h.disconnectTimer.Stop()
		h.disconnectTimer = nil
	}
}
