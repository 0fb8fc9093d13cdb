// SPDX-License-Identifier: BSD-3-Clause
// Copyright (c) 2025 Pierre Jay

// Package push implements the operator push broadcaster: it tracks
// connected operator subscribers and forwards change-gated "state" and
// "rooms_control" snapshots over a buffered per-subscriber channel.
package push

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"lighting-hub/internal/hub"
	"lighting-hub/internal/metrics"
)

// livenessInterval is the periodic liveness tick cadence (see DESIGN.md
// for why exactly 3 seconds was chosen).
const livenessInterval = 3 * time.Second

// message is the envelope pushed to every subscriber.
type message struct {
	Type string `json:"type"` // "state" or "rooms_control"
	Data any    `json:"data"`
}

// Broadcaster maintains the set of connected operator subscribers and
// decides when to push change-gated snapshots.
type Broadcaster struct {
	state  *hub.State
	logger *slog.Logger

	mu   sync.Mutex
	subs map[chan []byte]struct{}

	stopCh chan struct{}
	done   chan struct{}
}

// New builds a Broadcaster bound to the shared domain state.
func New(state *hub.State, logger *slog.Logger) *Broadcaster {
	return &Broadcaster{
		state:  state,
		logger: logger,
		subs:   make(map[chan []byte]struct{}),
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Subscribe registers a new operator subscriber and immediately sends it
// both message kinds (§4.H: "on subscriber connect, both kinds are sent
// immediately"). The returned channel is buffered so a slow writer cannot
// stall other subscribers' broadcasts; Unsubscribe must be called when
// the connection closes.
func (b *Broadcaster) Subscribe() chan []byte {
	// Flush any pending change to existing subscribers first, so the hash
	// recorded as last broadcast matches the snapshot sent below.
	b.BroadcastStateIfChanged()

	ch := make(chan []byte, 32)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	metrics.PushSubscribers.Set(float64(b.subscriberCount()))

	b.sendTo(ch, "state", b.state.GetAllDeviceStatus())
	b.sendTo(ch, "rooms_control", b.state.GetAllRoomControlStatus())
	return ch
}

// Unsubscribe removes a subscriber, closing its channel.
func (b *Broadcaster) Unsubscribe(ch chan []byte) {
	b.mu.Lock()
	if _, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(ch)
	}
	b.mu.Unlock()
	metrics.PushSubscribers.Set(float64(b.subscriberCount()))
}

func (b *Broadcaster) subscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

func (b *Broadcaster) sendTo(ch chan []byte, kind string, data any) {
	encoded, err := json.Marshal(message{Type: kind, Data: data})
	if err != nil {
		return
	}
	select {
	case ch <- encoded:
	default:
		b.logger.Debug("push subscriber slow, dropping message", "kind", kind)
	}
}

// broadcast is best-effort: a subscriber whose buffer is full is left to
// catch up on the next broadcast rather than blocking every other
// subscriber (full disconnection is handled by the HTTP layer's read
// loop noticing a dead connection).
func (b *Broadcaster) broadcast(kind string, data any) {
	encoded, err := json.Marshal(message{Type: kind, Data: data})
	if err != nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- encoded:
		default:
			b.logger.Debug("push subscriber slow, dropping message", "kind", kind)
		}
	}
	metrics.PushBroadcastsTotal.WithLabelValues(kind).Inc()
}

// refreshMetrics mirrors the gauges that have no natural mutation hook
// (liveness transitions, connection status, version) into Prometheus on
// the same cadence as the liveness tick.
func (b *Broadcaster) refreshMetrics() {
	for _, snap := range b.state.GetAllDeviceStatus() {
		online := 0.0
		if snap.Online {
			online = 1
		}
		metrics.DeviceOnline.WithLabelValues(snap.DeviceID, snap.Room).Set(online)
	}
	metrics.StateVersion.Set(float64(b.state.Version()))
	connected := 0.0
	if b.state.IsMQTTConnected() {
		connected = 1
	}
	metrics.MQTTConnected.Set(connected)
}

// BroadcastStateIfChanged emits a "state" snapshot only when the
// canonical-order hash differs from the last broadcast one (§4.C, §4.H).
// Called after any operator mutation and by the periodic liveness tick.
func (b *Broadcaster) BroadcastStateIfChanged() {
	if !b.state.HasStateChanged() {
		return
	}
	snapshot := b.state.GetAllDeviceStatus()
	b.broadcast("state", snapshot)
	b.state.MarkBroadcastComplete(snapshot)
}

// BroadcastRoomsControl emits an unconditional "rooms_control" snapshot
// (room control changes are comparatively rare and cheap to always push).
func (b *Broadcaster) BroadcastRoomsControl() {
	b.broadcast("rooms_control", b.state.GetAllRoomControlStatus())
}

// Start launches the periodic liveness tick, which catches
// online->offline transitions not triggered by any mutation (§4.H,
// §8 scenario 3).
func (b *Broadcaster) Start() {
	go b.livenessLoop()
}

// Stop signals the liveness loop to exit and waits for it.
func (b *Broadcaster) Stop() {
	close(b.stopCh)
	<-b.done
}

func (b *Broadcaster) livenessLoop() {
	defer close(b.done)
	ticker := time.NewTicker(livenessInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			b.refreshMetrics()
			b.BroadcastStateIfChanged()
		case <-b.stopCh:
			return
		}
	}
}
