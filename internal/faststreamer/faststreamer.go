// SPDX-License-Identifier: BSD-3-Clause
// Copyright (c) 2025 Pierre Jay

// Package faststreamer implements the fast streamer (spec component F):
// at a fixed rate it datagram-pushes each internal-fast device's current
// fast values to its configured (ip, udp_port).
package faststreamer

import (
	"log/slog"
	"net"
	"time"

	"lighting-hub/internal/config"
	"lighting-hub/internal/hub"
	"lighting-hub/internal/metrics"
	"lighting-hub/internal/wire"
)

// Streamer owns one shared outbound UDP socket used to push v1 frames to
// every INTERNAL-fast-mode device.
type Streamer struct {
	rateHz  int
	devices map[string]config.DeviceConfig
	state   *hub.State
	logger  *slog.Logger

	conn   *net.UDPConn
	stopCh chan struct{}
	done   chan struct{}
}

// New builds a Streamer. devices is keyed by device_id and supplies each
// device's (ip, udp_port).
func New(rateHz int, devices map[string]config.DeviceConfig, state *hub.State, logger *slog.Logger) (*Streamer, error) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{})
	if err != nil {
		return nil, err
	}
	if rateHz <= 0 {
		rateHz = 60
	}
	return &Streamer{
		rateHz:  rateHz,
		devices: devices,
		state:   state,
		logger:  logger,
		conn:    conn,
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
	}, nil
}

// Start launches the send loop in the background.
func (s *Streamer) Start() {
	go s.loop()
}

// Stop signals the loop to exit, waits for it, and closes the socket.
func (s *Streamer) Stop() {
	close(s.stopCh)
	<-s.done
	s.conn.Close()
}

func (s *Streamer) loop() {
	defer close(s.done)

	period := time.Second / time.Duration(s.rateHz)
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.tick()
		case <-s.stopCh:
			return
		}
	}
}

// tick sends one frame to every FAST device whose effective
// fast_mode_type is INTERNAL (§4.F).
func (s *Streamer) tick() {
	deviceIDs := s.state.GetDevicesByFastModeType(hub.FastInternal)
	for _, deviceID := range deviceIDs {
		s.sendTo(deviceID)
	}
}

func (s *Streamer) sendTo(deviceID string) {
	dev, ok := s.devices[deviceID]
	if !ok {
		return
	}
	snap, err := s.state.GetDeviceStatus(deviceID)
	if err != nil {
		return
	}

	values := make([]byte, dev.Channels)
	for i := 0; i < dev.Channels && i < len(snap.FastValues); i++ {
		values[i] = byte(snap.FastValues[i])
	}
	packet := wire.EncodeV1Bytes(values)

	addr := &net.UDPAddr{IP: net.ParseIP(dev.IP), Port: dev.UDPPort}
	if _, err := s.conn.WriteToUDP(packet, addr); err != nil {
		s.logger.Debug("fast streamer send failed", "device_id", deviceID, "error", err)
		s.state.IncrementDeviceError(deviceID)
		return
	}
	metrics.FastStreamerFramesTotal.Inc()
}
