// SPDX-License-Identifier: BSD-3-Clause
// Copyright (c) 2025 Pierre Jay

// Package repeater implements the UDP repeater (spec component G): it
// binds a datagram port, parses the LED v1/v2 wire format, adapts each
// stream to the receiving device's channel layout, and fans frames out to
// every FAST device whose effective fast_mode_type is UDP_REPEATER.
package repeater

import (
	"errors"
	"log/slog"
	"net"
	"sort"
	"time"

	"lighting-hub/internal/config"
	"lighting-hub/internal/hub"
	"lighting-hub/internal/hwmode"
	"lighting-hub/internal/metrics"
	"lighting-hub/internal/wire"
)

const readTimeout = 500 * time.Millisecond

// Repeater is the realtime ingest worker (§4.G).
type Repeater struct {
	cfg     config.UDPRepeaterConfig
	devices map[string]config.DeviceConfig
	state   *hub.State
	logger  *slog.Logger

	conn   *net.UDPConn
	outConn *net.UDPConn
	stopCh chan struct{}
	done   chan struct{}
}

// New constructs a Repeater without binding the port; call Start to bind.
func New(cfg config.UDPRepeaterConfig, devices map[string]config.DeviceConfig, state *hub.State, logger *slog.Logger) *Repeater {
	return &Repeater{
		cfg:     cfg,
		devices: devices,
		state:   state,
		logger:  logger,
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start binds the configured port and launches the receive loop. A bind
// failure is returned to the caller, which logs it and leaves the
// repeater disabled (§7e) rather than treating it as fatal.
func (r *Repeater) Start() error {
	addr := &net.UDPAddr{IP: net.ParseIP(r.cfg.ListenHost), Port: r.cfg.ListenPort}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return err
	}
	outConn, err := net.ListenUDP("udp", &net.UDPAddr{})
	if err != nil {
		conn.Close()
		return err
	}
	r.conn = conn
	r.outConn = outConn
	go r.loop()
	r.logger.Info("udp repeater listening", "addr", addr.String())
	return nil
}

// Stop signals the receive loop to exit and closes the sockets.
func (r *Repeater) Stop() {
	close(r.stopCh)
	<-r.done
	r.conn.Close()
	r.outConn.Close()
}

func (r *Repeater) loop() {
	defer close(r.done)

	buf := make([]byte, 2048)
	for {
		select {
		case <-r.stopCh:
			return
		default:
		}

		r.conn.SetReadDeadline(time.Now().Add(readTimeout))
		n, _, err := r.conn.ReadFromUDP(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			select {
			case <-r.stopCh:
				return
			default:
				continue
			}
		}

		packet := make([]byte, n)
		copy(packet, buf[:n])
		r.handlePacket(packet)
	}
}

// handlePacket dispatches by version (§4.G step 1-2). Invalid packets are
// silently dropped; a malformed v2 block aborts the whole packet.
func (r *Repeater) handlePacket(data []byte) {
	if len(data) < 4 || [3]byte(data[0:3]) != wire.Header {
		metrics.RepeaterPacketsTotal.WithLabelValues("malformed").Inc()
		return
	}

	switch data[3] {
	case wire.Version1:
		pkt, err := wire.DecodeV1(data)
		if err != nil {
			metrics.RepeaterPacketsTotal.WithLabelValues("malformed").Inc()
			return
		}
		r.fanOutV1(pkt.Values)
	case wire.Version2:
		pkt, err := wire.DecodeV2(data)
		if err != nil {
			metrics.RepeaterPacketsTotal.WithLabelValues("malformed").Inc()
			return
		}
		r.fanOutV2(pkt.Streams)
	default:
		metrics.RepeaterPacketsTotal.WithLabelValues("malformed").Inc()
		return
	}
	metrics.RepeaterPacketsTotal.WithLabelValues("forwarded").Inc()
}

// fanOutV1 forwards the single stream vector to every UDP_REPEATER FAST
// device, adapted to each device's channel layout.
func (r *Repeater) fanOutV1(values []byte) {
	for _, deviceID := range r.state.GetDevicesByFastModeType(hub.FastUDPRepeater) {
		dev, ok := r.devices[deviceID]
		if !ok {
			continue
		}
		adapted := adaptChannels(dev.HWMode, dev.Channels, values)
		r.deliver(deviceID, dev, adapted)
	}
}

// fanOutV2 selects, per device, the best-matching stream (§4.G priority
// order) and forwards it adapted to the device's channel layout.
func (r *Repeater) fanOutV2(streams map[byte][]byte) {
	for _, deviceID := range r.state.GetDevicesByFastModeType(hub.FastUDPRepeater) {
		dev, ok := r.devices[deviceID]
		if !ok {
			continue
		}
		source := selectStream(dev.HWMode, streams)
		adapted := adaptChannels(dev.HWMode, dev.Channels, source)
		r.deliver(deviceID, dev, adapted)
	}
}

// selectStream implements §4.G's priority order: (a) the device's own
// hw_mode stream, (b) the 4ch_v1 stream, (c) the first stream in a
// stable ascending-stream-id order, (d) a zero vector.
func selectStream(hwMode string, streams map[byte][]byte) []byte {
	if id, ok := hwmode.StreamID(hwMode); ok {
		if v, ok := streams[id]; ok {
			return v
		}
	}
	if v, ok := streams[1]; ok { // 4ch_v1
		return v
	}
	if len(streams) > 0 {
		ids := make([]byte, 0, len(streams))
		for id := range streams {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		return streams[ids[0]]
	}
	return nil
}

// adaptChannels implements the §4.G channel adaptation rule: a 2ch_v1
// device receiving a >=4-channel 4ch_v1-shaped source (G,Y,B,R order)
// takes out[0]=max(R,Y), out[1]=max(G,B); otherwise it truncates or
// right-zero-pads.
func adaptChannels(hwMode string, channels int, source []byte) []byte {
	if hwMode == "2ch_v1" && len(source) >= 4 {
		g, y, b, r := source[0], source[1], source[2], source[3]
		return []byte{maxByte(r, y), maxByte(g, b)}
	}
	out := make([]byte, channels)
	copy(out, source)
	return out
}

func maxByte(a, b byte) byte {
	if a > b {
		return a
	}
	return b
}

// deliver records the adapted values in state and forwards a v1 packet to
// the device (§4.G final two steps).
func (r *Repeater) deliver(deviceID string, dev config.DeviceConfig, values []byte) {
	if err := r.state.SetFastValuesBytes(deviceID, values); err != nil {
		return
	}
	packet := wire.EncodeV1Bytes(values)
	addr := &net.UDPAddr{IP: net.ParseIP(dev.IP), Port: dev.UDPPort}
	if _, err := r.outConn.WriteToUDP(packet, addr); err != nil {
		r.logger.Debug("repeater forward failed", "device_id", deviceID, "error", err)
		r.state.IncrementDeviceError(deviceID)
	}
}
