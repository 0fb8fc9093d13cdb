// SPDX-License-Identifier: BSD-3-Clause
// Copyright (c) 2025 Pierre Jay

// Package metrics defines the Prometheus instrumentation surfaced at
// /metrics, scraped through promhttp.Handler (see internal/http).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DeviceOnline mirrors the derived online/offline liveness of each
	// device (§3 invariant 2).
	DeviceOnline = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hub_device_online",
			Help: "Device liveness (1=online, 0=offline)",
		},
		[]string{"device_id", "room"},
	)

	// DeviceErrorsTotal counts transport failures per device (§7c).
	DeviceErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hub_device_errors_total",
			Help: "Total transport errors per device",
		},
		[]string{"device_id"},
	)

	// DeviceReconnectsTotal counts pub/sub reconnects attributed to a device.
	DeviceReconnectsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hub_device_reconnects_total",
			Help: "Total reconnects observed per device",
		},
		[]string{"device_id"},
	)

	// StateVersion is the domain state's monotonic version counter.
	StateVersion = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hub_state_version",
			Help: "Current domain state version (§4.C)",
		},
	)

	// MQTTConnected mirrors the pub/sub client's connection status.
	MQTTConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hub_mqtt_connected",
			Help: "Pub/sub client connection status (1=connected)",
		},
	)

	// MQTTReconnectsTotal counts pub/sub client reconnect attempts.
	MQTTReconnectsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hub_mqtt_reconnects_total",
			Help: "Total pub/sub client reconnect attempts",
		},
	)

	// PlannerTicksTotal counts planner loop ticks, by outcome.
	PlannerTicksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hub_planner_ticks_total",
			Help: "Total planner ticks",
		},
		[]string{"outcome"}, // ok, skipped_overrun
	)

	// PlannerPublishErrorsTotal counts failed plan publishes.
	PlannerPublishErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hub_planner_publish_errors_total",
			Help: "Total plan publish failures",
		},
	)

	// FastStreamerFramesTotal counts v1 frames sent by the internal fast
	// streamer (component F).
	FastStreamerFramesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hub_fast_streamer_frames_total",
			Help: "Total fast-streamer UDP frames sent",
		},
	)

	// RepeaterPacketsTotal counts datagrams received by the UDP repeater,
	// by outcome.
	RepeaterPacketsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hub_repeater_packets_total",
			Help: "Total UDP repeater packets received",
		},
		[]string{"outcome"}, // forwarded, malformed
	)

	// PushBroadcastsTotal counts operator push broadcasts, by message kind.
	PushBroadcastsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hub_push_broadcasts_total",
			Help: "Total operator push broadcasts",
		},
		[]string{"kind"}, // state, rooms_control
	)

	// PushSubscribers is the current count of connected operator
	// subscribers.
	PushSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hub_push_subscribers",
			Help: "Current connected operator push subscribers",
		},
	)
)
