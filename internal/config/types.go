// SPDX-License-Identifier: BSD-3-Clause
// Copyright (c) 2025 Pierre Jay

package config

// Config is the root configuration structure: rooms of devices plus the
// settings for each backend worker.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	MQTT        MQTTConfig        `yaml:"mqtt"`
	UDP         UDPConfig         `yaml:"udp"`
	Planner     PlannerConfig     `yaml:"planner"`
	UDPRepeater UDPRepeaterConfig `yaml:"udp_repeater"`
	Modbus      *ModbusConfig     `yaml:"modbus,omitempty"`
	Plans       PlansConfig       `yaml:"plans"`
	Rooms       []RoomConfig      `yaml:"rooms"`
}

// ServerConfig defines the operator HTTP/WS listen address.
type ServerConfig struct {
	HTTP string `yaml:"http"`
}

// MQTTConfig configures the pub/sub client (component D).
type MQTTConfig struct {
	BrokerHost          string `yaml:"broker_host"`
	BrokerPort          int    `yaml:"broker_port"`
	ClientID            string `yaml:"client_id"`
	Username            string `yaml:"username"`
	Password            string `yaml:"password"`
	ReconnectDelayMin   int    `yaml:"reconnect_delay_min"`
	ReconnectDelayMax   int    `yaml:"reconnect_delay_max"`
	HeartbeatTimeoutSec int    `yaml:"heartbeat_timeout_sec"`
}

// UDPConfig configures the fast streamer (component F).
type UDPConfig struct {
	DefaultPort int `yaml:"default_port"`
	SendRateHz  int `yaml:"send_rate_hz"`
}

// PlannerConfig configures the planner loop (component E).
type PlannerConfig struct {
	IntervalSec         int `yaml:"interval_sec"`
	StepsPerInterval    int `yaml:"steps_per_interval"`
	IntervalMs          int `yaml:"interval_ms"`
	PlanPayloadVersion  int `yaml:"plan_payload_version"`
}

// UDPRepeaterConfig configures the realtime frame ingest port (component G).
type UDPRepeaterConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenHost string `yaml:"listen_host"`
	ListenPort int    `yaml:"listen_port"`
}

// ModbusConfig configures the legacy BMS integration bridge. Presence of
// this section (non-nil) enables the bridge.
type ModbusConfig struct {
	Addr string `yaml:"addr"` // ":502" or ":5020"
}

// PlansConfig configures the plan file store and cache (component B).
type PlansConfig struct {
	Dir         string `yaml:"dir"`
	CacheTTLSec int    `yaml:"cache_ttl_sec"`
}

// DeviceTopics are the three pub/sub topics a device is addressed on.
type DeviceTopics struct {
	SetPlan   string `yaml:"set_plan"`
	SetStatic string `yaml:"set_static"`
	Heartbeat string `yaml:"heartbeat"`
}

// DeviceConfig is the immutable, config-derived identity of one device.
// Channels and ChannelLabels are derived from HWMode at load time (or from
// the legacy bare Channels field, §6).
type DeviceConfig struct {
	DeviceID        string       `yaml:"device_id"`
	IP              string       `yaml:"ip"`
	UDPPort         int          `yaml:"udp_port"`
	HWMode          string       `yaml:"hw_mode"`
	Channels        int          `yaml:"channels"` // legacy fallback when hw_mode is omitted
	ChannelLabels   []string     `yaml:"-"`
	Topics          DeviceTopics `yaml:"topics"`
	FirmwareVersion string       `yaml:"firmware_version"`
	Room            string       `yaml:"-"`
}

// RoomConfig is a named collection of devices.
type RoomConfig struct {
	Name    string         `yaml:"name"`
	Devices []DeviceConfig `yaml:"devices"`
}
