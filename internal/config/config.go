// SPDX-License-Identifier: BSD-3-Clause
// Copyright (c) 2025 Pierre Jay

package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"lighting-hub/internal/hwmode"
)

// Load reads, parses, defaults, and validates the configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()
	cfg.resolveDevices()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// applyDefaults sets default values for missing config.
func (c *Config) applyDefaults() {
	if c.Server.HTTP == "" {
		c.Server.HTTP = ":8080"
	}
	if c.MQTT.BrokerHost == "" {
		c.MQTT.BrokerHost = "localhost"
	}
	if c.MQTT.BrokerPort == 0 {
		c.MQTT.BrokerPort = 1883
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "lighting_hub"
	}
	if c.MQTT.ReconnectDelayMin == 0 {
		c.MQTT.ReconnectDelayMin = 1
	}
	if c.MQTT.ReconnectDelayMax == 0 {
		c.MQTT.ReconnectDelayMax = 60
	}
	if c.MQTT.HeartbeatTimeoutSec == 0 {
		c.MQTT.HeartbeatTimeoutSec = 10
	}
	if c.UDP.DefaultPort == 0 {
		c.UDP.DefaultPort = 5000
	}
	if c.UDP.SendRateHz == 0 {
		c.UDP.SendRateHz = 60
	}
	if c.Planner.IntervalSec == 0 {
		c.Planner.IntervalSec = 1
	}
	if c.Planner.StepsPerInterval == 0 {
		c.Planner.StepsPerInterval = 10
	}
	if c.Planner.IntervalMs == 0 {
		c.Planner.IntervalMs = 100
	}
	if c.Planner.PlanPayloadVersion == 0 {
		c.Planner.PlanPayloadVersion = 2
	}
	if c.UDPRepeater.ListenHost == "" {
		c.UDPRepeater.ListenHost = "0.0.0.0"
	}
	if c.UDPRepeater.ListenPort == 0 {
		c.UDPRepeater.ListenPort = 5001
	}
	if c.Plans.Dir == "" {
		c.Plans.Dir = "plans"
	}
	if c.Plans.CacheTTLSec == 0 {
		c.Plans.CacheTTLSec = 5
	}
}

// resolveDevices derives each device's Channels/ChannelLabels from HWMode
// (or the legacy bare Channels field), and stamps Room on every device.
func (c *Config) resolveDevices() {
	for ri := range c.Rooms {
		room := &c.Rooms[ri]
		for di := range room.Devices {
			dev := &room.Devices[di]
			dev.Room = room.Name
			if dev.UDPPort == 0 {
				dev.UDPPort = c.UDP.DefaultPort
			}
			if dev.FirmwareVersion == "" {
				dev.FirmwareVersion = "unknown"
			}

			if dev.HWMode != "" {
				mode := hwmode.GetOrDefault(dev.HWMode)
				dev.HWMode = mode.ID
				dev.Channels = mode.Channels
				dev.ChannelLabels = mode.Labels
				continue
			}

			// Legacy fallback: a bare 'channels' integer with no hw_mode.
			legacyChannels := dev.Channels
			if legacyChannels == 0 {
				legacyChannels = 4
			}
			def := hwmode.GetOrDefault(hwmode.DefaultMode)
			dev.HWMode = def.ID
			dev.Channels = legacyChannels
			if legacyChannels == def.Channels {
				dev.ChannelLabels = def.Labels
			} else {
				labels := make([]string, legacyChannels)
				for i := range labels {
					labels[i] = fmt.Sprintf("CH%d", i+1)
				}
				dev.ChannelLabels = labels
			}
		}
	}
}

// Validate checks the configuration for structural errors.
func (c *Config) Validate() error {
	if len(c.Rooms) == 0 {
		return fmt.Errorf("no rooms defined")
	}

	seen := make(map[string]string)
	for _, room := range c.Rooms {
		if room.Name == "" {
			return fmt.Errorf("room with empty name")
		}
		for _, dev := range room.Devices {
			if dev.DeviceID == "" {
				return fmt.Errorf("room %q: device with empty device_id", room.Name)
			}
			if existing, ok := seen[dev.DeviceID]; ok {
				return fmt.Errorf("device_id %q used by both room %q and %q", dev.DeviceID, existing, room.Name)
			}
			seen[dev.DeviceID] = room.Name
			if dev.Channels <= 0 {
				return fmt.Errorf("device %q: non-positive channel count", dev.DeviceID)
			}
		}
	}

	return nil
}

// AllDevices returns a flat list of every device across every room.
func (c *Config) AllDevices() []DeviceConfig {
	var devices []DeviceConfig
	for _, room := range c.Rooms {
		devices = append(devices, room.Devices...)
	}
	return devices
}

// DeviceByID finds a device by its device_id.
func (c *Config) DeviceByID(id string) (DeviceConfig, bool) {
	for _, room := range c.Rooms {
		for _, dev := range room.Devices {
			if dev.DeviceID == id {
				return dev, true
			}
		}
	}
	return DeviceConfig{}, false
}
