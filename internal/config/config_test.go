// SPDX-License-Identifier: BSD-3-Clause
// Copyright (c) 2025 Pierre Jay

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadValidConfig(t *testing.T) {
	yaml := `
rooms:
  - name: office
    devices:
      - device_id: office-1
        ip: 10.0.0.10
        hw_mode: 4ch_v1
`
	cfg := loadFromString(t, yaml)

	if cfg.Server.HTTP != ":8080" {
		t.Errorf("expected http :8080, got %s", cfg.Server.HTTP)
	}

	if len(cfg.Rooms) != 1 {
		t.Fatalf("expected 1 room, got %d", len(cfg.Rooms))
	}
	if len(cfg.Rooms[0].Devices) != 1 {
		t.Errorf("expected 1 device, got %d", len(cfg.Rooms[0].Devices))
	}
}

func TestLoadDefaultValues(t *testing.T) {
	yaml := `
rooms:
  - name: office
    devices:
      - device_id: office-1
        ip: 10.0.0.10
`
	cfg := loadFromString(t, yaml)

	if cfg.Server.HTTP != ":8080" {
		t.Errorf("expected default http :8080, got %s", cfg.Server.HTTP)
	}
	if cfg.MQTT.BrokerHost != "localhost" {
		t.Errorf("expected default broker host localhost, got %s", cfg.MQTT.BrokerHost)
	}
	if cfg.MQTT.BrokerPort != 1883 {
		t.Errorf("expected default broker port 1883, got %d", cfg.MQTT.BrokerPort)
	}
	if cfg.UDP.SendRateHz != 60 {
		t.Errorf("expected default send rate 60, got %d", cfg.UDP.SendRateHz)
	}
	if cfg.Planner.IntervalSec != 1 {
		t.Errorf("expected default planner interval 1, got %d", cfg.Planner.IntervalSec)
	}
	if cfg.Plans.Dir != "plans" {
		t.Errorf("expected default plans dir 'plans', got %s", cfg.Plans.Dir)
	}
}

func TestResolveDevicesDerivesChannelsFromHWMode(t *testing.T) {
	yaml := `
rooms:
  - name: office
    devices:
      - device_id: office-1
        ip: 10.0.0.10
        hw_mode: 2ch_v1
`
	cfg := loadFromString(t, yaml)
	dev, ok := cfg.DeviceByID("office-1")
	if !ok {
		t.Fatal("expected device office-1 to be found")
	}
	if dev.Channels != 2 {
		t.Errorf("expected 2 channels for 2ch_v1, got %d", dev.Channels)
	}
	if dev.Room != "office" {
		t.Errorf("expected room 'office', got %s", dev.Room)
	}
	if dev.UDPPort != cfg.UDP.DefaultPort {
		t.Errorf("expected default udp port %d, got %d", cfg.UDP.DefaultPort, dev.UDPPort)
	}
}

func TestResolveDevicesLegacyChannelsFallback(t *testing.T) {
	yaml := `
rooms:
  - name: office
    devices:
      - device_id: office-1
        ip: 10.0.0.10
        channels: 3
`
	cfg := loadFromString(t, yaml)
	dev, ok := cfg.DeviceByID("office-1")
	if !ok {
		t.Fatal("expected device office-1 to be found")
	}
	if dev.Channels != 3 {
		t.Errorf("expected legacy channel count 3, got %d", dev.Channels)
	}
	if len(dev.ChannelLabels) != 3 {
		t.Errorf("expected 3 derived labels, got %d", len(dev.ChannelLabels))
	}
}

func TestValidateNoRooms(t *testing.T) {
	yaml := `
server:
  http: ":8080"
`
	_, err := loadFromStringErr(yaml)
	if err == nil {
		t.Error("expected error for config with no rooms")
	}
}

func TestValidateEmptyDeviceID(t *testing.T) {
	yaml := `
rooms:
  - name: office
    devices:
      - device_id: ""
        ip: 10.0.0.10
`
	_, err := loadFromStringErr(yaml)
	if err == nil {
		t.Error("expected error for device with empty device_id")
	}
}

func TestValidateDuplicateDeviceID(t *testing.T) {
	yaml := `
rooms:
  - name: office
    devices:
      - device_id: dup-1
        ip: 10.0.0.10
  - name: lobby
    devices:
      - device_id: dup-1
        ip: 10.0.0.11
`
	_, err := loadFromStringErr(yaml)
	if err == nil {
		t.Error("expected error for duplicate device_id across rooms")
	}
}

func TestAllDevicesFlattensRooms(t *testing.T) {
	yaml := `
rooms:
  - name: office
    devices:
      - device_id: office-1
        ip: 10.0.0.10
      - device_id: office-2
        ip: 10.0.0.11
  - name: lobby
    devices:
      - device_id: lobby-1
        ip: 10.0.0.12
`
	cfg := loadFromString(t, yaml)
	devices := cfg.AllDevices()
	if len(devices) != 3 {
		t.Errorf("expected 3 devices, got %d", len(devices))
	}
}

func TestDeviceByIDNotFound(t *testing.T) {
	yaml := `
rooms:
  - name: office
    devices:
      - device_id: office-1
        ip: 10.0.0.10
`
	cfg := loadFromString(t, yaml)
	if _, ok := cfg.DeviceByID("missing"); ok {
		t.Error("expected ok=false for unknown device_id")
	}
}

// Helper functions

func loadFromString(t *testing.T, yaml string) *Config {
	t.Helper()
	cfg, err := loadFromStringErr(yaml)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	return cfg
}

func loadFromStringErr(yaml string) (*Config, error) {
	dir, err := os.MkdirTemp("", "config_test")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		return nil, err
	}

	return Load(path)
}
