// SPDX-License-Identifier: BSD-3-Clause
// Copyright (c) 2025 Pierre Jay

package hub

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"lighting-hub/internal/config"
)

func testConfig() *config.Config {
	return &config.Config{
		MQTT: config.MQTTConfig{HeartbeatTimeoutSec: 10},
		Rooms: []config.RoomConfig{
			{
				Name: "lobby",
				Devices: []config.DeviceConfig{
					{DeviceID: "dev-1", Room: "lobby", Channels: 4, ChannelLabels: []string{"G", "Y", "B", "R"}},
					{DeviceID: "dev-2", Room: "lobby", Channels: 2, ChannelLabels: []string{"RY", "GB"}},
				},
			},
			{
				Name: "hallway",
				Devices: []config.DeviceConfig{
					{DeviceID: "dev-3", Room: "hallway", Channels: 4, ChannelLabels: []string{"G", "Y", "B", "R"}},
				},
			},
		},
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestNewStateDefaults(t *testing.T) {
	s := NewState(testConfig(), testLogger())
	snap, err := s.GetDeviceStatus("dev-1")
	if err != nil {
		t.Fatalf("GetDeviceStatus: %v", err)
	}
	if snap.Mode != string(ModeStatic) {
		t.Errorf("default mode = %q, want static", snap.Mode)
	}
	if len(snap.StaticValues) != 4 {
		t.Errorf("static values len = %d, want 4", len(snap.StaticValues))
	}
	if snap.Online {
		t.Error("device with no heartbeat should be offline")
	}
}

func TestSetStaticValuesClampsAndSizes(t *testing.T) {
	s := NewState(testConfig(), testLogger())
	if err := s.SetStaticValues("dev-1", []int{-10, 300, 128, 50, 999}); err != nil {
		t.Fatalf("SetStaticValues: %v", err)
	}
	snap, _ := s.GetDeviceStatus("dev-1")
	want := []int{0, 255, 128, 50}
	for i, v := range want {
		if snap.StaticValues[i] != v {
			t.Errorf("StaticValues[%d] = %d, want %d", i, snap.StaticValues[i], v)
		}
	}
}

func TestSetStaticValuesUnknownDevice(t *testing.T) {
	s := NewState(testConfig(), testLogger())
	if err := s.SetStaticValues("missing", []int{1}); err != ErrNotFound {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestUpdateHeartbeatOnlineOffline(t *testing.T) {
	s := NewState(testConfig(), testLogger())
	v0 := s.Version()
	if err := s.UpdateHeartbeat("dev-1"); err != nil {
		t.Fatalf("UpdateHeartbeat: %v", err)
	}
	if s.Version() <= v0 {
		t.Error("version should bump on offline->online transition")
	}
	snap, _ := s.GetDeviceStatus("dev-1")
	if !snap.Online {
		t.Error("device should be online right after heartbeat")
	}

	v1 := s.Version()
	if err := s.UpdateHeartbeat("dev-1"); err != nil {
		t.Fatalf("UpdateHeartbeat: %v", err)
	}
	if s.Version() != v1 {
		t.Error("version should not bump on online->online heartbeat refresh")
	}
}

func TestDeviceGoesOfflineAfterTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.MQTT.HeartbeatTimeoutSec = 0 // any elapsed time marks it offline below
	s := NewState(cfg, testLogger())
	s.heartbeatTimeout = 1 * time.Nanosecond
	_ = s.UpdateHeartbeat("dev-1")
	time.Sleep(time.Millisecond)
	snap, _ := s.GetDeviceStatus("dev-1")
	if snap.Online {
		t.Error("device should be offline once heartbeat timeout elapses")
	}
}

func TestRoomAutoProjection(t *testing.T) {
	s := NewState(testConfig(), testLogger())

	if err := s.SetRoomMode("lobby", ModePlanned); err != nil {
		t.Fatalf("SetRoomMode: %v", err)
	}
	if err := s.SetRoomStaticValues("lobby", []int{10, 20, 30, 40}); err != nil {
		t.Fatalf("SetRoomStaticValues: %v", err)
	}
	if err := s.SetRoomPlannedPlan("lobby", "evening"); err != nil {
		t.Fatalf("SetRoomPlannedPlan: %v", err)
	}

	// While MANUAL, room settings do not affect devices.
	mode, _ := s.GetEffectiveMode("dev-1")
	if mode != ModeStatic {
		t.Errorf("effective mode under MANUAL = %v, want static (device default)", mode)
	}

	if err := s.SetRoomControlMode("lobby", ControlAuto); err != nil {
		t.Fatalf("SetRoomControlMode: %v", err)
	}

	mode, _ = s.GetEffectiveMode("dev-1")
	if mode != ModePlanned {
		t.Errorf("effective mode under AUTO = %v, want planned", mode)
	}
	plan, _ := s.GetEffectivePlan("dev-1")
	if plan != "evening" {
		t.Errorf("effective plan = %q, want evening", plan)
	}

	// dev-1 has 4 channels: gets the room values verbatim.
	values, _ := s.GetEffectiveStaticValues("dev-1")
	want4 := []byte{10, 20, 30, 40}
	for i, v := range want4 {
		if values[i] != v {
			t.Errorf("dev-1 static[%d] = %d, want %d", i, values[i], v)
		}
	}

	// dev-2 has 2 channels: truncated projection.
	values2, _ := s.GetEffectiveStaticValues("dev-2")
	if len(values2) != 2 || values2[0] != 10 || values2[1] != 20 {
		t.Errorf("dev-2 static = %v, want [10 20]", values2)
	}

	// hallway (different room) is unaffected.
	mode3, _ := s.GetEffectiveMode("dev-3")
	if mode3 != ModeStatic {
		t.Errorf("hallway device affected by lobby AUTO projection: %v", mode3)
	}
}

func TestRoomControlModeUnknownRoom(t *testing.T) {
	s := NewState(testConfig(), testLogger())
	if err := s.SetRoomControlMode("nowhere", ControlAuto); err != ErrNotFound {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestHasStateChangedGating(t *testing.T) {
	s := NewState(testConfig(), testLogger())

	if !s.HasStateChanged() {
		t.Error("fresh state with no prior broadcast should report changed")
	}
	snap := s.GetAllDeviceStatus()
	s.MarkBroadcastComplete(snap)
	if s.HasStateChanged() {
		t.Error("state should not have changed since marking broadcast complete")
	}

	if err := s.SetStaticValues("dev-1", []int{1, 2, 3, 4}); err != nil {
		t.Fatalf("SetStaticValues: %v", err)
	}
	if !s.HasStateChanged() {
		t.Error("mutation should be detected as a change")
	}
	s.MarkBroadcastComplete(s.GetAllDeviceStatus())
	if s.HasStateChanged() {
		t.Error("state should settle back to unchanged after marking broadcast complete again")
	}
}

func TestGetDevicesByFastModeTypeUsesEffective(t *testing.T) {
	s := NewState(testConfig(), testLogger())
	if err := s.SetDeviceMode("dev-1", ModeFast); err != nil {
		t.Fatalf("SetDeviceMode: %v", err)
	}
	if err := s.SetDeviceFastModeType("dev-1", FastUDPRepeater); err != nil {
		t.Fatalf("SetDeviceFastModeType: %v", err)
	}

	ids := s.GetDevicesByFastModeType(FastUDPRepeater)
	if len(ids) != 1 || ids[0] != "dev-1" {
		t.Errorf("GetDevicesByFastModeType(udp_repeater) = %v, want [dev-1]", ids)
	}

	// Now put the room in AUTO with fast_mode_type internal: the room's
	// effective value should override the device's own setting.
	if err := s.SetRoomFastModeType("lobby", FastInternal); err != nil {
		t.Fatalf("SetRoomFastModeType: %v", err)
	}
	if err := s.SetRoomMode("lobby", ModeFast); err != nil {
		t.Fatalf("SetRoomMode: %v", err)
	}
	if err := s.SetRoomControlMode("lobby", ControlAuto); err != nil {
		t.Fatalf("SetRoomControlMode: %v", err)
	}

	ids = s.GetDevicesByFastModeType(FastInternal)
	found := false
	for _, id := range ids {
		if id == "dev-1" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected dev-1 in effective-internal set after AUTO projection, got %v", ids)
	}
}

func TestParseHelpersRejectUnknown(t *testing.T) {
	if _, err := ParseDeviceMode("bogus"); err == nil {
		t.Error("expected error for unknown mode")
	}
	if _, err := ParseRoomControlMode("bogus"); err == nil {
		t.Error("expected error for unknown control_mode")
	}
	if _, err := ParseFastModeType("bogus"); err == nil {
		t.Error("expected error for unknown fast_mode_type")
	}
}
