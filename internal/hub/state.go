// SPDX-License-Identifier: BSD-3-Clause
// Copyright (c) 2025 Pierre Jay

package hub

import (
	"encoding/json"
	"log/slog"
	"sort"
	"sync"
	"time"

	"lighting-hub/internal/config"
	"lighting-hub/internal/metrics"
)

// State is the single authoritative domain store. All mutations funnel
// through this type's methods and bump the version counter exactly once
// per observable change. A single plain sync.Mutex guards everything;
// methods that need to call a sibling operation while already holding
// the lock do so through an unexported *Locked helper instead of
// re-acquiring it.
type State struct {
	logger *slog.Logger

	mu               sync.Mutex
	heartbeatTimeout time.Duration
	devices          map[string]*deviceState
	deviceOrder      []string
	rooms            map[string]*roomState
	roomOrder        []string

	version           uint64
	lastBroadcastHash string

	mqttConnected  bool
	mqttErrorCount uint64
}

// NewState builds the domain state from configuration (§3 Lifecycles: all
// runtime fields start at their config-derived defaults).
func NewState(cfg *config.Config, logger *slog.Logger) *State {
	s := &State{
		logger:           logger,
		heartbeatTimeout: time.Duration(cfg.MQTT.HeartbeatTimeoutSec) * time.Second,
		devices:          make(map[string]*deviceState),
		rooms:            make(map[string]*roomState),
	}

	for _, room := range cfg.Rooms {
		maxChannels := 0
		for _, dev := range room.Devices {
			if dev.Channels > maxChannels {
				maxChannels = dev.Channels
			}
		}
		if maxChannels == 0 {
			maxChannels = 4
		}
		s.rooms[room.Name] = &roomState{
			name:         room.Name,
			controlMode:  ControlManual,
			mode:         ModeStatic,
			staticValues: make([]byte, maxChannels),
			fastModeType: FastInternal,
		}
		s.roomOrder = append(s.roomOrder, room.Name)

		for _, dev := range room.Devices {
			s.devices[dev.DeviceID] = &deviceState{
				deviceID:        dev.DeviceID,
				room:            room.Name,
				ip:              dev.IP,
				udpPort:         dev.UDPPort,
				hwMode:          dev.HWMode,
				channels:        dev.Channels,
				channelLabels:   dev.ChannelLabels,
				firmwareVersion: dev.FirmwareVersion,
				mode:            ModeStatic,
				staticValues:    make([]byte, dev.Channels),
				fastValues:      make([]byte, dev.Channels),
				fastModeType:    FastInternal,
			}
			s.deviceOrder = append(s.deviceOrder, dev.DeviceID)
		}
	}
	sort.Strings(s.deviceOrder)
	s.version = 1

	return s
}

func (s *State) bumpVersion() { s.version++ }

// Version returns the current state version.
func (s *State) Version() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// --- Device mutations ---

// SetDeviceMode sets a device's own operating mode (not the effective
// mode — see GetEffectiveMode).
func (s *State) SetDeviceMode(deviceID string, mode DeviceMode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	dev, ok := s.devices[deviceID]
	if !ok {
		return ErrNotFound
	}
	dev.mode = mode
	s.bumpVersion()
	return nil
}

// SetStaticValues clamps and right-sizes values to the device's channel
// count (§3 invariant 1).
func (s *State) SetStaticValues(deviceID string, values []int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	dev, ok := s.devices[deviceID]
	if !ok {
		return ErrNotFound
	}
	dev.staticValues = fitChannels(values, dev.channels)
	s.bumpVersion()
	return nil
}

// SetFastValues clamps and right-sizes values to the device's channel
// count (§3 invariant 1).
func (s *State) SetFastValues(deviceID string, values []int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	dev, ok := s.devices[deviceID]
	if !ok {
		return ErrNotFound
	}
	dev.fastValues = fitChannels(values, dev.channels)
	s.bumpVersion()
	return nil
}

// SetFastValuesBytes is the zero-conversion path used by the UDP repeater
// (§4.G), which already holds adapted byte values.
func (s *State) SetFastValuesBytes(deviceID string, values []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	dev, ok := s.devices[deviceID]
	if !ok {
		return ErrNotFound
	}
	dev.fastValues = fitBytes(values, dev.channels)
	s.bumpVersion()
	return nil
}

// SetDevicePlan assigns (or clears, with "") the plan a PLANNED device
// follows.
func (s *State) SetDevicePlan(deviceID, planID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	dev, ok := s.devices[deviceID]
	if !ok {
		return ErrNotFound
	}
	dev.plannedPlanID = planID
	s.bumpVersion()
	return nil
}

// SetDeviceFastModeType sets the device's own fast-mode source (not the
// effective one).
func (s *State) SetDeviceFastModeType(deviceID string, t FastModeType) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	dev, ok := s.devices[deviceID]
	if !ok {
		return ErrNotFound
	}
	dev.fastModeType = t
	s.bumpVersion()
	return nil
}

// UpdateHeartbeat refreshes a device's liveness. Version increments only
// if the device transitioned from offline to online (§3 invariant 2,
// §4.C change detection).
func (s *State) UpdateHeartbeat(deviceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	dev, ok := s.devices[deviceID]
	if !ok {
		return ErrNotFound
	}
	wasOnline := s.isOnlineLocked(dev)
	dev.lastHeartbeat = time.Now()
	if !wasOnline {
		s.bumpVersion()
	}
	return nil
}

// IncrementDeviceError bumps a device's transport error counter (§7c).
func (s *State) IncrementDeviceError(deviceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if dev, ok := s.devices[deviceID]; ok {
		dev.errorCount++
		s.bumpVersion()
		metrics.DeviceErrorsTotal.WithLabelValues(deviceID).Inc()
	}
}

// IncrementDeviceReconnect bumps a device's reconnect counter.
func (s *State) IncrementDeviceReconnect(deviceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if dev, ok := s.devices[deviceID]; ok {
		dev.reconnectCount++
		s.bumpVersion()
		metrics.DeviceReconnectsTotal.WithLabelValues(deviceID).Inc()
	}
}

// --- Room mutations ---

// SetRoomControlMode switches a room between AUTO and MANUAL. Entering
// AUTO projects the room's current settings onto every device in the
// room (§3 invariant 4).
func (s *State) SetRoomControlMode(room string, mode RoomControlMode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[room]
	if !ok {
		return ErrNotFound
	}
	r.controlMode = mode
	if mode == ControlAuto {
		s.projectRoomLocked(r)
	}
	s.bumpVersion()
	return nil
}

// SetRoomMode sets a room's shared mode, projecting it to devices when
// the room is in AUTO.
func (s *State) SetRoomMode(room string, mode DeviceMode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[room]
	if !ok {
		return ErrNotFound
	}
	r.mode = mode
	if r.controlMode == ControlAuto {
		s.projectRoomLocked(r)
	}
	s.bumpVersion()
	return nil
}

// SetRoomStaticValues sets a room's shared static values (clamped to
// [0,255], room-sized), projecting to devices when in AUTO.
func (s *State) SetRoomStaticValues(room string, values []int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[room]
	if !ok {
		return ErrNotFound
	}
	r.staticValues = fitChannels(values, len(r.staticValues))
	if r.controlMode == ControlAuto {
		s.projectRoomLocked(r)
	}
	s.bumpVersion()
	return nil
}

// SetRoomPlannedPlan sets a room's shared plan assignment, projecting to
// devices when in AUTO.
func (s *State) SetRoomPlannedPlan(room, planID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[room]
	if !ok {
		return ErrNotFound
	}
	r.plannedPlanID = planID
	if r.controlMode == ControlAuto {
		s.projectRoomLocked(r)
	}
	s.bumpVersion()
	return nil
}

// SetRoomFastModeType sets a room's shared fast-mode source, projecting
// to devices when in AUTO.
func (s *State) SetRoomFastModeType(room string, t FastModeType) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[room]
	if !ok {
		return ErrNotFound
	}
	r.fastModeType = t
	if r.controlMode == ControlAuto {
		s.projectRoomLocked(r)
	}
	s.bumpVersion()
	return nil
}

// projectRoomLocked applies a room's shared settings to every device it
// contains. Per-device static values are adapted to each device's own
// channel count (§3 invariant 3/4). Must be called with mu held.
func (s *State) projectRoomLocked(r *roomState) {
	roomValuesInts := bytesToInts(r.staticValues)
	for _, dev := range s.devices {
		if dev.room != r.name {
			continue
		}
		dev.mode = r.mode
		dev.plannedPlanID = r.plannedPlanID
		dev.fastModeType = r.fastModeType
		dev.staticValues = fitChannels(roomValuesInts, dev.channels)
	}
}

// --- Queries ---

func (s *State) isOnlineLocked(dev *deviceState) bool {
	if dev.lastHeartbeat.IsZero() {
		return false
	}
	return time.Since(dev.lastHeartbeat) < s.heartbeatTimeout
}

func (s *State) snapshotDeviceLocked(dev *deviceState) DeviceSnapshot {
	return DeviceSnapshot{
		DeviceID:        dev.deviceID,
		Room:            dev.room,
		IP:              dev.ip,
		UDPPort:         dev.udpPort,
		HWMode:          dev.hwMode,
		Channels:        dev.channels,
		ChannelLabels:   dev.channelLabels,
		FirmwareVersion: dev.firmwareVersion,
		Mode:            string(dev.mode),
		StaticValues:    bytesToInts(dev.staticValues),
		FastValues:      bytesToInts(dev.fastValues),
		PlannedPlanID:   dev.plannedPlanID,
		FastModeType:    string(dev.fastModeType),
		Online:          s.isOnlineLocked(dev),
		LastHeartbeat:   heartbeatUnix(dev.lastHeartbeat),
		ErrorCount:      dev.errorCount,
		ReconnectCount:  dev.reconnectCount,
	}
}

func heartbeatUnix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

// GetDeviceStatus returns the operator-visible snapshot of one device.
func (s *State) GetDeviceStatus(deviceID string) (DeviceSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	dev, ok := s.devices[deviceID]
	if !ok {
		return DeviceSnapshot{}, ErrNotFound
	}
	return s.snapshotDeviceLocked(dev), nil
}

// GetAllDeviceStatus returns every device's snapshot in stable
// (ascending device_id) order — the canonical order used by
// HasStateChanged's hash.
func (s *State) GetAllDeviceStatus() []DeviceSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.allDeviceStatusLocked()
}

func (s *State) allDeviceStatusLocked() []DeviceSnapshot {
	out := make([]DeviceSnapshot, 0, len(s.deviceOrder))
	for _, id := range s.deviceOrder {
		out = append(out, s.snapshotDeviceLocked(s.devices[id]))
	}
	return out
}

// GetAllRoomControlStatus returns every room's control snapshot.
func (s *State) GetAllRoomControlStatus() []RoomSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]RoomSnapshot, 0, len(s.roomOrder))
	for _, name := range s.roomOrder {
		r := s.rooms[name]
		out = append(out, RoomSnapshot{
			Name:          r.name,
			ControlMode:   string(r.controlMode),
			Mode:          string(r.mode),
			StaticValues:  bytesToInts(r.staticValues),
			PlannedPlanID: r.plannedPlanID,
			FastModeType:  string(r.fastModeType),
		})
	}
	return out
}

// GetDevicesByMode returns device ids whose own mode matches (used by
// the planner, which iterates actual — not effective-room — device
// assignment, matching the source's get_devices_by_mode).
func (s *State) GetDevicesByMode(mode DeviceMode) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, id := range s.deviceOrder {
		if s.devices[id].mode == mode {
			out = append(out, id)
		}
	}
	return out
}

// GetDevicesByFastModeType returns device ids in FAST mode whose
// *effective* fast_mode_type matches.
func (s *State) GetDevicesByFastModeType(t FastModeType) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, id := range s.deviceOrder {
		dev := s.devices[id]
		if dev.mode != ModeFast {
			continue
		}
		if s.effectiveFastModeTypeLocked(dev) == t {
			out = append(out, id)
		}
	}
	return out
}

func (s *State) roomOf(dev *deviceState) (*roomState, bool) {
	r, ok := s.rooms[dev.room]
	return r, ok
}

func (s *State) effectiveModeLocked(dev *deviceState) DeviceMode {
	if r, ok := s.roomOf(dev); ok && r.controlMode == ControlAuto {
		return r.mode
	}
	return dev.mode
}

func (s *State) effectiveStaticValuesLocked(dev *deviceState) []byte {
	if r, ok := s.roomOf(dev); ok && r.controlMode == ControlAuto {
		return fitBytes(r.staticValues, dev.channels)
	}
	return dev.staticValues
}

func (s *State) effectivePlanLocked(dev *deviceState) string {
	if r, ok := s.roomOf(dev); ok && r.controlMode == ControlAuto {
		return r.plannedPlanID
	}
	return dev.plannedPlanID
}

func (s *State) effectiveFastModeTypeLocked(dev *deviceState) FastModeType {
	if r, ok := s.roomOf(dev); ok && r.controlMode == ControlAuto {
		return r.fastModeType
	}
	return dev.fastModeType
}

// GetEffectiveMode resolves §3 invariant 4 for reading a device's mode.
func (s *State) GetEffectiveMode(deviceID string) (DeviceMode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	dev, ok := s.devices[deviceID]
	if !ok {
		return "", ErrNotFound
	}
	return s.effectiveModeLocked(dev), nil
}

// GetEffectiveStaticValues resolves §3 invariant 4 for a device's static
// values, adapted to the device's channel count.
func (s *State) GetEffectiveStaticValues(deviceID string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	dev, ok := s.devices[deviceID]
	if !ok {
		return nil, ErrNotFound
	}
	return s.effectiveStaticValuesLocked(dev), nil
}

// GetEffectivePlan resolves §3 invariant 4 for a device's plan
// assignment.
func (s *State) GetEffectivePlan(deviceID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	dev, ok := s.devices[deviceID]
	if !ok {
		return "", ErrNotFound
	}
	return s.effectivePlanLocked(dev), nil
}

// GetEffectiveFastModeType resolves §3 invariant 4 for a device's fast
// mode source.
func (s *State) GetEffectiveFastModeType(deviceID string) (FastModeType, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	dev, ok := s.devices[deviceID]
	if !ok {
		return "", ErrNotFound
	}
	return s.effectiveFastModeTypeLocked(dev), nil
}

// DeviceChannels returns a device's channel count, used by components
// that adapt wire payloads without needing the full snapshot.
func (s *State) DeviceChannels(deviceID string) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	dev, ok := s.devices[deviceID]
	if !ok {
		return 0, false
	}
	return dev.channels, true
}

// DeviceHWMode returns a device's hardware mode id.
func (s *State) DeviceHWMode(deviceID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	dev, ok := s.devices[deviceID]
	if !ok {
		return "", false
	}
	return dev.hwMode, true
}

// DeviceIDs returns every configured device id, in canonical order.
func (s *State) DeviceIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.deviceOrder))
	copy(out, s.deviceOrder)
	return out
}

// RoomExists reports whether a room is configured.
func (s *State) RoomExists(room string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.rooms[room]
	return ok
}

// DeviceExists reports whether a device is configured.
func (s *State) DeviceExists(deviceID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.devices[deviceID]
	return ok
}

// --- MQTT connectivity mirror (§4.D: "mirrored into state") ---

// SetMQTTConnected mirrors the pub/sub client's connection status into
// state so the push broadcaster can surface it.
func (s *State) SetMQTTConnected(connected bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mqttConnected != connected {
		s.mqttConnected = connected
		s.bumpVersion()
	}
}

// IsMQTTConnected reports the last-known pub/sub connection status.
func (s *State) IsMQTTConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mqttConnected
}

// IncrementMQTTError bumps the pub/sub error counter (not part of the
// versioned state: a connection blip is not, by itself, operator-visible
// unless connectivity or a device's own status changes).
func (s *State) IncrementMQTTError() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mqttErrorCount++
}

// MQTTErrorCount returns the count of pub/sub connection errors.
func (s *State) MQTTErrorCount() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mqttErrorCount
}

// --- Change detection (§4.C, §4.H) ---

// HasStateChanged reports whether the canonical-order device snapshot
// differs from the last one marked broadcast via MarkBroadcastComplete.
func (s *State) HasStateChanged() bool {
	s.mu.Lock()
	snapshot := s.allDeviceStatusLocked()
	s.mu.Unlock()
	return canonicalHash(snapshot) != s.currentHash()
}

func (s *State) currentHash() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastBroadcastHash
}

// MarkBroadcastComplete records the hash of a just-broadcast snapshot so
// the next HasStateChanged call can short-circuit when nothing changed.
func (s *State) MarkBroadcastComplete(snapshot []DeviceSnapshot) {
	hash := canonicalHash(snapshot)
	s.mu.Lock()
	s.lastBroadcastHash = hash
	s.mu.Unlock()
}

// canonicalHash renders a device snapshot slice (already in ascending
// device_id order) to JSON; byte-identical JSON means byte-identical
// state, which is all the change-detector needs.
func canonicalHash(snapshot []DeviceSnapshot) string {
	data, _ := json.Marshal(snapshot)
	return string(data)
}
