// SPDX-License-Identifier: BSD-3-Clause
// Copyright (c) 2025 Pierre Jay

// Package api implements the unified command handler shared by the HTTP
// POST endpoints and the WebSocket push channel's inbound commands (§6):
// every device/room mutation funnels through here so both surfaces apply
// the same validation, state mutation, immediate publish, and
// change-gated broadcast.
package api

import (
	"fmt"

	"lighting-hub/internal/hub"
	"lighting-hub/internal/mqtt"
	"lighting-hub/internal/plans"
	"lighting-hub/internal/push"
)

// deviceTopics is the narrow view of device config the handler needs to
// publish immediate static updates.
type deviceTopics struct {
	SetStaticTopic string
}

// Handler is the command surface used by internal/http for both its REST
// endpoints and its WebSocket commands. Mutations are: validate -> mutate
// hub.State -> best-effort publish via mqtt -> change-gated push
// broadcast, matching §4.C/§4.D/§4.H's division of labor.
type Handler struct {
	state       *hub.State
	planCache   *plans.Cache
	planStore   *plans.Store
	mqttClient  *mqtt.Client
	broadcaster *push.Broadcaster
	topics      map[string]deviceTopics // device_id -> topics
}

// New builds a command Handler. setStaticTopics maps each device_id to
// its set_static topic, used for immediate publish after a static
// mutation.
func New(state *hub.State, planCache *plans.Cache, planStore *plans.Store, mqttClient *mqtt.Client, broadcaster *push.Broadcaster, setStaticTopics map[string]string) *Handler {
	topics := make(map[string]deviceTopics, len(setStaticTopics))
	for id, topic := range setStaticTopics {
		topics[id] = deviceTopics{SetStaticTopic: topic}
	}
	return &Handler{
		state:       state,
		planCache:   planCache,
		planStore:   planStore,
		mqttClient:  mqttClient,
		broadcaster: broadcaster,
		topics:      topics,
	}
}

func (h *Handler) afterMutation() {
	h.broadcaster.BroadcastStateIfChanged()
}

func (h *Handler) afterRoomMutation() {
	h.broadcaster.BroadcastStateIfChanged()
	h.broadcaster.BroadcastRoomsControl()
}

// publishDeviceStatic best-effort publishes a device's current effective
// static values immediately after a mutation (§4.C, §5: "the API-handler
// explicitly publishes immediately after mutating, best-effort").
func (h *Handler) publishDeviceStatic(deviceID string) {
	values, err := h.state.GetEffectiveStaticValues(deviceID)
	if err != nil {
		return
	}
	topic, ok := h.topics[deviceID]
	if !ok || topic.SetStaticTopic == "" {
		return
	}
	if !h.mqttClient.PublishStatic(topic.SetStaticTopic, values) {
		h.state.IncrementDeviceError(deviceID)
	}
}

func (h *Handler) devicesInRoom(room string) []string {
	var ids []string
	for _, snap := range h.state.GetAllDeviceStatus() {
		if snap.Room == room {
			ids = append(ids, snap.DeviceID)
		}
	}
	return ids
}

// --- Device commands ---

// SetDeviceMode sets a device's own operating mode.
func (h *Handler) SetDeviceMode(deviceID, modeStr string) error {
	mode, err := hub.ParseDeviceMode(modeStr)
	if err != nil {
		return err
	}
	if err := h.state.SetDeviceMode(deviceID, mode); err != nil {
		return err
	}
	h.afterMutation()
	return nil
}

// SetDeviceStatic sets a device's static values and immediately publishes
// them.
func (h *Handler) SetDeviceStatic(deviceID string, values []int) error {
	if err := h.state.SetStaticValues(deviceID, values); err != nil {
		return err
	}
	h.publishDeviceStatic(deviceID)
	h.afterMutation()
	return nil
}

// SetDeviceFast sets a device's realtime fast values (consumed by the
// fast streamer's next tick; not published over pub/sub).
func (h *Handler) SetDeviceFast(deviceID string, values []int) error {
	if err := h.state.SetFastValues(deviceID, values); err != nil {
		return err
	}
	h.afterMutation()
	return nil
}

// SetDevicePlannedPlan assigns (or clears, with "") a device's plan.
func (h *Handler) SetDevicePlannedPlan(deviceID, planID string) error {
	if planID != "" {
		if _, err := h.planStore.Load(planID); err != nil {
			if err == plans.ErrNotFound {
				return hub.ErrNotFound
			}
			return fmt.Errorf("load plan %s: %w", planID, err)
		}
	}
	if err := h.state.SetDevicePlan(deviceID, planID); err != nil {
		return err
	}
	h.afterMutation()
	return nil
}

// SetDeviceFastModeType sets a device's own fast-mode source.
func (h *Handler) SetDeviceFastModeType(deviceID, t string) error {
	typ, err := hub.ParseFastModeType(t)
	if err != nil {
		return err
	}
	if err := h.state.SetDeviceFastModeType(deviceID, typ); err != nil {
		return err
	}
	h.afterMutation()
	return nil
}

// --- Room commands ---

// SetRoomControlMode switches a room between AUTO and MANUAL.
func (h *Handler) SetRoomControlMode(room, controlModeStr string) error {
	mode, err := hub.ParseRoomControlMode(controlModeStr)
	if err != nil {
		return err
	}
	if err := h.state.SetRoomControlMode(room, mode); err != nil {
		return err
	}
	if mode == hub.ControlAuto {
		h.publishRoomStatic(room)
	}
	h.afterRoomMutation()
	return nil
}

// SetRoomMode sets a room's shared operating mode.
func (h *Handler) SetRoomMode(room, modeStr string) error {
	mode, err := hub.ParseDeviceMode(modeStr)
	if err != nil {
		return err
	}
	if err := h.state.SetRoomMode(room, mode); err != nil {
		return err
	}
	h.afterRoomMutation()
	return nil
}

// SetRoomStatic sets a room's shared static values, then publishes every
// device in the room its effective static values (the room's values in an
// AUTO room, each device's own values in a MANUAL room).
func (h *Handler) SetRoomStatic(room string, values []int) error {
	if err := h.state.SetRoomStaticValues(room, values); err != nil {
		return err
	}
	h.publishRoomStatic(room)
	h.afterRoomMutation()
	return nil
}

func (h *Handler) publishRoomStatic(room string) {
	for _, deviceID := range h.devicesInRoom(room) {
		h.publishDeviceStatic(deviceID)
	}
}

// SetRoomPlannedPlan sets a room's shared plan assignment.
func (h *Handler) SetRoomPlannedPlan(room, planID string) error {
	if planID != "" {
		if _, err := h.planStore.Load(planID); err != nil {
			if err == plans.ErrNotFound {
				return hub.ErrNotFound
			}
			return fmt.Errorf("load plan %s: %w", planID, err)
		}
	}
	if err := h.state.SetRoomPlannedPlan(room, planID); err != nil {
		return err
	}
	h.afterRoomMutation()
	return nil
}

// SetRoomFastModeType sets a room's shared fast-mode source.
func (h *Handler) SetRoomFastModeType(room, t string) error {
	typ, err := hub.ParseFastModeType(t)
	if err != nil {
		return err
	}
	if err := h.state.SetRoomFastModeType(room, typ); err != nil {
		return err
	}
	h.afterRoomMutation()
	return nil
}

// --- Queries (pass-through, kept here so HTTP handlers stay thin) ---

func (h *Handler) AllDevices() []hub.DeviceSnapshot    { return h.state.GetAllDeviceStatus() }
func (h *Handler) AllRoomsControl() []hub.RoomSnapshot { return h.state.GetAllRoomControlStatus() }

func (h *Handler) Device(deviceID string) (hub.DeviceSnapshot, error) {
	return h.state.GetDeviceStatus(deviceID)
}

// --- Plan commands ---

func (h *Handler) ListPlans() ([]plans.PlanMetadata, error) {
	return h.planStore.List()
}

func (h *Handler) LoadPlan(planID string) (*plans.Plan, error) {
	return h.planCache.Get(planID)
}

func (h *Handler) SavePlan(input *plans.PlanInput, planID string) (*plans.Plan, error) {
	plan, err := h.planStore.Save(input, planID)
	if err != nil {
		return nil, err
	}
	h.planCache.Invalidate(plan.PlanID)
	return plan, nil
}

func (h *Handler) DeletePlan(planID string) error {
	if err := h.planStore.Delete(planID); err != nil {
		return err
	}
	h.planCache.Invalidate(planID)
	return nil
}
