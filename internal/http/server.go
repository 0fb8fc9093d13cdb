// SPDX-License-Identifier: BSD-3-Clause
// Copyright (c) 2025 Pierre Jay

// Package http implements the operator HTTP/WS surface (§6): the REST
// shape over devices, rooms, and plans, plus the duplex /ws push channel.
// Uses a gorilla/websocket upgrader, a buffered-outgoing-channel write
// pump, and a single mux for REST + WS + /metrics.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"lighting-hub/internal/api"
	"lighting-hub/internal/config"
	"lighting-hub/internal/hub"
	"lighting-hub/internal/plans"
	"lighting-hub/internal/planner"
	"lighting-hub/internal/push"
)

var startTime = time.Now()

// Server is the operator HTTP/WebSocket server.
type Server struct {
	cfg         *config.Config
	api         *api.Handler
	broadcaster *push.Broadcaster
	logger      *slog.Logger
	server      *http.Server
	upgrader    websocket.Upgrader
}

// NewServer builds the operator surface and its route table.
func NewServer(cfg *config.Config, apiHandler *api.Handler, broadcaster *push.Broadcaster, logger *slog.Logger) *Server {
	s := &Server{
		cfg:         cfg,
		api:         apiHandler,
		broadcaster: broadcaster,
		logger:      logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/devices", s.handleDevices)
	mux.HandleFunc("GET /api/rooms", s.handleRooms)
	mux.HandleFunc("GET /api/rooms/control", s.handleRoomsControl)

	mux.HandleFunc("GET /api/plans", s.handlePlansList)
	mux.HandleFunc("POST /api/plans", s.handlePlanCreate)
	mux.HandleFunc("GET /api/plans/{id}", s.handlePlanGet)
	mux.HandleFunc("PUT /api/plans/{id}", s.handlePlanUpdate)
	mux.HandleFunc("DELETE /api/plans/{id}", s.handlePlanDelete)

	mux.HandleFunc("POST /api/device/{id}/{field}", s.handleDeviceCommand)
	mux.HandleFunc("POST /api/room/{name}/{field}", s.handleRoomCommand)

	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("/ws", s.handleWebSocket)

	s.server = &http.Server{
		Addr:    cfg.Server.HTTP,
		Handler: mux,
	}

	return s
}

// Start begins serving in the background.
func (s *Server) Start() error {
	s.logger.Info("starting http server", "addr", s.cfg.Server.HTTP)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", "error", err)
		}
	}()
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// ServeHTTP exposes the route table directly, used by tests.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.server.Handler.ServeHTTP(w, r)
}

func (s *Server) jsonResponse(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error string `json:"error"`
}

// writeError maps the error taxonomy (§7) to an HTTP status without
// string sniffing: validation errors are typed, not-found is a sentinel.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var valErr *hub.ValidationError
	var planValErr *plans.ValidationError
	switch {
	case errors.As(err, &valErr):
		s.jsonResponse(w, http.StatusBadRequest, errorBody{Error: valErr.Error()})
	case errors.As(err, &planValErr):
		s.jsonResponse(w, http.StatusBadRequest, errorBody{Error: planValErr.Error()})
	case errors.Is(err, hub.ErrNotFound), errors.Is(err, plans.ErrNotFound):
		s.jsonResponse(w, http.StatusNotFound, errorBody{Error: "not found"})
	default:
		s.jsonResponse(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
	}
}

// --- Read endpoints ---

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, http.StatusOK, s.api.AllDevices())
}

func (s *Server) handleRooms(w http.ResponseWriter, r *http.Request) {
	type roomView struct {
		Name    string   `json:"name"`
		Devices []string `json:"devices"`
	}
	out := make([]roomView, 0, len(s.cfg.Rooms))
	for _, room := range s.cfg.Rooms {
		ids := make([]string, 0, len(room.Devices))
		for _, dev := range room.Devices {
			ids = append(ids, dev.DeviceID)
		}
		out = append(out, roomView{Name: room.Name, Devices: ids})
	}
	s.jsonResponse(w, http.StatusOK, out)
}

func (s *Server) handleRoomsControl(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, http.StatusOK, s.api.AllRoomsControl())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]any{
		"uptime_sec": int(time.Since(startTime).Seconds()),
	})
}

// --- Plans ---

// planCreateRequest folds the supplemented planner.Ease transition helper
// (§ SUPPLEMENTED FEATURES) into plan creation: when "transition" is
// present, its "from"/"to"/"steps"/"ease" fields generate the step list
// instead of the caller supplying one directly.
type planCreateRequest struct {
	plans.PlanInput
	Transition *transitionHelper `json:"transition,omitempty"`
}

type transitionHelper struct {
	From  []int  `json:"from"`
	To    []int  `json:"to"`
	Steps int    `json:"steps"`
	Ease  string `json:"ease"`
}

func (s *Server) decodePlanInput(r *http.Request) (*plans.PlanInput, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	var req planCreateRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, err
	}
	if req.Transition != nil {
		req.PlanInput.Steps = intStepsToFloat(planner.GenerateTransition(
			req.Transition.From, req.Transition.To, req.Transition.Steps, planner.Ease(req.Transition.Ease)))
	}
	return &req.PlanInput, nil
}

func intStepsToFloat(steps [][]int) [][]float64 {
	out := make([][]float64, len(steps))
	for i, step := range steps {
		row := make([]float64, len(step))
		for j, v := range step {
			row[j] = float64(v)
		}
		out[i] = row
	}
	return out
}

func (s *Server) handlePlansList(w http.ResponseWriter, r *http.Request) {
	list, err := s.api.ListPlans()
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, list)
}

func (s *Server) handlePlanGet(w http.ResponseWriter, r *http.Request) {
	plan, err := s.api.LoadPlan(r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, plan)
}

func (s *Server) handlePlanCreate(w http.ResponseWriter, r *http.Request) {
	input, err := s.decodePlanInput(r)
	if err != nil {
		s.jsonResponse(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	plan, err := s.api.SavePlan(input, "")
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, plan)
}

func (s *Server) handlePlanUpdate(w http.ResponseWriter, r *http.Request) {
	input, err := s.decodePlanInput(r)
	if err != nil {
		s.jsonResponse(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	plan, err := s.api.SavePlan(input, r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, plan)
}

func (s *Server) handlePlanDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.api.DeletePlan(r.PathValue("id")); err != nil {
		s.writeError(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- Device/room commands ---

// commandBody is the permissive request shape for every device/room
// command endpoint; each field is read by whichever command applies.
type commandBody struct {
	Mode          string `json:"mode,omitempty"`
	ControlMode   string `json:"control_mode,omitempty"`
	Values        []int  `json:"values,omitempty"`
	PlanID        string `json:"plan_id,omitempty"`
	FastModeType  string `json:"fast_mode_type,omitempty"`
}

func decodeCommandBody(r *http.Request) (commandBody, error) {
	var body commandBody
	if r.Body == nil {
		return body, nil
	}
	data, err := io.ReadAll(r.Body)
	if err != nil || len(data) == 0 {
		return body, err
	}
	err = json.Unmarshal(data, &body)
	return body, err
}

func (s *Server) handleDeviceCommand(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	field := r.PathValue("field")
	body, err := decodeCommandBody(r)
	if err != nil {
		s.jsonResponse(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}

	switch field {
	case "mode":
		err = s.api.SetDeviceMode(id, body.Mode)
	case "static":
		err = s.api.SetDeviceStatic(id, body.Values)
	case "fast":
		err = s.api.SetDeviceFast(id, body.Values)
	case "planned_plan":
		err = s.api.SetDevicePlannedPlan(id, body.PlanID)
	case "fast_mode_type":
		err = s.api.SetDeviceFastModeType(id, body.FastModeType)
	default:
		s.jsonResponse(w, http.StatusNotFound, errorBody{Error: "unknown field: " + field})
		return
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleRoomCommand(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	field := r.PathValue("field")
	body, err := decodeCommandBody(r)
	if err != nil {
		s.jsonResponse(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}

	switch field {
	case "control_mode":
		err = s.api.SetRoomControlMode(name, body.ControlMode)
	case "mode":
		err = s.api.SetRoomMode(name, body.Mode)
	case "static":
		err = s.api.SetRoomStatic(name, body.Values)
	case "planned_plan":
		err = s.api.SetRoomPlannedPlan(name, body.PlanID)
	case "fast_mode_type":
		err = s.api.SetRoomFastModeType(name, body.FastModeType)
	default:
		s.jsonResponse(w, http.StatusNotFound, errorBody{Error: "unknown field: " + field})
		return
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- WebSocket push channel ---

// wsCommand mirrors the POST endpoints for inbound WS commands (§6: "plus
// inbound commands mirroring the POST endpoints").
type wsCommand struct {
	Target string `json:"target"` // "device" or "room"
	ID     string `json:"id"`
	Field  string `json:"field"`
	commandBody
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	updates := s.broadcaster.Subscribe()
	defer s.broadcaster.Unsubscribe(updates)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, message, err := conn.ReadMessage()
			if err != nil {
				return
			}
			s.handleWSCommand(message)
		}
	}()

	for {
		select {
		case data, ok := <-updates:
			if !ok {
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func (s *Server) handleWSCommand(message []byte) {
	var cmd wsCommand
	if err := json.Unmarshal(message, &cmd); err != nil {
		s.logger.Debug("invalid ws command", "error", err)
		return
	}

	var err error
	switch cmd.Target {
	case "device":
		switch cmd.Field {
		case "mode":
			err = s.api.SetDeviceMode(cmd.ID, cmd.Mode)
		case "static":
			err = s.api.SetDeviceStatic(cmd.ID, cmd.Values)
		case "fast":
			err = s.api.SetDeviceFast(cmd.ID, cmd.Values)
		case "planned_plan":
			err = s.api.SetDevicePlannedPlan(cmd.ID, cmd.PlanID)
		case "fast_mode_type":
			err = s.api.SetDeviceFastModeType(cmd.ID, cmd.FastModeType)
		}
	case "room":
		switch cmd.Field {
		case "control_mode":
			err = s.api.SetRoomControlMode(cmd.ID, cmd.ControlMode)
		case "mode":
			err = s.api.SetRoomMode(cmd.ID, cmd.Mode)
		case "static":
			err = s.api.SetRoomStatic(cmd.ID, cmd.Values)
		case "planned_plan":
			err = s.api.SetRoomPlannedPlan(cmd.ID, cmd.PlanID)
		case "fast_mode_type":
			err = s.api.SetRoomFastModeType(cmd.ID, cmd.FastModeType)
		}
	}
	if err != nil {
		s.logger.Debug("ws command failed", "target", cmd.Target, "id", cmd.ID, "field", cmd.Field, "error", err)
	}
}
