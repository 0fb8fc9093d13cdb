// SPDX-License-Identifier: BSD-3-Clause
// Copyright (c) 2025 Pierre Jay

// Package planner implements the planner loop (spec component E): on each
// tick it computes the T+1 scheduling window for every PLANNED device from
// its assigned plan and ships it over the pub/sub client.
package planner

import (
	"encoding/json"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"lighting-hub/internal/config"
	"lighting-hub/internal/hub"
	"lighting-hub/internal/metrics"
	"lighting-hub/internal/mqtt"
	"lighting-hub/internal/plans"
)

// publisher is the subset of the pub/sub client the planner needs,
// narrowed to keep this package testable without a live broker.
type publisher interface {
	PublishPlan(topic string, payload []byte) bool
}

var _ publisher = (*mqtt.Client)(nil)

// Planner runs the planner loop (§4.E) against a shared domain state and
// plan cache.
type Planner struct {
	cfg     config.PlannerConfig
	devices map[string]config.DeviceConfig
	state   *hub.State
	cache   *plans.Cache
	client  publisher
	logger  *slog.Logger

	cursorMu sync.Mutex
	cursors  map[string]int

	running int32
	stopCh  chan struct{}
	done    chan struct{}
}

// New builds a Planner. devices supplies each device's set_plan topic and
// identity; it is keyed by device_id.
func New(cfg config.PlannerConfig, devices map[string]config.DeviceConfig, state *hub.State, cache *plans.Cache, client publisher, logger *slog.Logger) *Planner {
	return &Planner{
		cfg:     cfg,
		devices: devices,
		state:   state,
		cache:   cache,
		client:  client,
		logger:  logger,
		cursors: make(map[string]int),
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start launches the tick loop in the background.
func (p *Planner) Start() {
	go p.loop()
}

// Stop signals the loop to exit and waits for it to finish.
func (p *Planner) Stop() {
	close(p.stopCh)
	<-p.done
}

func (p *Planner) loop() {
	defer close(p.done)

	interval := time.Duration(p.cfg.IntervalSec) * time.Second
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.maybeTick()
		case <-p.stopCh:
			return
		}
	}
}

// maybeTick skips the tick entirely (no catch-up) if the previous tick is
// still running (§4.E tie-break).
func (p *Planner) maybeTick() {
	if !atomic.CompareAndSwapInt32(&p.running, 0, 1) {
		metrics.PlannerTicksTotal.WithLabelValues("skipped_overrun").Inc()
		p.logger.Warn("planner tick skipped, previous tick still running")
		return
	}
	defer atomic.StoreInt32(&p.running, 0)
	p.tick()
	metrics.PlannerTicksTotal.WithLabelValues("ok").Inc()
}

// tick runs one planner iteration (§4.E steps 1-6).
func (p *Planner) tick() {
	deviceIDs := p.state.GetDevicesByMode(hub.ModePlanned)
	if len(deviceIDs) == 0 {
		return
	}

	now := time.Now().UTC()
	tPlus1Sec := nextBoundary(now.Unix(), int64(p.cfg.IntervalSec))

	for _, deviceID := range deviceIDs {
		p.tickDevice(deviceID, tPlus1Sec)
	}
}

// nextBoundary computes ceil(now/interval)*interval + interval (§4.E
// step 2): a grid boundary at least one full interval after now.
func nextBoundary(nowSec, intervalSec int64) int64 {
	if intervalSec <= 0 {
		intervalSec = 1
	}
	ceilBoundary := ((nowSec + intervalSec - 1) / intervalSec) * intervalSec
	return ceilBoundary + intervalSec
}

func (p *Planner) tickDevice(deviceID string, tPlus1Sec int64) {
	dev, ok := p.devices[deviceID]
	if !ok {
		return
	}

	channels, ok := p.state.DeviceChannels(deviceID)
	if !ok {
		return
	}

	window := p.sampleWindow(deviceID, channels)

	var payload []byte
	var err error
	switch p.cfg.PlanPayloadVersion {
	case 1:
		payload, err = json.Marshal(planPayloadV1{
			Timestamp:  tPlus1Sec,
			IntervalMs: p.cfg.IntervalMs,
			Sequence:   window,
		})
	default:
		payload, err = json.Marshal(buildV2Payload(tPlus1Sec, p.cfg.IntervalMs, window))
	}
	if err != nil {
		p.logger.Error("planner marshal failed", "device_id", deviceID, "error", err)
		return
	}

	if ok := p.client.PublishPlan(dev.Topics.SetPlan, payload); !ok {
		p.state.IncrementDeviceError(deviceID)
		metrics.PlannerPublishErrorsTotal.Inc()
	}
}

// sampleWindow assembles steps_per_interval scaled step vectors for one
// device, walking its effective plan (§3 invariant 4) from its persistent
// cursor and wrapping modulo plan length (§4.E step 3, §8 property 6). If
// no plan is assigned or it is missing, it falls back to a window that
// repeats the device's effective static values (already 0-255, unscaled).
func (p *Planner) sampleWindow(deviceID string, channels int) [][]int {
	n := p.cfg.StepsPerInterval
	if n <= 0 {
		n = 1
	}

	planID, _ := p.state.GetEffectivePlan(deviceID)
	var plan *plans.Plan
	if planID != "" {
		if loaded, err := p.cache.Get(planID); err == nil {
			plan = loaded
		}
	}

	if plan == nil || len(plan.Steps) == 0 {
		return p.fallbackWindow(deviceID, channels, n)
	}

	K := len(plan.Steps)
	cursor := p.cursorFor(deviceID, K)

	window := make([][]int, n)
	for i := 0; i < n; i++ {
		step := plan.Steps[(cursor+i)%K]
		window[i] = scaleStep(step)
	}
	p.advanceCursor(deviceID, cursor, n, K)
	return window
}

func scaleStep(step []int) []int {
	out := make([]int, len(step))
	for i, v := range step {
		out[i] = int(math.Round(float64(v) * 255.0 / 100.0))
	}
	return out
}

func (p *Planner) fallbackWindow(deviceID string, channels, n int) [][]int {
	values, err := p.state.GetEffectiveStaticValues(deviceID)
	row := make([]int, channels)
	if err == nil {
		for i := 0; i < channels && i < len(values); i++ {
			row[i] = int(values[i])
		}
	}
	window := make([][]int, n)
	for i := range window {
		window[i] = row
	}
	return window
}

func (p *Planner) cursorFor(deviceID string, planLen int) int {
	p.cursorMu.Lock()
	defer p.cursorMu.Unlock()
	c := p.cursors[deviceID]
	if planLen > 0 {
		c %= planLen
	}
	return c
}

func (p *Planner) advanceCursor(deviceID string, cursor, n, planLen int) {
	p.cursorMu.Lock()
	defer p.cursorMu.Unlock()
	if planLen <= 0 {
		return
	}
	p.cursors[deviceID] = (cursor + n) % planLen
}

// planPayloadV1 is the wire shape of a v1 set_plan payload (§6).
type planPayloadV1 struct {
	Timestamp  int64   `json:"timestamp"`
	IntervalMs int     `json:"interval_ms"`
	Sequence   [][]int `json:"sequence"`
}

// planPayloadV2 is the wire shape of a v2 set_plan payload (§6).
type planPayloadV2 struct {
	FormatVersion int        `json:"format_version"`
	Steps         []stepV2   `json:"steps"`
}

type stepV2 struct {
	TsMs   int64 `json:"ts_ms"`
	Values []int `json:"values"`
}

// buildV2Payload emits ts_ms = (tPlus1Sec)*1000 + i*interval_ms. Windows may
// overlap if interval_ms*steps_per_interval exceeds interval_sec*1000; that
// is a configuration constraint, not something this code corrects.
func buildV2Payload(tPlus1Sec int64, intervalMs int, window [][]int) planPayloadV2 {
	baseMs := tPlus1Sec * 1000
	steps := make([]stepV2, len(window))
	for i, values := range window {
		steps[i] = stepV2{
			TsMs:   baseMs + int64(i*intervalMs),
			Values: values,
		}
	}
	return planPayloadV2{FormatVersion: 2, Steps: steps}
}
