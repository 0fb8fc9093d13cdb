// SPDX-License-Identifier: BSD-3-Clause
// Copyright (c) 2025 Pierre Jay

// Package plans implements plan validation and JSON file storage for the
// planner (component B): the set of named step sequences a PLANNED device
// or room can be assigned to follow.
package plans

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound marks an unknown plan id (§7b).
var ErrNotFound = errors.New("plan not found")

// ValidMode is the only plan mode currently persistable: "4ch_v1", despite
// the hardware-mode registry (§6) supporting more. Plan authoring hasn't
// caught up to the multi-stream wire format yet, so persisted plans stay
// pinned to the 4-channel shape.
const ValidMode = "4ch_v1"

// ValidModeChannels is the channel count required for ValidMode.
const ValidModeChannels = 4

// ValidationError marks operator-rejected plan data (§7a). HTTP handlers
// map it to a 4xx response without string sniffing.
type ValidationError struct{ Msg string }

func (e *ValidationError) Error() string { return e.Msg }

func validationErrorf(format string, args ...any) *ValidationError {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// PlanMetadata is the lightweight listing view of a plan (no steps).
type PlanMetadata struct {
	PlanID     string `json:"plan_id"`
	Name       string `json:"name"`
	Mode       string `json:"mode"`
	Channels   int    `json:"channels"`
	IntervalMs int    `json:"interval_ms"`
	StepCount  int    `json:"step_count"`
	CreatedAt  int64  `json:"created_at"`
	UpdatedAt  int64  `json:"updated_at"`
}

// Plan is the full, persisted plan definition (§3).
type Plan struct {
	PlanID         string     `json:"plan_id"`
	Name           string     `json:"name"`
	Mode           string     `json:"mode"`
	Channels       int        `json:"channels"`
	IntensityScale string     `json:"intensity_scale"`
	IntervalMs     int        `json:"interval_ms"`
	Steps          [][]int    `json:"steps"`
	CreatedAt      int64      `json:"created_at"`
	UpdatedAt      int64      `json:"updated_at"`
}

// ToMetadata projects a Plan down to its listing view.
func (p *Plan) ToMetadata() PlanMetadata {
	return PlanMetadata{
		PlanID:     p.PlanID,
		Name:       p.Name,
		Mode:       p.Mode,
		Channels:   p.Channels,
		IntervalMs: p.IntervalMs,
		StepCount:  len(p.Steps),
		CreatedAt:  p.CreatedAt,
		UpdatedAt:  p.UpdatedAt,
	}
}

// PlanInput is the operator-supplied payload for creating or updating a
// plan, prior to validation and id/timestamp assignment.
type PlanInput struct {
	Name           string  `json:"name"`
	Mode           string  `json:"mode"`
	Channels       int     `json:"channels,omitempty"`
	IntensityScale string  `json:"intensity_scale,omitempty"`
	IntervalMs     int     `json:"interval_ms"`
	Steps          [][]float64 `json:"steps"`
}

// Validate checks a PlanInput against the rules in §3/§7a. Store.Save
// calls it before writing anything.
func (in *PlanInput) Validate() error {
	if in.Mode != ValidMode {
		return validationErrorf("invalid mode: %q, must be one of: {%s}", in.Mode, ValidMode)
	}
	expectedChannels := ValidModeChannels

	channels := in.Channels
	if channels == 0 {
		channels = expectedChannels
	}
	if channels != expectedChannels {
		return validationErrorf("mode %s requires %d channels, got %d", in.Mode, expectedChannels, channels)
	}

	if in.IntervalMs <= 0 {
		return validationErrorf("interval_ms must be a positive integer, got %d", in.IntervalMs)
	}

	if len(in.Steps) == 0 {
		return validationErrorf("steps must be a non-empty list")
	}
	for i, step := range in.Steps {
		if len(step) != expectedChannels {
			return validationErrorf("step %d must have %d values, got %d", i, expectedChannels, len(step))
		}
		for j, v := range step {
			if v < 0 || v > 100 {
				return validationErrorf("step %d, channel %d: value must be 0-100, got %v", i, j, v)
			}
		}
	}

	name := in.Name
	if len(strings.TrimSpace(name)) == 0 {
		return validationErrorf("name must be a non-empty string")
	}
	if len(name) > 100 {
		return validationErrorf("name must be 100 characters or less")
	}

	return nil
}
