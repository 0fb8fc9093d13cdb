// SPDX-License-Identifier: BSD-3-Clause
// Copyright (c) 2025 Pierre Jay

package planner

import (
	"testing"
)

func TestNextBoundaryGivesFullIntervalSlack(t *testing.T) {
	cases := []struct {
		now, interval, want int64
	}{
		{now: 100, interval: 10, want: 110}, // exactly on a boundary
		{now: 101, interval: 10, want: 120}, // just past a boundary
		{now: 109, interval: 10, want: 120}, // just before the next boundary
	}
	for _, c := range cases {
		got := nextBoundary(c.now, c.interval)
		if got != c.want {
			t.Errorf("nextBoundary(%d, %d) = %d, want %d", c.now, c.interval, got, c.want)
		}
	}
}

func TestScaleStepMapsZeroToHundredOntoFullByteRange(t *testing.T) {
	got := scaleStep([]int{0, 50, 100})
	want := []int{0, 128, 255}
	for i, v := range want {
		if got[i] != v {
			t.Errorf("scaleStep[%d] = %d, want %d", i, got[i], v)
		}
	}
}

// TestPlannerWrapAroundScenario covers a plan with 3 steps,
// steps_per_interval=10, scaled from [0,100] to [0,255]; the cursor must
// wrap modulo plan length and advance by steps_per_interval.
func TestPlannerWrapAroundScenario(t *testing.T) {
	p := &Planner{cursors: make(map[string]int)}

	stepsRaw := [][]int{{0, 0, 0, 0}, {50, 0, 0, 0}, {100, 0, 0, 0}}
	K := len(stepsRaw)
	n := 10

	cursor := p.cursorFor("dev-1", K)
	if cursor != 0 {
		t.Fatalf("initial cursor = %d, want 0", cursor)
	}

	window := make([][]int, n)
	for i := 0; i < n; i++ {
		window[i] = scaleStep(stepsRaw[(cursor+i)%K])
	}
	wantFirstChannel := []int{0, 128, 255, 0, 128, 255, 0, 128, 255, 0}
	for i, v := range wantFirstChannel {
		if window[i][0] != v {
			t.Errorf("window[%d][0] = %d, want %d", i, window[i][0], v)
		}
	}

	p.advanceCursor("dev-1", cursor, n, K)
	next := p.cursorFor("dev-1", K)
	if next != 1 {
		t.Errorf("cursor after advance = %d, want 1 (10 mod 3)", next)
	}
}

func TestBuildV2PayloadFormula(t *testing.T) {
	window := [][]int{{1, 2}, {3, 4}}
	payload := buildV2Payload(100, 50, window)
	if payload.FormatVersion != 2 {
		t.Errorf("format_version = %d, want 2", payload.FormatVersion)
	}
	if payload.Steps[0].TsMs != 100000 {
		t.Errorf("steps[0].ts_ms = %d, want 100000", payload.Steps[0].TsMs)
	}
	if payload.Steps[1].TsMs != 100050 {
		t.Errorf("steps[1].ts_ms = %d, want 100050", payload.Steps[1].TsMs)
	}
}
