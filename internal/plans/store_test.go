// SPDX-License-Identifier: BSD-3-Clause
// Copyright (c) 2025 Pierre Jay

package plans

import (
	"io"
	"log/slog"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(t.TempDir(), testLogger())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return store
}

func okInput() *PlanInput {
	return &PlanInput{
		Name:       "Evening Ramp",
		Mode:       ValidMode,
		IntervalMs: 100,
		Steps:      [][]float64{{0, 0, 0, 0}, {50, 0, 0, 0}, {100, 0, 0, 0}},
	}
}

func TestSaveDerivesIDFromName(t *testing.T) {
	store := newTestStore(t)
	plan, err := store.Save(okInput(), "")
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if plan.PlanID != "evening_ramp" {
		t.Errorf("plan_id = %q, want evening_ramp", plan.PlanID)
	}
	if plan.CreatedAt == 0 || plan.UpdatedAt == 0 {
		t.Error("timestamps should be set")
	}
}

func TestSaveDisambiguatesCollidingNames(t *testing.T) {
	store := newTestStore(t)
	first, err := store.Save(okInput(), "")
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	second, err := store.Save(okInput(), "")
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if first.PlanID == second.PlanID {
		t.Error("colliding names should disambiguate to distinct plan ids")
	}
	if second.PlanID != "evening_ramp_1" {
		t.Errorf("plan_id = %q, want evening_ramp_1", second.PlanID)
	}
}

func TestSavePreservesCreatedAtOnUpdate(t *testing.T) {
	store := newTestStore(t)
	original, err := store.Save(okInput(), "")
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	time.Sleep(10 * time.Millisecond)

	updated := okInput()
	updated.Name = "Evening Ramp v2"
	plan, err := store.Save(updated, original.PlanID)
	if err != nil {
		t.Fatalf("Save update: %v", err)
	}
	if plan.CreatedAt != original.CreatedAt {
		t.Errorf("created_at = %d, want preserved %d", plan.CreatedAt, original.CreatedAt)
	}
	if plan.UpdatedAt < original.UpdatedAt {
		t.Error("updated_at should not go backwards")
	}
}

// TestValidationScenarioFive covers a 4ch_v1 plan whose steps carry only
// 3 values per step failing validation, as does a plan with
// interval_ms=0.
func TestValidationScenarioFive(t *testing.T) {
	store := newTestStore(t)

	badSteps := &PlanInput{
		Name:       "ok",
		Mode:       "4ch_v1",
		IntervalMs: 100,
		Steps:      [][]float64{{0, 0, 0}},
	}
	if _, err := store.Save(badSteps, ""); err == nil {
		t.Error("expected validation error for 3-value step under 4ch_v1")
	}

	badInterval := okInput()
	badInterval.IntervalMs = 0
	if _, err := store.Save(badInterval, ""); err == nil {
		t.Error("expected validation error for interval_ms=0")
	}
}

func TestValidationRoundsHalvesToNearest(t *testing.T) {
	store := newTestStore(t)
	in := okInput()
	in.Steps = [][]float64{{0.5, 1.5, 2.5, 99.5}}
	plan, err := store.Save(in, "")
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	want := []int{1, 2, 3, 100}
	for i, v := range want {
		if plan.Steps[0][i] != v {
			t.Errorf("step[0][%d] = %d, want %d", i, plan.Steps[0][i], v)
		}
	}
}

func TestDeleteAndNotFound(t *testing.T) {
	store := newTestStore(t)
	plan, err := store.Save(okInput(), "")
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := store.Delete(plan.PlanID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.Load(plan.PlanID); err != ErrNotFound {
		t.Errorf("Load after delete = %v, want ErrNotFound", err)
	}
	if err := store.Delete("never-existed"); err != ErrNotFound {
		t.Errorf("Delete unknown = %v, want ErrNotFound", err)
	}
}

func TestListOrdersNewestFirst(t *testing.T) {
	store := newTestStore(t)
	a, err := store.Save(okInput(), "")
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	time.Sleep(1100 * time.Millisecond) // UpdatedAt has 1-second resolution
	b := okInput()
	b.Name = "Later Plan"
	second, err := store.Save(b, "")
	if err != nil {
		t.Fatalf("Save: %v", err)
	}

	list, err := store.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("List len = %d, want 2", len(list))
	}
	if list[0].PlanID != second.PlanID {
		t.Errorf("List[0] = %q, want most-recently-updated %q", list[0].PlanID, second.PlanID)
	}
	_ = a
}
