// SPDX-License-Identifier: BSD-3-Clause
// Copyright (c) 2025 Pierre Jay

package hwmode

import "testing"

func TestGetOrDefaultFallsBackToDefault(t *testing.T) {
	m := GetOrDefault("unknown_mode")
	if m.ID != DefaultMode {
		t.Errorf("expected fallback to %s, got %s", DefaultMode, m.ID)
	}
}

func TestChannelsForKnownModes(t *testing.T) {
	cases := map[string]int{"4ch_v1": 4, "2ch_v1": 2, "rgb_v1": 3}
	for id, want := range cases {
		if got := Channels(id); got != want {
			t.Errorf("Channels(%s) = %d, want %d", id, got, want)
		}
	}
}

func TestStreamIDRoundTrip(t *testing.T) {
	for _, m := range List() {
		id, ok := StreamID(m.ID)
		if !ok {
			t.Fatalf("StreamID(%s) not found", m.ID)
		}
		back, ok := FromStreamID(id)
		if !ok || back != m.ID {
			t.Errorf("FromStreamID(%d) = %s, want %s", id, back, m.ID)
		}
	}
}
