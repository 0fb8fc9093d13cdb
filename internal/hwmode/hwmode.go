// SPDX-License-Identifier: BSD-3-Clause
// Copyright (c) 2025 Pierre Jay

// Package hwmode defines the fixed registry of device hardware modes: the
// channel count and channel semantics of a device class.
package hwmode

// Mode is an immutable hardware mode definition.
type Mode struct {
	ID          string
	Channels    int
	Labels      []string
	Description string
}

// DefaultMode is used when a device's configured hw_mode is unknown or
// omitted (legacy devices).
const DefaultMode = "4ch_v1"

var registry = map[string]Mode{
	"4ch_v1": {
		ID:          "4ch_v1",
		Channels:    4,
		Labels:      []string{"Green", "Yellow", "Blue", "Red"},
		Description: "4-channel dimmer (Green, Yellow, Blue, Red)",
	},
	"2ch_v1": {
		ID:          "2ch_v1",
		Channels:    2,
		Labels:      []string{"Red+Yellow", "Green+Blue"},
		Description: "2-channel dimmer with paired colors (output1=Red+Yellow, output2=Green+Blue)",
	},
	"rgb_v1": {
		ID:          "rgb_v1",
		Channels:    3,
		Labels:      []string{"Red", "Green", "Blue"},
		Description: "RGB LED strip (stub)",
	},
}

// streamIDs fixes the wire stream identifiers used by the v2 packet
// format (§4.A): 1=4ch_v1, 2=2ch_v1, 3=rgb_v1.
var streamIDs = map[string]byte{
	"4ch_v1": 1,
	"2ch_v1": 2,
	"rgb_v1": 3,
}

var streamIDsReverse = map[byte]string{
	1: "4ch_v1",
	2: "2ch_v1",
	3: "rgb_v1",
}

// Get looks up a mode by id.
func Get(id string) (Mode, bool) {
	m, ok := registry[id]
	return m, ok
}

// GetOrDefault looks up a mode by id, falling back to DefaultMode if the id
// is unknown.
func GetOrDefault(id string) Mode {
	if m, ok := registry[id]; ok {
		return m
	}
	return registry[DefaultMode]
}

// Channels returns the channel count for a mode id, defaulting if unknown.
func Channels(id string) int {
	return GetOrDefault(id).Channels
}

// Labels returns the channel labels for a mode id, defaulting if unknown.
func Labels(id string) []string {
	return GetOrDefault(id).Labels
}

// List returns all registered modes, in a stable order (ascending stream
// id, which is also the declaration order above).
func List() []Mode {
	return []Mode{registry["4ch_v1"], registry["2ch_v1"], registry["rgb_v1"]}
}

// StreamID returns the v2 wire stream identifier for a hw_mode, if any.
func StreamID(hwMode string) (byte, bool) {
	id, ok := streamIDs[hwMode]
	return id, ok
}

// FromStreamID maps a v2 wire stream identifier back to a hw_mode id.
func FromStreamID(streamID byte) (string, bool) {
	id, ok := streamIDsReverse[streamID]
	return id, ok
}
