// SPDX-License-Identifier: BSD-3-Clause
// Copyright (c) 2025 Pierre Jay

package repeater

import (
	"bytes"
	"testing"
)

// TestAdaptChannelsScenarioOne covers a 2ch_v1 device receiving a
// 4ch_v1-shaped (G,Y,B,R) source of 16,32,48,64: it must see
// out[0]=max(R,Y)=64, out[1]=max(G,B)=48.
func TestAdaptChannelsScenarioOne(t *testing.T) {
	source := []byte{16, 32, 48, 64} // G=16, Y=32, B=48, R=64
	got := adaptChannels("2ch_v1", 2, source)
	want := []byte{64, 48}
	if !bytes.Equal(got, want) {
		t.Errorf("adaptChannels = % X, want % X", got, want)
	}
}

func TestAdaptChannelsTruncatesAndPads(t *testing.T) {
	got := adaptChannels("4ch_v1", 4, []byte{1, 2, 3, 4, 5})
	want := []byte{1, 2, 3, 4}
	if !bytes.Equal(got, want) {
		t.Errorf("truncate: got % X, want % X", got, want)
	}

	got = adaptChannels("4ch_v1", 4, []byte{1, 2})
	want = []byte{1, 2, 0, 0}
	if !bytes.Equal(got, want) {
		t.Errorf("zero-pad: got % X, want % X", got, want)
	}
}

func TestSelectStreamPriorityOrder(t *testing.T) {
	// (a) device's own hw_mode stream wins when present.
	streams := map[byte][]byte{1: {1, 1, 1, 1}, 2: {2, 2}}
	got := selectStream("2ch_v1", streams)
	if !bytes.Equal(got, []byte{2, 2}) {
		t.Errorf("own-stream priority: got %v", got)
	}

	// (b) falls back to 4ch_v1 when the device's own stream is absent.
	got = selectStream("rgb_v1", streams)
	if !bytes.Equal(got, []byte{1, 1, 1, 1}) {
		t.Errorf("4ch_v1 fallback: got %v", got)
	}

	// (c) falls back to the lowest stream id when neither is present.
	onlyOther := map[byte][]byte{5: {9, 9}, 3: {7, 7}}
	got = selectStream("2ch_v1", onlyOther)
	if !bytes.Equal(got, []byte{7, 7}) {
		t.Errorf("lowest-id fallback: got %v, want stream 3's values", got)
	}

	// (d) zero vector (nil) when no streams at all.
	if got := selectStream("rgb_v1", map[byte][]byte{}); got != nil {
		t.Errorf("empty streams: got %v, want nil", got)
	}
}
