// SPDX-License-Identifier: BSD-3-Clause
// Copyright (c) 2025 Pierre Jay

package wire

import (
	"bytes"
	"testing"
)

func TestEncodeV1Basic(t *testing.T) {
	got := EncodeV1Bytes([]byte{16, 32, 48, 64})
	want := []byte{'L', 'E', 'D', Version1, 4, 16, 32, 48, 64}
	if !bytes.Equal(got, want) {
		t.Errorf("EncodeV1Bytes = % X, want % X", got, want)
	}
}

func TestEncodeV1Clamps(t *testing.T) {
	got := EncodeV1([]int{-5, 300, 128})
	want := []byte{'L', 'E', 'D', Version1, 3, 0, 255, 128}
	if !bytes.Equal(got, want) {
		t.Errorf("EncodeV1 = % X, want % X", got, want)
	}
}

func TestDecodeEncodeV1RoundTrip(t *testing.T) {
	original := EncodeV1Bytes([]byte{1, 2, 3, 4, 5})
	pkt, err := DecodeV1(original)
	if err != nil {
		t.Fatalf("DecodeV1: %v", err)
	}
	back := EncodeV1Bytes(pkt.Values)
	if !bytes.Equal(back, original) {
		t.Errorf("round trip mismatch: % X != % X", back, original)
	}
}

func TestDecodeV1RejectsShortAndBadHeader(t *testing.T) {
	if _, err := DecodeV1([]byte{'L', 'E'}); err == nil {
		t.Error("expected error for too-short packet")
	}
	if _, err := DecodeV1([]byte{'X', 'E', 'D', Version1, 0}); err == nil {
		t.Error("expected error for bad header")
	}
	if _, err := DecodeV1([]byte{'L', 'E', 'D', Version1, 2, 1}); err == nil {
		t.Error("expected error for length mismatch")
	}
}

func TestScenarioOneWireBytes(t *testing.T) {
	// End-to-end scenario: v2 packet, 1 stream, stream_id=1 (4ch_v1),
	// 4 channels, values 16,32,48,64 (G,Y,B,R).
	input := []byte{'L', 'E', 'D', Version2, 1, 1, 4, 16, 32, 48, 64}
	pkt, err := DecodeV2(input)
	if err != nil {
		t.Fatalf("DecodeV2: %v", err)
	}
	values, ok := pkt.Streams[1]
	if !ok {
		t.Fatal("expected stream 1 present")
	}
	if !bytes.Equal(values, []byte{16, 32, 48, 64}) {
		t.Errorf("stream values = % X", values)
	}
}

func TestDecodeV2SkipsUnknownStreamButConsumesLength(t *testing.T) {
	// Two blocks: unknown stream id 99 with 2 channels, then stream 1 with
	// 1 channel. The unknown block is dropped, and its two value bytes are
	// consumed so stream 1 still decodes correctly.
	input := []byte{'L', 'E', 'D', Version2, 2, 99, 2, 9, 9, 1, 1, 7}
	pkt, err := DecodeV2(input)
	if err != nil {
		t.Fatalf("DecodeV2: %v", err)
	}
	if _, ok := pkt.Streams[99]; ok {
		t.Errorf("expected unknown stream skipped, got %v", pkt.Streams[99])
	}
	if !bytes.Equal(pkt.Streams[1], []byte{7}) {
		t.Errorf("stream 1 = %v, want [7]", pkt.Streams[1])
	}
}

func TestDecodeV2TruncatedAborts(t *testing.T) {
	// Declares 2 channels for stream 1 but only supplies 1 byte.
	input := []byte{'L', 'E', 'D', Version2, 1, 1, 2, 9}
	if _, err := DecodeV2(input); err == nil {
		t.Error("expected truncation error")
	}
}

func TestEncodeDecodeV2RoundTrip(t *testing.T) {
	streams := map[byte][]byte{
		1: {1, 2, 3, 4},
		2: {5, 6},
	}
	encoded := EncodeV2(streams)
	pkt, err := DecodeV2(encoded)
	if err != nil {
		t.Fatalf("DecodeV2: %v", err)
	}
	reencoded := EncodeV2(pkt.Streams)
	if !bytes.Equal(encoded, reencoded) {
		t.Errorf("round trip mismatch: % X != % X", reencoded, encoded)
	}
}
