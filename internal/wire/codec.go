// SPDX-License-Identifier: BSD-3-Clause
// Copyright (c) 2025 Pierre Jay

// Package wire implements the LED datagram wire format: a 3-byte ASCII
// header "LED", a version byte, and either a single channel vector (v1)
// or a set of per-stream channel vectors (v2).
package wire

import (
	"errors"
	"fmt"

	"lighting-hub/internal/hwmode"
)

// Header is the fixed 3-byte ASCII prefix of every LED packet.
var Header = [3]byte{'L', 'E', 'D'}

const (
	// Version1 is the single-stream packet format.
	Version1 byte = 1
	// Version2 is the multi-stream packet format.
	Version2 byte = 2
)

// ErrMalformed is returned (wrapped) for any packet that fails the header,
// length, or truncation checks in §4.A.
var ErrMalformed = errors.New("malformed LED packet")

// Packet is the decoded value of a v1 packet: a single channel vector.
type Packet struct {
	Values []byte
}

// MultiPacket is the decoded value of a v2 packet: one channel vector per
// known stream id (1=4ch_v1, 2=2ch_v1, 3=rgb_v1). Blocks with an unknown
// stream id are consumed by the decoder but not kept in the map.
type MultiPacket struct {
	Streams map[byte][]byte
}

func clamp(v int) byte {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return byte(v)
}

// EncodeV1 builds a v1 packet from a channel value sequence. Values are
// clamped to [0,255]; the encoder is total — any channel count up to 255
// produces a valid packet.
func EncodeV1(values []int) []byte {
	n := len(values)
	if n > 255 {
		n = 255
	}
	out := make([]byte, 0, 3+1+1+n)
	out = append(out, Header[:]...)
	out = append(out, Version1, byte(n))
	for i := 0; i < n; i++ {
		out = append(out, clamp(values[i]))
	}
	return out
}

// EncodeV1Bytes is EncodeV1 for callers that already hold 0-255 bytes
// (the hot paths in the fast streamer and repeater avoid the int
// conversion).
func EncodeV1Bytes(values []byte) []byte {
	n := len(values)
	if n > 255 {
		n = 255
	}
	out := make([]byte, 0, 3+1+1+n)
	out = append(out, Header[:]...)
	out = append(out, Version1, byte(n))
	out = append(out, values[:n]...)
	return out
}

// DecodeV1 parses a v1 packet, returning ErrMalformed for any header,
// length, or truncation failure.
func DecodeV1(data []byte) (Packet, error) {
	if len(data) < 5 {
		return Packet{}, fmt.Errorf("%w: too short (%d bytes)", ErrMalformed, len(data))
	}
	if [3]byte(data[0:3]) != Header {
		return Packet{}, fmt.Errorf("%w: bad header", ErrMalformed)
	}
	if data[3] != Version1 {
		return Packet{}, fmt.Errorf("%w: unexpected version %d", ErrMalformed, data[3])
	}
	n := int(data[4])
	if len(data) != 5+n {
		return Packet{}, fmt.Errorf("%w: length mismatch, want %d got %d", ErrMalformed, 5+n, len(data))
	}
	values := make([]byte, n)
	copy(values, data[5:5+n])
	return Packet{Values: values}, nil
}

// EncodeV2 builds a v2 packet from a set of stream blocks. Stream ids are
// emitted in ascending order so EncodeV2(DecodeV2(b)) round-trips
// byte-for-byte for well-formed input whose stream ids are all known and
// ascending.
func EncodeV2(streams map[byte][]byte) []byte {
	ids := sortedStreamIDs(streams)
	out := make([]byte, 0, 3+1+1+len(ids)*2)
	out = append(out, Header[:]...)
	out = append(out, Version2, byte(len(ids)))
	for _, id := range ids {
		values := streams[id]
		n := len(values)
		if n > 255 {
			n = 255
		}
		out = append(out, id, byte(n))
		out = append(out, values[:n]...)
	}
	return out
}

func sortedStreamIDs(streams map[byte][]byte) []byte {
	ids := make([]byte, 0, len(streams))
	for id := range streams {
		ids = append(ids, id)
	}
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && ids[j-1] > ids[j]; j-- {
			ids[j-1], ids[j] = ids[j], ids[j-1]
		}
	}
	return ids
}

// DecodeV2 parses a v2 packet. Every stream block is consumed according to
// its declared channel count regardless of whether the stream id is known,
// and blocks with an unknown id are skipped; truncation at any block
// boundary invalidates the whole packet.
func DecodeV2(data []byte) (MultiPacket, error) {
	if len(data) < 5 {
		return MultiPacket{}, fmt.Errorf("%w: too short (%d bytes)", ErrMalformed, len(data))
	}
	if [3]byte(data[0:3]) != Header {
		return MultiPacket{}, fmt.Errorf("%w: bad header", ErrMalformed)
	}
	if data[3] != Version2 {
		return MultiPacket{}, fmt.Errorf("%w: unexpected version %d", ErrMalformed, data[3])
	}
	streamCount := int(data[4])
	streams := make(map[byte][]byte, streamCount)
	off := 5
	for i := 0; i < streamCount; i++ {
		if off+2 > len(data) {
			return MultiPacket{}, fmt.Errorf("%w: truncated stream header at block %d", ErrMalformed, i)
		}
		streamID := data[off]
		n := int(data[off+1])
		off += 2
		if off+n > len(data) {
			return MultiPacket{}, fmt.Errorf("%w: truncated stream values at block %d", ErrMalformed, i)
		}
		values := make([]byte, n)
		copy(values, data[off:off+n])
		if _, known := hwmode.FromStreamID(streamID); known {
			streams[streamID] = values
		}
		off += n
	}
	return MultiPacket{Streams: streams}, nil
}
