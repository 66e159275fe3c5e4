package capture

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"layeh.com/gopus"
)

// Compile-time assertion that OpusEncoder implements Encoder.
var _ Encoder = (*OpusEncoder)(nil)

const (
	opusFrameMs       = 20
	opusMaxPacketSize = 4000
)

// OpusEncoder compresses PCM into a stream of length-prefixed Opus
// packets. Used when recordings should stay small, e.g. long meetings
// transcribed by a local whisper server that decodes the stream itself.
//
// Stream layout: repeated [uint16 BE packet length][packet bytes], one
// packet per 20 ms frame. The trailing partial frame is zero-padded.
type OpusEncoder struct {
	sampleRate int
	channels   int
	enc        *gopus.Encoder
}

// NewOpusEncoder creates an Opus encoder with the package default stream
// parameters.
func NewOpusEncoder() (*OpusEncoder, error) {
	enc, err := gopus.NewEncoder(DefaultSampleRate, DefaultChannels, gopus.Voip)
	if err != nil {
		return nil, fmt.Errorf("capture: create opus encoder: %w", err)
	}
	return &OpusEncoder{
		sampleRate: DefaultSampleRate,
		channels:   DefaultChannels,
		enc:        enc,
	}, nil
}

// Encode implements Encoder.
func (e *OpusEncoder) Encode(pcm []byte) ([]byte, error) {
	samples := pcmToInt16(pcm)
	frameSize := e.sampleRate * opusFrameMs / 1000 // samples per channel per frame
	frameSamples := frameSize * e.channels

	var out bytes.Buffer
	for off := 0; off < len(samples); off += frameSamples {
		end := off + frameSamples
		frame := samples[off:min(end, len(samples))]
		if len(frame) < frameSamples {
			padded := make([]int16, frameSamples)
			copy(padded, frame)
			frame = padded
		}

		packet, err := e.enc.Encode(frame, frameSize, opusMaxPacketSize)
		if err != nil {
			return nil, fmt.Errorf("capture: opus encode frame at %d: %w", off, err)
		}

		var length [2]byte
		binary.BigEndian.PutUint16(length[:], uint16(len(packet)))
		out.Write(length[:])
		out.Write(packet)
	}
	return out.Bytes(), nil
}

// ContentType implements Encoder.
func (e *OpusEncoder) ContentType() string { return "audio/opus" }

// Ext implements Encoder.
func (e *OpusEncoder) Ext() string { return "opus" }
