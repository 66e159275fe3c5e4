package capture

import (
	"encoding/binary"
	"fmt"
)

// Compile-time assertion that WAVEncoder implements Encoder.
var _ Encoder = (*WAVEncoder)(nil)

// WAVEncoder wraps raw PCM in a standard RIFF/WAV container. This is the
// default recording format: lossless and accepted by every transcription
// backend.
type WAVEncoder struct {
	SampleRate int
	Channels   int
}

// NewWAVEncoder returns a WAVEncoder with the package default stream
// parameters.
func NewWAVEncoder() *WAVEncoder {
	return &WAVEncoder{SampleRate: DefaultSampleRate, Channels: DefaultChannels}
}

// Encode implements Encoder.
func (e *WAVEncoder) Encode(pcm []byte) ([]byte, error) {
	if e.SampleRate <= 0 || e.Channels <= 0 {
		return nil, fmt.Errorf("capture: invalid wav parameters %d Hz / %d ch", e.SampleRate, e.Channels)
	}

	bps := bitsPerSample
	byteRate := e.SampleRate * e.Channels * bps / 8
	blockAlign := e.Channels * bps / 8
	dataSize := len(pcm)

	buf := make([]byte, 44+dataSize)

	// RIFF chunk descriptor
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize)) // file size - 8
	copy(buf[8:12], "WAVE")

	// fmt sub-chunk
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)                 // sub-chunk size (PCM)
	binary.LittleEndian.PutUint16(buf[20:22], 1)                  // audio format: PCM
	binary.LittleEndian.PutUint16(buf[22:24], uint16(e.Channels)) // num channels
	binary.LittleEndian.PutUint32(buf[24:28], uint32(e.SampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], uint16(bps))

	// data sub-chunk
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	copy(buf[44:], pcm)

	return buf, nil
}

// ContentType implements Encoder.
func (e *WAVEncoder) ContentType() string { return "audio/wav" }

// Ext implements Encoder.
func (e *WAVEncoder) Ext() string { return "wav" }
