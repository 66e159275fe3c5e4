package capture

import (
	"encoding/binary"
	"math"
	"time"
)

// computeRMS returns the root-mean-square energy of a 16-bit signed
// little-endian PCM buffer. Returns 0 for buffers shorter than one sample.
// The result is expressed in the same units as PCM sample values (0-32767).
func computeRMS(pcm []byte) float64 {
	n := len(pcm) / 2 // number of 16-bit samples
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		sample := int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2]))
		v := float64(sample)
		sum += v * v
	}
	return math.Sqrt(sum / float64(n))
}

// pcmDuration returns the playback duration of a PCM buffer.
func pcmDuration(pcm []byte, sampleRate, channels int) time.Duration {
	if sampleRate <= 0 || channels <= 0 {
		return 0
	}
	bytesPerSec := sampleRate * channels * (bitsPerSample / 8)
	return time.Duration(len(pcm)) * time.Second / time.Duration(bytesPerSec)
}

// pcmToInt16 reinterprets a 16-bit LE PCM byte buffer as samples.
func pcmToInt16(pcm []byte) []int16 {
	n := len(pcm) / 2
	out := make([]int16, n)
	for i := 0; i < n; i++ {
		out[i] = int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2]))
	}
	return out
}
