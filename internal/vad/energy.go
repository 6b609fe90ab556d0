package vad

import (
	"encoding/binary"
	"math"
)

// RMS returns the root-mean-square energy of signed 16-bit little-endian PCM,
// normalised to full scale (0..1). A trailing odd byte is ignored.
func RMS(pcm []byte) float64 {
	samples := len(pcm) / 2
	if samples == 0 {
		return 0
	}

	var energy float64
	for i := 0; i < samples; i++ {
		sample := float64(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
		energy += sample * sample
	}
	rms := math.Sqrt(energy/float64(samples)) / 32768.0
	if rms > 1 {
		return 1
	}
	return rms
}
