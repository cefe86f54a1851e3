// Package pcm provides helpers for 16-bit little-endian PCM audio: sample/byte
// conversion, RMS energy computation, and simple test-signal generation.
//
// Everything in this package is allocation-conscious and safe for concurrent
// use (all functions are pure).
package pcm

import "math"

// BytesLE converts int16 samples to little-endian PCM bytes (2 bytes per sample).
func BytesLE(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}

// SamplesLE converts little-endian PCM bytes to int16 samples. A trailing odd
// byte is ignored.
func SamplesLE(data []byte) []int16 {
	out := make([]int16, len(data)/2)
	for i := range out {
		out[i] = int16(data[i*2]) | int16(data[i*2+1])<<8
	}
	return out
}

// RMS computes the root-mean-square energy of a sample block on the int16
// scale. An empty block has zero energy.
func RMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// Sine generates n mono samples of a sine wave at the given frequency and
// sample rate, scaled by amplitude on the int16 scale. Useful for exercising
// energy gates in tests.
func Sine(n int, freq float64, sampleRate int, amplitude float64) []int16 {
	out := make([]int16, n)
	step := 2 * math.Pi * freq / float64(sampleRate)
	for i := range out {
		v := amplitude * math.Sin(step*float64(i))
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		out[i] = int16(v)
	}
	return out
}
