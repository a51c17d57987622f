package dsp

import (
	"math"
	"math/rand"
)

const (
	minDecay = 0.3
	maxDecay = 3.0
	irPeak   = 0.9
)

// ImpulseResponse synthesizes a room impulse response for convolution reverb:
// exponentially decaying noise whose decay time grows with room (0..1). Each
// channel uses its own fixed seed so the result is reproducible and stereo
// channels stay decorrelated.
func ImpulseResponse(sampleRate, channels int, room float64) *Buffer {
	room = math.Min(math.Max(room, 0), 1)
	decay := minDecay + (maxDecay-minDecay)*room
	frames := int(decay * float64(sampleRate))

	buf := NewBuffer(sampleRate, channels, frames)
	for c, ch := range buf.Channels {
		rng := rand.New(rand.NewSource(int64(c + 1)))
		for i := range ch {
			t := float64(i) / float64(sampleRate)
			// -60 dB at t == decay
			ch[i] = (rng.Float64()*2 - 1) * math.Exp(-6.9078*t/decay)
		}
	}

	if peak := buf.Peak(); peak > 0 {
		for _, ch := range buf.Channels {
			for i := range ch {
				ch[i] *= irPeak / peak
			}
		}
	}

	return buf
}
