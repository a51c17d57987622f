package dsp

import "time"

// Buffer is a planar floating point waveform. Samples are nominally in [-1, 1].
type Buffer struct {
	SampleRate int
	Channels   [][]float64
}

func NewBuffer(sampleRate, channels, frames int) *Buffer {
	buf := &Buffer{
		SampleRate: sampleRate,
		Channels:   make([][]float64, channels),
	}
	for i := range buf.Channels {
		buf.Channels[i] = make([]float64, frames)
	}

	return buf
}

func (b *Buffer) NumChannels() int {
	return len(b.Channels)
}

// Frames is the number of samples per channel.
func (b *Buffer) Frames() int {
	if len(b.Channels) == 0 {
		return 0
	}
	return len(b.Channels[0])
}

func (b *Buffer) Duration() time.Duration {
	if b.SampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(b.Frames()) / float64(b.SampleRate) * float64(time.Second))
}

// Peak returns the largest absolute sample value across all channels.
func (b *Buffer) Peak() float64 {
	var peak float64
	for _, ch := range b.Channels {
		for _, s := range ch {
			if s < 0 {
				s = -s
			}
			if s > peak {
				peak = s
			}
		}
	}

	return peak
}
