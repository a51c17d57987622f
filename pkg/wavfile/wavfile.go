// Package wavfile moves PCM WAV files in and out of dsp buffers.
package wavfile

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"time"

	"voicestudio/pkg/dsp"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

var ErrInvalidWav = errors.New("invalid wav file")

const BitDepth = 16

// Decode reads a PCM WAV stream into a planar float buffer.
func Decode(r io.ReadSeeker) (*dsp.Buffer, error) {
	d := wav.NewDecoder(r)
	if !d.IsValidFile() {
		return nil, ErrInvalidWav
	}

	pcm, err := d.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("read pcm: %w", err)
	}
	if pcm.Format == nil || pcm.Format.NumChannels <= 0 {
		return nil, fmt.Errorf("%w: missing format", ErrInvalidWav)
	}

	channels := pcm.Format.NumChannels
	frames := len(pcm.Data) / channels
	buf := dsp.NewBuffer(pcm.Format.SampleRate, channels, frames)

	bitDepth := pcm.SourceBitDepth
	if bitDepth == 0 {
		bitDepth = int(d.BitDepth)
	}
	full := math.Pow(2, float64(bitDepth-1))

	for i := 0; i < frames; i++ {
		for c := 0; c < channels; c++ {
			buf.Channels[c][i] = float64(pcm.Data[i*channels+c]) / full
		}
	}

	return buf, nil
}

func DecodeFile(path string) (*dsp.Buffer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open wav: %w", err)
	}
	defer f.Close()

	buf, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}

	return buf, nil
}

// Encode writes buf as 16 bit PCM. Samples outside [-1, 1] are clipped.
func Encode(w io.WriteSeeker, buf *dsp.Buffer) error {
	channels := buf.NumChannels()
	if channels == 0 || buf.SampleRate <= 0 {
		return fmt.Errorf("%w: empty buffer", ErrInvalidWav)
	}

	full := math.Pow(2, BitDepth-1)
	data := make([]int, buf.Frames()*channels)
	for i := 0; i < buf.Frames(); i++ {
		for c := 0; c < channels; c++ {
			s := math.Max(-1, math.Min(1, buf.Channels[c][i]))
			data[i*channels+c] = int(math.Max(-full, math.Min(full-1, math.Round(s*full))))
		}
	}

	pcm := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: channels, SampleRate: buf.SampleRate},
		Data:           data,
		SourceBitDepth: BitDepth,
	}

	enc := wav.NewEncoder(w, buf.SampleRate, BitDepth, channels, 1)
	if err := enc.Write(pcm); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close wav encoder: %w", err)
	}

	return nil
}

func EncodeFile(path string, buf *dsp.Buffer) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create wav: %w", err)
	}

	if err := Encode(f, buf); err != nil {
		f.Close()
		return err
	}

	return f.Close()
}

// Duration reads only the header of a WAV file.
func Duration(path string) (time.Duration, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open wav: %w", err)
	}
	defer f.Close()

	d := wav.NewDecoder(f)
	if !d.IsValidFile() {
		return 0, ErrInvalidWav
	}

	dur, err := d.Duration()
	if err != nil {
		return 0, fmt.Errorf("wav duration: %w", err)
	}

	return dur, nil
}

// Tile repeats buf end to end n times.
func Tile(buf *dsp.Buffer, n int) *dsp.Buffer {
	if n < 1 {
		n = 1
	}

	frames := buf.Frames()
	out := dsp.NewBuffer(buf.SampleRate, buf.NumChannels(), frames*n)
	for c, ch := range buf.Channels {
		for i := 0; i < n; i++ {
			copy(out.Channels[c][i*frames:], ch)
		}
	}

	return out
}
