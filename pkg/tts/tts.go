// Package tts wraps external speech synthesis engines behind one interface.
package tts

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrSynthesis = errors.New("synthesis failed")
	ErrEmptyText = errors.New("text must not be empty")
)

// Request carries the prosody as integer offsets: a rate percentage and a pitch in Hz.
type Request struct {
	Text        string
	Voice       string
	RatePercent int
	PitchHz     int
}

func (r Request) Rate() string {
	return fmt.Sprintf("%+d%%", r.RatePercent)
}

func (r Request) Pitch() string {
	return fmt.Sprintf("%+dHz", r.PitchHz)
}

func (r Request) validate() error {
	if strings.TrimSpace(r.Text) == "" {
		return fmt.Errorf("%w: %w", ErrSynthesis, ErrEmptyText)
	}
	if strings.TrimSpace(r.Voice) == "" {
		return fmt.Errorf("%w: voice must not be empty", ErrSynthesis)
	}
	return nil
}

// Synthesizer writes the raw synthesis output (any container ffmpeg can read) to outputPath.
type Synthesizer interface {
	Synthesize(ctx context.Context, req Request, outputPath string) error
}

type Voice struct {
	Name   string `json:"name"`
	Locale string `json:"locale"`
	Gender string `json:"gender"`
}

// VoiceLister is implemented by engines that can enumerate their voices.
type VoiceLister interface {
	Voices(ctx context.Context) ([]Voice, error)
}

// FilterVoices keeps voices whose locale starts with one of the prefixes, e.g. "en" or "vi-VN".
func FilterVoices(voices []Voice, prefixes ...string) []Voice {
	if len(prefixes) == 0 {
		return voices
	}

	var out []Voice
	for _, v := range voices {
		for _, p := range prefixes {
			if strings.HasPrefix(strings.ToLower(v.Locale), strings.ToLower(p)) {
				out = append(out, v)
				break
			}
		}
	}

	return out
}

// localeOf derives "en-US" from "en-US-AriaNeural".
func localeOf(name string) string {
	parts := strings.SplitN(name, "-", 3)
	if len(parts) < 2 {
		return ""
	}
	return parts[0] + "-" + parts[1]
}

var sampleSentences = map[string]string{
	"vi": "Xin chào, đây là giọng nói mẫu.",
	"en": "Hello, this is a sample of my voice.",
	"fr": "Bonjour, ceci est un exemple de ma voix.",
	"de": "Hallo, das ist eine Probe meiner Stimme.",
	"es": "Hola, esta es una muestra de mi voz.",
	"ja": "こんにちは、これは私の声のサンプルです。",
}

// SampleText picks a preview sentence in the language of voice.
func SampleText(voice string) string {
	lang := strings.ToLower(strings.SplitN(voice, "-", 2)[0])
	if s, ok := sampleSentences[lang]; ok {
		return s
	}
	return sampleSentences["en"]
}
