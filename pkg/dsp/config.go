package dsp

import (
	"errors"
	"fmt"
	"math"
)

var ErrEffectProcessing = errors.New("effect processing failed")

// ParamError names the effect parameter that made a config or a buffer unusable.
type ParamError struct {
	Param string
	Value float64
}

func (e *ParamError) Error() string {
	return fmt.Sprintf("invalid effect parameter %s=%v", e.Param, e.Value)
}

func (e *ParamError) Unwrap() error {
	return ErrEffectProcessing
}

// Config holds every tunable of the effect chain plus the prosody sliders that
// are handed to speech synthesis. The zero value disables every effect stage.
type Config struct {
	Speed              float64 `yaml:"speed" json:"speed"`
	PitchSemitoneShift float64 `yaml:"pitch" json:"pitch"`
	VolumeGain         float64 `yaml:"volume_gain_db" json:"volume_gain_db"`

	ReverbAmount float64 `yaml:"reverb" json:"reverb"`
	BassGainDb   float64 `yaml:"bass" json:"bass"`
	TrebleGainDb float64 `yaml:"treble" json:"treble"`
	EchoMix      float64 `yaml:"echo" json:"echo"`
	ChorusMix    float64 `yaml:"chorus" json:"chorus"`

	CompressorThresholdDb float64 `yaml:"threshold" json:"threshold"`
	CompressorRatio       float64 `yaml:"ratio" json:"ratio"`

	DriveDb          float64 `yaml:"drive" json:"drive"`
	HighPassCutoffHz float64 `yaml:"highpass" json:"highpass"`

	Gate      bool `yaml:"gate" json:"gate"`
	Limiter   bool `yaml:"limiter" json:"limiter"`
	Normalize bool `yaml:"normalize" json:"normalize"`
	DeEsser   bool `yaml:"deesser" json:"deesser"`
}

// DefaultConfig is what a freshly created segment starts with.
func DefaultConfig() Config {
	return Config{
		Speed:                 1,
		CompressorThresholdDb: -18,
		CompressorRatio:       3.5,
		HighPassCutoffHz:      80,
		Limiter:               true,
		Normalize:             true,
	}
}

type paramRange struct {
	name     string
	value    func(c *Config) float64
	min, max float64
}

var speedRange = paramRange{"speed", func(c *Config) float64 { return c.Speed }, 0.5, 2}

var effectRanges = []paramRange{
	{"pitch", func(c *Config) float64 { return c.PitchSemitoneShift }, -50, 50},
	{"volume_gain_db", func(c *Config) float64 { return c.VolumeGain }, math.Inf(-1), math.Inf(1)},
	{"reverb", func(c *Config) float64 { return c.ReverbAmount }, 0, 100},
	{"bass", func(c *Config) float64 { return c.BassGainDb }, 0, 15},
	{"treble", func(c *Config) float64 { return c.TrebleGainDb }, 0, 15},
	{"echo", func(c *Config) float64 { return c.EchoMix }, 0, 100},
	{"chorus", func(c *Config) float64 { return c.ChorusMix }, 0, 100},
	{"threshold", func(c *Config) float64 { return c.CompressorThresholdDb }, -60, 0},
	// ratios up to 1 turn the compressor off
	{"ratio", func(c *Config) float64 { return c.CompressorRatio }, 0, 20},
	{"drive", func(c *Config) float64 { return c.DriveDb }, 0, math.Inf(1)},
	{"highpass", func(c *Config) float64 { return c.HighPassCutoffHz }, 0, math.Inf(1)},
}

// CheckParam range checks a single value against the parameter named by its
// json key, e.g. CheckParam("reverb", 120) fails.
func CheckParam(name string, v float64) error {
	if name == speedRange.name {
		return speedRange.check(v)
	}
	for _, r := range effectRanges {
		if r.name == name {
			return r.check(v)
		}
	}

	return fmt.Errorf("%w: unknown parameter %s", ErrEffectProcessing, name)
}

// Validate checks every parameter, including the synthesis speed.
func (c *Config) Validate() error {
	if err := speedRange.check(speedRange.value(c)); err != nil {
		return err
	}
	return c.validateEffects()
}

func (c *Config) validateEffects() error {
	for _, r := range effectRanges {
		if err := r.check(r.value(c)); err != nil {
			return err
		}
	}

	return nil
}

func (r paramRange) check(v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < r.min || v > r.max {
		return &ParamError{Param: r.name, Value: v}
	}
	return nil
}

// RatePercent is the speaking rate offset handed to synthesis, e.g. 1.25 -> +25.
func (c *Config) RatePercent() int {
	return int(math.Round((c.Speed - 1) * 100))
}

// PitchHz is the synthesis pitch offset. The slider value is used as Hz directly.
func (c *Config) PitchHz() int {
	return int(math.Round(c.PitchSemitoneShift))
}

// Semitones is the post-synthesis pitch shift; the slider is in tenths of a semitone.
func (c *Config) Semitones() float64 {
	return c.PitchSemitoneShift / 10
}
