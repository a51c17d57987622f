package dsp

import (
	"fmt"
	"time"
)

const (
	StageHighPass   = "highpass"
	StageNoiseGate  = "noise_gate"
	StageDeEsser    = "deesser"
	StageDrive      = "drive"
	StagePitch      = "pitch"
	StageBass       = "bass"
	StageTreble     = "treble"
	StageCompressor = "compressor"
	StageChorus     = "chorus"
	StageEcho       = "echo"
	StageReverb     = "reverb"
	StageNormalize  = "normalize"
	StageGain       = "gain"
	StageLimiter    = "limiter"
)

const (
	deEsserFreq       = 5000.0
	deEsserGainDb     = -8.0
	bassFreq          = 400.0
	trebleFreq        = 3000.0
	gateFloorDb       = -45.0
	gateStrictFloorDb = -40.0
	limiterCeilingDb  = -1.0
	echoDelay         = 250 * time.Millisecond
	reverbWet         = 0.15
)

// Stage is one enabled step of the chain with its settings resolved from a Config.
// Only the fields the stage uses are set.
type Stage struct {
	Name string

	FreqHz float64
	// GainDb is the shelf gain, drive, gain, gate floor, compressor threshold or limiter ceiling.
	GainDb    float64
	Ratio     float64
	Semitones float64
	// Mix is the wet level of chorus, echo and reverb.
	Mix   float64
	Room  float64
	Delay time.Duration
}

type stage struct {
	name    string
	enabled func(c *Config) bool
	resolve func(c *Config) Stage
}

// stages run in this exact order. Volume gain comes before the limiter so the
// limiter always has the last word on the peak level.
var stages = []stage{
	{
		name:    StageHighPass,
		enabled: func(c *Config) bool { return c.HighPassCutoffHz > 0 },
		resolve: func(c *Config) Stage { return Stage{FreqHz: c.HighPassCutoffHz} },
	},
	{
		name:    StageNoiseGate,
		enabled: func(c *Config) bool { return true },
		resolve: func(c *Config) Stage {
			if c.Gate {
				return Stage{GainDb: gateStrictFloorDb}
			}
			return Stage{GainDb: gateFloorDb}
		},
	},
	{
		name:    StageDeEsser,
		enabled: func(c *Config) bool { return c.DeEsser },
		resolve: func(c *Config) Stage { return Stage{FreqHz: deEsserFreq, GainDb: deEsserGainDb} },
	},
	{
		name:    StageDrive,
		enabled: func(c *Config) bool { return c.DriveDb > 0 },
		resolve: func(c *Config) Stage { return Stage{GainDb: c.DriveDb} },
	},
	{
		name:    StagePitch,
		enabled: func(c *Config) bool { return c.PitchSemitoneShift != 0 },
		resolve: func(c *Config) Stage { return Stage{Semitones: c.Semitones()} },
	},
	{
		name:    StageBass,
		enabled: func(c *Config) bool { return c.BassGainDb > 0 },
		resolve: func(c *Config) Stage { return Stage{FreqHz: bassFreq, GainDb: c.BassGainDb} },
	},
	{
		name:    StageTreble,
		enabled: func(c *Config) bool { return c.TrebleGainDb > 0 },
		resolve: func(c *Config) Stage { return Stage{FreqHz: trebleFreq, GainDb: c.TrebleGainDb} },
	},
	{
		name:    StageCompressor,
		enabled: func(c *Config) bool { return c.CompressorRatio > 1 },
		resolve: func(c *Config) Stage {
			return Stage{GainDb: c.CompressorThresholdDb, Ratio: c.CompressorRatio}
		},
	},
	{
		name:    StageChorus,
		enabled: func(c *Config) bool { return c.ChorusMix > 0 },
		resolve: func(c *Config) Stage { return Stage{Mix: c.ChorusMix / 100} },
	},
	{
		name:    StageEcho,
		enabled: func(c *Config) bool { return c.EchoMix > 0 },
		resolve: func(c *Config) Stage { return Stage{Mix: c.EchoMix / 300, Delay: echoDelay} },
	},
	{
		name:    StageReverb,
		enabled: func(c *Config) bool { return c.ReverbAmount > 0 },
		resolve: func(c *Config) Stage { return Stage{Room: c.ReverbAmount / 100, Mix: reverbWet} },
	},
	{
		name:    StageNormalize,
		enabled: func(c *Config) bool { return c.Normalize },
		resolve: func(c *Config) Stage { return Stage{} },
	},
	{
		name:    StageGain,
		enabled: func(c *Config) bool { return c.VolumeGain != 0 },
		resolve: func(c *Config) Stage { return Stage{GainDb: c.VolumeGain} },
	},
	{
		name:    StageLimiter,
		enabled: func(c *Config) bool { return c.Limiter },
		resolve: func(c *Config) Stage { return Stage{GainDb: limiterCeilingDb} },
	},
}

// StageNames lists the chain stages in processing order.
func StageNames() []string {
	names := make([]string, len(stages))
	for i, s := range stages {
		names[i] = s.name
	}
	return names
}

// EnabledStages lists the stages that are not a no-op for cfg.
func EnabledStages(cfg Config) []string {
	var names []string
	for _, s := range stages {
		if s.enabled(&cfg) {
			names = append(names, s.name)
		}
	}
	return names
}

// Plan is the ordered list of stages a config enables at one sample rate.
type Plan struct {
	SampleRate int
	Stages     []Stage
}

// NewPlan validates cfg and resolves its enabled stages. Filter stages whose
// corner frequency is at or above Nyquist fail with a ParamError naming the stage.
func NewPlan(cfg Config, sampleRate int) (*Plan, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("%w: sample rate %d", ErrEffectProcessing, sampleRate)
	}
	if err := cfg.validateEffects(); err != nil {
		return nil, err
	}

	p := &Plan{SampleRate: sampleRate}
	nyquist := float64(sampleRate) / 2

	for _, s := range stages {
		if !s.enabled(&cfg) {
			continue
		}
		st := s.resolve(&cfg)
		st.Name = s.name
		if st.FreqHz >= nyquist {
			return nil, &ParamError{Param: s.name, Value: st.FreqHz}
		}
		p.Stages = append(p.Stages, st)
	}

	return p, nil
}

// Names lists the plan's stages in order.
func (p *Plan) Names() []string {
	names := make([]string, len(p.Stages))
	for i, s := range p.Stages {
		names[i] = s.Name
	}
	return names
}

// Split cuts the plan around the first stage called name. ok is false when
// the plan has no such stage, in which case head holds every stage.
func (p *Plan) Split(name string) (head, tail []Stage, ok bool) {
	for i, s := range p.Stages {
		if s.Name == name {
			return p.Stages[:i], p.Stages[i+1:], true
		}
	}
	return p.Stages, nil, false
}
