// Package preset reads voice presets saved as JSON files. Presets are never
// written here; only fields with the expected type are applied.
package preset

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"

	"voicestudio/pkg/dsp"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

var ErrNotFound = errors.New("preset not found")

// MinVolumeGainDb is what a zero volume slider maps to.
const MinVolumeGainDb = -60.0

// Preset is a sparse set of overrides.
type Preset struct {
	Name     string
	Voice    string
	sliders  map[string]float64
	switches map[string]bool
}

type slider struct {
	// param is the effect parameter the converted value is range checked as.
	param   string
	convert func(v float64) float64
	set     func(c *dsp.Config, v float64)
}

func same(v float64) float64 { return v }

var sliderSetters = map[string]slider{
	"speed":  {"speed", same, func(c *dsp.Config, v float64) { c.Speed = v }},
	"pitch":  {"pitch", same, func(c *dsp.Config, v float64) { c.PitchSemitoneShift = v }},
	"volume": {"volume_gain_db", VolumePercentToDb, func(c *dsp.Config, v float64) { c.VolumeGain = v }},
	"reverb": {"reverb", same, func(c *dsp.Config, v float64) { c.ReverbAmount = v }},
	"bass":   {"bass", same, func(c *dsp.Config, v float64) { c.BassGainDb = v }},
	"treble": {"treble", same, func(c *dsp.Config, v float64) { c.TrebleGainDb = v }},
	"echo":   {"echo", same, func(c *dsp.Config, v float64) { c.EchoMix = v }},
	"chorus": {"chorus", same, func(c *dsp.Config, v float64) { c.ChorusMix = v }},
	"thresh": {"threshold", same, func(c *dsp.Config, v float64) { c.CompressorThresholdDb = v }},
	"ratio":  {"ratio", same, func(c *dsp.Config, v float64) { c.CompressorRatio = v }},
	"drive":  {"drive", same, func(c *dsp.Config, v float64) { c.DriveDb = v }},
}

var sliderAliases = map[string]string{
	"threshold": "thresh",
}

var switchSetters = map[string]func(c *dsp.Config, v bool){
	"limiter":   func(c *dsp.Config, v bool) { c.Limiter = v },
	"normalize": func(c *dsp.Config, v bool) { c.Normalize = v },
	"gate":      func(c *dsp.Config, v bool) { c.Gate = v },
	"deesser":   func(c *dsp.Config, v bool) { c.DeEsser = v },
}

// VolumePercentToDb converts the 0..250 volume slider (100 = unity) to dB.
func VolumePercentToDb(percent float64) float64 {
	if percent <= 0 {
		return MinVolumeGainDb
	}
	return math.Max(MinVolumeGainDb, 20*math.Log10(percent/100))
}

// Apply returns cfg with the preset's fields overwritten.
func (p *Preset) Apply(cfg dsp.Config) dsp.Config {
	for k, v := range p.sliders {
		sliderSetters[k].set(&cfg, v)
	}
	for k, v := range p.switches {
		switchSetters[k](&cfg, v)
	}
	return cfg
}

// Fields lists the keys the preset overrides, sorted.
func (p *Preset) Fields() []string {
	out := append(maps.Keys(p.sliders), maps.Keys(p.switches)...)
	slices.Sort(out)
	return out
}

// Parse decodes a preset document. Only a document that is not a JSON object
// fails; a malformed section, field or out of range slider is logged and skipped.
func Parse(name string, data []byte, logger *slog.Logger) (*Preset, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode preset %s: %w", name, err)
	}

	p := &Preset{
		Name:     name,
		sliders:  map[string]float64{},
		switches: map[string]bool{},
	}

	var sliders map[string]any
	if raw, ok := doc["sliders_cfg"]; ok {
		if err := json.Unmarshal(raw, &sliders); err != nil {
			logger.Warn("malformed preset section", "preset", name, "section", "sliders_cfg", "err", err)
		}
	}

	for k, raw := range sliders {
		if alias, ok := sliderAliases[k]; ok {
			k = alias
		}
		s, ok := sliderSetters[k]
		if !ok {
			logger.Warn("unknown preset slider", "preset", name, "key", k)
			continue
		}
		v, ok := raw.(float64)
		if !ok {
			logger.Warn("malformed preset slider", "preset", name, "key", k, "value", raw)
			continue
		}
		v = s.convert(v)
		if err := dsp.CheckParam(s.param, v); err != nil {
			logger.Warn("preset slider out of range", "preset", name, "key", k, "err", err)
			continue
		}
		p.sliders[k] = v
	}

	var switches map[string]any
	if raw, ok := doc["switches_cfg"]; ok {
		if err := json.Unmarshal(raw, &switches); err != nil {
			logger.Warn("malformed preset section", "preset", name, "section", "switches_cfg", "err", err)
		}
	}

	for k, raw := range switches {
		if _, ok := switchSetters[k]; !ok {
			logger.Warn("unknown preset switch", "preset", name, "key", k)
			continue
		}
		switch v := raw.(type) {
		case bool:
			p.switches[k] = v
		case float64:
			// switches saved from toggle widgets come out as 0/1
			if v != 0 && v != 1 {
				logger.Warn("malformed preset switch", "preset", name, "key", k, "value", raw)
				continue
			}
			p.switches[k] = v == 1
		default:
			logger.Warn("malformed preset switch", "preset", name, "key", k, "value", raw)
		}
	}

	if raw, ok := doc["voice"]; ok {
		var v string
		if err := json.Unmarshal(raw, &v); err == nil && strings.TrimSpace(v) != "" {
			p.Voice = strings.TrimSpace(v)
		} else if string(raw) != "null" {
			logger.Warn("malformed preset voice", "preset", name, "value", string(raw))
		}
	}

	return p, nil
}

type Store struct {
	dir    string
	logger *slog.Logger
}

func NewStore(dir string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		dir:    dir,
		logger: logger,
	}
}

func (s *Store) path(name string) string {
	name = filepath.Base(strings.TrimSuffix(name, ".json"))
	return filepath.Join(s.dir, name+".json")
}

// List returns preset names without the .json suffix.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read presets dir: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), ".json"))
	}
	slices.Sort(names)

	return names, nil
}

func (s *Store) Load(name string) (*Preset, error) {
	data, err := os.ReadFile(s.path(name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, fmt.Errorf("read preset %s: %w", name, err)
	}

	return Parse(strings.TrimSuffix(filepath.Base(name), ".json"), data, s.logger)
}
