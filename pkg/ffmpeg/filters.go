package ffmpeg

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path"
	"regexp"
	"strconv"
	"strings"
	"time"

	"voicestudio/pkg/dsp"
	"voicestudio/pkg/wavfile"

	"github.com/google/uuid"
)

const (
	widenFilter    = "pan=stereo|c0=c0|c1=c0"
	collapseFilter = "pan=mono|c0=0.5*c0+0.5*c1"

	chorusDelayMs = 25
	chorusSpeedHz = 0.5
	chorusDepthMs = 2
)

func dbToLinear(db float64) float64 {
	return math.Pow(10, db/20)
}

// buildFilter renders one stage as an ffmpeg filter. Reverb and normalize are
// not plain filters and are handled by the pass that contains them.
func buildFilter(s dsp.Stage) string {
	switch s.Name {
	case dsp.StageHighPass:
		return fmt.Sprintf("highpass=f=%f", s.FreqHz)

	case dsp.StageNoiseGate:
		// range=0 mutes fully once the gate closes
		return fmt.Sprintf("agate=threshold=%f:range=0:attack=1:release=100", dbToLinear(s.GainDb))

	case dsp.StageDeEsser, dsp.StageTreble:
		return fmt.Sprintf("highshelf=f=%f:g=%f", s.FreqHz, s.GainDb)

	case dsp.StageBass:
		return fmt.Sprintf("lowshelf=f=%f:g=%f", s.FreqHz, s.GainDb)

	case dsp.StageDrive:
		return fmt.Sprintf("volume=%fdB,asoftclip=type=tanh", s.GainDb)

	case dsp.StagePitch:
		return fmt.Sprintf("rubberband=pitch=%f", math.Pow(2, s.Semitones/12))

	case dsp.StageCompressor:
		return fmt.Sprintf("acompressor=threshold=%f:ratio=%f:attack=1:release=100", dbToLinear(s.GainDb), s.Ratio)

	case dsp.StageChorus:
		return fmt.Sprintf("chorus=1:1:%d:%f:%f:%d", chorusDelayMs, s.Mix, chorusSpeedHz, chorusDepthMs)

	case dsp.StageEcho:
		return fmt.Sprintf("aecho=1:1:%d:%f", s.Delay.Milliseconds(), s.Mix)

	case dsp.StageGain:
		return fmt.Sprintf("volume=%fdB", s.GainDb)

	case dsp.StageLimiter:
		return fmt.Sprintf("asoftclip=type=hard:threshold=%f", dbToLinear(s.GainDb))

	default:
		return ""
	}
}

// graph is one ffmpeg pass over a run of stages. Filters before the reverb
// send go to pre, everything after the wet/dry mix goes to post.
type graph struct {
	pre, post  []string
	reverb     *dsp.Stage
	irChannels int
}

// buildGraph lays out stages for an input with the given channel count. Mono
// input is widened to stereo around chorus and reverb and collapsed right after.
func buildGraph(stages []dsp.Stage, channels int) *graph {
	g := &graph{irChannels: channels}

	first, last := -1, -1
	if channels == 1 {
		for i, s := range stages {
			if s.Name != dsp.StageChorus && s.Name != dsp.StageReverb {
				continue
			}
			if first < 0 {
				first = i
			}
			last = i
		}
	}
	if first >= 0 {
		g.irChannels = 2
	}

	cur := &g.pre
	for i := range stages {
		if i == first {
			*cur = append(*cur, widenFilter)
		}

		if stages[i].Name == dsp.StageReverb {
			g.reverb = &stages[i]
			cur = &g.post
		} else {
			*cur = append(*cur, buildFilter(stages[i]))
		}

		if i == last {
			*cur = append(*cur, collapseFilter)
		}
	}

	return g
}

func (g *graph) chain() string {
	if len(g.pre) == 0 {
		return "anull"
	}
	return strings.Join(g.pre, ",")
}

// complex is the filter_complex for a pass with reverb: the signal is split,
// one copy is convolved with the impulse response on input 1, and the wet copy
// is added back on top of the dry one.
func (g *graph) complex() string {
	send := strings.Join(append(append([]string(nil), g.pre...), "asplit=2"), ",")

	var post string
	if len(g.post) > 0 {
		post = "," + strings.Join(g.post, ",")
	}

	return fmt.Sprintf("[0:a]%s[dry][send];[send][1:a]afir[wet];"+
		"[dry][wet]amix=inputs=2:duration=first:dropout_transition=0:weights=1 %f:normalize=0%s[out]",
		send, g.reverb.Mix, post)
}

// runPass applies stages to inputPath in one ffmpeg run, writing a WAV with the given codec.
func (c *Client) runPass(ctx context.Context, inputPath, outputPath string, stages []dsp.Stage, in *StreamInfo, codec string) error {
	g := buildGraph(stages, in.Channels)

	args := []string{"-i", inputPath}
	if g.reverb != nil {
		irPath := path.Join(c.TmpDir(), prefix+uuid.NewString()+".wav")
		defer os.Remove(irPath)

		ir := dsp.ImpulseResponse(in.SampleRate, g.irChannels, g.reverb.Room)
		if err := wavfile.EncodeFile(irPath, ir); err != nil {
			return fmt.Errorf("write impulse response: %w", err)
		}

		args = append(args, "-i", irPath, "-filter_complex", g.complex(), "-map", "[out]")
	} else {
		args = append(args, "-af", g.chain())
	}

	args = append(args, "-acodec", codec, "-f", "wav", outputPath)

	return c.run(ctx, args...)
}

var peakLevel = regexp.MustCompile(`Peak level dB:\s*(\S+)`)

// peakDb measures the loudest sample of a file with astats. Silence is -Inf.
func (c *Client) peakDb(ctx context.Context, inputPath string) (float64, error) {
	var stderr bytes.Buffer

	cmd := exec.CommandContext(ctx, c.ffmpegBin(), "-nostats", "-i", inputPath, "-af", "astats", "-f", "null", "-")
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return 0, fmt.Errorf("%w: measure peak: %w: %s", ErrTranscode, err, stderr.String())
	}

	// per channel sections come first, the overall one is last
	matches := peakLevel.FindAllStringSubmatch(stderr.String(), -1)
	if len(matches) == 0 {
		return 0, fmt.Errorf("%w: astats printed no peak level", ErrTranscode)
	}

	peak, err := strconv.ParseFloat(matches[len(matches)-1][1], 64)
	if err != nil {
		return 0, fmt.Errorf("%w: parse peak level: %w", ErrTranscode, err)
	}

	return peak, nil
}

// ApplyEffects runs a WAV file through plan and writes 16 bit PCM to outputPath.
// Normalization depends on the peak of everything before it, so a plan that
// normalizes runs in two passes with a float intermediate in between.
func (c *Client) ApplyEffects(ctx context.Context, inputPath, outputPath string, plan *dsp.Plan) error {
	if len(plan.Stages) == 0 {
		return copyFile(inputPath, outputPath)
	}

	start := time.Now()
	defer func() {
		metrics.ChainSeconds.Observe(time.Since(start).Seconds())
	}()

	if err := c.applyEffects(ctx, inputPath, outputPath, plan); err != nil {
		metrics.Errors.WithLabelValues("ffmpeg").Inc()
		return fmt.Errorf("%w: %w", dsp.ErrEffectProcessing, err)
	}

	for _, name := range plan.Names() {
		metrics.StageRuns.WithLabelValues(name).Inc()
	}

	return nil
}

func (c *Client) applyEffects(ctx context.Context, inputPath, outputPath string, plan *dsp.Plan) error {
	in, err := c.StreamInfo(ctx, inputPath)
	if err != nil {
		return err
	}
	if in.Channels == 0 || in.SampleRate == 0 {
		return fmt.Errorf("%w: %s has no usable audio stream", ErrTranscode, inputPath)
	}

	tmp := path.Join(c.TmpDir(), prefix+uuid.NewString()+".wav")
	defer os.Remove(tmp)

	head, tail, normalize := plan.Split(dsp.StageNormalize)
	if !normalize {
		if err := c.runPass(ctx, inputPath, tmp, head, in, "pcm_s16le"); err != nil {
			return err
		}
		return moveFile(tmp, outputPath)
	}

	mid := path.Join(c.TmpDir(), prefix+uuid.NewString()+".wav")
	defer os.Remove(mid)

	if err := c.runPass(ctx, inputPath, mid, head, in, "pcm_f32le"); err != nil {
		return err
	}

	peak, err := c.peakDb(ctx, mid)
	if err != nil {
		return err
	}

	// silent input stays silent
	if !math.IsInf(peak, -1) {
		tail = append([]dsp.Stage{{Name: dsp.StageGain, GainDb: -peak}}, tail...)
	}

	if err := c.runPass(ctx, mid, tmp, tail, in, "pcm_s16le"); err != nil {
		return err
	}

	return moveFile(tmp, outputPath)
}

// Render decodes src into a working rate WAV at dst and, when cfg is set,
// runs it through the effect chain. The config is checked before ffmpeg runs.
func (c *Client) Render(ctx context.Context, src, dst string, cfg *dsp.Config) error {
	if cfg == nil {
		return c.ToWav(ctx, src, dst)
	}

	plan, err := dsp.NewPlan(*cfg, c.SampleRate())
	if err != nil {
		return err
	}

	tmp := path.Join(c.TmpDir(), prefix+uuid.NewString()+".wav")
	defer os.Remove(tmp)

	if err := c.ToWav(ctx, src, tmp); err != nil {
		return err
	}

	return c.ApplyEffects(ctx, tmp, dst, plan)
}
