package tts

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/mattn/go-shellwords"
	"golang.org/x/time/rate"
)

const (
	DefaultCommand       = "edge-tts --voice {voice} --rate={rate} --pitch={pitch} --text {text} --write-media {out}"
	DefaultVoicesCommand = "edge-tts --list-voices"
)

type ExecConfig struct {
	Command           string        `yaml:"command" env:"COMMAND"`
	VoicesCommand     string        `yaml:"voices_command" env:"VOICES_COMMAND"`
	Timeout           time.Duration `yaml:"timeout" env:"TIMEOUT"`
	RequestsPerSecond float64       `yaml:"requests_per_second" env:"REQUESTS_PER_SECOND"`
}

// ExecSynthesizer runs a command line engine. Placeholders are substituted
// after the command is split, so text never goes through a shell.
type ExecSynthesizer struct {
	cmd       []string
	voicesCmd []string
	timeout   time.Duration
	limiter   *rate.Limiter
}

var _ Synthesizer = &ExecSynthesizer{}
var _ VoiceLister = &ExecSynthesizer{}

func NewExecSynthesizer(cfg *ExecConfig) (*ExecSynthesizer, error) {
	command := cfg.Command
	if command == "" {
		command = DefaultCommand
	}
	voicesCommand := cfg.VoicesCommand
	if voicesCommand == "" {
		voicesCommand = DefaultVoicesCommand
	}

	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse tts command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("tts command empty")
	}

	voicesArgs, err := shellwords.NewParser().Parse(voicesCommand)
	if err != nil {
		return nil, fmt.Errorf("parse voices command: %w", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	s := &ExecSynthesizer{
		cmd:       args,
		voicesCmd: voicesArgs,
		timeout:   timeout,
	}
	if cfg.RequestsPerSecond > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}

	return s, nil
}

func (s *ExecSynthesizer) args(req Request, outputPath string) []string {
	r := strings.NewReplacer(
		"{text}", req.Text,
		"{voice}", req.Voice,
		"{rate}", req.Rate(),
		"{pitch}", req.Pitch(),
		"{out}", outputPath,
	)

	out := make([]string, len(s.cmd))
	for i, a := range s.cmd {
		out[i] = r.Replace(a)
	}
	return out
}

func (s *ExecSynthesizer) Synthesize(ctx context.Context, req Request, outputPath string) (err error) {
	if err := req.validate(); err != nil {
		metrics.TTSErrors.WithLabelValues("invalid_request").Inc()
		return err
	}

	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("%w: rate limit: %w", ErrSynthesis, err)
		}
	}

	start := time.Now()
	defer func() {
		metrics.TTSQueryTime.Observe(time.Since(start).Seconds())
		if err != nil {
			metrics.TTSErrors.WithLabelValues("exec").Inc()
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	args := s.args(req, outputPath)

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		os.Remove(outputPath)
		return fmt.Errorf("%w: %s: %w: %s", ErrSynthesis, args[0], err, strings.TrimSpace(stderr.String()))
	}

	if fi, err := os.Stat(outputPath); err != nil || fi.Size() == 0 {
		return fmt.Errorf("%w: engine produced no audio", ErrSynthesis)
	}

	return nil
}

func (s *ExecSynthesizer) Voices(ctx context.Context) ([]Voice, error) {
	if len(s.voicesCmd) == 0 {
		return nil, fmt.Errorf("voices command empty")
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, s.voicesCmd[0], s.voicesCmd[1:]...).Output()
	if err != nil {
		return nil, fmt.Errorf("list voices: %w", err)
	}

	return parseVoiceList(out), nil
}

// parseVoiceList understands both edge-tts outputs: "Name: x" blocks and the
// newer table with a dashed separator line.
func parseVoiceList(out []byte) []Voice {
	var voices []Voice
	var cur *Voice

	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case strings.HasPrefix(line, "Name:"):
			name := strings.TrimSpace(strings.TrimPrefix(line, "Name:"))
			voices = append(voices, Voice{Name: name, Locale: localeOf(name)})
			cur = &voices[len(voices)-1]
		case strings.HasPrefix(line, "Gender:"):
			if cur != nil {
				cur.Gender = strings.TrimSpace(strings.TrimPrefix(line, "Gender:"))
			}
		case strings.Contains(line, ":"), strings.HasPrefix(line, "Name "), strings.HasPrefix(line, "---"):
			continue
		default:
			fields := strings.Fields(line)
			if localeOf(fields[0]) == "" {
				continue
			}
			v := Voice{Name: fields[0], Locale: localeOf(fields[0])}
			if len(fields) > 1 {
				v.Gender = fields[1]
			}
			voices = append(voices, v)
			cur = nil
		}
	}

	return voices
}
