package ffmpeg

import (
	"errors"
	"os"
)

var ErrTranscode = errors.New("transcode failed")

type Config struct {
	TmpDir     string `yaml:"tmp_dir" env:"TMP_DIR"`
	FfmpegBin  string `yaml:"ffmpeg_bin" env:"FFMPEG_BIN"`
	FfprobeBin string `yaml:"ffprobe_bin" env:"FFPROBE_BIN"`
	SampleRate int    `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

type Client struct {
	cfg *Config
}

func New(cfg *Config) *Client {
	if cfg == nil {
		cfg = &Config{}
	}
	return &Client{
		cfg: cfg,
	}
}

func (c *Client) TmpDir() string {
	if c == nil || c.cfg == nil || c.cfg.TmpDir == "" {
		return os.TempDir()
	}
	return c.cfg.TmpDir
}

func (c *Client) ffmpegBin() string {
	if c.cfg.FfmpegBin == "" {
		return "ffmpeg"
	}
	return c.cfg.FfmpegBin
}

func (c *Client) ffprobeBin() string {
	if c.cfg.FfprobeBin == "" {
		return "ffprobe"
	}
	return c.cfg.FfprobeBin
}

// SampleRate is the rate every working WAV file is resampled to.
func (c *Client) SampleRate() int {
	if c.cfg.SampleRate <= 0 {
		return 44100
	}
	return c.cfg.SampleRate
}

const prefix = "voicestudio_"
