package cfg_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"voicestudio/cfg"
	"voicestudio/pkg/dsp"

	"github.com/kylelemons/godebug/pretty"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, data string) string {
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))
	return path
}

func TestLoadOverlaysFileAndEnv(t *testing.T) {
	assert := require.New(t)

	path := writeConfig(t, `
api:
  port: 9000
batch:
  default_voice: vi-VN-HoaiMyNeural
effects:
  reverb: 20
  limiter: false
conversion:
  tau: 0.5
db:
  driver: pgx
  conn_str: postgres://localhost/voicestudio
`)

	t.Setenv("VOICESTUDIO_API_PORT", "9090")
	t.Setenv("VOICESTUDIO_OPENVOICE_TIMEOUT", "90s")
	t.Setenv("VOICESTUDIO_S3_ENDPOINT", "minio:9000")

	got, err := cfg.Load(path)
	assert.NoError(err)

	want := cfg.Default()
	want.Api.Port = 9090
	want.Batch.DefaultVoice = "vi-VN-HoaiMyNeural"
	want.Effects.ReverbAmount = 20
	want.Effects.Limiter = false
	want.Conversion.Tau = 0.5
	want.DB.Driver = "pgx"
	want.DB.ConnStr = "postgres://localhost/voicestudio"
	want.OpenVoice.Timeout = 90 * time.Second
	want.S3.Endpoint = "minio:9000"

	if diff := pretty.Compare(want, got); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadWithoutFile(t *testing.T) {
	got, err := cfg.Load("")
	require.NoError(t, err)

	if diff := pretty.Compare(cfg.Default(), got); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	for name, data := range map[string]string{
		"unknown engine": "tts:\n  engine: espeak\n",
		"http needs url": "tts:\n  engine: http\n",
		"export format":  "batch:\n  export_format: flac\n",
		"effect range":   "effects:\n  speed: 4\n",
		"unknown driver": "db:\n  driver: mysql\n",
		"sample rate":    "ffmpeg:\n  sample_rate: 8000\n",
		"negative rate":  "ffmpeg:\n  sample_rate: -1\n",
		"highpass":       "effects:\n  highpass: 30000\n",
		"broken yaml":    "api: [",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := cfg.Load(writeConfig(t, data))
			require.Error(t, err)
		})
	}

	_, err := cfg.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestExampleConfigLoads(t *testing.T) {
	_, err := cfg.Load("cfg.yaml")
	require.NoError(t, err)
}

func TestValidateSampleRate(t *testing.T) {
	assert := require.New(t)

	c := cfg.Default()
	for _, rate := range []int{0, cfg.MinSampleRate, 48000} {
		c.Ffmpeg.SampleRate = rate
		assert.NoError(c.Validate(), "rate %d", rate)
	}

	c.Ffmpeg.SampleRate = 8000
	assert.ErrorContains(c.Validate(), "ffmpeg.sample_rate 8000")

	// fine at 44.1 kHz, above Nyquist at 16 kHz
	c.Ffmpeg.SampleRate = cfg.MinSampleRate
	c.Effects.HighPassCutoffHz = 9000
	assert.ErrorIs(c.Validate(), dsp.ErrEffectProcessing)

	c.Ffmpeg.SampleRate = 44100
	assert.NoError(c.Validate())
}
