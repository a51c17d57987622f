package cfg

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"voicestudio/db"
	"voicestudio/internal/app/api"
	"voicestudio/internal/app/artifacts"
	"voicestudio/internal/app/batch"
	"voicestudio/internal/app/conversion"
	"voicestudio/pkg/dsp"
	"voicestudio/pkg/ffmpeg"
	"voicestudio/pkg/openvoice"
	"voicestudio/pkg/s3client"
	"voicestudio/pkg/tts"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

const EnvPrefix = "VOICESTUDIO_"

const (
	EngineExec = "exec"
	EngineHTTP = "http"
)

type Config struct {
	Api api.Config `yaml:"api" envPrefix:"API_"`

	Batch      batch.Config      `yaml:"batch" envPrefix:"BATCH_"`
	Artifacts  artifacts.Config  `yaml:"artifacts" envPrefix:"ARTIFACTS_"`
	Effects    dsp.Config        `yaml:"effects"`
	Presets    PresetsConfig     `yaml:"presets" envPrefix:"PRESETS_"`
	TTS        TTSConfig         `yaml:"tts" envPrefix:"TTS_"`
	OpenVoice  openvoice.Config  `yaml:"openvoice" envPrefix:"OPENVOICE_"`
	Conversion conversion.Config `yaml:"conversion" envPrefix:"CONVERSION_"`
	Ffmpeg     ffmpeg.Config     `yaml:"ffmpeg" envPrefix:"FFMPEG_"`

	DB db.Config       `yaml:"db" envPrefix:"DB_"`
	S3 s3client.Config `yaml:"s3" envPrefix:"S3_"`

	InfluxDB  InfluxConfig    `yaml:"influx" envPrefix:"INFLUX_"`
	Telemetry TelemetryConfig `yaml:"telemetry" envPrefix:"TELEMETRY_"`
	Log       LogConfig       `yaml:"log" envPrefix:"LOG_"`
}

type TTSConfig struct {
	Engine string         `yaml:"engine" env:"ENGINE"`
	Exec   tts.ExecConfig `yaml:"exec" envPrefix:"EXEC_"`
	HTTP   tts.HTTPConfig `yaml:"http" envPrefix:"HTTP_"`
}

type PresetsConfig struct {
	Dir string `yaml:"dir" env:"DIR"`
}

type InfluxConfig struct {
	URL    string `yaml:"url" env:"URL"`
	Token  string `yaml:"token" env:"TOKEN"`
	Org    string `yaml:"org" env:"ORG"`
	Bucket string `yaml:"bucket" env:"BUCKET"`
}

type TelemetryConfig struct {
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
	TraceStdout bool   `yaml:"trace_stdout" env:"TRACE_STDOUT"`
}

type LogConfig struct {
	Level string `yaml:"level" env:"LEVEL"`
}

func Default() *Config {
	return &Config{
		Api: api.Config{
			Port:           8080,
			Timeout:        2 * time.Minute,
			OutDir:         "out",
			MaxUploadBytes: 50 << 20,
		},
		Batch: batch.Config{
			DefaultVoice:  "en-US-AriaNeural",
			QueueSize:     64,
			ExportFormat:  "wav",
			ReferencesDir: "references",
		},
		Artifacts: artifacts.Config{
			WorkDir: "work",
		},
		Effects: dsp.DefaultConfig(),
		Presets: PresetsConfig{
			Dir: "presets",
		},
		TTS: TTSConfig{
			Engine: EngineExec,
			Exec: tts.ExecConfig{
				Command:       tts.DefaultCommand,
				VoicesCommand: tts.DefaultVoicesCommand,
				Timeout:       time.Minute,
			},
		},
		OpenVoice: openvoice.Config{
			URL:     "http://127.0.0.1:8020",
			Device:  "cuda",
			Timeout: 5 * time.Minute,
		},
		Conversion: conversion.Config{
			Tau:                  0.3,
			MinEmbeddingDuration: 10 * time.Second,
			RepeatFactor:         5,
		},
		DB: db.Config{
			Driver:  db.DriverSqlite,
			Path:    "voicestudio.db",
			MaxRuns: 200,
		},
		Telemetry: TelemetryConfig{
			ServiceName: "voicestudio",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads the yaml file at path over the defaults, then applies
// VOICESTUDIO_* environment variables. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("can't open %s file: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("can't unmarshal %s file: %w", path, err)
		}
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("can't apply environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// MinSampleRate keeps every fixed shelf and de-esser frequency below Nyquist.
const MinSampleRate = 16000

func (c *Config) Validate() error {
	var errs []error

	switch c.TTS.Engine {
	case EngineExec:
	case EngineHTTP:
		if c.TTS.HTTP.URL == "" {
			errs = append(errs, errors.New("tts.http.url is required for the http engine"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown tts engine %q", c.TTS.Engine))
	}

	switch c.Batch.ExportFormat {
	case "wav", "mp3":
	default:
		errs = append(errs, fmt.Errorf("unknown export format %q", c.Batch.ExportFormat))
	}

	switch c.DB.Driver {
	case "", db.DriverSqlite, db.DriverPostgres:
	default:
		errs = append(errs, fmt.Errorf("unknown db driver %q", c.DB.Driver))
	}

	if c.Artifacts.WorkDir == "" {
		errs = append(errs, errors.New("artifacts.work_dir is required"))
	}

	rate := c.Ffmpeg.SampleRate
	if rate != 0 && rate < MinSampleRate {
		errs = append(errs, fmt.Errorf("ffmpeg.sample_rate %d is below %d", rate, MinSampleRate))
	}

	if err := c.Effects.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("effects: %w", err))
	} else if rate == 0 || rate >= MinSampleRate {
		if _, err := dsp.NewPlan(c.Effects, ffmpeg.New(&c.Ffmpeg).SampleRate()); err != nil {
			errs = append(errs, fmt.Errorf("effects: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// SlogLevel maps log.level onto slog; unknown values mean info.
func (c LogConfig) SlogLevel() slog.Level {
	switch c.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
