package batch

import (
	"context"

	"voicestudio/pkg/dsp"
	"voicestudio/pkg/preset"
)

// ConversionSession is the slice of conversion.Session the orchestrator drives.
type ConversionSession interface {
	SetTarget(ctx context.Context, referencePath string) error
	Convert(ctx context.Context, sourcePath, outputPath string) error
	Close() error
}

type SessionOpener func(ctx context.Context) (ConversionSession, error)

// Transcoder decodes synthesized audio into working WAV files, running the
// effect chain when a config is given, and encodes exports.
type Transcoder interface {
	Render(ctx context.Context, inputPath, outputPath string, cfg *dsp.Config) error
	ToMp3(ctx context.Context, inputPath, outputPath string) error
}

type PresetSource interface {
	Load(name string) (*preset.Preset, error)
	List() ([]string, error)
}

// Exporter uploads finished files to object storage.
type Exporter interface {
	UploadFile(ctx context.Context, bucket, objectName, path, contentType string) error
}
