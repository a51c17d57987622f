package batch

import (
	"context"
	"errors"

	"voicestudio/internal/app/artifacts"
	"voicestudio/internal/app/conversion"
	"voicestudio/pkg/dsp"
	"voicestudio/pkg/ffmpeg"
	"voicestudio/pkg/tts"
)

var (
	ErrSynthesis        = tts.ErrSynthesis
	ErrNoSegment        = errors.New("no such segment")
	ErrNotGenerated     = errors.New("segment has no generated audio")
	ErrSegmentBusy      = errors.New("segment is being processed")
	ErrConversionBusy   = errors.New("a conversion is already running")
	ErrMissingReference = errors.New("reference audio not found")
	ErrQueueFull        = errors.New("job queue is full")
	ErrNoExporter       = errors.New("remote export is not configured")
)

// Kind maps an error onto a stable label, used for metrics and command results.
func Kind(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrSynthesis):
		return "synthesis"
	case errors.Is(err, dsp.ErrEffectProcessing):
		return "effect_processing"
	case errors.Is(err, conversion.ErrModelLoad):
		return "model_load"
	case errors.Is(err, conversion.ErrEmbeddingExtraction):
		return "embedding_extraction"
	case errors.Is(err, conversion.ErrNoTargetSet):
		return "no_target"
	case errors.Is(err, conversion.ErrConversion):
		return "conversion"
	case errors.Is(err, artifacts.ErrArtifactIO), errors.Is(err, ffmpeg.ErrTranscode):
		return "artifact_io"
	case errors.Is(err, ErrMissingReference):
		return "missing_reference"
	case errors.Is(err, ErrNoSegment):
		return "no_segment"
	case errors.Is(err, ErrNotGenerated):
		return "not_generated"
	case errors.Is(err, ErrSegmentBusy), errors.Is(err, ErrConversionBusy), errors.Is(err, ErrQueueFull):
		return "busy"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "unknown"
	}
}

// Result is what the command surface hands back instead of an error.
type Result struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
	Kind    string `json:"kind,omitempty"`
}

func ResultOf(err error, okMessage string) Result {
	if err != nil {
		return Result{OK: false, Message: err.Error(), Kind: Kind(err)}
	}
	return Result{OK: true, Message: okMessage}
}
