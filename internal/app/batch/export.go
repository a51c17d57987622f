package batch

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"voicestudio/internal/app/artifacts"
	"voicestudio/pkg/dsp"
	"voicestudio/pkg/slug"
	"voicestudio/pkg/tts"
	"voicestudio/pkg/wavfile"

	"github.com/google/uuid"
)

const S3Scheme = "s3://"

// Save writes the canonical artifact of a segment to dest. A ".mp3" dest is
// transcoded, an "s3://bucket/key" dest is uploaded.
func (o *Orchestrator) Save(ctx context.Context, index int, dest string) error {
	if _, err := o.Segment(index); err != nil {
		return err
	}
	if !o.store.Exists(index, artifacts.StageGenerated) {
		return fmt.Errorf("%w: segment %d", ErrNotGenerated, index)
	}

	if bucket, key, ok := parseS3(dest); ok {
		return o.upload(ctx, index, bucket, key)
	}

	if !strings.EqualFold(filepath.Ext(dest), ".mp3") {
		return o.store.Export(index, dest)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return fmt.Errorf("%w: create export dir: %w", artifacts.ErrArtifactIO, err)
	}
	return o.transcoder.ToMp3(ctx, o.store.PathFor(index, artifacts.StageGenerated), dest)
}

// SaveAll saves every segment that has audio into dir under readable file
// names. Segments without audio are skipped.
func (o *Orchestrator) SaveAll(ctx context.Context, dir string) (Summary, error) {
	segs := o.Segments()
	sum := Summary{Total: len(segs)}

	ext := o.cfg.ExportFormat
	if ext == "" {
		ext = "wav"
	}

	for _, seg := range segs {
		if ctx.Err() != nil {
			return sum, ctx.Err()
		}

		if !o.store.Exists(seg.Index, artifacts.StageGenerated) {
			sum.Skipped++
			continue
		}

		name := slug.FileName(seg.Index, seg.Text, ext)

		var dest string
		if bucket, prefix, ok := parseS3(dir); ok {
			dest = S3Scheme + bucket + "/" + path.Join(prefix, name)
		} else {
			dest = filepath.Join(dir, name)
		}

		sum.add(seg.Index, seg.Status, o.Save(ctx, seg.Index, dest))
	}

	return sum, nil
}

func parseS3(dest string) (bucket, key string, ok bool) {
	rest, found := strings.CutPrefix(dest, S3Scheme)
	if !found {
		return "", "", false
	}
	bucket, key, _ = strings.Cut(rest, "/")
	return bucket, key, bucket != ""
}

func (o *Orchestrator) upload(ctx context.Context, index int, bucket, key string) error {
	if o.exporter == nil {
		return ErrNoExporter
	}
	if key == "" || strings.HasSuffix(key, "/") {
		seg, err := o.Segment(index)
		if err != nil {
			return err
		}
		key += slug.FileName(index, seg.Text, "wav")
	}

	src := o.store.PathFor(index, artifacts.StageGenerated)
	contentType := "audio/wav"

	if strings.EqualFold(path.Ext(key), ".mp3") {
		tmp := filepath.Join(o.store.Dir(), "export_"+uuid.NewString()+".mp3")
		defer os.Remove(tmp)

		if err := o.transcoder.ToMp3(ctx, src, tmp); err != nil {
			return err
		}
		src = tmp
		contentType = "audio/mpeg"
	}

	return o.exporter.UploadFile(ctx, bucket, key, src, contentType)
}

// Preview renders text with voice and cfg without touching any segment.
// Empty text falls back to a sample sentence in the voice's language.
func (o *Orchestrator) Preview(ctx context.Context, text, voice string, cfg dsp.Config) (string, error) {
	if err := cfg.Validate(); err != nil {
		return "", err
	}
	if voice == "" {
		voice = o.cfg.DefaultVoice
	}
	if strings.TrimSpace(text) == "" {
		text = tts.SampleText(voice)
	}

	o.previewMu.Lock()
	defer o.previewMu.Unlock()

	raw := filepath.Join(o.store.Dir(), "preview_raw.mp3")
	defer os.Remove(raw)

	req := tts.Request{
		Text:        text,
		Voice:       voice,
		RatePercent: cfg.RatePercent(),
		PitchHz:     cfg.PitchHz(),
	}
	if err := o.synth.Synthesize(ctx, req, raw); err != nil {
		return "", err
	}

	if err := o.store.CreatePreview(func(path string) error {
		return o.render(ctx, raw, path, &cfg)
	}); err != nil {
		return "", err
	}

	return o.store.PreviewPath(), nil
}

// PrepareReference normalizes a recording into the references directory as a
// WAV, optionally running it through the effect chain first.
func (o *Orchestrator) PrepareReference(ctx context.Context, src string, cfg *dsp.Config) (string, error) {
	if err := checkReference(src); err != nil {
		return "", err
	}
	if cfg != nil {
		if err := cfg.Validate(); err != nil {
			return "", err
		}
	}

	dir := o.cfg.ReferencesDir
	if dir == "" {
		dir = filepath.Join(o.store.Dir(), "references")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("%w: create references dir: %w", artifacts.ErrArtifactIO, err)
	}

	name := slug.Make(strings.TrimSuffix(filepath.Base(src), filepath.Ext(src)))
	if name == "" {
		name = "reference"
	}
	dest := filepath.Join(dir, name+".wav")

	tmp := filepath.Join(dir, "."+name+"."+uuid.NewString()+".tmp")
	defer os.Remove(tmp)

	if err := o.render(ctx, src, tmp, cfg); err != nil {
		return "", err
	}
	if err := os.Rename(tmp, dest); err != nil {
		return "", fmt.Errorf("%w: %w", artifacts.ErrArtifactIO, err)
	}

	o.logger.Info("prepared reference", "src", src, "dest", dest)

	return dest, nil
}

type Track struct {
	Index    int           `json:"index"`
	Text     string        `json:"text"`
	Path     string        `json:"path"`
	Duration time.Duration `json:"duration"`
	Status   Status        `json:"status"`
}

// Playlist lists the segments that have audio, in index order.
func (o *Orchestrator) Playlist() ([]Track, error) {
	var tracks []Track
	for _, seg := range o.Segments() {
		if !o.store.Exists(seg.Index, artifacts.StageGenerated) {
			continue
		}

		p := o.store.PathFor(seg.Index, artifacts.StageGenerated)
		d, err := wavfile.Duration(p)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", artifacts.ErrArtifactIO, err)
		}

		tracks = append(tracks, Track{
			Index:    seg.Index,
			Text:     seg.Text,
			Path:     p,
			Duration: d,
			Status:   seg.Status,
		})
	}
	return tracks, nil
}

// Voices lists synthesizer voices whose locale starts with one of prefixes.
func (o *Orchestrator) Voices(ctx context.Context, prefixes ...string) ([]tts.Voice, error) {
	lister, ok := o.synth.(tts.VoiceLister)
	if !ok {
		return nil, fmt.Errorf("synthesizer cannot list voices")
	}

	voices, err := lister.Voices(ctx)
	if err != nil {
		return nil, err
	}

	return tts.FilterVoices(voices, prefixes...), nil
}
