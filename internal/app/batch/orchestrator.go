package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"voicestudio/db"
	"voicestudio/internal/app/artifacts"
	"voicestudio/pkg/dsp"
	"voicestudio/pkg/tts"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("voicestudio/batch")

const (
	OpGenerate    = "generate"
	OpGenerateAll = "generate_all"
	OpConvert     = "convert"
	OpConvertAll  = "convert_all"
)

type Config struct {
	DefaultVoice  string `yaml:"default_voice" env:"DEFAULT_VOICE"`
	QueueSize     int    `yaml:"queue_size" env:"QUEUE_SIZE"`
	ExportFormat  string `yaml:"export_format" env:"EXPORT_FORMAT"`
	ReferencesDir string `yaml:"references_dir" env:"REFERENCES_DIR"`
}

type Deps struct {
	Synth       tts.Synthesizer
	Transcoder  Transcoder
	Store       *artifacts.Store
	OpenSession SessionOpener

	// optional
	Presets  PresetSource
	Exporter Exporter
	Observer Observer
	Journal  Journal
}

// Orchestrator owns the segment list and drives segments through generation
// and conversion. Every segment failure is recorded on the segment and in the
// run summary; only session setup failures abort a conversion run.
type Orchestrator struct {
	ctx    context.Context
	cfg    *Config
	logger *slog.Logger

	synth       tts.Synthesizer
	transcoder  Transcoder
	store       *artifacts.Store
	openSession SessionOpener
	presets     PresetSource
	exporter    Exporter
	observer    Observer
	journal     Journal

	mu       sync.Mutex
	segments []Segment
	busy     map[int]bool

	converting atomic.Bool
	// running counts GenerateAll and ConvertAll runs in progress; their
	// snapshots hold indices that Load and RemoveSegment would invalidate.
	running   atomic.Int32
	previewMu sync.Mutex

	jobs chan job
	wg   sync.WaitGroup
}

func New(ctx context.Context, cfg *Config, deps Deps, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}

	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 64
	}

	o := &Orchestrator{
		ctx:    ctx,
		cfg:    cfg,
		logger: logger,

		synth:       deps.Synth,
		transcoder:  deps.Transcoder,
		store:       deps.Store,
		openSession: deps.OpenSession,
		presets:     deps.Presets,
		exporter:    deps.Exporter,
		observer:    deps.Observer,
		journal:     deps.Journal,

		busy: make(map[int]bool),
		jobs: make(chan job, queueSize),
	}
	if o.observer == nil {
		o.observer = nopObserver{}
	}

	o.wg.Add(1)
	go o.loop()

	return o
}

// Load replaces all segments. Artifacts of the old indices are purged since
// the indices are about to name different texts.
func (o *Orchestrator) Load(texts []string, voice string, cfg dsp.Config) ([]Segment, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.idle() {
		return nil, ErrSegmentBusy
	}

	if voice == "" {
		voice = o.cfg.DefaultVoice
	}

	for _, s := range o.segments {
		if err := o.store.Purge(s.Index); err != nil {
			o.logger.Warn("failed to purge artifacts", "index", s.Index, "err", err)
		}
	}

	o.segments = make([]Segment, len(texts))
	for i, text := range texts {
		o.segments[i] = Segment{
			Index:  i + 1,
			Text:   text,
			Voice:  voice,
			Config: cfg,
		}
		if err := o.store.Purge(i + 1); err != nil {
			o.logger.Warn("failed to purge artifacts", "index", i+1, "err", err)
		}
	}

	return append([]Segment(nil), o.segments...), nil
}

func (o *Orchestrator) Append(text, voice string, cfg dsp.Config) Segment {
	o.mu.Lock()
	defer o.mu.Unlock()

	if voice == "" {
		voice = o.cfg.DefaultVoice
	}

	seg := Segment{
		Index:  len(o.segments) + 1,
		Text:   text,
		Voice:  voice,
		Config: cfg,
	}
	if err := o.store.Purge(seg.Index); err != nil {
		o.logger.Warn("failed to purge artifacts", "index", seg.Index, "err", err)
	}
	o.segments = append(o.segments, seg)

	return seg
}

// UpdateSegment changes text, voice or config. The segment goes back to
// pending and its artifacts are dropped.
func (o *Orchestrator) UpdateSegment(index int, upd Update) (Segment, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	seg := o.find(index)
	if seg == nil {
		return Segment{}, fmt.Errorf("%w: %d", ErrNoSegment, index)
	}
	if o.busy[index] {
		return Segment{}, fmt.Errorf("%w: %d", ErrSegmentBusy, index)
	}

	if upd.Text != nil {
		seg.Text = *upd.Text
	}
	if upd.Voice != nil {
		seg.Voice = *upd.Voice
	}
	if upd.Config != nil {
		seg.Config = *upd.Config
		seg.Preset = ""
	}
	o.reset(seg)

	return *seg, nil
}

// ApplyPreset overwrites the segment's config (and voice, if the preset has one).
func (o *Orchestrator) ApplyPreset(index int, name string) (Segment, error) {
	if o.presets == nil {
		return Segment{}, fmt.Errorf("presets are not configured")
	}

	p, err := o.presets.Load(name)
	if err != nil {
		return Segment{}, err
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	seg := o.find(index)
	if seg == nil {
		return Segment{}, fmt.Errorf("%w: %d", ErrNoSegment, index)
	}
	if o.busy[index] {
		return Segment{}, fmt.Errorf("%w: %d", ErrSegmentBusy, index)
	}

	seg.Config = p.Apply(seg.Config)
	if p.Voice != "" {
		seg.Voice = p.Voice
	}
	seg.Preset = p.Name
	o.reset(seg)

	o.logger.Debug("applied preset", "index", index, "preset", p.Name, "fields", p.Fields())

	return *seg, nil
}

func (o *Orchestrator) Presets() ([]string, error) {
	if o.presets == nil {
		return nil, nil
	}
	return o.presets.List()
}

// RemoveSegment deletes a segment and shifts the following ones down. Every
// shifted segment loses its artifacts and goes back to pending.
func (o *Orchestrator) RemoveSegment(index int) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.find(index) == nil {
		return fmt.Errorf("%w: %d", ErrNoSegment, index)
	}
	if !o.idle() {
		return ErrSegmentBusy
	}

	for _, s := range o.segments[index-1:] {
		if err := o.store.Purge(s.Index); err != nil {
			o.logger.Warn("failed to purge artifacts", "index", s.Index, "err", err)
		}
	}

	o.segments = append(o.segments[:index-1], o.segments[index:]...)
	for i := index - 1; i < len(o.segments); i++ {
		o.segments[i].Index = i + 1
		o.segments[i].Status = StatusPending
		o.segments[i].Error = ""
	}

	return nil
}

func (o *Orchestrator) Segments() []Segment {
	o.mu.Lock()
	defer o.mu.Unlock()

	return append([]Segment(nil), o.segments...)
}

func (o *Orchestrator) Segment(index int) (Segment, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	seg := o.find(index)
	if seg == nil {
		return Segment{}, fmt.Errorf("%w: %d", ErrNoSegment, index)
	}
	return *seg, nil
}

// find expects o.mu to be held.
func (o *Orchestrator) find(index int) *Segment {
	if index < 1 || index > len(o.segments) {
		return nil
	}
	return &o.segments[index-1]
}

// reset expects o.mu to be held.
func (o *Orchestrator) reset(seg *Segment) {
	seg.Status = StatusPending
	seg.Error = ""
	if err := o.store.Purge(seg.Index); err != nil {
		o.logger.Warn("failed to purge artifacts", "index", seg.Index, "err", err)
	}
}

// acquire marks the segment busy and returns a copy for the job to work on.
func (o *Orchestrator) acquire(index int) (Segment, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	seg := o.find(index)
	if seg == nil {
		return Segment{}, fmt.Errorf("%w: %d", ErrNoSegment, index)
	}
	if o.busy[index] {
		return Segment{}, fmt.Errorf("%w: %d", ErrSegmentBusy, index)
	}
	o.busy[index] = true

	return *seg, nil
}

func (o *Orchestrator) release(index int) {
	o.mu.Lock()
	defer o.mu.Unlock()

	delete(o.busy, index)
}

// Converting reports whether a conversion run currently holds a session.
// idle reports whether no segment job or batch run is in flight. Callers hold o.mu.
func (o *Orchestrator) idle() bool {
	return len(o.busy) == 0 && !o.converting.Load() && o.running.Load() == 0
}

func (o *Orchestrator) Converting() bool {
	return o.converting.Load()
}

func (o *Orchestrator) beginConversion() bool {
	if !o.converting.CompareAndSwap(false, true) {
		return false
	}
	metrics.ConversionActive.Set(1)
	return true
}

func (o *Orchestrator) endConversion() {
	metrics.ConversionActive.Set(0)
	o.converting.Store(false)
}

// setStatus records the outcome on the segment and reports it.
func (o *Orchestrator) setStatus(ctx context.Context, runID, op string, index int, status Status, err error) {
	msg := ""
	if err != nil {
		msg = err.Error()
	}

	o.mu.Lock()
	if seg := o.find(index); seg != nil {
		seg.Status = status
		seg.Error = msg
	}
	o.mu.Unlock()

	kind := ""
	if err != nil {
		kind = Kind(err)
		metrics.Errors.WithLabelValues(kind).Inc()
		o.logger.Warn("segment failed", "op", op, "index", index, "kind", kind, "err", err)
	}
	metrics.SegmentOutcomes.WithLabelValues(op, status.String()).Inc()

	o.observer.Notify(Event{
		Type:   EventSegment,
		RunID:  runID,
		Op:     op,
		Index:  index,
		Status: status.String(),
		Kind:   kind,
		Error:  msg,
		Time:   time.Now(),
	})

	if o.journal != nil && runID != "" {
		if err := o.journal.RecordSegment(context.WithoutCancel(ctx), &db.SegmentEvent{
			RunID:   runID,
			Index:   index,
			Status:  status.String(),
			ErrKind: kind,
			Err:     msg,
			At:      time.Now(),
		}); err != nil {
			o.logger.Error("failed to journal segment", "run", runID, "index", index, "err", err)
		}
	}
}

func (o *Orchestrator) startRun(ctx context.Context, op, reference string, total int) *db.Run {
	run := &db.Run{
		ID:        uuid.NewString(),
		Op:        op,
		Reference: reference,
		Total:     total,
		StartedAt: time.Now(),
	}

	if o.journal != nil {
		if err := o.journal.StartRun(context.WithoutCancel(ctx), run); err != nil {
			o.logger.Error("failed to journal run start", "run", run.ID, "err", err)
		}
	}

	o.observer.Notify(Event{Type: EventRunStarted, RunID: run.ID, Op: op, Time: run.StartedAt})

	return run
}

func (o *Orchestrator) finishRun(ctx context.Context, run *db.Run, sum Summary, runErr error) {
	now := time.Now()
	run.FinishedAt = &now
	run.Total = sum.Total
	run.Succeeded = sum.Succeeded
	run.Failed = sum.Failed
	run.Skipped = sum.Skipped

	ev := Event{Type: EventRunFinished, RunID: run.ID, Op: run.Op, Summary: &sum, Time: now}
	if runErr != nil {
		run.Err = runErr.Error()
		ev.Kind = Kind(runErr)
		ev.Error = runErr.Error()
	}

	if o.journal != nil {
		if err := o.journal.FinishRun(context.WithoutCancel(ctx), run); err != nil {
			o.logger.Error("failed to journal run finish", "run", run.ID, "err", err)
		}
	}

	o.logger.Info("run finished", "op", run.Op, "run", run.ID, "total", sum.Total, "succeeded", sum.Succeeded, "failed", sum.Failed, "skipped", sum.Skipped, "took", now.Sub(run.StartedAt))
	o.observer.Notify(ev)
}

func (s *Summary) add(index int, status Status, err error) {
	if err == nil {
		s.Succeeded++
		return
	}
	s.Failed++
	s.Failures = append(s.Failures, SegmentResult{Index: index, Status: status, Kind: Kind(err), Error: err.Error()})
}

// GenerateOne synthesizes, processes and stores one segment.
func (o *Orchestrator) GenerateOne(ctx context.Context, index int) error {
	seg, err := o.acquire(index)
	if err != nil {
		return err
	}
	defer o.release(index)

	run := o.startRun(ctx, OpGenerate, "", 1)
	err = o.runGenerate(ctx, run.ID, seg)

	var sum Summary
	sum.Total = 1
	sum.add(index, o.statusOf(index), err)
	o.finishRun(ctx, run, sum, nil)

	return err
}

// GenerateAll generates every segment in index order. One failing segment
// never stops the others. Cancelling ctx stops scheduling further segments.
func (o *Orchestrator) GenerateAll(ctx context.Context) (Summary, error) {
	o.running.Add(1)
	defer o.running.Add(-1)

	segs := o.Segments()
	sum := Summary{Total: len(segs)}

	ctx, span := tracer.Start(ctx, "batch.GenerateAll")
	defer span.End()

	run := o.startRun(ctx, OpGenerateAll, "", len(segs))

	for i, s := range segs {
		if ctx.Err() != nil {
			sum.Skipped += len(segs) - i
			break
		}

		seg, err := o.acquire(s.Index)
		if err != nil {
			sum.add(s.Index, s.Status, err)
			continue
		}

		err = o.runGenerate(ctx, run.ID, seg)
		o.release(s.Index)

		sum.add(s.Index, o.statusOf(s.Index), err)
	}

	o.finishRun(ctx, run, sum, ctx.Err())

	return sum, nil
}

func (o *Orchestrator) statusOf(index int) Status {
	o.mu.Lock()
	defer o.mu.Unlock()

	if seg := o.find(index); seg != nil {
		return seg.Status
	}
	return StatusPending
}

func (o *Orchestrator) runGenerate(ctx context.Context, runID string, seg Segment) error {
	// a started segment always runs to completion
	ctx = context.WithoutCancel(ctx)

	ctx, span := tracer.Start(ctx, "batch.generate")
	span.SetAttributes(attribute.Int("index", seg.Index))
	defer span.End()

	start := time.Now()
	err := o.generate(ctx, seg)
	metrics.SegmentSeconds.WithLabelValues(OpGenerate).Observe(time.Since(start).Seconds())

	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		o.setStatus(ctx, runID, OpGenerate, seg.Index, StatusGenerationFailed, err)
		return err
	}

	o.setStatus(ctx, runID, OpGenerate, seg.Index, StatusGenerated, nil)
	return nil
}

func (o *Orchestrator) generate(ctx context.Context, seg Segment) error {
	if err := seg.Config.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(seg.Text) == "" {
		return fmt.Errorf("%w: segment %d: %w", ErrSynthesis, seg.Index, tts.ErrEmptyText)
	}

	voice := seg.Voice
	if voice == "" {
		voice = o.cfg.DefaultVoice
	}

	raw := o.store.PathFor(seg.Index, artifacts.StageRaw)
	defer func() {
		if err := o.store.Remove(seg.Index, artifacts.StageRaw); err != nil {
			o.logger.Warn("failed to remove raw synthesis output", "index", seg.Index, "err", err)
		}
	}()

	req := tts.Request{
		Text:        seg.Text,
		Voice:       voice,
		RatePercent: seg.Config.RatePercent(),
		PitchHz:     seg.Config.PitchHz(),
	}
	if err := o.synth.Synthesize(ctx, req, raw); err != nil {
		return err
	}

	err := o.store.Create(seg.Index, artifacts.StageGenerated, func(path string) error {
		return o.render(ctx, raw, path, &seg.Config)
	})
	if err != nil {
		return err
	}

	// a conversion output from before this generation no longer matches
	return o.store.Remove(seg.Index, artifacts.StageConverted)
}

// render decodes src, runs the effect chain when cfg is set and writes a WAV to dst.
func (o *Orchestrator) render(ctx context.Context, src, dst string, cfg *dsp.Config) error {
	err := o.transcoder.Render(ctx, src, dst, cfg)
	if err != nil && !errors.Is(err, dsp.ErrEffectProcessing) {
		return fmt.Errorf("%w: render %s: %w", artifacts.ErrArtifactIO, src, err)
	}

	return err
}

// ConvertOne converts a single generated segment with its own short-lived session.
func (o *Orchestrator) ConvertOne(ctx context.Context, index int, referencePath string) error {
	if !o.beginConversion() {
		return ErrConversionBusy
	}
	defer o.endConversion()

	return o.convertOne(ctx, index, referencePath)
}

func (o *Orchestrator) convertOne(ctx context.Context, index int, referencePath string) error {
	if err := checkReference(referencePath); err != nil {
		return err
	}

	seg, err := o.acquire(index)
	if err != nil {
		return err
	}
	defer o.release(index)

	if seg.Status != StatusGenerated {
		return fmt.Errorf("%w: segment %d is %s", ErrNotGenerated, index, seg.Status)
	}

	run := o.startRun(ctx, OpConvert, referencePath, 1)
	sum := Summary{Total: 1}

	session, err := o.openSession(ctx)
	if err != nil {
		o.finishRun(ctx, run, sum, err)
		return err
	}
	defer o.closeSession(session)

	if err := session.SetTarget(ctx, referencePath); err != nil {
		o.finishRun(ctx, run, sum, err)
		return err
	}

	err = o.runConvert(ctx, run.ID, session, seg)
	sum.add(index, o.statusOf(index), err)
	o.finishRun(ctx, run, sum, nil)

	return err
}

// ConvertAll converts every generated segment with one session and one
// target embedding. Only one conversion may run at a time.
func (o *Orchestrator) ConvertAll(ctx context.Context, referencePath string) (Summary, error) {
	if !o.beginConversion() {
		return Summary{}, ErrConversionBusy
	}
	defer o.endConversion()

	return o.convertAll(ctx, referencePath)
}

func (o *Orchestrator) convertAll(ctx context.Context, referencePath string) (Summary, error) {
	if err := checkReference(referencePath); err != nil {
		return Summary{}, err
	}

	o.running.Add(1)
	defer o.running.Add(-1)

	ctx, span := tracer.Start(ctx, "batch.ConvertAll")
	defer span.End()

	segs := o.Segments()
	sum := Summary{Total: len(segs)}

	run := o.startRun(ctx, OpConvertAll, referencePath, len(segs))

	session, err := o.openSession(ctx)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		o.finishRun(ctx, run, sum, err)
		return sum, err
	}
	defer o.closeSession(session)

	if err := session.SetTarget(ctx, referencePath); err != nil {
		span.SetStatus(codes.Error, err.Error())
		o.finishRun(ctx, run, sum, err)
		return sum, err
	}

	for i, s := range segs {
		if ctx.Err() != nil {
			sum.Skipped += len(segs) - i
			break
		}

		if s.Status != StatusGenerated {
			sum.Skipped++
			continue
		}

		seg, err := o.acquire(s.Index)
		if err != nil {
			sum.add(s.Index, s.Status, err)
			continue
		}
		if seg.Status != StatusGenerated {
			o.release(s.Index)
			sum.Skipped++
			continue
		}

		err = o.runConvert(ctx, run.ID, session, seg)
		o.release(s.Index)

		sum.add(s.Index, o.statusOf(s.Index), err)
	}

	o.finishRun(ctx, run, sum, ctx.Err())

	return sum, nil
}

func checkReference(referencePath string) error {
	if referencePath == "" {
		return fmt.Errorf("%w: empty path", ErrMissingReference)
	}
	if _, err := os.Stat(referencePath); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrMissingReference, referencePath, err)
	}
	return nil
}

func (o *Orchestrator) closeSession(session ConversionSession) {
	if err := session.Close(); err != nil {
		o.logger.Error("failed to close conversion session", "err", err)
	}
}

func (o *Orchestrator) runConvert(ctx context.Context, runID string, session ConversionSession, seg Segment) error {
	ctx = context.WithoutCancel(ctx)

	ctx, span := tracer.Start(ctx, "batch.convert")
	span.SetAttributes(attribute.Int("index", seg.Index))
	defer span.End()

	start := time.Now()
	err := o.convert(ctx, session, seg)
	metrics.SegmentSeconds.WithLabelValues(OpConvert).Observe(time.Since(start).Seconds())

	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		o.setStatus(ctx, runID, OpConvert, seg.Index, StatusConversionFailed, err)
		return err
	}

	o.setStatus(ctx, runID, OpConvert, seg.Index, StatusConverted, nil)
	return nil
}

func (o *Orchestrator) convert(ctx context.Context, session ConversionSession, seg Segment) error {
	if !o.store.Exists(seg.Index, artifacts.StageGenerated) {
		return fmt.Errorf("%w: segment %d has no artifact", ErrNotGenerated, seg.Index)
	}

	src := o.store.PathFor(seg.Index, artifacts.StageGenerated)
	out := o.store.PathFor(seg.Index, artifacts.StageConverted)

	err := session.Convert(ctx, src, out)
	if err == nil {
		err = o.store.Promote(seg.Index)
	}
	if err != nil {
		var errs []error
		for _, stage := range []artifacts.Stage{artifacts.StageConverted, artifacts.StageEmbeddingProxy} {
			errs = append(errs, o.store.Remove(seg.Index, stage))
		}
		if cleanupErr := errors.Join(errs...); cleanupErr != nil {
			o.logger.Warn("failed to clean conversion scratch files", "index", seg.Index, "err", cleanupErr)
		}
		return err
	}

	return nil
}
