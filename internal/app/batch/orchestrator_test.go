package batch_test

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"voicestudio/db"
	"voicestudio/internal/app/artifacts"
	"voicestudio/internal/app/batch"
	"voicestudio/internal/app/conversion"
	"voicestudio/pkg/dsp"
	"voicestudio/pkg/tts"
	"voicestudio/pkg/wavfile"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var (
	_ tts.Synthesizer         = &fakeSynth{}
	_ batch.Transcoder        = copyTranscoder{}
	_ batch.ConversionSession = &mockSession{}
	_ batch.Journal           = &memJournal{}
)

// fakeSynth writes a short tone for every request, failing texts containing "boom".
type fakeSynth struct {
	mu    sync.Mutex
	texts []string
}

func (s *fakeSynth) Synthesize(ctx context.Context, req tts.Request, outputPath string) error {
	s.mu.Lock()
	s.texts = append(s.texts, req.Text)
	s.mu.Unlock()

	if strings.Contains(req.Text, "boom") {
		return fmt.Errorf("%w: engine exploded", tts.ErrSynthesis)
	}

	buf := dsp.NewBuffer(16000, 1, 3200)
	for i := range buf.Channels[0] {
		buf.Channels[0][i] = 0.3 * math.Sin(2*math.Pi*220*float64(i)/16000)
	}
	return wavfile.EncodeFile(outputPath, buf)
}

type copyTranscoder struct{}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0644)
}

// Render checks cfg the way the real chain does and copies the audio through untouched.
func (copyTranscoder) Render(ctx context.Context, inputPath, outputPath string, cfg *dsp.Config) error {
	if cfg != nil {
		if _, err := dsp.NewPlan(*cfg, 16000); err != nil {
			return err
		}
	}
	return copyFile(inputPath, outputPath)
}

func (copyTranscoder) ToMp3(ctx context.Context, inputPath, outputPath string) error {
	return copyFile(inputPath, outputPath)
}

type mockSession struct {
	mock.Mock
}

func (m *mockSession) SetTarget(ctx context.Context, referencePath string) error {
	return m.Called(ctx, referencePath).Error(0)
}

func (m *mockSession) Convert(ctx context.Context, sourcePath, outputPath string) error {
	args := m.Called(ctx, sourcePath, outputPath)
	if err := args.Error(0); err != nil {
		return err
	}
	return os.WriteFile(outputPath, []byte("converted-"+filepath.Base(sourcePath)), 0644)
}

func (m *mockSession) Close() error {
	return m.Called().Error(0)
}

type memJournal struct {
	mu       sync.Mutex
	runs     map[string]*db.Run
	segments []db.SegmentEvent
}

func (j *memJournal) StartRun(ctx context.Context, run *db.Run) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.runs == nil {
		j.runs = make(map[string]*db.Run)
	}
	cp := *run
	j.runs[run.ID] = &cp
	return nil
}

func (j *memJournal) RecordSegment(ctx context.Context, ev *db.SegmentEvent) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.segments = append(j.segments, *ev)
	return nil
}

func (j *memJournal) FinishRun(ctx context.Context, run *db.Run) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	cp := *run
	j.runs[run.ID] = &cp
	return nil
}

// renameFailFS refuses to move a converted file onto failTarget.
type renameFailFS struct {
	failTarget string
}

func (f *renameFailFS) Rename(oldpath, newpath string) error {
	if newpath == f.failTarget && strings.HasPrefix(filepath.Base(oldpath), "cloned_") {
		return errors.New("device busy")
	}
	return os.Rename(oldpath, newpath)
}

func (f *renameFailFS) Remove(name string) error              { return os.Remove(name) }
func (f *renameFailFS) Stat(name string) (fs.FileInfo, error) { return os.Stat(name) }

type env struct {
	orch      *batch.Orchestrator
	store     *artifacts.Store
	synth     *fakeSynth
	session   *mockSession
	opens     int
	openErr   error
	journal   *memJournal
	reference string

	eventsMu sync.Mutex
	events   []batch.Event
	// onEvent runs synchronously inside Notify, on the goroutine doing the run.
	onEvent func(ev batch.Event)
}

func newEnv(t *testing.T, fsys artifacts.FileSystem, dir string) *env {
	if dir == "" {
		dir = t.TempDir()
	}
	store, err := artifacts.New(dir, fsys, nil)
	require.NoError(t, err)

	ref := filepath.Join(t.TempDir(), "speaker.wav")
	require.NoError(t, os.WriteFile(ref, []byte("ref"), 0644))

	e := &env{
		store:     store,
		synth:     &fakeSynth{},
		session:   &mockSession{},
		journal:   &memJournal{},
		reference: ref,
	}

	ctx, cancel := context.WithCancel(context.Background())

	e.orch = batch.New(ctx, &batch.Config{DefaultVoice: "en-US-AriaNeural", QueueSize: 4}, batch.Deps{
		Synth:      e.synth,
		Transcoder: copyTranscoder{},
		Store:      store,
		OpenSession: func(ctx context.Context) (batch.ConversionSession, error) {
			e.opens++
			if e.openErr != nil {
				return nil, e.openErr
			}
			return e.session, nil
		},
		Journal: e.journal,
		Observer: batch.ObserverFunc(func(ev batch.Event) {
			e.eventsMu.Lock()
			e.events = append(e.events, ev)
			hook := e.onEvent
			e.eventsMu.Unlock()

			if hook != nil {
				hook(ev)
			}
		}),
	}, nil)

	t.Cleanup(func() {
		cancel()
		e.orch.Wait()
	})

	return e
}

func (e *env) statuses() []batch.Status {
	var out []batch.Status
	for _, s := range e.orch.Segments() {
		out = append(out, s.Status)
	}
	return out
}

func TestGenerateAllIsolatesFailures(t *testing.T) {
	assert := require.New(t)
	e := newEnv(t, nil, "")

	_, err := e.orch.Load([]string{"Hello", "World", ""}, "", dsp.DefaultConfig())
	assert.NoError(err)

	sum, err := e.orch.GenerateAll(context.Background())
	assert.NoError(err)

	assert.Equal(3, sum.Total)
	assert.Equal(2, sum.Succeeded)
	assert.Equal(1, sum.Failed)
	assert.Len(sum.Failures, 1)
	assert.Equal(3, sum.Failures[0].Index)
	assert.Equal("synthesis", sum.Failures[0].Kind)

	assert.Equal([]batch.Status{batch.StatusGenerated, batch.StatusGenerated, batch.StatusGenerationFailed}, e.statuses())

	assert.True(e.store.Exists(1, artifacts.StageGenerated))
	assert.True(e.store.Exists(2, artifacts.StageGenerated))
	assert.False(e.store.Exists(3, artifacts.StageGenerated))
	assert.False(e.store.Exists(1, artifacts.StageRaw))

	seg, err := e.orch.Segment(3)
	assert.NoError(err)
	assert.NotEmpty(seg.Error)

	// blank text never reaches the engine
	assert.Equal([]string{"Hello", "World"}, e.synth.texts)
}

func TestGenerateAllContinuesAfterEngineFailure(t *testing.T) {
	assert := require.New(t)
	e := newEnv(t, nil, "")

	_, err := e.orch.Load([]string{"boom", "fine"}, "", dsp.DefaultConfig())
	assert.NoError(err)

	sum, err := e.orch.GenerateAll(context.Background())
	assert.NoError(err)
	assert.Equal(1, sum.Succeeded)
	assert.Equal(1, sum.Failed)
	assert.Equal([]batch.Status{batch.StatusGenerationFailed, batch.StatusGenerated}, e.statuses())

	e.journal.mu.Lock()
	defer e.journal.mu.Unlock()
	assert.Len(e.journal.runs, 1)
	assert.Len(e.journal.segments, 2)
	assert.Equal("synthesis", e.journal.segments[0].ErrKind)
	for _, run := range e.journal.runs {
		assert.Equal(batch.OpGenerateAll, run.Op)
		assert.NotNil(run.FinishedAt)
		assert.Equal(1, run.Failed)
	}
}

func TestGenerateOneInvalidConfig(t *testing.T) {
	assert := require.New(t)
	e := newEnv(t, nil, "")

	cfg := dsp.DefaultConfig()
	cfg.Speed = 0
	_, err := e.orch.Load([]string{"Hello"}, "", cfg)
	assert.NoError(err)

	err = e.orch.GenerateOne(context.Background(), 1)
	assert.ErrorIs(err, dsp.ErrEffectProcessing)
	assert.Equal("effect_processing", batch.Kind(err))
	assert.Equal(batch.StatusGenerationFailed, e.statuses()[0])
	assert.False(e.store.Exists(1, artifacts.StageGenerated))
}

func TestGenerateOneUnknownSegment(t *testing.T) {
	e := newEnv(t, nil, "")

	err := e.orch.GenerateOne(context.Background(), 7)
	require.ErrorIs(t, err, batch.ErrNoSegment)
}

func TestConvertAllUsesOneSession(t *testing.T) {
	assert := require.New(t)
	e := newEnv(t, nil, "")

	_, err := e.orch.Load([]string{"one", "two", "three"}, "", dsp.DefaultConfig())
	assert.NoError(err)
	_, err = e.orch.GenerateAll(context.Background())
	assert.NoError(err)

	e.session.On("SetTarget", mock.Anything, e.reference).Return(nil).Once()
	e.session.On("Convert", mock.Anything, mock.Anything, mock.Anything).Return(nil).Times(3)
	e.session.On("Close").Return(nil).Once()

	sum, err := e.orch.ConvertAll(context.Background(), e.reference)
	assert.NoError(err)
	assert.Equal(3, sum.Succeeded)
	assert.Equal(0, sum.Failed)
	assert.Equal(1, e.opens)
	e.session.AssertExpectations(t)

	assert.Equal([]batch.Status{batch.StatusConverted, batch.StatusConverted, batch.StatusConverted}, e.statuses())

	for i := 1; i <= 3; i++ {
		data, err := os.ReadFile(e.store.PathFor(i, artifacts.StageGenerated))
		assert.NoError(err)
		assert.Equal(fmt.Sprintf("converted-%d.wav", i), string(data))
		assert.False(e.store.Exists(i, artifacts.StageConverted))
	}
	assert.False(e.orch.Converting())
}

func TestConvertAllSkipsSegmentsWithoutAudio(t *testing.T) {
	assert := require.New(t)
	e := newEnv(t, nil, "")

	_, err := e.orch.Load([]string{"one", "", "three"}, "", dsp.DefaultConfig())
	assert.NoError(err)
	_, err = e.orch.GenerateAll(context.Background())
	assert.NoError(err)

	e.session.On("SetTarget", mock.Anything, e.reference).Return(nil)
	e.session.On("Convert", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	e.session.On("Close").Return(nil)

	sum, err := e.orch.ConvertAll(context.Background(), e.reference)
	assert.NoError(err)
	assert.Equal(2, sum.Succeeded)
	assert.Equal(1, sum.Skipped)
	e.session.AssertNumberOfCalls(t, "Convert", 2)

	// converted segments are not picked up again
	sum, err = e.orch.ConvertAll(context.Background(), e.reference)
	assert.NoError(err)
	assert.Equal(0, sum.Succeeded)
	assert.Equal(3, sum.Skipped)
	e.session.AssertNumberOfCalls(t, "Convert", 2)
}

func TestConvertFailureKeepsGeneratedAudio(t *testing.T) {
	assert := require.New(t)

	dir := t.TempDir()
	e := newEnv(t, &renameFailFS{failTarget: filepath.Join(dir, "2.wav")}, dir)

	_, err := e.orch.Load([]string{"one", "two", "three"}, "", dsp.DefaultConfig())
	assert.NoError(err)
	_, err = e.orch.GenerateAll(context.Background())
	assert.NoError(err)

	before, err := os.ReadFile(e.store.PathFor(2, artifacts.StageGenerated))
	assert.NoError(err)

	e.session.On("SetTarget", mock.Anything, e.reference).Return(nil)
	e.session.On("Convert", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	e.session.On("Close").Return(nil).Once()

	sum, err := e.orch.ConvertAll(context.Background(), e.reference)
	assert.NoError(err)
	assert.Equal(2, sum.Succeeded)
	assert.Equal(1, sum.Failed)
	assert.Equal("artifact_io", sum.Failures[0].Kind)

	assert.Equal([]batch.Status{batch.StatusConverted, batch.StatusConversionFailed, batch.StatusConverted}, e.statuses())

	after, err := os.ReadFile(e.store.PathFor(2, artifacts.StageGenerated))
	assert.NoError(err)
	assert.Equal(before, after)
	assert.False(e.store.Exists(2, artifacts.StageConverted))
	e.session.AssertExpectations(t)
}

func TestConvertAllContinuesAfterConversionFailure(t *testing.T) {
	assert := require.New(t)
	e := newEnv(t, nil, "")

	_, err := e.orch.Load([]string{"one", "two", "three"}, "", dsp.DefaultConfig())
	assert.NoError(err)
	_, err = e.orch.GenerateAll(context.Background())
	assert.NoError(err)

	before, err := os.ReadFile(e.store.PathFor(2, artifacts.StageGenerated))
	assert.NoError(err)

	second := mock.MatchedBy(func(p string) bool { return filepath.Base(p) == "2.wav" })
	others := mock.MatchedBy(func(p string) bool { return filepath.Base(p) != "2.wav" })

	e.session.On("SetTarget", mock.Anything, e.reference).Return(nil).Once()
	e.session.On("Convert", mock.Anything, second, mock.Anything).
		Return(fmt.Errorf("%w: inference crashed", conversion.ErrConversion)).Once()
	e.session.On("Convert", mock.Anything, others, mock.Anything).Return(nil).Twice()
	e.session.On("Close").Return(nil).Once()

	sum, err := e.orch.ConvertAll(context.Background(), e.reference)
	assert.NoError(err)
	assert.Equal(3, sum.Total)
	assert.Equal(2, sum.Succeeded)
	assert.Equal(1, sum.Failed)
	assert.Len(sum.Failures, 1)
	assert.Equal(2, sum.Failures[0].Index)
	assert.Equal("conversion", sum.Failures[0].Kind)

	assert.Equal([]batch.Status{batch.StatusConverted, batch.StatusConversionFailed, batch.StatusConverted}, e.statuses())
	assert.Equal(1, e.opens)
	e.session.AssertNumberOfCalls(t, "Close", 1)
	e.session.AssertExpectations(t)

	after, err := os.ReadFile(e.store.PathFor(2, artifacts.StageGenerated))
	assert.NoError(err)
	assert.Equal(before, after)
	assert.False(e.orch.Converting())
}

func TestLoadRejectedWhileRunActive(t *testing.T) {
	assert := require.New(t)
	e := newEnv(t, nil, "")

	_, err := e.orch.Load([]string{"one", "two"}, "", dsp.DefaultConfig())
	assert.NoError(err)

	var loadErrs, removeErrs []error
	e.onEvent = func(ev batch.Event) {
		if ev.Type != batch.EventRunStarted && ev.Type != batch.EventSegment {
			return
		}
		_, err := e.orch.Load([]string{"other"}, "", dsp.DefaultConfig())
		loadErrs = append(loadErrs, err)
		removeErrs = append(removeErrs, e.orch.RemoveSegment(1))
	}

	sum, err := e.orch.GenerateAll(context.Background())
	assert.NoError(err)
	assert.Equal(2, sum.Succeeded)

	e.session.On("SetTarget", mock.Anything, e.reference).Return(nil)
	e.session.On("Convert", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	e.session.On("Close").Return(nil)

	sum, err = e.orch.ConvertAll(context.Background(), e.reference)
	assert.NoError(err)
	assert.Equal(2, sum.Succeeded)

	// run start plus one event per segment, for both runs
	assert.Len(loadErrs, 6)
	for i := range loadErrs {
		assert.ErrorIs(loadErrs[i], batch.ErrSegmentBusy)
		assert.ErrorIs(removeErrs[i], batch.ErrSegmentBusy)
	}
	assert.Equal([]batch.Status{batch.StatusConverted, batch.StatusConverted}, e.statuses())

	e.eventsMu.Lock()
	e.onEvent = nil
	e.eventsMu.Unlock()

	assert.NoError(e.orch.RemoveSegment(2))
	assert.Len(e.orch.Segments(), 1)
}

func TestConvertAllSessionFailures(t *testing.T) {
	t.Run("model load", func(t *testing.T) {
		assert := require.New(t)
		e := newEnv(t, nil, "")
		e.openErr = fmt.Errorf("%w: weights missing", conversion.ErrModelLoad)

		_, err := e.orch.Load([]string{"one"}, "", dsp.DefaultConfig())
		assert.NoError(err)
		assert.NoError(e.orch.GenerateOne(context.Background(), 1))

		_, err = e.orch.ConvertAll(context.Background(), e.reference)
		assert.ErrorIs(err, conversion.ErrModelLoad)
		assert.Equal("model_load", batch.Kind(err))
		assert.Equal(batch.StatusGenerated, e.statuses()[0])
		assert.False(e.orch.Converting())
	})

	t.Run("target embedding", func(t *testing.T) {
		assert := require.New(t)
		e := newEnv(t, nil, "")

		_, err := e.orch.Load([]string{"one", "two"}, "", dsp.DefaultConfig())
		assert.NoError(err)
		_, err = e.orch.GenerateAll(context.Background())
		assert.NoError(err)

		e.session.On("SetTarget", mock.Anything, e.reference).Return(fmt.Errorf("%w: no speech", conversion.ErrEmbeddingExtraction))
		e.session.On("Close").Return(nil).Once()

		_, err = e.orch.ConvertAll(context.Background(), e.reference)
		assert.ErrorIs(err, conversion.ErrEmbeddingExtraction)
		e.session.AssertNotCalled(t, "Convert", mock.Anything, mock.Anything, mock.Anything)
		e.session.AssertExpectations(t)
		assert.Equal([]batch.Status{batch.StatusGenerated, batch.StatusGenerated}, e.statuses())
	})

	t.Run("missing reference", func(t *testing.T) {
		e := newEnv(t, nil, "")

		_, err := e.orch.ConvertAll(context.Background(), filepath.Join(t.TempDir(), "nope.wav"))
		require.ErrorIs(t, err, batch.ErrMissingReference)
		require.Equal(t, 0, e.opens)
	})
}

func TestConvertOneRequiresGenerated(t *testing.T) {
	assert := require.New(t)
	e := newEnv(t, nil, "")

	_, err := e.orch.Load([]string{"one"}, "", dsp.DefaultConfig())
	assert.NoError(err)

	err = e.orch.ConvertOne(context.Background(), 1, e.reference)
	assert.ErrorIs(err, batch.ErrNotGenerated)
	assert.Equal(0, e.opens)
}

func TestConversionRejectsSecondRun(t *testing.T) {
	assert := require.New(t)
	e := newEnv(t, nil, "")

	_, err := e.orch.Load([]string{"one", "two"}, "", dsp.DefaultConfig())
	assert.NoError(err)
	_, err = e.orch.GenerateAll(context.Background())
	assert.NoError(err)

	unblock := make(chan time.Time)
	e.session.On("SetTarget", mock.Anything, e.reference).Return(nil)
	e.session.On("Convert", mock.Anything, mock.Anything, mock.Anything).WaitUntil(unblock).Return(nil)
	e.session.On("Close").Return(nil)

	assert.NoError(e.orch.SubmitConvertAll(e.reference))
	assert.True(e.orch.Converting())

	err = e.orch.ConvertOne(context.Background(), 2, e.reference)
	assert.ErrorIs(err, batch.ErrConversionBusy)
	assert.ErrorIs(e.orch.SubmitConvertAll(e.reference), batch.ErrConversionBusy)

	close(unblock)

	assert.Eventually(func() bool { return !e.orch.Converting() }, 5*time.Second, 10*time.Millisecond)
	assert.Equal([]batch.Status{batch.StatusConverted, batch.StatusConverted}, e.statuses())
	assert.Equal(1, e.opens)
}

func TestSubmitGenerateAll(t *testing.T) {
	assert := require.New(t)
	e := newEnv(t, nil, "")

	_, err := e.orch.Load([]string{"one", "two"}, "", dsp.DefaultConfig())
	assert.NoError(err)

	assert.NoError(e.orch.SubmitGenerateAll())

	assert.Eventually(func() bool {
		e.eventsMu.Lock()
		defer e.eventsMu.Unlock()
		for _, ev := range e.events {
			if ev.Type == batch.EventRunFinished {
				return true
			}
		}
		return false
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal([]batch.Status{batch.StatusGenerated, batch.StatusGenerated}, e.statuses())

	e.eventsMu.Lock()
	defer e.eventsMu.Unlock()
	assert.Equal(batch.EventRunStarted, e.events[0].Type)
	assert.Equal(batch.EventSegment, e.events[1].Type)
	assert.Equal(1, e.events[1].Index)
	assert.Equal("generated", e.events[1].Status)
	last := e.events[len(e.events)-1]
	assert.Equal(2, last.Summary.Succeeded)
}

func TestUpdateResetsSegment(t *testing.T) {
	assert := require.New(t)
	e := newEnv(t, nil, "")

	_, err := e.orch.Load([]string{"one"}, "", dsp.DefaultConfig())
	assert.NoError(err)
	assert.NoError(e.orch.GenerateOne(context.Background(), 1))
	assert.True(e.store.Exists(1, artifacts.StageGenerated))

	text := "uno"
	seg, err := e.orch.UpdateSegment(1, batch.Update{Text: &text})
	assert.NoError(err)
	assert.Equal("uno", seg.Text)
	assert.Equal("en-US-AriaNeural", seg.Voice)
	assert.Equal(batch.StatusPending, seg.Status)
	assert.False(e.store.Exists(1, artifacts.StageGenerated))

	_, err = e.orch.UpdateSegment(4, batch.Update{Text: &text})
	assert.ErrorIs(err, batch.ErrNoSegment)
}

func TestRemoveSegmentReindexes(t *testing.T) {
	assert := require.New(t)
	e := newEnv(t, nil, "")

	_, err := e.orch.Load([]string{"one", "two", "three"}, "", dsp.DefaultConfig())
	assert.NoError(err)
	_, err = e.orch.GenerateAll(context.Background())
	assert.NoError(err)

	assert.NoError(e.orch.RemoveSegment(2))

	segs := e.orch.Segments()
	assert.Len(segs, 2)
	assert.Equal("one", segs[0].Text)
	assert.Equal(batch.StatusGenerated, segs[0].Status)
	assert.Equal("three", segs[1].Text)
	assert.Equal(2, segs[1].Index)
	assert.Equal(batch.StatusPending, segs[1].Status)

	assert.True(e.store.Exists(1, artifacts.StageGenerated))
	assert.False(e.store.Exists(2, artifacts.StageGenerated))
	assert.False(e.store.Exists(3, artifacts.StageGenerated))
}

func TestSaveAll(t *testing.T) {
	assert := require.New(t)
	e := newEnv(t, nil, "")

	_, err := e.orch.Load([]string{"Xin chào", "boom"}, "", dsp.DefaultConfig())
	assert.NoError(err)
	_, err = e.orch.GenerateAll(context.Background())
	assert.NoError(err)

	out := t.TempDir()
	sum, err := e.orch.SaveAll(context.Background(), out)
	assert.NoError(err)
	assert.Equal(1, sum.Succeeded)
	assert.Equal(1, sum.Skipped)

	assert.FileExists(filepath.Join(out, "01_Xin chao.wav"))

	err = e.orch.Save(context.Background(), 2, filepath.Join(out, "two.wav"))
	assert.ErrorIs(err, batch.ErrNotGenerated)

	err = e.orch.Save(context.Background(), 1, "s3://bucket/one.wav")
	assert.ErrorIs(err, batch.ErrNoExporter)
}

func TestPlaylist(t *testing.T) {
	assert := require.New(t)
	e := newEnv(t, nil, "")

	_, err := e.orch.Load([]string{"one", "", "three"}, "", dsp.DefaultConfig())
	assert.NoError(err)
	_, err = e.orch.GenerateAll(context.Background())
	assert.NoError(err)

	tracks, err := e.orch.Playlist()
	assert.NoError(err)
	assert.Len(tracks, 2)
	assert.Equal(1, tracks[0].Index)
	assert.Equal(3, tracks[1].Index)
	assert.InDelta(0.2, tracks[0].Duration.Seconds(), 0.01)
}

func TestPreview(t *testing.T) {
	assert := require.New(t)
	e := newEnv(t, nil, "")

	path, err := e.orch.Preview(context.Background(), "", "vi-VN-HoaiMyNeural", dsp.DefaultConfig())
	assert.NoError(err)
	assert.Equal(e.store.PreviewPath(), path)
	assert.FileExists(path)
	assert.Equal([]string{tts.SampleText("vi-VN-HoaiMyNeural")}, e.synth.texts)
	assert.Empty(e.orch.Segments())
}

func TestPrepareReference(t *testing.T) {
	assert := require.New(t)
	e := newEnv(t, nil, "")

	src := filepath.Join(t.TempDir(), "My Voice.wav")
	assert.NoError(e.synth.Synthesize(context.Background(), tts.Request{Text: "ref"}, src))

	dest, err := e.orch.PrepareReference(context.Background(), src, nil)
	assert.NoError(err)
	assert.Equal("My Voice.wav", filepath.Base(dest))
	assert.FileExists(dest)

	_, err = e.orch.PrepareReference(context.Background(), filepath.Join(t.TempDir(), "missing.wav"), nil)
	assert.ErrorIs(err, batch.ErrMissingReference)
}

func TestKind(t *testing.T) {
	assert := assert.New(t)

	assert.Equal("ok", batch.Kind(nil))
	assert.Equal("busy", batch.Kind(batch.ErrConversionBusy))
	assert.Equal("no_target", batch.Kind(conversion.ErrNoTargetSet))
	assert.Equal("canceled", batch.Kind(fmt.Errorf("x: %w", context.Canceled)))
	assert.Equal("unknown", batch.Kind(errors.New("?")))

	res := batch.ResultOf(batch.ErrMissingReference, "")
	assert.False(res.OK)
	assert.Equal("missing_reference", res.Kind)
	assert.True(batch.ResultOf(nil, "done").OK)
}

func TestSplitText(t *testing.T) {
	assert.Equal(t, []string{"a", "b c"}, batch.SplitText("a\r\n\n  b c  \n"))
}
