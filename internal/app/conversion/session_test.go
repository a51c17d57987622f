package conversion_test

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"voicestudio/internal/app/conversion"
	"voicestudio/pkg/dsp"
	"voicestudio/pkg/wavfile"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var _ conversion.Model = &mockModel{}

type mockModel struct {
	mock.Mock

	proxyDurations []time.Duration
}

func (m *mockModel) ExtractEmbedding(ctx context.Context, audioPath string) ([]float32, error) {
	if dur, err := wavfile.Duration(audioPath); err == nil {
		m.proxyDurations = append(m.proxyDurations, dur)
	}
	args := m.Called(ctx, audioPath)
	se, _ := args.Get(0).([]float32)
	return se, args.Error(1)
}

func (m *mockModel) Convert(ctx context.Context, sourcePath string, sourceSE, targetSE []float32, tau float64, outputPath string) error {
	args := m.Called(ctx, sourcePath, sourceSE, targetSE, tau, outputPath)
	if args.Error(0) == nil {
		data, err := os.ReadFile(sourcePath)
		if err != nil {
			return err
		}
		if err := os.WriteFile(outputPath, data, 0644); err != nil {
			return err
		}
	}
	return args.Error(0)
}

func (m *mockModel) Close() error {
	return m.Called().Error(0)
}

func writeTone(t *testing.T, path string, seconds float64) {
	const sr = 16000
	buf := dsp.NewBuffer(sr, 1, int(seconds*sr))
	for i := range buf.Channels[0] {
		buf.Channels[0][i] = 0.3 * math.Sin(2*math.Pi*300*float64(i)/sr)
	}
	require.NoError(t, wavfile.EncodeFile(path, buf))
}

func open(t *testing.T, model *mockModel, cfg conversion.Config) *conversion.Session {
	loader := conversion.LoaderFunc(func(ctx context.Context) (conversion.Model, error) {
		return model, nil
	})
	session, err := conversion.Open(context.Background(), loader, cfg, nil)
	require.NoError(t, err)
	return session
}

var (
	targetSE = []float32{1, 2, 3}
	sourceSE = []float32{4, 5, 6}
)

func TestConvertTilesShortSource(t *testing.T) {
	assert := require.New(t)
	dir := t.TempDir()

	ref := filepath.Join(dir, "ref.wav")
	src := filepath.Join(dir, "3.wav")
	out := filepath.Join(dir, "cloned_3.wav")
	writeTone(t, ref, 2)
	writeTone(t, src, 1)

	model := &mockModel{}
	model.On("ExtractEmbedding", mock.Anything, ref).Return(targetSE, nil).Once()
	model.On("ExtractEmbedding", mock.Anything, filepath.Join(dir, "se_source_3.wav")).Return(sourceSE, nil).Once()
	model.On("Convert", mock.Anything, src, sourceSE, targetSE, 0.3, out).Return(nil).Once()
	model.On("Close").Return(nil).Once()

	session := open(t, model, conversion.Config{MinEmbeddingDuration: 3 * time.Second})

	assert.NoError(session.SetTarget(context.Background(), ref))
	assert.Equal(ref, session.TargetPath())
	assert.NoError(session.Convert(context.Background(), src, out))

	// 1s source, factor 5 -> 5s proxy, over the 3s floor
	assert.Len(model.proxyDurations, 2)
	assert.GreaterOrEqual(model.proxyDurations[1], 3*time.Second)
	assert.Equal(5*time.Second, model.proxyDurations[1])
	assert.NoFileExists(conversion.ProxyPathFor(src))

	outDur, err := wavfile.Duration(out)
	assert.NoError(err)
	assert.Equal(time.Second, outDur)

	assert.NoError(session.Close())
	assert.NoError(session.Close())
	model.AssertExpectations(t)
}

func TestConvertRaisesRepeatsForVeryShortSource(t *testing.T) {
	assert := require.New(t)
	dir := t.TempDir()

	ref := filepath.Join(dir, "ref.wav")
	src := filepath.Join(dir, "1.wav")
	writeTone(t, ref, 1)
	writeTone(t, src, 0.5)

	model := &mockModel{}
	model.On("ExtractEmbedding", mock.Anything, mock.Anything).Return(sourceSE, nil)
	model.On("Convert", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)

	session := open(t, model, conversion.Config{MinEmbeddingDuration: 10 * time.Second})
	assert.NoError(session.SetTarget(context.Background(), ref))
	assert.NoError(session.Convert(context.Background(), src, filepath.Join(dir, "cloned_1.wav")))

	assert.GreaterOrEqual(model.proxyDurations[len(model.proxyDurations)-1], 10*time.Second)
}

func TestConvertLongSourceIsNotTiled(t *testing.T) {
	assert := require.New(t)
	dir := t.TempDir()

	ref := filepath.Join(dir, "ref.wav")
	src := filepath.Join(dir, "2.wav")
	writeTone(t, ref, 1)
	writeTone(t, src, 2)

	model := &mockModel{}
	model.On("ExtractEmbedding", mock.Anything, ref).Return(targetSE, nil)
	model.On("ExtractEmbedding", mock.Anything, src).Return(sourceSE, nil).Once()
	model.On("Convert", mock.Anything, src, sourceSE, targetSE, 0.7, mock.Anything).Return(nil)

	session := open(t, model, conversion.Config{Tau: 0.7, MinEmbeddingDuration: time.Second})
	assert.NoError(session.SetTarget(context.Background(), ref))
	assert.NoError(session.Convert(context.Background(), src, filepath.Join(dir, "cloned_2.wav")))
	model.AssertExpectations(t)
}

func TestConvertWithoutTarget(t *testing.T) {
	model := &mockModel{}
	session := open(t, model, conversion.Config{})

	err := session.Convert(context.Background(), "1.wav", "cloned_1.wav")
	require.ErrorIs(t, err, conversion.ErrNoTargetSet)
	model.AssertNotCalled(t, "ExtractEmbedding", mock.Anything, mock.Anything)
}

func TestSetTargetFailureInvalidatesPrevious(t *testing.T) {
	assert := require.New(t)
	dir := t.TempDir()

	good := filepath.Join(dir, "good.wav")
	bad := filepath.Join(dir, "bad.wav")
	writeTone(t, good, 1)
	writeTone(t, bad, 1)

	model := &mockModel{}
	model.On("ExtractEmbedding", mock.Anything, good).Return(targetSE, nil)
	model.On("ExtractEmbedding", mock.Anything, bad).Return(nil, errors.New("no speech"))

	session := open(t, model, conversion.Config{})
	assert.NoError(session.SetTarget(context.Background(), good))

	err := session.SetTarget(context.Background(), bad)
	assert.ErrorIs(err, conversion.ErrEmbeddingExtraction)
	assert.Empty(session.TargetPath())
	assert.ErrorIs(session.Convert(context.Background(), good, filepath.Join(dir, "out.wav")), conversion.ErrNoTargetSet)

	err = session.SetTarget(context.Background(), filepath.Join(dir, "missing.wav"))
	assert.ErrorIs(err, conversion.ErrEmbeddingExtraction)
}

func TestConvertModelFailure(t *testing.T) {
	assert := require.New(t)
	dir := t.TempDir()

	ref := filepath.Join(dir, "ref.wav")
	src := filepath.Join(dir, "4.wav")
	writeTone(t, ref, 1)
	writeTone(t, src, 1)

	model := &mockModel{}
	model.On("ExtractEmbedding", mock.Anything, mock.Anything).Return(sourceSE, nil)
	model.On("Convert", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(errors.New("nan in decoder"))

	session := open(t, model, conversion.Config{})
	assert.NoError(session.SetTarget(context.Background(), ref))

	err := session.Convert(context.Background(), src, filepath.Join(dir, "cloned_4.wav"))
	assert.ErrorIs(err, conversion.ErrConversion)
	assert.NoFileExists(conversion.ProxyPathFor(src))
}

func TestClosedSession(t *testing.T) {
	assert := require.New(t)

	model := &mockModel{}
	model.On("Close").Return(nil).Once()

	session := open(t, model, conversion.Config{})
	assert.NoError(session.Close())

	assert.ErrorIs(session.SetTarget(context.Background(), "ref.wav"), conversion.ErrSessionClosed)
	assert.ErrorIs(session.Convert(context.Background(), "1.wav", "out.wav"), conversion.ErrSessionClosed)
	model.AssertNumberOfCalls(t, "Close", 1)
}

func TestOpenFailure(t *testing.T) {
	loader := conversion.LoaderFunc(func(ctx context.Context) (conversion.Model, error) {
		return nil, errors.New("checkpoint missing")
	})

	_, err := conversion.Open(context.Background(), loader, conversion.Config{}, nil)
	require.ErrorIs(t, err, conversion.ErrModelLoad)
}
