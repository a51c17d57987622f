package conversion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"voicestudio/pkg/wavfile"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var (
	ErrModelLoad           = errors.New("model load failed")
	ErrEmbeddingExtraction = errors.New("embedding extraction failed")
	ErrConversion          = errors.New("conversion failed")
	ErrNoTargetSet         = errors.New("no target voice set")
	ErrSessionClosed       = errors.New("session is closed")
)

var tracer = otel.Tracer("voicestudio/conversion")

// Model is a loaded tone color converter.
type Model interface {
	ExtractEmbedding(ctx context.Context, audioPath string) ([]float32, error)
	Convert(ctx context.Context, sourcePath string, sourceSE, targetSE []float32, tau float64, outputPath string) error
	Close() error
}

type Loader interface {
	Load(ctx context.Context) (Model, error)
}

type LoaderFunc func(ctx context.Context) (Model, error)

func (f LoaderFunc) Load(ctx context.Context) (Model, error) {
	return f(ctx)
}

type Config struct {
	Tau                  float64       `yaml:"tau" env:"TAU"`
	MinEmbeddingDuration time.Duration `yaml:"min_embedding_duration" env:"MIN_EMBEDDING_DURATION"`
	RepeatFactor         int           `yaml:"repeat_factor" env:"REPEAT_FACTOR"`
}

func (c Config) withDefaults() Config {
	if c.Tau <= 0 {
		c.Tau = 0.3
	}
	if c.MinEmbeddingDuration <= 0 {
		c.MinEmbeddingDuration = 10 * time.Second
	}
	if c.RepeatFactor < 2 {
		c.RepeatFactor = 5
	}
	return c
}

// Session owns one loaded model for the length of a conversion run and caches
// the embedding of the target voice. Calls are serialized.
type Session struct {
	cfg    Config
	model  Model
	logger *slog.Logger

	mu         sync.Mutex
	target     []float32
	targetPath string
	closed     bool
}

func Open(ctx context.Context, loader Loader, cfg Config, logger *slog.Logger) (*Session, error) {
	ctx, span := tracer.Start(ctx, "conversion.Open")
	defer span.End()

	start := time.Now()
	model, err := loader.Load(ctx)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("%w: %w", ErrModelLoad, err)
	}

	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("tone model loaded", "took", time.Since(start))

	return &Session{
		cfg:    cfg.withDefaults(),
		model:  model,
		logger: logger,
	}, nil
}

// ProxyPathFor names the tiled copy used for embedding extraction: se_source_<name>.
func ProxyPathFor(sourcePath string) string {
	return filepath.Join(filepath.Dir(sourcePath), "se_source_"+filepath.Base(sourcePath))
}

// SetTarget extracts the reference voice embedding, replacing any cached one.
// The old target is dropped before extraction so a failure leaves no target.
func (s *Session) SetTarget(ctx context.Context, referencePath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSessionClosed
	}

	s.target = nil
	s.targetPath = ""

	ctx, span := tracer.Start(ctx, "conversion.SetTarget")
	defer span.End()

	if _, err := os.Stat(referencePath); err != nil {
		return fmt.Errorf("%w: reference %s: %w", ErrEmbeddingExtraction, referencePath, err)
	}

	se, err := s.model.ExtractEmbedding(ctx, referencePath)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("%w: reference %s: %w", ErrEmbeddingExtraction, referencePath, err)
	}

	s.target = se
	s.targetPath = referencePath

	return nil
}

// TargetPath is the reference the cached embedding came from, empty if none.
func (s *Session) TargetPath() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.targetPath
}

// Convert re-voices sourcePath into outputPath using the cached target.
// Short sources are tiled into a proxy file for embedding extraction only;
// the conversion itself always runs on the untiled source.
func (s *Session) Convert(ctx context.Context, sourcePath, outputPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSessionClosed
	}
	if s.target == nil {
		return ErrNoTargetSet
	}

	ctx, span := tracer.Start(ctx, "conversion.Convert")
	span.SetAttributes(attribute.String("source", filepath.Base(sourcePath)))
	defer span.End()

	sourceSE, err := s.sourceEmbedding(ctx, sourcePath)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	if err := s.model.Convert(ctx, sourcePath, sourceSE, s.target, s.cfg.Tau, outputPath); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("%w: %s: %w", ErrConversion, filepath.Base(sourcePath), err)
	}

	if fi, err := os.Stat(outputPath); err != nil || fi.Size() == 0 {
		os.Remove(outputPath)
		return fmt.Errorf("%w: %s: model wrote no output", ErrConversion, filepath.Base(sourcePath))
	}

	return nil
}

func (s *Session) sourceEmbedding(ctx context.Context, sourcePath string) ([]float32, error) {
	buf, err := wavfile.DecodeFile(sourcePath)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEmbeddingExtraction, err)
	}

	dur := buf.Duration()
	if dur <= 0 {
		return nil, fmt.Errorf("%w: %s is empty", ErrEmbeddingExtraction, filepath.Base(sourcePath))
	}

	embedPath := sourcePath
	if dur < s.cfg.MinEmbeddingDuration {
		reps := max(s.cfg.RepeatFactor, int(math.Ceil(float64(s.cfg.MinEmbeddingDuration)/float64(dur))))

		embedPath = ProxyPathFor(sourcePath)
		defer os.Remove(embedPath)

		if err := wavfile.EncodeFile(embedPath, wavfile.Tile(buf, reps)); err != nil {
			return nil, fmt.Errorf("%w: write proxy: %w", ErrEmbeddingExtraction, err)
		}

		s.logger.Debug("tiled short source for embedding", "source", filepath.Base(sourcePath), "duration", dur, "repeats", reps)
	}

	se, err := s.model.ExtractEmbedding(ctx, embedPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrEmbeddingExtraction, filepath.Base(sourcePath), err)
	}

	return se, nil
}

// Close releases the model. Further calls on the session fail with ErrSessionClosed.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.target = nil

	if err := s.model.Close(); err != nil {
		return fmt.Errorf("close model: %w", err)
	}

	return nil
}
