package artifacts

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"

	"github.com/dchest/uniuri"
	"golang.org/x/exp/slices"
)

var (
	ErrArtifactIO = errors.New("artifact io failed")
	ErrNotFound   = errors.New("artifact not found")
)

type Config struct {
	WorkDir     string `yaml:"work_dir" env:"WORK_DIR"`
	CleanOnExit bool   `yaml:"clean_on_exit" env:"CLEAN_ON_EXIT"`
}

type Stage int

const (
	StageRaw Stage = iota
	StageGenerated
	StageConverted
	StageEmbeddingProxy
)

func (s Stage) String() string {
	switch s {
	case StageRaw:
		return "raw"
	case StageGenerated:
		return "generated"
	case StageConverted:
		return "converted"
	case StageEmbeddingProxy:
		return "embedding_proxy"
	default:
		return "unknown"
	}
}

var stages = []Stage{StageRaw, StageGenerated, StageConverted, StageEmbeddingProxy}

// FileSystem is the subset of os the store mutates through.
type FileSystem interface {
	Rename(oldpath, newpath string) error
	Remove(name string) error
	Stat(name string) (fs.FileInfo, error)
}

type osFS struct{}

func (osFS) Rename(oldpath, newpath string) error  { return os.Rename(oldpath, newpath) }
func (osFS) Remove(name string) error              { return os.Remove(name) }
func (osFS) Stat(name string) (fs.FileInfo, error) { return os.Stat(name) }

// Store owns a flat working directory where every file is addressed by
// segment index and stage. Generated and converted slots hold at most one file.
type Store struct {
	dir    string
	fs     FileSystem
	logger *slog.Logger
}

func New(dir string, fsys FileSystem, logger *slog.Logger) (*Store, error) {
	if fsys == nil {
		fsys = osFS{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("%w: create work dir: %w", ErrArtifactIO, err)
	}

	return &Store{
		dir:    dir,
		fs:     fsys,
		logger: logger,
	}, nil
}

func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) PathFor(index int, stage Stage) string {
	i := strconv.Itoa(index)

	var name string
	switch stage {
	case StageRaw:
		name = "raw_" + i + ".mp3"
	case StageConverted:
		name = "cloned_" + i + ".wav"
	case StageEmbeddingProxy:
		name = "se_source_" + i + ".wav"
	default:
		name = i + ".wav"
	}

	return filepath.Join(s.dir, name)
}

func (s *Store) PreviewPath() string {
	return filepath.Join(s.dir, "preview.wav")
}

func (s *Store) tempPath(target string) string {
	return filepath.Join(s.dir, "."+filepath.Base(target)+"."+uniuri.NewLen(8)+".tmp")
}

// Create lets write produce the artifact at a scratch path and moves it into
// place only if write succeeded.
func (s *Store) Create(index int, stage Stage, write func(path string) error) error {
	return s.createAt(s.PathFor(index, stage), write)
}

func (s *Store) CreatePreview(write func(path string) error) error {
	return s.createAt(s.PreviewPath(), write)
}

func (s *Store) createAt(target string, write func(path string) error) error {
	tmp := s.tempPath(target)

	if err := write(tmp); err != nil {
		_ = s.fs.Remove(tmp)
		return err
	}

	if err := s.fs.Rename(tmp, target); err != nil {
		_ = s.fs.Remove(tmp)
		return fmt.Errorf("%w: move %s into place: %w", ErrArtifactIO, filepath.Base(target), err)
	}

	return nil
}

// Write stores data under (index, stage), replacing any previous file.
func (s *Store) Write(index int, stage Stage, data []byte) error {
	return s.Create(index, stage, func(path string) error {
		if err := os.WriteFile(path, data, 0644); err != nil {
			return fmt.Errorf("%w: write %s: %w", ErrArtifactIO, stage, err)
		}
		return nil
	})
}

func (s *Store) Exists(index int, stage Stage) bool {
	_, err := s.fs.Stat(s.PathFor(index, stage))
	return err == nil
}

// Promote replaces the generated artifact with the converted one. Either the
// converted file ends up canonical or the generated file is left as it was.
func (s *Store) Promote(index int) error {
	generated := s.PathFor(index, StageGenerated)
	converted := s.PathFor(index, StageConverted)

	if _, err := s.fs.Stat(converted); err != nil {
		return fmt.Errorf("%w: promote segment %d: %w", ErrArtifactIO, index, ErrNotFound)
	}

	backup := ""
	if _, err := s.fs.Stat(generated); err == nil {
		backup = s.tempPath(generated)
		if err := s.fs.Rename(generated, backup); err != nil {
			return fmt.Errorf("%w: back up generated %d: %w", ErrArtifactIO, index, err)
		}
	}

	if err := s.fs.Rename(converted, generated); err != nil {
		if backup != "" {
			if restoreErr := s.fs.Rename(backup, generated); restoreErr != nil {
				s.logger.Error("failed to restore generated artifact", "index", index, "err", restoreErr)
			}
		}
		return fmt.Errorf("%w: promote segment %d: %w", ErrArtifactIO, index, err)
	}

	if backup != "" {
		if err := s.fs.Remove(backup); err != nil {
			s.logger.Warn("failed to remove promotion backup", "index", index, "err", err)
		}
	}

	return nil
}

func (s *Store) Remove(index int, stage Stage) error {
	err := s.fs.Remove(s.PathFor(index, stage))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: remove %s %d: %w", ErrArtifactIO, stage, index, err)
	}
	return nil
}

// Purge removes every stage of a segment. Used whenever indices get reassigned.
func (s *Store) Purge(index int) error {
	var errs []error
	for _, stage := range stages {
		if err := s.Remove(index, stage); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Clean empties the working directory.
func (s *Store) Clean() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("%w: read work dir: %w", ErrArtifactIO, err)
	}

	var errs []error
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(s.dir, e.Name())); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: clean: %w", ErrArtifactIO, errors.Join(errs...))
	}

	return nil
}

var canonicalName = regexp.MustCompile(`^(\d+)\.wav$`)

// Indices lists segments that currently have a canonical artifact, ascending.
func (s *Store) Indices() ([]int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("%w: read work dir: %w", ErrArtifactIO, err)
	}

	var out []int
	for _, e := range entries {
		m := canonicalName.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		i, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		out = append(out, i)
	}
	slices.Sort(out)

	return out, nil
}

// Export copies the canonical artifact of a segment to dest. dest is written
// through a scratch file in its own directory and renamed when complete.
func (s *Store) Export(index int, dest string) error {
	src := s.PathFor(index, StageGenerated)

	in, err := os.Open(src)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: segment %d: %w", ErrArtifactIO, index, ErrNotFound)
		}
		return fmt.Errorf("%w: open %d: %w", ErrArtifactIO, index, err)
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return fmt.Errorf("%w: create export dir: %w", ErrArtifactIO, err)
	}

	tmp := filepath.Join(filepath.Dir(dest), "."+filepath.Base(dest)+"."+uniuri.NewLen(8)+".tmp")
	out, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("%w: create export: %w", ErrArtifactIO, err)
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(tmp)
		return fmt.Errorf("%w: copy export: %w", ErrArtifactIO, err)
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("%w: close export: %w", ErrArtifactIO, err)
	}

	if err := s.fs.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("%w: move export: %w", ErrArtifactIO, err)
	}

	return nil
}
