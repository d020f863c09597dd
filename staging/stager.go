package staging

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
	"golang.org/x/sys/unix"
)

// ErrInvalidImage is returned when resizing is enabled and the frame cannot be decoded.
var ErrInvalidImage = errors.New("frame is not a decodable image")

// StorageError reports a failure to persist the staged frame.
type StorageError struct {
	Path  string
	Cause error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("stage frame %s: %v", e.Path, e.Cause)
}

func (e *StorageError) Unwrap() error {
	return e.Cause
}

type Config struct {
	WorkDir   string
	InputName string
	// ResizeWidth and ResizeHeight re-encode the frame at the accelerator's input
	// size. Zero width keeps the received bytes untouched; zero height keeps
	// the aspect ratio. Boxes reported for a resized frame are in the resized
	// frame's coordinates.
	ResizeWidth  int
	ResizeHeight int
	// MinFreeBytes refuses to stage when the work dir's filesystem has less
	// space available. Zero disables the check.
	MinFreeBytes uint64
}

// Stager writes inbound frames to a single well-known file. Callers must
// serialize Save; the file is overwritten on every call.
type Stager struct {
	cfg  Config
	path string
}

func NewStager(cfg Config) *Stager {
	return &Stager{
		cfg:  cfg,
		path: filepath.Join(cfg.WorkDir, cfg.InputName),
	}
}

// Path returns the fixed location of the staged frame.
func (s *Stager) Path() string {
	return s.path
}

// Save writes frame to the staged path and returns that path.
func (s *Stager) Save(frame []byte) (string, error) {
	if s.cfg.MinFreeBytes > 0 {
		free, err := availableBytes(s.cfg.WorkDir)
		if err != nil {
			return "", &StorageError{Path: s.path, Cause: err}
		}
		if free < s.cfg.MinFreeBytes {
			return "", &StorageError{
				Path:  s.path,
				Cause: fmt.Errorf("only %d bytes free, need %d", free, s.cfg.MinFreeBytes),
			}
		}
	}

	if s.cfg.ResizeWidth > 0 {
		if err := s.saveResized(frame); err != nil {
			return "", err
		}
		return s.path, nil
	}

	if err := os.WriteFile(s.path, frame, 0644); err != nil {
		return "", &StorageError{Path: s.path, Cause: err}
	}
	return s.path, nil
}

func (s *Stager) saveResized(frame []byte) error {
	img, err := imaging.Decode(bytes.NewReader(frame), imaging.AutoOrientation(true))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}

	resized := imaging.Resize(img, s.cfg.ResizeWidth, s.cfg.ResizeHeight, imaging.Linear)

	format, err := imaging.FormatFromFilename(s.path)
	if err != nil {
		format = imaging.JPEG
	}

	f, err := os.Create(s.path)
	if err != nil {
		return &StorageError{Path: s.path, Cause: err}
	}
	if err := imaging.Encode(f, resized, format); err != nil {
		f.Close()
		return &StorageError{Path: s.path, Cause: err}
	}
	if err := f.Close(); err != nil {
		return &StorageError{Path: s.path, Cause: err}
	}
	return nil
}

func availableBytes(dir string) (uint64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(dir, &stat); err != nil {
		return 0, fmt.Errorf("statfs %s: %w", dir, err)
	}
	return stat.Bavail * uint64(stat.Bsize), nil
}
