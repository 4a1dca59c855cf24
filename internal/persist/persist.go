// Package persist encodes frames and writes them to disk atomically.
package persist

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/junsooki/microscope/internal/encoder"
	"github.com/junsooki/microscope/internal/frame"
)

// Kind classifies save failures.
type Kind int

const (
	NoFrame Kind = iota
	EncodeFailed
	WriteFailed
	InvalidName
)

func (k Kind) String() string {
	switch k {
	case NoFrame:
		return "no frame"
	case EncodeFailed:
		return "encode failed"
	case WriteFailed:
		return "write failed"
	case InvalidName:
		return "invalid name"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error is returned by every Gate operation. Save failures never affect the
// streaming state.
type Error struct {
	Kind Kind
	Path string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Path != "" && e.Err != nil:
		return fmt.Sprintf("save %s: %s: %v", e.Path, e.Kind, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("save: %s: %v", e.Kind, e.Err)
	case e.Path != "":
		return fmt.Sprintf("save %s: %s", e.Path, e.Kind)
	}
	return "save: " + e.Kind.String()
}

func (e *Error) Unwrap() error { return e.Err }

var (
	// ErrNoFrame is wrapped by Save when nothing has been published yet.
	ErrNoFrame = errors.New("no frame has been captured yet")
	// ErrUnsafeName is wrapped by WriteFile for names that leave the
	// output directory.
	ErrUnsafeName = errors.New("file name must be relative and stay inside the output directory")
)

// fileMode is applied to every written file.
const fileMode = 0o644

// IsKind reports whether err is a persist error of kind k.
func IsKind(err error, k Kind) bool {
	var pe *Error
	return errors.As(err, &pe) && pe.Kind == k
}

// Gate resolves destinations under an output directory and writes files.
type Gate struct {
	dir     string
	quality int
	log     *slog.Logger
}

// NewGate creates a gate writing relative paths under dir. quality is the
// JPEG quality used by Save.
func NewGate(dir string, quality int, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{dir: dir, quality: quality, log: logger}
}

// Dir returns the output directory.
func (g *Gate) Dir() string { return g.dir }

// Resolve maps a file name to a destination path. Absolute paths are kept.
func (g *Gate) Resolve(name string) string {
	if filepath.IsAbs(name) {
		return filepath.Clean(name)
	}
	return filepath.Join(g.dir, name)
}

// Save encodes f into the container implied by dest's extension and writes
// it atomically. It returns the absolute destination path.
func (g *Gate) Save(f *frame.Frame, dest string) (string, error) {
	path := g.Resolve(dest)
	if f == nil {
		return "", &Error{Kind: NoFrame, Path: path, Err: ErrNoFrame}
	}

	data, err := g.Encode(f, path)
	if err != nil {
		return "", err
	}
	return g.write(path, data)
}

// Encode converts f into the container implied by path.
func (g *Gate) Encode(f *frame.Frame, path string) ([]byte, error) {
	enc, err := encoder.ForPath(path, g.quality)
	if err != nil {
		return nil, &Error{Kind: EncodeFailed, Path: path, Err: err}
	}
	img, err := f.RGBA()
	if err != nil {
		return nil, &Error{Kind: EncodeFailed, Path: path, Err: err}
	}
	data, err := enc.Encode(img)
	if err != nil {
		return nil, &Error{Kind: EncodeFailed, Path: path, Err: err}
	}
	return data, nil
}

// WriteFile writes already encoded bytes to name, which must be a local
// path inside the output directory.
func (g *Gate) WriteFile(name string, data []byte) (string, error) {
	if !filepath.IsLocal(name) {
		return "", &Error{Kind: InvalidName, Path: name, Err: ErrUnsafeName}
	}
	return g.write(g.Resolve(name), data)
}

// WriteTo writes already encoded bytes to dest without restricting it to
// the output directory. Only operator supplied destinations go here.
func (g *Gate) WriteTo(dest string, data []byte) (string, error) {
	return g.write(g.Resolve(dest), data)
}

func (g *Gate) write(path string, data []byte) (string, error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return "", &Error{Kind: WriteFailed, Path: path, Err: err}
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", &Error{Kind: WriteFailed, Path: path, Err: err}
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return "", &Error{Kind: WriteFailed, Path: path, Err: err}
	}
	if err := tmp.Chmod(fileMode); err != nil {
		tmp.Close()
		return "", &Error{Kind: WriteFailed, Path: path, Err: err}
	}
	if err := tmp.Close(); err != nil {
		return "", &Error{Kind: WriteFailed, Path: path, Err: err}
	}
	if err := os.Rename(tmpName, path); err != nil {
		return "", &Error{Kind: WriteFailed, Path: path, Err: err}
	}
	committed = true

	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	g.log.Info("file saved", "path", path, "bytes", len(data))
	return path, nil
}

// DefaultName returns a timestamped capture file name such as
// microscope_20240102_150405.jpg.
func DefaultName(t time.Time, ext string) string {
	return "microscope_" + t.Format("20060102_150405") + ext
}
