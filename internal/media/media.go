// Package media manages downloaded video files on local disk.
package media

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
)

var (
	ErrMissing  = errors.New("media file missing")
	ErrEmpty    = errors.New("media file empty")
	ErrNotVideo = errors.New("media file is not a video")
)

const defaultStem = "syntx"

var unsafeChars = regexp.MustCompile(`[^\p{L}\p{N}\-_ ]+`)

// Dir is the directory downloaded videos are written to.
type Dir struct {
	root string
}

// New ensures root exists and returns a Dir rooted there.
func New(root string) (*Dir, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve media dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create media dir: %w", err)
	}
	return &Dir{root: abs}, nil
}

func (d *Dir) Root() string { return d.root }

// NewPath returns a fresh, collision-free path for a download of title.
func (d *Dir) NewPath(title string) string {
	stem := SafeFileName(title)
	if stem == "" {
		stem = defaultStem
	}
	return filepath.Join(d.root, fmt.Sprintf("%s_%s.mp4", stem, uuid.NewString()))
}

// SafeFileName strips characters that are unsafe in file names and turns
// spaces into underscores. It may return "".
func SafeFileName(title string) string {
	s := unsafeChars.ReplaceAllString(strings.TrimSpace(title), "")
	s = strings.Join(strings.Fields(s), "_")
	if len(s) > 100 {
		s = strings.TrimRight(truncateRunes(s, 100), "_")
	}
	return s
}

// UploadName is the remote file name for a job's video.
func UploadName(title string, jobID uuid.UUID, now time.Time) string {
	if stem := SafeFileName(title); stem != "" {
		return stem + ".mp4"
	}
	return fmt.Sprintf("video_%s_%d.mp4", jobID, now.UnixMilli())
}

// Verify checks that path is a non-empty file whose content looks like video.
func Verify(path string) error {
	if err := CheckFile(path); err != nil {
		return err
	}

	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return fmt.Errorf("detect content type: %w", err)
	}
	if !strings.HasPrefix(mt.String(), "video/") {
		return fmt.Errorf("%w: %s is %s", ErrNotVideo, path, mt.String())
	}
	return nil
}

// CheckFile checks that path is an existing, non-empty regular file.
func CheckFile(path string) error {
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrMissing, path)
	}
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%w: %s is a directory", ErrMissing, path)
	}
	if info.Size() == 0 {
		return fmt.Errorf("%w: %s", ErrEmpty, path)
	}
	return nil
}

// Exists reports whether path names an existing regular file.
func Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// Remove deletes path, ignoring a file that is already gone.
func Remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
