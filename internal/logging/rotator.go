package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"
)

// rotatedTimeLayout names rotated files so they sort chronologically.
const rotatedTimeLayout = "20060102-150405"

// FileRotator is an io.Writer that rotates the log file when it grows
// past the configured size or crosses a day boundary. Rotated files get
// a timestamp suffix and are optionally gzip compressed; old rotations
// are pruned by count and by age.
type FileRotator struct {
	path       string
	maxBytes   int64
	maxBackups int
	maxAge     time.Duration
	compress   bool

	mu      sync.Mutex
	file    *os.File
	written int64
	// dayEnd is the next midnight after the current file was opened.
	dayEnd time.Time
}

// NewFileRotator opens the log file, creating its directory when
// needed.
func NewFileRotator(cfg *Config) (*FileRotator, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0o750); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	r := &FileRotator{
		path:       cfg.FilePath,
		maxBytes:   int64(cfg.MaxSizeMB) * 1024 * 1024,
		maxBackups: cfg.MaxBackups,
		maxAge:     time.Duration(cfg.MaxAgeDays) * 24 * time.Hour,
		compress:   cfg.Compress,
	}
	if err := r.open(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *FileRotator) open() error {
	f, err := os.OpenFile(r.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat log file: %w", err)
	}

	now := time.Now()
	r.file = f
	r.written = info.Size()
	r.dayEnd = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()).Add(24 * time.Hour)
	return nil
}

// Write appends to the current file, rotating first when the entry
// would push it past the size limit or lands on a new day.
func (r *FileRotator) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file == nil {
		if err := r.open(); err != nil {
			return 0, err
		}
	}

	if r.written+int64(len(p)) > r.maxBytes || !time.Now().Before(r.dayEnd) {
		if err := r.rotate(); err != nil {
			return 0, fmt.Errorf("rotate log: %w", err)
		}
	}

	n, err := r.file.Write(p)
	r.written += int64(n)
	return n, err
}

// rotate renames the current file aside and reopens a fresh one.
// Compression and pruning run off the hot path.
func (r *FileRotator) rotate() error {
	if r.file != nil {
		if err := r.file.Close(); err != nil {
			return fmt.Errorf("close current log: %w", err)
		}
		r.file = nil
	}

	rotated := r.rotatedName(time.Now())
	if err := os.Rename(r.path, rotated); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("rename log file: %w", err)
	}

	go r.maintain(rotated)

	return r.open()
}

// rotatedName builds the timestamped sibling path for a rotation at t.
func (r *FileRotator) rotatedName(t time.Time) string {
	ext := filepath.Ext(r.path)
	stem := strings.TrimSuffix(r.path, ext)
	return fmt.Sprintf("%s-%s%s", stem, t.Format(rotatedTimeLayout), ext)
}

// maintain compresses the freshly rotated file and prunes old
// rotations. Failures are swallowed; maintenance must never take the
// logger down.
func (r *FileRotator) maintain(rotated string) {
	if r.compress {
		if err := gzipFile(rotated); err == nil {
			os.Remove(rotated)
		}
	}
	r.prune()
}

func gzipFile(path string) error {
	in, err := os.Open(path)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(path + ".gz")
	if err != nil {
		return err
	}

	gz := gzip.NewWriter(out)
	gz.Name = filepath.Base(path)
	_, copyErr := io.Copy(gz, in)
	closeErr := gz.Close()
	out.Close()

	if copyErr != nil || closeErr != nil {
		os.Remove(path + ".gz")
		if copyErr != nil {
			return copyErr
		}
		return closeErr
	}
	return nil
}

// prune drops the oldest rotations beyond the backup count and any
// rotation older than the retention window.
func (r *FileRotator) prune() {
	ext := filepath.Ext(r.path)
	stem := strings.TrimSuffix(r.path, ext)
	matches, err := filepath.Glob(stem + "-*" + ext + "*")
	if err != nil {
		return
	}

	type rotation struct {
		path string
		mod  time.Time
	}
	old := make([]rotation, 0, len(matches))
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil {
			continue
		}
		old = append(old, rotation{path: m, mod: info.ModTime()})
	}
	sort.Slice(old, func(i, j int) bool { return old[i].mod.Before(old[j].mod) })

	for len(old) > r.maxBackups {
		os.Remove(old[0].path)
		old = old[1:]
	}

	if r.maxAge <= 0 {
		return
	}
	cutoff := time.Now().Add(-r.maxAge)
	for _, f := range old {
		if f.mod.Before(cutoff) {
			os.Remove(f.path)
		}
	}
}

// Close closes the current file. A later Write reopens it.
func (r *FileRotator) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}

// Sync flushes the current file to stable storage.
func (r *FileRotator) Sync() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file == nil {
		return nil
	}
	return r.file.Sync()
}
