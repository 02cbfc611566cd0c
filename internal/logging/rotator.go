package logging

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"
)

// FileRotator is an io.Writer over a log file that rolls the file over once
// it would exceed Config.MaxSize megabytes. Rolled files are named
// <name>-<timestamp>.<n><ext> and optionally gzipped.
type FileRotator struct {
	path       string
	maxBytes   int64
	maxBackups int
	maxAge     time.Duration
	compress   bool

	mu   sync.Mutex
	file *os.File
	size int64
	seq  int

	// pending tracks background compression so Close can wait for it.
	pending sync.WaitGroup

	now func() time.Time
}

// NewFileRotator opens (or creates) the log file named by cfg.FilePath.
func NewFileRotator(cfg *Config) (*FileRotator, error) {
	if cfg.FilePath == "" {
		return nil, fmt.Errorf("log file path is empty")
	}
	maxSize := cfg.MaxSize
	if maxSize <= 0 {
		maxSize = 10
	}

	r := &FileRotator{
		path:       cfg.FilePath,
		maxBytes:   maxSize * 1024 * 1024,
		maxBackups: cfg.MaxBackups,
		maxAge:     time.Duration(cfg.MaxAge) * 24 * time.Hour,
		compress:   cfg.Compress,
		now:        time.Now,
	}

	if err := os.MkdirAll(filepath.Dir(r.path), 0o750); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
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
	r.file = f
	r.size = info.Size()
	return nil
}

// Write implements io.Writer. A single write larger than the limit is
// written whole into a fresh file.
func (r *FileRotator) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file == nil {
		if err := r.open(); err != nil {
			return 0, err
		}
	}

	if r.size > 0 && r.size+int64(len(p)) > r.maxBytes {
		if err := r.rotate(); err != nil {
			return 0, fmt.Errorf("rotate log: %w", err)
		}
	}

	n, err := r.file.Write(p)
	r.size += int64(n)
	return n, err
}

func (r *FileRotator) rotate() error {
	if err := r.file.Close(); err != nil {
		return fmt.Errorf("close current log: %w", err)
	}
	r.file = nil

	r.seq++
	dir, name, ext := r.split()
	rolled := filepath.Join(dir, fmt.Sprintf("%s-%s.%d%s", name, r.now().Format("20060102-150405"), r.seq, ext))

	if err := os.Rename(r.path, rolled); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("rename log file: %w", err)
	}

	if r.compress {
		r.pending.Add(1)
		go func() {
			defer r.pending.Done()
			gzipFile(rolled)
			r.prune()
		}()
	} else {
		r.prune()
	}

	return r.open()
}

func (r *FileRotator) split() (dir, name, ext string) {
	base := filepath.Base(r.path)
	ext = filepath.Ext(base)
	return filepath.Dir(r.path), strings.TrimSuffix(base, ext), ext
}

// gzipFile replaces path with path.gz. On any failure the original is kept.
func gzipFile(path string) {
	in, err := os.Open(path)
	if err != nil {
		return
	}
	defer in.Close()

	out, err := os.Create(path + ".gz")
	if err != nil {
		return
	}

	gz := gzip.NewWriter(out)
	gz.Name = filepath.Base(path)
	_, err = io.Copy(gz, in)
	if cerr := gz.Close(); err == nil {
		err = cerr
	}
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path + ".gz")
		return
	}
	os.Remove(path)
}

// prune enforces MaxBackups and MaxAge over the rolled files.
func (r *FileRotator) prune() {
	backups, err := r.Backups()
	if err != nil {
		return
	}

	type rolled struct {
		path string
		mod  time.Time
	}
	files := make([]rolled, 0, len(backups))
	for _, p := range backups {
		info, err := os.Stat(p)
		if err != nil {
			continue
		}
		files = append(files, rolled{p, info.ModTime()})
	}
	// newest first
	slices.SortFunc(files, func(a, b rolled) int { return b.mod.Compare(a.mod) })

	cutoff := r.now().Add(-r.maxAge)
	for i, f := range files {
		tooMany := r.maxBackups > 0 && i >= r.maxBackups
		tooOld := r.maxAge > 0 && f.mod.Before(cutoff)
		if tooMany || tooOld {
			os.Remove(f.path)
		}
	}
}

// Backups lists rolled files, compressed or not.
func (r *FileRotator) Backups() ([]string, error) {
	dir, name, ext := r.split()
	matches, err := filepath.Glob(filepath.Join(dir, name+"-*"+ext+"*"))
	if err != nil {
		return nil, err
	}
	return matches, nil
}

// Sync flushes the current file.
func (r *FileRotator) Sync() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return nil
	}
	return r.file.Sync()
}

// Close waits for background compression and closes the current file.
func (r *FileRotator) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.pending.Wait()
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}
