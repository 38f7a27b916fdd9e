// Package eventlog persists bridge events as JSON Lines with daily rotation,
// size caps and retention cleanup.
package eventlog

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/Sentinel-Gate/sentinel-bridge/internal/domain/audit"
)

const dateLayout = "2006-01-02"

// Defaults applied by NewFileStore.
const (
	DefaultRetentionDays = 7
	DefaultMaxFileSizeMB = 100
)

// fileInfo holds the parsed name of an event file.
type fileInfo struct {
	name   string
	date   string
	suffix int
}

// filePattern matches events-YYYY-MM-DD.jsonl or events-YYYY-MM-DD-N.jsonl.
var filePattern = regexp.MustCompile(`^events-(\d{4}-\d{2}-\d{2})(?:-(\d+))?\.jsonl$`)

func parseFilename(name string) (fileInfo, bool) {
	m := filePattern.FindStringSubmatch(name)
	if m == nil {
		return fileInfo{}, false
	}
	info := fileInfo{name: name, date: m[1]}
	if m[2] != "" {
		n, err := strconv.Atoi(m[2])
		if err != nil {
			return fileInfo{}, false
		}
		info.suffix = n
	}
	return info, true
}

func buildFilename(date string, suffix int) string {
	if suffix == 0 {
		return fmt.Sprintf("events-%s.jsonl", date)
	}
	return fmt.Sprintf("events-%s-%d.jsonl", date, suffix)
}

// sortFiles orders files by date then suffix (chronological order).
func sortFiles(files []fileInfo) {
	sort.Slice(files, func(i, j int) bool {
		if files[i].date != files[j].date {
			return files[i].date < files[j].date
		}
		return files[i].suffix < files[j].suffix
	})
}

// Config configures FileStore.
type Config struct {
	// Dir holds the event files. Created with 0700 if missing.
	Dir string
	// RetentionDays is how long files are kept (default 7).
	RetentionDays int
	// MaxFileSizeMB rotates the current file once it reaches this size
	// (default 100).
	MaxFileSizeMB int
}

// FileStore implements audit.EventStore. Files are named by the UTC date of
// the records they hold.
type FileStore struct {
	dir           string
	maxFileSize   int64
	retentionDays int
	logger        *slog.Logger

	mu      sync.Mutex
	current *os.File
	date    string
	size    int64
	suffix  int
	closed  bool

	cancel context.CancelFunc
	done   chan struct{}
}

// NewFileStore opens today's file, removes expired files, and starts an
// hourly cleanup loop that runs until Close.
func NewFileStore(cfg Config, logger *slog.Logger) (*FileStore, error) {
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = DefaultRetentionDays
	}
	if cfg.MaxFileSizeMB <= 0 {
		cfg.MaxFileSizeMB = DefaultMaxFileSizeMB
	}
	if err := os.MkdirAll(cfg.Dir, 0o700); err != nil {
		return nil, fmt.Errorf("create event directory: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &FileStore{
		dir:           cfg.Dir,
		maxFileSize:   int64(cfg.MaxFileSizeMB) * 1024 * 1024,
		retentionDays: cfg.RetentionDays,
		logger:        logger,
		cancel:        cancel,
		done:          make(chan struct{}),
	}

	today := time.Now().UTC().Format(dateLayout)
	if err := s.openLocked(today, s.highestSuffix(today)); err != nil {
		cancel()
		return nil, err
	}

	s.cleanup()
	go s.cleanupLoop(ctx)
	return s, nil
}

// Append writes each record as one compact JSON line, rotating on date
// change and when the size cap is reached.
func (s *FileStore) Append(_ context.Context, records ...audit.EventRecord) error {
	if len(records) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return os.ErrClosed
	}
	for _, rec := range records {
		date := rec.Timestamp.UTC().Format(dateLayout)
		if date != s.date {
			if err := s.rotateLocked(date, 0); err != nil {
				return fmt.Errorf("date rotation: %w", err)
			}
		}
		if s.size >= s.maxFileSize {
			if err := s.rotateLocked(s.date, s.suffix+1); err != nil {
				return fmt.Errorf("size rotation: %w", err)
			}
		}

		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal event: %w", err)
		}
		n, err := s.current.Write(append(data, '\n'))
		s.size += int64(n)
		if err != nil {
			return fmt.Errorf("write event: %w", err)
		}
	}
	return nil
}

// Flush syncs the current file.
func (s *FileStore) Flush(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil
	}
	return s.current.Sync()
}

// Close stops the cleanup loop and closes the current file.
func (s *FileStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.cancel()

	var err error
	if s.current != nil {
		_ = s.current.Sync()
		err = s.current.Close()
		s.current = nil
	}
	s.mu.Unlock()

	<-s.done
	return err
}

// CurrentFile returns the path of the file being written.
func (s *FileStore) CurrentFile() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return filepath.Join(s.dir, buildFilename(s.date, s.suffix))
}

// rotateLocked closes the current file and opens date/suffix.
// Must be called with s.mu held.
func (s *FileStore) rotateLocked(date string, suffix int) error {
	if s.current != nil {
		_ = s.current.Sync()
		_ = s.current.Close()
		s.current = nil
	}
	return s.openLocked(date, suffix)
}

func (s *FileStore) openLocked(date string, suffix int) error {
	name := buildFilename(date, suffix)
	f, err := os.OpenFile(filepath.Join(s.dir, name), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open %s: %w", name, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("stat %s: %w", name, err)
	}
	s.current, s.date, s.suffix, s.size = f, date, suffix, info.Size()
	return nil
}

// highestSuffix returns the highest existing suffix for date, or 0.
func (s *FileStore) highestSuffix(date string) int {
	highest := 0
	for _, f := range listFiles(s.dir) {
		if f.date == date && f.suffix > highest {
			highest = f.suffix
		}
	}
	return highest
}

// cleanup deletes files older than the retention period.
func (s *FileStore) cleanup() {
	cutoff := time.Now().UTC().AddDate(0, 0, -s.retentionDays)
	deleted := 0
	for _, f := range listFiles(s.dir) {
		day, err := time.Parse(dateLayout, f.date)
		if err != nil || !day.Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, f.name)); err != nil {
			s.logger.Error("event cleanup: failed to delete file", "file", f.name, "error", err)
			continue
		}
		deleted++
	}
	if deleted > 0 {
		s.logger.Info("event cleanup completed", "deleted", deleted)
	}
}

func (s *FileStore) cleanupLoop(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.cleanup()
		}
	}
}

// listFiles returns the event files in dir in chronological order.
func listFiles(dir string) []fileInfo {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var files []fileInfo
	for _, e := range entries {
		if info, ok := parseFilename(e.Name()); ok {
			files = append(files, info)
		}
	}
	sortFiles(files)
	return files
}

// History returns up to n of the most recent records stored in dir, oldest
// first. It reads only the most recent non-empty file. Malformed lines are
// skipped.
func History(dir string, n int, logger *slog.Logger) ([]audit.EventRecord, error) {
	if n <= 0 {
		return nil, nil
	}
	files := listFiles(dir)
	var latest string
	for i := len(files) - 1; i >= 0; i-- {
		if st, err := os.Stat(filepath.Join(dir, files[i].name)); err == nil && st.Size() > 0 {
			latest = files[i].name
			break
		}
	}
	if latest == "" {
		return nil, nil
	}

	f, err := os.Open(filepath.Join(dir, latest))
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	var records []audit.EventRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 256*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec audit.EventRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			logger.Warn("event history: skipping malformed line", "file", latest, "error", err)
			continue
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", latest, err)
	}

	if len(records) > n {
		records = records[len(records)-n:]
	}
	return records, nil
}

// Compile-time interface verification.
var _ audit.EventStore = (*FileStore)(nil)
