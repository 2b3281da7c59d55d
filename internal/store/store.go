// Package store keeps per-session shot records on disk.
//
// Each session is one CSV file named <session id>.csv in the data directory.
// The store lists and summarizes records, serves them for download and moves
// them into timestamped archive directories.
package store

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/shotbridge/internal/device"
)

const (
	recordExt = ".csv"

	// DefaultListLimit is used when a caller passes limit 0.
	DefaultListLimit = 20

	// ArchiveLayout names archive subdirectories.
	ArchiveLayout = "2006-01-02_15-04"

	shotEvent = "SHOT_DETECTED"
)

// Summary describes one stored session.
type Summary struct {
	SessID     string  `json:"sess_id"`
	TotalShots int     `json:"total_shots"`
	BestSplit  float64 `json:"best_split"`
	TotalTime  float64 `json:"total_time"`
	Duration   float64 `json:"duration"`
	File       string  `json:"file"`
}

// ArchiveResult reports what Archive moved and where.
type ArchiveResult struct {
	Count int    `json:"archived"`
	Dir   string `json:"archive_dir"`
}

// Store manages the session record directory.
type Store struct {
	dataDir    string
	archiveDir string
	logger     *logrus.Logger

	mu   sync.Mutex
	open map[string]struct{} // paths of journals not yet closed
}

// New creates the data and archive directories if needed.
func New(dataDir, archiveDir string, logger *logrus.Logger) (*Store, error) {
	if logger == nil {
		logger = logrus.New()
	}
	for _, dir := range []string{dataDir, archiveDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory %q: %w", dir, err)
		}
	}
	return &Store{
		dataDir:    dataDir,
		archiveDir: archiveDir,
		logger:     logger,
		open:       make(map[string]struct{}),
	}, nil
}

// DataDir returns the directory holding live records.
func (s *Store) DataDir() string {
	return s.dataDir
}

// OpenJournal creates (or truncates) the record for id and writes the header.
func (s *Store) OpenJournal(id string) (*Journal, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	path := filepath.Join(s.dataDir, id+recordExt)

	f, err := os.Create(path)
	if err != nil {
		return nil, &PersistenceError{SessionID: id, Op: "open", Err: err}
	}

	w := csv.NewWriter(f)
	if err := w.Write(Header); err != nil {
		_ = f.Close()
		return nil, &PersistenceError{SessionID: id, Op: "open", Err: err}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		_ = f.Close()
		return nil, &PersistenceError{SessionID: id, Op: "open", Err: err}
	}

	s.mu.Lock()
	s.open[path] = struct{}{}
	s.mu.Unlock()

	s.logger.WithFields(logrus.Fields{
		"session_id": id,
		"path":       path,
	}).Debug("Session record opened")
	return &Journal{store: s, id: id, path: path, f: f, w: w}, nil
}

func (s *Store) release(path string) {
	s.mu.Lock()
	delete(s.open, path)
	s.mu.Unlock()
}

func (s *Store) isOpen(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.open[path]
	return ok
}

// records returns record file names sorted newest first (by name, descending).
func (s *Store) records() ([]string, error) {
	entries, err := os.ReadDir(s.dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read data directory: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() && strings.HasSuffix(strings.ToLower(e.Name()), recordExt) {
			names = append(names, e.Name())
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	return names, nil
}

// List summarizes records in [offset, offset+limit). A zero limit means DefaultListLimit.
func (s *Store) List(offset, limit int) ([]Summary, error) {
	if offset < 0 {
		return nil, device.NewRequestError("offset must be non-negative")
	}
	if limit < 0 {
		return nil, device.NewRequestError("limit must be non-negative")
	}
	if limit == 0 {
		limit = DefaultListLimit
	}

	names, err := s.records()
	if err != nil {
		return nil, err
	}
	if offset >= len(names) {
		return []Summary{}, nil
	}
	end := min(offset+limit, len(names))

	result := make([]Summary, 0, end-offset)
	for _, name := range names[offset:end] {
		sum, err := s.summarize(name)
		if err != nil {
			s.logger.WithFields(logrus.Fields{
				"file":  name,
				"error": err,
			}).Warn("Skipping unreadable session record")
			continue
		}
		result = append(result, sum)
	}
	return result, nil
}

// summarize scans one record. Best split uses device timestamps, not the
// stored split column, and rows that fail to parse are skipped.
func (s *Store) summarize(name string) (Summary, error) {
	f, err := os.Open(filepath.Join(s.dataDir, name))
	if err != nil {
		return Summary{}, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		return Summary{}, fmt.Errorf("failed to read header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, h := range header {
		col[strings.TrimSpace(h)] = i
	}
	field := func(row []string, key string) string {
		i, ok := col[key]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	sum := Summary{
		SessID: strings.TrimSuffix(name, recordExt),
		File:   name,
	}

	var first, last, prev *int64
	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				continue
			}
			return Summary{}, err
		}
		if field(row, "event") != shotEvent {
			continue
		}
		sum.TotalShots++

		ts, err := strconv.ParseInt(field(row, "ts_device"), 10, 64)
		if err != nil {
			continue
		}
		shotTime, err := strconv.ParseFloat(field(row, "shot_time"), 64)
		if err != nil {
			continue
		}

		if first == nil {
			first = &ts
		}
		last = &ts
		sum.TotalTime = shotTime

		if prev != nil {
			split := float64(ts-*prev) / 1000
			if sum.BestSplit == 0 || (split > 0 && split < sum.BestSplit) {
				sum.BestSplit = split
			}
		}
		prev = &ts
	}

	if first != nil && last != nil {
		sum.Duration = float64(*last-*first) / 1000
	}
	sum.BestSplit = round2(sum.BestSplit)
	sum.TotalTime = round2(sum.TotalTime)
	sum.Duration = round2(sum.Duration)
	return sum, nil
}

// Open returns the record for id. The caller closes the file.
func (s *Store) Open(id string) (*os.File, string, error) {
	if err := validateID(id); err != nil {
		return nil, "", err
	}
	name := id + recordExt
	f, err := os.Open(filepath.Join(s.dataDir, name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, "", ErrSessionNotFound
	}
	if err != nil {
		return nil, "", &PersistenceError{SessionID: id, Op: "open", Err: err}
	}
	return f, name, nil
}

// Archive moves every closed record into <archive_dir>/<now formatted>.
// Records still being written are left in place. Per-file failures are
// logged and skipped.
func (s *Store) Archive(now time.Time) (ArchiveResult, error) {
	target := filepath.Join(s.archiveDir, now.Format(ArchiveLayout))
	if err := os.MkdirAll(target, 0o755); err != nil {
		return ArchiveResult{}, &PersistenceError{Op: "archive", Err: err}
	}

	names, err := s.records()
	if err != nil {
		return ArchiveResult{}, err
	}

	moved := 0
	for _, name := range names {
		src := filepath.Join(s.dataDir, name)
		if s.isOpen(src) {
			s.logger.WithField("file", name).Debug("Skipping open session record")
			continue
		}
		if err := moveFile(src, filepath.Join(target, name)); err != nil {
			s.logger.WithFields(logrus.Fields{
				"file":  name,
				"error": err,
			}).Warn("Could not archive session record")
			continue
		}
		moved++
	}

	s.logger.WithFields(logrus.Fields{
		"archived":    moved,
		"archive_dir": target,
	}).Info("Session records archived")
	return ArchiveResult{Count: moved, Dir: target}, nil
}

// moveFile renames src to dst, falling back to copy+remove across filesystems.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(src)
}

// validateID accepts plain file stems only.
func validateID(id string) error {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) || strings.Contains(id, "..") {
		return device.NewRequestError("invalid session id %q", id)
	}
	return nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
