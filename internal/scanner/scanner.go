// Package scanner implements poll-based directory watching: each scan diffs
// the current listing against remembered file state and reports only files
// whose size and mtime stayed stable across enough scans. Polling keeps the
// watcher portable; no OS file-event API is assumed.
package scanner

import (
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

type fileInfo struct {
	size        int64
	mtime       int64
	stableCount int
}

// Scanner watches one folder for ready image files.
type Scanner struct {
	folder            string
	includeSubfolders bool
	extensions        map[string]bool
	stabilityChecks   int
	logger            *slog.Logger
	state             map[string]fileInfo
}

// New builds a scanner. stabilityChecks is clamped to at least 1: a file
// must look unchanged across that many consecutive scans before it is
// reported, so half-written files are never picked up.
func New(folder string, includeSubfolders bool, extensions []string, stabilityChecks int, logger *slog.Logger) *Scanner {
	if stabilityChecks < 1 {
		stabilityChecks = 1
	}
	extSet := make(map[string]bool, len(extensions))
	for _, ext := range extensions {
		extSet[strings.ToLower(ext)] = true
	}
	return &Scanner{
		folder:            folder,
		includeSubfolders: includeSubfolders,
		extensions:        extSet,
		stabilityChecks:   stabilityChecks,
		logger:            logger,
		state:             make(map[string]fileInfo),
	}
}

// Scan lists matching files and returns the ready ones ordered by mtime.
func (s *Scanner) Scan() []string {
	if _, err := os.Stat(s.folder); err != nil {
		s.logger.Warn("input folder not found", "folder", s.folder)
		return nil
	}

	type readyFile struct {
		path  string
		mtime int64
	}
	newState := make(map[string]fileInfo)
	var ready []readyFile

	for _, path := range s.listFiles() {
		stat, err := os.Stat(path)
		if err != nil {
			s.logger.Warn("failed to stat file", "path", path, "error", err)
			continue
		}

		info := fileInfo{size: stat.Size(), mtime: stat.ModTime().UnixNano()}
		if prev, ok := s.state[path]; ok && prev.size == info.size && prev.mtime == info.mtime {
			info.stableCount = prev.stableCount + 1
		}
		newState[path] = info

		if info.stableCount >= s.stabilityChecks {
			ready = append(ready, readyFile{path: path, mtime: info.mtime})
		}
	}

	s.state = newState
	sort.Slice(ready, func(i, j int) bool { return ready[i].mtime < ready[j].mtime })

	out := make([]string, len(ready))
	for i, r := range ready {
		out[i] = r.path
	}
	return out
}

// ListMatching returns every currently matching file regardless of
// stability. Used to snapshot the pre-existing set for just_watch mode.
func (s *Scanner) ListMatching() []string {
	if _, err := os.Stat(s.folder); err != nil {
		return nil
	}
	return s.listFiles()
}

// Reset forgets all remembered file state.
func (s *Scanner) Reset() {
	s.state = make(map[string]fileInfo)
}

func (s *Scanner) listFiles() []string {
	var out []string
	if s.includeSubfolders {
		filepath.WalkDir(s.folder, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil // unreadable subtree, skip
			}
			if !d.IsDir() && s.matches(path) {
				out = append(out, path)
			}
			return nil
		})
		return out
	}
	entries, err := os.ReadDir(s.folder)
	if err != nil {
		return nil
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(s.folder, entry.Name())
		if s.matches(path) {
			out = append(out, path)
		}
	}
	return out
}

func (s *Scanner) matches(path string) bool {
	return s.extensions[strings.ToLower(filepath.Ext(path))]
}
