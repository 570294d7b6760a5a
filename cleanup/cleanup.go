// Package cleanup deletes stale working files on a schedule. The sweeper
// runs independently of jobs, never touches files a job has on hold, and a
// failure on one file never aborts the rest of the sweep.
package cleanup

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Sweeper periodically removes files older than MaxAge from Dir.
type Sweeper struct {
	dir    string
	every  time.Duration
	maxAge time.Duration
	log    zerolog.Logger

	cron *cron.Cron

	mu    sync.Mutex
	inUse map[string]struct{}
}

func NewSweeper(dir string, every, maxAge time.Duration, log zerolog.Logger) (*Sweeper, error) {
	if dir == "" {
		return nil, errors.New("cleanup: directory cannot be empty")
	}
	if every <= 0 || maxAge <= 0 {
		return nil, errors.New("cleanup: interval and retention must be positive")
	}
	return &Sweeper{
		dir:    dir,
		every:  every,
		maxAge: maxAge,
		log:    log,
		inUse:  map[string]struct{}{},
	}, nil
}

// Start schedules the periodic sweep. A sweep also runs immediately, so a
// restart clears leftovers without waiting a full interval.
func (s *Sweeper) Start() error {
	if s.cron != nil {
		return errors.New("cleanup: already started")
	}
	s.Sweep()

	s.cron = cron.New()
	if _, err := s.cron.AddFunc(fmt.Sprintf("@every %s", s.every), func() { s.Sweep() }); err != nil {
		return errors.Wrap(err, "cleanup: scheduling sweep")
	}
	s.cron.Start()
	return nil
}

// Stop cancels the schedule. A sweep already in flight finishes.
func (s *Sweeper) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
		s.cron = nil
	}
}

// Hold marks a path (file or directory prefix) as in use by an active job.
func (s *Sweeper) Hold(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inUse[filepath.Clean(path)] = struct{}{}
}

// Release ends a hold taken with Hold.
func (s *Sweeper) Release(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inUse, filepath.Clean(path))
}

func (s *Sweeper) held(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for p := range s.inUse {
		if path == p {
			return true
		}
		if rel, err := filepath.Rel(p, path); err == nil && rel != ".." && !filepath.IsAbs(rel) && !startsWithDotDot(rel) {
			return true
		}
	}
	return false
}

func startsWithDotDot(rel string) bool {
	return rel == ".." || len(rel) > 2 && rel[:3] == ".."+string(filepath.Separator)
}

// Sweep removes every file under the directory older than the retention
// window, skipping held paths, then prunes empty directories. Per-file
// failures are logged and skipped. Returns the number of files removed and
// bytes freed.
func (s *Sweeper) Sweep() (int, int64) {
	cutoff := time.Now().Add(-s.maxAge)
	var removed int
	var freed int64

	_ = filepath.Walk(s.dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			s.log.Warn().Err(err).Str("path", path).Msg("cleanup: cannot inspect, skipping")
			return nil
		}
		if info.IsDir() || s.held(path) {
			return nil
		}
		if info.ModTime().After(cutoff) {
			return nil
		}
		size := info.Size()
		if err := os.Remove(path); err != nil {
			s.log.Warn().Err(err).Str("path", path).Msg("cleanup: cannot remove, skipping")
			return nil
		}
		removed++
		freed += size
		return nil
	})

	s.pruneEmptyDirs()

	if removed > 0 {
		s.log.Info().Int("files", removed).Int64("bytes", freed).Msg("cleanup: sweep complete")
	}
	return removed, freed
}

// pruneEmptyDirs removes directories left empty by the sweep, deepest
// first. The root working directory itself is kept.
func (s *Sweeper) pruneEmptyDirs() {
	var dirs []string
	_ = filepath.Walk(s.dir, func(path string, info os.FileInfo, err error) error {
		if err == nil && info.IsDir() && path != s.dir {
			dirs = append(dirs, path)
		}
		return nil
	})
	for i := len(dirs) - 1; i >= 0; i-- {
		entries, err := os.ReadDir(dirs[i])
		if err != nil || len(entries) > 0 || s.held(dirs[i]) {
			continue
		}
		if err := os.Remove(dirs[i]); err != nil {
			s.log.Warn().Err(err).Str("path", dirs[i]).Msg("cleanup: cannot prune directory")
		}
	}
}
