// Package spool ingests task files dropped into a directory.
//
// A spool file is YAML with the same shape as the tasks section of the main
// config:
//
//	tasks:
//	  - name: resize
//	    priority: 1
//	    duration: 2s
//	    delay: 10s
//
// The file is renamed with a .done suffix before its tasks are submitted (or
// .failed if it could not be parsed) so it is never read twice. A file that
// cannot be renamed is left alone and nothing from it is submitted.
// Recurring specs (cron set) are skipped; those belong in the main config.
package spool

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/ChuLiYu/beaver-sched/internal/config"
	"github.com/ChuLiYu/beaver-sched/internal/logx"
	"github.com/ChuLiYu/beaver-sched/pkg/types"
)

const (
	DoneSuffix   = ".done"
	FailedSuffix = ".failed"

	defaultSettle = 200 * time.Millisecond
)

// Submitter accepts new tasks. *controller.Controller implements it.
type Submitter interface {
	Submit(task *types.Task) error
}

type file struct {
	Tasks []config.TaskSpec `yaml:"tasks"`
}

// Spool watches one directory.
type Spool struct {
	fs  afero.Fs
	dir string
	sub Submitter
	log logx.Logger
	now func() time.Time

	settle time.Duration

	mu sync.Mutex // serializes scans
}

// New returns a spool over dir on fs.
func New(fs afero.Fs, dir string, sub Submitter, log logx.Logger) *Spool {
	return &Spool{
		fs:     fs,
		dir:    dir,
		sub:    sub,
		log:    log.With(logx.String("spool", dir)),
		now:    time.Now,
		settle: defaultSettle,
	}
}

// Dir returns the watched directory.
func (s *Spool) Dir() string { return s.dir }

// IsSpoolFile reports whether name looks like an unprocessed spool file.
func IsSpoolFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml":
		return !strings.HasPrefix(filepath.Base(name), ".")
	}
	return false
}

// Scan ingests every pending file in the directory, oldest name first, and
// returns how many tasks were submitted.
func (s *Spool) Scan() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	infos, err := afero.ReadDir(s.fs, s.dir)
	if err != nil {
		return 0, fmt.Errorf("spool: read dir: %w", err)
	}
	names := make([]string, 0, len(infos))
	for _, fi := range infos {
		if !fi.IsDir() && IsSpoolFile(fi.Name()) {
			names = append(names, fi.Name())
		}
	}
	sort.Strings(names)

	total := 0
	var errs []error
	for _, name := range names {
		n, err := s.ingest(filepath.Join(s.dir, name))
		total += n
		if err != nil {
			errs = append(errs, err)
		}
	}
	return total, errors.Join(errs...)
}

// Ingest processes a single file.
func (s *Spool) Ingest(path string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ingest(path)
}

func (s *Spool) ingest(path string) (int, error) {
	data, err := afero.ReadFile(s.fs, path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			// Already picked up by an earlier scan.
			return 0, nil
		}
		return 0, fmt.Errorf("spool: read %s: %w", path, err)
	}

	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		s.log.Warn("spool file rejected", logx.String("file", path), logx.Err(err))
		_ = s.markFile(path, FailedSuffix)
		return 0, fmt.Errorf("spool: parse %s: %w", path, err)
	}

	if err := s.markFile(path, DoneSuffix); err != nil {
		return 0, fmt.Errorf("spool: claim %s: %w", path, err)
	}

	now := s.now()
	submitted := 0
	for i, spec := range f.Tasks {
		if err := spec.Validate(); err != nil {
			s.log.Warn("spool task skipped", logx.String("file", path), logx.Int("index", i), logx.Err(err))
			continue
		}
		if spec.IsRecurring() {
			s.log.Warn("spool task skipped: recurring tasks are not accepted here",
				logx.String("file", path), logx.String("task", spec.Name))
			continue
		}
		if err := s.sub.Submit(spec.NewTask(now)); err != nil {
			s.log.Warn("spool submit failed", logx.String("file", path), logx.String("task", spec.Name), logx.Err(err))
			continue
		}
		submitted++
	}

	s.log.Info("spool file ingested",
		logx.String("file", filepath.Base(path)),
		logx.Int("tasks", submitted),
		logx.Int("declared", len(f.Tasks)),
	)
	return submitted, nil
}

func (s *Spool) markFile(path, suffix string) error {
	if err := s.fs.Rename(path, path+suffix); err != nil {
		s.log.Error("spool rename failed", logx.String("file", path), logx.Err(err))
		return err
	}
	return nil
}

// Run scans once, then watches the directory until ctx is done. Bursts of
// events are coalesced into one scan after a short settle delay so partially
// written files are not read.
func (s *Spool) Run(ctx context.Context) error {
	if err := s.fs.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("spool: create dir: %w", err)
	}

	// Watch before the first scan so files landing in between are not missed.
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("spool: watcher: %w", err)
	}
	defer w.Close()
	if err := w.Add(s.dir); err != nil {
		return fmt.Errorf("spool: watch %s: %w", s.dir, err)
	}
	s.log.Info("spool watcher started")

	if _, err := s.Scan(); err != nil {
		s.log.Warn("initial spool scan had errors", logx.Err(err))
	}

	var (
		timerMu sync.Mutex
		timer   *time.Timer
	)
	trigger := func() {
		timerMu.Lock()
		defer timerMu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(s.settle, func() {
			if ctx.Err() != nil {
				return
			}
			if _, err := s.Scan(); err != nil {
				s.log.Warn("spool scan had errors", logx.Err(err))
			}
		})
	}
	defer func() {
		timerMu.Lock()
		if timer != nil {
			timer.Stop()
		}
		timerMu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("spool watcher stopped")
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return errors.New("spool: watcher closed")
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) != 0 && IsSpoolFile(ev.Name) {
				trigger()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return errors.New("spool: watcher closed")
			}
			s.log.Warn("spool watcher error", logx.Err(err))
			// Events may have been dropped.
			trigger()
		}
	}
}
