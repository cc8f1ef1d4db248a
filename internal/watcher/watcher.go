// Package watcher ingests subtitle work from monitored directories.
//
// Each enabled watcher row gets one monitor goroutine: a non-recursive scan
// of the root at startup, then a recursive fsnotify subscription. New files
// are held until their size stops changing for a stability window before
// submission, so partially copied media never enters the queue.
package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"subtrans/internal/logging"
	"subtrans/internal/metrics"
	"subtrans/internal/queue"
	"subtrans/internal/scheduler"
	"subtrans/internal/services"
	"subtrans/internal/skip"
)

const (
	defaultStabilityWindow = 2 * time.Second
	defaultPollInterval    = 500 * time.Millisecond
)

// Submitter enqueues candidate files. Satisfied by *scheduler.Scheduler.
type Submitter interface {
	Submit(ctx context.Context, req scheduler.SubmitRequest) (*queue.Task, skip.Decision, error)
}

// Option adjusts supervisor construction.
type Option func(*Supervisor)

// WithStabilityWindow overrides how long a file's size must hold steady
// before submission.
func WithStabilityWindow(d time.Duration) Option {
	return func(s *Supervisor) { s.stability = d }
}

// WithPollInterval overrides how often pending files are re-checked.
func WithPollInterval(d time.Duration) Option {
	return func(s *Supervisor) { s.poll = d }
}

// Supervisor owns the monitor goroutines for all enabled watchers.
type Supervisor struct {
	store     *queue.Store
	submitter Submitter
	logger    *slog.Logger
	stability time.Duration
	poll      time.Duration

	mu       sync.Mutex
	monitors map[int64]context.CancelFunc
	started  bool

	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup
}

// New builds a Supervisor.
func New(store *queue.Store, submitter Submitter, logger *slog.Logger, opts ...Option) *Supervisor {
	if logger == nil {
		logger = logging.NewNop()
	}
	s := &Supervisor{
		store:     store,
		submitter: submitter,
		logger:    logging.NewComponentLogger(logger, "watcher"),
		stability: defaultStabilityWindow,
		poll:      defaultPollInterval,
		monitors:  make(map[int64]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches monitors for every enabled watcher.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.baseCtx, s.stop = context.WithCancel(context.WithoutCancel(ctx))
	s.mu.Unlock()

	watchers, err := s.store.ListWatchers(ctx)
	if err != nil {
		return fmt.Errorf("list watchers: %w", err)
	}
	for _, w := range watchers {
		if w.Enabled {
			s.startMonitor(w)
		}
	}
	return nil
}

// Stop tears down every monitor and waits for them to exit.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	stop := s.stop
	s.monitors = make(map[int64]context.CancelFunc)
	s.mu.Unlock()
	stop()
	s.wg.Wait()
}

// AddWatcher persists a new watcher and begins monitoring immediately.
func (s *Supervisor) AddWatcher(ctx context.Context, path, targetLanguage, llmProvider string) (*queue.Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, services.Wrap(services.ErrUser, "watcher", "add", "resolve path", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, services.Wrap(services.ErrNotFound, "watcher", "add", fmt.Sprintf("directory not found: %s", abs), err)
	}
	if !info.IsDir() {
		return nil, services.Wrap(services.ErrUser, "watcher", "add", fmt.Sprintf("not a directory: %s", abs), nil)
	}
	if existing, err := s.store.WatcherByPath(ctx, abs); err != nil {
		return nil, err
	} else if existing != nil {
		return nil, services.Wrap(services.ErrUser, "watcher", "add", fmt.Sprintf("already watching %s", abs), nil)
	}

	w, err := s.store.CreateWatcher(ctx, abs, targetLanguage, llmProvider)
	if err != nil {
		return nil, err
	}
	s.startMonitor(w)
	return w, nil
}

// RemoveWatcher stops monitoring and deletes the watcher row.
func (s *Supervisor) RemoveWatcher(ctx context.Context, id int64) error {
	s.stopMonitor(id)
	matched, err := s.store.DeleteWatcher(ctx, id)
	if err != nil {
		return err
	}
	if !matched {
		return services.Wrap(services.ErrNotFound, "watcher", "remove", fmt.Sprintf("watcher %d not found", id), nil)
	}
	return nil
}

// SetEnabled toggles a watcher, starting or stopping its monitor to match.
func (s *Supervisor) SetEnabled(ctx context.Context, id int64, enabled bool) (*queue.Watcher, error) {
	matched, err := s.store.SetWatcherEnabled(ctx, id, enabled)
	if err != nil {
		return nil, err
	}
	if !matched {
		return nil, services.Wrap(services.ErrNotFound, "watcher", "toggle", fmt.Sprintf("watcher %d not found", id), nil)
	}
	w, err := s.store.GetWatcher(ctx, id)
	if err != nil {
		return nil, err
	}
	if enabled {
		s.startMonitor(w)
	} else {
		s.stopMonitor(id)
	}
	return w, nil
}

// ScanNow sweeps a watcher's root once, outside the monitor loop.
func (s *Supervisor) ScanNow(ctx context.Context, id int64) error {
	w, err := s.store.GetWatcher(ctx, id)
	if err != nil {
		return err
	}
	if w == nil {
		return services.Wrap(services.ErrNotFound, "watcher", "scan", fmt.Sprintf("watcher %d not found", id), nil)
	}
	s.scanRoot(ctx, w)
	return nil
}

func (s *Supervisor) startMonitor(w *queue.Watcher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return
	}
	if _, running := s.monitors[w.ID]; running {
		return
	}
	ctx, cancel := context.WithCancel(s.baseCtx)
	s.monitors[w.ID] = cancel
	s.wg.Add(1)
	go s.runMonitor(ctx, w)
}

func (s *Supervisor) stopMonitor(id int64) {
	s.mu.Lock()
	cancel, ok := s.monitors[id]
	delete(s.monitors, id)
	s.mu.Unlock()
	if ok {
		cancel()
	}
}

type pendingFile struct {
	size  int64
	since time.Time
}

func (s *Supervisor) runMonitor(ctx context.Context, w *queue.Watcher) {
	defer s.wg.Done()
	logger := s.logger.With(logging.Int64(logging.FieldWatcherID, w.ID), logging.String("path", w.Path))
	logger.Info("watcher started")

	s.scanRoot(ctx, w)

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Error("fsnotify init failed", logging.Error(err))
		return
	}
	defer fw.Close()
	if err := addTree(fw, w.Path); err != nil {
		logger.Error("watch tree failed", logging.Error(err))
		return
	}

	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()
	pending := make(map[string]*pendingFile)

	for {
		select {
		case <-ctx.Done():
			logger.Info("watcher stopped")
			return
		case evt, ok := <-fw.Events:
			if !ok {
				return
			}
			metrics.WatcherEvents.Inc()
			if !evt.Has(fsnotify.Create) && !evt.Has(fsnotify.Write) && !evt.Has(fsnotify.Rename) {
				continue
			}
			info, err := os.Stat(evt.Name)
			if err != nil {
				delete(pending, evt.Name)
				continue
			}
			if info.IsDir() {
				if evt.Has(fsnotify.Create) {
					if err := addTree(fw, evt.Name); err != nil {
						logger.Warn("watch subdirectory failed", logging.String("dir", evt.Name), logging.Error(err))
					}
				}
				continue
			}
			if !candidateFile(evt.Name) {
				continue
			}
			pending[evt.Name] = &pendingFile{size: info.Size(), since: time.Now()}
		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			logger.Warn("fsnotify error", logging.Error(err))
		case <-ticker.C:
			for path, p := range pending {
				info, err := os.Stat(path)
				if err != nil {
					delete(pending, path)
					continue
				}
				if info.Size() != p.size {
					p.size = info.Size()
					p.since = time.Now()
					continue
				}
				if time.Since(p.since) < s.stability {
					continue
				}
				delete(pending, path)
				s.submitFile(ctx, w, path)
			}
		}
	}
}

// scanRoot submits eligible files sitting directly in the watcher root.
// Files found at startup are assumed to be at rest.
func (s *Supervisor) scanRoot(ctx context.Context, w *queue.Watcher) {
	entries, err := os.ReadDir(w.Path)
	if err != nil {
		s.logger.Warn("scan failed", logging.Int64(logging.FieldWatcherID, w.ID), logging.Error(err))
		return
	}
	for _, entry := range entries {
		if ctx.Err() != nil {
			return
		}
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(w.Path, entry.Name())
		if !candidateFile(path) {
			continue
		}
		s.submitFile(ctx, w, path)
	}
}

func (s *Supervisor) submitFile(ctx context.Context, w *queue.Watcher, path string) {
	task, decision, err := s.submitter.Submit(ctx, scheduler.SubmitRequest{
		FilePath:       path,
		TargetLanguage: w.TargetLanguage,
		LLMProvider:    w.LLMProvider,
		Source:         "watcher",
	})
	switch {
	case err != nil:
		s.logger.Warn("submit failed",
			logging.Int64(logging.FieldWatcherID, w.ID),
			logging.String("file", filepath.Base(path)),
			logging.Error(err))
	case decision.Skip:
		s.logger.Debug("file skipped",
			logging.Int64(logging.FieldWatcherID, w.ID),
			logging.String("file", filepath.Base(path)),
			logging.String("reason", decision.Reason))
	default:
		s.logger.Info("file queued",
			logging.Int64(logging.FieldWatcherID, w.ID),
			logging.Int64(logging.FieldTaskID, task.ID),
			logging.String("file", filepath.Base(path)))
	}
}

var watchedExtensions = map[string]struct{}{
	".mkv": {},
	".srt": {},
	".ass": {},
}

func candidateFile(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") {
		return false
	}
	if _, ok := watchedExtensions[strings.ToLower(filepath.Ext(path))]; !ok {
		return false
	}
	return !skip.IsGeneratedOutput(path)
}

func addTree(fw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if strings.HasPrefix(filepath.Base(path), ".") && path != root {
			return filepath.SkipDir
		}
		return fw.Add(path)
	})
}
