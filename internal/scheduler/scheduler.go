// Package scheduler dispatches queued translation tasks to pipeline workers.
//
// Dispatch is strict FIFO over the pending queue, bounded by the
// max_concurrent_tasks setting. Lowering the bound never preempts running
// work; the new limit applies as workers drain.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"subtrans/internal/bus"
	"subtrans/internal/logging"
	"subtrans/internal/metrics"
	"subtrans/internal/pipeline"
	"subtrans/internal/queue"
	"subtrans/internal/services"
	"subtrans/internal/settings"
	"subtrans/internal/skip"
)

// handle tracks one in-flight task. Pause and cancel both cancel the worker
// context; the pause flag tells the pipeline which outcome to record.
type handle struct {
	cancel context.CancelFunc
	pause  atomic.Bool
}

func (h *handle) PauseRequested() bool { return h.pause.Load() }

// Scheduler owns the worker pool and all queue state transitions.
type Scheduler struct {
	store    *queue.Store
	settings *settings.Service
	bus      *bus.Bus
	pipeline *pipeline.Pipeline
	oracle   *skip.Oracle
	logger   *slog.Logger

	mu      sync.Mutex
	running map[int64]*handle
	limit   int

	wake    chan struct{}
	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// New builds a Scheduler. Start must be called before tasks dispatch.
func New(store *queue.Store, settingsSvc *settings.Service, eventBus *bus.Bus, pipe *pipeline.Pipeline, oracle *skip.Oracle, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Scheduler{
		store:    store,
		settings: settingsSvc,
		bus:      eventBus,
		pipeline: pipe,
		oracle:   oracle,
		logger:   logging.NewComponentLogger(logger, "scheduler"),
		running:  make(map[int64]*handle),
		wake:     make(chan struct{}, 1),
	}
}

// Start recovers interrupted tasks and begins dispatching.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.limit = s.settings.Snapshot().MaxConcurrentTasks()
	s.baseCtx, s.stop = context.WithCancel(context.WithoutCancel(ctx))
	s.mu.Unlock()

	recovered, err := s.store.RecoverInterrupted(ctx)
	if err != nil {
		return fmt.Errorf("recover interrupted tasks: %w", err)
	}
	if recovered > 0 {
		s.logger.Info("requeued interrupted tasks", logging.Int64("count", recovered))
	}

	s.settings.OnChange(func(_, next settings.Snapshot) {
		s.mu.Lock()
		changed := next.MaxConcurrentTasks() != s.limit
		s.limit = next.MaxConcurrentTasks()
		s.mu.Unlock()
		if changed {
			s.kick()
		}
	})

	s.wg.Add(1)
	go s.dispatchLoop()
	s.kick()
	return nil
}

// Stop pauses every running task and waits for workers to checkpoint. The
// context bounds the wait.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	for _, h := range s.running {
		h.pause.Store(true)
		h.cancel()
	}
	stop := s.stop
	s.mu.Unlock()
	stop()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler shutdown: %w", ctx.Err())
	}
}

func (s *Scheduler) kick() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) dispatchLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.baseCtx.Done():
			return
		case <-s.wake:
		}
		s.fill()
	}
}

// fill claims pending tasks until the pool is at its concurrency bound.
func (s *Scheduler) fill() {
	for {
		s.mu.Lock()
		if s.baseCtx.Err() != nil || len(s.running) >= s.limit {
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()

		task, err := s.store.ClaimNextPending(s.baseCtx)
		if err != nil {
			s.logger.Error("claim pending task failed", logging.Error(err))
			return
		}
		if task == nil {
			return
		}
		s.launch(task)
	}
}

func (s *Scheduler) launch(task *queue.Task) {
	ctx, cancel := context.WithCancel(s.baseCtx)
	ctx = services.WithTaskID(ctx, task.ID)
	h := &handle{cancel: cancel}

	s.mu.Lock()
	s.running[task.ID] = h
	s.mu.Unlock()

	s.bus.PublishStatus(task.ID, string(queue.StatusProcessing), "")
	metrics.RunningWorkers.Inc()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("worker panic", logging.Int64(logging.FieldTaskID, task.ID), logging.Any("panic", r))
				s.finish(task.ID, pipeline.Result{Outcome: pipeline.OutcomeFailed, ErrorMessage: "internal_error"})
			}
		}()
		result := s.pipeline.Run(ctx, task, h)
		s.finish(task.ID, result)
	}()
}

// finish persists a worker outcome and frees its pool slot.
func (s *Scheduler) finish(taskID int64, result pipeline.Result) {
	s.mu.Lock()
	if h, ok := s.running[taskID]; ok {
		h.cancel()
		delete(s.running, taskID)
	}
	s.mu.Unlock()
	metrics.RunningWorkers.Dec()

	ctx := context.Background()
	var status queue.Status
	switch result.Outcome {
	case pipeline.OutcomeCompleted:
		status = queue.StatusCompleted
	case pipeline.OutcomePaused:
		status = queue.StatusPaused
	case pipeline.OutcomeCancelled:
		status = queue.StatusCancelled
	default:
		status = queue.StatusFailed
	}
	if err := s.store.SetTaskStatus(ctx, taskID, status, result.ErrorMessage); err != nil {
		s.logger.Error("persist task outcome failed", logging.Int64(logging.FieldTaskID, taskID), logging.Error(err))
	}
	s.bus.PublishStatus(taskID, string(status), result.ErrorMessage)
	metrics.TasksFinished.WithLabelValues(string(status)).Inc()
	s.kick()
}

// SubmitRequest describes a candidate translation task.
type SubmitRequest struct {
	FilePath       string
	SourceLanguage string
	TargetLanguage string
	LLMProvider    string
	SubtitleTrack  *int
	ForceOverride  bool
	Source         string // "api" or "watcher"
}

var submittableExtensions = map[string]struct{}{
	".mkv": {},
	".srt": {},
	".ass": {},
}

// Submit runs the skip rules and enqueues the task when they pass. A skip is
// not an error; the returned decision carries the reason.
func (s *Scheduler) Submit(ctx context.Context, req SubmitRequest) (*queue.Task, skip.Decision, error) {
	path, err := filepath.Abs(req.FilePath)
	if err != nil {
		return nil, skip.Decision{}, services.Wrap(services.ErrUser, "scheduler", "submit", "resolve path", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, skip.Decision{}, services.Wrap(services.ErrNotFound, "scheduler", "submit", fmt.Sprintf("file not found: %s", path), err)
	}
	if info.IsDir() {
		return nil, skip.Decision{}, services.Wrap(services.ErrUser, "scheduler", "submit", fmt.Sprintf("not a file: %s", path), nil)
	}
	ext := strings.ToLower(filepath.Ext(path))
	if _, ok := submittableExtensions[ext]; !ok {
		return nil, skip.Decision{}, services.Wrap(services.ErrUser, "scheduler", "submit", fmt.Sprintf("unsupported file type %q", ext), nil)
	}

	snap := s.settings.Snapshot()
	target := req.TargetLanguage
	if target == "" {
		target = snap.TargetLanguage()
	}
	provider := req.LLMProvider
	if provider == "" {
		provider = snap.DefaultLLM()
	}
	if _, err := snap.Provider(provider); err != nil {
		return nil, skip.Decision{}, err
	}

	decision, err := s.oracle.Evaluate(ctx, path, target, req.ForceOverride)
	if err != nil {
		return nil, skip.Decision{}, err
	}
	if decision.Skip {
		metrics.TasksSkipped.WithLabelValues(decision.Reason).Inc()
		s.logger.Info("task skipped",
			logging.String("file", filepath.Base(path)),
			logging.String("reason", decision.Reason))
		return nil, decision, nil
	}

	task, err := s.store.CreateTask(ctx, queue.NewTask{
		FilePath:       path,
		SourceLanguage: req.SourceLanguage,
		TargetLanguage: target,
		LLMProvider:    provider,
		SubtitleTrack:  req.SubtitleTrack,
		ForceOverride:  req.ForceOverride,
	})
	if err != nil {
		return nil, skip.Decision{}, err
	}
	source := req.Source
	if source == "" {
		source = "api"
	}
	metrics.TasksCreated.WithLabelValues(source).Inc()
	s.bus.PublishNewTask(task.ID)
	s.logger.Info("task queued",
		logging.Int64(logging.FieldTaskID, task.ID),
		logging.String("file", task.FileName),
		logging.String("target", task.TargetLanguage))
	s.kick()
	return task, skip.Decision{}, nil
}

// Pause moves a pending task to paused, or signals a running worker to
// checkpoint and stop.
func (s *Scheduler) Pause(ctx context.Context, id int64) error {
	s.mu.Lock()
	h, runningNow := s.running[id]
	if runningNow {
		h.pause.Store(true)
		h.cancel()
	}
	s.mu.Unlock()
	if runningNow {
		return nil
	}

	task, err := s.store.GetTask(ctx, id)
	if err != nil {
		return err
	}
	if task == nil {
		return services.Wrap(services.ErrNotFound, "scheduler", "pause", fmt.Sprintf("task %d not found", id), nil)
	}
	if task.Status != queue.StatusPending {
		return services.Wrap(services.ErrUser, "scheduler", "pause", fmt.Sprintf("task %d is %s", id, task.Status), nil)
	}
	if err := s.store.SetTaskStatus(ctx, id, queue.StatusPaused, ""); err != nil {
		return err
	}
	s.bus.PublishStatus(id, string(queue.StatusPaused), "")
	return nil
}

// Resume requeues a paused task. Progress and the on-disk checkpoint are
// preserved so finished chunks are not retranslated.
func (s *Scheduler) Resume(ctx context.Context, id int64) error {
	task, err := s.store.GetTask(ctx, id)
	if err != nil {
		return err
	}
	if task == nil {
		return services.Wrap(services.ErrNotFound, "scheduler", "resume", fmt.Sprintf("task %d not found", id), nil)
	}
	if task.Status != queue.StatusPaused {
		return services.Wrap(services.ErrUser, "scheduler", "resume", fmt.Sprintf("task %d is %s", id, task.Status), nil)
	}
	if err := s.store.ResetTaskForRetry(ctx, id, true); err != nil {
		return err
	}
	s.bus.PublishStatus(id, string(queue.StatusPending), "")
	s.kick()
	return nil
}

// Retry requeues a failed, cancelled, or paused task. Failed and cancelled
// tasks restart from zero; a paused task resumes from its checkpoint.
func (s *Scheduler) Retry(ctx context.Context, id int64) error {
	task, err := s.store.GetTask(ctx, id)
	if err != nil {
		return err
	}
	if task == nil {
		return services.Wrap(services.ErrNotFound, "scheduler", "retry", fmt.Sprintf("task %d not found", id), nil)
	}
	if !queue.IsRetryableStatus(task.Status) {
		return services.Wrap(services.ErrUser, "scheduler", "retry", fmt.Sprintf("task %d is %s", id, task.Status), nil)
	}
	keep := task.Status == queue.StatusPaused
	if !keep {
		if err := os.RemoveAll(s.pipeline.ScratchDir(id)); err != nil {
			s.logger.Warn("scratch cleanup before retry failed", logging.Int64(logging.FieldTaskID, id), logging.Error(err))
		}
	}
	if err := s.store.ResetTaskForRetry(ctx, id, keep); err != nil {
		return err
	}
	s.bus.PublishStatus(id, string(queue.StatusPending), "")
	s.kick()
	return nil
}

// Cancel stops a pending or running task without checkpointing.
func (s *Scheduler) Cancel(ctx context.Context, id int64) error {
	s.mu.Lock()
	h, runningNow := s.running[id]
	if runningNow {
		h.cancel()
	}
	s.mu.Unlock()
	if runningNow {
		return nil
	}

	task, err := s.store.GetTask(ctx, id)
	if err != nil {
		return err
	}
	if task == nil {
		return services.Wrap(services.ErrNotFound, "scheduler", "cancel", fmt.Sprintf("task %d not found", id), nil)
	}
	if task.Status != queue.StatusPending && task.Status != queue.StatusPaused {
		return services.Wrap(services.ErrUser, "scheduler", "cancel", fmt.Sprintf("task %d is %s", id, task.Status), nil)
	}
	if err := s.store.SetTaskStatus(ctx, id, queue.StatusCancelled, ""); err != nil {
		return err
	}
	s.bus.PublishStatus(id, string(queue.StatusCancelled), "")
	if err := os.RemoveAll(s.pipeline.ScratchDir(id)); err != nil {
		s.logger.Warn("scratch cleanup failed", logging.Int64(logging.FieldTaskID, id), logging.Error(err))
	}
	return nil
}

// Delete removes a task row. A running task is cancelled instead of deleted;
// the returned flag reports which happened.
func (s *Scheduler) Delete(ctx context.Context, id int64) (cancelled bool, err error) {
	s.mu.Lock()
	h, runningNow := s.running[id]
	if runningNow {
		h.cancel()
	}
	s.mu.Unlock()
	if runningNow {
		return true, nil
	}

	matched, err := s.store.DeleteTask(ctx, id)
	if err != nil {
		return false, err
	}
	if !matched {
		return false, services.Wrap(services.ErrNotFound, "scheduler", "delete", fmt.Sprintf("task %d not found", id), nil)
	}
	if err := os.RemoveAll(s.pipeline.ScratchDir(id)); err != nil {
		s.logger.Warn("scratch cleanup failed", logging.Int64(logging.FieldTaskID, id), logging.Error(err))
	}
	return false, nil
}

// PauseAll pauses every pending and running task and returns how many were
// affected.
func (s *Scheduler) PauseAll(ctx context.Context) (int, error) {
	count := 0

	s.mu.Lock()
	for _, h := range s.running {
		if !h.pause.Swap(true) {
			h.cancel()
			count++
		}
	}
	s.mu.Unlock()

	pending, err := s.store.TasksByStatus(ctx, queue.StatusPending)
	if err != nil {
		return count, err
	}
	for _, task := range pending {
		if err := s.store.SetTaskStatus(ctx, task.ID, queue.StatusPaused, ""); err != nil {
			return count, err
		}
		s.bus.PublishStatus(task.ID, string(queue.StatusPaused), "")
		count++
	}
	return count, nil
}

// PauseSelected pauses the listed tasks, skipping ones that cannot be paused.
func (s *Scheduler) PauseSelected(ctx context.Context, ids []int64) (int, error) {
	count := 0
	for _, id := range ids {
		if err := s.Pause(ctx, id); err != nil {
			if errors.Is(err, services.ErrUser) || errors.Is(err, services.ErrNotFound) {
				continue
			}
			return count, err
		}
		count++
	}
	return count, nil
}

// DeleteAll removes every task, cancelling running members instead of
// deleting them. Returns cancelled and deleted counts.
func (s *Scheduler) DeleteAll(ctx context.Context) (cancelled, deleted int, err error) {
	tasks, _, err := s.store.ListTasks(ctx, queue.TaskFilter{})
	if err != nil {
		return 0, 0, err
	}
	ids := make([]int64, 0, len(tasks))
	for _, task := range tasks {
		ids = append(ids, task.ID)
	}
	return s.DeleteSelected(ctx, ids)
}

// DeleteSelected removes the listed tasks, skipping missing ones. Items are
// independent; one failure does not abort the batch.
func (s *Scheduler) DeleteSelected(ctx context.Context, ids []int64) (cancelled, deleted int, err error) {
	for _, id := range ids {
		wasCancelled, err := s.Delete(ctx, id)
		if err != nil {
			if errors.Is(err, services.ErrNotFound) {
				continue
			}
			return cancelled, deleted, err
		}
		if wasCancelled {
			cancelled++
		} else {
			deleted++
		}
	}
	return cancelled, deleted, nil
}

// RunningCount reports the current worker pool occupancy.
func (s *Scheduler) RunningCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.running)
}
