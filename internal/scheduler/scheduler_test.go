package scheduler_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"subtrans/internal/bus"
	"subtrans/internal/logging"
	"subtrans/internal/media"
	"subtrans/internal/pipeline"
	"subtrans/internal/queue"
	"subtrans/internal/scheduler"
	"subtrans/internal/services"
	"subtrans/internal/settings"
	"subtrans/internal/skip"
	"subtrans/internal/testsupport"
)

type fakeTranslator struct {
	mu    sync.Mutex
	calls int
	fail  error
	gate  chan struct{} // non-nil blocks each batch until closed or ctx ends
}

func (f *fakeTranslator) TranslateBatch(ctx context.Context, texts []string, _, _ string) ([]string, error) {
	f.mu.Lock()
	f.calls++
	fail := f.fail
	gate := f.gate
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if fail != nil {
		return nil, fail
	}
	out := make([]string, len(texts))
	for i, text := range texts {
		out[i] = "T:" + text
	}
	return out, nil
}

func (f *fakeTranslator) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeTranslator) setFail(err error) {
	f.mu.Lock()
	f.fail = err
	f.mu.Unlock()
}

func (f *fakeTranslator) setGate(gate chan struct{}) {
	f.mu.Lock()
	f.gate = gate
	f.mu.Unlock()
}

type noTracks struct{}

func (noTracks) ListTracks(context.Context, string) ([]media.Track, error) {
	return nil, nil
}

type fixture struct {
	store      *queue.Store
	settings   *settings.Service
	scheduler  *scheduler.Scheduler
	translator *fakeTranslator
}

func newFixture(t *testing.T, changes map[string]any) *fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	svc, err := settings.NewService(context.Background(), store, logging.NewNop())
	if err != nil {
		t.Fatalf("settings service: %v", err)
	}
	applied := map[string]any{settings.KeyOutputFormat: "srt"}
	for k, v := range changes {
		applied[k] = v
	}
	if _, err := svc.Apply(context.Background(), applied); err != nil {
		t.Fatalf("apply settings: %v", err)
	}

	translator := &fakeTranslator{}
	factory := func(settings.ProviderCredentials) (pipeline.Translator, error) {
		return translator, nil
	}
	eventBus := bus.New()
	pipe := pipeline.New(cfg, store, svc, eventBus, media.NewToolbox(cfg, logging.NewNop()), factory, logging.NewNop())
	sched := scheduler.New(store, svc, eventBus, pipe, skip.NewOracle(store, noTracks{}, logging.NewNop()), logging.NewNop())
	if err := sched.Start(context.Background()); err != nil {
		t.Fatalf("start scheduler: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = sched.Stop(ctx)
	})
	return &fixture{store: store, settings: svc, scheduler: sched, translator: translator}
}

func writeSource(t *testing.T, name string, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	testsupport.WriteSRT(t, path, lines...)
	return path
}

func waitForStatus(t *testing.T, store *queue.Store, id int64, want queue.Status) *queue.Task {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		task, err := store.GetTask(context.Background(), id)
		if err != nil {
			t.Fatalf("get task: %v", err)
		}
		if task != nil && task.Status == want {
			return task
		}
		time.Sleep(10 * time.Millisecond)
	}
	task, _ := store.GetTask(context.Background(), id)
	t.Fatalf("task %d never reached %s (last: %+v)", id, want, task)
	return nil
}

func TestSubmitRunsToCompletion(t *testing.T) {
	f := newFixture(t, nil)
	src := writeSource(t, "movie.srt", "hello", "world")

	task, decision, err := f.scheduler.Submit(context.Background(), scheduler.SubmitRequest{FilePath: src})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if decision.Skip {
		t.Fatalf("unexpected skip: %s", decision.Reason)
	}
	if task.TargetLanguage != "Chinese" || task.LLMProvider != "openai" {
		t.Fatalf("defaults not applied: %+v", task)
	}

	done := waitForStatus(t, f.store, task.ID, queue.StatusCompleted)
	if done.Progress != 100 {
		t.Fatalf("completed progress = %d, want 100", done.Progress)
	}
	output := filepath.Join(filepath.Dir(src), "movie.zh-Hans.srt")
	if _, err := os.Stat(output); err != nil {
		t.Fatalf("output missing: %v", err)
	}
}

func TestSubmitSkipsExistingOutput(t *testing.T) {
	f := newFixture(t, nil)
	src := writeSource(t, "movie.srt", "hello")
	sibling := filepath.Join(filepath.Dir(src), "movie.zh-Hans.srt")
	if err := os.WriteFile(sibling, []byte("1\n00:00:00,000 --> 00:00:01,000\nx\n\n"), 0o644); err != nil {
		t.Fatalf("write sibling: %v", err)
	}

	task, decision, err := f.scheduler.Submit(context.Background(), scheduler.SubmitRequest{FilePath: src})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !decision.Skip || decision.Reason != skip.ReasonOutputExists {
		t.Fatalf("decision = %+v, want output_exists skip", decision)
	}
	if task != nil {
		t.Fatalf("task created despite skip")
	}
}

func TestSubmitRejectsUnsupportedFile(t *testing.T) {
	f := newFixture(t, nil)
	path := filepath.Join(t.TempDir(), "notes.txt")
	if err := os.WriteFile(path, []byte("hi"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	_, _, err := f.scheduler.Submit(context.Background(), scheduler.SubmitRequest{FilePath: path})
	if !services.Terminal(err) {
		t.Fatalf("expected terminal error, got %v", err)
	}
}

func TestConcurrencyBound(t *testing.T) {
	f := newFixture(t, map[string]any{settings.KeyMaxConcurrent: 1})
	gate := make(chan struct{})
	f.translator.setGate(gate)

	first := writeSource(t, "a.srt", "one")
	second := writeSource(t, "b.srt", "two")
	taskA, _, err := f.scheduler.Submit(context.Background(), scheduler.SubmitRequest{FilePath: first})
	if err != nil {
		t.Fatalf("submit a: %v", err)
	}
	taskB, _, err := f.scheduler.Submit(context.Background(), scheduler.SubmitRequest{FilePath: second})
	if err != nil {
		t.Fatalf("submit b: %v", err)
	}

	waitForStatus(t, f.store, taskA.ID, queue.StatusProcessing)
	time.Sleep(50 * time.Millisecond)
	if got := f.translator.callCount(); got != 1 {
		t.Fatalf("translator calls with limit 1 = %d, want 1", got)
	}
	if got := f.scheduler.RunningCount(); got != 1 {
		t.Fatalf("running count = %d, want 1", got)
	}

	close(gate)
	waitForStatus(t, f.store, taskA.ID, queue.StatusCompleted)
	waitForStatus(t, f.store, taskB.ID, queue.StatusCompleted)
}

func TestRaisingLimitDispatchesWaitingTasks(t *testing.T) {
	f := newFixture(t, map[string]any{settings.KeyMaxConcurrent: 1})
	gate := make(chan struct{})
	f.translator.setGate(gate)

	var ids []int64
	for i := 0; i < 3; i++ {
		src := writeSource(t, fmt.Sprintf("ep%d.srt", i), "line")
		task, _, err := f.scheduler.Submit(context.Background(), scheduler.SubmitRequest{FilePath: src})
		if err != nil {
			t.Fatalf("submit: %v", err)
		}
		ids = append(ids, task.ID)
	}
	waitForStatus(t, f.store, ids[0], queue.StatusProcessing)

	if _, err := f.settings.Apply(context.Background(), map[string]any{settings.KeyMaxConcurrent: 3}); err != nil {
		t.Fatalf("raise limit: %v", err)
	}
	waitForStatus(t, f.store, ids[1], queue.StatusProcessing)
	waitForStatus(t, f.store, ids[2], queue.StatusProcessing)

	close(gate)
	for _, id := range ids {
		waitForStatus(t, f.store, id, queue.StatusCompleted)
	}
}

func TestPauseRunningTaskAndResume(t *testing.T) {
	f := newFixture(t, nil)
	gate := make(chan struct{})
	f.translator.setGate(gate)

	src := writeSource(t, "movie.srt", "hello")
	task, _, err := f.scheduler.Submit(context.Background(), scheduler.SubmitRequest{FilePath: src})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitForStatus(t, f.store, task.ID, queue.StatusProcessing)

	if err := f.scheduler.Pause(context.Background(), task.ID); err != nil {
		t.Fatalf("pause: %v", err)
	}
	waitForStatus(t, f.store, task.ID, queue.StatusPaused)

	f.translator.setGate(nil)
	close(gate)
	if err := f.scheduler.Resume(context.Background(), task.ID); err != nil {
		t.Fatalf("resume: %v", err)
	}
	waitForStatus(t, f.store, task.ID, queue.StatusCompleted)
}

func TestPausePendingTask(t *testing.T) {
	f := newFixture(t, map[string]any{settings.KeyMaxConcurrent: 1})
	gate := make(chan struct{})
	defer close(gate)
	f.translator.setGate(gate)

	blocker := writeSource(t, "a.srt", "one")
	if _, _, err := f.scheduler.Submit(context.Background(), scheduler.SubmitRequest{FilePath: blocker}); err != nil {
		t.Fatalf("submit blocker: %v", err)
	}
	pendingSrc := writeSource(t, "b.srt", "two")
	pending, _, err := f.scheduler.Submit(context.Background(), scheduler.SubmitRequest{FilePath: pendingSrc})
	if err != nil {
		t.Fatalf("submit pending: %v", err)
	}

	if err := f.scheduler.Pause(context.Background(), pending.ID); err != nil {
		t.Fatalf("pause pending: %v", err)
	}
	waitForStatus(t, f.store, pending.ID, queue.StatusPaused)
}

func TestRetryFailedTask(t *testing.T) {
	f := newFixture(t, nil)
	f.translator.setFail(services.Wrap(services.ErrAuth, "llm", "complete", "bad key", nil))

	src := writeSource(t, "movie.srt", "hello")
	task, _, err := f.scheduler.Submit(context.Background(), scheduler.SubmitRequest{FilePath: src})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	failed := waitForStatus(t, f.store, task.ID, queue.StatusFailed)
	if failed.ErrorMessage == "" {
		t.Fatalf("failed task has no error message")
	}

	f.translator.setFail(nil)
	if err := f.scheduler.Retry(context.Background(), task.ID); err != nil {
		t.Fatalf("retry: %v", err)
	}
	waitForStatus(t, f.store, task.ID, queue.StatusCompleted)
}

func TestCancelRunningTask(t *testing.T) {
	f := newFixture(t, nil)
	gate := make(chan struct{})
	defer close(gate)
	f.translator.setGate(gate)

	src := writeSource(t, "movie.srt", "hello")
	task, _, err := f.scheduler.Submit(context.Background(), scheduler.SubmitRequest{FilePath: src})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitForStatus(t, f.store, task.ID, queue.StatusProcessing)

	if err := f.scheduler.Cancel(context.Background(), task.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	waitForStatus(t, f.store, task.ID, queue.StatusCancelled)
}

func TestDeleteAllCancelsAndCounts(t *testing.T) {
	f := newFixture(t, map[string]any{settings.KeyMaxConcurrent: 1})
	gate := make(chan struct{})
	defer close(gate)
	f.translator.setGate(gate)

	var ids []int64
	for i := 0; i < 3; i++ {
		src := writeSource(t, fmt.Sprintf("ep%d.srt", i), "line")
		task, _, err := f.scheduler.Submit(context.Background(), scheduler.SubmitRequest{FilePath: src})
		if err != nil {
			t.Fatalf("submit: %v", err)
		}
		ids = append(ids, task.ID)
	}
	waitForStatus(t, f.store, ids[0], queue.StatusProcessing)

	cancelled, deleted, err := f.scheduler.DeleteAll(context.Background())
	if err != nil {
		t.Fatalf("delete all: %v", err)
	}
	if cancelled != 1 || deleted != 2 {
		t.Fatalf("delete all counts = %d cancelled, %d deleted, want 1 and 2", cancelled, deleted)
	}
	_, total, err := f.store.ListTasks(context.Background(), queue.TaskFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 1 {
		t.Fatalf("tasks remaining = %d, want the cancelled row only", total)
	}
}

func TestStopPausesRunningTasks(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	svc, err := settings.NewService(context.Background(), store, logging.NewNop())
	if err != nil {
		t.Fatalf("settings service: %v", err)
	}
	if _, err := svc.Apply(context.Background(), map[string]any{settings.KeyOutputFormat: "srt"}); err != nil {
		t.Fatalf("apply settings: %v", err)
	}
	translator := &fakeTranslator{gate: make(chan struct{})}
	factory := func(settings.ProviderCredentials) (pipeline.Translator, error) {
		return translator, nil
	}
	eventBus := bus.New()
	pipe := pipeline.New(cfg, store, svc, eventBus, media.NewToolbox(cfg, logging.NewNop()), factory, logging.NewNop())
	sched := scheduler.New(store, svc, eventBus, pipe, skip.NewOracle(store, noTracks{}, logging.NewNop()), logging.NewNop())
	if err := sched.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	src := writeSource(t, "movie.srt", "hello")
	task, _, err := sched.Submit(context.Background(), scheduler.SubmitRequest{FilePath: src})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitForStatus(t, store, task.ID, queue.StatusProcessing)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sched.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	waitForStatus(t, store, task.ID, queue.StatusPaused)
}
