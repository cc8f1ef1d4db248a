package pipeline_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"subtrans/internal/bus"
	"subtrans/internal/config"
	"subtrans/internal/logging"
	"subtrans/internal/media"
	"subtrans/internal/pipeline"
	"subtrans/internal/queue"
	"subtrans/internal/services"
	"subtrans/internal/settings"
	"subtrans/internal/subtitle"
	"subtrans/internal/testsupport"
)

type stubTranslator struct {
	mu      sync.Mutex
	batches [][]string
	fail    error
	onBatch func()
}

func (s *stubTranslator) TranslateBatch(_ context.Context, texts []string, _, _ string) ([]string, error) {
	s.mu.Lock()
	batch := make([]string, len(texts))
	copy(batch, texts)
	s.batches = append(s.batches, batch)
	s.mu.Unlock()
	if s.fail != nil {
		return nil, s.fail
	}
	if s.onBatch != nil {
		s.onBatch()
	}
	out := make([]string, len(texts))
	for i, text := range texts {
		out[i] = "T:" + text
	}
	return out, nil
}

func (s *stubTranslator) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.batches)
}

type pauseControl struct {
	mu     sync.Mutex
	paused bool
}

func (c *pauseControl) PauseRequested() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

func (c *pauseControl) requestPause() {
	c.mu.Lock()
	c.paused = true
	c.mu.Unlock()
}

type fixture struct {
	cfg        *config.Config
	store      *queue.Store
	settings   *settings.Service
	pipeline   *pipeline.Pipeline
	translator *stubTranslator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	svc, err := settings.NewService(context.Background(), store, logging.NewNop())
	if err != nil {
		t.Fatalf("settings service: %v", err)
	}
	translator := &stubTranslator{}
	factory := func(settings.ProviderCredentials) (pipeline.Translator, error) {
		return translator, nil
	}
	toolbox := media.NewToolbox(cfg, logging.NewNop())
	p := pipeline.New(cfg, store, svc, bus.New(), toolbox, factory, logging.NewNop())
	return &fixture{cfg: cfg, store: store, settings: svc, pipeline: p, translator: translator}
}

func (f *fixture) apply(t *testing.T, changes map[string]any) {
	t.Helper()
	if _, err := f.settings.Apply(context.Background(), changes); err != nil {
		t.Fatalf("apply settings: %v", err)
	}
}

func TestRunTranslatesSRT(t *testing.T) {
	f := newFixture(t)
	f.apply(t, map[string]any{settings.KeyOutputFormat: "srt"})

	src := filepath.Join(t.TempDir(), "movie.srt")
	testsupport.WriteSRT(t, src, "hello there", "general kenobi")
	task := testsupport.NewTask(t, f.store, src, "Chinese")

	result := f.pipeline.Run(context.Background(), task, nil)
	if result.Outcome != pipeline.OutcomeCompleted {
		t.Fatalf("outcome = %q (%s), want completed", result.Outcome, result.ErrorMessage)
	}
	want := filepath.Join(filepath.Dir(src), "movie.zh-Hans.srt")
	if result.OutputPath != want {
		t.Fatalf("output path = %q, want %q", result.OutputPath, want)
	}

	doc, err := subtitle.Load(result.OutputPath)
	if err != nil {
		t.Fatalf("load output: %v", err)
	}
	units := doc.Units()
	if len(units) != 2 {
		t.Fatalf("output units = %d, want 2", len(units))
	}
	if units[0].Text != "T:hello there" || units[1].Text != "T:general kenobi" {
		t.Fatalf("output texts = %q, %q", units[0].Text, units[1].Text)
	}

	rec, err := f.store.TranslationRecord(context.Background(), src, "Chinese")
	if err != nil || rec == nil {
		t.Fatalf("TranslationRecord = %v, %v, want record", rec, err)
	}
	if rec.OutputPath != want {
		t.Fatalf("history output = %q, want %q", rec.OutputPath, want)
	}
	if _, err := os.Stat(f.pipeline.ScratchDir(task.ID)); !os.IsNotExist(err) {
		t.Fatalf("scratch dir still present after completion")
	}
}

func TestRunConvertsToASS(t *testing.T) {
	f := newFixture(t)
	f.apply(t, map[string]any{settings.KeyOutputFormat: "ass"})

	src := filepath.Join(t.TempDir(), "movie.srt")
	testsupport.WriteSRT(t, src, "one", "two")
	task := testsupport.NewTask(t, f.store, src, "French")

	result := f.pipeline.Run(context.Background(), task, nil)
	if result.Outcome != pipeline.OutcomeCompleted {
		t.Fatalf("outcome = %q (%s)", result.Outcome, result.ErrorMessage)
	}
	if got, want := result.OutputPath, filepath.Join(filepath.Dir(src), "movie.fr.ass"); got != want {
		t.Fatalf("output path = %q, want %q", got, want)
	}
	doc, err := subtitle.Load(result.OutputPath)
	if err != nil {
		t.Fatalf("load output: %v", err)
	}
	if doc.Format() != subtitle.FormatASS {
		t.Fatalf("output format = %q, want ass", doc.Format())
	}
}

func TestRunBilingualOutput(t *testing.T) {
	f := newFixture(t)
	f.apply(t, map[string]any{
		settings.KeyOutputFormat: "srt",
		settings.KeyBilingual:    true,
	})

	src := filepath.Join(t.TempDir(), "show.srt")
	testsupport.WriteSRT(t, src, "original line")
	task := testsupport.NewTask(t, f.store, src, "Chinese")

	result := f.pipeline.Run(context.Background(), task, nil)
	if result.Outcome != pipeline.OutcomeCompleted {
		t.Fatalf("outcome = %q (%s)", result.Outcome, result.ErrorMessage)
	}
	doc, err := subtitle.Load(result.OutputPath)
	if err != nil {
		t.Fatalf("load output: %v", err)
	}
	if got, want := doc.Units()[0].Text, "T:original line\noriginal line"; got != want {
		t.Fatalf("bilingual text = %q, want %q", got, want)
	}
}

func TestRunRejectsContainerOutputForSubtitleSource(t *testing.T) {
	f := newFixture(t)
	// Default output format is mkv, which a bare subtitle file cannot feed.

	src := filepath.Join(t.TempDir(), "movie.srt")
	testsupport.WriteSRT(t, src, "hello")
	task := testsupport.NewTask(t, f.store, src, "Chinese")

	result := f.pipeline.Run(context.Background(), task, nil)
	if result.Outcome != pipeline.OutcomeFailed {
		t.Fatalf("outcome = %q, want failed", result.Outcome)
	}
	if result.ErrorMessage != "invalid_output_format" {
		t.Fatalf("error = %q, want invalid_output_format", result.ErrorMessage)
	}
	if _, err := os.Stat(f.pipeline.ScratchDir(task.ID)); !os.IsNotExist(err) {
		t.Fatalf("scratch dir still present after failure")
	}
}

func TestRunPauseAndResume(t *testing.T) {
	f := newFixture(t)
	f.apply(t, map[string]any{settings.KeyOutputFormat: "srt"})

	// Enough dialogue for two chunks under the 50-unit cap.
	texts := make([]string, 60)
	for i := range texts {
		texts[i] = fmt.Sprintf("line %d", i)
	}
	src := filepath.Join(t.TempDir(), "series.srt")
	testsupport.WriteSRT(t, src, texts...)
	task := testsupport.NewTask(t, f.store, src, "Chinese")

	ctrl := &pauseControl{}
	f.translator.onBatch = ctrl.requestPause

	result := f.pipeline.Run(context.Background(), task, ctrl)
	if result.Outcome != pipeline.OutcomePaused {
		t.Fatalf("outcome = %q, want paused", result.Outcome)
	}
	if got := f.translator.calls(); got != 1 {
		t.Fatalf("translator calls before pause = %d, want 1", got)
	}
	if _, err := os.Stat(f.pipeline.ScratchDir(task.ID)); err != nil {
		t.Fatalf("scratch dir missing while paused: %v", err)
	}

	f.translator.onBatch = nil
	result = f.pipeline.Run(context.Background(), task, &pauseControl{})
	if result.Outcome != pipeline.OutcomeCompleted {
		t.Fatalf("resume outcome = %q (%s)", result.Outcome, result.ErrorMessage)
	}
	if got := f.translator.calls(); got != 2 {
		t.Fatalf("translator calls after resume = %d, want 2", got)
	}

	doc, err := subtitle.Load(result.OutputPath)
	if err != nil {
		t.Fatalf("load output: %v", err)
	}
	if got := len(doc.Units()); got != 60 {
		t.Fatalf("output units = %d, want 60", got)
	}
	for i, unit := range doc.Units() {
		if want := "T:" + texts[i]; unit.Text != want {
			t.Fatalf("unit %d = %q, want %q", i, unit.Text, want)
		}
	}
}

func TestRunCancelled(t *testing.T) {
	f := newFixture(t)
	f.apply(t, map[string]any{settings.KeyOutputFormat: "srt"})

	src := filepath.Join(t.TempDir(), "movie.srt")
	testsupport.WriteSRT(t, src, "hello")
	task := testsupport.NewTask(t, f.store, src, "Chinese")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result := f.pipeline.Run(ctx, task, &pauseControl{})
	if result.Outcome != pipeline.OutcomeCancelled {
		t.Fatalf("outcome = %q, want cancelled", result.Outcome)
	}
	if _, err := os.Stat(f.pipeline.ScratchDir(task.ID)); !os.IsNotExist(err) {
		t.Fatalf("scratch dir still present after cancel")
	}
}

func TestRunTranslatorFailure(t *testing.T) {
	f := newFixture(t)
	f.apply(t, map[string]any{settings.KeyOutputFormat: "srt"})

	src := filepath.Join(t.TempDir(), "movie.srt")
	testsupport.WriteSRT(t, src, "hello")
	task := testsupport.NewTask(t, f.store, src, "Chinese")
	f.translator.fail = services.Wrap(services.ErrAuth, "llm", "complete", "api key rejected", nil)

	result := f.pipeline.Run(context.Background(), task, nil)
	if result.Outcome != pipeline.OutcomeFailed {
		t.Fatalf("outcome = %q, want failed", result.Outcome)
	}
	if !strings.HasPrefix(result.ErrorMessage, "auth_error:") {
		t.Fatalf("error = %q, want auth_error prefix", result.ErrorMessage)
	}
}

func TestRunProgressUpdates(t *testing.T) {
	f := newFixture(t)
	f.apply(t, map[string]any{settings.KeyOutputFormat: "srt"})

	texts := make([]string, 60)
	for i := range texts {
		texts[i] = fmt.Sprintf("line %d", i)
	}
	src := filepath.Join(t.TempDir(), "series.srt")
	testsupport.WriteSRT(t, src, texts...)
	task := testsupport.NewTask(t, f.store, src, "Chinese")

	eventBus := bus.New()
	sub := eventBus.Subscribe()
	factory := func(settings.ProviderCredentials) (pipeline.Translator, error) {
		return f.translator, nil
	}
	p := pipeline.New(f.cfg, f.store, f.settings, eventBus, media.NewToolbox(f.cfg, logging.NewNop()), factory, logging.NewNop())

	result := p.Run(context.Background(), task, nil)
	if result.Outcome != pipeline.OutcomeCompleted {
		t.Fatalf("outcome = %q (%s)", result.Outcome, result.ErrorMessage)
	}

	var progress []int
	for len(progress) < 2 {
		evt := <-sub.Events()
		if evt.Type == bus.EventProgress && evt.Progress != nil {
			progress = append(progress, *evt.Progress)
		}
	}
	if progress[0] != 47 || progress[1] != 95 {
		t.Fatalf("progress events = %v, want [47 95]", progress)
	}
}

func TestBuildChunks(t *testing.T) {
	long := strings.Repeat("x", 1200)
	cjk := strings.Repeat("字", 1200)
	tests := []struct {
		name  string
		texts []string
		want  []pipeline.Chunk
	}{
		{"empty", nil, nil},
		{"single", []string{"hi"}, []pipeline.Chunk{{Start: 0, End: 1}}},
		{"char budget", []string{long, long, long, long}, []pipeline.Chunk{{Start: 0, End: 2}, {Start: 2, End: 4}}},
		{"cjk counts runes not bytes", []string{cjk, cjk, cjk, cjk}, []pipeline.Chunk{{Start: 0, End: 2}, {Start: 2, End: 4}}},
		{"unit cap", manyShort(120), []pipeline.Chunk{{Start: 0, End: 50}, {Start: 50, End: 100}, {Start: 100, End: 120}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := pipeline.BuildChunks(tt.texts)
			if len(got) != len(tt.want) {
				t.Fatalf("chunks = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("chunk %d = %v, want %v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func manyShort(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = "a"
	}
	return out
}

func TestRunLogsSampledProgress(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	svc, err := settings.NewService(context.Background(), store, logging.NewNop())
	if err != nil {
		t.Fatalf("settings service: %v", err)
	}
	if _, err := svc.Apply(context.Background(), map[string]any{settings.KeyOutputFormat: "srt"}); err != nil {
		t.Fatalf("apply settings: %v", err)
	}

	logPath := filepath.Join(t.TempDir(), "pipeline.log")
	logger, err := logging.New(logging.Options{Level: "debug", Format: "json", OutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("build logger: %v", err)
	}
	translator := &stubTranslator{}
	factory := func(settings.ProviderCredentials) (pipeline.Translator, error) {
		return translator, nil
	}
	p := pipeline.New(cfg, store, svc, bus.New(), media.NewToolbox(cfg, logging.NewNop()), factory, logger)

	// 1200 short lines chunk at the 50-unit cap, giving 24 chunks whose
	// progress steps are finer than one 5% bucket.
	texts := make([]string, 1200)
	for i := range texts {
		texts[i] = fmt.Sprintf("line %d", i)
	}
	src := filepath.Join(t.TempDir(), "series.srt")
	testsupport.WriteSRT(t, src, texts...)
	task := testsupport.NewTask(t, store, src, "Chinese")

	result := p.Run(context.Background(), task, nil)
	if result.Outcome != pipeline.OutcomeCompleted {
		t.Fatalf("outcome = %q (%s)", result.Outcome, result.ErrorMessage)
	}

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	progressLines := 0
	for _, line := range strings.Split(string(data), "\n") {
		if !strings.Contains(line, `"msg":"translation progress"`) {
			continue
		}
		progressLines++
		if !strings.Contains(line, `"task_id"`) || !strings.Contains(line, `"stage":"translating"`) {
			t.Fatalf("progress line missing context fields: %s", line)
		}
	}
	if progressLines == 0 {
		t.Fatal("no translation progress lines logged")
	}
	if chunkCount := translator.calls(); progressLines >= chunkCount {
		t.Fatalf("progress lines = %d for %d chunks, want sampling to drop some", progressLines, chunkCount)
	}
}
