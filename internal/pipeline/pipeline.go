// Package pipeline runs one translation task end to end: extract, chunk,
// translate, assemble, place.
//
// The pipeline is single-threaded per task. Cancellation and pause are
// observed only at suspension points: between chunks, before external tool
// invocations, and before filesystem writes. A pause persists a checkpoint
// under the task's scratch directory so a resume skips finished chunks; any
// terminal outcome removes the scratch directory.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"subtrans/internal/bus"
	"subtrans/internal/config"
	"subtrans/internal/fileutil"
	"subtrans/internal/language"
	"subtrans/internal/logging"
	"subtrans/internal/media"
	"subtrans/internal/metrics"
	"subtrans/internal/queue"
	"subtrans/internal/services"
	"subtrans/internal/settings"
	"subtrans/internal/subtitle"
)

// Outcome is the terminal disposition of one pipeline run.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomePaused    Outcome = "paused"
	OutcomeCancelled Outcome = "cancelled"
	OutcomeFailed    Outcome = "failed"
)

// Result reports how a run ended.
type Result struct {
	Outcome      Outcome
	OutputPath   string
	ErrorMessage string
}

// Control exposes the scheduler's pause signal to the running pipeline.
type Control interface {
	PauseRequested() bool
}

// Translator is the batch translation surface the pipeline consumes.
type Translator interface {
	TranslateBatch(ctx context.Context, texts []string, sourceLanguage, targetLanguage string) ([]string, error)
}

// TranslatorFactory builds a translator for resolved provider credentials.
type TranslatorFactory func(creds settings.ProviderCredentials) (Translator, error)

// Pipeline executes translation tasks.
type Pipeline struct {
	cfg           *config.Config
	store         *queue.Store
	settings      *settings.Service
	bus           *bus.Bus
	toolbox       *media.Toolbox
	newTranslator TranslatorFactory
	logger        *slog.Logger
}

// New builds a Pipeline.
func New(cfg *config.Config, store *queue.Store, settingsSvc *settings.Service, eventBus *bus.Bus, toolbox *media.Toolbox, factory TranslatorFactory, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Pipeline{
		cfg:           cfg,
		store:         store,
		settings:      settingsSvc,
		bus:           eventBus,
		toolbox:       toolbox,
		newTranslator: factory,
		logger:        logging.NewComponentLogger(logger, "pipeline"),
	}
}

// ScratchDir returns the per-task scratch directory.
func (p *Pipeline) ScratchDir(taskID int64) string {
	return filepath.Join(p.cfg.ScratchRoot(), strconv.FormatInt(taskID, 10))
}

// Run executes one task. Settings are pinned at entry; mid-run settings
// changes affect only later tasks.
func (p *Pipeline) Run(ctx context.Context, task *queue.Task, ctrl Control) Result {
	ctx = services.WithTaskID(ctx, task.ID)
	logger := logging.WithContext(ctx, p.logger).With(logging.String("file", task.FileName))
	scratch := p.ScratchDir(task.ID)
	if err := os.MkdirAll(scratch, 0o755); err != nil {
		return failure(services.Wrap(services.ErrTransient, "pipeline", "init", "create scratch dir", err))
	}

	result := p.run(ctx, task, ctrl, scratch, logger)
	if result.Outcome != OutcomePaused {
		if err := os.RemoveAll(scratch); err != nil {
			logger.Warn("scratch cleanup failed", logging.Error(err))
		}
	}
	return result
}

type runState struct {
	scratch      string
	sourceFile   string // relative to scratch, empty when the source is used directly
	format       subtitle.Format
	trackIndex   *int
	chunksDone   int
	chunksTotal  int
	translations []string
}

func (s *runState) checkpoint() *Checkpoint {
	return &Checkpoint{
		SourceFile:   s.sourceFile,
		SourceFormat: string(s.format),
		TrackIndex:   s.trackIndex,
		ChunksDone:   s.chunksDone,
		ChunksTotal:  s.chunksTotal,
		Translations: s.translations,
	}
}

func (p *Pipeline) run(ctx context.Context, task *queue.Task, ctrl Control, scratch string, logger *slog.Logger) Result {
	snap := p.settings.Snapshot()
	state := &runState{scratch: scratch}
	cp, err := loadCheckpoint(scratch)
	if err != nil {
		logger.Warn("checkpoint unreadable, restarting task", logging.Error(err))
		cp = nil
	}

	// EXTRACTING
	ctx, logger = p.stageContext(ctx, task, "extracting")
	sourceExt := strings.ToLower(filepath.Ext(task.FilePath))
	var sourcePath string
	switch {
	case cp != nil && cp.SourceFile != "" && fileutil.FileExists(filepath.Join(scratch, cp.SourceFile)):
		state.sourceFile = cp.SourceFile
		state.format = subtitle.Format(cp.SourceFormat)
		state.trackIndex = cp.TrackIndex
		sourcePath = filepath.Join(scratch, cp.SourceFile)
	case sourceExt == ".mkv":
		if res := p.suspended(ctx, ctrl, state); res != nil {
			return *res
		}
		track, err := p.selectTrack(ctx, task, snap)
		if err != nil {
			return failure(err)
		}
		state.format = track.NativeFormat()
		rel := track.RelativeIndex
		state.trackIndex = &rel
		state.sourceFile = "source." + string(state.format)
		sourcePath = filepath.Join(scratch, state.sourceFile)
		logger.Info("extracting subtitle track", logging.Int("track", rel), logging.String("codec", track.Codec))
		if err := p.toolbox.ExtractTrack(ctx, task.FilePath, track, sourcePath); err != nil {
			if res := p.suspended(ctx, ctrl, state); res != nil {
				return *res
			}
			return failure(err)
		}
	default:
		format, err := subtitle.DetectFormat(task.FilePath)
		if err != nil {
			return failure(err)
		}
		state.format = format
		sourcePath = task.FilePath
	}

	// CHUNKING
	ctx, logger = p.stageContext(ctx, task, "chunking")
	doc, err := subtitle.Load(sourcePath)
	if err != nil {
		return failure(err)
	}
	units := doc.Units()
	originals := make([]string, len(units))
	for i, unit := range units {
		originals[i] = unit.Text
	}
	chunks := BuildChunks(originals)
	state.chunksTotal = len(chunks)
	state.translations = make([]string, len(units))
	if cp != nil && cp.ChunksTotal == len(chunks) && len(cp.Translations) == len(units) {
		state.translations = cp.Translations
		state.chunksDone = cp.ChunksDone
		logger.Info("resuming from checkpoint", logging.Int("chunks_done", state.chunksDone), logging.Int("chunks_total", state.chunksTotal))
	}

	// TRANSLATING
	ctx, logger = p.stageContext(ctx, task, "translating")
	creds, err := snap.Provider(task.LLMProvider)
	if err != nil {
		return failure(err)
	}
	translator, err := p.newTranslator(creds)
	if err != nil {
		return failure(err)
	}

	sourceLanguage := task.SourceLanguage
	if sourceLanguage == "" {
		sourceLanguage = snap.SourceLanguage()
	}

	sampler := logging.NewProgressSampler(0)
	for i := state.chunksDone; i < len(chunks); i++ {
		if res := p.suspended(ctx, ctrl, state); res != nil {
			return *res
		}
		chunk := chunks[i]
		translated, err := translator.TranslateBatch(ctx, originals[chunk.Start:chunk.End], sourceLanguage, task.TargetLanguage)
		if err != nil {
			// A chunk interrupted mid-flight is not applied; resume
			// retries it.
			if res := p.suspended(ctx, ctrl, state); res != nil {
				return *res
			}
			return failure(err)
		}
		copy(state.translations[chunk.Start:chunk.End], translated)
		state.chunksDone = i + 1
		metrics.ChunksTranslated.Inc()

		progress := translationProgress(state.chunksDone, state.chunksTotal)
		if sampler.ShouldLog(float64(progress), "translating") {
			logger.Info("translation progress",
				logging.Int("percent", progress),
				logging.Int("chunks_done", state.chunksDone),
				logging.Int("chunks_total", state.chunksTotal))
		}
		if err := p.store.UpdateTaskProgress(ctx, task.ID, progress); err != nil {
			logger.Warn("progress update failed", logging.Error(err))
		}
		p.bus.PublishProgress(task.ID, progress)
		if err := saveCheckpoint(scratch, state.checkpoint()); err != nil {
			logger.Warn("checkpoint write failed", logging.Error(err))
		}
	}

	// ASSEMBLING
	translations := make([]string, len(state.translations))
	copy(translations, state.translations)
	if doc.Format() == subtitle.FormatSRT {
		for i, text := range translations {
			translations[i] = strings.ReplaceAll(text, `\N`, "\n")
		}
	}
	subtitle.ApplyTranslations(doc, originals, translations, snap.BilingualOutput())

	// PLACING
	ctx, logger = p.stageContext(ctx, task, "placing")
	return p.place(ctx, task, ctrl, snap, doc, state, logger)
}

// stageContext annotates the context with the stage name and rebuilds the
// task logger so records carry it.
func (p *Pipeline) stageContext(ctx context.Context, task *queue.Task, stage string) (context.Context, *slog.Logger) {
	ctx = services.WithStage(ctx, stage)
	return ctx, logging.WithContext(ctx, p.logger).With(logging.String("file", task.FileName))
}

func (p *Pipeline) place(ctx context.Context, task *queue.Task, ctrl Control, snap settings.Snapshot, doc subtitle.Document, state *runState, logger *slog.Logger) Result {
	sourceExt := strings.ToLower(filepath.Ext(task.FilePath))
	stem := strings.TrimSuffix(task.FilePath, filepath.Ext(task.FilePath))
	tag := language.FilenameTag(task.TargetLanguage)

	var outputPath string
	switch snap.OutputFormat() {
	case "srt", "ass":
		target, err := subtitle.ParseFormat(snap.OutputFormat())
		if err != nil {
			return failure(err)
		}
		data, err := subtitle.Convert(doc, target)
		if err != nil {
			return failure(err)
		}
		outputPath = fmt.Sprintf("%s.%s.%s", stem, tag, snap.OutputFormat())
		if res := p.suspended(ctx, ctrl, state); res != nil {
			return *res
		}
		if err := fileutil.WriteFileAtomic(outputPath, data, 0o644); err != nil {
			return failure(services.Wrap(services.ErrTransient, "pipeline", "place", "write subtitle output", err))
		}
	case "mkv":
		if sourceExt != ".mkv" {
			return Result{Outcome: OutcomeFailed, ErrorMessage: "invalid_output_format"}
		}
		subtitlePath := filepath.Join(state.scratch, "translated."+string(doc.Format()))
		if err := fileutil.WriteFileAtomic(subtitlePath, doc.Marshal(), 0o644); err != nil {
			return failure(services.Wrap(services.ErrTransient, "pipeline", "place", "write merged subtitle", err))
		}
		trackName := task.TargetLanguage
		if snap.BilingualOutput() {
			trackName += " (Bilingual)"
		}
		req := media.MergeRequest{
			Input:        task.FilePath,
			SubtitlePath: subtitlePath,
			Language:     language.ToISO3(task.TargetLanguage),
			TrackName:    trackName,
		}
		if res := p.suspended(ctx, ctrl, state); res != nil {
			return *res
		}
		if snap.OverwriteMKV() {
			if err := p.toolbox.ReplaceInPlace(ctx, req); err != nil {
				return failure(err)
			}
			outputPath = task.FilePath
		} else {
			outputPath = stem + ".translated.mkv"
			tmp := filepath.Join(filepath.Dir(task.FilePath), "."+filepath.Base(outputPath)+".tmp")
			req.Output = tmp
			if err := p.toolbox.Merge(ctx, req); err != nil {
				_ = os.Remove(tmp)
				return failure(err)
			}
			if err := fileutil.MoveFile(tmp, outputPath); err != nil {
				_ = os.Remove(tmp)
				return failure(services.Wrap(services.ErrTransient, "pipeline", "place", "move merged container", err))
			}
		}
	default:
		return Result{Outcome: OutcomeFailed, ErrorMessage: "invalid_output_format"}
	}

	// DONE
	if err := p.store.RecordTranslation(ctx, task.FilePath, task.TargetLanguage, outputPath); err != nil {
		logger.Warn("history record failed", logging.Error(err))
	}
	logger.Info("translation complete", logging.String("output", outputPath))
	return Result{Outcome: OutcomeCompleted, OutputPath: outputPath}
}

// selectTrack applies the track selection policy for MKV sources.
func (p *Pipeline) selectTrack(ctx context.Context, task *queue.Task, snap settings.Snapshot) (media.Track, error) {
	tracks, err := p.toolbox.ListTracks(ctx, task.FilePath)
	if err != nil {
		return media.Track{}, err
	}
	if len(tracks) == 0 {
		return media.Track{}, services.Wrap(services.ErrCodec, "pipeline", "extract", "no_subtitle_tracks", nil)
	}

	if task.SubtitleTrack != nil {
		for _, track := range tracks {
			if track.RelativeIndex == *task.SubtitleTrack {
				return track, nil
			}
		}
		return media.Track{}, services.Wrap(services.ErrUser, "pipeline", "extract", fmt.Sprintf("subtitle track %d does not exist", *task.SubtitleTrack), nil)
	}

	var text []media.Track
	for _, track := range tracks {
		if track.TextBased() {
			text = append(text, track)
		}
	}
	if len(text) == 0 {
		return media.Track{}, services.Wrap(services.ErrCodec, "pipeline", "extract", "no_subtitle_tracks", nil)
	}

	sourceLanguage := task.SourceLanguage
	if sourceLanguage == "" {
		sourceLanguage = snap.SourceLanguage()
	}
	if sourceLanguage != "" && !strings.EqualFold(sourceLanguage, "auto") {
		for _, track := range text {
			if language.Matches(track.Language, sourceLanguage) {
				return track, nil
			}
		}
	}
	for _, track := range text {
		if track.Language == "" || !language.Matches(track.Language, task.TargetLanguage) {
			return track, nil
		}
	}
	return text[0], nil
}

// suspended checks the pause and cancel signals. Pause wins so shutdown can
// cancel the context after requesting pause and still checkpoint.
func (p *Pipeline) suspended(ctx context.Context, ctrl Control, state *runState) *Result {
	if ctrl != nil && ctrl.PauseRequested() {
		if err := saveCheckpoint(state.scratch, state.checkpoint()); err != nil {
			p.logger.Warn("checkpoint write on pause failed", logging.Error(err))
		}
		return &Result{Outcome: OutcomePaused}
	}
	if ctx.Err() != nil {
		return &Result{Outcome: OutcomeCancelled}
	}
	return nil
}

// translationProgress caps at 95 so assembly and placement own the tail.
func translationProgress(done, total int) int {
	if total <= 0 {
		return 95
	}
	return int(float64(done) / float64(total) * 100 * 0.95)
}

func failure(err error) Result {
	return Result{Outcome: OutcomeFailed, ErrorMessage: failureMessage(err)}
}

const maxErrorMessage = 1024

func failureMessage(err error) string {
	if err == nil {
		return "internal_error"
	}
	var message string
	var toolErr *services.ToolError
	switch {
	case errors.As(err, &toolErr):
		message = "tool_error: " + toolErr.Error()
	case errors.Is(err, services.ErrAuth):
		message = "auth_error: " + err.Error()
	case errors.Is(err, services.ErrCodec):
		message = "codec_error: " + err.Error()
	case errors.Is(err, services.ErrConsistency):
		message = "translation_failed: " + err.Error()
	default:
		message = err.Error()
	}
	if len(message) > maxErrorMessage {
		message = message[:maxErrorMessage]
	}
	return message
}
