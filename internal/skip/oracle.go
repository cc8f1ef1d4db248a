// Package skip decides whether a candidate file needs translation at all.
//
// The oracle applies cheap rules first and the MKV track probe last among
// the skip checks. Force override bypasses everything except the duplicate
// active-task rule, which always holds so two workers can never race on the
// same (file, language) pair.
package skip

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"subtrans/internal/language"
	"subtrans/internal/logging"
	"subtrans/internal/media"
	"subtrans/internal/queue"
)

// Skip reasons reported to callers and surfaced in API responses.
const (
	ReasonInProgress      = "in_progress"
	ReasonAlreadyHasTrack = "already_has_track"
	ReasonOutputExists    = "output_exists"
	ReasonHistory         = "history"
	ReasonFilenameMarker  = "filename_marker"
)

// Decision is the oracle's verdict for one candidate.
type Decision struct {
	Skip   bool
	Reason string
}

func proceed() Decision               { return Decision{} }
func skipWith(reason string) Decision { return Decision{Skip: true, Reason: reason} }

// TrackLister probes containers for subtitle tracks.
type TrackLister interface {
	ListTracks(ctx context.Context, path string) ([]media.Track, error)
}

// Oracle evaluates skip rules against the store and container metadata.
type Oracle struct {
	store  *queue.Store
	tracks TrackLister
	logger *slog.Logger
}

// NewOracle builds an oracle.
func NewOracle(store *queue.Store, tracks TrackLister, logger *slog.Logger) *Oracle {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Oracle{
		store:  store,
		tracks: tracks,
		logger: logging.NewComponentLogger(logger, "skip"),
	}
}

// Evaluate runs the rules in order for one candidate.
func (o *Oracle) Evaluate(ctx context.Context, path, targetLanguage string, force bool) (Decision, error) {
	// The duplicate-claim rule holds even under force override.
	active, err := o.store.ActiveTask(ctx, path, targetLanguage)
	if err != nil {
		return proceed(), err
	}
	if active != nil {
		return skipWith(ReasonInProgress), nil
	}

	if force {
		return proceed(), nil
	}

	if strings.EqualFold(filepath.Ext(path), ".mkv") {
		if o.hasTargetTrack(ctx, path, targetLanguage) {
			return skipWith(ReasonAlreadyHasTrack), nil
		}
	}

	for _, candidate := range PredictedOutputs(path, targetLanguage) {
		if _, err := os.Stat(candidate); err == nil {
			return skipWith(ReasonOutputExists), nil
		}
	}

	record, err := o.store.TranslationRecord(ctx, path, targetLanguage)
	if err != nil {
		return proceed(), err
	}
	if record != nil {
		o.logger.Debug("file already in translation history",
			logging.String("file", filepath.Base(path)),
			logging.String("output", record.OutputPath))
		return skipWith(ReasonHistory), nil
	}

	if HasLanguageMarker(path, targetLanguage) {
		return skipWith(ReasonFilenameMarker), nil
	}

	return proceed(), nil
}

// hasTargetTrack reports whether the container already carries a subtitle
// track tagged with the target language. Probe failures are logged and
// treated as "no track" so a broken probe never blocks translation.
func (o *Oracle) hasTargetTrack(ctx context.Context, path, targetLanguage string) bool {
	tracks, err := o.tracks.ListTracks(ctx, path)
	if err != nil {
		o.logger.Warn("track probe failed, assuming no target track",
			logging.String("file", path),
			logging.Error(err))
		return false
	}
	for _, track := range tracks {
		tags := map[string]string{"language": track.Language, "title": track.Title}
		if lang := language.ExtractFromTags(tags); lang != "" && language.Matches(lang, targetLanguage) {
			return true
		}
	}
	return false
}

// PredictedOutputs lists the sibling paths a completed translation of this
// file could have produced.
func PredictedOutputs(path, targetLanguage string) []string {
	ext := filepath.Ext(path)
	stem := strings.TrimSuffix(path, ext)
	tag := language.FilenameTag(targetLanguage)
	return []string{
		fmt.Sprintf("%s.%s.srt", stem, tag),
		fmt.Sprintf("%s.%s.ass", stem, tag),
		stem + ".translated" + ext,
	}
}

// HasLanguageMarker reports whether the filename stem ends in a marker for
// the target language (or the generic translated marker), meaning the file
// is itself translation output.
func HasLanguageMarker(path, targetLanguage string) bool {
	base := filepath.Base(path)
	stem := strings.ToLower(strings.TrimSuffix(base, filepath.Ext(base)))
	if strings.HasSuffix(stem, ".translated") {
		return true
	}
	for _, token := range language.Tokens(targetLanguage) {
		if strings.HasSuffix(stem, "."+token) || strings.HasSuffix(stem, "-"+token) || strings.HasSuffix(stem, "_"+token) {
			return true
		}
	}
	return false
}

// IsGeneratedOutput reports whether a filename looks like any translation
// output regardless of language, used by watchers to ignore their own
// products.
func IsGeneratedOutput(path string) bool {
	base := strings.ToLower(filepath.Base(path))
	if strings.Contains(base, ".translated.") || strings.HasSuffix(strings.TrimSuffix(base, filepath.Ext(base)), ".translated") {
		return true
	}
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	idx := strings.LastIndexAny(stem, "._-")
	if idx < 0 || idx == len(stem)-1 {
		return false
	}
	tail := stem[idx+1:]
	return tail == "und" || language.Canonical(tail) != ""
}
