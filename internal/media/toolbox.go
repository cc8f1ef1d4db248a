package media

import (
	"log/slog"

	"subtrans/internal/config"
	"subtrans/internal/logging"
)

// Toolbox bundles the external media binaries behind one seam.
type Toolbox struct {
	ffmpeg   string
	ffprobe  string
	mkvmerge string
	run      CommandRunner
	logger   *slog.Logger
}

// Option customizes Toolbox construction.
type Option func(*Toolbox)

// WithCommandRunner replaces the process runner, used by tests.
func WithCommandRunner(run CommandRunner) Option {
	return func(t *Toolbox) {
		if run != nil {
			t.run = run
		}
	}
}

// NewToolbox builds a Toolbox from the daemon configuration.
func NewToolbox(cfg *config.Config, logger *slog.Logger, opts ...Option) *Toolbox {
	if logger == nil {
		logger = logging.NewNop()
	}
	tb := &Toolbox{
		ffmpeg:   cfg.FFmpegBinary(),
		ffprobe:  cfg.FFprobeBinary(),
		mkvmerge: cfg.MkvmergeBinary(),
		run:      execRunner,
		logger:   logging.NewComponentLogger(logger, "media"),
	}
	for _, opt := range opts {
		opt(tb)
	}
	return tb
}

// Binaries returns the configured external binary names for health checks.
func (t *Toolbox) Binaries() []string {
	return []string{t.ffmpeg, t.ffprobe, t.mkvmerge}
}
