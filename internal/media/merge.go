package media

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"subtrans/internal/fileutil"
	"subtrans/internal/logging"
	"subtrans/internal/services"
)

// MergeRequest describes an mkvmerge mux of one subtitle file into a video
// container.
type MergeRequest struct {
	Input        string
	SubtitlePath string
	Output       string
	// Language is the ISO 639-2 code applied to the new track.
	Language  string
	TrackName string
	Default   bool
}

// Merge muxes the subtitle as an additional track, writing to req.Output.
// mkvmerge exits 1 for warnings; that counts as success.
func (t *Toolbox) Merge(ctx context.Context, req MergeRequest) error {
	args := []string{"-o", req.Output, req.Input}
	if req.Language != "" {
		args = append(args, "--language", "0:"+req.Language)
	}
	if req.TrackName != "" {
		args = append(args, "--track-name", "0:"+req.TrackName)
	}
	if req.Default {
		args = append(args, "--default-track", "0:yes")
	}
	args = append(args, req.SubtitlePath)

	t.logger.Debug("merging subtitle track",
		logging.String("input", req.Input),
		logging.String("output", req.Output),
		logging.String("language", req.Language))

	_, err := t.run(ctx, t.mkvmerge, args...)
	if err != nil {
		var toolErr *services.ToolError
		if errors.As(err, &toolErr) && toolErr.ExitCode == 1 {
			t.logger.Warn("mkvmerge finished with warnings",
				logging.String("output", req.Output),
				logging.String("stderr", toolErr.Stderr))
			return nil
		}
		return err
	}
	return nil
}

// ReplaceInPlace muxes the subtitle into the source container via a sibling
// temp file, then moves the result over the original.
func (t *Toolbox) ReplaceInPlace(ctx context.Context, req MergeRequest) error {
	dir := filepath.Dir(req.Input)
	base := filepath.Base(req.Input)
	tmp := filepath.Join(dir, fmt.Sprintf(".merge-%s.tmp.mkv", base))
	defer func() { _ = os.Remove(tmp) }()

	muxReq := req
	muxReq.Output = tmp
	if err := t.Merge(ctx, muxReq); err != nil {
		return err
	}
	if err := fileutil.MoveFile(tmp, req.Input); err != nil {
		return services.Wrap(services.ErrTool, "media", "merge", "replace original container", err)
	}
	return nil
}
