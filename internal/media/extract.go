package media

import (
	"context"
	"fmt"

	"subtrans/internal/logging"
	"subtrans/internal/services"
)

// ExtractTrack pulls one subtitle stream out of a container into outPath.
// The output codec follows the track's native format so ASS styling
// survives extraction.
func (t *Toolbox) ExtractTrack(ctx context.Context, path string, track Track, outPath string) error {
	if !track.TextBased() {
		return services.Wrap(services.ErrCodec, "media", "extract", fmt.Sprintf("track %d is image-based (%s) and cannot be translated", track.Index, track.Codec), nil)
	}

	args := []string{
		"-y",
		"-v", "error",
		"-i", path,
		"-map", fmt.Sprintf("0:s:%d", track.RelativeIndex),
		"-c:s", string(track.NativeFormat()),
		outPath,
	}
	t.logger.Debug("extracting subtitle track",
		logging.String("file", path),
		logging.Int("track", track.RelativeIndex),
		logging.String("codec", track.Codec))

	if _, err := t.run(ctx, t.ffmpeg, args...); err != nil {
		return err
	}
	return nil
}
