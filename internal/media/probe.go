package media

import (
	"context"
	"encoding/json"
	"strings"

	"subtrans/internal/services"
	"subtrans/internal/subtitle"
)

// Track describes one subtitle stream inside a container.
type Track struct {
	// Index is the absolute stream index reported by ffprobe.
	Index int `json:"index"`
	// RelativeIndex is the position among subtitle streams only, as used
	// by ffmpeg's 0:s:N selector.
	RelativeIndex int    `json:"relative_index"`
	Codec         string `json:"codec"`
	Language      string `json:"language"`
	Title         string `json:"title,omitempty"`
}

// imageCodecs are bitmap subtitle formats that cannot be translated.
var imageCodecs = map[string]struct{}{
	"hdmv_pgs_subtitle": {},
	"dvd_subtitle":      {},
	"dvb_subtitle":      {},
	"xsub":              {},
}

// TextBased reports whether the track's codec carries extractable text.
func (t Track) TextBased() bool {
	_, image := imageCodecs[t.Codec]
	return !image
}

// NativeFormat returns the subtitle format the codec extracts to without
// re-timing: ASS stays ASS, everything text-based becomes SRT.
func (t Track) NativeFormat() subtitle.Format {
	switch t.Codec {
	case "ass", "ssa":
		return subtitle.FormatASS
	default:
		return subtitle.FormatSRT
	}
}

type ffprobeStream struct {
	Index     int               `json:"index"`
	CodecName string            `json:"codec_name"`
	CodecType string            `json:"codec_type"`
	Tags      map[string]string `json:"tags"`
}

type ffprobeResult struct {
	Streams []ffprobeStream `json:"streams"`
}

// ListTracks probes a container and returns its subtitle streams in order.
func (t *Toolbox) ListTracks(ctx context.Context, path string) ([]Track, error) {
	args := []string{
		"-v", "error",
		"-hide_banner",
		"-print_format", "json",
		"-show_streams",
		"-select_streams", "s",
		"--",
		path,
	}
	out, err := t.run(ctx, t.ffprobe, args...)
	if err != nil {
		return nil, err
	}

	var result ffprobeResult
	if err := json.Unmarshal(out, &result); err != nil {
		return nil, services.Wrap(services.ErrTool, "media", "probe", "parse ffprobe output", err)
	}

	tracks := make([]Track, 0, len(result.Streams))
	for i, stream := range result.Streams {
		track := Track{
			Index:         stream.Index,
			RelativeIndex: i,
			Codec:         strings.ToLower(stream.CodecName),
		}
		if stream.Tags != nil {
			track.Language = strings.ToLower(stream.Tags["language"])
			track.Title = stream.Tags["title"]
		}
		tracks = append(tracks, track)
	}
	return tracks, nil
}
