// Package media wraps the external ffprobe, ffmpeg, and mkvmerge binaries.
//
// The Toolbox shells out through an injectable command runner so tests can
// stub tool output. Failures surface as services.ToolError with the exit
// code and a bounded stderr tail; mkvmerge's exit code 1 (warnings) counts
// as success.
package media
