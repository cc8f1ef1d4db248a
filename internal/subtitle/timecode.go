package subtitle

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"subtrans/internal/services"
)

// parseSRTTimecode reads "HH:MM:SS,mmm" (a dot is tolerated).
func parseSRTTimecode(value string) (time.Duration, error) {
	normalized := strings.ReplaceAll(strings.TrimSpace(value), ".", ",")
	var h, m, s, ms int
	if _, err := fmt.Sscanf(normalized, "%d:%d:%d,%d", &h, &m, &s, &ms); err != nil {
		return 0, services.Wrap(services.ErrCodec, "subtitle", "timecode", fmt.Sprintf("malformed srt timecode %q", value), err)
	}
	return time.Duration(h)*time.Hour +
		time.Duration(m)*time.Minute +
		time.Duration(s)*time.Second +
		time.Duration(ms)*time.Millisecond, nil
}

func formatSRTTimecode(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second
	d -= s * time.Second
	ms := d / time.Millisecond
	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, s, ms)
}

// parseASSTimecode reads "H:MM:SS.cc" (centiseconds).
func parseASSTimecode(value string) (time.Duration, error) {
	trimmed := strings.TrimSpace(value)
	var h, m int
	var sec float64
	parts := strings.Split(trimmed, ":")
	if len(parts) != 3 {
		return 0, services.Wrap(services.ErrCodec, "subtitle", "timecode", fmt.Sprintf("malformed ass timecode %q", value), nil)
	}
	h, err := strconv.Atoi(parts[0])
	if err == nil {
		m, err = strconv.Atoi(parts[1])
	}
	if err == nil {
		sec, err = strconv.ParseFloat(parts[2], 64)
	}
	if err != nil {
		return 0, services.Wrap(services.ErrCodec, "subtitle", "timecode", fmt.Sprintf("malformed ass timecode %q", value), err)
	}
	return time.Duration(h)*time.Hour +
		time.Duration(m)*time.Minute +
		time.Duration(sec*float64(time.Second)), nil
}

func formatASSTimecode(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second
	d -= s * time.Second
	cs := d / (10 * time.Millisecond)
	return fmt.Sprintf("%d:%02d:%02d.%02d", h, m, s, cs)
}
