package eventparser

import (
	"regexp"
	"strconv"

	"github.com/avandenbos/sonos-reactive/internal/model"
)

// parseRenderingControlLenient is the regex-based escape hatch for
// firmware revisions whose RenderingControl LastChange body doesn't match
// the structured InstanceID/Volume/Mute shape. Kept as a fallback rather
// than the default path, invoked only when the structured parse comes
// back empty.
var (
	volumeRegex = regexp.MustCompile(`<Volume[^>]*channel="Master"[^>]*val="(\d+)"`)
	muteRegex   = regexp.MustCompile(`<Mute[^>]*channel="Master"[^>]*val="([01])"`)
)

func parseRenderingControlLenient(body string) *model.RenderingControlRecord {
	rec := &model.RenderingControlRecord{}
	if m := volumeRegex.FindStringSubmatch(body); len(m) > 1 {
		if n, err := strconv.Atoi(m[1]); err == nil {
			rec.Volume = &n
		}
	}
	if m := muteRegex.FindStringSubmatch(body); len(m) > 1 {
		b := m[1] == "1"
		rec.Muted = &b
	}
	return rec
}
