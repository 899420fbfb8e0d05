package eventparser

import (
	"strconv"
	"strings"
)

// parsePositionMs decodes a UPnP HH:MM:SS[.fff] position string to
// milliseconds. "NOT_IMPLEMENTED" (the sentinel Sonos emits for transports
// that don't track position) and any other unparseable value decode to 0,
// matching the absent/zero-value representation used elsewhere in the
// store.
func parsePositionMs(s string) int64 {
	if s == "" || s == "NOT_IMPLEMENTED" {
		return 0
	}
	parts := strings.SplitN(s, ":", 3)
	if len(parts) != 3 {
		return 0
	}
	h, errH := strconv.Atoi(parts[0])
	m, errM := strconv.Atoi(parts[1])
	secPart := parts[2]
	var fracMs int64
	if dot := strings.IndexByte(secPart, '.'); dot >= 0 {
		fracStr := secPart[dot+1:]
		secPart = secPart[:dot]
		if len(fracStr) > 3 {
			fracStr = fracStr[:3]
		}
		for len(fracStr) < 3 {
			fracStr += "0"
		}
		if f, err := strconv.Atoi(fracStr); err == nil {
			fracMs = int64(f)
		}
	}
	sec, errS := strconv.Atoi(secPart)
	if errH != nil || errM != nil || errS != nil {
		return 0
	}
	return int64(h)*3600_000 + int64(m)*60_000 + int64(sec)*1000 + fracMs
}

// formatPositionMs is the left-inverse of parsePositionMs to the second,
// used by tests asserting the round-trip invariant.
func formatPositionMs(ms int64) string {
	totalSec := ms / 1000
	h := totalSec / 3600
	m := (totalSec % 3600) / 60
	s := totalSec % 60
	return pad2(h) + ":" + pad2(m) + ":" + pad2(s)
}

// ParsePositionMs exposes parsePositionMs to callers outside this package
// (the polling fallback in internal/firewall) that need to convert a
// GetPositionInfo response into the same millisecond representation
// NOTIFY-derived AVTransportRecord.RelTimeMs/TrackDurationMs use.
func ParsePositionMs(s string) int64 { return parsePositionMs(s) }

func pad2(n int64) string {
	s := strconv.FormatInt(n, 10)
	if len(s) < 2 {
		return "0" + s
	}
	return s
}
