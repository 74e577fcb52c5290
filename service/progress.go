package service

import (
	"regexp"
	"strconv"
	"time"
)

// ffmpeg prints wall-clock style timestamps (time=HH:MM:SS.ms) on stderr
// while encoding. Lines are buffered, so any given chunk may hold a partial
// line or no timestamp at all.
var clockPattern = regexp.MustCompile(`(\d{2}):(\d{2}):(\d{2})`)

// ProgressSnapshot is the remaining-time signal extracted from one chunk of
// encoder stderr. It lives only as long as the job that produced it.
type ProgressSnapshot struct {
	Clock     string // "MM:SS"
	Remaining time.Duration
}

// ExtractRemaining scans one stderr chunk for an HH:MM:SS timestamp and
// returns its MM:SS portion. A chunk without a timestamp is a normal
// no-update case, not an error. Pure function, safe for concurrent use.
func ExtractRemaining(chunk string) (ProgressSnapshot, bool) {
	match := clockPattern.FindStringSubmatch(chunk)
	if match == nil {
		return ProgressSnapshot{}, false
	}

	minutes, _ := strconv.Atoi(match[2])
	seconds, _ := strconv.Atoi(match[3])

	return ProgressSnapshot{
		Clock:     match[2] + ":" + match[3],
		Remaining: time.Duration(minutes)*time.Minute + time.Duration(seconds)*time.Second,
	}, true
}
