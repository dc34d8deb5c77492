// Package vocab holds the shared pipeline vocabulary: lifecycle
// statuses, layer roles, timecode, and frame ranges. Entities and the
// wire protocol reference these types throughout.
package vocab

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var timecodeRE = regexp.MustCompile(`^(\d{2})[;:](\d{2})[;:](\d{2})[;:](\d{2})$`)

// Timecode is a position in hours:minutes:seconds:frames notation.
// Drop-frame timecodes use ";" as the frames separator.
type Timecode struct {
	Hours     int
	Minutes   int
	Seconds   int
	Frames    int
	FPS       Rate
	DropFrame bool
}

// ParseTimecode parses "01:02:03:12" or "01;02;03;12" at the given rate.
func ParseTimecode(s string, fps Rate) (Timecode, error) {
	trimmed := strings.TrimSpace(s)
	m := timecodeRE.FindStringSubmatch(trimmed)
	if m == nil {
		return Timecode{}, fmt.Errorf("cannot parse timecode %q", s)
	}
	h, _ := strconv.Atoi(m[1])
	mm, _ := strconv.Atoi(m[2])
	ss, _ := strconv.Atoi(m[3])
	ff, _ := strconv.Atoi(m[4])
	return Timecode{
		Hours:     h,
		Minutes:   mm,
		Seconds:   ss,
		Frames:    ff,
		FPS:       fps,
		DropFrame: strings.Contains(trimmed, ";"),
	}, nil
}

// TimecodeFromFrames converts an absolute frame number to a timecode
// at the given rate, counting at the nominal integer rate.
func TimecodeFromFrames(frame int, fps Rate) Timecode {
	nominal := fps.Nominal()
	if nominal <= 0 {
		nominal = 24
	}
	totalSeconds := frame / nominal
	frames := frame % nominal
	minutes := totalSeconds / 60
	seconds := totalSeconds % 60
	hours := minutes / 60
	minutes %= 60
	return Timecode{
		Hours:   hours,
		Minutes: minutes,
		Seconds: seconds,
		Frames:  frames,
		FPS:     fps,
	}
}

// ToFrames converts this timecode to an absolute frame number.
func (t Timecode) ToFrames() int {
	nominal := t.FPS.Nominal()
	if nominal <= 0 {
		nominal = 24
	}
	totalSeconds := t.Hours*3600 + t.Minutes*60 + t.Seconds
	return totalSeconds*nominal + t.Frames
}

func (t Timecode) String() string {
	sep := ":"
	if t.DropFrame {
		sep = ";"
	}
	return fmt.Sprintf("%02d:%02d:%02d%s%02d", t.Hours, t.Minutes, t.Seconds, sep, t.Frames)
}

// ToMap returns the wire representation.
func (t Timecode) ToMap() map[string]any {
	return map[string]any{
		"timecode":   t.String(),
		"frames":     t.ToFrames(),
		"fps":        t.FPS.String(),
		"drop_frame": t.DropFrame,
	}
}

// FrameRange is a start frame, end frame, and rate. Duration is
// inclusive: end - start + 1.
type FrameRange struct {
	Start int
	End   int
	FPS   Rate
}

// NewFrameRange validates that end >= start.
func NewFrameRange(start, end int, fps Rate) (FrameRange, error) {
	if end < start {
		return FrameRange{}, fmt.Errorf("frame range end (%d) must be >= start (%d)", end, start)
	}
	if fps.IsZero() {
		fps = RateFilm
	}
	return FrameRange{Start: start, End: end, FPS: fps}, nil
}

// FrameRangeFromTimecodes builds a range from two positions. Both
// timecodes must carry the same rate.
func FrameRangeFromTimecodes(in, out Timecode) (FrameRange, error) {
	if in.FPS != out.FPS {
		return FrameRange{}, fmt.Errorf("timecodes must have the same fps: %s vs %s", in.FPS, out.FPS)
	}
	return NewFrameRange(in.ToFrames(), out.ToFrames(), in.FPS)
}

// Duration is the number of frames, inclusive.
func (fr FrameRange) Duration() int {
	return fr.End - fr.Start + 1
}

// Timecodes returns the in and out points as Timecode values.
func (fr FrameRange) Timecodes() (Timecode, Timecode) {
	return TimecodeFromFrames(fr.Start, fr.FPS), TimecodeFromFrames(fr.End, fr.FPS)
}

func (fr FrameRange) Contains(frame int) bool {
	return fr.Start <= frame && frame <= fr.End
}

func (fr FrameRange) Overlaps(other FrameRange) bool {
	return fr.Start <= other.End && fr.End >= other.Start
}

func (fr FrameRange) String() string {
	return fmt.Sprintf("%d-%d (%d frames @ %sfps)", fr.Start, fr.End, fr.Duration(), fr.FPS)
}

// ToMap returns the wire representation.
func (fr FrameRange) ToMap() map[string]any {
	in, out := fr.Timecodes()
	return map[string]any{
		"start":    fr.Start,
		"end":      fr.End,
		"duration": fr.Duration(),
		"fps":      fr.FPS.String(),
		"tc_in":    in.String(),
		"tc_out":   out.String(),
	}
}
