package vocab

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRate(t *testing.T) {
	r, err := ParseRate("24")
	require.NoError(t, err)
	assert.Equal(t, RateFilm, r)

	r, err = ParseRate("30000/1001")
	require.NoError(t, err)
	assert.Equal(t, RateNTSC, r)

	_, err = ParseRate("not-a-rate")
	assert.Error(t, err)

	_, err = ParseRate("24/0")
	assert.Error(t, err)
}

func TestRateNominal(t *testing.T) {
	assert.Equal(t, 24, RateFilm.Nominal())
	assert.Equal(t, 25, RatePAL.Nominal())
	// Fractional rates round to the nearest integer, not truncate:
	// 30000/1001 counts as 30, 24000/1001 as 24.
	assert.Equal(t, 30, RateNTSC.Nominal())
	assert.Equal(t, 24, RateNTSCFilm.Nominal())
	assert.Equal(t, 60, RateHFR.Nominal())
}

func TestParseTimecode(t *testing.T) {
	tc, err := ParseTimecode("01:02:03:12", RateFilm)
	require.NoError(t, err)
	assert.Equal(t, 1, tc.Hours)
	assert.Equal(t, 2, tc.Minutes)
	assert.Equal(t, 3, tc.Seconds)
	assert.Equal(t, 12, tc.Frames)
	assert.False(t, tc.DropFrame)
	assert.Equal(t, "01:02:03:12", tc.String())

	drop, err := ParseTimecode("00;01;00;02", RateNTSC)
	require.NoError(t, err)
	assert.True(t, drop.DropFrame)
	assert.Equal(t, "00:01:00;02", drop.String())

	_, err = ParseTimecode("1:2:3", RateFilm)
	assert.Error(t, err)
}

func TestTimecodeFrameRoundTrip(t *testing.T) {
	rates := []Rate{RateFilm, RatePAL, RateNTSC, RateHFR}
	frames := []int{0, 1, 23, 24, 1000, 86400, 215999}

	for _, rate := range rates {
		for _, frame := range frames {
			tc := TimecodeFromFrames(frame, rate)
			assert.Equal(t, frame, tc.ToFrames(), "frame %d at %s", frame, rate)
		}
	}
}

func TestTimecodeToFrames(t *testing.T) {
	tc, err := ParseTimecode("00:00:01:00", RateFilm)
	require.NoError(t, err)
	assert.Equal(t, 24, tc.ToFrames())

	tc, err = ParseTimecode("01:00:00:00", RatePAL)
	require.NoError(t, err)
	assert.Equal(t, 90000, tc.ToFrames())
}

func TestFrameRange(t *testing.T) {
	fr, err := NewFrameRange(1001, 1096, RateFilm)
	require.NoError(t, err)
	assert.Equal(t, 96, fr.Duration())
	assert.True(t, fr.Contains(1001))
	assert.True(t, fr.Contains(1096))
	assert.False(t, fr.Contains(1097))

	_, err = NewFrameRange(100, 50, RateFilm)
	assert.Error(t, err)
}

func TestFrameRangeOverlaps(t *testing.T) {
	a, err := NewFrameRange(1001, 1100, RateFilm)
	require.NoError(t, err)
	b, err := NewFrameRange(1050, 1200, RateFilm)
	require.NoError(t, err)
	c, err := NewFrameRange(1101, 1200, RateFilm)
	require.NoError(t, err)

	assert.True(t, a.Overlaps(b))
	assert.True(t, b.Overlaps(a))
	assert.False(t, a.Overlaps(c))
}

func TestFrameRangeFromTimecodes(t *testing.T) {
	in, err := ParseTimecode("00:00:41:17", RateFilm)
	require.NoError(t, err)
	out, err := ParseTimecode("00:00:45:16", RateFilm)
	require.NoError(t, err)

	fr, err := FrameRangeFromTimecodes(in, out)
	require.NoError(t, err)
	assert.Equal(t, 1001, fr.Start)
	assert.Equal(t, 1096, fr.End)

	palOut, err := ParseTimecode("00:00:45:16", RatePAL)
	require.NoError(t, err)
	_, err = FrameRangeFromTimecodes(in, palOut)
	assert.Error(t, err)
}

func TestFrameRangeToMap(t *testing.T) {
	fr, err := NewFrameRange(48, 71, RateFilm)
	require.NoError(t, err)
	m := fr.ToMap()
	assert.Equal(t, 48, m["start"])
	assert.Equal(t, 71, m["end"])
	assert.Equal(t, 24, m["duration"])
	assert.Equal(t, "00:00:02:00", m["tc_in"])
	assert.Equal(t, "00:00:02:23", m["tc_out"])
}
