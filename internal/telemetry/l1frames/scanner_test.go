package l1frames

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/lexi.report/internal/telemetry"
	"github.com/banshee-data/lexi.report/internal/testutil"
)

func buildFrames(n int) [][]byte {
	frames := make([][]byte, n)
	for i := range frames {
		if i%3 == 2 {
			frames[i] = testutil.HKFrame(uint32(i*10), uint8(i%16), uint16(i), 1, 2, 3)
			continue
		}
		frames[i] = testutil.ScienceFrame(uint32(i*10), false, [4]uint16{uint16(i), 2, 3, 4})
	}
	return frames
}

func frameBytes(frames []telemetry.RawFrame) [][]byte {
	out := make([][]byte, len(frames))
	for i, f := range frames {
		b := f.Bytes
		out[i] = b[:]
	}
	return out
}

func TestScan_WellFormed(t *testing.T) {
	t.Parallel()

	for _, n := range []int{0, 1, 2, 7, 64} {
		src := buildFrames(n)
		got, stats := Collect(testutil.Concat(src...))

		require.Len(t, got, n)
		assert.Equal(t, n, stats.Frames)
		assert.Zero(t, stats.Resyncs)
		assert.Zero(t, stats.SkippedBytes)
		for i := range got {
			assert.Equal(t, i*telemetry.FrameSize, got[i].Offset)
			assert.True(t, bytes.Equal(src[i], frameBytes(got)[i]), "frame %d differs", i)
		}
	}
}

func TestScan_EmptyBuffer(t *testing.T) {
	t.Parallel()

	got, stats := Collect(nil)
	assert.Empty(t, got)
	assert.Equal(t, Stats{}, stats)
}

func TestScan_ResyncAfterSlip(t *testing.T) {
	t.Parallel()

	src := buildFrames(4)
	clean, _ := Collect(testutil.Concat(src...))

	for _, k := range []int{1, 3, 4, 15, 16, 17, 100} {
		buf := testutil.Concat(src[0], src[1], testutil.Slip(k), src[2], src[3])
		got, stats := Collect(buf)

		require.Len(t, got, len(clean), "slip of %d bytes", k)
		assert.Equal(t, frameBytes(clean), frameBytes(got))
		assert.Equal(t, 1, stats.Resyncs)
		assert.Equal(t, k, stats.SkippedBytes)
		assert.Equal(t, 2*telemetry.FrameSize+k, got[2].Offset)
	}
}

func TestScan_LeadingGarbage(t *testing.T) {
	t.Parallel()

	f := testutil.ScienceFrame(1, false, [4]uint16{1, 2, 3, 4})
	got, stats := Collect(testutil.Concat([]byte{0xFE, 0x6B, 0x00}, f))

	require.Len(t, got, 1)
	assert.Equal(t, 3, got[0].Offset)
	assert.Equal(t, 3, stats.SkippedBytes)
}

func TestScan_TruncatedTail(t *testing.T) {
	t.Parallel()

	src := buildFrames(3)
	last := testutil.ScienceFrame(99, false, [4]uint16{9, 9, 9, 9})

	for extra := 1; extra < telemetry.FrameSize; extra++ {
		buf := testutil.Concat(append(src, last[:extra])...)
		got, stats := Collect(buf)

		require.Len(t, got, 3, "extra=%d", extra)
		if extra >= telemetry.SyncSize {
			assert.Equal(t, extra, stats.TruncatedTail, "extra=%d", extra)
		} else {
			// A partial marker cannot be recognised; it is skipped as slip.
			assert.Equal(t, extra, stats.SkippedBytes, "extra=%d", extra)
		}
	}
}

func TestScan_FrameEndingExactlyAtBufferEnd(t *testing.T) {
	t.Parallel()

	got, _ := Collect(testutil.ScienceFrame(5, true, [4]uint16{}))
	assert.Len(t, got, 1)
}

func TestScan_MarkerInsideSlipIsTrusted(t *testing.T) {
	t.Parallel()

	// A stray marker in the slip region is taken as a frame start: the
	// scanner trusts the marker, not any assumed alignment.
	stray := testutil.Concat(telemetry.SyncBytes[:], testutil.Slip(12))
	f := testutil.ScienceFrame(1, false, [4]uint16{1, 2, 3, 4})
	got, _ := Collect(testutil.Concat(testutil.Slip(5), stray, f))

	require.Len(t, got, 2)
	assert.Equal(t, 5, got[0].Offset)
	assert.Equal(t, 21, got[1].Offset)
}

func TestFrames_Restartable(t *testing.T) {
	t.Parallel()

	s := NewScanner(testutil.Concat(buildFrames(5)...))

	var first, second []int
	for f := range s.Frames() {
		first = append(first, f.Offset)
	}
	for f := range s.Frames() {
		second = append(second, f.Offset)
	}
	assert.Equal(t, first, second)
	assert.Equal(t, 5, s.Stats().Frames)
}

func TestFrames_EarlyStop(t *testing.T) {
	t.Parallel()

	s := NewScanner(testutil.Concat(buildFrames(10)...))
	n := 0
	for range s.Frames() {
		n++
		if n == 3 {
			break
		}
	}
	assert.Equal(t, 3, n)
	assert.Equal(t, 3, s.Stats().Frames)
}

func TestFrames_RangeResetsStats(t *testing.T) {
	t.Parallel()

	src := buildFrames(3)
	s := NewScanner(testutil.Concat(src[0], testutil.Slip(5), src[1], src[2]))
	for range s.Frames() {
	}
	assert.Equal(t, Stats{Frames: 3, Resyncs: 1, SkippedBytes: 5}, s.Stats())

	// A second pass that stops before the slip reports only its own counters.
	for range s.Frames() {
		break
	}
	assert.Equal(t, Stats{Frames: 1}, s.Stats())
}
