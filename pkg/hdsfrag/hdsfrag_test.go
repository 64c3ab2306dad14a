package hdsfrag

import (
	"testing"

	"github.com/go-hds/hdsadapter/pkg/f4fbox"
	"github.com/stretchr/testify/require"
)

// TestNextVODSingleRun walks end-to-end scenario 1: one segment run, one
// fragment run, fourth chunk reaches eof.
func TestNextVODSingleRun(t *testing.T) {
	tables := Tables{
		SegmentRuns:     []f4fbox.SegmentRun{{FirstSegment: 1, FragmentsPerSegment: 4}},
		FragmentRuns:    []f4fbox.FragmentRun{{FragmentNumberStart: 1, FragmentTimestamp: 0, FragmentDuration: 2500}},
		AfrtTimescale:   1000,
		DurationSeconds: 10,
	}

	c1, err := Next(tables, nil)
	require.NoError(t, err)
	require.Equal(t, Chunk{FragNum: 1, SegNum: 1, Timestamp: 0, Duration: 2500, FrunEntry: 0}, c1)

	c2, err := Next(tables, &c1)
	require.NoError(t, err)
	c3, err := Next(tables, &c2)
	require.NoError(t, err)
	c4, err := Next(tables, &c3)
	require.NoError(t, err)
	require.Equal(t, uint32(4), c4.FragNum)
	require.Equal(t, uint32(1), c4.SegNum)
	require.Equal(t, uint64(7500), c4.Timestamp)
	require.True(t, c4.EOF, "(7500+2500)/1000 >= 10 must mark eof")
}

// TestNextVODDiscontinuity walks end-to-end scenario 2.
func TestNextVODDiscontinuity(t *testing.T) {
	tables := Tables{
		SegmentRuns: []f4fbox.SegmentRun{{FirstSegment: 1, FragmentsPerSegment: 1000}},
		FragmentRuns: []f4fbox.FragmentRun{
			{FragmentNumberStart: 1, FragmentTimestamp: 0, FragmentDuration: 2000},
			{Kind: f4fbox.FragmentRunDiscontinuity, FragmentNumberStart: 2},
			{FragmentNumberStart: 10, FragmentTimestamp: 50000, FragmentDuration: 2000},
		},
		AfrtTimescale:   1000,
		DurationSeconds: 1000,
	}

	c1, err := Next(tables, nil)
	require.NoError(t, err)
	require.Equal(t, uint32(1), c1.FragNum)
	require.Equal(t, uint64(0), c1.Timestamp)
	require.Equal(t, uint32(2000), c1.Duration)

	c2, err := Next(tables, &c1)
	require.NoError(t, err)
	require.Equal(t, uint32(10), c2.FragNum, "must skip the discontinuity marker and adopt its successor")
	require.Equal(t, uint64(50000), c2.Timestamp)
	require.Equal(t, uint32(2000), c2.Duration)
}

// TestNextDiscontinuityAsLastEntryFails covers the case where a
// discontinuity marker with no successor is a resolution failure.
func TestNextDiscontinuityAsLastEntryFails(t *testing.T) {
	tables := Tables{
		SegmentRuns: []f4fbox.SegmentRun{{FirstSegment: 1, FragmentsPerSegment: 10}},
		FragmentRuns: []f4fbox.FragmentRun{
			{FragmentNumberStart: 1, FragmentTimestamp: 0, FragmentDuration: 2000},
			{Kind: f4fbox.FragmentRunDiscontinuity, FragmentNumberStart: 2},
		},
		AfrtTimescale:   1000,
		DurationSeconds: 1000,
	}
	c1, err := Next(tables, nil)
	require.NoError(t, err)
	_, err = Next(tables, &c1)
	require.Error(t, err)
}

// TestNextLiveFirstChunk walks end-to-end scenario 3's seeding step: a
// live stream's first chunk is resolved from live_current_time, not a
// predecessor.
func TestNextLiveFirstChunk(t *testing.T) {
	tables := Tables{
		SegmentRuns:     []f4fbox.SegmentRun{{FirstSegment: 1, FragmentsPerSegment: 1000000}},
		FragmentRuns:    []f4fbox.FragmentRun{{FragmentNumberStart: 1, FragmentTimestamp: 0, FragmentDuration: 500}},
		Timescale:       1000,
		AfrtTimescale:   500,
		LiveCurrentTime: 10000,
		Live:            true,
	}

	c1, err := Next(tables, nil)
	require.NoError(t, err)
	// live_current_time * afrt_timescale / timescale = 10000*500/1000 = 5000
	require.Equal(t, uint64(5000), c1.Timestamp)
	require.Equal(t, uint32(500), c1.Duration)
	require.False(t, c1.EOF, "live chunks never reach eof")
}

// TestNextLiveChainExtension reproduces scenario 3's chain-extension loop:
// append the chunk Next yields only while its
// timestamp*timescale/afrt_timescale <= live_current_time.
func TestNextLiveChainExtension(t *testing.T) {
	tables := Tables{
		SegmentRuns:     []f4fbox.SegmentRun{{FirstSegment: 1, FragmentsPerSegment: 1000000}},
		FragmentRuns:    []f4fbox.FragmentRun{{FragmentNumberStart: 1, FragmentTimestamp: 0, FragmentDuration: 500}},
		Timescale:       1000,
		AfrtTimescale:   500,
		LiveCurrentTime: 10000,
		Live:            true,
	}

	first, err := Next(tables, nil)
	require.NoError(t, err)

	chunks := []Chunk{first}
	for {
		last := chunks[len(chunks)-1]
		next, err := Next(tables, &last)
		require.NoError(t, err)
		if next.Timestamp*uint64(tables.Timescale)/uint64(tables.AfrtTimescale) > tables.LiveCurrentTime {
			break
		}
		chunks = append(chunks, next)
	}
	lastAppended := chunks[len(chunks)-1]
	require.LessOrEqual(t, lastAppended.Timestamp, uint64(5000))
}

func TestNextVODNoFragmentRunsErrors(t *testing.T) {
	_, err := Next(Tables{}, nil)
	require.Error(t, err)
}

// TestNextSegmentRunFirstEntryAlwaysWins documents the literal segment-run
// resolution algorithm: fragments_accum starts equal to
// frag_num, so the candidate segment at the first table entry is always
// that entry's first_segment, and the accept test (next.first_segment >
// candidate) is satisfied by construction since the table is sorted
// ascending — the first entry is always accepted regardless of frag_num.
// A second segment-run entry only ever takes effect via the same
// resolution starting from a later entry index, which this algorithm
// never reaches from i=0. This mirrors hds.c's generate_new_chunk exactly.
func TestNextSegmentRunFirstEntryAlwaysWins(t *testing.T) {
	tables := Tables{
		SegmentRuns: []f4fbox.SegmentRun{
			{FirstSegment: 1, FragmentsPerSegment: 2},
			{FirstSegment: 3, FragmentsPerSegment: 3},
		},
		FragmentRuns:    []f4fbox.FragmentRun{{FragmentNumberStart: 1, FragmentTimestamp: 0, FragmentDuration: 1000}},
		AfrtTimescale:   1000,
		DurationSeconds: 1000,
	}
	var last *Chunk
	var chunks []Chunk
	for i := 0; i < 5; i++ {
		c, err := Next(tables, last)
		require.NoError(t, err)
		chunks = append(chunks, c)
		last = &chunks[len(chunks)-1]
	}
	for _, c := range chunks {
		require.Equal(t, uint32(1), c.SegNum)
	}
}
