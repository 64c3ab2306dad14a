// Package hdsfrag resolves the next fragment to fetch from a stream's
// segment-run and fragment-run tables. It holds no state of its own — it
// is a pure function of the timing tables and the previous chunk, kept
// separate from pkg/hdschain so the resolution algorithm can be tested
// without any chain, lock, or I/O machinery around it.
package hdsfrag

import (
	"fmt"

	"github.com/go-hds/hdsadapter/pkg/f4fbox"
)

// Chunk is the timing-only projection of a chunk descriptor: the fields
// FragmentIndex computes and that pkg/hdschain's chunk carries forward.
// FrunEntry records which fragment-run table entry the resolution stopped
// at, so the next call can resume the VOD walk from there instead of
// rescanning from the top.
type Chunk struct {
	FragNum   uint32
	SegNum    uint32
	Timestamp uint64
	Duration  uint32
	FrunEntry int
	EOF       bool
}

// Tables is the subset of a parsed Bootstrap that FragmentIndex needs,
// plus the few stream-level fields (timescale, live_current_time,
// duration) that live alongside it but outside the abst box proper.
type Tables struct {
	SegmentRuns     []f4fbox.SegmentRun
	FragmentRuns    []f4fbox.FragmentRun
	Timescale       uint32
	AfrtTimescale   uint32
	LiveCurrentTime uint64
	Live            bool
	DurationSeconds float64
}

// Next computes the chunk that follows last (nil for the first chunk of
// the stream). It returns an error when the fragment-run table cannot
// resolve a fragment number — an exhausted or malformed table — which the
// caller treats as "no more chunks available right now", not a fatal
// stream error.
func Next(t Tables, last *Chunk) (Chunk, error) {
	var c Chunk

	startFrun := 0
	if last != nil {
		c.Timestamp = last.Timestamp + uint64(last.Duration)
		c.FragNum = last.FragNum + 1
		if !t.Live {
			startFrun = last.FrunEntry
		}
	} else if !t.Live {
		if len(t.FragmentRuns) == 0 {
			return c, fmt.Errorf("hdsfrag: no fragment runs for VOD stream")
		}
		first := t.FragmentRuns[0]
		c.Timestamp = first.FragmentTimestamp
		c.FragNum = first.FragmentNumberStart
	} else {
		if t.Timescale == 0 {
			return c, fmt.Errorf("hdsfrag: zero timescale for live stream")
		}
		c.Timestamp = t.LiveCurrentTime * uint64(t.AfrtTimescale) / uint64(t.Timescale)
		c.FragNum = 0 // resolved below
	}

	matched := false
	i := startFrun
	for i < len(t.FragmentRuns) {
		entry := t.FragmentRuns[i]
		isLast := i == len(t.FragmentRuns)-1

		if entry.Kind == f4fbox.FragmentRunDiscontinuity {
			if isLast {
				return c, fmt.Errorf("hdsfrag: discontinuity entry has no successor")
			}
			succ := t.FragmentRuns[i+1]
			c.FragNum = succ.FragmentNumberStart
			c.Timestamp = succ.FragmentTimestamp
			c.Duration = succ.FragmentDuration
			i++
			continue
		}

		if c.FragNum == 0 {
			inRange := isLast
			if !isLast {
				next := t.FragmentRuns[i+1]
				inRange = c.Timestamp >= entry.FragmentTimestamp && c.Timestamp < next.FragmentTimestamp
			}
			if inRange {
				if entry.FragmentDuration == 0 {
					return c, fmt.Errorf("hdsfrag: zero-duration fragment run entry while resolving frag_num")
				}
				c.FragNum = entry.FragmentNumberStart + uint32((c.Timestamp-entry.FragmentTimestamp)/uint64(entry.FragmentDuration))
				c.Duration = entry.FragmentDuration
			}
		}

		nextFragStartsAfter := isLast
		if !isLast {
			next := t.FragmentRuns[i+1]
			nextFragStartsAfter = next.FragmentNumberStart > c.FragNum
		}
		if entry.FragmentNumberStart <= c.FragNum && nextFragStartsAfter {
			c.Duration = entry.FragmentDuration
			c.Timestamp = entry.FragmentTimestamp + uint64(c.Duration)*uint64(c.FragNum-entry.FragmentNumberStart)
			c.FrunEntry = i
			matched = true
			break
		}
		i++
	}
	if !matched {
		return c, fmt.Errorf("hdsfrag: no fragment run entry matched frag_num=%d", c.FragNum)
	}

	c.SegNum, _ = resolveSegNum(t.SegmentRuns, c.FragNum)

	if !t.Live && t.AfrtTimescale > 0 {
		if float64(c.Timestamp+uint64(c.Duration))/float64(t.AfrtTimescale) >= t.DurationSeconds {
			c.EOF = true
		}
	}

	return c, nil
}

// resolveSegNum walks the segment-run table the way step 5 of the
// resolution algorithm describes: accumulate fragments consumed by each
// run until the run covering fragNum is found.
func resolveSegNum(runs []f4fbox.SegmentRun, fragNum uint32) (uint32, error) {
	if len(runs) == 0 {
		return 0, fmt.Errorf("hdsfrag: no segment runs")
	}
	fragmentsAccum := fragNum
	for i, entry := range runs {
		if entry.FragmentsPerSegment == 0 {
			return 0, fmt.Errorf("hdsfrag: zero fragments_per_segment in segment run %d", i)
		}
		segment := entry.FirstSegment + (fragNum-fragmentsAccum)/entry.FragmentsPerSegment
		last := i == len(runs)-1
		accepted := last
		if !last {
			next := runs[i+1]
			accepted = next.FirstSegment > segment
		}
		if accepted {
			return segment, nil
		}
		next := runs[i+1]
		fragmentsAccum += (next.FirstSegment - entry.FirstSegment) * entry.FragmentsPerSegment
	}
	return 0, fmt.Errorf("hdsfrag: segment run table exhausted without a match")
}
