// Package f4fbox parses the binary F4F bootstrap box (abst) and its asrt/afrt
// subboxes into the typed timing tables that drive HDS fragment-URL
// construction.
//
// All multi-byte integers in the box format are big-endian. Every length
// check here is a bounds check against the end of the supplied slice; the
// parser never reads past it. On a short or malformed subbox, parsing of
// that subbox (and any subsequent one) stops and the tables captured so far
// are returned with no error — a bootstrap can be partially usable.
package f4fbox

import (
	"encoding/binary"
	"fmt"
	"log/slog"
)

// Limits mirror the fixed-size tables of the original VLC module this
// format comes from.
const (
	MaxSegmentRuns  = 256
	MaxFragmentRuns = 10000
	MaxServers      = 10
)

// FragmentRunKind tags a FragmentRun as a normal timing entry or a
// discontinuity marker, instead of overloading a zero duration.
type FragmentRunKind int

const (
	FragmentRunNormal FragmentRunKind = iota
	FragmentRunDiscontinuity
)

// SegmentRun is one entry of an asrt segment-run table, ordered ascending
// by FirstSegment. The implicit end of a run is the next entry's
// FirstSegment, or +inf for the last entry.
type SegmentRun struct {
	FirstSegment        uint32
	FragmentsPerSegment uint32
}

// FragmentRun is one entry of an afrt fragment-run table. A Discontinuity
// entry carries no timing of its own; the entry that follows it supplies
// the new (FragmentNumberStart, FragmentTimestamp) base.
type FragmentRun struct {
	Kind                FragmentRunKind
	FragmentNumberStart uint32
	FragmentTimestamp   uint64
	FragmentDuration    uint32
}

// Bootstrap is the fully decoded abst box: top-level bootstrap fields plus
// the segment-run and fragment-run tables contributed by its asrt/afrt
// subboxes.
type Bootstrap struct {
	Timescale       uint32
	LiveCurrentTime uint64
	MovieID         string
	Servers         []string
	QualityModifier string // first (and only) quality label seen, if exactly one was present
	AfrtTimescale   uint32
	SegmentRuns     []SegmentRun
	FragmentRuns    []FragmentRun
}

// cursor is a forward-only reader over a byte slice with bounds-checked
// reads, used to keep the box-walking code free of manual index math.
type cursor struct {
	data []byte
	pos  int
}

func (c *cursor) remaining() int { return len(c.data) - c.pos }

func (c *cursor) u8() (uint8, bool) {
	if c.remaining() < 1 {
		return 0, false
	}
	v := c.data[c.pos]
	c.pos++
	return v, true
}

func (c *cursor) u32() (uint32, bool) {
	if c.remaining() < 4 {
		return 0, false
	}
	v := binary.BigEndian.Uint32(c.data[c.pos:])
	c.pos += 4
	return v, true
}

func (c *cursor) u64() (uint64, bool) {
	if c.remaining() < 8 {
		return 0, false
	}
	v := binary.BigEndian.Uint64(c.data[c.pos:])
	c.pos += 8
	return v, true
}

func (c *cursor) skip(n int) bool {
	if c.remaining() < n {
		return false
	}
	c.pos += n
	return true
}

// cstring reads a NUL-terminated string, consuming the terminator.
func (c *cursor) cstring() (string, bool) {
	for i := c.pos; i < len(c.data); i++ {
		if c.data[i] == 0 {
			s := string(c.data[c.pos:i])
			c.pos = i + 1
			return s, true
		}
	}
	return "", false
}

func (c *cursor) tag(want string) bool {
	if c.remaining() < len(want) {
		return false
	}
	got := string(c.data[c.pos : c.pos+len(want)])
	c.pos += len(want)
	return got == want
}

// ParseBootstrap decodes an abst box. It never returns a nil Bootstrap;
// on a truncated or malformed top-level header it returns an error and an
// empty Bootstrap, matching the original's "not enough bootstrap data"
// early-out. Subbox-level failures are logged and simply stop further
// subbox processing — the Bootstrap returned still carries whatever
// tables were captured.
func ParseBootstrap(log *slog.Logger, data []byte) (*Bootstrap, error) {
	if log == nil {
		log = slog.Default()
	}
	b := &Bootstrap{}
	c := &cursor{data: data}

	boxLen, ok := c.u32()
	if !ok || int(boxLen) > len(data) || len(data) < 29 {
		return b, fmt.Errorf("f4fbox: not enough bootstrap data")
	}
	if !c.tag("abst") {
		return b, fmt.Errorf("f4fbox: cannot find abst in bootstrap")
	}
	if !c.skip(4 + 4 + 1) { // version/flags, bootstrap version, profile/flags
		return b, fmt.Errorf("f4fbox: truncated abst header")
	}
	timescale, ok := c.u32()
	if !ok {
		return b, fmt.Errorf("f4fbox: truncated abst timescale")
	}
	b.Timescale = timescale
	liveCurrentTime, ok := c.u64()
	if !ok {
		return b, fmt.Errorf("f4fbox: truncated abst live_current_time")
	}
	b.LiveCurrentTime = liveCurrentTime
	if !c.skip(8) { // SMPTE time code offset
		return b, fmt.Errorf("f4fbox: truncated abst smpte offset")
	}
	movieID, ok := c.cstring()
	if !ok {
		return b, fmt.Errorf("f4fbox: unterminated movie identifier")
	}
	b.MovieID = movieID

	if c.remaining() < 4 {
		log.Warn("not enough bootstrap after movie identifier")
		return b, nil
	}
	serverCount, _ := c.u8()
	for ; serverCount > 0; serverCount-- {
		url, ok := c.cstring()
		if !ok {
			log.Error("couldn't find server entry")
			return b, nil
		}
		if len(b.Servers) < MaxServers {
			b.Servers = append(b.Servers, url)
		} else {
			log.Warn("too many servers")
		}
		if c.remaining() == 0 && serverCount > 1 {
			log.Warn("premature end of bootstrap info while reading servers")
			return b, nil
		}
	}

	if c.remaining() < 3 {
		log.Warn("not enough bootstrap after servers")
		return b, nil
	}
	qualityCount, _ := c.u8()
	if qualityCount > 1 {
		log.Error("multiple quality levels in bootstrap are not supported")
		return b, nil
	}
	for ; qualityCount > 0; qualityCount-- {
		label, ok := c.cstring()
		if !ok {
			log.Error("couldn't find quality entry string in abst")
			return b, nil
		}
		b.QualityModifier = label
	}

	if c.remaining() < 2 {
		log.Warn("not enough bootstrap after quality entries")
		return b, nil
	}
	if _, ok := c.cstring(); !ok { // DRM data, ignored
		log.Error("couldn't find DRM data")
		return b, nil
	}

	if c.remaining() < 2 {
		log.Warn("not enough bootstrap after drm data")
		return b, nil
	}
	if _, ok := c.cstring(); !ok { // metadata, ignored
		log.Error("couldn't find metadata")
		return b, nil
	}

	if c.remaining() < 1 {
		log.Warn("not enough bootstrap after metadata")
		return b, nil
	}
	asrtCount, _ := c.u8()
	for i := uint8(0); i < asrtCount && c.remaining() > 0; i++ {
		if !parseAsrt(log, b, c) {
			return b, nil
		}
	}

	if c.remaining() < 1 {
		return b, nil
	}
	afrtCount, _ := c.u8()
	for i := uint8(0); i < afrtCount && c.remaining() > 0; i++ {
		if !parseAfrt(log, b, c) {
			break
		}
	}

	return b, nil
}

// parseAsrt parses one asrt subbox starting at c's current position,
// advancing c past it. It returns false when the subbox is too short or
// malformed to continue, matching the original's "soft fail, stop" policy.
//
// The quality-match here reproduces the original's observable behavior:
// asrt/afrt quality filtering never actually discriminates (the modifier
// comparison is always satisfied), but the loop still captures exactly one
// label when exactly one is present. See DESIGN.md for the Open Question
// this resolves.
func parseAsrt(log *slog.Logger, b *Bootstrap, c *cursor) bool {
	start := c.pos
	boxLen, ok := c.u32()
	if !ok || int(boxLen) > len(c.data)-start || len(c.data)-start < 14 {
		log.Error("not enough asrt data")
		return false
	}
	if !c.tag("asrt") {
		log.Error("can't find asrt in bootstrap")
		return false
	}
	if !c.skip(4) { // version/flags
		return false
	}
	qualityCount, ok := c.u8()
	if !ok {
		return false
	}
	single := qualityCount == 1
	for ; qualityCount > 0; qualityCount-- {
		label, ok := c.cstring()
		if !ok {
			log.Error("couldn't find quality entry string in asrt")
			return false
		}
		if single && b.QualityModifier == "" {
			b.QualityModifier = label
		}
	}

	if c.remaining() < 4 {
		log.Error("premature end of asrt after quality entries")
		return false
	}
	entryCount, _ := c.u32()
	if c.remaining() < 8*int(entryCount) {
		log.Error("not enough data in asrt for segment run entries")
		return false
	}
	if entryCount >= MaxSegmentRuns {
		log.Error("too many segment runs")
		return false
	}
	for ; entryCount > 0; entryCount-- {
		firstSegment, _ := c.u32()
		fragsPerSegment, _ := c.u32()
		if len(b.SegmentRuns) < MaxSegmentRuns {
			b.SegmentRuns = append(b.SegmentRuns, SegmentRun{
				FirstSegment:        firstSegment,
				FragmentsPerSegment: fragsPerSegment,
			})
		}
	}
	return true
}

// parseAfrt parses one afrt subbox, see parseAsrt for the quality-match
// note.
func parseAfrt(log *slog.Logger, b *Bootstrap, c *cursor) bool {
	start := c.pos
	boxLen, ok := c.u32()
	if !ok || int(boxLen) > len(c.data)-start || len(c.data)-start < 9 {
		log.Error("not enough afrt data")
		return false
	}
	if !c.tag("afrt") {
		log.Error("can't find afrt in bootstrap")
		return false
	}
	if !c.skip(4) { // version/flags
		return false
	}
	if c.remaining() < 9 {
		log.Error("afrt is too short")
		return false
	}
	afrtTimescale, _ := c.u32()
	b.AfrtTimescale = afrtTimescale

	qualityCount, _ := c.u8()
	single := qualityCount == 1
	for ; qualityCount > 0; qualityCount-- {
		label, ok := c.cstring()
		if !ok {
			log.Error("couldn't find quality entry string in afrt")
			return false
		}
		if single && b.QualityModifier == "" {
			b.QualityModifier = label
		}
	}

	if c.remaining() < 5 {
		log.Error("no more space in afrt after quality entries")
		return false
	}
	entryCount, _ := c.u32()
	for ; entryCount > 0; entryCount-- {
		if c.remaining() < 16 {
			log.Error("not enough data in afrt")
			return false
		}
		if len(b.FragmentRuns) >= MaxFragmentRuns {
			log.Error("too many fragment runs, exiting")
			return false
		}
		fragNumStart, _ := c.u32()
		ts, _ := c.u64()
		dur, _ := c.u32()
		run := FragmentRun{
			FragmentNumberStart: fragNumStart,
			FragmentTimestamp:   ts,
			FragmentDuration:    dur,
		}
		if dur == 0 {
			if _, ok := c.u8(); !ok {
				log.Error("truncated discontinuity flag in afrt")
				return false
			}
			run.Kind = FragmentRunDiscontinuity
		}
		b.FragmentRuns = append(b.FragmentRuns, run)
	}
	return true
}
