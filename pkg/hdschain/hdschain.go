// Package hdschain implements the chunk chain: the producer/consumer
// queue of in-flight fragment descriptors shared between the reader, the
// downloader, and (for live streams) the live poller.
//
// The chain is modeled as an arena (a slice of Chunk) plus integer cursor
// indices instead of a linked list of pointers: head/live-read/download
// cursors are plain ints, and releasing a chunk is just advancing head
// past it, so nothing is ever reachable from two owners at once.
package hdschain

import (
	"sync"

	"github.com/go-hds/hdsadapter/pkg/hdsfrag"
)

// NoChunk marks a cursor as pointing at nothing.
const NoChunk = -1

const noChunk = NoChunk

// Chunk is one media fragment in flight. Data/Mdat*/Failed are set by the
// downloader and ReadPos is advanced by the reader; the embedded timing
// fields are set once by FragmentIndex when the chunk is created and
// never mutated afterward.
type Chunk struct {
	hdsfrag.Chunk

	Data    []byte // full downloaded fragment; nil until the downloader populates it
	MdatPos int    // offset of the mdat payload within Data
	MdatLen int    // length of the mdat payload
	ReadPos int    // read cursor into the mdat payload, 0..MdatLen
	Failed  bool   // set if the fetch produced fewer bytes than expected
}

// HasData reports whether the chunk has been downloaded.
func (c *Chunk) HasData() bool { return c.Data != nil }

// MdatBytes returns the slice of Data currently unread.
func (c *Chunk) MdatBytes() []byte {
	return c.Data[c.MdatPos+c.ReadPos : c.MdatPos+c.MdatLen]
}

// Chain is the arena-backed chunk queue for one stream. All field access
// happens under Mu; callers lock/unlock explicitly rather than the chain
// hiding a mutex behind every method, since the chain lock is a distinct,
// externally visible synchronization point shared by reader, downloader,
// and live poller.
type Chain struct {
	Mu   sync.Mutex
	Cond *sync.Cond // signaled whenever downloadpos gains work or the chain closes

	chunks []Chunk // arena; index 0 is never reused once appended

	head        int // index of the earliest live chunk, or noChunk if empty
	tail        int // index one past the last appended chunk
	liveReadPos int // live mode only: where the reader stands, or noChunk
	downloadPos int // next chunk needing bytes, or noChunk

	Closed bool
}

// New returns an empty chain with its condition variable bound to Mu.
func New() *Chain {
	c := &Chain{
		head:        noChunk,
		liveReadPos: noChunk,
		downloadPos: noChunk,
	}
	c.Cond = sync.NewCond(&c.Mu)
	return c
}

// Append adds a chunk at the producer end. Caller must hold Mu. Returns
// the new chunk's arena index.
func (c *Chain) Append(fc hdsfrag.Chunk) int {
	c.chunks = append(c.chunks, Chunk{Chunk: fc})
	idx := len(c.chunks) - 1
	if c.head == noChunk {
		c.head = idx
	}
	c.tail = idx + 1
	if c.downloadPos == noChunk {
		c.downloadPos = idx
	}
	return idx
}

// Head returns the index of the earliest live chunk, or noChunk.
func (c *Chain) Head() int { return c.head }

// Tail returns one past the last appended chunk's index.
func (c *Chain) Tail() int { return c.tail }

// Len reports how many chunks currently live in [head, tail).
func (c *Chain) Len() int {
	if c.head == noChunk {
		return 0
	}
	return c.tail - c.head
}

// At returns a pointer into the arena for idx. The pointer is valid only
// while Mu is held and no further Append triggers a slice growth — callers
// must not retain it past their critical section.
func (c *Chain) At(idx int) *Chunk {
	if idx < 0 || idx >= len(c.chunks) {
		return nil
	}
	return &c.chunks[idx]
}

// LiveReadPos / DownloadPos expose the two weak cursors.
func (c *Chain) LiveReadPos() int { return c.liveReadPos }
func (c *Chain) DownloadPos() int { return c.downloadPos }

// SeedLiveReadPos sets the live-read cursor to idx if it is unset.
func (c *Chain) SeedLiveReadPos(idx int) {
	if c.liveReadPos == noChunk {
		c.liveReadPos = idx
	}
}

// AdvanceLiveReadPos moves the live-read cursor forward to idx.
func (c *Chain) AdvanceLiveReadPos(idx int) { c.liveReadPos = idx }

// Release drops the head chunk at idx, advancing head past it. Used by the reader
// once a chunk's mdat payload has been fully drained (VOD), or by the
// live poller once a drained chunk has fallen behind the live-read cursor.
// Caller must hold Mu. A released chunk's backing array slot is zeroed so
// its Data buffer can be garbage collected.
func (c *Chain) Release(idx int) {
	c.chunks[idx] = Chunk{}
	c.head = idx + 1
	if c.head >= c.tail {
		c.head = noChunk
	}
}

// AdoptDownloadPos scans forward from head to the first chunk lacking
// data and adopts it as downloadPos, or leaves downloadPos at noChunk if
// every chunk in range already has data. Caller must hold Mu. Mirrors
// "When downloadpos is null, the downloader walks head... forward
// to the first chunk with data == null and adopts it."
func (c *Chain) AdoptDownloadPos() {
	if c.head == noChunk {
		c.downloadPos = noChunk
		return
	}
	for i := c.head; i < c.tail; i++ {
		if !c.chunks[i].HasData() {
			c.downloadPos = i
			return
		}
	}
	c.downloadPos = noChunk
}

// AdvanceDownloadPos moves downloadPos to idx (idx == Tail() clears it to
// noChunk, meaning "caught up").
func (c *Chain) AdvanceDownloadPos(idx int) {
	if idx >= c.tail {
		c.downloadPos = noChunk
		return
	}
	c.downloadPos = idx
}

// HasDownloadWork reports whether the downloader has something to do
// right now, i.e. whether waking it would be useful.
func (c *Chain) HasDownloadWork() bool {
	return c.downloadPos != noChunk
}

// IsEmpty reports whether the chain currently holds no live chunks.
func (c *Chain) IsEmpty() bool { return c.head == noChunk }

// LiveReadUnset reports whether the live-read cursor has never been seeded.
func (c *Chain) LiveReadUnset() bool { return c.liveReadPos == noChunk }

// TotalDuration sums the Duration of every chunk currently in [head, tail).
func (c *Chain) TotalDuration() uint64 {
	var total uint64
	for i := c.head; i != noChunk && i < c.tail; i++ {
		total += uint64(c.chunks[i].Duration)
	}
	return total
}

// Close marks the chain closed and wakes every waiter so blocked
// downloader/poller goroutines can observe Closed and unwind.
func (c *Chain) Close() {
	c.Mu.Lock()
	c.Closed = true
	c.Mu.Unlock()
	c.Cond.Broadcast()
}
