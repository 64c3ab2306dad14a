package hdsstream

import (
	"errors"
	"io"

	"github.com/go-hds/hdsadapter/pkg/hdschain"
	"github.com/go-hds/hdsadapter/pkg/hdsfrag"
)

// ErrClosed is returned by Read once the stream has been closed and no
// further bytes remain.
var ErrClosed = errors.New("hdsstream: stream closed")

// ControlQuery names one of the fixed set of control questions a reader
// facade answers, mirroring a typical media-source "IStream::control"
// surface: a small enum of capability/parameter queries rather than a
// free-form method per question.
type ControlQuery int

const (
	ControlCanSeek ControlQuery = iota
	ControlCanFastSeek
	ControlCanPause
	ControlCanControlPace
	ControlGetPTSDelay
)

// Control answers one of the fixed capability/parameter queries. HDS
// fragments arrive in fetch order only: no seeking, no pausing the
// underlying fetch, but the reader can be paced by the caller, and the
// configured network-caching value is reported as a PTS delay in
// microseconds.
func (s *Stream) Control(q ControlQuery) int64 {
	switch q {
	case ControlCanControlPace:
		return 1
	case ControlGetPTSDelay:
		return int64(s.cfg.NetworkCachingMS) * 1000
	default:
		return 0
	}
}

// Read fills buf with the synthetic FLV header followed by the mdat
// payloads of successive chunks, in order. It blocks under
// chain.Mu only — there is no I/O inside Read itself, since fragment
// bytes are fetched ahead of time by the downloader.
func (s *Stream) Read(buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}

	if s.flvHeaderSent < len(FLVHeader) {
		n := copy(buf, FLVHeader[s.flvHeaderSent:])
		s.flvHeaderSent += n
		return n, nil
	}

	s.chain.Mu.Lock()
	defer s.chain.Mu.Unlock()

	for {
		idx := s.readCursorLocked()
		if idx == hdschain.NoChunk {
			if s.chain.Closed {
				return 0, ErrClosed
			}
			t := s.tablesSnapshot()
			if !t.Live {
				// VOD: try to extend the chain; eof if that's not possible.
				if err := s.growChainLocked(); err != nil {
					return 0, err
				}
				if s.readCursorLocked() == hdschain.NoChunk {
					return 0, io.EOF
				}
				continue
			}
			// Live: nothing ready yet, wait for the poller to append.
			s.chain.Cond.Wait()
			continue
		}

		c := s.chain.At(idx)
		if !c.HasData() {
			// downloader hasn't produced bytes yet, or is still retrying
			// after a failed fetch; either way, wait for it to signal.
			if s.chain.Closed {
				return 0, ErrClosed
			}
			s.chain.Cond.Wait()
			continue
		}
		if c.ReadPos >= c.MdatLen {
			if c.EOF {
				return 0, io.EOF
			}
			if !s.tablesSnapshot().Live && idx == s.chain.Tail()-1 {
				// VOD: append the successor before releasing the last chunk.
				next, err := hdsfrag.Next(s.tablesSnapshot(), &c.Chunk)
				if err != nil {
					return 0, io.EOF
				}
				s.chain.Append(next)
				s.chain.Cond.Broadcast()
			}
			s.advancePastLocked(idx)
			continue
		}

		n := copy(buf, c.MdatBytes())
		c.ReadPos += n

		if !s.tablesSnapshot().Live {
			if err := s.growChainLocked(); err != nil {
				s.log.Warn("failed to extend VOD lead-time after read", "error", err)
			}
		}
		return n, nil
	}
}

// readCursorLocked returns the chain index the reader should consume
// from next: liveReadPos in live mode, head in VOD mode (VOD has no
// independent read cursor — the reader always drains from head and
// releases as it goes).
func (s *Stream) readCursorLocked() int {
	if s.tablesSnapshot().Live {
		return s.chain.LiveReadPos()
	}
	return s.chain.Head()
}

// advancePastLocked moves the read cursor past a fully drained chunk: in
// live mode this just advances liveReadPos (release is left to the
// poller's GC pass); in VOD mode the chunk is released outright, since
// nothing else can reference it once consumed.
func (s *Stream) advancePastLocked(idx int) {
	if s.tablesSnapshot().Live {
		next := idx + 1
		if next >= s.chain.Tail() {
			next = hdschain.NoChunk
		}
		s.chain.AdvanceLiveReadPos(next)
		return
	}
	s.chain.Release(idx)
}

// Peek returns up to n bytes the next Read call would return, without
// advancing any cursor: the FLV header remainder first, then head's
// unread mdat bytes.
func (s *Stream) Peek(n int) ([]byte, error) {
	if s.flvHeaderSent < len(FLVHeader) {
		remaining := FLVHeader[s.flvHeaderSent:]
		if n > len(remaining) {
			n = len(remaining)
		}
		out := make([]byte, n)
		copy(out, remaining[:n])
		return out, nil
	}

	s.chain.Mu.Lock()
	defer s.chain.Mu.Unlock()

	idx := s.readCursorLocked()
	if idx == hdschain.NoChunk {
		return nil, nil
	}
	c := s.chain.At(idx)
	if c == nil || !c.HasData() {
		return nil, nil
	}
	avail := c.MdatBytes()
	if n > len(avail) {
		n = len(avail)
	}
	out := make([]byte, n)
	copy(out, avail[:n])
	return out, nil
}
