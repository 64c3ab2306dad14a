// Package hdsstream ties the bootstrap timing tables, the chunk chain,
// and the fetch capability together into one open HDS stream: the
// downloader worker, the live poller worker, and the reader-facing byte
// stream. It is the direct analogue of the original's combined
// HDSStream/StreamSys: since exactly one media track is ever consumed
// (see SPEC_FULL.md's multi-track Open Question resolution), there is no
// need to model a per-process array of streams separately from the
// single stream that array actually holds.
package hdsstream

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-hds/hdsadapter/pkg/f4fbox"
	"github.com/go-hds/hdsadapter/pkg/hdschain"
	"github.com/go-hds/hdsadapter/pkg/hdsfetch"
	"github.com/go-hds/hdsadapter/pkg/hdsfrag"
)

// FLVHeader is the literal 13-byte synthetic FLV header every stream
// emits before any media bytes: "FLV", version 1, flags 0x05
// (audio+video present), 4-byte header length 9, 4-byte back-pointer 0.
var FLVHeader = [13]byte{'F', 'L', 'V', 0x01, 0x05, 0x00, 0x00, 0x00, 0x09, 0x00, 0x00, 0x00, 0x00}

// DefaultDownloadLeadtime is how far ahead of the reader the downloader
// tries to stay for VOD streams, absent an explicit configuration.
const DefaultDownloadLeadtime = 15 * time.Second

// Config configures how a Stream builds URLs, paces the live poller, and
// answers the PTS-delay control query.
type Config struct {
	BaseURL          string // session-level base URL, derived from the manifest URL's directory
	StreamURL        string // the <media url="..."> attribute, empty if absent
	AbstURL          string // absolute bootstrap URL, live streams only
	Live             bool
	DurationSeconds  float64
	DownloadLeadtime time.Duration
	NetworkCachingMS int
}

// Stream is one open HDS media track: its timing tables, its chunk
// chain, and the workers that keep the chain populated.
//
// Two mutexes guard disjoint state: mu
// ("abst_lock") guards the timing tables and the bootstrap-derived
// server/quality/movie fields; chain.Mu ("dl_lock") guards the chunk
// arena and its cursors. Whenever both are held at once, chain.Mu is
// always acquired first — see maintainLiveChunksLocked and growChainLocked.
type Stream struct {
	mu              sync.Mutex
	tables          hdsfrag.Tables
	servers         []string
	qualityModifier string
	movieID         string

	chain *hdschain.Chain

	cfg     Config
	fetcher hdsfetch.HTTPFetcher
	log     *slog.Logger
	metrics Metrics

	chunkCount    atomic.Int64
	flvHeaderSent int // touched only by the single reader goroutine

	closed atomic.Bool
}

// Metrics is the narrow observability surface pkg/hdsmetrics implements;
// a nil-safe no-op is used when metrics aren't wired in.
type Metrics interface {
	FragmentDownloaded(bytes int, dur time.Duration)
	FragmentFailed()
	LivePollCycle(dur time.Duration)
}

type noopMetrics struct{}

func (noopMetrics) FragmentDownloaded(int, time.Duration) {}
func (noopMetrics) FragmentFailed()                       {}
func (noopMetrics) LivePollCycle(time.Duration)           {}

// New constructs a Stream from a freshly parsed bootstrap and the
// manifest-level configuration. The chunk chain starts empty; callers
// (typically cmd/hdsfilter/app) pre-prime VOD streams to the lead-time
// invariant before starting the downloader.
func New(cfg Config, boot *f4fbox.Bootstrap, movieID string, fetcher hdsfetch.HTTPFetcher, log *slog.Logger, metrics Metrics) *Stream {
	if log == nil {
		log = slog.Default()
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	if cfg.DownloadLeadtime == 0 {
		cfg.DownloadLeadtime = DefaultDownloadLeadtime
	}
	s := &Stream{
		chain:   hdschain.New(),
		cfg:     cfg,
		fetcher: fetcher,
		log:     log,
		metrics: metrics,
		movieID: movieID,
	}
	if boot != nil {
		s.applyBootstrap(boot)
	}
	return s
}

func (s *Stream) applyBootstrap(boot *f4fbox.Bootstrap) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tables = hdsfrag.Tables{
		SegmentRuns:     boot.SegmentRuns,
		FragmentRuns:    boot.FragmentRuns,
		Timescale:       boot.Timescale,
		AfrtTimescale:   boot.AfrtTimescale,
		LiveCurrentTime: boot.LiveCurrentTime,
		Live:            s.cfg.Live,
		DurationSeconds: s.cfg.DurationSeconds,
	}
	s.servers = boot.Servers
	s.qualityModifier = boot.QualityModifier
}

func (s *Stream) tablesSnapshot() hdsfrag.Tables {
	s.mu.Lock()
	t := s.tables
	s.mu.Unlock()
	return t
}

// PrimeVOD appends chunks until the lead-time invariant holds or eof is
// reached. Called once, synchronously, during Open for VOD streams —
// mirrors parse_Manifest's immediate pre-priming of a VOD bootstrap.
func (s *Stream) PrimeVOD() error {
	s.chain.Mu.Lock()
	defer s.chain.Mu.Unlock()
	return s.growChainLocked()
}

// growChainLocked appends chunks to the tail until the lead-time
// invariant is satisfied or the chain reaches eof. Caller must hold
// chain.Mu. Returns an error only when the very first chunk cannot be
// resolved at all; failure to resolve a later chunk just stops growth
// (mirrors FragmentIndex's "no more chunks available right now").
func (s *Stream) growChainLocked() error {
	t := s.tablesSnapshot()
	needed := uint64(s.cfg.DownloadLeadtime/time.Second) * uint64(t.AfrtTimescale)
	appended := false
	defer func() {
		if appended {
			s.chain.Cond.Broadcast()
		}
	}()

	for {
		if s.chain.Len() == 0 {
			c, err := hdsfrag.Next(t, nil)
			if err != nil {
				return fmt.Errorf("hdsstream: could not resolve first chunk: %w", err)
			}
			idx := s.chain.Append(c)
			s.chain.SeedLiveReadPos(idx)
			appended = true
			continue
		}
		last := s.chain.At(s.chain.Tail() - 1)
		if last.EOF || s.chain.TotalDuration() >= needed {
			return nil
		}
		next, err := hdsfrag.Next(t, &last.Chunk)
		if err != nil {
			s.log.Warn("fragment index could not extend chain", "error", err)
			return nil
		}
		s.chain.Append(next)
		appended = true
	}
}

// Chain exposes the underlying chain, primarily for cmd/hdsfilter/app's
// debug status endpoint.
func (s *Stream) Chain() *hdschain.Chain { return s.chain }

// ChunkCount returns how many fragments have been successfully
// downloaded so far.
func (s *Stream) ChunkCount() int64 { return s.chunkCount.Load() }

// MovieID returns the stream's movie identifier, as parsed from the
// manifest's <id> element.
func (s *Stream) MovieID() string { return s.movieID }

// Close marks the stream closed and wakes any blocked worker. Safe to
// call more than once.
func (s *Stream) Close() {
	if s.closed.CompareAndSwap(false, true) {
		s.chain.Close()
	}
}

// readAllLimited reads r to completion, erroring if more than limit
// bytes are seen. Mirrors hdsfetch.FetchFragment's own oversize guard,
// applied here to the bootstrap fetch instead of a fragment fetch.
func readAllLimited(r io.Reader, limit int64) ([]byte, error) {
	lr := &io.LimitedReader{R: r, N: limit + 1}
	data, err := io.ReadAll(lr)
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("hdsstream: live bootstrap exceeds %d bytes", limit)
	}
	return data, nil
}

// buildFragmentURL composes the URL for (segNum, fragNum), taking a brief
// lock on the bootstrap-derived fields (server list, quality modifier)
// since a live re-parse can change them between downloads.
func (s *Stream) buildFragmentURL(segNum, fragNum uint32) string {
	s.mu.Lock()
	servers := s.servers
	quality := s.qualityModifier
	s.mu.Unlock()
	return hdsfetch.FragmentURL(s.cfg.BaseURL, s.cfg.StreamURL, servers, quality, segNum, fragNum)
}

// resolveAbstURL computes the absolute bootstrap URL the live poller
// fetches from, joining with the session base URL when the manifest gave
// a relative one. Mirrors hds.c's abst_url resolution in live_thread.
func resolveAbstURL(baseURL, abstURL string) string {
	if abstURL == "" || hdsfetch.IsAbsoluteURL(abstURL) {
		return abstURL
	}
	return strings.TrimRight(baseURL, "/") + "/" + abstURL
}

// RunDownloader drives the chunk chain's downloadpos cursor forward
// until ctx is cancelled or the chain is closed: adopt
// downloadpos, fetch its fragment outside the lock, then either advance
// past it or mark it failed and retry — no backoff, no skip-ahead, since
// a failed fetch leaves downloadpos exactly where it was for the next
// loop iteration to pick up again.
func (s *Stream) RunDownloader(ctx context.Context) {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			s.Close()
		case <-stop:
		}
	}()

	s.chain.Mu.Lock()
	defer s.chain.Mu.Unlock()
	for {
		for {
			if s.chain.Closed {
				return
			}
			s.chain.AdoptDownloadPos()
			if s.chain.HasDownloadWork() {
				break
			}
			s.chain.Cond.Wait()
		}

		idx := s.chain.DownloadPos()
		chunk := *s.chain.At(idx)
		segNum, fragNum := chunk.SegNum, chunk.FragNum

		s.chain.Mu.Unlock()
		url := s.buildFragmentURL(segNum, fragNum)
		start := time.Now()
		res, err := hdsfetch.FetchFragment(ctx, s.fetcher, url)
		elapsed := time.Since(start)
		s.chain.Mu.Lock()

		if s.chain.Closed {
			return
		}

		if head := s.chain.Head(); head == hdschain.NoChunk || idx < head {
			// chunk was released (reader ran far ahead) before the fetch
			// returned; nothing left to update.
			continue
		}
		c := s.chain.At(idx)
		if err != nil || res.Failed {
			c.Failed = true
			s.metrics.FragmentFailed()
			s.log.Warn("fragment download failed, will retry", "url", url, "error", err)
			continue
		}

		c.Data = res.Data
		c.MdatPos = res.MdatPos
		c.MdatLen = res.MdatLen
		c.Failed = false
		s.chunkCount.Add(1)
		s.metrics.FragmentDownloaded(len(res.Data), elapsed)
		s.chain.AdvanceDownloadPos(idx + 1)
		s.chain.Cond.Broadcast()
	}
}

// RunLivePoller periodically refetches the live bootstrap, extends the
// chain with any newly available chunks, garbage-collects chunks that
// have fallen behind live_current_time, and sleeps for the duration of
// the most recent fragment run entry — resolving the "how long does the
// live poller sleep" Open Question the way hds.c's live_thread does: by
// the last fragment_run's duration, converted through afrt_timescale,
// rather than a fixed poll interval.
func (s *Stream) RunLivePoller(ctx context.Context) {
	for {
		start := time.Now()
		if err := s.pollOnce(ctx); err != nil {
			s.log.Warn("live bootstrap poll failed", "error", err)
		}
		s.metrics.LivePollCycle(time.Since(start))

		sleep := s.pollSleepInterval()
		select {
		case <-ctx.Done():
			s.Close()
			return
		case <-time.After(sleep):
		}

		s.chain.Mu.Lock()
		closed := s.chain.Closed
		s.chain.Mu.Unlock()
		if closed {
			return
		}
	}
}

func (s *Stream) pollOnce(ctx context.Context) error {
	s.mu.Lock()
	abstURL := resolveAbstURL(s.cfg.BaseURL, s.cfg.AbstURL)
	s.mu.Unlock()
	if abstURL == "" {
		return fmt.Errorf("hdsstream: no bootstrap URL configured for live poll")
	}

	_, body, err := s.fetcher.Fetch(ctx, abstURL)
	if err != nil {
		return fmt.Errorf("fetching live bootstrap: %w", err)
	}
	defer body.Close()

	data, err := readAllLimited(body, hdsfetch.MaxFragmentSize)
	if err != nil {
		return fmt.Errorf("reading live bootstrap: %w", err)
	}

	boot, err := f4fbox.ParseBootstrap(s.log, data)
	if err != nil {
		return fmt.Errorf("parsing live bootstrap: %w", err)
	}
	s.applyBootstrap(boot)

	s.chain.Mu.Lock()
	s.maintainLiveChunksLocked()
	s.chain.Mu.Unlock()
	return nil
}

// maintainLiveChunksLocked appends any newly-reachable chunks and
// releases, from the head, every chunk that has both been fully read and
// fallen behind the live-read cursor. Caller must hold chain.Mu; it acquires s.mu only
// through tablesSnapshot, consistent with the package's lock ordering
// (chain lock outer, abst lock inner).
func (s *Stream) maintainLiveChunksLocked() {
	t := s.tablesSnapshot()
	appended := false

	if s.chain.IsEmpty() {
		c, err := hdsfrag.Next(t, nil)
		if err != nil {
			return
		}
		idx := s.chain.Append(c)
		s.chain.SeedLiveReadPos(idx)
		appended = true
	}

	for {
		last := s.chain.At(s.chain.Tail() - 1)
		if last == nil {
			break
		}
		candidate, err := hdsfrag.Next(t, &last.Chunk)
		if err != nil {
			break
		}
		if !withinLiveWindow(candidate, t) {
			break
		}
		s.chain.Append(candidate)
		appended = true
	}

	for s.chain.Head() != hdschain.NoChunk && s.chain.Head() < s.chain.LiveReadPos() {
		head := s.chain.At(s.chain.Head())
		if head == nil || !head.HasData() || head.ReadPos < head.MdatLen {
			break
		}
		s.chain.Release(s.chain.Head())
	}
	if s.chain.LiveReadUnset() && s.chain.Head() != hdschain.NoChunk {
		s.chain.SeedLiveReadPos(s.chain.Head())
	}

	if appended {
		s.chain.Cond.Broadcast()
	}
}

// withinLiveWindow reports whether a candidate chunk's timestamp,
// converted from afrt_timescale units to timescale units, has already
// arrived according to live_current_time — the condition under which
// the live poller is willing to extend the chain with it.
func withinLiveWindow(c hdsfrag.Chunk, t hdsfrag.Tables) bool {
	if t.Timescale == 0 || t.AfrtTimescale == 0 {
		return false
	}
	scaled := c.Timestamp * uint64(t.Timescale) / uint64(t.AfrtTimescale)
	return scaled <= t.LiveCurrentTime
}

// pollSleepInterval computes how long the live poller waits before its
// next bootstrap refetch: the most recent fragment run entry's duration
// divided by afrt_timescale, falling back to one second if no fragment
// runs are known yet or that duration is zero.
func (s *Stream) pollSleepInterval() time.Duration {
	t := s.tablesSnapshot()
	if len(t.FragmentRuns) == 0 || t.AfrtTimescale == 0 {
		return time.Second
	}
	last := t.FragmentRuns[len(t.FragmentRuns)-1]
	seconds := float64(last.FragmentDuration) / float64(t.AfrtTimescale)
	if seconds <= 0 {
		return time.Second
	}
	return time.Duration(seconds * float64(time.Second))
}
