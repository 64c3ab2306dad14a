// Package app wires the HDS adapter's packages into the top-level facade:
// parse the manifest, open the first matching stream, and drive its
// downloader/live-poller workers while exposing Read/Peek/Control.
package app

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf16"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/go-hds/hdsadapter/pkg/f4fbox"
	"github.com/go-hds/hdsadapter/pkg/f4m"
	"github.com/go-hds/hdsadapter/pkg/hdsfetch"
	"github.com/go-hds/hdsadapter/pkg/hdsmetrics"
	"github.com/go-hds/hdsadapter/pkg/hdsstream"
)

// ErrNotHDS is returned by Open when the source fails detection: a clean
// "not this filter" result, not a fetch or parse failure.
var ErrNotHDS = errors.New("hdsfilter: not an HDS manifest")

// detectManifestWindow bounds how much of the source detection inspects.
const detectManifestWindow = 200

// detectManifest reports whether the leading bytes of a source look like
// an F4M manifest: decoded from UTF-16 LE/BE if a byte-order mark is
// present (used as-is otherwise), the window must contain "<manifest".
func detectManifest(data []byte) bool {
	probe := data
	if len(probe) > detectManifestWindow {
		probe = probe[:detectManifestWindow]
	}
	return strings.Contains(decodeDetectionProbe(probe), "<manifest")
}

func decodeDetectionProbe(b []byte) string {
	switch {
	case len(b) >= 2 && b[0] == 0xFF && b[1] == 0xFE:
		return decodeUTF16(b[2:], binary.LittleEndian)
	case len(b) >= 2 && b[0] == 0xFE && b[1] == 0xFF:
		return decodeUTF16(b[2:], binary.BigEndian)
	default:
		return string(b)
	}
}

func decodeUTF16(b []byte, order binary.ByteOrder) string {
	if len(b)%2 != 0 {
		b = b[:len(b)-1]
	}
	units := make([]uint16, len(b)/2)
	for i := range units {
		units[i] = order.Uint16(b[i*2:])
	}
	return string(utf16.Decode(units))
}

// readAll drains and closes body, rejecting anything over the same
// size limit hdsfetch applies to fragments — a manifest or bootstrap
// this large is malformed, not legitimate.
func readAll(body io.ReadCloser) ([]byte, error) {
	defer body.Close()
	lr := &io.LimitedReader{R: body, N: hdsfetch.MaxFragmentSize + 1}
	data, err := io.ReadAll(lr)
	if err != nil {
		return nil, err
	}
	if len(data) > hdsfetch.MaxFragmentSize {
		return nil, fmt.Errorf("hdsfilter: response exceeds %d byte limit", hdsfetch.MaxFragmentSize)
	}
	return data, nil
}

// Filter is one open HDS adapter session, mirroring the original's
// top-level stream_filter module: one manifest in, one synthesized FLV
// byte stream out.
type Filter struct {
	stream *hdsstream.Stream
	cancel context.CancelFunc
	log    *slog.Logger
}

// Open fetches and parses the manifest at manifestURL, opens the first
// matching (media, bootstrap) pair, and starts its downloader and (for
// live streams) live-poller workers.
func Open(ctx context.Context, cfg *Config, log *slog.Logger, reg prometheus.Registerer) (*Filter, error) {
	if log == nil {
		log = slog.Default()
	}

	client := hdsfetch.NewClient()
	client.HTTP = &http.Client{Timeout: time.Duration(cfg.HTTPTimeoutS) * time.Second}

	baseURL := dirOf(cfg.ManifestURL)

	_, manifestBody, err := client.Fetch(ctx, cfg.ManifestURL)
	if err != nil {
		return nil, fmt.Errorf("hdsfilter: fetching manifest: %w", err)
	}
	manifestData, err := readAll(manifestBody)
	if err != nil {
		return nil, fmt.Errorf("hdsfilter: reading manifest: %w", err)
	}
	if !detectManifest(manifestData) {
		return nil, ErrNotHDS
	}

	manifest, refs, err := f4m.Parse(manifestData)
	if err != nil {
		return nil, fmt.Errorf("hdsfilter: parsing manifest: %w", err)
	}
	if len(refs) == 0 {
		return nil, fmt.Errorf("hdsfilter: manifest has no usable media/bootstrapInfo pairing")
	}
	ref := refs[0] // streams[0]: documented single-track resolution

	var boot *f4fbox.Bootstrap
	abstURL := ""
	switch {
	case ref.Bootstrap.Data != nil:
		boot, err = f4fbox.ParseBootstrap(log, ref.Bootstrap.Data)
		if err != nil {
			return nil, fmt.Errorf("hdsfilter: parsing inline bootstrap: %w", err)
		}
	case ref.Bootstrap.URL != "":
		abstURL = resolveRelative(baseURL, ref.Bootstrap.URL)
		if !manifest.Live {
			_, body, err := client.Fetch(ctx, abstURL)
			if err != nil {
				return nil, fmt.Errorf("hdsfilter: fetching bootstrap: %w", err)
			}
			data, err := readAll(body)
			if err != nil {
				return nil, fmt.Errorf("hdsfilter: reading bootstrap: %w", err)
			}
			boot, err = f4fbox.ParseBootstrap(log, data)
			if err != nil {
				return nil, fmt.Errorf("hdsfilter: parsing bootstrap: %w", err)
			}
		}
		// live: the first bootstrap fetch happens inside RunLivePoller's
		// first cycle, not here — the chain starts empty until then.
	default:
		return nil, fmt.Errorf("hdsfilter: bootstrapInfo has neither inline data nor a URL")
	}

	var metrics hdsstream.Metrics
	if reg != nil {
		metrics = hdsmetrics.New(reg)
	}

	scfg := hdsstream.Config{
		BaseURL:          baseURL,
		StreamURL:        ref.Media.URL,
		AbstURL:          abstURL,
		Live:             manifest.Live,
		DurationSeconds:  manifest.DurationSeconds,
		DownloadLeadtime: time.Duration(cfg.DownloadLeadtimeS) * time.Second,
		NetworkCachingMS: cfg.NetworkCachingMS,
	}
	stream := hdsstream.New(scfg, boot, manifest.ID, client, log, metrics)

	if !manifest.Live {
		if err := stream.PrimeVOD(); err != nil {
			return nil, fmt.Errorf("hdsfilter: priming VOD chain: %w", err)
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	go stream.RunDownloader(runCtx)
	if manifest.Live {
		go stream.RunLivePoller(runCtx)
	}

	return &Filter{stream: stream, cancel: cancel, log: log}, nil
}

// Stream exposes the underlying hdsstream.Stream for the debug API.
func (f *Filter) Stream() *hdsstream.Stream { return f.stream }

// Read/Peek/Control delegate to the underlying stream's reader facade.
func (f *Filter) Read(buf []byte) (int, error)          { return f.stream.Read(buf) }
func (f *Filter) Peek(n int) ([]byte, error)             { return f.stream.Peek(n) }
func (f *Filter) Control(q hdsstream.ControlQuery) int64 { return f.stream.Control(q) }

// Close stops the downloader/live-poller workers and releases the chain.
func (f *Filter) Close() {
	f.cancel()
	f.stream.Close()
}

func dirOf(rawURL string) string {
	idx := strings.LastIndex(rawURL, "/")
	if idx == -1 {
		return rawURL
	}
	return rawURL[:idx]
}

func resolveRelative(baseURL, ref string) string {
	if hdsfetch.IsAbsoluteURL(ref) {
		return ref
	}
	u, err := url.Parse(baseURL + "/" + ref)
	if err != nil {
		return baseURL + "/" + ref
	}
	return u.String()
}
