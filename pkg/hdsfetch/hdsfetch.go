// Package hdsfetch builds fragment URLs, fetches them through an
// injectable HTTP capability, and locates the mdat payload inside a
// downloaded fragment. The fetch capability is an interface so tests can
// inject deterministic fixtures instead of hitting the network.
package hdsfetch

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// MaxFragmentSize rejects fragments larger than this as nonsense before
// allocating a buffer for them.
const MaxFragmentSize = 50 * 1024 * 1024

// HTTPFetcher is the external fetch capability: open a URL and report its
// size before the caller reads the body.
type HTTPFetcher interface {
	Fetch(ctx context.Context, url string) (size int64, body io.ReadCloser, err error)
}

// Client is the default HTTPFetcher, backed by net/http.
type Client struct {
	HTTP *http.Client
}

// NewClient returns a Client using http.DefaultClient.
func NewClient() *Client {
	return &Client{HTTP: http.DefaultClient}
}

func (c *Client) Fetch(ctx context.Context, url string) (int64, io.ReadCloser, error) {
	client := c.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	if resp.StatusCode >= 400 {
		resp.Body.Close()
		return 0, nil, fmt.Errorf("hdsfetch: %s: status %d", url, resp.StatusCode)
	}
	return resp.ContentLength, resp.Body, nil
}

// IsAbsoluteURL reports whether u has a case-insensitive http:// or
// https:// scheme prefix, mirroring hds.c's isFQUrl.
func IsAbsoluteURL(u string) bool {
	return hasPrefixFold(u, "http://") || hasPrefixFold(u, "https://")
}

func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}

// FragmentURL composes a fragment's URL following a fixed precedence:
// the server base is the stream's own URL if it is absolute,
// else the stream's first server entry, else the session base URL; the
// movie-id path segment is the stream's URL when present and not
// absolute, empty otherwise.
func FragmentURL(baseURL, streamURL string, servers []string, quality string, segNum, fragNum uint32) string {
	serverBase := baseURL
	if len(servers) > 0 {
		serverBase = servers[0]
	}
	movieID := ""
	if streamURL != "" {
		if IsAbsoluteURL(streamURL) {
			serverBase = streamURL
		} else {
			movieID = streamURL
		}
	}
	return fmt.Sprintf("%s/%s%sSeg%d-Frag%d", serverBase, movieID, quality, segNum, fragNum)
}

// FetchResult is a downloaded, not-yet-demuxed fragment.
type FetchResult struct {
	Data    []byte
	MdatPos int
	MdatLen int
	Failed  bool
}

// FetchFragment downloads one fragment and locates its mdat payload. A
// short read (fewer bytes than the server reported) sets Failed and
// returns a zero-value Data; a failed fetch must not publish
// data, only mark the chunk so the reader can skip or retry it.
func FetchFragment(ctx context.Context, f HTTPFetcher, url string) (FetchResult, error) {
	size, body, err := f.Fetch(ctx, url)
	if err != nil {
		return FetchResult{}, err
	}
	defer body.Close()

	if size > MaxFragmentSize {
		return FetchResult{}, fmt.Errorf("hdsfetch: fragment at %s reports size %d, exceeds %d byte limit", url, size, MaxFragmentSize)
	}

	var buf []byte
	if size > 0 {
		buf = make([]byte, size)
		n, err := io.ReadFull(body, buf)
		if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
			return FetchResult{}, err
		}
		if int64(n) < size {
			return FetchResult{Failed: true}, nil
		}
	} else {
		buf, err = io.ReadAll(io.LimitReader(body, MaxFragmentSize+1))
		if err != nil {
			return FetchResult{}, err
		}
		if len(buf) > MaxFragmentSize {
			return FetchResult{}, fmt.Errorf("hdsfetch: fragment at %s exceeds %d byte limit", url, MaxFragmentSize)
		}
	}

	pos, length, err := LocateMdat(buf)
	if err != nil {
		return FetchResult{Failed: true}, nil
	}
	return FetchResult{Data: buf, MdatPos: pos, MdatLen: length}, nil
}

// LocateMdat walks ISO-BMFF boxes from the start of data and returns the
// byte offset and length of the first "mdat" box's payload. A zero-length
// trailing box (no further box follows) means "payload runs to the end of
// data". Matches hds.c's find_chunk_mdat byte-for-byte, including
// the 64-bit extended-size form.
func LocateMdat(data []byte) (pos int, length int, err error) {
	offset := 0
	for {
		if len(data)-offset < 8 {
			return 0, 0, fmt.Errorf("hdsfetch: truncated box header while looking for mdat")
		}
		boxSize := binary.BigEndian.Uint32(data[offset : offset+4])
		tag := string(data[offset+4 : offset+8])

		var payloadStart int
		if boxSize == 1 {
			if len(data)-offset < 16 {
				return 0, 0, fmt.Errorf("hdsfetch: truncated extended box size while looking for mdat")
			}
			extSize := binary.BigEndian.Uint64(data[offset+8 : offset+16])
			payloadStart = offset + 16
			if tag == "mdat" {
				end := offset + int(extSize)
				if extSize == 0 || end > len(data) {
					end = len(data)
				}
				return payloadStart, end - payloadStart, nil
			}
			if extSize < 16 {
				return 0, 0, fmt.Errorf("hdsfetch: invalid extended box size")
			}
			offset += int(extSize)
			continue
		}

		payloadStart = offset + 8
		if tag == "mdat" {
			end := offset + int(boxSize)
			if boxSize == 0 || end > len(data) {
				end = len(data)
			}
			return payloadStart, end - payloadStart, nil
		}
		if boxSize < 8 {
			return 0, 0, fmt.Errorf("hdsfetch: invalid box size %d", boxSize)
		}
		offset += int(boxSize)
	}
}
