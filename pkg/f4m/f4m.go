// Package f4m parses the F4M XML manifest: the document that lists media
// tracks and their bootstrap information, and decides whether the stream
// described is VOD or live.
package f4m

import (
	"encoding/base64"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/beevik/etree"
)

const (
	maxMediaElements      = 10
	maxBootstrapInfoElems = 10
)

// Media is one <media> element: a track description that must be joined
// against a BootstrapInfo to produce a usable stream.
type Media struct {
	StreamID        string
	URL             string
	BootstrapInfoID string
}

// BootstrapInfo is one <bootstrapInfo> element: either an inline
// base64-encoded abst box (Data non-nil) or a URL to fetch one from.
type BootstrapInfo struct {
	ID      string
	URL     string
	Profile string
	Data    []byte // decoded inline bootstrap, nil if URL must be used instead
}

// Manifest is the parsed F4M document.
type Manifest struct {
	ID              string
	DurationSeconds float64
	Live            bool
	Media           []Media
	Bootstraps      []BootstrapInfo
}

// StreamRef is one (media, bootstrap) pairing produced by cross-joining
// Media and Bootstraps: a match requires both BootstrapInfoID
// and ID absent, or both present and equal.
type StreamRef struct {
	Media     Media
	Bootstrap BootstrapInfo
}

// Parse walks the F4M XML document and returns the manifest plus its
// resolved media/bootstrap pairings.
func Parse(raw []byte) (*Manifest, []StreamRef, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(raw); err != nil {
		return nil, nil, fmt.Errorf("f4m: failed to parse manifest XML: %w", err)
	}
	root := doc.Root()
	if root == nil || root.Tag != "manifest" {
		return nil, nil, fmt.Errorf("f4m: missing manifest root element")
	}

	m := &Manifest{Live: true}

	if idElem := root.FindElement("./id"); idElem != nil {
		m.ID = strings.TrimSpace(idElem.Text())
	}

	if durElem := root.FindElement("./duration"); durElem != nil {
		d, err := strconv.ParseFloat(strings.TrimSpace(durElem.Text()), 64)
		if err == nil && d > 0 {
			m.DurationSeconds = d
			m.Live = false
		}
	}

	mediaElems := root.FindElements("./media")
	if len(mediaElems) > maxMediaElements {
		return nil, nil, fmt.Errorf("f4m: too many media elements (%d > %d)", len(mediaElems), maxMediaElements)
	}
	for _, me := range mediaElems {
		m.Media = append(m.Media, Media{
			StreamID:        getAttr(me, "streamId"),
			URL:             getAttr(me, "url"),
			BootstrapInfoID: getAttr(me, "bootstrapInfoId"),
		})
	}

	bootstrapElems := root.FindElements("./bootstrapInfo")
	for i, be := range bootstrapElems {
		if i >= maxBootstrapInfoElems {
			slog.Warn("f4m: too many bootstrapInfo elements, dropping the rest",
				"count", len(bootstrapElems), "max", maxBootstrapInfoElems)
			break
		}
		bi := BootstrapInfo{
			ID:      getAttr(be, "id"),
			URL:     getAttr(be, "url"),
			Profile: getAttr(be, "profile"),
		}
		if text := strings.TrimSpace(be.Text()); text != "" {
			data, err := base64.StdEncoding.DecodeString(text)
			if err != nil {
				return nil, nil, fmt.Errorf("f4m: bootstrapInfo %q: invalid base64: %w", bi.ID, err)
			}
			bi.Data = data
		}
		m.Bootstraps = append(m.Bootstraps, bi)
	}

	var refs []StreamRef
	for _, media := range m.Media {
		for _, bootstrap := range m.Bootstraps {
			if matches(media.BootstrapInfoID, bootstrap.ID) {
				refs = append(refs, StreamRef{Media: media, Bootstrap: bootstrap})
			}
		}
	}

	return m, refs, nil
}

func matches(bootstrapInfoID, id string) bool {
	if bootstrapInfoID == "" && id == "" {
		return true
	}
	return bootstrapInfoID != "" && id != "" && bootstrapInfoID == id
}

func getAttr(e *etree.Element, name string) string {
	attr := e.SelectAttr(name)
	if attr == nil {
		return ""
	}
	return attr.Value
}
