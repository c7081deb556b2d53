// Package media holds the data model shared by every stage of the download
// pipeline: requests, item descriptors, staged files and artifacts.
package media

import (
	"fmt"
	"net/url"
	"strings"
)

// Content kinds an Artifact can be declared with.
const (
	MIMEAudio   = "audio/mpeg"
	MIMEVideo   = "video/mp4"
	MIMEArchive = "application/zip"
)

// OutputKind is what the user asked for: audio only or audio+video.
type OutputKind int

const (
	Audio OutputKind = iota + 1
	Video
)

// ParseOutputKind accepts "audio"/"mp3" and "video"/"mp4", case-insensitive.
func ParseOutputKind(s string) (OutputKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "audio", "mp3":
		return Audio, nil
	case "video", "mp4":
		return Video, nil
	}
	return 0, fmt.Errorf("unknown output kind %q: use 'audio' or 'video'", s)
}

func (k OutputKind) String() string {
	switch k {
	case Audio:
		return "audio"
	case Video:
		return "video"
	}
	return fmt.Sprintf("OutputKind(%d)", int(k))
}

// MIME returns the content kind of an artifact produced for k.
func (k OutputKind) MIME() string {
	if k == Audio {
		return MIMEAudio
	}
	return MIMEVideo
}

// Extension returns the file extension, with the leading dot, for k.
func (k OutputKind) Extension() string {
	if k == Audio {
		return ".mp3"
	}
	return ".mp4"
}

func (k OutputKind) valid() bool {
	return k == Audio || k == Video
}

// CollectionMode tells the resolver whether to expand playlists and albums.
type CollectionMode int

const (
	Single CollectionMode = iota
	Collection
)

func (m CollectionMode) String() string {
	if m == Collection {
		return "collection"
	}
	return "single"
}

// Request is one user submission. It is immutable once built by NewRequest.
type Request struct {
	sourceURL string
	kind      OutputKind
	mode      CollectionMode
}

// NewRequest validates the inputs and returns a Request.
// A URL without a scheme gets "https://".
func NewRequest(sourceURL string, kind OutputKind, mode CollectionMode) (Request, error) {
	raw := strings.TrimSpace(sourceURL)
	if raw == "" {
		return Request{}, fmt.Errorf("%w: empty url", ErrInvalidURL)
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return Request{}, fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}
	if u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return Request{}, fmt.Errorf("%w: %q is not an http(s) url", ErrInvalidURL, sourceURL)
	}
	if !kind.valid() {
		return Request{}, fmt.Errorf("invalid output kind %d", int(kind))
	}
	return Request{sourceURL: u.String(), kind: kind, mode: mode}, nil
}

func (r Request) SourceURL() string    { return r.sourceURL }
func (r Request) Kind() OutputKind     { return r.kind }
func (r Request) Mode() CollectionMode { return r.mode }

// Item describes one downloadable media unit before retrieval.
type Item struct {
	// Index is the 1-based position in the listing.
	Index int
	Title string
	// Locator is understood only by the resolver that produced the item.
	Locator  string
	Platform string
	// Container is the estimated MIME type of the source media, if known.
	Container string
}

// Listing is a fully materialized resolver result.
type Listing struct {
	Title string
	Items []Item
}

// Stream is one rendition of an item offered by the platform.
type Stream struct {
	MimeType      string
	HasAudio      bool
	HasVideo      bool
	Bitrate       int
	Height        int
	ContentLength int64
	// URL is set when the rendition URL is known up front.
	URL string
	// Handle is opaque and owned by the resolver that listed the stream.
	Handle any
}

// Container returns the MIME type without codec parameters.
func (s Stream) Container() string {
	return BaseMIME(s.MimeType)
}

// BaseMIME strips parameters: `video/mp4; codecs="avc1"` -> "video/mp4".
func BaseMIME(mimeType string) string {
	base, _, _ := strings.Cut(mimeType, ";")
	return strings.ToLower(strings.TrimSpace(base))
}

// StagedFile is raw fetched media waiting for transcoding.
type StagedFile struct {
	Path      string
	Container string
	Size      int64
}

// Artifact is a finished, fully written output file.
type Artifact struct {
	Path        string
	ContentType string
	FileName    string
	Size        int64
}
