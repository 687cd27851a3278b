// Package catalog wraps the upstream video host into a normalized stream
// catalog. Descriptors keep the upstream's native id so a later fetch is a
// direct lookup; human-readable quality strings are labels only, never keys.
package catalog

import "context"

// Kind classifies a stream descriptor. Every upstream format maps to exactly
// one kind.
type Kind int

const (
	// KindMuxed is a progressive stream carrying both video and audio tracks.
	KindMuxed Kind = iota
	// KindVideoOnly carries a video track and no audio.
	KindVideoOnly
	// KindAudioOnly carries an audio track and no video.
	KindAudioOnly
)

func (k Kind) String() string {
	switch k {
	case KindMuxed:
		return "muxed"
	case KindVideoOnly:
		return "video-only"
	case KindAudioOnly:
		return "audio-only"
	default:
		return "unknown"
	}
}

// StreamDescriptor describes one fetchable stream. ID is the upstream-native
// identifier (itag), unique within its catalog; descriptors are produced
// fresh per Resolve and never persisted.
type StreamDescriptor struct {
	ID        string `json:"itag"`
	Kind      Kind   `json:"-"`
	Container string `json:"container"`
	Quality   string `json:"quality"`
	// BitrateBPS orders audio-only streams for best-audio selection.
	BitrateBPS int `json:"-"`
}

// Catalog is the normalized result of resolving one locator.
type Catalog struct {
	Title           string
	Author          string
	DurationSeconds int
	ThumbnailURL    string
	Streams         []StreamDescriptor
}

// FindByID returns the descriptor with the given upstream id.
func (c *Catalog) FindByID(id string) (StreamDescriptor, bool) {
	for _, d := range c.Streams {
		if d.ID == id {
			return d, true
		}
	}
	return StreamDescriptor{}, false
}

// BestAudio returns the audio-only descriptor with the highest bitrate.
func (c *Catalog) BestAudio() (StreamDescriptor, bool) {
	var best StreamDescriptor
	found := false
	for _, d := range c.Streams {
		if d.Kind != KindAudioOnly {
			continue
		}
		if !found || d.BitrateBPS > best.BitrateBPS {
			best = d
			found = true
		}
	}
	return best, found
}

// Resolver is the upstream capability consumed by the orchestrator and the
// info endpoint: resolve a locator into a catalog, and fetch the bytes of one
// descriptor to a local path.
type Resolver interface {
	Resolve(ctx context.Context, locator string) (*Catalog, error)
	Fetch(ctx context.Context, locator, descriptorID, destPath string) error
}

// UpstreamError reports a failure talking to the video host: bad locator,
// network failure, empty or unknown stream set. Transient and safe to retry.
type UpstreamError struct {
	Op      string // "resolve" or "fetch"
	Locator string
	Err     error
}

func (e *UpstreamError) Error() string {
	return "upstream " + e.Op + " " + e.Locator + ": " + e.Err.Error()
}

func (e *UpstreamError) Unwrap() error { return e.Err }
