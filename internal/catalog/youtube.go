package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/kkdai/youtube/v2"
)

// resolveMemoTTL bounds how long a resolved video (and its signed stream
// URLs) is reused between Resolve and the Fetch calls of the same request.
// Upstream URLs expire, so this stays short.
const resolveMemoTTL = time.Minute

type memoEntry struct {
	video *youtube.Video
	at    time.Time
}

// YouTube resolves and fetches streams via the YouTube web API.
type YouTube struct {
	client       youtube.Client
	fetchTimeout time.Duration

	mu   sync.Mutex
	memo map[string]memoEntry
}

// NewYouTube returns an adapter using httpClient for API calls and
// fetchTimeout as the per-stream download bound (0 = no bound).
func NewYouTube(httpClient *http.Client, fetchTimeout time.Duration) *YouTube {
	return &YouTube{
		client:       youtube.Client{HTTPClient: httpClient},
		fetchTimeout: fetchTimeout,
		memo:         make(map[string]memoEntry),
	}
}

// Resolve fetches video details and classifies every format into exactly one
// descriptor kind. Never returns a partially populated catalog.
func (y *YouTube) Resolve(ctx context.Context, locator string) (*Catalog, error) {
	v, err := y.video(ctx, locator)
	if err != nil {
		return nil, err
	}
	streams := make([]StreamDescriptor, 0, len(v.Formats))
	for i := range v.Formats {
		f := &v.Formats[i]
		streams = append(streams, StreamDescriptor{
			ID:         strconv.Itoa(f.ItagNo),
			Kind:       classify(f.MimeType, f.AudioChannels),
			Container:  containerOf(f.MimeType),
			Quality:    qualityLabel(f),
			BitrateBPS: f.Bitrate,
		})
	}
	if len(streams) == 0 {
		return nil, &UpstreamError{Op: "resolve", Locator: locator, Err: errors.New("no streams available")}
	}
	thumb := ""
	if len(v.Thumbnails) > 0 {
		// last entry is the largest variant
		thumb = v.Thumbnails[len(v.Thumbnails)-1].URL
	}
	return &Catalog{
		Title:           v.Title,
		Author:          v.Author,
		DurationSeconds: int(v.Duration / time.Second),
		ThumbnailURL:    thumb,
		Streams:         streams,
	}, nil
}

// Fetch downloads the descriptor's bytes to destPath. The partial dest file
// is removed on failure; the caller owns the file on success.
func (y *YouTube) Fetch(ctx context.Context, locator, descriptorID, destPath string) error {
	v, err := y.video(ctx, locator)
	if err != nil {
		return err
	}
	itag, err := strconv.Atoi(descriptorID)
	if err != nil {
		return &UpstreamError{Op: "fetch", Locator: locator, Err: fmt.Errorf("bad descriptor id %q", descriptorID)}
	}
	matches := v.Formats.Itag(itag)
	if len(matches) == 0 {
		return &UpstreamError{Op: "fetch", Locator: locator, Err: fmt.Errorf("descriptor %q not in catalog", descriptorID)}
	}
	format := &matches[0]
	if y.fetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, y.fetchTimeout)
		defer cancel()
	}
	rc, _, err := y.client.GetStreamContext(ctx, v, format)
	if err != nil {
		return &UpstreamError{Op: "fetch", Locator: locator, Err: err}
	}
	defer rc.Close()
	f, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("catalog: create %s: %w", destPath, err)
	}
	_, copyErr := io.Copy(f, rc)
	closeErr := f.Close()
	if copyErr != nil || closeErr != nil {
		os.Remove(destPath)
		if copyErr == nil {
			copyErr = closeErr
		}
		return &UpstreamError{Op: "fetch", Locator: locator, Err: copyErr}
	}
	return nil
}

// video resolves locator, reusing a recent resolution so the Resolve +
// one-or-two Fetch calls of a single generation hit the upstream once.
func (y *YouTube) video(ctx context.Context, locator string) (*youtube.Video, error) {
	y.mu.Lock()
	if e, ok := y.memo[locator]; ok && time.Since(e.at) < resolveMemoTTL {
		y.mu.Unlock()
		return e.video, nil
	}
	y.mu.Unlock()

	v, err := y.client.GetVideoContext(ctx, locator)
	if err != nil {
		return nil, &UpstreamError{Op: "resolve", Locator: locator, Err: err}
	}
	y.mu.Lock()
	y.memo[locator] = memoEntry{video: v, at: time.Now()}
	// drop anything stale so the memo cannot grow without bound
	for k, e := range y.memo {
		if time.Since(e.at) >= resolveMemoTTL {
			delete(y.memo, k)
		}
	}
	y.mu.Unlock()
	return v, nil
}

// classify maps an upstream format onto exactly one descriptor kind.
func classify(mimeType string, audioChannels int) Kind {
	if strings.HasPrefix(strings.ToLower(mimeType), "audio/") {
		return KindAudioOnly
	}
	if audioChannels > 0 {
		return KindMuxed
	}
	return KindVideoOnly
}

// containerOf extracts the container hint from a mime type, e.g.
// `video/mp4; codecs="avc1"` → "mp4".
func containerOf(mimeType string) string {
	mt := mimeType
	if i := strings.Index(mt, ";"); i >= 0 {
		mt = mt[:i]
	}
	if i := strings.Index(mt, "/"); i >= 0 {
		mt = mt[i+1:]
	}
	return strings.TrimSpace(mt)
}

func qualityLabel(f *youtube.Format) string {
	if f.QualityLabel != "" {
		return f.QualityLabel
	}
	if f.Bitrate > 0 {
		return strconv.Itoa(f.Bitrate/1000) + "kbps"
	}
	return f.Quality
}
