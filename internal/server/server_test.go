package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/OpyrusDevOp/YDownloader/internal/catalog"
	"github.com/OpyrusDevOp/YDownloader/internal/media"
	"github.com/OpyrusDevOp/YDownloader/internal/musicbrainz"
	"github.com/OpyrusDevOp/YDownloader/internal/pipeline"
	"github.com/OpyrusDevOp/YDownloader/internal/store"
)

type stubResolver struct {
	cat *catalog.Catalog
	err error
}

func (s *stubResolver) Resolve(ctx context.Context, locator string) (*catalog.Catalog, error) {
	return s.cat, s.err
}

func (s *stubResolver) Fetch(ctx context.Context, locator, id, dest string) error { return nil }

type stubGenerator struct {
	res *pipeline.Result
	err error
	got pipeline.Request
}

func (g *stubGenerator) Generate(ctx context.Context, req pipeline.Request) (*pipeline.Result, error) {
	g.got = req
	return g.res, g.err
}

type stubSearcher struct {
	recs []musicbrainz.Recording
	err  error
}

func (s *stubSearcher) Search(ctx context.Context, q string) ([]musicbrainz.Recording, error) {
	return s.recs, s.err
}

func newTestServer(t *testing.T, resolver catalog.Resolver, gen Generator, searcher MetadataSearcher) (*Server, *store.Store) {
	t.Helper()
	st, err := store.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if resolver == nil {
		resolver = &stubResolver{}
	}
	if gen == nil {
		gen = &stubGenerator{}
	}
	if searcher == nil {
		searcher = &stubSearcher{}
	}
	return New("", resolver, gen, st, searcher), st
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t, nil, nil, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "healthy") {
		t.Errorf("health: code=%d body=%s", rec.Code, rec.Body.String())
	}
}

func TestVideoInfo_groupsStreams(t *testing.T) {
	resolver := &stubResolver{cat: &catalog.Catalog{
		Title: "T", Author: "A", DurationSeconds: 212, ThumbnailURL: "http://img",
		Streams: []catalog.StreamDescriptor{
			{ID: "22", Kind: catalog.KindMuxed, Container: "mp4", Quality: "720p"},
			{ID: "137", Kind: catalog.KindVideoOnly, Container: "mp4", Quality: "1080p"},
			{ID: "140", Kind: catalog.KindAudioOnly, Container: "mp4", Quality: "128kbps"},
		},
	}}
	s, _ := newTestServer(t, resolver, nil, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/video_info?videoUrl=http://v", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d body=%s", rec.Code, rec.Body.String())
	}
	var body struct {
		Title   string                  `json:"title"`
		Length  int                     `json:"length"`
		Streams map[string][]streamInfo `json:"streams"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Title != "T" || body.Length != 212 {
		t.Errorf("body = %+v", body)
	}
	if len(body.Streams["progressive"]) != 1 || len(body.Streams["video"]) != 1 || len(body.Streams["audio"]) != 1 {
		t.Errorf("stream groups = %+v", body.Streams)
	}
}

func TestVideoInfo_missingURL(t *testing.T) {
	s, _ := newTestServer(t, nil, nil, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/video_info", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("code = %d, want 400", rec.Code)
	}
}

func TestVideoInfo_upstreamErrorIs502(t *testing.T) {
	resolver := &stubResolver{err: &catalog.UpstreamError{Op: "resolve", Locator: "u", Err: errors.New("down")}}
	s, _ := newTestServer(t, resolver, nil, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/video_info?videoUrl=u", nil))
	if rec.Code != http.StatusBadGateway {
		t.Errorf("code = %d, want 502", rec.Code)
	}
}

func TestGenerate_happyPath(t *testing.T) {
	gen := &stubGenerator{res: &pipeline.Result{
		Artifact: store.Artifact{Key: "Song.mp3"},
		Tagging:  media.TagStatus{Applied: true, Message: "metadata written"},
	}}
	s, _ := newTestServer(t, nil, gen, nil)
	body := `{"videoUrl":"http://v","itag":140,"format":"audio","metadata":{"title":"Song","artist":"Artist"}}`
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/generate_download", strings.NewReader(body)))
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d body=%s", rec.Code, rec.Body.String())
	}
	if gen.got.StreamID != "140" || gen.got.Output != pipeline.OutputAudio || gen.got.Metadata == nil {
		t.Errorf("request mapping: %+v", gen.got)
	}
	var resp struct {
		DownloadURL    string          `json:"download_url"`
		MetadataStatus media.TagStatus `json:"metadata_status"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.DownloadURL != "/api/downloads/Song.mp3" || !resp.MetadataStatus.Applied {
		t.Errorf("resp = %+v", resp)
	}
}

func TestGenerate_errorMapping(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{&pipeline.ValidationError{Reason: "missing stream id"}, http.StatusBadRequest},
		{&catalog.UpstreamError{Op: "resolve", Locator: "u", Err: errors.New("x")}, http.StatusBadGateway},
		{&media.PipelineError{Stage: "mux", Err: errors.New("exit 1")}, http.StatusInternalServerError},
	}
	for _, c := range cases {
		s, _ := newTestServer(t, nil, &stubGenerator{err: c.err}, nil)
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/generate_download", strings.NewReader(`{"videoUrl":"u","itag":22}`)))
		if rec.Code != c.code {
			t.Errorf("%T: code = %d, want %d", c.err, rec.Code, c.code)
		}
	}
}

func TestDownload_servesArtifact(t *testing.T) {
	s, st := newTestServer(t, nil, nil, nil)
	path, err := st.Allocate("Track.mp3")
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("mp3-bytes"), 0644); err != nil {
		t.Fatal(err)
	}
	st.Register("Track.mp3", path)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/downloads/Track.mp3", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "audio/mpeg" {
		t.Errorf("Content-Type = %q", ct)
	}
	if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, "Track.mp3") {
		t.Errorf("Content-Disposition = %q", cd)
	}
	if rec.Body.String() != "mp3-bytes" {
		t.Errorf("body = %q", rec.Body.String())
	}
}

func TestDownload_unknownKeyIs404(t *testing.T) {
	s, _ := newTestServer(t, nil, nil, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/downloads/missing.mp4", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("code = %d, want 404", rec.Code)
	}
}

func TestSearchMetadata(t *testing.T) {
	searcher := &stubSearcher{recs: []musicbrainz.Recording{{ID: "r1", Title: "Song", Artist: "Artist"}}}
	s, _ := newTestServer(t, nil, nil, searcher)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/search_metadata?query=song", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"Artist"`) {
		t.Errorf("code=%d body=%s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/search_metadata", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing query: code = %d, want 400", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := newTestServer(t, nil, nil, nil)
	h := s.Handler()
	// drive one request so counters exist
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/health", nil))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "ydownloader_http_requests_total") {
		t.Errorf("metrics: code=%d", rec.Code)
	}
}
