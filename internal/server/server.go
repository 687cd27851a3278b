// Package server exposes the artifact subsystem over HTTP: catalog queries,
// generation requests, artifact retrieval, metadata search, health and
// metrics. Handlers translate the pipeline's typed errors into status codes;
// all real work happens in the packages behind them.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/OpyrusDevOp/YDownloader/internal/catalog"
	"github.com/OpyrusDevOp/YDownloader/internal/media"
	"github.com/OpyrusDevOp/YDownloader/internal/musicbrainz"
	"github.com/OpyrusDevOp/YDownloader/internal/pipeline"
	"github.com/OpyrusDevOp/YDownloader/internal/store"
)

// Generator runs one generation request to completion.
type Generator interface {
	Generate(ctx context.Context, req pipeline.Request) (*pipeline.Result, error)
}

// MetadataSearcher looks up song metadata for the search endpoint.
type MetadataSearcher interface {
	Search(ctx context.Context, query string) ([]musicbrainz.Recording, error)
}

// Server wires the HTTP surface. BaseURL prefixes download links in
// responses; empty means relative links.
type Server struct {
	BaseURL   string
	Resolver  catalog.Resolver
	Generator Generator
	Store     *store.Store
	Metadata  MetadataSearcher
	Metrics   *Metrics

	registry *prometheus.Registry
}

// New builds a server with its own metrics registry.
func New(baseURL string, resolver catalog.Resolver, gen Generator, st *store.Store, md MetadataSearcher) *Server {
	reg := prometheus.NewRegistry()
	return &Server{
		BaseURL:   strings.TrimSuffix(baseURL, "/"),
		Resolver:  resolver,
		Generator: gen,
		Store:     st,
		Metadata:  md,
		Metrics:   NewMetrics(reg),
		registry:  reg,
	}
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", s.instrument("health", s.handleHealth))
	mux.HandleFunc("GET /api/video_info", s.instrument("video_info", s.handleVideoInfo))
	mux.HandleFunc("POST /api/generate_download", s.instrument("generate_download", s.handleGenerate))
	mux.HandleFunc("GET /api/downloads/{key}", s.instrument("downloads", s.handleDownload))
	mux.HandleFunc("GET /api/search_metadata", s.instrument("search_metadata", s.handleSearchMetadata))
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// streamInfo is the wire shape of one descriptor in /api/video_info.
type streamInfo struct {
	Itag      string `json:"itag"`
	Container string `json:"container"`
	Quality   string `json:"quality"`
	Type      string `json:"type"`
}

func (s *Server) handleVideoInfo(w http.ResponseWriter, r *http.Request) {
	locator := r.URL.Query().Get("videoUrl")
	if locator == "" {
		writeError(w, &pipeline.ValidationError{Reason: "missing 'videoUrl' parameter"})
		return
	}
	cat, err := s.Resolver.Resolve(r.Context(), locator)
	if err != nil {
		writeError(w, err)
		return
	}
	groups := map[string][]streamInfo{"progressive": {}, "video": {}, "audio": {}}
	for _, d := range cat.Streams {
		info := streamInfo{Itag: d.ID, Container: d.Container, Quality: d.Quality}
		switch d.Kind {
		case catalog.KindMuxed:
			info.Type = "progressive"
			groups["progressive"] = append(groups["progressive"], info)
		case catalog.KindVideoOnly:
			info.Type = "video"
			groups["video"] = append(groups["video"], info)
		case catalog.KindAudioOnly:
			info.Type = "audio"
			groups["audio"] = append(groups["audio"], info)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"title":     cat.Title,
		"author":    cat.Author,
		"length":    cat.DurationSeconds,
		"thumbnail": cat.ThumbnailURL,
		"streams":   groups,
	})
}

type generateRequest struct {
	VideoURL string          `json:"videoUrl"`
	Itag     json.Number     `json:"itag"`
	Format   string          `json:"format"`
	Metadata *media.Metadata `json:"metadata"`
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var body generateRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, &pipeline.ValidationError{Reason: "malformed JSON body"})
		return
	}
	req := pipeline.Request{
		Locator:  body.VideoURL,
		StreamID: body.Itag.String(),
		Output:   pipeline.OutputKind(body.Format),
		Metadata: body.Metadata,
	}
	s.Metrics.InFlight.Inc()
	// The pipeline is intentionally not cancelled when the client goes
	// away: once started, a generation runs to completion or failure.
	res, err := s.Generator.Generate(context.WithoutCancel(r.Context()), req)
	s.Metrics.InFlight.Dec()

	output := string(req.Output)
	if output == "" {
		output = string(pipeline.OutputVideo)
	}
	if err != nil {
		s.Metrics.Generations.WithLabelValues(output, outcomeOf(err)).Inc()
		writeError(w, err)
		return
	}
	s.Metrics.Generations.WithLabelValues(output, "ok").Inc()
	writeJSON(w, http.StatusOK, map[string]any{
		"download_url":    s.BaseURL + "/api/downloads/" + res.Artifact.Key,
		"metadata_status": res.Tagging,
	})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	f, err := s.Store.OpenArtifact(key)
	if err != nil {
		writeError(w, err)
		return
	}
	// the handle pins the artifact against sweeps for the whole transfer
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", mimetypeOf(key))
	w.Header().Set("Content-Disposition", `attachment; filename="`+key+`"`)
	http.ServeContent(w, r, key, fi.ModTime(), f)
}

func (s *Server) handleSearchMetadata(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("query")
	if query == "" {
		writeError(w, &pipeline.ValidationError{Reason: "missing query parameter"})
		return
	}
	recs, err := s.Metadata.Search(r.Context(), query)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": recs})
}

func mimetypeOf(key string) string {
	if strings.HasSuffix(key, ".mp3") {
		return "audio/mpeg"
	}
	return "video/mp4"
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("server: write response: %v", err)
	}
}

// writeError maps the pipeline's error taxonomy onto status codes:
// caller mistakes 400, upstream trouble 502, tool failures 500, evicted or
// unknown artifacts 404.
func writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	var ve *pipeline.ValidationError
	var ue *catalog.UpstreamError
	var pe *media.PipelineError
	switch {
	case errors.As(err, &ve):
		code = http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		code = http.StatusNotFound
	case errors.As(err, &ue):
		code = http.StatusBadGateway
	case errors.As(err, &pe):
		code = http.StatusInternalServerError
	}
	if code >= 500 {
		log.Printf("server: request failed code=%d err=%v", code, err)
	}
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func outcomeOf(err error) string {
	var ve *pipeline.ValidationError
	var ue *catalog.UpstreamError
	var pe *media.PipelineError
	switch {
	case errors.As(err, &ve):
		return "validation_error"
	case errors.As(err, &ue):
		return "upstream_error"
	case errors.As(err, &pe):
		return "pipeline_error"
	default:
		return "error"
	}
}

// instrument counts requests per route and status code.
func (s *Server) instrument(route string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		h(rec, r)
		s.Metrics.Requests.WithLabelValues(route, strconv.Itoa(rec.code)).Inc()
	}
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}
