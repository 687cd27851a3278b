// Command ydownloader serves the download API: resolve a video URL into
// stream descriptors, generate video or audio artifacts with ffmpeg, and
// hand finished files out of a TTL-reaped download directory. Configured
// from the environment (YDL_*) with an optional .env file; zero interaction
// after that, suitable for systemd.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/OpyrusDevOp/YDownloader/internal/catalog"
	"github.com/OpyrusDevOp/YDownloader/internal/config"
	"github.com/OpyrusDevOp/YDownloader/internal/httpclient"
	"github.com/OpyrusDevOp/YDownloader/internal/media"
	"github.com/OpyrusDevOp/YDownloader/internal/musicbrainz"
	"github.com/OpyrusDevOp/YDownloader/internal/pipeline"
	"github.com/OpyrusDevOp/YDownloader/internal/server"
	"github.com/OpyrusDevOp/YDownloader/internal/store"
)

func main() {
	_ = config.LoadEnvFile(".env")
	log.SetFlags(log.LstdFlags)
	log.SetPrefix("[ydownloader] ")

	addr := flag.String("addr", "", "Listen address (default: YDL_LISTEN_ADDR)")
	baseURL := flag.String("base-url", "", "Base URL for download links (default: YDL_BASE_URL)")
	downloadDir := flag.String("downloads", "", "Download directory (default: YDL_DOWNLOAD_DIR)")
	flag.Parse()

	cfg := config.Load()
	if *addr != "" {
		cfg.ListenAddr = *addr
	}
	if *baseURL != "" {
		cfg.BaseURL = *baseURL
	}
	if *downloadDir != "" {
		cfg.DownloadDir = *downloadDir
	}

	st, err := store.New(cfg.DownloadDir)
	if err != nil {
		log.Printf("Open download dir %s: %v", cfg.DownloadDir, err)
		os.Exit(1)
	}
	log.Printf("Download dir %s: %d artifacts on disk (TTL %v, sweep every %v)",
		cfg.DownloadDir, st.Len(), cfg.FileTTL, cfg.SweepInterval)

	resolver := catalog.NewYouTube(httpclient.Default(), cfg.FetchTimeout)
	ffmpeg := &media.FFmpeg{Path: cfg.FFmpegPath, Timeout: cfg.ToolTimeout}
	tagger := &media.Tagger{Client: httpclient.Default()}
	orch := pipeline.New(resolver, st, ffmpeg, tagger, cfg.AudioBitrate, cfg.MaxConcurrent)

	var cache *musicbrainz.Cache
	if cfg.MetadataCacheFile != "" {
		cache, err = musicbrainz.OpenCache(cfg.MetadataCacheFile, cfg.MetadataCacheTTL)
		if err != nil {
			log.Printf("Metadata cache %s unavailable: %v (continuing without cache)", cfg.MetadataCacheFile, err)
		} else {
			defer cache.Close()
		}
	}
	mb := musicbrainz.NewClient(cfg.MetadataUserAgent, httpclient.Default(), cache)

	srv := server.New(cfg.BaseURL, resolver, orch, st, mb)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reaper := &store.Reaper{
		Store:    st,
		Interval: cfg.SweepInterval,
		MaxAge:   cfg.FileTTL,
		OnSweep: func(removed int) {
			srv.Metrics.SweepRemoved.Add(float64(removed))
		},
	}
	go reaper.Run(ctx)

	httpSrv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutCtx); err != nil {
			log.Printf("Shutdown: %v", err)
		}
	}()

	log.Printf("Listening on %s (base URL %q)", cfg.ListenAddr, cfg.BaseURL)
	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Printf("Serve failed: %v", err)
		os.Exit(1)
	}
	log.Print("Stopped")
}
