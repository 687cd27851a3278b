// Package pipeline drives a generation request through resolve → acquire →
// transform → register. Each request runs strictly sequentially on its own
// worker; the only shared state is the artifact store.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/OpyrusDevOp/YDownloader/internal/catalog"
	"github.com/OpyrusDevOp/YDownloader/internal/media"
	"github.com/OpyrusDevOp/YDownloader/internal/store"
)

// OutputKind selects the deliverable type of a generation request.
type OutputKind string

const (
	OutputVideo OutputKind = "video"
	OutputAudio OutputKind = "audio"
)

// Request is a validated-on-entry generation request. Metadata is optional
// and only meaningful for audio output.
type Request struct {
	Locator  string
	StreamID string
	Output   OutputKind
	Metadata *media.Metadata
}

// Result carries the registered artifact and the soft tagging outcome.
type Result struct {
	Artifact store.Artifact
	Tagging  media.TagStatus
}

// ValidationError reports malformed caller input. Surfaced verbatim; the
// caller can correct and retry. No filesystem writes happen before
// validation passes.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return "invalid request: " + e.Reason }

// Muxer is the transform capability the orchestrator needs from media.
type Muxer interface {
	Mux(ctx context.Context, videoPath, audioPath, outPath string) error
	TranscodeToAudio(ctx context.Context, srcPath, outPath string, bitrateKbps int) error
}

// TagWriter writes metadata onto a finished audio artifact.
type TagWriter interface {
	Tag(ctx context.Context, path string, md media.Metadata) media.TagStatus
}

// Orchestrator owns the multi-step acquisition pipeline.
type Orchestrator struct {
	Resolver     catalog.Resolver
	Store        *store.Store
	Muxer        Muxer
	Tagger       TagWriter
	AudioBitrate int

	sem chan struct{} // nil = unlimited concurrent generations
}

// New wires an orchestrator. maxConcurrent caps simultaneous generations
// (0 = unlimited); excess requests wait.
func New(resolver catalog.Resolver, st *store.Store, muxer Muxer, tagger TagWriter, audioBitrate, maxConcurrent int) *Orchestrator {
	o := &Orchestrator{
		Resolver:     resolver,
		Store:        st,
		Muxer:        muxer,
		Tagger:       tagger,
		AudioBitrate: audioBitrate,
	}
	if maxConcurrent > 0 {
		o.sem = make(chan struct{}, maxConcurrent)
	}
	return o
}

// Generate runs one request to completion or failure. Once started it is not
// cancelled by client disconnects; ctx bounds only the individual upstream
// and tool operations. On failure no artifact is registered and scratch
// files are removed (best effort).
func (o *Orchestrator) Generate(ctx context.Context, req Request) (*Result, error) {
	if err := validate(&req); err != nil {
		return nil, err
	}
	if o.sem != nil {
		select {
		case o.sem <- struct{}{}:
			defer func() { <-o.sem }()
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	cat, err := o.Resolver.Resolve(ctx, req.Locator)
	if err != nil {
		return nil, err
	}
	desc, ok := cat.FindByID(req.StreamID)
	if !ok {
		return nil, &ValidationError{Reason: fmt.Sprintf("stream %q not found for this video", req.StreamID)}
	}
	log.Printf("pipeline: generate locator=%q itag=%s kind=%s output=%s title=%q",
		req.Locator, desc.ID, desc.Kind, req.Output, cat.Title)

	switch req.Output {
	case OutputAudio:
		return o.generateAudio(ctx, req, cat, desc)
	default:
		return o.generateVideo(ctx, req, cat, desc)
	}
}

func validate(req *Request) error {
	if req.Locator == "" {
		return &ValidationError{Reason: "missing video url"}
	}
	if req.StreamID == "" {
		return &ValidationError{Reason: "missing stream id"}
	}
	switch req.Output {
	case OutputVideo, OutputAudio:
	case "":
		req.Output = OutputVideo
	default:
		return &ValidationError{Reason: fmt.Sprintf("unknown output format %q", req.Output)}
	}
	return nil
}

func (o *Orchestrator) generateVideo(ctx context.Context, req Request, cat *catalog.Catalog, desc catalog.StreamDescriptor) (*Result, error) {
	if desc.Kind == catalog.KindAudioOnly {
		return nil, &ValidationError{Reason: fmt.Sprintf("stream %q has no video track", desc.ID)}
	}
	key := store.SafeName(cat.Title) + ".mp4"
	finalPath, err := o.Store.Allocate(key)
	if err != nil {
		return nil, err
	}

	if desc.Kind == catalog.KindMuxed {
		// progressive stream already carries both tracks: single fetch, no
		// mux. Fetched to scratch and renamed into place so a same-key
		// regeneration never truncates a file a retrieval holds open.
		scratch := o.Store.Scratch(cat.Title, ".mp4")
		defer o.Store.DiscardScratch(scratch)
		if err := o.Resolver.Fetch(ctx, req.Locator, desc.ID, scratch); err != nil {
			return nil, err
		}
		if err := os.Rename(scratch, finalPath); err != nil {
			return nil, &media.PipelineError{Stage: "finalize", Err: err}
		}
	} else {
		audioDesc, ok := cat.BestAudio()
		if !ok {
			return nil, &media.PipelineError{Stage: "select-audio", Err: errors.New("no audio-only stream available to pair with video")}
		}
		videoScratch := o.Store.Scratch(cat.Title+"-video", ".mp4")
		defer o.Store.DiscardScratch(videoScratch)
		audioScratch := o.Store.Scratch(cat.Title+"-audio", ".mp4")
		defer o.Store.DiscardScratch(audioScratch)

		if err := o.Resolver.Fetch(ctx, req.Locator, desc.ID, videoScratch); err != nil {
			return nil, err
		}
		if err := o.Resolver.Fetch(ctx, req.Locator, audioDesc.ID, audioScratch); err != nil {
			return nil, err
		}
		if err := o.Muxer.Mux(ctx, videoScratch, audioScratch, finalPath); err != nil {
			return nil, err
		}
		log.Printf("pipeline: muxed video=%s audio=%s out=%s", desc.ID, audioDesc.ID, key)
	}

	art := o.Store.Register(key, finalPath)
	log.Printf("pipeline: registered key=%s", art.Key)
	return &Result{Artifact: art, Tagging: media.TagStatus{Message: "no metadata applied"}}, nil
}

func (o *Orchestrator) generateAudio(ctx context.Context, req Request, cat *catalog.Catalog, desc catalog.StreamDescriptor) (*Result, error) {
	if desc.Kind == catalog.KindVideoOnly {
		return nil, &ValidationError{Reason: fmt.Sprintf("stream %q has no audio track", desc.ID)}
	}
	stem := cat.Title
	if req.Metadata != nil && req.Metadata.Title != "" && req.Metadata.Artist != "" {
		stem = req.Metadata.Title + " - " + req.Metadata.Artist
	}
	key := store.SafeName(stem) + ".mp3"
	finalPath, err := o.Store.Allocate(key)
	if err != nil {
		return nil, err
	}

	scratch := o.Store.Scratch(cat.Title+"-audio", ".mp4")
	defer o.Store.DiscardScratch(scratch)
	if err := o.Resolver.Fetch(ctx, req.Locator, desc.ID, scratch); err != nil {
		return nil, err
	}
	if err := o.Muxer.TranscodeToAudio(ctx, scratch, finalPath, o.AudioBitrate); err != nil {
		return nil, err
	}

	tagging := media.TagStatus{Message: "no metadata applied"}
	if req.Metadata != nil && !req.Metadata.Empty() {
		tagging = o.Tagger.Tag(ctx, finalPath, *req.Metadata)
		if !tagging.Applied {
			log.Printf("pipeline: tagging degraded key=%s msg=%q", key, tagging.Message)
		}
	}

	art := o.Store.Register(key, finalPath)
	log.Printf("pipeline: registered key=%s", art.Key)
	return &Result{Artifact: art, Tagging: tagging}, nil
}
