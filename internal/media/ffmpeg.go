// Package media adapts the external tools that transform files on disk:
// ffmpeg for muxing and audio transcoding, and an ID3v2 writer for tagging.
package media

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"time"
)

// PipelineError reports a failed transform stage, carrying the tool's
// diagnostic text so callers can surface it.
type PipelineError struct {
	Stage  string
	Detail string
	Err    error
}

func (e *PipelineError) Error() string {
	msg := "pipeline " + e.Stage + ": " + e.Err.Error()
	if e.Detail != "" {
		msg += " (" + e.Detail + ")"
	}
	return msg
}

func (e *PipelineError) Unwrap() error { return e.Err }

// FFmpeg invokes the external ffmpeg binary. Every invocation writes to a
// distinct partial name and renames into place on success, so a failed run
// never leaves a partial output behind, and is bounded by Timeout so a hung
// tool cannot hold scratch files open indefinitely.
type FFmpeg struct {
	Path    string        // "" = look up "ffmpeg" in PATH
	Timeout time.Duration // per invocation wall clock; 0 = unbounded
}

func (f *FFmpeg) binary() string {
	if f.Path != "" {
		return f.Path
	}
	return "ffmpeg"
}

// Mux combines one video-only and one audio-only source into outPath. The
// video track is stream-copied (no re-encode); audio is encoded to AAC for
// container compatibility.
func (f *FFmpeg) Mux(ctx context.Context, videoPath, audioPath, outPath string) error {
	partial := outPath + ".partial"
	if err := f.run(ctx, "mux", muxArgs(videoPath, audioPath, partial)); err != nil {
		os.Remove(partial)
		return err
	}
	if err := os.Rename(partial, outPath); err != nil {
		os.Remove(partial)
		return &PipelineError{Stage: "mux", Err: err}
	}
	return nil
}

// TranscodeToAudio extracts and encodes the audio track of srcPath to MP3 at
// bitrateKbps.
func (f *FFmpeg) TranscodeToAudio(ctx context.Context, srcPath, outPath string, bitrateKbps int) error {
	partial := outPath + ".partial"
	if err := f.run(ctx, "transcode", transcodeArgs(srcPath, partial, bitrateKbps)); err != nil {
		os.Remove(partial)
		return err
	}
	if err := os.Rename(partial, outPath); err != nil {
		os.Remove(partial)
		return &PipelineError{Stage: "transcode", Err: err}
	}
	return nil
}

func muxArgs(videoPath, audioPath, outPath string) []string {
	return []string{
		"-y",
		"-i", videoPath,
		"-i", audioPath,
		"-c:v", "copy",
		"-c:a", "aac",
		"-map", "0:v:0",
		"-map", "1:a:0",
		"-movflags", "+faststart",
		"-f", "mp4",
		outPath,
	}
}

func transcodeArgs(srcPath, outPath string, bitrateKbps int) []string {
	return []string{
		"-y",
		"-i", srcPath,
		"-vn",
		"-c:a", "libmp3lame",
		"-b:a", strconv.Itoa(bitrateKbps) + "k",
		"-f", "mp3",
		outPath,
	}
}

func (f *FFmpeg) run(ctx context.Context, stage string, args []string) error {
	if f.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.Timeout)
		defer cancel()
	}
	cmd := exec.CommandContext(ctx, f.binary(), args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			err = fmt.Errorf("%s timed out: %w", f.binary(), ctx.Err())
		}
		return &PipelineError{Stage: stage, Detail: stderrTail(stderr.Bytes()), Err: err}
	}
	return nil
}

// stderrTail keeps the end of the tool output, where ffmpeg puts the actual
// error, trimmed to a size fit for logs and API responses.
func stderrTail(out []byte) string {
	const max = 512
	s := string(bytes.TrimSpace(out))
	if len(s) > max {
		s = "..." + s[len(s)-max:]
	}
	return s
}
