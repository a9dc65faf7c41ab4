// Package compositor assembles the final vertical video with ffmpeg. It
// crops the landscape background to 9:16, locks output length to the
// voiceover, burns captions and brand overlays, and tracks every temp
// artifact for deterministic cleanup.
package compositor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"brand-video-pipeline/brand"
	"brand-video-pipeline/speech"
	"brand-video-pipeline/timing"
)

// Output geometry. 1080x1920 at 24fps is the standard shorts format; the
// safe zone margin keeps text clear of platform UI chrome.
const (
	OutputWidth    = 1080
	OutputHeight   = 1920
	FrameRate      = 24
	SafeZoneMargin = 120

	videoCRF = "23"
)

// cmdRunner executes an external command and returns combined output.
// Swapped out in tests.
type cmdRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// Compositor renders videos into tempDir intermediates and tracks them as
// handles until Cleanup.
type Compositor struct {
	tempDir string
	run     cmdRunner
	handles []string
	log     zerolog.Logger
}

// New builds a Compositor writing intermediates under tempDir.
func New(tempDir string) (*Compositor, error) {
	if err := os.MkdirAll(tempDir, 0755); err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	return &Compositor{
		tempDir: tempDir,
		run:     runCommand,
		log:     log.With().Str("component", "compositor").Logger(),
	}, nil
}

// track registers a temp artifact for removal at Cleanup.
func (c *Compositor) track(path string) {
	c.handles = append(c.handles, path)
}

// TrackedHandles returns how many temp artifacts are currently registered.
func (c *Compositor) TrackedHandles() int {
	return len(c.handles)
}

// Cleanup removes every tracked temp artifact. Removal failures are logged
// and swallowed; after Cleanup no handles remain, so calling it twice is
// safe.
func (c *Compositor) Cleanup() {
	for _, path := range c.handles {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			c.log.Warn().Err(err).Str("path", path).Msg("failed to remove temp artifact")
		}
	}
	if len(c.handles) > 0 {
		c.log.Debug().Int("count", len(c.handles)).Msg("cleaned temp artifacts")
	}
	c.handles = nil
	// Drop the temp dir when it is now empty; a shared dir with other
	// files simply stays.
	os.Remove(c.tempDir)
}

// CropRect is the centered region of a landscape frame matching the 9:16
// output aspect.
type CropRect struct {
	Width  int
	Height int
	X      int
	Y      int
}

// VerticalCrop computes the centered 9:16 crop of a source frame. Dimensions
// are forced even for codec compatibility.
func VerticalCrop(srcWidth, srcHeight int) CropRect {
	targetRatio := float64(OutputWidth) / float64(OutputHeight)

	cropWidth := srcWidth
	cropHeight := srcHeight
	if float64(srcWidth)/float64(srcHeight) > targetRatio {
		cropWidth = int(float64(srcHeight) * targetRatio)
	} else {
		cropHeight = int(float64(srcWidth) / targetRatio)
	}
	cropWidth -= cropWidth % 2
	cropHeight -= cropHeight % 2

	return CropRect{
		Width:  cropWidth,
		Height: cropHeight,
		X:      (srcWidth - cropWidth) / 2,
		Y:      (srcHeight - cropHeight) / 2,
	}
}

// probeDimensions reads a video's frame size with ffprobe.
func (c *Compositor) probeDimensions(ctx context.Context, path string) (int, int, error) {
	out, err := c.run(ctx, "ffprobe",
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height",
		"-of", "csv=s=x:p=0",
		path,
	)
	if err != nil {
		return 0, 0, fmt.Errorf("ffprobe dimensions %s: %w", path, err)
	}
	parts := strings.Split(strings.TrimSpace(string(out)), "x")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("unexpected ffprobe output %q for %s", out, path)
	}
	w, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("parse width %q: %w", parts[0], err)
	}
	h, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("parse height %q: %w", parts[1], err)
	}
	return w, h, nil
}

// ConvertToVertical crops and scales a landscape clip to 1080x1920. The
// intermediate is tracked for cleanup.
func (c *Compositor) ConvertToVertical(ctx context.Context, srcPath string) (string, error) {
	w, h, err := c.probeDimensions(ctx, srcPath)
	if err != nil {
		return "", err
	}
	crop := VerticalCrop(w, h)

	outPath := filepath.Join(c.tempDir, "vertical_"+filepath.Base(srcPath))
	filter := fmt.Sprintf("crop=%d:%d:%d:%d,scale=%d:%d",
		crop.Width, crop.Height, crop.X, crop.Y, OutputWidth, OutputHeight)

	out, err := c.run(ctx, "ffmpeg", "-y",
		"-i", srcPath,
		"-vf", filter,
		"-r", strconv.Itoa(FrameRate),
		"-c:v", "libx264", "-crf", videoCRF,
		"-an",
		outPath,
	)
	if err != nil {
		return "", fmt.Errorf("ffmpeg vertical convert: %w: %s", err, tail(out))
	}

	c.track(outPath)
	c.log.Info().Str("src", srcPath).
		Int("src_width", w).Int("src_height", h).
		Str("crop", fmt.Sprintf("%dx%d+%d+%d", crop.Width, crop.Height, crop.X, crop.Y)).
		Msg("converted footage to vertical")
	return outPath, nil
}

// ComposeVideo builds the final video: the vertical background looped or
// trimmed to exactly the voiceover length, captions burned in, CTA overlay
// at the end, and the voiceover as the audio track.
func (c *Compositor) ComposeVideo(ctx context.Context, verticalPath string, audio *speech.AudioResult, sentences []timing.SentenceTiming, profile *brand.Profile, outPath string) error {
	duration := audio.DurationSeconds()
	if duration <= 0 {
		return fmt.Errorf("audio duration must be positive, got %v", duration)
	}

	filter := buildCaptionFilter(sentences, audio.WordTimings, profile, duration)

	args := []string{"-y",
		"-stream_loop", "-1",
		"-i", verticalPath,
		"-i", audio.AudioPath,
	}
	if filter != "" {
		args = append(args, "-vf", filter)
	}
	args = append(args,
		"-map", "0:v", "-map", "1:a",
		"-t", formatSeconds(duration),
		"-r", strconv.Itoa(FrameRate),
		"-c:v", "libx264", "-crf", videoCRF,
		"-c:a", "aac", "-b:a", "192k",
		"-pix_fmt", "yuv420p",
		outPath,
	)

	out, err := c.run(ctx, "ffmpeg", args...)
	if err != nil {
		return fmt.Errorf("ffmpeg compose: %w: %s", err, tail(out))
	}

	c.log.Info().Str("output", outPath).
		Float64("duration_s", duration).
		Int("sentences", len(sentences)).
		Msg("composed final video")
	return nil
}

// formatSeconds renders a duration for ffmpeg's -t flag.
func formatSeconds(sec float64) string {
	return strconv.FormatFloat(sec, 'f', 3, 64)
}

// tail keeps the last part of command output for error messages; ffmpeg is
// verbose and the failure reason is at the end.
func tail(out []byte) string {
	s := strings.TrimSpace(string(out))
	if len(s) > 500 {
		s = "..." + s[len(s)-500:]
	}
	return s
}
