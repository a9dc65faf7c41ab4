// Package speech synthesizes the voiceover with edge-tts and derives
// word-level timings for caption sync. Results are cached by
// hash(voice + text) with the audio artifact validated on every hit.
package speech

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"brand-video-pipeline/brand"
	"brand-video-pipeline/cache"
	"brand-video-pipeline/timing"
)

const (
	maxAttempts = 3

	// baseWeight adds per-word pause time to the proportional timing
	// distribution, so short words aren't vanishingly brief.
	baseWeight = 2
)

// AudioResult is the synthesized voice track plus its word timings.
type AudioResult struct {
	AudioPath   string              `json:"audio_path"`
	WordTimings []timing.WordTiming `json:"word_timings"`
	DurationMS  float64             `json:"duration_ms"`
}

// DurationSeconds returns the audio length in seconds.
func (a *AudioResult) DurationSeconds() float64 {
	return a.DurationMS / 1000.0
}

// runTTSFunc executes the TTS engine, writing audio to outPath.
type runTTSFunc func(ctx context.Context, voice, rate, text, outPath string) error

// probeFunc returns a media file's duration in seconds.
type probeFunc func(ctx context.Context, path string) (float64, error)

// Synthesizer generates audio through the edge-tts CLI with retry and
// caching.
type Synthesizer struct {
	audioDir     string
	meta         *cache.Cache
	defaultVoice string
	rate         string

	run   runTTSFunc
	probe probeFunc
	sleep func(time.Duration)

	log zerolog.Logger
}

// New builds a Synthesizer caching audio under {cacheRoot}/audio and
// metadata under {cacheRoot}/audio_metadata.
func New(cacheRoot, defaultVoice, rate string) (*Synthesizer, error) {
	audioDir := filepath.Join(cacheRoot, "audio")
	if err := os.MkdirAll(audioDir, 0755); err != nil {
		return nil, fmt.Errorf("create audio cache dir: %w", err)
	}
	meta, err := cache.New(cacheRoot, "audio_metadata")
	if err != nil {
		return nil, err
	}
	return &Synthesizer{
		audioDir:     audioDir,
		meta:         meta,
		defaultVoice: defaultVoice,
		rate:         rate,
		run:          runEdgeTTS,
		probe:        probeDuration,
		sleep:        time.Sleep,
		log:          log.With().Str("component", "speech").Logger(),
	}, nil
}

// CacheKey is the deterministic key for a (text, voice) pair.
func CacheKey(voice, text string) string {
	sum := sha256.Sum256([]byte(voice + "_" + text))
	return hex.EncodeToString(sum[:])[:16]
}

// voiceFor picks the brand's configured voice, falling back to the default.
func (s *Synthesizer) voiceFor(p *brand.Profile) string {
	if p != nil && p.VoiceID != "" {
		return p.VoiceID
	}
	return s.defaultVoice
}

// Synthesize produces the audio artifact and word timings for text. Cached
// results are honored only while the audio file still exists and is
// non-empty; otherwise the metadata is dropped and the audio regenerated.
func (s *Synthesizer) Synthesize(ctx context.Context, text string, p *brand.Profile) (*AudioResult, error) {
	voice := s.voiceFor(p)
	key := CacheKey(voice, text)

	if cached := s.getCached(key); cached != nil {
		s.log.Info().Str("key", key).Str("voice", voice).Msg("audio cache HIT")
		return cached, nil
	}

	audioPath := filepath.Join(s.audioDir, key+".mp3")

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result, err := s.synthesizeOnce(ctx, voice, text, audioPath)
		if err == nil {
			if cacheErr := s.meta.Set(key, result); cacheErr != nil {
				s.log.Warn().Err(cacheErr).Msg("failed to cache audio metadata")
			}
			return result, nil
		}

		lastErr = err
		wait := time.Duration(attempt) * 2 * time.Second
		s.log.Warn().Err(err).Int("attempt", attempt).Int("max_attempts", maxAttempts).
			Dur("wait", wait).Msg("speech synthesis attempt failed")
		if attempt < maxAttempts {
			s.sleep(wait)
		}
	}

	s.log.Error().Err(lastErr).Msg("speech synthesis failed after all attempts")
	return nil, fmt.Errorf("synthesize speech after %d attempts: %w", maxAttempts, lastErr)
}

func (s *Synthesizer) synthesizeOnce(ctx context.Context, voice, text, audioPath string) (*AudioResult, error) {
	start := time.Now()

	if err := s.run(ctx, voice, s.rate, text, audioPath); err != nil {
		return nil, err
	}

	durationSec, err := s.probe(ctx, audioPath)
	if err != nil {
		return nil, fmt.Errorf("probe audio duration: %w", err)
	}

	words := EstimateWordTimings(text, durationSec)

	s.log.Info().Str("voice", voice).
		Int("text_chars", len(text)).Int("word_count", len(words)).
		Float64("audio_duration_ms", durationSec*1000).
		Dur("generation_time", time.Since(start)).
		Msg("synthesized speech")

	return &AudioResult{
		AudioPath:   audioPath,
		WordTimings: words,
		DurationMS:  durationSec * 1000,
	}, nil
}

// getCached returns the cached result only when the backing audio file is
// present and non-empty; stale metadata is deleted.
func (s *Synthesizer) getCached(key string) *AudioResult {
	var result AudioResult
	if err := s.meta.Get(key, &result); err != nil {
		if !errors.Is(err, cache.ErrMiss) {
			s.log.Warn().Err(err).Str("key", key).Msg("audio metadata read error")
		}
		return nil
	}

	info, err := os.Stat(result.AudioPath)
	if err != nil || info.Size() == 0 {
		s.meta.Delete(key)
		s.log.Info().Str("key", key).Str("path", result.AudioPath).
			Msg("audio cache INVALID (file missing or empty)")
		return nil
	}
	return &result
}

// EstimateWordTimings distributes the measured audio duration across words
// proportionally to character count (plus a base weight per word for
// pauses). The result is ordered, non-overlapping and gap-free.
func EstimateWordTimings(text string, totalSec float64) []timing.WordTiming {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	totalWeight := 0
	weights := make([]int, len(words))
	for i, w := range words {
		weights[i] = len(w) + baseWeight
		totalWeight += weights[i]
	}

	timings := make([]timing.WordTiming, len(words))
	current := 0.0
	for i, w := range words {
		duration := float64(weights[i]) / float64(totalWeight) * totalSec
		timings[i] = timing.WordTiming{
			Text:  w,
			Start: current,
			End:   current + duration,
		}
		current += duration
	}
	return timings
}

// runEdgeTTS shells out to the edge-tts CLI.
func runEdgeTTS(ctx context.Context, voice, rate, text, outPath string) error {
	if _, err := exec.LookPath("edge-tts"); err != nil {
		return fmt.Errorf("edge-tts not found, install with: pip install edge-tts")
	}

	cmd := exec.CommandContext(ctx, "edge-tts",
		"--voice", voice,
		"--rate", rate,
		"--text", text,
		"--write-media", outPath,
	)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("edge-tts: %w: %s", err, strings.TrimSpace(string(out)))
	}

	info, err := os.Stat(outPath)
	if err != nil || info.Size() == 0 {
		return fmt.Errorf("edge-tts produced no audio at %s", outPath)
	}
	return nil
}

// probeDuration uses ffprobe to measure a media file's duration in seconds.
func probeDuration(ctx context.Context, path string) (float64, error) {
	out, err := exec.CommandContext(ctx, "ffprobe",
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	).Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe %s: %w", path, err)
	}
	dur, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		return 0, fmt.Errorf("parse ffprobe duration %q: %w", strings.TrimSpace(string(out)), err)
	}
	return dur, nil
}
