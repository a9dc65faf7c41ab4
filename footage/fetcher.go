package footage

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"brand-video-pipeline/cache"
)

// Duration window bounds. Candidate clips must run at least 80% of the
// target (floored at 10s) and at most 150% of it (capped at 60s), so a loop
// or trim stays subtle in the final composite.
const (
	minWindowFloor = 10
	maxWindowCap   = 60
	windowLowRatio = 0.8
	windowHiRatio  = 1.5
)

// stockAPI is the search/download surface the Fetcher needs. Satisfied by
// PexelsClient; tests substitute a fake.
type stockAPI interface {
	SearchVideos(ctx context.Context, term string, minDuration, maxDuration int) ([]Video, error)
	Download(ctx context.Context, v *Video, minHeight int, destDir string) (string, error)
}

// FootageResult records which clip was selected for a search and where its
// local copy lives.
type FootageResult struct {
	VideoPath  string `json:"video_path"`
	VideoID    int    `json:"video_id"`
	SearchTerm string `json:"search_term"`
	Duration   int    `json:"duration_s"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
}

// Fetcher finds one suitable background clip for a list of search terms,
// caching downloads so repeated terms never re-hit the API.
type Fetcher struct {
	api       stockAPI
	meta      *cache.Cache
	videoDir  string
	minHeight int

	// mu serializes fetches: downloads share one dest per video ID, so two
	// workers resolving the same terms must not write it concurrently. The
	// second worker finds the first's result in cache instead.
	mu sync.Mutex

	log zerolog.Logger
}

// NewFetcher builds a Fetcher caching video files under
// {cacheRoot}/footage and metadata under {cacheRoot}/footage_metadata.
func NewFetcher(api stockAPI, cacheRoot string, minHeight int) (*Fetcher, error) {
	videoDir := filepath.Join(cacheRoot, "footage")
	if err := os.MkdirAll(videoDir, 0755); err != nil {
		return nil, fmt.Errorf("create footage cache dir: %w", err)
	}
	meta, err := cache.New(cacheRoot, "footage_metadata")
	if err != nil {
		return nil, err
	}
	return &Fetcher{
		api:       api,
		meta:      meta,
		videoDir:  videoDir,
		minHeight: minHeight,
		log:       log.With().Str("component", "footage").Logger(),
	}, nil
}

// CacheKey normalizes a term list to a deterministic key: lowercased,
// trimmed, sorted, so permutations of the same terms share one entry.
func CacheKey(terms []string) string {
	normalized := make([]string, 0, len(terms))
	for _, t := range terms {
		if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
			normalized = append(normalized, t)
		}
	}
	sort.Strings(normalized)
	return cache.HashKey(strings.Join(normalized, "|"))
}

// durationWindow returns the accepted clip length range for a target
// duration.
func durationWindow(targetSec float64) (int, int) {
	lo := int(math.Max(minWindowFloor, targetSec*windowLowRatio))
	hi := int(math.Min(maxWindowCap, targetSec*windowHiRatio))
	if hi < lo {
		hi = lo
	}
	return lo, hi
}

// Fetch returns a local background clip matching one of the search terms.
// Terms are tried in order; the first term with any suitable result wins.
// Cached results are validated against the file on disk before reuse.
func (f *Fetcher) Fetch(ctx context.Context, terms []string, targetDurationSec float64) (*FootageResult, error) {
	if len(terms) == 0 {
		return nil, fmt.Errorf("no search terms provided")
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	key := CacheKey(terms)

	var cached FootageResult
	if err := f.meta.Get(key, &cached); err == nil {
		if info, statErr := os.Stat(cached.VideoPath); statErr == nil && info.Size() > 0 {
			f.log.Info().Str("key", key).Str("path", cached.VideoPath).Msg("footage cache HIT")
			return &cached, nil
		}
		f.meta.Delete(key)
		f.log.Info().Str("key", key).Str("path", cached.VideoPath).
			Msg("footage cache INVALID (file missing or empty)")
	} else if !errors.Is(err, cache.ErrMiss) {
		return nil, err
	}

	lo, hi := durationWindow(targetDurationSec)
	f.log.Info().Strs("terms", terms).Int("min_duration_s", lo).Int("max_duration_s", hi).
		Msg("searching stock footage")

	for _, term := range terms {
		videos, err := f.api.SearchVideos(ctx, term, lo, hi)
		if err != nil {
			f.log.Warn().Err(err).Str("term", term).Msg("search failed, trying next term")
			continue
		}
		if len(videos) == 0 {
			f.log.Info().Str("term", term).Msg("no suitable results, trying next term")
			continue
		}

		v := videos[0]
		path, err := f.api.Download(ctx, &v, f.minHeight, f.videoDir)
		if err != nil {
			f.log.Warn().Err(err).Str("term", term).Int("video_id", v.ID).
				Msg("download failed, trying next term")
			continue
		}

		result := &FootageResult{
			VideoPath:  path,
			VideoID:    v.ID,
			SearchTerm: term,
			Duration:   v.Duration,
			Width:      v.Width,
			Height:     v.Height,
		}
		if err := f.meta.Set(key, result); err != nil {
			f.log.Warn().Err(err).Msg("failed to cache footage metadata")
		}
		return result, nil
	}

	return nil, fmt.Errorf("no stock footage found for any of: %s", strings.Join(terms, ", "))
}

// ClearCache removes all cached footage metadata and video files.
func (f *Fetcher) ClearCache() (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	removed, err := f.meta.Clear()
	if err != nil {
		return removed, err
	}
	entries, err := os.ReadDir(f.videoDir)
	if err != nil {
		return removed, fmt.Errorf("read footage dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if err := os.Remove(filepath.Join(f.videoDir, e.Name())); err != nil {
			return removed, fmt.Errorf("remove %s: %w", e.Name(), err)
		}
		removed++
	}
	return removed, nil
}
