// Package footage finds and caches background stock video from the Pexels
// API.
package footage

import (
	"context"
	"fmt"
	"net/url"
	"path/filepath"
	"strconv"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"brand-video-pipeline/apiclient"
)

const pexelsBaseURL = "https://api.pexels.com"

// rateLimitWarnThreshold triggers a warning when few monthly requests
// remain.
const rateLimitWarnThreshold = 10

// VideoFile is one downloadable rendition of a Pexels video.
type VideoFile struct {
	ID       int    `json:"id"`
	Quality  string `json:"quality"`
	FileType string `json:"file_type"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	Link     string `json:"link"`
}

// Video is one Pexels search result.
type Video struct {
	ID         int         `json:"id"`
	Width      int         `json:"width"`
	Height     int         `json:"height"`
	Duration   int         `json:"duration"`
	VideoFiles []VideoFile `json:"video_files"`
}

// BestFile picks the highest rendition at or above minHeight. When nothing
// qualifies the largest available rendition is returned anyway; upscaling a
// slightly-small clip beats failing the whole video.
func (v *Video) BestFile(minHeight int) *VideoFile {
	var best *VideoFile
	var qualified *VideoFile
	for i := range v.VideoFiles {
		f := &v.VideoFiles[i]
		if best == nil || f.Height > best.Height {
			best = f
		}
		if f.Height >= minHeight && (qualified == nil || f.Height > qualified.Height) {
			qualified = f
		}
	}
	if qualified != nil {
		return qualified
	}
	return best
}

type searchResponse struct {
	Videos       []Video `json:"videos"`
	TotalResults int     `json:"total_results"`
}

// PexelsClient talks to the Pexels video API.
type PexelsClient struct {
	api            *apiclient.Client
	resultsPerPage int
	log            zerolog.Logger
}

// NewPexelsClient builds a client authenticating with the given API key.
func NewPexelsClient(apiKey string, resultsPerPage int) (*PexelsClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("PEXELS_API_KEY not configured")
	}
	api := apiclient.New(pexelsBaseURL,
		apiclient.WithHeader("Authorization", apiKey),
	)
	return &PexelsClient{
		api:            api,
		resultsPerPage: resultsPerPage,
		log:            log.With().Str("component", "pexels").Logger(),
	}, nil
}

// SearchVideos queries landscape videos for term, filtering client-side to
// the [minDuration, maxDuration] second window. Pass 0 for either bound to
// skip that side of the filter.
func (c *PexelsClient) SearchVideos(ctx context.Context, term string, minDuration, maxDuration int) ([]Video, error) {
	params := url.Values{}
	params.Set("query", term)
	params.Set("per_page", strconv.Itoa(c.resultsPerPage))
	params.Set("orientation", "landscape")

	var result searchResponse
	resp, err := c.api.GetJSON(ctx, "/videos/search", params, &result)
	if err != nil {
		return nil, fmt.Errorf("pexels search %q: %w", term, err)
	}
	c.checkRateLimit(resp)

	var filtered []Video
	for _, v := range result.Videos {
		if minDuration > 0 && v.Duration < minDuration {
			continue
		}
		if maxDuration > 0 && v.Duration > maxDuration {
			continue
		}
		filtered = append(filtered, v)
	}

	c.log.Info().Str("term", term).
		Int("total_results", result.TotalResults).
		Int("returned", len(result.Videos)).
		Int("after_duration_filter", len(filtered)).
		Msg("searched stock footage")
	return filtered, nil
}

// checkRateLimit reads Pexels quota headers and warns when the monthly
// allowance is nearly spent.
func (c *PexelsClient) checkRateLimit(resp *apiclient.Response) {
	if resp == nil {
		return
	}
	remaining := resp.Header.Get("X-Ratelimit-Remaining")
	if remaining == "" {
		return
	}
	n, err := strconv.Atoi(remaining)
	if err != nil {
		return
	}
	if n < rateLimitWarnThreshold {
		c.log.Warn().Int("remaining", n).
			Str("reset", resp.Header.Get("X-Ratelimit-Reset")).
			Msg("pexels API quota nearly exhausted")
	}
}

// Download fetches the video's best rendition into destDir and returns the
// local path.
func (c *PexelsClient) Download(ctx context.Context, v *Video, minHeight int, destDir string) (string, error) {
	file := v.BestFile(minHeight)
	if file == nil {
		return "", fmt.Errorf("pexels video %d has no downloadable files", v.ID)
	}

	dest := filepath.Join(destDir, fmt.Sprintf("pexels_%d.mp4", v.ID))
	written, err := c.api.Download(ctx, file.Link, dest)
	if err != nil {
		return "", fmt.Errorf("download pexels video %d: %w", v.ID, err)
	}

	c.log.Info().Int("video_id", v.ID).
		Int("height", file.Height).Str("quality", file.Quality).
		Int64("bytes", written).Str("dest", dest).Msg("downloaded stock footage")
	return dest, nil
}
