// Package pipeline orchestrates the full generation flow: script, speech,
// footage, composite, upload. One video failing never aborts a batch.
package pipeline

// GenerationResult is the outcome of one video generation attempt. Error
// carries the failure message so results serialize cleanly into batch
// reports.
type GenerationResult struct {
	BrandSlug  string  `json:"brand_slug"`
	Success    bool    `json:"success"`
	VideoPath  string  `json:"video_path,omitempty"`
	PublicURL  string  `json:"public_url,omitempty"`
	Topic      string  `json:"topic,omitempty"`
	Error      string  `json:"error,omitempty"`
	DurationMS float64 `json:"duration_ms"`
}

// BatchResult aggregates the per-video outcomes of one batch, in submission
// order.
type BatchResult struct {
	Results []GenerationResult `json:"results"`
}

// SuccessCount returns how many videos in the batch succeeded.
func (b *BatchResult) SuccessCount() int {
	n := 0
	for _, r := range b.Results {
		if r.Success {
			n++
		}
	}
	return n
}

// FailureCount returns how many videos in the batch failed.
func (b *BatchResult) FailureCount() int {
	return len(b.Results) - b.SuccessCount()
}

// TotalCount returns the batch size.
func (b *BatchResult) TotalCount() int {
	return len(b.Results)
}

// SuccessRate returns the fraction of successful videos, 0 for an empty
// batch.
func (b *BatchResult) SuccessRate() float64 {
	if len(b.Results) == 0 {
		return 0
	}
	return float64(b.SuccessCount()) / float64(len(b.Results))
}

// TotalDurationMS returns the summed wall time of every attempt in the
// batch.
func (b *BatchResult) TotalDurationMS() float64 {
	var total float64
	for _, r := range b.Results {
		total += r.DurationMS
	}
	return total
}
