package compositor

import (
	"fmt"
	"strings"

	"brand-video-pipeline/brand"
	"brand-video-pipeline/timing"
)

const (
	captionFont     = "/usr/share/fonts/truetype/dejavu/DejaVuSans-Bold.ttf"
	captionFontSize = 64
	highlightSize   = 68

	// defaultHighlight is used when a brand has no accent color.
	defaultHighlight = "#00FFFF"

	ctaFontSize = 56
	ctaLeadSec  = 4.0
)

// escapeDrawtext escapes text for ffmpeg's drawtext filter. Order matters:
// backslashes first, then the characters drawtext treats specially.
func escapeDrawtext(s string) string {
	r := strings.NewReplacer(
		`\`, `\\`,
		`'`, `\'`,
		`:`, `\:`,
		`%`, `\%`,
		`,`, `\,`,
	)
	return r.Replace(s)
}

// highlightColors returns the two alternating word-highlight colors for a
// brand: accent first, secondary as the alternate.
func highlightColors(p *brand.Profile) [2]string {
	colors := [2]string{defaultHighlight, "white"}
	if p != nil {
		if p.Colors.Accent != "" {
			colors[0] = p.Colors.Accent
		}
		if p.Colors.Secondary != "" {
			colors[1] = p.Colors.Secondary
		}
	}
	return colors
}

// buildCaptionFilter assembles the drawtext filter chain: one base layer per
// sentence showing the full phrase, one highlight layer per word drawn in
// the brand accent color while that word is spoken, and a CTA overlay for
// the final seconds. Text is clamped inside the safe zone.
func buildCaptionFilter(sentences []timing.SentenceTiming, words []timing.WordTiming, p *brand.Profile, totalSec float64) string {
	var layers []string

	// Base layer: the current sentence, centered in the lower third.
	baseY := fmt.Sprintf("h-%d-th", SafeZoneMargin*3)
	for _, s := range sentences {
		layers = append(layers, fmt.Sprintf(
			"drawtext=fontfile=%s:text='%s':fontsize=%d:fontcolor=white:borderw=4:bordercolor=black:x=(w-tw)/2:y=%s:enable='between(t,%.3f,%.3f)'",
			captionFont, escapeDrawtext(s.Text), captionFontSize, baseY,
			s.Start, s.End()))
	}

	// Highlight layer: the spoken word, enlarged just below the sentence,
	// alternating between the brand accent and secondary colors.
	colors := highlightColors(p)
	wordY := fmt.Sprintf("h-%d-th", SafeZoneMargin*2)
	for i, w := range words {
		layers = append(layers, fmt.Sprintf(
			"drawtext=fontfile=%s:text='%s':fontsize=%d:fontcolor=%s:borderw=4:bordercolor=black:x=(w-tw)/2:y=%s:enable='between(t,%.3f,%.3f)'",
			captionFont, escapeDrawtext(w.Text), highlightSize, colors[i%2], wordY,
			w.Start, w.End))
	}

	// CTA overlay at the top of the safe zone for the final seconds.
	if p != nil && p.CTAText != "" {
		ctaStart := totalSec - ctaLeadSec
		if ctaStart < 0 {
			ctaStart = 0
		}
		layers = append(layers, fmt.Sprintf(
			"drawtext=fontfile=%s:text='%s':fontsize=%d:fontcolor=white:box=1:boxcolor=%s@0.8:boxborderw=20:x=(w-tw)/2:y=%d:enable='between(t,%.3f,%.3f)'",
			captionFont, escapeDrawtext(p.CTAText), ctaFontSize,
			brandBoxColor(p), SafeZoneMargin,
			ctaStart, totalSec))
	}

	return strings.Join(layers, ",")
}

// brandBoxColor picks the CTA box background from the brand palette.
func brandBoxColor(p *brand.Profile) string {
	if p.Colors.Primary != "" {
		return p.Colors.Primary
	}
	return "black"
}
