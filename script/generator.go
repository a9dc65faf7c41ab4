// Package script generates the voiceover script and stock-footage search
// terms for one video, cached per brand/seed/day.
package script

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"brand-video-pipeline/brand"
	"brand-video-pipeline/cache"
)

// wordsPerSecond is the assumed spoken rate (~150 words/minute).
const wordsPerSecond = 2.5

// maxSearchTerms caps the footage search term list.
const maxSearchTerms = 5

// Script is one video's spoken content plus the metadata video production
// needs.
type Script struct {
	Topic             string   `json:"topic"`
	Voiceover         string   `json:"voiceover"`
	SearchTerms       []string `json:"search_terms"`
	BrandSlug         string   `json:"brand_slug"`
	CTAText           string   `json:"cta_text"`
	EstimatedDuration float64  `json:"estimated_duration_s"`
}

// EstimateDuration returns the expected spoken length of text in seconds.
func EstimateDuration(text string) float64 {
	return float64(len(strings.Fields(text))) / wordsPerSecond
}

// tonePreset describes how a brand category speaks.
type tonePreset struct {
	Tone     string
	Audience string
	Style    string
}

// tonePresets is keyed by the brand profile's explicit category field. The
// slug is never parsed to guess a category; unknown categories get
// defaultTone.
var tonePresets = map[string]tonePreset{
	"wellness": {
		Tone:     "warm, supportive, and understanding",
		Audience: "women navigating menopause",
		Style:    "empathetic, informative, reassuring",
	},
	"deals": {
		Tone:     "excited, enthusiastic, and deal-savvy",
		Audience: "bargain hunters and smart shoppers",
		Style:    "energetic, urgent but not pushy, value-focused",
	},
	"fitness": {
		Tone:     "motivational, energetic, and encouraging",
		Audience: "people starting or maintaining fitness journeys",
		Style:    "upbeat, can-do attitude, practical",
	},
}

var defaultTone = tonePreset{
	Tone:     "friendly and informative",
	Audience: "general audience",
	Style:    "clear, engaging, helpful",
}

// fallbackSearchTerms is used when the model response cannot be parsed into
// the two-part format.
var fallbackSearchTerms = []string{"lifestyle", "nature", "wellness"}

// Generator produces scripts through a text-generation collaborator with
// per-day caching.
type Generator struct {
	textGen        TextGenerator
	cache          *cache.Cache
	targetDuration int
	now            func() time.Time
	log            zerolog.Logger
}

// NewGenerator builds a Generator caching under {cacheRoot}/scripts.
func NewGenerator(textGen TextGenerator, cacheRoot string, targetDurationSec int) (*Generator, error) {
	c, err := cache.New(cacheRoot, "scripts")
	if err != nil {
		return nil, err
	}
	return &Generator{
		textGen:        textGen,
		cache:          c,
		targetDuration: targetDurationSec,
		now:            time.Now,
		log:            log.With().Str("component", "script").Logger(),
	}, nil
}

// cacheKey combines brand, seed and the current date so reruns within a day
// hit cache while every new day gets fresh content.
func (g *Generator) cacheKey(slug, topicSeed string) string {
	seed := topicSeed
	if seed == "" {
		seed = "random"
	}
	return fmt.Sprintf("%s_%s_%s", slug, seed, g.now().Format("2006-01-02"))
}

// Generate returns the script for a brand, generating topic and voiceover
// on a cache miss.
func (g *Generator) Generate(ctx context.Context, profile *brand.Profile, topicSeed string) (*Script, error) {
	key := g.cacheKey(profile.Slug, topicSeed)

	var cached Script
	if err := g.cache.Get(key, &cached); err == nil {
		g.log.Info().Str("brand", profile.Slug).Str("key", key).Msg("script cache HIT")
		return &cached, nil
	} else if !errors.Is(err, cache.ErrMiss) {
		return nil, err
	}

	g.log.Info().Str("brand", profile.Slug).Str("key", key).Msg("script cache MISS")

	tone, ok := tonePresets[profile.Category]
	if !ok {
		tone = defaultTone
	}

	topic, err := g.textGen.GenerateText(ctx, g.topicPrompt(profile, tone), 100, 0.9)
	if err != nil {
		return nil, fmt.Errorf("generate topic: %w", err)
	}
	topic = strings.TrimSpace(topic)

	response, err := g.textGen.GenerateText(ctx, g.scriptPrompt(profile, tone, topic), 500, 0.7)
	if err != nil {
		return nil, fmt.Errorf("generate script: %w", err)
	}

	s := g.parseResponse(response, profile, topic)
	if err := g.cache.Set(key, s); err != nil {
		g.log.Warn().Err(err).Msg("failed to cache script")
	}

	g.log.Info().Str("brand", profile.Slug).
		Str("topic", truncate(topic, 50)).
		Strs("search_terms", s.SearchTerms).
		Float64("estimated_duration_s", s.EstimatedDuration).
		Msg("script generated")
	return s, nil
}

func (g *Generator) topicPrompt(p *brand.Profile, tone tonePreset) string {
	description := p.Description
	if description == "" {
		description = "A brand called " + p.Name
	}

	return fmt.Sprintf(`You are generating a video topic for %s.
Brand voice: %s
Target audience: %s
Brand description: %s

Generate ONE unique, engaging topic for a 30-45 second video.
The topic should:
- Be relevant to %s
- Have visual potential (can be illustrated with stock footage)
- Be specific enough to be interesting, not generic

Return ONLY the topic as a single sentence, no quotes or extra text.`,
		p.Name, tone.Tone, tone.Audience, description, tone.Audience)
}

func (g *Generator) scriptPrompt(p *brand.Profile, tone tonePreset, topic string) string {
	wordCount := int(float64(g.targetDuration) * wordsPerSecond)

	return fmt.Sprintf(`You are a video scriptwriter for %s.
Brand voice: %s
Style: %s
CTA: %q leading to %s

Write a voiceover script for a %d-second video about:
%s

Requirements:
1. Start with a hook that grabs attention in the first 3 seconds
2. Provide valuable, specific information in 3-4 sentences
3. End by naturally mentioning the CTA - don't say "click the link", weave it in conversationally
4. Use conversational, spoken language - this will be read aloud
5. Keep it to %d words maximum (about %d seconds of speech)

After the script, list 3-5 stock footage search terms that would find good background video.

Format your response EXACTLY like this:
VOICEOVER:
[Your script here - just the spoken words, no stage directions]

SEARCH_TERMS:
[comma-separated search terms]`,
		p.Name, tone.Tone, tone.Style, p.CTAText, p.CTAURL,
		g.targetDuration, topic, wordCount, g.targetDuration)
}

// parseResponse extracts the two-part VOICEOVER / SEARCH_TERMS format. When
// the structure is missing it degrades to treating the whole response as
// voiceover with generic search terms. It never fails.
func (g *Generator) parseResponse(response string, p *brand.Profile, topic string) *Script {
	var voiceover string
	var terms []string

	if strings.Contains(response, "VOICEOVER:") && strings.Contains(response, "SEARCH_TERMS:") {
		parts := strings.SplitN(response, "SEARCH_TERMS:", 2)
		voiceover = strings.TrimSpace(strings.Replace(parts[0], "VOICEOVER:", "", 1))
		for _, t := range strings.Split(parts[1], ",") {
			if t = strings.TrimSpace(t); t != "" {
				terms = append(terms, t)
			}
		}
	} else {
		voiceover = strings.TrimSpace(response)
		terms = append(terms, fallbackSearchTerms...)
		g.log.Warn().Str("brand", p.Slug).
			Msg("could not parse structured response, using fallback search terms")
	}

	if len(terms) > maxSearchTerms {
		terms = terms[:maxSearchTerms]
	}

	return &Script{
		Topic:             topic,
		Voiceover:         voiceover,
		SearchTerms:       terms,
		BrandSlug:         p.Slug,
		CTAText:           p.CTAText,
		EstimatedDuration: EstimateDuration(voiceover),
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
