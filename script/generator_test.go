package script

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"testing"
	"time"

	"brand-video-pipeline/brand"
)

type fakeTextGen struct {
	responses []string
	calls     int
}

func (f *fakeTextGen) GenerateText(ctx context.Context, prompt string, maxTokens int32, temperature float32) (string, error) {
	if f.calls >= len(f.responses) {
		return "", fmt.Errorf("unexpected call %d", f.calls)
	}
	resp := f.responses[f.calls]
	f.calls++
	return resp, nil
}

func testProfile() *brand.Profile {
	return &brand.Profile{
		Name:     "Menopause Planner",
		Slug:     "menopause-planner",
		Category: "wellness",
		Colors:   brand.Colors{Primary: "#e8a0bf", Secondary: "#ffffff"},
		VoiceID:  "en-US-JennyNeural",
		CTAText:  "Get Your Free Planner",
		CTAURL:   "https://example.com/planner",
	}
}

const structuredResponse = `VOICEOVER:
Hot flashes at 2am again? Here is the thing nobody tells you. Keeping a simple sleep log helps you spot your triggers within a week. Grab the free planner and start tonight.

SEARCH_TERMS:
woman sleeping, bedroom night, journal writing, calm morning`

func newTestGenerator(t *testing.T, tg TextGenerator) *Generator {
	t.Helper()
	g, err := NewGenerator(tg, t.TempDir(), 35)
	if err != nil {
		t.Fatal(err)
	}
	return g
}

func TestGenerateParsesStructuredResponse(t *testing.T) {
	tg := &fakeTextGen{responses: []string{"How a sleep log tames 2am hot flashes.", structuredResponse}}
	g := newTestGenerator(t, tg)

	s, err := g.Generate(context.Background(), testProfile(), "seed-1")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if s.Topic != "How a sleep log tames 2am hot flashes." {
		t.Errorf("topic = %q", s.Topic)
	}
	wantTerms := []string{"woman sleeping", "bedroom night", "journal writing", "calm morning"}
	if !reflect.DeepEqual(s.SearchTerms, wantTerms) {
		t.Errorf("search terms = %v, want %v", s.SearchTerms, wantTerms)
	}
	if s.BrandSlug != "menopause-planner" || s.CTAText != "Get Your Free Planner" {
		t.Errorf("brand metadata missing: %+v", s)
	}

	wantDur := EstimateDuration(s.Voiceover)
	if math.Abs(s.EstimatedDuration-wantDur) > 1e-9 {
		t.Errorf("estimated duration = %v, want %v", s.EstimatedDuration, wantDur)
	}
}

func TestGenerateSecondCallHitsCache(t *testing.T) {
	tg := &fakeTextGen{responses: []string{"Topic.", structuredResponse}}
	g := newTestGenerator(t, tg)

	first, err := g.Generate(context.Background(), testProfile(), "seed-1")
	if err != nil {
		t.Fatal(err)
	}
	callsAfterFirst := tg.calls

	second, err := g.Generate(context.Background(), testProfile(), "seed-1")
	if err != nil {
		t.Fatal(err)
	}
	if tg.calls != callsAfterFirst {
		t.Errorf("second call made %d extra collaborator calls, want 0", tg.calls-callsAfterFirst)
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("cached script differs: %+v vs %+v", first, second)
	}
}

func TestCacheKeyIncludesDate(t *testing.T) {
	g := newTestGenerator(t, &fakeTextGen{})

	g.now = func() time.Time { return time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC) }
	day1 := g.cacheKey("slug", "seed")
	g.now = func() time.Time { return time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC) }
	day2 := g.cacheKey("slug", "seed")

	if day1 == day2 {
		t.Error("cache keys for different days should differ")
	}
	if g.cacheKey("slug", "") != "slug_random_2026-03-02" {
		t.Errorf("empty seed key = %q", g.cacheKey("slug", ""))
	}
}

func TestParseFallbackNeverFails(t *testing.T) {
	g := newTestGenerator(t, &fakeTextGen{})

	s := g.parseResponse("Just some plain text without any markers.", testProfile(), "topic")
	if s.Voiceover != "Just some plain text without any markers." {
		t.Errorf("fallback voiceover = %q", s.Voiceover)
	}
	if !reflect.DeepEqual(s.SearchTerms, fallbackSearchTerms) {
		t.Errorf("fallback terms = %v", s.SearchTerms)
	}
}

func TestParseCapsSearchTerms(t *testing.T) {
	g := newTestGenerator(t, &fakeTextGen{})

	resp := "VOICEOVER:\nHi there.\n\nSEARCH_TERMS:\na, b, c, d, e, f, g"
	s := g.parseResponse(resp, testProfile(), "topic")
	if len(s.SearchTerms) != 5 {
		t.Errorf("got %d search terms, want 5 max", len(s.SearchTerms))
	}
}

func TestScriptRoundTrip(t *testing.T) {
	in := Script{
		Topic:             "A topic",
		Voiceover:         "Some words to speak.",
		SearchTerms:       []string{"one", "two"},
		BrandSlug:         "brand-x",
		CTAText:           "Do the thing",
		EstimatedDuration: 1.6,
	}

	data, err := json.Marshal(in)
	if err != nil {
		t.Fatal(err)
	}
	var out Script
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(in, out) {
		t.Errorf("round trip lost fields: %+v vs %+v", in, out)
	}
}

func TestEstimateDuration(t *testing.T) {
	// 5 words at 2.5 words/second = 2 seconds.
	if got := EstimateDuration("one two three four five"); math.Abs(got-2.0) > 1e-9 {
		t.Errorf("EstimateDuration = %v, want 2.0", got)
	}
}
