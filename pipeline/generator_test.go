package pipeline

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"brand-video-pipeline/brand"
	"brand-video-pipeline/footage"
	"brand-video-pipeline/script"
	"brand-video-pipeline/speech"
	"brand-video-pipeline/timing"
)

type fakeScripts struct {
	mu    sync.Mutex
	calls int
	fail  map[int]bool // fail the nth call (1-based)
}

func (f *fakeScripts) Generate(ctx context.Context, profile *brand.Profile, topicSeed string) (*script.Script, error) {
	f.mu.Lock()
	f.calls++
	n := f.calls
	f.mu.Unlock()
	if f.fail[n] {
		return nil, fmt.Errorf("model unavailable")
	}
	return &script.Script{
		Topic:             "A topic",
		Voiceover:         "One sentence here. Another one too.",
		SearchTerms:       []string{"beach"},
		BrandSlug:         profile.Slug,
		EstimatedDuration: 12,
	}, nil
}

type fakeSpeech struct{}

func (fakeSpeech) Synthesize(ctx context.Context, text string, p *brand.Profile) (*speech.AudioResult, error) {
	return &speech.AudioResult{
		AudioPath:   "voice.mp3",
		DurationMS:  4000,
		WordTimings: speech.EstimateWordTimings(text, 4.0),
	}, nil
}

type fakeFootage struct{}

func (fakeFootage) Fetch(ctx context.Context, terms []string, targetDurationSec float64) (*footage.FootageResult, error) {
	return &footage.FootageResult{VideoPath: "clip.mp4", VideoID: 1}, nil
}

type fakeUploader struct {
	mu      sync.Mutex
	objects []string
}

func (f *fakeUploader) Upload(ctx context.Context, localPath, objectPath string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects = append(f.objects, objectPath)
	return "https://cdn.example.com/" + objectPath, nil
}

// counter is a race-safe int for observing cleanup calls from concurrent
// workers.
type counter struct {
	mu sync.Mutex
	n  int
}

func (c *counter) inc() {
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
}

func (c *counter) value() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

type fakeComposer struct {
	cleanups *counter
}

func (f *fakeComposer) ConvertToVertical(ctx context.Context, srcPath string) (string, error) {
	return "vertical.mp4", nil
}

func (f *fakeComposer) ComposeVideo(ctx context.Context, verticalPath string, audio *speech.AudioResult, sentences []timing.SentenceTiming, profile *brand.Profile, outPath string) error {
	return os.WriteFile(outPath, []byte("final"), 0644)
}

func (f *fakeComposer) Cleanup() { f.cleanups.inc() }

func writeBrand(t *testing.T, dir, slug string) {
	t.Helper()
	profile := fmt.Sprintf(`name: Brand %s
slug: %s
category: wellness
colors:
  primary: "#336699"
  secondary: "#ffffff"
cta_text: Visit us
cta_url: https://example.com/%s
`, slug, slug, slug)
	if err := os.WriteFile(filepath.Join(dir, slug+".yaml"), []byte(profile), 0644); err != nil {
		t.Fatal(err)
	}
}

func newTestGenerator(t *testing.T, scripts scriptService, uploader uploadService, cleanups *counter) (*Generator, *brand.Loader) {
	t.Helper()
	brandDir := t.TempDir()
	writeBrand(t, brandDir, "brand-a")
	loader := brand.NewLoader(brandDir)

	g, err := New(Options{
		Scripts:   scripts,
		Speech:    fakeSpeech{},
		Footage:   fakeFootage{},
		Uploader:  uploader,
		Brands:    loader,
		OutputDir: t.TempDir(),
		TempDir:   t.TempDir(),
		NewComposer: func(string) (videoComposer, error) {
			return &fakeComposer{cleanups: cleanups}, nil
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	return g, loader
}

func TestGenerateOneSuccess(t *testing.T) {
	cleanups := &counter{}
	uploader := &fakeUploader{}
	g, _ := newTestGenerator(t, &fakeScripts{}, uploader, cleanups)

	result := g.GenerateOne(context.Background(), "brand-a", "seed")
	if !result.Success {
		t.Fatalf("generation failed: %s", result.Error)
	}
	if result.VideoPath == "" || result.PublicURL == "" {
		t.Errorf("missing outputs: %+v", result)
	}
	if cleanups.value() != 1 {
		t.Errorf("cleanup ran %d times, want exactly 1", cleanups.value())
	}
	if len(uploader.objects) != 1 || !strings.HasPrefix(uploader.objects[0], "brand-a/") {
		t.Errorf("upload destination = %v, want brand-a/ prefix", uploader.objects)
	}
}

func TestGenerateOneUnknownBrand(t *testing.T) {
	cleanups := &counter{}
	g, _ := newTestGenerator(t, &fakeScripts{}, nil, cleanups)

	result := g.GenerateOne(context.Background(), "no-such-brand", "")
	if result.Success {
		t.Fatal("expected failure for unknown brand")
	}
	if !strings.Contains(result.Error, "available brands") {
		t.Errorf("error should list available brands: %q", result.Error)
	}
	if cleanups.value() != 0 {
		t.Errorf("cleanup ran %d times before any composer existed, want 0", cleanups.value())
	}
}

func TestGenerateOneStageFailureIsCaptured(t *testing.T) {
	cleanups := &counter{}
	g, _ := newTestGenerator(t, &fakeScripts{fail: map[int]bool{1: true}}, nil, cleanups)

	result := g.GenerateOne(context.Background(), "brand-a", "")
	if result.Success {
		t.Fatal("expected failure")
	}
	if !strings.Contains(result.Error, "script") {
		t.Errorf("error should name the failed stage: %q", result.Error)
	}
	if cleanups.value() != 0 {
		t.Errorf("composer never created, cleanup ran %d times", cleanups.value())
	}
}

func TestGenerateBatchIsolatesFailures(t *testing.T) {
	// Third video's script call fails; the rest succeed.
	g, _ := newTestGenerator(t, &fakeScripts{fail: map[int]bool{3: true}}, nil, &counter{})

	batch := g.GenerateBatch(context.Background(), "brand-a", 5)

	if batch.TotalCount() != 5 {
		t.Fatalf("total = %d, want 5", batch.TotalCount())
	}
	if batch.SuccessCount() != 4 || batch.FailureCount() != 1 {
		t.Errorf("success/failure = %d/%d, want 4/1", batch.SuccessCount(), batch.FailureCount())
	}
	if math.Abs(batch.SuccessRate()-0.8) > 1e-9 {
		t.Errorf("success rate = %v, want 0.8", batch.SuccessRate())
	}
	if batch.Results[2].Success || batch.Results[2].Error == "" {
		t.Errorf("failed video should sit in its submission slot: %+v", batch.Results[2])
	}
	for i, r := range batch.Results {
		if i != 2 && !r.Success {
			t.Errorf("video %d unexpectedly failed: %s", i, r.Error)
		}
	}
}

func TestGenerateForBrandsIsolatesBadBrand(t *testing.T) {
	g, _ := newTestGenerator(t, &fakeScripts{}, nil, &counter{})

	results := g.GenerateForBrands(context.Background(), []string{"brand-a", "missing"}, 2)

	good := results["brand-a"]
	if good.SuccessCount() != 2 {
		t.Errorf("brand-a succeeded %d/2 despite the other brand failing", good.SuccessCount())
	}

	// A brand whose profile does not load yields exactly one failed result,
	// not one per requested video.
	bad := results["missing"]
	if bad.TotalCount() != 1 || bad.FailureCount() != 1 {
		t.Errorf("missing brand results = %d (%d failed), want a single failure",
			bad.TotalCount(), bad.FailureCount())
	}
	r := bad.Results[0]
	if r.BrandSlug != "missing" || !strings.Contains(r.Error, "available brands") {
		t.Errorf("unexpected failed result: %+v", r)
	}
}

// Recording fakes for observing the stage sequence.
type recScripts struct{ rec func(string) }

func (s recScripts) Generate(ctx context.Context, profile *brand.Profile, topicSeed string) (*script.Script, error) {
	s.rec("script")
	return &script.Script{
		Voiceover:         "Some spoken words here.",
		SearchTerms:       []string{"beach"},
		BrandSlug:         profile.Slug,
		EstimatedDuration: 12,
	}, nil
}

type recSpeech struct{ rec func(string) }

func (s recSpeech) Synthesize(ctx context.Context, text string, p *brand.Profile) (*speech.AudioResult, error) {
	s.rec("speech")
	return &speech.AudioResult{
		AudioPath:   "voice.mp3",
		DurationMS:  4000,
		WordTimings: speech.EstimateWordTimings(text, 4.0),
	}, nil
}

type recFootage struct {
	rec    func(string)
	target *float64
}

func (f recFootage) Fetch(ctx context.Context, terms []string, targetDurationSec float64) (*footage.FootageResult, error) {
	f.rec("footage")
	*f.target = targetDurationSec
	return &footage.FootageResult{VideoPath: "clip.mp4", VideoID: 1}, nil
}

func TestGenerateOneRunsFootageBeforeSpeech(t *testing.T) {
	brandDir := t.TempDir()
	writeBrand(t, brandDir, "brand-a")

	var order []string
	rec := func(stage string) { order = append(order, stage) }
	var footageTarget float64

	g, err := New(Options{
		Scripts:   recScripts{rec: rec},
		Speech:    recSpeech{rec: rec},
		Footage:   recFootage{rec: rec, target: &footageTarget},
		Brands:    brand.NewLoader(brandDir),
		OutputDir: t.TempDir(),
		TempDir:   t.TempDir(),
		NewComposer: func(string) (videoComposer, error) {
			return &fakeComposer{cleanups: &counter{}}, nil
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	result := g.GenerateOne(context.Background(), "brand-a", "seed")
	if !result.Success {
		t.Fatalf("generation failed: %s", result.Error)
	}

	want := []string{"script", "footage", "speech"}
	if len(order) != len(want) {
		t.Fatalf("stage order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("stage order = %v, want %v", order, want)
		}
	}

	// Footage is sized by the script's estimated duration, not the measured
	// audio length (which does not exist yet at fetch time).
	if footageTarget != 12 {
		t.Errorf("footage target duration = %v, want the script estimate 12", footageTarget)
	}
}

func TestGenerateBatchUsesDistinctTempDirs(t *testing.T) {
	brandDir := t.TempDir()
	writeBrand(t, brandDir, "brand-a")
	tempRoot := t.TempDir()

	var mu sync.Mutex
	var dirs []string
	cleanups := &counter{}

	g, err := New(Options{
		Scripts:   &fakeScripts{},
		Speech:    fakeSpeech{},
		Footage:   fakeFootage{},
		Brands:    brand.NewLoader(brandDir),
		OutputDir: t.TempDir(),
		TempDir:   tempRoot,
		Workers:   2,
		NewComposer: func(dir string) (videoComposer, error) {
			mu.Lock()
			dirs = append(dirs, dir)
			mu.Unlock()
			return &fakeComposer{cleanups: cleanups}, nil
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	batch := g.GenerateBatch(context.Background(), "brand-a", 3)
	if batch.SuccessCount() != 3 {
		t.Fatalf("batch failed: %+v", batch.Results)
	}
	if cleanups.value() != 3 {
		t.Errorf("cleanup ran %d times, want once per video", cleanups.value())
	}

	seen := make(map[string]bool)
	for _, dir := range dirs {
		if seen[dir] {
			t.Errorf("temp dir %q reused across videos", dir)
		}
		seen[dir] = true
		if filepath.Dir(dir) != tempRoot {
			t.Errorf("temp dir %q not under %q", dir, tempRoot)
		}
	}
	if len(dirs) != 3 {
		t.Errorf("composer created %d times, want 3", len(dirs))
	}
}

func TestEmptyBatchSuccessRate(t *testing.T) {
	b := &BatchResult{}
	if b.SuccessRate() != 0 {
		t.Errorf("empty batch rate = %v, want 0", b.SuccessRate())
	}
}

func TestNewRejectsMissingServices(t *testing.T) {
	_, err := New(Options{})
	if err == nil {
		t.Error("expected error for missing services")
	}
}
