package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"brand-video-pipeline/brand"
	"brand-video-pipeline/compositor"
	"brand-video-pipeline/footage"
	"brand-video-pipeline/script"
	"brand-video-pipeline/speech"
	"brand-video-pipeline/timing"
)

// Service interfaces, satisfied by the concrete stage packages. Tests
// substitute fakes.
type (
	scriptService interface {
		Generate(ctx context.Context, profile *brand.Profile, topicSeed string) (*script.Script, error)
	}
	speechService interface {
		Synthesize(ctx context.Context, text string, p *brand.Profile) (*speech.AudioResult, error)
	}
	footageService interface {
		Fetch(ctx context.Context, terms []string, targetDurationSec float64) (*footage.FootageResult, error)
	}
	uploadService interface {
		Upload(ctx context.Context, localPath, objectPath string) (string, error)
	}
	videoComposer interface {
		ConvertToVertical(ctx context.Context, srcPath string) (string, error)
		ComposeVideo(ctx context.Context, verticalPath string, audio *speech.AudioResult, sentences []timing.SentenceTiming, profile *brand.Profile, outPath string) error
		Cleanup()
	}
)

// Options configures a Generator.
type Options struct {
	Scripts   scriptService
	Speech    speechService
	Footage   footageService
	Uploader  uploadService // nil disables upload
	Brands    *brand.Loader
	OutputDir string
	TempDir   string

	// StageTimeout bounds each pipeline stage; zero disables the bound.
	StageTimeout time.Duration

	// Workers bounds batch concurrency; values below 1 mean sequential.
	Workers int

	// NewComposer builds the per-video compositor. Defaults to the real
	// ffmpeg-backed one; tests inject fakes.
	NewComposer func(tempDir string) (videoComposer, error)
}

// Generator runs the end-to-end video pipeline.
type Generator struct {
	opts Options
	log  zerolog.Logger
}

// New validates options and returns a Generator.
func New(opts Options) (*Generator, error) {
	if opts.Scripts == nil || opts.Speech == nil || opts.Footage == nil || opts.Brands == nil {
		return nil, fmt.Errorf("pipeline requires script, speech, footage services and a brand loader")
	}
	if opts.OutputDir == "" {
		return nil, fmt.Errorf("output directory not configured")
	}
	if opts.NewComposer == nil {
		opts.NewComposer = func(tempDir string) (videoComposer, error) {
			return compositor.New(tempDir)
		}
	}
	if err := os.MkdirAll(opts.OutputDir, 0755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	return &Generator{
		opts: opts,
		log:  log.With().Str("component", "pipeline").Logger(),
	}, nil
}

// stageCtx derives the per-stage context.
func (g *Generator) stageCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if g.opts.StageTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, g.opts.StageTimeout)
}

// GenerateOne produces a single video for slug. Failures are captured in
// the result rather than panicking the caller; temp artifacts are released
// exactly once regardless of which stage failed.
func (g *Generator) GenerateOne(ctx context.Context, slug, topicSeed string) GenerationResult {
	start := time.Now()
	result := GenerationResult{BrandSlug: slug}

	fail := func(stage string, err error) GenerationResult {
		result.Error = fmt.Sprintf("%s: %v", stage, err)
		result.DurationMS = float64(time.Since(start).Milliseconds())
		g.log.Error().Err(err).Str("brand", slug).Str("stage", stage).
			Msg("video generation failed")
		return result
	}

	profile, err := g.opts.Brands.Load(slug)
	if err != nil {
		return fail("load brand", err)
	}

	// The composer is created lazily so cleanup only runs when temp
	// artifacts could exist.
	var composer videoComposer
	defer func() {
		if composer != nil {
			composer.Cleanup()
		}
	}()

	sctx, cancel := g.stageCtx(ctx)
	scr, err := g.opts.Scripts.Generate(sctx, profile, topicSeed)
	cancel()
	if err != nil {
		return fail("script", err)
	}
	result.Topic = scr.Topic

	// Footage runs before synthesis, sized by the script's estimated spoken
	// length; the composite later locks to the measured audio anyway.
	sctx, cancel = g.stageCtx(ctx)
	clip, err := g.opts.Footage.Fetch(sctx, scr.SearchTerms, scr.EstimatedDuration)
	cancel()
	if err != nil {
		return fail("footage", err)
	}

	sctx, cancel = g.stageCtx(ctx)
	audio, err := g.opts.Speech.Synthesize(sctx, scr.Voiceover, profile)
	cancel()
	if err != nil {
		return fail("speech", err)
	}

	// Each video composes in its own temp subdir so concurrent workers
	// never share (or clean up) each other's intermediates.
	composer, err = g.opts.NewComposer(filepath.Join(g.opts.TempDir, uuid.NewString()))
	if err != nil {
		return fail("compositor", err)
	}

	sctx, cancel = g.stageCtx(ctx)
	vertical, err := composer.ConvertToVertical(sctx, clip.VideoPath)
	cancel()
	if err != nil {
		return fail("vertical convert", err)
	}

	sentences := timing.GroupWords(audio.WordTimings, timing.SplitSentences(scr.Voiceover))
	// The uuid suffix keeps batch videos rendered within the same second
	// from colliding.
	filename := fmt.Sprintf("%s_%d_%s.mp4", slug, time.Now().Unix(), uuid.NewString()[:8])
	outPath := filepath.Join(g.opts.OutputDir, filename)

	sctx, cancel = g.stageCtx(ctx)
	err = composer.ComposeVideo(sctx, vertical, audio, sentences, profile, outPath)
	cancel()
	if err != nil {
		return fail("compose", err)
	}
	result.VideoPath = outPath

	if g.opts.Uploader != nil {
		sctx, cancel = g.stageCtx(ctx)
		publicURL, err := g.opts.Uploader.Upload(sctx, outPath, slug+"/"+filename)
		cancel()
		if err != nil {
			return fail("upload", err)
		}
		result.PublicURL = publicURL
	}

	result.Success = true
	result.DurationMS = float64(time.Since(start).Milliseconds())
	g.log.Info().Str("brand", slug).Str("video", outPath).
		Float64("duration_ms", result.DurationMS).Msg("video generated")
	return result
}

// GenerateBatch produces count videos for one brand. Each video gets a
// fresh random topic seed. Results come back in submission order; a failed
// video occupies its slot with Success false.
func (g *Generator) GenerateBatch(ctx context.Context, slug string, count int) *BatchResult {
	batch := &BatchResult{Results: make([]GenerationResult, count)}

	if g.opts.Workers <= 1 {
		for i := 0; i < count; i++ {
			batch.Results[i] = g.GenerateOne(ctx, slug, uuid.NewString())
		}
	} else {
		eg, ectx := errgroup.WithContext(ctx)
		eg.SetLimit(g.opts.Workers)
		for i := 0; i < count; i++ {
			i := i
			eg.Go(func() error {
				batch.Results[i] = g.GenerateOne(ectx, slug, uuid.NewString())
				return nil
			})
		}
		eg.Wait() // workers never return errors; failures live in results
	}

	g.log.Info().Str("brand", slug).
		Int("total", batch.TotalCount()).
		Int("succeeded", batch.SuccessCount()).
		Int("failed", batch.FailureCount()).
		Msg("batch complete")
	return batch
}

// GenerateForBrands produces countPerBrand videos for every brand. Brands
// run in the given order; one brand failing never stops the rest. A brand
// whose profile does not load yields a single failed result instead of
// attempting the whole batch against a broken profile.
func (g *Generator) GenerateForBrands(ctx context.Context, slugs []string, countPerBrand int) map[string]*BatchResult {
	results := make(map[string]*BatchResult, len(slugs))
	for _, slug := range slugs {
		if _, err := g.opts.Brands.Load(slug); err != nil {
			g.log.Error().Err(err).Str("brand", slug).Msg("brand profile failed to load, skipping")
			results[slug] = &BatchResult{Results: []GenerationResult{{
				BrandSlug: slug,
				Error:     fmt.Sprintf("load brand: %v", err),
			}}}
			continue
		}
		results[slug] = g.GenerateBatch(ctx, slug, countPerBrand)
	}

	succeeded, total := 0, 0
	for _, b := range results {
		succeeded += b.SuccessCount()
		total += b.TotalCount()
	}
	g.log.Info().Int("brands", len(slugs)).
		Int("total", total).Int("succeeded", succeeded).
		Msg("multi-brand run complete")
	return results
}
