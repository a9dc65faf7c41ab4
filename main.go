// Command brand-video-pipeline generates short vertical marketing videos:
// an AI-written script, synthesized voiceover, stock background footage,
// burned-in captions and an optional upload to Supabase Storage.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"brand-video-pipeline/brand"
	"brand-video-pipeline/cache"
	"brand-video-pipeline/config"
	"brand-video-pipeline/footage"
	"brand-video-pipeline/pipeline"
	"brand-video-pipeline/script"
	"brand-video-pipeline/speech"
	"brand-video-pipeline/storage"
)

var (
	configPath string
	verbose    bool

	genBrand    string
	genAll      bool
	genCount    int
	genNoUpload bool
	genSeed     string
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "brand-video-pipeline",
		Short: "Generate short vertical brand videos from script to upload",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			setupLogging()
			// Missing .env is fine; production sets real env vars.
			if err := godotenv.Load(); err == nil {
				log.Debug().Msg("loaded .env")
			}
		},
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "path to config file")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(generateCmd(), brandsCmd(), cacheCmd())
	return root
}

func setupLogging() {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
}

// loadConfig reads config.yaml, falling back to defaults when the file is
// absent and the path was not explicitly set.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && configPath == "config.yaml" {
			log.Debug().Msg("no config.yaml, using defaults")
			return config.Default(), nil
		}
		return nil, err
	}
	return cfg, nil
}

func generateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate videos for one brand or every brand",
		RunE: func(cmd *cobra.Command, args []string) error {
			if genBrand == "" && !genAll {
				return fmt.Errorf("pass --brand <slug> or --all")
			}
			if genBrand != "" && genAll {
				return fmt.Errorf("--brand and --all are mutually exclusive")
			}
			if genCount < 1 {
				return fmt.Errorf("--count must be at least 1")
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			gen, cleanup, err := buildPipeline(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			var batch *pipeline.BatchResult
			if genAll {
				loader := brand.NewLoader(cfg.Paths.Brands)
				slugs := loader.List()
				if len(slugs) == 0 {
					return fmt.Errorf("no brand profiles found in %s", cfg.Paths.Brands)
				}
				perBrand := gen.GenerateForBrands(cmd.Context(), slugs, genCount)
				batch = &pipeline.BatchResult{}
				for _, slug := range slugs {
					batch.Results = append(batch.Results, perBrand[slug].Results...)
				}
			} else if genCount == 1 {
				result := gen.GenerateOne(cmd.Context(), genBrand, genSeed)
				batch = &pipeline.BatchResult{Results: []pipeline.GenerationResult{result}}
			} else {
				batch = gen.GenerateBatch(cmd.Context(), genBrand, genCount)
			}

			printSummary(batch)
			if batch.FailureCount() > 0 {
				return fmt.Errorf("%d of %d videos failed", batch.FailureCount(), batch.TotalCount())
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&genBrand, "brand", "", "brand slug to generate for")
	cmd.Flags().BoolVar(&genAll, "all", false, "generate one video for every brand")
	cmd.Flags().IntVar(&genCount, "count", 1, "number of videos to generate")
	cmd.Flags().BoolVar(&genNoUpload, "no-upload", false, "skip uploading finished videos to storage")
	cmd.Flags().StringVar(&genSeed, "seed", "", "topic seed for reproducible daily runs")
	return cmd
}

// buildPipeline wires the stage services from config and environment. The
// returned cleanup releases the Gemini connection.
func buildPipeline(ctx context.Context, cfg *config.Config) (*pipeline.Generator, func(), error) {
	gemini, err := script.NewGeminiClient(ctx, os.Getenv("GEMINI_API_KEY"), cfg.Script.GeminiModel)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		if err := gemini.Close(); err != nil {
			log.Warn().Err(err).Msg("closing gemini client")
		}
	}

	scripts, err := script.NewGenerator(gemini, cfg.Paths.CacheRoot, cfg.Script.TargetDurationSec)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	synth, err := speech.New(cfg.Paths.CacheRoot, cfg.Speech.DefaultVoice, cfg.Speech.Rate)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	pexels, err := footage.NewPexelsClient(os.Getenv("PEXELS_API_KEY"), cfg.Footage.ResultsPerPage)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	fetcher, err := footage.NewFetcher(pexels, cfg.Paths.CacheRoot, cfg.Footage.MinHeight)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	opts := pipeline.Options{
		Scripts:      scripts,
		Speech:       synth,
		Footage:      fetcher,
		Brands:       brand.NewLoader(cfg.Paths.Brands),
		OutputDir:    cfg.Paths.Output,
		TempDir:      cfg.Paths.Temp,
		StageTimeout: cfg.Pipeline.StageTimeout(),
		Workers:      cfg.Pipeline.Workers,
	}
	// Uploading is the default; --no-upload keeps videos local only.
	if !genNoUpload {
		store, err := storage.New(os.Getenv("SUPABASE_URL"), os.Getenv("SUPABASE_KEY"), cfg.Storage.Bucket)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		opts.Uploader = store
	}

	gen, err := pipeline.New(opts)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return gen, cleanup, nil
}

func printSummary(batch *pipeline.BatchResult) {
	fmt.Printf("\n%d/%d videos generated (%.0f%% success)\n",
		batch.SuccessCount(), batch.TotalCount(), batch.SuccessRate()*100)
	for _, r := range batch.Results {
		if r.Success {
			fmt.Printf("  ok   %-20s %s\n", r.BrandSlug, r.VideoPath)
			if r.PublicURL != "" {
				fmt.Printf("       %s\n", r.PublicURL)
			}
		} else {
			fmt.Printf("  FAIL %-20s %s\n", r.BrandSlug, r.Error)
		}
	}
}

func brandsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "brands",
		Short: "List available brand profiles",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			loader := brand.NewLoader(cfg.Paths.Brands)
			slugs := loader.List()
			if len(slugs) == 0 {
				fmt.Printf("no brand profiles in %s\n", cfg.Paths.Brands)
				return nil
			}
			for _, slug := range slugs {
				p, err := loader.Load(slug)
				if err != nil {
					fmt.Printf("  %-24s (invalid: %v)\n", slug, err)
					continue
				}
				fmt.Printf("  %-24s %s\n", slug, p.Name)
			}
			return nil
		},
	}
}

func cacheCmd() *cobra.Command {
	cacheRoot := &cobra.Command{
		Use:   "cache",
		Short: "Manage the generation cache",
	}
	cacheRoot.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Remove all cached scripts, audio and footage",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			total := 0
			for _, sub := range []string{"scripts", "audio_metadata", "footage_metadata"} {
				c, err := cache.New(cfg.Paths.CacheRoot, sub)
				if err != nil {
					return err
				}
				n, err := c.Clear()
				if err != nil {
					return err
				}
				total += n
			}
			for _, sub := range []string{"audio", "footage"} {
				n, err := removeDirFiles(cfg.Paths.CacheRoot, sub)
				if err != nil {
					return err
				}
				total += n
			}
			fmt.Printf("removed %d cached entries\n", total)
			return nil
		},
	})
	return cacheRoot
}

// removeDirFiles deletes the regular files in {root}/{sub}, ignoring a
// missing directory.
func removeDirFiles(root, sub string) (int, error) {
	dir := filepath.Join(root, sub)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("read %s: %w", dir, err)
	}
	removed := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if err := os.Remove(filepath.Join(dir, e.Name())); err != nil {
			return removed, fmt.Errorf("remove %s: %w", e.Name(), err)
		}
		removed++
	}
	return removed, nil
}
