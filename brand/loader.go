package brand

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Loader reads brand profiles from {dir}/{slug}.yaml, validates them and
// memoizes the result per process.
type Loader struct {
	dir      string
	validate *validator.Validate

	mu   sync.Mutex
	memo map[string]*Profile

	log zerolog.Logger
}

// NewLoader returns a Loader rooted at dir.
func NewLoader(dir string) *Loader {
	return &Loader{
		dir:      dir,
		validate: validator.New(),
		memo:     make(map[string]*Profile),
		log:      log.With().Str("component", "brand").Logger(),
	}
}

// Load reads and validates the profile for slug. Colors are normalized to
// lowercase #rrggbb. Results are cached for the life of the process.
func (l *Loader) Load(slug string) (*Profile, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if p, ok := l.memo[slug]; ok {
		return p, nil
	}

	path := filepath.Join(l.dir, slug+".yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			available := l.list()
			return nil, fmt.Errorf("brand %q not found, available brands: %s",
				slug, strings.Join(available, ", "))
		}
		return nil, fmt.Errorf("read brand profile %s: %w", path, err)
	}

	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse brand profile %s: %w", path, err)
	}
	if err := l.validate.Struct(&p); err != nil {
		return nil, fmt.Errorf("invalid brand profile %s: %w", path, err)
	}
	if err := p.Colors.normalize(); err != nil {
		return nil, fmt.Errorf("invalid colors in %s: %w", path, err)
	}

	l.log.Info().Str("slug", p.Slug).Str("name", p.Name).Msg("loaded brand profile")
	l.memo[slug] = &p
	return &p, nil
}

// List returns the slugs of every available brand profile, sorted.
func (l *Loader) List() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.list()
}

func (l *Loader) list() []string {
	matches, err := filepath.Glob(filepath.Join(l.dir, "*.yaml"))
	if err != nil {
		return nil
	}
	slugs := make([]string, 0, len(matches))
	for _, m := range matches {
		slugs = append(slugs, strings.TrimSuffix(filepath.Base(m), ".yaml"))
	}
	sort.Strings(slugs)
	return slugs
}
