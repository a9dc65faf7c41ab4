// Package brand loads and validates the per-brand profiles that drive
// voice, colors and call-to-action for generated videos.
package brand

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Colors is the brand palette. Values accept hex (#rgb / #rrggbb),
// rgb(r,g,b) or a small set of named colors, and are normalized to
// lowercase #rrggbb on load.
type Colors struct {
	Primary   string `yaml:"primary" validate:"required"`
	Secondary string `yaml:"secondary" validate:"required"`
	Accent    string `yaml:"accent,omitempty"`
}

// Profile is the visual/voice identity for one brand. Immutable for the
// duration of a generation run.
type Profile struct {
	Name        string `yaml:"name" validate:"required"`
	Slug        string `yaml:"slug" validate:"required"`
	Category    string `yaml:"category"`
	Colors      Colors `yaml:"colors" validate:"required"`
	VoiceID     string `yaml:"voice_id"`
	CTAText     string `yaml:"cta_text" validate:"required"`
	CTAURL      string `yaml:"cta_url" validate:"required,url"`
	Description string `yaml:"description,omitempty"`
	Audience    string `yaml:"audience,omitempty"`
}

var (
	hexShort = regexp.MustCompile(`^#[0-9a-fA-F]{3}$`)
	hexLong  = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)
	rgbForm  = regexp.MustCompile(`^rgb\(\s*(\d{1,3})\s*,\s*(\d{1,3})\s*,\s*(\d{1,3})\s*\)$`)
)

var namedColors = map[string]string{
	"black":   "#000000",
	"white":   "#ffffff",
	"red":     "#ff0000",
	"green":   "#008000",
	"blue":    "#0000ff",
	"yellow":  "#ffff00",
	"cyan":    "#00ffff",
	"magenta": "#ff00ff",
	"gray":    "#808080",
	"grey":    "#808080",
	"orange":  "#ffa500",
	"purple":  "#800080",
	"pink":    "#ffc0cb",
	"teal":    "#008080",
	"navy":    "#000080",
	"coral":   "#ff7f50",
	"gold":    "#ffd700",
}

// NormalizeColor converts a hex, rgb(r,g,b) or named color value to
// lowercase #rrggbb form.
func NormalizeColor(value string) (string, error) {
	v := strings.TrimSpace(strings.ToLower(value))
	if v == "" {
		return "", fmt.Errorf("empty color value")
	}

	switch {
	case hexLong.MatchString(v):
		return v, nil
	case hexShort.MatchString(v):
		// #abc -> #aabbcc
		return fmt.Sprintf("#%c%c%c%c%c%c", v[1], v[1], v[2], v[2], v[3], v[3]), nil
	}

	if m := rgbForm.FindStringSubmatch(v); m != nil {
		var parts [3]int
		for i := 0; i < 3; i++ {
			n, err := strconv.Atoi(m[i+1])
			if err != nil || n > 255 {
				return "", fmt.Errorf("invalid rgb component %q in %q", m[i+1], value)
			}
			parts[i] = n
		}
		return fmt.Sprintf("#%02x%02x%02x", parts[0], parts[1], parts[2]), nil
	}

	if hex, ok := namedColors[v]; ok {
		return hex, nil
	}
	return "", fmt.Errorf("unrecognized color value %q", value)
}

// normalize validates and rewrites every color in the palette.
func (c *Colors) normalize() error {
	primary, err := NormalizeColor(c.Primary)
	if err != nil {
		return fmt.Errorf("primary: %w", err)
	}
	secondary, err := NormalizeColor(c.Secondary)
	if err != nil {
		return fmt.Errorf("secondary: %w", err)
	}
	c.Primary = primary
	c.Secondary = secondary

	if c.Accent != "" {
		accent, err := NormalizeColor(c.Accent)
		if err != nil {
			return fmt.Errorf("accent: %w", err)
		}
		c.Accent = accent
	}
	return nil
}
