// Package prompt turns a brand brief into generation prompts. The Gemini
// generator is the primary capability; the static generator is both its
// fallback and the deterministic choice for environments without an API key.
package prompt

import (
	"context"
	"fmt"
	"strings"

	"github.com/square-1111/LogoKraft/internal/domain"
)

// Generator produces exactly count prompts for the brief. Returning a
// different count is treated by the caller as a batch-level failure.
type Generator interface {
	Generate(ctx context.Context, brief domain.Brief, count int) ([]string, error)
}

// Logo archetypes and their share of a full 15-concept portfolio.
var archetypes = []struct {
	name  string
	style string
	share int
}{
	{"abstract mark", "a distinctive abstract geometric symbol, strong silhouette, no text", 4},
	{"lettermark", "a monogram built from the company initials, bold custom letterforms", 3},
	{"wordmark", "the full company name set in a custom typographic treatment", 3},
	{"combination mark", "a symbol paired with the company name, balanced lockup", 3},
	{"pictorial mark", "a simplified literal icon representing the business, flat vector style", 2},
}

// StaticGenerator produces deterministic prompts spanning the archetype
// distribution. It needs no network access.
type StaticGenerator struct{}

// NewStaticGenerator constructs the fallback generator.
func NewStaticGenerator() *StaticGenerator {
	return &StaticGenerator{}
}

// Generate returns count prompts cycling through the archetype sequence.
func (s *StaticGenerator) Generate(ctx context.Context, brief domain.Brief, count int) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if count <= 0 {
		return nil, fmt.Errorf("prompt count must be positive, got %d", count)
	}
	sequence := archetypeSequence()
	subject := strings.TrimSpace(brief.CompanyName)
	if subject == "" {
		subject = strings.TrimSpace(brief.Description)
	}
	industry := strings.TrimSpace(brief.Industry)
	if industry == "" {
		industry = "general business"
	}

	prompts := make([]string, 0, count)
	for i := 0; i < count; i++ {
		arch := sequence[i%len(sequence)]
		variant := i/len(sequence) + 1
		prompt := fmt.Sprintf(
			"Professional logo design for %q (%s industry): %s, %s. Clean studio presentation, solid background, high contrast, concept %d.",
			subject, industry, arch.name, arch.style, variant,
		)
		if desc := strings.TrimSpace(brief.Description); desc != "" {
			prompt += " Brand context: " + desc + "."
		}
		prompts = append(prompts, prompt)
	}
	return prompts, nil
}

// archetypeSequence expands archetypes by share: 4 abstract, 3 lettermark,
// 3 wordmark, 3 combination, 2 pictorial.
func archetypeSequence() []struct {
	name  string
	style string
	share int
} {
	var sequence []struct {
		name  string
		style string
		share int
	}
	for _, arch := range archetypes {
		for i := 0; i < arch.share; i++ {
			sequence = append(sequence, arch)
		}
	}
	return sequence
}

var _ Generator = (*StaticGenerator)(nil)
