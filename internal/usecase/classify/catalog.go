package classify

import (
	"fmt"
	"strings"

	"github.com/deepfield-io/zoomdex/internal/domain"
)

// Catalog is the versioned, immutable category-prompt list. Changing the
// categories means shipping a new version: cached prompt embeddings are
// keyed by version and model, so a stale set is never scored against.
type Catalog struct {
	Version    string
	Categories []Category
}

// Category pairs the label callers receive with the prompt that is
// actually encoded.
type Category struct {
	Label  string
	Prompt string
}

// Validate rejects catalogs that cannot produce a stable classification.
func (c Catalog) Validate() error {
	if strings.TrimSpace(c.Version) == "" {
		return domain.NewValidation("catalog.version", "required")
	}
	if len(c.Categories) == 0 {
		return domain.NewValidation("catalog.categories", "at least one required")
	}
	seen := make(map[string]struct{}, len(c.Categories))
	for i, cat := range c.Categories {
		if strings.TrimSpace(cat.Label) == "" {
			return domain.NewValidation("catalog.categories", fmt.Sprintf("entry %d has no label", i))
		}
		if _, dup := seen[cat.Label]; dup {
			return domain.NewValidation("catalog.categories", fmt.Sprintf("duplicate label %q", cat.Label))
		}
		seen[cat.Label] = struct{}{}
	}
	return nil
}

// PromptTexts returns the encoder inputs, falling back to the bare label
// when a category carries no prompt.
func (c Catalog) PromptTexts() []string {
	texts := make([]string, len(c.Categories))
	for i, cat := range c.Categories {
		if cat.Prompt != "" {
			texts[i] = cat.Prompt
		} else {
			texts[i] = cat.Label
		}
	}
	return texts
}
