package dom

import (
	"context"
	"fmt"
	"strings"
)

// ContentTags are the elements considered when matching by text content.
var ContentTags = []string{"input", "button", ".alert", "a", "p", "h1", "h2", "h3", "h4", "h5", "h6"}

// ContentSelector is ContentTags joined into one selector group.
var ContentSelector = strings.Join(ContentTags, ", ")

// Find returns the elements a step targets. With byContent set, selector is
// a text fragment matched against the content tag group; otherwise it is a
// CSS selector.
func Find(ctx context.Context, doc Document, byContent bool, selector string) ([]Element, error) {
	if !byContent {
		els, err := doc.Query(ctx, selector)
		if err != nil {
			return nil, fmt.Errorf("query %q: %w", selector, err)
		}
		return els, nil
	}
	els, err := doc.Query(ctx, ContentSelector)
	if err != nil {
		return nil, fmt.Errorf("query content tags: %w", err)
	}
	var out []Element
	for _, el := range els {
		if strings.Contains(el.Text, selector) {
			out = append(out, el)
		}
	}
	return out, nil
}

// Describe renders a selector the way a reader would recognize it in a
// failure message.
func Describe(byContent bool, selector string) string {
	if byContent {
		return fmt.Sprintf("content %q", selector)
	}
	return fmt.Sprintf("selector %q", selector)
}
