package engine

import (
	"context"
	"fmt"
	"strings"
	"unicode"
)

// Slugify folds a sandbox name into a URL-safe identifier: lower-cased, with
// every run of non-alphanumeric characters collapsed to a single hyphen.
func Slugify(name string) string {
	var b strings.Builder
	pendingDash := false
	for _, r := range strings.ToLower(name) {
		if unicode.IsLower(r) || unicode.IsDigit(r) {
			if pendingDash && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingDash = false
			b.WriteRune(r)
		} else {
			pendingDash = true
		}
	}
	return b.String()
}

// uniqueSlug returns the first free slug for the user: the base itself, then
// base-1, base-2, ... in order. Deterministic for a fixed creation sequence.
func (e *Engine) uniqueSlug(ctx context.Context, userID, base string) (string, error) {
	taken, err := e.store.SlugExists(ctx, userID, base)
	if err != nil {
		return "", err
	}
	if !taken {
		return base, nil
	}
	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s-%d", base, i)
		taken, err := e.store.SlugExists(ctx, userID, candidate)
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}
	}
}
