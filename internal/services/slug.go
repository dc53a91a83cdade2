package services

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"memoria/internal/errs"
)

const (
	// MaxSlugAttempts bounds the number of candidates tried per allocation.
	MaxSlugAttempts = 100

	// MaxSlugLength matches the memorial_pages.slug column size.
	MaxSlugLength = 128
)

var nonSlugChars = regexp.MustCompile(`[^a-z0-9]+`)

// SlugExistsFunc reports whether a slug is already taken.
type SlugExistsFunc func(ctx context.Context, slug string) (bool, error)

// NormalizeSlug lower-cases name, collapses every run of characters outside
// [a-z0-9] into one '-' and trims leading and trailing '-'.
func NormalizeSlug(name string) string {
	s := nonSlugChars.ReplaceAllString(strings.ToLower(name), "-")
	return strings.Trim(s, "-")
}

// AllocateUniqueSlug returns the first free candidate among base, base-1,
// base-2, ... The result is only reserved once the caller inserts it under
// the unique index; callers retry on a duplicate key.
func AllocateUniqueSlug(ctx context.Context, name string, exists SlugExistsFunc) (string, error) {
	base := NormalizeSlug(name)
	if base == "" {
		return "", errs.Errorf(errs.Invalid, "name required")
	}

	for i := 0; i < MaxSlugAttempts; i++ {
		if err := ctx.Err(); err != nil {
			return "", errs.Upstreamf(err, "allocate slug")
		}

		candidate := truncateSlug(base, MaxSlugLength)
		if i > 0 {
			suffix := "-" + strconv.Itoa(i)
			candidate = truncateSlug(base, MaxSlugLength-len(suffix)) + suffix
		}

		taken, err := exists(ctx, candidate)
		if err != nil {
			return "", errs.Upstreamf(err, "check slug %q", candidate)
		}
		if !taken {
			return candidate, nil
		}
	}
	return "", errs.Errorf(errs.Conflict, "could not allocate unique name")
}

// truncateSlug cuts s to at most n bytes without leaving a trailing '-'.
// Slugs are ASCII so byte and rune lengths agree.
func truncateSlug(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return strings.TrimRight(s[:n], "-")
}
