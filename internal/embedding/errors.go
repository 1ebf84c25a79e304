package embedding

import "strings"

// Category is the sanitized error vocabulary surfaced to storage and logs.
// Raw provider error text may carry credentials or internal identifiers, so
// only these categories ever leave this package.
type Category string

// Sanitized embedding error categories
const (
	CategoryRateLimited  Category = "rate_limited"
	CategoryAuthFailed   Category = "auth_failed"
	CategoryInvalidInput Category = "invalid_input"
	CategoryTransient    Category = "transient"
)

// Categorize maps a provider error onto the fixed category vocabulary.
func Categorize(err error) Category {
	if err == nil {
		return CategoryTransient
	}
	msg := strings.ToLower(err.Error())

	switch {
	case strings.Contains(msg, "429") ||
		strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "quota") ||
		strings.Contains(msg, "resource exhausted"):
		return CategoryRateLimited
	case strings.Contains(msg, "401") ||
		strings.Contains(msg, "403") ||
		strings.Contains(msg, "api key") ||
		strings.Contains(msg, "unauthenticated") ||
		strings.Contains(msg, "permission denied"):
		return CategoryAuthFailed
	case strings.Contains(msg, "400") ||
		strings.Contains(msg, "invalid argument") ||
		strings.Contains(msg, "dimension") ||
		strings.Contains(msg, "mismatch"):
		return CategoryInvalidInput
	default:
		return CategoryTransient
	}
}
