package llm

import (
	"fmt"
	"net/url"
	"time"
)

// Valid ranges for common request parameters, shared by all providers.
const (
	MinTemperature = 0.0
	// MaxTemperature accommodates providers like Gemini that accept up to 2.0.
	MaxTemperature = 2.0
	MinTopP        = 0.0
	MaxTopP        = 1.0
	MinTimeout     = 1 * time.Second
	MaxTimeout     = 10 * time.Minute
)

// IsValidTemperature checks if the temperature is within [0.0, 2.0].
func IsValidTemperature(val float64) bool {
	return val >= MinTemperature && val <= MaxTemperature
}

// IsValidTopP checks if the top_p value is within [0.0, 1.0].
func IsValidTopP(val float64) bool {
	return val >= MinTopP && val <= MaxTopP
}

// IsPositiveInt checks if the integer value is positive.
func IsPositiveInt(val int) bool { return val > 0 }

// IsNonEmptyString checks if the string is non-empty.
func IsNonEmptyString(val string) bool { return val != "" }

// ValidateBaseURL validates and normalizes a base URL string.
// An empty string is valid and means the provider default.
func ValidateBaseURL(baseURL string) (string, error) {
	if baseURL == "" {
		return "", nil
	}

	parsedURL, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid URL format: %w", err)
	}

	if parsedURL.Scheme == "" {
		return "", fmt.Errorf("URL must include a scheme (e.g., http:// or https://)")
	}

	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return "", fmt.Errorf("URL scheme must be http or https, but got: %s", parsedURL.Scheme)
	}

	if parsedURL.Host == "" {
		return "", fmt.Errorf("URL must include a host")
	}

	return parsedURL.String(), nil
}

// ValidateTimeout clamps a timeout into [MinTimeout, MaxTimeout].
// Zero or negative returns zero, meaning the provider default.
func ValidateTimeout(timeout time.Duration) time.Duration {
	if timeout <= 0 {
		return 0
	}
	return min(max(timeout, MinTimeout), MaxTimeout)
}

// ClampFloat64 clamps a float64 value into [lo, hi].
func ClampFloat64(val, lo, hi float64) float64 {
	return min(max(val, lo), hi)
}
