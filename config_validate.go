package transit

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ValidationError describes one problem found in a YAML configuration
// document, adapted from the teacher's pkg/config validator: field
// path, the offending value, a message, and where available a typo
// correction or a usage hint.
type ValidationError struct {
	Field      string
	Value      string
	Message    string
	Expected   string
	Hint       string
	DidYouMean string
}

// ValidationResult accumulates every ValidationError found by Validate
// so callers see the whole document's problems at once rather than
// stopping at the first one.
type ValidationResult struct {
	Errors []ValidationError
}

func (v *ValidationResult) add(e ValidationError) { v.Errors = append(v.Errors, e) }

// HasErrors reports whether any validation error was recorded.
func (v *ValidationResult) HasErrors() bool { return len(v.Errors) > 0 }

// FormatErrors renders every recorded error into a human-readable
// report, in the teacher's indented tree-of-bullets style.
func (v *ValidationResult) FormatErrors() string {
	if !v.HasErrors() {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("\nConfiguration errors:\n")
	for i, e := range v.Errors {
		sb.WriteString(fmt.Sprintf("\n  %d. %s\n", i+1, e.Field))
		if e.Value != "" {
			sb.WriteString(fmt.Sprintf("     - value: %q\n", truncateValue(e.Value, 50)))
		}
		sb.WriteString(fmt.Sprintf("     - error: %s\n", e.Message))
		if e.Expected != "" {
			sb.WriteString(fmt.Sprintf("     - expected: %s\n", e.Expected))
		}
		if e.DidYouMean != "" {
			sb.WriteString(fmt.Sprintf("     - did you mean: %q?\n", e.DidYouMean))
		}
		if e.Hint != "" {
			sb.WriteString(fmt.Sprintf("     - hint: %s\n", e.Hint))
		}
	}
	return sb.String()
}

var validHostnameVerify = []string{"builtin", "client", "none"}
var validAuthSchemes = []string{"none", "basic", "digest", "ntlm", "negotiate"}

var fieldHints = map[string]string{
	"connect_timeout":           "duration with unit, e.g. '10s'",
	"socket_timeout":            "duration with unit, e.g. '30s'",
	"handshake_timeout":         "duration with unit, e.g. '10s'",
	"hostname_verify":           "one of: builtin, client, none",
	"preferred_scheme":          "one of: none, basic, digest, ntlm, negotiate",
	"circuit_breaker.stop_if":   "a condition like 'errors > 10%' or 'error_rate > 0.1'",
	"circuit_breaker.min_samples": "positive integer sample-count floor before the breaker can trip",
}

// Validate checks a parsed YAML document for typos and malformed
// values before it is layered onto DefaultConfig, the same
// fail-fast-with-suggestions contract as the teacher's pkg/config
// Validate.
func Validate(y yamlConfig) ValidationResult {
	var result ValidationResult

	checkDuration(&result, "connect_timeout", y.ConnectTimeout)
	checkDuration(&result, "socket_timeout", y.SocketTimeout)
	checkDuration(&result, "handshake_timeout", y.HandshakeTimeout)
	checkDuration(&result, "lease_timeout", y.LeaseTimeout)
	checkDuration(&result, "request_deadline", y.RequestDeadline)
	checkDuration(&result, "validate_after_inactivity", y.ValidateAfterInactivity)
	checkDuration(&result, "time_to_live", y.TimeToLive)
	checkDuration(&result, "idle_timeout", y.IdleTimeout)

	if y.HostnameVerify != "" {
		if _, ok := parseHostnameVerify(y.HostnameVerify); !ok {
			result.add(ValidationError{
				Field:      "hostname_verify",
				Value:      y.HostnameVerify,
				Message:    "unrecognized hostname verification mode",
				DidYouMean: findClosestMatch(y.HostnameVerify, validHostnameVerify),
				Hint:       fieldHints["hostname_verify"],
			})
		}
	}

	if y.PreferredScheme != "" {
		if _, ok := parseAuthScheme(y.PreferredScheme); !ok {
			result.add(ValidationError{
				Field:      "preferred_scheme",
				Value:      y.PreferredScheme,
				Message:    "unrecognized authentication scheme",
				DidYouMean: findClosestMatch(y.PreferredScheme, validAuthSchemes),
				Hint:       fieldHints["preferred_scheme"],
			})
		}
	}

	for _, code := range y.RetriableStatus {
		if code < 100 || code > 599 {
			result.add(ValidationError{
				Field:   "retriable_status",
				Value:   strconv.Itoa(code),
				Message: "not a valid HTTP status code",
			})
		}
	}

	if y.MaxPerRoute < 0 {
		result.add(ValidationError{Field: "max_per_route", Value: strconv.Itoa(y.MaxPerRoute), Message: "must be >= 0"})
	}
	if y.MaxTotal < 0 {
		result.add(ValidationError{Field: "max_total", Value: strconv.Itoa(y.MaxTotal), Message: "must be >= 0"})
	}
	if y.MaxRedirects < 0 {
		result.add(ValidationError{Field: "max_redirects", Value: strconv.Itoa(y.MaxRedirects), Message: "must be >= 0"})
	}

	if y.CircuitBreaker != nil {
		if y.CircuitBreaker.StopIf == "" {
			result.add(ValidationError{
				Field:   "circuit_breaker.stop_if",
				Message: "circuit_breaker requires stop_if",
				Hint:    fieldHints["circuit_breaker.stop_if"],
			})
		}
		if y.CircuitBreaker.MinSamples < 0 {
			result.add(ValidationError{
				Field:   "circuit_breaker.min_samples",
				Value:   strconv.FormatInt(y.CircuitBreaker.MinSamples, 10),
				Message: "must be >= 0",
				Hint:    fieldHints["circuit_breaker.min_samples"],
			})
		}
	}

	return result
}

func checkDuration(result *ValidationResult, field, value string) {
	if value == "" {
		return
	}
	if _, err := time.ParseDuration(value); err != nil {
		result.add(ValidationError{
			Field:    field,
			Value:    value,
			Message:  "not a valid duration",
			Expected: "a Go duration string, e.g. '10s', '500ms', '2m'",
			Hint:     fieldHints[field],
		})
	}
}

// findClosestMatch returns the option in validOptions closest to input
// by Levenshtein distance, or "" if nothing is close enough to be a
// plausible typo correction.
func findClosestMatch(input string, validOptions []string) string {
	if input == "" {
		return ""
	}
	best := ""
	bestDistance := 100
	for _, option := range validOptions {
		d := levenshteinDistance(input, option)
		if d < bestDistance && d <= len(option)/2+1 {
			bestDistance = d
			best = option
		}
	}
	if strings.EqualFold(input, best) {
		return ""
	}
	return best
}

func levenshteinDistance(a, b string) int {
	a = strings.ToLower(a)
	b = strings.ToLower(b)
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	matrix := make([][]int, len(a)+1)
	for i := range matrix {
		matrix[i] = make([]int, len(b)+1)
		matrix[i][0] = i
	}
	for j := range matrix[0] {
		matrix[0][j] = j
	}

	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			matrix[i][j] = minOf3(matrix[i-1][j]+1, matrix[i][j-1]+1, matrix[i-1][j-1]+cost)
		}
	}
	return matrix[len(a)][len(b)]
}

func minOf3(a, b, c int) int {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	return m
}

func truncateValue(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
