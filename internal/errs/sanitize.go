package errs

import (
	"regexp"
	"strings"
)

// SECURITY: these patterns keep provider credentials, session tokens
// and internal IDs out of logs and anything returned to a caller.
var sensitivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)password\s*[:=]\s*\S+`),
	regexp.MustCompile(`(?i)token\s*[:=]\s*\S+`),
	regexp.MustCompile(`(?i)secret\s*[:=]\s*\S+`),
	regexp.MustCompile(`(?i)api[_-]?key\s*[:=]\s*\S+`),
	regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9\-._~+/]+=*`),
	regexp.MustCompile(`[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}`),
	regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`),
	regexp.MustCompile(`[/\\][a-zA-Z0-9_\-./\\]+`),
}

var stackTracePatterns = []*regexp.Regexp{
	regexp.MustCompile(`goroutine \d+`),
	regexp.MustCompile(`\.go:\d+`),
	regexp.MustCompile(`\b0x[0-9a-fA-F]+\b`),
}

// Sanitize removes sensitive substrings from err's message, for safe
// inclusion in a trace or log line.
func Sanitize(err error) string {
	if err == nil {
		return ""
	}
	return SanitizeString(err.Error())
}

func SanitizeString(input string) string {
	if input == "" {
		return ""
	}
	result := input
	for _, p := range sensitivePatterns {
		result = p.ReplaceAllString(result, "[REDACTED]")
	}
	for _, p := range stackTracePatterns {
		result = p.ReplaceAllString(result, "")
	}
	result = strings.TrimSpace(result)
	return regexp.MustCompile(`\s+`).ReplaceAllString(result, " ")
}

// RedactUser replaces occurrences of userID in message with a placeholder,
// so a user ID never leaks through a log line below debug level.
func RedactUser(message, userID string) string {
	if userID == "" {
		return message
	}
	re := regexp.MustCompile(`(?i)` + regexp.QuoteMeta(userID))
	return re.ReplaceAllString(message, "[USER]")
}
