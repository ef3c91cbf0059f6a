package errs

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeStringRedactsCredentials(t *testing.T) {
	in := "login failed: password=hunter2 token: abc123 api_key=sk-live-xyz"
	out := SanitizeString(in)
	assert.NotContains(t, out, "hunter2")
	assert.NotContains(t, out, "abc123")
	assert.NotContains(t, out, "sk-live-xyz")
	assert.Contains(t, out, "[REDACTED]")
}

func TestSanitizeStringStripsStackTraceNoise(t *testing.T) {
	in := "panic in goroutine 42 at handler.go:117 addr=0x1a2b3c"
	out := SanitizeString(in)
	assert.NotContains(t, out, "goroutine 42")
	assert.NotContains(t, out, "handler.go:117")
	assert.NotContains(t, out, "0x1a2b3c")
}

func TestSanitizeStringCollapsesWhitespace(t *testing.T) {
	out := SanitizeString("a   b\t\tc\n\nd")
	assert.Equal(t, "a b c d", out)
}

func TestSanitizeNilErrorIsEmpty(t *testing.T) {
	assert.Equal(t, "", Sanitize(nil))
}

func TestSanitizeWrapsErrError(t *testing.T) {
	out := Sanitize(errors.New("token: abc123"))
	assert.Contains(t, out, "[REDACTED]")
}

func TestRedactUserReplacesOccurrences(t *testing.T) {
	out := RedactUser("user u-42 said hi, u-42 again", "u-42")
	assert.Equal(t, "user [USER] said hi, [USER] again", out)
}

func TestRedactUserNoopOnEmptyID(t *testing.T) {
	assert.Equal(t, "unchanged", RedactUser("unchanged", ""))
}
