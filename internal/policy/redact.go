package policy

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// MaxErrorTextLength bounds the failure reason stored on a job row.
const MaxErrorTextLength = 2000

var (
	slackTokenPattern = regexp.MustCompile(`\bxox[abposr]-[A-Za-z0-9-]+`)
	bearerPattern     = regexp.MustCompile(`(?i)\bbearer\s+[A-Za-z0-9._~+/=-]+`)
	apiKeyPattern     = regexp.MustCompile(`\bsk-[A-Za-z0-9_-]{8,}`)
	signaturePattern  = regexp.MustCompile(`\bv0=[0-9a-fA-F]{16,}`)
	whitespacePattern = regexp.MustCompile(`\s+`)
)

// MaskSecrets replaces credentials that tend to leak into provider error bodies.
func MaskSecrets(value string) string {
	masked := slackTokenPattern.ReplaceAllString(value, "[slack_token_redacted]")
	masked = bearerPattern.ReplaceAllString(masked, "Bearer [redacted]")
	masked = apiKeyPattern.ReplaceAllString(masked, "[api_key_redacted]")
	masked = signaturePattern.ReplaceAllString(masked, "v0=[redacted]")
	return masked
}

// SanitizeErrorText prepares a failure reason for storage: secrets masked,
// whitespace collapsed, invalid UTF-8 dropped and the result capped at maxLen runes.
func SanitizeErrorText(value string, maxLen int) string {
	if maxLen <= 0 {
		maxLen = MaxErrorTextLength
	}
	if !utf8.ValidString(value) {
		value = strings.ToValidUTF8(value, "")
	}
	cleaned := whitespacePattern.ReplaceAllString(MaskSecrets(value), " ")
	cleaned = strings.TrimSpace(cleaned)
	if utf8.RuneCountInString(cleaned) <= maxLen {
		return cleaned
	}
	runes := []rune(cleaned)
	const marker = "...[truncated]"
	cut := maxLen - utf8.RuneCountInString(marker)
	if cut < 0 {
		return string(runes[:maxLen])
	}
	return string(runes[:cut]) + marker
}
