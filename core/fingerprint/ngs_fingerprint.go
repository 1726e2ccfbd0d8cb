// Package fingerprint derives stable identities for alerts and email
// formats. The alert fingerprint answers "is this the same alert?", the
// format signature answers "is this the same kind of email?".
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

const (
	// signaturePrefixLen bounds how much of the normalized signature
	// participates in the fingerprint.
	signaturePrefixLen = 80

	// fingerprintHexLen is the truncated sha256 output length.
	fingerprintHexLen = 32
)

var (
	reGUID      = regexp.MustCompile(`[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}`)
	reHexID     = regexp.MustCompile(`\b[0-9a-f]{12,64}\b`)
	reTimestamp = regexp.MustCompile(`\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}(:\d{2})?(\.\d+)?(Z|[+-]\d{2}:?\d{2})?`)
	reKeyNum    = regexp.MustCompile(`\b(pid|port|count|duration|latency|id|ticket)\s*[=#:]\s*\d+`)
	reIPv4      = regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`)
	reDigits    = regexp.MustCompile(`\d+`)
	reSpaces    = regexp.MustCompile(`\s+`)

	// Severity and state words are stripped from the fingerprint input so
	// that escalations and recoveries keep the same identity.
	reStatusTokens = regexp.MustCompile(`\b(critical|crit|emergency|alert|major|minor|high|medium|low|info|warning|warn|ok|recovery|resolved|problem|firing|clear|red|green|yellow)\b`)
)

// NormalizeSignature produces the human-readable signature for an alert:
// lowercased subject plus a bounded body excerpt with volatile tokens
// replaced by placeholders.
func NormalizeSignature(subject, body string) string {
	if len(body) > 500 {
		body = body[:500]
	}
	s := strings.ToLower(subject + " " + body)

	s = reGUID.ReplaceAllString(s, "<guid>")
	s = reTimestamp.ReplaceAllString(s, "<ts>")
	s = reIPv4.ReplaceAllString(s, "<ip>")
	s = reKeyNum.ReplaceAllStringFunc(s, func(m string) string {
		idx := strings.IndexAny(m, "=#:")
		return strings.TrimSpace(m[:idx]) + "=<n>"
	})
	s = reHexID.ReplaceAllString(s, "<id>")
	s = reDigits.ReplaceAllString(s, "<n>")
	s = reSpaces.ReplaceAllString(s, " ")

	return strings.TrimSpace(s)
}

// CanonicalHost lowercases the host and strips a trailing dot. Numeric
// suffixes stay: web-01 and web-02 are different machines.
func CanonicalHost(host string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(host)), ".")
}

// CanonicalCheck lowercases the check/service name and collapses digit
// runs, so "disk_check_3" and "disk_check_7" fold together.
func CanonicalCheck(check string) string {
	c := strings.ToLower(strings.TrimSpace(check))
	return reDigits.ReplaceAllString(c, "*")
}

// Fingerprint computes the v2 alert identity: 32 lowercase hex chars of
// sha256 over the identity tuple. Severity and state never participate,
// so escalations and recoveries keep the same fingerprint.
func Fingerprint(sourceTool, environment, host, checkOrService, normalizedSignature string) string {
	prefix := reStatusTokens.ReplaceAllString(strings.ToLower(normalizedSignature), "")
	prefix = strings.TrimSpace(reSpaces.ReplaceAllString(prefix, " "))
	if len(prefix) > signaturePrefixLen {
		prefix = prefix[:signaturePrefixLen]
	}

	input := strings.Join([]string{
		strings.ToLower(strings.TrimSpace(sourceTool)),
		strings.ToLower(strings.TrimSpace(environment)),
		CanonicalHost(host),
		CanonicalCheck(checkOrService),
		prefix,
	}, "|")

	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])[:fingerprintHexLen]
}
