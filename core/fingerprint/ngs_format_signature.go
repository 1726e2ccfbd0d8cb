package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"sort"
	"strings"
)

// bodyMarkerVocabulary is the fixed set of tokens whose presence in a
// body characterizes the message shape. Order here is irrelevant;
// markers are sorted before hashing.
var bodyMarkerVocabulary = []string{
	"severity", "status", "alert", "host:", "service:",
	"critical", "warning", "problem", "recovery",
	"impact", "duration", "opened", "closed", "check",
}

const subjectPrefixLen = 50

var (
	reBracketNum = regexp.MustCompile(`\[\d+\]`)
	reDateToken  = regexp.MustCompile(`\d{4}[-/]\d{2}[-/]\d{2}`)
	reDigitRun   = regexp.MustCompile(`\d+`)
)

// FormatSignature identifies the shape of an email format, independent
// of the concrete alert it carries.
type FormatSignature struct {
	FromDomain    string
	SubjectPrefix string
	BodyMarkers   []string
	Hash          string // 64-hex sha256
}

// NormalizeSubjectPrefix stabilizes a subject line into a format-level
// prefix: bracketed counters become [*], dates *DATE*, digit runs *N*,
// truncated to 50 chars.
func NormalizeSubjectPrefix(subject string) string {
	s := strings.TrimSpace(subject)
	s = reBracketNum.ReplaceAllString(s, "[*]")
	s = reDateToken.ReplaceAllString(s, "*DATE*")
	s = reDigitRun.ReplaceAllString(s, "*N*")
	if len(s) > subjectPrefixLen {
		s = s[:subjectPrefixLen]
	}
	return s
}

// FromDomain extracts the domain part of an address, lowercased.
func FromDomain(fromAddress string) string {
	addr := strings.TrimSpace(fromAddress)
	if i := strings.LastIndex(addr, "<"); i >= 0 {
		addr = strings.TrimSuffix(addr[i+1:], ">")
	}
	if i := strings.LastIndex(addr, "@"); i >= 0 {
		return strings.ToLower(strings.TrimRight(addr[i+1:], "> "))
	}
	return ""
}

// ExtractBodyMarkers returns the sorted subset of the marker vocabulary
// present in the body.
func ExtractBodyMarkers(body string) []string {
	lower := strings.ToLower(body)
	var markers []string
	for _, m := range bodyMarkerVocabulary {
		if strings.Contains(lower, m) {
			markers = append(markers, m)
		}
	}
	sort.Strings(markers)
	return markers
}

// Compute builds the full format signature for a message.
func Compute(fromAddress, subject, body string) FormatSignature {
	sig := FormatSignature{
		FromDomain:    FromDomain(fromAddress),
		SubjectPrefix: NormalizeSubjectPrefix(subject),
		BodyMarkers:   ExtractBodyMarkers(body),
	}
	input := sig.FromDomain + "|" + sig.SubjectPrefix + "|" + strings.Join(sig.BodyMarkers, ",")
	sum := sha256.Sum256([]byte(input))
	sig.Hash = hex.EncodeToString(sum[:])
	return sig
}
