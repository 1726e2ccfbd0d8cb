package redact

import (
	"regexp"

	"github.com/kapella-hub/ngs/pkg/apperr"
)

// rule pairs a compiled pattern with its replacement.
type rule struct {
	re          *regexp.Regexp
	replacement string
}

// defaultRules scrub credentials and PII from mail content before it is
// stored or handed to the language model.
var defaultRules = []struct {
	pattern     string
	replacement string
}{
	{`(?i)(api[_-]?key|apikey)\s*[=:]\s*"?([a-zA-Z0-9_\-]{20,})"?`, `$1=[REDACTED_KEY]`},
	{`(?i)(secret[_-]?key|secretkey)\s*[=:]\s*"?([a-zA-Z0-9_\-]{20,})"?`, `$1=[REDACTED_SECRET]`},
	{`(?i)(access[_-]?token|accesstoken)\s*[=:]\s*"?([a-zA-Z0-9_\-.]{20,})"?`, `$1=[REDACTED_TOKEN]`},
	{`(?i)(password|passwd|pwd)\s*[=:]\s*"?(\S+)"?`, `$1=[REDACTED_PASSWORD]`},
	{`(?i)bearer\s+[a-zA-Z0-9\-_]+\.[a-zA-Z0-9\-_]+\.[a-zA-Z0-9\-_]+`, `[REDACTED_JWT]`},
	{`(?i)(aws[_-]?access[_-]?key[_-]?id)\s*[=:]\s*"?([A-Z0-9]{20})"?`, `$1=[REDACTED_AWS_KEY]`},
	{`(?i)(aws[_-]?secret[_-]?access[_-]?key)\s*[=:]\s*"?([a-zA-Z0-9/+=]{40})"?`, `$1=[REDACTED_AWS_SECRET]`},
	{`-----BEGIN (?:RSA |EC |DSA )?PRIVATE KEY-----[\s\S]*?-----END (?:RSA |EC |DSA )?PRIVATE KEY-----`, `[REDACTED_PRIVATE_KEY]`},
	{`(?i)(mysql|postgresql|postgres|mongodb|redis|amqp)://[^:\s]+:[^@\s]+@`, `$1://[user]:[REDACTED_PASSWORD]@`},
	{`\b\d{3}-\d{2}-\d{4}\b`, `[SSN]`},
	{`\b4[0-9]{12}(?:[0-9]{3})?\b`, `[CARD]`},
	{`\b5[1-5][0-9]{14}\b`, `[CARD]`},
}

// Redactor applies an ordered pattern list to text. Safe for concurrent
// use after construction.
type Redactor struct {
	rules []rule
}

// New builds a redactor from the defaults plus any extra patterns.
// Extra patterns replace matches with [REDACTED]; a pattern that fails
// to compile is a config error.
func New(extraPatterns []string) (*Redactor, error) {
	r := &Redactor{rules: make([]rule, 0, len(defaultRules)+len(extraPatterns))}
	for _, d := range defaultRules {
		r.rules = append(r.rules, rule{re: regexp.MustCompile(d.pattern), replacement: d.replacement})
	}
	for _, p := range extraPatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, apperr.ConfigError("bad redaction pattern: " + p).WithError(err)
		}
		r.rules = append(r.rules, rule{re: re, replacement: "[REDACTED]"})
	}
	return r, nil
}

// Apply scrubs the text and reports how many replacements were made.
func (r *Redactor) Apply(text string) (string, int) {
	hits := 0
	for _, rl := range r.rules {
		if n := len(rl.re.FindAllStringIndex(text, -1)); n > 0 {
			hits += n
			text = rl.re.ReplaceAllString(text, rl.replacement)
		}
	}
	return text, hits
}

// ApplyEmail scrubs subject and body and reports the combined hit count.
func (r *Redactor) ApplyEmail(subject, body string) (string, string, int) {
	subject, n1 := r.Apply(subject)
	body, n2 := r.Apply(body)
	return subject, body, n1 + n2
}
