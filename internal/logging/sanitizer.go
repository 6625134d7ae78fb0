package logging

import (
	"regexp"
	"sort"
	"strings"
)

const redactedMarker = "[REDACTED]"

// minSecretLen keeps short literal values (empty env vars, test stubs)
// from blanking out ordinary words.
const minSecretLen = 8

// credentialRules match key shapes that model providers and their transport
// errors are known to echo.
var credentialRules = []string{
	`AIza[a-zA-Z0-9_-]{35}`,
	`sk-[A-Za-z0-9_-]{20,}`,
	`(?i)bearer\s+[a-zA-Z0-9._-]{20,}`,
	`(?i)(api[_-]?key|key)=[a-zA-Z0-9_-]{20,}`,
	`(?i)api[_-]?key["'\s:]+[a-zA-Z0-9_-]{20,}`,
	`(?i)token["'\s:=]+[a-zA-Z0-9_-]{20,}`,
}

// Sanitizer redacts credentials from log output. It knows the generic
// provider key shapes plus any literal secret values registered for the
// current process, such as the key read from llm.api_key_env.
type Sanitizer struct {
	patterns []*regexp.Regexp
	secrets  []string
}

// NewSanitizer builds a sanitizer with the default credential rules and
// the given literal secrets.
func NewSanitizer(secrets ...string) *Sanitizer {
	s := &Sanitizer{}
	for _, rule := range credentialRules {
		s.patterns = append(s.patterns, regexp.MustCompile(rule))
	}
	for _, secret := range secrets {
		s.AddSecret(secret)
	}
	return s
}

// AddSecret registers a literal value to redact wherever it appears.
// Values shorter than a few characters are ignored.
func (s *Sanitizer) AddSecret(value string) {
	value = strings.TrimSpace(value)
	if len(value) < minSecretLen {
		return
	}
	s.secrets = append(s.secrets, value)
	// Longest first so a secret that contains another is replaced whole.
	sort.Slice(s.secrets, func(i, j int) bool { return len(s.secrets[i]) > len(s.secrets[j]) })
}

// AddPattern registers an extra regular expression to redact.
func (s *Sanitizer) AddPattern(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	s.patterns = append(s.patterns, re)
	return nil
}

// Sanitize returns input with every known secret replaced by a marker.
func (s *Sanitizer) Sanitize(input string) string {
	out := input
	for _, secret := range s.secrets {
		out = strings.ReplaceAll(out, secret, redactedMarker)
	}
	for _, re := range s.patterns {
		out = re.ReplaceAllString(out, redactedMarker)
	}
	return out
}
