// Package security scrubs credentials out of text before it is logged or
// returned to a caller.
package security

import (
	"regexp"
	"sync"
)

type SecretMatch struct {
	Type     string
	Start    int
	End      int
	Redacted string
}

type SecretScanner struct {
	patterns []*secretPattern
}

type secretPattern struct {
	name       string
	regex      *regexp.Regexp
	redactWith string
}

// order matters: specific token shapes run before the generic key=value rule
var defaultSecretPatterns = []struct {
	name       string
	pattern    string
	redactWith string
}{
	{"Bearer Header", `(?i)bearer\s+[a-zA-Z0-9\-_.=]{8,}`, "Bearer ****"},
	{"JWT Token", `eyJ[a-zA-Z0-9\-_]+\.eyJ[a-zA-Z0-9\-_]+\.[a-zA-Z0-9\-_]+`, "eyJ****"},
	{"Telegram Bot Token", `[0-9]{8,10}:[a-zA-Z0-9_-]{35}`, "****:****"},
	{"Discord Token", `[MN][a-zA-Z\d]{23}\.[\w-]{6}\.[\w-]{27}`, "DISCORD_TOKEN****"},
	{"Database URL", `(?i)(postgres|mysql|mongodb|redis)://[^\s'\"]+:[^\s'\"]+@[^\s'\"]+`, "DB_URL****"},
	{"Generic Secret", `(?i)(secret|password|passwd|pwd|token|jwtToken)['\"]?\s*[:=]\s*['\"]?[^\s'\",}]{8,}['\"]?`, "SECRET****"},
}

func NewSecretScanner() *SecretScanner {
	scanner := &SecretScanner{
		patterns: make([]*secretPattern, 0, len(defaultSecretPatterns)),
	}

	for _, p := range defaultSecretPatterns {
		scanner.patterns = append(scanner.patterns, &secretPattern{
			name:       p.name,
			regex:      regexp.MustCompile(p.pattern),
			redactWith: p.redactWith,
		})
	}

	return scanner
}

func (s *SecretScanner) Scan(input string) []SecretMatch {
	var matches []SecretMatch

	for _, pattern := range s.patterns {
		for _, loc := range pattern.regex.FindAllStringIndex(input, -1) {
			matches = append(matches, SecretMatch{
				Type:     pattern.name,
				Start:    loc[0],
				End:      loc[1],
				Redacted: pattern.redactWith,
			})
		}
	}

	return matches
}

func (s *SecretScanner) HasSecrets(input string) bool {
	return len(s.Scan(input)) > 0
}

func (s *SecretScanner) Redact(input string) string {
	result := input
	for _, pattern := range s.patterns {
		result = pattern.regex.ReplaceAllString(result, pattern.redactWith)
	}
	return result
}

var (
	defaultOnce    sync.Once
	defaultScanner *SecretScanner
)

func scanner() *SecretScanner {
	defaultOnce.Do(func() { defaultScanner = NewSecretScanner() })
	return defaultScanner
}

func HasSecrets(input string) bool {
	return scanner().HasSecrets(input)
}

// RedactSecrets replaces every recognised credential in input
func RedactSecrets(input string) string {
	return scanner().Redact(input)
}
