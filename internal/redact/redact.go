// Package redact strips credentials from strings before they reach logs.
package redact

import "regexp"

// Placeholders written in place of redacted values.
const (
	CredentialPlaceholder = "[REDACTED_CREDENTIAL]"
	TokenPlaceholder      = "[REDACTED_TOKEN]"
	KeyPlaceholder        = "[REDACTED_KEY]"
	HookPlaceholder       = "[REDACTED_HOOK]"
)

type rule struct {
	pattern     *regexp.Regexp
	replacement string
}

// rules run in order; earlier rules see the unmodified input.
var rules = []rule{
	// user:password in connection URLs
	{regexp.MustCompile(`(?i)\b((?:postgres(?:ql)?|mysql|redis|amqp|https?)://)[^/@\s:]+(?::[^/@\s]*)?@`), "${1}" + CredentialPlaceholder + "@"},
	{regexp.MustCompile(`(?i)\b(password|passwd|pwd)=[^&\s'"]+`), "${1}=" + CredentialPlaceholder},
	{regexp.MustCompile(`eyJ[A-Za-z0-9_-]+\.eyJ[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+`), TokenPlaceholder},
	{regexp.MustCompile(`(?i)\b(bearer)\s+[A-Za-z0-9_\-.~+/=]{8,}`), "${1} " + TokenPlaceholder},
	{regexp.MustCompile(`(?i)\b(jwt_secret|secret|api[_-]?key|token)(\s*[:=]\s*['"]?)[A-Za-z0-9_\-.~+/]{8,}`), "${1}${2}" + KeyPlaceholder},
	// chat webhook ids, e.g. /open-apis/bot/v2/hook/<id>
	{regexp.MustCompile(`(/hook/)[A-Za-z0-9_-]+`), "${1}" + HookPlaceholder},
}

// String returns s with every known credential pattern replaced.
func String(s string) string {
	for _, r := range rules {
		s = r.pattern.ReplaceAllString(s, r.replacement)
	}
	return s
}

// Error returns the redacted message of err, or "" for a nil error.
func Error(err error) string {
	if err == nil {
		return ""
	}
	return String(err.Error())
}
