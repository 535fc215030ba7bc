package adapter

import "regexp"

const redacted = "[redacted]"

// Engine errors can echo the statement that failed, and statements against
// remote sources may carry credentials (CREATE SECRET fragments, DSN
// key/value pairs, userinfo in URLs). Strip those before a message leaves
// the adapter.
var sanitizePatterns = []struct {
	re          *regexp.Regexp
	replacement string
}{
	{regexp.MustCompile(`(?i)((?:PASSWORD|SECRET|KEY_ID|SECRET_ACCESS_KEY|ACCESS_KEY|SESSION_TOKEN|TOKEN)\s+)'[^']*'`), "${1}'" + redacted + "'"},
	{regexp.MustCompile(`(?i)\b(password|passwd|secret|access_key|secret_access_key|session_token|token|sslpassword)=[^\s;&'"]+`), "${1}=" + redacted},
	{regexp.MustCompile(`://([^/:@\s]+):[^@\s]+@`), "://${1}:" + redacted + "@"},
}

func sanitizeErrorMessage(message string) string {
	for _, p := range sanitizePatterns {
		message = p.re.ReplaceAllString(message, p.replacement)
	}
	return message
}
