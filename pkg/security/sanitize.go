package security

import "regexp"

var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`sk-[A-Za-z0-9_\-]{8,}`),
	regexp.MustCompile(`(?i)(api_?key|apikey|token)=[^&\s]+`),
	regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9._\-]+`),
}

// RedactSecrets replaces substrings that look like API keys or bearer
// tokens with [REDACTED].
func RedactSecrets(msg string) string {
	for _, re := range secretPatterns {
		msg = re.ReplaceAllString(msg, "[REDACTED]")
	}
	return msg
}

// MaskSecret keeps the first and last four characters of a secret.
func MaskSecret(secret string) string {
	switch {
	case secret == "":
		return ""
	case len(secret) <= 8:
		return "****"
	}
	return secret[:4] + "****" + secret[len(secret)-4:]
}
