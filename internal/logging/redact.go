package logging

// Redact shortens a secret to its first and last four characters so log
// lines can identify a token without exposing it. Anything shorter than
// twelve characters is fully masked.
func Redact(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) < 12 {
		return "****"
	}
	return secret[:4] + "..." + secret[len(secret)-4:]
}
