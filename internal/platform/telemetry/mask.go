package telemetry

import "strings"

const maskedValue = "***"

// MaskEmail hides most of the local part of an address so log lines can
// identify an account to an operator without exposing it.
// "test@example.com" becomes "te***@example.com".
func MaskEmail(email string) string {
	email = strings.TrimSpace(email)
	at := strings.LastIndexByte(email, '@')
	if at <= 0 || at == len(email)-1 {
		return maskedValue
	}

	local := []rune(email[:at])
	keep := 2
	if len(local) < keep {
		keep = len(local)
	}
	return string(local[:keep]) + maskedValue + email[at:]
}
