package logging

import (
	"regexp"
	"strings"
)

// RedactedText is the replacement text for sensitive data
const RedactedText = "[REDACTED]"

var (
	// Pattern to match email addresses
	emailPattern = regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)

	// Pattern to match phone numbers (7+ digits, optional separators and country code)
	phonePattern = regexp.MustCompile(`\+?\d[\d\s().-]{6,}\d`)

	// Pattern to match potential passwords in connection strings
	passwordPattern = regexp.MustCompile(`(?i)(password|pwd|pass)=[^;&\s]+`)

	// Pattern to match connection string credentials (user:pass@host format)
	connStringPattern = regexp.MustCompile(`://[^:/\s]+:[^@\s]+@[^/\s]+`)
)

// MaskEmail partially masks an email address for logging, keeping the first
// character of the local part and the domain: "jdoe@example.com" -> "j***@example.com".
// Identity resolution logs reference people by email constantly; full
// addresses must never reach log storage.
func MaskEmail(email string) string {
	at := strings.IndexByte(email, '@')
	if at <= 0 {
		return RedactedText
	}
	return email[:1] + "***" + email[at:]
}

// SanitizePII removes email addresses and phone numbers from free-form text
// before logging.
func SanitizePII(s string) string {
	if s == "" {
		return ""
	}
	sanitized := emailPattern.ReplaceAllString(s, RedactedText)
	sanitized = phonePattern.ReplaceAllString(sanitized, RedactedText)
	return sanitized
}

// SanitizeConnectionString removes credentials from connection strings.
// Use this before logging any connection string.
func SanitizeConnectionString(connStr string) string {
	if connStr == "" {
		return ""
	}
	sanitized := passwordPattern.ReplaceAllString(connStr, "${1}="+RedactedText)
	sanitized = connStringPattern.ReplaceAllString(sanitized, "://"+RedactedText+"@"+RedactedText)
	return sanitized
}

// SanitizeError sanitizes error messages that might contain PII or
// credentials. Database errors can echo row values, including emails.
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}
	sanitized := passwordPattern.ReplaceAllString(err.Error(), "${1}="+RedactedText)
	sanitized = connStringPattern.ReplaceAllString(sanitized, "://"+RedactedText+"@"+RedactedText)
	return SanitizePII(sanitized)
}
