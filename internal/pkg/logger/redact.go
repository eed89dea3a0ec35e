package logger

import "strings"

// RedactEmail masks an email address for safe logging.
// "john.doe@example.com" → "jo***@example.com"
// Short local parts (≤2 chars) are fully masked: "ab@example.com" → "***@example.com"
func RedactEmail(email string) string {
	parts := strings.Split(email, "@")
	if len(parts) != 2 {
		return "***@***"
	}
	name := parts[0]
	if len(name) > 2 {
		return name[:2] + "***@" + parts[1]
	}
	return "***@" + parts[1]
}

// RedactPhone keeps the last two digits: "+55 11 98765-4321" → "***21".
func RedactPhone(phone string) string {
	digits := make([]byte, 0, len(phone))
	for i := 0; i < len(phone); i++ {
		if phone[i] >= '0' && phone[i] <= '9' {
			digits = append(digits, phone[i])
		}
	}
	if len(digits) <= 2 {
		return "***"
	}
	return "***" + string(digits[len(digits)-2:])
}

// RedactName keeps the first letter only.
func RedactName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	r := []rune(name)
	return string(r[0]) + "***"
}

// RedactToken keeps the fb.1.<ts> prefix of ad-platform tokens and masks the tail.
func RedactToken(tok string) string {
	if tok == "" {
		return ""
	}
	if i := strings.LastIndex(tok, "."); i > 0 {
		return tok[:i] + ".***"
	}
	if len(tok) > 4 {
		return tok[:4] + "***"
	}
	return "***"
}
