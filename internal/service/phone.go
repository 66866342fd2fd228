package service

import (
	"strings"

	"github.com/ryukenshin546-a11y/Sms-sub001/internal/apperr"
)

// NormalizePhone canonicalizes a Thai mobile number to 66XXXXXXXXX.
// Accepted inputs: 0XXXXXXXXX, 66XXXXXXXXX, +66XXXXXXXXX, with spaces
// and dashes tolerated. Anything else is a validation error; no
// gateway or storage call happens on bad input.
func NormalizePhone(raw string) (string, error) {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '(', ')':
			return -1
		}
		return r
	}, strings.TrimSpace(raw))

	if cleaned == "" {
		return "", apperr.Validation("empty phone number")
	}

	cleaned = strings.TrimPrefix(cleaned, "+")

	for _, r := range cleaned {
		if r < '0' || r > '9' {
			return "", apperr.Validation("phone number contains non-digit characters")
		}
	}

	var normalized string
	switch {
	case len(cleaned) == 10 && cleaned[0] == '0':
		normalized = "66" + cleaned[1:]
	case len(cleaned) == 11 && strings.HasPrefix(cleaned, "66"):
		normalized = cleaned
	default:
		return "", apperr.Validation("phone number must be a Thai mobile number")
	}

	// Thai mobile prefixes are 06, 08, 09.
	switch normalized[2] {
	case '6', '8', '9':
		return normalized, nil
	}
	return "", apperr.Validation("phone number is not a mobile number")
}
