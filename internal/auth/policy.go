// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"strings"
	"unicode/utf8"

	"github.com/samber/oops"
)

// Password length bounds applied when the policy leaves them unset.
const (
	DefaultMinPasswordLength = 8
	DefaultMaxPasswordLength = 32
)

// passwordSymbols are the non-alphanumeric characters a password may contain
// under the complexity rule.
const passwordSymbols = "@$!%*?&"

// commonPasswords are rejected regardless of complexity.
var commonPasswords = []string{
	"password", "123456", "123456789", "qwerty", "abc123",
	"password123", "admin", "root", "guest", "user",
	"12345", "1234567", "12345678", "qwerty123", "letmein",
	"welcome", "monkey", "dragon", "master", "hello",
}

// PasswordPolicy constrains new passwords at registration.
type PasswordPolicy struct {
	MinLength int
	MaxLength int

	// EnforceComplexity requires a lowercase letter, an uppercase letter and
	// a digit, and restricts the alphabet to letters, digits and passwordSymbols.
	EnforceComplexity bool
}

// DefaultPasswordPolicy returns the policy used when none is configured.
func DefaultPasswordPolicy() PasswordPolicy {
	return PasswordPolicy{
		MinLength:         DefaultMinPasswordLength,
		MaxLength:         DefaultMaxPasswordLength,
		EnforceComplexity: true,
	}
}

// Validate checks a candidate password for the given username.
// The returned error message is safe to show to the user.
func (p PasswordPolicy) Validate(username, password string) error {
	minLen, maxLen := p.MinLength, p.MaxLength
	if minLen <= 0 {
		minLen = DefaultMinPasswordLength
	}
	if maxLen <= 0 {
		maxLen = DefaultMaxPasswordLength
	}

	n := utf8.RuneCountInString(password)
	if n < minLen {
		return oops.Code("PASSWORD_TOO_SHORT").
			With("min", minLen).
			Errorf("password must be at least %d characters", minLen)
	}
	if n > maxLen {
		return oops.Code("PASSWORD_TOO_LONG").
			With("max", maxLen).
			Errorf("password must be at most %d characters", maxLen)
	}
	if len(password) > MaxPasswordBytes {
		return oops.Code("PASSWORD_TOO_MANY_BYTES").
			With("max_bytes", MaxPasswordBytes).
			Errorf("password must be at most %d bytes", MaxPasswordBytes)
	}

	if p.EnforceComplexity && !isComplex(password) {
		return oops.Code("PASSWORD_TOO_WEAK").
			Errorf("password must mix upper and lower case letters and digits, and may use only %s as symbols", passwordSymbols)
	}

	lower := strings.ToLower(password)
	for _, common := range commonPasswords {
		if lower == common {
			return oops.Code("PASSWORD_COMMON").Errorf("password is too common")
		}
	}

	name := NormalizeUsername(username)
	if name != "" && (strings.Contains(lower, name) || strings.Contains(name, lower)) {
		return oops.Code("PASSWORD_CONTAINS_USERNAME").Errorf("password must not contain the username")
	}
	return nil
}

func isComplex(password string) bool {
	var hasLower, hasUpper, hasDigit bool
	for _, r := range password {
		switch {
		case r >= 'a' && r <= 'z':
			hasLower = true
		case r >= 'A' && r <= 'Z':
			hasUpper = true
		case r >= '0' && r <= '9':
			hasDigit = true
		case strings.ContainsRune(passwordSymbols, r):
		default:
			return false
		}
	}
	return hasLower && hasUpper && hasDigit
}
