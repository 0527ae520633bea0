/*
 * This file is part of Loqa (https://github.com/loqalabs/loqa).
 * Copyright (C) 2025 Loqa Labs
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program. If not, see <https://www.gnu.org/licenses/>.
 */

package security

import (
	"errors"
	"regexp"
	"strings"
)

// MaxLoggedInput caps user-controlled text written to logs.
const MaxLoggedInput = 200

var (
	// ErrInvalidTranslationCode is returned for translation codes that
	// contain anything besides letters, digits, dashes and underscores.
	ErrInvalidTranslationCode = errors.New("invalid translation code")

	translationCodePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,16}$`)
)

// SanitizeLogInput strips line breaks from user-controlled text and caps
// its length so it cannot forge or flood log lines.
func SanitizeLogInput(input string) string {
	sanitized := strings.NewReplacer("\n", "", "\r", "").Replace(input)
	if len(sanitized) > MaxLoggedInput {
		cut := MaxLoggedInput
		for cut > 0 && !utf8Start(sanitized[cut]) {
			cut--
		}
		sanitized = sanitized[:cut] + "..."
	}
	return sanitized
}

func utf8Start(b byte) bool { return b&0xC0 != 0x80 }

// ValidateTranslationCode checks a client supplied translation code
// before it reaches the corpus.
func ValidateTranslationCode(code string) error {
	if !translationCodePattern.MatchString(code) {
		return ErrInvalidTranslationCode
	}
	return nil
}
