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

package corpus

import (
	"regexp"
	"strconv"
	"strings"
)

// Reference is a parsed but unresolved locator.
type Reference struct {
	Book    string
	Chapter int
	Verse   int
}

// bookGroup matches a spoken book name: an ordinal word before a name
// ("second Timothy"), an optional digit prefix ("1 John"), and names of the
// form "X of Y" ("Song of Solomon").
const bookGroup = `((?:1st|2nd|3rd|first|second|third)\s+[a-z]+|[1-3]?\s*[a-z]+(?:\s+of\s+[a-z]+)?)`

var (
	wordedPattern = regexp.MustCompile(`(?i)\b` + bookGroup + `\s+chapter\s+(\d+)[,\s]+(?:and\s+)?verses?\s+(\d+)`)
	plainPattern  = regexp.MustCompile(`(?i)\b` + bookGroup + `\s+(\d+)[:,\s]+(\d+)`)
)

// ParseReferences returns every candidate locator in text whose book is a
// known alias, in priority order: "Book chapter C verse V", then
// "Book C:V" / "Book C V".
func ParseReferences(text string) []Reference {
	var refs []Reference

	for _, m := range wordedPattern.FindAllStringSubmatch(text, -1) {
		if ref, ok := buildReference(m[1], m[2], m[3]); ok {
			refs = append(refs, ref)
		}
	}

	for _, m := range plainPattern.FindAllStringSubmatch(text, -1) {
		if ref, ok := buildReference(m[1], m[2], m[3]); ok {
			refs = append(refs, ref)
		}
	}

	return refs
}

func buildReference(book, chapter, verse string) (Reference, bool) {
	name, ok := resolveBook(book)
	if !ok {
		return Reference{}, false
	}
	c, err := strconv.Atoi(chapter)
	if err != nil || c <= 0 {
		return Reference{}, false
	}
	v, err := strconv.Atoi(verse)
	if err != nil || v <= 0 {
		return Reference{}, false
	}
	return Reference{Book: name, Chapter: c, Verse: v}, true
}

// resolveBook tries the captured words and then each shorter suffix, so
// "two of John" still resolves to John.
func resolveBook(raw string) (string, bool) {
	words := strings.Fields(raw)
	for i := range words {
		if name, ok := NormalizeBook(strings.Join(words[i:], " ")); ok {
			return name, true
		}
	}
	return "", false
}
