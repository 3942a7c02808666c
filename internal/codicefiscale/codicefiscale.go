// Package codicefiscale validates Italian codice fiscale identifiers
// against the official checksum algorithm. Pure functions, no I/O.
package codicefiscale

import (
	"regexp"
	"strings"
)

// Reason classifies why validation failed.
type Reason string

const (
	ReasonOK       Reason = ""
	ReasonLength   Reason = "length"
	ReasonFormat   Reason = "format"
	ReasonChecksum Reason = "checksum"
)

// Message returns the submitter-facing description for a failure reason.
func (r Reason) Message() string {
	switch r {
	case ReasonLength:
		return "Il Codice Fiscale deve essere di 16 caratteri."
	case ReasonFormat:
		return "Il formato del Codice Fiscale non è valido."
	case ReasonChecksum:
		return "Il carattere di controllo del Codice Fiscale non è corretto."
	default:
		return "Codice Fiscale valido."
	}
}

// shape: 6 letters, 2 digits, 1 letter, 2 digits, 1 letter, 3 digits, 1 letter.
var shape = regexp.MustCompile(`^[A-Z]{6}[0-9]{2}[A-Z][0-9]{2}[A-Z][0-9]{3}[A-Z]$`)

// Official per-symbol weights for characters at odd positions (1st, 3rd,
// 5th, ... counting from one; even indexes counting from zero). These
// values are fixed by the national algorithm and must not be derived.
var oddWeights = map[byte]int{
	'0': 1, '1': 0, '2': 5, '3': 7, '4': 9, '5': 13,
	'6': 15, '7': 17, '8': 19, '9': 21,
	'A': 1, 'B': 0, 'C': 5, 'D': 7, 'E': 9, 'F': 13,
	'G': 15, 'H': 17, 'I': 19, 'J': 21, 'K': 2, 'L': 4,
	'M': 18, 'N': 20, 'O': 11, 'P': 3, 'Q': 6, 'R': 8,
	'S': 12, 'T': 14, 'U': 16, 'V': 10, 'W': 22, 'X': 25,
	'Y': 24, 'Z': 23,
}

// Weights for characters at even positions: the ordinal value of the
// symbol, digits and letters sharing the 0–25 range.
var evenWeights = map[byte]int{
	'0': 0, '1': 1, '2': 2, '3': 3, '4': 4, '5': 5,
	'6': 6, '7': 7, '8': 8, '9': 9,
	'A': 0, 'B': 1, 'C': 2, 'D': 3, 'E': 4, 'F': 5,
	'G': 6, 'H': 7, 'I': 8, 'J': 9, 'K': 10, 'L': 11,
	'M': 12, 'N': 13, 'O': 14, 'P': 15, 'Q': 16, 'R': 17,
	'S': 18, 'T': 19, 'U': 20, 'V': 21, 'W': 22, 'X': 23,
	'Y': 24, 'Z': 25,
}

const checkChars = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// Normalize uppercases and trims an identifier the way every other
// component (uniqueness check, storage naming) expects it.
func Normalize(cf string) string {
	return strings.ToUpper(strings.TrimSpace(cf))
}

// Validate checks length, shape and checksum of a codice fiscale.
// The input is normalized first, so case and surrounding whitespace do
// not affect the outcome.
func Validate(cf string) (bool, Reason) {
	cf = Normalize(cf)

	if len(cf) != 16 {
		return false, ReasonLength
	}
	if !shape.MatchString(cf) {
		return false, ReasonFormat
	}

	check, _ := CheckChar(cf[:15])
	if check != cf[15] {
		return false, ReasonChecksum
	}
	return true, ReasonOK
}

// CheckChar computes the 16th (control) character for a normalized
// 15-character prefix. ok is false when the prefix contains a symbol
// outside A–Z/0–9.
func CheckChar(prefix string) (byte, bool) {
	if len(prefix) != 15 {
		return 0, false
	}

	sum := 0
	for i := 0; i < 15; i++ {
		var w int
		var ok bool
		if i%2 == 0 {
			w, ok = oddWeights[prefix[i]]
		} else {
			w, ok = evenWeights[prefix[i]]
		}
		if !ok {
			return 0, false
		}
		sum += w
	}

	return checkChars[sum%26], true
}
