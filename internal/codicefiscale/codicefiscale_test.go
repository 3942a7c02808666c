package codicefiscale

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Known-good identifiers with official check characters.
var validCFs = []string{
	"RSSMRA80A01H501U",
	"MRTMTT91D08F205J",
	"RSSMRA85M01H501Q",
	"BNCGNN70T45F839X",
}

func TestValidateAcceptsKnownGood(t *testing.T) {
	for _, cf := range validCFs {
		ok, reason := Validate(cf)
		assert.True(t, ok, "expected %s to validate, got reason %q", cf, reason)
	}
}

func TestValidateNormalizes(t *testing.T) {
	ok, _ := Validate("  rssmra80a01h501u ")
	assert.True(t, ok, "lowercase and padded input must validate")
}

func TestValidateLength(t *testing.T) {
	ok, reason := Validate("RSSMRA80A01H501")
	assert.False(t, ok)
	assert.Equal(t, ReasonLength, reason)
}

func TestValidateShape(t *testing.T) {
	// Digit where the shape demands a letter.
	ok, reason := Validate("1SSMRA80A01H501U")
	assert.False(t, ok)
	assert.Equal(t, ReasonFormat, reason)

	// Letter where the shape demands a digit.
	ok, reason = Validate("RSSMRAX0A01H501U")
	assert.False(t, ok)
	assert.Equal(t, ReasonFormat, reason)
}

func TestValidateChecksum(t *testing.T) {
	ok, reason := Validate("RSSMRA80A01H501Z")
	assert.False(t, ok)
	assert.Equal(t, ReasonChecksum, reason)
}

// Round-trip property: the check character computed for any valid prefix
// is accepted by Validate.
func TestCheckCharRoundTrip(t *testing.T) {
	prefixes := []string{
		"RSSMRA80A01H501",
		"MRTMTT91D08F205",
		"VRDGPP65B12L736",
		"FRRLRA92H50A944",
	}
	for _, prefix := range prefixes {
		check, ok := CheckChar(prefix)
		require.True(t, ok, "prefix %s", prefix)

		valid, reason := Validate(prefix + string(check))
		assert.True(t, valid, "prefix %s + %c rejected with %q", prefix, check, reason)
	}
}

// Mutation property: flipping any single character (within the class the
// shape allows at that position) must make validation fail.
func TestSingleCharacterMutationRejected(t *testing.T) {
	const cf = "RSSMRA80A01H501U"
	const letters = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	const digits = "0123456789"

	for i := 0; i < len(cf); i++ {
		class := letters
		if cf[i] >= '0' && cf[i] <= '9' {
			class = digits
		}
		for _, repl := range class {
			if byte(repl) == cf[i] {
				continue
			}
			mutated := cf[:i] + string(repl) + cf[i+1:]
			ok, _ := Validate(mutated)
			assert.False(t, ok, "mutation at %d (%s) unexpectedly accepted", i, mutated)
		}
	}
}

func TestCheckCharRejectsBadInput(t *testing.T) {
	_, ok := CheckChar("SHORT")
	assert.False(t, ok)

	_, ok = CheckChar(strings.Repeat("?", 15))
	assert.False(t, ok)
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "RSSMRA80A01H501U", Normalize(" rssmra80a01h501u\n"))
}
