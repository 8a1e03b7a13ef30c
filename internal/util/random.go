package util

import (
	"math/rand/v2"
	"strings"
)

// IntakeReferencePrefix prefixes every staff-facing intake reference.
const IntakeReferencePrefix = "INT-"

// GenerateRandomDigits generates a random decimal string of the specified
// length. The first digit is never zero so the value keeps its width when
// read back as a number.
func GenerateRandomDigits(length int) string {
	if length <= 0 {
		return ""
	}

	const digits = "0123456789"
	var builder strings.Builder
	builder.Grow(length)

	builder.WriteByte(digits[1+rand.IntN(9)])
	for i := 1; i < length; i++ {
		builder.WriteByte(digits[rand.IntN(10)])
	}

	return builder.String()
}

// GenerateIntakeReference generates a reference such as "INT-4832".
func GenerateIntakeReference() string {
	return IntakeReferencePrefix + GenerateRandomDigits(4)
}
