// Package util provides small helpers shared across VoiceGuide packages.
package util

import (
	"math/rand/v2"
	"strings"
)

// GenerateRandomID returns prefix followed by hexLength random hex digits.
// IDs are not secrets; math/rand/v2 is enough.
func GenerateRandomID(prefix string, hexLength int) string {
	return prefix + GenerateRandomHex(hexLength)
}

// GenerateRandomHex returns length random lower-case hex digits.
func GenerateRandomHex(length int) string {
	return randomString("0123456789abcdef", length)
}

// GenerateRandomAlphaNumeric returns length random letters and digits.
func GenerateRandomAlphaNumeric(length int) string {
	return randomString("0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz", length)
}

func randomString(alphabet string, length int) string {
	if length <= 0 {
		return ""
	}
	var b strings.Builder
	b.Grow(length)
	for i := 0; i < length; i++ {
		b.WriteByte(alphabet[rand.IntN(len(alphabet))])
	}
	return b.String()
}

// GenerateSessionID generates a conversation ID with the "s_" prefix.
func GenerateSessionID() string {
	return GenerateRandomID("s_", 16)
}

// GenerateClientID generates an identifier for a connected device with "c_" prefix.
func GenerateClientID() string {
	return "c_" + GenerateRandomAlphaNumeric(12)
}
