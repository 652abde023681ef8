package random

import (
	"crypto/rand"
	"math/big"
	"strings"
)

// GetRandomInt returns a random number with exactly length digits.
func GetRandomInt(length int) int {
	min := int64(1)
	for i := 1; i < length; i++ {
		min *= 10
	}
	max := min * 10

	n, err := rand.Int(rand.Reader, big.NewInt(max-min))
	if err != nil {
		return int(min)
	}
	return int(n.Int64() + min)
}

// GetDigits returns length random decimal digits, leading zeros allowed.
// Used for OTP codes.
func GetDigits(length int) string {
	var b strings.Builder
	b.Grow(length)
	ten := big.NewInt(10)
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, ten)
		if err != nil {
			b.WriteByte('0')
			continue
		}
		b.WriteByte(byte('0' + n.Int64()))
	}
	return b.String()
}
