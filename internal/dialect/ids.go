// Package dialect holds helpers shared by the wire-format converters.
package dialect

import (
	"math/rand/v2"
	"strings"
)

const (
	lowerAlnum = "abcdefghijklmnopqrstuvwxyz0123456789"
	mixedAlnum = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// RandomID returns prefix followed by n random lowercase alphanumerics,
// the format used for message, tool-call and response identifiers.
func RandomID(prefix string, n int) string {
	return prefix + randomFrom(lowerAlnum, n)
}

// RandomIDMixed returns prefix followed by n random mixed-case
// alphanumerics, the chat-completion chunk id format.
func RandomIDMixed(prefix string, n int) string {
	return prefix + randomFrom(mixedAlnum, n)
}

func randomFrom(alphabet string, n int) string {
	var b strings.Builder
	b.Grow(n)
	for i := 0; i < n; i++ {
		b.WriteByte(alphabet[rand.IntN(len(alphabet))])
	}
	return b.String()
}
