package game

import (
	"crypto/rand"
	"math/big"
	"strings"
)

const codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// GenerateCode returns a random session code. Codes are not checked for
// uniqueness; a clash among 36^6 codes is accepted.
func GenerateCode() string {
	limit := big.NewInt(int64(len(codeAlphabet)))
	b := make([]byte, CodeLength)
	for i := range b {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			panic(err)
		}
		b[i] = codeAlphabet[n.Int64()]
	}
	return string(b)
}

// NormalizeCode upper-cases and trims user input.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func ValidCode(code string) bool {
	if len(code) != CodeLength {
		return false
	}
	for i := 0; i < len(code); i++ {
		if strings.IndexByte(codeAlphabet, code[i]) < 0 {
			return false
		}
	}
	return true
}
