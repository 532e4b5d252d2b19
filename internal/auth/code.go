package auth

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"regexp"
	"strings"
)

const (
	CodePrefix   = "MIM-"
	CodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	codeLength   = 3
)

var codePattern = regexp.MustCompile(`^MIM-[A-Z2-9]{3}$`)

// GenerateCode returns a random couple code such as MIM-K7P. The alphabet
// leaves out I, O, 0 and 1.
func GenerateCode() (string, error) {
	var b strings.Builder
	b.WriteString(CodePrefix)
	n := big.NewInt(int64(len(CodeAlphabet)))
	for range codeLength {
		idx, err := rand.Int(rand.Reader, n)
		if err != nil {
			return "", fmt.Errorf("generate code: %w", err)
		}
		b.WriteByte(CodeAlphabet[idx.Int64()])
	}
	return b.String(), nil
}

// NormalizeCode trims and upper-cases user input.
func NormalizeCode(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

func ValidCode(code string) bool {
	return codePattern.MatchString(code)
}
