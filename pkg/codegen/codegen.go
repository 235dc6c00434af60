// Package codegen generates human-facing coupon and referral codes.
package codegen

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"
)

// codeAlphabet leaves out 0/O and 1/I so codes survive being read aloud.
const codeAlphabet = "23456789ABCDEFGHJKLMNPQRSTUVWXYZ"

const randomSuffixLen = 8

// Generator derives a code from a prefix.
type Generator func(prefix string, now time.Time) (string, error)

// Coupon returns the prefix, a dash, the base36 millisecond timestamp and
// eight random characters from crypto/rand.
func Coupon(prefix string, now time.Time) (string, error) {
	suffix, err := RandomString(randomSuffixLen)
	if err != nil {
		return "", err
	}
	ts := strings.ToUpper(strconv.FormatInt(now.UnixMilli(), 36))
	return fmt.Sprintf("%s-%s%s", prefix, ts, suffix), nil
}

// RandomString draws n characters uniformly from codeAlphabet.
func RandomString(n int) (string, error) {
	var b strings.Builder
	b.Grow(n)
	max := big.NewInt(int64(len(codeAlphabet)))
	for i := 0; i < n; i++ {
		v, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("read random: %w", err)
		}
		b.WriteByte(codeAlphabet[v.Int64()])
	}
	return b.String(), nil
}

// Referral returns up to four letters of the display name, upper-cased,
// followed by six random characters. Names without letters use "REF".
func Referral(displayName string, _ time.Time) (string, error) {
	var prefix strings.Builder
	for _, r := range strings.ToUpper(displayName) {
		if r >= 'A' && r <= 'Z' {
			prefix.WriteRune(r)
			if prefix.Len() == 4 {
				break
			}
		}
	}
	if prefix.Len() == 0 {
		prefix.WriteString("REF")
	}
	suffix, err := RandomString(6)
	if err != nil {
		return "", err
	}
	return prefix.String() + suffix, nil
}
