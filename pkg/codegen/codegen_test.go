package codegen

import (
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCouponFormat(t *testing.T) {
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	code, err := Coupon("WELCOME10", now)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(code, "WELCOME10-"), code)
	assert.Regexp(t, regexp.MustCompile(`^WELCOME10-[0-9A-Z]+[`+codeAlphabet+`]{8}$`), code)
}

func TestCouponCodesDoNotRepeat(t *testing.T) {
	now := time.Now()
	seen := make(map[string]bool, 10000)
	for i := 0; i < 10000; i++ {
		code, err := Coupon("X", now)
		require.NoError(t, err)
		require.False(t, seen[code], "duplicate %s", code)
		seen[code] = true
	}
}

func TestReferralPrefix(t *testing.T) {
	code, err := Referral("Morgan Lee", time.Now())
	require.NoError(t, err)
	assert.Regexp(t, `^MORG[`+codeAlphabet+`]{6}$`, code)

	code, err = Referral("Al", time.Now())
	require.NoError(t, err)
	assert.Regexp(t, `^AL[`+codeAlphabet+`]{6}$`, code)

	code, err = Referral("李雷 42", time.Now())
	require.NoError(t, err)
	assert.Regexp(t, `^REF[`+codeAlphabet+`]{6}$`, code)
}
