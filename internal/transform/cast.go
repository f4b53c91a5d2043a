package transform

import (
	"math"
	"strconv"
	"strings"
	"unicode"
)

// CastInt interprets s as a 32-bit integer the way the engine's string to int
// cast does, reporting false (null) instead of failing:
//
//   - surrounding whitespace and control characters are ignored
//   - an optional leading '+' or '-' is accepted
//   - a fractional part of digits after '.' is truncated ("70.9" is 70)
//   - at least one digit is required
//   - values outside the int32 range are null
func CastInt(s string) (int64, bool) {
	s = strings.TrimFunc(s, func(r rune) bool { return r <= ' ' || unicode.IsSpace(r) })
	if s == "" {
		return 0, false
	}
	neg := false
	switch s[0] {
	case '-':
		neg = true
		s = s[1:]
	case '+':
		s = s[1:]
	}
	intPart, frac, hasFrac := strings.Cut(s, ".")
	if intPart == "" && (!hasFrac || frac == "") {
		return 0, false
	}
	if hasFrac && !allDigits(frac) {
		return 0, false
	}
	const limit = -math.MinInt32 // magnitude allowed for negatives
	var v int64
	for i := 0; i < len(intPart); i++ {
		c := intPart[i]
		if c < '0' || c > '9' {
			return 0, false
		}
		v = v*10 + int64(c-'0')
		if v > limit {
			return 0, false
		}
	}
	if neg {
		return -v, true
	}
	if v > math.MaxInt32 {
		return 0, false
	}
	return v, true
}

// FormatInt renders a cast value the way it appears in output datasets.
func FormatInt(v int64) string {
	return strconv.FormatInt(v, 10)
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
