package session

import (
	"errors"
	"strings"
)

// ErrInvalidIdentity indicates the raw identifier could not be normalized.
var ErrInvalidIdentity = errors.New("invalid identity")

const countryPrefix = "+212"

// NormalizeIdentity converts a raw user identifier into canonical form.
//
// The identifier reaches the session from two different entry points in two
// raw shapes: a national number ("0612345678") and an international one
// ("00212612345678" or "+212612345678"). The canonical form carries a single
// "+212" prefix followed by the nine significant digits. Normalization
// happens here, at the handshake boundary, so nothing downstream ever sees
// a mixed format.
func NormalizeIdentity(raw string) (string, error) {
	s := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '.':
			return -1
		}
		return r
	}, strings.TrimSpace(raw))

	var digits string
	switch {
	case strings.HasPrefix(s, countryPrefix):
		digits = s[len(countryPrefix):]
	case strings.HasPrefix(s, "00212"):
		digits = s[len("00212"):]
	case strings.HasPrefix(s, "212"):
		digits = s[len("212"):]
	case strings.HasPrefix(s, "0"):
		digits = s[1:]
	default:
		return "", ErrInvalidIdentity
	}

	if len(digits) != 9 || !allDigits(digits) {
		return "", ErrInvalidIdentity
	}
	return countryPrefix + digits, nil
}

func allDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}
