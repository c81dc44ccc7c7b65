package payment

import (
	"errors"
	"regexp"
	"strings"
)

var (
	localMSISDN = regexp.MustCompile(`^0\d{9}$`)
	intlMSISDN  = regexp.MustCompile(`^254\d{9}$`)
)

var ErrInvalidPhone = errors.New("phone number must be 0XXXXXXXXX or 254XXXXXXXXX")

// NormalizePhone converts a Kenyan mobile number to the 254XXXXXXXXX form the
// provider expects. Already-normalized input is returned unchanged. Only
// surrounding whitespace is tolerated; "+254", inner spaces and dashes are not.
func NormalizePhone(s string) (string, error) {
	s = strings.TrimSpace(s)
	switch {
	case intlMSISDN.MatchString(s):
		return s, nil
	case localMSISDN.MatchString(s):
		return "254" + s[1:], nil
	}
	return "", ErrInvalidPhone
}

// ValidPhone reports whether s normalizes.
func ValidPhone(s string) bool {
	_, err := NormalizePhone(s)
	return err == nil
}
