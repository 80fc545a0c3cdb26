package identity

import (
	"strings"

	"github.com/nyaruka/phonenumbers"
)

// DefaultPhoneRegion is used for numbers entered without a country code.
const DefaultPhoneRegion = "TM"

// NormalizePhone canonicalizes raw input to E.164 ("+99361234567").
//
// Numbers without a leading "+" are parsed in defaultRegion. Only the length
// plausibility of the number is checked, so operator test ranges still pass.
func NormalizePhone(raw, defaultRegion string) (string, error) {
	const op = "identity.NormalizePhone"

	s := strings.TrimSpace(raw)
	if s == "" {
		return "", OpError{Op: op, Kind: ErrInvalidInput, Msg: "empty phone"}
	}
	if strings.HasPrefix(s, "00") {
		s = "+" + strings.TrimPrefix(s, "00")
	}

	region := strings.ToUpper(strings.TrimSpace(defaultRegion))
	if region == "" {
		region = DefaultPhoneRegion
	}

	num, err := phonenumbers.Parse(s, region)
	if err != nil {
		return "", OpError{Op: op, Kind: ErrInvalidInput, Msg: "unparseable phone"}
	}
	if !phonenumbers.IsPossibleNumber(num) {
		return "", OpError{Op: op, Kind: ErrInvalidInput, Msg: "impossible phone"}
	}
	return phonenumbers.Format(num, phonenumbers.E164), nil
}
