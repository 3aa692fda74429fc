package utils

import (
	"crypto/rand"
	"encoding/base32"
	"strings"
)

// ReferralCodePrefix tags codes handed out to members of the network.
const ReferralCodePrefix = "USR"

const referralCodeLength = 6

// GenerateReferralCode returns a random code in the form USR-XXXXXX.
func GenerateReferralCode() (string, error) {
	randomBytes := make([]byte, 4)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", err
	}

	// 4 bytes encode to 7 base32 characters, all in [A-Z2-7]
	randomStr := base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(randomBytes)
	return ReferralCodePrefix + "-" + randomStr[:referralCodeLength], nil
}

// NormalizeReferralCode trims and upper-cases a code typed by a user.
func NormalizeReferralCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// IsReferralCode reports whether code has the USR-XXXXXX shape.
func IsReferralCode(code string) bool {
	code = NormalizeReferralCode(code)
	prefix := ReferralCodePrefix + "-"
	if !strings.HasPrefix(code, prefix) || len(code) != len(prefix)+referralCodeLength {
		return false
	}
	for _, r := range code[len(prefix):] {
		if !((r >= 'A' && r <= 'Z') || (r >= '2' && r <= '7')) {
			return false
		}
	}
	return true
}
