package auth

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

const otpDigits = 6

var otpMax = big.NewInt(1000000)

// GenerateOTP returns a uniformly random 6-digit reset code, zero-padded.
// Codes are not globally unique; uniqueness is only checked at consumption
// time, scoped to (account, code, unused).
func GenerateOTP() (string, error) {
	n, err := rand.Int(rand.Reader, otpMax)
	if err != nil {
		return "", fmt.Errorf("failed to generate OTP: %w", err)
	}
	return fmt.Sprintf("%0*d", otpDigits, n.Int64()), nil
}
