// Package hotp implements the counter-based one-time code used as the
// second authentication factor. Codes are derived from a shared secret and
// a store-assigned counter, so they can be regenerated for verification
// without ever being persisted.
package hotp

import (
	"fmt"

	"github.com/pquerna/otp"
	otphotp "github.com/pquerna/otp/hotp"
)

// Digits is the length of generated codes.
const Digits = otp.DigitsSix

// Generator produces and verifies counter-based one-time codes for a
// single shared secret. It is stateless and safe for concurrent use.
type Generator struct {
	secret string
	window uint
}

// New creates a Generator. The secret is base32 text (validated by the
// configuration layer). window is the number of counters beyond the exact
// one that Verify will accept; 0 means exact-counter match only.
func New(secret string, window uint) *Generator {
	return &Generator{
		secret: secret,
		window: window,
	}
}

// Generate returns the code for the given counter. Identical
// (secret, counter) inputs always yield identical output.
func (g *Generator) Generate(counter int64) (string, error) {
	if counter < 0 {
		return "", fmt.Errorf("negative counter %d", counter)
	}
	code, err := otphotp.GenerateCodeCustom(g.secret, uint64(counter), otphotp.ValidateOpts{
		Digits:    Digits,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		return "", fmt.Errorf("generating code: %w", err)
	}
	return code, nil
}

// Verify reports whether candidate matches the code for counter, or for
// any counter within the configured look-ahead window.
func (g *Generator) Verify(counter int64, candidate string) bool {
	if counter < 0 || candidate == "" {
		return false
	}
	for i := uint64(0); i <= uint64(g.window); i++ {
		ok, err := otphotp.ValidateCustom(candidate, uint64(counter)+i, g.secret, otphotp.ValidateOpts{
			Digits:    Digits,
			Algorithm: otp.AlgorithmSHA1,
		})
		if err == nil && ok {
			return true
		}
	}
	return false
}
