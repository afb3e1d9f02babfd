package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

// FlowType selects how emailed links prove possession: a token hash (OTP)
// or an authorization code bound to a browser-held verifier (PKCE).
type FlowType string

const (
	FlowOTP  FlowType = "otp"
	FlowPKCE FlowType = "pkce"
)

const pkceVerifierBytes = 32

// newPKCEPair returns a base64url verifier (43 chars) and its S256 challenge.
func newPKCEPair() (verifier, challenge string, err error) {
	b := make([]byte, pkceVerifierBytes)
	if _, err := rand.Read(b); err != nil {
		return "", "", fmt.Errorf("generating code verifier: %w", err)
	}
	verifier = base64.RawURLEncoding.EncodeToString(b)
	return verifier, PKCEChallenge(verifier), nil
}

// PKCEChallenge derives the S256 code challenge for verifier.
func PKCEChallenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
