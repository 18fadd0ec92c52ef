package oauth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
)

const (
	ChallengeMethodS256  = "S256"
	ChallengeMethodPlain = "plain"

	minVerifierLength = 43
	maxVerifierLength = 128
)

var (
	ErrInvalidCodeChallenge       = errors.New("invalid code challenge")
	ErrUnsupportedChallengeMethod = errors.New("unsupported code challenge method")
	ErrCodeVerificationFailed     = errors.New("code verification failed")
)

// ValidateCodeChallenge checks the challenge parameters presented at the
// authorization endpoint. The plain method is accepted for local
// debugging only; S256 is the advertised method.
func ValidateCodeChallenge(codeChallenge, codeChallengeMethod string) error {
	if codeChallenge == "" {
		return fmt.Errorf("%w: code_challenge is required", ErrInvalidCodeChallenge)
	}
	if codeChallengeMethod == "" {
		return fmt.Errorf("%w: code_challenge_method is required", ErrInvalidCodeChallenge)
	}
	if codeChallengeMethod != ChallengeMethodS256 && codeChallengeMethod != ChallengeMethodPlain {
		return fmt.Errorf("%w: %s", ErrUnsupportedChallengeMethod, codeChallengeMethod)
	}
	if len(codeChallenge) < minVerifierLength || len(codeChallenge) > maxVerifierLength {
		return fmt.Errorf("%w: invalid code_challenge length", ErrInvalidCodeChallenge)
	}
	return nil
}

// VerifyCodeChallenge checks the verifier presented at the token
// endpoint against the challenge stored with the authorization code.
// For S256 the verifier is hashed with SHA-256 and base64url encoded
// without padding before comparison.
func VerifyCodeChallenge(codeVerifier, codeChallenge, codeChallengeMethod string) error {
	if codeVerifier == "" {
		return fmt.Errorf("%w: code_verifier is required", ErrCodeVerificationFailed)
	}
	if len(codeVerifier) < minVerifierLength || len(codeVerifier) > maxVerifierLength {
		return fmt.Errorf("%w: invalid code_verifier length", ErrCodeVerificationFailed)
	}
	if !isValidVerifier(codeVerifier) {
		return fmt.Errorf("%w: code_verifier contains invalid characters", ErrCodeVerificationFailed)
	}

	switch codeChallengeMethod {
	case ChallengeMethodPlain:
		if subtle.ConstantTimeCompare([]byte(codeVerifier), []byte(codeChallenge)) != 1 {
			return ErrCodeVerificationFailed
		}
	case ChallengeMethodS256:
		hash := sha256.Sum256([]byte(codeVerifier))
		computed := base64.RawURLEncoding.EncodeToString(hash[:])
		if subtle.ConstantTimeCompare([]byte(computed), []byte(codeChallenge)) != 1 {
			return ErrCodeVerificationFailed
		}
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedChallengeMethod, codeChallengeMethod)
	}

	return nil
}

// isValidVerifier enforces the unreserved character set from RFC 7636.
func isValidVerifier(verifier string) bool {
	for _, c := range verifier {
		switch {
		case c >= 'A' && c <= 'Z':
		case c >= 'a' && c <= 'z':
		case c >= '0' && c <= '9':
		case c == '-' || c == '.' || c == '_' || c == '~':
		default:
			return false
		}
	}
	return true
}
