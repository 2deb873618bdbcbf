package token

import (
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/pkg/errors"
)

const (
	// DefaultTTL is how long a confirmation token stays valid.
	DefaultTTL = 24 * time.Hour

	size = 32
)

// Issuer generates random hex tokens
type Issuer struct {
	TTL time.Duration
}

// NewIssuer returns an issuer whose confirmation tokens expire after ttl.
// A non-positive ttl falls back to DefaultTTL.
func NewIssuer(ttl time.Duration) *Issuer {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Issuer{TTL: ttl}
}

// IssueConfirmationToken returns a new token and its expiry
func (i *Issuer) IssueConfirmationToken(now time.Time) (string, time.Time, error) {
	token, err := Generate()
	if err != nil {
		return "", time.Time{}, err
	}

	return token, now.Add(i.TTL), nil
}

// IssueUnsubscribeToken returns a new token that never expires
func (i *Issuer) IssueUnsubscribeToken() (string, error) {
	return Generate()
}

// Generate returns 32 random bytes encoded as lowercase hex.
func Generate() (string, error) {
	b := make([]byte, size)
	if _, err := rand.Read(b); err != nil {
		return "", errors.Wrap(err, "rand.Read")
	}

	return hex.EncodeToString(b), nil
}
