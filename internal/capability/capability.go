// internal/capability/capability.go
package capability

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	errs "attic/internal/errors"
)

const (
	// ActionRead is the only action capabilities currently grant.
	ActionRead = "read"

	// SubjectAny marks a capability redeemable by any user (public content).
	SubjectAny = "*"

	// DefaultTTL is the validity window for issued capabilities.
	DefaultTTL = 5 * time.Minute
)

// Keyer supplies the current HMAC signing key.
type Keyer interface {
	Key() []byte
}

// StaticKey is a fixed signing key, mainly for tests.
type StaticKey []byte

func (k StaticKey) Key() []byte { return []byte(k) }

type claims struct {
	ContentHash string `json:"hash"`
	Action      string `json:"act"`
	jwt.RegisteredClaims
}

// Issuer mints and verifies short-lived signed read capabilities binding
// a content hash to a subject user. Tokens are not persisted; expiry is
// the only deactivation path.
type Issuer struct {
	keys Keyer
	ttl  time.Duration
	now  func() time.Time
}

func NewIssuer(keys Keyer, ttl time.Duration) *Issuer {
	if ttl == 0 {
		ttl = DefaultTTL
	}
	return &Issuer{
		keys: keys,
		ttl:  ttl,
		now:  time.Now,
	}
}

// Issue mints a read capability for contentHash redeemable by subjectID.
// Pass SubjectAny for content readable by anyone.
func (i *Issuer) Issue(contentHash, subjectID string) (string, error) {
	now := i.now()
	c := claims{
		ContentHash: contentHash,
		Action:      ActionRead,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subjectID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := token.SignedString(i.keys.Key())
	if err != nil {
		return "", errs.Storage("signing capability", err)
	}
	return signed, nil
}

// Verify checks a capability and returns the content hash it grants
// access to. All failure modes (bad signature, expiry, action mismatch,
// subject mismatch) collapse into one opaque error so callers cannot
// tell which check failed.
func (i *Issuer) Verify(token, requestingUserID string) (string, error) {
	var c claims
	parsed, err := jwt.ParseWithClaims(token, &c,
		func(t *jwt.Token) (interface{}, error) {
			return i.keys.Key(), nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(i.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !parsed.Valid {
		return "", errs.InvalidCapability("capability rejected")
	}
	if c.Action != ActionRead {
		return "", errs.InvalidCapability("capability rejected")
	}
	if c.Subject != SubjectAny && c.Subject != requestingUserID {
		return "", errs.InvalidCapability("capability rejected")
	}
	if c.ContentHash == "" {
		return "", errs.InvalidCapability("capability rejected")
	}
	return c.ContentHash, nil
}
