// Package token implements the capability tokens that gate room access.
//
// Tokens are minted by the upstream web application with the shared secret
// and presented by clients in their join frame. They are HS256-signed and
// only valid for a short window after issuance, so a leaked token is useless
// almost immediately.
package token

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultTTL is how long a token stays valid after issuance.
const DefaultTTL = 30 * time.Second

// PermissionEdit must be present in the granted permission set for a join to
// be accepted.
const PermissionEdit = "edit"

var (
	// ErrExpired means the token was issued too long ago. Age is checked
	// before the signature, so a stale token is rejected as expired no
	// matter how it was signed.
	ErrExpired = errors.New("token expired")

	// ErrInvalid means the signature did not validate or a required claim
	// is absent.
	ErrInvalid = errors.New("token invalid")
)

// Claims is the verified content of a capability token.
type Claims struct {
	Subject     string   `json:"sub"`
	Room        string   `json:"room"`
	Permissions []string `json:"permissions"`
	IssuedAt    int64    `json:"iat"`
}

// CanEdit reports whether the granted permission set includes "edit".
func (c *Claims) CanEdit() bool {
	return slices.Contains(c.Permissions, PermissionEdit)
}

// jwt.Claims implementation for the parsing step. The issue-age check is
// done by the Verifier, not here.

func (c *Claims) GetExpirationTime() (*jwt.NumericDate, error) { return nil, nil }
func (c *Claims) GetIssuedAt() (*jwt.NumericDate, error) {
	return jwt.NewNumericDate(time.Unix(c.IssuedAt, 0)), nil
}
func (c *Claims) GetNotBefore() (*jwt.NumericDate, error) { return nil, nil }
func (c *Claims) GetIssuer() (string, error)              { return "", nil }
func (c *Claims) GetSubject() (string, error)             { return c.Subject, nil }
func (c *Claims) GetAudience() (jwt.ClaimStrings, error)  { return nil, nil }

// Verifier checks capability tokens against the shared secret. It is pure:
// verification has no side effects and can run concurrently.
type Verifier struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewVerifier returns a Verifier with the default 30 second TTL.
func NewVerifier(secret []byte) *Verifier {
	return &Verifier{secret: secret, ttl: DefaultTTL, now: time.Now}
}

// WithTTL overrides the issue-age limit. Used by tests.
func (v *Verifier) WithTTL(ttl time.Duration) *Verifier {
	v.ttl = ttl
	return v
}

// WithClock overrides the time source. Used by tests.
func (v *Verifier) WithClock(now func() time.Time) *Verifier {
	v.now = now
	return v
}

// Verify validates a token and returns its claims.
//
// It fails with ErrExpired when the issuance timestamp is more than the TTL
// in the past, regardless of signature validity, and with ErrInvalid for a
// bad signature, an unexpected algorithm, or missing claims.
func (v *Verifier) Verify(raw string) (*Claims, error) {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))

	// Age first, on the unverified claims: a token issued too long ago is
	// rejected as expired even when its signature is garbage.
	var unverified Claims
	if _, _, err := parser.ParseUnverified(raw, &unverified); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if unverified.IssuedAt == 0 {
		return nil, fmt.Errorf("%w: missing iat", ErrInvalid)
	}
	issued := time.Unix(unverified.IssuedAt, 0)
	if v.now().After(issued.Add(v.ttl)) {
		return nil, fmt.Errorf("%w: issued at %s", ErrExpired, issued.UTC().Format(time.RFC3339))
	}

	claims := &Claims{}
	if _, err := parser.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if claims.Room == "" {
		return nil, fmt.Errorf("%w: missing room", ErrInvalid)
	}
	return claims, nil
}

// Sign mints a capability token. The upstream application calls this when
// handing a client its join credentials; tests and local tooling use it too.
func Sign(secret []byte, subject, room string, permissions []string, issuedAt time.Time) (string, error) {
	claims := &Claims{
		Subject:     subject,
		Room:        room,
		Permissions: permissions,
		IssuedAt:    issuedAt.Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}
