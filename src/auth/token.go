package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const issuer = "realtime"

// Claims is the payload of an access token. user_id is accepted as a JSON
// string or number since existing backends issue both.
type Claims struct {
	UserID json.RawMessage `json:"user_id,omitempty"`
	jwt.RegisteredClaims
}

// SubjectID extracts the user identity from the claims.
func (c *Claims) SubjectID() (string, error) {
	if len(c.UserID) == 0 {
		if c.RegisteredClaims.Subject != "" {
			return c.RegisteredClaims.Subject, nil
		}
		return "", errors.New("token has no user_id claim")
	}
	var s string
	if err := json.Unmarshal(c.UserID, &s); err == nil {
		if s == "" {
			return "", errors.New("token has an empty user_id claim")
		}
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(c.UserID, &n); err == nil {
		if _, err := strconv.ParseInt(n.String(), 10, 64); err == nil {
			return n.String(), nil
		}
	}
	return "", fmt.Errorf("unsupported user_id claim %s", string(c.UserID))
}

// Verifier validates HS256 tokens against the process-wide secret.
type Verifier struct {
	secret []byte
	leeway time.Duration
	now    func() time.Time
}

// VerifierOption customizes a Verifier.
type VerifierOption func(*Verifier)

// WithLeeway tolerates clock skew on exp/nbf/iat.
func WithLeeway(d time.Duration) VerifierOption {
	return func(v *Verifier) { v.leeway = d }
}

// WithClock replaces the time source used for expiry checks.
func WithClock(now func() time.Time) VerifierOption {
	return func(v *Verifier) { v.now = now }
}

// NewVerifier creates a verifier for tokens signed with secret.
func NewVerifier(secret []byte, opts ...VerifierOption) *Verifier {
	v := &Verifier{secret: secret, now: time.Now}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify checks structure, signature and expiry and returns the subject identity.
func (v *Verifier) Verify(tokenString string) (string, error) {
	if tokenString == "" {
		return "", ErrMissing
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.leeway),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		return "", classify(err)
	}
	if !token.Valid {
		return "", NewError(KindInvalid, jwt.ErrTokenSignatureInvalid)
	}

	subject, err := claims.SubjectID()
	if err != nil {
		return "", NewError(KindMalformed, err)
	}
	return subject, nil
}

func classify(err error) *Error {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed),
		errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
		return NewError(KindMalformed, err)
	case errors.Is(err, jwt.ErrTokenExpired):
		return NewError(KindExpired, err)
	default:
		return NewError(KindInvalid, err)
	}
}

// Issuer signs tokens with the same secret a Verifier checks.
type Issuer struct {
	secret []byte
	now    func() time.Time
}

// NewIssuer creates a token issuer.
func NewIssuer(secret []byte) *Issuer {
	return &Issuer{secret: secret, now: time.Now}
}

// Issue creates a signed token for userID valid for ttl. A negative ttl
// yields an already expired token.
func (i *Issuer) Issue(userID string, ttl time.Duration) (string, error) {
	raw, err := json.Marshal(userID)
	if err != nil {
		return "", err
	}
	now := i.now()
	claims := &Claims{
		UserID: raw,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    issuer,
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
}
