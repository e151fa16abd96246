package auth

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Algorithm names an HMAC signing algorithm for session tokens.
type Algorithm string

const (
	HS256 Algorithm = "HS256"
	HS384 Algorithm = "HS384"
	HS512 Algorithm = "HS512"
)

// ParseAlgorithm resolves a configured algorithm name. Empty selects HS256.
func ParseAlgorithm(name string) (Algorithm, error) {
	switch alg := Algorithm(strings.ToUpper(strings.TrimSpace(name))); alg {
	case "":
		return HS256, nil
	case HS256, HS384, HS512:
		return alg, nil
	default:
		return "", fmt.Errorf("unsupported signing algorithm %q", name)
	}
}

func (a Algorithm) method() *jwt.SigningMethodHMAC {
	switch a {
	case HS384:
		return jwt.SigningMethodHS384
	case HS512:
		return jwt.SigningMethodHS512
	default:
		return jwt.SigningMethodHS256
	}
}

// Claims is the payload carried by a session token.
// Encode truncates timestamps to whole seconds in UTC, the form Decode returns.
// A zero ExpiresAt means the token never expires.
type Claims struct {
	SubjectID string
	TokenID   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// TokenCodec signs claims into compact JWTs and verifies them.
// The secret and algorithm are fixed at construction; Decode accepts only
// tokens whose header names that same algorithm.
type TokenCodec struct {
	secret    []byte
	algorithm Algorithm
	method    *jwt.SigningMethodHMAC
	parser    *jwt.Parser
	now       func() time.Time
}

// NewTokenCodec creates a TokenCodec. The secret must not be empty.
func NewTokenCodec(secret string, algorithm Algorithm) (*TokenCodec, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("token signing secret is required")
	}
	if _, err := ParseAlgorithm(string(algorithm)); err != nil {
		return nil, err
	}
	if algorithm == "" {
		algorithm = HS256
	}

	c := &TokenCodec{
		secret:    []byte(secret),
		algorithm: algorithm,
		method:    algorithm.method(),
		now:       time.Now,
	}
	c.parser = jwt.NewParser(
		jwt.WithValidMethods([]string{c.method.Alg()}),
		jwt.WithTimeFunc(func() time.Time { return c.now() }),
	)
	return c, nil
}

// Algorithm reports the pinned signing algorithm.
func (c *TokenCodec) Algorithm() Algorithm {
	return c.algorithm
}

// Encode signs claims. A zero IssuedAt is set to the current time.
func (c *TokenCodec) Encode(claims Claims) (string, error) {
	issuedAt := claims.IssuedAt
	if issuedAt.IsZero() {
		issuedAt = c.now()
	}

	registered := jwt.RegisteredClaims{
		Subject:  claims.SubjectID,
		ID:       claims.TokenID,
		IssuedAt: jwt.NewNumericDate(normalizeTime(issuedAt)),
	}
	if !claims.ExpiresAt.IsZero() {
		registered.ExpiresAt = jwt.NewNumericDate(normalizeTime(claims.ExpiresAt))
	}

	signed, err := jwt.NewWithClaims(c.method, registered).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrEncoding, err)
	}
	return signed, nil
}

// Decode verifies the token signature, then its claims.
//
// The signature over the first two segments is checked before anything in
// them is interpreted, so any change to the header or payload reports
// ErrSignatureMismatch. A well-signed token past its expiry reports ErrExpired.
func (c *TokenCodec) Decode(token string) (Claims, error) {
	segments := strings.Split(token, ".")
	if len(segments) != 3 {
		return Claims{}, ErrMalformedToken
	}

	signature, err := base64.RawURLEncoding.DecodeString(segments[2])
	if err != nil {
		return Claims{}, fmt.Errorf("%w: signature segment: %v", ErrMalformedToken, err)
	}
	if err := c.method.Verify(segments[0]+"."+segments[1], signature, c.secret); err != nil {
		return Claims{}, ErrSignatureMismatch
	}

	var registered jwt.RegisteredClaims
	if _, err := c.parser.ParseWithClaims(token, &registered, func(*jwt.Token) (any, error) {
		return c.secret, nil
	}); err != nil {
		return Claims{}, classifyParseError(err)
	}

	if strings.TrimSpace(registered.Subject) == "" {
		return Claims{}, fmt.Errorf("%w: missing subject", ErrMalformedToken)
	}

	claims := Claims{
		SubjectID: registered.Subject,
		TokenID:   registered.ID,
	}
	if registered.IssuedAt != nil {
		claims.IssuedAt = registered.IssuedAt.Time.UTC()
	}
	if registered.ExpiresAt != nil {
		claims.ExpiresAt = registered.ExpiresAt.Time.UTC()
	}
	return claims, nil
}

func normalizeTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}

func classifyParseError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrExpired
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return ErrSignatureMismatch
	default:
		return fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
}
