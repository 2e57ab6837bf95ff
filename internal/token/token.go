// Package token issues and verifies the signed action tokens behind magic
// links.
package token

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/hkdf"
)

const (
	// DefaultTTL is how long a magic link stays valid when no override is given.
	DefaultTTL = 15 * time.Minute

	// RedeemPath is where links point; the token travels in the "key" parameter.
	RedeemPath = "/login-actions/action-token"

	keyInfo = "magiclink action token"
	keySize = 32
)

var ErrInvalidToken = errors.New("invalid action token")

// Request describes the token to issue. A zero TTL means DefaultTTL.
type Request struct {
	UserID     string
	Email      string
	ClientID   string
	TTL        time.Duration
	RememberMe bool
	AttemptID  string
	TabID      string
	// Persistent tokens may be redeemed more than once until they expire.
	Persistent bool
}

type Claims struct {
	jwt.RegisteredClaims
	Email      string `json:"eml,omitempty"`
	RememberMe bool   `json:"rme,omitempty"`
	AttemptID  string `json:"asid"`
	TabID      string `json:"tab,omitempty"`
	Reusable   bool   `json:"reuse,omitempty"`
}

// ClientID returns the client the token was issued for.
func (c *Claims) ClientID() string {
	if len(c.Audience) == 0 {
		return ""
	}
	return c.Audience[0]
}

type ActionToken struct {
	Value  string
	Claims Claims
}

type Issuer struct {
	key     []byte
	issuer  string
	baseURL string
	ttl     time.Duration
	now     func() time.Time
}

// NewIssuer derives the signing key from secret. baseURL is both the token
// issuer and the prefix of generated links.
func NewIssuer(secret, baseURL string, ttl time.Duration) (*Issuer, error) {
	if secret == "" {
		return nil, errors.New("token secret must be provided")
	}
	key, err := deriveKey(secret)
	if err != nil {
		return nil, err
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	baseURL = strings.TrimRight(baseURL, "/")
	return &Issuer{
		key:     key,
		issuer:  baseURL,
		baseURL: baseURL,
		ttl:     ttl,
		now:     time.Now,
	}, nil
}

// deriveKey stretches the configured secret into a fixed-size HMAC key
// bound to this token type.
func deriveKey(secret string) ([]byte, error) {
	r := hkdf.New(sha256.New, []byte(secret), nil, []byte(keyInfo))
	key := make([]byte, keySize)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	return key, nil
}

// TTL returns the default lifetime of issued tokens.
func (i *Issuer) TTL() time.Duration {
	return i.ttl
}

func (i *Issuer) Issue(ctx context.Context, req Request) (*ActionToken, error) {
	if req.UserID == "" {
		return nil, errors.New("issue token: user id is required")
	}
	ttl := req.TTL
	if ttl <= 0 {
		ttl = i.ttl
	}
	now := i.now()

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    i.issuer,
			Subject:   req.UserID,
			Audience:  jwt.ClaimStrings{req.ClientID},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Email:      req.Email,
		RememberMe: req.RememberMe,
		AttemptID:  req.AttemptID,
		TabID:      req.TabID,
		Reusable:   req.Persistent,
	}

	value, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.key)
	if err != nil {
		return nil, fmt.Errorf("sign token: %w", err)
	}
	return &ActionToken{Value: value, Claims: claims}, nil
}

// Link returns the absolute URL that redeems t.
func (i *Issuer) Link(t *ActionToken) string {
	q := url.Values{}
	q.Set("key", t.Value)
	if id := t.Claims.ClientID(); id != "" {
		q.Set("client_id", id)
	}
	return i.baseURL + RedeemPath + "?" + q.Encode()
}

// Verify checks the signature, issuer and expiry of raw.
func (i *Issuer) Verify(raw string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		return i.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(i.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" || claims.ID == "" {
		return nil, fmt.Errorf("%w: missing subject or id", ErrInvalidToken)
	}
	return claims, nil
}
