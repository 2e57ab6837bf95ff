package token

import (
	"context"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestIssuer(t *testing.T) *Issuer {
	t.Helper()
	i, err := NewIssuer("test-secret", "https://id.example.com/", 0)
	require.NoError(t, err)
	return i
}

func TestNewIssuer(t *testing.T) {
	_, err := NewIssuer("", "https://id.example.com", 0)
	assert.Error(t, err, "empty secret")

	i := newTestIssuer(t)
	assert.Equal(t, DefaultTTL, i.TTL())
	assert.Equal(t, "https://id.example.com", i.baseURL)
	assert.Len(t, i.key, keySize)
}

func TestIssueAndVerify(t *testing.T) {
	i := newTestIssuer(t)

	tok, err := i.Issue(context.Background(), Request{
		UserID:     "user-1",
		Email:      "alice@example.com",
		ClientID:   "account",
		RememberMe: true,
		AttemptID:  "attempt-1",
		TabID:      "tab-1",
		Persistent: true,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, tok.Value)
	assert.NotEmpty(t, tok.Claims.ID)

	claims, err := i.Verify(tok.Value)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.Subject)
	assert.Equal(t, "account", claims.ClientID())
	assert.Equal(t, "alice@example.com", claims.Email)
	assert.Equal(t, "attempt-1", claims.AttemptID)
	assert.Equal(t, "tab-1", claims.TabID)
	assert.True(t, claims.RememberMe)
	assert.True(t, claims.Reusable)
	assert.WithinDuration(t, time.Now().Add(DefaultTTL), claims.ExpiresAt.Time, 5*time.Second)
}

func TestIssueDistinctTokens(t *testing.T) {
	i := newTestIssuer(t)
	req := Request{UserID: "user-1", ClientID: "account", AttemptID: "a"}

	first, err := i.Issue(context.Background(), req)
	require.NoError(t, err)
	second, err := i.Issue(context.Background(), req)
	require.NoError(t, err)

	assert.NotEqual(t, first.Claims.ID, second.Claims.ID)
	assert.NotEqual(t, first.Value, second.Value)
}

func TestIssueTTLOverride(t *testing.T) {
	i := newTestIssuer(t)

	tok, err := i.Issue(context.Background(), Request{UserID: "u", TTL: time.Hour})
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), tok.Claims.ExpiresAt.Time, 5*time.Second)
}

func TestIssueRequiresUser(t *testing.T) {
	_, err := newTestIssuer(t).Issue(context.Background(), Request{})
	assert.Error(t, err)
}

func TestVerifyRejects(t *testing.T) {
	i := newTestIssuer(t)
	tok, err := i.Issue(context.Background(), Request{UserID: "u", ClientID: "account"})
	require.NoError(t, err)

	other, err := NewIssuer("other-secret", "https://id.example.com", 0)
	require.NoError(t, err)

	foreignIssuer, err := NewIssuer("test-secret", "https://evil.example.com", 0)
	require.NoError(t, err)
	foreign, err := foreignIssuer.Issue(context.Background(), Request{UserID: "u"})
	require.NoError(t, err)

	expiredIssuer := newTestIssuer(t)
	expiredIssuer.now = func() time.Time { return time.Now().Add(-time.Hour) }
	expired, err := expiredIssuer.Issue(context.Background(), Request{UserID: "u"})
	require.NoError(t, err)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, tok.Claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := []struct {
		name string
		raw  string
		iss  *Issuer
	}{
		{"garbage", "not-a-token", i},
		{"wrong key", tok.Value, other},
		{"wrong issuer", foreign.Value, i},
		{"expired", expired.Value, i},
		{"tampered", tok.Value[:len(tok.Value)-2] + "xx", i},
		{"alg none", none, i},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.iss.Verify(tt.raw)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestLink(t *testing.T) {
	i := newTestIssuer(t)
	tok, err := i.Issue(context.Background(), Request{UserID: "u", ClientID: "my app"})
	require.NoError(t, err)

	link := i.Link(tok)
	require.True(t, strings.HasPrefix(link, "https://id.example.com"+RedeemPath+"?"), link)

	u, err := url.Parse(link)
	require.NoError(t, err)
	assert.Equal(t, tok.Value, u.Query().Get("key"))
	assert.Equal(t, "my app", u.Query().Get("client_id"))
}
