package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	testSessionSigningSecret = "secret"
	testSessionCookieName    = "talenthub_session"
	testSessionUserID        = "user-123"
	testSessionUserEmail     = "user@example.com"
)

func newTestValidator(t *testing.T, clock func() time.Time) *SessionValidator {
	t.Helper()
	validator, err := NewSessionValidator(SessionValidatorConfig{
		SigningSecret: []byte(testSessionSigningSecret),
		Issuer:        DefaultIssuer,
		Audience:      DefaultAudience,
		CookieName:    testSessionCookieName,
		Clock:         clock,
	})
	if err != nil {
		t.Fatalf("failed to construct validator: %v", err)
	}
	return validator
}

func signTestToken(t *testing.T, claims SessionClaims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSessionSigningSecret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func TestSessionValidatorAcceptsIssuedTokens(t *testing.T) {
	clockNow := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return clockNow }
	issuer, err := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte(testSessionSigningSecret),
		Issuer:        DefaultIssuer,
		Audience:      DefaultAudience,
		TokenTTL:      time.Hour,
		Clock:         clock,
	})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}
	signed, _, err := issuer.IssueSessionToken(context.Background(), Principal{
		UserID: testSessionUserID,
		Email:  testSessionUserEmail,
		Role:   "consultant_manager",
	})
	if err != nil {
		t.Fatalf("unexpected issuance error: %v", err)
	}

	claims, err := newTestValidator(t, clock).ValidateToken(signed)
	if err != nil {
		t.Fatalf("unexpected validation failure: %v", err)
	}
	principal := claims.Principal()
	if principal.UserID != testSessionUserID || principal.Email != testSessionUserEmail || principal.Role != "consultant_manager" {
		t.Fatalf("unexpected principal %#v", principal)
	}
}

func TestSessionValidatorValidateTokenExpired(t *testing.T) {
	clockNow := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	validator := newTestValidator(t, func() time.Time { return clockNow })

	signed := signTestToken(t, SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    DefaultIssuer,
			Audience:  []string{DefaultAudience},
			Subject:   testSessionUserID,
			IssuedAt:  jwt.NewNumericDate(clockNow.Add(-2 * time.Hour)),
			ExpiresAt: jwt.NewNumericDate(clockNow.Add(-time.Hour)),
		},
	})

	if _, err := validator.ValidateToken(signed); !errors.Is(err, ErrExpiredSessionToken) {
		t.Fatalf("expected expired token error, got %v", err)
	}
}

func TestSessionValidatorRejectsForeignAudience(t *testing.T) {
	validator := newTestValidator(t, nil)
	signed := signTestToken(t, SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    DefaultIssuer,
			Audience:  []string{"another-api"},
			Subject:   testSessionUserID,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	if _, err := validator.ValidateToken(signed); !errors.Is(err, ErrInvalidSessionToken) {
		t.Fatalf("expected invalid token error, got %v", err)
	}
	if _, err := validator.ValidateToken("invalid.token"); !errors.Is(err, ErrInvalidSessionToken) {
		t.Fatalf("expected malformed token to fail, got %v", err)
	}
}

func TestSessionValidatorValidateRequestSources(t *testing.T) {
	validator := newTestValidator(t, nil)
	signed := signTestToken(t, SessionClaims{
		Email: testSessionUserEmail,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    DefaultIssuer,
			Audience:  []string{DefaultAudience},
			Subject:   testSessionUserID,
			IssuedAt:  jwt.NewNumericDate(time.Now().Add(-time.Minute)),
			NotBefore: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})

	header := httptest.NewRequest(http.MethodGet, "/v1/api/user/me", http.NoBody)
	header.Header.Set("Authorization", "Bearer "+signed)

	query := httptest.NewRequest(http.MethodGet, "/v1/api/realtime?access_token="+signed, http.NoBody)

	cookie := httptest.NewRequest(http.MethodGet, "/v1/api/user/me", http.NoBody)
	cookie.AddCookie(&http.Cookie{Name: testSessionCookieName, Value: signed})

	for name, request := range map[string]*http.Request{"header": header, "query": query, "cookie": cookie} {
		claims, err := validator.ValidateRequest(request)
		if err != nil {
			t.Fatalf("%s: validation failed: %v", name, err)
		}
		if claims.Subject != testSessionUserID {
			t.Fatalf("%s: unexpected user id: %s", name, claims.Subject)
		}
	}

	empty := httptest.NewRequest(http.MethodGet, "/v1/api/user/me", http.NoBody)
	if _, err := validator.ValidateRequest(empty); !errors.Is(err, ErrMissingSessionToken) {
		t.Fatalf("expected missing token error, got %v", err)
	}
}
