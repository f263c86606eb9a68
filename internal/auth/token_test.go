package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret-key-for-jwt-signing"

func TestIssueAndParseToken(t *testing.T) {
	token, err := IssueToken(testSecret, "dashboard", time.Hour)
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	if token == "" {
		t.Fatal("IssueToken() returned empty token")
	}

	claims, err := ParseToken(token, testSecret)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if claims.Subject != "dashboard" {
		t.Errorf("Subject = %q, want %q", claims.Subject, "dashboard")
	}
	if claims.Issuer != Issuer {
		t.Errorf("Issuer = %q, want %q", claims.Issuer, Issuer)
	}
	if claims.ID == "" {
		t.Error("JTI (ID) should not be empty")
	}
	if got := claims.ExpiresAt.Sub(claims.IssuedAt.Time); got != time.Hour {
		t.Errorf("lifetime = %v, want 1h", got)
	}
}

func TestIssueToken_DefaultTTL(t *testing.T) {
	token, err := IssueToken(testSecret, "hub", 0)
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	claims, err := ParseToken(token, testSecret)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if got := claims.ExpiresAt.Sub(claims.IssuedAt.Time); got != DefaultTTL {
		t.Errorf("lifetime = %v, want %v", got, DefaultTTL)
	}
}

func TestIssueToken_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		secret  string
		subject string
		want    error
	}{
		{"no secret", "", "dashboard", ErrSecretMissing},
		{"no subject", testSecret, "", ErrSubjectEmpty},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := IssueToken(tt.secret, tt.subject, time.Hour)
			if !errors.Is(err, tt.want) {
				t.Errorf("IssueToken() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestParseToken_Invalid(t *testing.T) {
	valid, err := IssueToken(testSecret, "dashboard", time.Hour)
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}

	expired := sign(t, jwt.RegisteredClaims{
		Issuer:    Issuer,
		Subject:   "dashboard",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
	})
	foreign := sign(t, jwt.RegisteredClaims{
		Issuer:    "someone-else",
		Subject:   "dashboard",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	noExpiry := sign(t, jwt.RegisteredClaims{Issuer: Issuer, Subject: "dashboard"})
	noSubject := sign(t, jwt.RegisteredClaims{
		Issuer:    Issuer,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})

	tests := []struct {
		name   string
		token  string
		secret string
	}{
		{"garbage", "not-a-valid-jwt", testSecret},
		{"wrong secret", valid, "wrong-secret"},
		{"expired", expired, testSecret},
		{"foreign issuer", foreign, testSecret},
		{"no expiry", noExpiry, testSecret},
		{"no subject", noSubject, testSecret},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseToken(tt.token, tt.secret)
			if !errors.Is(err, ErrTokenInvalid) {
				t.Errorf("ParseToken() error = %v, want ErrTokenInvalid", err)
			}
		})
	}
}

func TestParseToken_RejectsOtherAlgorithms(t *testing.T) {
	claims := Claims{RegisteredClaims: jwt.RegisteredClaims{
		Issuer:    Issuer,
		Subject:   "dashboard",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("SignedString() error = %v", err)
	}

	if _, err := ParseToken(token, testSecret); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("ParseToken(HS512) error = %v, want ErrTokenInvalid", err)
	}
}

func TestParseToken_NoSecret(t *testing.T) {
	if _, err := ParseToken("anything", ""); !errors.Is(err, ErrSecretMissing) {
		t.Errorf("ParseToken() error = %v, want ErrSecretMissing", err)
	}
}

func sign(t *testing.T, rc jwt.RegisteredClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{RegisteredClaims: rc}).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("SignedString() error = %v", err)
	}
	return token
}
