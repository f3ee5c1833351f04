package auth

import (
	"testing"
	"time"

	"mailflow/internal/platform/config"
)

func newTestService(ttl time.Duration) *TokenService {
	return NewTokenService(config.JWTConfig{
		Secret:          "test-secret",
		AccessTokenTTL:  ttl,
		RefreshTokenTTL: 24 * time.Hour,
	})
}

func TestTokenRoundTrip(t *testing.T) {
	svc := newTestService(time.Hour)

	token, err := svc.GenerateAccessToken("usr_1", "ws_1", "admin", "alice@example.com")
	if err != nil {
		t.Fatalf("GenerateAccessToken failed: %v", err)
	}

	claims, err := svc.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken failed: %v", err)
	}
	if claims.UserID != "usr_1" || claims.WorkspaceID != "ws_1" || claims.Role != "admin" {
		t.Errorf("Claims not preserved: %+v", claims)
	}
}

func TestTokenWrongSecret(t *testing.T) {
	svc := newTestService(time.Hour)
	other := NewTokenService(config.JWTConfig{Secret: "different", AccessTokenTTL: time.Hour})

	token, _ := svc.GenerateAccessToken("usr_1", "ws_1", "member", "bob@example.com")
	if _, err := other.ValidateToken(token); err == nil {
		t.Error("Token signed with another secret must not validate")
	}
}

func TestTokenExpired(t *testing.T) {
	svc := newTestService(-time.Minute)

	token, _ := svc.GenerateAccessToken("usr_1", "ws_1", "member", "bob@example.com")
	if _, err := svc.ValidateToken(token); err == nil {
		t.Error("Expired token must not validate")
	}
}

func TestRefreshTokenSubject(t *testing.T) {
	svc := newTestService(time.Hour)

	token, err := svc.GenerateRefreshToken("usr_42")
	if err != nil {
		t.Fatalf("GenerateRefreshToken failed: %v", err)
	}

	userID, err := svc.ValidateRefreshToken(token)
	if err != nil {
		t.Fatalf("ValidateRefreshToken failed: %v", err)
	}
	if userID != "usr_42" {
		t.Errorf("Expected usr_42, got %s", userID)
	}
}

func TestRefreshTokenGarbage(t *testing.T) {
	svc := newTestService(time.Hour)

	if _, err := svc.ValidateRefreshToken("not-a-token"); err == nil {
		t.Error("Garbage must not validate")
	}
}
