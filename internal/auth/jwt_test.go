package auth

import (
	"strings"
	"testing"
	"time"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type manualClock struct {
	t time.Time
}

func newManualClock() *manualClock {
	return &manualClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time          { return c.t }
func (c *manualClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func TestJWT_RoundTrip(t *testing.T) {
	clock := newManualClock()
	svc, err := NewJWTService(testSecret, time.Hour, clock.Now)
	if err != nil {
		t.Fatalf("NewJWTService error: %v", err)
	}

	token, err := svc.Issue("user@example.com", "tenant-1")
	if err != nil {
		t.Fatalf("Issue error: %v", err)
	}

	claims, err := svc.Verify(token)
	if err != nil {
		t.Fatalf("Verify error: %v", err)
	}
	if claims.UPN != "user@example.com" || claims.TenantID != "tenant-1" {
		t.Errorf("claims = %+v", claims)
	}
	if claims.Issuer != "aztriage" {
		t.Errorf("issuer = %q", claims.Issuer)
	}
}

func TestJWT_Expiry(t *testing.T) {
	clock := newManualClock()
	svc, _ := NewJWTService(testSecret, time.Hour, clock.Now)

	token, _ := svc.Issue("user@example.com", "")
	clock.Advance(2 * time.Hour)

	if _, err := svc.Verify(token); err == nil {
		t.Error("expired token should fail verification")
	}
}

func TestJWT_WrongSecret(t *testing.T) {
	clock := newManualClock()
	svc, _ := NewJWTService(testSecret, time.Hour, clock.Now)
	other, _ := NewJWTService(strings.Repeat("x", 32), time.Hour, clock.Now)

	token, _ := svc.Issue("user@example.com", "")
	if _, err := other.Verify(token); err == nil {
		t.Error("token signed with a different secret should fail")
	}
}

func TestJWT_ShortSecretRejected(t *testing.T) {
	if _, err := NewJWTService("short", time.Hour, nil); err == nil {
		t.Error("short secret should be rejected")
	}
}

func TestJWT_RequiresUPN(t *testing.T) {
	svc, _ := NewJWTService(testSecret, time.Hour, nil)
	if _, err := svc.Issue("", ""); err == nil {
		t.Error("empty upn should be rejected")
	}
}

func TestJWT_GarbageToken(t *testing.T) {
	svc, _ := NewJWTService(testSecret, time.Hour, nil)
	if _, err := svc.Verify("not.a.jwt"); err == nil {
		t.Error("garbage token should fail verification")
	}
}
