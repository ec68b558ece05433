package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret-key-for-jwt-signing-32"

func TestGenerateAndParseAccessToken(t *testing.T) {
	user := &User{ID: "usr-001", Role: RoleAdmin}

	token, err := GenerateAccessToken(user, testSecret, 15)
	if err != nil {
		t.Fatalf("GenerateAccessToken() error = %v", err)
	}

	claims, err := ParseToken(token, testSecret)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}

	if claims.Subject != "usr-001" {
		t.Errorf("Subject = %q, want %q", claims.Subject, "usr-001")
	}
	if claims.Role != RoleAdmin {
		t.Errorf("Role = %q, want %q", claims.Role, RoleAdmin)
	}
	if claims.SessionID == "" || claims.ID == "" {
		t.Error("SessionID and JTI should not be empty")
	}

	id := claims.Identity()
	if id.UserID != "usr-001" || !id.IsAdmin() {
		t.Errorf("Identity() = %+v, want admin usr-001", id)
	}
}

func TestGenerateAccessToken_DefaultTTL(t *testing.T) {
	token, err := GenerateAccessToken(&User{ID: "usr-001", Role: RoleUser}, testSecret, 0)
	if err != nil {
		t.Fatalf("GenerateAccessToken() error = %v", err)
	}
	claims, err := ParseToken(token, testSecret)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}

	ttl := claims.ExpiresAt.Sub(claims.IssuedAt.Time)
	if ttl != defaultAccessTokenTTL {
		t.Errorf("TTL = %v, want %v", ttl, defaultAccessTokenTTL)
	}
}

func TestParseToken_Rejects(t *testing.T) {
	sign := func(claims CustomClaims, method jwt.SigningMethod, key any) string {
		t.Helper()
		s, err := jwt.NewWithClaims(method, claims).SignedString(key)
		if err != nil {
			t.Fatalf("signing: %v", err)
		}
		return s
	}
	valid := func() CustomClaims {
		return CustomClaims{
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   "usr-001",
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			},
			Role: RoleUser,
		}
	}

	expired := valid()
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))
	noSubject := valid()
	noSubject.Subject = ""
	badRole := valid()
	badRole.Role = "owner"

	tests := []struct {
		name  string
		token string
	}{
		{"wrong secret", sign(valid(), jwt.SigningMethodHS256, []byte("another-secret-another-secret-00"))},
		{"expired", sign(expired, jwt.SigningMethodHS256, []byte(testSecret))},
		{"missing subject", sign(noSubject, jwt.SigningMethodHS256, []byte(testSecret))},
		{"unknown role", sign(badRole, jwt.SigningMethodHS256, []byte(testSecret))},
		{"wrong algorithm", sign(valid(), jwt.SigningMethodHS512, []byte(testSecret))},
		{"garbage", "not.a.jwt"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseToken(tt.token, testSecret)
			if !errors.Is(err, ErrTokenInvalid) {
				t.Errorf("ParseToken() error = %v, want ErrTokenInvalid", err)
			}
		})
	}
}
