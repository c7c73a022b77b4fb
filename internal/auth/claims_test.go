package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret-key-for-jwt-signing-0123456789"

func TestGenerateAndParseAccessToken(t *testing.T) {
	token, err := GenerateAccessToken("installer", RoleOperator, testSecret, time.Hour)
	if err != nil {
		t.Fatalf("GenerateAccessToken() error = %v", err)
	}
	if token == "" {
		t.Fatal("GenerateAccessToken() returned empty token")
	}

	claims, err := ParseToken(token, testSecret)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if claims.Subject != "installer" {
		t.Errorf("Subject = %q, want %q", claims.Subject, "installer")
	}
	if claims.Role != RoleOperator {
		t.Errorf("Role = %q, want %q", claims.Role, RoleOperator)
	}
	if claims.ID == "" {
		t.Error("JTI (ID) should not be empty")
	}
}

func TestGenerateAccessToken_InvalidRole(t *testing.T) {
	_, err := GenerateAccessToken("x", Role("owner"), testSecret, time.Hour)
	if !errors.Is(err, ErrInvalidRole) {
		t.Errorf("GenerateAccessToken() error = %v, want ErrInvalidRole", err)
	}
}

func TestParseToken_Rejects(t *testing.T) {
	valid, err := GenerateAccessToken("installer", RoleAdmin, testSecret, time.Hour)
	if err != nil {
		t.Fatalf("GenerateAccessToken() error = %v", err)
	}

	sign := func(claims jwt.Claims, method jwt.SigningMethod, key any) string {
		t.Helper()
		s, err := jwt.NewWithClaims(method, claims).SignedString(key)
		if err != nil {
			t.Fatalf("SignedString() error = %v", err)
		}
		return s
	}
	future := jwt.NewNumericDate(time.Now().Add(time.Hour))

	tests := []struct {
		name   string
		token  string
		secret string
	}{
		{"wrong secret", valid, "another-secret-key-for-jwt-signing-000000"},
		{"garbage", "not-a-valid-jwt", testSecret},
		{"expired", sign(CustomClaims{
			RegisteredClaims: jwt.RegisteredClaims{Subject: "x", ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute))},
			Role:             RoleAdmin,
		}, jwt.SigningMethodHS256, []byte(testSecret)), testSecret},
		{"no expiry", sign(CustomClaims{
			RegisteredClaims: jwt.RegisteredClaims{Subject: "x"},
			Role:             RoleAdmin,
		}, jwt.SigningMethodHS256, []byte(testSecret)), testSecret},
		{"missing subject", sign(CustomClaims{
			RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: future},
			Role:             RoleAdmin,
		}, jwt.SigningMethodHS256, []byte(testSecret)), testSecret},
		{"unknown role", sign(CustomClaims{
			RegisteredClaims: jwt.RegisteredClaims{Subject: "x", ExpiresAt: future},
			Role:             "owner",
		}, jwt.SigningMethodHS256, []byte(testSecret)), testSecret},
		{"wrong algorithm", sign(CustomClaims{
			RegisteredClaims: jwt.RegisteredClaims{Subject: "x", ExpiresAt: future},
			Role:             RoleAdmin,
		}, jwt.SigningMethodHS512, []byte(testSecret)), testSecret},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseToken(tt.token, tt.secret); !errors.Is(err, ErrTokenInvalid) {
				t.Errorf("ParseToken() error = %v, want ErrTokenInvalid", err)
			}
		})
	}
}

func TestHasPermission(t *testing.T) {
	tests := []struct {
		role Role
		perm Permission
		want bool
	}{
		{RoleViewer, PermGatewayRead, true},
		{RoleViewer, PermFlowOperate, false},
		{RoleOperator, PermFlowOperate, true},
		{RoleOperator, PermGatewayRemove, false},
		{RoleAdmin, PermGatewayRemove, true},
		{Role("owner"), PermGatewayRead, false},
	}
	for _, tt := range tests {
		if got := HasPermission(tt.role, tt.perm); got != tt.want {
			t.Errorf("HasPermission(%s, %s) = %v, want %v", tt.role, tt.perm, got, tt.want)
		}
	}

	perms := PermissionsForRole(RoleAdmin)
	perms[0] = "mutated"
	if PermissionsForRole(RoleAdmin)[0] == "mutated" {
		t.Error("PermissionsForRole() must return a copy")
	}
	if PermissionsForRole("owner") != nil {
		t.Error("PermissionsForRole(unknown) should be nil")
	}
}
