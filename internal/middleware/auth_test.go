package middleware

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/platewise/mealscan/internal/config"
)

const testSecret = "test-secret"

func signToken(t *testing.T, secret string, claims JWTClaims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func userClaims(userID int, role string, ttl time.Duration) JWTClaims {
	return JWTClaims{
		UserID: userID,
		Email:  "user@example.com",
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
}

func authApp() *fiber.App {
	cfg := &config.Config{JWTSecret: testSecret}
	app := fiber.New()
	app.Get("/me", AuthRequired(cfg), func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"user_id": GetUserID(c), "role": GetUserRole(c)})
	})
	app.Get("/admin", AuthRequired(cfg), AdminRequired(), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})
	return app
}

func TestAuthRequired(t *testing.T) {
	app := authApp()

	tests := []struct {
		name       string
		header     string
		wantStatus int
	}{
		{"missing header", "", fiber.StatusUnauthorized},
		{"wrong scheme", "Token abc", fiber.StatusUnauthorized},
		{"garbage token", "Bearer not.a.jwt", fiber.StatusUnauthorized},
		{"wrong secret", "Bearer " + signToken(t, "other-secret", userClaims(1, RoleUser, time.Hour)), fiber.StatusUnauthorized},
		{"expired token", "Bearer " + signToken(t, testSecret, userClaims(1, RoleUser, -time.Hour)), fiber.StatusUnauthorized},
		{"valid token", "Bearer " + signToken(t, testSecret, userClaims(42, RoleUser, time.Hour)), fiber.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}

			resp, err := app.Test(req)
			require.NoError(t, err)
			require.Equal(t, tt.wantStatus, resp.StatusCode)
		})
	}
}

func TestAuthRequiredExposesClaims(t *testing.T) {
	app := authApp()

	req := httptest.NewRequest("GET", "/me", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, testSecret, userClaims(42, RoleAdmin, time.Hour)))

	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), `"user_id":42`)
	require.Contains(t, string(body), `"role":"admin"`)
}

func TestAdminRequired(t *testing.T) {
	app := authApp()

	req := httptest.NewRequest("GET", "/admin", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, testSecret, userClaims(1, RoleUser, time.Hour)))
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusForbidden, resp.StatusCode)

	req = httptest.NewRequest("GET", "/admin", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, testSecret, userClaims(1, RoleAdmin, time.Hour)))
	resp, err = app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
}
