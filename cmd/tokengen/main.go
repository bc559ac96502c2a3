package main

import (
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/joho/godotenv"

	"github.com/platewise/mealscan/internal/config"
	"github.com/platewise/mealscan/internal/middleware"
)

// Mints a signed JWT for local development and testing. In production
// tokens come from the identity service; this tool stands in for it.
func main() {
	// Command line flags
	userID := flag.Int("user", 1, "User ID to embed in the token")
	email := flag.String("email", "dev@example.com", "Email to embed in the token")
	role := flag.String("role", middleware.RoleUser, "Token role (user or admin)")
	expiry := flag.Duration("expiry", 0, "Token lifetime (defaults to JWT_EXPIRY_HOURS)")
	flag.Parse()

	if *role != middleware.RoleUser && *role != middleware.RoleAdmin {
		log.Fatalf("Invalid role %q, expected %q or %q", *role, middleware.RoleUser, middleware.RoleAdmin)
	}

	// Load .env
	godotenv.Load()

	// Load config
	cfg := config.Load()

	if *expiry <= 0 {
		*expiry = cfg.JWTExpiry
	}

	now := time.Now()
	claims := middleware.JWTClaims{
		UserID: *userID,
		Email:  *email,
		Role:   *role,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(*expiry)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(cfg.JWTSecret))
	if err != nil {
		log.Fatalf("Failed to sign token: %v", err)
	}

	fmt.Println(signed)
}
