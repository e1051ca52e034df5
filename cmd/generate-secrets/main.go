package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/intercity/booking-backend/internal/utils"
	"github.com/intercity/booking-backend/pkg/jwt"
	"github.com/joho/godotenv"
)

func main() {
	var (
		userID = flag.String("token-user", "", "mint an access token for this user ID instead of generating a secret")
		roles  = flag.String("roles", jwt.RoleDriver, "comma separated roles for -token-user")
		expiry = flag.Duration("expiry", 24*time.Hour, "lifetime of the minted token")
	)
	flag.Parse()

	if *userID != "" {
		mintToken(*userID, *roles, *expiry)
		return
	}

	fmt.Println("===========================================")
	fmt.Println("JWT Secret Generator")
	fmt.Println("===========================================")
	fmt.Println()

	secret, err := utils.GenerateJWTSecret()
	if err != nil {
		log.Fatalf("Failed to generate secret: %v", err)
	}

	fmt.Println("Add this to your .env file or deployment secrets:")
	fmt.Println()
	fmt.Printf("JWT_SECRET=%s\n", secret)
	fmt.Println()
	fmt.Println("Keep this secret safe and never commit it to version control.")
	fmt.Println("===========================================")
}

// mintToken signs a token with JWT_SECRET for local testing of driver
// and admin routes
func mintToken(rawUserID, rawRoles string, expiry time.Duration) {
	_ = godotenv.Load()

	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		log.Fatal("JWT_SECRET is not set")
	}
	issuer := os.Getenv("JWT_ISSUER")
	if issuer == "" {
		issuer = "intercity-accounts"
	}

	userID, err := uuid.Parse(rawUserID)
	if err != nil {
		log.Fatalf("Invalid user ID %q: %v", rawUserID, err)
	}

	var roles []string
	for _, r := range strings.Split(rawRoles, ",") {
		if r = strings.TrimSpace(r); r != "" {
			roles = append(roles, r)
		}
	}

	token, err := jwt.NewService(secret, issuer, expiry).GenerateAccessToken(userID, roles)
	if err != nil {
		log.Fatalf("Failed to sign token: %v", err)
	}
	fmt.Println(token)
}
