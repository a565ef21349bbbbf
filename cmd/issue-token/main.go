package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/stemsi/exam-session/internal/config"
	"github.com/stemsi/exam-session/internal/service"
)

// issue-token prints a user JWT signed with JWT_SECRET, for local testing
// against the session API.
func main() {
	userID := flag.Int("user", 0, "user id to put in the token")
	expiry := flag.Duration("expiry", 0, "token lifetime (default JWT_EXPIRY_HOURS)")
	flag.Parse()

	if *userID <= 0 {
		fmt.Fprintln(os.Stderr, "Error: -user must be a positive id")
		flag.Usage()
		os.Exit(2)
	}

	cfg := config.Load()
	if *expiry > 0 {
		cfg.JWTExpiry = *expiry
	}

	token, err := service.NewAuthService(cfg).GenerateUserToken(*userID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(token)
	fmt.Fprintf(os.Stderr, "user %d, expires %s\n", *userID, time.Now().Add(cfg.JWTExpiry).Format(time.RFC3339))
}
