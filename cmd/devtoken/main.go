// Command devtoken prints an access token for local testing.  The token
// is signed with JWT_SECRET from the environment or .env.
//
//	go run ./cmd/devtoken --user 1 --role CUSTOMER
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/iliyamo/concert-booking/internal/config"
	"github.com/iliyamo/concert-booking/internal/middleware"
	"github.com/iliyamo/concert-booking/internal/utils"
)

func main() {
	user := pflag.Uint64("user", 1, "user id (sub claim)")
	role := pflag.String("role", middleware.RoleCustomer, "role claim: CUSTOMER or PUBLISHER")
	ttl := pflag.Duration("ttl", time.Hour, "token lifetime")
	pflag.Parse()

	config.LoadDotEnv()
	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		fmt.Fprintln(os.Stderr, "devtoken: JWT_SECRET is not set")
		os.Exit(1)
	}
	tok, err := utils.NewAccessToken(secret, *user, *role, *ttl)
	if err != nil {
		fmt.Fprintf(os.Stderr, "devtoken: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(tok.Token)
}
