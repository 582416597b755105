// Command devtoken mints HS256 access tokens for local testing of the JWT
// identity middleware.
//
//	JWT_SECRET=dev go run ./cmd/devtoken -sub u1 -ttl 1h
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/pvnzki/eventbn-seatlock/internal/utils"
)

func main() {
	sub := flag.String("sub", "", "holder id to put in the sub claim")
	ttl := flag.Duration("ttl", time.Hour, "token lifetime")
	secret := flag.String("secret", "", "signing secret (defaults to JWT_SECRET)")
	flag.Parse()

	_ = godotenv.Load()
	if *secret == "" {
		*secret = os.Getenv("JWT_SECRET")
	}
	if *sub == "" || *secret == "" {
		fmt.Fprintln(os.Stderr, "usage: devtoken -sub <holder> [-ttl 1h] [-secret s]  (or set JWT_SECRET)")
		os.Exit(2)
	}

	tok, err := utils.NewAccessToken(*secret, *sub, *ttl)
	if err != nil {
		fmt.Fprintln(os.Stderr, "sign token:", err)
		os.Exit(1)
	}
	fmt.Println(tok.Token)
	fmt.Fprintf(os.Stderr, "expires %s\n", tok.Exp.Format(time.RFC3339))
}
