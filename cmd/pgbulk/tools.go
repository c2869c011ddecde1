package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"strconv"
	"time"

	"pgbulk/internal/config"
	"pgbulk/internal/security"
)

func runSecret(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("secret", flag.ExitOnError)
	size := fs.Int("bytes", 32, "random bytes in the secret")
	fs.Parse(args)

	buf := make([]byte, *size)
	if _, err := rand.Read(buf); err != nil {
		return err
	}
	fmt.Println(hex.EncodeToString(buf))
	return nil
}

// runSign prints the headers for a signed API request.
func runSign(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("sign", flag.ExitOnError)
	secret := fs.String("secret", cfg.APISecret, "API secret (default API_SECRET)")
	method := fs.String("method", "POST", "HTTP method")
	path := fs.String("path", "/exports", "request path")
	body := fs.String("body", "", "request body")
	fs.Parse(args)

	if *secret == "" {
		return fmt.Errorf("no secret: set API_SECRET or pass -secret")
	}
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	fmt.Printf("X-Timestamp: %s\n", ts)
	fmt.Printf("X-Signature: %s\n", security.Sign(*secret, *method, *path, *body, ts))
	return nil
}
