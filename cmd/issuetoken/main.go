// Command issuetoken prints a dashboard access token for an owner id. It is
// the operator's way in until an identity provider fronts the API.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"rag-chatbot-platform/internal/auth"
	"rag-chatbot-platform/internal/config"
)

func main() {
	owner := flag.String("owner", "", "owner id to embed in the token")
	ttl := flag.Duration("ttl", 24*time.Hour, "token lifetime")
	flag.Parse()

	if *owner == "" {
		log.Fatal("-owner is required")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	rdb, err := config.NewRedisClient(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer rdb.Close()

	issuer, err := auth.NewTokenIssuer(cfg.JWTSecret, *ttl, rdb)
	if err != nil {
		log.Fatalf("Invalid token configuration: %v", err)
	}

	token, expires, err := issuer.Issue(context.Background(), *owner)
	if err != nil {
		log.Fatalf("Failed to issue token: %v", err)
	}

	fmt.Println(token)
	log.Printf("token for %s expires %s", *owner, expires.Format(time.RFC3339))
}
