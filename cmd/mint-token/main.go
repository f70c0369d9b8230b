package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"syscall"

	"golang.org/x/term"

	"github.com/stemsi/exstem-assess/internal/config"
	"github.com/stemsi/exstem-assess/internal/database"
	"github.com/stemsi/exstem-assess/internal/logger"
	"github.com/stemsi/exstem-assess/internal/model"
	"github.com/stemsi/exstem-assess/internal/service"
)

// defaultSecret matches the fallback in config.Load.
const defaultSecret = "change-this-to-a-secure-random-string"

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)

	ctx := context.Background()

	// ─── CLI Input ─────────────────────────────────────────────────────
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("=== Mint Access Token ===")

	if cfg.JWTSecret == defaultSecret && term.IsTerminal(int(syscall.Stdin)) {
		fmt.Print("JWT_SECRET is not set. Enter signing secret: ")
		secret, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Println()
		if err != nil {
			fmt.Println("Error reading secret")
			return
		}
		if len(secret) < 16 {
			fmt.Println("Error: Secret must be at least 16 characters")
			return
		}
		cfg.JWTSecret = string(secret)
	}

	fmt.Print("Token type (student/admin) [student]: ")
	kind, _ := reader.ReadString('\n')
	kind = strings.ToLower(strings.TrimSpace(kind))
	if kind == "" {
		kind = string(service.TokenTypeStudent)
	}

	fmt.Print("Enter User ID: ")
	userID, _ := reader.ReadString('\n')
	userID = strings.TrimSpace(userID)
	if userID == "" {
		fmt.Println("Error: User ID is required")
		return
	}

	// ─── Logic ─────────────────────────────────────────────────────────
	switch service.TokenType(kind) {
	case service.TokenTypeStudent:
		// Student tokens become the active login, so Redis is required.
		rdb, err := database.NewRedisClient(ctx, cfg, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to Redis")
		}
		defer rdb.Close()

		token, claims, err := service.NewAuthService(cfg, rdb).IssueStudentToken(ctx, userID)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to issue student token")
		}
		fmt.Printf("\nInteraction: %s\nExpires:     %s\n\n%s\n", claims.InteractionID(), claims.ExpiresAt.Time, token)

	case service.TokenTypeAdmin:
		fmt.Printf("Permissions, comma separated (blank for all of %s): ", strings.Join(model.Strings(model.AllPermissions), ", "))
		line, _ := reader.ReadString('\n')
		perms := model.Strings(model.AllPermissions)
		if line = strings.TrimSpace(line); line != "" {
			perms = perms[:0]
			for _, p := range strings.Split(line, ",") {
				if p = strings.TrimSpace(p); p != "" {
					perms = append(perms, p)
				}
			}
		}

		token, err := service.NewAuthService(cfg, nil).IssueAdminToken(userID, perms)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to issue admin token")
		}
		fmt.Printf("\nPermissions: %s\n\n%s\n", strings.Join(perms, ", "), token)

	default:
		fmt.Printf("Error: unknown token type %q\n", kind)
	}
}
