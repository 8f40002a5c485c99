// Command issuetoken mints an access/refresh token pair for an operator, or
// rotates an existing refresh token.
//
//	issuetoken -user ops-1 -role super_admin
//	issuetoken -refresh <token> -role user
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"reminder-voice/internal/auth"
	"reminder-voice/internal/config"
	"reminder-voice/internal/rbac"

	"github.com/joho/godotenv"
)

func main() {
	userID := flag.String("user", "", "user_id to embed in the token")
	role := flag.String("role", rbac.RoleUser, "role: super_admin, user or viewer")
	refresh := flag.String("refresh", "", "refresh token to exchange instead of -user")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn(".env load failed", "err", err)
	}

	if err := run(*userID, *role, *refresh); err != nil {
		fmt.Fprintln(os.Stderr, "issuetoken:", err)
		os.Exit(1)
	}
}

func run(userID, role, refresh string) error {
	if userID == "" && refresh == "" {
		return errors.New("-user or -refresh is required")
	}
	switch role {
	case rbac.RoleSuperAdmin, rbac.RoleUser, rbac.RoleViewer:
	default:
		return fmt.Errorf("unknown role %q", role)
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	m, err := auth.NewManager(cfg.Auth)
	if err != nil {
		return err
	}
	var pair auth.TokenPair
	if refresh != "" {
		pair, err = m.Refresh(refresh, role, time.Now())
	} else {
		pair, err = m.IssuePair(time.Now(), userID, role)
	}
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]string{
		"access_token":  pair.AccessToken,
		"refresh_token": pair.RefreshToken,
	})
}
