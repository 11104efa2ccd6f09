// Package main provides a CLI tool to seal a plaintext token file in place.
//
// The bot writes the token file sealed whenever TOKEN_ENCRYPTION_KEY is set,
// but a file bootstrapped before the key existed stays plaintext. This tool
// encrypts such a file with AES-256-GCM so the refresh token no longer sits
// on disk in the clear. Already-sealed files are left untouched after a
// verification read.
//
// Usage:
//
//	seal-token [--file PATH] [--dry-run]
//
// Flags:
//
//	--file: Token file to seal (default: $TOKEN_FILE)
//	--dry-run: Show what would be sealed without making changes
//
// Environment Variables:
//
//	TOKEN_FILE: Token file path when --file is not given
//	TOKEN_ENCRYPTION_KEY: Base64-encoded 32-byte encryption key (required)
//
// Example:
//
//	export TOKEN_ENCRYPTION_KEY="$(openssl rand -base64 32)"
//	./seal-token --file data/token.json --dry-run
//	./seal-token --file data/token.json
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/onnwee/emote-tally/crypto"
	"github.com/onnwee/emote-tally/oauth"
)

func main() {
	file := flag.String("file", os.Getenv("TOKEN_FILE"), "Token file to seal (default: $TOKEN_FILE)")
	dryRun := flag.Bool("dry-run", false, "Show what would be sealed without making changes")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if *file == "" {
		slog.Error("token file required: pass --file or set TOKEN_FILE")
		os.Exit(1)
	}

	key := os.Getenv("TOKEN_ENCRYPTION_KEY")
	if key == "" {
		slog.Error("TOKEN_ENCRYPTION_KEY environment variable is required")
		os.Exit(1)
	}

	sealer, err := crypto.NewSealer(key)
	if err != nil {
		slog.Error("failed to initialize sealer", slog.Any("err", err))
		os.Exit(1)
	}

	if err := sealToken(*file, sealer, *dryRun); err != nil {
		slog.Error("sealing failed", slog.Any("err", err))
		os.Exit(1)
	}
}

// sealToken reads the token file, seals it when it is still plaintext, and
// verifies the sealed file decodes with the same key. Running it twice is a
// no-op.
func sealToken(path string, sealer *crypto.Sealer, dryRun bool) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read token file: %w", err)
	}
	payload := strings.TrimSpace(string(raw))
	if payload == "" {
		return fmt.Errorf("token file %s is empty", path)
	}

	store := oauth.NewStore(path, sealer)
	if payload[0] != '{' {
		// Already sealed; confirm this key opens it rather than silently
		// leaving a file nobody can read.
		if _, err := store.Load(); err != nil {
			return fmt.Errorf("file is already sealed but not with this key: %w", err)
		}
		slog.Info("token file already sealed, nothing to do", slog.String("file", path))
		return nil
	}

	tok, err := oauth.NewStore(path, nil).Load()
	if err != nil {
		return fmt.Errorf("decode plaintext token: %w", err)
	}

	if dryRun {
		slog.Info("would seal token file (dry-run)",
			slog.String("file", path),
			slog.String("login", tok.Login))
		return nil
	}

	if err := store.Save(tok); err != nil {
		return fmt.Errorf("write sealed token: %w", err)
	}

	// Round-trip to prove the key decrypts what was just written.
	verified, err := store.Load()
	if err != nil {
		return fmt.Errorf("verify sealed file: %w", err)
	}
	if verified.AccessToken != tok.AccessToken {
		return fmt.Errorf("verify sealed file: access token mismatch after round-trip")
	}

	slog.Info("token file sealed",
		slog.String("file", path),
		slog.String("login", tok.Login))
	return nil
}
