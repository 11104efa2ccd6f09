// Package oauth manages the bot's Twitch user token: a file-backed store with
// optional sealing, an expiry-driven refresher, and a watcher that picks up
// tokens rotated from outside the process.
package oauth

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/onnwee/emote-tally/crypto"
	"github.com/onnwee/emote-tally/snapshot"
)

// ErrNoSealingKey is returned when the token file holds a sealed payload but
// no sealing key was configured.
var ErrNoSealingKey = errors.New("token file is sealed but TOKEN_ENCRYPTION_KEY is not set")

// StoredToken is the token file payload.
type StoredToken struct {
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken"`
	ExpiresAt    time.Time `json:"expiresAt"`
	Login        string    `json:"login"`
	UserID       string    `json:"userID"`
}

// Store reads and writes the token file. With a sealer attached, writes are
// sealed; reads accept sealed and plain files alike, told apart by the
// leading byte (plain JSON starts with '{', sealed payloads are base64).
type Store struct {
	path   string
	sealer *crypto.Sealer
	mu     sync.Mutex
}

func NewStore(path string, sealer *crypto.Sealer) *Store {
	return &Store{path: path, sealer: sealer}
}

func (s *Store) Path() string { return s.path }

// Sealed reports whether writes go through the sealer.
func (s *Store) Sealed() bool { return s.sealer != nil }

// Load reads and decodes the token file. A missing file surfaces as
// fs.ErrNotExist so callers can treat it as "not bootstrapped yet".
func (s *Store) Load() (*StoredToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return nil, err
	}
	payload := strings.TrimSpace(string(raw))
	if payload == "" {
		return nil, fmt.Errorf("token file %s is empty", s.path)
	}
	data := []byte(payload)
	if payload[0] != '{' {
		if s.sealer == nil {
			return nil, ErrNoSealingKey
		}
		data, err = s.sealer.Open(payload)
		if err != nil {
			return nil, fmt.Errorf("unseal token file: %w", err)
		}
	}
	var tok StoredToken
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("decode token file: %w", err)
	}
	return &tok, nil
}

// Save writes the token atomically and tightens the file to owner-only, since
// even sealed payloads reveal that a credential lives here.
func (s *Store) Save(tok *StoredToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := snapshot.Marshal(tok)
	if err != nil {
		return fmt.Errorf("encode token: %w", err)
	}
	if s.sealer != nil {
		sealed, err := s.sealer.Seal(data)
		if err != nil {
			return fmt.Errorf("seal token: %w", err)
		}
		data = []byte(sealed)
	}
	if err := snapshot.WriteBytesAtomic(s.path, data); err != nil {
		return err
	}
	if err := os.Chmod(s.path, 0o600); err != nil {
		return fmt.Errorf("chmod token file: %w", err)
	}
	return nil
}
