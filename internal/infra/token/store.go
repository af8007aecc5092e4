// Package token persists the opaque gateway auth token. The client only
// carries the token; issuance and validation belong to the gateway.
//
// Storage order: OS keyring, then the token file, then a session-only
// token as last resort. The token value is never logged.
package token

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/zalando/go-keyring"
)

// tokenBytes is the token entropy: 256 bits rendered as 64 hex characters.
const tokenBytes = 32

// Keyring coordinates for the gateway token.
const (
	keyringService = "helix-desktop"
	keyringKey     = "gateway-token"
)

// DefaultDir returns the default token directory, ~/.helix.
func DefaultDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".helix"), nil
}

// Store reads and writes the gateway token. The OS keyring is the primary
// tier; the file under dir is the fallback and backup copy.
type Store struct {
	path   string
	logger *slog.Logger
}

// NewStore creates a store rooted at dir; the fallback token file is
// <dir>/gateway-token with 0600 permissions.
func NewStore(dir string, logger *slog.Logger) *Store {
	return &Store{
		path:   filepath.Join(dir, "gateway-token"),
		logger: logger,
	}
}

// GetOrCreate returns the stored token, generating a fresh one when no tier
// holds a valid value. A new token goes to the keyring with a file backup;
// when the keyring is unavailable the file alone carries it, and when that
// also fails a session-only token is returned with a warning.
func (s *Store) GetOrCreate() (string, error) {
	token, err := keyring.Get(keyringService, keyringKey)
	switch {
	case err == nil:
		if Valid(token) {
			s.logger.Debug("gateway token retrieved from OS keyring")
			return token, nil
		}
		s.logger.Warn("keyring holds an invalid gateway token, regenerating")
	case errors.Is(err, keyring.ErrNotFound):
		s.logger.Debug("no gateway token in keyring")
	default:
		s.logger.Warn("keyring unavailable, using token file", "error", err)
		return s.fromFile()
	}

	token, err = generate()
	if err != nil {
		return "", err
	}
	s.logger.Info("generated new gateway token")

	if err := keyring.Set(keyringService, keyringKey, token); err != nil {
		s.logger.Warn("could not store gateway token in keyring, using token file", "error", err)
		if werr := s.write(token); werr != nil {
			s.logger.Warn("could not persist gateway token, using session-only token",
				"path", s.path, "error", werr)
		}
		return token, nil
	}
	s.logger.Debug("gateway token stored in OS keyring")

	// Backup copy so the token survives a keyring reset.
	if err := s.write(token); err != nil {
		s.logger.Warn("could not write backup token file", "path", s.path, "error", err)
	}
	return token, nil
}

// fromFile serves the token when the keyring tier is unavailable.
func (s *Store) fromFile() (string, error) {
	if token, ok := s.read(); ok {
		s.logger.Debug("gateway token loaded", "path", s.path)
		return token, nil
	}

	token, err := generate()
	if err != nil {
		return "", err
	}
	s.logger.Info("generated new gateway token")

	if err := s.write(token); err != nil {
		s.logger.Warn("could not persist gateway token, using session-only token",
			"path", s.path, "error", err)
	}
	return token, nil
}

// read returns the file-stored token when present and valid.
func (s *Store) read() (string, bool) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("reading token file failed", "path", s.path, "error", err)
		}
		return "", false
	}

	token := strings.TrimSpace(string(data))
	if !Valid(token) {
		s.logger.Warn("token file holds an invalid token, regenerating", "path", s.path)
		return "", false
	}
	return token, true
}

func (s *Store) write(token string) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("create token directory: %w", err)
	}
	if err := os.WriteFile(s.path, []byte(token), 0600); err != nil {
		return fmt.Errorf("write token file: %w", err)
	}
	return nil
}

// Valid reports whether token is a 64-character hex string.
func Valid(token string) bool {
	if len(token) != tokenBytes*2 {
		return false
	}
	_, err := hex.DecodeString(token)
	return err == nil
}

func generate() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
