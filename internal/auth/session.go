package auth

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"
)

const (
	keyFileName     = "session.key"
	sessionFileName = "session.enc"
)

// Credentials is the cookie pair the upstream platform authenticates with.
// It is handed over by the companion browser extension and consumed read-only
// by the upstream client.
type Credentials struct {
	NidAut string `json:"nidAut"`
	NidSes string `json:"nidSes"`
}

// Valid reports whether both cookies are present.
func (c Credentials) Valid() bool {
	return c.NidAut != "" && c.NidSes != ""
}

// SessionStore holds the current credential session in memory and persists
// it encrypted at rest. Invalidate clears both and notifies subscribers so
// they can trigger a fresh login flow.
type SessionStore struct {
	mu    sync.RWMutex
	creds *Credentials
	subs  []func(reason string)

	dir    string
	aead   func() (aead, error)
	logger *slog.Logger
}

type aead interface {
	Seal(dst, nonce, plaintext, additionalData []byte) []byte
	Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
	NonceSize() int
}

// NewSessionStore opens (or initializes) the encrypted session under dir.
// A previously persisted session is loaded if it decrypts cleanly; a corrupt
// or unreadable file is discarded rather than failing startup.
func NewSessionStore(dir string, logger *slog.Logger) (*SessionStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}

	s := &SessionStore{
		dir:    dir,
		logger: logger.With("component", "session_store"),
	}
	s.aead = s.openCipher

	if creds, err := s.load(); err != nil {
		s.logger.Warn("discarding unreadable persisted session", "error", err)
		_ = os.Remove(filepath.Join(dir, sessionFileName))
	} else if creds != nil {
		s.creds = creds
		s.logger.Info("persisted session restored")
	}

	return s, nil
}

// Set stores and persists a new credential session.
func (s *SessionStore) Set(creds Credentials) error {
	if !creds.Valid() {
		return errors.New("both session cookies are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.persist(creds); err != nil {
		return err
	}
	s.creds = &creds
	s.logger.Info("credential session updated")
	return nil
}

// Credentials returns the current session, if any.
func (s *SessionStore) Credentials() (Credentials, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.creds == nil {
		return Credentials{}, false
	}
	return *s.creds, true
}

// Invalidate clears the session from memory and disk and notifies
// subscribers. Implements ports.CredentialInvalidator.
func (s *SessionStore) Invalidate(reason string) {
	s.mu.Lock()
	already := s.creds == nil
	s.creds = nil
	subs := append(([]func(string))(nil), s.subs...)
	s.mu.Unlock()

	if already {
		return
	}

	if err := os.Remove(filepath.Join(s.dir, sessionFileName)); err != nil && !os.IsNotExist(err) {
		s.logger.Warn("failed to remove persisted session", "error", err)
	}
	s.logger.Warn("credential session invalidated", "reason", reason)

	for _, fn := range subs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.logger.Error("session subscriber panicked", "panic", r)
				}
			}()
			fn(reason)
		}()
	}
}

// OnInvalidate registers a subscriber called whenever the session is cleared.
func (s *SessionStore) OnInvalidate(fn func(reason string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, fn)
}

func (s *SessionStore) persist(creds Credentials) error {
	cipher, err := s.aead()
	if err != nil {
		return err
	}

	plain, err := json.Marshal(creds)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}

	nonce := make([]byte, cipher.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("generate nonce: %w", err)
	}

	sealed := cipher.Seal(nonce, nonce, plain, nil)
	path := filepath.Join(s.dir, sessionFileName)
	if err := os.WriteFile(path, sealed, 0o600); err != nil {
		return fmt.Errorf("write session file: %w", err)
	}
	return nil
}

func (s *SessionStore) load() (*Credentials, error) {
	sealed, err := os.ReadFile(filepath.Join(s.dir, sessionFileName))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	cipher, err := s.aead()
	if err != nil {
		return nil, err
	}
	if len(sealed) < cipher.NonceSize() {
		return nil, errors.New("session file too short")
	}

	nonce, box := sealed[:cipher.NonceSize()], sealed[cipher.NonceSize():]
	plain, err := cipher.Open(nil, nonce, box, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt session: %w", err)
	}

	var creds Credentials
	if err := json.Unmarshal(plain, &creds); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	if !creds.Valid() {
		return nil, errors.New("persisted session incomplete")
	}
	return &creds, nil
}

// openCipher loads the at-rest key, creating it on first use.
func (s *SessionStore) openCipher() (aead, error) {
	path := filepath.Join(s.dir, keyFileName)

	key, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		key = make([]byte, chacha20poly1305.KeySize)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("generate session key: %w", err)
		}
		if err := os.WriteFile(path, key, 0o600); err != nil {
			return nil, fmt.Errorf("write session key: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("read session key: %w", err)
	}

	if len(key) != chacha20poly1305.KeySize {
		return nil, errors.New("session key has wrong length")
	}
	return chacha20poly1305.NewX(key)
}
