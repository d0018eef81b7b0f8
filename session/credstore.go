// ABOUTME: Secure storage for the refresh token, the root of trust for a session.
// ABOUTME: File-backed entries are encrypted with XChaCha20-Poly1305 at rest.
package session

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// CredentialKey is the fixed name under which the refresh token is stored.
const CredentialKey = "refresh_token"

// CredentialStore holds at most one secret per key. Save overwrites; a false
// return means the underlying storage failed, which callers treat as
// non-fatal since the in-memory session still works for the process lifetime.
type CredentialStore interface {
	Save(key, value string) bool
	Load(key string) (string, bool)
	Delete(key string)
}

// MemCredentialStore keeps secrets in process memory. Used in tests and for
// ephemeral sessions.
type MemCredentialStore struct {
	mu      sync.Mutex
	secrets map[string]string
}

// NewMemCredentialStore returns an empty in-memory store.
func NewMemCredentialStore() *MemCredentialStore {
	return &MemCredentialStore{secrets: make(map[string]string)}
}

func (m *MemCredentialStore) Save(key, value string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.secrets[key] = value
	return true
}

func (m *MemCredentialStore) Load(key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.secrets[key]
	return v, ok
}

func (m *MemCredentialStore) Delete(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.secrets, key)
}

// FileCredentialStore encrypts each secret into its own file under dir. The
// encryption key is derived from a per-installation secret generated on first
// use, so credentials are not readable by casual inspection of the data dir.
type FileCredentialStore struct {
	dir string
	key [32]byte
	log zerolog.Logger
}

type credEnvelope struct {
	NonceB64 string `json:"nonce_b64"`
	CTB64    string `json:"ct_b64"`
}

// NewFileCredentialStore opens (creating if needed) a credential directory
// and its installation secret.
func NewFileCredentialStore(dir string, log zerolog.Logger) (*FileCredentialStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	secret, err := loadOrCreateSecret(filepath.Join(dir, "install.key"))
	if err != nil {
		return nil, err
	}
	s := &FileCredentialStore{dir: dir, log: log}
	kdf := hkdf.New(sha256.New, secret, nil, []byte("mealsync:v1:cred"))
	if _, err := io.ReadFull(kdf, s.key[:]); err != nil {
		return nil, err
	}
	return s, nil
}

func loadOrCreateSecret(path string) ([]byte, error) {
	if b, err := os.ReadFile(path); err == nil && len(b) == 32 {
		return b, nil
	}
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, secret, 0o600); err != nil {
		return nil, err
	}
	return secret, nil
}

// Save encrypts value and writes it under key, replacing any previous entry.
func (s *FileCredentialStore) Save(key, value string) bool {
	aead, err := chacha20poly1305.NewX(s.key[:])
	if err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("credential save failed")
		return false
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("credential save failed")
		return false
	}
	ct := aead.Seal(nil, nonce, []byte(value), []byte(key))
	env := credEnvelope{
		NonceB64: base64.StdEncoding.EncodeToString(nonce),
		CTB64:    base64.StdEncoding.EncodeToString(ct),
	}
	raw, err := json.Marshal(env)
	if err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("credential save failed")
		return false
	}

	// Write-then-rename so a crash never leaves a torn entry.
	path := s.path(key)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("credential save failed")
		return false
	}
	if err := os.Rename(tmp, path); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("credential save failed")
		return false
	}
	return true
}

// Load decrypts and returns the secret under key. Any failure, including a
// corrupted or tampered file, reads as "absent".
func (s *FileCredentialStore) Load(key string) (string, bool) {
	raw, err := os.ReadFile(s.path(key))
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.log.Warn().Err(err).Str("key", key).Msg("credential load failed")
		}
		return "", false
	}
	var env credEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("credential entry corrupted")
		return "", false
	}
	nonce, err := base64.StdEncoding.DecodeString(env.NonceB64)
	if err != nil || len(nonce) != chacha20poly1305.NonceSizeX {
		s.log.Warn().Str("key", key).Msg("credential entry corrupted")
		return "", false
	}
	ct, err := base64.StdEncoding.DecodeString(env.CTB64)
	if err != nil {
		s.log.Warn().Str("key", key).Msg("credential entry corrupted")
		return "", false
	}
	aead, err := chacha20poly1305.NewX(s.key[:])
	if err != nil {
		return "", false
	}
	plain, err := aead.Open(nil, nonce, ct, []byte(key))
	if err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("credential decrypt failed")
		return "", false
	}
	return string(plain), true
}

// Delete removes the entry under key. Missing entries are a no-op.
func (s *FileCredentialStore) Delete(key string) {
	if err := os.Remove(s.path(key)); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.log.Warn().Err(err).Str("key", key).Msg("credential delete failed")
	}
}

func (s *FileCredentialStore) path(key string) string {
	return filepath.Join(s.dir, key+".cred")
}
