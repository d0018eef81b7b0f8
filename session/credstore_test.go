// ABOUTME: Tests for credential stores.
// ABOUTME: Covers overwrite semantics, persistence across instances, and corruption handling.
package session

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestMemCredentialStoreRoundTrip(t *testing.T) {
	s := NewMemCredentialStore()

	if _, ok := s.Load(CredentialKey); ok {
		t.Fatal("expected empty store")
	}
	if !s.Save(CredentialKey, "tok-1") {
		t.Fatal("save failed")
	}
	if v, ok := s.Load(CredentialKey); !ok || v != "tok-1" {
		t.Fatalf("load: %q %v", v, ok)
	}
	s.Delete(CredentialKey)
	if _, ok := s.Load(CredentialKey); ok {
		t.Fatal("expected absent after delete")
	}
}

func TestFileCredentialStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileCredentialStore(dir, zerolog.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}

	if !s.Save(CredentialKey, "tok-secret") {
		t.Fatal("save failed")
	}
	if v, ok := s.Load(CredentialKey); !ok || v != "tok-secret" {
		t.Fatalf("load: %q %v", v, ok)
	}

	// Overwrite, not duplicate.
	if !s.Save(CredentialKey, "tok-rotated") {
		t.Fatal("second save failed")
	}
	if v, ok := s.Load(CredentialKey); !ok || v != "tok-rotated" {
		t.Fatalf("load after overwrite: %q %v", v, ok)
	}

	s.Delete(CredentialKey)
	if _, ok := s.Load(CredentialKey); ok {
		t.Fatal("expected absent after delete")
	}
}

func TestFileCredentialStoreSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	s1, err := NewFileCredentialStore(dir, zerolog.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if !s1.Save(CredentialKey, "tok-persist") {
		t.Fatal("save failed")
	}

	s2, err := NewFileCredentialStore(dir, zerolog.Nop())
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	if v, ok := s2.Load(CredentialKey); !ok || v != "tok-persist" {
		t.Fatalf("load after reopen: %q %v", v, ok)
	}
}

func TestFileCredentialStoreCorruptionReadsAsAbsent(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileCredentialStore(dir, zerolog.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if !s.Save(CredentialKey, "tok") {
		t.Fatal("save failed")
	}

	path := filepath.Join(dir, CredentialKey+".cred")
	if err := os.WriteFile(path, []byte("not json"), 0o600); err != nil {
		t.Fatalf("corrupt file: %v", err)
	}
	if _, ok := s.Load(CredentialKey); ok {
		t.Fatal("expected corrupted entry to read as absent")
	}
}

func TestFileCredentialStoreEncryptsAtRest(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileCredentialStore(dir, zerolog.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if !s.Save(CredentialKey, "plaintext-refresh-token") {
		t.Fatal("save failed")
	}

	raw, err := os.ReadFile(filepath.Join(dir, CredentialKey+".cred"))
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	if strings.Contains(string(raw), "plaintext-refresh-token") {
		t.Fatal("secret stored in the clear")
	}
}
