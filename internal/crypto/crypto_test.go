package crypto

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestGenerateMasterKey(t *testing.T) {
	key, err := GenerateMasterKey()
	if err != nil {
		t.Fatalf("GenerateMasterKey failed: %v", err)
	}
	if len(key) != KeySize {
		t.Errorf("expected %d bytes, got %d", KeySize, len(key))
	}
	key2, _ := GenerateMasterKey()
	if bytes.Equal(key, key2) {
		t.Error("two master keys should not be equal")
	}
}

func TestDeriveKEK(t *testing.T) {
	master, _ := GenerateMasterKey()
	kek, err := DeriveKEK(master, "envvault-kek-v1")
	if err != nil {
		t.Fatalf("DeriveKEK failed: %v", err)
	}
	if len(kek) != KeySize {
		t.Errorf("expected %d bytes, got %d", KeySize, len(kek))
	}
	kek2, _ := DeriveKEK(master, "envvault-kek-v1")
	if !bytes.Equal(kek, kek2) {
		t.Error("KEK derivation should be deterministic")
	}
	kek3, _ := DeriveKEK(master, "envvault-kek-v2")
	if bytes.Equal(kek, kek3) {
		t.Error("different contexts should yield different KEKs")
	}
	if _, err := DeriveKEK([]byte("short"), "ctx"); err == nil {
		t.Error("expected error for a short master key")
	}
}

func TestAESGCMRoundTrip(t *testing.T) {
	key, _ := GenerateDEK()
	plaintext := []byte("super secret value 12345")

	sealed, err := EncryptAESGCM(plaintext, key, []byte("aad"))
	if err != nil {
		t.Fatalf("EncryptAESGCM failed: %v", err)
	}
	if bytes.Contains(sealed, plaintext) {
		t.Error("ciphertext should not contain the plaintext")
	}

	decrypted, err := DecryptAESGCM(sealed, key, []byte("aad"))
	if err != nil {
		t.Fatalf("DecryptAESGCM failed: %v", err)
	}
	if !bytes.Equal(decrypted, plaintext) {
		t.Errorf("decrypted %q != original %q", decrypted, plaintext)
	}

	if _, err := DecryptAESGCM(sealed, key, []byte("other")); err == nil {
		t.Error("expected error when aad differs")
	}
}

func TestAESGCMWrongKey(t *testing.T) {
	key, _ := GenerateDEK()
	wrongKey, _ := GenerateDEK()

	sealed, _ := EncryptAESGCM([]byte("secret data"), key, nil)
	if _, err := DecryptAESGCM(sealed, wrongKey, nil); err == nil {
		t.Error("expected error decrypting with wrong key")
	}
}

func TestSealOpen(t *testing.T) {
	master, _ := GenerateMasterKey()
	kek, _ := DeriveKEK(master, "envvault-kek-v1")
	aad := []byte("ent-1/env-dev")

	for _, value := range []string{"hunter2", "", "postgres://u:p@h/db?sslmode=require", "a=b=c", strings.Repeat("x", 4096)} {
		sealed, err := Seal(value, kek, aad)
		if err != nil {
			t.Fatalf("Seal(%q): %v", value, err)
		}
		if !IsSealed(sealed) {
			t.Errorf("sealed value lacks prefix: %q", sealed)
		}
		if value != "" && strings.Contains(sealed, value) {
			t.Errorf("sealed value leaks plaintext")
		}
		got, err := Open(sealed, kek, aad)
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		if got != value {
			t.Errorf("Open = %q, want %q", got, value)
		}
	}
}

func TestSealIsRandomized(t *testing.T) {
	kek, _ := GenerateDEK()
	a, _ := Seal("same", kek, nil)
	b, _ := Seal("same", kek, nil)
	if a == b {
		t.Error("sealing the same value twice should differ")
	}
}

func TestOpenFailures(t *testing.T) {
	kek, _ := GenerateDEK()
	otherKEK, _ := GenerateDEK()
	sealed, _ := Seal("value", kek, []byte("ent-1/env-dev"))

	if _, err := Open(sealed, otherKEK, []byte("ent-1/env-dev")); err == nil {
		t.Error("expected error with the wrong KEK")
	}
	if _, err := Open(sealed, kek, []byte("ent-1/env-prod")); err == nil {
		t.Error("expected error when moved to another environment")
	}
	for _, bad := range []string{"plain", SealedPrefix + "nodot", SealedPrefix + "!!!.???"} {
		if _, err := Open(bad, kek, nil); !errors.Is(err, ErrMalformedSealed) {
			t.Errorf("Open(%q) = %v, want ErrMalformedSealed", bad, err)
		}
	}
}
