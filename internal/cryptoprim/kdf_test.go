package cryptoprim

import (
	"crypto/sha256"
	"encoding/base64"
	"strings"
	"testing"
)

// authVerifierForTest replicates the full legacy verifier chain:
// SHA256(password) -> raw bcrypt(cost 8, salt) -> first 16 bytes ->
// SHA256 -> unpadded base64url with '+'/'/' swapped for '-'/'_'. It is
// test-only scaffolding to pin rawBcrypt against a known-answer vector.
func authVerifierForTest(password string, salt []byte) (string, error) {
	passphraseHash := sha256.Sum256([]byte(password))

	raw, err := rawBcrypt(passphraseHash[:], salt, bcryptCost)
	if err != nil {
		return "", err
	}
	passkey := raw[:16]

	verifierHash := sha256.Sum256(passkey)
	encoded := base64.StdEncoding.EncodeToString(verifierHash[:])
	encoded = strings.NewReplacer("+", "-", "/", "_", "=", "").Replace(encoded)
	return encoded, nil
}

func TestAuthVerifierKnownAnswer(t *testing.T) {
	got, err := authVerifierForTest("password", []byte("saltsaltsaltsalt"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "r3YdONamUCQ7yFZwPFX8KLWZ4kKnAZLyt7rwi1DCE1I"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestKDFBcryptIsDeterministic(t *testing.T) {
	k1, err := KDFBcrypt("hunter2", "Alice@Example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	k2, err := KDFBcrypt("hunter2", "alice@example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(k1) != 16 {
		t.Fatalf("expected 16-byte key, got %d", len(k1))
	}
	if string(k1) != string(k2) {
		t.Fatal("username case should not affect the derived key")
	}
}

func TestKDFArgon2idDeterministic(t *testing.T) {
	params := Argon2Params{
		Salt:        []byte("0123456789abcdef"),
		Time:        1,
		MemoryKiB:   8 * 1024,
		Parallelism: 1,
		KeyLen:      32,
	}

	k1 := KDFArgon2id("hunter2", params)
	k2 := KDFArgon2id("hunter2", params)
	if len(k1) != 32 {
		t.Fatalf("expected 32-byte key, got %d", len(k1))
	}
	if string(k1) != string(k2) {
		t.Fatal("same inputs should derive the same key")
	}
}
