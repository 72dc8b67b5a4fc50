package cryptoprim

import (
	"crypto/sha256"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/blowfish"

	"github.com/tuta-cli/tuta-export/internal/errs"
)

// bcryptCost is fixed by the legacy scheme; newer accounts use Argon2id
// instead of raising this.
const bcryptCost = 8

// magicCipherData is bcrypt's "OrpheanBeholderScryDoubt" constant, encrypted
// 64 times through the expensively-scheduled Blowfish cipher to derive the
// legacy passphrase key.
var magicCipherData = []byte("OrpheanBeholderScryDoubt")

// KDFBcrypt derives the legacy 128-bit passphrase key for username/password.
// The salt is the first 16 bytes of SHA-256(lowercased username); the
// password is SHA-256'd before being fed to bcrypt, whose raw (non-$2a$
// encoded) 24-byte output is truncated to 16 bytes.
//
// golang.org/x/crypto/bcrypt only exposes the salted, formatted hash used
// for password storage, not this raw derivation, so it is built directly
// on top of the exported golang.org/x/crypto/blowfish primitives the
// bcrypt package itself uses internally.
func KDFBcrypt(password, username string) ([]byte, error) {
	usernameHash := sha256.Sum256([]byte(strings.ToLower(username)))
	salt := usernameHash[:16]

	passwordHash := sha256.Sum256([]byte(password))

	raw, err := rawBcrypt(passwordHash[:], salt, bcryptCost)
	if err != nil {
		return nil, errs.New(errs.KindCrypto, "kdf bcrypt", err)
	}
	return raw[:16], nil
}

func rawBcrypt(key, salt []byte, cost int) ([]byte, error) {
	cipher, err := blowfish.NewSaltedCipher(key, salt)
	if err != nil {
		return nil, fmt.Errorf("expensive blowfish setup: %w", err)
	}

	rounds := 1 << uint(cost)
	for i := 0; i < rounds; i++ {
		blowfish.ExpandKey(key, cipher)
		blowfish.ExpandKey(salt, cipher)
	}

	ciphertext := make([]byte, len(magicCipherData))
	copy(ciphertext, magicCipherData)

	for i := 0; i < len(ciphertext); i += 8 {
		block := ciphertext[i : i+8]
		for j := 0; j < 64; j++ {
			cipher.Encrypt(block, block)
		}
	}

	return ciphertext, nil
}

// Argon2Params mirrors the server's salt-and-params record for the current
// KDF path.
type Argon2Params struct {
	Salt        []byte
	Time        uint32
	MemoryKiB   uint32
	Parallelism uint8
	KeyLen      uint32
}

// KDFArgon2id derives the 256-bit passphrase key using server-supplied
// parameters.
func KDFArgon2id(password string, params Argon2Params) []byte {
	return argon2.IDKey([]byte(password), params.Salt, params.Time, params.MemoryKiB, params.Parallelism, params.KeyLen)
}
