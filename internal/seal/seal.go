// Package seal provides ChaCha20-Poly1305 sealing keyed via scrypt,
// applied to individual persisted store records rather than whole
// files. badgerstore uses it through its Sealer interface; sqlstore
// stores records unsealed.
package seal

import (
	"crypto/rand"

	"github.com/pkg/errors"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/scrypt"
)

const (
	saltSize  = 16
	nonceSize = chacha20poly1305.NonceSize
	keySize   = chacha20poly1305.KeySize
	scryptN   = 32768
	scryptR   = 8
	scryptP   = 1
)

// Passphrase seals record bytes with ChaCha20-Poly1305 using a key
// derived from a static passphrase. A fresh salt and nonce are
// generated per Seal call and prepended to the output.
type Passphrase struct {
	password string
}

// New returns a Sealer keyed by password. An empty password is
// rejected by callers before construction; this type does not itself
// treat empty as "no encryption" to avoid a silently no-op Sealer.
func New(password string) *Passphrase {
	return &Passphrase{password: password}
}

func (p *Passphrase) deriveKey(salt []byte) ([]byte, error) {
	return scrypt.Key([]byte(p.password), salt, scryptN, scryptR, scryptP, keySize)
}

func (p *Passphrase) Seal(plaintext []byte) ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, errors.Wrap(err, "seal: generate salt")
	}
	key, err := p.deriveKey(salt)
	if err != nil {
		return nil, errors.Wrap(err, "seal: derive key")
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, errors.Wrap(err, "seal: new aead")
	}
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, errors.Wrap(err, "seal: generate nonce")
	}
	ciphertext := aead.Seal(nil, nonce, plaintext, nil)
	out := make([]byte, 0, saltSize+nonceSize+len(ciphertext))
	out = append(out, salt...)
	out = append(out, nonce...)
	out = append(out, ciphertext...)
	return out, nil
}

func (p *Passphrase) Open(sealed []byte) ([]byte, error) {
	if len(sealed) < saltSize+nonceSize {
		return nil, errors.New("seal: sealed record too short")
	}
	salt := sealed[:saltSize]
	nonce := sealed[saltSize : saltSize+nonceSize]
	ciphertext := sealed[saltSize+nonceSize:]

	key, err := p.deriveKey(salt)
	if err != nil {
		return nil, errors.Wrap(err, "seal: derive key")
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, errors.Wrap(err, "seal: new aead")
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, errors.Wrap(err, "seal: open")
	}
	return plaintext, nil
}
