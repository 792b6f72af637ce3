package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/TheMichaelB/pwvault/internal/models"
)

// Cipher identifiers as written into container headers.
const (
	CipherAES256GCM         = "aes-256-gcm"
	CipherXChaCha20Poly1305 = "xchacha20-poly1305"

	// DefaultCipher is used for new vaults.
	DefaultCipher = CipherAES256GCM

	// TagSize is the authentication tag length of every supported AEAD.
	TagSize = 16
)

type aeadFactory func(key []byte) (cipher.AEAD, error)

var cipherRegistry = map[string]aeadFactory{
	CipherAES256GCM: func(key []byte) (cipher.AEAD, error) {
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, fmt.Errorf("create cipher: %w", err)
		}
		return cipher.NewGCM(block)
	},
	CipherXChaCha20Poly1305: chacha20poly1305.NewX,
}

// SupportedCipher reports whether name can be used by this build.
func SupportedCipher(name string) bool {
	_, ok := cipherRegistry[name]
	return ok
}

func newAEAD(name string, key []byte) (cipher.AEAD, error) {
	factory, ok := cipherRegistry[name]
	if !ok {
		return nil, &models.UnsupportedAlgorithmError{Kind: "cipher", Name: name}
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: key must be %d bytes, got %d", ErrInvalidKey, KeySize, len(key))
	}
	return factory(key)
}

// NonceSize returns the nonce length of the named cipher.
func NonceSize(name string) (int, error) {
	switch name {
	case CipherAES256GCM:
		return 12, nil
	case CipherXChaCha20Poly1305:
		return chacha20poly1305.NonceSizeX, nil
	}
	return 0, &models.UnsupportedAlgorithmError{Kind: "cipher", Name: name}
}

// seal encrypts plaintext under a fresh random nonce and returns the nonce,
// the ciphertext and the detached tag.
func seal(name string, key, plaintext, aad []byte) (nonce, ciphertext, tag []byte, err error) {
	aead, err := newAEAD(name, key)
	if err != nil {
		return nil, nil, nil, err
	}

	nonce = make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, nil, fmt.Errorf("generate nonce: %w", err)
	}

	sealed := aead.Seal(nil, nonce, plaintext, aad)
	split := len(sealed) - aead.Overhead()
	return nonce, sealed[:split], sealed[split:], nil
}

// open authenticates and decrypts. Any authentication failure is an
// IntegrityError.
func open(name string, key, nonce, ciphertext, tag, aad []byte) ([]byte, error) {
	aead, err := newAEAD(name, key)
	if err != nil {
		return nil, err
	}
	if len(nonce) != aead.NonceSize() {
		return nil, &models.FormatError{Reason: fmt.Sprintf("nonce must be %d bytes, got %d", aead.NonceSize(), len(nonce))}
	}
	if len(tag) != aead.Overhead() {
		return nil, &models.FormatError{Reason: fmt.Sprintf("tag must be %d bytes, got %d", aead.Overhead(), len(tag))}
	}

	sealed := make([]byte, 0, len(ciphertext)+len(tag))
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)

	plaintext, err := aead.Open(nil, nonce, sealed, aad)
	if err != nil {
		return nil, &models.IntegrityError{}
	}
	return plaintext, nil
}
