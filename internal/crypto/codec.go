package crypto

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/TheMichaelB/pwvault/internal/models"
)

const (
	// Magic identifies a vault container.
	Magic = "PWVAULT"

	// FormatVersion is the container version written by this build.
	FormatVersion = 1
)

// ErrInvalidKey is returned when a key of the wrong size is supplied.
var ErrInvalidKey = errors.New("invalid vault key")

// ErrHeaderRequired is returned by Encrypt when no header is supplied.
var ErrHeaderRequired = errors.New("container header required")

// Header is the unencrypted part of a container. Byte fields are
// serialised as standard base64.
type Header struct {
	Magic   string  `json:"magic"`
	Version int     `json:"version"`
	KDF     KDFSpec `json:"kdf"`
	Salt    []byte  `json:"salt"`
	Nonce   []byte  `json:"nonce"`
	Cipher  string  `json:"cipher"`
	Tag     []byte  `json:"tag"`
}

// Container is the at-rest vault file.
type Container struct {
	Header     Header `json:"header"`
	Ciphertext []byte `json:"ciphertext"`
}

// Clone copies the header including its byte slices.
func (h *Header) Clone() *Header {
	out := *h
	out.Salt = append([]byte(nil), h.Salt...)
	out.Nonce = append([]byte(nil), h.Nonce...)
	out.Tag = append([]byte(nil), h.Tag...)
	return &out
}

// additionalData binds the fields that select algorithms to the ciphertext.
func (h *Header) additionalData() []byte {
	return []byte(h.Magic + "/" + strconv.Itoa(h.Version) + "/" + h.KDF.Alg + "/" + h.Cipher)
}

// check validates the header before any key is derived.
func (h *Header) check() error {
	if h.Magic != Magic {
		return &models.FormatError{Reason: fmt.Sprintf("bad magic %q", h.Magic)}
	}
	if h.Version < 1 || h.Version > FormatVersion {
		return &models.FormatError{Reason: fmt.Sprintf("unsupported container version %d", h.Version)}
	}
	if !SupportedKDF(h.KDF.Alg) {
		return &models.UnsupportedAlgorithmError{Kind: "kdf", Name: h.KDF.Alg}
	}
	if !SupportedCipher(h.Cipher) {
		return &models.UnsupportedAlgorithmError{Kind: "cipher", Name: h.Cipher}
	}
	return nil
}

// NewHeader builds a header with a fresh salt for a new vault.
func NewHeader(kdf KDFSpec, cipherName string) (*Header, error) {
	if !SupportedKDF(kdf.Alg) {
		return nil, &models.UnsupportedAlgorithmError{Kind: "kdf", Name: kdf.Alg}
	}
	if cipherName == "" {
		cipherName = DefaultCipher
	}
	if !SupportedCipher(cipherName) {
		return nil, &models.UnsupportedAlgorithmError{Kind: "cipher", Name: cipherName}
	}

	salt, err := NewSalt()
	if err != nil {
		return nil, err
	}

	return &Header{
		Magic:   Magic,
		Version: FormatVersion,
		KDF:     kdf,
		Salt:    salt,
		Cipher:  cipherName,
	}, nil
}

// Encrypt seals plaintext under key. The kdf and salt of existing are kept
// so the same password keeps deriving key; nonce and tag are always fresh.
func Encrypt(plaintext, key []byte, existing *Header) (*Container, error) {
	if existing == nil {
		return nil, ErrHeaderRequired
	}
	header := existing.Clone()
	if header.Magic == "" {
		header.Magic = Magic
	}
	if header.Version == 0 {
		header.Version = FormatVersion
	}
	if err := header.check(); err != nil {
		return nil, err
	}

	nonce, ciphertext, tag, err := seal(header.Cipher, key, plaintext, header.additionalData())
	if err != nil {
		return nil, err
	}
	header.Nonce = nonce
	header.Tag = tag

	return &Container{Header: *header, Ciphertext: ciphertext}, nil
}

// Decrypt authenticates and decrypts c with key.
func Decrypt(c *Container, key []byte) ([]byte, error) {
	if c == nil {
		return nil, &models.FormatError{Reason: "empty container"}
	}
	if err := c.Header.check(); err != nil {
		return nil, err
	}
	h := &c.Header
	return open(h.Cipher, key, h.Nonce, c.Ciphertext, h.Tag, h.additionalData())
}

// DeriveContainerKey derives the key for password from c's header. Unknown
// algorithms fail here, before any decryption is attempted.
func DeriveContainerKey(password string, h *Header) ([]byte, error) {
	if err := h.check(); err != nil {
		return nil, err
	}
	return DeriveKey(password, h.Salt, h.KDF)
}

// Marshal serialises a container to its JSON file form.
func Marshal(c *Container) ([]byte, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshal container: %w", err)
	}
	return data, nil
}

// Unmarshal parses a container and checks its magic and version.
func Unmarshal(data []byte) (*Container, error) {
	var c Container
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, &models.FormatError{Reason: "invalid container JSON", Err: err}
	}
	if c.Header.Magic != Magic {
		return nil, &models.FormatError{Reason: fmt.Sprintf("bad magic %q", c.Header.Magic)}
	}
	if c.Header.Version < 1 || c.Header.Version > FormatVersion {
		return nil, &models.FormatError{Reason: fmt.Sprintf("unsupported container version %d", c.Header.Version)}
	}
	return &c, nil
}

// OpenContainer parses data, derives the key from password and decrypts.
// The derived key is returned so callers can re-encrypt without deriving
// again.
func OpenContainer(data []byte, password string) (plaintext []byte, key []byte, c *Container, err error) {
	c, err = Unmarshal(data)
	if err != nil {
		return nil, nil, nil, err
	}
	key, err = DeriveContainerKey(password, &c.Header)
	if err != nil {
		return nil, nil, nil, err
	}
	plaintext, err = Decrypt(c, key)
	if err != nil {
		Zero(key)
		return nil, nil, nil, err
	}
	return plaintext, key, c, nil
}
