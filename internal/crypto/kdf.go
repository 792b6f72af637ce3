package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/pbkdf2"
	"golang.org/x/crypto/scrypt"
	"golang.org/x/text/unicode/norm"

	"github.com/TheMichaelB/pwvault/internal/models"
)

// KDF algorithm identifiers as written into container headers.
const (
	KDFPBKDF2SHA256 = "pbkdf2-sha256"
	KDFArgon2id     = "argon2id"
	KDFScrypt       = "scrypt"
)

const (
	// KeySize is the vault key length in bytes.
	KeySize = 32

	// DefaultIterations is the PBKDF2 work factor for new vaults.
	DefaultIterations = 310000

	// MinIterations is the lowest PBKDF2 work factor accepted.
	MinIterations = 310000

	// SaltSize is the salt length for new vaults.
	SaltSize = 32

	// MinSaltSize is the shortest salt accepted.
	MinSaltSize = 16

	minArgonTime    = 1
	minArgonMemory  = 19 * 1024 // KiB
	minScryptN      = 1 << 15
	defaultArgonMem = 64 * 1024
)

// ErrInvalidKDFInput is returned for missing or weak derivation inputs.
var ErrInvalidKDFInput = errors.New("invalid key derivation input")

// KDFParams holds the tunables of every supported KDF. Fields not used by
// the selected algorithm are omitted from the header.
type KDFParams struct {
	KeyLength   int    `json:"keyLength"`
	Iterations  int    `json:"iterations,omitempty"`
	Memory      uint32 `json:"memory,omitempty"`
	Parallelism uint8  `json:"parallelism,omitempty"`
	N           int    `json:"n,omitempty"`
	R           int    `json:"r,omitempty"`
	P           int    `json:"p,omitempty"`
}

// KDFSpec names a KDF and its parameters.
type KDFSpec struct {
	Alg    string    `json:"alg"`
	Params KDFParams `json:"params"`
}

// KeyDeriver turns a normalised password and salt into a key.
type KeyDeriver interface {
	Name() string
	Validate(p KDFParams) error
	Derive(password, salt []byte, p KDFParams) ([]byte, error)
}

var kdfRegistry = map[string]KeyDeriver{
	KDFPBKDF2SHA256: pbkdf2Deriver{},
	KDFArgon2id:     argon2Deriver{},
	KDFScrypt:       scryptDeriver{},
}

// SupportedKDF reports whether alg can be derived by this build.
func SupportedKDF(alg string) bool {
	_, ok := kdfRegistry[alg]
	return ok
}

// DefaultKDF returns the KDF used for new vaults.
func DefaultKDF() KDFSpec {
	return KDFSpec{
		Alg: KDFPBKDF2SHA256,
		Params: KDFParams{
			KeyLength:  KeySize,
			Iterations: DefaultIterations,
		},
	}
}

// Argon2idKDF returns argon2id parameters suitable for new vaults.
func Argon2idKDF() KDFSpec {
	return KDFSpec{
		Alg: KDFArgon2id,
		Params: KDFParams{
			KeyLength:   KeySize,
			Iterations:  3,
			Memory:      defaultArgonMem,
			Parallelism: 4,
		},
	}
}

// ScryptKDF returns scrypt parameters suitable for new vaults.
func ScryptKDF() KDFSpec {
	return KDFSpec{
		Alg: KDFScrypt,
		Params: KDFParams{
			KeyLength: KeySize,
			N:         minScryptN,
			R:         8,
			P:         1,
		},
	}
}

// KDFByName returns the default parameters for a named algorithm.
func KDFByName(alg string) (KDFSpec, error) {
	switch alg {
	case "", KDFPBKDF2SHA256:
		return DefaultKDF(), nil
	case KDFArgon2id:
		return Argon2idKDF(), nil
	case KDFScrypt:
		return ScryptKDF(), nil
	}
	return KDFSpec{}, &models.UnsupportedAlgorithmError{Kind: "kdf", Name: alg}
}

// NewSalt returns a fresh random salt of SaltSize bytes.
func NewSalt() ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	return salt, nil
}

// NormalizePassword applies Unicode NFKC so the same password typed on
// different platforms derives the same key.
func NormalizePassword(password string) []byte {
	return []byte(norm.NFKC.String(password))
}

// DeriveKey derives the vault key for password under spec.
func DeriveKey(password string, salt []byte, spec KDFSpec) ([]byte, error) {
	d, ok := kdfRegistry[spec.Alg]
	if !ok {
		return nil, &models.UnsupportedAlgorithmError{Kind: "kdf", Name: spec.Alg}
	}
	if password == "" {
		return nil, fmt.Errorf("%w: empty password", ErrInvalidKDFInput)
	}
	if len(salt) < MinSaltSize {
		return nil, fmt.Errorf("%w: salt must be at least %d bytes, got %d", ErrInvalidKDFInput, MinSaltSize, len(salt))
	}
	if spec.Params.KeyLength != KeySize {
		return nil, fmt.Errorf("%w: key length must be %d, got %d", ErrInvalidKDFInput, KeySize, spec.Params.KeyLength)
	}
	if err := d.Validate(spec.Params); err != nil {
		return nil, err
	}

	pw := NormalizePassword(password)
	defer Zero(pw)

	return d.Derive(pw, salt, spec.Params)
}

// DerivePBKDF2 derives a key with PBKDF2-HMAC-SHA256.
func DerivePBKDF2(password string, salt []byte, iterations int) ([]byte, error) {
	return DeriveKey(password, salt, KDFSpec{
		Alg:    KDFPBKDF2SHA256,
		Params: KDFParams{KeyLength: KeySize, Iterations: iterations},
	})
}

type pbkdf2Deriver struct{}

func (pbkdf2Deriver) Name() string { return KDFPBKDF2SHA256 }

func (pbkdf2Deriver) Validate(p KDFParams) error {
	if p.Iterations < MinIterations {
		return fmt.Errorf("%w: iterations must be at least %d, got %d", ErrInvalidKDFInput, MinIterations, p.Iterations)
	}
	return nil
}

func (pbkdf2Deriver) Derive(password, salt []byte, p KDFParams) ([]byte, error) {
	return pbkdf2.Key(password, salt, p.Iterations, p.KeyLength, sha256.New), nil
}

type argon2Deriver struct{}

func (argon2Deriver) Name() string { return KDFArgon2id }

func (argon2Deriver) Validate(p KDFParams) error {
	if p.Iterations < minArgonTime {
		return fmt.Errorf("%w: argon2id time must be at least %d", ErrInvalidKDFInput, minArgonTime)
	}
	if p.Memory < minArgonMemory {
		return fmt.Errorf("%w: argon2id memory must be at least %d KiB", ErrInvalidKDFInput, minArgonMemory)
	}
	if p.Parallelism == 0 {
		return fmt.Errorf("%w: argon2id parallelism must be positive", ErrInvalidKDFInput)
	}
	return nil
}

func (argon2Deriver) Derive(password, salt []byte, p KDFParams) ([]byte, error) {
	return argon2.IDKey(password, salt, uint32(p.Iterations), p.Memory, p.Parallelism, uint32(p.KeyLength)), nil
}

type scryptDeriver struct{}

func (scryptDeriver) Name() string { return KDFScrypt }

func (scryptDeriver) Validate(p KDFParams) error {
	if p.N < minScryptN || p.N&(p.N-1) != 0 {
		return fmt.Errorf("%w: scrypt N must be a power of two >= %d", ErrInvalidKDFInput, minScryptN)
	}
	if p.R <= 0 || p.P <= 0 {
		return fmt.Errorf("%w: scrypt r and p must be positive", ErrInvalidKDFInput)
	}
	return nil
}

func (scryptDeriver) Derive(password, salt []byte, p KDFParams) ([]byte, error) {
	key, err := scrypt.Key(password, salt, p.N, p.R, p.P, p.KeyLength)
	if err != nil {
		return nil, fmt.Errorf("scrypt: %w", err)
	}
	return key, nil
}
