// Package keygen provisions licence keys and stores only their salted hashes.
package keygen

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/TheMichaelB/pwvault/internal/models"
)

// Alphabet excludes the ambiguous 0, 1, I and O. Its length divides 256, so
// masking a random byte picks each symbol with equal probability.
const Alphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const (
	groups    = 4
	groupSize = 4
)

var (
	ErrKeyNotFound = errors.New("licence key not found")
	ErrKeyRedeemed = errors.New("licence key already redeemed")
)

// Key is a freshly generated key. Code is shown once; only Hash is stored.
type Key struct {
	Code string
	Hash string
}

// Record is the stored form of a key.
type Record struct {
	Hash       string     `json:"hash"`
	Prefix     string     `json:"prefix"`
	CreatedAt  time.Time  `json:"created_at"`
	RedeemedAt *time.Time `json:"redeemed_at,omitempty"`
	RedeemedBy string     `json:"redeemed_by,omitempty"`
}

// Redeemed reports whether the key has been claimed.
func (r *Record) Redeemed() bool {
	return r.RedeemedAt != nil
}

// Generator produces keys of the form PREFIX-XXXX-XXXX-XXXX-XXXX.
type Generator struct {
	prefix string
	salt   []byte
	rand   io.Reader
}

// NewGenerator creates a generator. The prefix must be non-empty and
// alphanumeric; the salt must be non-empty.
func NewGenerator(prefix, salt string) (*Generator, error) {
	prefix = strings.ToUpper(prefix)
	if prefix == "" || Canonical(prefix) != prefix {
		return nil, fmt.Errorf("%w: key prefix %q must be alphanumeric", models.ErrInvalidConfig, prefix)
	}
	if salt == "" {
		return nil, fmt.Errorf("%w: key salt is required", models.ErrInvalidConfig)
	}
	return &Generator{
		prefix: prefix,
		salt:   []byte(salt),
		rand:   rand.Reader,
	}, nil
}

// Prefix returns the key prefix.
func (g *Generator) Prefix() string {
	return g.prefix
}

// Generate returns one new key.
func (g *Generator) Generate() (Key, error) {
	buf := make([]byte, groups*groupSize)
	if _, err := io.ReadFull(g.rand, buf); err != nil {
		return Key{}, fmt.Errorf("read random: %w", err)
	}

	var b strings.Builder
	b.WriteString(g.prefix)
	for i, v := range buf {
		if i%groupSize == 0 {
			b.WriteByte('-')
		}
		b.WriteByte(Alphabet[int(v)&(len(Alphabet)-1)])
	}

	code := b.String()
	return Key{Code: code, Hash: g.Hash(code)}, nil
}

// GenerateN returns n distinct keys.
func (g *Generator) GenerateN(n int) ([]Key, error) {
	keys := make([]Key, 0, n)
	seen := make(map[string]struct{}, n)
	for len(keys) < n {
		k, err := g.Generate()
		if err != nil {
			return nil, err
		}
		if _, dup := seen[k.Hash]; dup {
			continue
		}
		seen[k.Hash] = struct{}{}
		keys = append(keys, k)
	}
	return keys, nil
}

// Hash returns hex(SHA-256(salt || Canonical(code))).
func (g *Generator) Hash(code string) string {
	h := sha256.New()
	h.Write(g.salt)
	h.Write([]byte(Canonical(code)))
	return hex.EncodeToString(h.Sum(nil))
}

// Canonical uppercases code and drops everything that is not A-Z or 0-9,
// so "pwv-abcd efgh..." and "PWVABCDEFGH..." hash the same.
func Canonical(code string) string {
	var b strings.Builder
	b.Grow(len(code))
	for _, r := range strings.ToUpper(code) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Valid reports whether code has the expected shape for this generator.
func (g *Generator) Valid(code string) bool {
	c := Canonical(code)
	if !strings.HasPrefix(c, g.prefix) {
		return false
	}
	body := c[len(g.prefix):]
	if len(body) != groups*groupSize {
		return false
	}
	return strings.Trim(body, Alphabet) == ""
}
