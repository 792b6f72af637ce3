package crypto_test

import (
	"encoding/hex"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/pwvault/internal/crypto"
	"github.com/TheMichaelB/pwvault/internal/crypto/testdata"
	"github.com/TheMichaelB/pwvault/internal/models"
)

func TestDeriveKeyVectors(t *testing.T) {
	for _, v := range testdata.KDFVectors {
		t.Run(v.Name, func(t *testing.T) {
			spec := crypto.KDFSpec{
				Alg: v.Alg,
				Params: crypto.KDFParams{
					KeyLength:  crypto.KeySize,
					Iterations: v.Iterations,
					N:          v.N,
					R:          v.R,
					P:          v.P,
				},
			}

			key, err := crypto.DeriveKey(v.Password, []byte(v.Salt), spec)
			require.NoError(t, err)
			assert.Equal(t, v.Key, hex.EncodeToString(key))
		})
	}
}

func TestDeriveKeyDeterministic(t *testing.T) {
	salt := []byte("0123456789abcdef0123456789abcdef")

	k1, err := crypto.DerivePBKDF2("hunter2hunter2", salt, crypto.DefaultIterations)
	require.NoError(t, err)
	k2, err := crypto.DerivePBKDF2("hunter2hunter2", salt, crypto.DefaultIterations)
	require.NoError(t, err)
	assert.Equal(t, k1, k2)
	assert.Len(t, k1, crypto.KeySize)

	k3, err := crypto.DerivePBKDF2("hunter2hunter3", salt, crypto.DefaultIterations)
	require.NoError(t, err)
	assert.NotEqual(t, k1, k3)
}

func TestNormalizePassword(t *testing.T) {
	// NFKC folds compatibility ligatures and composes accents.
	assert.Equal(t, []byte("office"), crypto.NormalizePassword("o\ufb03ce"))
	assert.Equal(t, crypto.NormalizePassword("caf\u00e9"), crypto.NormalizePassword("cafe\u0301"))
}

func TestDeriveKeyInvalidInput(t *testing.T) {
	salt := []byte("0123456789abcdef")

	tests := []struct {
		name     string
		password string
		salt     []byte
		spec     crypto.KDFSpec
	}{
		{"empty password", "", salt, crypto.DefaultKDF()},
		{"short salt", "pw", []byte("short"), crypto.DefaultKDF()},
		{"nil salt", "pw", nil, crypto.DefaultKDF()},
		{"weak iterations", "pw", salt, crypto.KDFSpec{
			Alg: crypto.KDFPBKDF2SHA256, Params: crypto.KDFParams{KeyLength: 32, Iterations: 1000},
		}},
		{"wrong key length", "pw", salt, crypto.KDFSpec{
			Alg: crypto.KDFPBKDF2SHA256, Params: crypto.KDFParams{KeyLength: 16, Iterations: crypto.DefaultIterations},
		}},
		{"scrypt N not power of two", "pw", salt, crypto.KDFSpec{
			Alg: crypto.KDFScrypt, Params: crypto.KDFParams{KeyLength: 32, N: 40000, R: 8, P: 1},
		}},
		{"argon2 memory too small", "pw", salt, crypto.KDFSpec{
			Alg: crypto.KDFArgon2id, Params: crypto.KDFParams{KeyLength: 32, Iterations: 1, Memory: 1024, Parallelism: 1},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := crypto.DeriveKey(tt.password, tt.salt, tt.spec)
			require.Error(t, err)
			assert.True(t, errors.Is(err, crypto.ErrInvalidKDFInput))
		})
	}
}

func TestDeriveKeyUnsupported(t *testing.T) {
	_, err := crypto.DeriveKey("pw", []byte("0123456789abcdef"), crypto.KDFSpec{Alg: "bcrypt"})
	require.Error(t, err)

	var unsupported *models.UnsupportedAlgorithmError
	require.ErrorAs(t, err, &unsupported)
	assert.Equal(t, "kdf", unsupported.Kind)
	assert.Equal(t, "bcrypt", unsupported.Name)
}

func TestArgon2id(t *testing.T) {
	spec := crypto.KDFSpec{
		Alg: crypto.KDFArgon2id,
		Params: crypto.KDFParams{
			KeyLength:   crypto.KeySize,
			Iterations:  1,
			Memory:      19 * 1024,
			Parallelism: 1,
		},
	}
	salt := []byte("0123456789abcdef")

	k1, err := crypto.DeriveKey("correct horse", salt, spec)
	require.NoError(t, err)
	k2, err := crypto.DeriveKey("correct horse", salt, spec)
	require.NoError(t, err)

	assert.Len(t, k1, crypto.KeySize)
	assert.Equal(t, k1, k2)
}

func TestKDFByName(t *testing.T) {
	for _, alg := range []string{"", crypto.KDFPBKDF2SHA256, crypto.KDFArgon2id, crypto.KDFScrypt} {
		spec, err := crypto.KDFByName(alg)
		require.NoError(t, err, alg)
		assert.True(t, crypto.SupportedKDF(spec.Alg))
		assert.Equal(t, crypto.KeySize, spec.Params.KeyLength)
	}

	_, err := crypto.KDFByName("md5")
	assert.ErrorIs(t, err, models.ErrUnsupportedAlgorithm)
}

func TestSecurityDefaults(t *testing.T) {
	assert.GreaterOrEqual(t, crypto.DefaultIterations, 310000)
	assert.GreaterOrEqual(t, crypto.SaltSize, crypto.MinSaltSize)
	assert.Equal(t, 32, crypto.KeySize)

	s1, err := crypto.NewSalt()
	require.NoError(t, err)
	s2, err := crypto.NewSalt()
	require.NoError(t, err)
	assert.Len(t, s1, crypto.SaltSize)
	assert.NotEqual(t, s1, s2)
}
