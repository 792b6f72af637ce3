package crypto_test

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/pwvault/internal/crypto"
	"github.com/TheMichaelB/pwvault/internal/models"
)

func randomKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, crypto.KeySize)
	_, err := rand.Read(key)
	require.NoError(t, err)
	return key
}

func newHeader(t *testing.T, cipherName string) *crypto.Header {
	t.Helper()
	h, err := crypto.NewHeader(crypto.DefaultKDF(), cipherName)
	require.NoError(t, err)
	return h
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	for _, cipherName := range []string{crypto.CipherAES256GCM, crypto.CipherXChaCha20Poly1305} {
		t.Run(cipherName, func(t *testing.T) {
			key := randomKey(t)
			header := newHeader(t, cipherName)

			tests := []struct {
				name      string
				plaintext []byte
			}{
				{"empty", []byte{}},
				{"short", []byte(`{"items":[]}`)},
				{"unicode", []byte("Hello, 世界! 🌍")},
				{"large", make([]byte, 1024*1024)},
			}

			for _, tt := range tests {
				t.Run(tt.name, func(t *testing.T) {
					c, err := crypto.Encrypt(tt.plaintext, key, header)
					require.NoError(t, err)
					assert.Len(t, c.Header.Tag, crypto.TagSize)

					got, err := crypto.Decrypt(c, key)
					require.NoError(t, err)
					assert.Equal(t, len(tt.plaintext), len(got))
					if len(tt.plaintext) > 0 {
						assert.Equal(t, tt.plaintext, got)
					}
				})
			}
		})
	}
}

func TestEncryptPreservesSaltRefreshesNonce(t *testing.T) {
	key := randomKey(t)
	header := newHeader(t, "")

	c1, err := crypto.Encrypt([]byte("same"), key, header)
	require.NoError(t, err)
	c2, err := crypto.Encrypt([]byte("same"), key, &c1.Header)
	require.NoError(t, err)

	assert.Equal(t, header.Salt, c1.Header.Salt)
	assert.Equal(t, c1.Header.Salt, c2.Header.Salt)
	assert.Equal(t, c1.Header.KDF, c2.Header.KDF)
	assert.NotEqual(t, c1.Header.Nonce, c2.Header.Nonce)
	assert.NotEqual(t, c1.Ciphertext, c2.Ciphertext)

	// The caller's header is not mutated.
	assert.Nil(t, header.Nonce)
}

func TestNonceUniqueness(t *testing.T) {
	key := randomKey(t)
	header := newHeader(t, "")

	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		c, err := crypto.Encrypt([]byte("x"), key, header)
		require.NoError(t, err)
		n := string(c.Header.Nonce)
		require.False(t, seen[n], "nonce reused after %d encryptions", i)
		seen[n] = true
	}
}

func TestTamperDetection(t *testing.T) {
	key := randomKey(t)
	c, err := crypto.Encrypt([]byte("sensitive data"), key, newHeader(t, ""))
	require.NoError(t, err)

	mutations := map[string]func(c *crypto.Container){
		"ciphertext": func(c *crypto.Container) { c.Ciphertext[0] ^= 0x01 },
		"tag":        func(c *crypto.Container) { c.Header.Tag[len(c.Header.Tag)-1] ^= 0x80 },
		"nonce":      func(c *crypto.Container) { c.Header.Nonce[0] ^= 0xff },
	}

	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			tampered := *c
			tampered.Header = *c.Header.Clone()
			tampered.Ciphertext = append([]byte(nil), c.Ciphertext...)
			mutate(&tampered)

			_, err := crypto.Decrypt(&tampered, key)
			require.Error(t, err)
			assert.ErrorIs(t, err, models.ErrIntegrity)
		})
	}

	t.Run("wrong key", func(t *testing.T) {
		_, err := crypto.Decrypt(c, randomKey(t))
		assert.ErrorIs(t, err, models.ErrIntegrity)
	})

	t.Run("cipher swapped", func(t *testing.T) {
		swapped := *c
		swapped.Header = *c.Header.Clone()
		swapped.Header.Cipher = crypto.CipherXChaCha20Poly1305
		_, err := crypto.Decrypt(&swapped, key)
		assert.ErrorIs(t, err, models.ErrFormat)
	})
}

func TestInvalidKeySize(t *testing.T) {
	_, err := crypto.Encrypt([]byte("x"), make([]byte, 16), newHeader(t, ""))
	assert.ErrorIs(t, err, crypto.ErrInvalidKey)

	_, err = crypto.Encrypt([]byte("x"), randomKey(t), nil)
	assert.ErrorIs(t, err, crypto.ErrHeaderRequired)
}

func TestOpenContainer(t *testing.T) {
	const password = "correct horse battery staple"

	header := newHeader(t, "")
	key, err := crypto.DeriveContainerKey(password, header)
	require.NoError(t, err)

	c, err := crypto.Encrypt([]byte(`{"items":[]}`), key, header)
	require.NoError(t, err)
	data, err := crypto.Marshal(c)
	require.NoError(t, err)

	t.Run("right password", func(t *testing.T) {
		plaintext, gotKey, parsed, err := crypto.OpenContainer(data, password)
		require.NoError(t, err)
		assert.Equal(t, `{"items":[]}`, string(plaintext))
		assert.Equal(t, key, gotKey)
		assert.Equal(t, c.Header.Salt, parsed.Header.Salt)
	})

	t.Run("wrong password", func(t *testing.T) {
		_, _, _, err := crypto.OpenContainer(data, "Tr0ub4dor&3")
		require.Error(t, err)
		assert.ErrorIs(t, err, models.ErrIntegrity)
		assert.Equal(t, "Wrong password or corrupted vault.", models.UserMessage(err))
	})
}

func TestUnsupportedAlgorithmBeforeDecrypt(t *testing.T) {
	key := randomKey(t)
	c, err := crypto.Encrypt([]byte("x"), key, newHeader(t, ""))
	require.NoError(t, err)

	t.Run("kdf", func(t *testing.T) {
		c2 := *c
		c2.Header = *c.Header.Clone()
		c2.Header.KDF.Alg = "balloon-sha3"
		data, err := crypto.Marshal(&c2)
		require.NoError(t, err)

		_, _, _, err = crypto.OpenContainer(data, "anything")
		var unsupported *models.UnsupportedAlgorithmError
		require.ErrorAs(t, err, &unsupported)
		assert.Equal(t, "kdf", unsupported.Kind)
		assert.NotErrorIs(t, err, models.ErrIntegrity)
	})

	t.Run("cipher", func(t *testing.T) {
		c2 := *c
		c2.Header = *c.Header.Clone()
		c2.Header.Cipher = "aes-512-ocb"
		_, err := crypto.Decrypt(&c2, key)
		var unsupported *models.UnsupportedAlgorithmError
		require.ErrorAs(t, err, &unsupported)
		assert.Equal(t, "cipher", unsupported.Kind)
	})
}

func TestUnmarshalFormatErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not json", "hello world"},
		{"empty", ""},
		{"wrong magic", `{"header":{"magic":"KEEPASS","version":1},"ciphertext":""}`},
		{"future version", `{"header":{"magic":"PWVAULT","version":9},"ciphertext":""}`},
		{"bad base64", `{"header":{"magic":"PWVAULT","version":1,"salt":"***"},"ciphertext":""}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := crypto.Unmarshal([]byte(tt.data))
			require.Error(t, err)
			assert.ErrorIs(t, err, models.ErrFormat)
			assert.Equal(t, models.ErrCodeFormat, models.Code(err))
		})
	}
}

func TestContainerJSONShape(t *testing.T) {
	key := randomKey(t)
	c, err := crypto.Encrypt([]byte("payload"), key, newHeader(t, ""))
	require.NoError(t, err)

	data, err := crypto.Marshal(c)
	require.NoError(t, err)

	var raw struct {
		Header struct {
			Magic   string `json:"magic"`
			Version int    `json:"version"`
			KDF     struct {
				Alg    string         `json:"alg"`
				Params map[string]int `json:"params"`
			} `json:"kdf"`
			Salt   string `json:"salt"`
			Nonce  string `json:"nonce"`
			Cipher string `json:"cipher"`
			Tag    string `json:"tag"`
		} `json:"header"`
		Ciphertext string `json:"ciphertext"`
	}
	require.NoError(t, json.Unmarshal(data, &raw))

	assert.Equal(t, "PWVAULT", raw.Header.Magic)
	assert.Equal(t, 1, raw.Header.Version)
	assert.Equal(t, "pbkdf2-sha256", raw.Header.KDF.Alg)
	assert.Equal(t, 32, raw.Header.KDF.Params["keyLength"])
	assert.Equal(t, 310000, raw.Header.KDF.Params["iterations"])
	assert.Equal(t, "aes-256-gcm", raw.Header.Cipher)

	// Byte fields survive a base64 round trip exactly.
	for field, want := range map[string][]byte{
		"salt":       c.Header.Salt,
		"nonce":      c.Header.Nonce,
		"tag":        c.Header.Tag,
		"ciphertext": c.Ciphertext,
	} {
		var encoded string
		switch field {
		case "salt":
			encoded = raw.Header.Salt
		case "nonce":
			encoded = raw.Header.Nonce
		case "tag":
			encoded = raw.Header.Tag
		default:
			encoded = raw.Ciphertext
		}
		got, err := base64.StdEncoding.DecodeString(encoded)
		require.NoError(t, err, field)
		assert.Equal(t, want, got, field)
	}

	parsed, err := crypto.Unmarshal(data)
	require.NoError(t, err)
	plaintext, err := crypto.Decrypt(parsed, key)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(plaintext))
}

func TestVaultCodec(t *testing.T) {
	codec := crypto.NewCodec(crypto.KDFSpec{}, "")
	assert.Equal(t, crypto.KDFPBKDF2SHA256, codec.KDF.Alg)
	assert.Equal(t, crypto.CipherAES256GCM, codec.Cipher)

	var _ crypto.Codec = codec

	h, err := codec.NewHeader()
	require.NoError(t, err)
	key, err := codec.DeriveKey("pw-for-codec", h)
	require.NoError(t, err)

	c, err := codec.Encrypt([]byte("abc"), key, h)
	require.NoError(t, err)
	out, err := codec.Decrypt(c, key)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(out))
}
