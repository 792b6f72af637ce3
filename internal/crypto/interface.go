package crypto

// Codec seals and opens vault payloads.
type Codec interface {
	// NewHeader creates the header of a new vault with a fresh salt.
	NewHeader() (*Header, error)

	// DeriveKey derives the key for password from a header.
	DeriveKey(password string, h *Header) ([]byte, error)

	// Encrypt seals plaintext, keeping the salt and KDF of h.
	Encrypt(plaintext, key []byte, h *Header) (*Container, error)

	// Decrypt authenticates and decrypts a container.
	Decrypt(c *Container, key []byte) ([]byte, error)
}

// VaultCodec is the default Codec.
type VaultCodec struct {
	KDF    KDFSpec
	Cipher string
}

// NewCodec returns a codec creating vaults with kdf and cipherName.
func NewCodec(kdf KDFSpec, cipherName string) *VaultCodec {
	if kdf.Alg == "" {
		kdf = DefaultKDF()
	}
	if cipherName == "" {
		cipherName = DefaultCipher
	}
	return &VaultCodec{KDF: kdf, Cipher: cipherName}
}

func (c *VaultCodec) NewHeader() (*Header, error) {
	return NewHeader(c.KDF, c.Cipher)
}

func (c *VaultCodec) DeriveKey(password string, h *Header) ([]byte, error) {
	return DeriveContainerKey(password, h)
}

func (c *VaultCodec) Encrypt(plaintext, key []byte, h *Header) (*Container, error) {
	return Encrypt(plaintext, key, h)
}

func (c *VaultCodec) Decrypt(ct *Container, key []byte) ([]byte, error) {
	return Decrypt(ct, key)
}
