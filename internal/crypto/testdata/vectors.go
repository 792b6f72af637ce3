package testdata

// KDFVector is a known-answer vector for password key derivation.
type KDFVector struct {
	Name       string
	Alg        string
	Password   string
	Salt       string // ASCII
	Iterations int
	N, R, P    int
	Key        string // Hex
}

// KDFVectors were produced with an independent PBKDF2/scrypt implementation.
var KDFVectors = []KDFVector{
	{
		Name:       "pbkdf2 ascii password",
		Alg:        "pbkdf2-sha256",
		Password:   "correct horse battery staple",
		Salt:       "0123456789abcdef",
		Iterations: 310000,
		Key:        "1b7dde587e07ce652e09b0e2c4ad3cc75fe745bace00410a53b775d3c827aa98",
	},
	{
		Name:       "pbkdf2 composed unicode password",
		Alg:        "pbkdf2-sha256",
		Password:   "caf\u00e9",
		Salt:       "0123456789abcdef",
		Iterations: 310000,
		Key:        "502e040981e3cb40ebb7cf5710a787c538790a4fb4fe07d27d20693a241dd686",
	},
	{
		Name:       "pbkdf2 decomposed unicode password",
		Alg:        "pbkdf2-sha256",
		Password:   "cafe\u0301",
		Salt:       "0123456789abcdef",
		Iterations: 310000,
		Key:        "502e040981e3cb40ebb7cf5710a787c538790a4fb4fe07d27d20693a241dd686",
	},
	{
		Name:     "scrypt ascii password",
		Alg:      "scrypt",
		Password: "correct horse battery staple",
		Salt:     "0123456789abcdef",
		N:        32768,
		R:        8,
		P:        1,
		Key:      "f6b71517e0d9f2e53beeacf71ffbf6f7e9f683c73cefb00e0915d242f0bf7ecd",
	},
}
