package keygen

import (
	"bytes"
	"errors"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateDeterministic(t *testing.T) {
	g, err := NewGenerator("PWV", "salt")
	require.NoError(t, err)

	// Byte i maps to Alphabet[i&31].
	src := make([]byte, 16)
	for i := range src {
		src[i] = byte(i + 32)
	}
	g.rand = bytes.NewReader(src)

	k, err := g.Generate()
	require.NoError(t, err)
	assert.Equal(t, "PWV-ABCD-EFGH-JKLM-NPQR", k.Code)
	assert.Equal(t, g.Hash(k.Code), k.Hash)
}

func TestGenerateRandomFailure(t *testing.T) {
	g, err := NewGenerator("PWV", "salt")
	require.NoError(t, err)
	g.rand = iotest.ErrReader(errors.New("no entropy"))

	_, err = g.Generate()
	assert.ErrorContains(t, err, "no entropy")
}
