package seal

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAEAD_RoundTrip(t *testing.T) {
	s := NewRandom()
	inputs := [][]byte{
		[]byte(`{"event_type":"session_started"}`),
		{},
		bytes.Repeat([]byte{0xAB}, 64*1024),
	}
	for _, in := range inputs {
		sealed, err := s.Seal(in)
		require.NoError(t, err)
		assert.NotEqual(t, in, sealed)

		out, err := s.Open(sealed)
		require.NoError(t, err)
		assert.Equal(t, len(in), len(out))
		assert.True(t, bytes.Equal(in, out))
	}
}

func TestAEAD_NonceIsFresh(t *testing.T) {
	s := NewRandom()
	a, err := s.Seal([]byte("same"))
	require.NoError(t, err)
	b, err := s.Seal([]byte("same"))
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestAEAD_TamperDetected(t *testing.T) {
	s := NewRandom()
	sealed, err := s.Seal([]byte("audit record"))
	require.NoError(t, err)
	sealed[len(sealed)-1] ^= 0x01

	_, err = s.Open(sealed)
	var ee *EncryptionError
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, OpDecrypt, ee.Op)
}

func TestAEAD_WrongKey(t *testing.T) {
	sealed, err := NewRandom().Seal([]byte("audit record"))
	require.NoError(t, err)
	_, err = NewRandom().Open(sealed)
	assert.Error(t, err)
}

func TestAEAD_ShortInput(t *testing.T) {
	_, err := NewRandom().Open([]byte("short"))
	assert.ErrorIs(t, err, ErrCiphertextTooShort)
}

func TestNew_KeySize(t *testing.T) {
	_, err := New(make([]byte, 16))
	assert.ErrorIs(t, err, ErrKeySize)

	key := bytes.Repeat([]byte{7}, KeySize)
	s, err := New(key)
	require.NoError(t, err)
	assert.Equal(t, make([]byte, KeySize), key, "caller key should be wiped")

	sealed, err := s.Seal([]byte("x"))
	require.NoError(t, err)
	out, err := s.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, []byte("x"), out)
}

func TestKeyFileRoundTrip(t *testing.T) {
	encoded, err := GenerateKey()
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "audit.key")
	require.NoError(t, os.WriteFile(path, []byte(encoded+"\n"), 0o600))

	key, err := LoadKeyFile(path)
	require.NoError(t, err)
	assert.Len(t, key, KeySize)

	_, err = DecodeKey("bm90IGEga2V5")
	assert.ErrorIs(t, err, ErrKeySize)
	_, err = DecodeKey("***")
	assert.Error(t, err)
	_, err = LoadKeyFile(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}
