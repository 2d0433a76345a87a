package crypto_test

import (
	"testing"

	"github.com/lumenledger/node/foundation/blockchain/crypto"
	"github.com/stretchr/testify/require"
)

func TestSignVerify(t *testing.T) {
	pub, priv, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	msg := []byte("receipt payload")
	sig := crypto.Sign(priv, msg)

	require.True(t, crypto.Verify(pub, msg, sig))
	require.False(t, crypto.Verify(pub, []byte("tampered"), sig))
}

func TestVerifyNeverPanics(t *testing.T) {
	pub, _, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	require.False(t, crypto.Verify(pub, []byte("x"), crypto.Signature{1, 2, 3}))
	require.False(t, crypto.Verify(crypto.PublicKey{1, 2}, []byte("x"), crypto.Signature(make([]byte, 64))))
}

func TestAddressOfIsStable(t *testing.T) {
	pub, _, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	a1, err := crypto.AddressOf(pub)
	require.NoError(t, err)
	a2, err := crypto.AddressOf(pub)
	require.NoError(t, err)

	require.Equal(t, a1, a2)
	require.Len(t, a1, crypto.AddressLength*2)
}

func TestHashCanonicalKeyOrderIndependent(t *testing.T) {
	h1, err := crypto.HashCanonical(func() ([]byte, error) {
		return []byte(`{"b":2,"a":1}`), nil
	})
	require.NoError(t, err)

	h2, err := crypto.HashCanonical(func() ([]byte, error) {
		return []byte(`{"a":1,"b":2}`), nil
	})
	require.NoError(t, err)

	require.Equal(t, h1, h2)
}

func TestHashCanonicalNumberFormat(t *testing.T) {
	h1, err := crypto.HashCanonical(func() ([]byte, error) { return []byte(`{"n":5}`), nil })
	require.NoError(t, err)
	h2, err := crypto.HashCanonical(func() ([]byte, error) { return []byte(`{"n":5.0}`), nil })
	require.NoError(t, err)
	require.Equal(t, h1, h2)
}
