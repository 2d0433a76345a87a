package mempool_test

import (
	"testing"
	"time"

	"github.com/lumenledger/node/foundation/blockchain/crypto"
	"github.com/lumenledger/node/foundation/blockchain/database"
	"github.com/lumenledger/node/foundation/blockchain/mempool"
	"github.com/stretchr/testify/require"
)

func TestUpsertPreservesInputOrder(t *testing.T) {
	mp := mempool.New()

	to, _, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	toAddr, err := crypto.AddressOf(to)
	require.NoError(t, err)

	var keys []string
	for i := uint64(1); i <= 3; i++ {
		pub, priv, err := crypto.GenerateKeyPair()
		require.NoError(t, err)
		tx, err := database.NewTransaction(pub, priv, toAddr, 10, i, time.Now().Unix())
		require.NoError(t, err)
		mp.Upsert(tx)
		keys = append(keys, tx.SignatureKey())
	}

	require.Equal(t, 3, mp.Count())
	picked := mp.PickAll()
	require.Len(t, picked, 3)
	for i, tx := range picked {
		require.Equal(t, keys[i], tx.SignatureKey())
	}
}

func TestUpsertDedupsBySignature(t *testing.T) {
	mp := mempool.New()

	pub, priv, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	to, _, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	toAddr, err := crypto.AddressOf(to)
	require.NoError(t, err)

	tx, err := database.NewTransaction(pub, priv, toAddr, 50, 1, time.Now().Unix())
	require.NoError(t, err)

	require.Equal(t, 1, mp.Upsert(tx))
	require.Equal(t, 1, mp.Upsert(tx))
	require.Equal(t, 1, mp.Count())
}

func TestDeleteRemovesTransaction(t *testing.T) {
	mp := mempool.New()

	pub, priv, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	to, _, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	toAddr, err := crypto.AddressOf(to)
	require.NoError(t, err)

	tx, err := database.NewTransaction(pub, priv, toAddr, 50, 1, time.Now().Unix())
	require.NoError(t, err)

	mp.Upsert(tx)
	require.Equal(t, 1, mp.Count())

	mp.Delete(tx)
	require.Equal(t, 0, mp.Count())
	require.False(t, mp.Contains(tx.SignatureKey()))
}
