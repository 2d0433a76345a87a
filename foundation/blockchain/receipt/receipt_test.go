package receipt_test

import (
	"testing"

	"github.com/lumenledger/node/foundation/blockchain/crypto"
	"github.com/lumenledger/node/foundation/blockchain/receipt"
	"github.com/stretchr/testify/require"
)

func addr(t *testing.T) crypto.Address {
	t.Helper()
	pub, _, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	a, err := crypto.AddressOf(pub)
	require.NoError(t, err)
	return a
}

func TestBuildReceiptVerifies(t *testing.T) {
	pub, priv, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	from := addr(t)
	to, err := crypto.AddressOf(pub)
	require.NoError(t, err)

	r, err := receipt.BuildReceipt("chal-1", from, to, 1, 5, 100, priv)
	require.NoError(t, err)

	require.NoError(t, r.Validate(pub))
}

func TestVerifyAndAcceptRejectsBadSignature(t *testing.T) {
	pub, priv, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	otherPub, _, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	from := addr(t)
	to, err := crypto.AddressOf(pub)
	require.NoError(t, err)

	r, err := receipt.BuildReceipt("chal-2", from, to, 1, 5, 100, priv)
	require.NoError(t, err)

	engine := receipt.New(receipt.DefaultConfig(), nil)
	err = engine.VerifyAndAccept(r, otherPub)
	require.Error(t, err)
	require.Empty(t, engine.Pending())
}

func TestVerifyAndAcceptAddsPending(t *testing.T) {
	pub, priv, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	from := addr(t)
	to, err := crypto.AddressOf(pub)
	require.NoError(t, err)

	r, err := receipt.BuildReceipt("chal-3", from, to, 1, 5, 100, priv)
	require.NoError(t, err)

	engine := receipt.New(receipt.DefaultConfig(), nil)
	require.NoError(t, engine.VerifyAndAccept(r, pub))
	require.Len(t, engine.Pending(), 1)

	engine.Drain(engine.Pending())
	require.Empty(t, engine.Pending())
}

func TestSelectTargetsExcludesSelfAndIsDeterministic(t *testing.T) {
	self := addr(t)
	peers := []crypto.Address{self, addr(t), addr(t), addr(t)}

	engine := receipt.New(receipt.Config{ChallengesPerEpoch: 2}, nil)

	t1 := engine.SelectTargets(peers, self, 5)
	t2 := engine.SelectTargets(peers, self, 5)

	require.Equal(t, t1, t2)
	require.Len(t, t1, 2)
	for _, a := range t1 {
		require.NotEqual(t, self, a)
	}
}

func TestEffectivenessBounds(t *testing.T) {
	engine := receipt.New(receipt.DefaultConfig(), nil)
	a := addr(t)

	successful := map[crypto.Address]bool{a: true}
	updates := engine.AdvanceEpoch([]crypto.Address{a}, successful, 10)
	require.GreaterOrEqual(t, updates[a], 0.0)
	require.LessOrEqual(t, updates[a], 1.0)

	// Decay toward 0 over many epochs with no successful receipts.
	engine.SetEffectiveness(a, 1.0)
	epochSeconds := 86400.0 // one day per epoch
	for i := 0; i < int(5*receipt.DefaultDecayConstantDays); i++ {
		engine.AdvanceEpoch([]crypto.Address{a}, nil, epochSeconds)
	}

	require.LessOrEqual(t, engine.Effectiveness(a), 0.01)
}

func TestRewardDistributionProportional(t *testing.T) {
	a1 := addr(t)
	a2 := addr(t)

	updates := map[crypto.Address]float64{a1: 0.5, a2: 0.5}
	rewards := receipt.RewardDistribution(updates, 100)

	require.Equal(t, uint64(50), rewards[a1])
	require.Equal(t, uint64(50), rewards[a2])
}

func TestRewardDistributionZeroEffectivenessYieldsNoRewards(t *testing.T) {
	a1 := addr(t)
	updates := map[crypto.Address]float64{a1: 0}

	rewards := receipt.RewardDistribution(updates, 100)
	require.Nil(t, rewards)
}
