package consensus_test

import (
	"testing"
	"time"

	"github.com/lumenledger/node/foundation/blockchain/builder"
	"github.com/lumenledger/node/foundation/blockchain/consensus"
	"github.com/lumenledger/node/foundation/blockchain/crypto"
	"github.com/lumenledger/node/foundation/blockchain/database"
	"github.com/lumenledger/node/foundation/blockchain/genesis"
	"github.com/stretchr/testify/require"
)

func newAddr(t *testing.T) crypto.Address {
	t.Helper()
	pub, _, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	a, err := crypto.AddressOf(pub)
	require.NoError(t, err)
	return a
}

func TestElectLeaderIsDeterministicAndOrderIndependent(t *testing.T) {
	a, b, c := newAddr(t), newAddr(t), newAddr(t)
	set1 := []crypto.Address{a, b, c}
	set2 := []crypto.Address{c, a, b}

	l1 := consensus.ElectLeader(5, 0, set1)
	l2 := consensus.ElectLeader(5, 0, set2)
	require.Equal(t, l1, l2)
}

func TestElectLeaderEmptySetReturnsEmpty(t *testing.T) {
	require.Equal(t, crypto.Address(""), consensus.ElectLeader(1, 0, nil))
}

func TestBeginEpochMarksLeaderProposing(t *testing.T) {
	self := newAddr(t)
	other := newAddr(t)
	validators := []crypto.Address{self, other}

	e := consensus.NewEngine(self, consensus.DefaultParams(), nil)

	leader, isLeader := e.BeginEpoch(1, validators)
	require.Equal(t, consensus.ElectLeader(1, 0, validators), leader)
	require.Equal(t, leader == self, isLeader)

	epoch, view, phase, _ := e.Snapshot()
	require.Equal(t, uint64(1), epoch)
	require.Equal(t, uint64(0), view)
	if isLeader {
		require.Equal(t, consensus.PhaseProposing, phase)
	} else {
		require.Equal(t, consensus.PhaseAwaitingProposal, phase)
	}
}

func TestValidateProposalAcceptsWellFormedBlock(t *testing.T) {
	ledger, err := database.New(genesis.Default(1), database.NewMemoryStorage(), nil)
	require.NoError(t, err)

	leaderPub, leaderPriv, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	leaderAddr, err := crypto.AddressOf(leaderPub)
	require.NoError(t, err)

	block, err := builder.Build(0, crypto.ZeroHash, leaderPub, leaderPriv, time.Now().Unix(), ledger, nil, nil, nil, nil)
	require.NoError(t, err)

	e := consensus.NewEngine(leaderAddr, consensus.DefaultParams(), nil)
	validators := []crypto.Address{leaderAddr}
	e.BeginEpoch(0, validators)

	err = e.ValidateProposal(block, crypto.ZeroHash, 0, validators, nil)
	require.NoError(t, err)
}

func TestValidateProposalRejectsWrongLeader(t *testing.T) {
	ledger, err := database.New(genesis.Default(1), database.NewMemoryStorage(), nil)
	require.NoError(t, err)

	realLeaderPub, realLeaderPriv, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	otherAddr := newAddr(t)

	block, err := builder.Build(0, crypto.ZeroHash, realLeaderPub, realLeaderPriv, time.Now().Unix(), ledger, nil, nil, nil, nil)
	require.NoError(t, err)

	e := consensus.NewEngine(otherAddr, consensus.DefaultParams(), nil)
	realLeaderAddr, err := crypto.AddressOf(realLeaderPub)
	require.NoError(t, err)

	validators := []crypto.Address{otherAddr}
	require.NotEqual(t, realLeaderAddr, consensus.ElectLeader(0, 0, validators))

	err = e.ValidateProposal(block, crypto.ZeroHash, 0, validators, nil)
	require.ErrorIs(t, err, consensus.ErrWrongLeader)
}

func TestValidateProposalRejectsBadPreviousHash(t *testing.T) {
	ledger, err := database.New(genesis.Default(1), database.NewMemoryStorage(), nil)
	require.NoError(t, err)

	leaderPub, leaderPriv, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	leaderAddr, err := crypto.AddressOf(leaderPub)
	require.NoError(t, err)

	block, err := builder.Build(5, "0xdeadbeef", leaderPub, leaderPriv, time.Now().Unix(), ledger, nil, nil, nil, nil)
	require.NoError(t, err)

	validators := []crypto.Address{leaderAddr}
	e := consensus.NewEngine(leaderAddr, consensus.DefaultParams(), nil)

	err = e.ValidateProposal(block, crypto.ZeroHash, 0, validators, nil)
	require.ErrorIs(t, err, consensus.ErrPreviousHash)
}

func TestValidateProposalRejectsTransactionFilterMismatch(t *testing.T) {
	ledger, err := database.New(genesis.Default(1), database.NewMemoryStorage(), nil)
	require.NoError(t, err)

	leaderPub, leaderPriv, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	leaderAddr, err := crypto.AddressOf(leaderPub)
	require.NoError(t, err)

	block, err := builder.Build(0, crypto.ZeroHash, leaderPub, leaderPriv, time.Now().Unix(), ledger, nil, nil, nil, nil)
	require.NoError(t, err)

	validators := []crypto.Address{leaderAddr}
	e := consensus.NewEngine(leaderAddr, consensus.DefaultParams(), nil)

	err = e.ValidateProposal(block, crypto.ZeroHash, 0, validators, func([]database.Transaction) bool { return false })
	require.ErrorIs(t, err, consensus.ErrTransactionFilter)
}

func TestRecordProposalDetectsEquivocation(t *testing.T) {
	ledger, err := database.New(genesis.Default(1), database.NewMemoryStorage(), nil)
	require.NoError(t, err)

	leaderPub, leaderPriv, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	leaderAddr, err := crypto.AddressOf(leaderPub)
	require.NoError(t, err)

	toAddr := newAddr(t)
	mint1 := database.NewCoinbase(toAddr, 10, 1, 100)
	mint2 := database.NewCoinbase(toAddr, 20, 1, 200)

	block1, err := builder.Build(3, crypto.ZeroHash, leaderPub, leaderPriv, 100, ledger, []database.Transaction{mint1}, nil, nil, nil)
	require.NoError(t, err)
	block2, err := builder.Build(3, crypto.ZeroHash, leaderPub, leaderPriv, 200, ledger, []database.Transaction{mint2}, nil, nil, nil)
	require.NoError(t, err)
	require.NotEqual(t, block1.Hash, block2.Hash)

	e := consensus.NewEngine(leaderAddr, consensus.DefaultParams(), nil)

	ev := e.RecordProposal(block1)
	require.Nil(t, ev)

	ev = e.RecordProposal(block2)
	require.NotNil(t, ev)
	require.Equal(t, leaderAddr, ev.Leader)
	require.Equal(t, uint64(3), ev.Epoch)
}

func TestApplySlashDebitsOnceOnly(t *testing.T) {
	gen := genesis.Default(1)
	offender := newAddr(t)
	gen.Balances[string(offender)] = 1000

	ledger, err := database.New(gen, database.NewMemoryStorage(), nil)
	require.NoError(t, err)

	e := consensus.NewEngine(newAddr(t), consensus.DefaultParams(), nil)

	debited := e.ApplySlash(ledger, offender)
	require.Equal(t, uint64(500), debited)
	require.True(t, e.IsSlashed(offender))

	again := e.ApplySlash(ledger, offender)
	require.Equal(t, uint64(0), again)
	require.Equal(t, 1, e.SlashedCount())
}

func TestVoteTallyAndQuorum(t *testing.T) {
	ledger, err := database.New(genesis.Default(1), database.NewMemoryStorage(), nil)
	require.NoError(t, err)

	leaderPub, leaderPriv, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	leaderAddr, err := crypto.AddressOf(leaderPub)
	require.NoError(t, err)

	v1Pub, v1Priv, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	v1Addr, err := crypto.AddressOf(v1Pub)
	require.NoError(t, err)

	v2Pub, v2Priv, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	v2Addr, err := crypto.AddressOf(v2Pub)
	require.NoError(t, err)

	block, err := builder.Build(0, crypto.ZeroHash, leaderPub, leaderPriv, time.Now().Unix(), ledger, nil, nil, nil, nil)
	require.NoError(t, err)

	e := consensus.NewEngine(leaderAddr, consensus.DefaultParams(), nil)
	e.BeginProposing(block)

	sig1, err := database.SignVote(block, v1Priv)
	require.NoError(t, err)
	count, ok := e.RecordVote(block.Hash, v1Addr, v1Pub, sig1)
	require.True(t, ok)
	require.Equal(t, 1, count)

	require.False(t, e.HasQuorum(3))

	sig2, err := database.SignVote(block, v2Priv)
	require.NoError(t, err)
	_, ok = e.RecordVote(block.Hash, v2Addr, v2Pub, sig2)
	require.True(t, ok)

	require.True(t, e.HasQuorum(3))

	e.TransitionCommitted()
	_, _, phase, counters := e.Snapshot()
	require.Equal(t, consensus.PhaseCommitted, phase)
	require.Equal(t, uint64(1), counters.BlocksCommitted)
}

func TestRecordVoteRejectsBadSignature(t *testing.T) {
	ledger, err := database.New(genesis.Default(1), database.NewMemoryStorage(), nil)
	require.NoError(t, err)

	leaderPub, leaderPriv, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	leaderAddr, err := crypto.AddressOf(leaderPub)
	require.NoError(t, err)

	voterPub, _, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	voterAddr, err := crypto.AddressOf(voterPub)
	require.NoError(t, err)

	_, otherPriv, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	block, err := builder.Build(0, crypto.ZeroHash, leaderPub, leaderPriv, time.Now().Unix(), ledger, nil, nil, nil, nil)
	require.NoError(t, err)

	e := consensus.NewEngine(leaderAddr, consensus.DefaultParams(), nil)
	e.BeginProposing(block)

	badSig, err := database.SignVote(block, otherPriv)
	require.NoError(t, err)

	_, ok := e.RecordVote(block.Hash, voterAddr, voterPub, badSig)
	require.False(t, ok)
}

func TestViewChangeQuorumAdvancesView(t *testing.T) {
	self := newAddr(t)
	v2 := newAddr(t)
	v3 := newAddr(t)
	validators := []crypto.Address{self, v2, v3}

	e := consensus.NewEngine(self, consensus.DefaultParams(), nil)
	e.BeginEpoch(1, validators)

	epoch, oldView, newView := e.StartViewChange()
	require.Equal(t, uint64(1), epoch)
	require.Equal(t, uint64(0), oldView)
	require.Equal(t, uint64(1), newView)

	reached := e.RecordViewChangeVote(epoch, newView, self, len(validators))
	require.False(t, reached)
	reached = e.RecordViewChangeVote(epoch, newView, v2, len(validators))
	require.True(t, reached)

	e.AdvanceView(epoch, newView, validators)
	_, view, _, counters := e.Snapshot()
	require.Equal(t, newView, view)
	require.Equal(t, uint64(1), counters.ViewChanges)
}
