package peer_test

import (
	"testing"
	"time"

	"github.com/lumenledger/node/foundation/blockchain/crypto"
	"github.com/lumenledger/node/foundation/blockchain/peer"
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

func TestAnnounceAddsPeerOnce(t *testing.T) {
	self := newAddr(t)
	other := newAddr(t)

	r := peer.NewRegistry(self, "http://self:8080", time.Minute, nil)

	isNew := r.Announce(other, "http://other:8080", nil)
	require.True(t, isNew)

	isNew = r.Announce(other, "http://other:8080", nil)
	require.False(t, isNew)

	require.Equal(t, 1, r.Count())
}

func TestAnnounceIgnoresSelf(t *testing.T) {
	self := newAddr(t)
	r := peer.NewRegistry(self, "http://self:8080", time.Minute, nil)

	isNew := r.Announce(self, "http://self:8080", nil)
	require.False(t, isNew)
	require.Equal(t, 0, r.Count())
}

func TestEvictRemovesStalePeers(t *testing.T) {
	self := newAddr(t)
	other := newAddr(t)

	r := peer.NewRegistry(self, "http://self:8080", time.Millisecond, nil)
	r.Announce(other, "http://other:8080", nil)

	time.Sleep(5 * time.Millisecond)

	evicted := r.Evict()
	require.Equal(t, []crypto.Address{other}, evicted)
	require.Equal(t, 0, r.Count())
}

func TestTouchPreventsEviction(t *testing.T) {
	self := newAddr(t)
	other := newAddr(t)

	r := peer.NewRegistry(self, "http://self:8080", 20*time.Millisecond, nil)
	r.Announce(other, "http://other:8080", nil)

	time.Sleep(10 * time.Millisecond)
	r.Touch(other)
	time.Sleep(15 * time.Millisecond)

	evicted := r.Evict()
	require.Empty(t, evicted)
	require.Equal(t, 1, r.Count())
}

func TestAddressesIncludesSelfSortedWithPeers(t *testing.T) {
	self := newAddr(t)
	a := newAddr(t)
	b := newAddr(t)

	r := peer.NewRegistry(self, "http://self:8080", time.Minute, nil)
	r.Announce(a, "http://a:8080", nil)
	r.Announce(b, "http://b:8080", nil)

	addrs := r.Addresses()
	require.Len(t, addrs, 3)
	require.Contains(t, addrs, self)
	require.Contains(t, addrs, a)
	require.Contains(t, addrs, b)

	for i := 1; i < len(addrs); i++ {
		require.LessOrEqual(t, addrs[i-1], addrs[i])
	}
}

func TestFoldMergesGossipedPeersExcludingSelf(t *testing.T) {
	self := newAddr(t)
	a := newAddr(t)
	b := newAddr(t)

	r := peer.NewRegistry(self, "http://self:8080", time.Minute, nil)

	r.Fold([]peer.GossipPeer{
		{Address: self, URL: "http://self:8080"},
		{Address: a, URL: "http://a:8080"},
		{Address: b, URL: "http://b:8080"},
	})

	require.Equal(t, 2, r.Count())
}

func TestSnapshotIncludesSelf(t *testing.T) {
	self := newAddr(t)
	pub, _, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	r := peer.NewRegistry(self, "http://self:8080", time.Minute, nil)
	snap := r.Snapshot(pub)

	require.Len(t, snap, 1)
	require.Equal(t, self, snap[0].Address)
}
