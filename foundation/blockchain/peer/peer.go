// Package peer implements PeerMesh: the peer registry, gossip-based
// discovery and eviction, and the wire transport for every protocol
// message. PeerMesh exclusively owns the peer registry; Consensus and the
// node orchestrator reach it only through the methods below.
package peer

import (
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/lumenledger/node/foundation/blockchain/crypto"
	"github.com/lumenledger/node/foundation/blockchain/database"
)

// DefaultHeartbeatTimeout is the duration of inactivity after which a peer
// is evicted from the registry.
const DefaultHeartbeatTimeout = 60 * time.Second

// DefaultGossipInterval is how often the gossip round runs.
const DefaultGossipInterval = 3 * time.Second

// DefaultGossipProbability is the chance, per gossiped peer, that this node
// also compares and potentially adopts that peer's chain.
const DefaultGossipProbability = 0.1

// Record is everything known about one peer. Address and URL identify it;
// PublicKey lets callers verify any signed message it sends; LastSeen and
// Effectiveness are local-only bookkeeping, never transmitted as-is.
type Record struct {
	Address       crypto.Address
	URL           string
	PublicKey     crypto.PublicKey
	PublicKeyHash string
	LastSeen      time.Time
	Effectiveness float64
}

// Registry is the in-memory, non-replicated peer table described in §3.
type Registry struct {
	mu      sync.RWMutex
	self    crypto.Address
	selfURL string

	heartbeatTimeout time.Duration

	records map[crypto.Address]Record

	evHandler func(v string, args ...any)
}

// NewRegistry constructs an empty Registry for this node.
func NewRegistry(self crypto.Address, selfURL string, heartbeatTimeout time.Duration, evHandler func(v string, args ...any)) *Registry {
	if evHandler == nil {
		evHandler = func(string, ...any) {}
	}
	if heartbeatTimeout == 0 {
		heartbeatTimeout = DefaultHeartbeatTimeout
	}

	return &Registry{
		self:             self,
		selfURL:          selfURL,
		heartbeatTimeout: heartbeatTimeout,
		records:          make(map[crypto.Address]Record),
		evHandler:        evHandler,
	}
}

// Announce inserts or refreshes a peer record, returning true if this is a
// newly learned peer.
func (r *Registry) Announce(addr crypto.Address, url string, pubKey crypto.PublicKey) bool {
	if addr == r.self {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	_, known := r.records[addr]

	rec := r.records[addr]
	rec.Address = addr
	rec.URL = url
	rec.PublicKey = pubKey
	rec.PublicKeyHash = crypto.HashHex([]byte(pubKey))
	rec.LastSeen = time.Now()
	r.records[addr] = rec

	if !known {
		r.evHandler("peer: Announce: learned new peer[%s] url[%s]", addr, url)
	}

	return !known
}

// Touch refreshes LastSeen for addr after any successful exchange.
func (r *Registry) Touch(addr crypto.Address) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[addr]
	if !ok {
		return
	}
	rec.LastSeen = time.Now()
	r.records[addr] = rec
}

// SetEffectiveness records the locally observed effectiveness for addr.
func (r *Registry) SetEffectiveness(addr crypto.Address, value float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[addr]
	if !ok {
		return
	}
	rec.Effectiveness = value
	r.records[addr] = rec
}

// Evict removes every peer whose LastSeen is older than heartbeatTimeout,
// returning the evicted addresses.
func (r *Registry) Evict() []crypto.Address {
	r.mu.Lock()
	defer r.mu.Unlock()

	var evicted []crypto.Address
	cutoff := time.Now().Add(-r.heartbeatTimeout)

	for addr, rec := range r.records {
		if rec.LastSeen.Before(cutoff) {
			delete(r.records, addr)
			evicted = append(evicted, addr)
		}
	}

	if len(evicted) > 0 {
		r.evHandler("peer: Evict: removed stale peers[%v]", evicted)
	}

	return evicted
}

// Copy returns every known peer (excluding self), sorted by address for
// deterministic iteration (leader election and challenge targeting both
// depend on a stable peer ordering).
func (r *Registry) Copy() []Record {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Record, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })

	return out
}

// Addresses returns the known validator set including self, sorted
// ascending — the list Consensus's leader election operates over.
func (r *Registry) Addresses() []crypto.Address {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]crypto.Address, 0, len(r.records)+1)
	out = append(out, r.self)
	for addr := range r.records {
		out = append(out, addr)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })

	return out
}

// Peers returns every known peer plus self as PeerInfo tuples, sorted by
// address, for the /peers endpoint.
func (r *Registry) Peers(selfPubKey crypto.PublicKey) []PeerInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]PeerInfo, 0, len(r.records)+1)
	out = append(out, PeerInfo{Address: r.self, URL: r.selfURL, PublicKeyHash: crypto.HashHex([]byte(selfPubKey))})
	for _, rec := range r.records {
		out = append(out, PeerInfo{Address: rec.Address, URL: rec.URL, PublicKeyHash: rec.PublicKeyHash})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })

	return out
}

// URLFor returns the URL registered for addr, if known.
func (r *Registry) URLFor(addr crypto.Address) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[addr]
	return rec.URL, ok
}

// Count returns the number of known peers, excluding self.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.records)
}

// =============================================================================
// Gossip.

// GossipPeer is the wire-safe subset of Record exchanged during gossip:
// LastSeen and Effectiveness are local bookkeeping and are never carried
// over the wire.
type GossipPeer struct {
	Address   crypto.Address   `json:"address"`
	URL       string           `json:"url"`
	PublicKey crypto.PublicKey `json:"publicKey"`
}

// Snapshot returns the current registry, plus self, as a GossipPeer list
// suitable for inclusion in an outbound gossip message.
func (r *Registry) Snapshot(selfPubKey crypto.PublicKey) []GossipPeer {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]GossipPeer, 0, len(r.records)+1)
	out = append(out, GossipPeer{Address: r.self, URL: r.selfURL, PublicKey: selfPubKey})
	for _, rec := range r.records {
		out = append(out, GossipPeer{Address: rec.Address, URL: rec.URL, PublicKey: rec.PublicKey})
	}

	return out
}

// Fold merges a gossip message's peer list into the registry: every entry
// not already known (and not self) is announced.
func (r *Registry) Fold(peers []GossipPeer) {
	for _, p := range peers {
		if p.Address == r.self || p.Address == "" {
			continue
		}
		r.Announce(p.Address, p.URL, p.PublicKey)
	}
}

// ChainView is the narrow interface PeerMesh uses to compare and adopt a
// peer's chain during a gossip round, implemented by the node's Ledger.
// This is the seam that breaks the PeerMesh/Ledger/Consensus cyclic
// dependency: PeerMesh never imports consensus or holds a *database.Ledger
// directly.
type ChainView interface {
	Length() int
	ReplaceChain(chain []database.Block) error
}

// GossipRound visits every known peer once via transport, exchanging peer
// lists and, with probability gossipProbability, comparing chain lengths
// and adopting a strictly longer peer chain. Transport errors on any
// per-peer call are tolerated and only affect liveness, never escalated.
//
// Every peer's exchange runs on its own goroutine so one slow or
// unreachable peer can never stall the others; post is used to hand the
// resulting Registry/ChainView mutations (and the gossipProbability dice
// roll) back to the caller's serialized event loop, matching how the
// rest of Worker's broadcast paths keep blocking I/O off that loop.
func (r *Registry) GossipRound(transport *Transport, selfPubKey crypto.PublicKey, view ChainView, gossipProbability float64, rng *rand.Rand, post func(func())) {
	for _, rec := range r.Copy() {
		rec := rec

		go func() {
			resp, err := transport.SendGossip(rec.URL, GossipRequest{Peers: r.Snapshot(selfPubKey)})
			if err != nil {
				r.evHandler("peer: GossipRound: WARNING: peer[%s]: %s", rec.Address, err)
				return
			}

			post(func() {
				r.Touch(rec.Address)
				r.Fold(resp.Peers)

				if rng.Float64() >= gossipProbability {
					return
				}

				go r.fetchAndAdoptChain(transport, rec, view, post)
			})
		}()
	}
}

// fetchAndAdoptChain issues the blocking chain fetch on its own goroutine
// and posts the resulting compare-and-adopt decision back onto the
// caller's event loop.
func (r *Registry) fetchAndAdoptChain(transport *Transport, rec Record, view ChainView, post func(func())) {
	chainResp, err := transport.RequestChain(rec.URL)
	if err != nil {
		r.evHandler("peer: GossipRound: WARNING: chain fetch peer[%s]: %s", rec.Address, err)
		return
	}

	post(func() {
		if len(chainResp.Chain) > view.Length() {
			if err := view.ReplaceChain(chainResp.Chain); err != nil {
				r.evHandler("peer: GossipRound: WARNING: chain replace peer[%s]: %s", rec.Address, err)
				return
			}
			r.evHandler("peer: GossipRound: adopted longer chain from peer[%s] len[%d]", rec.Address, len(chainResp.Chain))
		}
	})
}
