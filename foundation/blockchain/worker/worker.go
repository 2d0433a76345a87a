// Package worker drives the single-threaded cooperative event loop of §5:
// one goroutine serializes every mutation of Ledger, Consensus,
// ReceiptEngine, and PeerMesh state; timers and network I/O run on their
// own goroutines and post closures into the loop's queue rather than
// touching state directly.
package worker

import (
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lumenledger/node/foundation/blockchain/builder"
	"github.com/lumenledger/node/foundation/blockchain/consensus"
	"github.com/lumenledger/node/foundation/blockchain/crypto"
	"github.com/lumenledger/node/foundation/blockchain/database"
	"github.com/lumenledger/node/foundation/blockchain/mempool"
	"github.com/lumenledger/node/foundation/blockchain/peer"
	"github.com/lumenledger/node/foundation/blockchain/receipt"
)

// Config holds the epoch-cycle tunables, separate from consensus.Params so
// the worker can own the timers while Consensus owns only state.
type Config struct {
	EpochDuration    time.Duration
	GossipInterval   time.Duration
	ChallengeTimeout time.Duration
	RewardPool       uint64
}

// DefaultConfig returns the default epoch cycle timing.
func DefaultConfig() Config {
	return Config{
		EpochDuration:    10 * time.Second,
		GossipInterval:   peer.DefaultGossipInterval,
		ChallengeTimeout: 4 * time.Second,
		RewardPool:       100,
	}
}

// Worker is the node's event loop: it owns no state itself but serializes
// every call into Ledger, Consensus, ReceiptEngine, PeerMesh, and Mempool.
type Worker struct {
	cfg Config

	name     string
	self     crypto.Address
	selfURL  string
	selfPub  crypto.PublicKey
	selfPriv crypto.PrivateKey

	ledger    *database.Ledger
	consensus *consensus.Engine
	receipts  *receipt.Engine
	mempool   *mempool.Mempool
	peers     *peer.Registry
	transport *peer.Transport

	inbound chan func()
	shut    chan struct{}
	wg      sync.WaitGroup

	rng *rand.Rand

	evHandler func(v string, args ...any)
}

// New constructs a Worker. Start must be called to begin the event loop and
// its background timers.
func New(
	cfg Config,
	name string,
	self crypto.Address,
	selfURL string,
	selfPub crypto.PublicKey,
	selfPriv crypto.PrivateKey,
	ledger *database.Ledger,
	consensusEngine *consensus.Engine,
	receipts *receipt.Engine,
	pool *mempool.Mempool,
	peers *peer.Registry,
	transport *peer.Transport,
	evHandler func(v string, args ...any),
) *Worker {
	if evHandler == nil {
		evHandler = func(string, ...any) {}
	}

	return &Worker{
		cfg:       cfg,
		name:      name,
		self:      self,
		selfURL:   selfURL,
		selfPub:   selfPub,
		selfPriv:  selfPriv,
		ledger:    ledger,
		consensus: consensusEngine,
		receipts:  receipts,
		mempool:   pool,
		peers:     peers,
		transport: transport,
		inbound:   make(chan func(), 256),
		shut:      make(chan struct{}),
		rng:       rand.New(rand.NewSource(1)),
		evHandler: evHandler,
	}
}

// Ledger exposes the node's Ledger for read-only query handlers. Ledger's
// own mutex protects concurrent reads against the event loop's mutations.
func (w *Worker) Ledger() *database.Ledger {
	return w.ledger
}

// Peers returns the known peer set, including self, for the /peers
// endpoint. PeerMesh's own registry mutex protects this read against the
// event loop's mutations.
func (w *Worker) Peers() []peer.PeerInfo {
	return w.peers.Peers(w.selfPub)
}

// Post queues fn to run on the loop goroutine without waiting for it to
// complete. Used by timers and fire-and-forget broadcasts.
func (w *Worker) Post(fn func()) {
	select {
	case w.inbound <- fn:
	case <-w.shut:
	}
}

// Call queues fn and blocks until it has run on the loop goroutine,
// returning its result through the closure. Used by inbound HTTP handlers
// that must answer synchronously.
func (w *Worker) Call(fn func()) {
	done := make(chan struct{})
	w.Post(func() {
		fn()
		close(done)
	})
	<-done
}

// Start launches the loop goroutine and the epoch/gossip timers.
func (w *Worker) Start() {
	w.wg.Add(1)
	go w.loop()

	w.wg.Add(1)
	go w.runEpochTimer()

	w.wg.Add(1)
	go w.runGossipTimer()

	w.Post(w.beginEpoch)
}

// Stop terminates the loop and waits for every background goroutine to
// exit.
func (w *Worker) Stop() {
	close(w.shut)
	w.wg.Wait()
}

func (w *Worker) loop() {
	defer w.wg.Done()

	for {
		select {
		case fn := <-w.inbound:
			fn()
		case <-w.shut:
			return
		}
	}
}

func (w *Worker) runEpochTimer() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.cfg.EpochDuration)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.Post(w.beginEpoch)
		case <-w.shut:
			return
		}
	}
}

func (w *Worker) runGossipTimer() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.cfg.GossipInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.gossipRound()
		case <-w.shut:
			return
		}
	}
}

// =============================================================================
// Epoch cycle.

// beginEpoch starts the next epoch's consensus round: issues challenges,
// and either builds a proposal (leader) or arms the view-change timeout
// (follower).
func (w *Worker) beginEpoch() {
	_, headHash := w.ledger.Head()
	epoch := w.nextEpoch()

	validators := w.peers.Addresses()
	leader, isLeader := w.consensus.BeginEpoch(epoch, validators)

	w.issueChallenges(epoch)

	if !isLeader {
		w.armViewChangeTimeout(epoch, 0)
		return
	}

	w.evHandler("worker: beginEpoch: leading epoch[%d] as[%s]", epoch, leader)
	w.proposeBlock(epoch, headHash)
}

func (w *Worker) nextEpoch() uint64 {
	if w.ledger.Length() == 0 {
		return 0
	}
	epoch, _ := w.ledger.Head()
	return epoch + 1
}

func (w *Worker) issueChallenges(epoch uint64) {
	targets := w.receipts.SelectTargets(w.peers.Addresses(), w.self, epoch)

	for _, target := range targets {
		url, ok := w.peers.URLFor(target)
		if !ok {
			continue
		}

		w.consensus.IncChallengesSent()

		go func(target crypto.Address, url string) {
			challengeID := uuid.NewString()
			resp, err := w.transport.SendChallenge(url, peer.ChallengeRequest{
				ChallengeID: challengeID,
				From:        w.self,
				Epoch:       epoch,
			})
			if err != nil {
				w.evHandler("worker: issueChallenges: WARNING: peer[%s]: %s", target, err)
				return
			}

			w.Post(func() {
				if err := w.receipts.VerifyAndAccept(resp.Receipt, resp.PublicKey); err != nil {
					w.evHandler("worker: issueChallenges: WARNING: verify peer[%s]: %s", target, err)
					return
				}
				w.consensus.IncReceiptsVerified()
				w.peers.Touch(target)
			})
		}(target, url)
	}
}

// proposeBlock assembles and broadcasts a candidate block as leader.
func (w *Worker) proposeBlock(epoch uint64, previousHash string) {
	validators := w.peers.Addresses()
	known := validators

	successful := make(map[crypto.Address]bool)
	pending := w.receipts.Pending()
	for _, r := range pending {
		if r.Success {
			successful[r.To] = true
		}
	}

	epochSeconds := w.cfg.EpochDuration.Seconds()
	updates := w.receipts.AdvanceEpoch(known, successful, epochSeconds)
	rewards := receipt.RewardDistribution(updates, w.cfg.RewardPool)

	block, err := builder.Build(
		epoch,
		previousHash,
		w.selfPub,
		w.selfPriv,
		time.Now().Unix(),
		w.ledger,
		w.mempool.PickAll(),
		pending,
		updates,
		rewards,
	)
	if err != nil {
		w.evHandler("worker: proposeBlock: WARNING: %s", err)
		return
	}

	w.consensus.BeginProposing(block)
	selfVote, err := database.SignVote(block, w.selfPriv)
	if err == nil {
		w.consensus.RecordVote(block.Hash, w.self, w.selfPub, selfVote)
	}

	n := len(validators)
	for _, rec := range w.peers.Copy() {
		go func(rec peer.Record) {
			resp, err := w.transport.SendPropose(rec.URL, peer.ProposeRequest{Block: block})
			if err != nil {
				w.evHandler("worker: proposeBlock: WARNING: peer[%s]: %s", rec.Address, err)
				return
			}

			w.Post(func() {
				w.handleProposeResponse(block.Hash, rec.Address, resp, n)
			})
		}(rec)
	}

	if w.consensus.HasQuorum(n) {
		w.commitActiveProposal(pending, block.Hash)
	}
}

func (w *Worker) handleProposeResponse(blockHash string, from crypto.Address, resp peer.ProposeResponse, n int) {
	if resp.Evidence != nil {
		w.consensus.ApplySlash(w.ledger, resp.Evidence.Leader)
		return
	}
	if len(resp.Vote) == 0 {
		return
	}

	if resp.Voter != "" {
		from = resp.Voter
	}

	voterPub := w.voterPublicKey(from)
	if voterPub == nil {
		return
	}

	if _, ok := w.consensus.ActiveProposal(); !ok {
		return
	}

	w.consensus.RecordVote(blockHash, from, voterPub, resp.Vote)

	if w.consensus.HasQuorum(n) {
		w.commitActiveProposal(w.receipts.Pending(), blockHash)
	}
}

// voterPublicKey resolves addr's public key, either self or a known peer.
func (w *Worker) voterPublicKey(addr crypto.Address) crypto.PublicKey {
	if addr == w.self {
		return w.selfPub
	}
	for _, rec := range w.peers.Copy() {
		if rec.Address == addr {
			return rec.PublicKey
		}
	}
	return nil
}

func (w *Worker) commitActiveProposal(includedReceipts []database.Receipt, blockHash string) {
	active, ok := w.consensus.ActiveProposal()
	if !ok || active.Hash != blockHash {
		return
	}

	if err := w.ledger.Append(active); err != nil {
		w.evHandler("worker: commitActiveProposal: WARNING: %s", err)
		return
	}

	w.receipts.Drain(active.Receipts)
	for _, tx := range active.Transactions {
		w.mempool.Delete(tx)
	}

	w.consensus.TransitionCommitted()

	for _, rec := range w.peers.Copy() {
		go func(rec peer.Record) {
			if err := w.transport.SendCommit(rec.URL, peer.CommitRequest{Block: active}); err != nil {
				w.evHandler("worker: commitActiveProposal: WARNING: peer[%s]: %s", rec.Address, err)
			}
		}(rec)
	}
}

// armViewChangeTimeout schedules a view-change trigger if no proposal
// arrives before the configured timeout.
func (w *Worker) armViewChangeTimeout(epoch, view uint64) {
	timeout := consensus.DefaultParams().ViewChangeTimeout
	time.AfterFunc(timeout, func() {
		w.Post(func() { w.triggerViewChange(epoch, view) })
	})
}

func (w *Worker) triggerViewChange(epoch, view uint64) {
	currentEpoch, currentView, phase, _ := w.consensus.Snapshot()
	if currentEpoch != epoch || currentView != view || phase != consensus.PhaseAwaitingProposal {
		return
	}

	_, _, newView := w.consensus.StartViewChange()
	validators := w.peers.Addresses()

	w.consensus.RecordViewChangeVote(epoch, newView, w.self, len(validators))

	for _, rec := range w.peers.Copy() {
		go func(rec peer.Record) {
			if err := w.transport.SendViewChange(rec.URL, peer.ViewChangeRequest{
				Epoch: epoch, OldView: view, NewView: newView, From: w.self,
			}); err != nil {
				w.evHandler("worker: triggerViewChange: WARNING: peer[%s]: %s", rec.Address, err)
			}
		}(rec)
	}
}

// gossipRound kicks off one round of peer gossip and lazy chain catch-up.
// GossipRound itself farms every peer exchange out to its own goroutine
// and posts mutations back onto the loop, so this call returns immediately
// without blocking the loop on any peer's network round trip.
func (w *Worker) gossipRound() {
	w.peers.GossipRound(w.transport, w.selfPub, ledgerChainView{w.ledger}, peer.DefaultGossipProbability, w.rng, w.Post)
	w.Post(func() { w.peers.Evict() })
}

// ledgerChainView adapts *database.Ledger to peer.ChainView, the seam that
// keeps PeerMesh from importing the consensus/database packages' mutation
// surface directly.
type ledgerChainView struct {
	ledger *database.Ledger
}

func (v ledgerChainView) Length() int { return v.ledger.Length() }

func (v ledgerChainView) ReplaceChain(chain []database.Block) error {
	return v.ledger.ReplaceChain(chain)
}
