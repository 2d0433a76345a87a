// Package consensus implements the leader-based BFT block-production
// protocol: deterministic leader election, the per-epoch/view state
// machine, vote tallying, view change, and equivocation detection with
// slashing. It owns the current epoch/view state, the single active
// proposed block, the vote tally, and the equivocation ledger; it never
// reaches onto the network itself — PeerMesh drives it through the exported
// Engine methods below and carries responses back out.
package consensus

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/lumenledger/node/foundation/blockchain/crypto"
	"github.com/lumenledger/node/foundation/blockchain/database"
)

// Phase is one state of the per-epoch, per-view state machine.
type Phase string

const (
	PhaseIdle             Phase = "Idle"
	PhaseAwaitingProposal Phase = "AwaitingProposal"
	PhaseProposing        Phase = "Proposing"
	PhaseVoting           Phase = "Voting"
	PhaseCommitted        Phase = "Committed"
	PhaseViewChange       Phase = "ViewChange"
)

// Errors returned by proposal validation, matching the ConsensusViolation /
// SignatureInvalid taxonomy of §7.
var (
	ErrWrongLeader       = errors.New("consensus: wrong leader for epoch/view")
	ErrHashMismatch      = errors.New("consensus: declared hash does not match content")
	ErrBadSignature      = errors.New("consensus: leader signature invalid")
	ErrPreviousHash      = errors.New("consensus: previousHash does not match local head")
	ErrTransactionFilter = errors.New("consensus: proposal contains a transaction that fails the block filter")
	ErrMalformedReceipt  = errors.New("consensus: receipt missing required field")
	ErrNotActiveProposal = errors.New("consensus: vote does not match the active proposal")
	ErrInsufficientQuorum = errors.New("consensus: vote count below quorum")
)

// Params holds the tunable protocol constants of §6.
type Params struct {
	EpochDuration      time.Duration
	ViewChangeTimeout  time.Duration
	QuorumFraction     float64
	SlashAmount        uint64
	EquivocationWindow uint64 // epochs retained
}

// DefaultParams returns the configuration-constant defaults.
func DefaultParams() Params {
	return Params{
		EpochDuration:      10 * time.Second,
		ViewChangeTimeout:  8 * time.Second,
		QuorumFraction:     2.0 / 3.0,
		SlashAmount:        500,
		EquivocationWindow: 10,
	}
}

// Counters are the health-endpoint-visible progress counters of §7.
type Counters struct {
	ViewChanges        uint64
	SlashEvents        uint64
	BlocksProduced     uint64
	BlocksCommitted    uint64
	ChallengesSent     uint64
	ChallengesReceived uint64
	ReceiptsVerified   uint64
}

// Evidence is the cryptographic proof of equivocation: two distinct blocks
// with the same (leader, epoch) both bearing a valid leaderSignature.
type Evidence struct {
	Leader crypto.Address
	Epoch  uint64
	First  database.Block
	Second database.Block
}

// viewChangeKey identifies one (epoch, newView) view-change tally.
type viewChangeKey struct {
	epoch   uint64
	newView uint64
}

// Engine is the consensus state machine for one node.
type Engine struct {
	mu sync.Mutex

	self   crypto.Address
	params Params

	epoch uint64
	view  uint64
	phase Phase

	active *database.Block

	// equivocation[epoch][blockHash] = block, retaining only the last
	// EquivocationWindow epochs.
	equivocation map[uint64]map[string]database.Block
	slashed      map[crypto.Address]bool

	viewChangeVotes map[viewChangeKey]map[crypto.Address]bool

	counters Counters

	evHandler func(v string, args ...any)
}

// NewEngine constructs a consensus Engine for self (this node's address).
func NewEngine(self crypto.Address, params Params, evHandler func(v string, args ...any)) *Engine {
	if evHandler == nil {
		evHandler = func(string, ...any) {}
	}

	return &Engine{
		self:            self,
		params:          params,
		phase:           PhaseIdle,
		equivocation:    make(map[uint64]map[string]database.Block),
		slashed:         make(map[crypto.Address]bool),
		viewChangeVotes: make(map[viewChangeKey]map[crypto.Address]bool),
		evHandler:       evHandler,
	}
}

// ElectLeader deterministically elects the leader for (epoch, view) from
// the sorted validator set: idx = first 4 bytes of hash("epoch-E-view-V")
// as a big-endian uint, mod |validators|.
func ElectLeader(epoch, view uint64, validators []crypto.Address) crypto.Address {
	if len(validators) == 0 {
		return ""
	}

	sorted := append([]crypto.Address{}, validators...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	key := fmt.Sprintf("epoch-%d-view-%d", epoch, view)
	digest := crypto.Hash([]byte(key))
	idx := binary.BigEndian.Uint32(digest[:4]) % uint32(len(sorted))

	return sorted[idx]
}

// BeginEpoch starts (epoch, view 0) against the given validator set,
// transitioning to Proposing if self is elected leader, else
// AwaitingProposal. Returns the elected leader and whether self is it.
func (e *Engine) BeginEpoch(epoch uint64, validators []crypto.Address) (leader crypto.Address, isLeader bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.epoch = epoch
	e.view = 0
	e.active = nil

	leader = ElectLeader(epoch, 0, validators)
	isLeader = leader == e.self

	if isLeader {
		e.phase = PhaseProposing
	} else {
		e.phase = PhaseAwaitingProposal
	}

	e.evHandler("consensus: BeginEpoch: epoch[%d] view[0] leader[%s] isLeader[%t]", epoch, leader, isLeader)

	return leader, isLeader
}

// Snapshot returns the current epoch, view, phase, and counters for the
// health endpoint.
func (e *Engine) Snapshot() (epoch, view uint64, phase Phase, counters Counters) {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.epoch, e.view, e.phase, e.counters
}

// IsSlashed reports whether addr has been slashed on this node's view of
// the chain.
func (e *Engine) IsSlashed(addr crypto.Address) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.slashed[addr]
}

// SlashedCount returns the number of distinct addresses slashed so far.
func (e *Engine) SlashedCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	return len(e.slashed)
}

// IncChallengesSent bumps the health-endpoint counter of challenges this
// node has issued to peers.
func (e *Engine) IncChallengesSent() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.counters.ChallengesSent++
}

// IncChallengesReceived bumps the health-endpoint counter of challenges
// this node has responded to.
func (e *Engine) IncChallengesReceived() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.counters.ChallengesReceived++
}

// IncReceiptsVerified bumps the health-endpoint counter of receipts this
// node has verified and accepted from a challenged peer.
func (e *Engine) IncReceiptsVerified() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.counters.ReceiptsVerified++
}

// =============================================================================
// Proposal validation and equivocation detection.

// ValidateProposal checks a received proposal against every follower rule
// of §4.6 except the transaction filter, which validateTransactions (a
// callback into BlockBuilder's filter, since Consensus does not own the
// Ledger) must confirm produces exactly the proposed list.
func (e *Engine) ValidateProposal(
	block database.Block,
	localHeadHash string,
	localHeadEpoch uint64,
	validators []crypto.Address,
	validateTransactions func([]database.Transaction) bool,
) error {
	if block.PreviousHash != localHeadHash && !AcceptableProvisional(block, localHeadEpoch) {
		return ErrPreviousHash
	}

	leader := ElectLeader(block.Epoch, e.viewFor(block.Epoch), validators)
	if block.Leader != leader {
		return ErrWrongLeader
	}

	wantHash, err := block.ComputeHash()
	if err != nil {
		return err
	}
	if wantHash != block.Hash {
		return ErrHashMismatch
	}

	if err := block.VerifyLeaderSignature(); err != nil {
		return ErrBadSignature
	}

	for _, r := range block.Receipts {
		if r.ChallengeID == "" || r.From == "" || r.To == "" || len(r.Signature) == 0 {
			return ErrMalformedReceipt
		}
	}

	if validateTransactions != nil && !validateTransactions(block.Transactions) {
		return ErrTransactionFilter
	}

	return nil
}

// viewFor returns the current view if block.Epoch matches the active
// epoch, else 0 (a proposal for a future epoch is always judged at view 0).
func (e *Engine) viewFor(epoch uint64) uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	if epoch == e.epoch {
		return e.view
	}
	return 0
}

// AcceptableProvisional implements the simplified catch-up rule: a block
// may be provisionally accepted to drive chain advancement when the local
// chain is strictly shorter and the block is the local head's immediate
// successor by epoch number. This is a known, flagged risk (see DESIGN.md)
// rather than a hardened fork-choice rule.
func AcceptableProvisional(block database.Block, localHeadEpoch uint64) bool {
	return block.Epoch == localHeadEpoch+1
}

// RecordProposal stores block in the equivocation ledger for block.Epoch
// and reports evidence if a distinct block with the same (leader, epoch)
// was already recorded. Epochs older than EquivocationWindow are pruned.
func (e *Engine) RecordProposal(block database.Block) *Evidence {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.pruneEquivocationLocked(block.Epoch)

	byHash, ok := e.equivocation[block.Epoch]
	if !ok {
		byHash = make(map[string]database.Block)
		e.equivocation[block.Epoch] = byHash
	}

	for hash, existing := range byHash {
		if existing.Leader == block.Leader && hash != block.Hash {
			return &Evidence{
				Leader: block.Leader,
				Epoch:  block.Epoch,
				First:  existing,
				Second: block,
			}
		}
	}

	byHash[block.Hash] = block
	return nil
}

func (e *Engine) pruneEquivocationLocked(currentEpoch uint64) {
	if currentEpoch < e.params.EquivocationWindow {
		return
	}
	floor := currentEpoch - e.params.EquivocationWindow
	for epoch := range e.equivocation {
		if epoch < floor {
			delete(e.equivocation, epoch)
		}
	}
}

// ApplySlash records addr as slashed (slashed-once semantics) and debits
// min(balance, slashAmount) from its ledger account. Returns the amount
// actually debited, or 0 if addr was already slashed.
func (e *Engine) ApplySlash(ledger *database.Ledger, addr crypto.Address) uint64 {
	e.mu.Lock()
	if e.slashed[addr] {
		e.mu.Unlock()
		return 0
	}
	e.slashed[addr] = true
	e.counters.SlashEvents++
	e.mu.Unlock()

	debited := ledger.Debit(addr, e.params.SlashAmount)
	e.evHandler("consensus: ApplySlash: addr[%s] debited[%d]", addr, debited)
	return debited
}

// =============================================================================
// Voting and commit.

// BeginProposing marks the active proposal this node (as leader) just
// built and broadcast, transitioning Proposing -> Voting.
func (e *Engine) BeginProposing(block database.Block) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.active = &block
	e.phase = PhaseVoting
	e.counters.BlocksProduced++
}

// ReceiveProposal marks a validated proposal from the elected leader as the
// active proposal, transitioning AwaitingProposal -> Voting, and returns
// this node's vote signature.
func (e *Engine) ReceiveProposal(block database.Block, sk crypto.PrivateKey) (crypto.Signature, error) {
	e.mu.Lock()
	e.active = &block
	e.phase = PhaseVoting
	e.mu.Unlock()

	return database.SignVote(block, sk)
}

// RecordVote adds voter's signature to the active proposal's vote tally if
// the proposal is currently the active one in Voting and the signature
// verifies. Returns the current vote count and whether the vote was
// accepted.
func (e *Engine) RecordVote(blockHash string, voter crypto.Address, voterPub crypto.PublicKey, sig crypto.Signature) (int, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.phase != PhaseVoting || e.active == nil || e.active.Hash != blockHash {
		return 0, false
	}
	if !e.active.VerifyVote(voterPub, sig) {
		return len(e.active.Votes), false
	}

	if e.active.Votes == nil {
		e.active.Votes = make(map[crypto.Address]crypto.Signature)
	}
	e.active.Votes[voter] = sig

	return len(e.active.Votes), true
}

// HasQuorum reports whether the active proposal has collected enough votes
// to commit for a validator set of size n.
func (e *Engine) HasQuorum(n int) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.active == nil {
		return false
	}
	return e.active.HasQuorum(n, e.params.QuorumFraction)
}

// ActiveProposal returns a copy of the currently active proposal, if any.
func (e *Engine) ActiveProposal() (database.Block, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.active == nil {
		return database.Block{}, false
	}
	return *e.active, true
}

// TransitionCommitted finalizes the epoch: Voting -> Committed, bumping the
// commit counter and clearing the active proposal.
func (e *Engine) TransitionCommitted() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.phase = PhaseCommitted
	e.counters.BlocksCommitted++
	e.active = nil
}

// =============================================================================
// View change.

// StartViewChange transitions AwaitingProposal -> ViewChange after the view
// change timeout elapses with no proposal, and returns the view-change
// message this node should broadcast.
func (e *Engine) StartViewChange() (epoch, oldView, newView uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.phase = PhaseViewChange
	oldView = e.view
	newView = e.view + 1

	return e.epoch, oldView, newView
}

// RecordViewChangeVote tallies a view-change message for (epoch, newView)
// from addr. Returns whether quorum (ceil(n*q)) has now been reached for a
// validator set of size n.
func (e *Engine) RecordViewChangeVote(epoch, newView uint64, from crypto.Address, n int) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	key := viewChangeKey{epoch: epoch, newView: newView}
	votes, ok := e.viewChangeVotes[key]
	if !ok {
		votes = make(map[crypto.Address]bool)
		e.viewChangeVotes[key] = votes
	}
	votes[from] = true

	return len(votes) >= database.QuorumSize(n, e.params.QuorumFraction)
}

// AdvanceView transitions ViewChange -> AwaitingProposal (or Proposing if
// self is elected) at the agreed newView, once quorum has been reached.
func (e *Engine) AdvanceView(epoch, newView uint64, validators []crypto.Address) (leader crypto.Address, isLeader bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.epoch = epoch
	e.view = newView
	e.active = nil
	e.counters.ViewChanges++

	leader = ElectLeader(epoch, newView, validators)
	isLeader = leader == e.self

	if isLeader {
		e.phase = PhaseProposing
	} else {
		e.phase = PhaseAwaitingProposal
	}

	e.evHandler("consensus: AdvanceView: epoch[%d] view[%d] leader[%s] isLeader[%t]", epoch, newView, leader, isLeader)

	return leader, isLeader
}
