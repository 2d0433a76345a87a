// Package receipt implements the ReceiptEngine: per-epoch issuance of
// challenges to peers, verification of the signed receipts they return,
// and the resulting effectiveness score update for every known address.
package receipt

import (
	"errors"
	"math"
	"sort"
	"sync"

	"github.com/lumenledger/node/foundation/blockchain/crypto"
	"github.com/lumenledger/node/foundation/blockchain/database"
)

// ErrUnknownResponder is returned when a receipt cannot be verified because
// the responder's public key was never supplied.
var ErrUnknownResponder = errors.New("receipt: unknown responder public key")

// Default tuning constants, overridable by Config.
const (
	DefaultChallengesPerEpoch = 2
	DefaultChallengeTimeout   = 4 // seconds
	DefaultRampConstantDays   = 40.0
	DefaultDecayConstantDays  = 7.0
)

// Config holds the ReceiptEngine's tunable parameters.
type Config struct {
	ChallengesPerEpoch int
	RampConstantDays   float64
	DecayConstantDays  float64
}

// DefaultConfig returns the default tuning constants.
func DefaultConfig() Config {
	return Config{
		ChallengesPerEpoch: DefaultChallengesPerEpoch,
		RampConstantDays:   DefaultRampConstantDays,
		DecayConstantDays:  DefaultDecayConstantDays,
	}
}

// Engine owns the pending receipt set and the local effectiveness estimate,
// keyed by address so identity rotation never resets an equivalent key's
// score.
type Engine struct {
	mu            sync.RWMutex
	cfg           Config
	pending       []database.Receipt
	pendingKeys   map[string]bool
	effectiveness map[crypto.Address]float64
	evHandler     func(v string, args ...any)
}

// New constructs a ReceiptEngine.
func New(cfg Config, evHandler func(v string, args ...any)) *Engine {
	if evHandler == nil {
		evHandler = func(string, ...any) {}
	}

	return &Engine{
		cfg:           cfg,
		pendingKeys:   make(map[string]bool),
		effectiveness: make(map[crypto.Address]float64),
		evHandler:     evHandler,
	}
}

// SelectTargets picks up to cfg.ChallengesPerEpoch peers from the known
// validator set (excluding self) for the given epoch, deterministically:
// the set is sorted ascending, then a window of size C is taken starting
// at epoch mod len(set), wrapping around — a round-robin across epochs
// that every honest node computes identically.
func (e *Engine) SelectTargets(knownPeers []crypto.Address, self crypto.Address, epoch uint64) []crypto.Address {
	candidates := make([]crypto.Address, 0, len(knownPeers))
	for _, p := range knownPeers {
		if p != self {
			candidates = append(candidates, p)
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i] < candidates[j] })

	if len(candidates) == 0 {
		return nil
	}

	count := e.cfg.ChallengesPerEpoch
	if count > len(candidates) {
		count = len(candidates)
	}

	start := int(epoch % uint64(len(candidates)))

	targets := make([]crypto.Address, 0, count)
	for i := 0; i < count; i++ {
		targets = append(targets, candidates[(start+i)%len(candidates)])
	}

	return targets
}

// WorkResult computes the bounded pseudo-random wire-contract work result a
// responder must return alongside a receipt: deterministic and cheap, so
// every implementation agrees without needing to exchange the computation.
func WorkResult() uint64 {
	var r uint64
	for i := uint64(0); i < 10000; i++ {
		r = (r*31 + i) % 1_000_000_007
	}
	return r
}

// BuildReceipt constructs and signs a Receipt as the responder to a
// challenge.
func BuildReceipt(challengeID string, from, to crypto.Address, epoch uint64, latencyMs, timestamp int64, sk crypto.PrivateKey) (database.Receipt, error) {
	r := database.Receipt{
		ChallengeID: challengeID,
		From:        from,
		To:          to,
		Epoch:       epoch,
		Success:     true,
		LatencyMs:   latencyMs,
		Timestamp:   timestamp,
		WorkResult:  WorkResult(),
	}

	return database.Sign(r, sk)
}

// VerifyAndAccept validates a receipt returned by a responder and, on
// success, adds it to the pending set. A receipt whose signature fails to
// verify is dropped and never counted toward effectiveness.
func (e *Engine) VerifyAndAccept(r database.Receipt, responderPubKey crypto.PublicKey) error {
	if err := r.Validate(responderPubKey); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	key := r.ChallengeID + ":" + string(r.To)
	if e.pendingKeys[key] {
		return nil
	}

	e.pendingKeys[key] = true
	e.pending = append(e.pending, r)

	e.evHandler("receipt: VerifyAndAccept: accepted challenge[%s] from[%s] to[%s]", r.ChallengeID, r.From, r.To)

	return nil
}

// Pending returns a snapshot of the currently pending (unblocked) receipts.
func (e *Engine) Pending() []database.Receipt {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]database.Receipt, len(e.pending))
	copy(out, e.pending)
	return out
}

// Drain removes the given receipts from the pending set, e.g. after they
// have been included in a committed block.
func (e *Engine) Drain(included []database.Receipt) {
	e.mu.Lock()
	defer e.mu.Unlock()

	drop := make(map[string]bool, len(included))
	for _, r := range included {
		drop[r.ChallengeID+":"+string(r.To)] = true
	}

	kept := e.pending[:0]
	for _, r := range e.pending {
		key := r.ChallengeID + ":" + string(r.To)
		if drop[key] {
			delete(e.pendingKeys, key)
			continue
		}
		kept = append(kept, r)
	}
	e.pending = kept
}

// Effectiveness returns the current effectiveness estimate for addr,
// defaulting to 0 for an address never observed.
func (e *Engine) Effectiveness(addr crypto.Address) float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.effectiveness[addr]
}

// SetEffectiveness seeds or overrides an address's effectiveness, used at
// bootstrap.
func (e *Engine) SetEffectiveness(addr crypto.Address, value float64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.effectiveness[addr] = clamp01(value)
}

// AdvanceEpoch recomputes every known address's effectiveness for an epoch
// of duration epochSeconds: ramped upward for addresses that produced a
// successful receipt this epoch, decayed otherwise. Returns the resulting
// full effectiveness map (a copy) for use as the block's
// effectivenessUpdates.
func (e *Engine) AdvanceEpoch(known []crypto.Address, successful map[crypto.Address]bool, epochSeconds float64) map[crypto.Address]float64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	deltaDays := epochSeconds / 86400

	updates := make(map[crypto.Address]float64, len(known))
	for _, addr := range known {
		current := e.effectiveness[addr]

		var next float64
		if successful[addr] {
			next = ramped(current, deltaDays, e.cfg.RampConstantDays)
		} else {
			next = decayed(current, deltaDays, e.cfg.DecayConstantDays)
		}

		next = clamp01(next)
		e.effectiveness[addr] = next
		updates[addr] = next
	}

	return updates
}

// ramped computes e' = 1 - (1-e)*exp(-Δd/R).
func ramped(e, deltaDays, ramp float64) float64 {
	return 1 - (1-e)*math.Exp(-deltaDays/ramp)
}

// decayed computes e' = e*exp(-Δd/D).
func decayed(e, deltaDays, decay float64) float64 {
	return e * math.Exp(-deltaDays/decay)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// RewardDistribution splits rewardPool proportionally to each address's
// effectiveness in updates. If the total effectiveness is zero, no rewards
// are emitted.
func RewardDistribution(updates map[crypto.Address]float64, rewardPool uint64) map[crypto.Address]uint64 {
	var total float64
	for _, e := range updates {
		total += e
	}
	if total == 0 {
		return nil
	}

	rewards := make(map[crypto.Address]uint64, len(updates))
	for addr, e := range updates {
		share := uint64(float64(rewardPool) * e / total)
		if share > 0 {
			rewards[addr] = share
		}
	}

	return rewards
}
