package worker

import (
	"time"

	"github.com/lumenledger/node/foundation/blockchain/builder"
	"github.com/lumenledger/node/foundation/blockchain/consensus"
	"github.com/lumenledger/node/foundation/blockchain/crypto"
	"github.com/lumenledger/node/foundation/blockchain/database"
	"github.com/lumenledger/node/foundation/blockchain/peer"
	"github.com/lumenledger/node/foundation/blockchain/receipt"
)

// HandleAnnounce processes a bootstrap announcement, folding the announcer
// into the registry and replying with this node's identity and peer list.
func (w *Worker) HandleAnnounce(req peer.AnnounceRequest) peer.AnnounceResponse {
	var resp peer.AnnounceResponse
	w.Call(func() {
		w.peers.Announce(req.Address, req.URL, req.PublicKey)
		resp = peer.AnnounceResponse{
			Address:   w.self,
			URL:       w.selfURL,
			PublicKey: w.selfPub,
			Peers:     w.peers.Snapshot(w.selfPub),
		}
	})
	return resp
}

// HandleGossip folds the sender's peer list into the registry and replies
// with this node's own list.
func (w *Worker) HandleGossip(req peer.GossipRequest) peer.GossipResponse {
	var resp peer.GossipResponse
	w.Call(func() {
		w.peers.Fold(req.Peers)
		resp = peer.GossipResponse{Peers: w.peers.Snapshot(w.selfPub)}
	})
	return resp
}

// HandleChallenge computes this node's response to a ReceiptEngine
// challenge: a signed receipt plus the public key needed to verify it.
func (w *Worker) HandleChallenge(req peer.ChallengeRequest) peer.ChallengeResponse {
	var resp peer.ChallengeResponse
	w.Call(func() {
		w.consensus.IncChallengesReceived()

		r, err := receipt.BuildReceipt(req.ChallengeID, req.From, w.self, req.Epoch, 0, time.Now().Unix(), w.selfPriv)
		if err != nil {
			return
		}
		resp = peer.ChallengeResponse{Receipt: r, PublicKey: w.selfPub}
	})
	return resp
}

// HandlePropose validates an inbound proposal, checks it for equivocation,
// and either votes for it or returns evidence of the leader's double
// proposal.
func (w *Worker) HandlePropose(block database.Block) peer.ProposeResponse {
	var resp peer.ProposeResponse
	w.Call(func() {
		_, headHash := w.ledger.Head()
		validators := w.peers.Addresses()

		validateTx := func(txs []database.Transaction) bool {
			accepted, _ := acceptedMatches(w.ledger, txs)
			return accepted
		}

		if err := w.consensus.ValidateProposal(block, headHash, currentEpoch(w.ledger), validators, validateTx); err != nil {
			resp = peer.ProposeResponse{Error: err.Error()}
			return
		}

		if ev := w.consensus.RecordProposal(block); ev != nil {
			resp = peer.ProposeResponse{Evidence: &ev.Second}
			return
		}

		sig, err := w.consensus.ReceiveProposal(block, w.selfPriv)
		if err != nil {
			resp = peer.ProposeResponse{Error: err.Error()}
			return
		}

		w.armViewChangeTimeout(block.Epoch, 0)
		w.relayVoteToLeader(block, sig)

		resp = peer.ProposeResponse{Vote: sig, Voter: w.self}
	})
	return resp
}

// relayVoteToLeader pushes this follower's vote to the leader over the
// standalone vote channel as well as the synchronous propose response, so
// the leader still reaches quorum if the response is lost in transit.
func (w *Worker) relayVoteToLeader(block database.Block, sig crypto.Signature) {
	url, ok := w.peers.URLFor(block.Leader)
	if !ok {
		return
	}

	go func() {
		if err := w.transport.SendVote(url, peer.VoteRequest{
			BlockHash:   block.Hash,
			Voter:       w.self,
			VoterPubKey: w.selfPub,
			Signature:   sig,
		}); err != nil {
			w.evHandler("worker: relayVoteToLeader: WARNING: leader[%s]: %s", block.Leader, err)
		}
	}()
}

// HandleVote records an asynchronously delivered vote against the active
// proposal.
func (w *Worker) HandleVote(req peer.VoteRequest) {
	w.Call(func() {
		n := len(w.peers.Addresses())
		w.consensus.RecordVote(req.BlockHash, req.Voter, req.VoterPubKey, req.Signature)
		if w.consensus.HasQuorum(n) {
			w.commitActiveProposal(w.receipts.Pending(), req.BlockHash)
		}
	})
}

// HandleCommit accepts a leader's quorum-committed block.
func (w *Worker) HandleCommit(block database.Block) error {
	var outerErr error
	w.Call(func() {
		n := len(w.peers.Addresses())
		if !block.HasQuorum(n, consensus.DefaultParams().QuorumFraction) {
			outerErr = consensus.ErrInsufficientQuorum
			return
		}
		if err := block.VerifyLeaderSignature(); err != nil {
			outerErr = err
			return
		}

		if err := w.ledger.Append(block); err != nil {
			outerErr = err
			return
		}

		w.receipts.Drain(block.Receipts)
		for _, tx := range block.Transactions {
			w.mempool.Delete(tx)
		}

		w.consensus.TransitionCommitted()
	})
	return outerErr
}

// HandleViewChange tallies a view-change vote, advancing the view once
// quorum is reached.
func (w *Worker) HandleViewChange(req peer.ViewChangeRequest) {
	w.Call(func() {
		validators := w.peers.Addresses()
		reached := w.consensus.RecordViewChangeVote(req.Epoch, req.NewView, req.From, len(validators))
		if !reached {
			return
		}

		leader, isLeader := w.consensus.AdvanceView(req.Epoch, req.NewView, validators)
		if isLeader {
			_, headHash := w.ledger.Head()
			w.proposeBlock(req.Epoch, headHash)
			return
		}
		w.evHandler("worker: HandleViewChange: new leader[%s] at epoch[%d] view[%d]", leader, req.Epoch, req.NewView)
		w.armViewChangeTimeout(req.Epoch, req.NewView)
	})
}

// HandleTransaction admits a peer-forwarded transaction into the mempool.
func (w *Worker) HandleTransaction(tx database.Transaction) error {
	var outerErr error
	w.Call(func() {
		if !tx.IsCoinbase() {
			if err := tx.Validate(); err != nil {
				outerErr = err
				return
			}
		}
		w.mempool.Upsert(tx)
	})
	return outerErr
}

// Health reports node liveness and consensus progress for the health
// endpoint.
func (w *Worker) Health() peer.HealthResponse {
	var resp peer.HealthResponse
	w.Call(func() {
		epoch, view, phase, counters := w.consensus.Snapshot()
		account := w.ledger.AccountOf(w.self)

		resp = peer.HealthResponse{
			Status:            "alive",
			Name:              w.name,
			Address:           w.self,
			Epoch:             epoch,
			View:              view,
			Phase:             string(phase),
			ChainLength:       w.ledger.Length(),
			Peers:             w.peers.Count(),
			Effectiveness:     w.receipts.Effectiveness(w.self),
			Balance:           account.Balance,
			SlashedNodesCount: w.consensus.SlashedCount(),
			Stats: peer.HealthStats{
				ViewChanges:        counters.ViewChanges,
				SlashEvents:        counters.SlashEvents,
				BlocksProduced:     counters.BlocksProduced,
				BlocksCommitted:    counters.BlocksCommitted,
				ChallengesSent:     counters.ChallengesSent,
				ChallengesReceived: counters.ChallengesReceived,
				ReceiptsVerified:   counters.ReceiptsVerified,
			},
		}
	})
	return resp
}

// SubmitTransaction admits a locally-received wallet transaction and
// forwards it to every known peer.
func (w *Worker) SubmitTransaction(tx database.Transaction) error {
	if err := tx.Validate(); err != nil {
		return err
	}

	w.Call(func() {
		w.mempool.Upsert(tx)
	})

	for _, rec := range w.peers.Copy() {
		go func(rec peer.Record) {
			if err := w.transport.SendTransaction(rec.URL, peer.TransactionRequest{Transaction: tx}); err != nil {
				w.evHandler("worker: SubmitTransaction: WARNING: peer[%s]: %s", rec.Address, err)
			}
		}(rec)
	}

	return nil
}

func acceptedMatches(ledger *database.Ledger, proposed []database.Transaction) (bool, error) {
	accepted, _ := builder.FilterTransactions(ledger, proposed)
	if len(accepted) != len(proposed) {
		return false, nil
	}
	for i := range accepted {
		if string(accepted[i].Signature) != string(proposed[i].Signature) {
			return false, nil
		}
	}
	return true, nil
}

func currentEpoch(ledger *database.Ledger) uint64 {
	epoch, _ := ledger.Head()
	return epoch
}
