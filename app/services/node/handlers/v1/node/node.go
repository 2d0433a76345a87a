// Package node maintains the group of handlers for node to node gossip and
// consensus messages: the wire surface Transport dials into on every peer.
package node

import (
	"context"
	"net/http"

	"github.com/lumenledger/node/business/web/errs"
	"github.com/lumenledger/node/foundation/blockchain/peer"
	"github.com/lumenledger/node/foundation/blockchain/worker"
	"github.com/lumenledger/node/foundation/web"
	"go.uber.org/zap"
)

// Handlers manages the set of node-to-node endpoints.
type Handlers struct {
	Log    *zap.SugaredLogger
	Worker *worker.Worker
}

// Announce handles a bootstrap handshake from a joining peer.
func (h Handlers) Announce(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	var req peer.AnnounceRequest
	if err := web.Decode(r, &req); err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	resp := h.Worker.HandleAnnounce(req)
	return web.Respond(ctx, w, resp, http.StatusOK)
}

// Gossip handles a peer-list exchange.
func (h Handlers) Gossip(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	var req peer.GossipRequest
	if err := web.Decode(r, &req); err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	resp := h.Worker.HandleGossip(req)
	return web.Respond(ctx, w, resp, http.StatusOK)
}

// Challenge handles a ReceiptEngine latency challenge.
func (h Handlers) Challenge(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	var req peer.ChallengeRequest
	if err := web.Decode(r, &req); err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	resp := h.Worker.HandleChallenge(req)
	return web.Respond(ctx, w, resp, http.StatusOK)
}

// Propose handles a leader's candidate block.
func (h Handlers) Propose(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	var req peer.ProposeRequest
	if err := web.Decode(r, &req); err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	resp := h.Worker.HandlePropose(req.Block)
	return web.Respond(ctx, w, resp, http.StatusOK)
}

// Vote handles an asynchronous vote delivery.
func (h Handlers) Vote(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	var req peer.VoteRequest
	if err := web.Decode(r, &req); err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	h.Worker.HandleVote(req)
	return web.Respond(ctx, w, nil, http.StatusNoContent)
}

// Commit handles a quorum-committed block.
func (h Handlers) Commit(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	var req peer.CommitRequest
	if err := web.Decode(r, &req); err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	if err := h.Worker.HandleCommit(req.Block); err != nil {
		return errs.NewTrusted(err, http.StatusNotAcceptable)
	}
	return web.Respond(ctx, w, nil, http.StatusNoContent)
}

// ViewChange handles one peer's vote to advance the view.
func (h Handlers) ViewChange(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	var req peer.ViewChangeRequest
	if err := web.Decode(r, &req); err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	h.Worker.HandleViewChange(req)
	return web.Respond(ctx, w, nil, http.StatusNoContent)
}

// Transaction handles a peer-forwarded mempool transaction.
func (h Handlers) Transaction(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	var req peer.TransactionRequest
	if err := web.Decode(r, &req); err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	if err := h.Worker.HandleTransaction(req.Transaction); err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}
	return web.Respond(ctx, w, nil, http.StatusNoContent)
}

// maxChainPage bounds /chain and /headers to the last 100 blocks per §6.
const maxChainPage = 100

// Chain returns the last 100 committed blocks, used by a catching-up peer.
func (h Handlers) Chain(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	resp := peer.ChainResponse{Chain: h.Worker.Ledger().CopyChain(maxChainPage)}
	return web.Respond(ctx, w, resp, http.StatusOK)
}

// Headers returns the last 100 committed block headers.
func (h Handlers) Headers(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	resp := peer.HeadersResponse{Headers: h.Worker.Ledger().Headers(maxChainPage)}
	return web.Respond(ctx, w, resp, http.StatusOK)
}

// Peers returns the known peer set, including self.
func (h Handlers) Peers(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	resp := peer.PeersResponse{Peers: h.Worker.Peers()}
	return web.Respond(ctx, w, resp, http.StatusOK)
}

// Health reports this node's liveness and consensus progress.
func (h Handlers) Health(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	resp := h.Worker.Health()
	return web.Respond(ctx, w, resp, http.StatusOK)
}
