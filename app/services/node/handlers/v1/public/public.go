// Package public maintains the group of handlers exposed to wallets and
// other external clients: transaction submission, balance and proof
// lookups, and the websocket event feed.
package public

import (
	"context"
	"net/http"

	"github.com/lumenledger/node/business/web/errs"
	"github.com/lumenledger/node/foundation/blockchain/crypto"
	"github.com/lumenledger/node/foundation/blockchain/database"
	"github.com/lumenledger/node/foundation/blockchain/peer"
	"github.com/lumenledger/node/foundation/blockchain/worker"
	"github.com/lumenledger/node/foundation/events"
	"github.com/lumenledger/node/foundation/web"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Handlers manages the set of wallet-facing endpoints.
type Handlers struct {
	Log    *zap.SugaredLogger
	Worker *worker.Worker
	Evts   *events.Events
	WS     websocket.Upgrader
}

// SubmitTransaction admits a wallet-submitted transaction into the mempool
// and forwards it to every known peer.
func (h Handlers) SubmitTransaction(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	var tx database.Transaction
	if err := web.Decode(r, &tx); err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	if err := h.Worker.SubmitTransaction(tx); err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	resp := struct {
		Status string `json:"status"`
	}{Status: "transaction accepted"}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// Balance returns one account's public balance and nonce.
func (h Handlers) Balance(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	addr := crypto.Address(web.Param(r, "account"))

	account := h.Worker.Ledger().AccountOf(addr)
	resp := peer.BalanceResponse{
		Address: account.Address,
		Balance: account.Balance,
		Nonce:   account.Nonce,
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// Proof returns the committed block containing txHash and the Merkle
// sibling path proving its inclusion.
func (h Handlers) Proof(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	txHash := web.Param(r, "txHash")

	block, siblings, found, err := h.Worker.Ledger().ProofFor(txHash)
	if err != nil {
		return errs.NewTrusted(err, http.StatusInternalServerError)
	}
	if !found {
		return errs.NewTrusted(database.ErrUnknownBlock, http.StatusNotFound)
	}

	resp := peer.ProofResponse{Block: block, Proof: siblings}
	return web.Respond(ctx, w, resp, http.StatusOK)
}

// maxChainPage bounds /chain and /headers to the last 100 blocks per §6.
const maxChainPage = 100

// Chain returns the last 100 committed blocks.
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
	return web.Respond(ctx, w, h.Worker.Health(), http.StatusOK)
}

// Events upgrades the connection to a websocket and streams the node's raw
// log/event feed until the client disconnects.
func (h Handlers) Events(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	v, err := web.GetValues(ctx)
	if err != nil {
		return web.NewShutdownError("web value missing from context")
	}

	c, err := h.WS.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	defer c.Close()

	ch := h.Evts.Acquire(v.TraceID)
	defer h.Evts.Release(v.TraceID)

	for msg := range ch {
		if err := c.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
			return nil
		}
	}

	return nil
}
