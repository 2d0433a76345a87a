package node

import (
	"net/http"

	"github.com/lumenledger/node/foundation/blockchain/worker"
	"github.com/lumenledger/node/foundation/web"
	"go.uber.org/zap"
)

// Config contains the mandatory systems required by the node handlers.
type Config struct {
	Log    *zap.SugaredLogger
	Worker *worker.Worker
}

const version = "v1"

// Routes binds every node-to-node endpoint Transport dials into.
func Routes(app *web.App, cfg Config) {
	hdl := Handlers{
		Log:    cfg.Log,
		Worker: cfg.Worker,
	}

	app.Handle(http.MethodPost, version, "/node/announce", hdl.Announce)
	app.Handle(http.MethodPost, version, "/node/gossip", hdl.Gossip)
	app.Handle(http.MethodPost, version, "/node/challenge", hdl.Challenge)
	app.Handle(http.MethodPost, version, "/node/propose", hdl.Propose)
	app.Handle(http.MethodPost, version, "/node/vote", hdl.Vote)
	app.Handle(http.MethodPost, version, "/node/commit", hdl.Commit)
	app.Handle(http.MethodPost, version, "/node/view-change", hdl.ViewChange)
	app.Handle(http.MethodPost, version, "/node/transaction", hdl.Transaction)
	app.Handle(http.MethodGet, version, "/node/chain", hdl.Chain)
	app.Handle(http.MethodGet, version, "/node/headers", hdl.Headers)
	app.Handle(http.MethodGet, version, "/node/peers", hdl.Peers)
	app.Handle(http.MethodGet, version, "/node/health", hdl.Health)
}
