package public

import (
	"net/http"

	"github.com/lumenledger/node/foundation/blockchain/worker"
	"github.com/lumenledger/node/foundation/events"
	"github.com/lumenledger/node/foundation/web"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Config contains the mandatory systems required by the public handlers.
type Config struct {
	Log    *zap.SugaredLogger
	Worker *worker.Worker
	Evts   *events.Events
}

const version = "v1"

// Routes binds every wallet-facing endpoint.
func Routes(app *web.App, cfg Config) {
	hdl := Handlers{
		Log:    cfg.Log,
		Worker: cfg.Worker,
		Evts:   cfg.Evts,
		WS:     websocket.Upgrader{},
	}

	app.Handle(http.MethodGet, version, "/events", hdl.Events)
	app.Handle(http.MethodPost, version, "/transaction", hdl.SubmitTransaction)
	app.Handle(http.MethodGet, version, "/balance/:account", hdl.Balance)
	app.Handle(http.MethodGet, version, "/proof/:txHash", hdl.Proof)
	app.Handle(http.MethodGet, version, "/chain", hdl.Chain)
	app.Handle(http.MethodGet, version, "/headers", hdl.Headers)
	app.Handle(http.MethodGet, version, "/peers", hdl.Peers)
	app.Handle(http.MethodGet, version, "/health", hdl.Health)
}
