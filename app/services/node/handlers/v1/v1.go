// Package v1 contains the full set of handler functions and routes
// supported by the v1 web api.
package v1

import (
	"github.com/lumenledger/node/app/services/node/handlers/v1/node"
	"github.com/lumenledger/node/app/services/node/handlers/v1/public"
	"github.com/lumenledger/node/foundation/blockchain/worker"
	"github.com/lumenledger/node/foundation/events"
	"github.com/lumenledger/node/foundation/web"
	"go.uber.org/zap"
)

// Config contains all the mandatory systems required by handlers.
type Config struct {
	Log    *zap.SugaredLogger
	Worker *worker.Worker
	Evts   *events.Events
}

// PublicRoutes binds all the version 1 wallet-facing routes.
func PublicRoutes(app *web.App, cfg Config) {
	public.Routes(app, public.Config{
		Log:    cfg.Log,
		Worker: cfg.Worker,
		Evts:   cfg.Evts,
	})
}

// PrivateRoutes binds all the version 1 node-to-node routes.
func PrivateRoutes(app *web.App, cfg Config) {
	node.Routes(app, node.Config{
		Log:    cfg.Log,
		Worker: cfg.Worker,
	})
}
