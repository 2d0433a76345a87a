package mid

import (
	"context"
	"expvar"
	"net/http"
	"runtime"

	"github.com/lumenledger/node/foundation/web"
)

var m = struct {
	req  *expvar.Int
	goro *expvar.Int
	err  *expvar.Int
}{
	req:  expvar.NewInt("requests"),
	goro: expvar.NewInt("goroutines"),
	err:  expvar.NewInt("errors"),
}

// Metrics publishes request/goroutine/error counts through expvar, served
// at /debug/vars by the debug mux.
func Metrics() web.Middleware {
	mw := func(handler web.Handler) web.Handler {
		h := func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
			err := handler(ctx, w, r)

			m.req.Add(1)
			if m.req.Value()%100 == 0 {
				m.goro.Set(int64(runtime.NumGoroutine()))
			}
			if err != nil {
				m.err.Add(1)
			}

			return err
		}
		return h
	}
	return mw
}
