package mid

import (
	"context"
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/lumenledger/node/foundation/web"
)

// Panics recovers from any panic inside the handler chain, converting it
// into a 500 instead of crashing the request's goroutine. A panic inside a
// closure run on the worker's event loop is not recovered here.
func Panics() web.Middleware {
	m := func(handler web.Handler) web.Handler {
		h := func(ctx context.Context, w http.ResponseWriter, r *http.Request) (err error) {
			defer func() {
				if rec := recover(); rec != nil {
					err = fmt.Errorf("panic: %v: %s", rec, debug.Stack())
				}
			}()

			return handler(ctx, w, r)
		}
		return h
	}
	return m
}
