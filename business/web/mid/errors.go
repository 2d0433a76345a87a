package mid

import (
	"context"
	"net/http"

	"github.com/lumenledger/node/business/web/errs"
	"github.com/lumenledger/node/foundation/web"
	"go.uber.org/zap"
)

// Errors converts any error returned by a handler into a consistent JSON
// error response, never leaking internal detail for an untrusted error.
func Errors(log *zap.SugaredLogger) web.Middleware {
	m := func(handler web.Handler) web.Handler {
		h := func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
			v, verr := web.GetValues(ctx)
			traceID := "unknown"
			if verr == nil {
				traceID = v.TraceID
			}

			if err := handler(ctx, w, r); err != nil {
				log.Errorw("request error", "traceid", traceID, "ERROR", err)

				if web.IsShutdown(err) {
					return err
				}

				if trusted := errs.GetTrusted(err); trusted != nil {
					resp := errs.Response{Error: trusted.Err.Error()}
					if respErr := web.Respond(ctx, w, resp, trusted.Status); respErr != nil {
						return respErr
					}
					return nil
				}

				resp := errs.Response{Error: "internal server error"}
				if respErr := web.Respond(ctx, w, resp, http.StatusInternalServerError); respErr != nil {
					return respErr
				}
			}

			return nil
		}
		return h
	}
	return m
}
