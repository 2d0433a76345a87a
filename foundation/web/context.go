package web

import (
	"context"
	"errors"
	"time"
)

// ctxKey is the type used to store values in a request context, to avoid
// collisions with other packages using context.
type ctxKey int

const valuesKey ctxKey = 1

// Values carries per-request information through the middleware chain.
type Values struct {
	TraceID    string
	Now        time.Time
	StatusCode int
}

// GetValues returns the Values stored in the context by the top-level
// App.Handle wrapper.
func GetValues(ctx context.Context) (*Values, error) {
	v, ok := ctx.Value(valuesKey).(*Values)
	if !ok {
		return nil, errors.New("web value missing from context")
	}
	return v, nil
}

// GetTraceID returns the trace id from the context, or "00000000-0000-0000-0000-000000000000"
// if none is set.
func GetTraceID(ctx context.Context) string {
	v, ok := ctx.Value(valuesKey).(*Values)
	if !ok {
		return "00000000-0000-0000-0000-000000000000"
	}
	return v.TraceID
}

// setStatusCode records the response status code so logging middleware can
// report it after the handler runs.
func setStatusCode(ctx context.Context, statusCode int) error {
	v, ok := ctx.Value(valuesKey).(*Values)
	if !ok {
		return errors.New("web value missing from context")
	}
	v.StatusCode = statusCode
	return nil
}
