package web

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/dimfeld/httptreemux/v5"
)

// Respond marshals data as JSON and writes it to the response with the
// given status code. A nil data with StatusNoContent writes no body.
func Respond(ctx context.Context, w http.ResponseWriter, data any, statusCode int) error {
	setStatusCode(ctx, statusCode)

	if statusCode == http.StatusNoContent || data == nil {
		w.WriteHeader(statusCode)
		return nil
	}

	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(statusCode)

	_, err = w.Write(jsonData)
	return err
}

// Decode unmarshals the request body into v, runs go-playground/validator
// struct-tag validation over it, and then, if v implements selfValidator,
// runs its own domain-specific checks (signature verification and the
// like, which a struct tag cannot express).
func Decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return err
	}

	if err := check(v); err != nil {
		return err
	}

	if val, ok := v.(selfValidator); ok {
		if err := val.Validate(); err != nil {
			return err
		}
	}

	return nil
}

// selfValidator is implemented by wire payloads that need validation a
// struct tag cannot express, such as a signature check.
type selfValidator interface {
	Validate() error
}

// Param returns the named path parameter, as registered with httptreemux.
func Param(r *http.Request, name string) string {
	return httptreemux.ContextParams(r.Context())[name]
}
