package callback

import (
	"context"
	"fmt"
	"net/http"

	"github.com/hashicorp/rpflow/oidc"
)

// AuthCode creates an authorization code callback handler.  The handler
// reads the response parameters from either the query or a form body,
// resolves and consumes the attempt's transaction cookie, and performs the
// code exchange.
//
// The SuccessResponseFunc is used to create a response when the callback is
// successful.  The ErrorResponseFunc is used to create a response when the
// callback fails.
func AuthCode(ctx context.Context, p *oidc.Provider, redirectURL string, sFn SuccessResponseFunc, eFn ErrorResponseFunc) (http.HandlerFunc, error) {
	const op = "callback.AuthCode"
	if p == nil {
		return nil, fmt.Errorf("%s: missing provider: %w", op, oidc.ErrNilParameter)
	}
	if redirectURL == "" {
		return nil, fmt.Errorf("%s: missing redirect URL: %w", op, oidc.ErrInvalidParameter)
	}
	if sFn == nil {
		return nil, fmt.Errorf("%s: missing success response func: %w", op, oidc.ErrNilParameter)
	}
	if eFn == nil {
		return nil, fmt.Errorf("%s: missing error response func: %w", op, oidc.ErrNilParameter)
	}
	return func(w http.ResponseWriter, req *http.Request) {
		// FormValue reads from either the body or query parameters,
		// prioritizing body values if found
		cb := oidc.CallbackRequest{
			Code:             req.FormValue("code"),
			State:            req.FormValue("state"),
			Iss:              req.FormValue("iss"),
			Error:            req.FormValue("error"),
			ErrorDescription: req.FormValue("error_description"),
		}
		tokens, err := p.Callback(ctx, &oidc.HTTPCookies{W: w, R: req}, redirectURL, cb)
		if err != nil {
			eFn(cb.State, ErrorCode(err), err, w, req)
			return
		}
		sFn(cb.State, tokens, w, req)
	}, nil
}
