package gateway

import (
	"context"
	"io"
	"net/http"

	"github.com/apidoorman/doorman-sub003/internal/cors"
	"github.com/apidoorman/doorman-sub003/internal/credits"
	apierrors "github.com/apidoorman/doorman-sub003/internal/errors"
	"github.com/apidoorman/doorman-sub003/internal/model"
	"github.com/apidoorman/doorman-sub003/internal/proxy/protocol"
	"github.com/apidoorman/doorman-sub003/internal/resolve"
)

const (
	headerAPIVersion = "X-API-Version"
	headerClientKey  = "client-key"
)

// dispatch serves /api/{protocol}/... traffic. The stages run in a fixed
// order: parse, preflight, resolve, authenticate, authorize, rate rules,
// body read and validation, credit deduction, protocol dispatch. Every
// failure renders as an envelope with the stage's error code.
func (g *Gateway) dispatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	target, err := resolve.ParsePath(r.Method, r.URL.Path, r.Header.Get(headerAPIVersion))
	if err != nil {
		g.corsEval.Global().Apply(w, r)
		writeError(w, r, err)
		return
	}

	if cors.IsPreflight(r) {
		api, err := g.catalog.APIByKey(ctx, target.APIName, target.APIVersion)
		if err != nil {
			writeError(w, r, err)
			return
		}
		g.corsEval.ForAPI(api).Preflight(w, r)
		return
	}

	res, err := g.resolver.Resolve(ctx, target)
	if err != nil {
		g.corsEval.Global().Apply(w, r)
		writeError(w, r, err)
		return
	}
	g.corsEval.ForAPI(res.API).Apply(w, r)

	username := ""
	if !res.API.Public {
		var caller *model.User
		principal, err := g.kernel.Authenticate(r, g.cfg.Server.HTTPSPosture())
		if err != nil {
			writeError(w, r, err)
			return
		}
		caller, err = g.catalog.UserByUsername(ctx, principal.Username)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if caller == nil {
			writeError(w, r, apierrors.ErrInvalidToken)
			return
		}
		username = caller.Username

		if err := g.resolver.Authorize(ctx, caller, res.API); err != nil {
			writeError(w, r, err)
			return
		}
	}

	if err := g.applyRateRules(ctx, w, res.API, username); err != nil {
		writeError(w, r, err)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if err := g.resolver.ValidateBody(res.Endpoint, body); err != nil {
		writeError(w, r, err)
		return
	}

	var deduction *credits.Deduction
	if res.API.APICreditGroup != "" && username != "" {
		deduction, err = g.credits.Deduct(ctx, username, res.API.APICreditGroup)
		if err != nil {
			writeError(w, r, err)
			return
		}
	}

	d, ok := g.dispatchers[target.Protocol]
	if !ok {
		writeError(w, r, apierrors.ErrAPINotFound.WithDetails("no dispatcher for protocol "+target.Protocol))
		return
	}

	ex := &protocol.Exchange{
		Target:     *target,
		Resolution: res,
		Username:   username,
		ClientKey:  r.Header.Get(headerClientKey),
		RequestID:  requestID(r),
		RawQuery:   r.URL.RawQuery,
		Body:       body,
		Deduction:  deduction,
		Request:    r,
	}
	if err := d.Dispatch(w, ex); err != nil {
		writeError(w, r, err)
	}
}

// applyRateRules runs every active rule bound to the API. Rate limit
// headers reflect the last rule applied; the first denial wins.
func (g *Gateway) applyRateRules(ctx context.Context, w http.ResponseWriter, api *model.API, username string) error {
	rules, err := g.catalog.RateRulesForAPI(ctx, api.APIName, api.APIVersion)
	if err != nil {
		return err
	}
	for i := range rules {
		d := g.rules.Apply(ctx, &rules[i], username)
		d.WriteHeaders(w)
		if !d.Allowed {
			return apierrors.ErrRateLimited
		}
	}
	return nil
}
