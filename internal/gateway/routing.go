package gateway

import (
	"net/http"

	"github.com/apidoorman/doorman-sub003/internal/auth"
	apierrors "github.com/apidoorman/doorman-sub003/internal/errors"
	"github.com/apidoorman/doorman-sub003/internal/model"
	"github.com/apidoorman/doorman-sub003/internal/store"
)

func (g *Gateway) handleCreateRouting(w http.ResponseWriter, r *http.Request, _ *auth.Principal) {
	var routing model.Routing
	if err := readJSON(r, &routing); err != nil {
		writeError(w, r, err)
		return
	}
	if routing.ClientKey == "" {
		writeError(w, r, apierrors.ErrValidationFailed.WithDetails("client_key is required"))
		return
	}
	if len(routing.RoutingServers) == 0 {
		writeError(w, r, apierrors.ErrValidationFailed.WithDetails("routing_servers cannot be empty"))
		return
	}
	routing.ServerIndex = 0

	if err := g.catalog.CreateRouting(r.Context(), &routing); err != nil {
		writeError(w, r, err)
		return
	}
	writeStatus(w, r, http.StatusCreated, routing)
}

func (g *Gateway) handleListRoutings(w http.ResponseWriter, r *http.Request, _ *auth.Principal) {
	page, pageSize := pageParams(r)
	routings, err := g.catalog.ListRoutings(r.Context(), page, pageSize)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, r, map[string]any{"routings": routings})
}

func (g *Gateway) handleGetRouting(w http.ResponseWriter, r *http.Request, _ *auth.Principal) {
	clientKey := param(r, "client_key")
	routing, err := g.catalog.RoutingByClientKey(r.Context(), clientKey)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if routing == nil {
		writeError(w, r, apierrors.ErrResourceNotFound.WithDetails("routing "+clientKey))
		return
	}
	writeOK(w, r, routing)
}

func (g *Gateway) handleUpdateRouting(w http.ResponseWriter, r *http.Request, _ *auth.Principal) {
	var changes store.Document
	if err := readJSON(r, &changes); err != nil {
		writeError(w, r, err)
		return
	}
	if raw, ok := changes["routing_servers"]; ok {
		servers, _ := raw.([]any)
		if len(servers) == 0 {
			writeError(w, r, apierrors.ErrValidationFailed.WithDetails("routing_servers cannot be empty"))
			return
		}
	}
	if err := g.catalog.UpdateRouting(r.Context(), param(r, "client_key"), changes); err != nil {
		writeError(w, r, err)
		return
	}
	writeMessage(w, r, http.StatusOK, "Routing updated")
}

func (g *Gateway) handleDeleteRouting(w http.ResponseWriter, r *http.Request, _ *auth.Principal) {
	if err := g.catalog.DeleteRouting(r.Context(), param(r, "client_key")); err != nil {
		writeError(w, r, err)
		return
	}
	writeMessage(w, r, http.StatusOK, "Routing deleted")
}

type subscriptionRequest struct {
	Username   string `json:"username"`
	APIName    string `json:"api_name"`
	APIVersion string `json:"api_version"`
}

func (sr *subscriptionRequest) validate() error {
	if sr.Username == "" || sr.APIName == "" || sr.APIVersion == "" {
		return apierrors.ErrValidationFailed.WithDetails(
			"username, api_name, and api_version are required")
	}
	return nil
}

func (g *Gateway) handleSubscribe(w http.ResponseWriter, r *http.Request, _ *auth.Principal) {
	var req subscriptionRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, r, err)
		return
	}
	if err := g.catalog.Subscribe(r.Context(), req.Username, req.APIName, req.APIVersion); err != nil {
		writeError(w, r, err)
		return
	}
	writeStatus(w, r, http.StatusCreated, map[string]any{
		"username":    req.Username,
		"api_name":    req.APIName,
		"api_version": req.APIVersion,
	})
}

func (g *Gateway) handleUnsubscribe(w http.ResponseWriter, r *http.Request, _ *auth.Principal) {
	var req subscriptionRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, r, err)
		return
	}
	if err := g.catalog.Unsubscribe(r.Context(), req.Username, req.APIName, req.APIVersion); err != nil {
		writeError(w, r, err)
		return
	}
	writeMessage(w, r, http.StatusOK, "Subscription removed")
}

func (g *Gateway) handleUserSubscriptions(w http.ResponseWriter, r *http.Request, _ *auth.Principal) {
	page, pageSize := pageParams(r)
	username := param(r, "username")
	subs, err := g.catalog.SubscriptionsForUser(r.Context(), username, page, pageSize)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, r, map[string]any{"username": username, "subscriptions": subs})
}

// handleCreateRateRule registers a throttle rule. Window rules need a
// positive window; both types need a positive limit.
func (g *Gateway) handleCreateRateRule(w http.ResponseWriter, r *http.Request, _ *auth.Principal) {
	var doc store.Document
	if err := readJSON(r, &doc); err != nil {
		writeError(w, r, err)
		return
	}
	var rule model.RateRule
	if err := store.Decode(doc, &rule); err != nil {
		writeError(w, r, apierrors.ErrMalformedBody.Wrap(err))
		return
	}
	if _, ok := doc["active"]; !ok {
		rule.Active = true
	}
	if rule.RuleName == "" || rule.APIName == "" || rule.APIVersion == "" {
		writeError(w, r, apierrors.ErrValidationFailed.WithDetails(
			"rule_name, api_name, and api_version are required"))
		return
	}
	if rule.RuleType == "" {
		rule.RuleType = model.RuleWindow
	}
	if rule.RuleType != model.RuleWindow && rule.RuleType != model.RuleTokenBucket {
		writeError(w, r, apierrors.ErrValidationFailed.WithDetails(
			"rule_type must be window or token_bucket"))
		return
	}
	if rule.Scope == "" {
		rule.Scope = model.ScopeUserAPI
	}
	if rule.Scope != model.ScopeUser && rule.Scope != model.ScopeUserAPI && rule.Scope != model.ScopeAPI {
		writeError(w, r, apierrors.ErrValidationFailed.WithDetails(
			"scope must be user, user_api, or api"))
		return
	}
	if rule.Limit <= 0 {
		writeError(w, r, apierrors.ErrValidationFailed.WithDetails("limit must be positive"))
		return
	}
	if rule.WindowSeconds <= 0 {
		writeError(w, r, apierrors.ErrValidationFailed.WithDetails("window_seconds must be positive"))
		return
	}

	if err := g.catalog.CreateRateRule(r.Context(), &rule); err != nil {
		writeError(w, r, err)
		return
	}
	writeStatus(w, r, http.StatusCreated, rule)
}

func (g *Gateway) handleListRateRules(w http.ResponseWriter, r *http.Request, _ *auth.Principal) {
	page, pageSize := pageParams(r)
	rules, err := g.catalog.ListRateRules(r.Context(), page, pageSize)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, r, map[string]any{"rate_rules": rules})
}

func (g *Gateway) handleGetRateRule(w http.ResponseWriter, r *http.Request, _ *auth.Principal) {
	name := param(r, "rule_name")
	rule, err := g.catalog.RateRuleByName(r.Context(), name)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if rule == nil {
		writeError(w, r, apierrors.ErrResourceNotFound.WithDetails("rate rule "+name))
		return
	}
	writeOK(w, r, rule)
}

func (g *Gateway) handleUpdateRateRule(w http.ResponseWriter, r *http.Request, _ *auth.Principal) {
	var changes store.Document
	if err := readJSON(r, &changes); err != nil {
		writeError(w, r, err)
		return
	}
	if err := g.catalog.UpdateRateRule(r.Context(), param(r, "rule_name"), changes); err != nil {
		writeError(w, r, err)
		return
	}
	writeMessage(w, r, http.StatusOK, "Rate rule updated")
}

func (g *Gateway) handleDeleteRateRule(w http.ResponseWriter, r *http.Request, _ *auth.Principal) {
	if err := g.catalog.DeleteRateRule(r.Context(), param(r, "rule_name")); err != nil {
		writeError(w, r, err)
		return
	}
	writeMessage(w, r, http.StatusOK, "Rate rule deleted")
}

func (g *Gateway) registerRoutingRoutes(static, params *routerTree) {
	static.handle(http.MethodPost, "/platform/routing", g.guarded(model.PermManageRoutings, g.handleCreateRouting))
	static.handle(http.MethodGet, "/platform/routing/all", g.guarded(model.PermManageRoutings, g.handleListRoutings))
	params.handle(http.MethodGet, "/platform/routing/:client_key", g.guarded(model.PermManageRoutings, g.handleGetRouting))
	params.handle(http.MethodPut, "/platform/routing/:client_key", g.guarded(model.PermManageRoutings, g.handleUpdateRouting))
	params.handle(http.MethodDelete, "/platform/routing/:client_key", g.guarded(model.PermManageRoutings, g.handleDeleteRouting))

	static.handle(http.MethodPost, "/platform/subscription/subscribe",
		g.guarded(model.PermManageSubscriptions, g.handleSubscribe))
	static.handle(http.MethodPost, "/platform/subscription/unsubscribe",
		g.guarded(model.PermManageSubscriptions, g.handleUnsubscribe))
	static.handle(http.MethodGet, "/platform/subscription/user/:username",
		g.guarded(model.PermManageSubscriptions, g.handleUserSubscriptions))

	static.handle(http.MethodPost, "/platform/ratelimit", g.guarded(model.PermManageRateLimits, g.handleCreateRateRule))
	static.handle(http.MethodGet, "/platform/ratelimit/all", g.guarded(model.PermManageRateLimits, g.handleListRateRules))
	params.handle(http.MethodGet, "/platform/ratelimit/:rule_name", g.guarded(model.PermManageRateLimits, g.handleGetRateRule))
	params.handle(http.MethodPut, "/platform/ratelimit/:rule_name", g.guarded(model.PermManageRateLimits, g.handleUpdateRateRule))
	params.handle(http.MethodDelete, "/platform/ratelimit/:rule_name", g.guarded(model.PermManageRateLimits, g.handleDeleteRateRule))
}
