package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/apidoorman/doorman-sub003/internal/auth"
	"github.com/apidoorman/doorman-sub003/internal/credits"
	apierrors "github.com/apidoorman/doorman-sub003/internal/errors"
	"github.com/apidoorman/doorman-sub003/internal/model"
	"github.com/apidoorman/doorman-sub003/internal/store"
)

// maskedDefinition renders a credit definition with key material stripped.
func maskedDefinition(def *model.CreditDef) (json.RawMessage, error) {
	raw, err := json.Marshal(def)
	if err != nil {
		return nil, err
	}
	return credits.MaskDefinition(raw), nil
}

func maskedBalance(uc *model.UserCredits) (json.RawMessage, error) {
	raw, err := json.Marshal(uc)
	if err != nil {
		return nil, err
	}
	return credits.MaskBalance(raw), nil
}

// handleCreateCreditDef registers a credit group. Upstream keys are
// sealed before they touch the store.
func (g *Gateway) handleCreateCreditDef(w http.ResponseWriter, r *http.Request, _ *auth.Principal) {
	var def model.CreditDef
	if err := readJSON(r, &def); err != nil {
		writeError(w, r, err)
		return
	}
	if def.APICreditGroup == "" {
		writeError(w, r, apierrors.ErrValidationFailed.WithDetails("api_credit_group is required"))
		return
	}
	if def.APIKeyHeader == "" {
		writeError(w, r, apierrors.ErrValidationFailed.WithDetails("api_key_header is required"))
		return
	}

	var err error
	if def.APIKey, err = g.credits.Seal(def.APIKey); err != nil {
		writeError(w, r, err)
		return
	}
	if def.APIKeyNew, err = g.credits.Seal(def.APIKeyNew); err != nil {
		writeError(w, r, err)
		return
	}

	if err := g.catalog.CreateCreditDef(r.Context(), &def); err != nil {
		writeError(w, r, err)
		return
	}
	masked, err := maskedDefinition(&def)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeStatus(w, r, http.StatusCreated, masked)
}

func (g *Gateway) handleListCreditDefs(w http.ResponseWriter, r *http.Request, _ *auth.Principal) {
	page, pageSize := pageParams(r)
	defs, err := g.catalog.ListCreditDefs(r.Context(), page, pageSize)
	if err != nil {
		writeError(w, r, err)
		return
	}
	masked := make([]json.RawMessage, len(defs))
	for i := range defs {
		if masked[i], err = maskedDefinition(&defs[i]); err != nil {
			writeError(w, r, err)
			return
		}
	}
	writeOK(w, r, map[string]any{"credit_defs": masked})
}

func (g *Gateway) handleGetCreditDef(w http.ResponseWriter, r *http.Request, _ *auth.Principal) {
	group := param(r, "group")
	def, err := g.catalog.CreditDefByGroup(r.Context(), group)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if def == nil {
		writeError(w, r, apierrors.ErrResourceNotFound.WithDetails("credit group "+group))
		return
	}
	masked, err := maskedDefinition(def)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, r, masked)
}

// handleUpdateCreditDef applies a partial update, sealing any replacement
// key material in the changes.
func (g *Gateway) handleUpdateCreditDef(w http.ResponseWriter, r *http.Request, _ *auth.Principal) {
	var changes store.Document
	if err := readJSON(r, &changes); err != nil {
		writeError(w, r, err)
		return
	}
	for _, field := range []string{"api_key", "api_key_new"} {
		if raw, ok := changes[field]; ok {
			plain, _ := raw.(string)
			sealed, err := g.credits.Seal(plain)
			if err != nil {
				writeError(w, r, err)
				return
			}
			changes[field] = sealed
		}
	}
	if err := g.catalog.UpdateCreditDef(r.Context(), param(r, "group"), changes); err != nil {
		writeError(w, r, err)
		return
	}
	writeMessage(w, r, http.StatusOK, "Credit definition updated")
}

func (g *Gateway) handleDeleteCreditDef(w http.ResponseWriter, r *http.Request, _ *auth.Principal) {
	if err := g.catalog.DeleteCreditDef(r.Context(), param(r, "group")); err != nil {
		writeError(w, r, err)
		return
	}
	writeMessage(w, r, http.StatusOK, "Credit definition deleted")
}

type setUserCreditsRequest struct {
	APICreditGroup   string `json:"api_credit_group"`
	TierName         string `json:"tier_name"`
	AvailableCredits int64  `json:"available_credits"`
	UserAPIKey       string `json:"user_api_key"`
}

// handleSetUserCredits upserts one balance for the named user. A per-user
// upstream key, when provided, is sealed like the group keys.
func (g *Gateway) handleSetUserCredits(w http.ResponseWriter, r *http.Request, _ *auth.Principal) {
	ctx := r.Context()
	username := param(r, "username")

	var req setUserCreditsRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.APICreditGroup == "" {
		writeError(w, r, apierrors.ErrValidationFailed.WithDetails("api_credit_group is required"))
		return
	}
	if req.AvailableCredits < 0 {
		writeError(w, r, apierrors.ErrValidationFailed.WithDetails("available_credits cannot be negative"))
		return
	}
	sealed, err := g.credits.Seal(req.UserAPIKey)
	if err != nil {
		writeError(w, r, err)
		return
	}

	uc := &model.UserCredits{
		Username:         username,
		APICreditGroup:   req.APICreditGroup,
		TierName:         req.TierName,
		AvailableCredits: req.AvailableCredits,
		UserAPIKey:       sealed,
	}
	if err := g.catalog.SetUserCredits(ctx, uc); err != nil {
		writeError(w, r, err)
		return
	}
	masked, err := maskedBalance(uc)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, r, masked)
}

func (g *Gateway) handleGetUserCredits(w http.ResponseWriter, r *http.Request, _ *auth.Principal) {
	page, pageSize := pageParams(r)
	username := param(r, "username")
	balances, err := g.catalog.UserCreditsForUser(r.Context(), username, page, pageSize)
	if err != nil {
		writeError(w, r, err)
		return
	}
	masked := make([]json.RawMessage, len(balances))
	for i := range balances {
		if masked[i], err = maskedBalance(&balances[i]); err != nil {
			writeError(w, r, err)
			return
		}
	}
	writeOK(w, r, map[string]any{"username": username, "credits": masked})
}

func (g *Gateway) registerCreditRoutes(static, params *routerTree) {
	static.handle(http.MethodPost, "/platform/credit", g.guarded(model.PermManageCredits, g.handleCreateCreditDef))
	static.handle(http.MethodGet, "/platform/credit/all", g.guarded(model.PermManageCredits, g.handleListCreditDefs))
	static.handle(http.MethodPost, "/platform/credit/user/:username", g.guarded(model.PermManageCredits, g.handleSetUserCredits))
	static.handle(http.MethodGet, "/platform/credit/user/:username", g.guarded(model.PermManageCredits, g.handleGetUserCredits))
	params.handle(http.MethodGet, "/platform/credit/:group", g.guarded(model.PermManageCredits, g.handleGetCreditDef))
	params.handle(http.MethodPut, "/platform/credit/:group", g.guarded(model.PermManageCredits, g.handleUpdateCreditDef))
	params.handle(http.MethodDelete, "/platform/credit/:group", g.guarded(model.PermManageCredits, g.handleDeleteCreditDef))
}
