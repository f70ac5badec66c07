package gateway

import (
	"net/http"
	"strconv"

	"github.com/apidoorman/doorman-sub003/internal/auth"
	apierrors "github.com/apidoorman/doorman-sub003/internal/errors"
	"github.com/apidoorman/doorman-sub003/internal/model"
	"github.com/apidoorman/doorman-sub003/internal/store"
)

func pageParams(r *http.Request) (page, pageSize int) {
	q := r.URL.Query()
	page, _ = strconv.Atoi(q.Get("page"))
	pageSize, _ = strconv.Atoi(q.Get("page_size"))
	return page, pageSize
}

type createUserRequest struct {
	Username string   `json:"username"`
	Email    string   `json:"email"`
	Password string   `json:"password"`
	Role     string   `json:"role"`
	Groups   []string `json:"groups"`
	UIAccess bool     `json:"ui_access"`
	Active   *bool    `json:"active"`
}

// handleCreateUser validates, hashes the password, and stores the account.
// Accounts always belong to at least one group; ALL is the default.
func (g *Gateway) handleCreateUser(w http.ResponseWriter, r *http.Request, _ *auth.Principal) {
	ctx := r.Context()

	var req createUserRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Username == "" || req.Email == "" {
		writeError(w, r, apierrors.ErrValidationFailed.WithDetails("username and email are required"))
		return
	}
	if req.Role == "" {
		writeError(w, r, apierrors.ErrValidationFailed.WithDetails("a role is required"))
		return
	}
	if err := auth.ValidatePasswordStrength(req.Password); err != nil {
		writeError(w, r, apierrors.ErrWeakPassword.WithDetails(err.Error()))
		return
	}
	role, err := g.catalog.RoleByName(ctx, req.Role)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if role == nil {
		writeError(w, r, apierrors.ErrResourceNotFound.WithDetails("role "+req.Role))
		return
	}

	hash, err := g.hasher.Hash(ctx, req.Password)
	if err != nil {
		writeError(w, r, err)
		return
	}
	groups := req.Groups
	if len(groups) == 0 {
		groups = []string{"ALL"}
	}
	active := true
	if req.Active != nil {
		active = *req.Active
	}
	user := &model.User{
		Username: req.Username,
		Email:    req.Email,
		Password: hash,
		Role:     req.Role,
		Groups:   groups,
		UIAccess: req.UIAccess,
		Active:   active,
	}
	if err := g.catalog.CreateUser(ctx, user); err != nil {
		writeError(w, r, err)
		return
	}
	writeStatus(w, r, http.StatusCreated, user.Public())
}

// handleWhoAmI returns the caller's own account, credentials stripped.
func (g *Gateway) handleWhoAmI(w http.ResponseWriter, r *http.Request, p *auth.Principal) {
	user, err := g.catalog.UserByUsername(r.Context(), p.Username)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if user == nil {
		writeError(w, r, apierrors.ErrResourceNotFound.WithDetails("user "+p.Username))
		return
	}
	writeOK(w, r, user.Public())
}

func (g *Gateway) handleListUsers(w http.ResponseWriter, r *http.Request, _ *auth.Principal) {
	page, pageSize := pageParams(r)
	users, err := g.catalog.ListUsers(r.Context(), page, pageSize)
	if err != nil {
		writeError(w, r, err)
		return
	}
	public := make([]model.User, len(users))
	for i, u := range users {
		public[i] = u.Public()
	}
	writeOK(w, r, map[string]any{"users": public})
}

func (g *Gateway) handleGetUser(w http.ResponseWriter, r *http.Request, _ *auth.Principal) {
	username := param(r, "username")
	user, err := g.catalog.UserByUsername(r.Context(), username)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if user == nil {
		writeError(w, r, apierrors.ErrResourceNotFound.WithDetails("user "+username))
		return
	}
	writeOK(w, r, user.Public())
}

// handleUpdateUser applies a partial update. A password change is strength
// checked and re-hashed; the stored hash is never replaced verbatim.
func (g *Gateway) handleUpdateUser(w http.ResponseWriter, r *http.Request, _ *auth.Principal) {
	ctx := r.Context()
	username := param(r, "username")

	var changes store.Document
	if err := readJSON(r, &changes); err != nil {
		writeError(w, r, err)
		return
	}
	if raw, ok := changes["password"]; ok {
		plain, _ := raw.(string)
		if err := auth.ValidatePasswordStrength(plain); err != nil {
			writeError(w, r, apierrors.ErrWeakPassword.WithDetails(err.Error()))
			return
		}
		hash, err := g.hasher.Hash(ctx, plain)
		if err != nil {
			writeError(w, r, err)
			return
		}
		changes["password"] = hash
	}
	if raw, ok := changes["role"]; ok {
		name, _ := raw.(string)
		role, err := g.catalog.RoleByName(ctx, name)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if role == nil {
			writeError(w, r, apierrors.ErrResourceNotFound.WithDetails("role "+name))
			return
		}
	}

	if err := g.catalog.UpdateUser(ctx, username, changes); err != nil {
		writeError(w, r, err)
		return
	}
	writeMessage(w, r, http.StatusOK, "User updated")
}

func (g *Gateway) handleDeleteUser(w http.ResponseWriter, r *http.Request, _ *auth.Principal) {
	username := param(r, "username")
	if err := g.catalog.DeleteUser(r.Context(), username); err != nil {
		writeError(w, r, err)
		return
	}
	writeMessage(w, r, http.StatusOK, "User deleted")
}

// handleCreateRole stores a new role. Writes touching the admin role
// require the caller to hold it.
func (g *Gateway) handleCreateRole(w http.ResponseWriter, r *http.Request, p *auth.Principal) {
	ctx := r.Context()

	var role model.Role
	if err := readJSON(r, &role); err != nil {
		writeError(w, r, err)
		return
	}
	if role.RoleName == "" {
		writeError(w, r, apierrors.ErrValidationFailed.WithDetails("role_name is required"))
		return
	}
	if err := g.authz.GuardAdminRole(ctx, p.Username, role.RoleName); err != nil {
		writeError(w, r, err)
		return
	}
	if err := g.catalog.CreateRole(ctx, &role); err != nil {
		writeError(w, r, err)
		return
	}
	writeStatus(w, r, http.StatusCreated, role)
}

func (g *Gateway) handleListRoles(w http.ResponseWriter, r *http.Request, _ *auth.Principal) {
	page, pageSize := pageParams(r)
	roles, err := g.catalog.ListRoles(r.Context(), page, pageSize)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, r, map[string]any{"roles": roles})
}

func (g *Gateway) handleGetRole(w http.ResponseWriter, r *http.Request, _ *auth.Principal) {
	name := param(r, "name")
	role, err := g.catalog.RoleByName(r.Context(), name)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if role == nil {
		writeError(w, r, apierrors.ErrResourceNotFound.WithDetails("role "+name))
		return
	}
	writeOK(w, r, role)
}

func (g *Gateway) handleUpdateRole(w http.ResponseWriter, r *http.Request, p *auth.Principal) {
	ctx := r.Context()
	name := param(r, "name")

	if err := g.authz.GuardAdminRole(ctx, p.Username, name); err != nil {
		writeError(w, r, err)
		return
	}
	var changes store.Document
	if err := readJSON(r, &changes); err != nil {
		writeError(w, r, err)
		return
	}
	if err := g.catalog.UpdateRole(ctx, name, changes); err != nil {
		writeError(w, r, err)
		return
	}
	writeMessage(w, r, http.StatusOK, "Role updated")
}

func (g *Gateway) handleDeleteRole(w http.ResponseWriter, r *http.Request, _ *auth.Principal) {
	if err := g.catalog.DeleteRole(r.Context(), param(r, "name")); err != nil {
		writeError(w, r, err)
		return
	}
	writeMessage(w, r, http.StatusOK, "Role deleted")
}

func (g *Gateway) handleCreateGroup(w http.ResponseWriter, r *http.Request, _ *auth.Principal) {
	var group model.Group
	if err := readJSON(r, &group); err != nil {
		writeError(w, r, err)
		return
	}
	if group.GroupName == "" {
		writeError(w, r, apierrors.ErrValidationFailed.WithDetails("group_name is required"))
		return
	}
	if err := g.catalog.CreateGroup(r.Context(), &group); err != nil {
		writeError(w, r, err)
		return
	}
	writeStatus(w, r, http.StatusCreated, group)
}

func (g *Gateway) handleListGroups(w http.ResponseWriter, r *http.Request, _ *auth.Principal) {
	page, pageSize := pageParams(r)
	groups, err := g.catalog.ListGroups(r.Context(), page, pageSize)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, r, map[string]any{"groups": groups})
}

func (g *Gateway) handleGetGroup(w http.ResponseWriter, r *http.Request, _ *auth.Principal) {
	name := param(r, "name")
	group, err := g.catalog.GroupByName(r.Context(), name)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if group == nil {
		writeError(w, r, apierrors.ErrResourceNotFound.WithDetails("group "+name))
		return
	}
	writeOK(w, r, group)
}

func (g *Gateway) handleUpdateGroup(w http.ResponseWriter, r *http.Request, _ *auth.Principal) {
	var changes store.Document
	if err := readJSON(r, &changes); err != nil {
		writeError(w, r, err)
		return
	}
	if err := g.catalog.UpdateGroup(r.Context(), param(r, "name"), changes); err != nil {
		writeError(w, r, err)
		return
	}
	writeMessage(w, r, http.StatusOK, "Group updated")
}

func (g *Gateway) handleDeleteGroup(w http.ResponseWriter, r *http.Request, _ *auth.Principal) {
	if err := g.catalog.DeleteGroup(r.Context(), param(r, "name")); err != nil {
		writeError(w, r, err)
		return
	}
	writeMessage(w, r, http.StatusOK, "Group deleted")
}

func (g *Gateway) registerUserRoutes(static, params *routerTree) {
	static.handle(http.MethodPost, "/platform/user", g.guarded(model.PermManageUsers, g.handleCreateUser))
	static.handle(http.MethodGet, "/platform/user/me", g.authed(g.handleWhoAmI))
	static.handle(http.MethodGet, "/platform/user/all", g.guarded(model.PermManageUsers, g.handleListUsers))
	params.handle(http.MethodGet, "/platform/user/:username", g.guarded(model.PermManageUsers, g.handleGetUser))
	params.handle(http.MethodPut, "/platform/user/:username", g.guarded(model.PermManageUsers, g.handleUpdateUser))
	params.handle(http.MethodDelete, "/platform/user/:username", g.guarded(model.PermManageUsers, g.handleDeleteUser))

	static.handle(http.MethodPost, "/platform/role", g.guarded(model.PermManageRoles, g.handleCreateRole))
	static.handle(http.MethodGet, "/platform/role/all", g.guarded(model.PermManageRoles, g.handleListRoles))
	params.handle(http.MethodGet, "/platform/role/:name", g.guarded(model.PermManageRoles, g.handleGetRole))
	params.handle(http.MethodPut, "/platform/role/:name", g.guarded(model.PermManageRoles, g.handleUpdateRole))
	params.handle(http.MethodDelete, "/platform/role/:name", g.guarded(model.PermManageRoles, g.handleDeleteRole))

	static.handle(http.MethodPost, "/platform/group", g.guarded(model.PermManageGroups, g.handleCreateGroup))
	static.handle(http.MethodGet, "/platform/group/all", g.guarded(model.PermManageGroups, g.handleListGroups))
	params.handle(http.MethodGet, "/platform/group/:name", g.guarded(model.PermManageGroups, g.handleGetGroup))
	params.handle(http.MethodPut, "/platform/group/:name", g.guarded(model.PermManageGroups, g.handleUpdateGroup))
	params.handle(http.MethodDelete, "/platform/group/:name", g.guarded(model.PermManageGroups, g.handleDeleteGroup))
}
