// Package authz evaluates role permission flags for platform operations.
package authz

import (
	"context"
	"sync/atomic"

	apierrors "github.com/apidoorman/doorman-sub003/internal/errors"
	"github.com/apidoorman/doorman-sub003/internal/model"
)

// RoleSource resolves users and their role documents. The catalog provides
// a read-through cached implementation.
type RoleSource interface {
	UserByUsername(ctx context.Context, username string) (*model.User, error)
	RoleByName(ctx context.Context, name string) (*model.Role, error)
}

// Evaluator checks permission flags against the caller's role document.
type Evaluator struct {
	source RoleSource

	totalChecks atomic.Int64
	totalDenied atomic.Int64
}

func NewEvaluator(source RoleSource) *Evaluator {
	return &Evaluator{source: source}
}

// Require allows the call when the caller's role grants every flag. Deny
// names the first missing flag so clients can tell which permission the
// route wanted.
func (e *Evaluator) Require(ctx context.Context, username string, flags ...string) error {
	e.totalChecks.Add(1)

	user, err := e.source.UserByUsername(ctx, username)
	if err != nil {
		return apierrors.ErrUnexpected.Wrap(err)
	}
	if user == nil || !user.Active {
		return e.deny(flags)
	}

	role, err := e.source.RoleByName(ctx, user.Role)
	if err != nil {
		return apierrors.ErrUnexpected.Wrap(err)
	}
	if role == nil {
		return e.deny(flags)
	}

	for _, flag := range flags {
		if !role.Has(flag) {
			e.totalDenied.Add(1)
			return apierrors.ErrPermissionDenied.WithDetails("missing permission: " + flag)
		}
	}
	return nil
}

func (e *Evaluator) deny(flags []string) error {
	e.totalDenied.Add(1)
	if len(flags) > 0 {
		return apierrors.ErrPermissionDenied.WithDetails("missing permission: " + flags[0])
	}
	return apierrors.ErrPermissionDenied
}

// GuardAdminRole rejects writes that would create, modify, or delete the
// admin role unless the caller holds it.
func (e *Evaluator) GuardAdminRole(ctx context.Context, username, targetRole string) error {
	if targetRole != model.AdminRoleName {
		return nil
	}
	user, err := e.source.UserByUsername(ctx, username)
	if err != nil {
		return apierrors.ErrUnexpected.Wrap(err)
	}
	if user == nil || user.Role != model.AdminRoleName {
		e.totalDenied.Add(1)
		return apierrors.ErrAdminRoleProtected
	}
	return nil
}

// TotalChecks returns the number of permission evaluations performed.
func (e *Evaluator) TotalChecks() int64 {
	return e.totalChecks.Load()
}

// TotalDenied returns the number of denied evaluations.
func (e *Evaluator) TotalDenied() int64 {
	return e.totalDenied.Load()
}
