package auth

import (
	"context"
	"net/http"
	"time"

	apierrors "github.com/apidoorman/doorman-sub003/internal/errors"
	"github.com/apidoorman/doorman-sub003/internal/logging"
	"github.com/apidoorman/doorman-sub003/internal/model"
	"go.uber.org/zap"
)

// Directory is the slice of the catalog the kernel needs.
type Directory interface {
	UserByEmail(ctx context.Context, email string) (*model.User, error)
	UserByUsername(ctx context.Context, username string) (*model.User, error)
	CountUsers(ctx context.Context) (int64, error)
	CreateUser(ctx context.Context, user *model.User) error
	EnsureRole(ctx context.Context, role *model.Role) error
}

// Principal is the authenticated caller attached to a request.
type Principal struct {
	Username  string
	TokenID   string
	ExpiresAt time.Time
}

// LoginResult carries the issued credential pair.
type LoginResult struct {
	Username  string
	Token     string
	CSRF      string
	ExpiresAt time.Time
}

// Kernel issues, validates, refreshes, and revokes gateway credentials.
type Kernel struct {
	issuer  *TokenIssuer
	csrf    *CSRFSigner
	Cookies CookieWriter
	ledger  Ledger
	hasher  *Hasher
	users   Directory
}

// NewKernel wires the authentication kernel.
func NewKernel(issuer *TokenIssuer, csrf *CSRFSigner, cookies CookieWriter, ledger Ledger, hasher *Hasher, users Directory) *Kernel {
	return &Kernel{
		issuer:  issuer,
		csrf:    csrf,
		Cookies: cookies,
		ledger:  ledger,
		hasher:  hasher,
		users:   users,
	}
}

// TokenTTL returns the access token lifetime.
func (k *Kernel) TokenTTL() time.Duration { return k.issuer.TTL() }

// Login verifies credentials and issues a fresh token pair. Invalid email,
// unknown user, inactive account, and wrong password are indistinguishable
// to the caller.
func (k *Kernel) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	user, err := k.users.UserByEmail(ctx, email)
	if err != nil || user == nil || !user.Active {
		// Equalize timing between unknown-user and wrong-password paths.
		k.hasher.Compare(ctx, "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy", password)
		return nil, apierrors.ErrInvalidCredentials
	}
	if err := k.hasher.Compare(ctx, user.Password, password); err != nil {
		return nil, apierrors.ErrInvalidCredentials
	}
	return k.issue(ctx, user.Username)
}

func (k *Kernel) issue(ctx context.Context, username string) (*LoginResult, error) {
	token, claims, err := k.issuer.Issue(username)
	if err != nil {
		return nil, apierrors.ErrUnexpected.Wrap(err)
	}
	if err := k.ledger.TrackIssued(ctx, username, claims.TokenID, claims.ExpiresAt); err != nil {
		logging.Warn("issued-token tracking failed", zap.String("username", username), zap.Error(err))
	}
	return &LoginResult{
		Username:  username,
		Token:     token,
		CSRF:      k.csrf.Generate(),
		ExpiresAt: claims.ExpiresAt,
	}, nil
}

// Authenticate runs the per-request validation: extract, verify signature
// and expiry, consult the revocation ledger, and enforce the CSRF
// double-submit under HTTPS posture.
func (k *Kernel) Authenticate(r *http.Request, httpsPosture bool) (*Principal, error) {
	tokenString := ExtractToken(r)
	if tokenString == "" {
		return nil, apierrors.ErrInvalidToken
	}

	claims, err := k.issuer.Verify(tokenString)
	if err != nil {
		return nil, apierrors.ErrInvalidToken
	}

	revoked, err := k.ledger.IsRevoked(r.Context(), claims.Username, claims.TokenID)
	if err != nil {
		return nil, apierrors.ErrUnexpected.Wrap(err)
	}
	if revoked {
		return nil, apierrors.ErrInvalidToken
	}

	if httpsPosture {
		if err := k.csrf.CheckDoubleSubmit(r); err != nil {
			return nil, apierrors.ErrCSRFMismatch
		}
	}

	return &Principal{
		Username:  claims.Username,
		TokenID:   claims.TokenID,
		ExpiresAt: claims.ExpiresAt,
	}, nil
}

// Refresh revokes the current token against its original expiry and issues
// a fresh pair.
func (k *Kernel) Refresh(ctx context.Context, p *Principal) (*LoginResult, error) {
	if err := k.ledger.Revoke(ctx, p.Username, p.TokenID, p.ExpiresAt); err != nil {
		return nil, apierrors.ErrUnexpected.Wrap(err)
	}
	return k.issue(ctx, p.Username)
}

// Invalidate revokes the current token. Callers clear cookies separately.
func (k *Kernel) Invalidate(ctx context.Context, p *Principal) error {
	if err := k.ledger.Revoke(ctx, p.Username, p.TokenID, p.ExpiresAt); err != nil {
		return apierrors.ErrUnexpected.Wrap(err)
	}
	return nil
}

// RevokeAllForUser revokes every outstanding token for a username.
// Returns the number of tokens revoked.
func (k *Kernel) RevokeAllForUser(ctx context.Context, username string) (int, error) {
	refs, err := k.ledger.Outstanding(ctx, username)
	if err != nil {
		return 0, apierrors.ErrUnexpected.Wrap(err)
	}
	revoked := 0
	for _, ref := range refs {
		if err := k.ledger.Revoke(ctx, username, ref.TokenID, ref.Expiry); err != nil {
			return revoked, apierrors.ErrUnexpected.Wrap(err)
		}
		revoked++
	}
	return revoked, nil
}

// SeedAdmin creates the bootstrap admin user when the user collection is
// empty. The configured password must satisfy the strong-password rule.
func (k *Kernel) SeedAdmin(ctx context.Context, email, password string) error {
	count, err := k.users.CountUsers(ctx)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	if email == "" || password == "" {
		logging.Warn("user collection empty and no admin credentials configured")
		return nil
	}
	if err := ValidatePasswordStrength(password); err != nil {
		return apierrors.ErrWeakPassword.WithDetails(err.Error())
	}

	hash, err := k.hasher.Hash(ctx, password)
	if err != nil {
		return err
	}
	if err := k.users.EnsureRole(ctx, model.AdminRole()); err != nil {
		return err
	}
	now := time.Now().UTC()
	admin := &model.User{
		Username:  "admin",
		Email:     email,
		Password:  hash,
		Role:      model.AdminRoleName,
		Groups:    []string{"ALL"},
		UIAccess:  true,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := k.users.CreateUser(ctx, admin); err != nil {
		return err
	}
	logging.Info("seeded admin user", zap.String("email", email))
	return nil
}
